// Package mission runs the mission controller: the single loop that owns the
// mission state, the waypoint index, the emergency arbiter and the active
// operator prompt.
//
// Every input (telemetry frames, gateway responses, link events, timer fires
// and operator commands) is funneled into Run's select loop and handled one
// at a time. Timer callbacks never touch state; they post a timerFired event
// carrying the handle id, and the loop drops the event if that handle has
// since been canceled or replaced.
package mission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/large-farva/flight-arbiter/internal/arbiter"
	"github.com/large-farva/flight-arbiter/internal/clock"
	"github.com/large-farva/flight-arbiter/internal/config"
	"github.com/large-farva/flight-arbiter/internal/gateway"
	"github.com/large-farva/flight-arbiter/internal/logging"
	"github.com/large-farva/flight-arbiter/internal/safety"
	"github.com/large-farva/flight-arbiter/internal/telemetry"
)

// Gateway is the slice of *gateway.Gateway the controller uses.
type Gateway interface {
	Submit(ctx context.Context, cmd gateway.Command, params gateway.Params) (string, error)
	Cancel(correlationID string)
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool
	Frames() <-chan telemetry.Frame
	Responses() <-chan gateway.Response
	LinkEvents() <-chan gateway.LinkEvent
}

// Broadcaster fans events out to operator clients.
type Broadcaster interface {
	BroadcastJSON(v any)
}

// Command is one operator request. Payload is the full request envelope so
// handlers can pick their parameters out of it. Reply receives exactly one
// Reply; it must be buffered.
type Command struct {
	Type    string
	ID      string
	Payload json.RawMessage
	Reply   chan<- Reply
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Reply answers a Command.
type Reply struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
	Detail string `json:"detail,omitempty"`
	Data   any    `json:"data,omitempty"`
}

func okReply(data any) Reply { return Reply{Status: StatusOK, Data: data} }

func errReply(err error) Reply {
	r := Reply{Status: StatusError, Detail: err.Error()}
	var pf *PreflightError
	if errors.As(err, &pf) {
		r.Data = map[string]string{"reason": pf.Reason}
	}
	return r
}

// errDeferred tells onCommand that the reply is sent later, when the
// gateway answers the actuation the command started.
var errDeferred = errors.New("reply deferred")

const (
	replyCacheSize = 256
	replyCacheTTL  = 10 * time.Minute

	telemetryBroadcastInterval = time.Second
	watchdogSlack              = 50 * time.Millisecond
)

type Options struct {
	Config  config.Config
	Logger  *logging.Logger
	Clock   clock.Clock
	Gateway Gateway
	Events  Broadcaster
	Store   SummaryStore

	// MissionIDs and PromptIDs replace the uuid generators.
	MissionIDs func() string
	PromptIDs  func() string
}

// Controller is the mission loop. All fields below the channels are owned by
// the goroutine running Run.
type Controller struct {
	cfg    config.Config
	log    *logging.Logger
	clock  clock.Clock
	gw     Gateway
	events Broadcaster
	store  SummaryStore
	newID  func() string

	commands chan Command
	fired    chan timerFired
	done     chan struct{}
	ctx      context.Context

	monitor *safety.Monitor
	arb     *arbiter.Machine
	params  arbiter.Params
	beats   *telemetry.HeartbeatWindow

	latest       telemetry.Snapshot
	haveLatest   bool
	lastExpected string
	lastTelemOut time.Time

	m        *record
	override bool

	prompt       *Prompt
	lastPromptID string
	recovery     *timerHandle
	watchdog     *timerHandle
	timerSeq     uint64

	slot     *actuation
	inflight map[string]*actuation
	replies  *expirable.LRU[string, Reply]
	busy     map[string]bool

	lastSummary *Summary
	status      atomic.Value
}

func New(opts Options) *Controller {
	c := &Controller{
		cfg:      opts.Config,
		log:      opts.Logger,
		clock:    opts.Clock,
		gw:       opts.Gateway,
		events:   opts.Events,
		store:    opts.Store,
		newID:    opts.MissionIDs,
		commands: make(chan Command, 16),
		fired:    make(chan timerFired, 64),
		done:     make(chan struct{}),
		ctx:      context.Background(),
		inflight: make(map[string]*actuation),
		replies:  expirable.NewLRU[string, Reply](replyCacheSize, nil, replyCacheTTL),
		busy:     make(map[string]bool),
	}
	if c.log == nil {
		c.log = logging.Discard()
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}

	s := c.cfg.Safety
	c.monitor = safety.NewMonitor(safety.Thresholds{
		CriticalBatteryPercent: s.CriticalBatteryPercent,
		MinFixType:             s.MinFixType,
		MinSatellites:          s.MinSatellites,
		ConnectionTimeout:      config.Seconds(s.ConnectionTimeoutSeconds),
	})
	c.beats = telemetry.NewHeartbeatWindow(s.HeartbeatWindow)

	e := c.cfg.Emergency
	c.params = arbiter.Params{
		MinSpeedFloorMPS:     e.MinSpeedFloorMPS,
		SafetyMarginFactor:   e.SafetyMarginFactor,
		FullBatteryEndurance: config.Seconds(e.FullBatteryEnduranceSeconds),
		ReservePercent:       e.ReserveBatteryPercent,
		NearHomeRadiusM:      e.NearHomeRadiusM,
		MinFixType:           s.MinFixType,
		MinSatellites:        s.MinSatellites,
	}

	var arbOpts []arbiter.Option
	if opts.PromptIDs != nil {
		arbOpts = append(arbOpts, arbiter.WithPromptIDs(opts.PromptIDs))
	}
	c.arb = arbiter.New(func() bool { return c.override }, arbOpts...)

	c.publish()
	return c
}

// Run is the event loop. It returns when ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.done)

	c.log.Info("mission controller started")
	if c.cfg.Link.AutoConnect {
		if err := c.gw.Connect(ctx); err != nil {
			c.log.Warn("auto-connect failed", "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case cmd := <-c.commands:
			c.handle(cmd)
		case ev := <-c.fired:
			c.handle(ev)
		case f := <-c.gw.Frames():
			c.handle(f)
		case resp := <-c.gw.Responses():
			c.handle(resp)
		case ev := <-c.gw.LinkEvents():
			c.handle(ev)
		}
	}
}

// handle is the single scheduling point. Tests drive it directly.
func (c *Controller) handle(ev any) {
	switch ev := ev.(type) {
	case Command:
		c.onCommand(ev)
	case timerFired:
		c.onTimer(ev)
	case telemetry.Frame:
		c.onFrame(ev)
	case gateway.Response:
		c.onResponse(ev)
	case gateway.LinkEvent:
		c.onLink(ev)
	default:
		c.log.Error("unknown loop event", "type", fmt.Sprintf("%T", ev))
	}
	c.publish()
}

// Submit hands a command to the loop and waits for its reply.
func (c *Controller) Submit(ctx context.Context, cmd Command) Reply {
	reply := make(chan Reply, 1)
	cmd.Reply = reply
	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return Reply{Status: StatusError, ID: cmd.ID, Detail: ctx.Err().Error()}
	case <-c.done:
		return Reply{Status: StatusError, ID: cmd.ID, Detail: "mission controller stopped"}
	}
	select {
	case r := <-reply:
		return r
	case <-ctx.Done():
		return Reply{Status: StatusError, ID: cmd.ID, Detail: ctx.Err().Error()}
	case <-c.done:
		return Reply{Status: StatusError, ID: cmd.ID, Detail: "mission controller stopped"}
	}
}

// Status returns the snapshot published after the last loop iteration. It is
// safe to call from any goroutine.
func (c *Controller) Status() Status {
	return c.status.Load().(Status)
}

// shutdown tears down timers and in-flight waits when the loop exits.
func (c *Controller) shutdown() {
	if c.m != nil && !c.m.state.Terminal() {
		c.m.leg.stop()
		c.m.landing.stop()
	}
	c.closePromptTimers()
	c.recovery.stop()
	c.watchdog.stop()
	c.abandonAll("mission controller stopped")
	c.log.Info("mission controller stopped")
}

func (c *Controller) broadcast(v any) {
	if c.events != nil {
		c.events.BroadcastJSON(v)
	}
}
