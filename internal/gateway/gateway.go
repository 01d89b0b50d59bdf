// Package gateway carries actuation requests to the vehicle link and reports
// their completion. Each request gets a correlation id and produces at most
// one Response; if the link drops or the request times out the gateway
// answers with an error instead of leaving the request pending.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/large-farva/flight-arbiter/internal/clock"
	"github.com/large-farva/flight-arbiter/internal/logging"
	"github.com/large-farva/flight-arbiter/internal/telemetry"
)

var (
	ErrNotConnected     = errors.New("vehicle link not connected")
	ErrAlreadyConnected = errors.New("vehicle link already connected")
	ErrLinkLost         = errors.New("vehicle link lost")
	ErrTimeout          = errors.New("command timed out")
)

type Command string

const (
	CmdArm     Command = "ARM"
	CmdDisarm  Command = "DISARM"
	CmdTakeoff Command = "TAKEOFF"
	CmdGoto    Command = "GOTO"
	CmdSetMode Command = "SET_MODE"
	CmdRTL     Command = "RTL"
	CmdLand    Command = "LAND"
)

type Params struct {
	Altitude float64 `json:"altitude,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Lon      float64 `json:"lon,omitempty"`
	Mode     string  `json:"mode,omitempty"`
}

type Request struct {
	Command       Command `json:"command"`
	Params        Params  `json:"params"`
	CorrelationID string  `json:"correlation_id"`
}

type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

type Response struct {
	CorrelationID string  `json:"correlation_id"`
	Command       Command `json:"command"`
	Status        Status  `json:"status"`
	Detail        string  `json:"detail,omitempty"`
}

func (r Response) OK() bool { return r.Status == StatusOK }

// ActuationError describes a command the vehicle refused or never answered.
type ActuationError struct {
	Command Command
	Detail  string
}

func (e *ActuationError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Command, e.Detail)
}

// Err converts a failed response into an *ActuationError.
func (r Response) Err() error {
	if r.OK() {
		return nil
	}
	return &ActuationError{Command: r.Command, Detail: r.Detail}
}

// LinkEvent reports link up/down transitions.
type LinkEvent struct {
	Connected bool
	Err       error
}

// Link is a transport to the vehicle. Run pumps inbound traffic into sink
// until ctx is canceled or the link fails, and returns why it stopped.
type Link interface {
	Send(ctx context.Context, req Request) error
	Run(ctx context.Context, sink Sink) error
}

// Sink receives inbound traffic from a Link.
type Sink interface {
	Frame(f telemetry.Frame)
	Ack(resp Response)
}

type pending struct {
	req   Request
	timer clock.Timer
}

// Gateway tracks outstanding requests for one link.
type Gateway struct {
	log     *logging.Logger
	clock   clock.Clock
	timeout time.Duration
	newID   func() string

	mu        sync.Mutex
	link      Link
	cancel    context.CancelFunc
	connected bool
	pending   map[string]*pending

	responses chan Response
	frames    chan telemetry.Frame
	events    chan LinkEvent
}

type Options struct {
	Logger         *logging.Logger
	Clock          clock.Clock
	Link           Link
	CommandTimeout time.Duration
}

func New(opts Options) *Gateway {
	c := opts.Clock
	if c == nil {
		c = clock.Real{}
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Gateway{
		log:       log,
		clock:     c,
		timeout:   opts.CommandTimeout,
		newID:     uuid.NewString,
		link:      opts.Link,
		pending:   make(map[string]*pending),
		responses: make(chan Response, 64),
		frames:    make(chan telemetry.Frame, 32),
		events:    make(chan LinkEvent, 8),
	}
}

func (g *Gateway) Responses() <-chan Response     { return g.responses }
func (g *Gateway) Frames() <-chan telemetry.Frame { return g.frames }
func (g *Gateway) LinkEvents() <-chan LinkEvent   { return g.events }

func (g *Gateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// Connect starts the link in the background. It returns once the link is
// running; failures after that surface as LinkEvents.
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	if g.connected {
		g.mu.Unlock()
		return ErrAlreadyConnected
	}
	linkCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.connected = true
	link := g.link
	g.mu.Unlock()

	g.publish(LinkEvent{Connected: true})
	go func() {
		err := link.Run(linkCtx, g)
		cancel()
		g.linkDown(err)
	}()
	return nil
}

// Disconnect stops the link. Outstanding requests fail with ErrLinkLost.
func (g *Gateway) Disconnect() error {
	g.mu.Lock()
	cancel := g.cancel
	connected := g.connected
	g.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	cancel()
	return nil
}

// Submit sends a request and returns its correlation id. The outcome
// arrives later on Responses. A non-nil error means nothing was sent and no
// response will follow.
func (g *Gateway) Submit(ctx context.Context, cmd Command, params Params) (string, error) {
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return "", ErrNotConnected
	}
	req := Request{Command: cmd, Params: params, CorrelationID: g.newID()}
	p := &pending{req: req}
	g.pending[req.CorrelationID] = p
	if g.timeout > 0 {
		id := req.CorrelationID
		p.timer = g.clock.AfterFunc(g.timeout, func() {
			g.fail(id, ErrTimeout)
		})
	}
	link := g.link
	g.mu.Unlock()

	if err := link.Send(ctx, req); err != nil {
		g.forget(req.CorrelationID)
		return "", fmt.Errorf("send %s: %w", cmd, err)
	}
	g.log.Debug("command sent", "command", cmd, "correlation_id", req.CorrelationID)
	return req.CorrelationID, nil
}

// Cancel abandons a request. No response will be delivered for it.
func (g *Gateway) Cancel(correlationID string) {
	g.forget(correlationID)
}

// Outstanding returns the number of requests awaiting a response.
func (g *Gateway) Outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Ack implements Sink. Unknown or already-answered ids are dropped.
func (g *Gateway) Ack(resp Response) {
	p := g.take(resp.CorrelationID)
	if p == nil {
		g.log.Debug("dropping response for unknown correlation id", "correlation_id", resp.CorrelationID)
		return
	}
	resp.Command = p.req.Command
	if resp.Status != StatusOK {
		resp.Status = StatusError
	}
	g.responses <- resp
}

// Frame implements Sink. When the loop falls behind, frames are dropped;
// the next one supersedes them anyway.
func (g *Gateway) Frame(f telemetry.Frame) {
	select {
	case g.frames <- f:
	default:
		g.log.Debug("telemetry frame dropped")
	}
}

func (g *Gateway) fail(id string, err error) {
	p := g.take(id)
	if p == nil {
		return
	}
	g.responses <- Response{
		CorrelationID: id,
		Command:       p.req.Command,
		Status:        StatusError,
		Detail:        err.Error(),
	}
}

func (g *Gateway) linkDown(err error) {
	g.mu.Lock()
	g.connected = false
	g.cancel = nil
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	reason := ErrLinkLost
	if err != nil && !errors.Is(err, context.Canceled) {
		reason = fmt.Errorf("%w: %v", ErrLinkLost, err)
	}
	for _, id := range ids {
		g.fail(id, reason)
	}
	g.log.Warn("vehicle link down", "error", err, "failed_requests", len(ids))
	g.publish(LinkEvent{Connected: false, Err: reason})
}

func (g *Gateway) take(id string) *pending {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[id]
	if !ok {
		return nil
	}
	delete(g.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

func (g *Gateway) forget(id string) {
	g.take(id)
}

// publish never blocks the link goroutine. A dropped event is logged; the
// controller's heartbeat watchdog still catches a silent link.
func (g *Gateway) publish(ev LinkEvent) {
	select {
	case g.events <- ev:
	default:
		if ev.Connected {
			g.log.Warn("link event dropped", "connected", true)
			return
		}
		g.log.Error("link event dropped", "connected", false, "err", ev.Err)
	}
}
