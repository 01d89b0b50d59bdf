package mission

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/large-farva/flight-arbiter/internal/clock"
	"github.com/large-farva/flight-arbiter/internal/config"
	"github.com/large-farva/flight-arbiter/internal/gateway"
	"github.com/large-farva/flight-arbiter/internal/telemetry"
)

const (
	homeLat = 28.4594
	homeLon = 77.0265
)

// fakeGateway hands out sequential correlation ids and records everything.
type fakeGateway struct {
	sent       []gateway.Request
	canceled   []string
	connected  bool
	SubmitFunc func(cmd gateway.Command, params gateway.Params) error
}

func (g *fakeGateway) Submit(ctx context.Context, cmd gateway.Command, params gateway.Params) (string, error) {
	if g.SubmitFunc != nil {
		if err := g.SubmitFunc(cmd, params); err != nil {
			return "", err
		}
	}
	id := fmt.Sprintf("c%d", len(g.sent)+1)
	g.sent = append(g.sent, gateway.Request{Command: cmd, Params: params, CorrelationID: id})
	return id, nil
}

func (g *fakeGateway) Connect(context.Context) error {
	g.connected = true
	return nil
}

func (g *fakeGateway) Disconnect() error {
	g.connected = false
	return nil
}

func (g *fakeGateway) Cancel(id string)                     { g.canceled = append(g.canceled, id) }
func (g *fakeGateway) Connected() bool                      { return g.connected }
func (g *fakeGateway) Frames() <-chan telemetry.Frame       { return nil }
func (g *fakeGateway) Responses() <-chan gateway.Response   { return nil }
func (g *fakeGateway) LinkEvents() <-chan gateway.LinkEvent { return nil }

func (g *fakeGateway) commands() []gateway.Command {
	out := make([]gateway.Command, len(g.sent))
	for i, r := range g.sent {
		out[i] = r.Command
	}
	return out
}

func (g *fakeGateway) count(cmd gateway.Command) int {
	n := 0
	for _, r := range g.sent {
		if r.Command == cmd {
			n++
		}
	}
	return n
}

func (g *fakeGateway) last() gateway.Request {
	if len(g.sent) == 0 {
		return gateway.Request{}
	}
	return g.sent[len(g.sent)-1]
}

type recorder struct {
	events []any
}

func (r *recorder) BroadcastJSON(v any) { r.events = append(r.events, v) }

func eventsOf[T any](r *recorder) []T {
	var out []T
	for _, v := range r.events {
		if e, ok := v.(T); ok {
			out = append(out, e)
		}
	}
	return out
}

type fakeStore struct {
	mu    sync.Mutex
	saved chan Summary
}

func (s *fakeStore) SaveSummary(ctx context.Context, sum Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved <- sum
	return nil
}

// vehicle is the state frames are built from.
type vehicle struct {
	lat, lon    float64
	altRel      float64
	battery     float64
	groundspeed float64
	sats, fix   int
	armed       bool
	armable     bool
	mode        string
}

func (v vehicle) frame() telemetry.Frame {
	lat, lon, rel, batt, gs := v.lat, v.lon, v.altRel, v.battery, v.groundspeed
	return telemetry.Frame{
		Location:    &telemetry.FrameLocation{Lat: &lat, Lon: &lon, AltRel: &rel},
		Battery:     &telemetry.FrameBattery{Level: &batt},
		GPS:         &telemetry.FrameGPS{SatellitesVisible: v.sats, FixType: v.fix},
		Groundspeed: &gs,
		Armed:       v.armed,
		IsArmable:   v.armable,
		Mode:        v.mode,
		Home:        &telemetry.FrameHome{Lat: homeLat, Lon: homeLon},
	}
}

type harness struct {
	t     *testing.T
	c     *Controller
	gw    *fakeGateway
	clk   *clock.Manual
	hub   *recorder
	store *fakeStore
	veh   vehicle
	acked map[string]bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Link.AutoConnect = false

	h := &harness{
		t:     t,
		gw:    &fakeGateway{connected: true},
		clk:   clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		hub:   &recorder{},
		store: &fakeStore{saved: make(chan Summary, 4)},
		acked: make(map[string]bool),
		veh: vehicle{
			lat: homeLat, lon: homeLon,
			battery: 87, sats: 8, fix: 3,
			armable: true, mode: "STABILIZE",
		},
	}
	prompts := 0
	h.c = New(Options{
		Config:     cfg,
		Clock:      h.clk,
		Gateway:    h.gw,
		Events:     h.hub,
		Store:      h.store,
		MissionIDs: func() string { return "mission-1" },
		PromptIDs: func() string {
			prompts++
			return fmt.Sprintf("battery_emergency_p%d", prompts)
		},
	})
	return h
}

func (h *harness) tick() { h.c.handle(h.veh.frame()) }

// advance moves the clock and runs every timer event that came due.
func (h *harness) advance(d time.Duration) {
	h.clk.Advance(d)
	for {
		select {
		case ev := <-h.c.fired:
			h.c.handle(ev)
		default:
			return
		}
	}
}

// hold keeps telemetry flowing for n seconds.
func (h *harness) hold(n int) {
	for i := 0; i < n; i++ {
		h.advance(time.Second)
		h.tick()
	}
}

func (h *harness) send(typ, id string, payload map[string]any) chan Reply {
	h.t.Helper()
	env := map[string]any{"type": typ}
	if id != "" {
		env["id"] = id
	}
	for k, v := range payload {
		env[k] = v
	}
	b, err := json.Marshal(env)
	if err != nil {
		h.t.Fatal(err)
	}
	ch := make(chan Reply, 1)
	h.c.handle(Command{Type: typ, ID: id, Payload: b, Reply: ch})
	return ch
}

func (h *harness) reply(ch chan Reply) Reply {
	h.t.Helper()
	select {
	case r := <-ch:
		return r
	default:
		h.t.Fatal("no reply")
		return Reply{}
	}
}

func noReply(t *testing.T, ch chan Reply) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("unexpected reply %+v", r)
	default:
	}
}

func (h *harness) respond(cmd gateway.Command, status gateway.Status, detail string) {
	h.t.Helper()
	for i := len(h.gw.sent) - 1; i >= 0; i-- {
		r := h.gw.sent[i]
		if r.Command == cmd && !h.acked[r.CorrelationID] {
			h.acked[r.CorrelationID] = true
			h.c.handle(gateway.Response{CorrelationID: r.CorrelationID, Command: cmd, Status: status, Detail: detail})
			return
		}
	}
	h.t.Fatalf("no unanswered %s request; sent %v", cmd, h.gw.commands())
}

func (h *harness) ack(cmd gateway.Command) { h.respond(cmd, gateway.StatusOK, "") }

func (h *harness) fail(cmd gateway.Command, detail string) {
	h.respond(cmd, gateway.StatusError, detail)
}

func (h *harness) state() State {
	h.t.Helper()
	if h.c.m == nil {
		return Idle
	}
	return h.c.m.state
}

func (h *harness) wantState(want State) {
	h.t.Helper()
	if got := h.state(); got != want {
		h.t.Fatalf("mission state = %s, want %s", got, want)
	}
}

func (h *harness) missionStates() []string {
	var out []string
	for _, e := range eventsOf[telemetry.StateTransition](h.hub) {
		if e.Component == "mission" {
			out = append(out, e.To)
		}
	}
	return out
}

var twoWaypoints = []map[string]any{
	{"lat": 28.4595, "lon": 77.0266, "altitude": 20},
	{"lat": 28.4598, "lon": 77.0270, "altitude": 20},
}

// fly starts the two-waypoint mission and brings it to Navigating with the
// first GOTO answered.
func (h *harness) fly() {
	h.t.Helper()
	h.tick()
	r := h.reply(h.send("execute_waypoint_mission", "", map[string]any{"waypoints": twoWaypoints}))
	if r.Status != StatusOK {
		h.t.Fatalf("execute_waypoint_mission: %+v", r)
	}
	h.veh.armed = true
	h.ack(gateway.CmdArm)
	h.veh.mode = "GUIDED"
	h.ack(gateway.CmdTakeoff)
	h.wantState(Takeoff)

	h.veh.altRel = 19.5
	h.tick()
	h.wantState(Navigating)
	h.ack(gateway.CmdGoto)
	h.veh.altRel = 20
}

func (h *harness) summary() Summary {
	h.t.Helper()
	select {
	case s := <-h.store.saved:
		return s
	case <-time.After(2 * time.Second):
		h.t.Fatal("summary not persisted")
		return Summary{}
	}
}
