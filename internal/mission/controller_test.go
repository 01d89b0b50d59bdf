package mission

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/large-farva/flight-arbiter/internal/arbiter"
	"github.com/large-farva/flight-arbiter/internal/gateway"
	"github.com/large-farva/flight-arbiter/internal/telemetry"
)

func TestTransitionTable(t *testing.T) {
	for from := State(0); from < numStates; from++ {
		for to := State(0); to < numStates; to++ {
			if from.Terminal() && CanTransition(from, to) {
				t.Errorf("terminal %s allows transition to %s", from, to)
			}
		}
		if !from.Terminal() && !CanTransition(from, Aborted) {
			t.Errorf("%s cannot abort", from)
		}
	}
	if CanTransition(Idle, Navigating) {
		t.Error("Idle -> Navigating must be illegal")
	}
	if CanTransition(State(-1), Idle) || CanTransition(Idle, numStates) {
		t.Error("out of range states must be refused")
	}
}

func TestFullMission(t *testing.T) {
	h := newHarness(t)
	h.fly()

	// First waypoint.
	h.veh.lat, h.veh.lon = 28.4595, 77.0266
	h.tick()
	if h.c.m.visited != 1 || h.c.m.index != 1 {
		t.Fatalf("visited=%d index=%d after first waypoint", h.c.m.visited, h.c.m.index)
	}
	if got := h.gw.last(); got.Command != gateway.CmdGoto || got.Params.Lat != 28.4598 {
		t.Fatalf("expected GOTO to second waypoint, got %+v", got)
	}
	h.ack(gateway.CmdGoto)

	// Second and last waypoint: the mission returns home.
	h.veh.lat, h.veh.lon = 28.4598, 77.0270
	h.tick()
	h.wantState(RtlInProgress)
	h.veh.mode = "RTL"
	h.ack(gateway.CmdRTL)

	h.veh.lat, h.veh.lon, h.veh.altRel = homeLat, homeLon, 0.4
	h.tick()
	h.wantState(Landing)
	h.veh.armed = false
	h.tick()
	h.wantState(Complete)

	want := []string{"PREFLIGHT", "TAKEOFF", "NAVIGATING", "RTL_IN_PROGRESS", "LANDING", "COMPLETE"}
	if got := h.missionStates(); !reflect.DeepEqual(got, want) {
		t.Errorf("mission states = %v, want %v", got, want)
	}
	reached := eventsOf[telemetry.WaypointReached](h.hub)
	if len(reached) != 2 || reached[0].Order != 1 || reached[1].Order != 2 || reached[1].Remaining != 0 {
		t.Errorf("waypoint events = %+v", reached)
	}
	if n := h.gw.count(gateway.CmdSetMode); n != 0 {
		t.Errorf("unexpected SET_MODE requests: %d", n)
	}

	sum := h.summary()
	if sum.Outcome != OutcomeCompleted || sum.WaypointsVisited != 2 || sum.WaypointsTotal != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.MinBatteryObserved != 87 {
		t.Errorf("min battery = %v, want 87", sum.MinBatteryObserved)
	}
	if sum.TelemetryPointCount != 5 {
		t.Errorf("telemetry points = %d, want 5", sum.TelemetryPointCount)
	}
	if h.c.slot != nil || len(h.c.inflight) != 0 {
		t.Errorf("requests still tracked after completion: slot=%v inflight=%d", h.c.slot, len(h.c.inflight))
	}
}

func TestPreflightFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(h *harness)
		waypoints []map[string]any
		reason    string
	}{
		{"no telemetry", func(h *harness) {}, twoWaypoints, ReasonNoTelemetry},
		{"stale telemetry", func(h *harness) { h.tick(); h.clk.Advance(5 * time.Second) }, twoWaypoints, ReasonNoTelemetry},
		{"not armable", func(h *harness) { h.veh.armable = false; h.tick() }, twoWaypoints, ReasonNotArmable},
		{"gps fix", func(h *harness) { h.veh.fix = 2; h.tick() }, twoWaypoints, ReasonInsufficientGPS},
		{"battery at threshold", func(h *harness) { h.veh.battery = 30; h.tick() }, twoWaypoints, ReasonBatteryTooLow},
		{"no waypoints", func(h *harness) { h.tick() }, nil, ReasonNoWaypoints},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			tt.setup(h)
			r := h.reply(h.send("execute_waypoint_mission", "req-1", map[string]any{"waypoints": tt.waypoints}))
			if r.Status != StatusError || r.ID != "req-1" {
				t.Fatalf("reply = %+v", r)
			}
			data, _ := r.Data.(map[string]string)
			if data["reason"] != tt.reason {
				t.Errorf("reason = %q, want %q (detail %q)", data["reason"], tt.reason, r.Detail)
			}
			h.wantState(Aborted)
			if len(h.gw.sent) != 0 {
				t.Errorf("actuation sent after failed preflight: %v", h.gw.commands())
			}
			if sum := h.summary(); sum.Outcome != OutcomeAborted || sum.Reason != tt.reason {
				t.Errorf("summary = %+v", sum)
			}
		})
	}
}

func TestInvalidWaypointsRejectedWithoutMission(t *testing.T) {
	h := newHarness(t)
	h.tick()
	r := h.reply(h.send("execute_waypoint_mission", "", map[string]any{
		"waypoints": []map[string]any{{"lat": 91, "lon": 77}},
	}))
	if r.Status != StatusError || !strings.Contains(r.Detail, "lat") {
		t.Fatalf("reply = %+v", r)
	}
	if h.c.m != nil {
		t.Fatal("mission created for invalid plan")
	}
}

func TestBatteryPromptTimeout(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		action   string
		command  gateway.Command
		state    State
	}{
		{"far from home defaults to RTL", 28.4597, 77.0268, "RTL_TIMEOUT", gateway.CmdRTL, RtlInProgress},
		{"near home defaults to LAND", homeLat, homeLon, "LAND_TIMEOUT", gateway.CmdLand, Landing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.fly()
			h.veh.lat, h.veh.lon = tt.lat, tt.lon
			h.veh.battery = 24
			h.tick()

			if h.c.prompt == nil || h.c.prompt.ID != "battery_emergency_p1" {
				t.Fatalf("prompt = %+v", h.c.prompt)
			}
			if h.c.arb.State() != arbiter.AwaitingOperator {
				t.Fatalf("arbiter = %s", h.c.arb.State())
			}
			em := eventsOf[telemetry.BatteryEmergency](h.hub)
			if len(em) != 1 || em[0].TimeoutSeconds != 10 || em[0].Altitude == nil || *em[0].Altitude != 20 {
				t.Fatalf("battery_emergency events = %+v", em)
			}
			sent := len(h.gw.sent)

			h.hold(9)
			if h.c.prompt == nil {
				t.Fatal("prompt closed before its timeout")
			}
			if len(h.gw.sent) != sent {
				t.Fatalf("actuation while awaiting operator: %v", h.gw.commands()[sent:])
			}
			h.hold(1)

			if h.c.prompt != nil {
				t.Fatal("prompt still open after timeout")
			}
			if got := h.gw.last().Command; got != tt.command {
				t.Fatalf("dispatched %s, want %s", got, tt.command)
			}
			h.wantState(tt.state)
			actions := eventsOf[telemetry.EmergencyAction](h.hub)
			if len(actions) != 1 || actions[0].Action != tt.action {
				t.Errorf("actions = %+v", actions)
			}
			if n := len(eventsOf[telemetry.Countdown](h.hub)); n != 9 {
				t.Errorf("countdown events = %d, want 9", n)
			}
			if h.c.arb.State() != arbiter.AutoAction {
				t.Errorf("arbiter = %s", h.c.arb.Label())
			}

			h.ack(tt.command)
			if h.c.arb.State() != arbiter.Normal {
				t.Errorf("arbiter after confirmation = %s", h.c.arb.Label())
			}
		})
	}
}

func TestOperatorResolvesPrompt(t *testing.T) {
	h := newHarness(t)
	h.fly()
	h.veh.lat, h.veh.lon = 28.4597, 77.0268
	h.veh.battery = 24
	h.tick()

	r := h.reply(h.send("battery_emergency_response", "", map[string]any{"prompt_id": "battery_emergency_p9", "choice": "RTL"}))
	if r.Status != StatusError || !strings.Contains(r.Detail, ErrPromptMismatch.Error()) {
		t.Fatalf("mismatched id reply = %+v", r)
	}
	r = h.reply(h.send("battery_emergency_response", "", map[string]any{"prompt_id": "battery_emergency_p1", "choice": "hover"}))
	if r.Status != StatusError || !strings.Contains(r.Detail, "RTL or LAND") {
		t.Fatalf("invalid choice reply = %+v", r)
	}
	if h.c.prompt == nil {
		t.Fatal("rejected responses must leave the prompt open")
	}

	r = h.reply(h.send("battery_emergency_response", "", map[string]any{"prompt_id": "battery_emergency_p1", "choice": "land"}))
	if r.Status != StatusOK {
		t.Fatalf("reply = %+v", r)
	}
	if got := h.gw.last().Command; got != gateway.CmdLand {
		t.Fatalf("dispatched %s, want LAND", got)
	}
	h.wantState(Landing)

	// The prompt timer must be gone: nothing else is dispatched later.
	sent := len(h.gw.sent)
	h.hold(15)
	if len(h.gw.sent) != sent {
		t.Errorf("late actuation after resolution: %v", h.gw.commands()[sent:])
	}
	if n := len(eventsOf[telemetry.EmergencyAction](h.hub)); n != 1 {
		t.Errorf("emergency actions = %d, want 1", n)
	}

	r = h.reply(h.send("battery_emergency_response", "", map[string]any{"prompt_id": "battery_emergency_p1", "choice": "RTL"}))
	if r.Status != StatusError || r.Detail != ErrPromptResolved.Error() {
		t.Errorf("resolved prompt reply = %+v", r)
	}
}

func TestResponseWithoutPrompt(t *testing.T) {
	h := newHarness(t)
	r := h.reply(h.send("battery_emergency_response", "", map[string]any{"prompt_id": "x", "choice": "RTL"}))
	if r.Status != StatusError || r.Detail != ErrNoPrompt.Error() {
		t.Fatalf("reply = %+v", r)
	}
}

func TestConnectionLostPreemptsPrompt(t *testing.T) {
	h := newHarness(t)
	h.fly()
	h.veh.lat, h.veh.lon = 28.4597, 77.0268
	h.veh.battery = 24
	h.tick()
	if h.c.prompt == nil {
		t.Fatal("no prompt")
	}

	// Telemetry stops; the heartbeat watchdog trips after 3s.
	for i := 0; i < 4; i++ {
		h.advance(time.Second)
	}

	if h.c.prompt != nil {
		t.Fatal("prompt survived connection loss")
	}
	if h.c.arb.State() != arbiter.AutoAction || h.c.arb.Target() != arbiter.TargetRtl {
		t.Fatalf("arbiter = %s", h.c.arb.Label())
	}
	if n := h.gw.count(gateway.CmdRTL); n != 1 {
		t.Fatalf("RTL sent %d times", n)
	}
	actions := eventsOf[telemetry.EmergencyAction](h.hub)
	if len(actions) != 1 || actions[0].Action != "CANCELED" {
		t.Fatalf("actions = %+v", actions)
	}
	if n := h.clk.Pending(); n != 0 {
		t.Fatalf("%d timers still armed", n)
	}

	// Past the original prompt deadline nothing else happens.
	h.advance(10 * time.Second)
	if n := h.gw.count(gateway.CmdRTL) + h.gw.count(gateway.CmdLand); n != 1 {
		t.Errorf("extra dispatch after canceled prompt: %v", h.gw.commands())
	}
}

func TestGPSLossAndRecovery(t *testing.T) {
	h := newHarness(t)
	h.fly()

	h.veh.fix, h.veh.sats = 1, 3
	h.tick()
	if h.c.arb.State() != arbiter.AltHoldRecovery {
		t.Fatalf("arbiter = %s", h.c.arb.Label())
	}
	if got := h.gw.last(); got.Command != gateway.CmdSetMode || got.Params.Mode != "ALT_HOLD" {
		t.Fatalf("last request = %+v", got)
	}
	h.veh.mode = "ALT_HOLD"
	h.ack(gateway.CmdSetMode)
	h.hold(5)

	h.veh.fix, h.veh.sats = 3, 8
	h.tick()
	if h.c.arb.State() != arbiter.Normal || h.c.recovery != nil {
		t.Fatalf("arbiter = %s, recovery = %v", h.c.arb.Label(), h.c.recovery)
	}
	cmds := h.gw.commands()
	tail := cmds[len(cmds)-2:]
	if tail[0] != gateway.CmdSetMode || tail[1] != gateway.CmdGoto {
		t.Fatalf("resume sent %v", tail)
	}
	if h.gw.sent[len(h.gw.sent)-2].Params.Mode != "GUIDED" {
		t.Errorf("resume mode = %q", h.gw.sent[len(h.gw.sent)-2].Params.Mode)
	}

	// The canceled recovery timer never fires.
	h.veh.mode = "GUIDED"
	h.ack(gateway.CmdSetMode)
	h.ack(gateway.CmdGoto)
	h.hold(20)
	if n := h.gw.count(gateway.CmdRTL); n != 0 {
		t.Errorf("RTL sent after GPS recovered")
	}
}

func TestGPSRecoveryTimeout(t *testing.T) {
	h := newHarness(t)
	h.fly()

	h.veh.fix, h.veh.sats = 0, 0
	h.tick()
	h.veh.mode = "ALT_HOLD"
	h.ack(gateway.CmdSetMode)
	h.hold(14)
	if h.gw.count(gateway.CmdRTL) != 0 {
		t.Fatal("RTL before recovery timeout")
	}
	h.hold(1)

	if h.gw.count(gateway.CmdRTL) != 1 {
		t.Fatalf("sent %v, want RTL after recovery timeout", h.gw.commands())
	}
	h.wantState(RtlInProgress)
	if h.c.m.outcome != OutcomeEmergency {
		t.Errorf("outcome = %q", h.c.m.outcome)
	}
}

func TestEmergencyFallbackToLand(t *testing.T) {
	h := newHarness(t)
	h.fly()
	h.c.handle(gateway.LinkEvent{Connected: false, Err: errors.New("socket closed")})
	if h.gw.count(gateway.CmdRTL) != 1 {
		t.Fatalf("sent %v", h.gw.commands())
	}

	h.fail(gateway.CmdRTL, "rejected")
	if h.gw.last().Command != gateway.CmdLand {
		t.Fatalf("no LAND fallback: %v", h.gw.commands())
	}
	h.wantState(Landing)

	h.fail(gateway.CmdLand, "rejected")
	if !h.c.arb.Exhausted() {
		t.Fatal("arbiter should be exhausted after LAND failed")
	}
	if n := h.gw.count(gateway.CmdLand); n != 1 {
		t.Errorf("LAND retried: %d", n)
	}
	failures := eventsOf[telemetry.ActuationFailure](h.hub)
	if len(failures) != 2 || failures[0].Fallback != "LAND" || failures[1].Fallback != "" {
		t.Errorf("failures = %+v", failures)
	}
}

func TestCommandConflict(t *testing.T) {
	h := newHarness(t)
	h.tick()

	land := h.send("land", "r1", nil)
	noReply(t, land)

	r := h.reply(h.send("takeoff", "r2", map[string]any{"altitude": 10}))
	if r.Status != StatusError || !strings.Contains(r.Detail, ErrCommandConflict.Error()) || !strings.Contains(r.Detail, "LAND") {
		t.Fatalf("reply = %+v", r)
	}
	if len(h.gw.sent) != 1 {
		t.Fatalf("conflicting request reached the gateway: %v", h.gw.commands())
	}

	h.ack(gateway.CmdLand)
	if r := h.reply(land); r.Status != StatusOK || r.ID != "r1" {
		t.Fatalf("land reply = %+v", r)
	}
}

func TestOperatorLandPreemptsTakeoff(t *testing.T) {
	h := newHarness(t)
	h.tick()
	takeoff := h.send("takeoff", "", map[string]any{"altitude": 10})
	land := h.send("land", "", nil)

	if r := h.reply(takeoff); r.Status != StatusError {
		t.Fatalf("takeoff reply = %+v", r)
	}
	if len(h.gw.canceled) != 1 || h.gw.canceled[0] != "c1" {
		t.Errorf("canceled = %v", h.gw.canceled)
	}
	h.ack(gateway.CmdLand)
	if r := h.reply(land); r.Status != StatusOK {
		t.Fatalf("land reply = %+v", r)
	}
}

func TestManualCommandsRejectedDuringMission(t *testing.T) {
	h := newHarness(t)
	h.fly()
	for _, typ := range []string{"arm", "disarm", "takeoff", "disconnect", "execute_waypoint_mission"} {
		r := h.reply(h.send(typ, "", map[string]any{"waypoints": twoWaypoints}))
		if r.Status != StatusError || !strings.Contains(r.Detail, ErrCommandConflict.Error()) {
			t.Errorf("%s: reply = %+v", typ, r)
		}
	}
	h.wantState(Navigating)
}

func TestRequestIDDeduplication(t *testing.T) {
	h := newHarness(t)
	h.tick()

	first := h.send("arm", "op-7", nil)
	dup := h.reply(h.send("arm", "op-7", nil))
	if dup.Status != StatusError || !strings.Contains(dup.Detail, "already in progress") {
		t.Fatalf("in-flight duplicate = %+v", dup)
	}

	h.ack(gateway.CmdArm)
	if r := h.reply(first); r.Status != StatusOK {
		t.Fatalf("reply = %+v", r)
	}
	again := h.reply(h.send("arm", "op-7", nil))
	if again.Status != StatusOK || again.ID != "op-7" {
		t.Fatalf("retransmission = %+v", again)
	}
	if n := h.gw.count(gateway.CmdArm); n != 1 {
		t.Errorf("ARM sent %d times", n)
	}
}

func TestStopMission(t *testing.T) {
	h := newHarness(t)
	h.fly()

	stop := h.send("stop_waypoint_mission", "s1", nil)
	noReply(t, stop)
	h.wantState(RtlInProgress)
	h.veh.mode = "RTL"
	h.ack(gateway.CmdRTL)
	if r := h.reply(stop); r.Status != StatusOK {
		t.Fatalf("stop reply = %+v", r)
	}

	// Stopping again reports the return already under way.
	r := h.reply(h.send("stop_waypoint_mission", "", nil))
	if r.Status != StatusOK {
		t.Fatalf("second stop = %+v", r)
	}

	h.veh.altRel = 0.5
	h.tick()
	h.veh.armed = false
	h.tick()
	h.wantState(Complete)
	if sum := h.summary(); sum.Outcome != OutcomeStopped || sum.WaypointsVisited != 0 {
		t.Errorf("summary = %+v", sum)
	}

	r = h.reply(h.send("stop_waypoint_mission", "", nil))
	if r.Status != StatusError || r.Detail != ErrNoMission.Error() {
		t.Errorf("stop without mission = %+v", r)
	}
}

func TestLandingDropsOpenPrompt(t *testing.T) {
	h := newHarness(t)
	h.fly()

	h.send("stop_waypoint_mission", "", nil)
	h.veh.mode = "RTL"
	h.ack(gateway.CmdRTL)
	h.wantState(RtlInProgress)

	// About 20 m out and low on battery: the prompt recommends RTL.
	h.veh.lat, h.veh.lon = 28.45958, homeLon
	h.veh.altRel = 3
	h.veh.battery = 24
	h.tick()
	if h.c.prompt == nil {
		t.Fatal("no prompt during RTL")
	}
	if rec := h.c.prompt.Recommendation.Action; rec != arbiter.TargetRtl {
		t.Fatalf("recommendation = %s", rec)
	}

	h.veh.altRel = 0.5
	h.tick()
	h.wantState(Landing)
	if h.c.prompt != nil {
		t.Fatal("prompt still open after landing began")
	}
	if h.c.arb.State() != arbiter.Normal {
		t.Fatalf("arbiter = %s", h.c.arb.Label())
	}
	actions := eventsOf[telemetry.EmergencyAction](h.hub)
	if len(actions) != 1 || actions[0].Action != "CANCELED" {
		t.Fatalf("actions = %+v", actions)
	}

	// Well past the old prompt deadline nothing is sent over the landing.
	h.hold(15)
	if n := h.gw.count(gateway.CmdRTL); n != 1 {
		t.Errorf("RTL sent %d times: %v", n, h.gw.commands())
	}
	if n := h.gw.count(gateway.CmdLand); n != 0 {
		t.Errorf("LAND sent %d times", n)
	}
	h.wantState(Landing)
	if h.c.arb.State() != arbiter.Normal {
		t.Errorf("arbiter = %s after hold", h.c.arb.Label())
	}
}

func TestCancelTakeoff(t *testing.T) {
	h := newHarness(t)
	h.tick()
	h.send("execute_waypoint_mission", "", map[string]any{"waypoints": twoWaypoints})
	h.veh.armed = true
	h.ack(gateway.CmdArm)
	h.veh.mode = "GUIDED"
	h.ack(gateway.CmdTakeoff)
	h.veh.altRel = 5
	h.tick()
	h.wantState(Takeoff)

	cancel := h.send("cancel_takeoff", "", nil)
	h.wantState(Landing)
	if h.gw.last().Command != gateway.CmdLand {
		t.Fatalf("sent %v", h.gw.commands())
	}
	h.ack(gateway.CmdLand)
	if r := h.reply(cancel); r.Status != StatusOK {
		t.Fatalf("reply = %+v", r)
	}

	h.veh.altRel, h.veh.armed = 0, false
	h.tick()
	if sum := h.summary(); sum.Outcome != OutcomeTakeoffCanceled || sum.FinalState != Complete {
		t.Errorf("summary = %+v", sum)
	}
}

func TestCancelTakeoffWhenNotTakingOff(t *testing.T) {
	h := newHarness(t)
	h.tick()
	r := h.reply(h.send("cancel_takeoff", "", nil))
	if r.Status != StatusError || !strings.Contains(r.Detail, "no takeoff") {
		t.Fatalf("reply = %+v", r)
	}
}

func TestWaypointTimeout(t *testing.T) {
	h := newHarness(t)
	h.fly()

	h.hold(119)
	h.wantState(Navigating)
	h.hold(1)
	h.wantState(RtlInProgress)
	if h.c.m.outcome != OutcomeWaypointTimeout {
		t.Errorf("outcome = %q", h.c.m.outcome)
	}
}

func TestManualOverrideSuppressesAutoAction(t *testing.T) {
	h := newHarness(t)
	h.fly()

	r := h.reply(h.send("set_override", "", map[string]any{"enabled": true}))
	if r.Status != StatusOK {
		t.Fatalf("reply = %+v", r)
	}
	if got := h.gw.last(); got.Command != gateway.CmdSetMode || got.Params.Mode != "LOITER" {
		t.Fatalf("override sent %+v", got)
	}
	h.veh.mode = "LOITER"
	h.ack(gateway.CmdSetMode)

	// Navigation is suspended: reaching the waypoint does not advance.
	h.veh.lat, h.veh.lon = 28.4595, 77.0266
	h.tick()
	if h.c.m.visited != 0 {
		t.Fatal("waypoint advanced under override")
	}

	h.veh.battery = 24
	h.tick()
	h.reply(h.send("battery_emergency_response", "", map[string]any{"prompt_id": "battery_emergency_p1", "choice": "RTL"}))
	if !h.c.arb.Suppressed() {
		t.Fatalf("arbiter = %s, want suppressed", h.c.arb.Label())
	}
	if h.gw.count(gateway.CmdRTL) != 0 {
		t.Fatal("RTL sent under override")
	}

	h.reply(h.send("set_override", "", map[string]any{"enabled": false}))
	if h.gw.count(gateway.CmdRTL) != 1 {
		t.Fatalf("RTL not released: %v", h.gw.commands())
	}
	h.wantState(RtlInProgress)
}

func TestOverrideReleaseResumesNavigation(t *testing.T) {
	h := newHarness(t)
	h.fly()
	h.reply(h.send("set_override", "", map[string]any{"enabled": true}))
	h.ack(gateway.CmdSetMode)
	h.reply(h.send("set_override", "", map[string]any{"enabled": false}))

	cmds := h.gw.commands()
	tail := cmds[len(cmds)-2:]
	if tail[0] != gateway.CmdSetMode || tail[1] != gateway.CmdGoto {
		t.Fatalf("release sent %v", tail)
	}
	if r := h.reply(h.send("set_override", "", nil)); r.Status != StatusError {
		t.Errorf("missing enabled = %+v", r)
	}
}

func TestOverrideReleaseDuringTakeoff(t *testing.T) {
	tests := []struct {
		name     string
		altRel   float64
		want     gateway.Command
		takeoffs int
	}{
		{"airborne climbs in place", 5, gateway.CmdGoto, 1},
		{"still on the ground", 0.2, gateway.CmdTakeoff, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.tick()
			h.send("execute_waypoint_mission", "", map[string]any{"waypoints": twoWaypoints})
			h.veh.armed = true
			h.ack(gateway.CmdArm)
			h.veh.mode = "GUIDED"
			h.ack(gateway.CmdTakeoff)
			h.veh.altRel = tt.altRel
			h.tick()
			h.wantState(Takeoff)

			h.reply(h.send("set_override", "", map[string]any{"enabled": true}))
			h.ack(gateway.CmdSetMode)
			h.reply(h.send("set_override", "", map[string]any{"enabled": false}))

			last := h.gw.last()
			if last.Command != tt.want {
				t.Fatalf("release sent %v", h.gw.commands())
			}
			if n := h.gw.count(gateway.CmdTakeoff); n != tt.takeoffs {
				t.Errorf("TAKEOFF sent %d times", n)
			}
			if last.Command == gateway.CmdGoto {
				if last.Params.Altitude != 20 || last.Params.Lat != homeLat || last.Params.Lon != homeLon {
					t.Errorf("climb params = %+v", last.Params)
				}
			}

			// Reaching altitude carries on with the plan.
			h.ack(tt.want)
			h.veh.altRel = 19.5
			h.tick()
			h.wantState(Navigating)
		})
	}
}

func TestLinkLossAbortsPreflightAndDropsLateResponses(t *testing.T) {
	h := newHarness(t)
	h.tick()
	h.send("execute_waypoint_mission", "", map[string]any{"waypoints": twoWaypoints})
	h.wantState(Preflight)

	h.c.handle(gateway.LinkEvent{Connected: false, Err: gateway.ErrLinkLost})
	h.wantState(Aborted)
	if len(h.gw.canceled) != 1 || h.gw.canceled[0] != "c1" {
		t.Errorf("canceled = %v", h.gw.canceled)
	}

	// The ARM answer arrives after teardown and must not start a takeoff.
	h.c.handle(gateway.Response{CorrelationID: "c1", Command: gateway.CmdArm, Status: gateway.StatusOK})
	if h.gw.count(gateway.CmdTakeoff) != 0 {
		t.Fatal("late response drove the aborted mission")
	}
	if h.clk.Pending() != 0 {
		t.Errorf("%d timers armed after abort", h.clk.Pending())
	}
}

func TestArmFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.tick()
	h.send("execute_waypoint_mission", "", map[string]any{"waypoints": twoWaypoints})
	h.fail(gateway.CmdArm, "prearm checks failed")
	h.wantState(Aborted)
	if sum := h.summary(); !strings.Contains(sum.Reason, "prearm checks failed") {
		t.Errorf("summary = %+v", sum)
	}
}

func TestLandingTimeoutDisarmsOnce(t *testing.T) {
	h := newHarness(t)
	h.fly()
	h.reply(h.send("stop_waypoint_mission", "", nil))
	h.veh.mode = "RTL"
	h.ack(gateway.CmdRTL)
	h.veh.altRel = 0.2
	h.tick()
	h.wantState(Landing)

	h.hold(121)
	if n := h.gw.count(gateway.CmdDisarm); n != 1 {
		t.Fatalf("DISARM sent %d times", n)
	}
	h.hold(130)
	if n := h.gw.count(gateway.CmdDisarm); n != 1 {
		t.Fatalf("DISARM sent %d times", n)
	}
	h.veh.armed = false
	h.tick()
	h.wantState(Complete)
}

func TestStatusSnapshot(t *testing.T) {
	h := newHarness(t)
	h.fly()
	st := h.c.Status()
	if st.Mission == nil || st.Mission.State != Navigating || st.Mission.WaypointsTotal != 2 {
		t.Fatalf("status mission = %+v", st.Mission)
	}
	if st.Mission.Current == nil || st.Mission.DistanceM == nil {
		t.Errorf("current waypoint missing: %+v", st.Mission)
	}
	if st.Arbiter.State != "NORMAL" || st.Telemetry == nil || !st.Link.Connected {
		t.Errorf("status = %+v", st)
	}
}
