package mission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/large-farva/flight-arbiter/internal/arbiter"
	"github.com/large-farva/flight-arbiter/internal/config"
	"github.com/large-farva/flight-arbiter/internal/gateway"
	"github.com/large-farva/flight-arbiter/internal/nav"
	"github.com/large-farva/flight-arbiter/internal/telemetry"
)

// purpose says what the loop does with an actuation's response.
type purpose int

const (
	forOperator purpose = iota
	forArm
	forTakeoff
	forGoto
	forReturn
	forLand
	forDisarm
	forEmergency
	forMode
)

// actuation is one request waiting on the gateway.
type actuation struct {
	id      string
	cmd     gateway.Command
	params  gateway.Params
	purpose purpose
	target  arbiter.Target

	requestID string
	reply     chan<- Reply
}

// actuate submits cmd and tracks its response. Every command except a mode
// assertion takes the single outstanding slot, displacing whatever held it.
// Operator requests check for conflicts before calling this.
func (c *Controller) actuate(cmd gateway.Command, params gateway.Params, p purpose) (*actuation, error) {
	id, err := c.gw.Submit(c.ctx, cmd, params)
	if err != nil {
		return nil, err
	}
	a := &actuation{id: id, cmd: cmd, params: params, purpose: p}
	if p != forMode {
		c.abandonSlot("superseded by " + string(cmd))
		c.slot = a
	}
	c.inflight[id] = a
	return a, nil
}

// abandonSlot stops waiting on the outstanding request. Its response, if one
// ever arrives, is ignored.
func (c *Controller) abandonSlot(reason string) {
	a := c.slot
	if a == nil {
		return
	}
	c.slot = nil
	c.abandon(a, reason)
}

func (c *Controller) abandon(a *actuation, reason string) {
	delete(c.inflight, a.id)
	c.gw.Cancel(a.id)
	c.log.Debug("abandoned request", "command", string(a.cmd), "correlation_id", a.id, "reason", reason)
	if a.reply != nil {
		c.finishReply(a, errors.New(reason))
	}
}

func (c *Controller) abandonAll(reason string) {
	for _, a := range c.inflight {
		c.abandon(a, reason)
	}
	c.slot = nil
}

// assertMode requests a flight mode without occupying the slot.
func (c *Controller) assertMode(mode string) {
	if _, err := c.actuate(gateway.CmdSetMode, gateway.Params{Mode: mode}, forMode); err != nil {
		c.actuationFailure(gateway.CmdSetMode, err.Error(), "")
	}
}

func (c *Controller) actuationFailure(cmd gateway.Command, detail, fallback string) {
	c.log.Error("actuation failure", "command", string(cmd), "detail", detail, "fallback", fallback)
	c.broadcast(telemetry.ActuationFailure{
		Event:    telemetry.NewEvent(telemetry.EventActuationFailure),
		Command:  string(cmd),
		Detail:   detail,
		Fallback: fallback,
	})
}

func (c *Controller) finishReply(a *actuation, err error) {
	r := okReply(map[string]string{"command": string(a.cmd)})
	if err != nil {
		r = errReply(err)
	}
	r.ID = a.requestID
	c.remember(a.requestID, r)
	a.reply <- r
	a.reply = nil
}

func (c *Controller) onResponse(resp gateway.Response) {
	a, ok := c.inflight[resp.CorrelationID]
	if !ok {
		c.log.Debug("ignoring response", "correlation_id", resp.CorrelationID, "command", string(resp.Command))
		return
	}
	delete(c.inflight, resp.CorrelationID)
	if c.slot == a {
		c.slot = nil
	}

	err := resp.Err()
	if a.reply != nil {
		c.finishReply(a, err)
	}
	detail := resp.Detail
	if detail == "" && err != nil {
		detail = err.Error()
	}

	switch a.purpose {
	case forEmergency:
		in := arbiter.InputActionConfirmed
		if err != nil {
			in = arbiter.InputActionFailed
		}
		c.step(arbiter.Signal{Input: in, Target: a.target, Reason: detail})

	case forArm:
		if err != nil {
			c.abort("arm failed: " + detail)
			return
		}
		c.sendTakeoff()

	case forTakeoff:
		if c.m == nil || c.m.state.Terminal() {
			return
		}
		if err != nil {
			if c.m.state == Preflight {
				c.abort("takeoff rejected: " + detail)
				return
			}
			c.actuationFailure(a.cmd, detail, "LAND")
			c.land("takeoff rejected")
			return
		}
		if c.m.state == Preflight {
			c.transition(Takeoff, "takeoff accepted")
		}
		c.startLeg()

	case forGoto:
		if err != nil {
			c.actuationFailure(a.cmd, detail, "RTL")
			if c.m != nil && c.m.state == Navigating {
				c.m.setOutcome(OutcomeAborted, "goto rejected: "+detail)
				c.returnHome("goto rejected")
			}
		}

	case forReturn:
		if err != nil {
			c.actuationFailure(a.cmd, detail, "LAND")
			if c.m != nil && c.m.state == RtlInProgress {
				c.land("RTL failed")
			}
		}

	default:
		if err != nil {
			c.actuationFailure(a.cmd, detail, "")
		}
	}
}

func (c *Controller) onLink(ev gateway.LinkEvent) {
	detail := ""
	if ev.Err != nil {
		detail = ev.Err.Error()
	}
	c.broadcast(telemetry.LinkStatus{
		Event:     telemetry.NewEvent(telemetry.EventLink),
		Connected: ev.Connected,
		Detail:    detail,
	})

	if ev.Connected {
		c.log.Info("vehicle link up")
		c.beats.Reset()
		c.armWatchdog()
		return
	}

	c.log.Warn("vehicle link down", "err", ev.Err)
	c.watchdog.stop()
	c.watchdog = nil
	if c.m != nil && c.m.state == Preflight {
		c.abort("link lost")
		return
	}
	age := config.Seconds(c.cfg.Safety.ConnectionTimeoutSeconds) + watchdogSlack
	if last, ok := c.beats.Age(c.clock.Now()); ok && last > age {
		age = last
	}
	c.failsafes(c.monitor.CheckLink(age, c.clock.Now()))
}

func (c *Controller) onFrame(f telemetry.Frame) {
	now := c.clock.Now()
	s := telemetry.Normalize(f, now)
	c.latest = s
	c.haveLatest = true
	c.beats.Observe(now)
	c.armWatchdog()

	if c.m != nil && c.m.state != Idle && !c.m.state.Terminal() {
		c.m.observe(s.BatteryLevel)
	}

	expected := c.expectedMode()
	if expected != c.lastExpected {
		c.monitor.ClearMode()
		c.lastExpected = expected
	}
	c.failsafes(c.monitor.Evaluate(s, expected, 0, now))
	c.progress(s)

	if now.Sub(c.lastTelemOut) >= telemetryBroadcastInterval {
		c.lastTelemOut = now
		c.broadcast(telemetry.TelemetryUpdate{
			Event:    telemetry.NewEvent(telemetry.EventTelemetry),
			Snapshot: s,
		})
	}
}

// navigationActive reports whether the plan may be flown. Navigation is
// suspended under manual override and whenever the arbiter is handling an
// emergency.
func (c *Controller) navigationActive() bool {
	return c.m != nil && !c.override && c.arb.State() == arbiter.Normal
}

func (c *Controller) progress(s telemetry.Snapshot) {
	if c.m == nil {
		return
	}
	nc := c.cfg.Navigation

	switch c.m.state {
	case Takeoff:
		if !c.navigationActive() || c.slot != nil && c.slot.cmd == gateway.CmdTakeoff {
			return
		}
		if s.AltRel >= nc.TakeoffAltitudeRatio*c.m.takeoffAlt {
			c.transition(Navigating, fmt.Sprintf("reached %.1f m", s.AltRel))
			c.gotoCurrent()
		}

	case Navigating:
		if !c.navigationActive() {
			return
		}
		wp, ok := c.m.current()
		if ok && nav.HasArrived(s.Position(), wp, nc.HorizontalToleranceM, nc.VerticalToleranceM) {
			c.arrived(wp)
		}

	case RtlInProgress:
		if !s.Armed || s.AltRel < nc.LandingDetectAltitudeM || strings.EqualFold(s.Mode, "LAND") {
			c.transition(Landing, "descending")
		}
		if c.m.state == Landing && !s.Armed {
			c.transition(Complete, "disarmed")
		}

	case Landing:
		if !s.Armed {
			c.transition(Complete, "disarmed")
		}
	}
}

func (c *Controller) arrived(wp nav.Waypoint) {
	idx := c.m.index
	c.m.visited++
	c.m.index++
	remaining := len(c.m.plan) - c.m.index

	c.log.Info("waypoint reached", "index", idx, "order", wp.Order, "remaining", remaining)
	c.broadcast(telemetry.WaypointReached{
		Event:     telemetry.NewEvent(telemetry.EventWaypointReached),
		Index:     idx,
		Order:     wp.Order,
		Remaining: remaining,
		Lat:       wp.Lat,
		Lon:       wp.Lon,
	})

	if remaining == 0 {
		c.m.setOutcome(OutcomeCompleted, "all waypoints visited")
		c.returnHome("all waypoints visited")
		return
	}
	c.gotoCurrent()
}

func (c *Controller) gotoCurrent() {
	wp, ok := c.m.current()
	if !ok {
		return
	}
	params := gateway.Params{Lat: wp.Lat, Lon: wp.Lon, Altitude: wp.Altitude}
	if _, err := c.actuate(gateway.CmdGoto, params, forGoto); err != nil {
		c.actuationFailure(gateway.CmdGoto, err.Error(), "RTL")
		c.m.setOutcome(OutcomeAborted, "goto failed: "+err.Error())
		c.returnHome("goto failed")
		return
	}
	c.startLeg()
}

func (c *Controller) sendTakeoff() {
	params := gateway.Params{Altitude: c.m.takeoffAlt}
	if _, err := c.actuate(gateway.CmdTakeoff, params, forTakeoff); err != nil {
		if c.m.state == Preflight {
			c.abort("takeoff failed: " + err.Error())
			return
		}
		c.actuationFailure(gateway.CmdTakeoff, err.Error(), "LAND")
		c.land("takeoff failed")
	}
}

// returnHome commands RTL for the mission, falling back to LAND when the
// request cannot be sent.
func (c *Controller) returnHome(reason string) {
	if _, err := c.actuate(gateway.CmdRTL, gateway.Params{}, forReturn); err != nil {
		c.actuationFailure(gateway.CmdRTL, err.Error(), "LAND")
		c.land(reason)
		return
	}
	c.transition(RtlInProgress, reason)
}

func (c *Controller) land(reason string) {
	if _, err := c.actuate(gateway.CmdLand, gateway.Params{}, forLand); err != nil {
		c.actuationFailure(gateway.CmdLand, err.Error(), "")
		return
	}
	c.transition(Landing, reason)
}

func (c *Controller) startLeg() {
	if c.m.state != Takeoff && c.m.state != Navigating {
		return
	}
	c.m.leg.stop()
	c.m.leg = c.after(timerLeg, config.Seconds(c.cfg.Navigation.WaypointTimeoutSeconds))
}

// suspend stops the leg clock while navigation is on hold.
func (c *Controller) suspend() {
	if c.m == nil {
		return
	}
	c.m.leg.stop()
	c.m.leg = nil
}

// resume flies the plan again after an emergency clears or the operator
// releases the override.
func (c *Controller) resume() {
	if !c.navigationActive() {
		return
	}
	switch c.m.state {
	case Takeoff:
		c.assertMode(c.cfg.Safety.ExpectedMode)
		c.climb()
	case Navigating:
		c.assertMode(c.cfg.Safety.ExpectedMode)
		c.gotoCurrent()
	}
}

// climb finishes an interrupted takeoff. Once airborne the vehicle is sent
// to the takeoff altitude above its current position; TAKEOFF is only
// repeated while it is still on the ground.
func (c *Controller) climb() {
	s := c.latest
	if !s.PositionValid() || !(s.AltRel >= c.cfg.Navigation.LandingDetectAltitudeM) {
		c.sendTakeoff()
		return
	}
	params := gateway.Params{Lat: s.Lat, Lon: s.Lon, Altitude: c.m.takeoffAlt}
	if _, err := c.actuate(gateway.CmdGoto, params, forTakeoff); err != nil {
		c.actuationFailure(gateway.CmdGoto, err.Error(), "LAND")
		c.land("climb failed")
	}
}

func (c *Controller) legExpired() {
	if !c.navigationActive() {
		return
	}
	timeout := config.Seconds(c.cfg.Navigation.WaypointTimeoutSeconds)
	switch c.m.state {
	case Takeoff:
		reason := fmt.Sprintf("takeoff altitude not reached within %s", timeout)
		c.log.Warn(reason)
		c.m.setOutcome(OutcomeAborted, reason)
		c.land(reason)
	case Navigating:
		reason := fmt.Sprintf("waypoint %d not reached within %s", c.m.index+1, timeout)
		c.log.Warn(reason)
		c.m.setOutcome(OutcomeWaypointTimeout, reason)
		c.returnHome(reason)
	}
}

// landingExpired disarms once if the vehicle is down but still armed.
func (c *Controller) landingExpired() {
	if c.m.state != Landing || c.m.disarmed || !c.latest.Armed {
		return
	}
	if !(c.latest.AltRel < c.cfg.Navigation.LandingDetectAltitudeM) {
		c.log.Warn("landing not complete after timeout; not disarming in flight", "alt_rel", c.latest.AltRel)
		return
	}
	c.m.disarmed = true
	c.log.Warn("landing timeout; disarming")
	if _, err := c.actuate(gateway.CmdDisarm, gateway.Params{}, forDisarm); err != nil {
		c.actuationFailure(gateway.CmdDisarm, err.Error(), "")
	}
}

// transition moves the mission through the state table.
func (c *Controller) transition(to State, reason string) bool {
	from := c.m.state
	if from == to {
		return true
	}
	if !CanTransition(from, to) {
		c.log.Error("illegal mission transition", "from", from.String(), "to", to.String(), "reason", reason)
		return false
	}
	c.m.state = to
	c.log.Info("mission transition", "mission_id", c.m.id, "from", from.String(), "to", to.String(), "reason", reason)
	c.broadcast(telemetry.StateTransition{
		Event:     telemetry.NewEvent(telemetry.EventState),
		Component: "mission",
		From:      from.String(),
		To:        to.String(),
		Reason:    reason,
	})

	if to != Takeoff && to != Navigating {
		c.m.leg.stop()
		c.m.leg = nil
	}
	if to == Landing {
		c.m.landing = c.after(timerLanding, config.Seconds(c.cfg.Navigation.LandingTimeoutSeconds))
		// Failsafes are disarmed from here on, so an open prompt or recovery
		// window could only end by sending RTL over the landing.
		switch c.arb.State() {
		case arbiter.AwaitingOperator, arbiter.AltHoldRecovery:
			c.log.Info("landing; dropping pending emergency", "arbiter", c.arb.Label())
			if err := c.step(arbiter.Signal{Input: arbiter.InputTerminate}); err != nil {
				c.log.Error("arbiter terminate", "err", err)
			}
		}
	}
	if to.Terminal() {
		c.finish()
	}
	return true
}

func (c *Controller) abort(reason string) {
	c.m.setOutcome(OutcomeAborted, reason)
	c.transition(Aborted, reason)
}

// finish tears the mission down: every timer it owns is stopped, the arbiter
// is reset, and nothing still in flight can reach the mission afterwards.
func (c *Controller) finish() {
	m := c.m
	m.leg.stop()
	m.landing.stop()
	m.leg, m.landing = nil, nil

	if err := c.step(arbiter.Signal{Input: arbiter.InputTerminate}); err != nil {
		c.log.Error("arbiter terminate", "err", err)
	}
	c.abandonAll("mission ended")

	sum := m.summary(c.clock.Now())
	c.lastSummary = &sum
	c.log.Info("mission summary", "mission_id", sum.MissionID, "outcome", sum.Outcome, "reason", sum.Reason,
		"duration_s", sum.DurationSeconds, "visited", sum.WaypointsVisited, "telemetry_points", sum.TelemetryPointCount)
	c.broadcast(summaryEvent{Event: telemetry.NewEvent(telemetry.EventMissionSummary), Summary: sum})

	if c.store != nil {
		go c.persist(sum)
	}
}

type summaryEvent struct {
	telemetry.Event
	Summary
}

func (c *Controller) persist(sum Summary) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.SaveSummary(ctx, sum); err != nil {
		c.log.Error("save mission summary", "mission_id", sum.MissionID, "err", err)
	}
}
