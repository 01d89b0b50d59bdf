package mission

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/large-farva/flight-arbiter/internal/arbiter"
	"github.com/large-farva/flight-arbiter/internal/config"
	"github.com/large-farva/flight-arbiter/internal/gateway"
	"github.com/large-farva/flight-arbiter/internal/nav"
)

// operatorPreempts lists, per operator command, the outstanding commands it
// may displace. Every other pairing is a conflict.
var operatorPreempts = map[gateway.Command]map[gateway.Command]bool{
	gateway.CmdLand: {gateway.CmdTakeoff: true, gateway.CmdGoto: true, gateway.CmdRTL: true},
	gateway.CmdRTL:  {gateway.CmdGoto: true},
}

func (c *Controller) onCommand(cmd Command) {
	if cmd.ID != "" {
		if r, ok := c.replies.Get(cmd.ID); ok {
			cmd.Reply <- r
			return
		}
		if c.busy[cmd.ID] {
			cmd.Reply <- Reply{Status: StatusError, ID: cmd.ID, Detail: "request " + cmd.ID + " already in progress"}
			return
		}
	}

	data, err := c.runCommand(cmd)
	if errors.Is(err, errDeferred) {
		if cmd.ID != "" {
			c.busy[cmd.ID] = true
		}
		return
	}
	r := okReply(data)
	if err != nil {
		c.log.Info("operator command rejected", "type", cmd.Type, "id", cmd.ID, "err", err)
		r = errReply(err)
	}
	r.ID = cmd.ID
	c.remember(cmd.ID, r)
	cmd.Reply <- r
}

// remember caches a final reply so a retransmitted request gets the same
// answer instead of acting twice.
func (c *Controller) remember(id string, r Reply) {
	if id == "" {
		return
	}
	delete(c.busy, id)
	c.replies.Add(id, r)
}

func (c *Controller) runCommand(cmd Command) (any, error) {
	switch cmd.Type {
	case "connect":
		if err := c.gw.Connect(c.ctx); err != nil {
			return nil, err
		}
		return map[string]bool{"connecting": true}, nil
	case "disconnect":
		if c.missionActive() {
			return nil, fmt.Errorf("%w: waypoint mission %s in progress", ErrCommandConflict, c.m.state)
		}
		return nil, c.gw.Disconnect()
	case "arm":
		return c.manual(cmd, gateway.CmdArm, gateway.Params{})
	case "disarm":
		return c.manual(cmd, gateway.CmdDisarm, gateway.Params{})
	case "takeoff":
		var p struct {
			Altitude float64 `json:"altitude"`
		}
		if err := decode(cmd, &p); err != nil {
			return nil, err
		}
		alt, err := c.takeoffAltitude(p.Altitude, nil)
		if err != nil {
			return nil, err
		}
		return c.manual(cmd, gateway.CmdTakeoff, gateway.Params{Altitude: alt})
	case "land":
		return c.operatorFlight(cmd, gateway.CmdLand)
	case "rtl":
		return c.operatorFlight(cmd, gateway.CmdRTL)
	case "cancel_takeoff":
		return c.cancelTakeoff(cmd)
	case "execute_waypoint_mission":
		return c.startMission(cmd)
	case "stop_waypoint_mission":
		return c.stopMission(cmd)
	case "waypoint_mission_status":
		if c.m == nil {
			return map[string]State{"state": Idle}, nil
		}
		return c.missionStatus(), nil
	case "battery_emergency_response":
		return c.respond(cmd)
	case "set_override":
		return c.setOverride(cmd)
	case "status":
		return c.snapshotStatus(), nil
	default:
		return nil, fmt.Errorf("unknown command: %q", cmd.Type)
	}
}

func decode(cmd Command, v any) error {
	if len(cmd.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(cmd.Payload, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func (c *Controller) missionActive() bool {
	return c.m != nil && !c.m.state.Terminal()
}

// emergencyActive reports an arbiter episode the operator must not talk
// over. An exhausted episode has nothing left to try and yields to the
// operator.
func (c *Controller) emergencyActive() bool {
	return c.arb.State() != arbiter.Normal && !c.arb.Exhausted()
}

func (c *Controller) checkConflict(cmd gateway.Command) error {
	if c.slot == nil {
		return nil
	}
	if c.slot.purpose != forEmergency && operatorPreempts[cmd][c.slot.cmd] {
		return nil
	}
	return fmt.Errorf("%w: %s outstanding", ErrCommandConflict, c.slot.cmd)
}

func (c *Controller) attach(a *actuation, cmd Command) {
	a.reply = cmd.Reply
	a.requestID = cmd.ID
}

// manual runs an operator actuation outside any mission. The reply is sent
// when the gateway answers.
func (c *Controller) manual(cmd Command, gc gateway.Command, params gateway.Params) (any, error) {
	if c.missionActive() {
		return nil, fmt.Errorf("%w: waypoint mission %s in progress", ErrCommandConflict, c.m.state)
	}
	if err := c.checkConflict(gc); err != nil {
		return nil, err
	}
	a, err := c.actuate(gc, params, forOperator)
	if err != nil {
		return nil, err
	}
	c.attach(a, cmd)
	return nil, errDeferred
}

// operatorFlight handles land and rtl. During a mission the operator takes
// over: navigation stops and the mission follows the commanded action.
func (c *Controller) operatorFlight(cmd Command, gc gateway.Command) (any, error) {
	if !c.missionActive() {
		return c.manual(cmd, gc, gateway.Params{})
	}
	if c.emergencyActive() {
		return nil, fmt.Errorf("%w: emergency %s in progress", ErrCommandConflict, c.arb.Label())
	}
	if gc == gateway.CmdRTL && c.m.state == Landing {
		return nil, fmt.Errorf("%w: mission is landing", ErrCommandConflict)
	}
	if err := c.checkConflict(gc); err != nil {
		return nil, err
	}

	if c.m.state == Preflight {
		c.m.setOutcome(OutcomeOperator, "operator commanded "+string(gc))
		c.transition(Aborted, "operator commanded "+string(gc))
		return c.manual(cmd, gc, gateway.Params{})
	}

	p, next := forReturn, RtlInProgress
	if gc == gateway.CmdLand {
		p, next = forLand, Landing
	}
	a, err := c.actuate(gc, gateway.Params{}, p)
	if err != nil {
		return nil, err
	}
	c.attach(a, cmd)
	c.m.setOutcome(OutcomeOperator, "operator commanded "+string(gc))
	c.transition(next, "operator commanded "+string(gc))
	return nil, errDeferred
}

// cancelTakeoff abandons an outstanding or climbing takeoff and lands.
func (c *Controller) cancelTakeoff(cmd Command) (any, error) {
	if !c.missionActive() {
		climbing := c.slot != nil && c.slot.cmd == gateway.CmdTakeoff
		if !climbing && !c.latest.Armed {
			return nil, errors.New("no takeoff in progress")
		}
		if c.slot != nil && c.slot.cmd == gateway.CmdTakeoff {
			c.abandonSlot("takeoff canceled")
		}
		return c.manual(cmd, gateway.CmdLand, gateway.Params{})
	}

	switch c.m.state {
	case Preflight:
		c.m.setOutcome(OutcomeTakeoffCanceled, "takeoff canceled by operator")
		c.transition(Aborted, "takeoff canceled")
		return c.manual(cmd, gateway.CmdLand, gateway.Params{})
	case Takeoff:
	default:
		return nil, fmt.Errorf("no takeoff in progress (mission %s)", c.m.state)
	}
	if c.emergencyActive() {
		return nil, fmt.Errorf("%w: emergency %s in progress", ErrCommandConflict, c.arb.Label())
	}

	c.abandonSlot("takeoff canceled")
	a, err := c.actuate(gateway.CmdLand, gateway.Params{}, forLand)
	if err != nil {
		return nil, err
	}
	c.attach(a, cmd)
	c.m.setOutcome(OutcomeTakeoffCanceled, "takeoff canceled by operator")
	c.transition(Landing, "takeoff canceled")
	return nil, errDeferred
}

func (c *Controller) mergeOptions() nav.MergeOptions {
	n := c.cfg.Navigation
	return nav.MergeOptions{
		MergeThresholdM: n.MergeThresholdM,
		DefaultAltitude: n.DefaultAltitudeM,
		MinAltitude:     n.MinAltitudeM,
		MaxAltitude:     n.MaxAltitudeM,
	}
}

// takeoffAltitude picks the requested altitude, else the first waypoint's,
// else the default, clamped to the configured range.
func (c *Controller) takeoffAltitude(requested float64, plan []nav.Waypoint) (float64, error) {
	n := c.cfg.Navigation
	if math.IsNaN(requested) || math.IsInf(requested, 0) || requested < 0 {
		return 0, &nav.ValidationError{Index: -1, Field: "takeoff_altitude", Reason: "takeoff_altitude must be a positive number"}
	}
	alt := requested
	if alt == 0 {
		alt = n.DefaultAltitudeM
		if len(plan) > 0 {
			alt = plan[0].Altitude
		}
	}
	return math.Min(math.Max(alt, n.MinAltitudeM), n.MaxAltitudeM), nil
}

func (c *Controller) startMission(cmd Command) (any, error) {
	var p struct {
		Name            string      `json:"name"`
		Waypoints       []nav.Input `json:"waypoints"`
		TakeoffAltitude float64     `json:"takeoff_altitude"`
	}
	if err := decode(cmd, &p); err != nil {
		return nil, err
	}
	if c.missionActive() {
		return nil, fmt.Errorf("%w: mission %s already %s", ErrCommandConflict, c.m.id, c.m.state)
	}
	if c.slot != nil {
		return nil, fmt.Errorf("%w: %s outstanding", ErrCommandConflict, c.slot.cmd)
	}

	var plan []nav.Waypoint
	if len(p.Waypoints) > 0 {
		var err error
		if plan, err = nav.ValidateAndMerge(p.Waypoints, c.mergeOptions()); err != nil {
			return nil, err
		}
	}
	alt, err := c.takeoffAltitude(p.TakeoffAltitude, plan)
	if err != nil {
		return nil, err
	}

	c.m = newRecord(c.newID(), p.Name, plan, alt, c.clock.Now())
	var home *nav.Point
	if c.latest.HomeValid {
		h := c.latest.Home
		home = &h
	}
	c.m.stats = nav.ComputeStats(plan, home, c.cfg.Navigation.CruiseSpeedMPS)
	c.transition(Preflight, "mission accepted")

	if err := c.preflight(); err != nil {
		var pf *PreflightError
		errors.As(err, &pf)
		c.abort(pf.Reason)
		return nil, err
	}

	c.monitor.Reset()
	c.lastExpected = ""
	c.step(arbiter.Signal{Input: arbiter.InputTerminate})

	if c.latest.Armed {
		c.sendTakeoff()
	} else if _, err := c.actuate(gateway.CmdArm, gateway.Params{}, forArm); err != nil {
		c.abort("arm failed: " + err.Error())
	}
	if c.m.state == Aborted {
		return nil, errors.New(c.m.reason)
	}

	return map[string]any{
		"mission_id":       c.m.id,
		"state":            c.m.state,
		"waypoints":        len(plan),
		"takeoff_altitude": alt,
		"stats":            c.m.stats,
	}, nil
}

func (c *Controller) preflight() error {
	s := c.latest
	if !c.haveLatest || c.clock.Now().Sub(s.Received) > config.Seconds(c.cfg.Safety.ConnectionTimeoutSeconds) {
		return &PreflightError{Reason: ReasonNoTelemetry}
	}
	if !s.Armable {
		return &PreflightError{Reason: ReasonNotArmable}
	}
	if s.GPSFixType < c.cfg.Safety.MinFixType {
		return &PreflightError{Reason: ReasonInsufficientGPS, Detail: fmt.Sprintf("fix type %d", s.GPSFixType)}
	}
	if !(s.BatteryLevel > c.cfg.Safety.PreflightMinBatteryPercent) {
		return &PreflightError{Reason: ReasonBatteryTooLow, Detail: fmt.Sprintf("battery %.1f%%", s.BatteryLevel)}
	}
	if len(c.m.plan) == 0 {
		return &PreflightError{Reason: ReasonNoWaypoints}
	}
	return nil
}

func (c *Controller) stopMission(cmd Command) (any, error) {
	if !c.missionActive() {
		return nil, ErrNoMission
	}
	switch c.m.state {
	case Preflight:
		c.m.setOutcome(OutcomeStopped, "stopped by operator")
		c.transition(Aborted, "stopped by operator")
		return map[string]any{"state": c.m.state}, nil
	case RtlInProgress, Landing:
		return map[string]any{"state": c.m.state, "detail": "already returning"}, nil
	}
	if c.emergencyActive() {
		return nil, fmt.Errorf("%w: emergency %s in progress", ErrCommandConflict, c.arb.Label())
	}

	a, err := c.actuate(gateway.CmdRTL, gateway.Params{}, forReturn)
	if err != nil {
		return nil, err
	}
	c.attach(a, cmd)
	c.m.setOutcome(OutcomeStopped, "stopped by operator")
	c.transition(RtlInProgress, "stopped by operator")
	return nil, errDeferred
}

func (c *Controller) respond(cmd Command) (any, error) {
	var p struct {
		PromptID string `json:"prompt_id"`
		Choice   string `json:"choice"`
	}
	if err := decode(cmd, &p); err != nil {
		return nil, err
	}
	if c.prompt == nil {
		if p.PromptID != "" && p.PromptID == c.lastPromptID {
			return nil, ErrPromptResolved
		}
		return nil, ErrNoPrompt
	}
	if p.PromptID != c.prompt.ID {
		if p.PromptID != "" && p.PromptID == c.lastPromptID {
			return nil, ErrPromptResolved
		}
		return nil, fmt.Errorf("%w: active prompt is %s", ErrPromptMismatch, c.prompt.ID)
	}
	target, err := arbiter.ParseTarget(p.Choice)
	if err != nil {
		return nil, err
	}

	id := c.prompt.ID
	if err := c.step(arbiter.Signal{Input: arbiter.InputOperatorChoice, Target: target, PromptID: id}); err != nil {
		return nil, err
	}
	return map[string]string{"prompt_id": id, "action": target.String()}, nil
}

func (c *Controller) setOverride(cmd Command) (any, error) {
	var p struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decode(cmd, &p); err != nil {
		return nil, err
	}
	if p.Enabled == nil {
		return nil, errors.New("enabled is required")
	}
	if *p.Enabled == c.override {
		return map[string]bool{"override": c.override}, nil
	}

	c.override = *p.Enabled
	if c.override {
		c.log.Warn("manual override enabled")
		c.suspend()
		if c.m != nil && c.m.state.Airborne() {
			c.assertMode("LOITER")
		}
	} else {
		c.log.Info("manual override released")
		c.step(arbiter.Signal{Input: arbiter.InputOverrideReleased})
		c.resume()
	}
	return map[string]bool{"override": c.override}, nil
}
