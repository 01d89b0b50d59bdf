package mission

import (
	"math"
	"strings"
	"time"

	"github.com/large-farva/flight-arbiter/internal/arbiter"
	"github.com/large-farva/flight-arbiter/internal/config"
	"github.com/large-farva/flight-arbiter/internal/gateway"
	"github.com/large-farva/flight-arbiter/internal/safety"
	"github.com/large-farva/flight-arbiter/internal/telemetry"
)

// Prompt is the single pending battery emergency decision. It owns its
// timeout and countdown handles; closing the prompt stops both.
type Prompt struct {
	ID             string                 `json:"prompt_id"`
	OpenedAt       time.Time              `json:"opened_at"`
	Deadline       time.Time              `json:"deadline"`
	Trigger        telemetry.Snapshot     `json:"trigger"`
	Recommendation arbiter.Recommendation `json:"recommendation"`
	Resolution     arbiter.Resolution     `json:"-"`

	timeout   *timerHandle
	countdown *timerHandle
}

// step feeds one input to the arbiter and carries out the effects it
// returns.
func (c *Controller) step(sig arbiter.Signal) error {
	before := c.arb.Label()
	effects, err := c.arb.Step(sig)
	if err != nil {
		return err
	}
	if after := c.arb.Label(); after != before {
		c.log.Info("arbiter transition", "from", before, "to", after, "input", sig.Input.String(), "reason", c.arb.Reason())
		c.broadcast(telemetry.StateTransition{
			Event:     telemetry.NewEvent(telemetry.EventArbiter),
			Component: "arbiter",
			From:      before,
			To:        after,
			Reason:    c.arb.Reason(),
		})
	}
	for _, e := range effects {
		c.apply(e)
	}
	return nil
}

func (c *Controller) apply(e arbiter.Effect) {
	switch e.Kind {
	case arbiter.EffectSetMode:
		c.assertMode(e.Mode)
	case arbiter.EffectStartRecoveryTimer:
		c.recovery.stop()
		c.recovery = c.after(timerRecovery, config.Seconds(c.cfg.Emergency.GPSRecoveryTimeoutSeconds))
		c.suspend()
	case arbiter.EffectCancelRecoveryTimer:
		c.recovery.stop()
		c.recovery = nil
	case arbiter.EffectOpenPrompt:
		c.openPrompt(e.PromptID)
		c.suspend()
	case arbiter.EffectResolvePrompt:
		action := e.Resolution.String()
		if e.Resolution == arbiter.TimeoutDefault {
			action = e.Target.String() + "_TIMEOUT"
		}
		c.closePrompt(e.Resolution, action)
	case arbiter.EffectCancelPrompt:
		c.closePrompt(arbiter.Pending, "CANCELED")
	case arbiter.EffectDispatch:
		c.dispatch(e.Target, e.Reason)
	case arbiter.EffectSuppressed:
		c.suspend()
		c.log.Warn("auto action suppressed by manual override", "target", e.Target.String(), "reason", e.Reason)
	case arbiter.EffectActionFailed:
		failed := gateway.CmdRTL
		if e.Target == arbiter.TargetNone {
			failed = gateway.CmdLand
		}
		fallback := ""
		if e.Target != arbiter.TargetNone {
			fallback = e.Target.String()
		}
		c.actuationFailure(failed, e.Reason, fallback)
	case arbiter.EffectSettled:
		c.log.Info("auto action took effect", "target", e.Target.String())
		c.step(arbiter.Signal{Input: arbiter.InputAcknowledge})
	case arbiter.EffectResumeNavigation:
		c.resume()
	}
}

// dispatch sends an AutoAction and moves the mission along with it.
func (c *Controller) dispatch(target arbiter.Target, reason string) {
	cmd, next := gateway.CmdRTL, RtlInProgress
	if target == arbiter.TargetLand {
		cmd, next = gateway.CmdLand, Landing
	}
	c.log.Warn("dispatching auto action", "target", target.String(), "reason", reason)

	a, err := c.actuate(cmd, gateway.Params{}, forEmergency)
	if err != nil {
		c.step(arbiter.Signal{Input: arbiter.InputActionFailed, Target: target, Reason: err.Error()})
		return
	}
	a.target = target

	if c.m != nil && !c.m.state.Terminal() {
		c.m.setOutcome(OutcomeEmergency, reason)
		c.transition(next, reason)
	}
}

func (c *Controller) openPrompt(id string) {
	now := c.clock.Now()
	timeout := config.Seconds(c.cfg.Emergency.PromptTimeoutSeconds)
	s := c.latest
	rec := arbiter.Recommend(s, c.params)

	c.prompt = &Prompt{
		ID:             id,
		OpenedAt:       now,
		Deadline:       now.Add(timeout),
		Trigger:        s,
		Recommendation: rec,
		Resolution:     arbiter.Pending,
	}
	c.prompt.timeout = c.after(timerPrompt, timeout)
	c.prompt.countdown = c.after(timerCountdown, c.countdownStep(timeout))

	c.log.Warn("battery emergency", "prompt_id", id, "battery", s.BatteryLevel,
		"recommendation", rec.Action.String(), "reason", rec.Reason)
	c.broadcast(telemetry.BatteryEmergency{
		Event:          telemetry.NewEvent(telemetry.EventEmergency),
		PromptID:       id,
		BatteryLevel:   s.BatteryLevel,
		DistanceToHome: rec.DistanceToHome,
		Altitude:       telemetry.Nullable(s.AltRel),
		GPSFix:         s.GPSFixType,
		Recommendation: rec.Action.String(),
		Reason:         rec.Reason,
		TimeoutSeconds: timeout.Seconds(),
	})
	c.broadcast(telemetry.EmergencyPrompt{
		Event:    telemetry.NewEvent(telemetry.EventEmergencyPrompt),
		PromptID: id,
	})
}

func (c *Controller) countdownStep(remaining time.Duration) time.Duration {
	return min(config.Seconds(c.cfg.Emergency.CountdownIntervalSeconds), remaining)
}

func (c *Controller) countdown() {
	remaining := c.prompt.Deadline.Sub(c.clock.Now())
	if remaining <= 0 {
		return
	}
	c.broadcast(telemetry.Countdown{
		Event:            telemetry.NewEvent(telemetry.EventCountdown),
		PromptID:         c.prompt.ID,
		RemainingSeconds: math.Round(remaining.Seconds()*10) / 10,
	})
	c.prompt.countdown = c.after(timerCountdown, c.countdownStep(remaining))
}

// closePrompt destroys the prompt. The id is kept so a late response can be
// told the prompt was already resolved.
func (c *Controller) closePrompt(res arbiter.Resolution, action string) {
	if c.prompt == nil {
		return
	}
	c.closePromptTimers()
	c.prompt.Resolution = res
	c.lastPromptID = c.prompt.ID
	c.log.Info("battery emergency closed", "prompt_id", c.prompt.ID, "action", action)
	c.broadcast(telemetry.EmergencyAction{
		Event:    telemetry.NewEvent(telemetry.EventEmergencyAction),
		PromptID: c.prompt.ID,
		Action:   action,
	})
	c.prompt = nil
}

func (c *Controller) closePromptTimers() {
	if c.prompt == nil {
		return
	}
	c.prompt.timeout.stop()
	c.prompt.countdown.stop()
	c.prompt.timeout = nil
	c.prompt.countdown = nil
}

// failsafesArmed reports whether failsafe events drive the arbiter. On the
// ground and once the vehicle is landing they are reported only.
func (c *Controller) failsafesArmed() bool {
	if c.m == nil {
		return false
	}
	switch c.m.state {
	case Takeoff, Navigating, RtlInProgress:
		return true
	}
	return false
}

func (c *Controller) failsafes(events []safety.Event) {
	for _, ev := range events {
		if ev.Cleared {
			c.log.Info("failsafe cleared", "kind", ev.Kind.String())
		} else {
			c.log.Warn("failsafe", "kind", ev.Kind.String(), "severity", ev.Severity.String(), "detail", ev.Detail)
		}
		c.broadcast(telemetry.Failsafe{
			Event:    telemetry.NewEvent(telemetry.EventFailsafe),
			Kind:     ev.Kind.String(),
			Severity: ev.Severity.String(),
			Cleared:  ev.Cleared,
		})
		if !c.failsafesArmed() {
			continue
		}

		sig := arbiter.Signal{HomeValid: c.latest.HomeValid}
		switch {
		case ev.Kind == safety.GpsLost && ev.Cleared:
			sig.Input = arbiter.InputGpsRecovered
		case ev.Cleared:
			continue
		case ev.Kind == safety.GpsLost:
			sig.Input = arbiter.InputGpsLost
		case ev.Kind == safety.BatteryCritical:
			sig.Input = arbiter.InputBatteryCritical
		case ev.Kind == safety.ModeChanged:
			sig.Input = arbiter.InputModeChanged
			sig.ExpectedMode = c.expectedMode()
		case ev.Kind == safety.ConnectionLost:
			sig.Input = arbiter.InputConnectionLost
		default:
			continue
		}
		if err := c.step(sig); err != nil {
			c.log.Error("arbiter rejected failsafe", "kind", ev.Kind.String(), "err", err)
		}
	}
}

// expectedMode is the flight mode the vehicle should report right now, or ""
// when no mode is enforced.
func (c *Controller) expectedMode() string {
	if c.override || c.m == nil || c.modeChangePending() {
		return ""
	}
	switch c.arb.State() {
	case arbiter.AltHoldRecovery:
		return "ALT_HOLD"
	case arbiter.AutoAction:
		if c.arb.Suppressed() {
			return ""
		}
		if c.arb.Target() == arbiter.TargetLand {
			return "LAND"
		}
		return "RTL"
	}
	switch c.m.state {
	case Takeoff, Navigating:
		return strings.ToUpper(c.cfg.Safety.ExpectedMode)
	case RtlInProgress:
		return "RTL"
	}
	return ""
}

// modeChangePending reports whether a command that changes the flight mode
// is still waiting for its response.
func (c *Controller) modeChangePending() bool {
	for _, a := range c.inflight {
		switch a.cmd {
		case gateway.CmdSetMode, gateway.CmdTakeoff, gateway.CmdRTL, gateway.CmdLand:
			return true
		}
	}
	return false
}
