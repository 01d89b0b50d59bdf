// Package arbiter implements the emergency state machine that sits between
// the safety monitor and the command gateway. The machine is closed: every
// (state, input) pair has an entry in the transition table, and Step reports
// the side effects the mission loop must carry out instead of performing
// them itself.
package arbiter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var ErrStalePrompt = errors.New("prompt is not the active prompt")

type State int

const (
	Normal State = iota
	AltHoldRecovery
	AwaitingOperator
	AutoAction
	Resolved

	numStates
)

func (s State) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case AltHoldRecovery:
		return "ALT_HOLD_RECOVERY"
	case AwaitingOperator:
		return "AWAITING_OPERATOR"
	case AutoAction:
		return "AUTO_ACTION"
	case Resolved:
		return "RESOLVED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Target is the action an AutoAction carries out.
type Target int

const (
	TargetNone Target = iota
	TargetRtl
	TargetLand
)

func (t Target) String() string {
	switch t {
	case TargetRtl:
		return "RTL"
	case TargetLand:
		return "LAND"
	default:
		return "NONE"
	}
}

func (t Target) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseTarget accepts an operator choice, case-insensitively.
func ParseTarget(s string) (Target, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RTL":
		return TargetRtl, nil
	case "LAND":
		return TargetLand, nil
	default:
		return TargetNone, fmt.Errorf("invalid choice %q: must be RTL or LAND", s)
	}
}

type Resolution int

const (
	Pending Resolution = iota
	ResolvedRtl
	ResolvedLand
	TimeoutDefault
)

func (r Resolution) String() string {
	switch r {
	case ResolvedRtl:
		return "RTL"
	case ResolvedLand:
		return "LAND"
	case TimeoutDefault:
		return "TIMEOUT_DEFAULT"
	default:
		return "PENDING"
	}
}

func resolutionFor(t Target) Resolution {
	if t == TargetRtl {
		return ResolvedRtl
	}
	return ResolvedLand
}

// Input is everything that can drive the machine.
type Input int

const (
	InputGpsLost Input = iota
	InputGpsRecovered
	InputBatteryCritical
	InputModeChanged
	InputConnectionLost
	InputOperatorChoice
	InputPromptTimeout
	InputRecoveryTimeout
	InputActionConfirmed
	InputActionFailed
	InputOverrideReleased
	InputAcknowledge
	InputTerminate

	numInputs
)

var inputNames = [numInputs]string{
	InputGpsLost:          "GpsLost",
	InputGpsRecovered:     "GpsRecovered",
	InputBatteryCritical:  "BatteryCritical",
	InputModeChanged:      "ModeChanged",
	InputConnectionLost:   "ConnectionLost",
	InputOperatorChoice:   "OperatorChoice",
	InputPromptTimeout:    "PromptTimeout",
	InputRecoveryTimeout:  "RecoveryTimeout",
	InputActionConfirmed:  "ActionConfirmed",
	InputActionFailed:     "ActionFailed",
	InputOverrideReleased: "OverrideReleased",
	InputAcknowledge:      "Acknowledge",
	InputTerminate:        "Terminate",
}

func (i Input) String() string {
	if i >= 0 && i < numInputs {
		return inputNames[i]
	}
	return fmt.Sprintf("Input(%d)", int(i))
}

// Signal is one input plus the context the handlers need.
//
// Target is the operator's choice for InputOperatorChoice, the stored
// recommendation for InputPromptTimeout, and the completed action for
// InputActionConfirmed/InputActionFailed. ExpectedMode is the flight mode the
// mission requires right now. HomeValid reflects the latest snapshot.
type Signal struct {
	Input        Input
	Target       Target
	PromptID     string
	ExpectedMode string
	HomeValid    bool
	Reason       string
}

type EffectKind int

const (
	// EffectSetMode asks the gateway for a flight mode (Mode).
	EffectSetMode EffectKind = iota
	EffectStartRecoveryTimer
	EffectCancelRecoveryTimer
	// EffectOpenPrompt creates the single operator prompt (PromptID).
	EffectOpenPrompt
	// EffectResolvePrompt closes the prompt with Resolution.
	EffectResolvePrompt
	// EffectCancelPrompt destroys the prompt without an operator resolution.
	EffectCancelPrompt
	// EffectDispatch sends the AutoAction command (Target).
	EffectDispatch
	// EffectSuppressed records an AutoAction withheld by manual override.
	EffectSuppressed
	// EffectActionFailed surfaces an actuation failure. Target is the
	// fallback, TargetNone when there is nothing more conservative to try.
	EffectActionFailed
	// EffectSettled reports that the AutoAction took effect.
	EffectSettled
	// EffectResumeNavigation tells the mission loop it may fly the plan again.
	EffectResumeNavigation
)

type Effect struct {
	Kind       EffectKind
	Mode       string
	Target     Target
	PromptID   string
	Resolution Resolution
	Reason     string
}

// Machine is the arbiter. It is owned by the mission loop and is not safe for
// concurrent use.
type Machine struct {
	state     State
	target    Target
	promptID  string
	reason    string
	suppress  bool
	exhausted bool

	overrideActive func() bool
	newPromptID    func() string
}

// Option configures a Machine.
type Option func(*Machine)

// WithPromptIDs replaces the prompt id generator.
func WithPromptIDs(f func() string) Option {
	return func(m *Machine) { m.newPromptID = f }
}

// New returns a machine in Normal. overrideActive is consulted immediately
// before every AutoAction dispatch.
func New(overrideActive func() bool, opts ...Option) *Machine {
	m := &Machine{
		overrideActive: overrideActive,
		newPromptID: func() string {
			return "battery_emergency_" + uuid.NewString()
		},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Machine) State() State     { return m.state }
func (m *Machine) Target() Target   { return m.target }
func (m *Machine) PromptID() string { return m.promptID }
func (m *Machine) Reason() string   { return m.reason }

// Suppressed reports whether the current AutoAction is being withheld.
func (m *Machine) Suppressed() bool { return m.state == AutoAction && m.suppress }

// Exhausted reports that LAND itself failed and nothing is left to try.
func (m *Machine) Exhausted() bool { return m.exhausted }

func (m *Machine) Label() string {
	if m.state == AutoAction || m.state == Resolved {
		return fmt.Sprintf("%s(%s)", m.state, m.target)
	}
	return m.state.String()
}

type handler func(m *Machine, sig Signal) ([]Effect, error)

// transitions is indexed by [state][input]. Every cell is populated; the
// table test walks all of them.
var transitions = [numStates][numInputs]handler{
	Normal: {
		InputGpsLost:          beginRecovery,
		InputGpsRecovered:     ignore,
		InputBatteryCritical:  openPrompt,
		InputModeChanged:      reassertMode,
		InputConnectionLost:   linkLost,
		InputOperatorChoice:   noPrompt,
		InputPromptTimeout:    ignore,
		InputRecoveryTimeout:  ignore,
		InputActionConfirmed:  ignore,
		InputActionFailed:     ignore,
		InputOverrideReleased: ignore,
		InputAcknowledge:      ignore,
		InputTerminate:        terminate,
	},
	AltHoldRecovery: {
		InputGpsLost:          ignore,
		InputGpsRecovered:     endRecovery,
		InputBatteryCritical:  openPrompt,
		InputModeChanged:      reassertMode,
		InputConnectionLost:   linkLost,
		InputOperatorChoice:   noPrompt,
		InputPromptTimeout:    ignore,
		InputRecoveryTimeout:  recoveryExpired,
		InputActionConfirmed:  ignore,
		InputActionFailed:     ignore,
		InputOverrideReleased: ignore,
		InputAcknowledge:      ignore,
		InputTerminate:        terminate,
	},
	AwaitingOperator: {
		InputGpsLost:          ignore,
		InputGpsRecovered:     ignore,
		InputBatteryCritical:  ignore,
		InputModeChanged:      reassertMode,
		InputConnectionLost:   linkLost,
		InputOperatorChoice:   operatorChose,
		InputPromptTimeout:    promptExpired,
		InputRecoveryTimeout:  ignore,
		InputActionConfirmed:  ignore,
		InputActionFailed:     ignore,
		InputOverrideReleased: ignore,
		InputAcknowledge:      ignore,
		InputTerminate:        terminate,
	},
	AutoAction: {
		InputGpsLost:          ignore,
		InputGpsRecovered:     ignore,
		InputBatteryCritical:  ignore,
		InputModeChanged:      reassertMode,
		// An action in progress is kept: RTL is what a link loss asks for,
		// and an active LAND is the more conservative of the two.
		InputConnectionLost:   ignore,
		InputOperatorChoice:   noPrompt,
		InputPromptTimeout:    ignore,
		InputRecoveryTimeout:  ignore,
		InputActionConfirmed:  actionConfirmed,
		InputActionFailed:     actionFailed,
		InputOverrideReleased: redispatch,
		InputAcknowledge:      ignore,
		InputTerminate:        terminate,
	},
	Resolved: {
		InputGpsLost:          ignore,
		InputGpsRecovered:     ignore,
		InputBatteryCritical:  ignore,
		InputModeChanged:      ignore,
		InputConnectionLost:   ignore,
		InputOperatorChoice:   noPrompt,
		InputPromptTimeout:    ignore,
		InputRecoveryTimeout:  ignore,
		InputActionConfirmed:  ignore,
		InputActionFailed:     ignore,
		InputOverrideReleased: ignore,
		InputAcknowledge:      settle,
		InputTerminate:        terminate,
	},
}

// Step feeds one input through the table.
func (m *Machine) Step(sig Signal) ([]Effect, error) {
	if m.state < 0 || m.state >= numStates || sig.Input < 0 || sig.Input >= numInputs {
		return nil, fmt.Errorf("arbiter: no transition for %s on %s", m.state, sig.Input)
	}
	return transitions[m.state][sig.Input](m, sig)
}

func ignore(*Machine, Signal) ([]Effect, error) { return nil, nil }

func noPrompt(*Machine, Signal) ([]Effect, error) {
	return nil, ErrStalePrompt
}

func beginRecovery(m *Machine, sig Signal) ([]Effect, error) {
	m.state = AltHoldRecovery
	m.reason = "gps lost"
	return []Effect{
		{Kind: EffectSetMode, Mode: "ALT_HOLD"},
		{Kind: EffectStartRecoveryTimer},
	}, nil
}

func endRecovery(m *Machine, sig Signal) ([]Effect, error) {
	m.state = Normal
	m.reason = ""
	return []Effect{
		{Kind: EffectCancelRecoveryTimer},
		{Kind: EffectResumeNavigation},
	}, nil
}

func recoveryExpired(m *Machine, sig Signal) ([]Effect, error) {
	target := TargetLand
	reason := "gps not recovered, no valid home"
	if sig.HomeValid {
		target = TargetRtl
		reason = "gps not recovered"
	}
	return m.dispatch(nil, target, reason), nil
}

func openPrompt(m *Machine, sig Signal) ([]Effect, error) {
	var effects []Effect
	if m.state == AltHoldRecovery {
		effects = append(effects, Effect{Kind: EffectCancelRecoveryTimer})
	}
	m.state = AwaitingOperator
	m.promptID = m.newPromptID()
	m.reason = "battery critical"
	return append(effects, Effect{Kind: EffectOpenPrompt, PromptID: m.promptID}), nil
}

func operatorChose(m *Machine, sig Signal) ([]Effect, error) {
	if sig.PromptID != m.promptID {
		return nil, ErrStalePrompt
	}
	if sig.Target != TargetRtl && sig.Target != TargetLand {
		return nil, fmt.Errorf("arbiter: operator choice must be RTL or LAND, got %s", sig.Target)
	}
	effects := []Effect{{Kind: EffectResolvePrompt, PromptID: m.promptID, Resolution: resolutionFor(sig.Target)}}
	m.promptID = ""
	return m.dispatch(effects, sig.Target, "operator chose "+sig.Target.String()), nil
}

func promptExpired(m *Machine, sig Signal) ([]Effect, error) {
	if sig.PromptID != m.promptID {
		return nil, nil
	}
	target := sig.Target
	if target != TargetRtl {
		target = TargetLand
	}
	effects := []Effect{{Kind: EffectResolvePrompt, PromptID: m.promptID, Resolution: TimeoutDefault, Target: target}}
	m.promptID = ""
	return m.dispatch(effects, target, "operator did not respond"), nil
}

func linkLost(m *Machine, sig Signal) ([]Effect, error) {
	var effects []Effect
	switch m.state {
	case AltHoldRecovery:
		effects = append(effects, Effect{Kind: EffectCancelRecoveryTimer})
	case AwaitingOperator:
		effects = append(effects, Effect{Kind: EffectCancelPrompt, PromptID: m.promptID})
		m.promptID = ""
	}
	return m.dispatch(effects, TargetRtl, "link lost"), nil
}

func reassertMode(m *Machine, sig Signal) ([]Effect, error) {
	if sig.ExpectedMode == "" {
		return nil, nil
	}
	return []Effect{{Kind: EffectSetMode, Mode: sig.ExpectedMode}}, nil
}

func actionConfirmed(m *Machine, sig Signal) ([]Effect, error) {
	if m.suppress || sig.Target != m.target {
		return nil, nil
	}
	m.state = Resolved
	return []Effect{{Kind: EffectSettled, Target: m.target}}, nil
}

func actionFailed(m *Machine, sig Signal) ([]Effect, error) {
	if m.suppress || sig.Target != m.target {
		return nil, nil
	}
	if m.target == TargetRtl {
		effects := []Effect{{Kind: EffectActionFailed, Target: TargetLand, Reason: sig.Reason}}
		return m.dispatch(effects, TargetLand, "RTL failed"), nil
	}
	m.exhausted = true
	return []Effect{{Kind: EffectActionFailed, Target: TargetNone, Reason: sig.Reason}}, nil
}

func redispatch(m *Machine, sig Signal) ([]Effect, error) {
	if !m.suppress {
		return nil, nil
	}
	return m.dispatch(nil, m.target, m.reason), nil
}

func settle(m *Machine, sig Signal) ([]Effect, error) {
	m.state = Normal
	m.target = TargetNone
	m.reason = ""
	return nil, nil
}

func terminate(m *Machine, sig Signal) ([]Effect, error) {
	var effects []Effect
	switch m.state {
	case AltHoldRecovery:
		effects = append(effects, Effect{Kind: EffectCancelRecoveryTimer})
	case AwaitingOperator:
		effects = append(effects, Effect{Kind: EffectCancelPrompt, PromptID: m.promptID})
	}
	m.state = Normal
	m.target = TargetNone
	m.promptID = ""
	m.reason = ""
	m.suppress = false
	m.exhausted = false
	return effects, nil
}

// dispatch moves to AutoAction(target). The override flag is read here, the
// last point before the command leaves the arbiter.
func (m *Machine) dispatch(effects []Effect, target Target, reason string) []Effect {
	m.state = AutoAction
	m.target = target
	m.reason = reason
	m.exhausted = false
	if m.overrideActive != nil && m.overrideActive() {
		m.suppress = true
		return append(effects, Effect{Kind: EffectSuppressed, Target: target, Reason: reason})
	}
	m.suppress = false
	return append(effects, Effect{Kind: EffectDispatch, Target: target, Reason: reason})
}
