package arbiter

import (
	"errors"
	"fmt"
	"testing"
)

func newMachine(override *bool) *Machine {
	n := 0
	return New(func() bool { return override != nil && *override },
		WithPromptIDs(func() string {
			n++
			return fmt.Sprintf("battery_emergency_%d", n)
		}))
}

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, len(effects))
	for i, e := range effects {
		out[i] = e.Kind
	}
	return out
}

func hasKind(effects []Effect, k EffectKind) (Effect, bool) {
	for _, e := range effects {
		if e.Kind == k {
			return e, true
		}
	}
	return Effect{}, false
}

func mustStep(t *testing.T, m *Machine, sig Signal) []Effect {
	t.Helper()
	effects, err := m.Step(sig)
	if err != nil {
		t.Fatalf("Step(%s) in %s: %v", sig.Input, m.State(), err)
	}
	return effects
}

func TestTransitionTableIsExhaustive(t *testing.T) {
	for s := State(0); s < numStates; s++ {
		for in := Input(0); in < numInputs; in++ {
			if transitions[s][in] == nil {
				t.Errorf("no handler for (%s, %s)", s, in)
			}
		}
	}
}

func TestEveryPairIsHandledFromEveryState(t *testing.T) {
	// Drive the machine into each state, then apply every input. Nothing may
	// panic and the machine must land in a known state.
	setups := map[State][]Signal{
		Normal:           nil,
		AltHoldRecovery:  {{Input: InputGpsLost}},
		AwaitingOperator: {{Input: InputBatteryCritical}},
		AutoAction:       {{Input: InputConnectionLost}},
		Resolved:         {{Input: InputConnectionLost}, {Input: InputActionConfirmed, Target: TargetRtl}},
	}
	for state, setup := range setups {
		for in := Input(0); in < numInputs; in++ {
			m := newMachine(nil)
			for _, sig := range setup {
				mustStep(t, m, sig)
			}
			if m.State() != state {
				t.Fatalf("setup for %s reached %s", state, m.State())
			}
			_, err := m.Step(Signal{Input: in, Target: TargetRtl, PromptID: m.PromptID()})
			if err != nil && !errors.Is(err, ErrStalePrompt) {
				t.Errorf("(%s, %s): unexpected error %v", state, in, err)
			}
			if m.State() < 0 || m.State() >= numStates {
				t.Errorf("(%s, %s): invalid state %d", state, in, m.State())
			}
		}
	}
}

func TestGpsLostRecoversBeforeTimeout(t *testing.T) {
	m := newMachine(nil)

	effects := mustStep(t, m, Signal{Input: InputGpsLost})
	if m.State() != AltHoldRecovery {
		t.Fatalf("state = %s", m.State())
	}
	if e, ok := hasKind(effects, EffectSetMode); !ok || e.Mode != "ALT_HOLD" {
		t.Errorf("effects = %v, want ALT_HOLD", kinds(effects))
	}
	if _, ok := hasKind(effects, EffectStartRecoveryTimer); !ok {
		t.Errorf("recovery timer not started")
	}

	effects = mustStep(t, m, Signal{Input: InputGpsRecovered})
	if m.State() != Normal {
		t.Fatalf("state = %s", m.State())
	}
	if _, ok := hasKind(effects, EffectCancelRecoveryTimer); !ok {
		t.Error("recovery timer not canceled")
	}
	if _, ok := hasKind(effects, EffectResumeNavigation); !ok {
		t.Error("navigation not resumed")
	}

	// A late timer fire is a no-op.
	if effects := mustStep(t, m, Signal{Input: InputRecoveryTimeout}); len(effects) != 0 {
		t.Errorf("stale timeout produced %v", kinds(effects))
	}
}

func TestGpsRecoveryTimeout(t *testing.T) {
	tests := []struct {
		name      string
		homeValid bool
		want      Target
	}{
		{"home valid", true, TargetRtl},
		{"no home", false, TargetLand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMachine(nil)
			mustStep(t, m, Signal{Input: InputGpsLost})
			effects := mustStep(t, m, Signal{Input: InputRecoveryTimeout, HomeValid: tt.homeValid})

			if m.State() != AutoAction || m.Target() != tt.want {
				t.Fatalf("state = %s", m.Label())
			}
			if e, ok := hasKind(effects, EffectDispatch); !ok || e.Target != tt.want {
				t.Errorf("effects = %v", kinds(effects))
			}
		})
	}
}

func TestBatteryPromptOperatorChoice(t *testing.T) {
	m := newMachine(nil)

	effects := mustStep(t, m, Signal{Input: InputBatteryCritical})
	open, ok := hasKind(effects, EffectOpenPrompt)
	if !ok || m.State() != AwaitingOperator {
		t.Fatalf("state = %s, effects = %v", m.State(), kinds(effects))
	}
	if open.PromptID != "battery_emergency_1" || m.PromptID() != open.PromptID {
		t.Errorf("prompt id = %q", open.PromptID)
	}

	if _, err := m.Step(Signal{Input: InputOperatorChoice, PromptID: "battery_emergency_99", Target: TargetLand}); !errors.Is(err, ErrStalePrompt) {
		t.Fatalf("mismatched prompt: err = %v", err)
	}
	if m.State() != AwaitingOperator {
		t.Fatalf("mismatched prompt changed state to %s", m.State())
	}

	effects = mustStep(t, m, Signal{Input: InputOperatorChoice, PromptID: open.PromptID, Target: TargetLand})
	res, ok := hasKind(effects, EffectResolvePrompt)
	if !ok || res.Resolution != ResolvedLand {
		t.Fatalf("effects = %v", kinds(effects))
	}
	if m.State() != AutoAction || m.Target() != TargetLand {
		t.Fatalf("state = %s", m.Label())
	}
	if m.PromptID() != "" {
		t.Error("arbiter still references the resolved prompt")
	}

	// A second response for the same prompt is rejected.
	if _, err := m.Step(Signal{Input: InputOperatorChoice, PromptID: open.PromptID, Target: TargetRtl}); !errors.Is(err, ErrStalePrompt) {
		t.Errorf("duplicate response: err = %v", err)
	}
}

func TestPromptTimeoutUsesRecommendation(t *testing.T) {
	m := newMachine(nil)
	mustStep(t, m, Signal{Input: InputBatteryCritical})
	id := m.PromptID()

	effects := mustStep(t, m, Signal{Input: InputPromptTimeout, PromptID: id, Target: TargetRtl})
	res, ok := hasKind(effects, EffectResolvePrompt)
	if !ok || res.Resolution != TimeoutDefault || res.Target != TargetRtl {
		t.Fatalf("resolve effect = %+v", res)
	}
	if d, ok := hasKind(effects, EffectDispatch); !ok || d.Target != TargetRtl {
		t.Fatalf("effects = %v", kinds(effects))
	}
}

func TestAtMostOnePrompt(t *testing.T) {
	m := newMachine(nil)
	mustStep(t, m, Signal{Input: InputBatteryCritical})
	first := m.PromptID()

	for i := 0; i < 10; i++ {
		effects := mustStep(t, m, Signal{Input: InputBatteryCritical})
		if _, ok := hasKind(effects, EffectOpenPrompt); ok {
			t.Fatal("second prompt opened")
		}
	}
	if m.PromptID() != first {
		t.Errorf("prompt id changed from %q to %q", first, m.PromptID())
	}
}

func TestConnectionLostPreemptsPrompt(t *testing.T) {
	m := newMachine(nil)
	mustStep(t, m, Signal{Input: InputBatteryCritical})
	id := m.PromptID()

	effects := mustStep(t, m, Signal{Input: InputConnectionLost})
	got := kinds(effects)
	if len(got) != 2 || got[0] != EffectCancelPrompt || got[1] != EffectDispatch {
		t.Fatalf("effects = %v, want cancel prompt then dispatch", got)
	}
	if effects[0].PromptID != id || effects[1].Target != TargetRtl {
		t.Errorf("effects = %+v", effects)
	}

	// The canceled prompt's timer firing late must not change anything.
	if effects := mustStep(t, m, Signal{Input: InputPromptTimeout, PromptID: id, Target: TargetLand}); len(effects) != 0 {
		t.Errorf("stale prompt timeout produced %v", kinds(effects))
	}
	if m.Target() != TargetRtl {
		t.Errorf("target = %s", m.Target())
	}
}

func TestConnectionLostPreemptsRecovery(t *testing.T) {
	m := newMachine(nil)
	mustStep(t, m, Signal{Input: InputGpsLost})
	effects := mustStep(t, m, Signal{Input: InputConnectionLost})
	got := kinds(effects)
	if len(got) != 2 || got[0] != EffectCancelRecoveryTimer || got[1] != EffectDispatch {
		t.Fatalf("effects = %v", got)
	}
}

func TestConnectionLostKeepsActiveAction(t *testing.T) {
	for _, target := range []Target{TargetLand, TargetRtl} {
		t.Run(target.String(), func(t *testing.T) {
			m := newMachine(nil)
			mustStep(t, m, Signal{Input: InputBatteryCritical})
			mustStep(t, m, Signal{Input: InputOperatorChoice, PromptID: m.PromptID(), Target: target})

			effects := mustStep(t, m, Signal{Input: InputConnectionLost})
			if len(effects) != 0 {
				t.Fatalf("effects = %v", kinds(effects))
			}
			if m.State() != AutoAction || m.Target() != target {
				t.Fatalf("state = %s", m.Label())
			}
		})
	}
}

func TestBatteryDuringRecoveryOpensPrompt(t *testing.T) {
	m := newMachine(nil)
	mustStep(t, m, Signal{Input: InputGpsLost})
	effects := mustStep(t, m, Signal{Input: InputBatteryCritical})
	got := kinds(effects)
	if len(got) != 2 || got[0] != EffectCancelRecoveryTimer || got[1] != EffectOpenPrompt {
		t.Fatalf("effects = %v", got)
	}
}

func TestModeChangedReassertsWithoutPrompt(t *testing.T) {
	m := newMachine(nil)
	effects := mustStep(t, m, Signal{Input: InputModeChanged, ExpectedMode: "GUIDED"})
	if len(effects) != 1 || effects[0].Kind != EffectSetMode || effects[0].Mode != "GUIDED" {
		t.Fatalf("effects = %+v", effects)
	}
	if m.State() != Normal {
		t.Errorf("state = %s", m.State())
	}
}

func TestOverrideSuppressesDispatch(t *testing.T) {
	override := true
	m := newMachine(&override)

	effects := mustStep(t, m, Signal{Input: InputConnectionLost})
	if _, ok := hasKind(effects, EffectDispatch); ok {
		t.Fatal("dispatched under override")
	}
	if _, ok := hasKind(effects, EffectSuppressed); !ok {
		t.Fatal("suppression not reported")
	}
	if m.State() != AutoAction || !m.Suppressed() {
		t.Fatalf("state = %s suppressed=%v", m.Label(), m.Suppressed())
	}

	// Confirmations for an action never sent are ignored.
	mustStep(t, m, Signal{Input: InputActionConfirmed, Target: TargetRtl})
	if m.State() != AutoAction {
		t.Fatalf("state = %s", m.State())
	}

	override = false
	effects = mustStep(t, m, Signal{Input: InputOverrideReleased})
	if d, ok := hasKind(effects, EffectDispatch); !ok || d.Target != TargetRtl {
		t.Fatalf("effects = %v", kinds(effects))
	}
	if m.Suppressed() {
		t.Error("still suppressed after release")
	}
}

func TestActionFailureFallsBackOnce(t *testing.T) {
	m := newMachine(nil)
	mustStep(t, m, Signal{Input: InputConnectionLost})

	effects := mustStep(t, m, Signal{Input: InputActionFailed, Target: TargetRtl, Reason: "rejected"})
	fail, ok := hasKind(effects, EffectActionFailed)
	if !ok || fail.Target != TargetLand {
		t.Fatalf("effects = %+v", effects)
	}
	if d, ok := hasKind(effects, EffectDispatch); !ok || d.Target != TargetLand {
		t.Fatalf("no LAND fallback: %v", kinds(effects))
	}

	effects = mustStep(t, m, Signal{Input: InputActionFailed, Target: TargetLand, Reason: "rejected"})
	if _, ok := hasKind(effects, EffectDispatch); ok {
		t.Fatal("LAND retried")
	}
	if fail, ok := hasKind(effects, EffectActionFailed); !ok || fail.Target != TargetNone {
		t.Fatalf("effects = %+v", effects)
	}
	if !m.Exhausted() {
		t.Error("machine should be exhausted")
	}
}

func TestConfirmedActionSettles(t *testing.T) {
	m := newMachine(nil)
	mustStep(t, m, Signal{Input: InputConnectionLost})

	// A confirmation for a different action does not settle.
	mustStep(t, m, Signal{Input: InputActionConfirmed, Target: TargetLand})
	if m.State() != AutoAction {
		t.Fatalf("state = %s", m.State())
	}

	effects := mustStep(t, m, Signal{Input: InputActionConfirmed, Target: TargetRtl})
	if _, ok := hasKind(effects, EffectSettled); !ok || m.State() != Resolved {
		t.Fatalf("state = %s effects = %v", m.State(), kinds(effects))
	}
	mustStep(t, m, Signal{Input: InputAcknowledge})
	if m.State() != Normal || m.Target() != TargetNone {
		t.Fatalf("state = %s", m.Label())
	}
}

func TestTerminateCancelsEverything(t *testing.T) {
	m := newMachine(nil)
	mustStep(t, m, Signal{Input: InputBatteryCritical})
	id := m.PromptID()

	effects := mustStep(t, m, Signal{Input: InputTerminate})
	if len(effects) != 1 || effects[0].Kind != EffectCancelPrompt || effects[0].PromptID != id {
		t.Fatalf("effects = %+v", effects)
	}
	if m.State() != Normal || m.PromptID() != "" {
		t.Fatalf("state = %s prompt = %q", m.State(), m.PromptID())
	}
}

func TestParseTarget(t *testing.T) {
	if got, err := ParseTarget(" rtl "); err != nil || got != TargetRtl {
		t.Errorf("ParseTarget(rtl) = %v, %v", got, err)
	}
	if got, err := ParseTarget("Land"); err != nil || got != TargetLand {
		t.Errorf("ParseTarget(Land) = %v, %v", got, err)
	}
	if _, err := ParseTarget("LOITER"); err == nil {
		t.Error("expected error for LOITER")
	}
}
