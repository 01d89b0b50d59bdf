package mission

import (
	"errors"
	"fmt"
)

var (
	// ErrCommandConflict rejects an actuation request that collides with the
	// outstanding one. Nothing is queued and the mission state is unchanged.
	ErrCommandConflict = errors.New("command conflict")
	ErrNoMission       = errors.New("no active waypoint mission")
	ErrNoPrompt        = errors.New("no active battery emergency")
	ErrPromptMismatch  = errors.New("prompt id mismatch")
	ErrPromptResolved  = errors.New("prompt already resolved")
)

// State is the lifecycle of one waypoint mission.
type State int

const (
	Idle State = iota
	Preflight
	Takeoff
	Navigating
	RtlInProgress
	Landing
	Aborted
	Complete

	numStates
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Preflight:
		return "PREFLIGHT"
	case Takeoff:
		return "TAKEOFF"
	case Navigating:
		return "NAVIGATING"
	case RtlInProgress:
		return "RTL_IN_PROGRESS"
	case Landing:
		return "LANDING"
	case Aborted:
		return "ABORTED"
	case Complete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st := Idle; st < numStates; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown mission state %q", b)
}

// Terminal reports whether the mission has ended.
func (s State) Terminal() bool { return s == Aborted || s == Complete }

// Airborne reports whether the vehicle is expected to be flying the mission.
func (s State) Airborne() bool {
	return s == Takeoff || s == Navigating || s == RtlInProgress || s == Landing
}

// legal lists every transition the controller may make. Anything missing is a
// programming error and is refused.
var legal = [numStates][numStates]bool{
	Idle:          {Preflight: true, Aborted: true},
	Preflight:     {Takeoff: true, Aborted: true},
	Takeoff:       {Navigating: true, RtlInProgress: true, Landing: true, Aborted: true},
	Navigating:    {RtlInProgress: true, Landing: true, Aborted: true},
	RtlInProgress: {Landing: true, Aborted: true},
	Landing:       {Complete: true, Aborted: true},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to State) bool {
	if from < 0 || from >= numStates || to < 0 || to >= numStates {
		return false
	}
	return legal[from][to]
}

// PreflightError names the first gate a mission failed before takeoff.
type PreflightError struct {
	Reason string
	Detail string
}

const (
	ReasonNotArmable      = "not_armable"
	ReasonInsufficientGPS = "insufficient_gps_fix"
	ReasonBatteryTooLow   = "battery_too_low"
	ReasonNoWaypoints     = "no_waypoints"
	ReasonNoTelemetry     = "no_telemetry"
)

func (e *PreflightError) Error() string {
	if e.Detail == "" {
		return "preflight failed: " + e.Reason
	}
	return fmt.Sprintf("preflight failed: %s (%s)", e.Reason, e.Detail)
}
