package mission

import (
	"context"
	"math"
	"time"

	"github.com/large-farva/flight-arbiter/internal/nav"
)

// Outcomes recorded in a Summary.
const (
	OutcomeCompleted       = "completed"
	OutcomeStopped         = "stopped"
	OutcomeEmergency       = "emergency"
	OutcomeAborted         = "aborted"
	OutcomeTakeoffCanceled = "takeoff_canceled"
	OutcomeOperator        = "operator"
	OutcomeWaypointTimeout = "waypoint_timeout"
)

// Summary is written once when a mission reaches a terminal state.
type Summary struct {
	MissionID           string    `json:"mission_id"`
	Name                string    `json:"name,omitempty"`
	Outcome             string    `json:"outcome"`
	Reason              string    `json:"reason,omitempty"`
	FinalState          State     `json:"final_state"`
	StartedAt           time.Time `json:"started_at"`
	EndedAt             time.Time `json:"ended_at"`
	DurationSeconds     float64   `json:"duration_seconds"`
	WaypointsVisited    int       `json:"waypoints_visited"`
	WaypointsTotal      int       `json:"waypoints_total"`
	MinBatteryObserved  float64   `json:"min_battery_observed"`
	TelemetryPointCount int       `json:"telemetry_point_count"`
}

// SummaryStore persists summaries. A nil store keeps them in memory only.
type SummaryStore interface {
	SaveSummary(ctx context.Context, s Summary) error
}

// record is the controller's private view of the mission in flight.
type record struct {
	id         string
	name       string
	state      State
	plan       []nav.Waypoint
	takeoffAlt float64
	stats      nav.Stats
	index      int
	visited    int

	startedAt time.Time
	points    int
	minBatt   float64

	outcome string
	reason  string

	// leg is the per-waypoint (or takeoff) timeout; landing waits for
	// touchdown before the controller disarms.
	leg      *timerHandle
	landing  *timerHandle
	disarmed bool
}

func newRecord(id, name string, plan []nav.Waypoint, takeoffAlt float64, now time.Time) *record {
	return &record{
		id:         id,
		name:       name,
		state:      Idle,
		plan:       plan,
		takeoffAlt: takeoffAlt,
		startedAt:  now,
		minBatt:    math.NaN(),
	}
}

func (r *record) observe(level float64) {
	r.points++
	if math.IsNaN(level) {
		return
	}
	if math.IsNaN(r.minBatt) || level < r.minBatt {
		r.minBatt = level
	}
}

func (r *record) current() (nav.Waypoint, bool) {
	if r.index < 0 || r.index >= len(r.plan) {
		return nav.Waypoint{}, false
	}
	return r.plan[r.index], true
}

// setOutcome keeps the first outcome recorded; later causes (the RTL after a
// stop, say) do not overwrite why the mission ended.
func (r *record) setOutcome(outcome, reason string) {
	if r.outcome != "" {
		return
	}
	r.outcome = outcome
	r.reason = reason
}

func (r *record) summary(now time.Time) Summary {
	minBatt := r.minBatt
	if math.IsNaN(minBatt) {
		minBatt = 0
	}
	outcome := r.outcome
	if outcome == "" {
		outcome = OutcomeCompleted
		if r.state == Aborted {
			outcome = OutcomeAborted
		}
	}
	return Summary{
		MissionID:           r.id,
		Name:                r.name,
		Outcome:             outcome,
		Reason:              r.reason,
		FinalState:          r.state,
		StartedAt:           r.startedAt,
		EndedAt:             now,
		DurationSeconds:     now.Sub(r.startedAt).Seconds(),
		WaypointsVisited:    r.visited,
		WaypointsTotal:      len(r.plan),
		MinBatteryObserved:  minBatt,
		TelemetryPointCount: r.points,
	}
}
