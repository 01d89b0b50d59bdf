// Package telemetry normalizes raw vehicle frames into immutable snapshots and
// defines the typed events that flow over the WebSocket connection between
// arbiterd and its clients.
package telemetry

import "time"

// EventType identifies the kind of WebSocket event.
type EventType string

const (
	EventHeartbeat        EventType = "heartbeat"
	EventState            EventType = "state"
	EventArbiter          EventType = "arbiter"
	EventTelemetry        EventType = "telemetry"
	EventFailsafe         EventType = "failsafe"
	EventWaypointReached  EventType = "waypoint_reached"
	EventEmergency        EventType = "battery_emergency"
	EventEmergencyPrompt  EventType = "battery_emergency_prompt"
	EventCountdown        EventType = "battery_emergency_countdown"
	EventEmergencyAction  EventType = "battery_emergency_action"
	EventActuationFailure EventType = "actuation_failure"
	EventMissionSummary   EventType = "mission_summary"
	EventLink             EventType = "link"
	EventLog              EventType = "log"
)

// Event is the base envelope shared by every event type.
type Event struct {
	Type EventType `json:"type"`
	TS   string    `json:"ts"`
}

// NowTS returns the current UTC time as an RFC 3339 nano string, matching the
// timestamp format used across all events.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NewEvent stamps an envelope with the current time.
func NewEvent(t EventType) Event {
	return Event{Type: t, TS: NowTS()}
}

// Heartbeat is sent periodically so clients can detect connectivity and
// monitor daemon uptime.
type Heartbeat struct {
	Event
	State         string `json:"state"`
	Arbiter       string `json:"arbiter"`
	Link          string `json:"link"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StateTransition is emitted whenever the mission or the arbiter changes
// state. Component is "mission" or "arbiter".
type StateTransition struct {
	Event
	Component string `json:"component"`
	From      string `json:"from"`
	To        string `json:"to"`
	Reason    string `json:"reason,omitempty"`
}

// TelemetryUpdate is a rate-limited copy of the latest snapshot.
type TelemetryUpdate struct {
	Event
	Snapshot Snapshot `json:"snapshot"`
}

type Failsafe struct {
	Event
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	Cleared  bool   `json:"cleared,omitempty"`
}

type WaypointReached struct {
	Event
	Index     int     `json:"index"`
	Order     int     `json:"order"`
	Remaining int     `json:"remaining"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
}

// BatteryEmergency opens an operator decision window.
type BatteryEmergency struct {
	Event
	PromptID       string   `json:"prompt_id"`
	BatteryLevel   float64  `json:"battery_level"`
	DistanceToHome *float64 `json:"distance_to_home"`
	Altitude       *float64 `json:"altitude"`
	GPSFix         int      `json:"gps_fix"`
	Recommendation string   `json:"recommendation"`
	Reason         string   `json:"reason"`
	TimeoutSeconds float64  `json:"timeout_seconds"`
}

type EmergencyPrompt struct {
	Event
	PromptID string `json:"prompt_id"`
}

type Countdown struct {
	Event
	PromptID         string  `json:"prompt_id"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// EmergencyAction reports the action taken for a prompt. Action is RTL, LAND,
// RTL_TIMEOUT or LAND_TIMEOUT.
type EmergencyAction struct {
	Event
	PromptID string `json:"prompt_id,omitempty"`
	Action   string `json:"action"`
}

type ActuationFailure struct {
	Event
	Command  string `json:"command"`
	Detail   string `json:"detail"`
	Fallback string `json:"fallback,omitempty"`
}

type LinkStatus struct {
	Event
	Connected bool   `json:"connected"`
	Detail    string `json:"detail,omitempty"`
}

// LogLine carries a human-readable log message at a severity level.
type LogLine struct {
	Event
	Level     string `json:"level"`
	Component string `json:"component,omitempty"`
	Message   string `json:"message"`
}
