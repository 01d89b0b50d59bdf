// Package safety evaluates telemetry against the failsafe rules and reports
// edge-triggered events. It never actuates anything itself.
package safety

import (
	"fmt"
	"strings"
	"time"

	"github.com/large-farva/flight-arbiter/internal/telemetry"
)

// Kind identifies a failsafe rule.
type Kind int

const (
	BatteryCritical Kind = iota
	GpsLost
	ModeChanged
	ConnectionLost

	numKinds
)

func (k Kind) String() string {
	switch k {
	case BatteryCritical:
		return "BatteryCritical"
	case GpsLost:
		return "GpsLost"
	case ModeChanged:
		return "ModeChanged"
	case ConnectionLost:
		return "ConnectionLost"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

type Severity int

const (
	Warning Severity = iota
	Critical
)

func (s Severity) String() string {
	if s == Critical {
		return "critical"
	}
	return "warning"
}

var severities = [numKinds]Severity{
	BatteryCritical: Critical,
	GpsLost:         Warning,
	ModeChanged:     Warning,
	ConnectionLost:  Critical,
}

// Event is one edge of a failsafe condition. Cleared is false on the
// activation edge and true when the condition goes away again.
type Event struct {
	Kind        Kind
	Severity    Severity
	TriggeredAt time.Time
	Cleared     bool
	Detail      string
}

// Thresholds configures the rules.
type Thresholds struct {
	CriticalBatteryPercent float64
	MinFixType             int
	MinSatellites          int
	ConnectionTimeout      time.Duration
}

// Monitor latches each rule so an event fires once per activation and the
// rule re-arms only after the condition clears. It is not safe for
// concurrent use; the mission loop owns it.
type Monitor struct {
	th     Thresholds
	active [numKinds]bool
}

func NewMonitor(th Thresholds) *Monitor {
	return &Monitor{th: th}
}

// Evaluate runs every rule against a fresh snapshot. expectedMode is the
// flight mode the mission currently requires, or "" when no mode is expected
// (for example on the ground or under manual override). heartbeatAge is the
// link age observed when the snapshot was processed.
func (m *Monitor) Evaluate(s telemetry.Snapshot, expectedMode string, heartbeatAge time.Duration, now time.Time) []Event {
	var out []Event

	// NaN compares false, so a frame without a battery section never trips.
	out = m.edge(out, BatteryCritical, s.BatteryLevel < m.th.CriticalBatteryPercent, now,
		fmt.Sprintf("battery %.1f%% below %.0f%%", s.BatteryLevel, m.th.CriticalBatteryPercent))

	gpsBad := s.GPSFixType < m.th.MinFixType || s.SatellitesVisible < m.th.MinSatellites
	out = m.edge(out, GpsLost, gpsBad, now,
		fmt.Sprintf("fix type %d, %d satellites", s.GPSFixType, s.SatellitesVisible))

	modeBad := expectedMode != "" && !strings.EqualFold(s.Mode, expectedMode)
	out = m.edge(out, ModeChanged, modeBad, now,
		fmt.Sprintf("mode %s, expected %s", s.Mode, expectedMode))

	out = m.edge(out, ConnectionLost, heartbeatAge > m.th.ConnectionTimeout, now,
		fmt.Sprintf("heartbeat age %s", heartbeatAge.Round(time.Millisecond)))

	return out
}

// CheckLink evaluates only the connection rule. The mission loop calls it
// from the heartbeat watchdog when no snapshot has arrived.
func (m *Monitor) CheckLink(heartbeatAge time.Duration, now time.Time) []Event {
	return m.edge(nil, ConnectionLost, heartbeatAge > m.th.ConnectionTimeout, now,
		fmt.Sprintf("heartbeat age %s", heartbeatAge.Round(time.Millisecond)))
}

// ClearMode re-arms the mode rule without emitting anything. Used when the
// expected mode changes underneath an active condition.
func (m *Monitor) ClearMode() {
	m.active[ModeChanged] = false
}

// Active reports whether the rule is currently latched.
func (m *Monitor) Active(k Kind) bool {
	return m.active[k]
}

// Reset drops all latches, e.g. at the start of a new mission.
func (m *Monitor) Reset() {
	m.active = [numKinds]bool{}
}

func (m *Monitor) edge(out []Event, k Kind, cond bool, now time.Time, detail string) []Event {
	switch {
	case cond && !m.active[k]:
		m.active[k] = true
		return append(out, Event{Kind: k, Severity: severities[k], TriggeredAt: now, Detail: detail})
	case !cond && m.active[k]:
		m.active[k] = false
		return append(out, Event{Kind: k, Severity: severities[k], TriggeredAt: now, Cleared: true})
	}
	return out
}
