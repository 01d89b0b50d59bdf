package safety

import (
	"math"
	"testing"
	"time"

	"github.com/large-farva/flight-arbiter/internal/telemetry"
)

func thresholds() Thresholds {
	return Thresholds{
		CriticalBatteryPercent: 25,
		MinFixType:             3,
		MinSatellites:          6,
		ConnectionTimeout:      3 * time.Second,
	}
}

func healthy() telemetry.Snapshot {
	return telemetry.Snapshot{
		Lat: 28.4595, Lon: 77.0266, AltRel: 20,
		BatteryLevel:      80,
		GPSFixType:        3,
		SatellitesVisible: 8,
		Mode:              "GUIDED",
	}
}

func kinds(evs []Event) []string {
	var out []string
	for _, e := range evs {
		s := e.Kind.String()
		if e.Cleared {
			s += "-cleared"
		}
		out = append(out, s)
	}
	return out
}

func TestHealthySnapshotEmitsNothing(t *testing.T) {
	m := NewMonitor(thresholds())
	if evs := m.Evaluate(healthy(), "GUIDED", 0, time.Now()); len(evs) != 0 {
		t.Fatalf("events = %v", kinds(evs))
	}
}

func TestBatteryCriticalIsEdgeTriggered(t *testing.T) {
	m := NewMonitor(thresholds())
	now := time.Unix(0, 0)

	s := healthy()
	s.BatteryLevel = 24
	evs := m.Evaluate(s, "GUIDED", 0, now)
	if len(evs) != 1 || evs[0].Kind != BatteryCritical || evs[0].Cleared {
		t.Fatalf("first low sample: %v", kinds(evs))
	}
	if evs[0].Severity != Critical || !evs[0].TriggeredAt.Equal(now) {
		t.Errorf("event = %+v", evs[0])
	}

	// Still low: suppressed.
	for i := 0; i < 5; i++ {
		s.BatteryLevel = 23 - float64(i)
		if evs := m.Evaluate(s, "GUIDED", 0, now); len(evs) != 0 {
			t.Fatalf("refired while active: %v", kinds(evs))
		}
	}

	// Clears, then re-arms.
	s.BatteryLevel = 40
	if evs := m.Evaluate(s, "GUIDED", 0, now); len(evs) != 1 || !evs[0].Cleared {
		t.Fatalf("clear edge: %v", kinds(evs))
	}
	s.BatteryLevel = 20
	if evs := m.Evaluate(s, "GUIDED", 0, now); len(evs) != 1 || evs[0].Kind != BatteryCritical || evs[0].Cleared {
		t.Fatalf("re-armed edge: %v", kinds(evs))
	}
}

func TestMissingBatteryNeverTrips(t *testing.T) {
	m := NewMonitor(thresholds())
	s := healthy()
	s.BatteryLevel = math.NaN()
	if evs := m.Evaluate(s, "GUIDED", 0, time.Now()); len(evs) != 0 {
		t.Fatalf("events = %v", kinds(evs))
	}
}

func TestGpsLost(t *testing.T) {
	tests := []struct {
		name string
		fix  int
		sats int
		want bool
	}{
		{"2d fix", 2, 10, true},
		{"few satellites", 3, 4, true},
		{"good", 3, 6, false},
		{"rtk", 6, 12, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(thresholds())
			s := healthy()
			s.GPSFixType, s.SatellitesVisible = tt.fix, tt.sats
			evs := m.Evaluate(s, "GUIDED", 0, time.Now())
			got := len(evs) == 1 && evs[0].Kind == GpsLost
			if got != tt.want {
				t.Errorf("events = %v, want GpsLost=%v", kinds(evs), tt.want)
			}
		})
	}
}

func TestModeChangedOnlyWhenExpected(t *testing.T) {
	m := NewMonitor(thresholds())
	s := healthy()
	s.Mode = "STABILIZE"

	if evs := m.Evaluate(s, "", 0, time.Now()); len(evs) != 0 {
		t.Fatalf("no mode expected, got %v", kinds(evs))
	}
	evs := m.Evaluate(s, "GUIDED", 0, time.Now())
	if len(evs) != 1 || evs[0].Kind != ModeChanged {
		t.Fatalf("events = %v", kinds(evs))
	}
	s.Mode = "guided"
	if evs := m.Evaluate(s, "GUIDED", 0, time.Now()); len(evs) != 1 || !evs[0].Cleared {
		t.Fatalf("mode comparison should be case-insensitive, got %v", kinds(evs))
	}
}

func TestConnectionLostFromWatchdog(t *testing.T) {
	m := NewMonitor(thresholds())
	now := time.Unix(10, 0)

	if evs := m.CheckLink(2*time.Second, now); len(evs) != 0 {
		t.Fatalf("within timeout: %v", kinds(evs))
	}
	evs := m.CheckLink(3100*time.Millisecond, now)
	if len(evs) != 1 || evs[0].Kind != ConnectionLost {
		t.Fatalf("events = %v", kinds(evs))
	}
	if evs := m.CheckLink(10*time.Second, now); len(evs) != 0 {
		t.Fatalf("refired: %v", kinds(evs))
	}
	if !m.Active(ConnectionLost) {
		t.Error("rule should be latched")
	}

	// A fresh snapshot clears the link condition.
	evs = m.Evaluate(healthy(), "GUIDED", 0, now)
	if len(evs) != 1 || evs[0].Kind != ConnectionLost || !evs[0].Cleared {
		t.Fatalf("events = %v", kinds(evs))
	}
}

func TestEventsInRuleOrder(t *testing.T) {
	m := NewMonitor(thresholds())
	s := healthy()
	s.BatteryLevel = 10
	s.GPSFixType = 1
	s.Mode = "LAND"

	got := kinds(m.Evaluate(s, "GUIDED", 5*time.Second, time.Now()))
	want := []string{"BatteryCritical", "GpsLost", "ModeChanged", "ConnectionLost"}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}

	m.Reset()
	if m.Active(BatteryCritical) {
		t.Error("reset should drop latches")
	}
}
