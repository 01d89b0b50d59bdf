package mission

import (
	"time"

	"github.com/large-farva/flight-arbiter/internal/nav"
	"github.com/large-farva/flight-arbiter/internal/telemetry"
)

// Status is a read-only view of the loop, rebuilt after every event.
type Status struct {
	Mission     *MissionStatus      `json:"mission"`
	Arbiter     ArbiterStatus       `json:"arbiter"`
	Prompt      *PromptStatus       `json:"prompt,omitempty"`
	Override    bool                `json:"override"`
	Link        LinkStatus          `json:"link"`
	Telemetry   *telemetry.Snapshot `json:"telemetry,omitempty"`
	Outstanding string              `json:"outstanding,omitempty"`
	LastSummary *Summary            `json:"last_summary,omitempty"`
}

type MissionStatus struct {
	ID               string        `json:"mission_id"`
	Name             string        `json:"name,omitempty"`
	State            State         `json:"state"`
	WaypointIndex    int           `json:"waypoint_index"`
	WaypointsTotal   int           `json:"waypoints_total"`
	WaypointsVisited int           `json:"waypoints_visited"`
	Current          *nav.Waypoint `json:"current_waypoint,omitempty"`
	DistanceM        *float64      `json:"distance_to_waypoint_m,omitempty"`
	BearingDeg       *float64      `json:"bearing_to_waypoint_deg,omitempty"`
	TakeoffAltitude  float64       `json:"takeoff_altitude"`
	Stats            nav.Stats     `json:"stats"`
	StartedAt        time.Time     `json:"started_at"`
	Suspended        bool          `json:"suspended"`
	Outcome          string        `json:"outcome,omitempty"`
	Reason           string        `json:"reason,omitempty"`
}

type ArbiterStatus struct {
	State      string `json:"state"`
	Target     string `json:"target,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Suppressed bool   `json:"suppressed,omitempty"`
	Exhausted  bool   `json:"exhausted,omitempty"`
}

type PromptStatus struct {
	*Prompt
	RemainingSeconds float64 `json:"remaining_seconds"`
}

type LinkStatus struct {
	Connected           bool     `json:"connected"`
	HeartbeatAgeSeconds *float64 `json:"heartbeat_age_seconds,omitempty"`
	FrameIntervalMS     int64    `json:"frame_interval_ms,omitempty"`
}

func (c *Controller) publish() {
	c.status.Store(c.snapshotStatus())
}

func (c *Controller) snapshotStatus() Status {
	now := c.clock.Now()
	st := Status{
		Override:    c.override,
		LastSummary: c.lastSummary,
		Arbiter: ArbiterStatus{
			State:      c.arb.State().String(),
			Reason:     c.arb.Reason(),
			Suppressed: c.arb.Suppressed(),
			Exhausted:  c.arb.Exhausted(),
		},
		Link: LinkStatus{
			Connected:       c.gw != nil && c.gw.Connected(),
			FrameIntervalMS: c.beats.MeanInterval().Milliseconds(),
		},
	}
	if t := c.arb.Target().String(); t != "NONE" {
		st.Arbiter.Target = t
	}
	if age, ok := c.beats.Age(now); ok {
		st.Link.HeartbeatAgeSeconds = telemetry.Nullable(age.Seconds())
	}
	if c.haveLatest {
		s := c.latest
		st.Telemetry = &s
	}
	if c.slot != nil {
		st.Outstanding = string(c.slot.cmd)
	}
	if c.prompt != nil {
		p := *c.prompt
		st.Prompt = &PromptStatus{Prompt: &p, RemainingSeconds: max(0, p.Deadline.Sub(now).Seconds())}
	}
	if c.m != nil {
		st.Mission = c.missionStatus()
	}
	return st
}

func (c *Controller) missionStatus() *MissionStatus {
	m := c.m
	ms := &MissionStatus{
		ID:               m.id,
		Name:             m.name,
		State:            m.state,
		WaypointIndex:    m.index,
		WaypointsTotal:   len(m.plan),
		WaypointsVisited: m.visited,
		TakeoffAltitude:  m.takeoffAlt,
		Stats:            m.stats,
		StartedAt:        m.startedAt,
		Suspended:        m.state.Airborne() && !m.state.Terminal() && !c.navigationActive(),
		Outcome:          m.outcome,
		Reason:           m.reason,
	}
	if wp, ok := m.current(); ok && !m.state.Terminal() {
		ms.Current = &wp
		if c.haveLatest && c.latest.PositionValid() {
			pos := c.latest.Position().Point
			d := nav.DistanceMeters(pos, wp.Point())
			b := nav.BearingDegrees(pos, wp.Point())
			ms.DistanceM, ms.BearingDeg = &d, &b
		}
	}
	return ms
}
