package ctl

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string       `json:"name"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	LinkKind      string       `json:"link_kind"`
	WSClients     int          `json:"ws_clients"`
	Status        FlightStatus `json:"status"`
}

// FlightStatus is the controller snapshot nested in StatusResponse and
// returned by the status command.
type FlightStatus struct {
	Mission *struct {
		ID               string   `json:"mission_id"`
		Name             string   `json:"name"`
		State            string   `json:"state"`
		WaypointIndex    int      `json:"waypoint_index"`
		WaypointsTotal   int      `json:"waypoints_total"`
		WaypointsVisited int      `json:"waypoints_visited"`
		DistanceM        *float64 `json:"distance_to_waypoint_m"`
		Suspended        bool     `json:"suspended"`
		Outcome          string   `json:"outcome"`
		Reason           string   `json:"reason"`
	} `json:"mission"`
	Arbiter struct {
		State      string `json:"state"`
		Target     string `json:"target"`
		Reason     string `json:"reason"`
		Suppressed bool   `json:"suppressed"`
		Exhausted  bool   `json:"exhausted"`
	} `json:"arbiter"`
	Prompt *struct {
		ID               string  `json:"prompt_id"`
		RemainingSeconds float64 `json:"remaining_seconds"`
		Recommendation   struct {
			Action string `json:"action"`
			Reason string `json:"reason"`
		} `json:"recommendation"`
	} `json:"prompt"`
	Override bool `json:"override"`
	Link     struct {
		Connected           bool     `json:"connected"`
		HeartbeatAgeSeconds *float64 `json:"heartbeat_age_seconds"`
	} `json:"link"`
	Telemetry *struct {
		BatteryLevel      *float64 `json:"battery_level"`
		AltRel            *float64 `json:"alt_rel"`
		Groundspeed       *float64 `json:"groundspeed"`
		GPSFixType        int      `json:"gps_fix_type"`
		SatellitesVisible int      `json:"satellites_visible"`
		Mode              string   `json:"mode"`
		Armed             bool     `json:"armed"`
	} `json:"telemetry"`
	LastSummary *struct {
		MissionID string    `json:"mission_id"`
		Outcome   string    `json:"outcome"`
		Reason    string    `json:"reason"`
		EndedAt   time.Time `json:"ended_at"`
	} `json:"last_summary"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)
	fs := s.Status

	fmt.Println()
	fmt.Println(header("  FLIGHT ARBITER STATUS"))
	fmt.Println(rule(44))
	field("Daemon", s.Name+" "+s.Version)
	field("Uptime", uptime)
	field("Host", baseURL)
	field("Clients", s.WSClients)

	link := "down"
	if fs.Link.Connected {
		link = "up"
	}
	linkStr := colorize(stateColor(link), link) + colorize(dim, " ("+s.LinkKind+")")
	if age := fs.Link.HeartbeatAgeSeconds; age != nil {
		linkStr += colorize(dim, fmt.Sprintf(", last frame %.1fs ago", *age))
	}
	field("Link", linkStr)

	printFlightStatus(fs)
	fmt.Println()
	return nil
}

func printFlightStatus(fs FlightStatus) {
	if t := fs.Telemetry; t != nil {
		fmt.Println()
		fmt.Println(header("  VEHICLE"))
		if t.BatteryLevel != nil {
			field("Battery", fmt.Sprintf("[%s] %.0f%%", batteryBar(*t.BatteryLevel, 20, 25), *t.BatteryLevel))
		} else {
			field("Battery", "n/a")
		}
		if t.AltRel != nil {
			field("Altitude", fmt.Sprintf("%.1f m", *t.AltRel))
		}
		if t.Groundspeed != nil {
			field("Groundspeed", fmt.Sprintf("%.1f m/s", *t.Groundspeed))
		}
		field("GPS", fmt.Sprintf("fix %d, %d sats", t.GPSFixType, t.SatellitesVisible))
		armed := "disarmed"
		if t.Armed {
			armed = "armed"
		}
		field("Mode", t.Mode+", "+armed)
	}

	fmt.Println()
	fmt.Println(header("  MISSION"))
	if m := fs.Mission; m != nil {
		field("Mission", m.ID)
		if m.Name != "" {
			field("Name", m.Name)
		}
		field("State", colorize(stateColor(m.State), m.State))
		field("Waypoints", fmt.Sprintf("%d of %d visited, next #%d", m.WaypointsVisited, m.WaypointsTotal, m.WaypointIndex+1))
		if m.DistanceM != nil {
			field("To waypoint", formatDistance(*m.DistanceM))
		}
		if m.Suspended {
			field("Suspended", colorize(yellow, "yes"))
		}
		if m.Outcome != "" {
			field("Outcome", m.Outcome+" ("+m.Reason+")")
		}
	} else {
		field("State", colorize(stateColor("IDLE"), "IDLE"))
	}

	arb := colorize(stateColor(fs.Arbiter.State), fs.Arbiter.State)
	if fs.Arbiter.Target != "" {
		arb += " -> " + fs.Arbiter.Target
	}
	if fs.Arbiter.Reason != "" {
		arb += colorize(dim, " ("+fs.Arbiter.Reason+")")
	}
	field("Arbiter", arb)
	if fs.Override {
		field("Override", colorize(yellow, "manual override active"))
	}
	if fs.Arbiter.Exhausted {
		field("Fallbacks", colorize(red, "exhausted, operator must act"))
	}
	if p := fs.Prompt; p != nil {
		field("Prompt", fmt.Sprintf("%s  %s recommended, %.0fs left", p.ID, p.Recommendation.Action, p.RemainingSeconds))
	}
	if ls := fs.LastSummary; ls != nil {
		field("Last mission", fmt.Sprintf("%s %s %s", ls.MissionID, ls.Outcome, colorize(dim, humanize.Time(ls.EndedAt))))
	}
}
