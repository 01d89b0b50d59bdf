package ctl

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

type summaryRow struct {
	MissionID           string    `json:"mission_id"`
	Name                string    `json:"name"`
	Outcome             string    `json:"outcome"`
	Reason              string    `json:"reason"`
	FinalState          string    `json:"final_state"`
	EndedAt             time.Time `json:"ended_at"`
	DurationSeconds     float64   `json:"duration_seconds"`
	WaypointsVisited    int       `json:"waypoints_visited"`
	WaypointsTotal      int       `json:"waypoints_total"`
	MinBatteryObserved  float64   `json:"min_battery_observed"`
	TelemetryPointCount int       `json:"telemetry_point_count"`
}

// Summaries lists recent mission summaries, newest first.
func Summaries(baseURL string, limit int, jsonOutput bool) error {
	path := "/api/summaries"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var resp struct {
		Summaries []summaryRow `json:"summaries"`
	}
	if err := getJSON(baseURL, path, &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Println()
	fmt.Println(header("  MISSION SUMMARIES"))
	fmt.Println(rule(78))
	if len(resp.Summaries) == 0 {
		fmt.Println(colorize(dim, "  no missions recorded"))
		fmt.Println()
		return nil
	}
	for _, s := range resp.Summaries {
		outcome := s.Outcome
		switch outcome {
		case "completed":
			outcome = colorize(green, padRight(outcome, 10))
		case "aborted":
			outcome = colorize(red, padRight(outcome, 10))
		default:
			outcome = colorize(yellow, padRight(outcome, 10))
		}
		name := s.Name
		if name == "" {
			name = s.MissionID
		}
		if len(name) > 24 {
			name = name[:24]
		}
		fmt.Printf("  %s %s %2d/%-2d  %8s  bat %3.0f%%  %s\n",
			padRight(name, 24),
			outcome,
			s.WaypointsVisited,
			s.WaypointsTotal,
			formatDuration(time.Duration(s.DurationSeconds*float64(time.Second))),
			s.MinBatteryObserved,
			colorize(dim, humanize.Time(s.EndedAt)),
		)
		if s.Reason != "" {
			fmt.Printf("  %s\n", colorize(dim, strings.Repeat(" ", 25)+s.Reason))
		}
	}
	fmt.Println()
	return nil
}
