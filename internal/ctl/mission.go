package ctl

import (
	"fmt"
	"strings"
	"time"

	"github.com/large-farva/flight-arbiter/internal/config"
	"github.com/large-farva/flight-arbiter/internal/nav"
)

// MissionOptions controls mission run and validate.
type MissionOptions struct {
	PlanPath string
	Name     string // overrides the plan's name when set
	JSON     bool
}

// MissionRun loads a YAML plan and starts it as a waypoint mission. The
// reply arrives once the mission is airborne or has failed preflight.
func MissionRun(baseURL string, opts MissionOptions) error {
	plan, err := nav.LoadPlan(opts.PlanPath)
	if err != nil {
		return err
	}
	name := plan.Name
	if opts.Name != "" {
		name = opts.Name
	}
	params := map[string]any{
		"name":      name,
		"waypoints": plan.Waypoints,
	}
	if plan.TakeoffAltitude > 0 {
		params["takeoff_altitude"] = plan.TakeoffAltitude
	}
	return Command(baseURL, "execute_waypoint_mission", params, opts.JSON)
}

// MissionValidate checks a plan without flying it. Merge and altitude limits
// come from the daemon's configuration when it is reachable, and from the
// built-in defaults otherwise.
func MissionValidate(baseURL string, opts MissionOptions) error {
	plan, err := nav.LoadPlan(opts.PlanPath)
	if err != nil {
		return err
	}

	cfg := config.Default()
	source := "built-in defaults"
	if err := getJSON(baseURL, "/api/config", &cfg); err == nil {
		source = strings.TrimRight(baseURL, "/")
	} else {
		cfg = config.Default()
	}

	mergeOpts := nav.MergeOptions{
		MergeThresholdM: cfg.Navigation.MergeThresholdM,
		DefaultAltitude: cfg.Navigation.DefaultAltitudeM,
		MinAltitude:     cfg.Navigation.MinAltitudeM,
		MaxAltitude:     cfg.Navigation.MaxAltitudeM,
	}
	wps, err := nav.ValidateAndMerge(plan.Waypoints, mergeOpts)
	if err != nil {
		return err
	}
	stats := nav.ComputeStats(wps, nil, cfg.Navigation.CruiseSpeedMPS)

	if opts.JSON {
		return printJSON(map[string]any{
			"name":      plan.Name,
			"limits":    source,
			"merged":    len(plan.Waypoints) - len(wps),
			"waypoints": wps,
			"stats":     stats,
		})
	}

	fmt.Println()
	fmt.Println(header("  PLAN " + opts.PlanPath))
	fmt.Println(rule(44))
	if plan.Name != "" {
		field("Name", plan.Name)
	}
	field("Limits", colorize(dim, source))
	field("Waypoints", fmt.Sprintf("%d (%d merged away)", len(wps), len(plan.Waypoints)-len(wps)))
	field("Distance", formatDistance(stats.TotalDistanceM))
	field("Est. time", formatDuration(time.Duration(stats.EstimatedFlightTimeS*float64(time.Second))))
	field("Altitude", fmt.Sprintf("%.1f .. %.1f m", stats.MinAltitudeM, stats.MaxAltitudeM))
	if b := stats.Bounds; b != nil {
		field("Center", b.Center())
	}
	fmt.Printf("  %s\n", colorize(green, "plan is valid"))
	fmt.Println()
	return nil
}
