package ctl

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/large-farva/flight-arbiter/internal/config"
)

// Config fetches and displays the daemon's running configuration.
func Config(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var raw json.RawMessage
	if err := getJSON(baseURL, "/api/config", &raw); err != nil {
		return err
	}

	if jsonOutput {
		var v any
		_ = json.Unmarshal(raw, &v)
		return printJSON(v)
	}

	var cfg config.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(header("  DAEMON CONFIGURATION"))
	fmt.Println(rule(50))

	section := func(name string) {
		fmt.Printf("\n  %s\n", colorize(bold, "["+name+"]"))
	}
	kv := func(key string, val any) {
		fmt.Printf("    %-30s %v\n", colorize(dim, key+":"), val)
	}

	section("server")
	kv("bind", cfg.Server.Bind)
	kv("heartbeat_interval_seconds", cfg.Server.HeartbeatIntervalSeconds)

	section("logging")
	kv("level", cfg.Logging.Level)
	kv("dir", cfg.Logging.Dir)

	section("link")
	kv("kind", cfg.Link.Kind)
	if cfg.Link.Kind == "websocket" {
		kv("url", cfg.Link.URL)
	}
	kv("command_timeout_seconds", cfg.Link.CommandTimeoutSeconds)
	kv("auto_connect", cfg.Link.AutoConnect)

	section("navigation")
	kv("default_altitude_m", cfg.Navigation.DefaultAltitudeM)
	kv("altitude_range_m", fmt.Sprintf("%g .. %g", cfg.Navigation.MinAltitudeM, cfg.Navigation.MaxAltitudeM))
	kv("merge_threshold_m", cfg.Navigation.MergeThresholdM)
	kv("horizontal_tolerance_m", cfg.Navigation.HorizontalToleranceM)
	kv("vertical_tolerance_m", cfg.Navigation.VerticalToleranceM)
	kv("waypoint_timeout_seconds", cfg.Navigation.WaypointTimeoutSeconds)
	kv("cruise_speed_mps", cfg.Navigation.CruiseSpeedMPS)

	section("safety")
	kv("critical_battery_percent", cfg.Safety.CriticalBatteryPercent)
	kv("preflight_min_battery_percent", cfg.Safety.PreflightMinBatteryPercent)
	kv("min_fix_type", cfg.Safety.MinFixType)
	kv("min_satellites", cfg.Safety.MinSatellites)
	kv("expected_mode", cfg.Safety.ExpectedMode)
	kv("connection_timeout_seconds", cfg.Safety.ConnectionTimeoutSeconds)

	section("emergency")
	kv("prompt_timeout_seconds", cfg.Emergency.PromptTimeoutSeconds)
	kv("gps_recovery_timeout_seconds", cfg.Emergency.GPSRecoveryTimeoutSeconds)
	kv("near_home_radius_m", cfg.Emergency.NearHomeRadiusM)
	kv("safety_margin_factor", cfg.Emergency.SafetyMarginFactor)

	section("storage")
	kv("path", cfg.Storage.Path)

	fmt.Println()
	return nil
}
