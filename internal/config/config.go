// Package config handles loading, defaulting, and validation of the flight
// arbiter TOML configuration file. Every section maps to a typed struct so the
// rest of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Logging    LoggingConfig    `toml:"logging"    json:"logging"`
	Server     ServerConfig     `toml:"server"     json:"server"`
	Link       LinkConfig       `toml:"link"       json:"link"`
	Navigation NavigationConfig `toml:"navigation" json:"navigation"`
	Safety     SafetyConfig     `toml:"safety"     json:"safety"`
	Emergency  EmergencyConfig  `toml:"emergency"  json:"emergency"`
	Storage    StorageConfig    `toml:"storage"    json:"storage"`
	Sim        SimConfig        `toml:"sim"        json:"sim"`
}

type LoggingConfig struct {
	Level      string `toml:"level"        json:"level"`
	Dir        string `toml:"dir"          json:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb"  json:"max_size_mb"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days"`
	MaxBackups int    `toml:"max_backups"  json:"max_backups"`
	Compress   bool   `toml:"compress"     json:"compress"`
}

type ServerConfig struct {
	Bind                     string `toml:"bind"                       json:"bind"`
	HeartbeatIntervalSeconds int    `toml:"heartbeat_interval_seconds" json:"heartbeat_interval_seconds"`
}

// LinkConfig selects the vehicle link. "sim" runs the built-in simulated
// vehicle; "websocket" dials a bridge process that speaks JSON frames.
type LinkConfig struct {
	Kind                  string  `toml:"kind"                    json:"kind"`
	URL                   string  `toml:"url"                     json:"url"`
	DialTimeoutSeconds    float64 `toml:"dial_timeout_seconds"    json:"dial_timeout_seconds"`
	CommandTimeoutSeconds float64 `toml:"command_timeout_seconds" json:"command_timeout_seconds"`
	AutoConnect           bool    `toml:"auto_connect"            json:"auto_connect"`
}

type NavigationConfig struct {
	MergeThresholdM        float64 `toml:"merge_threshold_m"         json:"merge_threshold_m"`
	DefaultAltitudeM       float64 `toml:"default_altitude_m"        json:"default_altitude_m"`
	MinAltitudeM           float64 `toml:"min_altitude_m"            json:"min_altitude_m"`
	MaxAltitudeM           float64 `toml:"max_altitude_m"            json:"max_altitude_m"`
	HorizontalToleranceM   float64 `toml:"horizontal_tolerance_m"    json:"horizontal_tolerance_m"`
	VerticalToleranceM     float64 `toml:"vertical_tolerance_m"      json:"vertical_tolerance_m"`
	WaypointTimeoutSeconds float64 `toml:"waypoint_timeout_seconds"  json:"waypoint_timeout_seconds"`
	TakeoffAltitudeRatio   float64 `toml:"takeoff_altitude_ratio"    json:"takeoff_altitude_ratio"`
	CruiseSpeedMPS         float64 `toml:"cruise_speed_mps"          json:"cruise_speed_mps"`
	LandingDetectAltitudeM float64 `toml:"landing_detect_altitude_m" json:"landing_detect_altitude_m"`
	LandingTimeoutSeconds  float64 `toml:"landing_timeout_seconds"   json:"landing_timeout_seconds"`
}

type SafetyConfig struct {
	CriticalBatteryPercent     float64 `toml:"critical_battery_percent"      json:"critical_battery_percent"`
	PreflightMinBatteryPercent float64 `toml:"preflight_min_battery_percent" json:"preflight_min_battery_percent"`
	MinFixType                 int     `toml:"min_fix_type"                  json:"min_fix_type"`
	MinSatellites              int     `toml:"min_satellites"                json:"min_satellites"`
	ExpectedMode               string  `toml:"expected_mode"                 json:"expected_mode"`
	ConnectionTimeoutSeconds   float64 `toml:"connection_timeout_seconds"    json:"connection_timeout_seconds"`
	HeartbeatWindow            int     `toml:"heartbeat_window"              json:"heartbeat_window"`
}

type EmergencyConfig struct {
	PromptTimeoutSeconds        float64 `toml:"prompt_timeout_seconds"         json:"prompt_timeout_seconds"`
	CountdownIntervalSeconds    float64 `toml:"countdown_interval_seconds"     json:"countdown_interval_seconds"`
	GPSRecoveryTimeoutSeconds   float64 `toml:"gps_recovery_timeout_seconds"   json:"gps_recovery_timeout_seconds"`
	MinSpeedFloorMPS            float64 `toml:"min_speed_floor_mps"            json:"min_speed_floor_mps"`
	SafetyMarginFactor          float64 `toml:"safety_margin_factor"           json:"safety_margin_factor"`
	FullBatteryEnduranceSeconds float64 `toml:"full_battery_endurance_seconds" json:"full_battery_endurance_seconds"`
	ReserveBatteryPercent       float64 `toml:"reserve_battery_percent"        json:"reserve_battery_percent"`
	NearHomeRadiusM             float64 `toml:"near_home_radius_m"             json:"near_home_radius_m"`
}

type StorageConfig struct {
	Path string `toml:"path" json:"path"`
}

type SimConfig struct {
	HomeLat               float64 `toml:"home_lat"                 json:"home_lat"`
	HomeLon               float64 `toml:"home_lon"                 json:"home_lon"`
	BatteryPercent        float64 `toml:"battery_percent"          json:"battery_percent"`
	BatteryDrainPerMinute float64 `toml:"battery_drain_per_minute" json:"battery_drain_per_minute"`
	Satellites            int     `toml:"satellites"               json:"satellites"`
	SpeedMPS              float64 `toml:"speed_mps"                json:"speed_mps"`
	ClimbRateMPS          float64 `toml:"climb_rate_mps"           json:"climb_rate_mps"`
	TickMS                int     `toml:"tick_ms"                  json:"tick_ms"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  64,
			MaxAgeDays: 14,
			MaxBackups: 8,
			Compress:   true,
		},
		Server: ServerConfig{
			Bind:                     "0.0.0.0:8080",
			HeartbeatIntervalSeconds: 10,
		},
		Link: LinkConfig{
			Kind:                  "sim",
			URL:                   "ws://127.0.0.1:5760/link",
			DialTimeoutSeconds:    5,
			CommandTimeoutSeconds: 10,
			AutoConnect:           true,
		},
		Navigation: NavigationConfig{
			MergeThresholdM:        2.0,
			DefaultAltitudeM:       20.0,
			MinAltitudeM:           0.5,
			MaxAltitudeM:           50.0,
			HorizontalToleranceM:   2.0,
			VerticalToleranceM:     1.0,
			WaypointTimeoutSeconds: 120,
			TakeoffAltitudeRatio:   0.95,
			CruiseSpeedMPS:         5.0,
			LandingDetectAltitudeM: 1.0,
			LandingTimeoutSeconds:  120,
		},
		Safety: SafetyConfig{
			CriticalBatteryPercent:     25,
			PreflightMinBatteryPercent: 30,
			MinFixType:                 3,
			MinSatellites:              6,
			ExpectedMode:               "GUIDED",
			ConnectionTimeoutSeconds:   3,
			HeartbeatWindow:            16,
		},
		Emergency: EmergencyConfig{
			PromptTimeoutSeconds:        10,
			CountdownIntervalSeconds:    1,
			GPSRecoveryTimeoutSeconds:   15,
			MinSpeedFloorMPS:            1.0,
			SafetyMarginFactor:          1.5,
			FullBatteryEnduranceSeconds: 1500,
			ReserveBatteryPercent:       10,
			NearHomeRadiusM:             10,
		},
		Sim: SimConfig{
			HomeLat:               28.4594,
			HomeLon:               77.0265,
			BatteryPercent:        87,
			BatteryDrainPerMinute: 2,
			Satellites:            8,
			SpeedMPS:              5,
			ClimbRateMPS:          2.5,
			TickMS:                200,
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("logging.level must be one of debug, info, warn, error")
	}
	if cfg.Server.Bind == "" {
		return errors.New("server.bind must not be empty")
	}
	if cfg.Server.HeartbeatIntervalSeconds < 1 {
		return errors.New("server.heartbeat_interval_seconds must be >= 1")
	}
	switch cfg.Link.Kind {
	case "sim":
	case "websocket":
		if cfg.Link.URL == "" {
			return errors.New("link.url must not be empty for the websocket link")
		}
	default:
		return errors.New("link.kind must be sim or websocket")
	}
	if cfg.Link.CommandTimeoutSeconds <= 0 {
		return errors.New("link.command_timeout_seconds must be > 0")
	}

	nav := cfg.Navigation
	if nav.MergeThresholdM < 0 {
		return errors.New("navigation.merge_threshold_m must be >= 0")
	}
	if nav.MinAltitudeM <= 0 || nav.MaxAltitudeM < nav.MinAltitudeM {
		return errors.New("navigation.min_altitude_m must be > 0 and <= navigation.max_altitude_m")
	}
	if nav.HorizontalToleranceM <= 0 || nav.VerticalToleranceM <= 0 {
		return errors.New("navigation tolerances must be > 0")
	}
	if nav.TakeoffAltitudeRatio <= 0 || nav.TakeoffAltitudeRatio > 1 {
		return errors.New("navigation.takeoff_altitude_ratio must be in (0, 1]")
	}
	if nav.WaypointTimeoutSeconds <= 0 {
		return errors.New("navigation.waypoint_timeout_seconds must be > 0")
	}

	s := cfg.Safety
	if s.CriticalBatteryPercent <= 0 || s.CriticalBatteryPercent >= 100 {
		return errors.New("safety.critical_battery_percent must be between 0 and 100")
	}
	if s.PreflightMinBatteryPercent < s.CriticalBatteryPercent {
		return errors.New("safety.preflight_min_battery_percent must be >= safety.critical_battery_percent")
	}
	if s.ConnectionTimeoutSeconds <= 0 {
		return errors.New("safety.connection_timeout_seconds must be > 0")
	}
	if s.HeartbeatWindow < 2 {
		return errors.New("safety.heartbeat_window must be >= 2")
	}
	if s.ExpectedMode == "" {
		return errors.New("safety.expected_mode must not be empty")
	}

	e := cfg.Emergency
	if e.PromptTimeoutSeconds <= 0 {
		return errors.New("emergency.prompt_timeout_seconds must be > 0")
	}
	if e.CountdownIntervalSeconds <= 0 {
		return errors.New("emergency.countdown_interval_seconds must be > 0")
	}
	if e.GPSRecoveryTimeoutSeconds <= 0 {
		return errors.New("emergency.gps_recovery_timeout_seconds must be > 0")
	}
	if e.MinSpeedFloorMPS <= 0 {
		return errors.New("emergency.min_speed_floor_mps must be > 0")
	}
	if e.SafetyMarginFactor < 1 {
		return errors.New("emergency.safety_margin_factor must be >= 1")
	}

	if cfg.Sim.TickMS < 10 {
		return errors.New("sim.tick_ms must be >= 10")
	}
	return nil
}

// Seconds converts a fractional seconds setting into a time.Duration.
func Seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
