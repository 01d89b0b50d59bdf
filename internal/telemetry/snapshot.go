package telemetry

import (
	"encoding/json"
	"math"
	"time"

	"github.com/large-farva/flight-arbiter/internal/nav"
)

// Snapshot is one normalized vehicle state sample. Snapshots are values:
// every new sample replaces the previous one wholesale and nothing mutates a
// snapshot after Normalize returns it.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Received  time.Time `json:"received"`

	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Alt    float64 `json:"alt"`
	AltRel float64 `json:"alt_rel"`

	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`

	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
	VZ float64 `json:"vz"`

	BatteryVoltage float64 `json:"battery_voltage"`
	BatteryCurrent float64 `json:"battery_current"`
	BatteryLevel   float64 `json:"battery_level"`

	GPSFixType        int `json:"gps_fix_type"`
	SatellitesVisible int `json:"satellites_visible"`

	Heading     float64 `json:"heading"`
	Groundspeed float64 `json:"groundspeed"`
	Armed       bool    `json:"armed"`
	Armable     bool    `json:"armable"`
	Mode        string  `json:"mode"`
	EKFOK       bool    `json:"ekf_ok"`

	Home      nav.Point `json:"home"`
	HomeValid bool      `json:"home_valid"`
}

// Position returns the vehicle position using relative altitude, the frame
// waypoints are expressed in.
func (s Snapshot) Position() nav.Position {
	return nav.Position{Point: nav.Point{Lat: s.Lat, Lon: s.Lon}, Alt: s.AltRel}
}

// PositionValid reports whether lat/lon carry a usable fix.
func (s Snapshot) PositionValid() bool {
	return s.Position().Valid() && !(s.Lat == 0 && s.Lon == 0)
}

// GPSValid reports whether the fix is good enough for navigation.
func (s Snapshot) GPSValid(minFixType, minSatellites int) bool {
	return s.PositionValid() && s.GPSFixType >= minFixType && s.SatellitesVisible >= minSatellites
}

// DistanceToHome returns the great-circle distance to home. ok is false when
// either the home reference or the current position is unusable.
func (s Snapshot) DistanceToHome() (meters float64, ok bool) {
	if !s.HomeValid || !s.PositionValid() {
		return 0, false
	}
	return nav.DistanceMeters(s.Position().Point, s.Home), true
}

// MarshalJSON writes NaN fields (missing data) as null.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"timestamp":          s.Timestamp,
		"received":           s.Received,
		"lat":                Nullable(s.Lat),
		"lon":                Nullable(s.Lon),
		"alt":                Nullable(s.Alt),
		"alt_rel":            Nullable(s.AltRel),
		"roll":               Nullable(s.Roll),
		"pitch":              Nullable(s.Pitch),
		"yaw":                Nullable(s.Yaw),
		"vx":                 Nullable(s.VX),
		"vy":                 Nullable(s.VY),
		"vz":                 Nullable(s.VZ),
		"battery_voltage":    Nullable(s.BatteryVoltage),
		"battery_current":    Nullable(s.BatteryCurrent),
		"battery_level":      Nullable(s.BatteryLevel),
		"gps_fix_type":       s.GPSFixType,
		"satellites_visible": s.SatellitesVisible,
		"heading":            Nullable(s.Heading),
		"groundspeed":        Nullable(s.Groundspeed),
		"armed":              s.Armed,
		"armable":            s.Armable,
		"mode":               s.Mode,
		"ekf_ok":             s.EKFOK,
		"home":               s.Home,
		"home_valid":         s.HomeValid,
	})
}

// Nullable returns nil for NaN and infinities so the value encodes as JSON
// null.
func Nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
