package arbiter

import (
	"math"
	"time"

	"github.com/large-farva/flight-arbiter/internal/telemetry"
)

// Params tunes the recommendation.
type Params struct {
	MinSpeedFloorMPS     float64
	SafetyMarginFactor   float64
	FullBatteryEndurance time.Duration
	ReservePercent       float64
	NearHomeRadiusM      float64
	MinFixType           int
	MinSatellites        int
}

// Recommendation is the action the arbiter would take on its own, with the
// figures that led to it.
type Recommendation struct {
	Action                 Target   `json:"action"`
	Reason                 string   `json:"reason"`
	DistanceToHome         *float64 `json:"distance_to_home,omitempty"`
	EtaHomeSeconds         float64  `json:"eta_home_seconds,omitempty"`
	RemainingFlightSeconds float64  `json:"remaining_flight_seconds"`
}

// RemainingFlightSeconds estimates endurance left above the reserve, scaling
// linearly from the full-battery endurance.
func RemainingFlightSeconds(level float64, p Params) float64 {
	if math.IsNaN(level) {
		return 0
	}
	usable := math.Max(0, level-p.ReservePercent) / 100
	return usable * p.FullBatteryEndurance.Seconds()
}

// Recommend decides between RTL and LAND for a battery emergency.
func Recommend(s telemetry.Snapshot, p Params) Recommendation {
	rec := Recommendation{
		Action:                 TargetLand,
		RemainingFlightSeconds: RemainingFlightSeconds(s.BatteryLevel, p),
	}

	dist, ok := s.DistanceToHome()
	if !ok || !s.GPSValid(p.MinFixType, p.MinSatellites) {
		rec.Reason = "no reliable home reference"
		return rec
	}
	rec.DistanceToHome = &dist

	if dist < p.NearHomeRadiusM {
		rec.Reason = "already near home"
		return rec
	}

	speed := math.Max(s.Groundspeed, p.MinSpeedFloorMPS)
	if math.IsNaN(speed) {
		speed = p.MinSpeedFloorMPS
	}
	rec.EtaHomeSeconds = dist / speed

	if rec.EtaHomeSeconds*p.SafetyMarginFactor < rec.RemainingFlightSeconds {
		rec.Action = TargetRtl
		rec.Reason = "sufficient battery to return home"
		return rec
	}
	rec.Reason = "insufficient battery to return home"
	return rec
}
