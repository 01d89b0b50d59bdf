package nav

import (
	"fmt"
	"math"
)

// Input is a raw waypoint as supplied by the operator. A nil Altitude means
// the operator omitted it; a zero Order means "use input position".
type Input struct {
	Lat      float64  `json:"lat"                yaml:"lat"`
	Lon      float64  `json:"lon"                yaml:"lon"`
	Altitude *float64 `json:"altitude,omitempty" yaml:"altitude,omitempty"`
	Order    int      `json:"order,omitempty"    yaml:"order,omitempty"`
}

// MergeOptions controls ValidateAndMerge.
type MergeOptions struct {
	MergeThresholdM float64
	DefaultAltitude float64
	MinAltitude     float64
	MaxAltitude     float64
}

func DefaultMergeOptions() MergeOptions {
	return MergeOptions{
		MergeThresholdM: 2.0,
		DefaultAltitude: 20.0,
		MinAltitude:     0.5,
		MaxAltitude:     50.0,
	}
}

// ValidationError reports a malformed plan. Index is -1 when the problem is
// with the plan as a whole.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return "invalid waypoints: " + e.Reason
	}
	return fmt.Sprintf("invalid waypoint %d: %s %s", e.Index+1, e.Field, e.Reason)
}

// ValidateAndMerge validates inputs in order and returns the retained
// waypoints. A waypoint closer than MergeThresholdM to the previously
// retained one is dropped. Altitudes are clamped and defaulted.
func ValidateAndMerge(inputs []Input, opts MergeOptions) ([]Waypoint, error) {
	out := make([]Waypoint, 0, len(inputs))
	lastOrder := 0

	for i, in := range inputs {
		if err := checkCoordinate(i, "lat", in.Lat, 90); err != nil {
			return nil, err
		}
		if err := checkCoordinate(i, "lon", in.Lon, 180); err != nil {
			return nil, err
		}

		order := in.Order
		if order == 0 {
			order = i + 1
		}
		if order <= lastOrder {
			return nil, &ValidationError{Index: i, Field: "order", Reason: fmt.Sprintf("%d is not greater than %d", order, lastOrder)}
		}
		lastOrder = order

		alt := opts.DefaultAltitude
		if in.Altitude != nil {
			alt = *in.Altitude
			if math.IsNaN(alt) || math.IsInf(alt, 0) {
				return nil, &ValidationError{Index: i, Field: "altitude", Reason: "is not a finite number"}
			}
		}
		alt = math.Min(opts.MaxAltitude, math.Max(opts.MinAltitude, alt))

		wp := Waypoint{Lat: in.Lat, Lon: in.Lon, Altitude: alt, Order: order}
		if n := len(out); n > 0 && DistanceMeters(out[n-1].Point(), wp.Point()) < opts.MergeThresholdM {
			continue
		}
		out = append(out, wp)
	}

	if len(out) == 0 {
		return nil, &ValidationError{Index: -1, Reason: "no waypoints"}
	}
	return out, nil
}

func checkCoordinate(i int, field string, v, limit float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &ValidationError{Index: i, Field: field, Reason: "is not a finite number"}
	}
	if v < -limit || v > limit {
		return &ValidationError{Index: i, Field: field, Reason: fmt.Sprintf("%.6f is outside [-%g, %g]", v, limit, limit)}
	}
	return nil
}
