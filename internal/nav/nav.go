// Package nav implements waypoint validation and merging, great-circle
// geometry, and arrival checks for the waypoint loop.
package nav

import (
	"fmt"
	"math"
)

// EarthRadiusM is the mean Earth radius used by the haversine formula.
const EarthRadiusM = 6371000.0

// Point is a latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether p is finite and inside the WGS84 ranges.
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lon) &&
		p.Lat >= -90 && p.Lat <= 90 &&
		p.Lon >= -180 && p.Lon <= 180
}

func (p Point) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lon)
}

// Position is a point with an altitude relative to home.
type Position struct {
	Point
	Alt float64 `json:"alt"`
}

// Waypoint is one merged plan entry. Waypoints are values and are never
// modified after ValidateAndMerge returns them.
type Waypoint struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Altitude float64 `json:"altitude"`
	Order    int     `json:"order"`
}

func (w Waypoint) Point() Point { return Point{Lat: w.Lat, Lon: w.Lon} }

// DistanceMeters returns the haversine great-circle distance between a and b.
func DistanceMeters(a, b Point) float64 {
	rlat1 := radians(a.Lat)
	rlat2 := radians(b.Lat)
	dlat := radians(b.Lat - a.Lat)
	dlon := radians(b.Lon - a.Lon)

	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	// Rounding can push h a hair past 1 for antipodal points.
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusM * math.Asin(math.Sqrt(h))
}

// BearingDegrees returns the initial bearing from a to b in [0, 360).
func BearingDegrees(a, b Point) float64 {
	rlat1 := radians(a.Lat)
	rlat2 := radians(b.Lat)
	dlon := radians(b.Lon - a.Lon)

	y := math.Sin(dlon) * math.Cos(rlat2)
	x := math.Cos(rlat1)*math.Sin(rlat2) - math.Sin(rlat1)*math.Cos(rlat2)*math.Cos(dlon)
	deg := degrees(math.Atan2(y, x))
	return math.Mod(deg+360, 360)
}

// HasArrived reports whether current is within the horizontal and vertical
// tolerances of target.
func HasArrived(current Position, target Waypoint, horizontalToleranceM, verticalToleranceM float64) bool {
	if math.IsNaN(current.Lat) || math.IsNaN(current.Lon) || math.IsNaN(current.Alt) {
		return false
	}
	if DistanceMeters(current.Point, target.Point()) > horizontalToleranceM {
		return false
	}
	return math.Abs(current.Alt-target.Altitude) <= verticalToleranceM
}

func radians(d float64) float64 { return d * math.Pi / 180 }
func degrees(r float64) float64 { return r * 180 / math.Pi }
