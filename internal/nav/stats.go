package nav

import "math"

const climbRateMPS = 2.0

// Stats summarizes a merged plan for status display.
type Stats struct {
	Waypoints            int     `json:"waypoints"`
	TotalDistanceM       float64 `json:"total_distance_m"`
	EstimatedFlightTimeS float64 `json:"estimated_flight_time_s"`
	MinAltitudeM         float64 `json:"min_altitude_m"`
	MaxAltitudeM         float64 `json:"max_altitude_m"`
	Bounds               *Bounds `json:"bounds,omitempty"`
}

type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

func (b Bounds) Center() Point {
	return Point{Lat: (b.MinLat + b.MaxLat) / 2, Lon: (b.MinLon + b.MaxLon) / 2}
}

// ComputeStats walks the plan in order. When home is non-nil the legs from
// home to the first waypoint and from the last waypoint back home are
// included. Flight time assumes cruiseMPS horizontally and a 2 m/s climb.
func ComputeStats(wps []Waypoint, home *Point, cruiseMPS float64) Stats {
	s := Stats{Waypoints: len(wps)}
	if len(wps) == 0 {
		return s
	}

	b := Bounds{MinLat: wps[0].Lat, MaxLat: wps[0].Lat, MinLon: wps[0].Lon, MaxLon: wps[0].Lon}
	s.MinAltitudeM, s.MaxAltitudeM = wps[0].Altitude, wps[0].Altitude
	climb := 0.0

	for i, wp := range wps {
		b.MinLat = math.Min(b.MinLat, wp.Lat)
		b.MaxLat = math.Max(b.MaxLat, wp.Lat)
		b.MinLon = math.Min(b.MinLon, wp.Lon)
		b.MaxLon = math.Max(b.MaxLon, wp.Lon)
		s.MinAltitudeM = math.Min(s.MinAltitudeM, wp.Altitude)
		s.MaxAltitudeM = math.Max(s.MaxAltitudeM, wp.Altitude)
		if i > 0 {
			s.TotalDistanceM += DistanceMeters(wps[i-1].Point(), wp.Point())
			climb += math.Abs(wp.Altitude - wps[i-1].Altitude)
		}
	}
	if home != nil {
		s.TotalDistanceM += DistanceMeters(*home, wps[0].Point())
		s.TotalDistanceM += DistanceMeters(wps[len(wps)-1].Point(), *home)
		climb += wps[0].Altitude
	}
	s.Bounds = &b

	if cruiseMPS > 0 {
		s.EstimatedFlightTimeS = s.TotalDistanceM/cruiseMPS + climb/climbRateMPS
	}
	return s
}
