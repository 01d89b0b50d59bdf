package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/large-farva/flight-arbiter/internal/nav"
)

var ErrMalformedFrame = errors.New("malformed telemetry frame")

// Frame is the raw telemetry message published by the vehicle link. Every
// section is optional; absent numeric values normalize to NaN so rules
// comparing against thresholds never fire on missing data.
type Frame struct {
	Timestamp   float64        `json:"timestamp"`
	Location    *FrameLocation `json:"location,omitempty"`
	Attitude    *FrameAttitude `json:"attitude,omitempty"`
	Velocity    *FrameVelocity `json:"velocity,omitempty"`
	Battery     *FrameBattery  `json:"battery,omitempty"`
	GPS         *FrameGPS      `json:"gps,omitempty"`
	Heading     *float64       `json:"heading,omitempty"`
	Groundspeed *float64       `json:"groundspeed,omitempty"`
	Armed       bool           `json:"armed"`
	IsArmable   bool           `json:"is_armable"`
	Mode        string         `json:"mode"`
	EKF         *FrameEKF      `json:"ekf,omitempty"`
	Home        *FrameHome     `json:"home,omitempty"`
}

type FrameLocation struct {
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
	Alt    *float64 `json:"alt"`
	AltRel *float64 `json:"alt_rel"`
}

type FrameAttitude struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

type FrameVelocity struct {
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
	VZ float64 `json:"vz"`
}

type FrameBattery struct {
	Voltage *float64 `json:"voltage"`
	Current *float64 `json:"current"`
	Level   *float64 `json:"level"`
}

type FrameGPS struct {
	SatellitesVisible int `json:"satellites_visible"`
	FixType           int `json:"fix_type"`
}

type FrameEKF struct {
	OK bool `json:"ok"`
}

type FrameHome struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Decode parses a raw JSON frame.
func Decode(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

// Normalize converts a frame into a Snapshot. received is the local time the
// frame arrived and is used for heartbeat-age checks; the vehicle timestamp
// falls back to it when absent.
func Normalize(f Frame, received time.Time) Snapshot {
	s := Snapshot{
		Received:       received,
		Timestamp:      received,
		Lat:            math.NaN(),
		Lon:            math.NaN(),
		Alt:            math.NaN(),
		AltRel:         math.NaN(),
		BatteryVoltage: math.NaN(),
		BatteryCurrent: math.NaN(),
		BatteryLevel:   math.NaN(),
		Heading:        math.NaN(),
		Armed:          f.Armed,
		Armable:        f.IsArmable,
		Mode:           strings.ToUpper(strings.TrimSpace(f.Mode)),
	}

	if f.Timestamp > 0 {
		sec, frac := math.Modf(f.Timestamp)
		s.Timestamp = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	if l := f.Location; l != nil {
		s.Lat = deref(l.Lat)
		s.Lon = deref(l.Lon)
		s.Alt = deref(l.Alt)
		s.AltRel = deref(l.AltRel)
	}
	if a := f.Attitude; a != nil {
		s.Roll, s.Pitch, s.Yaw = a.Roll, a.Pitch, a.Yaw
	}
	if v := f.Velocity; v != nil {
		s.VX, s.VY, s.VZ = v.VX, v.VY, v.VZ
	}
	if b := f.Battery; b != nil {
		s.BatteryVoltage = deref(b.Voltage)
		s.BatteryCurrent = deref(b.Current)
		s.BatteryLevel = deref(b.Level)
	}
	if g := f.GPS; g != nil {
		s.GPSFixType = g.FixType
		s.SatellitesVisible = g.SatellitesVisible
	}
	if f.Heading != nil {
		s.Heading = *f.Heading
	}
	if f.Groundspeed != nil {
		s.Groundspeed = *f.Groundspeed
	} else {
		s.Groundspeed = math.Hypot(s.VX, s.VY)
	}
	if f.EKF != nil {
		s.EKFOK = f.EKF.OK
	}
	if h := f.Home; h != nil {
		home := nav.Point{Lat: h.Lat, Lon: h.Lon}
		s.Home = home
		// The flight controller reports (0, 0) before home is recorded.
		s.HomeValid = home.Valid() && !(home.Lat == 0 && home.Lon == 0)
	}
	return s
}

func deref(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
