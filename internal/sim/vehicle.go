// Package sim provides a simulated vehicle link so the daemon, CLI, and
// dashboards can be exercised end-to-end without a flight controller. The
// vehicle honors the same commands a real bridge would and drains its
// battery while armed; faults can be injected to walk every failsafe.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/large-farva/flight-arbiter/internal/config"
	"github.com/large-farva/flight-arbiter/internal/gateway"
	"github.com/large-farva/flight-arbiter/internal/logging"
	"github.com/large-farva/flight-arbiter/internal/nav"
	"github.com/large-farva/flight-arbiter/internal/telemetry"
)

var ErrLinkDropped = errors.New("simulated link drop")

// Fault names accepted by Inject.
const (
	FaultBattery    = "battery"
	FaultGPSLoss    = "gps_loss"
	FaultGPSRestore = "gps_restore"
	FaultLinkDrop   = "link_drop"
	FaultMode       = "mode"
	FaultReject     = "reject"
)

type state struct {
	pos     nav.Point
	altRel  float64
	heading float64
	speed   float64

	armed   bool
	mode    string
	battery float64
	fix     int
	sats    int

	target    *nav.Position
	rejectAll bool
}

// Vehicle implements gateway.Link.
type Vehicle struct {
	cfg  config.SimConfig
	log  *logging.Logger
	home nav.Point

	mu       sync.Mutex
	st       state
	commands chan gateway.Request
	drop     chan struct{}
}

func New(cfg config.SimConfig, log *logging.Logger) *Vehicle {
	home := nav.Point{Lat: cfg.HomeLat, Lon: cfg.HomeLon}
	return &Vehicle{
		cfg:  cfg,
		log:  log,
		home: home,
		st: state{
			pos:     home,
			mode:    "STABILIZE",
			battery: cfg.BatteryPercent,
			fix:     3,
			sats:    cfg.Satellites,
		},
		commands: make(chan gateway.Request, 16),
		drop:     make(chan struct{}, 1),
	}
}

// Send queues a command; it is applied and acknowledged on the next tick.
func (v *Vehicle) Send(ctx context.Context, req gateway.Request) error {
	select {
	case v.commands <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("simulated vehicle command queue full")
	}
}

// Run steps the simulation every tick, applying queued commands and
// publishing a telemetry frame, until ctx ends or a link drop is injected.
func (v *Vehicle) Run(ctx context.Context, sink gateway.Sink) error {
	tick := time.Duration(v.cfg.TickMS) * time.Millisecond
	t := time.NewTicker(tick)
	defer t.Stop()

	v.log.Info("simulated vehicle online", "home", v.home.String(), "battery", v.cfg.BatteryPercent)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-v.drop:
			return ErrLinkDropped
		case <-t.C:
		}

	drain:
		for {
			select {
			case req := <-v.commands:
				sink.Ack(v.apply(req))
			default:
				break drain
			}
		}

		v.step(tick.Seconds())
		sink.Frame(v.frame(time.Now()))
	}
}

// Inject applies a fault. value is a battery percentage for "battery" and a
// mode name for "mode".
func (v *Vehicle) Inject(kind, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch kind {
	case FaultBattery:
		var pct float64
		if _, err := fmt.Sscanf(value, "%g", &pct); err != nil || pct < 0 || pct > 100 {
			return fmt.Errorf("battery fault needs a percentage, got %q", value)
		}
		v.st.battery = pct
	case FaultGPSLoss:
		v.st.fix, v.st.sats = 1, 3
	case FaultGPSRestore:
		v.st.fix, v.st.sats = 3, v.cfg.Satellites
	case FaultLinkDrop:
		select {
		case v.drop <- struct{}{}:
		default:
		}
	case FaultMode:
		if value == "" {
			return errors.New("mode fault needs a mode name")
		}
		v.st.mode = strings.ToUpper(value)
	case FaultReject:
		v.st.rejectAll = value != "off"
	default:
		return fmt.Errorf("unknown fault %q", kind)
	}
	v.log.Warn("fault injected", "kind", kind, "value", value)
	return nil
}

func (v *Vehicle) apply(req gateway.Request) gateway.Response {
	v.mu.Lock()
	defer v.mu.Unlock()

	resp := gateway.Response{CorrelationID: req.CorrelationID, Status: gateway.StatusOK}
	reject := func(detail string) gateway.Response {
		resp.Status = gateway.StatusError
		resp.Detail = detail
		return resp
	}
	if v.st.rejectAll {
		return reject("command rejected by vehicle")
	}

	st := &v.st
	switch req.Command {
	case gateway.CmdArm:
		if st.fix < 3 {
			return reject("not armable: no 3D fix")
		}
		st.armed = true
		if st.mode == "STABILIZE" {
			st.mode = "GUIDED"
		}
	case gateway.CmdDisarm:
		if st.altRel > 0.5 {
			return reject("cannot disarm in flight")
		}
		st.armed = false
		st.target = nil
	case gateway.CmdTakeoff:
		if !st.armed {
			return reject("takeoff requires armed vehicle")
		}
		st.mode = "GUIDED"
		st.target = &nav.Position{Point: st.pos, Alt: req.Params.Altitude}
	case gateway.CmdGoto:
		if !st.armed || st.mode != "GUIDED" {
			return reject("goto requires GUIDED and armed")
		}
		st.target = &nav.Position{Point: nav.Point{Lat: req.Params.Lat, Lon: req.Params.Lon}, Alt: req.Params.Altitude}
	case gateway.CmdSetMode:
		st.mode = strings.ToUpper(req.Params.Mode)
		if st.mode != "GUIDED" {
			st.target = nil
		}
	case gateway.CmdRTL:
		st.mode = "RTL"
		st.target = nil
	case gateway.CmdLand:
		st.mode = "LAND"
		st.target = nil
	default:
		return reject("unsupported command " + string(req.Command))
	}
	return resp
}

func (v *Vehicle) step(dt float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st := &v.st

	if st.armed {
		st.battery = math.Max(0, st.battery-v.cfg.BatteryDrainPerMinute/60*dt)
	}

	st.speed = 0
	switch {
	case !st.armed:
	case st.mode == "GUIDED" && st.target != nil:
		v.moveToward(st.target.Point, dt)
		st.altRel = approach(st.altRel, st.target.Alt, v.cfg.ClimbRateMPS*dt)
	case st.mode == "RTL":
		if nav.DistanceMeters(st.pos, v.home) > 0.5 {
			v.moveToward(v.home, dt)
		} else {
			v.descend(dt)
		}
	case st.mode == "LAND":
		v.descend(dt)
	}
}

func (v *Vehicle) moveToward(dst nav.Point, dt float64) {
	st := &v.st
	dist := nav.DistanceMeters(st.pos, dst)
	stepM := math.Min(dist, v.cfg.SpeedMPS*dt)
	if stepM <= 0 {
		return
	}
	st.heading = nav.BearingDegrees(st.pos, dst)
	frac := stepM / dist
	st.pos.Lat += (dst.Lat - st.pos.Lat) * frac
	st.pos.Lon += (dst.Lon - st.pos.Lon) * frac
	st.speed = stepM / dt
}

func (v *Vehicle) descend(dt float64) {
	st := &v.st
	st.altRel = approach(st.altRel, 0, v.cfg.ClimbRateMPS*dt)
	if st.altRel <= 0.05 {
		st.altRel = 0
		// Autopilots disarm on their own after touchdown.
		st.armed = false
	}
}

func (v *Vehicle) frame(now time.Time) telemetry.Frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	st := v.st

	lat, lon := st.pos.Lat, st.pos.Lon
	alt := 200 + st.altRel
	level := st.battery
	voltage := 10.5 + 2.1*level/100
	current := 0.0
	if st.armed {
		current = 12
	}
	hdg, gs := st.heading, st.speed
	rad := hdg * math.Pi / 180

	return telemetry.Frame{
		Timestamp:   float64(now.UnixNano()) / 1e9,
		Location:    &telemetry.FrameLocation{Lat: &lat, Lon: &lon, Alt: &alt, AltRel: &st.altRel},
		Attitude:    &telemetry.FrameAttitude{Yaw: rad},
		Velocity:    &telemetry.FrameVelocity{VX: gs * math.Cos(rad), VY: gs * math.Sin(rad)},
		Battery:     &telemetry.FrameBattery{Voltage: &voltage, Current: &current, Level: &level},
		GPS:         &telemetry.FrameGPS{SatellitesVisible: st.sats, FixType: st.fix},
		Heading:     &hdg,
		Groundspeed: &gs,
		Armed:       st.armed,
		IsArmable:   st.fix >= 3,
		Mode:        st.mode,
		EKF:         &telemetry.FrameEKF{OK: st.fix >= 3},
		Home:        &telemetry.FrameHome{Lat: v.home.Lat, Lon: v.home.Lon},
	}
}

func approach(cur, target, maxStep float64) float64 {
	switch {
	case cur < target:
		return math.Min(target, cur+maxStep)
	case cur > target:
		return math.Max(target, cur-maxStep)
	}
	return cur
}
