package mission

import (
	"time"

	"github.com/large-farva/flight-arbiter/internal/arbiter"
	"github.com/large-farva/flight-arbiter/internal/clock"
	"github.com/large-farva/flight-arbiter/internal/config"
)

type timerKind int

const (
	timerLeg timerKind = iota
	timerLanding
	timerRecovery
	timerPrompt
	timerCountdown
	timerWatchdog
)

// timerFired is posted to the loop by a timer callback.
type timerFired struct {
	kind timerKind
	id   uint64
}

// timerHandle is a cancelable timer owned by whatever state created it.
type timerHandle struct {
	id       uint64
	deadline time.Time
	t        clock.Timer
}

func (h *timerHandle) stop() {
	if h != nil {
		h.t.Stop()
	}
}

// is reports whether ev came from this handle. A canceled or replaced handle
// never matches, so late fires are dropped.
func (h *timerHandle) is(ev timerFired) bool {
	return h != nil && h.id == ev.id
}

func (c *Controller) after(kind timerKind, d time.Duration) *timerHandle {
	c.timerSeq++
	ev := timerFired{kind: kind, id: c.timerSeq}
	h := &timerHandle{id: ev.id, deadline: c.clock.Now().Add(d)}
	h.t = c.clock.AfterFunc(d, func() {
		select {
		case c.fired <- ev:
		case <-c.done:
		}
	})
	return h
}

func (c *Controller) onTimer(ev timerFired) {
	switch ev.kind {
	case timerLeg:
		if c.m != nil && c.m.leg.is(ev) {
			c.m.leg = nil
			c.legExpired()
		}
	case timerLanding:
		if c.m != nil && c.m.landing.is(ev) {
			c.m.landing = nil
			c.landingExpired()
		}
	case timerRecovery:
		if c.recovery.is(ev) {
			c.recovery = nil
			c.step(arbiter.Signal{Input: arbiter.InputRecoveryTimeout, HomeValid: c.latest.HomeValid})
		}
	case timerPrompt:
		if c.prompt != nil && c.prompt.timeout.is(ev) {
			c.prompt.timeout = nil
			c.step(arbiter.Signal{
				Input:    arbiter.InputPromptTimeout,
				PromptID: c.prompt.ID,
				Target:   c.prompt.Recommendation.Action,
			})
		}
	case timerCountdown:
		if c.prompt != nil && c.prompt.countdown.is(ev) {
			c.prompt.countdown = nil
			c.countdown()
		}
	case timerWatchdog:
		if c.watchdog.is(ev) {
			c.watchdog = nil
			c.checkLink()
		}
	}
}

// armWatchdog restarts the heartbeat watchdog after a frame.
func (c *Controller) armWatchdog() {
	c.watchdog.stop()
	c.watchdog = c.after(timerWatchdog, config.Seconds(c.cfg.Safety.ConnectionTimeoutSeconds)+watchdogSlack)
}

func (c *Controller) checkLink() {
	now := c.clock.Now()
	timeout := config.Seconds(c.cfg.Safety.ConnectionTimeoutSeconds)
	age, ok := c.beats.Age(now)
	if !ok {
		age = timeout + watchdogSlack
	}
	if age <= timeout {
		c.watchdog = c.after(timerWatchdog, timeout-age+watchdogSlack)
		return
	}
	c.failsafes(c.monitor.CheckLink(age, now))
}
