package clock

import (
	"testing"
	"time"
)

func TestManualFiresInOrder(t *testing.T) {
	c := NewManual(time.Unix(1000, 0))
	var fired []string

	c.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })
	c.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })

	c.Advance(2 * time.Second)
	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("fired = %v", fired)
	}
	if c.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", c.Pending())
	}

	c.Advance(time.Second)
	if len(fired) != 3 {
		t.Fatalf("fired = %v", fired)
	}
	if got := c.Now(); !got.Equal(time.Unix(1003, 0)) {
		t.Errorf("now = %v", got)
	}
}

func TestManualStopPreventsFire(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })

	if !tm.Stop() {
		t.Fatal("Stop should report the timer was pending")
	}
	if tm.Stop() {
		t.Fatal("second Stop should report false")
	}
	c.Advance(5 * time.Second)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestManualRearmFromCallback(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3500 * time.Millisecond)
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}
