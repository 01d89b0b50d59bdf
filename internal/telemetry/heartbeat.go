package telemetry

import "time"

// HeartbeatWindow keeps the receive times of the most recent frames. It is
// the only telemetry history the arbiter retains.
type HeartbeatWindow struct {
	times []time.Time
	next  int
	count int
}

func NewHeartbeatWindow(size int) *HeartbeatWindow {
	if size < 2 {
		size = 2
	}
	return &HeartbeatWindow{times: make([]time.Time, size)}
}

func (w *HeartbeatWindow) Observe(t time.Time) {
	w.times[w.next] = t
	w.next = (w.next + 1) % len(w.times)
	if w.count < len(w.times) {
		w.count++
	}
}

// Last returns the most recent receive time.
func (w *HeartbeatWindow) Last() (time.Time, bool) {
	if w.count == 0 {
		return time.Time{}, false
	}
	i := (w.next - 1 + len(w.times)) % len(w.times)
	return w.times[i], true
}

// Age returns how long ago the last frame arrived. ok is false before the
// first frame.
func (w *HeartbeatWindow) Age(now time.Time) (time.Duration, bool) {
	last, ok := w.Last()
	if !ok {
		return 0, false
	}
	return now.Sub(last), true
}

// MeanInterval is the average spacing between frames in the window.
func (w *HeartbeatWindow) MeanInterval() time.Duration {
	if w.count < 2 {
		return 0
	}
	oldest := w.times[(w.next-w.count+len(w.times))%len(w.times)]
	last, _ := w.Last()
	return last.Sub(oldest) / time.Duration(w.count-1)
}

func (w *HeartbeatWindow) Reset() {
	w.next, w.count = 0, 0
}
