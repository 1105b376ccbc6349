// Package scheduler gates an external refresh callback down to a target frame rate.
package scheduler

import (
	"math"
	"sync"

	"github.com/guidoenr/partivision/internal/params"
)

// Interval returns the frame interval in milliseconds for fps after clamping.
func Interval(fps int) float64 {
	return 1000 / float64(params.ClampFPS(fps))
}

// Stats summarises scheduler activity.
type Stats struct {
	Accepted    uint64  `json:"accepted"`
	Dropped     uint64  `json:"dropped"`
	MeasuredFPS float64 `json:"measuredFps"`
	IntervalMs  float64 `json:"intervalMs"`
}

// Scheduler runs pass at most once per interval. Refreshes inside the interval are
// dropped, never queued. The target rate is read at every refresh, so a changed
// fps takes effect from the next tick.
type Scheduler struct {
	mu      sync.Mutex
	fps     func() int
	pass    func(nowMillis float64)
	last    float64
	started bool

	accepted uint64
	dropped  uint64

	windowStart float64
	windowCount int
	measured    float64
}

// New creates a scheduler. fps is consulted on every refresh.
func New(fps func() int, pass func(nowMillis float64)) *Scheduler {
	return &Scheduler{fps: fps, pass: pass}
}

// Tick is the refresh callback. It reports whether a pipeline pass ran.
func (s *Scheduler) Tick(nowMillis float64) bool {
	s.mu.Lock()
	interval := Interval(s.fps())
	if !s.started {
		s.started = true
		s.last = nowMillis - interval
		s.windowStart = nowMillis
	}
	elapsed := nowMillis - s.last
	if elapsed < interval {
		s.dropped++
		s.mu.Unlock()
		return false
	}
	s.last = nowMillis - math.Mod(elapsed, interval)
	s.accepted++
	s.measure(nowMillis)
	pass := s.pass
	s.mu.Unlock()

	pass(nowMillis)
	return true
}

func (s *Scheduler) measure(now float64) {
	s.windowCount++
	if span := now - s.windowStart; span >= 1000 {
		s.measured = float64(s.windowCount) * 1000 / span
		s.windowStart = now
		s.windowCount = 0
	}
}

// Reset forgets the last frame time; the next refresh runs a pass immediately.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// Stats returns counters and the fps measured over the last full second.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Accepted:    s.accepted,
		Dropped:     s.dropped,
		MeasuredFPS: s.measured,
		IntervalMs:  Interval(s.fps()),
	}
}
