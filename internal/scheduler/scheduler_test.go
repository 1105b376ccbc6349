package scheduler

import (
	"math"
	"math/rand"
	"testing"
)

func TestIntervalClampsFPS(t *testing.T) {
	if got := Interval(0); got != 1000 {
		t.Fatalf("Interval(0)=%f want 1000", got)
	}
	if got := Interval(-5); got != 1000 {
		t.Fatalf("Interval(-5)=%f want 1000", got)
	}
	if got := Interval(1000); math.Abs(got-1000.0/240) > 1e-9 {
		t.Fatalf("Interval(1000)=%f", got)
	}
}

func TestLongRunRateMatchesTarget(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, fps := range []int{1, 24, 30, 45, 60, 90, 120} {
		passes := 0
		s := New(func() int { return fps }, func(float64) { passes++ })
		// 240 Hz display with +-1 ms jitter for 20 simulated seconds.
		const seconds = 20
		for i := 0; i < seconds*240; i++ {
			now := float64(i)*1000/240 + (rng.Float64()*2 - 1)
			s.Tick(now)
		}
		want := float64(fps * seconds)
		if math.Abs(float64(passes)-want) > want*0.02+1 {
			t.Fatalf("fps=%d: %d passes, want ~%.0f", fps, passes, want)
		}
	}
}

func TestRefreshInsideIntervalIsDropped(t *testing.T) {
	passes := 0
	s := New(func() int { return 10 }, func(float64) { passes++ })
	if !s.Tick(0) {
		t.Fatalf("first refresh should run")
	}
	if s.Tick(50) {
		t.Fatalf("refresh at +50ms of a 100ms interval should drop")
	}
	if !s.Tick(130) {
		t.Fatalf("refresh at +130ms should run")
	}
	// drift correction keeps the phase: next due at 200, not 230.
	if !s.Tick(205) {
		t.Fatalf("refresh at 205 should run after drift correction")
	}
	st := s.Stats()
	if st.Accepted != 3 || st.Dropped != 1 || passes != 3 {
		t.Fatalf("stats=%+v passes=%d", st, passes)
	}
}

func TestZeroFPSStillProgresses(t *testing.T) {
	passes := 0
	s := New(func() int { return 0 }, func(float64) { passes++ })
	for now := 0.0; now < 5000; now += 16 {
		s.Tick(now)
	}
	if passes < 4 || passes > 6 {
		t.Fatalf("passes=%d, want about one per second", passes)
	}
}

func TestRateChangeAppliesNextTick(t *testing.T) {
	fps := 1
	s := New(func() int { return fps }, func(float64) {})
	s.Tick(0)
	fps = 100
	if !s.Tick(10) {
		t.Fatalf("new 10ms interval should apply on the next refresh")
	}
}
