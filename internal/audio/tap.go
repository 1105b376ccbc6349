package audio

import (
	"github.com/gopxl/beep/v2"

	"github.com/guidoenr/partivision/internal/pcm"
)

// Tap is a streamer wrapper that keeps a mono history for analysis and fans
// stereo blocks out to recording listeners. It sits between the volume control
// and the speaker.
type Tap struct {
	s       beep.Streamer
	rate    float64
	history *ring
	hub     pcm.Hub
	scratch []float32
}

// NewTap wraps a streamer with a history of the given size.
func NewTap(s beep.Streamer, historySize int, rate float64) *Tap {
	return &Tap{
		s:       s,
		rate:    rate,
		history: newRing(historySize),
	}
}

// Stream passes audio through while capturing it.
func (t *Tap) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.s.Stream(samples)
	if n == 0 {
		return n, ok
	}
	if cap(t.scratch) < n*2 {
		t.scratch = make([]float32, n*2)
	}
	stereo := t.scratch[:n*2]
	for i := 0; i < n; i++ {
		stereo[i*2] = float32(samples[i][0])
		stereo[i*2+1] = float32(samples[i][1])
	}
	t.history.write(downmix(stereo, 2))
	t.hub.Publish(stereo, 2, t.rate)
	return n, ok
}

// Err returns the underlying streamer's error.
func (t *Tap) Err() error {
	return t.s.Err()
}

// Samples returns the newest n mono samples in chronological order.
func (t *Tap) Samples(n int) []float32 { return t.history.latest(n) }

// Subscribe registers a listener for stereo blocks.
func (t *Tap) Subscribe() *pcm.Listener { return t.hub.Subscribe() }

// Unsubscribe removes a listener.
func (t *Tap) Unsubscribe(l *pcm.Listener) { t.hub.Unsubscribe(l) }

func (t *Tap) closeAll() { t.hub.CloseAll() }
