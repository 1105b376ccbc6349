package audio

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/guidoenr/partivision/internal/pcm"
)

const (
	synthRate  = 48_000.0
	synthBlock = 960 // 20 ms
)

// Synth is a generated test signal standing in for real audio: a kick-like bass
// tone, a wandering mid voice and a hiss band, each with slow amplitude LFOs.
type Synth struct {
	rng     *rand.Rand
	history *ring
	hub     pcm.Hub

	mu        sync.Mutex
	phaseBass float64
	phaseMid  float64
	phaseHigh float64
	clock     float64

	started bool
	stop    chan struct{}
	done    chan struct{}
}

// OpenSynth starts the generator goroutine.
func OpenSynth(seed int64) *Synth {
	s := newSynth(seed)
	s.started = true
	go s.run()
	return s
}

func newSynth(seed int64) *Synth {
	return &Synth{
		rng:     rand.New(rand.NewSource(seed)),
		history: newRing(defaultHistorySize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *Synth) run() {
	defer close(s.done)
	ticker := time.NewTicker(time.Duration(synthBlock / synthRate * float64(time.Second)))
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.step(synthBlock)
		}
	}
}

// step renders n mono samples into the history and, duplicated to stereo, to listeners.
func (s *Synth) step(n int) {
	mono := s.generate(n)
	s.history.write(mono)
	if !s.hub.Active() {
		return
	}
	stereo := make([]float32, n*2)
	for i, v := range mono {
		stereo[i*2] = v
		stereo[i*2+1] = v
	}
	s.hub.Publish(stereo, 2, synthRate)
}

func (s *Synth) generate(n int) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := float64(n) / synthRate
	s.phaseBass += delta * 0.7
	s.phaseMid += delta * 1.2
	s.phaseHigh += delta * 2.1

	bass := clamp01(0.5 + 0.5*math.Sin(s.phaseBass))
	mid := clamp01(0.4 + 0.4*math.Sin(s.phaseMid+0.5))
	treble := clamp01(0.3 + 0.3*math.Sin(s.phaseHigh+1.0))
	beat := math.Max(0, math.Sin(s.phaseBass*2.0))

	out := make([]float32, n)
	midHz := 440 + 220*math.Sin(s.phaseMid*0.3)
	for i := range out {
		t := s.clock + float64(i)/synthRate
		v := (0.5 + 0.5*beat) * bass * math.Sin(2*math.Pi*60*t)
		v += mid * 0.35 * math.Sin(2*math.Pi*midHz*t)
		v += treble * 0.1 * (s.rng.Float64()*2 - 1)
		out[i] = float32(v * 0.6)
	}
	s.clock += delta
	return out
}

// Name identifies the source in status output.
func (s *Synth) Name() string { return "synthetic" }

// SampleRate returns the generator rate.
func (s *Synth) SampleRate() float64 { return synthRate }

// Samples returns the newest n generated samples.
func (s *Synth) Samples(n int) []float32 { return s.history.latest(n) }

// Subscribe registers a recording listener.
func (s *Synth) Subscribe() *pcm.Listener { return s.hub.Subscribe() }

// Unsubscribe removes a listener.
func (s *Synth) Unsubscribe(l *pcm.Listener) { s.hub.Unsubscribe(l) }

// Close stops the generator.
func (s *Synth) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
		if s.started {
			<-s.done
		}
	}
	s.hub.CloseAll()
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
