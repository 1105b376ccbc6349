package audio

import (
	"errors"
	"io"
	"log"
	"math"
	"testing"
	"time"

	"github.com/guidoenr/partivision/internal/pcm"
)

type fakeInput struct {
	pcm.Hub
	samples []float32
	closed  bool
}

func (f *fakeInput) Name() string        { return "fake" }
func (f *fakeInput) SampleRate() float64 { return 48_000 }
func (f *fakeInput) Samples(n int) []float32 {
	if n > len(f.samples) {
		n = len(f.samples)
	}
	return f.samples[len(f.samples)-n:]
}
func (f *fakeInput) Close() error { f.closed = true; return nil }

type fakeTrack struct {
	fakeInput
	playing bool
	ended   bool
	seekTo  float64
	volume  float64
}

func (f *fakeTrack) Play() error                 { f.playing = true; return nil }
func (f *fakeTrack) Pause()                      { f.playing = false }
func (f *fakeTrack) Seek(fraction float64) error { f.seekTo = fraction; return nil }
func (f *fakeTrack) Ended() bool                 { return f.ended }
func (f *fakeTrack) SetVolume(percent float64)   { f.volume = percent }
func (f *fakeTrack) Position() time.Duration     { return time.Second }
func (f *fakeTrack) Duration() time.Duration     { return 10 * time.Second }

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func newTestEngine(in Input) *Engine {
	return NewEngine(EngineConfig{
		FFTSize: 512,
		Open:    func(string) (Input, error) { return in, nil },
		Log:     quietLogger(),
	})
}

func TestEngineRequiresSource(t *testing.T) {
	e := newTestEngine(&fakeInput{})
	if err := e.Play(); !errors.Is(err, ErrNoSourceLoaded) {
		t.Fatalf("play before load: %v", err)
	}
	if err := e.Seek(0.5); !errors.Is(err, ErrNoSourceLoaded) {
		t.Fatalf("seek before load: %v", err)
	}
	if _, err := e.AudioStream(); !errors.Is(err, ErrNoSourceLoaded) {
		t.Fatalf("stream before load: %v", err)
	}
	if got := len(e.GetFrequencyData()); got != 256 {
		t.Fatalf("empty engine frame len=%d want 256", got)
	}
	if e.IsPlaying() {
		t.Fatalf("nothing loaded should not be playing")
	}
}

func TestEnginePlaybackLifecycle(t *testing.T) {
	track := &fakeTrack{}
	e := newTestEngine(track)
	if err := e.Load("song.mp3"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if e.IsPlaying() {
		t.Fatalf("loaded source must start paused")
	}
	if err := e.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	if !e.IsPlaying() || !track.playing {
		t.Fatalf("expected playback to run")
	}
	if err := e.Seek(0.25); err != nil || track.seekTo != 0.25 {
		t.Fatalf("seek: %v %f", err, track.seekTo)
	}

	ended := 0
	e.OnEnded(func() { ended++ })
	track.ended = true
	if e.IsPlaying() {
		t.Fatalf("finished track should stop playback")
	}
	e.IsPlaying()
	if ended != 1 {
		t.Fatalf("ended hook fired %d times, want 1", ended)
	}
}

func TestEngineLoadPausesAndClosesPrevious(t *testing.T) {
	first := &fakeTrack{}
	second := &fakeTrack{}
	inputs := []Input{first, second}
	e := NewEngine(EngineConfig{
		Open: func(string) (Input, error) {
			in := inputs[0]
			inputs = inputs[1:]
			return in, nil
		},
		Log: quietLogger(),
	})
	_ = e.Load("a.wav")
	_ = e.Play()
	if err := e.Load("b.wav"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if first.playing || !first.closed {
		t.Fatalf("previous source should be paused and closed")
	}
	if e.IsPlaying() {
		t.Fatalf("new source should start paused")
	}
}

func TestEngineSetAnalysisSize(t *testing.T) {
	in := &fakeInput{samples: make([]float32, 4096)}
	e := newTestEngine(in)
	_ = e.Load("x")
	if err := e.SetAnalysisSize(4096); err != nil {
		t.Fatalf("set size: %v", err)
	}
	if got := len(e.GetFrequencyData()); got != 2048 {
		t.Fatalf("frame len=%d want 2048", got)
	}
	if err := e.SetAnalysisSize(1000); err == nil {
		t.Fatalf("expected invalid size error")
	}
}

func TestRingLatestWrapsInOrder(t *testing.T) {
	r := newRing(4)
	r.write([]float32{1, 2, 3})
	r.write([]float32{4, 5})
	got := r.latest(4)
	want := []float32{2, 3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("latest=%v want %v", got, want)
		}
	}
}

func TestDownmix(t *testing.T) {
	mono := downmix([]float32{1, 3, -1, 1}, 2)
	if len(mono) != 2 || mono[0] != 2 || mono[1] != 0 {
		t.Fatalf("downmix=%v", mono)
	}
}

func TestSynthStepFillsHistoryAndListeners(t *testing.T) {
	s := newSynth(1)
	l := s.Subscribe()
	s.step(synthBlock)
	b := <-l.C
	if b.Channels != 2 || len(b.Samples) != synthBlock*2 {
		t.Fatalf("block=%d samples, %d channels", len(b.Samples), b.Channels)
	}
	energy := 0.0
	for _, v := range s.Samples(synthBlock) {
		energy += math.Abs(float64(v))
	}
	if energy == 0 {
		t.Fatalf("synth produced silence")
	}
	_ = s.Close()
}
