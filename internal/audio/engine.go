package audio

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/guidoenr/partivision/internal/analyzer"
	"github.com/guidoenr/partivision/internal/pcm"
)

// ErrNoSourceLoaded is returned by operations that need loaded audio.
var ErrNoSourceLoaded = errors.New("no audio source loaded")

// MaxHistory is the longest sample window any input keeps, matching the largest FFT.
const MaxHistory = analyzer.MaxAnalysisSize

// Input is a loaded audio source the engine can analyse and record.
type Input interface {
	Name() string
	SampleRate() float64
	Samples(n int) []float32
	pcm.Stream
	Close() error
}

// transport is implemented by inputs with real playback (files).
type transport interface {
	Play() error
	Pause()
	Seek(fraction float64) error
	Ended() bool
	SetVolume(percent float64)
	Position() time.Duration
	Duration() time.Duration
}

// Opener resolves a source name to an Input.
type Opener func(name string) (Input, error)

// EngineConfig configures an Engine.
type EngineConfig struct {
	FFTSize   int
	Smoothing float64
	Open      Opener
	Log       *log.Logger
}

// Engine is the audio analysis source: it owns the loaded input, playback state and
// the spectrum analyser.
type Engine struct {
	mu       sync.Mutex
	analyzer *analyzer.Analyzer
	input    Input
	open     Opener
	playing  bool
	volume   float64
	log      *log.Logger
	onEnded  func()
}

// NewEngine creates an engine with nothing loaded.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Open == nil {
		cfg.Open = DefaultOpener
	}
	if cfg.Log == nil {
		cfg.Log = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Engine{
		analyzer: analyzer.New(analyzer.Config{FFTSize: cfg.FFTSize, Smoothing: cfg.Smoothing}),
		open:     cfg.Open,
		volume:   100,
		log:      cfg.Log,
	}
}

// DefaultOpener understands "synthetic", "live", "live:<device>" and file paths.
func DefaultOpener(name string) (Input, error) {
	lower := strings.ToLower(name)
	switch {
	case lower == "synthetic" || lower == "synth":
		return OpenSynth(time.Now().UnixNano()), nil
	case lower == "live":
		return OpenCapture(CaptureConfig{})
	case strings.HasPrefix(lower, "live:"):
		return OpenCapture(CaptureConfig{DeviceName: name[len("live:"):]})
	default:
		return OpenFile(name)
	}
}

// OnEnded registers a hook fired once when a file finishes playing.
func (e *Engine) OnEnded(fn func()) {
	e.mu.Lock()
	e.onEnded = fn
	e.mu.Unlock()
}

// Load replaces the current source. Playback is paused first and the new source
// starts paused.
func (e *Engine) Load(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.playing {
		e.pauseLocked()
	}
	in, err := e.open(name)
	if err != nil {
		return fmt.Errorf("load %q: %w", name, err)
	}
	if e.input != nil {
		if err := e.input.Close(); err != nil {
			e.log.Printf("[audio] closing %s: %v", e.input.Name(), err)
		}
	}
	e.input = in
	if t, ok := in.(transport); ok {
		t.SetVolume(e.volume)
	}
	e.log.Printf("[audio] loaded %s @ %.0f Hz", in.Name(), in.SampleRate())
	return nil
}

// Loaded reports whether a source has been loaded.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.input != nil
}

// SourceName returns the loaded source name, or "".
func (e *Engine) SourceName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.input == nil {
		return ""
	}
	return e.input.Name()
}

// Play starts or resumes playback.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.input == nil {
		return ErrNoSourceLoaded
	}
	if t, ok := e.input.(transport); ok {
		if err := t.Play(); err != nil {
			return err
		}
	}
	e.playing = true
	return nil
}

// Pause halts playback. It is a no-op when nothing is loaded.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseLocked()
}

func (e *Engine) pauseLocked() {
	if e.input == nil {
		return
	}
	if t, ok := e.input.(transport); ok {
		t.Pause()
	}
	e.playing = false
}

// Seek moves to fraction of the loaded file. Live inputs ignore it.
func (e *Engine) Seek(fraction float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.input == nil {
		return ErrNoSourceLoaded
	}
	if t, ok := e.input.(transport); ok {
		return t.Seek(fraction)
	}
	return nil
}

// SetVolume sets output gain in percent for file playback.
func (e *Engine) SetVolume(percent float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = percent
	if t, ok := e.input.(transport); ok {
		t.SetVolume(percent)
	}
}

// Progress returns playback position and length; both are zero for live inputs.
func (e *Engine) Progress() (position, duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.input.(transport); ok {
		return t.Position(), t.Duration()
	}
	return 0, 0
}

// IsPlaying reports whether audio is running. A file that reached its end flips
// playback off and fires the OnEnded hook.
func (e *Engine) IsPlaying() bool {
	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return false
	}
	t, ok := e.input.(transport)
	if !ok || !t.Ended() {
		e.mu.Unlock()
		return true
	}
	e.playing = false
	hook := e.onEnded
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
	return false
}

// GetFrequencyData analyses the newest samples of the loaded input. Without an
// input it returns a zero frame of the current bin count. Never blocks on audio I/O.
func (e *Engine) GetFrequencyData() analyzer.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.input == nil {
		return make(analyzer.Frame, e.analyzer.BinCount())
	}
	return e.analyzer.Analyze(e.input.Samples(e.analyzer.FFTSize()))
}

// SetAnalysisSize changes the FFT size; frames pulled afterwards have size/2 bins.
func (e *Engine) SetAnalysisSize(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.analyzer.SetFFTSize(n)
}

// AnalysisSize returns the FFT size.
func (e *Engine) AnalysisSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.analyzer.FFTSize()
}

// SampleRate returns the loaded input rate, or the speaker rate when nothing is loaded.
func (e *Engine) SampleRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.input == nil {
		return float64(SpeakerRate)
	}
	return e.input.SampleRate()
}

// AudioStream returns the recording tap of the loaded input.
func (e *Engine) AudioStream() (pcm.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.input == nil {
		return nil, ErrNoSourceLoaded
	}
	return e.input, nil
}

// Close releases the loaded input.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.input == nil {
		return nil
	}
	err := e.input.Close()
	e.input = nil
	e.playing = false
	return err
}
