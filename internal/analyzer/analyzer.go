package analyzer

import (
	"errors"
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// ErrInvalidAnalysisSize is returned for FFT sizes outside the supported power-of-two set.
var ErrInvalidAnalysisSize = errors.New("invalid analysis size")

const (
	MinAnalysisSize     = 256
	MaxAnalysisSize     = 32768
	DefaultAnalysisSize = 2048
	DefaultSmoothing    = 0.85
	DefaultMinDecibels  = -100.0
	DefaultMaxDecibels  = -30.0
)

// Frame is one spectral frame: unsigned magnitude bins, low frequencies first.
// A frame is only valid for the tick it was pulled for.
type Frame []byte

// AnalysisSizes lists every accepted FFT size.
func AnalysisSizes() []int {
	var out []int
	for n := MinAnalysisSize; n <= MaxAnalysisSize; n <<= 1 {
		out = append(out, n)
	}
	return out
}

// ValidAnalysisSize reports whether n is an accepted FFT size.
func ValidAnalysisSize(n int) bool {
	return n >= MinAnalysisSize && n <= MaxAnalysisSize && n&(n-1) == 0
}

// Config controls Analyzer behaviour.
type Config struct {
	FFTSize     int
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
}

// Analyzer turns windows of mono PCM into byte frequency data with temporal smoothing.
type Analyzer struct {
	fftSize   int
	smoothing float64
	minDB     float64
	maxDB     float64

	window   []float64
	input    []float64
	smoothed []float64
}

// New creates an Analyzer, replacing zero or invalid fields with defaults.
func New(cfg Config) *Analyzer {
	if !ValidAnalysisSize(cfg.FFTSize) {
		cfg.FFTSize = DefaultAnalysisSize
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = DefaultSmoothing
	}
	if cfg.MinDecibels == 0 && cfg.MaxDecibels == 0 {
		cfg.MinDecibels = DefaultMinDecibels
		cfg.MaxDecibels = DefaultMaxDecibels
	}
	if cfg.MaxDecibels <= cfg.MinDecibels {
		cfg.MaxDecibels = cfg.MinDecibels + 70
	}
	a := &Analyzer{
		smoothing: cfg.Smoothing,
		minDB:     cfg.MinDecibels,
		maxDB:     cfg.MaxDecibels,
	}
	a.ensureWorkspace(cfg.FFTSize)
	return a
}

// FFTSize returns the current transform length.
func (a *Analyzer) FFTSize() int { return a.fftSize }

// BinCount returns the frame length produced by Analyze.
func (a *Analyzer) BinCount() int { return a.fftSize / 2 }

// SetFFTSize changes the transform length. Smoothing history is discarded.
func (a *Analyzer) SetFFTSize(n int) error {
	if !ValidAnalysisSize(n) {
		return fmt.Errorf("%w: %d (want power of two in [%d,%d])", ErrInvalidAnalysisSize, n, MinAnalysisSize, MaxAnalysisSize)
	}
	a.ensureWorkspace(n)
	return nil
}

// Analyze consumes the most recent FFTSize samples (zero-padded at the front when
// fewer are given) and returns the byte spectrum. The returned frame is freshly
// allocated so callers may hold it for the rest of the tick.
func (a *Analyzer) Analyze(samples []float32) Frame {
	size := a.fftSize
	input := a.input
	if len(samples) > size {
		samples = samples[len(samples)-size:]
	}
	pad := size - len(samples)
	for i := 0; i < pad; i++ {
		input[i] = 0
	}
	for i, s := range samples {
		input[pad+i] = float64(s) * a.window[pad+i]
	}

	spectrum := fft.FFTReal(input)

	bins := size / 2
	scale := 1.0 / float64(size)
	rangeScale := 255.0 / (a.maxDB - a.minDB)
	out := make(Frame, bins)
	for k := 0; k < bins; k++ {
		mag := cmag(spectrum[k]) * scale
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		db := decibels(a.smoothed[k])
		v := math.Floor((db - a.minDB) * rangeScale)
		out[k] = byte(clamp(v, 0, 255))
	}
	return out
}

func (a *Analyzer) ensureWorkspace(size int) {
	if a.fftSize == size && len(a.window) == size {
		return
	}
	a.fftSize = size
	a.input = make([]float64, size)
	a.smoothed = make([]float64, size/2)
	a.window = make([]float64, size)
	sizeF := float64(size)
	for i := range a.window {
		a.window[i] = blackman(float64(i), sizeF)
	}
}

func blackman(i, size float64) float64 {
	const alpha = 0.16
	a0 := 0.5 * (1 - alpha)
	a1 := 0.5
	a2 := 0.5 * alpha
	x := 2.0 * math.Pi * i / size
	return a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
}

func decibels(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}

func cmag(c complex128) float64 {
	return math.Sqrt(real(c)*real(c) + imag(c)*imag(c))
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// RoundAnalysisSize snaps n to the nearest accepted size at or above it.
func RoundAnalysisSize(n int) int {
	n = nextPow2(n)
	if n < MinAnalysisSize {
		return MinAnalysisSize
	}
	if n > MaxAnalysisSize {
		return MaxAnalysisSize
	}
	return n
}

func clamp(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
