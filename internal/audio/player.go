package audio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"

	"github.com/guidoenr/partivision/internal/pcm"
)

// SpeakerRate is the fixed output rate; every file is resampled to it.
const SpeakerRate = beep.SampleRate(48_000)

var (
	speakerOnce sync.Once
	speakerErr  error
)

func initSpeaker() error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(SpeakerRate, SpeakerRate.N(50*time.Millisecond))
	})
	return speakerErr
}

// Player streams a decoded file to the speaker through a Tap.
type Player struct {
	path     string
	streamer beep.StreamSeekCloser
	format   beep.Format

	ctrl   *beep.Ctrl
	volume *effects.Volume
	tap    *Tap
	ended  atomic.Bool
	queued bool
}

// OpenFile decodes an .mp3 or .wav file and prepares it paused.
func OpenFile(path string) (*Player, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		err = fmt.Errorf("unsupported audio format %q", filepath.Ext(path))
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := initSpeaker(); err != nil {
		_ = streamer.Close()
		return nil, fmt.Errorf("init speaker: %w", err)
	}

	p := &Player{
		path:     path,
		streamer: streamer,
		format:   format,
	}
	p.build()
	return p, nil
}

// build assembles a fresh playback chain; beep.Seq is single-use so a finished
// track needs a new one.
func (p *Player) build() {
	var src beep.Streamer = p.streamer
	if p.format.SampleRate != SpeakerRate {
		src = beep.Resample(4, p.format.SampleRate, SpeakerRate, src)
	}
	src = beep.Seq(src, beep.Callback(func() { p.ended.Store(true) }))

	volume := 0.0
	silent := false
	if p.volume != nil {
		volume, silent = p.volume.Volume, p.volume.Silent
	}
	p.ctrl = &beep.Ctrl{Streamer: src, Paused: true}
	p.volume = &effects.Volume{Streamer: p.ctrl, Base: 2, Volume: volume, Silent: silent}
	if p.tap == nil {
		p.tap = NewTap(p.volume, defaultHistorySize, float64(SpeakerRate))
	} else {
		p.tap.s = p.volume
	}
	p.queued = false
}

// Name returns the file's base name.
func (p *Player) Name() string { return filepath.Base(p.path) }

// SampleRate returns the rate of the analysed signal (the speaker rate).
func (p *Player) SampleRate() float64 { return float64(SpeakerRate) }

// Samples returns the newest n mono samples that reached the speaker.
func (p *Player) Samples(n int) []float32 { return p.tap.Samples(n) }

// Subscribe registers a recording listener for stereo PCM at the speaker rate.
func (p *Player) Subscribe() *pcm.Listener { return p.tap.Subscribe() }

// Unsubscribe removes a listener.
func (p *Player) Unsubscribe(l *pcm.Listener) { p.tap.Unsubscribe(l) }

// Play resumes playback, restarting from the beginning when the track had finished.
func (p *Player) Play() error {
	if p.ended.Load() {
		speaker.Lock()
		err := p.streamer.Seek(0)
		if err == nil {
			p.ended.Store(false)
			p.build()
		}
		speaker.Unlock()
		if err != nil {
			return fmt.Errorf("rewind: %w", err)
		}
	}
	speaker.Lock()
	p.ctrl.Paused = false
	speaker.Unlock()
	if !p.queued {
		speaker.Play(p.tap)
		p.queued = true
	}
	return nil
}

// Pause halts playback, keeping the position.
func (p *Player) Pause() {
	speaker.Lock()
	p.ctrl.Paused = true
	speaker.Unlock()
}

// Ended reports whether the track played to completion.
func (p *Player) Ended() bool { return p.ended.Load() }

// Seek jumps to fraction of the track length; fraction is clamped to [0,1].
func (p *Player) Seek(fraction float64) error {
	fraction = math.Max(0, math.Min(1, fraction))
	speaker.Lock()
	defer speaker.Unlock()
	target := int(fraction * float64(p.streamer.Len()))
	if target >= p.streamer.Len() && target > 0 {
		target = p.streamer.Len() - 1
	}
	if err := p.streamer.Seek(target); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	return nil
}

// SetVolume sets output gain in percent (0 mutes, 100 is unity).
func (p *Player) SetVolume(percent float64) {
	speaker.Lock()
	defer speaker.Unlock()
	if percent <= 0 {
		p.volume.Silent = true
		return
	}
	p.volume.Silent = false
	p.volume.Volume = math.Log2(percent / 100)
}

// Position returns the current playback offset.
func (p *Player) Position() time.Duration {
	speaker.Lock()
	defer speaker.Unlock()
	return p.format.SampleRate.D(p.streamer.Position())
}

// Duration returns the track length.
func (p *Player) Duration() time.Duration {
	return p.format.SampleRate.D(p.streamer.Len())
}

// Close stops playback and releases the decoder.
func (p *Player) Close() error {
	speaker.Lock()
	p.ctrl.Paused = true
	p.ctrl.Streamer = nil
	speaker.Unlock()
	p.tap.closeAll()
	return p.streamer.Close()
}
