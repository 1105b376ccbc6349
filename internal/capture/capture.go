// Package capture coordinates continuous recording and still snapshots of the
// rendered output.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/guidoenr/partivision/internal/pcm"
)

var (
	// ErrCaptureInProgress rejects a start while a session is recording or exporting.
	ErrCaptureInProgress = errors.New("capture already in progress")
	// ErrUnsupportedEncoding is returned when no encoder could be built, defaults included.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")
)

// State is the capture lifecycle.
type State int

const (
	Idle State = iota
	Recording
	Exporting
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Exporting:
		return "exporting"
	default:
		return "idle"
	}
}

// VideoSource hands out the most recent composited frame. Implementations must
// return an image the caller may keep.
type VideoSource interface {
	CurrentFrame() image.Image
}

// StillSource produces an encoded still of the current frame.
type StillSource interface {
	CaptureStill() ([]byte, error)
}

// AudioSource yields the recording tap of the loaded audio.
type AudioSource interface {
	AudioStream() (pcm.Stream, error)
}

// Stream is the combined input an encoder records from.
type Stream struct {
	Video     VideoSource
	Audio     pcm.Stream
	FrameRate int
}

// Options are the preferred encoder settings. A nil *Options means encoder defaults.
type Options struct {
	MimeType           string
	VideoBitsPerSecond int
}

// Encoder produces chunks until stopped. Stop flushes and returns only after the
// final chunk has been emitted.
type Encoder interface {
	MimeType() string
	Start(emit func(media.Sample)) error
	Stop() error
}

// Backend builds encoders.
type Backend interface {
	IsTypeSupported(mime string) bool
	NewEncoder(s Stream, opts *Options) (Encoder, error)
}

// Artifact is one finished recording.
type Artifact struct {
	MimeType string
	Data     []byte
	Chunks   int
	Started  time.Time
	Length   time.Duration
}

// Config configures a Coordinator.
type Config struct {
	Backend     Backend
	Saver       Saver
	Preferences []string // most preferred first
	Fallback    string
	Bitrate     int
	FrameRate   int
	ExportHold  time.Duration
	Now         func() time.Time
	Log         *log.Logger
}

// Coordinator owns at most one capture session.
type Coordinator struct {
	cfg Config

	mu        sync.Mutex
	state     State
	session   *session
	holdUntil time.Time
	onExport  func(path string, a Artifact, err error)
	wg        sync.WaitGroup
}

type session struct {
	enc     Encoder
	mime    string
	started time.Time

	mu     sync.Mutex
	chunks [][]byte
}

func (s *session) add(sample media.Sample) {
	s.mu.Lock()
	s.chunks = append(s.chunks, sample.Data)
	s.mu.Unlock()
}

func (s *session) assemble() ([]byte, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Join(s.chunks, nil), len(s.chunks)
}

// New creates an idle coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = log.New(os.Stderr, "", log.LstdFlags)
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 60
	}
	return &Coordinator{cfg: cfg}
}

// OnExport registers a hook called after each export attempt.
func (c *Coordinator) OnExport(fn func(path string, a Artifact, err error)) {
	c.mu.Lock()
	c.onExport = fn
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Encoding returns the first supported preference, or the fallback.
func (c *Coordinator) Encoding() string {
	for _, mime := range c.cfg.Preferences {
		if c.cfg.Backend.IsTypeSupported(mime) {
			return mime
		}
	}
	return c.cfg.Fallback
}

// Start begins recording video plus the loaded audio.
func (c *Coordinator) Start(video VideoSource, src AudioSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return fmt.Errorf("%w (%s)", ErrCaptureInProgress, c.state)
	}
	tap, err := src.AudioStream()
	if err != nil {
		return err
	}

	stream := Stream{Video: video, Audio: tap, FrameRate: c.cfg.FrameRate}
	mime := c.Encoding()
	enc, err := c.cfg.Backend.NewEncoder(stream, &Options{MimeType: mime, VideoBitsPerSecond: c.cfg.Bitrate})
	if err != nil {
		c.cfg.Log.Printf("[capture] %s encoder failed (%v), using defaults", mime, err)
		enc, err = c.cfg.Backend.NewEncoder(stream, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedEncoding, err)
		}
	}

	sess := &session{enc: enc, mime: enc.MimeType(), started: c.cfg.Now()}
	if err := enc.Start(sess.add); err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}
	c.session = sess
	c.state = Recording
	c.cfg.Log.Printf("[capture] recording %s", sess.mime)
	return nil
}

// Stop ends recording. Export continues in the background and the coordinator
// returns to Idle once the artifact has been handed to the saver. Stop outside
// Recording is a no-op and reports false.
func (c *Coordinator) Stop() bool {
	c.mu.Lock()
	if c.state != Recording {
		c.mu.Unlock()
		return false
	}
	c.state = Exporting
	sess := c.session
	c.wg.Add(1)
	c.mu.Unlock()

	go c.export(sess)
	return true
}

func (c *Coordinator) export(sess *session) {
	defer c.wg.Done()
	stopErr := sess.enc.Stop()
	data, n := sess.assemble()
	art := Artifact{
		MimeType: sess.mime,
		Data:     data,
		Chunks:   n,
		Started:  sess.started,
		Length:   c.cfg.Now().Sub(sess.started),
	}

	var path string
	err := stopErr
	if err == nil {
		path, err = c.cfg.Saver.SaveVideo(art)
	}
	if err != nil {
		c.cfg.Log.Printf("[capture] export failed: %v", err)
	} else {
		c.cfg.Log.Printf("[capture] saved %s (%d bytes, %d chunks)", path, len(data), n)
	}

	c.mu.Lock()
	c.state = Idle
	c.session = nil
	c.holdUntil = c.cfg.Now().Add(c.cfg.ExportHold)
	hook := c.onExport
	c.mu.Unlock()
	if hook != nil {
		hook(path, art, err)
	}
}

// Wait blocks until every pending export has finished.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Snapshot saves one still. It never touches the recording state.
func (c *Coordinator) Snapshot(src StillSource) (string, error) {
	data, err := src.CaptureStill()
	if err != nil {
		return "", fmt.Errorf("capture still: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("capture still: empty image")
	}
	return c.cfg.Saver.SaveStill(data, c.cfg.Now())
}

// DisplayStatus is the pipeline label: RECORDING and EXPORTING take precedence
// over playback. EXPORTING stays visible for the export hold after saving.
func (c *Coordinator) DisplayStatus(playing bool) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.state == Recording:
		return "RECORDING"
	case c.state == Exporting || c.cfg.Now().Before(c.holdUntil):
		return "EXPORTING"
	case playing:
		return "PROCESSING"
	default:
		return "IDLE"
	}
}
