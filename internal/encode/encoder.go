package encode

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/guidoenr/partivision/internal/capture"
	"github.com/guidoenr/partivision/internal/pcm"
)

// Encodings in preference order.
const (
	MimeBase      = "video/x-partivision"
	MimeMJPEG     = MimeBase + ";codecs=mjpeg"
	MimeMJPEGOpus = MimeBase + ";codecs=mjpeg,opus"
)

// Preferences lists the encodings the capture coordinator should try, best first.
func Preferences() []string { return []string{MimeMJPEGOpus, MimeMJPEG} }

const (
	opusRate     = 48_000
	opusChannels = 2
	opusFrame    = 960 // 20 ms at 48 kHz
	opusBitrate  = 128_000

	defaultQuality = 75
)

// Config configures the Backend.
type Config struct {
	// DisableAudio records video only even when Opus is available.
	DisableAudio bool
	Log          *log.Logger
}

// Backend builds MJPEG (+Opus) encoders.
type Backend struct {
	opus bool
	log  *log.Logger
}

// NewBackend checks once whether an Opus encoder can be created.
func NewBackend(cfg Config) *Backend {
	if cfg.Log == nil {
		cfg.Log = log.New(os.Stderr, "", log.LstdFlags)
	}
	b := &Backend{log: cfg.Log}
	if !cfg.DisableAudio {
		if _, err := opus.NewEncoder(opusRate, opusChannels, opus.AppAudio); err == nil {
			b.opus = true
		} else {
			cfg.Log.Printf("[capture] opus unavailable, video-only recordings: %v", err)
		}
	}
	return b
}

// IsTypeSupported reports whether mime can be produced.
func (b *Backend) IsTypeSupported(mime string) bool {
	switch mime {
	case MimeMJPEGOpus:
		return b.opus
	case MimeMJPEG, MimeBase:
		return true
	}
	return false
}

// NewEncoder returns an encoder for s. A nil opts uses the base encoding at the
// default quality with audio when available.
func (b *Backend) NewEncoder(s capture.Stream, opts *capture.Options) (capture.Encoder, error) {
	mime := MimeBase
	quality := defaultQuality
	if opts != nil {
		if !b.IsTypeSupported(opts.MimeType) {
			return nil, fmt.Errorf("%w: %s", capture.ErrUnsupportedEncoding, opts.MimeType)
		}
		mime = opts.MimeType
		if opts.VideoBitsPerSecond > 0 {
			quality = qualityFor(opts.VideoBitsPerSecond, s.FrameRate)
		}
	}
	if s.Video == nil {
		return nil, fmt.Errorf("encoder needs a video source")
	}
	withAudio := s.Audio != nil && b.opus && (mime == MimeMJPEGOpus || mime == MimeBase)

	e := &Encoder{
		mime:    mime,
		stream:  s,
		quality: quality,
		log:     b.log,
		stop:    make(chan struct{}),
	}
	if withAudio {
		enc, err := opus.NewEncoder(opusRate, opusChannels, opus.AppAudio)
		if err != nil {
			return nil, fmt.Errorf("opus encoder: %w", err)
		}
		if err := enc.SetBitrate(opusBitrate); err != nil {
			return nil, fmt.Errorf("opus bitrate: %w", err)
		}
		e.opus = enc
	}
	return e, nil
}

// qualityFor maps a video bitrate to a JPEG quality: 25 Mbps at 60 fps lands near 90.
func qualityFor(bps, fps int) int {
	if fps <= 0 {
		fps = 60
	}
	perFrame := bps / fps
	q := 40 + perFrame/8_000
	if q < 40 {
		q = 40
	}
	if q > 95 {
		q = 95
	}
	return q
}

// Encoder records one session. Chunks are emitted from a single lock so their
// order in the artifact is their arrival order.
type Encoder struct {
	mime    string
	stream  capture.Stream
	quality int
	opus    *opus.Encoder
	log     *log.Logger

	emitMu  sync.Mutex
	emit    func(media.Sample)
	started time.Time

	stop    chan struct{}
	wg      sync.WaitGroup
	stopped sync.Once
	frames  int
}

// MimeType returns the encoding in use.
func (e *Encoder) MimeType() string { return e.mime }

// Start writes the header chunk and begins sampling video and audio.
func (e *Encoder) Start(emit func(media.Sample)) error {
	e.emit = emit
	e.started = time.Now()
	emit(media.Sample{Data: headerChunk(e.mime), Timestamp: e.started})

	e.wg.Add(1)
	go e.videoLoop()
	if e.opus != nil {
		l := e.stream.Audio.Subscribe()
		if l == nil {
			e.opus = nil
		} else {
			e.wg.Add(1)
			go e.audioLoop(l)
		}
	}
	return nil
}

// Stop ends sampling and returns after the last chunk is out.
func (e *Encoder) Stop() error {
	e.stopped.Do(func() { close(e.stop) })
	e.wg.Wait()
	return nil
}

func (e *Encoder) write(track Track, at time.Time, d time.Duration, payload []byte) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	e.emit(media.Sample{
		Data:      recordChunk(track, at.Sub(e.started), payload),
		Timestamp: at,
		Duration:  d,
	})
}

func (e *Encoder) videoLoop() {
	defer e.wg.Done()
	fps := e.stream.FrameRate
	if fps <= 0 {
		fps = 60
	}
	interval := time.Second / time.Duration(fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var buf bytes.Buffer
	grab := func() {
		frame := e.stream.Video.CurrentFrame()
		if frame == nil {
			return
		}
		buf.Reset()
		if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: e.quality}); err != nil {
			e.log.Printf("[capture] jpeg: %v", err)
			return
		}
		e.frames++
		e.write(TrackVideo, time.Now(), interval, append([]byte(nil), buf.Bytes()...))
	}

	for {
		select {
		case <-e.stop:
			// keep short recordings valid
			if e.frames == 0 {
				grab()
			}
			return
		case <-ticker.C:
			grab()
		}
	}
}

func (e *Encoder) audioLoop(l *pcm.Listener) {
	defer e.wg.Done()
	defer e.stream.Audio.Unsubscribe(l)

	var rs *resampler
	var rate float64
	var pending []float32
	out := make([]byte, 4000)
	frameLen := opusFrame * opusChannels
	frameDur := 20 * time.Millisecond

	flush := func(final bool) {
		if final && len(pending) > 0 && len(pending) < frameLen {
			pending = append(pending, make([]float32, frameLen-len(pending))...)
		}
		for len(pending) >= frameLen {
			n, err := e.opus.EncodeFloat32(pending[:frameLen], out)
			pending = pending[frameLen:]
			if err != nil {
				e.log.Printf("[capture] opus: %v", err)
				continue
			}
			e.write(TrackAudio, time.Now(), frameDur, append([]byte(nil), out[:n]...))
		}
	}

	for {
		select {
		case <-e.stop:
			flush(true)
			return
		case <-l.Done():
			flush(true)
			return
		case blk, ok := <-l.C:
			if !ok {
				flush(true)
				return
			}
			stereo := toStereo(blk.Samples, blk.Channels)
			if rs == nil || blk.SampleRate != rate {
				rate = blk.SampleRate
				rs = newResampler(rate, opusRate, opusChannels)
			}
			pending = append(pending, rs.process(stereo)...)
			flush(false)
		}
	}
}
