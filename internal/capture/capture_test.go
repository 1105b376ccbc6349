package capture

import (
	"errors"
	"image"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/guidoenr/partivision/internal/pcm"
)

var errNoSource = errors.New("no source loaded")

type fakeStreamSource struct{ err error }

func (f fakeStreamSource) Subscribe() *pcm.Listener  { return nil }
func (f fakeStreamSource) Unsubscribe(*pcm.Listener) {}

func (f fakeStreamSource) AudioStream() (pcm.Stream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f, nil
}

type fakeVideo struct{}

func (fakeVideo) CurrentFrame() image.Image { return image.NewRGBA(image.Rect(0, 0, 2, 2)) }

type fakeStill struct{ data []byte }

func (f fakeStill) CaptureStill() ([]byte, error) { return f.data, nil }

type fakeEncoder struct {
	mime  string
	emit  func(media.Sample)
	parts []string
}

func (e *fakeEncoder) MimeType() string { return e.mime }

func (e *fakeEncoder) Start(emit func(media.Sample)) error {
	e.emit = emit
	emit(media.Sample{Data: []byte("H")})
	return nil
}

func (e *fakeEncoder) Stop() error {
	for _, p := range e.parts {
		e.emit(media.Sample{Data: []byte(p)})
	}
	return nil
}

type fakeBackend struct {
	supported   map[string]bool
	failOptions bool
	gotOpts     []*Options
	parts       []string
}

func (b *fakeBackend) IsTypeSupported(mime string) bool { return b.supported[mime] }

func (b *fakeBackend) NewEncoder(_ Stream, opts *Options) (Encoder, error) {
	b.gotOpts = append(b.gotOpts, opts)
	if opts != nil && b.failOptions {
		return nil, errors.New("bitrate not supported")
	}
	mime := "default"
	if opts != nil {
		mime = opts.MimeType
	}
	return &fakeEncoder{mime: mime, parts: b.parts}, nil
}

type memSaver struct {
	mu     sync.Mutex
	videos []Artifact
	stills [][]byte
}

func (m *memSaver) SaveVideo(a Artifact) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos = append(m.videos, a)
	return "video", nil
}

func (m *memSaver) SaveStill(png []byte, _ time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stills = append(m.stills, png)
	return "still", nil
}

func newTestCoordinator(b Backend, s Saver) *Coordinator {
	return New(Config{
		Backend:     b,
		Saver:       s,
		Preferences: []string{"best", "good"},
		Fallback:    "default",
		Bitrate:     25_000_000,
		Log:         log.New(io.Discard, "", 0),
	})
}

func TestStartRequiresAudio(t *testing.T) {
	c := newTestCoordinator(&fakeBackend{}, &memSaver{})
	err := c.Start(fakeVideo{}, fakeStreamSource{err: errNoSource})
	if !errors.Is(err, errNoSource) {
		t.Fatalf("err=%v", err)
	}
	if c.State() != Idle {
		t.Fatalf("state=%s", c.State())
	}
}

func TestDuplicateStartKeepsOneSession(t *testing.T) {
	b := &fakeBackend{supported: map[string]bool{"good": true}}
	c := newTestCoordinator(b, &memSaver{})
	if err := c.Start(fakeVideo{}, fakeStreamSource{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(fakeVideo{}, fakeStreamSource{}); !errors.Is(err, ErrCaptureInProgress) {
		t.Fatalf("second start err=%v", err)
	}
	if len(b.gotOpts) != 1 {
		t.Fatalf("encoders built=%d want 1", len(b.gotOpts))
	}
	if got := b.gotOpts[0].MimeType; got != "good" {
		t.Fatalf("mime=%s want first supported preference", got)
	}
}

func TestStopThenStartProducesTwoArtifacts(t *testing.T) {
	b := &fakeBackend{supported: map[string]bool{"best": true}, parts: []string{"a", "b"}}
	s := &memSaver{}
	c := newTestCoordinator(b, s)
	for i := 0; i < 2; i++ {
		if err := c.Start(fakeVideo{}, fakeStreamSource{}); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if !c.Stop() {
			t.Fatalf("stop %d reported no session", i)
		}
		c.Wait()
	}
	if len(s.videos) != 2 {
		t.Fatalf("artifacts=%d want 2", len(s.videos))
	}
	for _, a := range s.videos {
		if string(a.Data) != "Hab" || a.Chunks != 3 {
			t.Fatalf("artifact=%q chunks=%d", a.Data, a.Chunks)
		}
	}
	if c.State() != Idle {
		t.Fatalf("state=%s after export", c.State())
	}
}

func TestStartRejectedWhileExporting(t *testing.T) {
	block := make(chan struct{})
	b := &blockingBackend{release: block}
	c := newTestCoordinator(b, &memSaver{})
	if err := c.Start(fakeVideo{}, fakeStreamSource{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.Stop()
	if err := c.Start(fakeVideo{}, fakeStreamSource{}); !errors.Is(err, ErrCaptureInProgress) {
		t.Fatalf("start during export err=%v", err)
	}
	if got := c.DisplayStatus(true); got != "EXPORTING" {
		t.Fatalf("status=%s", got)
	}
	close(block)
	c.Wait()
	if err := c.Start(fakeVideo{}, fakeStreamSource{}); err != nil {
		t.Fatalf("start after export: %v", err)
	}
}

type blockingBackend struct{ release chan struct{} }

func (b *blockingBackend) IsTypeSupported(string) bool { return false }

func (b *blockingBackend) NewEncoder(Stream, *Options) (Encoder, error) {
	return &blockingEncoder{release: b.release}, nil
}

type blockingEncoder struct{ release chan struct{} }

func (e *blockingEncoder) MimeType() string                    { return "default" }
func (e *blockingEncoder) Start(emit func(media.Sample)) error { return nil }
func (e *blockingEncoder) Stop() error {
	<-e.release
	return nil
}

func TestEncoderFallbackToDefaults(t *testing.T) {
	b := &fakeBackend{supported: map[string]bool{"best": true}, failOptions: true}
	c := newTestCoordinator(b, &memSaver{})
	if err := c.Start(fakeVideo{}, fakeStreamSource{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(b.gotOpts) != 2 || b.gotOpts[1] != nil {
		t.Fatalf("expected retry with nil options, got %v", b.gotOpts)
	}
	if c.State() != Recording {
		t.Fatalf("state=%s", c.State())
	}
}

func TestEncodingFallsBackWhenNothingSupported(t *testing.T) {
	c := newTestCoordinator(&fakeBackend{}, &memSaver{})
	if got := c.Encoding(); got != "default" {
		t.Fatalf("encoding=%s", got)
	}
}

func TestSnapshotDuringRecording(t *testing.T) {
	b := &fakeBackend{supported: map[string]bool{"best": true}}
	s := &memSaver{}
	c := newTestCoordinator(b, s)
	_ = c.Start(fakeVideo{}, fakeStreamSource{})
	if _, err := c.Snapshot(fakeStill{data: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if c.State() != Recording || len(s.stills) != 1 {
		t.Fatalf("state=%s stills=%d", c.State(), len(s.stills))
	}
	if _, err := c.Snapshot(fakeStill{}); err == nil {
		t.Fatalf("empty still should fail")
	}
}

func TestDisplayStatusHold(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(Config{
		Backend:    &fakeBackend{},
		Saver:      &memSaver{},
		Fallback:   "default",
		ExportHold: time.Second,
		Now:        func() time.Time { return now },
		Log:        log.New(io.Discard, "", 0),
	})
	if got := c.DisplayStatus(false); got != "IDLE" {
		t.Fatalf("status=%s", got)
	}
	_ = c.Start(fakeVideo{}, fakeStreamSource{})
	if got := c.DisplayStatus(true); got != "RECORDING" {
		t.Fatalf("status=%s", got)
	}
	c.Stop()
	c.Wait()
	if got := c.DisplayStatus(true); got != "EXPORTING" {
		t.Fatalf("status inside hold=%s", got)
	}
	now = now.Add(2 * time.Second)
	if got := c.DisplayStatus(true); got != "PROCESSING" {
		t.Fatalf("status after hold=%s", got)
	}
}

func TestDirSaverNames(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2025, 3, 9, 14, 5, 7, 0, time.UTC)
	d := DirSaver{Dir: dir}
	p1, err := d.SaveVideo(Artifact{MimeType: "video/x-partivision;codecs=mjpeg", Data: []byte("x"), Started: at})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if filepath.Base(p1) != "PARTIVISION_2025-03-09_14-05.pvis" {
		t.Fatalf("name=%s", filepath.Base(p1))
	}
	p2, _ := d.SaveVideo(Artifact{MimeType: "video/x-partivision", Data: []byte("y"), Started: at})
	if p1 == p2 {
		t.Fatalf("second save overwrote first")
	}
	still, _ := d.SaveStill([]byte("png"), at)
	if filepath.Base(still) != "PARTIVISION_SNAP_14-05-07.png" {
		t.Fatalf("still name=%s", filepath.Base(still))
	}
	if b, _ := os.ReadFile(p1); string(b) != "x" {
		t.Fatalf("content=%q", b)
	}
}
