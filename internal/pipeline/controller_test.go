package pipeline

import (
	"bytes"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/guidoenr/partivision/internal/analyzer"
	"github.com/guidoenr/partivision/internal/audio"
	"github.com/guidoenr/partivision/internal/capture"
	"github.com/guidoenr/partivision/internal/console"
	"github.com/guidoenr/partivision/internal/params"
	"github.com/guidoenr/partivision/internal/pcm"
	"github.com/guidoenr/partivision/internal/render"
	"github.com/guidoenr/partivision/internal/visual"
)

type fakeAudio struct {
	mu      sync.Mutex
	loaded  bool
	playing bool
	pulls   int
	fft     int
}

func (f *fakeAudio) Load(string) error {
	f.mu.Lock()
	f.loaded = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAudio) Loaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

func (f *fakeAudio) SourceName() string { return "fake" }

func (f *fakeAudio) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.loaded {
		return audio.ErrNoSourceLoaded
	}
	f.playing = true
	return nil
}

func (f *fakeAudio) Pause() {
	f.mu.Lock()
	f.playing = false
	f.mu.Unlock()
}

func (f *fakeAudio) Seek(float64) error { return nil }

func (f *fakeAudio) SetVolume(float64) {}

func (f *fakeAudio) Progress() (time.Duration, time.Duration) { return 0, 0 }

func (f *fakeAudio) IsPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func (f *fakeAudio) GetFrequencyData() analyzer.Frame {
	f.mu.Lock()
	f.pulls++
	f.mu.Unlock()
	frame := make(analyzer.Frame, 1024)
	for i := range frame {
		frame[i] = 200
	}
	return frame
}

func (f *fakeAudio) SampleRate() float64 { return 48_000 }

func (f *fakeAudio) SetAnalysisSize(n int) error {
	f.fft = n
	return nil
}

func (f *fakeAudio) AnalysisSize() int { return 2048 }

func (f *fakeAudio) AudioStream() (pcm.Stream, error) {
	if !f.Loaded() {
		return nil, audio.ErrNoSourceLoaded
	}
	return nil, nil
}

// spyRenderer wraps a headless renderer and counts composites.
type spyRenderer struct {
	*render.Renderer
	mu         sync.Mutex
	composites int
	draws      int
	last       render.Scene
	fail       error
}

func (s *spyRenderer) Composite(sc render.Scene) error {
	s.mu.Lock()
	s.composites++
	s.last = sc
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		return fail
	}
	return s.Renderer.Composite(sc)
}

func (s *spyRenderer) Draw(sc render.Scene) {
	s.mu.Lock()
	s.draws++
	s.mu.Unlock()
	s.Renderer.Draw(sc)
}

func (s *spyRenderer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composites
}

type fakeRecorder struct {
	mu    sync.Mutex
	state capture.State
	still []byte
}

func (f *fakeRecorder) Start(_ capture.VideoSource, src capture.AudioSource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != capture.Idle {
		return capture.ErrCaptureInProgress
	}
	if _, err := src.AudioStream(); err != nil {
		return err
	}
	f.state = capture.Recording
	return nil
}

func (f *fakeRecorder) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != capture.Recording {
		return false
	}
	f.state = capture.Idle
	return true
}

func (f *fakeRecorder) State() capture.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRecorder) Encoding() string { return "video/x-partivision" }

func (f *fakeRecorder) Snapshot(src capture.StillSource) (string, error) {
	data, err := src.CaptureStill()
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.still = data
	f.mu.Unlock()
	return "snap.png", nil
}

func (f *fakeRecorder) DisplayStatus(playing bool) string {
	switch {
	case f.State() == capture.Recording:
		return "RECORDING"
	case playing:
		return "PROCESSING"
	}
	return "IDLE"
}

type rig struct {
	ctrl     *Controller
	audio    *fakeAudio
	renderer *spyRenderer
	recorder *fakeRecorder
}

func newRig(t *testing.T, mutate func(*Config)) rig {
	t.Helper()
	r, err := render.New(32, 18, nil)
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	rg := rig{audio: &fakeAudio{}, renderer: &spyRenderer{Renderer: r}, recorder: &fakeRecorder{}}
	cfg := Config{
		Audio:    rg.audio,
		Renderer: rg.renderer,
		Recorder: rg.recorder,
		Mapper:   visual.NewMapper(1),
		Log:      log.New(io.Discard, "", 0),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	rg.ctrl, err = New(cfg)
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	t.Cleanup(rg.ctrl.Close)
	return rg
}

func TestIdleTickStillComposites(t *testing.T) {
	rg := newRig(t, nil)
	if err := rg.ctrl.Tick(0); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if rg.renderer.count() != 1 {
		t.Fatalf("composites=%d want 1", rg.renderer.count())
	}
	if rg.audio.pulls != 0 {
		t.Fatalf("spectrum pulled while idle")
	}
	for _, m := range rg.renderer.last.Models {
		if m.Visible() {
			t.Fatalf("%s visible while idle", m.Name)
		}
	}
}

func TestPlayingTickMapsActiveModel(t *testing.T) {
	rg := newRig(t, func(c *Config) { c.Visual = "galaxy" })
	_ = rg.audio.Load("x")
	if err := rg.ctrl.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := rg.ctrl.Tick(0); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if rg.audio.pulls != 1 {
		t.Fatalf("pulls=%d", rg.audio.pulls)
	}
	visible := 0
	for _, m := range rg.renderer.last.Models {
		if m.Visible() {
			visible++
			if m.Name != visual.Galaxy {
				t.Fatalf("visible model %s", m.Name)
			}
		}
	}
	if visible != 1 {
		t.Fatalf("visible=%d", visible)
	}
	// the state change precedes the first peak report
	entries := rg.ctrl.Console().Entries()
	if got := entries[len(entries)-2].Message; got != "Pipeline State Changed: PROCESSING" {
		t.Fatalf("console entry %q", got)
	}
}

func TestTicksInsideIntervalAreDropped(t *testing.T) {
	rg := newRig(t, nil)
	for _, now := range []float64{0, 5, 10, 16, 17, 30} {
		_ = rg.ctrl.Tick(now)
	}
	// 60 fps: passes at 0 and 17 only.
	if got := rg.renderer.count(); got != 2 {
		t.Fatalf("composites=%d want 2", got)
	}
	if s := rg.ctrl.FrameStats(); s.Dropped != 4 {
		t.Fatalf("dropped=%d", s.Dropped)
	}
}

func TestSnapshotWhilePausedRendersFresh(t *testing.T) {
	rg := newRig(t, nil)
	path, err := rg.ctrl.Snapshot()
	if err != nil || path == "" {
		t.Fatalf("snapshot: %q %v", path, err)
	}
	if rg.renderer.draws != 1 || rg.renderer.count() != 0 {
		t.Fatalf("paused snapshot should draw once without presenting, draws=%d composites=%d",
			rg.renderer.draws, rg.renderer.count())
	}
	if len(rg.recorder.still) == 0 || !bytes.HasPrefix(rg.recorder.still, []byte("\x89PNG")) {
		t.Fatalf("still is not a PNG")
	}
	if rg.recorder.State() != capture.Idle {
		t.Fatalf("snapshot changed recorder state")
	}
}

func TestSnapshotDuringRecording(t *testing.T) {
	rg := newRig(t, nil)
	_ = rg.ctrl.Load("x")
	if _, err := rg.ctrl.ToggleRecord(); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := rg.ctrl.Snapshot(); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if rg.recorder.State() != capture.Recording {
		t.Fatalf("state=%s", rg.recorder.State())
	}
	if st, _ := rg.ctrl.ToggleRecord(); st != capture.Idle {
		t.Fatalf("after stop state=%s", st)
	}
}

func TestRecordWithoutSourceFails(t *testing.T) {
	rg := newRig(t, nil)
	if _, err := rg.ctrl.ToggleRecord(); !errors.Is(err, audio.ErrNoSourceLoaded) {
		t.Fatalf("err=%v", err)
	}
}

func TestQueueTransitionFiresFromTimer(t *testing.T) {
	rg := newRig(t, nil)
	if err := rg.ctrl.QueueTransition("crystalline", 0.02); err != nil {
		t.Fatalf("queue: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for rg.ctrl.Status().Visual != string(visual.Crystalline) {
		if time.Now().After(deadline) {
			t.Fatalf("transition never applied, visual=%s", rg.ctrl.Status().Visual)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(rg.ctrl.Status().Pending); n != 0 {
		t.Fatalf("pending=%d", n)
	}
	// the applying callback holds mu until it has dropped its timer
	rg.ctrl.mu.Lock()
	n := len(rg.ctrl.timers)
	rg.ctrl.mu.Unlock()
	if n != 0 {
		t.Fatalf("fired timers still tracked: %d", n)
	}
}

func TestQueueTransitionUnknownModel(t *testing.T) {
	rg := newRig(t, nil)
	if err := rg.ctrl.QueueTransition("blob", 1); !errors.Is(err, visual.ErrUnknownModel) {
		t.Fatalf("err=%v", err)
	}
	if err := rg.ctrl.SetVisual("blob"); !errors.Is(err, visual.ErrUnknownModel) {
		t.Fatalf("err=%v", err)
	}
}

func TestResolutionAppliesOnNextTick(t *testing.T) {
	rg := newRig(t, nil)
	if err := rg.ctrl.SetResolution("320x200"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if w, h := rg.renderer.Size(); w != 32 || h != 18 {
		t.Fatalf("resized early: %dx%d", w, h)
	}
	_ = rg.ctrl.Tick(0)
	if w, h := rg.renderer.Size(); w != 320 || h != 200 {
		t.Fatalf("size=%dx%d", w, h)
	}
	if err := rg.ctrl.SetResolution("huge"); !errors.Is(err, params.ErrInvalidParameter) {
		t.Fatalf("err=%v", err)
	}
	if got := rg.ctrl.Status().Resolution; got != "320x200" {
		t.Fatalf("mode changed to %s", got)
	}
}

func TestWindowResolutionUsesScale(t *testing.T) {
	rg := newRig(t, func(c *Config) {
		c.Surface = func() (int, int) { return 40, 20 }
		c.Params = params.Defaults()
		c.Params.ResolutionScale = 2
	})
	_ = rg.ctrl.Tick(0)
	if w, h := rg.renderer.Size(); w != 80 || h != 40 {
		t.Fatalf("size=%dx%d", w, h)
	}
}

func TestPresenterClosedSurfacesFromTick(t *testing.T) {
	rg := newRig(t, nil)
	rg.renderer.fail = render.ErrPresenterClosed
	if err := rg.ctrl.Tick(0); !errors.Is(err, render.ErrPresenterClosed) {
		t.Fatalf("err=%v", err)
	}
}

func TestSetParametersClamps(t *testing.T) {
	rg := newRig(t, nil)
	p := rg.ctrl.Params()
	p.TargetFPS = 0
	p.Size = -3
	got, err := rg.ctrl.SetParameters(p)
	if !errors.Is(err, params.ErrInvalidParameter) {
		t.Fatalf("err=%v", err)
	}
	if got.TargetFPS != params.MinFPS || got.Size != 0 {
		t.Fatalf("not clamped: %+v", got)
	}
	if err := rg.ctrl.ApplyPreset("club"); err != nil {
		t.Fatalf("preset: %v", err)
	}
	if p := rg.ctrl.Params(); p.Size != 1.5 || p.BloomStrength != 0.8 {
		t.Fatalf("preset not applied: %+v", p)
	}
	if err := rg.ctrl.ApplyPreset("loud"); !errors.Is(err, params.ErrUnknownPreset) {
		t.Fatalf("err=%v", err)
	}
}

func TestCameraControls(t *testing.T) {
	rg := newRig(t, nil)
	rg.ctrl.Zoom(-10000)
	if d := rg.ctrl.Camera().Distance; d != params.MinDistance {
		t.Fatalf("distance=%v", d)
	}
	if m := rg.ctrl.NextCameraMode(); m != params.CameraFly {
		t.Fatalf("mode=%s", m)
	}
	if err := rg.ctrl.SetCameraMode("warp"); !errors.Is(err, params.ErrInvalidParameter) {
		t.Fatalf("err=%v", err)
	}
}

func TestMacroToggleTakesEffectNextTick(t *testing.T) {
	rg := newRig(t, nil)
	if on, err := rg.ctrl.ToggleMacro("zoomPulse"); err != nil || !on {
		t.Fatalf("toggle: %v %v", on, err)
	}
	_ = rg.ctrl.Tick(250)
	if d := rg.ctrl.Camera().Distance; d == params.DefaultCamera().Distance {
		t.Fatalf("zoomPulse did not move the camera")
	}
}

var _ RenderBackend = (*spyRenderer)(nil)

func TestPeakLevelReportedWhilePlaying(t *testing.T) {
	rg := newRig(t, func(c *Config) { c.LevelInterval = time.Second })
	_ = rg.audio.Load("x")
	_ = rg.ctrl.Play()
	for _, now := range []float64{0, 500, 1000, 1500} {
		if err := rg.ctrl.Tick(now); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	reports := 0
	for _, e := range rg.ctrl.Console().Entries() {
		if strings.HasPrefix(e.Message, "Peak Level: ") {
			reports++
			if e.Tag != console.TagAudio {
				t.Fatalf("tag=%s", e.Tag)
			}
		}
	}
	if reports != 2 {
		t.Fatalf("peak reports=%d want 2", reports)
	}
	if lv := rg.ctrl.Status().Levels; lv.Peak == 0 || lv.Bass == 0 {
		t.Fatalf("levels=%+v", lv)
	}

	rg.ctrl.Pause()
	_ = rg.ctrl.Tick(2000)
	if lv := rg.ctrl.Status().Levels; lv.Peak != 0 {
		t.Fatalf("levels kept while paused: %+v", lv)
	}
}
