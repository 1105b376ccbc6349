// Package pipeline is the visualization controller: it runs the per-frame pass and
// owns every user-facing control.
package pipeline

import (
	"errors"
	"fmt"
	"image"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guidoenr/partivision/internal/analyzer"
	"github.com/guidoenr/partivision/internal/automation"
	"github.com/guidoenr/partivision/internal/capture"
	"github.com/guidoenr/partivision/internal/console"
	"github.com/guidoenr/partivision/internal/params"
	"github.com/guidoenr/partivision/internal/pcm"
	"github.com/guidoenr/partivision/internal/render"
	"github.com/guidoenr/partivision/internal/scheduler"
	"github.com/guidoenr/partivision/internal/visual"
)

const (
	// maxDimension bounds explicit WxH resolutions.
	maxDimension = 8192
	// levelFloor gates band levels shown in the status.
	levelFloor = 0.05
	// DefaultLevelInterval spaces the console peak reports while playing.
	DefaultLevelInterval = 5 * time.Second
)

// AudioSource is the analysed, playable audio the pipeline pulls spectra from.
type AudioSource interface {
	Load(name string) error
	Loaded() bool
	SourceName() string
	Play() error
	Pause()
	Seek(fraction float64) error
	SetVolume(percent float64)
	Progress() (position, duration time.Duration)
	IsPlaying() bool
	GetFrequencyData() analyzer.Frame
	SampleRate() float64
	SetAnalysisSize(n int) error
	AnalysisSize() int
	AudioStream() (pcm.Stream, error)
}

// RenderBackend draws a scene and exposes the frame for capture.
type RenderBackend interface {
	Resize(width, height int)
	Size() (int, int)
	SetBloom(strength float64)
	Composite(s render.Scene) error
	Draw(s render.Scene)
	CurrentFrame() image.Image
	CaptureStill() ([]byte, error)
}

// Recorder is the capture state machine.
type Recorder interface {
	Start(video capture.VideoSource, src capture.AudioSource) error
	Stop() bool
	State() capture.State
	Encoding() string
	Snapshot(src capture.StillSource) (string, error)
	DisplayStatus(playing bool) string
}

// Profiler receives section marks for every accepted frame.
type Profiler interface {
	BeginFrame()
	Mark(section string)
	EndFrame()
}

type noProfiler struct{}

func (noProfiler) BeginFrame() {}
func (noProfiler) Mark(string) {}
func (noProfiler) EndFrame()   {}

// Config wires a Controller.
type Config struct {
	Audio    AudioSource
	Renderer RenderBackend
	Recorder Recorder
	Console  *console.Console
	Mapper   *visual.Mapper

	Params     params.Parameters
	Camera     params.Camera
	Visual     string
	Resolution string
	Background string

	// Surface returns the presenter size used by the "window" resolution mode.
	Surface func() (width, height int)
	// StatusLine formats the text shown under the frame.
	StatusLine func(Status) string

	// LevelInterval spaces the "Peak Level" console reports; negative disables them.
	LevelInterval time.Duration

	Profiler Profiler
	Now      func() time.Time
	Log      *log.Logger
}

// Controller owns the shared parameter and camera state. Every method is safe for
// concurrent use; the tick pass and the transition timers share one lock.
type Controller struct {
	audio    AudioSource
	renderer RenderBackend
	recorder Recorder
	console  *console.Console
	sched    *scheduler.Scheduler
	auto     *automation.Engine
	prof     Profiler
	log      *log.Logger
	now      func() time.Time
	epoch    time.Time
	surface  func() (int, int)
	line     func(Status) string

	fps atomic.Int64

	mu         sync.Mutex
	params     params.Parameters
	camera     params.Camera
	mapper     *visual.Mapper
	resolution resolution
	pending    *resolution
	background string
	preset     int
	err        error
	timers     map[*time.Timer]struct{}
	levels     analyzer.Features
	levelEvery float64 // ms
	levelDue   float64
}

type resolution struct {
	window bool
	width  int
	height int
}

func (r resolution) String() string {
	if r.window {
		return "window"
	}
	return fmt.Sprintf("%dx%d", r.width, r.height)
}

// ParseResolution accepts "window" or "WxH".
func ParseResolution(mode string) (window bool, width, height int, err error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" || mode == "window" {
		return true, 0, 0, nil
	}
	ws, hs, ok := strings.Cut(mode, "x")
	if !ok {
		return false, 0, 0, fmt.Errorf("%w: resolution %q", params.ErrInvalidParameter, mode)
	}
	width, err1 := strconv.Atoi(ws)
	height, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 || width > maxDimension || height > maxDimension {
		return false, 0, 0, fmt.Errorf("%w: resolution %q", params.ErrInvalidParameter, mode)
	}
	return false, width, height, nil
}

// New builds a controller. Audio, Renderer and Recorder are required.
func New(cfg Config) (*Controller, error) {
	if cfg.Audio == nil || cfg.Renderer == nil || cfg.Recorder == nil {
		return nil, errors.New("pipeline: audio, renderer and recorder are required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New(os.Stderr, "", log.LstdFlags)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Console == nil {
		cfg.Console = console.New()
	}
	if cfg.Mapper == nil {
		cfg.Mapper = visual.NewMapper(time.Now().UnixNano())
	}
	if cfg.Profiler == nil {
		cfg.Profiler = noProfiler{}
	}
	if cfg.Params == (params.Parameters{}) {
		cfg.Params = params.Defaults()
	}
	if cfg.Camera == (params.Camera{}) {
		cfg.Camera = params.DefaultCamera()
	}
	if cfg.Surface == nil {
		w, h := cfg.Renderer.Size()
		cfg.Surface = func() (int, int) { return w, h }
	}
	if cfg.StatusLine == nil {
		cfg.StatusLine = DefaultStatusLine
	}
	if cfg.LevelInterval == 0 {
		cfg.LevelInterval = DefaultLevelInterval
	}
	cfg.Params.Clamp()

	c := &Controller{
		audio:      cfg.Audio,
		renderer:   cfg.Renderer,
		recorder:   cfg.Recorder,
		console:    cfg.Console,
		auto:       automation.NewEngine(),
		prof:       cfg.Profiler,
		log:        cfg.Log,
		now:        cfg.Now,
		epoch:      cfg.Now(),
		surface:    cfg.Surface,
		line:       cfg.StatusLine,
		params:     cfg.Params,
		camera:     cfg.Camera,
		mapper:     cfg.Mapper,
		resolution: resolution{window: true},
		background: cfg.Background,
		levelEvery: float64(cfg.LevelInterval) / float64(time.Millisecond),
	}
	c.fps.Store(int64(c.params.TargetFPS))
	c.sched = scheduler.New(func() int { return int(c.fps.Load()) }, c.pass)

	if cfg.Visual != "" {
		if err := c.mapper.SwitchVisual(cfg.Visual); err != nil {
			return nil, err
		}
	}
	if cfg.Resolution != "" {
		if err := c.SetResolution(cfg.Resolution); err != nil {
			return nil, err
		}
	}
	if cfg.Background != "" && !render.ValidBackground(cfg.Background) {
		return nil, fmt.Errorf("%w: background %q", params.ErrInvalidParameter, cfg.Background)
	}
	c.console.SetStatusReporter(func() string { return DefaultStatusLine(c.Status()) })
	return c, nil
}

// Now returns milliseconds since the controller was created. It is the clock the
// driver passes to Tick.
func (c *Controller) Now() float64 {
	return float64(c.now().Sub(c.epoch)) / float64(time.Millisecond)
}

// Tick is the refresh callback. It runs a pass when the frame interval has elapsed
// and returns the presenter error once the output surface is gone.
func (c *Controller) Tick(nowMillis float64) error {
	c.sched.Tick(nowMillis)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Console returns the log ring.
func (c *Controller) Console() *console.Console { return c.console }

// FrameStats returns scheduler counters.
func (c *Controller) FrameStats() scheduler.Stats { return c.sched.Stats() }

func (c *Controller) pass(now float64) {
	playing := c.audio.IsPlaying()

	c.mu.Lock()
	c.prof.BeginFrame()
	c.applyResolution()

	if err := c.auto.Tick(now, &c.params, &c.camera, c.mapper); err != nil {
		c.log.Printf("[viz] transition: %v", err)
	}
	c.prof.Mark("automation")

	var frame analyzer.Frame
	var report string
	if playing {
		frame = c.audio.GetFrequencyData()
		report = c.trackLevelsLocked(now, frame)
	} else {
		c.levels = analyzer.Features{}
	}
	c.prof.Mark("spectral")

	c.mapper.Update(frame, c.params)
	c.prof.Mark("mapping")

	c.renderer.SetBloom(c.params.BloomStrength)
	err := c.compositeLocked(now, playing)
	c.prof.Mark("composite")
	c.prof.EndFrame()
	if err != nil && c.err == nil {
		c.err = err
		if !errors.Is(err, render.ErrPresenterClosed) {
			c.log.Printf("render: %v", err)
		}
	}
	c.mu.Unlock()

	c.console.SetStatus(c.recorder.DisplayStatus(playing))
	if report != "" {
		c.console.Log(console.TagAudio, "%s", report)
	}
}

// trackLevelsLocked summarises f for the status and returns a peak report when one
// is due.
func (c *Controller) trackLevelsLocked(now float64, f analyzer.Frame) string {
	raw := analyzer.Summarize(f, c.audio.SampleRate())
	c.levels = analyzer.GateFeatures(raw, levelFloor)
	if c.levelEvery < 0 || now < c.levelDue {
		return ""
	}
	c.levelDue = now + c.levelEvery
	db := analyzer.DefaultMinDecibels + raw.Peak*(analyzer.DefaultMaxDecibels-analyzer.DefaultMinDecibels)
	return fmt.Sprintf("Peak Level: %.1fdB", db)
}

func (c *Controller) compositeLocked(now float64, playing bool) error {
	return c.renderer.Composite(c.sceneLocked(now, playing))
}

func (c *Controller) sceneLocked(now float64, playing bool) render.Scene {
	eye, target := c.camera.View(now)
	return render.Scene{
		Models:     c.mapper.Models(),
		Eye:        eye,
		Target:     target,
		FOV:        c.camera.FOV,
		Status:     c.line(c.statusLocked(playing)),
		Background: c.background,
		Time:       now / 1000,
	}
}

// applyResolution installs a pending mode and keeps the window mode tracking the
// presenter surface.
func (c *Controller) applyResolution() {
	if c.pending != nil {
		c.resolution = *c.pending
		c.pending = nil
	}
	w, h := c.resolution.width, c.resolution.height
	if c.resolution.window {
		sw, sh := c.surface()
		scale := params.ClampScale(c.params.ResolutionScale)
		w, h = sw*scale, sh*scale
	}
	if w <= 0 || h <= 0 {
		return
	}
	if cw, ch := c.renderer.Size(); cw != w || ch != h {
		c.renderer.Resize(w, h)
	}
}

// Load replaces the audio source. Playback stops first.
func (c *Controller) Load(name string) error {
	if err := c.audio.Load(name); err != nil {
		c.console.Log(console.TagError, "Load %s failed: %v", name, err)
		return err
	}
	c.console.Log(console.TagAudio, "Loaded %s", c.audio.SourceName())
	return nil
}

// Play starts playback.
func (c *Controller) Play() error {
	if err := c.audio.Play(); err != nil {
		return err
	}
	c.console.Log(console.TagAudio, "Playback started")
	return nil
}

// Pause stops playback; the pipeline keeps rendering the idle scene.
func (c *Controller) Pause() {
	c.audio.Pause()
	c.console.Log(console.TagAudio, "Playback paused")
}

// TogglePlay flips between Play and Pause.
func (c *Controller) TogglePlay() error {
	if c.audio.IsPlaying() {
		c.Pause()
		return nil
	}
	return c.Play()
}

// Seek moves playback to fraction of the track.
func (c *Controller) Seek(fraction float64) error {
	return c.audio.Seek(fraction)
}

// SetVolume scales output, in percent.
func (c *Controller) SetVolume(percent float64) {
	c.audio.SetVolume(percent)
}

// SetVisual makes name the active model.
func (c *Controller) SetVisual(name string) error {
	c.mu.Lock()
	err := c.mapper.SwitchVisual(name)
	active := c.mapper.Active()
	c.mu.Unlock()
	if err != nil {
		c.console.Log(console.TagError, "%v", err)
		return err
	}
	c.console.Log(console.TagViz, "Visual set to %s", active)
	return nil
}

// SetResolution selects "window" or an explicit "WxH". The change lands at the start
// of the next accepted tick.
func (c *Controller) SetResolution(mode string) error {
	window, w, h, err := ParseResolution(mode)
	if err != nil {
		return err
	}
	r := resolution{window: window, width: w, height: h}
	c.mu.Lock()
	c.pending = &r
	c.mu.Unlock()
	c.console.Log(console.TagViz, "Resolution set to %s", r)
	return nil
}

// SetFFTSize changes the analysis size.
func (c *Controller) SetFFTSize(n int) error {
	if err := c.audio.SetAnalysisSize(n); err != nil {
		return err
	}
	c.console.Log(console.TagAudio, "FFT size set to %d", n)
	return nil
}

// SetBackground selects a backdrop by name, or "none".
func (c *Controller) SetBackground(name string) error {
	if !render.ValidBackground(name) {
		return fmt.Errorf("%w: background %q", params.ErrInvalidParameter, name)
	}
	c.mu.Lock()
	c.background = strings.ToLower(name)
	c.mu.Unlock()
	return nil
}

// ToggleRecord starts a capture when idle and stops it when recording. It returns
// the recorder state after the call.
func (c *Controller) ToggleRecord() (capture.State, error) {
	if c.recorder.State() == capture.Recording {
		c.recorder.Stop()
		c.console.Log(console.TagRec, "Recording stopped, exporting")
		return c.recorder.State(), nil
	}
	if err := c.recorder.Start(c.renderer, c.audio); err != nil {
		c.console.Log(console.TagError, "Record failed: %v", err)
		return c.recorder.State(), err
	}
	c.console.Log(console.TagRec, "Recording %s", c.recorder.Encoding())
	c.console.SetStatus(c.recorder.DisplayStatus(c.audio.IsPlaying()))
	return c.recorder.State(), nil
}

// StopRecording ends an active capture and reports whether one was running.
func (c *Controller) StopRecording() bool {
	if !c.recorder.Stop() {
		return false
	}
	c.console.Log(console.TagRec, "Recording stopped, exporting")
	return true
}

// Snapshot saves a still of the current frame. When paused the frame is drawn
// fresh first. It never changes the recording state.
func (c *Controller) Snapshot() (string, error) {
	if !c.audio.IsPlaying() {
		now := c.Now()
		c.mu.Lock()
		c.mapper.Update(nil, c.params)
		c.renderer.SetBloom(c.params.BloomStrength)
		c.renderer.Draw(c.sceneLocked(now, false))
		c.mu.Unlock()
	}
	path, err := c.recorder.Snapshot(c.renderer)
	if err != nil {
		c.console.Log(console.TagError, "Snapshot failed: %v", err)
		return "", err
	}
	c.console.Log(console.TagRec, "Snapshot saved to %s", path)
	return path, nil
}

// QueueTransition switches to model after delaySeconds. Negative delays are due
// immediately.
func (c *Controller) QueueTransition(model string, delaySeconds float64) error {
	name, err := visual.Lookup(model)
	if err != nil {
		return err
	}
	if delaySeconds < 0 {
		delaySeconds = 0
	}
	now := c.Now()
	c.auto.Queue.Schedule(string(name), delaySeconds, now)

	delay := time.Duration(delaySeconds * float64(time.Second))
	// the callback blocks on mu until the timer is registered
	c.mu.Lock()
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.timers, timer)
		if err := c.auto.Advance(c.Now(), c.mapper); err != nil {
			c.log.Printf("[viz] transition: %v", err)
		}
	})
	if c.timers == nil {
		c.timers = make(map[*time.Timer]struct{})
	}
	c.timers[timer] = struct{}{}
	c.mu.Unlock()
	c.console.Log(console.TagViz, "Transition to %s in %.1fs", name, delaySeconds)
	return nil
}

// ToggleMacro flips one automation macro.
func (c *Controller) ToggleMacro(name string) (bool, error) {
	on, err := c.auto.Macros.Toggle(name)
	if err != nil {
		return false, err
	}
	state := "off"
	if on {
		state = "on"
	}
	c.console.Log(console.TagViz, "Macro %s %s", name, state)
	return on, nil
}

// SetMacro sets one macro on or off.
func (c *Controller) SetMacro(name string, on bool) error {
	return c.auto.Macros.SetActive(name, on)
}

// TuneMacro changes a macro's speed and/or intensity; nil keeps the current value.
func (c *Controller) TuneMacro(name string, speed, intensity *float64) error {
	var cur automation.Macro
	found := false
	for _, m := range c.auto.Macros.List() {
		if strings.EqualFold(m.Name, name) {
			cur, found = m, true
		}
	}
	if !found {
		return fmt.Errorf("%w: %q", automation.ErrUnknownMacro, name)
	}
	if speed != nil {
		cur.Speed = *speed
	}
	if intensity != nil {
		cur.Intensity = *intensity
	}
	if err := c.auto.Macros.Tune(cur.Name, cur.Speed, cur.Intensity); err != nil {
		return err
	}
	c.console.Log(console.TagViz, "Macro %s speed %.2f intensity %.2f", cur.Name, cur.Speed, cur.Intensity)
	return nil
}

// ToggleAllMacros switches every macro off when any runs, otherwise on.
func (c *Controller) ToggleAllMacros() bool {
	on := !c.auto.Macros.AnyActive()
	c.auto.Macros.SetAll(on)
	return on
}

// Macros lists the macro registry in application order.
func (c *Controller) Macros() []automation.Macro { return c.auto.Macros.List() }

// ApplyPreset overwrites size, colour and bloom.
func (c *Controller) ApplyPreset(name string) error {
	c.mu.Lock()
	err := c.params.ApplyPreset(name)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.console.Log(console.TagViz, "Preset %s applied", strings.ToLower(name))
	return nil
}

// NextPreset applies the preset after the last one cycled to.
func (c *Controller) NextPreset() string {
	names := params.PresetNames()
	c.mu.Lock()
	name := names[c.preset%len(names)]
	c.preset++
	c.mu.Unlock()
	_ = c.ApplyPreset(name)
	return name
}

// Params returns a copy of the parameter set.
func (c *Controller) Params() params.Parameters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// SetParameters replaces the parameter set. Out-of-range values are clamped and the
// validation error is returned for reporting only.
func (c *Controller) SetParameters(p params.Parameters) (params.Parameters, error) {
	verr := p.Validate()
	p.Clamp()
	c.mu.Lock()
	c.params = p
	c.mu.Unlock()
	c.fps.Store(int64(p.TargetFPS))
	return p, verr
}

// Camera returns a copy of the camera state.
func (c *Controller) Camera() params.Camera {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.camera
}

// SetCameraMode switches orbit, fly, fps or static.
func (c *Controller) SetCameraMode(mode string) error {
	m, err := params.ParseCameraMode(mode)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.camera.Mode = m
	c.mu.Unlock()
	c.console.Log(console.TagViz, "Camera mode %s", m)
	return nil
}

// NextCameraMode cycles the camera mode.
func (c *Controller) NextCameraMode() params.CameraMode {
	c.mu.Lock()
	c.camera.Mode = params.NextCameraMode(c.camera.Mode)
	m := c.camera.Mode
	c.mu.Unlock()
	c.console.Log(console.TagViz, "Camera mode %s", m)
	return m
}

// UpdateCamera edits the camera under the controller lock.
func (c *Controller) UpdateCamera(fn func(*params.Camera)) {
	c.mu.Lock()
	fn(&c.camera)
	c.camera.Distance = clampFloat(c.camera.Distance, params.MinDistance, params.MaxDistance)
	c.mu.Unlock()
}

// Drag orbits the camera by a pointer delta in pixels.
func (c *Controller) Drag(dx, dy float64) {
	c.UpdateCamera(func(cam *params.Camera) { cam.Drag(dx, dy) })
}

// Zoom moves the camera by a wheel delta.
func (c *Controller) Zoom(delta float64) {
	c.UpdateCamera(func(cam *params.Camera) { cam.Zoom(delta) })
}

// Execute runs a console command.
func (c *Controller) Execute(line string) error { return c.console.Execute(line) }

// Close stops pending transition timers.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for t := range c.timers {
		t.Stop()
	}
	c.timers = nil
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
