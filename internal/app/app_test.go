package app

import (
	"errors"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/eiannone/keyboard"
	"github.com/guidoenr/partivision/internal/audio"
	"github.com/guidoenr/partivision/internal/capture"
	"github.com/guidoenr/partivision/internal/params"
	"github.com/guidoenr/partivision/internal/pipeline"
	"github.com/guidoenr/partivision/internal/render"
	"github.com/guidoenr/partivision/internal/visual"
)

type noBackend struct{}

func (noBackend) IsTypeSupported(string) bool { return false }

func (noBackend) NewEncoder(capture.Stream, *capture.Options) (capture.Encoder, error) {
	return nil, errors.New("no encoder")
}

func newTestApp(t *testing.T) (*App, string) {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	dir := t.TempDir()
	eng := audio.NewEngine(audio.EngineConfig{Log: quiet})
	t.Cleanup(func() { _ = eng.Close() })
	if err := eng.Load("synthetic"); err != nil {
		t.Fatalf("load: %v", err)
	}
	r, err := render.New(32, 18, nil)
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	rec := capture.New(capture.Config{
		Backend:  noBackend{},
		Saver:    capture.DirSaver{Dir: dir},
		Fallback: "video/x-partivision",
		Log:      quiet,
	})
	ctrl, err := pipeline.New(pipeline.Config{
		Audio:    eng,
		Renderer: r,
		Recorder: rec,
		Mapper:   visual.NewMapper(1),
		Log:      quiet,
	})
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	t.Cleanup(ctrl.Close)
	a, err := New(Config{Controller: ctrl, Log: quiet})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	return a, dir
}

func TestHotkeys(t *testing.T) {
	a, dir := newTestApp(t)

	a.handleKey(inputEvent{char: '2'})
	if got := a.ctrl.Status().Visual; got != visual.Names()[1] {
		t.Fatalf("visual=%s want %s", got, visual.Names()[1])
	}
	a.handleKey(inputEvent{key: keyboard.KeySpace})
	if !a.ctrl.Status().Playing {
		t.Fatalf("space did not start playback")
	}
	a.handleKey(inputEvent{char: 'k'})
	if a.ctrl.Status().Playing {
		t.Fatalf("k did not pause")
	}
	a.handleKey(inputEvent{char: 'c'})
	if m := a.ctrl.Camera().Mode; m != params.CameraFly {
		t.Fatalf("camera=%s", m)
	}
	a.handleKey(inputEvent{char: 'p'})
	if p := a.ctrl.Params(); p.Size != 1.5 {
		t.Fatalf("first preset should be club, params=%+v", p)
	}
	a.handleKey(inputEvent{char: 'm'})
	if len(a.ctrl.Status().Macros) != len(a.ctrl.Macros()) {
		t.Fatalf("m should switch every macro on")
	}
	a.handleKey(inputEvent{char: 's'})
	files, _ := filepath.Glob(filepath.Join(dir, "PARTIVISION_SNAP_*.png"))
	if len(files) != 1 {
		t.Fatalf("snapshots=%v", files)
	}
	if !a.handleKey(inputEvent{char: 'q'}) || !a.handleKey(inputEvent{key: keyboard.KeyEsc}) {
		t.Fatalf("quit keys not recognised")
	}
}

func TestPaletteHotkeyCyclesTerminalRamp(t *testing.T) {
	a, _ := newTestApp(t)
	a.handleKey(inputEvent{char: 'g'})

	a.cfg.Terminal = render.NewASCII(io.Discard, 8, 4, "spark", false)
	names := render.PaletteNames()
	seen := []string{a.cfg.Terminal.PaletteName()}
	for range names {
		a.handleKey(inputEvent{char: 'g'})
		seen = append(seen, a.cfg.Terminal.PaletteName())
	}
	if seen[0] != "spark" || seen[len(seen)-1] != "spark" {
		t.Fatalf("cycle should wrap back to spark: %v", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] == seen[i-1] {
			t.Fatalf("palette did not change: %v", seen)
		}
	}
}

func TestRecordHotkeyFailsCleanly(t *testing.T) {
	a, _ := newTestApp(t)
	if a.handleKey(inputEvent{char: 'r'}) {
		t.Fatalf("record should not quit")
	}
	if st := a.ctrl.Status().State; st != "IDLE" {
		t.Fatalf("state=%s after failed record", st)
	}
}

func TestStatusBarFitsWidth(t *testing.T) {
	line := StatusLine(func() int { return 30 })(pipeline.Status{State: "RECORDING", Visual: "sphere"})
	if w := lipgloss.Width(line); w != 30 {
		t.Fatalf("width=%d", w)
	}
	if !strings.Contains(line, "RECORDING") {
		t.Fatalf("label missing: %q", line)
	}
	if got := statusBar("abc", 0); got != "abc" {
		t.Fatalf("zero width=%q", got)
	}
}

func TestPickRandomAvoidsCurrent(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 20; i++ {
		if got := pickRandom([]string{"a", "b"}, "a", rng); got == "" {
			t.Fatalf("empty choice")
		}
	}
	if got := pickRandom(nil, "x", rng); got != "x" {
		t.Fatalf("empty options=%q", got)
	}
}

func TestProfilerWritesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.csv")
	p := NewProfiler(path, nil)
	if p == nil {
		t.Fatalf("profiler not created")
	}
	p.BeginFrame()
	for _, s := range []string{"automation", "spectral", "mapping", "composite"} {
		p.Mark(s)
	}
	p.EndFrame()
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "timestamp,section,delta_ms" || len(lines) != 7 {
		t.Fatalf("csv=%q", lines)
	}
	if !strings.Contains(lines[3], ",spectral,") {
		t.Fatalf("section order: %q", lines[3])
	}
	var nilProfiler *Profiler
	nilProfiler.Mark("noop")
	if NewProfiler("", nil) != nil {
		t.Fatalf("empty path should disable profiling")
	}
}
