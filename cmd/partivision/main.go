package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/guidoenr/partivision/internal/analyzer"
	"github.com/guidoenr/partivision/internal/app"
	"github.com/guidoenr/partivision/internal/audio"
	"github.com/guidoenr/partivision/internal/automation"
	"github.com/guidoenr/partivision/internal/capture"
	"github.com/guidoenr/partivision/internal/console"
	"github.com/guidoenr/partivision/internal/encode"
	"github.com/guidoenr/partivision/internal/params"
	"github.com/guidoenr/partivision/internal/pipeline"
	"github.com/guidoenr/partivision/internal/render"
	"github.com/guidoenr/partivision/internal/visual"
	"github.com/guidoenr/partivision/internal/web"
	"golang.org/x/term"
)

var version = "0.1.0"

// CLI defines the command-line interface. Every flag can also come from the JSON
// config files listed in main.
type CLI struct {
	Source string `arg:"" optional:"" help:"Audio source: a .mp3/.wav path, 'live', 'live:<device>' or 'synthetic'."`

	Width       int     `help:"Frame width in pixels for headless or SDL output." default:"960"`
	Height      int     `help:"Frame height in pixels for headless or SDL output." default:"540"`
	FPS         int     `name:"fps" help:"Target pipeline frames per second." default:"60"`
	RefreshRate float64 `help:"Refresh callback rate in Hz." default:"120"`
	FFTSize     int     `name:"fft-size" help:"Analysis size (${fftsizes}), rounded up to the next one." default:"2048"`
	Visual      string  `help:"Initial visual model (${visuals})." default:"particles"`
	Resolution  string  `help:"'window' or an explicit WxH." default:"window"`
	Scale       int     `help:"Pixel scale for the window resolution mode." default:"1"`

	Size           float64  `help:"Geometry displacement factor." default:"1"`
	ColorIntensity float64  `name:"color-intensity" help:"Colour multiplier." default:"1"`
	Bloom          float64  `help:"Bloom strength." default:"0.5"`
	Preset         string   `help:"Apply a preset (${presets}) over size, colour and bloom."`
	Camera         string   `help:"Camera mode." enum:"${cameras}" default:"orbit"`
	Distance       float64  `help:"Orbit camera distance." default:"50"`
	Macros         []string `help:"Macros active at startup (${macros})."`
	Background     string   `help:"Backdrop." enum:"${backgrounds}" default:"none"`

	Output           string  `short:"o" type:"path" help:"Directory for recordings and snapshots." default:"."`
	Port             int     `help:"Web control port, 0 disables it." default:"0"`
	Display          string  `help:"Output surface." enum:"ascii,sdl,none" default:"ascii"`
	Palette          string  `help:"ASCII glyph ramp." enum:"${palettes}" default:"default"`
	NoColor          bool    `help:"Disable ANSI colour output."`
	Volume           float64 `help:"Playback volume in percent." default:"100"`
	Play             bool    `help:"Start playback immediately." default:"true" negatable:""`
	Debug            bool    `help:"Enable verbose logging."`
	Profile          string  `type:"path" help:"Write per-frame section timings to a CSV file."`
	ListAudioDevices bool    `help:"List available audio input devices and exit."`
	Version          bool    `short:"v" help:"Show version information."`
}

func init() {
	// SDL needs every call on the main thread.
	runtime.LockOSThread()
}

func main() {
	cli := &CLI{}
	kong.Parse(cli,
		kong.Name("partivision"),
		kong.Description("Audio-reactive 3D visualizer with capture."),
		kong.UsageOnError(),
		kong.Configuration(kong.JSON, "./partivision.json", "~/.partivision.json"),
		kong.Vars{
			"visuals":     strings.Join(visual.Names(), ","),
			"presets":     strings.Join(params.PresetNames(), ","),
			"cameras":     strings.Join(params.CameraModeNames(), ","),
			"macros":      strings.Join(automation.MacroNames(), ","),
			"backgrounds": strings.Join(render.BackgroundNames(), ","),
			"palettes":    strings.Join(render.PaletteNames(), ","),
			"fftsizes":    joinInts(analyzer.AnalysisSizes()),
		},
	)
	if cli.Version {
		fmt.Println("partivision", version)
		return
	}

	logger := log.New(os.Stdout, "[partivision] ", log.LstdFlags)
	if !cli.Debug {
		logger.SetOutput(os.Stderr)
		logger.SetFlags(0)
	}

	if cli.ListAudioDevices {
		defer audio.TerminatePortAudio()
		if err := listDevices(); err != nil {
			logger.Fatalf("list devices: %v", err)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cli, logger); err != nil {
		logger.Fatalf("runtime error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
}

func run(ctx context.Context, cli *CLI, logger *log.Logger) error {
	defer audio.TerminatePortAudio()

	cons := console.New()
	// the terminal belongs to the frame, so logs only reach the console ring
	// unless debugging
	if cli.Display == "ascii" && !cli.Debug {
		logger.SetOutput(cons)
	} else {
		logger.SetOutput(io.MultiWriter(logger.Writer(), cons))
	}

	p := params.Defaults()
	p.TargetFPS = cli.FPS
	p.ResolutionScale = cli.Scale
	p.Size = cli.Size
	p.ColorIntensity = cli.ColorIntensity
	p.BloomStrength = cli.Bloom
	if err := p.Validate(); err != nil {
		logger.Printf("%v (clamped)", err)
	}
	p.Clamp()
	if cli.Preset != "" {
		if err := p.ApplyPreset(cli.Preset); err != nil {
			return err
		}
	}
	cam := params.DefaultCamera()
	if mode, err := params.ParseCameraMode(cli.Camera); err == nil {
		cam.Mode = mode
	}
	cam.Distance = cli.Distance
	cam.Zoom(0)

	presenter, ascii, err := openPresenter(cli)
	if err != nil {
		return err
	}
	defer presenter.Close()

	width, height := cli.Width, cli.Height
	surface := func() (int, int) { return width, height }
	if rs, ok := presenter.(render.Resizer); ok {
		surface = rs.SurfaceSize
		width, height = rs.SurfaceSize()
	}
	renderer, err := render.New(width, height, presenter)
	if err != nil {
		return err
	}

	if size := analyzer.RoundAnalysisSize(cli.FFTSize); size != cli.FFTSize {
		logger.Printf("fft size %d rounded to %d", cli.FFTSize, size)
		cli.FFTSize = size
	}
	eng := audio.NewEngine(audio.EngineConfig{FFTSize: cli.FFTSize, Log: logger})
	defer eng.Close()
	if err := eng.SetAnalysisSize(cli.FFTSize); err != nil {
		return err
	}
	eng.OnEnded(func() { cons.Log(console.TagAudio, "Playback finished") })

	recorder := capture.New(capture.Config{
		Backend:     encode.NewBackend(encode.Config{Log: logger}),
		Saver:       capture.DirSaver{Dir: cli.Output},
		Preferences: encode.Preferences(),
		Fallback:    encode.MimeBase,
		Bitrate:     25_000_000,
		FrameRate:   60,
		ExportHold:  time.Second,
		Log:         logger,
	})
	recorder.OnExport(func(path string, a capture.Artifact, err error) {
		if err != nil {
			cons.Log(console.TagError, "Export failed: %v", err)
			return
		}
		cons.Log(console.TagRec, "Saved %s (%d chunks, %s)", path, a.Chunks, a.Length.Round(time.Millisecond))
	})
	defer recorder.Wait()

	prof := app.NewProfiler(cli.Profile, logger)
	defer prof.Close()
	var profiler pipeline.Profiler
	if prof != nil {
		profiler = prof
	}

	var runtimeApp *app.App
	statusWidth := func() int {
		if runtimeApp == nil {
			return 0
		}
		return runtimeApp.Width()
	}
	cfg := pipeline.Config{
		Audio:      eng,
		Renderer:   renderer,
		Recorder:   recorder,
		Console:    cons,
		Mapper:     visual.NewMapper(time.Now().UnixNano()),
		Params:     p,
		Camera:     cam,
		Visual:     cli.Visual,
		Resolution: cli.Resolution,
		Background: cli.Background,
		Surface:    surface,
		Profiler:   profiler,
		Log:        logger,
	}
	if ascii != nil {
		cfg.StatusLine = app.StatusLine(statusWidth)
	}
	ctrl, err := pipeline.New(cfg)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	for _, name := range splitList(cli.Macros) {
		if err := ctrl.SetMacro(name, true); err != nil {
			return err
		}
	}

	if cli.Source != "" {
		if err := ctrl.Load(cli.Source); err != nil {
			return err
		}
		ctrl.SetVolume(cli.Volume)
		if cli.Play {
			if err := ctrl.Play(); err != nil {
				return err
			}
		}
	}

	if cli.Port > 0 {
		srv := web.NewServer(ctrl, web.Config{Log: logger})
		go func() {
			if err := srv.Start(ctx, cli.Port); err != nil {
				logger.Printf("[web] server stopped: %v", err)
			}
		}()
	}

	appCfg := app.Config{
		Controller:  ctrl,
		Terminal:    ascii,
		RefreshRate: cli.RefreshRate,
		Keyboard:    cli.Display != "none" || term.IsTerminal(int(os.Stdin.Fd())),
		Log:         logger,
	}
	if ptr, ok := presenter.(render.Pointer); ok {
		appCfg.Pointer = ptr
	}
	runtimeApp, err = app.New(appCfg)
	if err != nil {
		return err
	}

	if err := runtimeApp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if ctrl.StopRecording() {
		logger.Printf("[capture] finishing recording before exit")
	}
	return nil
}

func openPresenter(cli *CLI) (render.Presenter, *render.ASCII, error) {
	switch cli.Display {
	case "sdl":
		if !render.SupportsSDL() {
			return nil, nil, errors.New("SDL support not compiled in; rebuild with -tags sdl")
		}
		s, err := render.NewSDL(cli.Width, cli.Height)
		if err != nil {
			return nil, nil, fmt.Errorf("sdl: %w", err)
		}
		return s, nil, nil
	case "none":
		return render.Headless{}, nil, nil
	default:
		cols, rows := 80, 24
		if fd := int(os.Stdout.Fd()); fd >= 0 {
			if w, h, err := term.GetSize(fd); err == nil && w > 0 && h > 1 {
				cols, rows = w, h
			}
		}
		a := render.NewASCII(os.Stdout, cols, rows-1, cli.Palette, !cli.NoColor)
		return a, a, nil
	}
}

func listDevices() error {
	devices, err := audio.ListInputDevices()
	if err != nil {
		return err
	}
	fmt.Printf("\n=== Audio Input Devices ===\n\n")
	for _, dev := range devices {
		markers := ""
		if dev.IsDefaultInput {
			markers += " (default)"
		}
		fmt.Printf("- %s [%s]%s\n    inputs:%d outputs:%d sample:%.0f Hz\n",
			dev.Name, dev.HostAPI, markers, dev.MaxInput, dev.MaxOutput, dev.DefaultSampleHz)
	}
	fmt.Printf("\nUse live:<name> as the source to capture from a device.\n")
	return nil
}

// splitList accepts repeated flags as well as comma-joined values from config files.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
