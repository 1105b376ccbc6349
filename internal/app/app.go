package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/eiannone/keyboard"
	"github.com/guidoenr/partivision/internal/console"
	"github.com/guidoenr/partivision/internal/pipeline"
	"github.com/guidoenr/partivision/internal/render"
	"github.com/guidoenr/partivision/internal/visual"
	"golang.org/x/term"
)

// DefaultRefreshRate stands in for the display refresh when no vsync source drives us.
const DefaultRefreshRate = 120

// Config configures the application runtime.
type Config struct {
	Controller *pipeline.Controller
	// Terminal is the ASCII presenter when drawing to the terminal.
	Terminal *render.ASCII
	// Pointer delivers mouse input from a windowed presenter.
	Pointer     render.Pointer
	RefreshRate float64
	Keyboard    bool
	Log         *log.Logger
}

type inputEvent struct {
	char rune
	key  keyboard.Key
}

// App drives the controller from a refresh ticker and routes input to it.
type App struct {
	cfg         Config
	ctrl        *pipeline.Controller
	log         *log.Logger
	width       int
	height      int
	inputEvents chan inputEvent
	rng         *rand.Rand
}

// New constructs the runtime.
func New(cfg Config) (*App, error) {
	if cfg.Controller == nil {
		return nil, errors.New("app: controller is required")
	}
	if cfg.RefreshRate <= 0 {
		cfg.RefreshRate = DefaultRefreshRate
	}
	if cfg.Log == nil {
		cfg.Log = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &App{
		cfg:  cfg,
		ctrl: cfg.Controller,
		log:  cfg.Log,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run calls the controller's refresh callback until ctx ends, the user quits or
// the presenter closes.
func (a *App) Run(ctx context.Context) error {
	frameDuration := time.Duration(float64(time.Second) / a.cfg.RefreshRate)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	if a.cfg.Terminal != nil {
		enterAltScreen()
		clearScreen()
		hideCursor()
		defer func() {
			showCursor()
			exitAltScreen()
		}()
		a.ensureDimensions()
	}

	inputCtx, cancelInput := context.WithCancel(ctx)
	defer cancelInput()
	if a.cfg.Keyboard {
		a.startInputListener(inputCtx)
	}
	var pointer <-chan render.PointerEvent
	if a.cfg.Pointer != nil {
		pointer = a.cfg.Pointer.Pointer()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-a.inputEvents:
			if !ok {
				a.inputEvents = nil
				continue
			}
			if a.handleKey(evt) {
				return nil
			}
		case ev := <-pointer:
			if ev.Wheel != 0 {
				a.ctrl.Zoom(ev.Wheel)
			}
			if ev.DX != 0 || ev.DY != 0 {
				a.ctrl.Drag(ev.DX, ev.DY)
			}
		case <-ticker.C:
			if a.cfg.Terminal != nil {
				a.ensureDimensions()
			}
			if err := a.ctrl.Tick(a.ctrl.Now()); err != nil {
				if errors.Is(err, render.ErrPresenterClosed) {
					return nil
				}
				return err
			}
		}
	}
}

// handleKey applies one hotkey and reports whether the user asked to quit.
func (a *App) handleKey(evt inputEvent) bool {
	c := a.ctrl
	var err error
	switch {
	case evt.key == keyboard.KeyEsc || evt.key == keyboard.KeyCtrlC || evt.char == 'q' || evt.char == 'Q':
		return true
	case evt.key == keyboard.KeySpace || evt.char == ' ' || evt.char == 'k':
		err = c.TogglePlay()
	case evt.char == 'r' || evt.char == 'R':
		_, err = c.ToggleRecord()
	case evt.char == 's' || evt.char == 'S':
		_, err = c.Snapshot()
	case evt.char >= '1' && evt.char <= '9':
		names := visual.Names()
		if i := int(evt.char - '1'); i < len(names) {
			err = c.SetVisual(names[i])
		}
	case evt.char == 'c':
		c.NextCameraMode()
	case evt.char == 'p':
		c.NextPreset()
	case evt.char == 'm':
		on := c.ToggleAllMacros()
		c.Console().Log(console.TagViz, "Macros %s", map[bool]string{true: "on", false: "off"}[on])
	case evt.char == 'g' && a.cfg.Terminal != nil:
		name := nextName(render.PaletteNames(), a.cfg.Terminal.PaletteName())
		a.cfg.Terminal.SetPalette(name)
		c.Console().Log(console.TagViz, "Palette: %s", name)
	case evt.char == 'b':
		name := pickRandom(render.BackgroundNames(), c.Status().Background, a.rng)
		err = c.SetBackground(name)
	case evt.char == '+' || evt.char == '=':
		c.Zoom(-50)
	case evt.char == '-':
		c.Zoom(50)
	case evt.key == keyboard.KeyArrowLeft:
		c.Drag(-40, 0)
	case evt.key == keyboard.KeyArrowRight:
		c.Drag(40, 0)
	case evt.key == keyboard.KeyArrowUp:
		c.Drag(0, -40)
	case evt.key == keyboard.KeyArrowDown:
		c.Drag(0, 40)
	}
	if err != nil {
		a.log.Printf("hotkey %q: %v", evt.char, err)
	}
	return false
}

func (a *App) ensureDimensions() {
	fd := int(os.Stdout.Fd())
	if fd < 0 {
		return
	}
	w, h, err := term.GetSize(fd)
	if err != nil || w <= 0 || h <= 0 {
		return
	}
	if w == a.width && h == a.height {
		return
	}
	a.width = w
	a.height = h
	rows := h
	if rows > 1 {
		rows--
	}
	a.cfg.Terminal.Resize(w, rows)
	clearScreen()
}

// Width returns the last known terminal width.
func (a *App) Width() int { return a.width }

func (a *App) startInputListener(ctx context.Context) {
	if err := keyboard.Open(); err != nil {
		a.log.Printf("keyboard input disabled: %v", err)
		a.inputEvents = nil
		return
	}

	events := make(chan inputEvent, 16)
	a.inputEvents = events

	closeOnce := &sync.Once{}
	go func() {
		<-ctx.Done()
		closeOnce.Do(func() {
			_ = keyboard.Close()
		})
	}()

	go func() {
		defer close(events)
		defer closeOnce.Do(func() {
			_ = keyboard.Close()
		})
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			select {
			case events <- inputEvent{char: char, key: key}:
			default:
			}
			if key == keyboard.KeyEsc || key == keyboard.KeyCtrlC || char == 'q' || char == 'Q' {
				return
			}
		}
	}()
}

var dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))

// StatusLine returns a formatter that colours the pipeline label and fits the
// line to width() columns.
func StatusLine(width func() int) func(pipeline.Status) string {
	return func(s pipeline.Status) string {
		label := console.StatusStyle(s.State).Render(s.State)
		rest := strings.TrimPrefix(pipeline.DefaultStatusLine(s), s.State)
		return statusBar(label+dimStyle.Render(rest), width())
	}
}

func statusBar(text string, width int) string {
	if width <= 0 {
		return text
	}
	return lipgloss.NewStyle().Width(width).MaxWidth(width).Render(text)
}

func clearScreen() {
	fmt.Print("\x1b[2J")
	moveCursorHome()
}

func moveCursorHome() {
	fmt.Print("\x1b[H")
}

func hideCursor() {
	fmt.Print("\x1b[?25l")
}

func showCursor() {
	fmt.Print("\x1b[?25h")
}

func enterAltScreen() {
	fmt.Print("\x1b[?1049h")
}

func exitAltScreen() {
	fmt.Print("\x1b[?1049l\x1b[0m")
}

func pickRandom(options []string, current string, rng *rand.Rand) string {
	if len(options) == 0 {
		return current
	}
	if len(options) == 1 {
		return options[0]
	}
	var choice string
	for attempts := 0; attempts < 4; attempts++ {
		choice = options[rng.Intn(len(options))]
		if !strings.EqualFold(choice, current) {
			return choice
		}
	}
	return options[rng.Intn(len(options))]
}

// nextName returns the entry after current, wrapping around.
func nextName(options []string, current string) string {
	for i, name := range options {
		if name == current {
			return options[(i+1)%len(options)]
		}
	}
	if len(options) == 0 {
		return current
	}
	return options[0]
}
