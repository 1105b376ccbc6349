package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/guidoenr/partivision/internal/analyzer"
	"github.com/guidoenr/partivision/internal/automation"
	"github.com/guidoenr/partivision/internal/params"
	"github.com/guidoenr/partivision/internal/scheduler"
)

// Status is a point-in-time view of the pipeline for status bars and the web API.
type Status struct {
	State      string                  `json:"state"`
	Playing    bool                    `json:"playing"`
	Source     string                  `json:"source"`
	Visual     string                  `json:"visual"`
	Position   float64                 `json:"position"`
	Duration   float64                 `json:"duration"`
	Params     params.Parameters       `json:"params"`
	Camera     params.Camera           `json:"camera"`
	Macros     []string                `json:"macros"`
	Pending    []automation.Transition `json:"pending"`
	Resolution string                  `json:"resolution"`
	Background string                  `json:"background"`
	Width      int                     `json:"width"`
	Height     int                     `json:"height"`
	FFTSize    int                     `json:"fftSize"`
	Encoding   string                  `json:"encoding"`
	Frames     scheduler.Stats         `json:"frames"`
	Levels     analyzer.Features       `json:"levels"`
}

// Status collects the current pipeline state.
func (c *Controller) Status() Status {
	playing := c.audio.IsPlaying()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked(playing)
}

func (c *Controller) statusLocked(playing bool) Status {
	pos, dur := c.audio.Progress()
	w, h := c.renderer.Size()
	res := c.resolution
	if c.pending != nil {
		res = *c.pending
	}
	var active []string
	for _, m := range c.auto.Macros.List() {
		if m.Active {
			active = append(active, m.Name)
		}
	}
	return Status{
		State:      c.recorder.DisplayStatus(playing),
		Playing:    playing,
		Source:     c.audio.SourceName(),
		Visual:     string(c.mapper.Active()),
		Position:   pos.Seconds(),
		Duration:   dur.Seconds(),
		Params:     c.params,
		Camera:     c.camera,
		Macros:     active,
		Pending:    c.auto.Queue.Pending(),
		Resolution: res.String(),
		Background: c.background,
		Width:      w,
		Height:     h,
		FFTSize:    c.audio.AnalysisSize(),
		Encoding:   c.recorder.Encoding(),
		Frames:     c.sched.Stats(),
		Levels:     c.levels,
	}
}

// DefaultStatusLine is the plain one-line summary.
func DefaultStatusLine(s Status) string {
	parts := []string{
		s.State,
		s.Visual,
		fmt.Sprintf("%.0ffps", s.Frames.MeasuredFPS),
		string(s.Camera.Mode),
	}
	if s.Source != "" {
		src := s.Source
		if s.Duration > 0 {
			src += " " + clock(s.Position) + "/" + clock(s.Duration)
		}
		parts = append(parts, src)
	}
	if len(s.Macros) > 0 {
		parts = append(parts, "macros="+strings.Join(s.Macros, ","))
	}
	return strings.Join(parts, " | ")
}

func clock(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
