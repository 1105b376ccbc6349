// Package console keeps the tagged system log and the pipeline status label.
package console

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// MaxEntries is how many log lines are retained.
const MaxEntries = 50

// Tag classifies an entry.
type Tag string

const (
	TagSystem Tag = "SYSTEM"
	TagAudio  Tag = "AUDIO"
	TagViz    Tag = "VIZ"
	TagRec    Tag = "REC"
	TagDaemon Tag = "DAEMON"
	TagError  Tag = "ERROR"
	TagUser   Tag = "USER"
)

// ErrUnknownCommand is returned by Execute for unrecognised input.
var ErrUnknownCommand = errors.New("unknown command")

// Entry is one log line.
type Entry struct {
	Time    time.Time `json:"time"`
	Tag     Tag       `json:"tag"`
	Message string    `json:"message"`
}

// Console is a bounded log plus the status label. Safe for concurrent use.
type Console struct {
	mu      sync.Mutex
	entries []Entry
	status  string
	report  func() string
	onEntry func(Entry)
	now     func() time.Time
}

// New returns an empty console in the IDLE state.
func New() *Console {
	return &Console{status: "IDLE", now: time.Now}
}

// OnEntry registers a hook called for every appended entry, outside the lock.
func (c *Console) OnEntry(fn func(Entry)) {
	c.mu.Lock()
	c.onEntry = fn
	c.mu.Unlock()
}

// SetStatusReporter sets the text returned by the status command.
func (c *Console) SetStatusReporter(fn func() string) {
	c.mu.Lock()
	c.report = fn
	c.mu.Unlock()
}

// Log appends a formatted entry.
func (c *Console) Log(tag Tag, format string, args ...any) {
	c.append(tag, fmt.Sprintf(format, args...))
}

func (c *Console) append(tag Tag, msg string) {
	c.mu.Lock()
	e := Entry{Time: c.now(), Tag: tag, Message: msg}
	c.entries = append(c.entries, e)
	if over := len(c.entries) - MaxEntries; over > 0 {
		c.entries = append(c.entries[:0], c.entries[over:]...)
	}
	hook := c.onEntry
	c.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

var prefixTags = map[string]Tag{
	"[audio]":   TagAudio,
	"[capture]": TagRec,
	"[web]":     TagDaemon,
	"[viz]":     TagViz,
	"[error]":   TagError,
}

// Write lets a log.Logger tee into the console. A leading subsystem prefix such as
// "[audio]" picks the tag.
func (c *Console) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		tag := TagSystem
		for prefix, t := range prefixTags {
			if i := strings.Index(line, prefix); i >= 0 {
				tag = t
				line = strings.TrimSpace(line[:i] + line[i+len(prefix):])
				break
			}
		}
		if strings.Contains(strings.ToLower(line), "error") || strings.Contains(line, "failed") {
			if tag == TagSystem {
				tag = TagError
			}
		}
		c.append(tag, line)
	}
	return len(p), nil
}

// Entries returns a copy of the retained log, oldest first.
func (c *Console) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// Clear drops every entry.
func (c *Console) Clear() {
	c.mu.Lock()
	c.entries = c.entries[:0]
	c.mu.Unlock()
}

// SetStatus updates the pipeline label and logs the change. It reports whether
// the label changed.
func (c *Console) SetStatus(status string) bool {
	c.mu.Lock()
	if status == c.status {
		c.mu.Unlock()
		return false
	}
	c.status = status
	c.mu.Unlock()
	c.Log(TagSystem, "Pipeline State Changed: %s", status)
	return true
}

// Status returns the current label.
func (c *Console) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

var commands = map[string]string{
	"clear":  "clear the console",
	"help":   "list commands",
	"status": "show pipeline status",
}

// Execute runs a console command. The input is echoed as a USER entry.
func (c *Console) Execute(line string) error {
	cmd := strings.ToLower(strings.TrimSpace(line))
	if cmd == "" {
		return nil
	}
	c.Log(TagUser, "> %s", cmd)
	switch cmd {
	case "clear":
		c.Clear()
		c.Log(TagSystem, "Console cleared")
	case "help":
		names := make([]string, 0, len(commands))
		for name := range commands {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c.Log(TagSystem, "%-7s %s", name, commands[name])
		}
	case "status":
		c.mu.Lock()
		report := c.report
		status := c.status
		c.mu.Unlock()
		msg := "Pipeline " + status
		if report != nil {
			msg = report()
		}
		c.Log(TagSystem, "%s", msg)
	default:
		c.Log(TagError, "Unknown command: %s", cmd)
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
	return nil
}

// StatusStyle colours the pipeline label.
func StatusStyle(status string) lipgloss.Style {
	s := lipgloss.NewStyle().Bold(true)
	switch status {
	case "RECORDING":
		return s.Foreground(lipgloss.Color("#ff4444"))
	case "PROCESSING":
		return s.Foreground(lipgloss.Color("#00ff88"))
	case "EXPORTING":
		return s.Foreground(lipgloss.Color("#ffaa00"))
	default:
		return s.Foreground(lipgloss.Color("#666666"))
	}
}

var tagColors = map[Tag]lipgloss.Color{
	TagSystem: "#888888",
	TagAudio:  "#00d7ff",
	TagViz:    "#af87ff",
	TagRec:    "#ff4444",
	TagDaemon: "#00ff88",
	TagError:  "#ff0000",
	TagUser:   "#ffffff",
}

// Render returns the newest n entries styled for a terminal.
func (c *Console) Render(n int) string {
	entries := c.Entries()
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	timeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		tag := lipgloss.NewStyle().Foreground(tagColors[e.Tag]).Render(fmt.Sprintf("%-6s", e.Tag))
		b.WriteString(timeStyle.Render(e.Time.Format("15:04:05")))
		b.WriteByte(' ')
		b.WriteString(tag)
		b.WriteByte(' ')
		b.WriteString(e.Message)
	}
	return b.String()
}
