package console

import (
	"errors"
	"log"
	"strings"
	"testing"
)

func TestRingKeepsNewest(t *testing.T) {
	c := New()
	for i := 0; i < MaxEntries+7; i++ {
		c.Log(TagViz, "line %d", i)
	}
	got := c.Entries()
	if len(got) != MaxEntries {
		t.Fatalf("entries=%d want %d", len(got), MaxEntries)
	}
	if got[0].Message != "line 7" || got[len(got)-1].Message != "line 56" {
		t.Fatalf("window=%q..%q", got[0].Message, got[len(got)-1].Message)
	}
}

func TestStatusChangeLoggedOnce(t *testing.T) {
	c := New()
	if c.SetStatus("IDLE") {
		t.Fatalf("unchanged status reported a change")
	}
	c.SetStatus("PROCESSING")
	c.SetStatus("PROCESSING")
	entries := c.Entries()
	if len(entries) != 1 || entries[0].Message != "Pipeline State Changed: PROCESSING" {
		t.Fatalf("entries=%+v", entries)
	}
}

func TestLoggerTeeUsesPrefixTags(t *testing.T) {
	c := New()
	l := log.New(c, "", 0)
	l.Printf("[audio] loaded song.mp3")
	l.Printf("[capture] saved clip")
	l.Printf("plain message")
	l.Printf("render failed: boom")
	want := []Tag{TagAudio, TagRec, TagSystem, TagError}
	got := c.Entries()
	if len(got) != len(want) {
		t.Fatalf("entries=%d", len(got))
	}
	for i, e := range got {
		if e.Tag != want[i] {
			t.Fatalf("entry %d tag=%s want %s", i, e.Tag, want[i])
		}
	}
	if got[0].Message != "loaded song.mp3" {
		t.Fatalf("prefix not stripped: %q", got[0].Message)
	}
}

func TestExecuteCommands(t *testing.T) {
	c := New()
	c.SetStatusReporter(func() string { return "Pipeline RECORDING | sphere" })
	if err := c.Execute("status"); err != nil {
		t.Fatalf("status: %v", err)
	}
	last := c.Entries()[len(c.Entries())-1]
	if last.Message != "Pipeline RECORDING | sphere" {
		t.Fatalf("status output=%q", last.Message)
	}
	if err := c.Execute("warp 9"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err=%v", err)
	}
	_ = c.Execute("help")
	if err := c.Execute("CLEAR"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n := len(c.Entries()); n != 1 {
		t.Fatalf("after clear entries=%d", n)
	}
}

func TestRenderLimitsLines(t *testing.T) {
	c := New()
	for i := 0; i < 5; i++ {
		c.Log(TagUser, "m%d", i)
	}
	out := c.Render(2)
	if strings.Count(out, "\n") != 1 || !strings.Contains(out, "m4") || strings.Contains(out, "m2") {
		t.Fatalf("render=%q", out)
	}
	if StatusStyle("RECORDING").Render("x") == "" {
		t.Fatalf("empty styled label")
	}
}
