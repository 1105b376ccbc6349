package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Saver is the download collaborator for finished captures.
type Saver interface {
	SaveVideo(a Artifact) (string, error)
	SaveStill(png []byte, at time.Time) (string, error)
}

// DirSaver writes artifacts into a directory.
type DirSaver struct {
	Dir string
}

// Extension maps a capture mime type to a file extension.
func Extension(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	switch strings.TrimSpace(base) {
	case "video/x-partivision":
		return "pvis"
	case "image/png":
		return "png"
	default:
		return "bin"
	}
}

// VideoName is the file name for a recording started at t.
func VideoName(t time.Time, mime string) string {
	return fmt.Sprintf("PARTIVISION_%s.%s", t.Format("2006-01-02_15-04"), Extension(mime))
}

// StillName is the file name for a snapshot taken at t.
func StillName(t time.Time) string {
	return fmt.Sprintf("PARTIVISION_SNAP_%s.png", t.Format("15-04-05"))
}

// SaveVideo writes a recording.
func (d DirSaver) SaveVideo(a Artifact) (string, error) {
	return d.write(VideoName(a.Started, a.MimeType), a.Data)
}

// SaveStill writes a PNG snapshot.
func (d DirSaver) SaveStill(png []byte, at time.Time) (string, error) {
	return d.write(StillName(at), png)
}

func (d DirSaver) write(name string, data []byte) (string, error) {
	dir := d.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	// two captures in the same minute must not clobber each other
	for i := 2; fileExists(path); i++ {
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
