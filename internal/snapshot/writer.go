// Package snapshot writes change-event JPEGs to disk.
package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/teslashibe/go-camwatch/pkg/motion"
)

// ErrNoImage is returned for events without JPEG bytes.
var ErrNoImage = errors.New("snapshot: event has no image")

// Writer saves event images as <time>_<camera>_<event id>.jpg in Dir.
type Writer struct {
	dir    string
	camera string
	logger *slog.Logger

	mu    sync.Mutex
	saved uint64
}

// NewWriter returns a Writer for dir. camera is folded into filenames.
func NewWriter(dir, camera string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		dir:    dir,
		camera: sanitize(camera),
		logger: logger.With("component", "snapshot"),
	}
}

// Dir is the target directory.
func (w *Writer) Dir() string { return w.dir }

// Save writes ev.JPEG and returns the file path.
func (w *Writer) Save(ev motion.Event) (string, error) {
	if len(ev.JPEG) == 0 {
		return "", ErrNoImage
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", fmt.Errorf("snapshot: create dir: %w", err)
	}

	id := ev.ID.String()
	if len(id) > 8 {
		id = id[:8]
	}
	name := fmt.Sprintf("%s_%s_%s.jpg", ev.Time.Format("2006-01-02_15-04-05"), w.camera, id)
	path := filepath.Join(w.dir, name)

	if err := os.WriteFile(path, ev.JPEG, 0644); err != nil {
		return "", fmt.Errorf("snapshot: write %s: %w", name, err)
	}
	w.saved++
	w.logger.Debug("snapshot saved", "path", path, "bytes", len(ev.JPEG), "diff_pixels", ev.DiffPixels)
	return path, nil
}

// Saved returns how many files have been written.
func (w *Writer) Saved() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.saved
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "camera"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, name)
}
