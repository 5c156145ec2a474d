package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/casal2/casal2-deb/internal/logger"
)

// DefaultFilename is the marker name placed in the staging base directory.
const DefaultFilename = ".casal2-deb.lock"

// markerFileMode is used for the marker file.
const markerFileMode os.FileMode = 0o644

// ErrLocked is returned when another live run holds the marker.
var ErrLocked = errors.New("another packaging run holds the staging tree")

// Marker is a held run marker.
type Marker struct {
	path string
}

// processAlive reports whether a process with the PID exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := ps.FindProcess(pid)

	return err == nil && process != nil
}

// Acquire creates the marker at path. If a marker already exists and belongs
// to a live process younger than lifetime, ErrLocked is returned; otherwise the
// stale marker is removed and acquisition is retried once.
func Acquire(ctx context.Context, path string, lifetime time.Duration) (*Marker, error) {
	path = filepath.Clean(path)

	for attempt := 0; ; attempt++ {
		err := create(path)
		if err == nil {
			logger.DebugKV(ctx, "Run marker acquired", "path", path, "pid", os.Getpid())
			return &Marker{path: path}, nil
		}

		if !errors.Is(err, os.ErrExist) || attempt > 0 {
			return nil, fmt.Errorf("create run marker: %w", err)
		}

		if held, owner := isHeld(path, lifetime); held {
			return nil, fmt.Errorf("%w: %s (pid %d)", ErrLocked, path, owner)
		}

		logger.WarnKV(ctx, "Removing stale run marker", "path", path)

		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale run marker: %w", err)
		}
	}
}

// Path returns the marker location.
func (m *Marker) Path() string {
	return m.path
}

// Release removes the marker. Releasing twice is a no-op.
func (m *Marker) Release() error {
	if m == nil || m.path == "" {
		return nil
	}

	err := os.Remove(m.path)
	m.path = ""

	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove run marker: %w", err)
	}

	return nil
}

// create writes the current PID into a new marker file, failing if it exists.
func create(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, markerFileMode)
	if err != nil {
		return err
	}

	if _, err = f.WriteString(strconv.Itoa(os.Getpid()) + "\n"); err != nil {
		_ = f.Close()
		_ = os.Remove(path)

		return err
	}

	return f.Close()
}

// isHeld reports whether the marker at path belongs to a live, recent run.
func isHeld(path string, lifetime time.Duration) (bool, int) {
	info, err := os.Stat(path)
	if err != nil {
		return false, 0
	}

	if lifetime > 0 && time.Since(info.ModTime()) > lifetime {
		return false, 0
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil {
		return false, 0
	}

	return processAlive(pid), pid
}
