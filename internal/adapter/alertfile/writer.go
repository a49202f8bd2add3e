package alertfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// Writer serializes the current alert set to a fixed JSON file.
type Writer struct {
	path       string
	clearStale bool
	logger     *slog.Logger
}

// NewWriter creates an alert file writer. With clearStale set, a run without
// alerts removes the file left by an earlier run; otherwise it stays.
func NewWriter(path string, clearStale bool, logger *slog.Logger) *Writer {
	return &Writer{path: path, clearStale: clearStale, logger: logger}
}

// Path returns the alert file location.
func (w *Writer) Path() string { return w.path }

// Write replaces the alert file with alerts when there is at least one.
// It reports whether a file was written.
func (w *Writer) Write(alerts domain.Alerts) (bool, error) {
	if len(alerts) == 0 {
		if w.clearStale {
			if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return false, fmt.Errorf("remove stale alert file: %w", err)
			}
		}
		return false, nil
	}

	data, err := json.MarshalIndent(alerts, "", "    ")
	if err != nil {
		return false, fmt.Errorf("encode alerts: %w", err)
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create alert dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".alerts-*.tmp")
	if err != nil {
		return false, fmt.Errorf("create temp alert file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return false, fmt.Errorf("write alert file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return false, fmt.Errorf("close alert file: %w", err)
	}
	if err := os.Rename(tmp.Name(), w.path); err != nil {
		_ = os.Remove(tmp.Name())
		return false, fmt.Errorf("move alert file into place: %w", err)
	}

	w.logger.Info("alert file written", "path", w.path, "stations", len(alerts))
	return true, nil
}
