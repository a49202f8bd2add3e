package snapshot

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// Writer persists the unnormalized results of one poll as a CSV file,
// keeping only the latest snapshot in its directory.
type Writer struct {
	dir    string
	prefix string
	logger *slog.Logger
}

// NewWriter creates a snapshot writer for files named
// "<dir>/<prefix>_<sanitized-timestamp>.csv".
func NewWriter(dir, prefix string, logger *slog.Logger) *Writer {
	return &Writer{dir: dir, prefix: prefix, logger: logger}
}

// Write flattens results into a temporary file in the destination directory,
// removes every previous snapshot, then renames the file into place. It
// returns the final path.
func (w *Writer) Write(results []domain.RawRecord) (string, error) {
	ts, mismatched, err := domain.RepresentativeTimestamp(results)
	if err != nil {
		return "", fmt.Errorf("snapshot timestamp: %w", err)
	}
	if mismatched > 0 {
		w.logger.Warn("records disagree on load timestamp", "representative", ts, "mismatched", mismatched)
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	final := filepath.Join(w.dir, fmt.Sprintf("%s_%s.csv", w.prefix, domain.SanitizeTimestamp(ts)))

	tmp, err := w.writeTemp(results)
	if err != nil {
		return "", err
	}

	if err := w.purge(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}

	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("move snapshot into place: %w", err)
	}

	w.logger.Info("raw snapshot written", "path", final, "records", len(results))
	return final, nil
}

// Pattern is the glob matching snapshot files owned by the writer.
func (w *Writer) Pattern() string {
	return filepath.Join(w.dir, w.prefix+"_*.csv")
}

func (w *Writer) writeTemp(results []domain.RawRecord) (path string, err error) {
	f, err := os.CreateTemp(w.dir, "."+w.prefix+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp snapshot: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close temp snapshot: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()

	if err := writeCSV(f, results); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("sync snapshot: %w", err)
	}
	return f.Name(), nil
}

func (w *Writer) purge() error {
	matches, err := filepath.Glob(w.Pattern())
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove old snapshot: %w", err)
		}
		w.logger.Debug("old snapshot removed", "path", m)
	}
	return nil
}

func writeCSV(f *os.File, results []domain.RawRecord) error {
	rows := make([]map[string]string, len(results))
	seen := map[string]struct{}{}
	for i, rec := range results {
		rows[i] = Flatten(rec)
		for k := range rows[i] {
			seen[k] = struct{}{}
		}
	}

	header := make([]string, 0, len(seen))
	for k := range seen {
		header = append(header, k)
	}
	sort.Strings(header)

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return err
	}
	line := make([]string, len(header))
	for _, row := range rows {
		for i, col := range header {
			line[i] = row[col]
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Flatten turns a raw record into column/value pairs. Nested objects become
// dotted column names ("geo_point_2d.lat"), arrays are kept as JSON, nulls
// are empty.
func Flatten(rec domain.RawRecord) map[string]string {
	out := map[string]string{}
	flattenInto(out, "", rec)
	return out
}

func flattenInto(out map[string]string, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = formatValue(v)
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return strings.TrimSpace(string(data))
	}
}
