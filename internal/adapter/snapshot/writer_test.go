package snapshot

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrefix = "calidad_aire_raw"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeResults(t *testing.T, data string) []domain.RawRecord {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var out []domain.RawRecord
	require.NoError(t, dec.Decode(&out))
	return out
}

func batchAt(t *testing.T, ts string) []domain.RawRecord {
	t.Helper()
	return decodeResults(t, `[
		{"nombre": "Avda. Francia", "no2": 21, "pm25": null, "fecha_carg": "`+ts+`",
		 "geo_point_2d": {"lon": -0.342988, "lat": 39.457504}, "tags": ["a", "b"]},
		{"nombre": "Patraix", "no2": 999, "pm25": 999, "fecha_carg": "`+ts+`",
		 "geo_point_2d": {"lon": -0.401428, "lat": 39.459455}, "extra": "x, \"quoted\""}
	]`)
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWriter_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data", "raw")
	w := NewWriter(dir, testPrefix, discardLogger())

	path, err := w.Write(batchAt(t, "2025-10-14T09:00:00+00:00"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "calidad_aire_raw_2025-10-14_09-00-0000-00.csv"), path)

	rows := readCSV(t, path)
	require.Len(t, rows, 3, "header plus one row per raw record")
	assert.Equal(t, []string{
		"extra", "fecha_carg", "geo_point_2d.lat", "geo_point_2d.lon", "no2", "nombre", "pm25", "tags",
	}, rows[0])

	col := func(row []string, name string) string {
		for i, h := range rows[0] {
			if h == name {
				return row[i]
			}
		}
		t.Fatalf("column %q not found", name)
		return ""
	}
	assert.Equal(t, "Avda. Francia", col(rows[1], "nombre"))
	assert.Equal(t, "39.457504", col(rows[1], "geo_point_2d.lat"))
	assert.Equal(t, "", col(rows[1], "pm25"))
	assert.Equal(t, `["a","b"]`, col(rows[1], "tags"))
	assert.Equal(t, "", col(rows[1], "extra"))

	// Raw snapshots keep the excluded station.
	assert.Equal(t, "Patraix", col(rows[2], "nombre"))
	assert.Equal(t, `x, "quoted"`, col(rows[2], "extra"))
}

func TestWriter_RotationLeavesOneSnapshot(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, testPrefix, discardLogger())

	_, err := w.Write(batchAt(t, "2025-10-14T09:00:00+00:00"))
	require.NoError(t, err)
	second, err := w.Write(batchAt(t, "2025-10-14T10:00:00+00:00"))
	require.NoError(t, err)

	assert.Equal(t, []string{"calidad_aire_raw_2025-10-14_10-00-0000-00.csv"}, listDir(t, dir))
	assert.FileExists(t, second)
}

func TestWriter_SameTimestampTwice(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, testPrefix, discardLogger())

	for range 2 {
		_, err := w.Write(batchAt(t, "2025-10-14T09:00:00+00:00"))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"calidad_aire_raw_2025-10-14_09-00-0000-00.csv"}, listDir(t, dir))
}

func TestWriter_LeavesUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.csv"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "calidad_aire_raw_old.json"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "calidad_aire_raw_2025-01-01_00-00-0000-00.csv"), []byte("x"), 0o644))

	w := NewWriter(dir, testPrefix, discardLogger())
	_, err := w.Write(batchAt(t, "2025-10-14T09:00:00+00:00"))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"notes.csv",
		"calidad_aire_raw_old.json",
		"calidad_aire_raw_2025-10-14_09-00-0000-00.csv",
	}, listDir(t, dir))
}

func TestWriter_EmptyBatch(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, testPrefix, discardLogger())

	_, err := w.Write(nil)
	require.ErrorIs(t, err, domain.ErrEmptyBatch)
	assert.Empty(t, listDir(t, dir))
}

func TestWriter_UnwritableDestination(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "raw")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

	w := NewWriter(blocker, testPrefix, discardLogger())
	_, err := w.Write(batchAt(t, "2025-10-14T09:00:00+00:00"))
	require.Error(t, err)

	matches, _ := filepath.Glob(filepath.Join(base, "*.csv"))
	assert.Empty(t, matches)
}

func TestFlatten(t *testing.T) {
	rec := decodeResults(t, `[{"a": 1, "b": {"c": {"d": "x"}, "e": null}, "f": true, "g": {}}]`)[0]
	assert.Equal(t, map[string]string{
		"a":     "1",
		"b.c.d": "x",
		"b.e":   "",
		"f":     "true",
		"g":     "{}",
	}, Flatten(rec))
}
