package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr(v float64) *float64 { return &v }

// memStore is an in-memory Store with injectable failures.
type memStore struct {
	rows []domain.StationReading

	pingErr   error
	maxErr    error
	latestErr error
	appendErr error
	countErr  error

	appendCalls int
}

func (s *memStore) Ping(context.Context) error { return s.pingErr }

func (s *memStore) MaxLoadedAt(context.Context) (*time.Time, error) {
	if s.maxErr != nil {
		return nil, s.maxErr
	}
	latestAt, ok := domain.MaxLoadedAt(s.rows)
	if !ok {
		return nil, nil
	}
	return &latestAt, nil
}

func (s *memStore) LatestByStation(context.Context) ([]domain.StationLatest, error) {
	if s.latestErr != nil {
		return nil, s.latestErr
	}
	latest := map[string]time.Time{}
	var order []string
	for _, r := range s.rows {
		prev, seen := latest[r.Name]
		if !seen {
			order = append(order, r.Name)
		}
		if !seen || r.LoadedAt.After(prev) {
			latest[r.Name] = r.LoadedAt
		}
	}
	out := make([]domain.StationLatest, 0, len(order))
	for _, name := range order {
		out = append(out, domain.StationLatest{Name: name, LoadedAt: latest[name]})
	}
	return out, nil
}

func (s *memStore) Append(_ context.Context, readings []domain.StationReading) (int64, error) {
	s.appendCalls++
	if s.appendErr != nil {
		return 0, s.appendErr
	}
	s.rows = append(s.rows, readings...)
	return int64(len(readings)), nil
}

func (s *memStore) Count(context.Context) (int64, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return int64(len(s.rows)), nil
}

var errBoom = errors.New("boom")

func batchAt(ts time.Time, names ...string) []domain.StationReading {
	out := make([]domain.StationReading, 0, len(names))
	for _, n := range names {
		out = append(out, domain.StationReading{
			StationID: "id-" + n,
			Name:      n,
			NO2:       ptr(10),
			PM10:      ptr(10),
			PM25:      ptr(10),
			LoadedAt:  ts,
		})
	}
	return out
}

// bootstrapStore is a memStore whose table must be created before use.
type bootstrapStore struct {
	*memStore
	ensureErr   error
	ensureCalls int
}

func (s *bootstrapStore) EnsureTable(context.Context) error {
	s.ensureCalls++
	return s.ensureErr
}
