//go:build integration

package integration_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/air-quality-etl/internal/adapter/alertfile"
	"github.com/couchcryptid/air-quality-etl/internal/adapter/opendata"
	"github.com/couchcryptid/air-quality-etl/internal/adapter/postgres"
	"github.com/couchcryptid/air-quality-etl/internal/adapter/snapshot"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
	"github.com/couchcryptid/air-quality-etl/internal/pipeline"
)

func openPostgres(ctx context.Context, t *testing.T) *postgres.Store {
	t.Helper()
	store, err := postgres.Open(ctx, startPostgres(ctx, t), "calidad_aire", discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.EnsureTable(ctx))
	return store
}

// TestPostgresStore verifies the store contract against a real server.
func TestPostgresStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := openPostgres(ctx, t)
	require.NoError(t, store.EnsureTable(ctx), "EnsureTable is idempotent")

	latest, err := store.MaxLoadedAt(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest, "empty table has no max")

	no2 := 212.0
	t1 := time.Date(2025, 10, 14, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	n, err := store.Append(ctx, []domain.StationReading{
		{StationID: "A01", Name: "Pista de Silla", NO2: &no2, LoadedAt: t1},
		{StationID: "A02", Name: "Olivereta", LoadedAt: t1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, err = store.Append(ctx, []domain.StationReading{{StationID: "A01", Name: "Pista de Silla", LoadedAt: t2}})
	require.NoError(t, err)

	latest, err = store.MaxLoadedAt(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Equal(t2))

	stations, err := store.LatestByStation(ctx)
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, "Olivereta", stations[0].Name)
	assert.True(t, stations[0].LoadedAt.Equal(t1))
	assert.Equal(t, "Pista de Silla", stations[1].Name)
	assert.True(t, stations[1].LoadedAt.Equal(t2))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

// TestPipelineEndToEnd runs the full pipeline twice against a fake source and
// a real Postgres: the first run appends, the second finds nothing new.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := openPostgres(ctx, t)
	src := sourceServer(t, mockRecords(t))
	dir := t.TempDir()
	alertPath := filepath.Join(dir, "output", "actual", "alertas_calidad_aire.json")

	p := pipeline.New(pipeline.Stages{
		Fetcher:   opendata.NewClient(src.URL, 30*time.Second, discardLogger()),
		Snapshots: snapshot.NewWriter(filepath.Join(dir, "data", "raw"), "calidad_aire_raw", discardLogger()),
		Alerts:    alertfile.NewWriter(alertPath, false, discardLogger()),
		Loader:    pipeline.NewIncrementalLoader(store, discardLogger()),
	}, pipeline.Rules{
		Excluded:   []string{domain.ExcludedStation},
		Thresholds: domain.DefaultThresholds(),
	}, discardLogger(), observability.NewMetricsForTesting())

	first, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeAppended, first.Load.Outcome)
	assert.Equal(t, int64(5), first.Load.Appended, "six stations minus the excluded one")
	assert.Len(t, first.Alerts, 3)
	assert.FileExists(t, first.SnapshotPath)

	data, err := os.ReadFile(alertPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Pista de Silla")
	assert.NotContains(t, string(data), "Patraix")

	second, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeNoNewData, second.Load.Outcome)
	assert.Equal(t, int64(5), second.Load.StoredRows)
	require.NotNil(t, second.Load.StoreMax)
	assert.True(t, second.Load.StoreMax.Equal(time.Date(2025, 10, 14, 9, 0, 0, 0, time.UTC)))
}
