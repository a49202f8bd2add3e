package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// columns is the stored row layout, in insert order.
var columns = []string{
	"fiwareid", "nombre", "direccion", "tipozona", "tipoemisio",
	"no2", "pm10", "pm25", "calidad_am", "fecha_carg", "longitud", "latitud",
}

// Store is the append-only readings table on PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

// Open creates a connection pool for url. The pool connects lazily, so an
// unreachable server surfaces on the first Ping rather than here.
func Open(ctx context.Context, url, table string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return &Store{pool: pool, table: table, logger: logger}, nil
}

func (s *Store) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

// EnsureTable creates the readings table when it does not exist yet.
func (s *Store) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			fiwareid   TEXT,
			nombre     TEXT NOT NULL,
			direccion  TEXT,
			tipozona   TEXT,
			tipoemisio TEXT,
			no2        DOUBLE PRECISION,
			pm10       DOUBLE PRECISION,
			pm25       DOUBLE PRECISION,
			calidad_am TEXT,
			fecha_carg TIMESTAMPTZ NOT NULL,
			longitud   DOUBLE PRECISION,
			latitud    DOUBLE PRECISION
		)`, s.ident())
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	s.logger.Debug("readings table ready", "table", s.table)
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// MaxLoadedAt returns the newest stored fecha_carg, or nil for an empty table.
func (s *Store) MaxLoadedAt(ctx context.Context) (*time.Time, error) {
	var latest *time.Time
	query := fmt.Sprintf(`SELECT MAX(fecha_carg) FROM %s`, s.ident())
	if err := s.pool.QueryRow(ctx, query).Scan(&latest); err != nil {
		return nil, fmt.Errorf("query max fecha_carg: %w", err)
	}
	if latest != nil {
		utc := latest.UTC()
		latest = &utc
	}
	return latest, nil
}

// LatestByStation returns the newest stored timestamp per station name.
func (s *Store) LatestByStation(ctx context.Context) ([]domain.StationLatest, error) {
	query := fmt.Sprintf(`
		SELECT nombre, MAX(fecha_carg)
		FROM %s
		GROUP BY nombre
		ORDER BY nombre`, s.ident())

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StationLatest
	for rows.Next() {
		var sl domain.StationLatest
		if err := rows.Scan(&sl.Name, &sl.LoadedAt); err != nil {
			return nil, fmt.Errorf("scan latest per station: %w", err)
		}
		sl.LoadedAt = sl.LoadedAt.UTC()
		out = append(out, sl)
	}
	return out, rows.Err()
}

// Append copies the whole batch inside one transaction. Either every row is
// stored or none is.
func (s *Store) Append(ctx context.Context, readings []domain.StationReading) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	n, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, columns,
		pgx.CopyFromSlice(len(readings), func(i int) ([]any, error) {
			return row(readings[i]), nil
		}))
	if err != nil {
		return 0, fmt.Errorf("copy readings: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return n, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.ident())
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count readings: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func row(r domain.StationReading) []any {
	return []any{
		r.StationID, r.Name, r.Address, r.ZoneType, r.EmissionType,
		r.NO2, r.PM10, r.PM25, r.AirQuality, r.LoadedAt, r.Longitude, r.Latitude,
	}
}
