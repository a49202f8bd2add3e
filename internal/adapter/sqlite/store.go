package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// timeLayout is fixed width, nanosecond precise and always UTC so that text
// ordering, and with it MAX(fecha_carg), matches chronological ordering and
// a stored value compares Equal to the reading it came from.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is the append-only readings table in a local SQLite file.
type Store struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

// Open opens (creating if needed) the database file at path.
func Open(path, table string, logger *slog.Logger) (*Store, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids "database is locked" between the loader's
	// queries and its append transaction.
	db.SetMaxOpenConns(1)
	return &Store{db: db, table: table, logger: logger}, nil
}

func buildDSN(path string) (string, error) {
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return path, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path), nil
}

func (s *Store) ident() string {
	return `"` + strings.ReplaceAll(s.table, `"`, `""`) + `"`
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
			no2        REAL,
			pm10       REAL,
			pm25       REAL,
			calidad_am TEXT,
			fecha_carg TEXT NOT NULL,
			longitud   REAL,
			latitud    REAL
		)`, s.ident())
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	s.logger.Debug("readings table ready", "table", s.table)
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// MaxLoadedAt returns the newest stored fecha_carg, or nil for an empty table.
func (s *Store) MaxLoadedAt(ctx context.Context) (*time.Time, error) {
	var latest sql.NullString
	query := fmt.Sprintf(`SELECT MAX(fecha_carg) FROM %s`, s.ident())
	if err := s.db.QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return nil, fmt.Errorf("query max fecha_carg: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, latest.String)
	if err != nil {
		return nil, fmt.Errorf("parse stored fecha_carg %q: %w", latest.String, err)
	}
	return &t, nil
}

// LatestByStation returns the newest stored timestamp per station name.
func (s *Store) LatestByStation(ctx context.Context) ([]domain.StationLatest, error) {
	query := fmt.Sprintf(`
		SELECT nombre, MAX(fecha_carg)
		FROM %s
		GROUP BY nombre
		ORDER BY nombre`, s.ident())

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StationLatest
	for rows.Next() {
		var name, ts string
		if err := rows.Scan(&name, &ts); err != nil {
			return nil, fmt.Errorf("scan latest per station: %w", err)
		}
		t, err := time.Parse(timeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("parse stored fecha_carg %q: %w", ts, err)
		}
		out = append(out, domain.StationLatest{Name: name, LoadedAt: t})
	}
	return out, rows.Err()
}

// Append inserts the whole batch inside one transaction. Either every row is
// stored or none is.
func (s *Store) Append(ctx context.Context, readings []domain.StationReading) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			fiwareid, nombre, direccion, tipozona, tipoemisio,
			no2, pm10, pm25, calidad_am, fecha_carg, longitud, latitud
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.ident()))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx,
			r.StationID, r.Name, r.Address, r.ZoneType, r.EmissionType,
			r.NO2, r.PM10, r.PM25, r.AirQuality,
			r.LoadedAt.UTC().Format(timeLayout), r.Longitude, r.Latitude,
		); err != nil {
			return 0, fmt.Errorf("insert reading %q: %w", r.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return int64(len(readings)), nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.ident())
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count readings: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
