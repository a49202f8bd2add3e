package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// ErrStoreUnavailable wraps a failed connectivity check against the store.
var ErrStoreUnavailable = errors.New("store unavailable")

// Store is the append-only relational table of every reading ever loaded.
type Store interface {
	Ping(ctx context.Context) error
	// MaxLoadedAt returns nil when the table is empty.
	MaxLoadedAt(ctx context.Context) (*time.Time, error)
	LatestByStation(ctx context.Context) ([]domain.StationLatest, error)
	Append(ctx context.Context, readings []domain.StationReading) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// TableEnsurer is implemented by stores that can create their table. The
// loader calls EnsureTable after the first successful Ping, and again on
// later loads until it succeeds.
type TableEnsurer interface {
	EnsureTable(ctx context.Context) error
}

// LoadOutcome classifies one incremental load attempt.
type LoadOutcome int

const (
	OutcomeAppended LoadOutcome = iota
	OutcomeNoNewData
	OutcomeConnectivityError
	OutcomeOperationalError
)

func (o LoadOutcome) String() string {
	switch o {
	case OutcomeAppended:
		return "appended"
	case OutcomeNoNewData:
		return "no_new_data"
	case OutcomeConnectivityError:
		return "connectivity_error"
	case OutcomeOperationalError:
		return "operational_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// LoadResult reports what the incremental loader did and why. Err is set for
// the two error outcomes.
type LoadResult struct {
	Outcome    LoadOutcome
	BatchMax   time.Time
	StoreMax   *time.Time
	Appended   int64
	StoredRows int64
	Err        error
}

// IncrementalLoader appends a batch only when its newest timestamp differs
// from the newest one already stored. It implements BatchLoader.
type IncrementalLoader struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	ensured bool
}

// NewIncrementalLoader creates a loader over store.
func NewIncrementalLoader(store Store, logger *slog.Logger) *IncrementalLoader {
	return &IncrementalLoader{store: store, logger: logger}
}

// Load compares the batch with the store and appends the whole batch when it
// is new. It never returns an error: store failures are folded into the
// result so the rest of the run can proceed.
func (l *IncrementalLoader) Load(ctx context.Context, batch []domain.StationReading) LoadResult {
	if err := l.store.Ping(ctx); err != nil {
		err = fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		l.logger.Error("store connection failed, skipping load", "error", err)
		return LoadResult{Outcome: OutcomeConnectivityError, Err: err}
	}

	var res LoadResult
	if err := l.ensureTable(ctx); err != nil {
		return l.operational(res, "ensure table", err)
	}

	batchMax, ok := domain.MaxLoadedAt(batch)
	if !ok {
		l.logger.Info("empty batch, nothing to load")
		res.Outcome = OutcomeNoNewData
		return l.withRowCount(ctx, res)
	}
	res.BatchMax = batchMax

	latest, err := l.store.LatestByStation(ctx)
	if err != nil {
		return l.operational(res, "query latest per station", err)
	}
	for _, s := range latest {
		l.logger.Debug("stored station", "station", s.Name, "latest_loaded_at", s.LoadedAt)
	}

	storeMax, err := l.store.MaxLoadedAt(ctx)
	if err != nil {
		return l.operational(res, "query latest load timestamp", err)
	}
	res.StoreMax = storeMax

	if !domain.NeedsAppend(batchMax, storeMax) {
		l.logger.Info("no new data to load", "loaded_at", batchMax)
		res.Outcome = OutcomeNoNewData
		return l.withRowCount(ctx, res)
	}
	if storeMax != nil && batchMax.Before(*storeMax) {
		l.logger.Warn("batch is older than stored data, appending anyway",
			"batch_loaded_at", batchMax, "stored_loaded_at", *storeMax)
	}

	n, err := l.store.Append(ctx, batch)
	if err != nil {
		return l.operational(res, "append batch", err)
	}
	res.Outcome = OutcomeAppended
	res.Appended = n
	l.logger.Info("new data loaded", "appended", n, "loaded_at", batchMax)
	return l.withRowCount(ctx, res)
}

func (l *IncrementalLoader) ensureTable(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ensured {
		return nil
	}
	if e, ok := l.store.(TableEnsurer); ok {
		if err := e.EnsureTable(ctx); err != nil {
			return err
		}
	}
	l.ensured = true
	return nil
}

func (l *IncrementalLoader) operational(res LoadResult, op string, err error) LoadResult {
	res.Outcome = OutcomeOperationalError
	res.Err = fmt.Errorf("%s: %w", op, err)
	l.logger.Error("store load failed", "error", res.Err)
	return res
}

// withRowCount records the store size for reporting; a failure here does not
// change the outcome.
func (l *IncrementalLoader) withRowCount(ctx context.Context, res LoadResult) LoadResult {
	n, err := l.store.Count(ctx)
	if err != nil {
		l.logger.Warn("count stored readings failed", "error", err)
		return res
	}
	res.StoredRows = n
	l.logger.Info("store contents", "rows", n)
	return res
}
