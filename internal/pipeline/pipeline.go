package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/air-quality-etl/internal/config"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
)

// Fetcher retrieves the current records from the source.
type Fetcher interface {
	Fetch(ctx context.Context) (domain.Response, error)
}

// SnapshotWriter persists the raw results of one poll.
type SnapshotWriter interface {
	Write(results []domain.RawRecord) (string, error)
}

// AlertWriter persists the alert set of one run.
type AlertWriter interface {
	Write(alerts domain.Alerts) (bool, error)
}

// AlertPublisher forwards alerts to an external consumer.
type AlertPublisher interface {
	Publish(ctx context.Context, alerts domain.Alerts, loadedAt time.Time) error
}

// BatchLoader persists a normalized batch.
type BatchLoader interface {
	Load(ctx context.Context, batch []domain.StationReading) LoadResult
}

// Stages are the collaborators of one run. Publisher may be nil.
type Stages struct {
	Fetcher   Fetcher
	Snapshots SnapshotWriter
	Alerts    AlertWriter
	Publisher AlertPublisher
	Loader    BatchLoader
}

// Rules are the data-quality and alerting parameters of a run.
type Rules struct {
	Excluded   []string
	Thresholds domain.Thresholds
}

// RulesFromConfig builds Rules from the service configuration.
func RulesFromConfig(cfg *config.Config) Rules {
	return Rules{
		Excluded: cfg.ExcludedStations,
		Thresholds: domain.Thresholds{
			NO2:  cfg.NO2Threshold,
			PM10: cfg.PM10Threshold,
			PM25: cfg.PM25Threshold,
		},
	}
}

// Report summarizes one run.
type Report struct {
	RunID            string
	NoData           bool
	Fetched          int
	Excluded         int
	Readings         []domain.StationReading
	SnapshotPath     string
	Alerts           domain.Alerts
	AlertFileWritten bool
	Load             LoadResult
}

// Pipeline runs fetch, normalize, snapshot, alerting and incremental load in
// sequence.
type Pipeline struct {
	stages  Stages
	rules   Rules
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool
	last    atomic.Pointer[RunStatus]
}

// RunStatus summarizes the most recent run for the status endpoint.
type RunStatus struct {
	RunID       string    `json:"run_id"`
	FinishedAt  time.Time `json:"finished_at"`
	Result      string    `json:"result"`
	Readings    int       `json:"readings"`
	Alerts      int       `json:"alerts"`
	LoadOutcome string    `json:"load_outcome,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// New creates a Pipeline with the given stages and observability.
func New(stages Stages, rules Rules, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		stages:  stages,
		rules:   rules,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once a run has completed with data, or an error
// describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// LastRun returns the status of the most recent run, or false before the
// first one finishes.
func (p *Pipeline) LastRun() (RunStatus, bool) {
	st := p.last.Load()
	if st == nil {
		return RunStatus{}, false
	}
	return *st, true
}

// Run executes one pass over the source. A transport failure ends the run
// early with Report.NoData set and a nil error. Schema and filesystem
// failures are returned. Store failures are reported in Report.Load only.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	report, err := p.run(ctx)
	st := RunStatus{
		RunID:      report.RunID,
		FinishedAt: domain.Now(),
		Readings:   len(report.Readings),
		Alerts:     len(report.Alerts),
	}
	switch {
	case err != nil:
		st.Result = "failed"
		st.Error = err.Error()
	case report.NoData:
		st.Result = "no_data"
	default:
		st.Result = "success"
		st.LoadOutcome = report.Load.Outcome.String()
	}
	p.last.Store(&st)
	return report, err
}

func (p *Pipeline) run(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	logger := p.logger.With("run_id", report.RunID)
	start := domain.Now()
	defer func() {
		p.metrics.RunDuration.Observe(domain.Now().Sub(start).Seconds())
	}()

	logger.Info("run started")

	resp, err := p.fetch(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoData) {
			logger.Error("no data loaded", "error", err)
			p.metrics.Runs.WithLabelValues("no_data").Inc()
			report.NoData = true
			return report, nil
		}
		return p.fail(report, "fetch", err)
	}
	report.Fetched = len(resp.Results)
	p.metrics.RecordsFetched.Add(float64(report.Fetched))
	logger.Info("source fetched", "records", report.Fetched)

	for _, rec := range resp.Results {
		if domain.IsExcluded(rec, p.rules.Excluded) {
			report.Excluded++
			logger.Info("excluded station skipped", "station", rec[domain.FieldName])
		}
	}
	p.metrics.RecordsExcluded.Add(float64(report.Excluded))

	report.Readings, err = domain.Normalize(resp.Results, p.rules.Excluded)
	if err != nil {
		return p.fail(report, "normalize", err)
	}
	logger.Info("records normalized", "readings", len(report.Readings))

	if len(resp.Results) > 0 {
		report.SnapshotPath, err = p.stages.Snapshots.Write(resp.Results)
		if err != nil {
			return p.fail(report, "snapshot", err)
		}
	} else {
		logger.Warn("source returned no records, snapshot skipped")
	}

	if err := p.evaluateAlerts(ctx, logger, &report); err != nil {
		return p.fail(report, "alerts", err)
	}

	report.Load = p.stages.Loader.Load(ctx, report.Readings)
	p.metrics.LoadOutcomes.WithLabelValues(report.Load.Outcome.String()).Inc()
	p.metrics.ReadingsAppended.Add(float64(report.Load.Appended))

	p.metrics.Runs.WithLabelValues("success").Inc()
	p.metrics.LastSuccess.Set(float64(domain.Now().Unix()))
	p.ready.Store(true)
	logger.Info("run finished",
		"readings", len(report.Readings),
		"alerts", len(report.Alerts),
		"load_outcome", report.Load.Outcome.String(),
		"appended", report.Load.Appended,
	)
	return report, nil
}

func (p *Pipeline) fetch(ctx context.Context) (domain.Response, error) {
	start := domain.Now()
	defer func() {
		p.metrics.FetchDuration.Observe(domain.Now().Sub(start).Seconds())
	}()
	return p.stages.Fetcher.Fetch(ctx)
}

func (p *Pipeline) evaluateAlerts(ctx context.Context, logger *slog.Logger, report *Report) error {
	for _, r := range report.Readings {
		if p.rules.Thresholds.Breached(r) {
			logger.Warn("air quality alert", "station", r.Name,
				"no2", logValue(r.NO2), "pm10", logValue(r.PM10), "pm25", logValue(r.PM25))
			continue
		}
		logger.Debug("air quality normal", "station", r.Name)
	}

	report.Alerts = domain.EvaluateAlerts(report.Readings, p.rules.Thresholds)
	p.metrics.AlertsActive.Set(float64(len(report.Alerts)))

	written, err := p.stages.Alerts.Write(report.Alerts)
	if err != nil {
		return err
	}
	report.AlertFileWritten = written

	if p.stages.Publisher != nil && len(report.Alerts) > 0 {
		loadedAt, _ := domain.MaxLoadedAt(report.Readings)
		if err := p.stages.Publisher.Publish(ctx, report.Alerts, loadedAt); err != nil {
			p.metrics.AlertPublishErrs.Inc()
			logger.Error("alert publish failed", "error", err)
		}
	}
	return nil
}

func (p *Pipeline) fail(report Report, stage string, err error) (Report, error) {
	p.metrics.Runs.WithLabelValues("failed").Inc()
	return report, fmt.Errorf("%s: %w", stage, err)
}

// logValue dereferences a pollutant value for logging.
func logValue(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
