// Package pipeline orchestrates one batch run of the star-schema load.
//
// # Stages
//
// A run moves through fixed stages. A stage error aborts the run unless
// errors.IsFatal says otherwise:
//   - lock: take the run lock of the target warehouse
//   - extract: read the five CSV record sets and the review documents
//   - conform: merge them into one record per order; recovered conditions
//     come back as a non-fatal conform error and are only counted
//   - connect: open the warehouse under bounded retry
//   - migrate: create missing tables, when enabled
//   - dimension: resolve the surrogate keys of the five dimensions
//   - load: insert the fact rows
//
// Nothing is written before connect succeeds, so a run that cannot reach
// the warehouse leaves it untouched.
//
// # Basic Usage
//
//	p, err := pipeline.New(cfg, pipeline.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	report, err := p.Run(ctx)
package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/starload/pkg/config"
	"github.com/ajitpratap0/starload/pkg/conform"
	"github.com/ajitpratap0/starload/pkg/dimension"
	"github.com/ajitpratap0/starload/pkg/docstore"
	"github.com/ajitpratap0/starload/pkg/errors"
	"github.com/ajitpratap0/starload/pkg/fact"
	"github.com/ajitpratap0/starload/pkg/logger"
	"github.com/ajitpratap0/starload/pkg/metrics"
	"github.com/ajitpratap0/starload/pkg/models"
	"github.com/ajitpratap0/starload/pkg/retry"
	"github.com/ajitpratap0/starload/pkg/runlock"
	"github.com/ajitpratap0/starload/pkg/source"
	"github.com/ajitpratap0/starload/pkg/tracing"
	"github.com/ajitpratap0/starload/pkg/warehouse"
)

// Stage names, used in logs, metrics, spans and fatal errors
const (
	StageLock      = "lock"
	StageExtract   = "extract"
	StageConform   = "conform"
	StageConnect   = "connect"
	StageMigrate   = "migrate"
	StageDimension = "dimension"
	StageLoad      = "load"
)

// Pipeline runs the load for one configuration
type Pipeline struct {
	cfg     *config.Config
	logger  *zap.Logger
	policy  *retry.Policy
	locker  runlock.Locker
	tracer  *tracing.Provider
	opener  source.Opener
	reviews source.ReviewStore

	// closers are resources New created itself
	closers []io.Closer
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the base logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithRetryPolicy replaces the connection retry policy built from the
// reliability config
func WithRetryPolicy(policy *retry.Policy) Option {
	return func(p *Pipeline) { p.policy = policy }
}

// WithLocker replaces the locker built from the lock config
func WithLocker(l runlock.Locker) Option {
	return func(p *Pipeline) { p.locker = l }
}

// WithTracer sets the span provider
func WithTracer(t *tracing.Provider) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithOpener replaces the source file opener
func WithOpener(o source.Opener) Option {
	return func(p *Pipeline) { p.opener = o }
}

// WithReviewStore reads reviews from store instead of the configured
// document store
func WithReviewStore(store source.ReviewStore) Option {
	return func(p *Pipeline) { p.reviews = store }
}

// New validates cfg and creates a pipeline
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid configuration")
	}
	p := &Pipeline{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get()
	}
	if p.policy == nil {
		p.policy = retry.Fixed(cfg.Reliability.ConnectAttempts, cfg.Reliability.ConnectInterval)
	}
	if p.locker == nil {
		p.locker = runlock.New(cfg.Lock, p.logger)
		if c, ok := p.locker.(io.Closer); ok {
			p.closers = append(p.closers, c)
		}
	}
	if p.tracer == nil {
		p.tracer = tracing.Disabled()
	}
	return p, nil
}

// Run executes every stage once and returns the run report. On a fatal
// error the report covers the stages that completed and err is a
// *StageError. Connections and the run lock are released on every path.
func (p *Pipeline) Run(ctx context.Context) (report *Report, err error) {
	report = newReport(uuid.NewString(), p.cfg)
	ctx = logger.WithRunID(ctx, report.RunID)
	log := logger.FromContext(ctx, p.logger)

	ctx, span := p.tracer.StartStage(ctx, "run",
		attribute.String("run_id", report.RunID),
		attribute.String("warehouse", report.Warehouse))
	log.Info("starting run", zap.String("warehouse", report.Warehouse))

	defer func() {
		report.finish(err)
		metrics.Runs.WithLabelValues(metrics.Status(err)).Inc()
		tracing.End(span, err)
		if err != nil {
			log.Error("run failed", zap.Error(err), zap.Float64("duration_seconds", report.DurationSeconds))
			return
		}
		log.Info("run finished", zap.Object("report", report))
	}()

	var release func()
	if err = p.stage(ctx, StageLock, func(ctx context.Context) error {
		var lockErr error
		release, lockErr = p.locker.Acquire(ctx, p.cfg.Warehouse.WarehouseIdentity())
		return lockErr
	}); err != nil {
		return report, err
	}
	defer release()

	var set *models.SourceSet
	if err = p.stage(ctx, StageExtract, func(ctx context.Context) error {
		var extractErr error
		set, extractErr = p.extract(ctx)
		return extractErr
	}); err != nil {
		return report, err
	}
	report.Sources = set.Counts()

	var records []models.ConformedRecord
	if err = p.stage(ctx, StageConform, func(ctx context.Context) error {
		var stats conform.Stats
		records, stats = conform.Conform(set)
		report.Records = stats.Records
		report.Conform = nonZero(stats.Events())
		for event, n := range report.Conform {
			metrics.ConformEvents.WithLabelValues(event).Add(float64(n))
		}
		logger.FromContext(ctx, p.logger).Info("records conformed", zap.Int("records", stats.Records))
		return stats.Err()
	}); err != nil {
		return report, err
	}

	wh, err := warehouse.New(p.cfg.Warehouse, p.policy, p.cfg.Reliability.StatementTimeout, p.logger)
	if err != nil {
		return report, stageError(StageConnect, err)
	}
	defer func() {
		if closeErr := wh.Close(); closeErr != nil {
			log.Warn("failed to close warehouse", zap.Error(closeErr))
		}
	}()

	err = p.stage(ctx, StageConnect, wh.Connect)
	report.ConnectAttempts = wh.Attempts()
	if err != nil {
		return report, err
	}

	if p.cfg.Warehouse.Migrate {
		if err = p.stage(ctx, StageMigrate, func(ctx context.Context) error {
			return warehouse.Migrate(ctx, wh)
		}); err != nil {
			return report, err
		}
	}

	var mappings dimension.Mappings
	if err = p.stage(ctx, StageDimension, func(ctx context.Context) error {
		var resolveErr error
		mappings, report.Dimensions, resolveErr = dimension.NewResolver(wh, logger.FromContext(ctx, p.logger)).
			ResolveAll(ctx, records)
		return resolveErr
	}); err != nil {
		return report, err
	}

	if err = p.stage(ctx, StageLoad, func(ctx context.Context) error {
		var loadErr error
		report.Facts, loadErr = fact.NewLoader(wh, logger.FromContext(ctx, p.logger)).Load(ctx, records, mappings)
		return loadErr
	}); err != nil {
		return report, err
	}

	return report, nil
}

// Migrate connects to the warehouse and creates the star schema, without
// reading any source.
func (p *Pipeline) Migrate(ctx context.Context) error {
	wh, err := warehouse.New(p.cfg.Warehouse, p.policy, p.cfg.Reliability.StatementTimeout, p.logger)
	if err != nil {
		return stageError(StageConnect, err)
	}
	defer wh.Close()

	if err := p.stage(ctx, StageConnect, wh.Connect); err != nil {
		return err
	}
	return p.stage(ctx, StageMigrate, func(ctx context.Context) error {
		return warehouse.Migrate(ctx, wh)
	})
}

// Close releases resources the pipeline created, such as the lock
// server client. Safe to call more than once.
func (p *Pipeline) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	p.closers = nil
	return first
}

// stage runs fn with the stage recorded on the context logger, a span and
// the stage duration histogram. Non-fatal errors are logged and swallowed.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx = logger.WithStage(ctx, name)
	ctx, span := p.tracer.StartStage(ctx, name)

	err := fn(ctx)
	if err != nil && !errors.IsFatal(err) {
		logger.FromContext(ctx, p.logger).Warn("stage recovered", zap.Error(err))
		err = nil
	}

	metrics.ObserveStage(name, start, err)
	tracing.End(span, err)
	if err != nil {
		return stageError(name, err)
	}
	logger.FromContext(ctx, p.logger).Debug("stage complete", zap.Duration("duration", time.Since(start)))
	return nil
}

// extract reads every source. The document store, when configured, is
// connected for the duration of the read only.
func (p *Pipeline) extract(ctx context.Context) (*models.SourceSet, error) {
	opener := p.opener
	if opener == nil {
		urls := source.NewURLOpener(p.cfg.Sources.S3)
		defer urls.Close()
		opener = urls
	}

	reviews := p.reviews
	if reviews == nil && p.cfg.Reviews.URI != "" {
		store := docstore.New(p.cfg.Reviews, p.policy, p.logger)
		defer store.Close()
		if err := store.Connect(ctx); err != nil {
			return nil, err
		}
		coll, err := store.Collection()
		if err != nil {
			return nil, err
		}
		reviews = source.NewMongoReviews(coll)
	}

	reader := source.NewReader(p.cfg.Sources.Locations(), opener, reviews, logger.FromContext(ctx, p.logger))
	return reader.Load(ctx)
}

func nonZero(counts map[string]int) map[string]int {
	out := make(map[string]int, len(counts))
	for k, n := range counts {
		if n > 0 {
			out[k] = n
		}
	}
	return out
}
