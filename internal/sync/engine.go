package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/PorticoEstate/outlookbookingsync/internal/mapping"
)

const (
	otelScope      = "outlookbookingsync/sync"
	spanPass       = "sync.pass"
	metricCreated  = "outlookbookingsync.sync.events.created"
	metricUpdated  = "outlookbookingsync.sync.events.updated"
	metricDeleted  = "outlookbookingsync.sync.events.deleted"
	metricSkipped  = "outlookbookingsync.sync.events.skipped"
	metricImported = "outlookbookingsync.sync.events.imported"
	metricErrors   = "outlookbookingsync.sync.errors"
)

// PassStats aggregates one full scheduled pass across all configured jobs.
type PassStats struct {
	Created  int
	Updated  int
	Deleted  int
	Skipped  int
	Imported int
	Errors   int
}

// Engine runs the scheduled sync lifecycle: an immediate first pass, then
// either a fixed-interval polling loop or a cron schedule. Each pass runs
// the reservation-side pipeline (populate, sweep, import, orphan cleanup)
// followed by every configured bridge-to-bridge batch.
type Engine struct {
	orchestrator *Orchestrator
	sweeper      *Sweeper
	service      *mapping.Service
	requests     []Request
	window       time.Duration
	pollInterval time.Duration
	cronSpec     string
	log          *slog.Logger

	// OTel instruments, always non-nil (no-op when telemetry is disabled).
	tracer      trace.Tracer
	cntCreated  metric.Int64Counter
	cntUpdated  metric.Int64Counter
	cntDeleted  metric.Int64Counter
	cntSkipped  metric.Int64Counter
	cntImported metric.Int64Counter
	cntErrors   metric.Int64Counter
}

// NewEngine creates an Engine. sweeper and service may be nil when only
// bridge-to-bridge jobs are configured; cronSpec takes precedence over
// pollInterval when both are set.
func NewEngine(orchestrator *Orchestrator, sweeper *Sweeper, service *mapping.Service, requests []Request, window, pollInterval time.Duration, cronSpec string, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		orchestrator: orchestrator,
		sweeper:      sweeper,
		service:      service,
		requests:     requests,
		window:       window,
		pollInterval: pollInterval,
		cronSpec:     cronSpec,
		log:          logger,

		tracer:      tracer,
		cntCreated:  mustCounter(metricCreated, "Number of events created during sync"),
		cntUpdated:  mustCounter(metricUpdated, "Number of events updated during sync"),
		cntDeleted:  mustCounter(metricDeleted, "Number of events deleted during sync"),
		cntSkipped:  mustCounter(metricSkipped, "Number of events skipped during sync"),
		cntImported: mustCounter(metricImported, "Number of remote events imported during sync"),
		cntErrors:   mustCounter(metricErrors, "Number of errors encountered during sync"),
	}
}

// pass runs one full scheduled pass, recording a trace span and metrics.
func (e *Engine) pass(ctx context.Context) (PassStats, error) {
	ctx, span := e.tracer.Start(ctx, spanPass)
	defer span.End()

	var stats PassStats
	var firstErr error

	if e.sweeper != nil && e.service != nil {
		if err := e.reservationPass(ctx, &stats); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, req := range e.requests {
		windowed := req
		if windowed.Start.IsZero() {
			now := time.Now().UTC()
			windowed.Start = now
			windowed.End = now.Add(e.window)
		}
		result, err := e.orchestrator.SyncBetweenBridges(ctx, windowed)
		if err != nil {
			e.log.Error("bridge sync failed to start",
				"source", req.SourceBridge, "target", req.TargetBridge, "error", err)
			stats.Errors++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		stats.Created += result.Created
		stats.Updated += result.Updated
		stats.Deleted += result.Deleted
		stats.Skipped += result.Skipped
		stats.Errors += len(result.Errors)
	}

	e.record(ctx, span, stats, firstErr)
	return stats, firstErr
}

// reservationPass runs the booking-side pipeline: populate missing mapping
// rows, dispatch pending ones, import unknown remote events, and finally
// remove orphans.
func (e *Engine) reservationPass(ctx context.Context, stats *PassStats) error {
	var firstErr error

	populated, err := e.service.BulkPopulate(ctx, 0)
	if err != nil {
		firstErr = fmt.Errorf("bulk populate: %w", err)
	}
	stats.Errors += len(populated.Errors)

	swept, err := e.sweeper.Run(ctx)
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("pending sweep: %w", err)
	}
	stats.Created += swept.Created
	stats.Updated += swept.Updated
	stats.Errors += len(swept.Errors)

	bindings, err := e.service.ResourceBindings(ctx)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		return firstErr
	}
	now := time.Now().UTC()
	imported, err := e.sweeper.ImportRemoteEvents(ctx, bindings, now, now.Add(e.window))
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("remote import: %w", err)
	}
	stats.Imported += imported.Imported
	stats.Errors += len(imported.Errors)

	cleaned, err := e.service.CleanupOrphans(ctx)
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("orphan cleanup: %w", err)
	}
	stats.Deleted += cleaned.Deleted
	stats.Errors += len(cleaned.Errors)

	return firstErr
}

func (e *Engine) record(ctx context.Context, span trace.Span, stats PassStats, err error) {
	if stats.Created > 0 {
		e.cntCreated.Add(ctx, int64(stats.Created))
	}
	if stats.Updated > 0 {
		e.cntUpdated.Add(ctx, int64(stats.Updated))
	}
	if stats.Deleted > 0 {
		e.cntDeleted.Add(ctx, int64(stats.Deleted))
	}
	if stats.Skipped > 0 {
		e.cntSkipped.Add(ctx, int64(stats.Skipped))
	}
	if stats.Imported > 0 {
		e.cntImported.Add(ctx, int64(stats.Imported))
	}
	if stats.Errors > 0 {
		e.cntErrors.Add(ctx, int64(stats.Errors))
	}

	span.SetAttributes(
		attribute.Int("sync.created", stats.Created),
		attribute.Int("sync.updated", stats.Updated),
		attribute.Int("sync.deleted", stats.Deleted),
		attribute.Int("sync.skipped", stats.Skipped),
		attribute.Int("sync.imported", stats.Imported),
		attribute.Int("sync.errors", stats.Errors),
	)
	if err != nil {
		span.RecordError(err)
	}
}

// RunOnce performs a single pass and returns.
func (e *Engine) RunOnce(ctx context.Context) (PassStats, error) {
	return e.pass(ctx)
}

// Run starts the scheduled loop. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	// Immediate first pass.
	if _, err := e.pass(ctx); err != nil {
		e.log.Error("initial sync pass failed", "error", err)
	}

	if e.cronSpec != "" {
		return e.runCron(ctx)
	}
	return e.runTicker(ctx)
}

func (e *Engine) runTicker(ctx context.Context) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.pass(ctx); err != nil {
				e.log.Error("sync pass failed", "error", err)
			}
		}
	}
}

func (e *Engine) runCron(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(e.cronSpec, func() {
		if _, err := e.pass(ctx); err != nil {
			e.log.Error("scheduled sync pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", e.cronSpec, err)
	}

	c.Start()
	<-ctx.Done()

	stopped := c.Stop()
	// Let an in-flight pass finish before returning.
	<-stopped.Done()
	e.log.Info("sync engine shutting down")
	return ctx.Err()
}
