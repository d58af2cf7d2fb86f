// Package reconcile is the safety net under the pipeline: a periodic sweep
// that re-drives propagation for memes whose async push was lost, whose
// retries are due, or whose deletion never finished. Running it is always
// safe because propagation is idempotent.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/maxp/memexpert/internal/domain"
	applog "github.com/maxp/memexpert/internal/logger"
	"github.com/maxp/memexpert/internal/pipeline"
	"github.com/maxp/memexpert/internal/repository"
	"github.com/robfig/cron/v3"
)

// Config tunes the sweep.
type Config struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	DeleteAfter time.Duration
	BatchSize   int
	MaxAttempts int
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.DeleteAfter <= 0 {
		c.DeleteAfter = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 6
	}
}

// Job runs the reconciliation sweeps.
type Job struct {
	memes    *repository.MemeRepository
	pipeline *pipeline.Pipeline
	ingestor *pipeline.Ingestor
	cfg      Config
	cron     *cron.Cron
}

// NewJob creates a reconciliation job.
// Parameters:
//   - memes: primary store repository used to scan for divergence.
//   - pipe: pipeline used to re-drive propagation.
//   - ingestor: ingest service used for deferred retagging; may be nil.
//   - cfg: sweep configuration; zero values get defaults.
// Returns:
//   - *Job: job ready to Start or RunOnce.
func NewJob(memes *repository.MemeRepository, pipe *pipeline.Pipeline, ingestor *pipeline.Ingestor, cfg Config) *Job {
	cfg.applyDefaults()
	return &Job{
		memes:    memes,
		pipeline: pipe,
		ingestor: ingestor,
		cfg:      cfg,
		cron:     cron.New(),
	}
}

// Start schedules periodic sweeps until Stop is called.
func (j *Job) Start() error {
	spec := fmt.Sprintf("@every %s", j.cfg.Interval)
	_, err := j.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.cfg.Interval)
		defer cancel()
		ctx = applog.WithField(ctx, applog.FieldComponent, "reconcile")
		stats := j.RunOnce(ctx)
		if stats.Repaired > 0 || stats.Retagged > 0 || stats.Errors > 0 {
			applog.CtxInfo(ctx, "reconcile sweep: repaired=%d retagged=%d errors=%d permanently_failed=%d",
				stats.Repaired, stats.Retagged, stats.Errors, stats.PermanentlyFailed)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reconcile sweep: %w", err)
	}
	j.cron.Start()
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (j *Job) Stop() {
	<-j.cron.Stop().Done()
}

// Stats summarizes one sweep.
type Stats struct {
	// Repaired counts memes whose propagation was re-driven.
	Repaired int
	// Retagged counts memes whose deferred tag generation succeeded.
	Retagged int
	// Errors counts failed repair or retag attempts in this sweep.
	Errors int
	// PermanentlyFailed counts memes whose retries are exhausted on at
	// least one adapter. Reported every sweep until an operator acts.
	PermanentlyFailed int64
}

// RunOnce performs a single sweep: retries due failures, re-drives stale
// pending propagations and unfinished deletions, and re-runs deferred tag
// generation.
// Parameters:
//   - ctx: context bounding the whole sweep.
// Returns:
//   - Stats: what the sweep found and fixed.
func (j *Job) RunOnce(ctx context.Context) Stats {
	var stats Stats
	now := time.Now()

	ids := make(map[string]bool)
	collect := func(list []string, err error, what string) {
		if err != nil {
			applog.CtxError(ctx, "reconcile scan %s failed: %v", what, err)
			stats.Errors++
			return
		}
		for _, id := range list {
			ids[id] = true
		}
	}

	for _, adapter := range []domain.IndexAdapter{domain.AdapterText, domain.AdapterVector} {
		list, err := j.memes.ListRetryable(ctx, adapter, now, j.cfg.MaxAttempts, j.cfg.BatchSize)
		collect(list, err, fmt.Sprintf("retryable/%s", adapter))

		list, err = j.memes.ListStalePending(ctx, adapter, now.Add(-j.cfg.StaleAfter), j.cfg.BatchSize)
		collect(list, err, fmt.Sprintf("stale/%s", adapter))
	}

	list, err := j.memes.ListPendingDelete(ctx, now.Add(-j.cfg.DeleteAfter), j.cfg.BatchSize)
	collect(list, err, "pending-delete")

	for id := range ids {
		if ctx.Err() != nil {
			break
		}
		if err := j.pipeline.Propagate(ctx, id); err != nil {
			applog.CtxError(ctx, "reconcile propagation failed for meme %s: %v", id, err)
			stats.Errors++
			continue
		}
		stats.Repaired++
	}

	stats.Retagged = j.retagDeferred(ctx, &stats)

	if count, err := j.memes.CountPermanentlyFailed(ctx, j.cfg.MaxAttempts); err != nil {
		applog.CtxError(ctx, "reconcile failed to count exhausted memes: %v", err)
	} else {
		stats.PermanentlyFailed = count
		if count > 0 {
			applog.CtxError(ctx, "%d memes have exhausted propagation retries and need attention", count)
		}
	}

	return stats
}

func (j *Job) retagDeferred(ctx context.Context, stats *Stats) int {
	if j.ingestor == nil {
		return 0
	}
	ids, err := j.memes.ListNeedsRetag(ctx, j.cfg.BatchSize)
	if err != nil {
		applog.CtxError(ctx, "reconcile scan needs-retag failed: %v", err)
		stats.Errors++
		return 0
	}
	retagged := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if err := j.ingestor.Retag(ctx, id, ""); err != nil {
			// Still degraded; the flag stays set for the next sweep.
			applog.CtxWarn(ctx, "deferred retag still failing for meme %s: %v", id, err)
			stats.Errors++
			continue
		}
		retagged++
	}
	return retagged
}
