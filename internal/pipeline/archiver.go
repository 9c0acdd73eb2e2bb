package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
)

const archiveLockKey = "archive"

// ErrVerifyMismatch is returned when an uploaded export does not read back
// with the expected number of rows.
var ErrVerifyMismatch = errors.New("pipeline: archive verification mismatch")

// Pruner deletes rows older than a cutoff.
type Pruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiverConfig controls retention and pruning.
type ArchiverConfig struct {
	RetentionDays     int
	DeleteAfterUpload bool
	LockTTL           time.Duration
}

// Archiver moves old simulation results and training samples to cold
// storage and optionally prunes them from the database once the upload has
// been read back and counted.
type Archiver struct {
	blob     domain.Archiver
	reader   domain.BlobReader
	deleter  domain.BlobDeleter
	lock     domain.LockManager
	results  Pruner
	samples  Pruner
	onReport func(domain.ArchiveReport)
	cfg      ArchiverConfig
	logger   *slog.Logger
	now      func() time.Time
}

// ArchiverOption customises an Archiver.
type ArchiverOption func(*Archiver)

// WithVerifier reads each export back before pruning. deleter may be nil;
// when set, a failed verification removes the bad object.
func WithVerifier(r domain.BlobReader, deleter domain.BlobDeleter) ArchiverOption {
	return func(a *Archiver) {
		a.reader = r
		a.deleter = deleter
	}
}

// WithLock serialises runs across processes.
func WithLock(l domain.LockManager) ArchiverOption {
	return func(a *Archiver) { a.lock = l }
}

// WithPruners sets the stores pruned after a verified upload. Either may be
// nil.
func WithPruners(results, samples Pruner) ArchiverOption {
	return func(a *Archiver) {
		a.results = results
		a.samples = samples
	}
}

// WithReportHook is called for every non-empty export after it has been
// verified.
func WithReportHook(fn func(domain.ArchiveReport)) ArchiverOption {
	return func(a *Archiver) { a.onReport = fn }
}

// WithArchiveClock overrides time.Now.
func WithArchiveClock(now func() time.Time) ArchiverOption {
	return func(a *Archiver) { a.now = now }
}

// NewArchiver creates a new Archiver.
func NewArchiver(blob domain.Archiver, cfg ArchiverConfig, logger *slog.Logger, opts ...ArchiverOption) *Archiver {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	a := &Archiver{
		blob:   blob,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Cutoff returns the retention boundary for a run starting at now.
func (a *Archiver) Cutoff() time.Time {
	return a.now().UTC().Add(-time.Duration(a.cfg.RetentionDays) * 24 * time.Hour)
}

// Run executes a single archive pass: results first, then samples. Reports
// for completed kinds are returned even when a later kind fails.
func (a *Archiver) Run(ctx context.Context) ([]domain.ArchiveReport, error) {
	if a.lock != nil {
		unlock, err := a.lock.Acquire(ctx, archiveLockKey, a.cfg.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("pipeline: acquire archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := a.Cutoff()
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.cfg.RetentionDays),
		slog.Bool("delete_after_upload", a.cfg.DeleteAfterUpload),
	)

	steps := []struct {
		kind    string
		archive func(context.Context, time.Time) (domain.ArchiveReport, error)
		pruner  Pruner
	}{
		{"simulation_results", a.blob.ArchiveResults, a.results},
		{"training_samples", a.blob.ArchiveSamples, a.samples},
	}

	var reports []domain.ArchiveReport
	for _, step := range steps {
		report, err := step.archive(ctx, cutoff)
		if err != nil {
			return reports, fmt.Errorf("pipeline: archive %s before %v: %w", step.kind, cutoff, err)
		}
		reports = append(reports, report)

		if report.Path == "" {
			a.logger.Info("nothing to archive", slog.String("kind", step.kind))
			continue
		}
		a.logger.Info("archived",
			slog.String("kind", report.Kind),
			slog.String("path", report.Path),
			slog.Int64("count", report.Count),
		)

		if err := a.verify(ctx, report); err != nil {
			return reports, err
		}
		if a.onReport != nil {
			a.onReport(report)
		}

		if !a.cfg.DeleteAfterUpload || step.pruner == nil {
			continue
		}
		deleted, err := step.pruner.DeleteBefore(ctx, cutoff)
		if err != nil {
			return reports, fmt.Errorf("pipeline: prune %s: %w", step.kind, err)
		}
		a.logger.Info("pruned", slog.String("kind", step.kind), slog.Int64("rows", deleted))
	}

	a.logger.Info("archive run complete", slog.Int("exports", len(reports)))
	return reports, nil
}

// verify reads the export back and counts its JSONL lines.
func (a *Archiver) verify(ctx context.Context, report domain.ArchiveReport) error {
	if a.reader == nil {
		return nil
	}

	lines, err := a.countLines(ctx, report.Path)
	if err == nil && lines != report.Count {
		err = fmt.Errorf("%w: %s has %d lines, expected %d", ErrVerifyMismatch, report.Path, lines, report.Count)
	}
	if err == nil {
		return nil
	}

	a.logger.Error("archive verification failed", slog.String("path", report.Path), slog.String("error", err.Error()))
	if a.deleter != nil {
		if derr := a.deleter.Delete(ctx, report.Path); derr != nil {
			a.logger.Warn("failed to remove unverified export", slog.String("path", report.Path), slog.String("error", derr.Error()))
		}
	}
	return fmt.Errorf("pipeline: verify %s: %w", report.Path, err)
}

func (a *Archiver) countLines(ctx context.Context, path string) (int64, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var n int64
	for sc.Scan() {
		if len(sc.Bytes()) > 0 {
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("reading %s: %w", path, err)
	}
	return n, nil
}

// RunCron runs the archiver on a cron schedule until the context is
// cancelled. A failed run is logged and the schedule continues.
//
// Example: "0 3 * * *" runs at 03:00 UTC every day.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := ParseCron(cronExpr)
	if err != nil {
		return err
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		if err := ctx.Err(); err != nil {
			a.logger.Info("archiver cron stopped")
			return err
		}
		next, err := nextRun(sched, a.now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: computing next run: %w", err)
		}
		wait := time.Until(next)
		a.logger.Info("next archive run scheduled", slog.Time("at", next), slog.Duration("in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := a.Run(ctx); err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.Info("archive run skipped, another process holds the lock")
				continue
			}
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
	}
}
