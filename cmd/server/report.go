package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/docsync-api/internal/platform/postgres"
)

// maxReportedRuns bounds the lines of one report message.
const maxReportedRuns = 20

type failedRunSource interface {
	FailedSince(ctx context.Context, since time.Time) ([]postgres.SyncRun, error)
}

type messageSender interface {
	Send(ctx context.Context, message string) error
}

// failedRunReporter posts the runs that failed since its previous report.
type failedRunReporter struct {
	runs     failedRunSource
	notifier messageSender
	logger   *slog.Logger
	timeFunc func() time.Time

	mu   sync.Mutex
	last time.Time
}

func newFailedRunReporter(runs failedRunSource, notifier messageSender, logger *slog.Logger) *failedRunReporter {
	return &failedRunReporter{
		runs:     runs,
		notifier: notifier,
		logger:   logger.With("component", "failed_run_report"),
		timeFunc: time.Now,
		last:     time.Now(),
	}
}

// Run reports the failed runs of the current window. The window only moves
// forward once the report has been delivered.
func (r *failedRunReporter) Run(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.timeFunc()
	runs, err := r.runs.FailedSince(ctx, r.last)
	if err != nil {
		return fmt.Errorf("failed to load failed runs: %w", err)
	}
	if len(runs) == 0 {
		r.logger.Debug("no failed runs to report", "since", r.last)
		r.last = now
		return nil
	}

	if err := r.notifier.Send(ctx, formatFailedRuns(r.last, runs)); err != nil {
		return fmt.Errorf("failed to send failed run report: %w", err)
	}
	r.logger.Info("failed run report sent", "runs", len(runs), "since", r.last)
	r.last = now
	return nil
}

func formatFailedRuns(since time.Time, runs []postgres.SyncRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "docsync: %d failed sync runs since %s", len(runs), since.UTC().Format(time.RFC3339))
	for i, run := range runs {
		if i == maxReportedRuns {
			fmt.Fprintf(&b, "\n... and %d more", len(runs)-maxReportedRuns)
			break
		}
		fmt.Fprintf(&b, "\n- %s %s: %d/%d failed", run.Collection, run.Operation, run.Failed, run.Total)
		if run.ErrorMessage != "" {
			fmt.Fprintf(&b, " (%s)", run.ErrorMessage)
		}
	}
	return b.String()
}
