package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfold/tradecost/internal/domain"
	"github.com/quantfold/tradecost/internal/engine"
)

// ArchiveService periodically ages estimate history out of the primary store
// into object storage. Failures are logged and alerted but never stop the
// loop; the next tick retries with the same cutoff semantics.
type ArchiveService struct {
	archiver  domain.Archiver
	notifier  engine.Notifier // optional
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewArchiveService creates an ArchiveService. notifier may be nil.
func NewArchiveService(
	archiver domain.Archiver,
	notifier engine.Notifier,
	retention, interval time.Duration,
	logger *slog.Logger,
) *ArchiveService {
	return &ArchiveService{
		archiver:  archiver,
		notifier:  notifier,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archive_service")),
	}
}

// Run executes one archive pass immediately, then one per interval, until
// the context is cancelled.
func (s *ArchiveService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "archive loop starting",
		slog.Duration("interval", s.interval),
		slog.Duration("retention", s.retention),
	)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *ArchiveService) runOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention)

	archived, err := s.archiver.ArchiveEstimates(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "archive pass failed",
			slog.Time("cutoff", cutoff),
			slog.String("error", err.Error()),
		)
		if s.notifier != nil {
			_ = s.notifier.Notify(ctx, "archive_failed",
				"Estimate archive failed",
				fmt.Sprintf("cutoff %s: %v", cutoff.Format(time.RFC3339), err),
			)
		}
		return
	}

	if archived > 0 {
		s.logger.InfoContext(ctx, "archive pass complete",
			slog.Time("cutoff", cutoff),
			slog.Int64("archived", archived),
		)
	}
}
