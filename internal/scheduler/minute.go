package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/occasionhub/birthdaysvc/internal/domain/messagelog"
	"github.com/occasionhub/birthdaysvc/internal/queue"
)

type DueFinder interface {
	FindDueForEnqueue(ctx context.Context, from, to time.Time) ([]messagelog.MessageLog, error)
}

type QueueCASer interface {
	CASToQueued(ctx context.Context, id string, expected messagelog.Status) error
	CASToScheduled(ctx context.Context, id string) error
}

// MinuteScheduler implements the Minute Enqueue Scheduler (spec.md §4.F):
// every minute, claims SCHEDULED rows due within the next hour and hands
// them to the queue transport.
type MinuteScheduler struct {
	guard overlapGuard

	store    DueFinder
	caser    QueueCASer
	transport queue.Transport
	cronExpr string
	log      *slog.Logger
}

func NewMinuteScheduler(store DueFinder, caser QueueCASer, transport queue.Transport, cronExpr string, log *slog.Logger) *MinuteScheduler {
	return &MinuteScheduler{store: store, caser: caser, transport: transport, cronExpr: cronExpr, log: log}
}

func (s *MinuteScheduler) Report() RunReport { return s.guard.Report() }

func (s *MinuteScheduler) RunOnce(ctx context.Context) {
	s.guard.tryRun(func() error {
		return s.enqueueDue(ctx, time.Now().UTC())
	})
}

func (s *MinuteScheduler) enqueueDue(ctx context.Context, nowUTC time.Time) error {
	rows, err := s.store.FindDueForEnqueue(ctx, nowUTC, nowUTC.Add(1*time.Hour))
	if err != nil {
		return fmt.Errorf("minute scheduler: find_due_for_enqueue: %w", err)
	}

	var enqueued, skipped, failed int

	for _, row := range rows {
		if err := s.caser.CASToQueued(ctx, row.ID, messagelog.StatusScheduled); err != nil {
			if errors.Is(err, messagelog.ErrStaleCAS) {
				skipped++
				continue
			}
			failed++
			s.log.ErrorContext(ctx, "minute.cas_queued_error", "message_id", row.ID, "err", err)
			continue
		}

		payload := queue.FromMessageLog(row)
		payload.RetryCount = row.RetryCount

		if err := s.transport.Publish(ctx, payload); err != nil {
			// compensating transition (spec.md §4.F step 2b)
			if cerr := s.caser.CASToScheduled(ctx, row.ID); cerr != nil {
				s.log.ErrorContext(ctx, "minute.compensate_failed", "message_id", row.ID, "err", cerr)
			}
			failed++
			s.log.ErrorContext(ctx, "minute.publish_error", "message_id", row.ID, "err", err)
			continue
		}

		enqueued++
	}

	s.log.InfoContext(ctx, "minute.run", "enqueued", enqueued, "skipped", skipped, "failed", failed)
	return nil
}

func (s *MinuteScheduler) Run(ctx context.Context, shutdownGrace time.Duration) error {
	c := cron.New()
	_, err := c.AddFunc(s.cronExpr, func() { s.RunOnce(ctx) })
	if err != nil {
		return fmt.Errorf("minute scheduler: invalid cron expression %q: %w", s.cronExpr, err)
	}

	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(shutdownGrace):
		s.log.Warn("minute scheduler: shutdown grace exceeded")
	}
	return nil
}
