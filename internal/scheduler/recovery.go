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

type RecoveryStore interface {
	FindStranded(ctx context.Context, cutoff time.Time) ([]messagelog.MessageLog, error)
	FindStaleSending(ctx context.Context, cutoff time.Time) ([]messagelog.MessageLog, error)
	CASToQueued(ctx context.Context, id string, expected messagelog.Status) error
	RequeueStaleSending(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, expected messagelog.Status, errMsg string) error
}

// PELReclaimer is implemented by queue transports that expose consumer-group
// pending-entry reclaim (Redis Streams XCLAIM). A transport without one
// simply never has its PEL swept; RecoveryScheduler detects support for it
// at construction time rather than requiring every queue.Transport to carry
// a method only Redis Streams needs.
type PELReclaimer interface {
	ClaimStale(ctx context.Context, minIdle time.Duration) ([]queue.Delivery, error)
}

// RecoveryConfig tunes recovery thresholds (spec.md §4.G, §6).
type RecoveryConfig struct {
	Grace           time.Duration // find_stranded cutoff, default 5m
	MaxRetries      int           // retry_count at which a row is marked FAILED, default 3
	HardLateness    time.Duration // force-FAILED age bound, default 24h
	RepublishAfter  time.Duration // no-SENDING-claim age for QUEUED/RETRYING, default 15m
	WorkerStaleness time.Duration // SENDING age treated as a crashed worker, default 2m
}

func (c *RecoveryConfig) setDefaults() {
	if c.Grace <= 0 {
		c.Grace = 5 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.HardLateness <= 0 {
		c.HardLateness = 24 * time.Hour
	}
	if c.RepublishAfter <= 0 {
		c.RepublishAfter = 15 * time.Minute
	}
	if c.WorkerStaleness <= 0 {
		c.WorkerStaleness = 2 * time.Minute
	}
}

// RecoveryScheduler implements the Recovery Scheduler (spec.md §4.G): it
// repairs gaps left by crashed workers, paused schedulers, or lost
// publishes, never writing SENT and never duplicating I1.
type RecoveryScheduler struct {
	guard overlapGuard

	store     RecoveryStore
	transport queue.Transport
	reclaimer PELReclaimer
	cfg       RecoveryConfig
	cronExpr  string
	log       *slog.Logger
}

func NewRecoveryScheduler(store RecoveryStore, transport queue.Transport, cfg RecoveryConfig, cronExpr string, log *slog.Logger) *RecoveryScheduler {
	cfg.setDefaults()
	s := &RecoveryScheduler{store: store, transport: transport, cfg: cfg, cronExpr: cronExpr, log: log}
	if r, ok := transport.(PELReclaimer); ok {
		s.reclaimer = r
	}
	return s
}

func (s *RecoveryScheduler) Report() RunReport { return s.guard.Report() }

func (s *RecoveryScheduler) RunOnce(ctx context.Context) {
	s.guard.tryRun(func() error {
		return s.recover(ctx, time.Now().UTC())
	})
}

func (s *RecoveryScheduler) recover(ctx context.Context, now time.Time) error {
	strandedCutoff := now.Add(-s.cfg.Grace)

	stranded, err := s.store.FindStranded(ctx, strandedCutoff)
	if err != nil {
		return fmt.Errorf("recovery: find_stranded: %w", err)
	}

	staleSending, err := s.store.FindStaleSending(ctx, now.Add(-s.cfg.WorkerStaleness))
	if err != nil {
		return fmt.Errorf("recovery: find_stale_sending: %w", err)
	}

	seen := make(map[string]bool, len(stranded)+len(staleSending))
	requeuedStaleSending := make(map[string]bool)
	var republished, requeued, failed, skipped int

	handle := func(row messagelog.MessageLog) {
		if seen[row.ID] {
			return
		}
		seen[row.ID] = true

		tooOld := now.Sub(row.ScheduledSendTime) > s.cfg.HardLateness
		if row.RetryCount >= s.cfg.MaxRetries || tooOld {
			if err := s.store.MarkFailed(ctx, row.ID, row.Status, "stale"); err != nil && !errors.Is(err, messagelog.ErrStaleCAS) {
				s.log.ErrorContext(ctx, "recovery.mark_failed_error", "message_id", row.ID, "err", err)
			} else {
				failed++
			}
			return
		}

		switch row.Status {
		case messagelog.StatusScheduled:
			if row.ScheduledSendTime.After(now) {
				return
			}
			if err := s.publish(ctx, row); err != nil {
				s.log.ErrorContext(ctx, "recovery.republish_error", "message_id", row.ID, "err", err)
				return
			}
			if err := s.store.CASToQueued(ctx, row.ID, messagelog.StatusScheduled); err != nil {
				if !errors.Is(err, messagelog.ErrStaleCAS) {
					s.log.ErrorContext(ctx, "recovery.cas_queued_error", "message_id", row.ID, "err", err)
				}
				return
			}
			republished++

		case messagelog.StatusQueued, messagelog.StatusRetrying:
			if now.Sub(row.UpdatedAt) < s.cfg.RepublishAfter {
				skipped++
				return
			}
			if err := s.publish(ctx, row); err != nil {
				s.log.ErrorContext(ctx, "recovery.republish_error", "message_id", row.ID, "err", err)
				return
			}
			republished++

		case messagelog.StatusSending:
			if err := s.store.RequeueStaleSending(ctx, row.ID); err != nil {
				if !errors.Is(err, messagelog.ErrStaleCAS) {
					s.log.ErrorContext(ctx, "recovery.requeue_stale_sending_error", "message_id", row.ID, "err", err)
				}
				return
			}
			if err := s.publish(ctx, row); err != nil {
				s.log.ErrorContext(ctx, "recovery.republish_error", "message_id", row.ID, "err", err)
				return
			}
			requeuedStaleSending[row.ID] = true
			requeued++
		}
	}

	for _, row := range stranded {
		handle(row)
	}
	for _, row := range staleSending {
		handle(row)
	}

	reclaimed := s.reclaimStalePEL(ctx, requeuedStaleSending)

	s.log.InfoContext(ctx, "recovery.run", "republished", republished, "requeued_stale_sending", requeued, "failed", failed, "skipped", skipped, "reclaimed_pel", reclaimed)
	return nil
}

// reclaimStalePEL XCLAIMs consumer-group pending entries left behind by
// workers that crashed between XReadGroup and Ack, and drops the ones whose
// row has already been repaired this run (its message_id is in requeued).
// Without this, RequeueStaleSending's fresh XADD gives the row a new stream
// entry while the crashed worker's original, now-orphaned entry sits in the
// PEL forever.
func (s *RecoveryScheduler) reclaimStalePEL(ctx context.Context, requeued map[string]bool) int {
	if s.reclaimer == nil || len(requeued) == 0 {
		return 0
	}

	stale, err := s.reclaimer.ClaimStale(ctx, s.cfg.WorkerStaleness)
	if err != nil {
		s.log.ErrorContext(ctx, "recovery.claim_stale_pel_error", "err", err)
		return 0
	}

	dropped := 0
	for _, d := range stale {
		if !requeued[d.Payload.MessageID] {
			continue
		}
		if err := s.transport.Ack(ctx, d); err != nil {
			s.log.ErrorContext(ctx, "recovery.ack_stale_pel_error", "message_id", d.Payload.MessageID, "err", err)
			continue
		}
		dropped++
	}
	return dropped
}

func (s *RecoveryScheduler) publish(ctx context.Context, row messagelog.MessageLog) error {
	return s.transport.Publish(ctx, queue.FromMessageLog(row))
}

func (s *RecoveryScheduler) Run(ctx context.Context, shutdownGrace time.Duration) error {
	c := cron.New()
	_, err := c.AddFunc(s.cronExpr, func() { s.RunOnce(ctx) })
	if err != nil {
		return fmt.Errorf("recovery scheduler: invalid cron expression %q: %w", s.cronExpr, err)
	}

	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(shutdownGrace):
		s.log.Warn("recovery scheduler: shutdown grace exceeded")
	}
	return nil
}
