// Package workerpool implements the Worker Pool (spec.md §4.H): a
// fixed-size pool consuming from the Queue Transport, re-reading
// authoritative state before acting on any message, and generalizing the
// teacher's queue/worker.Worker (claim-from-Postgres, channel fan-out,
// per-job span+slog+metrics) onto a broker-delivered payload instead of a
// polled job row.
package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/occasionhub/birthdaysvc/internal/backoff"
	"github.com/occasionhub/birthdaysvc/internal/domain/messagelog"
	domainuser "github.com/occasionhub/birthdaysvc/internal/domain/user"
	"github.com/occasionhub/birthdaysvc/internal/observability"
	"github.com/occasionhub/birthdaysvc/internal/queue"
	"github.com/occasionhub/birthdaysvc/internal/vendor"
)

type Store interface {
	ByID(ctx context.Context, id string) (messagelog.MessageLog, error)
	ClaimForSend(ctx context.Context, id string, expected messagelog.Status) error
	MarkSent(ctx context.Context, id string, responseCode int, responseBody string) error
	MarkRetry(ctx context.Context, id string, errMsg string) error
	MarkFailed(ctx context.Context, id string, expected messagelog.Status, errMsg string) error
}

type Users interface {
	ByID(ctx context.Context, id string) (domainuser.User, error)
}

var tracer = otel.Tracer("birthdaysvc-worker")

type Config struct {
	Concurrency    int
	Prefetch       int
	MaxRetries     int
	DrainWindow    time.Duration
	BackoffPolicy  backoff.Policy
}

type Pool struct {
	cfg       Config
	store     Store
	users     Users
	transport queue.Transport
	vendor    vendor.Client
	metrics   *observability.JobMetrics
	log       *slog.Logger
}

func New(cfg Config, store Store, users Users, transport queue.Transport, vendorClient vendor.Client, log *slog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = cfg.Concurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.DrainWindow <= 0 {
		cfg.DrainWindow = 10 * time.Second
	}

	return &Pool{
		cfg:       cfg,
		store:     store,
		users:     users,
		transport: transport,
		vendor:    vendorClient,
		metrics:   observability.NewJobMetrics(),
		log:       log,
	}
}

func (p *Pool) Metrics() observability.JobMetricsSnapShot { return p.metrics.Snapshot() }

// Run consumes deliveries and fans them out to a fixed worker goroutine
// set until ctx is cancelled, then drains in-flight work within
// cfg.DrainWindow before returning (spec.md §5: "Workers stop consuming
// new messages, finish in-flight ones within a drain window ... then
// hard-stop").
func (p *Pool) Run(ctx context.Context) error {
	deliveries := make(chan queue.Delivery)

	// In-flight messages outlive ctx's cancellation until the drain window
	// ends; returning from Run cancels whatever is still running.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			p.runWorker(workCtx, workerNum, deliveries)
		}(i + 1)
	}

consumeLoop:
	for {
		select {
		case <-ctx.Done():
			break consumeLoop
		default:
		}

		batch, err := p.transport.Consume(ctx, p.cfg.Prefetch)
		if err != nil {
			if ctx.Err() != nil {
				break consumeLoop
			}
			p.log.ErrorContext(ctx, "worker_pool.consume_error", "err", err)
			continue
		}

		for _, d := range batch {
			select {
			case deliveries <- d:
			case <-ctx.Done():
				break consumeLoop
			}
		}
	}

	close(deliveries)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("worker_pool.drained")
	case <-time.After(p.cfg.DrainWindow):
		p.log.Warn("worker_pool.drain_window_exceeded")
	}

	return nil
}

func (p *Pool) runWorker(ctx context.Context, workerNum int, deliveries <-chan queue.Delivery) {
	for d := range deliveries {
		p.handle(ctx, workerNum, d)
	}
}

func (p *Pool) handle(ctx context.Context, workerNum int, d queue.Delivery) {
	start := time.Now()

	execCtx, span := tracer.Start(ctx, "message.send",
		trace.WithAttributes(
			attribute.String("message.id", d.Payload.MessageID),
			attribute.String("message.type", string(d.Payload.MessageType)),
			attribute.Int("worker.num", workerNum),
		),
	)
	defer span.End()

	outcome, err := p.process(execCtx, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.log.ErrorContext(execCtx, "worker_pool.process_error", "message_id", d.Payload.MessageID, "err", err)
	}

	d2 := time.Since(start)
	p.metrics.ObserveDuration(d2)
	span.SetAttributes(attribute.String("message.outcome", outcome), attribute.Int64("message.duration_ms", d2.Milliseconds()))

	p.log.InfoContext(execCtx, "worker_pool.message_done", "message_id", d.Payload.MessageID, "outcome", outcome, "duration_ms", d2.Milliseconds())

	switch outcome {
	case "sent", "skipped", "failed", "dead_lettered":
		p.metrics.IncDone()
	case "retried":
		p.metrics.IncRetried()
	}
}

// process implements the per-message protocol of spec.md §4.H steps 1-10.
func (p *Pool) process(ctx context.Context, d queue.Delivery) (string, error) {
	row, err := p.store.ByID(ctx, d.Payload.MessageID)
	if err != nil {
		if errors.Is(err, messagelog.ErrNotFound) {
			// step 2: hard-deleted by an operator
			_ = p.transport.Ack(ctx, d)
			return "skipped", nil
		}
		return "error", err
	}

	if row.Status == messagelog.StatusSent {
		// step 3: I2 idempotent skip
		_ = p.transport.Ack(ctx, d)
		return "skipped", nil
	}

	if row.Status != messagelog.StatusQueued && row.Status != messagelog.StatusRetrying {
		// step 4: stale payload
		_ = p.transport.Ack(ctx, d)
		return "skipped", nil
	}

	if err := p.store.ClaimForSend(ctx, row.ID, row.Status); err != nil {
		if errors.Is(err, messagelog.ErrStaleCAS) {
			// step 5: another worker raced in
			_ = p.transport.Ack(ctx, d)
			return "skipped", nil
		}
		return "error", err
	}

	u, err := p.users.ByID(ctx, row.UserID)
	if err != nil || u.Deleted() {
		// step 6: user absent or soft-deleted
		reason := "user gone"
		if err != nil && !errors.Is(err, domainuser.ErrNotFound) {
			reason = err.Error()
		}
		_ = p.store.MarkFailed(ctx, row.ID, messagelog.StatusSending, reason)
		_ = p.transport.Ack(ctx, d)
		return "failed", nil
	}

	if verr := u.Validate(); verr != nil {
		// step 6b: malformed directory row, never a vendor-retryable problem
		_ = p.store.MarkFailed(ctx, row.ID, messagelog.StatusSending, "invalid user record: "+verr.Error())
		_ = p.transport.Ack(ctx, d)
		return "failed", nil
	}

	res, sendErr := p.vendor.Send(ctx, vendor.SendInput{Email: u.Email, Message: row.MessageContent})
	if sendErr == nil {
		// step 8: 2xx
		if err := p.store.MarkSent(ctx, row.ID, res.StatusCode, res.Body); err != nil && !errors.Is(err, messagelog.ErrStaleCAS) {
			return "error", err
		}
		_ = p.transport.Ack(ctx, d)
		return "sent", nil
	}

	if vendor.IsRetryable(sendErr) {
		// step 9: retryable failure
		if err := p.store.MarkRetry(ctx, row.ID, sendErr.Error()); err != nil && !errors.Is(err, messagelog.ErrStaleCAS) {
			return "error", err
		}

		nextRetry := row.RetryCount + 1
		if nextRetry <= p.cfg.MaxRetries {
			delay := p.cfg.BackoffPolicy.Delay(nextRetry - 1)
			if err := p.transport.NackRequeue(ctx, d, delay); err != nil {
				return "error", err
			}
			return "retried", nil
		}

		if err := p.transport.NackDrop(ctx, d, "max retries exceeded"); err != nil {
			return "error", err
		}
		p.metrics.IncDeadLettered()
		return "dead_lettered", nil
	}

	// step 10: non-retryable failure
	if err := p.store.MarkFailed(ctx, row.ID, messagelog.StatusSending, sendErr.Error()); err != nil && !errors.Is(err, messagelog.ErrStaleCAS) {
		return "error", err
	}
	_ = p.transport.Ack(ctx, d)
	return "failed", nil
}
