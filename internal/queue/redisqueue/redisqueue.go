// Package redisqueue implements the Queue Transport (spec.md §4.C) on
// Redis Streams, generalizing the teacher's internal/queue/redisclient
// (which only opened a connection and pinged it) into the actual durable
// work queue the spec calls for: a primary stream consumed through a
// consumer group (bounded prefetch via XREADGROUP COUNT), a delayed
// "retry queue" implemented as a ZSET scored by due-time, and a dedicated
// dead-letter stream. This mirrors the delayed/retry patterns used
// elsewhere in the wider Go ecosystem for exactly-once-ish queue work atop
// Redis (e.g. the retrieval pack's go-redis-work-queue exactly-once
// samples), adapted to streams + consumer groups instead of lists.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/occasionhub/birthdaysvc/internal/queue"
)

const (
	streamKey  = "occasions:stream"
	retryZSet  = "occasions:retry"
	dlqStream  = "occasions:dlq"
	groupName  = "occasions:workers"
)

type Config struct {
	Addr         string
	Password     string
	DB           int
	ConsumerName string
}

type Queue struct {
	rdb      *redis.Client
	consumer string
}

func New(cfg Config) *Queue {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker"
	}

	return &Queue{rdb: rdb, consumer: consumer}
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *Queue) Close() error {
	return q.rdb.Close()
}

// EnsureGroup creates the consumer group if it doesn't already exist. Safe
// to call on every process startup.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, streamKey, groupName, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return fmt.Errorf("ensure consumer group: %w", err)
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && (errors.Is(err, redis.Nil) || err.Error() == "BUSYGROUP Consumer Group name already exists")
}

// Publish implements publish with confirms (spec.md §4.C): XADD only
// returns once Redis has durably appended the entry.
func (q *Queue) Publish(ctx context.Context, p queue.Payload) error {
	b, err := p.Encode()
	if err != nil {
		return err
	}

	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]any{"payload": b},
	}).Err()
}

// Consume implements bounded-prefetch consume (spec.md §4.C): at most
// `prefetch` unacked messages are returned to this consumer.
func (q *Queue) Consume(ctx context.Context, prefetch int) ([]queue.Delivery, error) {
	res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    groupName,
		Consumer: q.consumer,
		Streams:  []string{streamKey, ">"},
		Count:    int64(prefetch),
		Block:    2 * time.Second,
	}).Result()

	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var out []queue.Delivery
	for _, stream := range res {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values["payload"].(string)
			if !ok {
				continue
			}
			p, derr := queue.Decode([]byte(raw))
			if derr != nil {
				// malformed payload: ack it off the stream so it doesn't
				// block redelivery forever, and skip it (spec.md §7:
				// Validation errors never reach the Store).
				_ = q.rdb.XAck(ctx, streamKey, groupName, msg.ID).Err()
				continue
			}
			out = append(out, queue.NewDelivery(p, msg.ID))
		}
	}
	return out, nil
}

func (q *Queue) Ack(ctx context.Context, d queue.Delivery) error {
	return q.rdb.XAck(ctx, streamKey, groupName, d.Handle()).Err()
}

// NackRequeue implements nack-requeue with delay (spec.md §4.H backoff):
// the entry is acked off the primary stream and scheduled into the retry
// ZSET, scored by the instant it becomes due again. PromoteDueRetries moves
// it back onto the primary stream once that instant passes.
func (q *Queue) NackRequeue(ctx context.Context, d queue.Delivery, delay time.Duration) error {
	b, err := d.Payload.Encode()
	if err != nil {
		return err
	}

	dueAt := time.Now().Add(delay)

	pipe := q.rdb.TxPipeline()
	pipe.ZAdd(ctx, retryZSet, redis.Z{Score: float64(dueAt.UnixMilli()), Member: b})
	pipe.XAck(ctx, streamKey, groupName, d.Handle())
	_, err = pipe.Exec(ctx)
	return err
}

// NackDrop implements nack-drop (spec.md §4.H step 9, dead-letter): the
// entry is acked off the primary stream and appended to the DLQ stream for
// operator inspection.
func (q *Queue) NackDrop(ctx context.Context, d queue.Delivery, reason string) error {
	b, err := d.Payload.Encode()
	if err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqStream,
		Values: map[string]any{"payload": b, "reason": reason},
	})
	pipe.XAck(ctx, streamKey, groupName, d.Handle())
	_, err = pipe.Exec(ctx)
	return err
}

// PromoteDueRetries moves every retry-ZSET entry whose due-time has passed
// back onto the primary stream. Intended to run on a short ticker inside
// the worker pool process (analogous to the minute scheduler's promotion,
// but for the backoff delay queue rather than SCHEDULED rows).
func (q *Queue) PromoteDueRetries(ctx context.Context) (int, error) {
	now := float64(time.Now().UnixMilli())

	members, err := q.rdb.ZRangeByScore(ctx, retryZSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, member := range members {
		pipe := q.rdb.TxPipeline()
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: streamKey,
			Values: map[string]any{"payload": member},
		})
		pipe.ZRem(ctx, retryZSet, member)
		if _, err := pipe.Exec(ctx); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// ClaimStale reclaims consumer-group pending entries that were delivered to
// some consumer but have sat unacked for longer than minIdle — the
// transport-level complement to the Store's find_stale_sending. A worker
// that crashes between XReadGroup and Ack leaves its entry in the group's
// PEL forever unless something XCLAIMs it off; the recovery scheduler calls
// this to drop stale copies once the underlying row has been repaired.
func (q *Queue) ClaimStale(ctx context.Context, minIdle time.Duration) ([]queue.Delivery, error) {
	pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamKey,
		Group:  groupName,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  1000,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}

	claimed, err := q.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   streamKey,
		Group:    groupName,
		Consumer: q.consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("claim stale pending entries: %w", err)
	}

	out := make([]queue.Delivery, 0, len(claimed))
	for _, msg := range claimed {
		raw, ok := msg.Values["payload"].(string)
		if !ok {
			continue
		}
		p, derr := queue.Decode([]byte(raw))
		if derr != nil {
			continue
		}
		out = append(out, queue.NewDelivery(p, msg.ID))
	}
	return out, nil
}
