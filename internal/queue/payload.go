// Package queue defines the wire payload for the durable work queue
// (spec.md §4.C, §6) and the Queue Transport interface the schedulers and
// worker pool depend on. The concrete Redis Streams transport lives in
// internal/queue/redisqueue.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/occasionhub/birthdaysvc/internal/domain/messagelog"
)

// Payload is the message body published to the queue. It is a hint only —
// the worker always re-reads authoritative state from the Store before
// acting (spec.md §4.C).
type Payload struct {
	MessageID         string                 `json:"message_id"`
	UserID            string                 `json:"user_id"`
	MessageType       messagelog.MessageType `json:"message_type"`
	ScheduledSendTime time.Time              `json:"scheduled_send_time"`
	RetryCount        int                    `json:"retry_count"`
}

func (p Payload) Encode() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode queue payload: %w", err)
	}
	return b, nil
}

func Decode(b []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, fmt.Errorf("decode queue payload: %w", err)
	}
	return p, nil
}

func FromMessageLog(m messagelog.MessageLog) Payload {
	return Payload{
		MessageID:         m.ID,
		UserID:            m.UserID,
		MessageType:       m.MessageType,
		ScheduledSendTime: m.ScheduledSendTime,
		RetryCount:        m.RetryCount,
	}
}

// Delivery wraps a consumed Payload with the transport-specific handle
// needed to ack/nack it.
type Delivery struct {
	Payload Payload
	handle  string // opaque transport message ID (Redis Streams entry ID)
}

func NewDelivery(p Payload, handle string) Delivery {
	return Delivery{Payload: p, handle: handle}
}

func (d Delivery) Handle() string { return d.handle }

// Transport is the Queue Transport interface (spec.md §4.C): durable
// publish with confirms, bounded-prefetch consume, and per-message
// ack/nack-requeue/nack-drop.
type Transport interface {
	Publish(ctx context.Context, p Payload) error
	Consume(ctx context.Context, prefetch int) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
	NackRequeue(ctx context.Context, d Delivery, delay time.Duration) error
	NackDrop(ctx context.Context, d Delivery, reason string) error
}
