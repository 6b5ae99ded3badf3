// Package messagelog owns the MessageLog state machine: the durable record
// of one occasion's journey from SCHEDULED to a terminal status.
package messagelog

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusQueued    Status = "queued"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusScheduled, StatusQueued, StatusSending, StatusSent, StatusFailed, StatusRetrying:
		return true
	default:
		return false
	}
}

type MessageType string

const (
	TypeBirthday    MessageType = "BIRTHDAY"
	TypeAnniversary MessageType = "ANNIVERSARY"
)

func (t MessageType) IsValid() bool {
	switch t {
	case TypeBirthday, TypeAnniversary:
		return true
	default:
		return false
	}
}

var (
	ErrNotFound       = errors.New("message log not found")
	ErrInvalidType    = errors.New("invalid message type")
	ErrStaleCAS       = errors.New("compare-and-set failed: row is not in expected status")
	ErrIdempotentSkip = errors.New("idempotency key already present")
)

// MessageLog is the row owned by the core (spec.md §3).
type MessageLog struct {
	ID                string
	UserID            string
	MessageType       MessageType
	MessageContent    string
	ScheduledSendTime time.Time
	ActualSendTime    *time.Time
	Status            Status
	RetryCount        int
	LastRetryAt       *time.Time
	IdempotencyKey    string
	APIResponseCode   *int
	APIResponseBody   *string
	ErrorMessage      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IdempotencyKey builds the I1 unique key: "{user_id}:{message_type}:{local_occasion_date}".
// localDate must already be the occasion date as observed in the user's own
// timezone (YYYY-MM-DD), per spec.md §4.E.
func IdempotencyKey(userID string, t MessageType, localDate string) string {
	return fmt.Sprintf("%s:%s:%s", userID, t, localDate)
}

// NewScheduled constructs a SCHEDULED row ready for insert_scheduled (spec.md §4.A).
// message_content is fixed here and never re-rendered on retry (I7).
func NewScheduled(userID string, t MessageType, content string, scheduledSendTime time.Time, localDate string) (MessageLog, error) {
	if !t.IsValid() {
		return MessageLog{}, ErrInvalidType
	}

	now := time.Now().UTC()

	return MessageLog{
		ID:                uuid.NewString(),
		UserID:            userID,
		MessageType:       t,
		MessageContent:    content,
		ScheduledSendTime: scheduledSendTime,
		Status:            StatusScheduled,
		RetryCount:        0,
		IdempotencyKey:    IdempotencyKey(userID, t, localDate),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// RenderContent fills spec.md §4.E's fixed templates. Pure, no I/O.
func RenderContent(t MessageType, firstName, lastName string) string {
	switch t {
	case TypeAnniversary:
		return fmt.Sprintf("Happy anniversary, %s!", firstName)
	default:
		return fmt.Sprintf("Hey, %s %s it's your birthday!", firstName, lastName)
	}
}
