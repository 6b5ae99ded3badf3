package queue

import (
	"testing"
	"time"

	"github.com/occasionhub/birthdaysvc/internal/domain/messagelog"
)

func TestPayload_EncodeDecodeRoundTrip(t *testing.T) {
	p := Payload{
		MessageID:         "msg-1",
		UserID:            "user-1",
		MessageType:       messagelog.TypeBirthday,
		ScheduledSendTime: time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
		RetryCount:        2,
	}

	b, err := p.Encode()
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}

	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if got != p {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", got, p)
	}
}

func TestDecode_MalformedPayload(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatalf("expected decode error for malformed payload")
	}
}

func TestFromMessageLog(t *testing.T) {
	m := messagelog.MessageLog{
		ID:                "msg-1",
		UserID:            "user-1",
		MessageType:       messagelog.TypeAnniversary,
		ScheduledSendTime: time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
		RetryCount:        1,
	}

	p := FromMessageLog(m)
	if p.MessageID != m.ID || p.UserID != m.UserID || p.MessageType != m.MessageType || !p.ScheduledSendTime.Equal(m.ScheduledSendTime) || p.RetryCount != m.RetryCount {
		t.Fatalf("FromMessageLog mismatch: %+v", p)
	}
}

func TestDelivery_Handle(t *testing.T) {
	d := NewDelivery(Payload{MessageID: "msg-1"}, "stream-entry-1")
	if d.Handle() != "stream-entry-1" {
		t.Fatalf("expected handle stream-entry-1, got %s", d.Handle())
	}
}
