package messagelog

import (
	"testing"
	"time"
)

func TestIdempotencyKey(t *testing.T) {
	got := IdempotencyKey("user-1", TypeBirthday, "2026-03-05")
	want := "user-1:BIRTHDAY:2026-03-05"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNewScheduled_SetsFixedContent(t *testing.T) {
	m, err := NewScheduled("user-1", TypeBirthday, "Hey, Ann Lee it's your birthday!", time.Now(), "2026-03-05")
	if err != nil {
		t.Fatalf("NewScheduled error: %v", err)
	}

	if m.Status != StatusScheduled {
		t.Fatalf("expected status scheduled, got %s", m.Status)
	}
	if m.RetryCount != 0 {
		t.Fatalf("expected retry_count 0, got %d", m.RetryCount)
	}
	if m.IdempotencyKey != "user-1:BIRTHDAY:2026-03-05" {
		t.Fatalf("unexpected idempotency key %q", m.IdempotencyKey)
	}
	if m.ID == "" {
		t.Fatalf("expected a generated ID")
	}
}

func TestNewScheduled_InvalidType(t *testing.T) {
	_, err := NewScheduled("user-1", MessageType("WEDDING"), "x", time.Now(), "2026-03-05")
	if err != ErrInvalidType {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}

func TestRenderContent(t *testing.T) {
	cases := []struct {
		typ      MessageType
		first    string
		last     string
		expected string
	}{
		{TypeBirthday, "Ann", "Lee", "Hey, Ann Lee it's your birthday!"},
		{TypeAnniversary, "Ann", "Lee", "Happy anniversary, Ann!"},
	}

	for _, c := range cases {
		got := RenderContent(c.typ, c.first, c.last)
		if got != c.expected {
			t.Fatalf("RenderContent(%s): expected %q, got %q", c.typ, c.expected, got)
		}
	}
}

func TestStatusIsValid(t *testing.T) {
	valid := []Status{StatusScheduled, StatusQueued, StatusSending, StatusSent, StatusFailed, StatusRetrying}
	for _, s := range valid {
		if !s.IsValid() {
			t.Fatalf("expected %s to be valid", s)
		}
	}

	if Status("bogus").IsValid() {
		t.Fatalf("expected bogus status to be invalid")
	}
}
