package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/occasionhub/birthdaysvc/internal/domain/messagelog"
	"github.com/occasionhub/birthdaysvc/internal/queue"
)

type fakeDueStore struct {
	rows         []messagelog.MessageLog
	casQueuedErr map[string]error
	casSchedCalls []string
}

func (f *fakeDueStore) FindDueForEnqueue(ctx context.Context, from, to time.Time) ([]messagelog.MessageLog, error) {
	return f.rows, nil
}

func (f *fakeDueStore) CASToQueued(ctx context.Context, id string, expected messagelog.Status) error {
	if f.casQueuedErr != nil {
		if err, ok := f.casQueuedErr[id]; ok {
			return err
		}
	}
	return nil
}

func (f *fakeDueStore) CASToScheduled(ctx context.Context, id string) error {
	f.casSchedCalls = append(f.casSchedCalls, id)
	return nil
}

type fakeTransport struct {
	publishErr map[string]error
	published  []string
}

func (f *fakeTransport) Publish(ctx context.Context, p queue.Payload) error {
	if f.publishErr != nil {
		if err, ok := f.publishErr[p.MessageID]; ok {
			return err
		}
	}
	f.published = append(f.published, p.MessageID)
	return nil
}
func (f *fakeTransport) Consume(ctx context.Context, prefetch int) ([]queue.Delivery, error) {
	return nil, nil
}
func (f *fakeTransport) Ack(ctx context.Context, d queue.Delivery) error { return nil }
func (f *fakeTransport) NackRequeue(ctx context.Context, d queue.Delivery, delay time.Duration) error {
	return nil
}
func (f *fakeTransport) NackDrop(ctx context.Context, d queue.Delivery, reason string) error {
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMinuteScheduler_EnqueuesDueRows(t *testing.T) {
	store := &fakeDueStore{rows: []messagelog.MessageLog{
		{ID: "a", Status: messagelog.StatusScheduled},
		{ID: "b", Status: messagelog.StatusScheduled},
	}}
	transport := &fakeTransport{}

	s := NewMinuteScheduler(store, store, transport, "* * * * *", testLogger())
	if err := s.enqueueDue(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("enqueueDue error: %v", err)
	}

	if len(transport.published) != 2 {
		t.Fatalf("expected 2 published messages, got %d", len(transport.published))
	}
}

func TestMinuteScheduler_SkipsStaleCAS(t *testing.T) {
	store := &fakeDueStore{
		rows:         []messagelog.MessageLog{{ID: "a", Status: messagelog.StatusScheduled}},
		casQueuedErr: map[string]error{"a": messagelog.ErrStaleCAS},
	}
	transport := &fakeTransport{}

	s := NewMinuteScheduler(store, store, transport, "* * * * *", testLogger())
	if err := s.enqueueDue(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("enqueueDue error: %v", err)
	}

	if len(transport.published) != 0 {
		t.Fatalf("expected no publish for a row whose CAS was stale")
	}
}

func TestMinuteScheduler_CompensatesOnPublishFailure(t *testing.T) {
	store := &fakeDueStore{rows: []messagelog.MessageLog{{ID: "a", Status: messagelog.StatusScheduled}}}
	transport := &fakeTransport{publishErr: map[string]error{"a": errors.New("broker down")}}

	s := NewMinuteScheduler(store, store, transport, "* * * * *", testLogger())
	if err := s.enqueueDue(context.Background(), time.Now().UTC()); err != nil {
		t.Fatalf("enqueueDue error: %v", err)
	}

	if len(store.casSchedCalls) != 1 || store.casSchedCalls[0] != "a" {
		t.Fatalf("expected a compensating CAS back to scheduled for row a, got %+v", store.casSchedCalls)
	}
}
