package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/occasionhub/birthdaysvc/internal/domain/messagelog"
	"github.com/occasionhub/birthdaysvc/internal/queue"
)

type fakeRecoveryStore struct {
	stranded     []messagelog.MessageLog
	staleSending []messagelog.MessageLog

	casQueuedCalls     []string
	requeueCalls       []string
	markFailedCalls    []string
}

func (f *fakeRecoveryStore) FindStranded(ctx context.Context, cutoff time.Time) ([]messagelog.MessageLog, error) {
	return f.stranded, nil
}
func (f *fakeRecoveryStore) FindStaleSending(ctx context.Context, cutoff time.Time) ([]messagelog.MessageLog, error) {
	return f.staleSending, nil
}
func (f *fakeRecoveryStore) CASToQueued(ctx context.Context, id string, expected messagelog.Status) error {
	f.casQueuedCalls = append(f.casQueuedCalls, id)
	return nil
}
func (f *fakeRecoveryStore) RequeueStaleSending(ctx context.Context, id string) error {
	f.requeueCalls = append(f.requeueCalls, id)
	return nil
}
func (f *fakeRecoveryStore) MarkFailed(ctx context.Context, id string, expected messagelog.Status, errMsg string) error {
	f.markFailedCalls = append(f.markFailedCalls, id)
	return nil
}

type recoveryFakeTransport struct {
	published []string
}

func (f *recoveryFakeTransport) Publish(ctx context.Context, p queue.Payload) error {
	f.published = append(f.published, p.MessageID)
	return nil
}
func (f *recoveryFakeTransport) Consume(ctx context.Context, prefetch int) ([]queue.Delivery, error) {
	return nil, nil
}
func (f *recoveryFakeTransport) Ack(ctx context.Context, d queue.Delivery) error { return nil }
func (f *recoveryFakeTransport) NackRequeue(ctx context.Context, d queue.Delivery, delay time.Duration) error {
	return nil
}
func (f *recoveryFakeTransport) NackDrop(ctx context.Context, d queue.Delivery, reason string) error {
	return nil
}

func TestRecovery_HardLatenessForcesFailed(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeRecoveryStore{stranded: []messagelog.MessageLog{
		{ID: "old", Status: messagelog.StatusScheduled, ScheduledSendTime: now.Add(-48 * time.Hour), UpdatedAt: now.Add(-48 * time.Hour)},
	}}
	transport := &recoveryFakeTransport{}

	s := NewRecoveryScheduler(store, transport, RecoveryConfig{HardLateness: 24 * time.Hour}, "*/10 * * * *", testLogger())
	if err := s.recover(context.Background(), now); err != nil {
		t.Fatalf("recover error: %v", err)
	}

	if len(store.markFailedCalls) != 1 || store.markFailedCalls[0] != "old" {
		t.Fatalf("expected row older than hard lateness to be marked failed, got %+v", store.markFailedCalls)
	}
}

func TestRecovery_MissedScheduledRowIsPublished(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeRecoveryStore{stranded: []messagelog.MessageLog{
		{ID: "missed", Status: messagelog.StatusScheduled, ScheduledSendTime: now.Add(-10 * time.Minute), UpdatedAt: now.Add(-10 * time.Minute)},
	}}
	transport := &recoveryFakeTransport{}

	s := NewRecoveryScheduler(store, transport, RecoveryConfig{HardLateness: 24 * time.Hour}, "*/10 * * * *", testLogger())
	if err := s.recover(context.Background(), now); err != nil {
		t.Fatalf("recover error: %v", err)
	}

	if len(transport.published) != 1 || len(store.casQueuedCalls) != 1 {
		t.Fatalf("expected missed row to be republished and CAS'd to queued, published=%v cas=%v", transport.published, store.casQueuedCalls)
	}
}

func TestRecovery_StaleSendingRequeuedAndRepublished(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeRecoveryStore{staleSending: []messagelog.MessageLog{
		{ID: "crashed", Status: messagelog.StatusSending, ScheduledSendTime: now.Add(-1 * time.Minute), UpdatedAt: now.Add(-3 * time.Minute)},
	}}
	transport := &recoveryFakeTransport{}

	s := NewRecoveryScheduler(store, transport, RecoveryConfig{HardLateness: 24 * time.Hour, WorkerStaleness: 2 * time.Minute}, "*/10 * * * *", testLogger())
	if err := s.recover(context.Background(), now); err != nil {
		t.Fatalf("recover error: %v", err)
	}

	if len(store.requeueCalls) != 1 || len(transport.published) != 1 {
		t.Fatalf("expected stale SENDING row requeued and republished, requeue=%v published=%v", store.requeueCalls, transport.published)
	}
}

type reclaimingFakeTransport struct {
	recoveryFakeTransport
	stale  []queue.Delivery
	acked  []string
}

func (f *reclaimingFakeTransport) ClaimStale(ctx context.Context, minIdle time.Duration) ([]queue.Delivery, error) {
	return f.stale, nil
}

func (f *reclaimingFakeTransport) Ack(ctx context.Context, d queue.Delivery) error {
	f.acked = append(f.acked, d.Payload.MessageID)
	return nil
}

func TestRecovery_ReclaimsStalePELForRequeuedMessage(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeRecoveryStore{staleSending: []messagelog.MessageLog{
		{ID: "crashed", Status: messagelog.StatusSending, ScheduledSendTime: now.Add(-1 * time.Minute), UpdatedAt: now.Add(-3 * time.Minute)},
	}}
	transport := &reclaimingFakeTransport{
		stale: []queue.Delivery{
			queue.NewDelivery(queue.Payload{MessageID: "crashed"}, "1-0"),
			queue.NewDelivery(queue.Payload{MessageID: "unrelated-still-in-flight"}, "2-0"),
		},
	}

	s := NewRecoveryScheduler(store, transport, RecoveryConfig{HardLateness: 24 * time.Hour, WorkerStaleness: 2 * time.Minute}, "*/10 * * * *", testLogger())
	if err := s.recover(context.Background(), now); err != nil {
		t.Fatalf("recover error: %v", err)
	}

	if len(transport.acked) != 1 || transport.acked[0] != "crashed" {
		t.Fatalf("expected only the requeued message's stale PEL entry to be acked, got %v", transport.acked)
	}
}

func TestRecovery_RecentlyQueuedRowSkipped(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeRecoveryStore{stranded: []messagelog.MessageLog{
		{ID: "fresh", Status: messagelog.StatusQueued, ScheduledSendTime: now.Add(10 * time.Minute), UpdatedAt: now.Add(-1 * time.Minute)},
	}}
	transport := &recoveryFakeTransport{}

	s := NewRecoveryScheduler(store, transport, RecoveryConfig{HardLateness: 24 * time.Hour, RepublishAfter: 15 * time.Minute}, "*/10 * * * *", testLogger())
	if err := s.recover(context.Background(), now); err != nil {
		t.Fatalf("recover error: %v", err)
	}

	if len(transport.published) != 0 {
		t.Fatalf("expected a recently-updated QUEUED row to be left alone, published=%v", transport.published)
	}
}
