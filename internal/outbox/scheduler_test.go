package outbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeStore struct {
	claimed      []*Row
	claimErr     error
	rescheduled  map[string]time.Time
	rescheduleErr error
	deletedCutoff time.Time
	deleteCount  int64
	deleteErr    error
}

func newFakeStore(rows ...*Row) *fakeStore {
	return &fakeStore{claimed: rows, rescheduled: make(map[string]time.Time)}
}

func (f *fakeStore) Enqueue(ctx context.Context, row *Row) error { return nil }

func (f *fakeStore) ClaimBatch(ctx context.Context, now time.Time, limit int) ([]*Row, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	rows := f.claimed
	f.claimed = nil
	return rows, nil
}

func (f *fakeStore) MarkSent(ctx context.Context, id string) error { return nil }

func (f *fakeStore) Reschedule(ctx context.Context, id string, delayedUntil time.Time, lastErr string) error {
	if f.rescheduleErr != nil {
		return f.rescheduleErr
	}
	f.rescheduled[id] = delayedUntil
	return nil
}

func (f *fakeStore) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deletedCutoff = cutoff
	return f.deleteCount, f.deleteErr
}

func (f *fakeStore) FindByCorrelation(ctx context.Context, parentRunID string) (*Row, error) {
	return nil, errors.New("not found")
}

func (f *fakeStore) Delete(ctx context.Context, id string) error { return nil }

type fakeDispatcher struct {
	failIDs map[string]error
	sent    []string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, row *Row) error {
	if err, ok := f.failIDs[row.ID]; ok {
		return err
	}
	f.sent = append(f.sent, row.ID)
	return nil
}

func TestDispatchOnceDeliversClaimedRows(t *testing.T) {
	store := newFakeStore(&Row{ID: "row-1"}, &Row{ID: "row-2"})
	dispatcher := &fakeDispatcher{}
	s := NewScheduler(store, dispatcher, Config{})

	s.dispatchOnce(context.Background())

	if len(dispatcher.sent) != 2 {
		t.Fatalf("dispatched %d rows, want 2", len(dispatcher.sent))
	}
}

func TestDispatchOnceReschedulesOnFailure(t *testing.T) {
	store := newFakeStore(&Row{ID: "row-1", AttemptCount: 0})
	dispatcher := &fakeDispatcher{failIDs: map[string]error{"row-1": errors.New("broker unreachable")}}
	s := NewScheduler(store, dispatcher, Config{MaxRetries: 5})

	s.dispatchOnce(context.Background())

	if _, ok := store.rescheduled["row-1"]; !ok {
		t.Error("row-1 not rescheduled after dispatch failure")
	}
}

func TestDispatchOnceDeadLettersAfterMaxRetries(t *testing.T) {
	store := newFakeStore(&Row{ID: "row-1", AttemptCount: 5})
	dispatcher := &fakeDispatcher{failIDs: map[string]error{"row-1": errors.New("still failing")}}
	s := NewScheduler(store, dispatcher, Config{MaxRetries: 5})

	s.dispatchOnce(context.Background())

	if _, ok := store.rescheduled["row-1"]; ok {
		t.Error("row-1 rescheduled after exhausting max retries, want dead-lettered (no reschedule)")
	}
}

func TestCleanupOnceUsesConfiguredMaxAge(t *testing.T) {
	store := newFakeStore()
	store.deleteCount = 3
	dispatcher := &fakeDispatcher{}
	s := NewScheduler(store, dispatcher, Config{})

	before := time.Now()
	s.cleanupOnce(context.Background(), time.Hour)

	after := time.Now()
	// cutoff is the call time minus the configured max age of one hour.
	if store.deletedCutoff.Before(before.Add(-time.Hour)) || store.deletedCutoff.After(after.Add(-time.Hour)) {
		t.Errorf("cleanup cutoff = %v, want between %v and %v (now-1h)", store.deletedCutoff, before.Add(-time.Hour), after.Add(-time.Hour))
	}
	if store.deletedCutoff.After(time.Now()) {
		t.Error("cleanup cutoff is in the future, want a past timestamp")
	}
}

func TestNewSchedulerDefaultsBatchSizeAndRetries(t *testing.T) {
	s := NewScheduler(newFakeStore(), &fakeDispatcher{}, Config{})
	if s.batchSize != 100 {
		t.Errorf("batchSize = %d, want default 100", s.batchSize)
	}
	if s.maxRetries != 5 {
		t.Errorf("maxRetries = %d, want default 5", s.maxRetries)
	}
}
