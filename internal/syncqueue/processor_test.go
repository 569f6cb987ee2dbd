package syncqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chainsyncstore/chainsync-golang/internal/conflict"
	"github.com/chainsyncstore/chainsync-golang/internal/models"
	"github.com/chainsyncstore/chainsync-golang/internal/syncer"
	"github.com/chainsyncstore/chainsync-golang/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSynchronizer lets each test script the apply outcome while recording
// the order items arrive in.
type fakeSynchronizer struct {
	entity  models.EntityType
	apply   func(item *models.SyncQueueItem) (syncer.Outcome, error)
	force   func(item *models.SyncQueueItem) (syncer.Outcome, error)
	applied []string
	forced  []string
}

func (f *fakeSynchronizer) EntityType() models.EntityType { return f.entity }

func (f *fakeSynchronizer) Apply(_ context.Context, item *models.SyncQueueItem, _ interface{}) (syncer.Outcome, error) {
	f.applied = append(f.applied, item.ID)
	if f.apply != nil {
		return f.apply(item)
	}
	return syncer.Outcome{EntityID: "entity-" + item.ID}, nil
}

func (f *fakeSynchronizer) ForceApply(_ context.Context, item *models.SyncQueueItem, _ interface{}) (syncer.Outcome, error) {
	f.forced = append(f.forced, item.ID)
	if f.force != nil {
		return f.force(item)
	}
	return syncer.Outcome{EntityID: "forced-" + item.ID}, nil
}

func newTestProcessor(t *testing.T, fake *fakeSynchronizer) *Processor {
	t.Helper()
	q := newTestQueue(t)
	return NewProcessor(q, validation.New(), syncer.NewRegistry(fake))
}

func TestProcessStoreAppliesPendingInOrder(t *testing.T) {
	fake := &fakeSynchronizer{entity: models.EntityInventory}
	p := newTestProcessor(t, fake)
	ctx := context.Background()

	a := enqueueOne(t, p.Queue, 1, nil)
	b := enqueueOne(t, p.Queue, 1, nil)

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	_, err := p.Queue.DB.Exec("UPDATE sync_queue SET created_at = ? WHERE id = ?", base, a.ID)
	require.NoError(t, err)
	_, err = p.Queue.DB.Exec("UPDATE sync_queue SET created_at = ? WHERE id = ?", base.Add(time.Minute), b.ID)
	require.NoError(t, err)

	result, err := p.ProcessStore(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, 2, result.SyncedItems)
	assert.Equal(t, 0, result.FailedItems)
	assert.Equal(t, []string{a.ID, b.ID}, fake.applied)

	got, err := p.Queue.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, got.Status)
	require.NotNil(t, got.EntityID)
	assert.Equal(t, "entity-"+a.ID, *got.EntityID)
}

func TestProcessStoreRetriesTransientlyThenFailsTerminally(t *testing.T) {
	fake := &fakeSynchronizer{
		entity: models.EntityInventory,
		apply: func(_ *models.SyncQueueItem) (syncer.Outcome, error) {
			return syncer.Outcome{}, errors.New("connection reset by peer")
		},
	}
	p := newTestProcessor(t, fake)
	ctx := context.Background()

	item := enqueueOne(t, p.Queue, 1, nil)

	// The first sweeps burn the retry budget; the item keeps returning to
	// pending with its counter bumped.
	for attempt := 1; attempt < p.MaxRetries; attempt++ {
		result, err := p.ProcessStore(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 0, result.FailedItems)

		got, err := p.Queue.Get(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.Equal(t, attempt, got.RetryCount)
	}

	// The final attempt exhausts the budget.
	result, err := p.ProcessStore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedItems)

	got, err := p.Queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, p.MaxRetries, got.RetryCount)
	assert.Len(t, fake.applied, p.MaxRetries)

	// Exhausted items never re-enter a sweep on their own.
	result, err = p.ProcessStore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, result.FailedItems)
	assert.Len(t, fake.applied, p.MaxRetries)
}

func TestProcessStoreValidationFailureIsNeverRetried(t *testing.T) {
	fake := &fakeSynchronizer{entity: models.EntityInventory}
	p := newTestProcessor(t, fake)
	ctx := context.Background()

	item, created, err := p.Queue.Enqueue(ctx, EnqueueRequest{
		StoreID:    1,
		UserID:     1,
		EntityType: models.EntityInventory,
		Action:     models.ActionUpdate,
		Data:       []byte(`{"productId": "prod-1", "quantity": -4}`),
	})
	require.NoError(t, err)
	require.True(t, created)

	result, err := p.ProcessStore(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FailedItems)
	assert.Empty(t, fake.applied, "invalid payloads must not reach a synchronizer")

	got, err := p.Queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "quantity")
}

func TestProcessStoreUnknownEntityIsTerminal(t *testing.T) {
	fake := &fakeSynchronizer{
		entity: models.EntityInventory,
		apply: func(_ *models.SyncQueueItem) (syncer.Outcome, error) {
			return syncer.Outcome{}, syncer.ErrUnknownEntity
		},
	}
	p := newTestProcessor(t, fake)
	ctx := context.Background()

	item := enqueueOne(t, p.Queue, 1, nil)

	result, err := p.ProcessStore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedItems)

	got, err := p.Queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, 0, got.RetryCount, "unknown entities are not transient")
}

func TestProcessStoreRoutesUnresolvedConflict(t *testing.T) {
	fake := &fakeSynchronizer{
		entity: models.EntityInventory,
		apply: func(_ *models.SyncQueueItem) (syncer.Outcome, error) {
			return syncer.Outcome{
				ConflictType: conflict.QuantityMismatch,
				Resolution: conflict.Resolution{
					Resolved: false,
					Action:   conflict.Manual,
					Message:  "deltas move in opposite directions",
				},
			}, nil
		},
	}
	p := newTestProcessor(t, fake)
	ctx := context.Background()

	item := enqueueOne(t, p.Queue, 1, nil)

	result, err := p.ProcessStore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, 0, result.FailedItems)

	got, err := p.Queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConflict, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "quantity_mismatch")
}

func TestProcessStoreResolvedConflictCountsAsSynced(t *testing.T) {
	fake := &fakeSynchronizer{
		entity: models.EntityInventory,
		apply: func(item *models.SyncQueueItem) (syncer.Outcome, error) {
			return syncer.Outcome{
				EntityID:     "prod-1",
				ConflictType: conflict.QuantityMismatch,
				Resolution:   conflict.Resolution{Resolved: true, Action: conflict.Merge},
			}, nil
		},
	}
	p := newTestProcessor(t, fake)
	ctx := context.Background()

	item := enqueueOne(t, p.Queue, 1, nil)

	result, err := p.ProcessStore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SyncedItems)
	assert.Equal(t, 0, result.Conflicts)

	got, err := p.Queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, got.Status)
}

func TestProcessStoreSkipsWhenLeaseHeldElsewhere(t *testing.T) {
	fake := &fakeSynchronizer{entity: models.EntityInventory}
	p := newTestProcessor(t, fake)
	ctx := context.Background()

	item := enqueueOne(t, p.Queue, 1, nil)

	ok, err := p.Queue.AcquireLease(ctx, 1, "another-instance", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := p.ProcessStore(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, result.SyncedItems)
	assert.Empty(t, fake.applied)

	got, err := p.Queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status, "skipped items stay pending for the lease holder")
}

func TestProcessAllSweepsEveryStore(t *testing.T) {
	fake := &fakeSynchronizer{entity: models.EntityInventory}
	p := newTestProcessor(t, fake)
	ctx := context.Background()

	enqueueOne(t, p.Queue, 1, nil)
	enqueueOne(t, p.Queue, 2, nil)
	enqueueOne(t, p.Queue, 2, nil)

	result, err := p.ProcessAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.SyncedItems)

	counts, err := p.Queue.Counts(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Pending)
	assert.Equal(t, 3, counts.Synced)
}

func TestResolveConflictAcceptServer(t *testing.T) {
	fake := &fakeSynchronizer{entity: models.EntityInventory}
	p := newTestProcessor(t, fake)
	ctx := context.Background()

	item := enqueueOne(t, p.Queue, 1, nil)
	require.NoError(t, p.Queue.MarkConflict(ctx, item.ID, "needs review"))

	require.NoError(t, p.ResolveConflict(ctx, item.ID, conflict.AcceptServer))

	got, err := p.Queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, got.Status)
	assert.Empty(t, fake.forced, "accept_server must not touch canonical state")
}

func TestResolveConflictAcceptLocalForceApplies(t *testing.T) {
	fake := &fakeSynchronizer{entity: models.EntityInventory}
	p := newTestProcessor(t, fake)
	ctx := context.Background()

	item := enqueueOne(t, p.Queue, 1, nil)
	require.NoError(t, p.Queue.MarkConflict(ctx, item.ID, "needs review"))

	require.NoError(t, p.ResolveConflict(ctx, item.ID, conflict.AcceptLocal))

	assert.Equal(t, []string{item.ID}, fake.forced)
	got, err := p.Queue.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, got.Status)
	require.NotNil(t, got.EntityID)
	assert.Equal(t, "forced-"+item.ID, *got.EntityID)
}

func TestResolveConflictRejectsNonConflictItems(t *testing.T) {
	fake := &fakeSynchronizer{entity: models.EntityInventory}
	p := newTestProcessor(t, fake)
	ctx := context.Background()

	item := enqueueOne(t, p.Queue, 1, nil)

	err := p.ResolveConflict(ctx, item.ID, conflict.AcceptServer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not conflict")

	err = p.ResolveConflict(ctx, "no-such-item", conflict.AcceptServer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestResolveConflictRejectsUnsupportedAction(t *testing.T) {
	fake := &fakeSynchronizer{entity: models.EntityInventory}
	p := newTestProcessor(t, fake)
	ctx := context.Background()

	item := enqueueOne(t, p.Queue, 1, nil)
	require.NoError(t, p.Queue.MarkConflict(ctx, item.ID, "needs review"))

	err := p.ResolveConflict(ctx, item.ID, conflict.Merge)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}
