package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/chainsyncstore/chainsync-golang/internal/conflict"
	"github.com/chainsyncstore/chainsync-golang/internal/models"
	"github.com/chainsyncstore/chainsync-golang/internal/syncer"
	"github.com/chainsyncstore/chainsync-golang/internal/validation"
	"github.com/google/uuid"
)

const (
	// DefaultMaxRetries is the transient-failure budget per queue item.
	DefaultMaxRetries = 3

	// leaseTTL bounds how long a crashed instance can block a store's sweep.
	leaseTTL = 2 * time.Minute
)

// Processor drains the sync queue: validator -> synchronizer -> conflict
// resolver -> status update, per item. Per-item failures are caught and
// aggregated; one bad item never halts the sweep.
type Processor struct {
	Queue      *Queue
	Validator  *validation.Validator
	Registry   *syncer.Registry
	MaxRetries int

	// holder identifies this instance in the durable per-store lease.
	holder string

	// sweeping guards against two concurrent full-queue sweeps within this
	// process. Cross-instance exclusion is the lease's job.
	sweeping atomic.Bool
}

// NewProcessor wires a processor over the queue, validator and registry.
func NewProcessor(queue *Queue, v *validation.Validator, registry *syncer.Registry) *Processor {
	return &Processor{
		Queue:      queue,
		Validator:  v,
		Registry:   registry,
		MaxRetries: DefaultMaxRetries,
		holder:     uuid.New().String(),
	}
}

// ProcessAll sweeps every store that has pending items. A second concurrent
// call within this process returns immediately with an empty result.
func (p *Processor) ProcessAll(ctx context.Context) (*models.SyncResult, error) {
	if !p.sweeping.CompareAndSwap(false, true) {
		return &models.SyncResult{Errors: []string{}}, nil
	}
	defer p.sweeping.Store(false)

	stores, err := p.Queue.StoresWithPending(ctx)
	if err != nil {
		return nil, err
	}

	total := &models.SyncResult{Errors: []string{}}
	for _, storeID := range stores {
		result, err := p.ProcessStore(ctx, storeID)
		if err != nil {
			total.Errors = append(total.Errors, fmt.Sprintf("store %d: %v", storeID, err))
			continue
		}
		total.SyncedItems += result.SyncedItems
		total.FailedItems += result.FailedItems
		total.Conflicts += result.Conflicts
		total.Errors = append(total.Errors, result.Errors...)
	}
	return total, nil
}

// ProcessStore drains one store's pending items in creation order under the
// store's durable lease. When another instance holds the lease, the sweep is
// skipped; the items stay pending for the holder.
func (p *Processor) ProcessStore(ctx context.Context, storeID int64) (*models.SyncResult, error) {
	acquired, err := p.Queue.AcquireLease(ctx, storeID, p.holder, leaseTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		log.Printf("Sync sweep for store %d skipped: lease held elsewhere", storeID)
		return &models.SyncResult{Errors: []string{}}, nil
	}
	defer func() {
		if err := p.Queue.ReleaseLease(context.WithoutCancel(ctx), storeID, p.holder); err != nil {
			log.Printf("Failed to release sync lease for store %d: %v", storeID, err)
		}
	}()

	items, err := p.Queue.PendingForStore(ctx, storeID)
	if err != nil {
		return nil, err
	}

	result := &models.SyncResult{Errors: []string{}}
	for _, item := range items {
		// An item claimed as syncing always reaches a terminal-for-this-
		// attempt status before the sweep looks at cancellation.
		p.processItem(ctx, item, result)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}
	}
	return result, nil
}

// processItem runs the full pipeline for one queue item and records the
// outcome in result.
func (p *Processor) processItem(ctx context.Context, item *models.SyncQueueItem, result *models.SyncResult) {
	claimed, err := p.Queue.Claim(ctx, item.ID)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("item %s: %v", item.ID, err))
		return
	}
	if !claimed {
		// Another worker won the race; not our item anymore.
		return
	}

	// Re-validate just before replay: the payload may have aged since it was
	// admitted to the queue.
	vres := p.Validator.Validate(item.EntityType, item.Action, item.Data)
	if !vres.Valid {
		verr := &ValidationError{Fields: vres.Errors}
		p.finalizeFailed(ctx, item, result, verr.Error())
		return
	}

	sync, ok := p.Registry.For(item.EntityType)
	if !ok {
		p.finalizeFailed(ctx, item, result, fmt.Sprintf("no synchronizer registered for entity type %q", item.EntityType))
		return
	}

	outcome, err := sync.Apply(ctx, item, vres.Payload)
	if err != nil {
		if errors.Is(err, syncer.ErrUnknownEntity) {
			// Replaying cannot make the entity appear; no retry.
			p.finalizeFailed(ctx, item, result, err.Error())
			return
		}
		p.retryOrFail(ctx, item, result, err)
		return
	}

	if outcome.ConflictType != "" && !outcome.Resolution.Resolved {
		signal := &ConflictDetected{Type: outcome.ConflictType, Message: outcome.Resolution.Message}
		if err := p.Queue.MarkConflict(ctx, item.ID, signal.Error()); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("item %s: %v", item.ID, err))
			return
		}
		result.Conflicts++
		log.Printf("Sync item %s flagged as conflict: %s", item.ID, outcome.Resolution.Message)
		return
	}

	if err := p.Queue.MarkSynced(ctx, item.ID, outcome.EntityID); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("item %s: %v", item.ID, err))
		return
	}
	result.SyncedItems++
}

// retryOrFail routes a transient failure back to pending, or to failed once
// the budget is gone.
func (p *Processor) retryOrFail(ctx context.Context, item *models.SyncQueueItem, result *models.SyncResult, cause error) {
	attempt := item.RetryCount + 1
	terr := &TransientError{Err: cause}

	terminal, err := p.Queue.ReturnForRetry(ctx, item.ID, attempt, p.MaxRetries, terr.Error())
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("item %s: %v", item.ID, err))
		return
	}

	if terminal {
		tf := &TerminalFailure{Attempts: attempt, Err: cause}
		result.FailedItems++
		result.Errors = append(result.Errors, fmt.Sprintf("item %s: %v", item.ID, tf))
		log.Printf("Sync item %s failed terminally after %d attempts: %v", item.ID, attempt, cause)
		return
	}

	result.Errors = append(result.Errors, fmt.Sprintf("item %s: %v (attempt %d/%d)", item.ID, terr, attempt, p.MaxRetries))
}

func (p *Processor) finalizeFailed(ctx context.Context, item *models.SyncQueueItem, result *models.SyncResult, message string) {
	if err := p.Queue.MarkFailed(ctx, item.ID, message); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("item %s: %v", item.ID, err))
		return
	}
	result.FailedItems++
	result.Errors = append(result.Errors, fmt.Sprintf("item %s: %s", item.ID, message))
}

// ResolveConflict is the operator action that moves a conflict item to
// synced. accept_server keeps canonical state as-is; accept_local force-
// applies the incoming write first.
func (p *Processor) ResolveConflict(ctx context.Context, id string, action conflict.Action) error {
	item, err := p.Queue.Get(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("sync item %s not found", id)
	}
	if item.Status != models.StatusConflict {
		return fmt.Errorf("sync item %s is %s, not conflict", id, item.Status)
	}

	switch action {
	case conflict.AcceptServer:
		return p.Queue.MarkSynced(ctx, id, "")
	case conflict.AcceptLocal:
		vres := p.Validator.Validate(item.EntityType, item.Action, item.Data)
		if !vres.Valid {
			return &ValidationError{Fields: vres.Errors}
		}
		sync, ok := p.Registry.For(item.EntityType)
		if !ok {
			return fmt.Errorf("no synchronizer registered for entity type %q", item.EntityType)
		}
		outcome, err := sync.ForceApply(ctx, item, vres.Payload)
		if err != nil {
			return err
		}
		return p.Queue.MarkSynced(ctx, id, outcome.EntityID)
	default:
		return fmt.Errorf("unsupported resolution action %q", action)
	}
}
