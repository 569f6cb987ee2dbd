// Package syncer applies queued mutations to the canonical store. There is
// one Synchronizer per entity type, selected through a small registry, so
// adding an entity type is a new implementation plus a registration, not an
// edit to a central dispatcher.
package syncer

import (
	"context"
	"errors"

	"github.com/chainsyncstore/chainsync-golang/internal/conflict"
	"github.com/chainsyncstore/chainsync-golang/internal/models"
)

// ErrUnknownEntity is returned when an update or delete names an entity that
// does not exist in the canonical store. It is not retryable: replaying the
// same mutation cannot make the entity appear.
var ErrUnknownEntity = errors.New("entity not found in canonical store")

// Outcome is the result of applying one mutation.
//
// When ConflictType is empty the mutation applied cleanly and EntityID names
// the canonical row. When ConflictType is set, Resolution says what the policy
// decided; an unresolved Resolution routes the queue item to its conflict
// terminal state.
type Outcome struct {
	EntityID     string
	ConflictType conflict.Type
	Resolution   conflict.Resolution
}

// Synchronizer knows how to apply create/update/delete for one entity type
// and how to detect duplication against existing canonical state.
type Synchronizer interface {
	EntityType() models.EntityType

	// Apply executes the mutation described by item. The payload has already
	// passed the data validator and is the schema type for the item's
	// (entityType, action) pair.
	Apply(ctx context.Context, item *models.SyncQueueItem, payload interface{}) (Outcome, error)

	// ForceApply applies the incoming write unconditionally, bypassing
	// conflict detection. Only an explicit operator accept_local resolution
	// reaches this path.
	ForceApply(ctx context.Context, item *models.SyncQueueItem, payload interface{}) (Outcome, error)
}

// Registry maps entity types to their synchronizer.
type Registry struct {
	byType map[models.EntityType]Synchronizer
}

// NewRegistry builds a registry from the given synchronizers.
func NewRegistry(syncers ...Synchronizer) *Registry {
	r := &Registry{byType: make(map[models.EntityType]Synchronizer, len(syncers))}
	for _, s := range syncers {
		r.byType[s.EntityType()] = s
	}
	return r
}

// For returns the synchronizer registered for the entity type.
func (r *Registry) For(entity models.EntityType) (Synchronizer, bool) {
	s, ok := r.byType[entity]
	return s, ok
}
