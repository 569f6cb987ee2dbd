// Package conflict decides what happens when an incoming offline write
// diverges from canonical state. Every policy is a pure function of the two
// versions it is given: no store access, no clock reads beyond the inputs, so
// each policy is independently testable.
package conflict

import (
	"fmt"

	"github.com/chainsyncstore/chainsync-golang/internal/models"
	"github.com/chainsyncstore/chainsync-golang/internal/validation"
)

// Type names the kind of divergence that was detected.
type Type string

const (
	// Duplicate: a transaction already exists under the incoming client ref.
	Duplicate Type = "duplicate"
	// QuantityMismatch: concurrent stock movements changed the same level.
	QuantityMismatch Type = "quantity_mismatch"
)

// Action is the resolver's decision.
type Action string

const (
	AcceptLocal  Action = "accept_local"  // the incoming write wins
	AcceptServer Action = "accept_server" // canonical state stands
	Merge        Action = "merge"         // both survive, combined
	Manual       Action = "manual"        // escalate for operator review
)

// Resolution is the outcome of one policy decision. When Resolved is false the
// item must surface in the conflict terminal state, never be dropped.
type Resolution struct {
	Resolved bool
	Action   Action
	Data     interface{} // merge output, when Action == Merge
	Message  string
}

// MergedQuantity is the Data carried by a resolved quantity_mismatch merge.
type MergedQuantity struct {
	Quantity int `json:"quantity"`
}

// Resolve applies the policy for the given conflict type to the incoming and
// existing versions. Inputs it does not recognize resolve to Manual so that
// nothing is silently overwritten.
func Resolve(conflictType Type, incoming, existing interface{}) Resolution {
	switch conflictType {
	case Duplicate:
		in, okIn := incoming.(*validation.TransactionCreate)
		ex, okEx := existing.(*models.Transaction)
		if !okIn || !okEx {
			return manual("duplicate policy needs a transaction payload and the canonical transaction")
		}
		return resolveDuplicate(in, ex)
	case QuantityMismatch:
		in, okIn := incoming.(*validation.InventoryUpdate)
		ex, okEx := existing.(*models.InventoryLevel)
		if !okIn || !okEx {
			return manual("quantity policy needs an inventory payload and the canonical level")
		}
		return resolveQuantityMismatch(in, ex)
	default:
		return manual(fmt.Sprintf("no policy for conflict type %q", conflictType))
	}
}

// resolveDuplicate treats the canonical record as authoritative by default.
// The incoming copy may win only when it is strictly newer and its total is
// identical, i.e. it is the same sale differing in sync metadata alone.
func resolveDuplicate(incoming *validation.TransactionCreate, existing *models.Transaction) Resolution {
	if incoming.OccurredAt.After(existing.CreatedAt) && incoming.Total == existing.Total {
		return Resolution{
			Resolved: true,
			Action:   AcceptLocal,
			Message:  fmt.Sprintf("replayed copy of %s is newer with identical total, accepting local", existing.ID),
		}
	}
	return Resolution{
		Resolved: true,
		Action:   AcceptServer,
		Message:  fmt.Sprintf("transaction already recorded as %s, keeping server copy", existing.ID),
	}
}

// resolveQuantityMismatch merges only when both deltas from the shared
// baseline move the same direction (e.g. both are decrements from sales).
// Without a baseline, or with opposing directions, there is no safe automatic
// answer and the conflict goes to manual review.
func resolveQuantityMismatch(incoming *validation.InventoryUpdate, existing *models.InventoryLevel) Resolution {
	if incoming.PreviousQuantity == nil {
		return manual("no pre-divergence baseline on the incoming update")
	}

	baseline := *incoming.PreviousQuantity
	localDelta := incoming.Quantity - baseline
	serverDelta := existing.Quantity - baseline

	if localDelta == 0 {
		// The client changed nothing relative to its baseline.
		return Resolution{Resolved: true, Action: AcceptServer, Message: "incoming update carries no change"}
	}
	if serverDelta == 0 {
		// The server never diverged; the incoming write applies cleanly.
		return Resolution{Resolved: true, Action: AcceptLocal, Message: "server level matches the baseline"}
	}

	if sameDirection(localDelta, serverDelta) {
		merged := baseline + localDelta + serverDelta
		if merged < 0 {
			merged = 0
		}
		return Resolution{
			Resolved: true,
			Action:   Merge,
			Data:     MergedQuantity{Quantity: merged},
			Message:  fmt.Sprintf("summed deltas %+d and %+d against baseline %d", localDelta, serverDelta, baseline),
		}
	}

	return manual(fmt.Sprintf("deltas %+d and %+d move in opposite directions", localDelta, serverDelta))
}

func sameDirection(a, b int) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func manual(msg string) Resolution {
	return Resolution{Resolved: false, Action: Manual, Message: msg}
}
