// Package optimistic is the shared apply-then-reconcile mutation helper used
// by the news, forum, messaging, and notification stores.
package optimistic

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"campus/internal/api"
)

// ErrInFlight reports a suppressed duplicate: a mutation for the same id is
// still in flight.
var ErrInFlight = errors.New("mutation already in flight")

// Gate suppresses concurrent duplicate mutations per entity id.
type Gate struct {
	mu       sync.Mutex
	inflight map[int64]struct{}
}

func (g *Gate) acquire(id int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight == nil {
		g.inflight = make(map[int64]struct{})
	}
	if _, busy := g.inflight[id]; busy {
		return false
	}
	g.inflight[id] = struct{}{}
	return true
}

func (g *Gate) release(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, id)
}

// Op is one optimistic mutation.
type Op struct {
	// Apply puts the hoped-for value into local state, before the call.
	Apply func()

	// Call issues the network request.
	Call func(ctx context.Context) error

	// Reconcile overwrites local state with the authoritative server
	// response after a successful call. Optional: a toggle whose Apply
	// already matches the server outcome needs none.
	Reconcile func()

	// Rollback restores the pre-optimistic value after a failed call.
	Rollback func()

	// SwallowNotFound treats a 404 as success: for idempotent removals the
	// local state already reflects the desired end state, so no rollback.
	SwallowNotFound bool
}

// Run executes op for the entity id, holding the gate for its duration.
// A duplicate trigger while the first is in flight returns ErrInFlight
// without touching state.
func Run(ctx context.Context, gate *Gate, id int64, op Op) error {
	if !gate.acquire(id) {
		return ErrInFlight
	}
	defer gate.release(id)

	op.Apply()

	err := op.Call(ctx)
	if err == nil {
		if op.Reconcile != nil {
			op.Reconcile()
		}
		return nil
	}

	if op.SwallowNotFound && api.IsStatus(err, http.StatusNotFound) {
		return nil
	}

	if op.Rollback != nil {
		op.Rollback()
	}
	return err
}
