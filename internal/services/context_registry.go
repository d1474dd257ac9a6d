package services

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jasondsmith72/CWM-MCP/internal/models"
)

// ContextNotFoundError is returned for any operation naming an identifier the
// registry does not hold.
type ContextNotFoundError struct {
	ID string
}

func (e *ContextNotFoundError) Error() string {
	return fmt.Sprintf("Context %s not found", e.ID)
}

// ContextRegistry is the in-memory store of session records. It exclusively
// owns every record: callers get copies, never pointers into the map, so the
// only mutation surface is the methods below. Everything is volatile; a
// restart drops all contexts.
type ContextRegistry struct {
	mu       sync.Mutex
	contexts map[string]*models.Context
	now      func() time.Time
}

// NewContextRegistry creates an empty registry.
func NewContextRegistry() *ContextRegistry {
	return &ContextRegistry{
		contexts: make(map[string]*models.Context),
		now:      time.Now,
	}
}

// SetClock replaces the registry's time source. Sweep and touch tests drive
// the clock manually.
func (r *ContextRegistry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Create inserts a fresh record and returns a copy. It never fails: UUIDs
// make collisions negligible, and the loop below turns "negligible" into
// "impossible" for the lifetime of one registry.
func (r *ContextRegistry) Create() models.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	for {
		if _, taken := r.contexts[id]; !taken {
			break
		}
		id = uuid.NewString()
	}

	now := r.now()
	rec := &models.Context{
		ID:             id,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	r.contexts[id] = rec
	return *rec
}

// Get returns a copy of the record, or ContextNotFoundError. It does not
// refresh the access timestamp; callers that go on to use the context call
// Touch after their operation succeeds.
func (r *ContextRegistry) Get(id string) (models.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.contexts[id]
	if !ok {
		return models.Context{}, &ContextNotFoundError{ID: id}
	}
	return *rec, nil
}

// Touch refreshes LastAccessedAt. The timestamp never moves backwards even if
// the wall clock does.
func (r *ContextRegistry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.contexts[id]
	if !ok {
		return &ContextNotFoundError{ID: id}
	}
	if now := r.now(); now.After(rec.LastAccessedAt) {
		rec.LastAccessedAt = now
	}
	return nil
}

// MarkConnected records a successful external-session bootstrap.
func (r *ContextRegistry) MarkConnected(id string) error {
	return r.setConnected(id, true)
}

// MarkDisconnected reverts a context to not-connected after a command failure
// whose diagnostic indicates the external session was lost.
func (r *ContextRegistry) MarkDisconnected(id string) error {
	return r.setConnected(id, false)
}

func (r *ContextRegistry) setConnected(id string, connected bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.contexts[id]
	if !ok {
		return &ContextNotFoundError{ID: id}
	}
	rec.Connected = connected
	return nil
}

// Delete removes the record if present and reports whether it existed.
// Absence is a normal outcome, not an error.
func (r *ContextRegistry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.contexts[id]
	delete(r.contexts, id)
	return ok
}

// Sweep evicts every record idle strictly longer than idleThreshold and
// returns the eviction count. A record idle exactly idleThreshold survives.
func (r *ContextRegistry) Sweep(now time.Time, idleThreshold time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, rec := range r.contexts {
		if now.Sub(rec.LastAccessedAt) > idleThreshold {
			delete(r.contexts, id)
			evicted++
		}
	}
	if evicted > 0 {
		log.Printf("🗑️  [REGISTRY] Swept %d idle context(s), %d remaining", evicted, len(r.contexts))
	}
	return evicted
}

// Count returns the number of live contexts.
func (r *ContextRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

// List returns copies of all live records.
func (r *ContextRegistry) List() []models.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Context, 0, len(r.contexts))
	for _, rec := range r.contexts {
		out = append(out, *rec)
	}
	return out
}
