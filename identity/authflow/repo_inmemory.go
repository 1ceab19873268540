package authflow

import (
	"errors"
	"sync"
	"time"

	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu     sync.Mutex
	states map[string]*State
}

var _ Repo = (*InMemoryRepo)(nil)

// NewInMemoryRepo creates a new in-memory login flow repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		states: make(map[string]*State),
	}
}

// Upsert stores or updates a login flow
func (r *InMemoryRepo) Upsert(state string, flow *State) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if flow == nil {
		return errors.New("flow cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Copy so callers cannot mutate the stored flow
	stored := *flow
	r.states[state] = &stored
	return nil
}

// Take returns the flow for state and removes it.
func (r *InMemoryRepo) Take(state string) (*State, error) {
	if state == "" {
		return nil, apperrors.ErrInvalidState
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	flow, exists := r.states[state]
	if !exists {
		return nil, apperrors.ErrInvalidState
	}
	delete(r.states, state)

	out := *flow
	return &out, nil
}

// Purge drops flows created before olderThan and returns how many were removed.
func (r *InMemoryRepo) Purge(olderThan time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for state, flow := range r.states {
		if flow.CreatedAt.Before(olderThan) {
			delete(r.states, state)
			removed++
		}
	}
	return removed
}
