// Package inmem is a process-local reference implementation of
// statestore.Store and statestore.Lock, used in tests and the cmd/demo
// wiring in place of statestore/mongostore and statestore/redislock.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/coopersmall/agentruntime/run"
	"github.com/coopersmall/agentruntime/statestore"
)

type (
	// Store is an in-memory statestore.Store backed by a map guarded by a
	// mutex. Get and Put copy the State struct itself, so reassigning a
	// top-level field of a returned state does not change the stored
	// record; the copy is shallow, and slices, maps and pointers inside it
	// stay shared with the stored record.
	Store struct {
		mu     sync.RWMutex
		states map[string]*run.State
	}

	// Lock is an in-memory statestore.Lock. A single process-wide mutex set
	// tracks held run ids; TTL expiry is enforced lazily on the next
	// Acquire attempt for the same run id.
	Lock struct {
		mu      sync.Mutex
		holders map[string]time.Time // runID -> expiry
	}

	handle struct {
		lock  *Lock
		runID string
	}
)

// New constructs an empty in-memory Store.
func New() *Store {
	return &Store{states: make(map[string]*run.State)}
}

// Get implements statestore.Store.
func (s *Store) Get(_ context.Context, runID string) (*run.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[runID]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

// Put implements statestore.Store.
func (s *Store) Put(_ context.Context, state *run.State) error {
	if state == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.states[state.RunID] = &cp
	return nil
}

// Delete implements statestore.Store, recursing through ChildStateIDs when
// recursive is true (spec.md §4.2).
func (s *Store) Delete(ctx context.Context, runID string, recursive bool) error {
	if recursive {
		st, err := s.Get(ctx, runID)
		if err != nil {
			return err
		}
		if st != nil {
			for _, child := range st.ChildStateIDs {
				if err := s.Delete(ctx, child, true); err != nil {
					return err
				}
			}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, runID)
	return nil
}

// NewLock constructs an empty in-memory Lock.
func NewLock() *Lock {
	return &Lock{holders: make(map[string]time.Time)}
}

// Acquire implements statestore.Lock.
func (l *Lock) Acquire(_ context.Context, runID string, ttl time.Duration) (statestore.LockHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if expiry, held := l.holders[runID]; held && time.Now().Before(expiry) {
		return nil, statestore.ErrAlreadyHeld
	}
	l.holders[runID] = time.Now().Add(ttl)
	return &handle{lock: l, runID: runID}, nil
}

func (h *handle) RunID() string { return h.runID }

func (h *handle) Release(_ context.Context) error {
	h.lock.mu.Lock()
	defer h.lock.mu.Unlock()
	delete(h.lock.holders, h.runID)
	return nil
}
