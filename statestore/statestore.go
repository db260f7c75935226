// Package statestore defines the State Store contract (C2): read/write/
// delete of persisted per-run state under a distributed lock keyed by run
// id (spec.md §4.2). Concrete backends (statestore/mongostore,
// statestore/inmem) and a distributed lock (statestore/redislock) implement
// these interfaces; the step loop and resumer depend only on Store/Lock.
package statestore

import (
	"context"
	"time"

	"github.com/coopersmall/agentruntime/run"
)

type (
	// LockHandle is an opaque lease returned by Lock.Acquire. Store.Put
	// calls made by the handle's holder are read-your-writes visible to the
	// next Get made by the same holder; other holders observe a Put only
	// after the handle is released (spec.md §4.2 durability assumption).
	LockHandle interface {
		RunID() string
		// Release returns the lock. Safe to call more than once.
		Release(ctx context.Context) error
	}

	// Lock is the distributed mutual-exclusion primitive keyed by run id.
	Lock interface {
		// Acquire takes the lock for runID for ttl. It returns
		// ErrAlreadyHeld if another holder currently owns it.
		Acquire(ctx context.Context, runID string, ttl time.Duration) (LockHandle, error)
	}

	// Store is the State Store (C2). Every operation carries a correlation
	// id via ctx and returns a typed error (errs.Kind), per spec.md §4.2.
	Store interface {
		// Get loads run-id's state, or (nil, nil) if it does not exist.
		Get(ctx context.Context, runID string) (*run.State, error)
		// Put overwrites run-id's state. The caller must hold the run's
		// lock; Store does not itself enforce this (spec.md §4.2 "the
		// caller must hold the lock").
		Put(ctx context.Context, state *run.State) error
		// Delete removes run-id's state. If recursive, it first loads the
		// state to discover ChildStateIDs and deletes each of them the same
		// way before deleting the node itself (spec.md §4.2).
		Delete(ctx context.Context, runID string, recursive bool) error
	}
)
