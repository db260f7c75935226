package statestore

import "github.com/coopersmall/agentruntime/errs"

// ErrAlreadyHeld is returned by Lock.Acquire when another holder currently
// owns the run's lock (spec.md §4.2 "acquireLock(run-id, ttl) -> LockHandle
// | AlreadyHeld").
var ErrAlreadyHeld = errs.New(errs.KindBadRequest, "statestore: lock already held")

// ErrNotFound is the not-found error for run state records. The Store
// implementations in this module do not return it: Get reports a missing
// record as (nil, nil), and recursive Delete skips absent child ids.
var ErrNotFound = errs.New(errs.KindNotFound, "statestore: run state not found")
