package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/coopersmall/agentruntime/run"
	"github.com/coopersmall/agentruntime/statestore"
)

// stateDocument is the Mongo-side encoding of a run.State. The full state is
// stored as a JSON blob (StateJSON) rather than a field-by-field bson
// mapping: run.State's shape tracks spec.md §3 closely and changes with it,
// while RunID/Status/UpdatedAt are promoted to top-level fields so they can
// be indexed and queried without decoding the blob (spec.md §4.2 only
// requires get/put/delete by run id, but operators commonly need a status
// index for dashboards).
type stateDocument struct {
	RunID     string    `bson:"run_id"`
	Status    string    `bson:"status"`
	UpdatedAt time.Time `bson:"updated_at"`
	StateJSON []byte    `bson:"state_json"`
}

// Store implements statestore.Store by delegating to a mongostore.Client.
type Store struct {
	client Client
}

// NewStore builds a Store using the provided client.
func NewStore(client Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("mongostore: client is required")
	}
	return &Store{client: client}, nil
}

// NewStoreFromOptions instantiates the Store by constructing the underlying
// client.
func NewStoreFromOptions(opts Options) (*Store, error) {
	client, err := New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(client)
}

// Get implements statestore.Store.
func (s *Store) Get(ctx context.Context, runID string) (*run.State, error) {
	doc, ok, err := s.client.LoadState(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var st run.State
	if err := json.Unmarshal(doc.StateJSON, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Put implements statestore.Store.
func (s *Store) Put(ctx context.Context, state *run.State) error {
	if state == nil {
		return nil
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	doc := stateDocument{
		RunID:     state.RunID,
		Status:    string(state.Status),
		UpdatedAt: state.UpdatedAt,
		StateJSON: blob,
	}
	return s.client.UpsertState(ctx, state.RunID, doc)
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
	return s.client.DeleteState(ctx, runID)
}

var _ statestore.Store = (*Store)(nil)
