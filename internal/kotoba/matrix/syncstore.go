package matrix

// syncstore.go persists the /sync position in the kotoba database so a
// restart resumes where it left off instead of replaying room history and
// answering old messages twice.

import (
	"context"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// StateStore is the key/value persistence the sync store needs.
// *store.Store satisfies it.
type StateStore interface {
	GetSyncState(ctx context.Context, key string) (string, error)
	SetSyncState(ctx context.Context, key, value string) error
}

var _ mautrix.SyncStore = (*DBSyncStore)(nil)

// DBSyncStore implements mautrix.SyncStore over a StateStore. Keys are
// namespaced by user ID so several bot accounts can share one database.
type DBSyncStore struct {
	state StateStore
}

// NewDBSyncStore wraps state.
func NewDBSyncStore(state StateStore) *DBSyncStore {
	return &DBSyncStore{state: state}
}

func syncKey(userID id.UserID, name string) string {
	return userID.String() + "/" + name
}

// SaveFilterID persists the event-filter ID for userID.
func (s *DBSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.state.SetSyncState(ctx, syncKey(userID, "filter_id"), filterID)
}

// LoadFilterID returns ("", nil) when no filter has been saved yet.
func (s *DBSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.state.GetSyncState(ctx, syncKey(userID, "filter_id"))
}

// SaveNextBatch persists the opaque next_batch token.
func (s *DBSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.state.SetSyncState(ctx, syncKey(userID, "next_batch"), nextBatchToken)
}

// LoadNextBatch returns ("", nil) on first run.
func (s *DBSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.state.GetSyncState(ctx, syncKey(userID, "next_batch"))
}
