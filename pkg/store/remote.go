package store

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/store/keys"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

// UpsertOutcome says how a remote message was folded into the store.
type UpsertOutcome int

const (
	// Inserted: the id was unknown and a new row was written.
	Inserted UpsertOutcome = iota
	// Replaced: the row existed and its content was updated.
	Replaced
	// Unchanged: the row already held this content, or newer content.
	Unchanged
	// Reassigned: a local row carrying the same client key was moved to the
	// remote id.
	Reassigned
)

func (o UpsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Unchanged:
		return "unchanged"
	case Reassigned:
		return "reassigned"
	default:
		return "unknown"
	}
}

// UpsertResult is returned by UpsertFromRemote.
type UpsertResult struct {
	Outcome    UpsertOutcome
	Message    models.Message
	PreviousID string
}

// UpsertFromRemote inserts or replaces a message delivered by the remote
// store, keyed by id. The stored row is always synced. Applying the same
// message twice leaves one unchanged row.
func (s *Store) UpsertFromRemote(ctx context.Context, in models.Message) (UpsertResult, error) {
	const op = "store.upsert_from_remote"
	done, err := s.begin(ctx, op)
	if err != nil {
		return UpsertResult{}, err
	}
	defer done()
	if err := validateRow(in); err != nil {
		return UpsertResult{}, syncerr.Storage(op, err)
	}
	in = in.Clone()
	in.Synced = true
	in.Dirty = false
	in.CreatedAt = in.CreatedAt.UTC()
	if in.UpdatedAt.IsZero() {
		in.UpdatedAt = in.CreatedAt
	}
	in.UpdatedAt = in.UpdatedAt.UTC()

	unlock := s.locks.Lock(in.ConversationID)
	defer unlock()

	existing, err := s.get(in.ID)
	switch {
	case err == nil:
		return s.replaceFromRemote(op, existing, in)
	case !errors.Is(err, ErrNotFound):
		return UpsertResult{}, syncerr.Storage(op, err)
	}

	if in.ClientKey != "" {
		local, found, err := s.byClientKey(in.ClientKey)
		if err != nil {
			return UpsertResult{}, syncerr.Storage(op, err)
		}
		if found && local.ID != in.ID && local.ConversationID == in.ConversationID {
			return s.reassign(op, local, in)
		}
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := s.commit(b, &in); err != nil {
		return UpsertResult{}, syncerr.Storage(op, err)
	}
	logger.Debug("remote_message_inserted", "id", in.ID, "conversation", in.ConversationID)
	return UpsertResult{Outcome: Inserted, Message: in}, nil
}

func (s *Store) byClientKey(clientKey string) (models.Message, bool, error) {
	v, closer, err := s.db.Get(keys.GenClientKeyIx(clientKey))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Message{}, false, nil
		}
		return models.Message{}, false, err
	}
	id := string(v)
	closer.Close()
	m, err := s.get(id)
	if errors.Is(err, ErrNotFound) {
		return models.Message{}, false, nil
	}
	if err != nil {
		return models.Message{}, false, err
	}
	return m, true, nil
}

func sameContent(a, b models.Message) bool {
	if a.Text != b.Text || a.SenderID != b.SenderID || !a.UpdatedAt.Equal(b.UpdatedAt) {
		return false
	}
	if (a.DeletedAt == nil) != (b.DeletedAt == nil) {
		return false
	}
	return a.DeletedAt == nil || a.DeletedAt.Equal(*b.DeletedAt)
}

// replaceFromRemote keeps CreatedAt, Seq and ClientKey of the stored row and
// takes content from in when in is at least as new.
func (s *Store) replaceFromRemote(op string, existing, in models.Message) (UpsertResult, error) {
	if existing.Synced && (sameContent(existing, in) || in.UpdatedAt.Before(existing.UpdatedAt)) {
		return UpsertResult{Outcome: Unchanged, Message: existing}, nil
	}
	next := existing
	next.Synced = true
	if !in.UpdatedAt.Before(existing.UpdatedAt) {
		next.Text = in.Text
		next.SenderID = in.SenderID
		next.DeletedAt = in.DeletedAt
		next.RestoredAt = in.RestoredAt
		next.UpdatedAt = in.UpdatedAt
		next.Dirty = false
	}
	if next.ClientKey == "" {
		next.ClientKey = in.ClientKey
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := s.putRow(b, next, &existing); err != nil {
		return UpsertResult{}, syncerr.Storage(op, err)
	}
	if err := s.commit(b, nil); err != nil {
		return UpsertResult{}, syncerr.Storage(op, err)
	}
	logger.Debug("remote_message_replaced", "id", next.ID, "conversation", next.ConversationID)
	return UpsertResult{Outcome: Replaced, Message: next}, nil
}

// reassign moves a local row whose insert the remote has already accepted
// (matched by client key) to the remote id.
func (s *Store) reassign(op string, local, in models.Message) (UpsertResult, error) {
	next := local.Clone()
	next.ID = in.ID
	next.Synced = true
	next.Dirty = false
	if in.UpdatedAt.Before(local.UpdatedAt) {
		// local edits made after the insert still need pushing
		next.Dirty = local.Text != in.Text || (local.DeletedAt == nil) != (in.DeletedAt == nil)
	} else {
		next.Text = in.Text
		next.DeletedAt = in.DeletedAt
		next.RestoredAt = in.RestoredAt
		next.UpdatedAt = in.UpdatedAt
	}
	res, err := s.writeRewrite(op, next, nil, &local, nil)
	if err != nil {
		return UpsertResult{}, err
	}
	logger.Info("remote_echo_reassigned", "old_id", local.ID, "new_id", next.ID, "client_key", in.ClientKey)
	return UpsertResult{Outcome: Reassigned, Message: res.Message, PreviousID: local.ID}, nil
}
