package store

import (
	"context"
	"errors"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/store/keys"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

// RewriteResult describes what an identity rewrite did.
type RewriteResult struct {
	// Found is false when oldID was not stored; nothing was changed.
	Found bool
	// Merged is true when newID already existed (the remote echo arrived
	// first) and the local row was folded into it.
	Merged  bool
	Message models.Message
}

// RewriteIdentity atomically moves the row stored under oldID to newID and
// marks it synced. A missing oldID is treated as already handled.
func (s *Store) RewriteIdentity(ctx context.Context, oldID, newID string) (RewriteResult, error) {
	return s.rewrite(ctx, oldID, newID, nil)
}

// AcknowledgeInsert is RewriteIdentity for the outbox: sent is the snapshot
// that was pushed. If the row changed locally while the insert was in
// flight, the rewritten row is left dirty so the change is pushed next.
func (s *Store) AcknowledgeInsert(ctx context.Context, sent models.Message, newID string) (RewriteResult, error) {
	return s.rewrite(ctx, sent.ID, newID, &sent)
}

func (s *Store) rewrite(ctx context.Context, oldID, newID string, sent *models.Message) (RewriteResult, error) {
	const op = "store.rewrite_identity"
	done, err := s.begin(ctx, op)
	if err != nil {
		return RewriteResult{}, err
	}
	defer done()
	if err := keys.ValidateMessageID(newID); err != nil {
		return RewriteResult{}, syncerr.Storage(op, err)
	}

	old, err := s.get(oldID)
	if errors.Is(err, ErrNotFound) {
		logger.Warn("rewrite_identity_missing", "old_id", oldID, "new_id", newID)
		return RewriteResult{}, nil
	} else if err != nil {
		return RewriteResult{}, syncerr.Storage(op, err)
	}

	unlock := s.locks.Lock(old.ConversationID)
	defer unlock()
	// re-read under the conversation lock
	old, err = s.get(oldID)
	if errors.Is(err, ErrNotFound) {
		logger.Warn("rewrite_identity_missing", "old_id", oldID, "new_id", newID)
		return RewriteResult{}, nil
	} else if err != nil {
		return RewriteResult{}, syncerr.Storage(op, err)
	}

	if oldID == newID {
		if old.Synced {
			return RewriteResult{Found: true, Message: old}, nil
		}
		prev := old
		old.Synced = true
		return s.writeRewrite(op, old, &prev, nil, sent)
	}

	existing, err := s.get(newID)
	switch {
	case err == nil:
		merged := existing
		merged.Synced = true
		if old.UpdatedAt.After(existing.UpdatedAt) {
			merged.Text = old.Text
			merged.DeletedAt = old.DeletedAt
			merged.RestoredAt = old.RestoredAt
			merged.UpdatedAt = old.UpdatedAt
			merged.Dirty = true
		}
		if merged.ClientKey == "" {
			merged.ClientKey = old.ClientKey
		}
		res, err := s.writeRewrite(op, merged, &existing, &old, nil)
		res.Merged = true
		if err == nil {
			logger.Info("identity_rewrite_merged", "old_id", oldID, "new_id", newID)
		}
		return res, err
	case !errors.Is(err, ErrNotFound):
		return RewriteResult{}, syncerr.Storage(op, err)
	}

	next := old.Clone()
	if err := next.Acknowledge(newID); err != nil {
		// already synced under a different id; move it regardless
		next.ID = newID
		next.Synced = true
	}
	// the insert never carries a soft delete; it has to follow as an update
	if next.Deleted() {
		next.Dirty = true
	}
	return s.writeRewrite(op, next, nil, &old, sent)
}

// writeRewrite stores next over prev (the row already under next.ID, if
// any) and removes drop together with its index slots, all in one batch.
func (s *Store) writeRewrite(op string, next models.Message, prev, drop *models.Message, sent *models.Message) (RewriteResult, error) {
	if sent != nil && diverged(*sent, next) {
		next.Dirty = true
	}
	b := s.db.NewBatch()
	defer b.Close()
	if drop != nil && drop.ID != next.ID {
		if err := s.deleteRow(b, drop.ID); err != nil {
			return RewriteResult{}, syncerr.Storage(op, err)
		}
		if drop.Seq != next.Seq || !drop.CreatedAt.Equal(next.CreatedAt) {
			if err := b.Delete(keys.GenConversationIx(drop.ConversationID, drop.CreatedAt, drop.Seq), nil); err != nil {
				return RewriteResult{}, syncerr.Storage(op, err)
			}
			if err := b.Delete(keys.GenOutboxIx(drop.CreatedAt, drop.Seq), nil); err != nil {
				return RewriteResult{}, syncerr.Storage(op, err)
			}
		}
	}
	if err := s.putRow(b, next, prev); err != nil {
		return RewriteResult{}, syncerr.Storage(op, err)
	}
	if err := s.commit(b, nil); err != nil {
		logger.Error("identity_rewrite_failed", "new_id", next.ID, "error", err)
		return RewriteResult{}, syncerr.Storage(op, err)
	}
	oldID := next.ID
	if drop != nil {
		oldID = drop.ID
	}
	logger.Info("identity_rewritten", "old_id", oldID, "new_id", next.ID, "conversation", next.ConversationID)
	return RewriteResult{Found: true, Message: next}, nil
}

// diverged reports whether the stored row moved on from what was pushed.
func diverged(sent, now models.Message) bool {
	if sent.Text != now.Text {
		return true
	}
	return (sent.DeletedAt == nil) != (now.DeletedAt == nil)
}
