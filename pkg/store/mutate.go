package store

import (
	"context"
	"errors"
	"time"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

// MutationResult reports the effect of SetText, SetDeleted or ApplyRemote.
type MutationResult struct {
	// Found is false when the id is unknown; that is not an error.
	Found   bool
	Changed bool
	// WasDeleted is the deletion state before the mutation.
	WasDeleted bool
	Message    models.Message
}

// SetText replaces the text of a message and bumps UpdatedAt. A synced
// message is flagged for the outbox.
func (s *Store) SetText(ctx context.Context, id, text string) (MutationResult, error) {
	return s.mutate(ctx, "store.set_text", id, func(m *models.Message, now time.Time) bool {
		return m.Edit(text, now)
	})
}

// SetDeleted soft deletes (deleted=true) or restores (deleted=false) a
// message. Text is never touched.
func (s *Store) SetDeleted(ctx context.Context, id string, deleted bool) (MutationResult, error) {
	return s.mutate(ctx, "store.set_deleted", id, func(m *models.Message, now time.Time) bool {
		if deleted {
			return m.SoftDelete(now)
		}
		return m.Restore(now)
	})
}

// ApplyRemote folds an edit, delete or restore that already happened on the
// remote store, last-write-wins on UpdatedAt. It never flags the outbox.
func (s *Store) ApplyRemote(ctx context.Context, mut models.Mutation) (MutationResult, error) {
	return s.mutate(ctx, "store.apply_remote", mut.ID, func(m *models.Message, _ time.Time) bool {
		return m.ApplyRemote(mut)
	})
}

// MarkPushed clears the outbox flag after the remote accepted an update, but
// only if the row was not changed again since pushed was read.
func (s *Store) MarkPushed(ctx context.Context, pushed models.Message) (MutationResult, error) {
	return s.mutate(ctx, "store.mark_pushed", pushed.ID, func(m *models.Message, _ time.Time) bool {
		if !m.Dirty || !m.UpdatedAt.Equal(pushed.UpdatedAt) {
			return false
		}
		m.Dirty = false
		return true
	})
}

func (s *Store) mutate(ctx context.Context, op, id string, fn func(*models.Message, time.Time) bool) (MutationResult, error) {
	done, err := s.begin(ctx, op)
	if err != nil {
		return MutationResult{}, err
	}
	defer done()

	cur, err := s.get(id)
	if errors.Is(err, ErrNotFound) {
		logger.Debug("mutation_target_missing", "op", op, "id", id)
		return MutationResult{}, nil
	} else if err != nil {
		return MutationResult{}, syncerr.Storage(op, err)
	}
	unlock := s.locks.Lock(cur.ConversationID)
	defer unlock()
	cur, err = s.get(id)
	if errors.Is(err, ErrNotFound) {
		return MutationResult{}, nil
	} else if err != nil {
		return MutationResult{}, syncerr.Storage(op, err)
	}

	res := MutationResult{Found: true, WasDeleted: cur.Deleted()}
	next := cur.Clone()
	if !fn(&next, s.now()) {
		res.Message = cur
		return res, nil
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := s.putRow(b, next, &cur); err != nil {
		return MutationResult{}, syncerr.Storage(op, err)
	}
	if err := s.commit(b, nil); err != nil {
		logger.Error("message_mutation_failed", "op", op, "id", id, "error", err)
		return MutationResult{}, syncerr.Storage(op, err)
	}
	logger.Debug("message_mutated", "op", op, "id", id, "dirty", next.Dirty)
	res.Changed = true
	res.Message = next
	return res, nil
}
