package store

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/store/keys"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

func validateRow(m models.Message) error {
	if err := keys.ValidateMessageID(m.ID); err != nil {
		return err
	}
	if err := keys.ValidateConversationID(m.ConversationID); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		return errors.New("created_at is zero")
	}
	return nil
}

// Append durably inserts a new message. The caller owns deduplication; an
// id that is already stored fails with ErrDuplicateID.
func (s *Store) Append(ctx context.Context, m models.Message) (models.Message, error) {
	const op = "store.append"
	done, err := s.begin(ctx, op)
	if err != nil {
		return models.Message{}, err
	}
	defer done()
	if err := validateRow(m); err != nil {
		return models.Message{}, syncerr.Storage(op, err)
	}
	m = m.Clone()
	m.CreatedAt = m.CreatedAt.UTC()
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}

	unlock := s.locks.Lock(m.ConversationID)
	defer unlock()

	if _, err := s.get(m.ID); err == nil {
		return models.Message{}, syncerr.Storage(op, ErrDuplicateID)
	} else if !errors.Is(err, ErrNotFound) {
		return models.Message{}, syncerr.Storage(op, err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := s.commit(b, &m); err != nil {
		logger.Error("message_append_failed", "id", m.ID, "conversation", m.ConversationID, "error", err)
		return models.Message{}, syncerr.Storage(op, err)
	}
	logger.Debug("message_appended", "id", m.ID, "conversation", m.ConversationID, "seq", m.Seq, "synced", m.Synced)
	return m, nil
}

// Get returns the message stored under id.
func (s *Store) Get(ctx context.Context, id string) (models.Message, error) {
	const op = "store.get"
	done, err := s.begin(ctx, op)
	if err != nil {
		return models.Message{}, err
	}
	defer done()
	m, err := s.get(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.Message{}, ErrNotFound
		}
		return models.Message{}, syncerr.Storage(op, err)
	}
	return m, nil
}

// ListByConversation returns up to limit messages of a conversation, oldest
// first. limit <= 0 returns all of them.
func (s *Store) ListByConversation(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	return s.ListPage(ctx, conversationID, limit, 0)
}

// ListPage is ListByConversation starting offset messages in.
func (s *Store) ListPage(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	const op = "store.list_by_conversation"
	done, err := s.begin(ctx, op)
	if err != nil {
		return nil, err
	}
	defer done()
	if err := keys.ValidateConversationID(conversationID); err != nil {
		return nil, syncerr.Storage(op, err)
	}
	if offset < 0 {
		offset = 0
	}
	out, err := s.listIndex(ctx, keys.GenConversationPrefix(conversationID), offset, limit)
	if err != nil {
		return nil, syncerr.Storage(op, err)
	}
	return out, nil
}

// ListOutbox returns every message with outstanding remote work (pending
// inserts and unpushed local changes) in CreatedAt order across all
// conversations.
func (s *Store) ListOutbox(ctx context.Context, limit int) ([]models.Message, error) {
	const op = "store.list_outbox"
	done, err := s.begin(ctx, op)
	if err != nil {
		return nil, err
	}
	defer done()
	out, err := s.listIndex(ctx, []byte(keys.OutboxPrefix), 0, limit)
	if err != nil {
		return nil, syncerr.Storage(op, err)
	}
	return out, nil
}

// ListUnsynced returns messages that have no remote identity yet, ordered by
// CreatedAt.
func (s *Store) ListUnsynced(ctx context.Context, limit int) ([]models.Message, error) {
	all, err := s.ListOutbox(ctx, 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(all))
	for _, m := range all {
		if m.Synced {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// LatestCreatedAt returns the CreatedAt of the newest synced message of a
// conversation, or the zero time when there is none.
func (s *Store) LatestCreatedAt(ctx context.Context, conversationID string) (time.Time, error) {
	const op = "store.latest_created_at"
	done, err := s.begin(ctx, op)
	if err != nil {
		return time.Time{}, err
	}
	defer done()
	prefix := keys.GenConversationPrefix(conversationID)
	snap := s.db.NewSnapshot()
	defer snap.Close()
	iter, err := snap.NewIter(&pebble.IterOptions{})
	if err != nil {
		return time.Time{}, syncerr.Storage(op, err)
	}
	defer iter.Close()
	for iter.SeekLT(keys.UpperBound(prefix)); iter.Valid(); iter.Prev() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		m, err := getFrom(snap, string(iter.Value()))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return time.Time{}, syncerr.Storage(op, err)
		}
		if m.Synced {
			return m.CreatedAt, nil
		}
	}
	if err := iter.Error(); err != nil {
		return time.Time{}, syncerr.Storage(op, err)
	}
	return time.Time{}, nil
}
