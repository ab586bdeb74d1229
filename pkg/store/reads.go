package store

import (
	"context"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/store/keys"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

// MarkRead records that userID has read conversationID up to at. A marker
// never moves backwards.
func (s *Store) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	const op = "store.mark_read"
	done, err := s.begin(ctx, op)
	if err != nil {
		return err
	}
	defer done()
	if err := keys.ValidateConversationID(conversationID); err != nil {
		return syncerr.Storage(op, err)
	}
	if err := keys.ValidateUserID(userID); err != nil {
		return syncerr.Storage(op, err)
	}
	unlock := s.locks.Lock(conversationID)
	defer unlock()
	cur, ok, err := s.readMarker(conversationID, userID)
	if err != nil {
		return syncerr.Storage(op, err)
	}
	if ok && !at.After(cur.ReadAt) {
		return nil
	}
	v := []byte(at.UTC().Format(time.RFC3339Nano))
	if err := s.db.Set(keys.GenReadMarkerKey(conversationID, userID), v, s.writeOpt()); err != nil {
		return syncerr.Storage(op, err)
	}
	return nil
}

// ReadMarker returns the read marker of a user in a conversation.
func (s *Store) ReadMarker(ctx context.Context, conversationID, userID string) (models.ReadMarker, bool, error) {
	const op = "store.read_marker"
	done, err := s.begin(ctx, op)
	if err != nil {
		return models.ReadMarker{}, false, err
	}
	defer done()
	rm, ok, err := s.readMarker(conversationID, userID)
	if err != nil {
		return models.ReadMarker{}, false, syncerr.Storage(op, err)
	}
	return rm, ok, nil
}

func (s *Store) readMarker(conversationID, userID string) (models.ReadMarker, bool, error) {
	v, closer, err := s.db.Get(keys.GenReadMarkerKey(conversationID, userID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.ReadMarker{}, false, nil
		}
		return models.ReadMarker{}, false, err
	}
	defer closer.Close()
	ts, err := time.Parse(time.RFC3339Nano, string(v))
	if err != nil {
		return models.ReadMarker{}, false, err
	}
	return models.ReadMarker{ConversationID: conversationID, UserID: userID, ReadAt: ts}, true, nil
}
