package store

import (
	"context"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/store/keys"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

// FeedWatermark returns the newest CreatedAt delivered by the change feed
// of a conversation. ok is false until the feed has been opened once.
// Rows acknowledged by the outbox never move the watermark.
func (s *Store) FeedWatermark(ctx context.Context, conversationID string) (time.Time, bool, error) {
	const op = "store.feed_watermark"
	done, err := s.begin(ctx, op)
	if err != nil {
		return time.Time{}, false, err
	}
	defer done()
	at, ok, err := s.feedWatermark(conversationID)
	if err != nil {
		return time.Time{}, false, syncerr.Storage(op, err)
	}
	return at, ok, nil
}

// AdvanceFeedWatermark records at for the conversation feed. The watermark
// is created when absent, even for a zero at, and never moves backwards.
func (s *Store) AdvanceFeedWatermark(ctx context.Context, conversationID string, at time.Time) error {
	const op = "store.advance_feed_watermark"
	done, err := s.begin(ctx, op)
	if err != nil {
		return err
	}
	defer done()
	if err := keys.ValidateConversationID(conversationID); err != nil {
		return syncerr.Storage(op, err)
	}
	unlock := s.locks.Lock(conversationID)
	defer unlock()
	cur, ok, err := s.feedWatermark(conversationID)
	if err != nil {
		return syncerr.Storage(op, err)
	}
	if ok && !at.After(cur) {
		return nil
	}
	v := []byte(at.UTC().Format(time.RFC3339Nano))
	if err := s.db.Set(keys.GenFeedWatermarkKey(conversationID), v, s.writeOpt()); err != nil {
		return syncerr.Storage(op, err)
	}
	return nil
}

func (s *Store) feedWatermark(conversationID string) (time.Time, bool, error) {
	v, closer, err := s.db.Get(keys.GenFeedWatermarkKey(conversationID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	defer closer.Close()
	at, err := time.Parse(time.RFC3339Nano, string(v))
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}
