package store

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/cockroachdb/pebble"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/store/keys"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

// Reset purges every message, index and marker. Administrative only.
func (s *Store) Reset(ctx context.Context) error {
	const op = "store.reset"
	done, err := s.begin(ctx, op)
	if err != nil {
		return err
	}
	defer done()
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange([]byte{0x00}, []byte{0xff}, nil); err != nil {
		return syncerr.Storage(op, err)
	}
	if err := s.db.Apply(b, pebble.Sync); err != nil {
		return syncerr.Storage(op, err)
	}
	s.seq = 0
	logger.AuditEvent("store_reset", "path", s.path)
	return nil
}

// Stats counts rows by state.
func (s *Store) Stats(ctx context.Context) (models.StoreStats, error) {
	const op = "store.stats"
	done, err := s.begin(ctx, op)
	if err != nil {
		return models.StoreStats{}, err
	}
	defer done()
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return models.StoreStats{}, syncerr.Storage(op, err)
	}
	defer iter.Close()
	var st models.StoreStats
	convs := make(map[string]struct{})
	prefix := []byte(keys.MessagePrefix)
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if err := ctx.Err(); err != nil {
			return models.StoreStats{}, syncerr.Storage(op, err)
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("stats_row_undecodable", "key", string(iter.Key()), "error", err)
			continue
		}
		st.Messages++
		convs[m.ConversationID] = struct{}{}
		if !m.Synced {
			st.Pending++
		}
		if m.Dirty {
			st.Dirty++
		}
		if m.Deleted() {
			st.Deleted++
		}
	}
	if err := iter.Error(); err != nil {
		return models.StoreStats{}, syncerr.Storage(op, err)
	}
	st.Conversations = len(convs)
	return st, nil
}

// ListKeys lists raw keys under prefix, for inspection tooling.
func (s *Store) ListKeys(ctx context.Context, prefix string, limit int) ([]string, error) {
	const op = "store.list_keys"
	done, err := s.begin(ctx, op)
	if err != nil {
		return nil, err
	}
	defer done()
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, syncerr.Storage(op, err)
	}
	defer iter.Close()
	pfx := []byte(prefix)
	var out []string
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		out = append(out, string(iter.Key()))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}
