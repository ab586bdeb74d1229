// Package store is the on-device message store. Rows, ordering indexes and
// the outbox live in a single pebble database; every multi-key change is one
// pebble batch so a reader never observes half of an identity rewrite.
package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/store/keys"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/store/locks"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

var (
	// ErrNotFound is returned by Get for an unknown id.
	ErrNotFound = errors.New("message not found")
	// ErrDuplicateID is returned by Append when the id is already stored.
	ErrDuplicateID = errors.New("message id already exists")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// Options configures Open.
type Options struct {
	Path string
	// SyncWrites fsyncs every batch. Defaults to true through config.
	SyncWrites bool
	DisableWAL bool
	// CacheSize is the pebble block cache size in bytes; 0 keeps pebble's
	// default.
	CacheSize int64
}

// Store is the Local Message Store.
type Store struct {
	db    *pebble.DB
	path  string
	sync  bool
	locks *locks.Map

	seqMu sync.Mutex
	seq   uint64

	closeMu sync.RWMutex
	closed  bool

	now func() time.Time
}

// Open opens or creates the store at opts.Path.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, syncerr.Storage("store.open", errors.New("empty store path"))
	}
	popts := &pebble.Options{DisableWAL: opts.DisableWAL}
	if opts.CacheSize > 0 {
		cache := pebble.NewCache(opts.CacheSize)
		defer cache.Unref()
		popts.Cache = cache
	}
	if opts.DisableWAL && !opts.SyncWrites {
		logger.Warn("durability_disabled", "durability", "no WAL and no synced writes")
	}
	db, err := pebble.Open(opts.Path, popts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", opts.Path, "error", err)
		return nil, syncerr.Storage("store.open", err)
	}
	s := &Store{
		db:    db,
		path:  opts.Path,
		sync:  opts.SyncWrites,
		locks: locks.New(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	if err := s.loadSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("store_opened", "path", opts.Path, "seq", s.seq, "sync_writes", opts.SyncWrites)
	return s, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Flush(); err != nil {
		logger.Error("store_flush_failed", "error", err)
	}
	if err := s.db.Close(); err != nil {
		return syncerr.Storage("store.close", err)
	}
	logger.Info("store_closed", "path", s.path)
	return nil
}

// Ready reports whether the store is open.
func (s *Store) Ready() bool {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	return !s.closed
}

// Path returns the directory the store was opened at.
func (s *Store) Path() string { return s.path }

// SetClock replaces the time source used for local mutations.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// IsNotFound reports whether err means the id does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pebble.ErrNotFound)
}

func (s *Store) writeOpt() *pebble.WriteOptions {
	if s.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// begin guards an operation against a concurrent Close. The returned
// function must be called when the operation is done.
func (s *Store) begin(ctx context.Context, op string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, syncerr.Storage(op, err)
	}
	s.closeMu.RLock()
	if s.closed {
		s.closeMu.RUnlock()
		return nil, syncerr.Storage(op, ErrClosed)
	}
	return s.closeMu.RUnlock, nil
}

func (s *Store) loadSeq() error {
	v, closer, err := s.db.Get([]byte(keys.SeqKey))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil
		}
		return syncerr.Storage("store.load_seq", err)
	}
	defer closer.Close()
	if len(v) == 8 {
		s.seq = binary.BigEndian.Uint64(v)
	}
	return nil
}

// commit applies b, assigning the next sequence number to m first when m is
// non-nil. Sequence assignment and the batch apply happen under one lock so
// the persisted counter never goes backwards.
func (s *Store) commit(b *pebble.Batch, m *models.Message) error {
	if m == nil {
		return s.db.Apply(b, s.writeOpt())
	}
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	next := s.seq + 1
	m.Seq = next
	if err := s.putRow(b, *m, nil); err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	if err := b.Set([]byte(keys.SeqKey), buf[:], nil); err != nil {
		return err
	}
	if err := s.db.Apply(b, s.writeOpt()); err != nil {
		return err
	}
	s.seq = next
	return nil
}

// reader is satisfied by *pebble.DB and *pebble.Snapshot.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

func (s *Store) get(id string) (models.Message, error) {
	return getFrom(s.db, id)
}

func getFrom(r reader, id string) (models.Message, error) {
	v, closer, err := r.Get(keys.GenMessageKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return models.Message{}, ErrNotFound
		}
		return models.Message{}, err
	}
	defer closer.Close()
	var m models.Message
	if err := json.Unmarshal(v, &m); err != nil {
		return models.Message{}, err
	}
	return m, nil
}

// putRow writes the row and its indexes. prev, when set, is the row being
// replaced under the same id; stale index entries it owned are removed.
func (s *Store) putRow(b *pebble.Batch, m models.Message, prev *models.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := b.Set(keys.GenMessageKey(m.ID), data, nil); err != nil {
		return err
	}
	if prev != nil && (prev.Seq != m.Seq || !prev.CreatedAt.Equal(m.CreatedAt)) {
		if err := b.Delete(keys.GenConversationIx(prev.ConversationID, prev.CreatedAt, prev.Seq), nil); err != nil {
			return err
		}
		if err := b.Delete(keys.GenOutboxIx(prev.CreatedAt, prev.Seq), nil); err != nil {
			return err
		}
	}
	if err := b.Set(keys.GenConversationIx(m.ConversationID, m.CreatedAt, m.Seq), []byte(m.ID), nil); err != nil {
		return err
	}
	ox := keys.GenOutboxIx(m.CreatedAt, m.Seq)
	if m.NeedsPush() {
		if err := b.Set(ox, []byte(m.ID), nil); err != nil {
			return err
		}
	} else if err := b.Delete(ox, nil); err != nil {
		return err
	}
	if m.ClientKey != "" {
		if err := b.Set(keys.GenClientKeyIx(m.ClientKey), []byte(m.ID), nil); err != nil {
			return err
		}
	}
	return nil
}

// deleteRow removes the primary row only; indexes keyed by (createdAt, seq)
// are overwritten by the replacement row in the same batch.
func (s *Store) deleteRow(b *pebble.Batch, id string) error {
	return b.Delete(keys.GenMessageKey(id), nil)
}

// scanIDs walks an index prefix in key order and returns the ids it points
// to, skipping the first offset entries and stopping after limit (<= 0 means
// no limit).
func scanIDs(ctx context.Context, r reader, prefix []byte, offset, limit int) ([]string, error) {
	iter, err := r.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	skipped := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, string(iter.Value()))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// listIndex reads an index and the rows it points to from one snapshot, so
// a concurrent identity rewrite is seen either entirely or not at all.
func (s *Store) listIndex(ctx context.Context, prefix []byte, offset, limit int) ([]models.Message, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close()
	ids, err := scanIDs(ctx, snap, prefix, offset, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		m, err := getFrom(snap, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				logger.Warn("index_entry_dangling", "id", id)
				continue
			}
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
