// Package redisremote keeps the remote message store in redis: one hash per
// message, a sorted set per conversation and a pub/sub channel per
// conversation for the change feed.
package redisremote

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/remote"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

const defaultPrefix = "chatsync"

// Options configures the adapter.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key; defaults to "chatsync".
	Prefix string
}

// Store is a remote.Store on redis.
type Store struct {
	rdb    *redis.Client
	prefix string
	owned  bool
}

var _ remote.Store = (*Store)(nil)

// New connects to redis.
func New(opts Options) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	s := NewWithClient(rdb, opts.Prefix)
	s.owned = true
	return s
}

// NewWithClient wraps an existing client; Close leaves it open.
func NewWithClient(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Close releases the client if New created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) seqKey() string             { return s.prefix + ":seq" }
func (s *Store) msgKey(id string) string    { return s.prefix + ":msg:" + id }
func (s *Store) ckKey(key string) string    { return s.prefix + ":ck:" + key }
func (s *Store) convKey(conv string) string { return s.prefix + ":convix:" + conv }
func (s *Store) channel(conv string) string { return s.prefix + ":conv:" + conv }

func score(t time.Time) float64 { return float64(t.UnixMilli()) }

// maxTxAttempts bounds optimistic retries when a watched key changes
// under a transaction.
const maxTxAttempts = 16

// watch runs fn under WATCH keys and retries while EXEC is aborted by a
// concurrent writer.
func (s *Store) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxAttempts; i++ {
		err := s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		logger.Debug("redis_tx_conflict", "keys", keys, "attempt", i+1)
	}
	return redis.TxFailedErr
}

// Insert assigns srv-<n> from an INCR counter. A client key already seen
// returns the id of the first insert. The client key and the row are
// written in the same MULTI block, so a failed write leaves neither.
func (s *Store) Insert(ctx context.Context, req remote.InsertRequest) (string, error) {
	const op = "redisremote.insert"
	if req.ConversationID == "" {
		return "", syncerr.Rejected(op, errors.New("conversation id is required"))
	}
	var watched []string
	if req.ClientKey != "" {
		watched = append(watched, s.ckKey(req.ClientKey))
	}
	var id string
	err := s.watch(ctx, func(tx *redis.Tx) error {
		if req.ClientKey != "" {
			first, err := tx.Get(ctx, s.ckKey(req.ClientKey)).Result()
			switch {
			case err == nil:
				id = first
				return nil
			case !errors.Is(err, redis.Nil):
				return err
			}
		}
		n, err := tx.Incr(ctx, s.seqKey()).Result()
		if err != nil {
			return err
		}
		m := models.Message{
			ID:             "srv-" + strconv.FormatInt(n, 10),
			ConversationID: req.ConversationID,
			SenderID:       req.SenderID,
			Text:           req.Text,
			Origin:         req.Origin,
			ClientKey:      req.ClientKey,
			CreatedAt:      req.CreatedAt.UTC(),
			UpdatedAt:      req.CreatedAt.UTC(),
			Synced:         true,
		}
		payload, err := json.Marshal(remote.Change{Type: remote.ChangeInsert, Message: m})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if req.ClientKey != "" {
				p.Set(ctx, s.ckKey(req.ClientKey), m.ID, 0)
			}
			p.HSet(ctx, s.msgKey(m.ID), toHash(m))
			p.ZAdd(ctx, s.convKey(m.ConversationID), redis.Z{Score: score(m.CreatedAt), Member: m.ID})
			p.Publish(ctx, s.channel(m.ConversationID), payload)
			return nil
		})
		if err != nil {
			return err
		}
		id = m.ID
		logger.Debug("redis_message_inserted", "id", id, "conversation", m.ConversationID)
		return nil
	}, watched...)
	if err != nil {
		return "", remote.TransportError(op, err)
	}
	return id, nil
}

func (s *Store) load(ctx context.Context, id string) (models.Message, bool, error) {
	return loadFrom(ctx, s.rdb, s.msgKey(id))
}

func loadFrom(ctx context.Context, c redis.Cmdable, key string) (models.Message, bool, error) {
	h, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return models.Message{}, false, err
	}
	if len(h) == 0 {
		return models.Message{}, false, nil
	}
	m, err := fromHash(h)
	return m, err == nil, err
}

// Update applies f last-write-wins on UpdatedAt. The row is watched while
// it is read, and only the fields f carries are written back.
func (s *Store) Update(ctx context.Context, id string, f remote.Fields) error {
	const op = "redisremote.update"
	key := s.msgKey(id)
	var missing bool
	err := s.watch(ctx, func(tx *redis.Tx) error {
		m, ok, err := loadFrom(ctx, tx, key)
		if err != nil {
			return err
		}
		missing = !ok
		if !ok || f.UpdatedAt.Before(m.UpdatedAt) {
			return nil
		}
		wasDeleted := m.Deleted()
		at := f.UpdatedAt.UTC()
		set := map[string]any{"updated_at": formatTime(at)}
		var unset []string
		if f.Text != nil {
			m.Text = *f.Text
			set["text"] = m.Text
		}
		if f.Deleted != nil {
			switch {
			case *f.Deleted && m.DeletedAt == nil:
				m.DeletedAt = &at
				set["deleted_at"] = formatTime(at)
			case !*f.Deleted && m.DeletedAt != nil:
				m.DeletedAt = nil
				m.RestoredAt = &at
				unset = append(unset, "deleted_at")
				set["restored_at"] = formatTime(at)
			}
		}
		m.UpdatedAt = at
		kind := remote.ChangeUpdate
		if m.Deleted() && !wasDeleted {
			kind = remote.ChangeDelete
		}
		payload, err := json.Marshal(remote.Change{Type: kind, Message: m})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if len(unset) > 0 {
				p.HDel(ctx, key, unset...)
			}
			p.HSet(ctx, key, set)
			p.Publish(ctx, s.channel(m.ConversationID), payload)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return remote.TransportError(op, err)
	}
	if missing {
		return syncerr.Rejected(op, errors.Newf("message %s not found", id))
	}
	return nil
}

// Ping checks the redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return remote.TransportError("redisremote.ping", s.rdb.Ping(ctx).Err())
}

// Subscribe listens on the conversation channel. The subscription is
// confirmed before the replay so no insert falls between the two.
func (s *Store) Subscribe(ctx context.Context, conversationID string, since time.Time, h remote.Handlers) (remote.Subscription, error) {
	const op = "redisremote.subscribe"
	ps := s.rdb.Subscribe(ctx, s.channel(conversationID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, remote.TransportError(op, err)
	}

	var replay []models.Message
	if !since.IsZero() {
		ids, err := s.rdb.ZRangeByScore(ctx, s.convKey(conversationID), &redis.ZRangeBy{
			Min: strconv.FormatFloat(score(since), 'f', 0, 64),
			Max: "+inf",
		}).Result()
		if err != nil {
			_ = ps.Close()
			return nil, remote.TransportError(op, err)
		}
		for _, id := range ids {
			m, ok, err := s.load(ctx, id)
			if err != nil {
				_ = ps.Close()
				return nil, remote.TransportError(op, err)
			}
			if ok && m.CreatedAt.After(since) {
				replay = append(replay, m)
			}
		}
	}

	rctx, cancel := context.WithCancel(context.Background())
	feed := remote.NewFeed(func() {
		cancel()
		_ = ps.Close()
	})
	for _, m := range replay {
		h.Dispatch(remote.Change{Type: remote.ChangeInsert, Message: m})
	}
	go s.receive(rctx, ps, feed, conversationID, h)
	logger.Info("redis_feed_opened", "conversation", conversationID, "replayed", len(replay))
	return feed, nil
}

func (s *Store) receive(ctx context.Context, ps *redis.PubSub, feed *remote.Feed, conversationID string, h remote.Handlers) {
	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			// Close cancels ctx before the feed is marked done
			if ctx.Err() != nil || feed.Closed() {
				return
			}
			logger.Warn("redis_feed_dropped", "conversation", conversationID, "error", err)
			feed.Finish(syncerr.Subscription("redisremote.feed", err))
			return
		}
		var ch remote.Change
		if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
			logger.Warn("redis_feed_bad_payload", "conversation", conversationID, "error", err)
			continue
		}
		h.Dispatch(ch)
	}
}
