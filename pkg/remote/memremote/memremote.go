// Package memremote is an in-process remote store. It backs tests and the
// "memory" driver, and can be told to fail, stall or drop its feeds.
package memremote

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/remote"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

var errDown = errors.New("remote unreachable")

// UpdateCall records one accepted Update.
type UpdateCall struct {
	ID     string
	Fields remote.Fields
}

type sub struct {
	feed *remote.Feed
	h    remote.Handlers
}

// Store is a thread-safe in-memory remote.Store.
type Store struct {
	mu         sync.Mutex
	seq        int
	rows       map[string]models.Message
	clientKeys map[string]string
	subs       map[string]map[*sub]struct{}
	down       bool
	failures   []error
	delay      time.Duration
	inserts    []models.Message
	updates    []UpdateCall
}

var _ remote.Store = (*Store)(nil)

// New returns an empty, reachable store.
func New() *Store {
	return &Store{
		rows:       make(map[string]models.Message),
		clientKeys: make(map[string]string),
		subs:       make(map[string]map[*sub]struct{}),
	}
}

// SetDown makes every call fail with a transient error while down is true.
func (s *Store) SetDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

// FailNext queues errors returned, one per call, by the next Insert or
// Update calls.
func (s *Store) FailNext(errs ...error) {
	s.mu.Lock()
	s.failures = append(s.failures, errs...)
	s.mu.Unlock()
}

// SetDelay makes Insert and Update wait d before answering.
func (s *Store) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Inserts returns the accepted inserts in arrival order, retries collapsed.
func (s *Store) Inserts() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.inserts...)
}

// Updates returns the accepted updates in arrival order.
func (s *Store) Updates() []UpdateCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]UpdateCall(nil), s.updates...)
}

// Get returns the remote copy of a message.
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	return m, ok
}

// Subscribers returns the number of open feeds of a conversation.
func (s *Store) Subscribers(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[conversationID])
}

func (s *Store) enter(ctx context.Context, op string) error {
	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return syncerr.Transient(op, ctx.Err())
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return syncerr.Transient(op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return syncerr.Transient(op, errDown)
	}
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		if !syncerr.IsRemote(err) {
			err = syncerr.Transient(op, err)
		}
		return err
	}
	return nil
}

// Insert assigns srv-<n> ids. A repeated client key returns the id of the
// first insert and publishes nothing.
func (s *Store) Insert(ctx context.Context, req remote.InsertRequest) (string, error) {
	const op = "memremote.insert"
	if err := s.enter(ctx, op); err != nil {
		return "", err
	}
	if req.ConversationID == "" {
		return "", syncerr.Rejected(op, errors.New("conversation id is required"))
	}
	s.mu.Lock()
	if req.ClientKey != "" {
		if id, ok := s.clientKeys[req.ClientKey]; ok {
			s.mu.Unlock()
			return id, nil
		}
	}
	s.seq++
	m := models.Message{
		ID:             "srv-" + strconv.Itoa(s.seq),
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Text:           req.Text,
		Origin:         req.Origin,
		ClientKey:      req.ClientKey,
		CreatedAt:      req.CreatedAt.UTC(),
		UpdatedAt:      req.CreatedAt.UTC(),
		Synced:         true,
	}
	s.rows[m.ID] = m
	if req.ClientKey != "" {
		s.clientKeys[req.ClientKey] = m.ID
	}
	s.inserts = append(s.inserts, m)
	targets := s.targets(m.ConversationID)
	s.mu.Unlock()

	deliver(targets, remote.Change{Type: remote.ChangeInsert, Message: m})
	return m.ID, nil
}

// Update applies f last-write-wins on UpdatedAt and publishes the result.
func (s *Store) Update(ctx context.Context, id string, f remote.Fields) error {
	const op = "memremote.update"
	if err := s.enter(ctx, op); err != nil {
		return err
	}
	s.mu.Lock()
	m, ok := s.rows[id]
	if !ok {
		s.mu.Unlock()
		return syncerr.Rejected(op, errors.Newf("message %s not found", id))
	}
	s.updates = append(s.updates, UpdateCall{ID: id, Fields: f})
	if f.UpdatedAt.Before(m.UpdatedAt) {
		s.mu.Unlock()
		return nil
	}
	wasDeleted := m.Deleted()
	if f.Text != nil {
		m.Text = *f.Text
	}
	at := f.UpdatedAt.UTC()
	if f.Deleted != nil {
		switch {
		case *f.Deleted && m.DeletedAt == nil:
			m.DeletedAt = &at
		case !*f.Deleted && m.DeletedAt != nil:
			m.DeletedAt = nil
			m.RestoredAt = &at
		}
	}
	m.UpdatedAt = at
	s.rows[id] = m
	targets := s.targets(m.ConversationID)
	s.mu.Unlock()

	kind := remote.ChangeUpdate
	if m.Deleted() && !wasDeleted {
		kind = remote.ChangeDelete
	}
	deliver(targets, remote.Change{Type: kind, Message: m})
	return nil
}

// Subscribe opens a feed. Replayed inserts are delivered before it returns.
func (s *Store) Subscribe(ctx context.Context, conversationID string, since time.Time, h remote.Handlers) (remote.Subscription, error) {
	const op = "memremote.subscribe"
	if err := ctx.Err(); err != nil {
		return nil, syncerr.Transient(op, err)
	}
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return nil, syncerr.Transient(op, errDown)
	}
	sb := &sub{h: h}
	sb.feed = remote.NewFeed(func() {
		s.mu.Lock()
		delete(s.subs[conversationID], sb)
		if len(s.subs[conversationID]) == 0 {
			delete(s.subs, conversationID)
		}
		s.mu.Unlock()
	})
	if s.subs[conversationID] == nil {
		s.subs[conversationID] = make(map[*sub]struct{})
	}
	s.subs[conversationID][sb] = struct{}{}
	var replay []models.Message
	if !since.IsZero() {
		for _, m := range s.rows {
			if m.ConversationID == conversationID && m.CreatedAt.After(since) {
				replay = append(replay, m)
			}
		}
	}
	s.mu.Unlock()

	sort.Slice(replay, func(i, j int) bool { return replay[i].CreatedAt.Before(replay[j].CreatedAt) })
	for _, m := range replay {
		deliver([]*sub{sb}, remote.Change{Type: remote.ChangeInsert, Message: m})
	}
	return sb.feed, nil
}

// Ping fails while the store is down.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return syncerr.Transient("memremote.ping", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return syncerr.Transient("memremote.ping", errDown)
	}
	return nil
}

// InsertExternal stores a message written by another participant and
// publishes it.
func (s *Store) InsertExternal(m models.Message) models.Message {
	s.mu.Lock()
	s.seq++
	m.ID = "srv-" + strconv.Itoa(s.seq)
	m.Synced = true
	m.CreatedAt = m.CreatedAt.UTC()
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	s.rows[m.ID] = m
	targets := s.targets(m.ConversationID)
	s.mu.Unlock()
	deliver(targets, remote.Change{Type: remote.ChangeInsert, Message: m})
	return m
}

// Publish delivers c to the open feeds of its conversation as is.
func (s *Store) Publish(c remote.Change) {
	s.mu.Lock()
	targets := s.targets(c.Message.ConversationID)
	s.mu.Unlock()
	deliver(targets, c)
}

// Drop ends every feed of a conversation with a subscription error.
func (s *Store) Drop(conversationID string) {
	s.mu.Lock()
	targets := s.targets(conversationID)
	s.mu.Unlock()
	for _, sb := range targets {
		sb.feed.Finish(syncerr.Subscription("memremote.feed", errors.New("channel dropped")))
	}
}

func (s *Store) targets(conversationID string) []*sub {
	out := make([]*sub, 0, len(s.subs[conversationID]))
	for sb := range s.subs[conversationID] {
		out = append(out, sb)
	}
	return out
}

func deliver(targets []*sub, c remote.Change) {
	for _, sb := range targets {
		if sb.feed.Closed() {
			continue
		}
		sb.h.Dispatch(c)
	}
}
