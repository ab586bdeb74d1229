// Package session holds the per-conversation state a UI screen works with:
// the ordered message list, kept current from the bus, plus the send and
// mutation calls for that conversation.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/bus"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("session closed")

// History loads the stored messages of a conversation and records reads.
type History interface {
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error
}

// Bus is the message bus registration used by a session.
type Bus interface {
	OnMessage(conversationID string, fn bus.Handler) func()
}

// Subscriber opens the remote feed of a conversation.
type Subscriber interface {
	Subscribe(conversationID string) (func(), error)
}

// Writer performs the local-first writes. The engine implements it.
type Writer interface {
	AppendOutgoing(ctx context.Context, conversationID, senderID, text string) (models.Message, error)
	EditMessage(ctx context.Context, id, text string) (models.Message, bool, error)
	SoftDelete(ctx context.Context, id string) (models.Message, bool, error)
	Restore(ctx context.Context, id string) (models.Message, bool, error)
}

// Deps are the collaborators of a session. Listener may be nil, in which
// case the session only sees local and already-subscribed changes.
type Deps struct {
	History  History
	Bus      Bus
	Listener Subscriber
	Writer   Writer
	Now      func() time.Time
}

// Options tunes Open.
type Options struct {
	// HistoryLimit bounds the initial load; zero loads everything.
	HistoryLimit int
}

// Session is one open conversation.
type Session struct {
	conversationID string
	userID         string
	writer         Writer

	mu        sync.Mutex
	messages  []models.Message
	index     map[string]int
	retired   map[string]struct{}
	observers map[uint64]func(models.Event)
	nextObs   uint64
	closed    bool

	offBus    func()
	offRemote func()
	closeOnce sync.Once
}

// Open loads the history of conversationID, registers on the bus, opens the
// remote feed and marks the conversation read for userID. The caller must
// Close the session.
func Open(ctx context.Context, deps Deps, conversationID, userID string, opts Options) (*Session, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	if deps.History == nil || deps.Bus == nil || deps.Writer == nil {
		return nil, errors.New("session: history, bus and writer are required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	s := &Session{
		conversationID: conversationID,
		userID:         userID,
		writer:         deps.Writer,
		index:          make(map[string]int),
		retired:        make(map[string]struct{}),
		observers:      make(map[uint64]func(models.Event)),
	}

	// registered before the history load so nothing falls between the two;
	// the id dedup absorbs the overlap
	s.offBus = deps.Bus.OnMessage(conversationID, s.apply)

	history, err := deps.History.ListByConversation(ctx, conversationID, opts.HistoryLimit)
	if err != nil {
		s.offBus()
		return nil, errors.Wrapf(err, "load history of %s", conversationID)
	}
	s.mu.Lock()
	for _, m := range history {
		s.upsertLocked(m)
	}
	s.mu.Unlock()

	if deps.Listener != nil {
		off, err := deps.Listener.Subscribe(conversationID)
		if err != nil {
			s.offBus()
			return nil, errors.Wrapf(err, "subscribe to %s", conversationID)
		}
		s.offRemote = off
	}

	if userID != "" {
		if err := deps.History.MarkRead(ctx, conversationID, userID, now()); err != nil {
			// read markers belong to another screen; a failure must not block the chat
			logger.Warn("session_mark_read_failed", "conversation", conversationID, "user", userID, "error", err)
		}
	}
	logger.Info("session_opened", "conversation", conversationID, "user", userID, "messages", len(history))
	return s, nil
}

// ConversationID returns the conversation this session shows.
func (s *Session) ConversationID() string { return s.conversationID }

// Close releases the bus registration and the remote feed. Only the first
// call has an effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.observers = make(map[uint64]func(models.Event))
		s.mu.Unlock()
		if s.offBus != nil {
			s.offBus()
		}
		if s.offRemote != nil {
			s.offRemote()
		}
		logger.Info("session_closed", "conversation", s.conversationID)
	})
}

// Messages returns a copy of the current list in conversation order.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// OnChange registers fn for every event applied to the list. It runs after
// the list was updated, so Messages already reflects the event.
func (s *Session) OnChange(fn func(models.Event)) func() {
	s.mu.Lock()
	s.nextObs++
	id := s.nextObs
	if !s.closed {
		s.observers[id] = fn
	}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Send writes text as the session user. The message is in the list when Send
// returns, before any network round trip.
func (s *Session) Send(ctx context.Context, text string) (models.Message, error) {
	if s.isClosed() {
		return models.Message{}, ErrClosed
	}
	m, err := s.writer.AppendOutgoing(ctx, s.conversationID, s.userID, text)
	if err != nil {
		return models.Message{}, err
	}
	// normally already applied through the bus
	s.apply(models.Event{Kind: models.EventCreated, ConversationID: s.conversationID, Message: m})
	return m, nil
}

// Edit replaces the text of a message of this conversation.
func (s *Session) Edit(ctx context.Context, id, text string) (models.Message, bool, error) {
	if s.isClosed() {
		return models.Message{}, false, ErrClosed
	}
	return s.writer.EditMessage(ctx, id, text)
}

// Delete soft deletes a message.
func (s *Session) Delete(ctx context.Context, id string) (models.Message, bool, error) {
	if s.isClosed() {
		return models.Message{}, false, ErrClosed
	}
	return s.writer.SoftDelete(ctx, id)
}

// Restore reverts a soft delete.
func (s *Session) Restore(ctx context.Context, id string) (models.Message, bool, error) {
	if s.isClosed() {
		return models.Message{}, false, ErrClosed
	}
	return s.writer.Restore(ctx, id)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// apply folds one bus event into the list and notifies observers.
func (s *Session) apply(ev models.Event) {
	if ev.ConversationID != "" && ev.ConversationID != s.conversationID {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var changed bool
	if _, gone := s.retired[ev.Message.ID]; gone {
		// a late event for a local id that was already replaced
		s.mu.Unlock()
		return
	}
	switch ev.Kind {
	case models.EventCreated:
		// never a second copy of an id the list already shows
		if _, ok := s.index[ev.Message.ID]; !ok {
			changed = s.upsertLocked(ev.Message)
		}
	case models.EventRewritten:
		changed = s.rewriteLocked(ev.PreviousID, ev.Message)
	default:
		changed = s.upsertLocked(ev.Message)
	}
	var observers []func(models.Event)
	if changed {
		observers = make([]func(models.Event), 0, len(s.observers))
		for _, fn := range s.observers {
			observers = append(observers, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(ev)
	}
}

// upsertLocked replaces the entry with m's id, or inserts m at its ordered
// position.
func (s *Session) upsertLocked(m models.Message) bool {
	if i, ok := s.index[m.ID]; ok {
		s.messages[i] = m.Clone()
		return true
	}
	pos := sort.Search(len(s.messages), func(i int) bool { return before(m, s.messages[i]) })
	s.messages = append(s.messages, models.Message{})
	copy(s.messages[pos+1:], s.messages[pos:])
	s.messages[pos] = m.Clone()
	s.reindexLocked(pos)
	return true
}

// rewriteLocked moves the entry of previousID to m.ID in place. If the list
// already shows m.ID the old entry is dropped.
func (s *Session) rewriteLocked(previousID string, m models.Message) bool {
	if previousID != "" && previousID != m.ID {
		s.retired[previousID] = struct{}{}
	}
	old, hasOld := s.index[previousID]
	if !hasOld {
		return s.upsertLocked(m)
	}
	if cur, ok := s.index[m.ID]; ok && cur != old {
		s.messages[cur] = m.Clone()
		s.messages = append(s.messages[:old], s.messages[old+1:]...)
		delete(s.index, previousID)
		s.reindexLocked(old)
		return true
	}
	delete(s.index, previousID)
	s.messages[old] = m.Clone()
	s.index[m.ID] = old
	return true
}

func (s *Session) reindexLocked(from int) {
	for i := from; i < len(s.messages); i++ {
		s.index[s.messages[i].ID] = i
	}
}

// before orders by creation time, then store sequence.
func before(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}
