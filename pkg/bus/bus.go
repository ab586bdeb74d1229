// Package bus is the in-process Message Bus: a per-conversation fan-out of
// message events to UI observers. It holds no messages; a handler registered
// after an emit never sees that event.
package bus

import (
	"sync"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
)

// Handler receives events for one conversation.
type Handler func(models.Event)

type entry struct {
	id uint64
	fn Handler
}

// Bus fans events out to the handlers of a conversation.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string][]entry
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]entry)}
}

// OnMessage registers fn for conversationID. The returned function removes
// exactly this registration and is safe to call more than once.
func (b *Bus) OnMessage(conversationID string, fn Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[conversationID] = append(b.handlers[conversationID], entry{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(conversationID, id) })
	}
}

func (b *Bus) remove(conversationID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[conversationID]
	for i, e := range list {
		if e.id != id {
			continue
		}
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, conversationID)
		} else {
			b.handlers[conversationID] = next
		}
		return
	}
}

// Subscribers returns the number of handlers registered for a conversation.
func (b *Bus) Subscribers(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[conversationID])
}

// Emit delivers ev synchronously to every handler registered for its
// conversation at the time of the call. A panicking handler is logged and
// does not stop delivery to the others.
func (b *Bus) Emit(ev models.Event) {
	b.mu.RLock()
	list := b.handlers[ev.ConversationID]
	b.mu.RUnlock()
	// list is never mutated in place, so it is safe to range without the lock
	for _, e := range list {
		deliver(e.fn, ev)
	}
}

func deliver(fn Handler, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("bus_handler_panic", "conversation", ev.ConversationID, "kind", string(ev.Kind), "panic", r)
		}
	}()
	fn(ev)
}

func (b *Bus) EmitCreated(m models.Message) {
	b.Emit(models.Event{Kind: models.EventCreated, ConversationID: m.ConversationID, Message: m})
}

func (b *Bus) EmitUpdated(m models.Message) {
	b.Emit(models.Event{Kind: models.EventUpdated, ConversationID: m.ConversationID, Message: m})
}

func (b *Bus) EmitDeleted(m models.Message) {
	b.Emit(models.Event{Kind: models.EventDeleted, ConversationID: m.ConversationID, Message: m})
}

func (b *Bus) EmitRestored(m models.Message) {
	b.Emit(models.Event{Kind: models.EventRestored, ConversationID: m.ConversationID, Message: m})
}

// EmitRewritten announces that the message formerly known as previousID is
// now stored as m.ID.
func (b *Bus) EmitRewritten(previousID string, m models.Message) {
	b.Emit(models.Event{Kind: models.EventRewritten, ConversationID: m.ConversationID, Message: m, PreviousID: previousID})
}
