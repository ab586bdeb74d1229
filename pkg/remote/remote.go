// Package remote defines the contract of the authoritative remote message
// store. Adapters live in subpackages.
package remote

import (
	"context"
	"time"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
)

// InsertRequest is what the outbox pushes for a pending message. ClientKey
// lets the remote collapse a retried insert onto the first one.
type InsertRequest struct {
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Text           string        `json:"text"`
	Origin         models.Origin `json:"origin,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	ClientKey      string        `json:"client_key,omitempty"`
}

// InsertRequestFor builds the insert for a stored message.
func InsertRequestFor(m models.Message) InsertRequest {
	return InsertRequest{
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Text:           m.Text,
		Origin:         m.Origin,
		CreatedAt:      m.CreatedAt,
		ClientKey:      m.ClientKey,
	}
}

// Fields is a partial update. Nil pointers are left untouched remotely.
type Fields struct {
	Text      *string   `json:"text,omitempty"`
	Deleted   *bool     `json:"deleted,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FieldsFor builds the update that brings the remote copy in line with m.
func FieldsFor(m models.Message) Fields {
	text := m.Text
	deleted := m.Deleted()
	return Fields{Text: &text, Deleted: &deleted, UpdatedAt: m.UpdatedAt}
}

// ChangeKind names a feed event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is one event of a conversation feed.
type Change struct {
	Type    ChangeKind     `json:"type"`
	Message models.Message `json:"message"`
}

// Handlers receive feed events. Update covers edits and restores; Delete is
// a soft delete. Nil handlers drop their events.
type Handlers struct {
	OnInsert func(models.Message)
	OnUpdate func(models.Message)
	OnDelete func(models.Message)
}

// Dispatch routes c to the matching handler.
func (h Handlers) Dispatch(c Change) {
	var fn func(models.Message)
	switch c.Type {
	case ChangeInsert:
		fn = h.OnInsert
	case ChangeUpdate:
		fn = h.OnUpdate
	case ChangeDelete:
		fn = h.OnDelete
	}
	if fn != nil {
		fn(c.Message)
	}
}

// Subscription is a live feed. Done is closed when the feed ends, either by
// Close or because the channel dropped; Err is nil in the first case.
type Subscription interface {
	Done() <-chan struct{}
	Err() error
	Close()
}

// Store is the remote message store.
type Store interface {
	// Insert stores a new message and returns its remote id.
	Insert(ctx context.Context, req InsertRequest) (string, error)
	// Update applies a partial update to an existing message.
	Update(ctx context.Context, id string, f Fields) error
	// Subscribe opens the change feed of a conversation. When since is not
	// zero, inserts created after since are replayed first.
	Subscribe(ctx context.Context, conversationID string, since time.Time, h Handlers) (Subscription, error)
	// Ping checks reachability.
	Ping(ctx context.Context) error
}
