package models

// EventKind distinguishes appending a bubble from mutating one.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventUpdated  EventKind = "updated"
	EventDeleted  EventKind = "deleted"
	EventRestored EventKind = "restored"
	// EventRewritten reports that a local id was replaced by the remote id.
	// PreviousID carries the old id.
	EventRewritten EventKind = "rewritten"
)

// Event is what the message bus delivers to subscribers.
type Event struct {
	Kind           EventKind `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	Message        Message   `json:"message"`
	PreviousID     string    `json:"previous_id,omitempty"`
}
