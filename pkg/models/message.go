package models

import (
	"errors"
	"time"
)

// ErrIllegalTransition is returned when a state change is not allowed from
// the message's current state.
var ErrIllegalTransition = errors.New("illegal message state transition")

// Origin tells who produced a message; it is the first segment of a local id.
type Origin string

const (
	OriginUser   Origin = "user"
	OriginSystem Origin = "system"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	return o == OriginUser || o == OriginSystem
}

// Message is one chat utterance as stored on the device.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Text           string `json:"text"`
	Origin         Origin `json:"origin,omitempty"`
	// ClientKey is generated once on the device and sent with the remote
	// insert, so the remote echo can be matched to the local row.
	ClientKey  string     `json:"client_key,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	RestoredAt *time.Time `json:"restored_at,omitempty"`
	Synced     bool       `json:"synced"`
	// Dirty is set when a synced message was edited, deleted or restored
	// locally and the change has not reached the remote yet.
	Dirty bool `json:"dirty,omitempty"`
	// Seq is assigned by the store and breaks CreatedAt ties in append order.
	Seq uint64 `json:"seq,omitempty"`
}

// State is the lifecycle tag of a message.
type State uint8

const (
	// StatePending: accepted locally, no remote identity yet.
	StatePending State = iota
	// StateSynced: the remote holds the message under its current id.
	StateSynced
	// StateDeleted: synced and soft deleted.
	StateDeleted
	// StateRestored: synced, was soft deleted, then restored.
	StateRestored
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSynced:
		return "synced"
	case StateDeleted:
		return "deleted"
	case StateRestored:
		return "restored"
	default:
		return "unknown"
	}
}

// State derives the lifecycle tag from the stored fields.
func (m Message) State() State {
	switch {
	case !m.Synced:
		return StatePending
	case m.DeletedAt != nil:
		return StateDeleted
	case m.RestoredAt != nil:
		return StateRestored
	default:
		return StateSynced
	}
}

// Deleted reports whether the message is currently soft deleted.
func (m Message) Deleted() bool { return m.DeletedAt != nil }

// NeedsPush reports whether the outbox still has work for this message.
func (m Message) NeedsPush() bool { return !m.Synced || m.Dirty }

// Clone returns a copy that shares no pointers with m.
func (m Message) Clone() Message {
	c := m
	if m.DeletedAt != nil {
		d := *m.DeletedAt
		c.DeletedAt = &d
	}
	if m.RestoredAt != nil {
		r := *m.RestoredAt
		c.RestoredAt = &r
	}
	return c
}

// Acknowledge moves a pending message to its remote identity.
func (m *Message) Acknowledge(remoteID string) error {
	if remoteID == "" || m.Synced {
		return ErrIllegalTransition
	}
	m.ID = remoteID
	m.Synced = true
	return nil
}

// Edit replaces the text. Returns false when the text is unchanged.
func (m *Message) Edit(text string, at time.Time) bool {
	if m.Text == text {
		return false
	}
	m.Text = text
	m.touchLocal(at)
	return true
}

// SoftDelete marks the message deleted, keeping its text. Returns false if
// it was already deleted.
func (m *Message) SoftDelete(at time.Time) bool {
	if m.DeletedAt != nil {
		return false
	}
	d := at.UTC()
	m.DeletedAt = &d
	m.touchLocal(at)
	return true
}

// Restore clears a soft delete. Returns false if the message was not
// deleted.
func (m *Message) Restore(at time.Time) bool {
	if m.DeletedAt == nil {
		return false
	}
	m.DeletedAt = nil
	r := at.UTC()
	m.RestoredAt = &r
	m.touchLocal(at)
	return true
}

func (m *Message) touchLocal(at time.Time) {
	m.touch(at)
	// a pending message carries its current content in the insert itself
	if m.Synced {
		m.Dirty = true
	}
}

func (m *Message) touch(at time.Time) {
	at = at.UTC()
	if at.After(m.UpdatedAt) {
		m.UpdatedAt = at
	}
}

// Mutation is an edit, delete or restore addressed by id. Nil fields are
// left untouched.
type Mutation struct {
	ID      string
	Text    *string
	Deleted *bool
	At      time.Time
}

// ApplyRemote folds a change that already exists remotely into m using
// last-write-wins on UpdatedAt. A change older than the local row is
// ignored. Returns whether any field changed.
func (m *Message) ApplyRemote(mut Mutation) bool {
	if mut.At.Before(m.UpdatedAt) {
		return false
	}
	changed := false
	if mut.Text != nil && *mut.Text != m.Text {
		m.Text = *mut.Text
		changed = true
	}
	if mut.Deleted != nil {
		at := mut.At.UTC()
		switch {
		case *mut.Deleted && m.DeletedAt == nil:
			m.DeletedAt = &at
			changed = true
		case !*mut.Deleted && m.DeletedAt != nil:
			m.DeletedAt = nil
			m.RestoredAt = &at
			changed = true
		}
	}
	if mut.At.After(m.UpdatedAt) {
		m.UpdatedAt = mut.At.UTC()
		changed = true
	}
	// the remote now holds something at least as new as our pending change
	m.Dirty = false
	return changed
}

// ReadMarker records how far a user has read a conversation.
type ReadMarker struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}
