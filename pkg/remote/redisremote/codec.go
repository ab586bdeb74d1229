package redisremote

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
)

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func toHash(m models.Message) map[string]any {
	h := map[string]any{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"sender_id":       m.SenderID,
		"text":            m.Text,
		"origin":          string(m.Origin),
		"client_key":      m.ClientKey,
		"created_at":      formatTime(m.CreatedAt),
		"updated_at":      formatTime(m.UpdatedAt),
	}
	if m.DeletedAt != nil {
		h["deleted_at"] = formatTime(*m.DeletedAt)
	}
	if m.RestoredAt != nil {
		h["restored_at"] = formatTime(*m.RestoredAt)
	}
	return h
}

func fromHash(h map[string]string) (models.Message, error) {
	m := models.Message{
		ID:             h["id"],
		ConversationID: h["conversation_id"],
		SenderID:       h["sender_id"],
		Text:           h["text"],
		Origin:         models.Origin(h["origin"]),
		ClientKey:      h["client_key"],
		Synced:         true,
	}
	var err error
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, h["created_at"]); err != nil {
		return models.Message{}, errors.Wrapf(err, "message %s created_at", m.ID)
	}
	if m.UpdatedAt, err = time.Parse(time.RFC3339Nano, h["updated_at"]); err != nil {
		return models.Message{}, errors.Wrapf(err, "message %s updated_at", m.ID)
	}
	if v := h["deleted_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return models.Message{}, errors.Wrapf(err, "message %s deleted_at", m.ID)
		}
		m.DeletedAt = &t
	}
	if v := h["restored_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return models.Message{}, errors.Wrapf(err, "message %s restored_at", m.ID)
		}
		m.RestoredAt = &t
	}
	return m, nil
}
