package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	m := Message{ID: "user-1-abc", Text: "hi", CreatedAt: t0, UpdatedAt: t0}
	assert.Equal(t, StatePending, m.State())

	// edits before the insert are carried by the insert, not flagged dirty
	assert.True(t, m.Edit("hello", t0.Add(time.Second)))
	assert.False(t, m.Dirty)

	require.NoError(t, m.Acknowledge("srv-1"))
	assert.Equal(t, "srv-1", m.ID)
	assert.Equal(t, StateSynced, m.State())
	assert.ErrorIs(t, m.Acknowledge("srv-2"), ErrIllegalTransition)

	assert.True(t, m.SoftDelete(t0.Add(2*time.Second)))
	assert.False(t, m.SoftDelete(t0.Add(3*time.Second)))
	assert.Equal(t, StateDeleted, m.State())
	assert.True(t, m.Dirty)
	assert.Equal(t, "hello", m.Text)

	assert.True(t, m.Restore(t0.Add(4*time.Second)))
	assert.Equal(t, StateRestored, m.State())
	assert.Nil(t, m.DeletedAt)
	assert.Equal(t, "hello", m.Text)
	assert.Equal(t, t0.Add(4*time.Second), m.UpdatedAt)
}

func TestAcknowledgeRejectsEmptyID(t *testing.T) {
	m := Message{ID: "user-1-abc"}
	assert.ErrorIs(t, m.Acknowledge(""), ErrIllegalTransition)
	assert.Equal(t, StatePending, m.State())
}

func TestApplyRemoteLastWriteWins(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	m := Message{ID: "srv-42", Text: "new text", Synced: true, Dirty: true, UpdatedAt: t0.Add(time.Minute)}

	old := "old text"
	assert.False(t, m.ApplyRemote(Mutation{Text: &old, At: t0}))
	assert.Equal(t, "new text", m.Text)
	assert.True(t, m.Dirty)

	echo := "new text"
	later := t0.Add(2 * time.Minute)
	assert.True(t, m.ApplyRemote(Mutation{Text: &echo, At: later}))
	assert.Equal(t, "new text", m.Text)
	assert.Equal(t, later, m.UpdatedAt)
	assert.False(t, m.Dirty)

	del := true
	assert.True(t, m.ApplyRemote(Mutation{Deleted: &del, At: later.Add(time.Second)}))
	assert.Equal(t, StateDeleted, m.State())
	undel := false
	assert.True(t, m.ApplyRemote(Mutation{Deleted: &undel, At: later.Add(2 * time.Second)}))
	assert.Equal(t, StateRestored, m.State())
}

func TestCloneDoesNotShareTimestamps(t *testing.T) {
	now := time.Now().UTC()
	m := Message{DeletedAt: &now}
	c := m.Clone()
	*c.DeletedAt = now.Add(time.Hour)
	assert.Equal(t, now, *m.DeletedAt)
}
