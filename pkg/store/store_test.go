package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func localMsg(id, conv string, at time.Time, text string) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       "patient-1",
		Text:           text,
		Origin:         models.OriginUser,
		ClientKey:      "ck-" + id,
		CreatedAt:      at,
	}
}

func ids(ms []models.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestAppendAndListOrder(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	// same timestamp for the first two: append order must break the tie
	_, err := s.Append(ctx, localMsg("user-1-aaaaaa", "conv-1", t0, "first"))
	require.NoError(t, err)
	_, err = s.Append(ctx, localMsg("user-1-bbbbbb", "conv-1", t0, "second"))
	require.NoError(t, err)
	_, err = s.Append(ctx, localMsg("user-0-cccccc", "conv-1", t0.Add(-time.Second), "earlier"))
	require.NoError(t, err)
	_, err = s.Append(ctx, localMsg("user-2-dddddd", "conv-2", t0, "other conversation"))
	require.NoError(t, err)

	got, err := s.ListByConversation(ctx, "conv-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-0-cccccc", "user-1-aaaaaa", "user-1-bbbbbb"}, ids(got))
	for _, m := range got {
		assert.False(t, m.Synced)
		assert.Equal(t, models.StatePending, m.State())
	}

	limited, err := s.ListByConversation(ctx, "conv-1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	page, err := s.ListPage(ctx, "conv-1", 5, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1-aaaaaa", "user-1-bbbbbb"}, ids(page))
}

func TestAppendRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	m := localMsg("user-1-aaaaaa", "conv-1", t0, "hi")
	_, err := s.Append(ctx, m)
	require.NoError(t, err)
	_, err = s.Append(ctx, m)
	require.ErrorIs(t, err, ErrDuplicateID)
	assert.True(t, syncerr.IsStorage(err))
}

func TestAppendAfterCloseIsStorageError(t *testing.T) {
	s, err := Open(Options{Path: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = s.Append(context.Background(), localMsg("user-1-aaaaaa", "conv-1", t0, "hi"))
	require.Error(t, err)
	assert.True(t, syncerr.IsStorage(err))
	assert.False(t, s.Ready())
}

func TestListUnsyncedAcrossConversations(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.Append(ctx, localMsg("user-3-aaaaaa", "conv-b", t0.Add(3*time.Second), "c"))
	require.NoError(t, err)
	_, err = s.Append(ctx, localMsg("user-1-bbbbbb", "conv-a", t0.Add(time.Second), "a"))
	require.NoError(t, err)
	_, err = s.UpsertFromRemote(ctx, models.Message{ID: "srv-9", ConversationID: "conv-a", Text: "remote", CreatedAt: t0})
	require.NoError(t, err)

	got, err := s.ListUnsynced(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1-bbbbbb", "user-3-aaaaaa"}, ids(got))
}

// P5 and Scenario A at the store level.
func TestRewriteIdentityIsAtomicReplace(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	orig, err := s.Append(ctx, localMsg("local-1000-ab12cd", "conv-1", t0, "take pills at 8"))
	require.NoError(t, err)

	res, err := s.RewriteIdentity(ctx, "local-1000-ab12cd", "srv-42")
	require.NoError(t, err)
	require.True(t, res.Found)

	_, err = s.Get(ctx, "local-1000-ab12cd")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.Get(ctx, "srv-42")
	require.NoError(t, err)
	assert.True(t, got.Synced)
	assert.Equal(t, orig.Text, got.Text)
	assert.True(t, orig.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, orig.Seq, got.Seq)

	list, err := s.ListByConversation(ctx, "conv-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"srv-42"}, ids(list))

	outbox, err := s.ListOutbox(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, outbox)
}

func TestRewriteIdentityMissingIsNoop(t *testing.T) {
	s := openTestStore(t)
	res, err := s.RewriteIdentity(context.Background(), "user-1-ffffff", "srv-1")
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestRewriteIdentityWhenEchoArrivedFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.Append(ctx, models.Message{ID: "user-1-aaaaaa", ConversationID: "conv-1", Text: "hi", CreatedAt: t0})
	require.NoError(t, err)
	_, err = s.UpsertFromRemote(ctx, models.Message{ID: "srv-1", ConversationID: "conv-1", Text: "hi", CreatedAt: t0})
	require.NoError(t, err)

	res, err := s.RewriteIdentity(ctx, "user-1-aaaaaa", "srv-1")
	require.NoError(t, err)
	assert.True(t, res.Merged)

	list, err := s.ListByConversation(ctx, "conv-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"srv-1"}, ids(list))
}

func TestAcknowledgeInsertKeepsInFlightEdit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	sent, err := s.Append(ctx, localMsg("user-1-aaaaaa", "conv-1", t0, "draft"))
	require.NoError(t, err)
	_, err = s.SetText(ctx, sent.ID, "final")
	require.NoError(t, err)

	res, err := s.AcknowledgeInsert(ctx, sent, "srv-7")
	require.NoError(t, err)
	assert.True(t, res.Message.Dirty)
	assert.Equal(t, "final", res.Message.Text)

	outbox, err := s.ListOutbox(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"srv-7"}, ids(outbox))
}

// P3 and Scenario C.
func TestUpsertFromRemoteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	in := models.Message{ID: "srv-42", ConversationID: "conv-1", SenderID: "nurse-1", Text: "how are you feeling?", CreatedAt: t0}

	first, err := s.UpsertFromRemote(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, Inserted, first.Outcome)
	assert.True(t, first.Message.Synced)

	second, err := s.UpsertFromRemote(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, second.Outcome)

	list, err := s.ListByConversation(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "how are you feeling?", list[0].Text)
	assert.True(t, list[0].Synced)
}

func TestUpsertFromRemoteReassignsByClientKey(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	local, err := s.Append(ctx, localMsg("user-1-aaaaaa", "conv-1", t0, "hello"))
	require.NoError(t, err)

	echo := models.Message{ID: "srv-5", ConversationID: "conv-1", SenderID: "patient-1", Text: "hello", ClientKey: local.ClientKey, CreatedAt: t0}
	res, err := s.UpsertFromRemote(ctx, echo)
	require.NoError(t, err)
	assert.Equal(t, Reassigned, res.Outcome)
	assert.Equal(t, "user-1-aaaaaa", res.PreviousID)

	list, err := s.ListByConversation(ctx, "conv-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"srv-5"}, ids(list))

	unsynced, err := s.ListUnsynced(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, unsynced)

	// the outbox's own rewrite, arriving late, is a no-op
	rw, err := s.RewriteIdentity(ctx, "user-1-aaaaaa", "srv-5")
	require.NoError(t, err)
	assert.False(t, rw.Found)
}

func TestUpsertFromRemoteDoesNotRegressNewerEdit(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.SetClock(func() time.Time { return t0.Add(time.Hour) })
	_, err := s.UpsertFromRemote(ctx, models.Message{ID: "srv-42", ConversationID: "conv-1", Text: "old text", CreatedAt: t0})
	require.NoError(t, err)
	_, err = s.SetText(ctx, "srv-42", "new text")
	require.NoError(t, err)

	res, err := s.UpsertFromRemote(ctx, models.Message{ID: "srv-42", ConversationID: "conv-1", Text: "old text", CreatedAt: t0})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res.Outcome)
	got, err := s.Get(ctx, "srv-42")
	require.NoError(t, err)
	assert.Equal(t, "new text", got.Text)
}

// P4.
func TestSoftDeleteIsReversible(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.UpsertFromRemote(ctx, models.Message{ID: "srv-1", ConversationID: "conv-1", Text: "keep me", CreatedAt: t0})
	require.NoError(t, err)

	del, err := s.SetDeleted(ctx, "srv-1", true)
	require.NoError(t, err)
	require.True(t, del.Changed)
	assert.NotNil(t, del.Message.DeletedAt)
	assert.Equal(t, "keep me", del.Message.Text)
	assert.True(t, del.Message.Dirty)

	res, err := s.SetDeleted(ctx, "srv-1", false)
	require.NoError(t, err)
	assert.True(t, res.WasDeleted)
	got, err := s.Get(ctx, "srv-1")
	require.NoError(t, err)
	assert.Nil(t, got.DeletedAt)
	assert.Equal(t, "keep me", got.Text)
	assert.Equal(t, models.StateRestored, got.State())
}

func TestMutationsOnMissingIDAreNoops(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	res, err := s.SetText(ctx, "srv-404", "x")
	require.NoError(t, err)
	assert.False(t, res.Found)
	res, err = s.SetDeleted(ctx, "srv-404", true)
	require.NoError(t, err)
	assert.False(t, res.Found)
}

// Scenario D at the store level.
func TestEditThenRemoteEchoKeepsLaterWrite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	editAt := t0.Add(10 * time.Minute)
	s.SetClock(func() time.Time { return editAt })
	_, err := s.UpsertFromRemote(ctx, models.Message{ID: "srv-42", ConversationID: "conv-1", Text: "old", CreatedAt: t0})
	require.NoError(t, err)
	edited, err := s.SetText(ctx, "srv-42", "new text")
	require.NoError(t, err)
	require.True(t, edited.Message.Dirty)

	text := "new text"
	echoAt := editAt.Add(2 * time.Second)
	res, err := s.ApplyRemote(ctx, models.Mutation{ID: "srv-42", Text: &text, At: echoAt})
	require.NoError(t, err)
	assert.True(t, res.Found)

	list, err := s.ListByConversation(ctx, "conv-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new text", list[0].Text)
	assert.True(t, echoAt.Equal(list[0].UpdatedAt))
	assert.False(t, list[0].Dirty)
}

func TestMarkPushedIgnoresStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	clock := t0
	s.SetClock(func() time.Time { clock = clock.Add(time.Second); return clock })
	_, err := s.UpsertFromRemote(ctx, models.Message{ID: "srv-1", ConversationID: "conv-1", Text: "a", CreatedAt: t0})
	require.NoError(t, err)
	first, err := s.SetText(ctx, "srv-1", "b")
	require.NoError(t, err)
	_, err = s.SetText(ctx, "srv-1", "c")
	require.NoError(t, err)

	res, err := s.MarkPushed(ctx, first.Message)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	got, err := s.Get(ctx, "srv-1")
	require.NoError(t, err)
	assert.True(t, got.Dirty)
}

// P1 over a mixed sequence of operations.
func TestNoDuplicateIDs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("user-%d-%06x", 1000+i, i)
		_, err := s.Append(ctx, localMsg(id, "conv-1", t0.Add(time.Duration(i)*time.Second), "m"))
		require.NoError(t, err)
		switch i % 3 {
		case 0:
			_, err = s.RewriteIdentity(ctx, id, fmt.Sprintf("srv-%d", i))
		case 1:
			_, err = s.UpsertFromRemote(ctx, models.Message{ID: fmt.Sprintf("srv-%d", i), ConversationID: "conv-1", Text: "m", ClientKey: "ck-" + id, CreatedAt: t0.Add(time.Duration(i) * time.Second)})
		}
		require.NoError(t, err)
		_, err = s.UpsertFromRemote(ctx, models.Message{ID: fmt.Sprintf("srv-%d", i), ConversationID: "conv-1", Text: "m", CreatedAt: t0.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}
	list, err := s.ListByConversation(ctx, "conv-1", 0)
	require.NoError(t, err)
	seen := make(map[string]struct{})
	for _, m := range list {
		_, dup := seen[m.ID]
		require.False(t, dup, "duplicate id %s", m.ID)
		seen[m.ID] = struct{}{}
	}
	keys, err := s.ListKeys(ctx, "m:", 0)
	require.NoError(t, err)
	assert.Equal(t, len(list), len(keys))
}

func TestLatestCreatedAtSkipsPending(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	latest, err := s.LatestCreatedAt(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, latest.IsZero())

	_, err = s.UpsertFromRemote(ctx, models.Message{ID: "srv-1", ConversationID: "conv-1", Text: "a", CreatedAt: t0})
	require.NoError(t, err)
	_, err = s.Append(ctx, localMsg("user-1-aaaaaa", "conv-1", t0.Add(time.Minute), "b"))
	require.NoError(t, err)

	latest, err = s.LatestCreatedAt(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, t0.Equal(latest), "latest %s", latest)
}

func TestFeedWatermarkOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, ok, err := s.FeedWatermark(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AdvanceFeedWatermark(ctx, "conv-1", time.Time{}))
	at, ok, err := s.FeedWatermark(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.IsZero())

	require.NoError(t, s.AdvanceFeedWatermark(ctx, "conv-1", t0.Add(time.Hour)))
	require.NoError(t, s.AdvanceFeedWatermark(ctx, "conv-1", t0))
	at, _, err = s.FeedWatermark(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, t0.Add(time.Hour).Equal(at), "watermark %s", at)

	// acked local rows do not count
	_, err = s.Append(ctx, localMsg("user-1-aaaaaa", "conv-1", t0.Add(2*time.Hour), "a"))
	require.NoError(t, err)
	_, err = s.RewriteIdentity(ctx, "user-1-aaaaaa", "srv-2")
	require.NoError(t, err)
	at, _, err = s.FeedWatermark(ctx, "conv-1")
	require.NoError(t, err)
	assert.True(t, t0.Add(time.Hour).Equal(at))

	require.NoError(t, s.Reset(ctx))
	_, ok, err = s.FeedWatermark(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSequenceSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(Options{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	a, err := s.Append(ctx, localMsg("user-1-aaaaaa", "conv-1", t0, "a"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(Options{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	b, err := s.Append(ctx, localMsg("user-1-bbbbbb", "conv-1", t0, "b"))
	require.NoError(t, err)
	assert.Greater(t, b.Seq, a.Seq)

	list, err := s.ListByConversation(ctx, "conv-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1-aaaaaa", "user-1-bbbbbb"}, ids(list))
}

func TestStatsResetAndReadMarkers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.Append(ctx, localMsg("user-1-aaaaaa", "conv-1", t0, "a"))
	require.NoError(t, err)
	_, err = s.UpsertFromRemote(ctx, models.Message{ID: "srv-1", ConversationID: "conv-2", Text: "b", CreatedAt: t0})
	require.NoError(t, err)
	_, err = s.SetDeleted(ctx, "srv-1", true)
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StoreStats{Messages: 2, Pending: 1, Dirty: 1, Deleted: 1, Conversations: 2}, st)

	require.NoError(t, s.MarkRead(ctx, "conv-1", "patient-1", t0.Add(time.Hour)))
	require.NoError(t, s.MarkRead(ctx, "conv-1", "patient-1", t0))
	rm, ok, err := s.ReadMarker(ctx, "conv-1", "patient-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, t0.Add(time.Hour).Equal(rm.ReadAt))

	require.NoError(t, s.Reset(ctx))
	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StoreStats{}, st)
	_, ok, err = s.ReadMarker(ctx, "conv-1", "patient-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAcknowledgeDeletedPendingLeavesDeleteToPush(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	sent, err := s.Append(ctx, localMsg("user-1-aaaaaa", "conv-1", t0, "oops"))
	require.NoError(t, err)
	_, err = s.SetDeleted(ctx, sent.ID, true)
	require.NoError(t, err)

	res, err := s.AcknowledgeInsert(ctx, sent, "srv-3")
	require.NoError(t, err)
	assert.True(t, res.Message.Dirty)
	assert.Equal(t, models.StateDeleted, res.Message.State())
	assert.Equal(t, "oops", res.Message.Text)
}
