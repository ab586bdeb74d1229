package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/bus"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/connectivity"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/remote"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/remote/memremote"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/store"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *store.Store
	remote *memremote.Store
	bus    *bus.Bus
	conn   *connectivity.Monitor
	driver *Driver
}

func newFixture(t *testing.T, online bool, opts Options) *fixture {
	t.Helper()
	st, err := store.Open(store.Options{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	f := &fixture{store: st, remote: memremote.New(), bus: bus.New(), conn: connectivity.New(online)}
	f.driver = New(st, f.remote, f.bus, f.conn, opts)
	return f
}

func (f *fixture) append(t *testing.T, id, conv string, at time.Time, text string) models.Message {
	t.Helper()
	m, err := f.store.Append(context.Background(), models.Message{
		ID: id, ConversationID: conv, SenderID: "patient-1", Text: text,
		Origin: models.OriginUser, ClientKey: "ck-" + id, CreatedAt: at,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) list(t *testing.T, conv string) []models.Message {
	t.Helper()
	ms, err := f.store.ListByConversation(context.Background(), conv, 0)
	require.NoError(t, err)
	return ms
}

func TestScenarioOfflineThenOnline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, Options{})
	f.append(t, "local-1000-ab12cd", "conv-1", t0, "took my pills")

	n, err := f.driver.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	rows := f.list(t, "conv-1")
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Synced)

	var rewritten []models.Event
	f.bus.OnMessage("conv-1", func(ev models.Event) { rewritten = append(rewritten, ev) })

	f.conn.Set(true)
	n, err = f.driver.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows = f.list(t, "conv-1")
	require.Len(t, rows, 1)
	assert.Equal(t, "srv-1", rows[0].ID)
	assert.True(t, rows[0].Synced)
	require.Len(t, rewritten, 1)
	assert.Equal(t, models.EventRewritten, rewritten[0].Kind)
	assert.Equal(t, "local-1000-ab12cd", rewritten[0].PreviousID)
}

func TestScenarioFirstPushFailsThenBothInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, Options{})
	f.append(t, "user-1-aaaaaa", "conv-1", t0, "first")
	f.append(t, "user-2-bbbbbb", "conv-1", t0.Add(time.Second), "second")

	f.remote.FailNext(errors.New("connection reset"))
	n, err := f.driver.Sync(ctx)
	assert.Zero(t, n)
	assert.True(t, syncerr.IsTransient(err))
	assert.Empty(t, f.remote.Inserts())
	for _, m := range f.list(t, "conv-1") {
		assert.False(t, m.Synced)
	}

	n, err = f.driver.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	inserts := f.remote.Inserts()
	require.Len(t, inserts, 2)
	assert.Equal(t, "first", inserts[0].Text)
	assert.Equal(t, "second", inserts[1].Text)
	rows := f.list(t, "conv-1")
	assert.Equal(t, []string{"srv-1", "srv-2"}, []string{rows[0].ID, rows[1].ID})
}

func TestHaltPreservesOrderAcrossFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, Options{})
	f.append(t, "user-1-aaaaaa", "conv-1", t0, "one")
	f.append(t, "user-2-bbbbbb", "conv-1", t0.Add(time.Second), "two")
	f.append(t, "user-3-cccccc", "conv-1", t0.Add(2*time.Second), "three")
	f.driver = New(f.store, &haltAfter{Store: f.remote, ok: 1}, f.bus, f.conn, Options{})

	n, err := f.driver.Sync(ctx)
	assert.Equal(t, 1, n)
	assert.True(t, syncerr.IsTransient(err))
	inserts := f.remote.Inserts()
	require.Len(t, inserts, 1)
	assert.Equal(t, "one", inserts[0].Text)
	outbox, err := f.store.ListOutbox(ctx, 0)
	require.NoError(t, err)
	require.Len(t, outbox, 2)
	assert.Equal(t, "user-2-bbbbbb", outbox[0].ID)
	assert.Equal(t, "user-3-cccccc", outbox[1].ID)
}

func TestRejectedWriteHaltsPass(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, Options{})
	f.append(t, "user-1-aaaaaa", "conv-1", t0, "bad")
	f.append(t, "user-2-bbbbbb", "conv-1", t0.Add(time.Second), "good")
	f.remote.FailNext(syncerr.Rejected("remote.insert", errors.New("validation failed")))

	n, err := f.driver.Sync(ctx)
	assert.Zero(t, n)
	assert.True(t, syncerr.IsRejected(err))
	assert.Empty(t, f.remote.Inserts())
	assert.Contains(t, f.driver.Status().LastError, "validation failed")
}

func TestDeletedBeforeInsertFollowsWithUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, Options{})
	f.append(t, "user-1-aaaaaa", "conv-1", t0, "wrong chat")
	_, err := f.store.SetDeleted(ctx, "user-1-aaaaaa", true)
	require.NoError(t, err)

	f.conn.Set(true)
	n, err := f.driver.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	remoteRow, ok := f.remote.Get("srv-1")
	require.True(t, ok)
	assert.NotNil(t, remoteRow.DeletedAt)
	assert.Equal(t, "wrong chat", remoteRow.Text)

	local, err := f.store.Get(ctx, "srv-1")
	require.NoError(t, err)
	assert.False(t, local.Dirty)
	assert.Equal(t, models.StateDeleted, local.State())
}

func TestDirtySyncedRowIsPushedAsUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, Options{})
	id, err := f.remote.Insert(ctx, remote.InsertRequest{ConversationID: "conv-1", Text: "old", CreatedAt: t0})
	require.NoError(t, err)
	_, err = f.store.UpsertFromRemote(ctx, models.Message{ID: id, ConversationID: "conv-1", Text: "old", CreatedAt: t0})
	require.NoError(t, err)
	_, err = f.store.SetText(ctx, id, "new text")
	require.NoError(t, err)

	n, err := f.driver.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	updates := f.remote.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, "new text", *updates[0].Fields.Text)

	local, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, local.Dirty)
	outbox, err := f.store.ListOutbox(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, outbox)
}

func TestPushTimeoutIsTransient(t *testing.T) {
	f := newFixture(t, true, Options{PushTimeout: 20 * time.Millisecond})
	f.append(t, "user-1-aaaaaa", "conv-1", t0, "slow")
	f.remote.SetDelay(500 * time.Millisecond)

	n, err := f.driver.Sync(context.Background())
	assert.Zero(t, n)
	assert.True(t, syncerr.IsTransient(err))
	rows := f.list(t, "conv-1")
	assert.False(t, rows[0].Synced)
}

func TestOverlappingSyncIsCoalesced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, Options{})
	f.append(t, "user-1-aaaaaa", "conv-1", t0, "hello")
	f.remote.SetDelay(100 * time.Millisecond)

	var wg sync.WaitGroup
	var first int
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, firstErr = f.driver.Sync(ctx)
	}()
	require.Eventually(t, func() bool { return f.driver.Status().Running }, time.Second, time.Millisecond)

	n, err := f.driver.Sync(ctx)
	assert.NoError(t, err)
	assert.Zero(t, n)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.Equal(t, 1, first)
	assert.Len(t, f.remote.Inserts(), 1)
}

func TestRunSyncsOnReconnectAndRetries(t *testing.T) {
	f := newFixture(t, false, Options{RetryBase: 10 * time.Millisecond, RetryMax: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.driver.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	f.append(t, "user-1-aaaaaa", "conv-1", t0, "queued offline")
	f.remote.FailNext(errors.New("flaky"), errors.New("flaky"))
	f.conn.Set(true)

	require.Eventually(t, func() bool {
		rows, err := f.store.ListOutbox(context.Background(), 0)
		return err == nil && len(rows) == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Len(t, f.remote.Inserts(), 1)
	assert.GreaterOrEqual(t, f.driver.Status().TotalSynced, 1)
}

// haltAfter lets ok inserts through and fails every one after.
type haltAfter struct {
	*memremote.Store
	mu sync.Mutex
	ok int
}

func (h *haltAfter) Insert(ctx context.Context, req remote.InsertRequest) (string, error) {
	h.mu.Lock()
	if h.ok == 0 {
		h.mu.Unlock()
		return "", syncerr.Transient("test.insert", errors.New("link down"))
	}
	h.ok--
	h.mu.Unlock()
	return h.Store.Insert(ctx, req)
}
