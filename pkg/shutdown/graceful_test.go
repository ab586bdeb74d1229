package shutdown

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunKeepsGoingAfterFailure(t *testing.T) {
	var order []string
	boom := errors.New("boom")
	err := Run(context.Background(),
		Step{Name: "server", Fn: func(context.Context) error { order = append(order, "server"); return boom }},
		Step{Name: "nil"},
		Step{Name: "store", Fn: func(context.Context) error { order = append(order, "store"); return nil }},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"server", "store"}, order)
}

func TestRunSkipsAfterDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	err := Run(ctx,
		Step{Name: "cancel", Fn: func(context.Context) error { cancel(); return nil }},
		Step{Name: "late", Fn: func(context.Context) error { ran = true; return nil }},
	)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestSignalHandlerContextFollowsParent(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := SetupSignalHandler(parent)
	defer cancel()
	cancelParent()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestAbortWritesCrashDump(t *testing.T) {
	dir := t.TempDir()
	code := -1
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = os.Exit })

	Abort("open store", errors.New("disk full"), dir)
	assert.Equal(t, 2, code)

	entries, err := os.ReadDir(filepath.Join(dir, "crash"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	body, err := os.ReadFile(filepath.Join(dir, "crash", entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(body), "reason: open store")
	assert.Contains(t, string(body), "disk full")
}
