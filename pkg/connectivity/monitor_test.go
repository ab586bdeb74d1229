package connectivity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbacksFireOnlyOnTransitions(t *testing.T) {
	m := New(false)
	var changes []bool
	onlines := 0
	m.OnChange(func(online bool) { changes = append(changes, online) })
	unsub := m.OnOnline(func() { onlines++ })

	m.Set(false)
	m.Set(true)
	m.Set(true)
	m.Set(false)
	unsub()
	m.Set(true)

	assert.Equal(t, []bool{true, false, true}, changes)
	assert.Equal(t, 1, onlines)
	assert.True(t, m.Online())
}

type flakyPinger struct {
	fail atomic.Bool
}

func (p *flakyPinger) Ping(context.Context) error {
	if p.fail.Load() {
		return errors.New("unreachable")
	}
	return nil
}

func TestProbeFollowsPinger(t *testing.T) {
	m := New(false)
	p := &flakyPinger{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Probe(ctx, p, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, m.Online, time.Second, 5*time.Millisecond)
	p.fail.Store(true)
	require.Eventually(t, func() bool { return !m.Online() }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("probe did not stop")
	}
}
