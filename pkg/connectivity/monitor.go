// Package connectivity tracks whether the remote store is reachable.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
)

// Pinger is anything that can check remote reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type listener struct {
	id uint64
	fn func(online bool)
}

// Monitor holds the online flag and notifies listeners on transitions.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	nextID    uint64
	listeners []listener
	changedAt time.Time
}

// New returns a monitor starting in the given state.
func New(online bool) *Monitor {
	return &Monitor{online: online, changedAt: time.Now()}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Since returns when the state last changed.
func (m *Monitor) Since() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changedAt
}

// Set updates the state. Listeners run synchronously, outside the lock, and
// only when the state actually changes.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.changedAt = time.Now()
	ls := append([]listener(nil), m.listeners...)
	m.mu.Unlock()

	if online {
		logger.Info("connectivity_online")
	} else {
		logger.Warn("connectivity_offline")
	}
	for _, l := range ls {
		notify(l.fn, online)
	}
}

func notify(fn func(bool), online bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("connectivity_listener_panic", "panic", r)
		}
	}()
	fn(online)
}

// OnChange registers fn for every transition. The returned function removes
// it.
func (m *Monitor) OnChange(fn func(online bool)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// OnOnline registers fn for offline to online transitions only.
func (m *Monitor) OnOnline(fn func()) func() {
	return m.OnChange(func(online bool) {
		if online {
			fn()
		}
	})
}

// Probe pings p every interval and sets the state from the result until ctx
// is done. Each ping is bounded by the interval.
func (m *Monitor) Probe(ctx context.Context, p Pinger, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()
		err := p.Ping(pctx)
		if err != nil && ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Debug("connectivity_probe_failed", "error", err)
		}
		m.Set(err == nil)
	}
	check()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			check()
		}
	}
}
