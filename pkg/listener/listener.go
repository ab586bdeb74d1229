// Package listener folds the remote change feed of each open conversation
// into the local store and republishes the result on the message bus. A
// supervisor per conversation reopens a dropped feed with backoff.
package listener

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/metrics"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/remote"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/retry"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/store"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("listener closed")

// Store is the part of the local store the listener writes to.
type Store interface {
	UpsertFromRemote(ctx context.Context, m models.Message) (store.UpsertResult, error)
	ApplyRemote(ctx context.Context, mut models.Mutation) (store.MutationResult, error)
	LatestCreatedAt(ctx context.Context, conversationID string) (time.Time, error)
	FeedWatermark(ctx context.Context, conversationID string) (time.Time, bool, error)
	AdvanceFeedWatermark(ctx context.Context, conversationID string, at time.Time) error
}

// Publisher is the message bus.
type Publisher interface {
	EmitCreated(m models.Message)
	EmitUpdated(m models.Message)
	EmitDeleted(m models.Message)
	EmitRestored(m models.Message)
	EmitRewritten(previousID string, m models.Message)
}

// Options tunes resubscription.
type Options struct {
	ResubscribeBase time.Duration
	ResubscribeMax  time.Duration
	// HealthyAfter is how long a feed must stay up for the backoff to
	// start over.
	HealthyAfter time.Duration
}

const (
	DefaultResubscribeBase = 500 * time.Millisecond
	DefaultResubscribeMax  = 30 * time.Second
	DefaultHealthyAfter    = 60 * time.Second
)

type entry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Listener is the Remote Change Listener.
type Listener struct {
	store  Store
	remote remote.Store
	bus    Publisher
	opts   Options

	root   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]*entry
	closed bool
}

// New builds a listener. bus may be nil.
func New(st Store, rs remote.Store, bus Publisher, opts Options) *Listener {
	if opts.ResubscribeBase <= 0 {
		opts.ResubscribeBase = DefaultResubscribeBase
	}
	if opts.ResubscribeMax <= 0 {
		opts.ResubscribeMax = DefaultResubscribeMax
	}
	if opts.HealthyAfter <= 0 {
		opts.HealthyAfter = DefaultHealthyAfter
	}
	root, cancel := context.WithCancel(context.Background())
	return &Listener{
		store:  st,
		remote: rs,
		bus:    bus,
		opts:   opts,
		root:   root,
		cancel: cancel,
		subs:   make(map[string]*entry),
	}
}

// Subscribe opens the feed of a conversation, replacing any feed already
// open for it. The first attempt is made before returning; if it fails the
// supervisor keeps retrying in the background. The returned function closes
// the feed and may be called more than once.
func (l *Listener) Subscribe(conversationID string) (func(), error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	prev := l.subs[conversationID]
	ctx, cancel := context.WithCancel(l.root)
	e := &entry{cancel: cancel, done: make(chan struct{})}
	l.subs[conversationID] = e
	l.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
		logger.Info("subscription_replaced", "conversation", conversationID)
	}

	sub, err := l.open(ctx, conversationID)
	if err != nil {
		logger.Warn("subscribe_failed", "conversation", conversationID, "error", err)
	}
	metrics.ListenerSubscriptions.Inc()
	go l.supervise(ctx, conversationID, e, sub)

	var once sync.Once
	return func() {
		once.Do(func() { l.release(conversationID, e) })
	}, nil
}

func (l *Listener) release(conversationID string, e *entry) {
	l.mu.Lock()
	if l.subs[conversationID] == e {
		delete(l.subs, conversationID)
	}
	l.mu.Unlock()
	e.cancel()
	<-e.done
	logger.Debug("subscription_released", "conversation", conversationID)
}

// Subscriptions lists the conversations with an open feed.
func (l *Listener) Subscriptions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.subs))
	for c := range l.subs {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Close tears down every feed. Subscribe fails afterwards.
func (l *Listener) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	entries := make([]*entry, 0, len(l.subs))
	for c, e := range l.subs {
		entries = append(entries, e)
		delete(l.subs, c)
	}
	l.mu.Unlock()

	l.cancel()
	for _, e := range entries {
		<-e.done
	}
	logger.Info("listener_closed", "subscriptions", len(entries))
}

// open subscribes with since set to the feed watermark, the newest insert
// the feed itself delivered. Rows acknowledged by the outbox are not
// counted, so a peer message written while the feed was down is still
// replayed. The first open seeds the watermark from the newest synced row.
func (l *Listener) open(ctx context.Context, conversationID string) (remote.Subscription, error) {
	since, err := l.since(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	sub, err := l.remote.Subscribe(ctx, conversationID, since, l.handlers(ctx, conversationID))
	if err != nil {
		return nil, err
	}
	logger.Debug("subscription_opened", "conversation", conversationID, "since", since)
	return sub, nil
}

func (l *Listener) since(ctx context.Context, conversationID string) (time.Time, error) {
	at, ok, err := l.store.FeedWatermark(ctx, conversationID)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		if at.IsZero() {
			// the feed has delivered nothing yet: replay from the start
			return time.Unix(0, 0).UTC(), nil
		}
		return at, nil
	}
	at, err = l.store.LatestCreatedAt(ctx, conversationID)
	if err != nil {
		return time.Time{}, err
	}
	if err := l.store.AdvanceFeedWatermark(ctx, conversationID, at); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// supervise owns one conversation feed until ctx ends.
func (l *Listener) supervise(ctx context.Context, conversationID string, e *entry, sub remote.Subscription) {
	defer close(e.done)
	defer metrics.ListenerSubscriptions.Dec()
	bo := &retry.Backoff{Base: l.opts.ResubscribeBase, Max: l.opts.ResubscribeMax, ResetAfter: l.opts.HealthyAfter}
	for {
		if sub != nil {
			bo.Healthy()
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case <-sub.Done():
			}
			err := sub.Err()
			if err == nil {
				err = syncerr.Subscription("listener.feed", errors.New("feed closed by remote"))
			}
			sub = nil
			if ctx.Err() != nil {
				return
			}
			logger.Warn("subscription_lost", "conversation", conversationID, "error", err)
		}

		delay := bo.Next()
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		var err error
		sub, err = l.open(ctx, conversationID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("resubscribe_failed", "conversation", conversationID, "attempt", bo.Attempt(), "next_delay_base", l.opts.ResubscribeBase, "error", err)
			continue
		}
		metrics.ListenerResubscribes.Inc()
		logger.Info("resubscribed", "conversation", conversationID, "attempt", bo.Attempt())
	}
}

func (l *Listener) handlers(ctx context.Context, conversationID string) remote.Handlers {
	return remote.Handlers{
		OnInsert: func(m models.Message) { l.onInsert(ctx, conversationID, m) },
		OnUpdate: func(m models.Message) { l.onChange(ctx, conversationID, m, false) },
		OnDelete: func(m models.Message) { l.onChange(ctx, conversationID, m, true) },
	}
}

func (l *Listener) onInsert(ctx context.Context, conversationID string, m models.Message) {
	if ctx.Err() != nil {
		return
	}
	if m.ConversationID == "" {
		m.ConversationID = conversationID
	}
	if m.ConversationID != conversationID {
		logger.Warn("feed_event_wrong_conversation", "conversation", conversationID, "event_conversation", m.ConversationID, "id", m.ID)
		return
	}
	res, err := l.store.UpsertFromRemote(ctx, m)
	if err != nil {
		metrics.ListenerEvents.WithLabelValues("insert", "error").Inc()
		logger.Error("listener_upsert_failed", "conversation", conversationID, "id", m.ID, "error", err)
		return
	}
	metrics.ListenerEvents.WithLabelValues("insert", res.Outcome.String()).Inc()
	if !m.CreatedAt.IsZero() {
		if err := l.store.AdvanceFeedWatermark(ctx, conversationID, m.CreatedAt); err != nil {
			logger.Warn("feed_watermark_failed", "conversation", conversationID, "id", m.ID, "error", err)
		}
	}
	if l.bus == nil {
		return
	}
	switch res.Outcome {
	case store.Inserted:
		l.bus.EmitCreated(res.Message)
	case store.Replaced:
		l.bus.EmitUpdated(res.Message)
	case store.Reassigned:
		l.bus.EmitRewritten(res.PreviousID, res.Message)
	}
}

func (l *Listener) onChange(ctx context.Context, conversationID string, m models.Message, deleted bool) {
	if ctx.Err() != nil {
		return
	}
	kind := "update"
	if deleted {
		kind = "delete"
	}
	del := deleted || m.Deleted()
	mut := models.Mutation{ID: m.ID, Deleted: &del, At: m.UpdatedAt}
	if !deleted {
		// a delete never touches text, whatever the frame carries
		text := m.Text
		mut.Text = &text
	}
	if mut.At.IsZero() {
		mut.At = time.Now().UTC()
	}
	res, err := l.store.ApplyRemote(ctx, mut)
	if err != nil {
		metrics.ListenerEvents.WithLabelValues(kind, "error").Inc()
		logger.Error("listener_apply_failed", "conversation", conversationID, "id", m.ID, "error", err)
		return
	}
	if !res.Found {
		if !m.CreatedAt.IsZero() {
			// a change to a message this device never saw; take it whole
			l.onInsert(ctx, conversationID, m)
			return
		}
		metrics.ListenerEvents.WithLabelValues(kind, "missing").Inc()
		return
	}
	if !res.Changed {
		metrics.ListenerEvents.WithLabelValues(kind, "unchanged").Inc()
		return
	}
	metrics.ListenerEvents.WithLabelValues(kind, "applied").Inc()
	if l.bus == nil {
		return
	}
	now := res.Message
	switch {
	case now.Deleted() && !res.WasDeleted:
		l.bus.EmitDeleted(now)
	case !now.Deleted() && res.WasDeleted:
		l.bus.EmitRestored(now)
	default:
		l.bus.EmitUpdated(now)
	}
}
