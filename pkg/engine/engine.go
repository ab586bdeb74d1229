// Package engine is the API the rest of the app uses to talk to the chat
// sync core. Local failures are returned to the caller; remote failures are
// absorbed by the outbox and the listener.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/bus"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/connectivity"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/ids"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/listener"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/outbox"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/session"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/store"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

// ErrEmptyText rejects a message with no visible content.
var ErrEmptyText = errors.New("message text is empty")

// Deps are the components wired by the composition root. Listener may be nil
// for engines that never open remote feeds (the CLI one-shot commands).
type Deps struct {
	Store        *store.Store
	Bus          *bus.Bus
	Connectivity *connectivity.Monitor
	Outbox       *outbox.Driver
	Listener     *listener.Listener
}

// Options tunes the engine.
type Options struct {
	// HistoryLimit bounds the initial load of a session.
	HistoryLimit int
	Now          func() time.Time
}

// Engine ties the store, bus, outbox and listener together.
type Engine struct {
	store    *store.Store
	bus      *bus.Bus
	conn     *connectivity.Monitor
	outbox   *outbox.Driver
	listener *listener.Listener
	opts     Options
}

// New validates deps and returns an engine.
func New(d Deps, opts Options) (*Engine, error) {
	if d.Store == nil || d.Bus == nil || d.Connectivity == nil || d.Outbox == nil {
		return nil, errors.New("engine: store, bus, connectivity and outbox are required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:    d.Store,
		bus:      d.Bus,
		conn:     d.Connectivity,
		outbox:   d.Outbox,
		listener: d.Listener,
		opts:     opts,
	}, nil
}

// AppendOutgoing stores a message written by senderID, shows it on the bus
// and asks the outbox to push it. It returns once the message is durable
// locally.
func (e *Engine) AppendOutgoing(ctx context.Context, conversationID, senderID, text string) (models.Message, error) {
	m, err := e.append(ctx, models.OriginUser, conversationID, senderID, text)
	if err != nil {
		return models.Message{}, err
	}
	if e.conn.Online() {
		e.outbox.Trigger()
	}
	return m, nil
}

// AppendSystem stores a system or assistant message. It is not pushed right
// away; the next outbox pass picks it up.
func (e *Engine) AppendSystem(ctx context.Context, conversationID, senderID, text string) (models.Message, error) {
	return e.append(ctx, models.OriginSystem, conversationID, senderID, text)
}

func (e *Engine) append(ctx context.Context, origin models.Origin, conversationID, senderID, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyText
	}
	now := e.opts.Now().UTC()
	m, err := e.store.Append(ctx, models.Message{
		ID:             ids.NewLocal(origin, now),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		Origin:         origin,
		ClientKey:      ids.NewClientKey(),
		CreatedAt:      now,
	})
	if err != nil {
		return models.Message{}, err
	}
	e.bus.EmitCreated(m)
	return m, nil
}

// Observe registers cb for every event of a conversation. Load history with
// ListHistory first; the bus does not replay.
func (e *Engine) Observe(conversationID string, cb func(models.Event)) func() {
	return e.bus.OnMessage(conversationID, cb)
}

// ListHistory returns one page of a conversation in creation order.
func (e *Engine) ListHistory(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, models.PaginationResponse, error) {
	if offset < 0 {
		offset = 0
	}
	fetch := limit
	if limit > 0 {
		fetch = limit + 1
	}
	ms, err := e.store.ListPage(ctx, conversationID, fetch, offset)
	if err != nil {
		return nil, models.PaginationResponse{}, err
	}
	page := models.PaginationResponse{Limit: limit, Offset: offset}
	if limit > 0 && len(ms) > limit {
		ms = ms[:limit]
		page.HasMore = true
	}
	page.Count = len(ms)
	return ms, page, nil
}

// MarkRead records that userID has read the conversation up to now.
func (e *Engine) MarkRead(ctx context.Context, conversationID, userID string) error {
	return e.store.MarkRead(ctx, conversationID, userID, e.opts.Now())
}

// EditMessage replaces the text of a message. found is false when the id is
// unknown, which is not an error.
func (e *Engine) EditMessage(ctx context.Context, id, text string) (models.Message, bool, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, false, ErrEmptyText
	}
	res, err := e.store.SetText(ctx, id, text)
	return e.afterMutation(res, err, e.bus.EmitUpdated)
}

// SoftDelete marks a message deleted. Its text is kept.
func (e *Engine) SoftDelete(ctx context.Context, id string) (models.Message, bool, error) {
	res, err := e.store.SetDeleted(ctx, id, true)
	return e.afterMutation(res, err, e.bus.EmitDeleted)
}

// Restore reverts a soft delete.
func (e *Engine) Restore(ctx context.Context, id string) (models.Message, bool, error) {
	res, err := e.store.SetDeleted(ctx, id, false)
	return e.afterMutation(res, err, e.bus.EmitRestored)
}

func (e *Engine) afterMutation(res store.MutationResult, err error, emit func(models.Message)) (models.Message, bool, error) {
	if err != nil {
		return models.Message{}, false, err
	}
	if !res.Found {
		return models.Message{}, false, nil
	}
	if res.Changed {
		emit(res.Message)
		if res.Message.NeedsPush() && e.conn.Online() {
			e.outbox.Trigger()
		}
	}
	return res.Message, true, nil
}

// SetOnline feeds a connectivity signal from the platform. Going online
// wakes the outbox.
func (e *Engine) SetOnline(online bool) {
	e.conn.Set(online)
}

// Ready reports whether the local store is open.
func (e *Engine) Ready() bool { return e.store.Ready() }

// Online reports the last known connectivity.
func (e *Engine) Online() bool { return e.conn.Online() }

// OpenSession opens a conversation for userID. The caller must Close it.
func (e *Engine) OpenSession(ctx context.Context, conversationID, userID string) (*session.Session, error) {
	deps := session.Deps{History: e.store, Bus: e.bus, Writer: e, Now: e.opts.Now}
	if e.listener != nil {
		deps.Listener = e.listener
	}
	return session.Open(ctx, deps, conversationID, userID, session.Options{HistoryLimit: e.opts.HistoryLimit})
}

// SyncReport describes one caller-driven outbox pass.
type SyncReport struct {
	RunID   string `json:"run_id"`
	Online  bool   `json:"online"`
	Synced  int    `json:"synced"`
	Pending int    `json:"pending"`
	// Error is the remote failure that halted the pass, if any.
	Error string `json:"error,omitempty"`
}

// Sync runs an outbox pass now. Only local storage failures are returned.
func (e *Engine) Sync(ctx context.Context) (SyncReport, error) {
	rep := SyncReport{RunID: ids.NewRunID(), Online: e.conn.Online()}
	n, err := e.outbox.Sync(ctx)
	rep.Synced = n
	if err != nil {
		if syncerr.IsStorage(err) {
			return rep, err
		}
		rep.Error = err.Error()
		logger.Warn("sync_halted", "run", rep.RunID, "synced", n, "error", err)
	}
	stats, err := e.store.Stats(ctx)
	if err != nil {
		return rep, err
	}
	rep.Pending = stats.Pending + stats.Dirty
	logger.Info("sync_run", "run", rep.RunID, "online", rep.Online, "synced", rep.Synced, "pending", rep.Pending)
	return rep, nil
}

// Stats summarizes the engine for admin views.
type Stats struct {
	Store         models.StoreStats `json:"store"`
	Outbox        outbox.Status     `json:"outbox"`
	Online        bool              `json:"online"`
	OnlineSince   time.Time         `json:"online_since"`
	Subscriptions []string          `json:"subscriptions"`
}

// Stats reads the store counters and component state.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	st, err := e.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	out := Stats{
		Store:       st,
		Outbox:      e.outbox.Status(),
		Online:      e.conn.Online(),
		OnlineSince: e.conn.Since(),
	}
	if e.listener != nil {
		out.Subscriptions = e.listener.Subscriptions()
	}
	return out, nil
}

// Reset purges the local store. Open sessions keep their in-memory lists
// until they are reopened.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.store.Reset(ctx); err != nil {
		return err
	}
	logger.Warn("engine_reset")
	return nil
}
