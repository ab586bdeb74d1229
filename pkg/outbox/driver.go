// Package outbox pushes locally written messages to the remote store in
// creation order and moves them to their remote identity.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/metrics"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/remote"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/retry"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/store"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

// Store is the part of the local store the driver needs.
type Store interface {
	ListOutbox(ctx context.Context, limit int) ([]models.Message, error)
	AcknowledgeInsert(ctx context.Context, sent models.Message, newID string) (store.RewriteResult, error)
	MarkPushed(ctx context.Context, pushed models.Message) (store.MutationResult, error)
}

// Publisher receives identity rewrites.
type Publisher interface {
	EmitRewritten(previousID string, m models.Message)
}

// Connectivity gates passes and wakes the driver on reconnect.
type Connectivity interface {
	Online() bool
	OnOnline(fn func()) func()
}

// Options tunes the driver. Zero values take the defaults below.
type Options struct {
	PushTimeout   time.Duration
	RetryBase     time.Duration
	RetryMax      time.Duration
	RetryAttempts int
	// PushRPS <= 0 disables throttling.
	PushRPS   float64
	PushBurst int
	// BatchSize bounds the rows read per pass; 0 reads the whole outbox.
	BatchSize int
}

const (
	DefaultPushTimeout   = 10 * time.Second
	DefaultRetryBase     = time.Second
	DefaultRetryMax      = time.Minute
	DefaultRetryAttempts = 8
)

func (o *Options) defaults() {
	if o.PushTimeout <= 0 {
		o.PushTimeout = DefaultPushTimeout
	}
	if o.RetryBase <= 0 {
		o.RetryBase = DefaultRetryBase
	}
	if o.RetryMax <= 0 {
		o.RetryMax = DefaultRetryMax
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = DefaultRetryAttempts
	}
	if o.PushBurst <= 0 {
		o.PushBurst = 1
	}
}

// Status describes the last completed pass.
type Status struct {
	Running      bool      `json:"running"`
	LastPassAt   time.Time `json:"last_pass_at,omitempty"`
	LastSynced   int       `json:"last_synced"`
	LastError    string    `json:"last_error,omitempty"`
	RetryAttempt int       `json:"retry_attempt"`
	TotalSynced  int       `json:"total_synced"`
}

// Driver is the Outbox Sync Driver.
type Driver struct {
	store   Store
	remote  remote.Store
	bus     Publisher
	conn    Connectivity
	opts    Options
	limiter *rate.Limiter
	backoff *retry.Backoff

	trigger chan struct{}

	mu      sync.Mutex
	running bool
	rerun   bool
	status  Status
}

// New builds a driver. bus may be nil.
func New(st Store, rs remote.Store, bus Publisher, conn Connectivity, opts Options) *Driver {
	opts.defaults()
	limit := rate.Inf
	if opts.PushRPS > 0 {
		limit = rate.Limit(opts.PushRPS)
	}
	return &Driver{
		store:   st,
		remote:  rs,
		bus:     bus,
		conn:    conn,
		opts:    opts,
		limiter: rate.NewLimiter(limit, opts.PushBurst),
		backoff: retry.New(opts.RetryBase, opts.RetryMax),
		trigger: make(chan struct{}, 1),
	}
}

// Status returns a snapshot of the driver state.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.status
	s.Running = d.running
	s.RetryAttempt = d.backoff.Attempt()
	return s
}

// Trigger requests a pass without waiting for it. Requests made while one
// is pending collapse into it.
func (d *Driver) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Sync runs a pass over the outbox and returns how many messages reached the
// remote store. Passes never overlap: a call made while a pass is running
// returns (0, nil) at once and the running pass goes around once more. The
// pass stops at the first failed push and returns that error, leaving the
// rest of the outbox in place.
func (d *Driver) Sync(ctx context.Context) (int, error) {
	d.mu.Lock()
	if d.running {
		d.rerun = true
		d.mu.Unlock()
		metrics.OutboxPasses.WithLabelValues("coalesced").Inc()
		return 0, nil
	}
	d.running = true
	d.mu.Unlock()

	total := 0
	for {
		n, err := d.pass(ctx)
		total += n
		d.mu.Lock()
		if err != nil || !d.rerun {
			d.running = false
			d.rerun = false
			d.status.LastPassAt = time.Now().UTC()
			d.status.LastSynced = total
			d.status.TotalSynced += total
			d.status.LastError = ""
			if err != nil {
				d.status.LastError = err.Error()
			}
			d.mu.Unlock()
			return total, err
		}
		d.rerun = false
		d.mu.Unlock()
	}
}

func (d *Driver) pass(ctx context.Context) (int, error) {
	if d.conn != nil && !d.conn.Online() {
		metrics.OutboxPasses.WithLabelValues("offline").Inc()
		logger.Debug("outbox_pass_skipped", "reason", "offline")
		return 0, nil
	}
	rows, err := d.store.ListOutbox(ctx, d.opts.BatchSize)
	if err != nil {
		metrics.OutboxPasses.WithLabelValues("storage_error").Inc()
		logger.Error("outbox_list_failed", "error", err)
		return 0, err
	}
	if len(rows) == 0 {
		metrics.OutboxPasses.WithLabelValues("empty").Inc()
		return 0, nil
	}

	synced := 0
	for _, m := range rows {
		if err := d.pushOne(ctx, m); err != nil {
			outcome := "halted"
			if syncerr.IsStorage(err) {
				outcome = "storage_error"
			}
			metrics.OutboxPasses.WithLabelValues(outcome).Inc()
			logger.Info("outbox_pass_halted", "synced", synced, "remaining", len(rows)-synced, "halted_at", m.ID, "kind", syncerr.Kind(err))
			return synced, err
		}
		synced++
	}
	metrics.OutboxPasses.WithLabelValues("ok").Inc()
	logger.Info("outbox_pass_done", "synced", synced)
	return synced, nil
}

func (d *Driver) pushOne(ctx context.Context, m models.Message) error {
	if !m.Synced {
		var id string
		err := d.push(ctx, "insert", m, func(pctx context.Context) error {
			var err error
			id, err = d.remote.Insert(pctx, remote.InsertRequestFor(m))
			return err
		})
		if err != nil {
			return err
		}
		res, err := d.store.AcknowledgeInsert(ctx, m, id)
		if err != nil {
			metrics.OutboxPushes.WithLabelValues("insert", "storage").Inc()
			logger.Error("outbox_ack_failed", "id", m.ID, "remote_id", id, "error", err)
			return err
		}
		if !res.Found {
			// the remote echo already moved the row
			return nil
		}
		if d.bus != nil && res.Message.ID != m.ID {
			d.bus.EmitRewritten(m.ID, res.Message)
		}
		if !res.Message.Dirty {
			return nil
		}
		// changed while in flight, or deleted before it was ever inserted
		m = res.Message
	}
	return d.pushUpdate(ctx, m)
}

func (d *Driver) pushUpdate(ctx context.Context, m models.Message) error {
	err := d.push(ctx, "update", m, func(pctx context.Context) error {
		return d.remote.Update(pctx, m.ID, remote.FieldsFor(m))
	})
	if err != nil {
		return err
	}
	if _, err := d.store.MarkPushed(ctx, m); err != nil {
		metrics.OutboxPushes.WithLabelValues("update", "storage").Inc()
		logger.Error("outbox_mark_pushed_failed", "id", m.ID, "error", err)
		return err
	}
	return nil
}

// push runs one remote write under the rate limiter and the push timeout.
func (d *Driver) push(ctx context.Context, op string, m models.Message, fn func(context.Context) error) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return syncerr.Transient("outbox.throttle", err)
	}
	pctx, cancel := context.WithTimeout(ctx, d.opts.PushTimeout)
	defer cancel()
	start := time.Now()
	err := fn(pctx)
	metrics.OutboxPushSeconds.Observe(time.Since(start).Seconds())
	if err == nil {
		metrics.OutboxPushes.WithLabelValues(op, "ok").Inc()
		logger.Debug("outbox_pushed", "op", op, "id", m.ID, "conversation", m.ConversationID)
		return nil
	}
	if !syncerr.IsRemote(err) {
		err = syncerr.Transient("outbox."+op, err)
	}
	if errors.Is(pctx.Err(), context.DeadlineExceeded) {
		logger.Warn("outbox_push_timeout", "op", op, "id", m.ID, "timeout", d.opts.PushTimeout)
	}
	metrics.OutboxPushes.WithLabelValues(op, syncerr.Kind(err)).Inc()
	if syncerr.IsRejected(err) {
		logger.Error("outbox_push_rejected", "op", op, "id", m.ID, "conversation", m.ConversationID, "error", err)
	} else {
		logger.Warn("outbox_push_failed", "op", op, "id", m.ID, "conversation", m.ConversationID, "error", err)
	}
	return err
}

// Run serves triggers, reconnects and the retry schedule until ctx is done.
// A failed pass is retried with backoff up to RetryAttempts times; after
// that the driver waits for the next trigger.
func (d *Driver) Run(ctx context.Context) {
	if d.conn != nil {
		unsub := d.conn.OnOnline(d.Trigger)
		defer unsub()
	}
	var timer *time.Timer
	var retryC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	logger.Info("outbox_worker_started", "retry_base", d.opts.RetryBase, "retry_max", d.opts.RetryMax, "retry_attempts", d.opts.RetryAttempts)
	d.Trigger()
	for {
		select {
		case <-ctx.Done():
			logger.Info("outbox_worker_stopped")
			return
		case <-d.trigger:
			d.backoff.Reset()
		case <-retryC:
			retryC = nil
		}

		_, err := d.Sync(ctx)
		if ctx.Err() != nil {
			continue
		}
		if err == nil {
			d.backoff.Reset()
			metrics.OutboxRetryAttempt.Set(0)
			if timer != nil {
				timer.Stop()
			}
			retryC = nil
			continue
		}
		if d.backoff.Attempt() >= d.opts.RetryAttempts {
			logger.Warn("outbox_retry_exhausted", "attempts", d.opts.RetryAttempts, "error", err)
			continue
		}
		delay := d.backoff.Next()
		metrics.OutboxRetryAttempt.Set(float64(d.backoff.Attempt()))
		logger.Info("outbox_retry_scheduled", "attempt", d.backoff.Attempt(), "delay", delay)
		if timer == nil {
			timer = time.NewTimer(delay)
		} else {
			timer.Reset(delay)
		}
		retryC = timer.C
	}
}
