// Package api serves the local HTTP interface of the sync engine: message
// reads and writes for companion tools, plus health and admin endpoints.
package api

import (
	"context"
	"strconv"

	"github.com/valyala/fasthttp"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/engine"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/router"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 1000
)

// Options configures the handlers.
type Options struct {
	Version string
	// DefaultUser is the sender and reader when a request names none.
	DefaultUser string
}

// API holds the handlers.
type API struct {
	engine *engine.Engine
	opts   Options
	// base is passed to engine calls; a RequestCtx only ends on server
	// shutdown, so it is not used as a context.
	base context.Context
}

// New returns handlers backed by e. Engine calls run under base.
func New(base context.Context, e *engine.Engine, opts Options) *API {
	if base == nil {
		base = context.Background()
	}
	return &API{engine: e, opts: opts, base: base}
}

// Register mounts every route on r.
func (a *API) Register(r *router.Router) {
	r.GET("/healthz", a.healthz)
	r.GET("/readyz", a.readyz)

	r.GET("/v1/conversations/{id}/messages", a.listMessages)
	r.POST("/v1/conversations/{id}/messages", a.sendMessage)
	r.POST("/v1/conversations/{id}/read", a.markRead)
	r.PATCH("/v1/messages/{id}", a.patchMessage)
	r.DELETE("/v1/messages/{id}", a.deleteMessage)
	r.POST("/v1/messages/{id}/restore", a.restoreMessage)

	r.GET("/admin/stats", a.stats)
	r.POST("/admin/sync", a.sync)
	r.POST("/admin/reset", a.reset)
	r.PUT("/admin/connectivity", a.connectivity)

	r.NotFound(func(ctx *fasthttp.RequestCtx) {
		WriteJSONError(ctx, fasthttp.StatusNotFound, "not found")
	})
}

// RequestLog logs every request at debug level.
func RequestLog(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		logger.LogRequestFast(ctx)
		next(ctx)
	}
}

func (a *API) healthz(ctx *fasthttp.RequestCtx) {
	WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) readyz(ctx *fasthttp.RequestCtx) {
	if !a.engine.Ready() {
		WriteJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	ver := a.opts.Version
	if ver == "" {
		ver = "dev"
	}
	WriteJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": ver,
		"online":  a.engine.Online(),
	})
}

// parsePage reads limit and offset, clamping limit to a sane range.
func parsePage(ctx *fasthttp.RequestCtx) (limit, offset int, ok bool) {
	limit = defaultPageLimit
	args := ctx.QueryArgs()
	if v := string(args.Peek("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid limit")
			return 0, 0, false
		}
		limit = n
	}
	if limit == 0 || limit > maxPageLimit {
		limit = maxPageLimit
	}
	if v := string(args.Peek("offset")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid offset")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

type messagesResponse struct {
	Messages   []models.Message          `json:"messages"`
	Pagination models.PaginationResponse `json:"pagination"`
}
