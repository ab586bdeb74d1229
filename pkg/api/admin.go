package api

import (
	"github.com/valyala/fasthttp"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
)

type connectivityRequest struct {
	Online *bool `json:"online"`
}

func (a *API) stats(ctx *fasthttp.RequestCtx) {
	st, err := a.engine.Stats(a.base)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	WriteJSON(ctx, fasthttp.StatusOK, st)
}

func (a *API) sync(ctx *fasthttp.RequestCtx) {
	rep, err := a.engine.Sync(a.base)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	logger.AuditEvent("admin_sync", "run", rep.RunID, "synced", rep.Synced, "remote", ctx.RemoteAddr().String())
	WriteJSON(ctx, fasthttp.StatusOK, rep)
}

func (a *API) reset(ctx *fasthttp.RequestCtx) {
	if string(ctx.QueryArgs().Peek("confirm")) != "yes" {
		WriteJSONError(ctx, fasthttp.StatusBadRequest, "reset purges every local message; repeat with ?confirm=yes")
		return
	}
	if err := a.engine.Reset(a.base); err != nil {
		writeErr(ctx, err)
		return
	}
	logger.AuditEvent("admin_reset", "remote", ctx.RemoteAddr().String())
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (a *API) connectivity(ctx *fasthttp.RequestCtx) {
	var req connectivityRequest
	if !decodeBody(ctx, &req) {
		return
	}
	if req.Online == nil {
		WriteJSONError(ctx, fasthttp.StatusBadRequest, "online is required")
		return
	}
	a.engine.SetOnline(*req.Online)
	WriteJSON(ctx, fasthttp.StatusOK, map[string]bool{"online": a.engine.Online()})
}
