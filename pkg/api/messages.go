package api

import (
	"github.com/valyala/fasthttp"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/models"
)

type sendRequest struct {
	Text     string `json:"text"`
	SenderID string `json:"sender_id"`
	// System appends a system/assistant message that waits for the next
	// outbox pass.
	System bool `json:"system"`
}

type patchRequest struct {
	Text    *string `json:"text"`
	Deleted *bool   `json:"deleted"`
}

type readRequest struct {
	UserID string `json:"user_id"`
}

func (a *API) listMessages(ctx *fasthttp.RequestCtx) {
	conv := pathParam(ctx, "id")
	limit, offset, ok := parsePage(ctx)
	if !ok {
		return
	}
	ms, page, err := a.engine.ListHistory(a.base, conv, limit, offset)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	if ms == nil {
		ms = []models.Message{}
	}
	WriteJSON(ctx, fasthttp.StatusOK, messagesResponse{Messages: ms, Pagination: page})
}

func (a *API) sendMessage(ctx *fasthttp.RequestCtx) {
	conv := pathParam(ctx, "id")
	var req sendRequest
	if !decodeBody(ctx, &req) {
		return
	}
	sender := req.SenderID
	if sender == "" {
		sender = a.opts.DefaultUser
	}
	var (
		m   models.Message
		err error
	)
	if req.System {
		m, err = a.engine.AppendSystem(a.base, conv, sender, req.Text)
	} else {
		m, err = a.engine.AppendOutgoing(a.base, conv, sender, req.Text)
	}
	if err != nil {
		writeErr(ctx, err)
		return
	}
	WriteJSON(ctx, fasthttp.StatusCreated, m)
}

func (a *API) markRead(ctx *fasthttp.RequestCtx) {
	conv := pathParam(ctx, "id")
	var req readRequest
	if len(ctx.PostBody()) > 0 && !decodeBody(ctx, &req) {
		return
	}
	user := req.UserID
	if user == "" {
		user = a.opts.DefaultUser
	}
	if user == "" {
		WriteJSONError(ctx, fasthttp.StatusBadRequest, "user_id is required")
		return
	}
	if err := a.engine.MarkRead(a.base, conv, user); err != nil {
		writeErr(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (a *API) patchMessage(ctx *fasthttp.RequestCtx) {
	id := pathParam(ctx, "id")
	var req patchRequest
	if !decodeBody(ctx, &req) {
		return
	}
	if req.Text == nil && req.Deleted == nil {
		WriteJSONError(ctx, fasthttp.StatusBadRequest, "nothing to change: set text or deleted")
		return
	}
	var (
		m     models.Message
		found bool
		err   error
	)
	if req.Text != nil {
		m, found, err = a.engine.EditMessage(a.base, id, *req.Text)
		if err != nil || !found {
			a.writeMutation(ctx, m, found, err)
			return
		}
	}
	if req.Deleted != nil {
		if *req.Deleted {
			m, found, err = a.engine.SoftDelete(a.base, id)
		} else {
			m, found, err = a.engine.Restore(a.base, id)
		}
	}
	a.writeMutation(ctx, m, found, err)
}

func (a *API) deleteMessage(ctx *fasthttp.RequestCtx) {
	m, found, err := a.engine.SoftDelete(a.base, pathParam(ctx, "id"))
	a.writeMutation(ctx, m, found, err)
}

func (a *API) restoreMessage(ctx *fasthttp.RequestCtx) {
	m, found, err := a.engine.Restore(a.base, pathParam(ctx, "id"))
	a.writeMutation(ctx, m, found, err)
}

func (a *API) writeMutation(ctx *fasthttp.RequestCtx, m models.Message, found bool, err error) {
	if err != nil {
		writeErr(ctx, err)
		return
	}
	if !found {
		WriteJSONError(ctx, fasthttp.StatusNotFound, "message not found")
		return
	}
	WriteJSON(ctx, fasthttp.StatusOK, m)
}
