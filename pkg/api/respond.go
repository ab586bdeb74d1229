package api

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/valyala/fasthttp"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/engine"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/store"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

// WriteJSON writes a JSON response with the given status.
func WriteJSON(ctx *fasthttp.RequestCtx, status int, data interface{}) {
	ctx.SetStatusCode(status)
	ctx.Response.Header.Set("Content-Type", "application/json")
	_ = json.NewEncoder(ctx).Encode(data)
}

// WriteJSONError writes a JSON error response.
func WriteJSONError(ctx *fasthttp.RequestCtx, status int, message string) {
	WriteJSON(ctx, status, map[string]string{"error": message})
}

// writeErr maps an engine error to a status code.
func writeErr(ctx *fasthttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, engine.ErrEmptyText):
		WriteJSONError(ctx, fasthttp.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrDuplicateID):
		WriteJSONError(ctx, fasthttp.StatusConflict, err.Error())
	case errors.Is(err, store.ErrClosed):
		WriteJSONError(ctx, fasthttp.StatusServiceUnavailable, err.Error())
	case syncerr.IsStorage(err):
		WriteJSONError(ctx, fasthttp.StatusInternalServerError, err.Error())
	default:
		WriteJSONError(ctx, fasthttp.StatusBadRequest, err.Error())
	}
}

func decodeBody(ctx *fasthttp.RequestCtx, v interface{}) bool {
	body := ctx.PostBody()
	if len(body) == 0 {
		WriteJSONError(ctx, fasthttp.StatusBadRequest, "request body is empty")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		WriteJSONError(ctx, fasthttp.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func pathParam(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}
