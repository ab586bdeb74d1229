package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
)

func request(r *Router, method, path string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	r.Handler(ctx)
	return ctx
}

func TestParamsAndMethods(t *testing.T) {
	r := New()
	r.GET("/v1/conversations/{id}/messages", func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("list " + ctx.UserValue("id").(string))
	})
	r.PATCH("/v1/messages/{id}", func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("patch " + ctx.UserValue("id").(string))
	})
	r.GET("/", func(ctx *fasthttp.RequestCtx) { ctx.SetBodyString("root") })

	ctx := request(r, "GET", "/v1/conversations/conv-1/messages?limit=5")
	assert.Equal(t, "list conv-1", string(ctx.Response.Body()))

	ctx = request(r, "PATCH", "/v1/messages/srv-3/")
	assert.Equal(t, "patch srv-3", string(ctx.Response.Body()))

	ctx = request(r, "GET", "/")
	assert.Equal(t, "root", string(ctx.Response.Body()))
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	r := New()
	r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {})

	ctx := request(r, "GET", "/nope")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = request(r, "POST", "/healthz")
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, ctx.Response.StatusCode())
	assert.Equal(t, "GET", string(ctx.Response.Header.Peek("Allow")))

	r.NotFound(func(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(fasthttp.StatusTeapot) })
	ctx = request(r, "GET", "/nope")
	assert.Equal(t, fasthttp.StatusTeapot, ctx.Response.StatusCode())
}

func TestHeadFallsBackToGet(t *testing.T) {
	r := New()
	r.GET("/readyz", func(ctx *fasthttp.RequestCtx) { ctx.SetBodyString("ok") })
	ctx := request(r, "HEAD", "/readyz")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestEmptyParamDoesNotMatch(t *testing.T) {
	r := New()
	r.GET("/v1/messages/{id}", func(ctx *fasthttp.RequestCtx) {})
	ctx := request(r, "GET", "/v1/messages//")
	assert.Equal(t, fasthttp.StatusNotFound, ctx.Response.StatusCode())
}

func TestMiddlewareOrder(t *testing.T) {
	r := New()
	var order []string
	tag := func(name string) Middleware {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
			return func(ctx *fasthttp.RequestCtx) {
				order = append(order, name)
				next(ctx)
			}
		}
	}
	r.Use(tag("outer"), tag("inner"))
	r.GET("/x", func(ctx *fasthttp.RequestCtx) { order = append(order, "handler") })

	request(r, "GET", "/x")
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
	assert.Equal(t, []string{"GET /x"}, r.Routes())
}
