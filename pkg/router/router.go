// Package router is a small fasthttp path router for the local API. Paths
// may contain {name} segments; their values are stored as user values on
// the request.
package router

import (
	"strings"

	"github.com/valyala/fasthttp"
)

// Middleware wraps a handler.
type Middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

// Router dispatches by method and path.
type Router struct {
	routes     map[string][]route
	notFound   fasthttp.RequestHandler
	middleware []Middleware
}

type route struct {
	pattern  string
	segments []segment
	handler  fasthttp.RequestHandler
}

type segment struct {
	name    string
	isParam bool
}

// New constructs a new Router.
func New() *Router {
	return &Router{routes: make(map[string][]route)}
}

// Use adds middleware applied to every route registered afterwards.
func (r *Router) Use(m ...Middleware) {
	r.middleware = append(r.middleware, m...)
}

// Handler satisfies the fasthttp.Server handler interface.
func (r *Router) Handler(ctx *fasthttp.RequestCtx) {
	method := string(ctx.Method())
	path := string(ctx.Path())
	if h, ok := r.lookup(method, path, ctx); ok {
		h(ctx)
		return
	}
	if method == fasthttp.MethodHead {
		if h, ok := r.lookup(fasthttp.MethodGet, path, ctx); ok {
			h(ctx)
			ctx.Response.SkipBody = true
			return
		}
	}
	if allowed := r.allowed(path, method); len(allowed) > 0 {
		ctx.Response.Header.Set("Allow", strings.Join(allowed, ", "))
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}
	if r.notFound != nil {
		r.notFound(ctx)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNotFound)
}

func (r *Router) lookup(method, path string, ctx *fasthttp.RequestCtx) (fasthttp.RequestHandler, bool) {
	for _, rt := range r.routes[method] {
		if values, ok := match(path, rt.segments); ok {
			for k, v := range values {
				ctx.SetUserValue(k, v)
			}
			return rt.handler, true
		}
	}
	return nil, false
}

func (r *Router) allowed(path, except string) []string {
	var out []string
	for _, m := range []string{fasthttp.MethodGet, fasthttp.MethodPost, fasthttp.MethodPut, fasthttp.MethodPatch, fasthttp.MethodDelete} {
		if m == except {
			continue
		}
		for _, rt := range r.routes[m] {
			if _, ok := match(path, rt.segments); ok {
				out = append(out, m)
				break
			}
		}
	}
	return out
}

// GET registers a GET handler.
func (r *Router) GET(path string, h fasthttp.RequestHandler) { r.add(fasthttp.MethodGet, path, h) }

// POST registers a POST handler.
func (r *Router) POST(path string, h fasthttp.RequestHandler) { r.add(fasthttp.MethodPost, path, h) }

// PUT registers a PUT handler.
func (r *Router) PUT(path string, h fasthttp.RequestHandler) { r.add(fasthttp.MethodPut, path, h) }

// PATCH registers a PATCH handler.
func (r *Router) PATCH(path string, h fasthttp.RequestHandler) { r.add(fasthttp.MethodPatch, path, h) }

// DELETE registers a DELETE handler.
func (r *Router) DELETE(path string, h fasthttp.RequestHandler) {
	r.add(fasthttp.MethodDelete, path, h)
}

// NotFound registers a handler for unmatched routes.
func (r *Router) NotFound(h fasthttp.RequestHandler) {
	r.notFound = h
}

// Routes lists "METHOD /pattern" for every registered route.
func (r *Router) Routes() []string {
	var out []string
	for _, m := range []string{fasthttp.MethodGet, fasthttp.MethodPost, fasthttp.MethodPut, fasthttp.MethodPatch, fasthttp.MethodDelete} {
		for _, rt := range r.routes[m] {
			out = append(out, m+" "+rt.pattern)
		}
	}
	return out
}

func (r *Router) add(method, path string, h fasthttp.RequestHandler) {
	for i := len(r.middleware) - 1; i >= 0; i-- {
		h = r.middleware[i](h)
	}
	r.routes[method] = append(r.routes[method], route{pattern: path, segments: parse(path), handler: h})
}

func parse(path string) []segment {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	segs := make([]segment, len(parts))
	for i, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") && len(part) > 2 {
			segs[i] = segment{name: part[1 : len(part)-1], isParam: true}
		} else {
			segs[i] = segment{name: part}
		}
	}
	return segs
}

func match(path string, segs []segment) (map[string]string, bool) {
	path = strings.Trim(path, "/")
	var parts []string
	if path != "" {
		parts = strings.Split(path, "/")
	}
	if len(parts) != len(segs) {
		return nil, false
	}
	values := make(map[string]string)
	for i, seg := range segs {
		if seg.isParam {
			if parts[i] == "" {
				return nil, false
			}
			values[seg.name] = parts[i]
			continue
		}
		if seg.name != parts[i] {
			return nil, false
		}
	}
	return values, true
}
