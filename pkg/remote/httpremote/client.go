// Package httpremote talks to the remote message store over REST, with the
// change feed on a websocket.
package httpremote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/valyala/fasthttp"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/logger"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/remote"
	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

const (
	defaultTimeout = 10 * time.Second

	// feed keepalive
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second

	maxFrameSize = 512 * 1024
)

// Options configures the client.
type Options struct {
	BaseURL string
	// FeedURL defaults to BaseURL with the scheme switched to ws/wss.
	FeedURL string
	Token   string
	Timeout time.Duration
}

// Client is a remote.Store over HTTP.
type Client struct {
	base    string
	feed    string
	token   string
	timeout time.Duration
	hc      *fasthttp.Client
	dialer  *websocket.Dialer
}

var _ remote.Store = (*Client)(nil)

// New builds a client. BaseURL is required.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("httpremote: base url is required")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	feed := strings.TrimRight(opts.FeedURL, "/")
	if feed == "" {
		feed = wsURL(base)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base:    base,
		feed:    feed,
		token:   opts.Token,
		timeout: timeout,
		hc: &fasthttp.Client{
			Name:                "chatsync",
			MaxConnsPerHost:     16,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
	}, nil
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if err := ctx.Err(); err != nil {
		return syncerr.Transient(op, err)
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.base + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return syncerr.Rejected(op, err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(data)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.hc.DoDeadline(req, resp, deadline); err != nil {
		logger.Debug("remote_request_failed", "op", op, "method", method, "path", path, "error", err)
		return remote.TransportError(op, err)
	}
	if err := remote.StatusError(op, resp.StatusCode(), resp.Body()); err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return syncerr.Transient(op, errors.Wrap(err, "decode response"))
		}
	}
	return nil
}

type insertResponse struct {
	ID string `json:"id"`
}

// Insert posts the message and returns the id the remote assigned.
func (c *Client) Insert(ctx context.Context, req remote.InsertRequest) (string, error) {
	const op = "httpremote.insert"
	var out insertResponse
	path := "/v1/conversations/" + url.PathEscape(req.ConversationID) + "/messages"
	if err := c.do(ctx, op, fasthttp.MethodPost, path, req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", syncerr.Transient(op, errors.New("empty id in response"))
	}
	return out.ID, nil
}

// Update patches an existing message.
func (c *Client) Update(ctx context.Context, id string, f remote.Fields) error {
	return c.do(ctx, "httpremote.update", fasthttp.MethodPatch, "/v1/messages/"+url.PathEscape(id), f, nil)
}

// Ping checks /healthz.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "httpremote.ping", fasthttp.MethodGet, "/healthz", nil, nil)
}

// Subscribe dials the conversation feed. Frames are remote.Change values in
// JSON. The feed ends with a subscription error when the connection drops.
func (c *Client) Subscribe(ctx context.Context, conversationID string, since time.Time, h remote.Handlers) (remote.Subscription, error) {
	const op = "httpremote.subscribe"
	u := c.feed + "/v1/conversations/" + url.PathEscape(conversationID) + "/feed"
	if !since.IsZero() {
		u += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			if serr := remote.StatusError(op, resp.StatusCode, nil); serr != nil {
				return nil, serr
			}
		}
		return nil, remote.TransportError(op, err)
	}
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	feed := remote.NewFeed(func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = conn.Close()
	})
	go readLoop(conn, feed, conversationID, h)
	go pingLoop(conn, feed)
	logger.Info("remote_feed_opened", "conversation", conversationID, "since", since)
	return feed, nil
}

// readLoop reads whole frames and decodes them separately, so a frame that
// fails to decode is skipped and only a read error ends the feed.
func readLoop(conn *websocket.Conn, feed *remote.Feed, conversationID string, h remote.Handlers) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if feed.Closed() {
				return
			}
			logger.Warn("remote_feed_dropped", "conversation", conversationID, "error", err)
			feed.Finish(syncerr.Subscription("httpremote.feed", err))
			return
		}
		var ch remote.Change
		if err := json.Unmarshal(data, &ch); err != nil {
			logger.Warn("remote_feed_bad_frame", "conversation", conversationID, "error", err)
			continue
		}
		h.Dispatch(ch)
	}
}

func pingLoop(conn *websocket.Conn, feed *remote.Feed) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-feed.Done():
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
