// Package wsclient is the remote WebSocket backend: one socket multiplexes
// every operation via client-chosen correlation ids. A single reader
// goroutine dispatches responses to a pending-request table; writes to the
// socket are serialized. When the socket drops, every in-flight request
// fails with a disconnected kind and nothing is replayed; reconnecting with
// capped exponential backoff is optional.
package wsclient

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/statewire/statewire/internal/codec"
	"github.com/statewire/statewire/internal/node"
)

// Options tune the client.
type Options struct {
	Timeout    time.Duration // per-request, default 30s
	Reconnect  bool          // redial after a dropped socket
	MaxBackoff time.Duration // reconnect backoff cap, default 30s
}

type reply struct {
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// Client is a remote WebSocket node.
type Client struct {
	url  string
	log  *zap.Logger
	opts Options

	mu      sync.Mutex // guards conn, pending, closed
	conn    *websocket.Conn
	pending map[string]chan reply
	closed  bool

	writeMu sync.Mutex // serializes socket writes
}

// Dial connects to url (ws://, wss://, or http(s):// which is rewritten)
// and starts the reader.
func Dial(ctx context.Context, rawURL string, log *zap.Logger, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	c := &Client{
		url:     wsURL(rawURL),
		log:     log,
		opts:    opts,
		pending: make(map[string]chan reply),
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, node.Errf(node.KindDisconnected, "dial %s: %v", c.url, err)
	}
	c.conn = conn
	go c.readLoop(conn)
	return c, nil
}

func wsURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	default:
		return raw
	}
}

// readLoop is the single dispatcher for one socket generation. Replies with
// no pending entry (late responses after a timeout) are discarded.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var r reply
		if err := conn.ReadJSON(&r); err != nil {
			c.onDisconnect(conn, err)
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[r.ID]
		if ok {
			delete(c.pending, r.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- r
		}
	}
}

func (c *Client) onDisconnect(conn *websocket.Conn, cause error) {
	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- reply{ID: id, Error: string(node.KindDisconnected) + ": socket closed"}
	}
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}
	c.log.Warn("ws backend disconnected", zap.String("url", c.url), zap.Error(cause))
	if c.opts.Reconnect {
		go c.redial()
	}
}

// redial retries the dial with capped exponential backoff until it succeeds
// or the client is closed.
func (c *Client) redial() {
	backoff := 500 * time.Millisecond
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err == nil {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				conn.Close()
				return
			}
			c.conn = conn
			c.mu.Unlock()
			c.log.Info("ws backend reconnected", zap.String("url", c.url))
			go c.readLoop(conn)
			return
		}
		time.Sleep(backoff)
		if backoff *= 2; backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

// request sends one frame and waits for its correlated reply.
func (c *Client) request(ctx context.Context, op string, payload any) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan reply, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, node.Errf(node.KindDisconnected, "client closed")
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, node.Errf(node.KindDisconnected, "socket is down")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	frame := map[string]any{"id": id, "op": op, "payload": payload}
	c.writeMu.Lock()
	err := conn.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, node.Errf(node.KindDisconnected, "write %s: %v", op, err)
	}

	timer := time.NewTimer(c.opts.Timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if !r.OK {
			return nil, node.ParseError(r.Error)
		}
		return r.Data, nil
	case <-timer.C:
		c.forget(id)
		return nil, node.Errf(node.KindTimeout, "%s timed out after %s", op, c.opts.Timeout)
	case <-ctx.Done():
		c.forget(id)
		return nil, node.Errf(node.KindTimeout, "%s canceled: %v", op, ctx.Err())
	}
}

// forget drops the pending entry so a late reply is discarded.
func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) Receive(ctx context.Context, uri string, value any) (node.Receipt, error) {
	data, err := c.request(ctx, "receive", map[string]any{
		"uri":   uri,
		"value": codec.WrapBinary(value),
	})
	if err != nil {
		return node.Receipt{}, err
	}
	var out struct {
		ResolvedURI string              `json:"resolvedUri"`
		TS          int64               `json:"ts"`
		Children    []node.ChildOutcome `json:"children"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return node.Receipt{}, node.Errf(node.KindBackend, "decode receive reply: %v", err)
	}
	return node.Receipt{ResolvedURI: out.ResolvedURI, TS: out.TS, Children: out.Children}, nil
}

func (c *Client) Read(ctx context.Context, uri string) (node.Record, error) {
	data, err := c.request(ctx, "read", map[string]any{"uri": uri})
	if err != nil {
		return node.Record{}, err
	}
	return decodeRecord(data)
}

func decodeRecord(data json.RawMessage) (node.Record, error) {
	var out struct {
		TS   int64           `json:"ts"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return node.Record{}, node.Errf(node.KindBackend, "decode record: %v", err)
	}
	value, err := codec.Decode(out.Data)
	if err != nil {
		return node.Record{}, node.Errf(node.KindBackend, "decode record data: %v", err)
	}
	return node.Record{TS: out.TS, Data: value}, nil
}

func (c *Client) ReadMulti(ctx context.Context, uris []string) ([]node.ReadOutcome, error) {
	if len(uris) > node.MaxReadMulti {
		return nil, node.Errf(node.KindBatchTooLarge, "%d uris exceeds limit of %d", len(uris), node.MaxReadMulti)
	}
	data, err := c.request(ctx, "readMulti", map[string]any{"uris": uris})
	if err != nil {
		return nil, err
	}
	var out struct {
		Results []struct {
			URI    string          `json:"uri"`
			OK     bool            `json:"ok"`
			Record json.RawMessage `json:"record"`
			Error  string          `json:"error"`
		} `json:"results"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, node.Errf(node.KindBackend, "decode readMulti reply: %v", err)
	}
	outcomes := make([]node.ReadOutcome, 0, len(out.Results))
	for _, r := range out.Results {
		oc := node.ReadOutcome{URI: r.URI, OK: r.OK, Error: r.Error}
		if len(r.Record) > 0 && string(r.Record) != "null" {
			rec, err := decodeRecord(r.Record)
			if err != nil {
				return nil, err
			}
			oc.Record = &rec
		}
		outcomes = append(outcomes, oc)
	}
	return outcomes, nil
}

func (c *Client) List(ctx context.Context, uri string, opts node.ListOptions) (node.ListResult, error) {
	data, err := c.request(ctx, "list", map[string]any{
		"uri":       uri,
		"page":      opts.Page,
		"limit":     opts.Limit,
		"pattern":   opts.Pattern,
		"sortBy":    opts.SortBy,
		"sortOrder": opts.SortOrder,
	})
	if err != nil {
		return node.ListResult{}, err
	}
	var out node.ListResult
	if err := json.Unmarshal(data, &out); err != nil {
		return node.ListResult{}, node.Errf(node.KindBackend, "decode list reply: %v", err)
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, uri string) error {
	_, err := c.request(ctx, "delete", map[string]any{"uri": uri})
	return err
}

func (c *Client) Health(ctx context.Context) node.Health {
	data, err := c.request(ctx, "health", map[string]any{})
	if err != nil {
		return node.Health{Status: node.StatusUnhealthy, Info: map[string]any{"error": err.Error()}}
	}
	var h node.Health
	if err := json.Unmarshal(data, &h); err != nil {
		return node.Health{Status: node.StatusUnhealthy, Info: map[string]any{"error": err.Error()}}
	}
	return h
}

func (c *Client) ListPrograms(ctx context.Context) ([]string, error) {
	data, err := c.request(ctx, "listPrograms", map[string]any{})
	if err != nil {
		return nil, err
	}
	var out struct {
		Programs []string `json:"programs"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, node.Errf(node.KindBackend, "decode listPrograms reply: %v", err)
	}
	return out.Programs, nil
}

// Close shuts the socket down and fails anything still in flight.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- reply{ID: id, Error: string(node.KindDisconnected) + ": client closed"}
	}
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
