// Package httpclient is the remote HTTP backend: a node whose every
// operation is one HTTP call against a server speaking the standard routes.
// It runs no validators; validation is the remote server's responsibility.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/statewire/statewire/internal/codec"
	"github.com/statewire/statewire/internal/node"
)

// DefaultTimeout bounds every remote call unless the context is tighter.
const DefaultTimeout = 30 * time.Second

// Client is a remote HTTP node.
type Client struct {
	base   string // e.g. http://host:port
	prefix string // route prefix, default /api/v1
	http   *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		base:   strings.TrimSuffix(baseURL, "/"),
		prefix: "/api/v1",
		http:   &http.Client{Timeout: DefaultTimeout},
	}
}

// WithPrefix overrides the route prefix.
func (c *Client) WithPrefix(prefix string) *Client {
	c.prefix = "/" + strings.Trim(prefix, "/")
	return c
}

// uriPath converts scheme://authority/path into the route suffix
// /{scheme}/{authority}/{path…} with path segments percent-encoded.
func uriPath(uri string) (string, error) {
	u, err := node.ParseURI(uri)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("/" + u.Scheme + "/" + url.PathEscape(u.Authority))
	for _, seg := range u.PathSegments() {
		b.WriteString("/" + url.PathEscape(seg))
	}
	return b.String(), nil
}

func classify(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return node.Errf(node.KindTimeout, "remote call timed out: %v", err)
	}
	return node.Errf(node.KindBackend, "remote call failed: %v", err)
}

func (c *Client) do(ctx context.Context, method, path string, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+c.prefix+path, body)
	if err != nil {
		return nil, node.Errf(node.KindBackend, "build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	return resp, nil
}

// remoteError recovers the node error kind from an error response body.
func remoteError(resp *http.Response) error {
	defer resp.Body.Close()
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error != "" {
		return node.ParseError(envelope.Error)
	}
	return node.Errf(node.KindBackend, "remote status %d", resp.StatusCode)
}

func (c *Client) Receive(ctx context.Context, uri string, value any) (node.Receipt, error) {
	path, err := uriPath(uri)
	if err != nil {
		return node.Receipt{}, err
	}
	var (
		body        io.Reader
		contentType string
	)
	if raw, ok := value.([]byte); ok {
		body = bytes.NewReader(raw)
		contentType = "application/octet-stream"
	} else {
		enc, err := json.Marshal(map[string]any{"value": codec.WrapBinary(value)})
		if err != nil {
			return node.Receipt{}, node.Wrap(node.KindValidation, err)
		}
		body = bytes.NewReader(enc)
		contentType = "application/json"
	}
	resp, err := c.do(ctx, http.MethodPost, "/write"+path, contentType, body)
	if err != nil {
		return node.Receipt{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return node.Receipt{}, remoteError(resp)
	}
	defer resp.Body.Close()
	var out struct {
		ResolvedURI string              `json:"resolvedUri"`
		TS          int64               `json:"ts"`
		Children    []node.ChildOutcome `json:"children"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return node.Receipt{}, node.Errf(node.KindBackend, "decode write response: %v", err)
	}
	return node.Receipt{ResolvedURI: out.ResolvedURI, TS: out.TS, Children: out.Children}, nil
}

func (c *Client) Read(ctx context.Context, uri string) (node.Record, error) {
	path, err := uriPath(uri)
	if err != nil {
		return node.Record{}, err
	}
	resp, err := c.do(ctx, http.MethodGet, "/read"+path, "", nil)
	if err != nil {
		return node.Record{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return node.Record{}, remoteError(resp)
	}
	defer resp.Body.Close()

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/octet-stream") {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return node.Record{}, node.Errf(node.KindBackend, "read binary body: %v", err)
		}
		ts, _ := strconv.ParseInt(resp.Header.Get("X-Record-Ts"), 10, 64)
		return node.Record{TS: ts, Data: raw}, nil
	}

	var out struct {
		TS   int64           `json:"ts"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return node.Record{}, node.Errf(node.KindBackend, "decode read response: %v", err)
	}
	data, err := codec.Decode(out.Data)
	if err != nil {
		return node.Record{}, node.Errf(node.KindBackend, "decode record data: %v", err)
	}
	return node.Record{TS: out.TS, Data: data}, nil
}

func (c *Client) ReadMulti(ctx context.Context, uris []string) ([]node.ReadOutcome, error) {
	if len(uris) > node.MaxReadMulti {
		return nil, node.Errf(node.KindBatchTooLarge, "%d uris exceeds limit of %d", len(uris), node.MaxReadMulti)
	}
	enc, err := json.Marshal(map[string]any{"uris": uris})
	if err != nil {
		return nil, node.Wrap(node.KindValidation, err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/read-multi", "application/json", bytes.NewReader(enc))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, remoteError(resp)
	}
	defer resp.Body.Close()
	var out struct {
		Results []struct {
			URI    string `json:"uri"`
			OK     bool   `json:"ok"`
			Record *struct {
				TS   int64           `json:"ts"`
				Data json.RawMessage `json:"data"`
			} `json:"record"`
			Error string `json:"error"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, node.Errf(node.KindBackend, "decode read-multi response: %v", err)
	}
	outcomes := make([]node.ReadOutcome, 0, len(out.Results))
	for _, r := range out.Results {
		oc := node.ReadOutcome{URI: r.URI, OK: r.OK, Error: r.Error}
		if r.Record != nil {
			data, err := codec.Decode(r.Record.Data)
			if err != nil {
				return nil, node.Errf(node.KindBackend, "decode record data: %v", err)
			}
			oc.Record = &node.Record{TS: r.Record.TS, Data: data}
		}
		outcomes = append(outcomes, oc)
	}
	return outcomes, nil
}

func (c *Client) List(ctx context.Context, uri string, opts node.ListOptions) (node.ListResult, error) {
	if !node.Listable(uri) {
		return node.Collapse(uri, nil, opts), nil
	}
	path, err := uriPath(uri)
	if err != nil {
		return node.ListResult{}, err
	}
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Pattern != "" {
		q.Set("pattern", opts.Pattern)
	}
	if opts.SortBy != "" {
		q.Set("sortBy", opts.SortBy)
	}
	if opts.SortOrder != "" {
		q.Set("sortOrder", opts.SortOrder)
	}
	target := "/list" + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	resp, err := c.do(ctx, http.MethodGet, target, "", nil)
	if err != nil {
		return node.ListResult{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return node.ListResult{}, remoteError(resp)
	}
	defer resp.Body.Close()
	var out node.ListResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return node.ListResult{}, node.Errf(node.KindBackend, "decode list response: %v", err)
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, uri string) error {
	path, err := uriPath(uri)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodDelete, "/delete"+path, "", nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return remoteError(resp)
	}
	resp.Body.Close()
	return nil
}

func (c *Client) Health(ctx context.Context) node.Health {
	resp, err := c.do(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return node.Health{Status: node.StatusUnhealthy, Info: map[string]any{"error": err.Error()}}
	}
	defer resp.Body.Close()
	var h node.Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return node.Health{Status: node.StatusUnhealthy, Info: map[string]any{"error": fmt.Sprintf("decode health: %v", err)}}
	}
	return h
}

func (c *Client) ListPrograms(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/schema", "", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, remoteError(resp)
	}
	defer resp.Body.Close()
	var out struct {
		Programs []string `json:"programs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, node.Errf(node.KindBackend, "decode schema response: %v", err)
	}
	return out.Programs, nil
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
