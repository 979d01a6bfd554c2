// Package node defines the uniform operation set shared by every storage
// backend, composition combinator and server surface: a node receives
// URI-addressed records, reads them back, lists path prefixes and reports
// its health. Backends differ only in persistence; callers compose them
// without caring which concrete kind they hold.
package node

import (
	"context"
	"sync"
	"time"
)

// MaxReadMulti caps the number of URIs a single ReadMulti may carry.
const MaxReadMulti = 50

// Record is the stored shape at one URI: a write timestamp in milliseconds
// and an arbitrary value tree (or raw bytes).
type Record struct {
	TS   int64 `json:"ts"`
	Data any   `json:"data"`
}

// Receipt reports an accepted write. ResolvedURI normally echoes the written
// URI; for envelopes it is the content-hash URI the envelope landed at, and
// at the wallet boundary it carries the :key-substituted form.
type Receipt struct {
	ResolvedURI string         `json:"resolvedUri"`
	TS          int64          `json:"ts"`
	Children    []ChildOutcome `json:"children,omitempty"`
}

// ChildOutcome is the per-output result of an envelope unpack.
type ChildOutcome struct {
	URI   string `json:"uri"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ReadOutcome is the per-URI result of a ReadMulti.
type ReadOutcome struct {
	URI    string  `json:"uri"`
	OK     bool    `json:"ok"`
	Record *Record `json:"record,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// ItemKind tags list entries.
type ItemKind string

const (
	KindLeaf      ItemKind = "leaf"
	KindDirectory ItemKind = "directory"
)

// ListItem is one collapsed child of a listed prefix.
type ListItem struct {
	URI  string   `json:"uri"`
	Kind ItemKind `json:"kind"`
}

// ListOptions control pagination, filtering and ordering of List.
type ListOptions struct {
	Page      int    // 1-based, default 1
	Limit     int    // default 100
	Pattern   string // substring filter on the full child URI
	SortBy    string // "name" (default) or "ts"
	SortOrder string // "asc" (default) or "desc"
}

// PageInfo describes the returned window.
type PageInfo struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// ListResult is one page of collapsed children.
type ListResult struct {
	Items []ListItem `json:"items"`
	Page  PageInfo   `json:"page"`
}

// Status is the coarse health grade of a node.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Health is the answer to a health probe.
type Health struct {
	Status Status         `json:"status"`
	Info   map[string]any `json:"info,omitempty"`
}

// Node is the uniform protocol surface. Implementations must be safe for
// concurrent use; every operation may block and honors ctx cancellation.
type Node interface {
	// Receive stores value at uri, subject to whatever gating the node
	// applies (validation, envelope unpack). The error, if any, carries a
	// closed Kind.
	Receive(ctx context.Context, uri string, value any) (Receipt, error)

	// Read returns the record at uri, or a not-found error.
	Read(ctx context.Context, uri string) (Record, error)

	// ReadMulti reads up to MaxReadMulti URIs, reporting per-URI outcomes.
	ReadMulti(ctx context.Context, uris []string) ([]ReadOutcome, error)

	// List returns the collapsed immediate children of a path prefix.
	List(ctx context.Context, uri string, opts ListOptions) (ListResult, error)

	// Delete removes the record at uri; not-found when absent.
	Delete(ctx context.Context, uri string) error

	// Health reports the node's current status.
	Health(ctx context.Context) Health

	// ListPrograms returns the program keys this node knows about.
	ListPrograms(ctx context.Context) ([]string, error)

	// Close releases resources. Idempotent.
	Close() error
}

// Clock issues write timestamps that are strictly monotonic within one
// store, so same-URI overwrites are ordered even under millisecond ties.
type Clock struct {
	mu   sync.Mutex
	last int64
}

// Now returns the next write timestamp in milliseconds.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UnixMilli()
	if now <= c.last {
		now = c.last + 1
	}
	c.last = now
	return now
}

// ReadMultiOutcomes runs n.Read over uris, producing the per-URI outcome
// slice shared by every backend's ReadMulti. Enforces the batch cap.
func ReadMultiOutcomes(ctx context.Context, n Node, uris []string) ([]ReadOutcome, error) {
	if len(uris) > MaxReadMulti {
		return nil, Errf(KindBatchTooLarge, "%d uris exceeds limit of %d", len(uris), MaxReadMulti)
	}
	out := make([]ReadOutcome, 0, len(uris))
	for _, u := range uris {
		rec, err := n.Read(ctx, u)
		if err != nil {
			out = append(out, ReadOutcome{URI: u, Error: Wrap(KindBackend, err).Error()})
			continue
		}
		r := rec
		out = append(out, ReadOutcome{URI: u, OK: true, Record: &r})
	}
	return out, nil
}
