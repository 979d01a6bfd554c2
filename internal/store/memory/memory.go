// Package memory provides the in-process reference backend: a mutex-guarded
// map of URI → record with linear prefix scans. It is the store every other
// backend is tested against.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/statewire/statewire/internal/envelope"
	"github.com/statewire/statewire/internal/node"
)

// Store is an in-memory node. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	data   map[string]node.Record
	clock  node.Clock
	closed bool
}

func New() *Store {
	return &Store{data: make(map[string]node.Record)}
}

func (s *Store) Receive(ctx context.Context, uri string, value any) (node.Receipt, error) {
	if _, err := node.ParseURI(uri); err != nil {
		return node.Receipt{}, err
	}
	if env, ok := envelope.Detect(value); ok {
		return envelope.Unpack(ctx, env, value, s.put, s.Receive)
	}
	ts, err := s.put(ctx, uri, value)
	if err != nil {
		return node.Receipt{}, err
	}
	return node.Receipt{ResolvedURI: uri, TS: ts}, nil
}

func (s *Store) put(ctx context.Context, uri string, value any) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, node.Errf(node.KindTimeout, "receive %s: %v", uri, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.clock.Now()
	s.data[uri] = node.Record{TS: ts, Data: value}
	return ts, nil
}

func (s *Store) Read(ctx context.Context, uri string) (node.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[uri]
	if !ok {
		return node.Record{}, node.Errf(node.KindNotFound, "no record at %s", uri)
	}
	return rec, nil
}

func (s *Store) ReadMulti(ctx context.Context, uris []string) ([]node.ReadOutcome, error) {
	return node.ReadMultiOutcomes(ctx, s, uris)
}

func (s *Store) List(ctx context.Context, uri string, opts node.ListOptions) (node.ListResult, error) {
	if !node.Listable(uri) {
		return node.Collapse(uri, nil, opts), nil
	}
	s.mu.RLock()
	prefix := uri + "/"
	var entries []node.StoredEntry
	for u, rec := range s.data {
		if strings.HasPrefix(u, prefix) {
			entries = append(entries, node.StoredEntry{URI: u, TS: rec.TS})
		}
	}
	s.mu.RUnlock()
	return node.Collapse(uri, entries, opts), nil
}

func (s *Store) Delete(ctx context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[uri]; !ok {
		return node.Errf(node.KindNotFound, "no record at %s", uri)
	}
	delete(s.data, uri)
	return nil
}

func (s *Store) Health(ctx context.Context) node.Health {
	s.mu.RLock()
	n := len(s.data)
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return node.Health{Status: node.StatusUnhealthy, Info: map[string]any{"backend": "memory"}}
	}
	return node.Health{
		Status: node.StatusHealthy,
		Info:   map[string]any{"backend": "memory", "records": n},
	}
}

// ListPrograms derives the known program keys from the stored URIs.
func (s *Store) ListPrograms(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	for u := range s.data {
		if parsed, err := node.ParseURI(u); err == nil {
			seen[parsed.ProgramKey()] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
