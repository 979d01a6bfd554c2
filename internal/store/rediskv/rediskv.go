// Package rediskv implements the namespaced key/value backend on Redis:
// every record lives at {namespace}:{uri} as wire JSON, and prefix listing
// walks the keyspace with SCAN. It fills the role a browser key/value store
// fills in client deployments.
package rediskv

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/statewire/statewire/internal/codec"
	"github.com/statewire/statewire/internal/envelope"
	"github.com/statewire/statewire/internal/node"
)

const scanBatch = 100

// Store is a Redis-backed node.
type Store struct {
	rdb   *redis.Client
	ns    string
	clock node.Clock
}

// New wraps rdb with the given key namespace (default "statewire").
func New(rdb *redis.Client, namespace string) *Store {
	if namespace == "" {
		namespace = "statewire"
	}
	return &Store{rdb: rdb, ns: namespace}
}

func (s *Store) key(uri string) string { return s.ns + ":" + uri }

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
	ts := s.clock.Now()
	blob, err := codec.Encode(map[string]any{"ts": ts, "data": value})
	if err != nil {
		return 0, node.Wrap(node.KindValidation, err)
	}
	if err := s.rdb.Set(ctx, s.key(uri), blob, 0).Err(); err != nil {
		return 0, node.Errf(node.KindBackend, "set %s: %v", uri, err)
	}
	return ts, nil
}

func (s *Store) Read(ctx context.Context, uri string) (node.Record, error) {
	blob, err := s.rdb.Get(ctx, s.key(uri)).Bytes()
	if err == redis.Nil {
		return node.Record{}, node.Errf(node.KindNotFound, "no record at %s", uri)
	}
	if err != nil {
		return node.Record{}, node.Errf(node.KindBackend, "get %s: %v", uri, err)
	}
	return decodeRecord(uri, blob)
}

func decodeRecord(uri string, blob []byte) (node.Record, error) {
	v, err := codec.Decode(blob)
	if err != nil {
		return node.Record{}, node.Errf(node.KindBackend, "decode %s: %v", uri, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return node.Record{}, node.Errf(node.KindBackend, "malformed record at %s", uri)
	}
	rec := node.Record{Data: m["data"]}
	if n, ok := m["ts"].(json.Number); ok {
		rec.TS, _ = n.Int64()
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
	prefix := s.key(uri) + "/"
	entries, err := s.scanEntries(ctx, globEscape(prefix)+"*", prefix)
	if err != nil {
		return node.ListResult{}, err
	}
	return node.Collapse(uri, entries, opts), nil
}

// scanEntries walks keys matching pattern, re-checking the literal prefix
// since SCAN matching is glob-based, and loads each record's ts.
func (s *Store) scanEntries(ctx context.Context, pattern, prefix string) ([]node.StoredEntry, error) {
	var entries []node.StoredEntry
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, node.Errf(node.KindBackend, "scan: %v", err)
		}
		for _, key := range keys {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			uri := key[len(s.ns)+1:]
			blob, err := s.rdb.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			rec, err := decodeRecord(uri, blob)
			if err != nil {
				continue
			}
			entries = append(entries, node.StoredEntry{URI: uri, TS: rec.TS})
		}
		if next == 0 {
			return entries, nil
		}
		cursor = next
	}
}

func (s *Store) Delete(ctx context.Context, uri string) error {
	n, err := s.rdb.Del(ctx, s.key(uri)).Result()
	if err != nil {
		return node.Errf(node.KindBackend, "del %s: %v", uri, err)
	}
	if n == 0 {
		return node.Errf(node.KindNotFound, "no record at %s", uri)
	}
	return nil
}

func (s *Store) Health(ctx context.Context) node.Health {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return node.Health{
			Status: node.StatusUnhealthy,
			Info:   map[string]any{"backend": "redis", "error": err.Error()},
		}
	}
	return node.Health{Status: node.StatusHealthy, Info: map[string]any{"backend": "redis"}}
}

func (s *Store) ListPrograms(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, globEscape(s.ns+":")+"*", scanBatch).Result()
		if err != nil {
			return nil, node.Errf(node.KindBackend, "scan programs: %v", err)
		}
		for _, key := range keys {
			uri := strings.TrimPrefix(key, s.ns+":")
			if parsed, err := node.ParseURI(uri); err == nil {
				seen[parsed.ProgramKey()] = true
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	progs := make([]string, 0, len(seen))
	for k := range seen {
		progs = append(progs, k)
	}
	sort.Strings(progs)
	return progs, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// globEscape protects SCAN glob metacharacters in a literal prefix.
func globEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
