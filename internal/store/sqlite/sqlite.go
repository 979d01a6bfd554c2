// Package sqlite implements the embedded indexed-object backend: a
// versioned single-file database with one records table keyed by URI plus a
// by-ts index, via the pure-Go modernc.org/sqlite driver. It serves the role
// a browser indexed-object store fills in client deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/statewire/statewire/internal/codec"
	"github.com/statewire/statewire/internal/envelope"
	"github.com/statewire/statewire/internal/node"
)

// schemaVersion is bumped with each migration step below.
const schemaVersion = 1

// Store is a sqlite-backed node.
type Store struct {
	db    *sql.DB
	clock node.Clock
}

// Open opens (or creates) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single conn avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read sqlite version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			uri  TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			ts   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS records_ts_idx ON records (ts);
		PRAGMA user_version = 1;
	`)
	if err != nil {
		return fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return nil
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
	data, err := codec.Encode(value)
	if err != nil {
		return 0, node.Wrap(node.KindValidation, err)
	}
	ts := s.clock.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (uri, data, ts) VALUES (?, ?, ?)
		ON CONFLICT (uri) DO UPDATE SET data = excluded.data, ts = excluded.ts
	`, uri, data, ts)
	if err != nil {
		return 0, node.Errf(node.KindBackend, "upsert %s: %v", uri, err)
	}
	return ts, nil
}

func (s *Store) Read(ctx context.Context, uri string) (node.Record, error) {
	var (
		data []byte
		ts   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, ts FROM records WHERE uri = ?`, uri).Scan(&data, &ts)
	if err == sql.ErrNoRows {
		return node.Record{}, node.Errf(node.KindNotFound, "no record at %s", uri)
	}
	if err != nil {
		return node.Record{}, node.Errf(node.KindBackend, "read %s: %v", uri, err)
	}
	value, err := codec.Decode(data)
	if err != nil {
		return node.Record{}, node.Errf(node.KindBackend, "decode %s: %v", uri, err)
	}
	return node.Record{TS: ts, Data: value}, nil
}

func (s *Store) ReadMulti(ctx context.Context, uris []string) ([]node.ReadOutcome, error) {
	return node.ReadMultiOutcomes(ctx, s, uris)
}

func (s *Store) List(ctx context.Context, uri string, opts node.ListOptions) (node.ListResult, error) {
	if !node.Listable(uri) {
		return node.Collapse(uri, nil, opts), nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT uri, ts FROM records WHERE uri LIKE ? ESCAPE '\'`,
		likeEscape(uri+"/")+"%")
	if err != nil {
		return node.ListResult{}, node.Errf(node.KindBackend, "list %s: %v", uri, err)
	}
	defer rows.Close()

	var entries []node.StoredEntry
	for rows.Next() {
		var e node.StoredEntry
		if err := rows.Scan(&e.URI, &e.TS); err != nil {
			return node.ListResult{}, node.Errf(node.KindBackend, "list scan: %v", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return node.ListResult{}, node.Errf(node.KindBackend, "list rows: %v", err)
	}
	return node.Collapse(uri, entries, opts), nil
}

func (s *Store) Delete(ctx context.Context, uri string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE uri = ?`, uri)
	if err != nil {
		return node.Errf(node.KindBackend, "delete %s: %v", uri, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return node.Errf(node.KindNotFound, "no record at %s", uri)
	}
	return nil
}

func (s *Store) Health(ctx context.Context) node.Health {
	if err := s.db.PingContext(ctx); err != nil {
		return node.Health{
			Status: node.StatusUnhealthy,
			Info:   map[string]any{"backend": "sqlite", "error": err.Error()},
		}
	}
	return node.Health{Status: node.StatusHealthy, Info: map[string]any{"backend": "sqlite"}}
}

func (s *Store) ListPrograms(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uri FROM records`)
	if err != nil {
		return nil, node.Errf(node.KindBackend, "list programs: %v", err)
	}
	defer rows.Close()
	seen := map[string]bool{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, node.Errf(node.KindBackend, "list programs scan: %v", err)
		}
		if parsed, err := node.ParseURI(u); err == nil {
			seen[parsed.ProgramKey()] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, node.Errf(node.KindBackend, "list programs rows: %v", err)
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
