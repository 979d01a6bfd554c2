package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/statewire/statewire/internal/node"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rcpt, err := s.Receive(ctx, "mutable://open/greeting", map[string]any{"msg": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := s.Read(ctx, "mutable://open/greeting")
	if err != nil {
		t.Fatal(err)
	}
	if rec.TS != rcpt.TS {
		t.Errorf("ts %d != %d", rec.TS, rcpt.TS)
	}
	m, ok := rec.Data.(map[string]any)
	if !ok || m["msg"] != "hi" {
		t.Errorf("data = %#v", rec.Data)
	}
}

func TestOverwrite(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.Receive(ctx, "mutable://open/x", "one")
	if _, err := s.Receive(ctx, "mutable://open/x", "two"); err != nil {
		t.Fatal(err)
	}
	rec, _ := s.Read(ctx, "mutable://open/x")
	if rec.Data != "two" {
		t.Errorf("data = %v", rec.Data)
	}
}

func TestNotFoundAndDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Read(ctx, "mutable://open/none"); !node.IsNotFound(err) {
		t.Errorf("kind = %s", node.KindOf(err))
	}
	s.Receive(ctx, "mutable://open/x", "v")
	if err := s.Delete(ctx, "mutable://open/x"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "mutable://open/x"); !node.IsNotFound(err) {
		t.Errorf("second delete kind = %s", node.KindOf(err))
	}
}

func TestList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.Receive(ctx, "mutable://open/users/alice", 1)
	s.Receive(ctx, "mutable://open/users/bob/profile", 2)

	res, err := s.List(ctx, "mutable://open/users", node.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("items = %+v", res.Items)
	}
	if res.Items[1].Kind != node.KindDirectory {
		t.Errorf("second kind = %s", res.Items[1].Kind)
	}
}

func TestEnvelopeUnpack(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	value := map[string]any{
		"outputs": []any{[]any{"mutable://open/a", "va"}},
	}
	rcpt, err := s.Receive(ctx, "mutable://open/whatever", value)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read(ctx, rcpt.ResolvedURI); err != nil {
		t.Errorf("envelope record: %v", err)
	}
	if _, err := s.Read(ctx, "mutable://open/a"); err != nil {
		t.Errorf("child record: %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	s.Receive(ctx, "mutable://open/persist", "kept")
	s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	rec, err := s.Read(ctx, "mutable://open/persist")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Data != "kept" {
		t.Errorf("data = %v", rec.Data)
	}
}

func TestListPrograms(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.Receive(ctx, "mutable://open/a", 1)
	s.Receive(ctx, "hash://sha256:00ff", 2)

	progs, err := s.ListPrograms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(progs) != 2 || progs[0] != "hash://sha256" || progs[1] != "mutable://open" {
		t.Errorf("programs = %v", progs)
	}
}
