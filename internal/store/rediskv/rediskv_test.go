package rediskv

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/statewire/statewire/internal/node"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	return New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
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

func TestBinaryRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	blob := []byte{0, 1, 2, 255}

	if _, err := s.Receive(ctx, "mutable://open/bin", blob); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Read(ctx, "mutable://open/bin")
	if err != nil {
		t.Fatal(err)
	}
	got, ok := rec.Data.([]byte)
	if !ok || !bytes.Equal(got, blob) {
		t.Errorf("data = %#v", rec.Data)
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
	s.Receive(ctx, "mutable://open/other", 3)

	res, err := s.List(ctx, "mutable://open/users", node.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("items = %+v", res.Items)
	}
	if res.Items[0].URI != "mutable://open/users/alice" || res.Items[0].Kind != node.KindLeaf {
		t.Errorf("first = %+v", res.Items[0])
	}
	if res.Items[1].URI != "mutable://open/users/bob" || res.Items[1].Kind != node.KindDirectory {
		t.Errorf("second = %+v", res.Items[1])
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

func TestListPrograms(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	s.Receive(ctx, "mutable://open/a", 1)
	s.Receive(ctx, "inbox://accounts/app/m1", 2)

	progs, err := s.ListPrograms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(progs) != 2 || progs[0] != "inbox://accounts" || progs[1] != "mutable://open" {
		t.Errorf("programs = %v", progs)
	}
}

func TestHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	s := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	if h := s.Health(context.Background()); h.Status != node.StatusHealthy {
		t.Errorf("status = %s", h.Status)
	}
	mr.Close()
	if h := s.Health(context.Background()); h.Status != node.StatusUnhealthy {
		t.Errorf("status after close = %s", h.Status)
	}
}
