package httpclient

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/statewire/statewire/internal/compose"
	"github.com/statewire/statewire/internal/node"
	"github.com/statewire/statewire/internal/schema"
	"github.com/statewire/statewire/internal/server/httpd"
	"github.com/statewire/statewire/internal/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testClient spins up a full validated node behind the HTTP surface and
// returns a client speaking to it, so the remote round trip is end to end.
func testClient(t *testing.T) *Client {
	t.Helper()
	n := compose.NewValidated(schema.Default(), memory.New())
	srv := httptest.NewServer(httpd.New(n, zap.NewNop(), httpd.Options{}).Router())
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestRemoteRoundTrip(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	rcpt, err := c.Receive(ctx, "mutable://open/greeting", map[string]any{"msg": "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if rcpt.ResolvedURI != "mutable://open/greeting" {
		t.Errorf("receipt = %+v", rcpt)
	}

	rec, err := c.Read(ctx, "mutable://open/greeting")
	if err != nil {
		t.Fatal(err)
	}
	m, ok := rec.Data.(map[string]any)
	if !ok || m["msg"] != "hello" {
		t.Errorf("data = %#v", rec.Data)
	}
	if rec.TS != rcpt.TS {
		t.Errorf("ts %d != %d", rec.TS, rcpt.TS)
	}
}

func TestRemoteErrorKinds(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	if _, err := c.Read(ctx, "mutable://open/none"); !node.IsNotFound(err) {
		t.Errorf("kind = %s, want not-found", node.KindOf(err))
	}
	if _, err := c.Receive(ctx, "custom://nowhere/x", 1); node.KindOf(err) != node.KindNoSchema {
		t.Errorf("kind = %s, want no-schema", node.KindOf(err))
	}

	c.Receive(ctx, "immutable://open/doc", "a")
	_, err := c.Receive(ctx, "immutable://open/doc", "b")
	if node.KindOf(err) != node.KindImmutableExists {
		t.Errorf("kind = %s, want immutable-exists", node.KindOf(err))
	}
}

func TestRemoteBinary(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	blob := []byte{9, 8, 7}

	if _, err := c.Receive(ctx, "mutable://open/bin", blob); err != nil {
		t.Fatal(err)
	}
	rec, err := c.Read(ctx, "mutable://open/bin")
	if err != nil {
		t.Fatal(err)
	}
	got, ok := rec.Data.([]byte)
	if !ok || !bytes.Equal(got, blob) {
		t.Errorf("data = %#v", rec.Data)
	}
}

func TestRemoteList(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	c.Receive(ctx, "mutable://open/users/alice", 1)
	c.Receive(ctx, "mutable://open/users/bob/profile", 2)

	res, err := c.List(ctx, "mutable://open/users", node.ListOptions{SortBy: "name"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 2 || res.Items[1].Kind != node.KindDirectory {
		t.Errorf("items = %+v", res.Items)
	}

	// Unlistable prefixes collapse locally without a network call.
	res, err = c.List(ctx, "mutable://", node.ListOptions{})
	if err != nil || len(res.Items) != 0 {
		t.Errorf("unlistable: %v %+v", err, res.Items)
	}
}

func TestRemoteReadMulti(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	c.Receive(ctx, "mutable://open/a", "va")

	out, err := c.ReadMulti(ctx, []string{"mutable://open/a", "mutable://open/missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || !out[0].OK || out[1].OK {
		t.Errorf("outcomes = %+v", out)
	}

	big := make([]string, node.MaxReadMulti+1)
	for i := range big {
		big[i] = "mutable://open/a"
	}
	if _, err := c.ReadMulti(ctx, big); node.KindOf(err) != node.KindBatchTooLarge {
		t.Errorf("oversized kind = %s", node.KindOf(err))
	}
}

func TestRemoteDeleteHealthPrograms(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	c.Receive(ctx, "mutable://open/x", 1)

	if err := c.Delete(ctx, "mutable://open/x"); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(ctx, "mutable://open/x"); !node.IsNotFound(err) {
		t.Errorf("second delete kind = %s", node.KindOf(err))
	}

	if h := c.Health(ctx); h.Status != node.StatusHealthy {
		t.Errorf("status = %s", h.Status)
	}
	progs, err := c.ListPrograms(ctx)
	if err != nil || len(progs) == 0 {
		t.Errorf("programs = %v (%v)", progs, err)
	}
}

func TestUnreachableBackend(t *testing.T) {
	c := New("http://127.0.0.1:1")
	_, err := c.Read(context.Background(), "mutable://open/x")
	kind := node.KindOf(err)
	if kind != node.KindBackend && kind != node.KindTimeout {
		t.Errorf("kind = %s, want backend or timeout", kind)
	}
}
