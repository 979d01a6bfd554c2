package wsclient

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/statewire/statewire/internal/compose"
	"github.com/statewire/statewire/internal/node"
	"github.com/statewire/statewire/internal/schema"
	"github.com/statewire/statewire/internal/server/wsd"
	"github.com/statewire/statewire/internal/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testSetup(t *testing.T, opts Options) *Client {
	t.Helper()
	n := compose.NewValidated(schema.Default(), memory.New())
	r := gin.New()
	wsd.New(n, zap.NewNop()).Register(r.Group("/api/v1"))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := Dial(context.Background(), srv.URL+"/api/v1/ws", zap.NewNop(), opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSocketRoundTrip(t *testing.T) {
	c := testSetup(t, Options{})
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
}

func TestSocketErrorKinds(t *testing.T) {
	c := testSetup(t, Options{})
	ctx := context.Background()

	if _, err := c.Read(ctx, "mutable://open/none"); !node.IsNotFound(err) {
		t.Errorf("kind = %s, want not-found", node.KindOf(err))
	}
	if _, err := c.Receive(ctx, "custom://nowhere/x", 1); node.KindOf(err) != node.KindNoSchema {
		t.Errorf("kind = %s, want no-schema", node.KindOf(err))
	}
}

func TestSocketListAndDelete(t *testing.T) {
	c := testSetup(t, Options{})
	ctx := context.Background()
	c.Receive(ctx, "mutable://open/users/alice", 1)
	c.Receive(ctx, "mutable://open/users/bob/profile", 2)

	res, err := c.List(ctx, "mutable://open/users", node.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 2 || res.Items[1].Kind != node.KindDirectory {
		t.Errorf("items = %+v", res.Items)
	}

	if err := c.Delete(ctx, "mutable://open/users/alice"); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(ctx, "mutable://open/users/alice"); !node.IsNotFound(err) {
		t.Errorf("second delete kind = %s", node.KindOf(err))
	}
}

func TestSocketReadMulti(t *testing.T) {
	c := testSetup(t, Options{})
	ctx := context.Background()
	c.Receive(ctx, "mutable://open/a", "va")

	out, err := c.ReadMulti(ctx, []string{"mutable://open/a", "mutable://open/missing"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || !out[0].OK || out[1].OK {
		t.Errorf("outcomes = %+v", out)
	}
}

func TestSocketConcurrentRequests(t *testing.T) {
	c := testSetup(t, Options{})
	ctx := context.Background()

	// Correlation ids keep concurrent in-flight requests apart on one socket.
	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(i int) {
			uri := "mutable://open/c/" + string(rune('a'+i))
			if _, err := c.Receive(ctx, uri, i); err != nil {
				done <- err
				return
			}
			_, err := c.Read(ctx, uri)
			done <- err
		}(i)
	}
	for i := 0; i < 20; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
}

func TestClosedClientFails(t *testing.T) {
	c := testSetup(t, Options{})
	c.Close()
	_, err := c.Read(context.Background(), "mutable://open/x")
	if node.KindOf(err) != node.KindDisconnected {
		t.Errorf("kind = %s, want disconnected", node.KindOf(err))
	}
	// Close is idempotent.
	if err := c.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	c := testSetup(t, Options{Timeout: 50 * time.Millisecond})
	// Cancel the context immediately so the wait path resolves via ctx.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Read(ctx, "mutable://open/x")
	if node.KindOf(err) != node.KindTimeout {
		t.Errorf("kind = %s, want timeout", node.KindOf(err))
	}
}

func TestHealthAndPrograms(t *testing.T) {
	c := testSetup(t, Options{})
	ctx := context.Background()
	c.Receive(ctx, "mutable://open/x", 1)

	if h := c.Health(ctx); h.Status != node.StatusHealthy {
		t.Errorf("status = %s", h.Status)
	}
	progs, err := c.ListPrograms(ctx)
	if err != nil || len(progs) == 0 {
		t.Errorf("programs = %v (%v)", progs, err)
	}
}
