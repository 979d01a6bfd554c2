package httpd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/statewire/statewire/internal/compose"
	"github.com/statewire/statewire/internal/node"
	"github.com/statewire/statewire/internal/schema"
	"github.com/statewire/statewire/internal/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	n := compose.NewValidated(schema.Default(), memory.New())
	srv := httptest.NewServer(New(n, zap.NewNop(), Options{}).Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	enc, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(enc))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestWriteThenRead(t *testing.T) {
	srv := testServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/write/mutable/open/greeting",
		map[string]any{"value": map[string]any{"msg": "hello"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("write status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["resolvedUri"] != "mutable://open/greeting" {
		t.Errorf("resolvedUri = %v", body["resolvedUri"])
	}

	resp, err := http.Get(srv.URL + "/api/v1/read/mutable/open/greeting")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read status = %d", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	data, _ := body["data"].(map[string]any)
	if data["msg"] != "hello" {
		t.Errorf("data = %v", body["data"])
	}
}

func TestReadNotFound(t *testing.T) {
	srv := testServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/read/mutable/open/missing")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	errStr, _ := body["error"].(string)
	if node.ParseError(errStr).Kind != node.KindNotFound {
		t.Errorf("error = %q", errStr)
	}
}

func TestWriteValidationStatuses(t *testing.T) {
	srv := testServer(t)

	// Unknown program → 400 no-schema.
	resp := postJSON(t, srv.URL+"/api/v1/write/custom/nowhere/x",
		map[string]any{"value": 1})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("no-schema status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	// Immutable overwrite → 400 immutable-exists.
	resp = postJSON(t, srv.URL+"/api/v1/write/immutable/open/doc", map[string]any{"value": "a"})
	resp.Body.Close()
	resp = postJSON(t, srv.URL+"/api/v1/write/immutable/open/doc", map[string]any{"value": "b"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("immutable status = %d, want 400", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	errStr, _ := body["error"].(string)
	if node.ParseError(errStr).Kind != node.KindImmutableExists {
		t.Errorf("error = %q", errStr)
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	srv := testServer(t)
	blob := []byte{0, 1, 2, 0xff}

	resp, err := http.Post(srv.URL+"/api/v1/write/mutable/open/bin",
		"application/octet-stream", bytes.NewReader(blob))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("write status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/v1/read/mutable/open/bin")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/octet-stream" {
		t.Errorf("content type = %s", ct)
	}
	if resp.Header.Get("X-Record-Ts") == "" {
		t.Error("missing X-Record-Ts header")
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if !bytes.Equal(buf.Bytes(), blob) {
		t.Errorf("body = %v", buf.Bytes())
	}
}

func TestList(t *testing.T) {
	srv := testServer(t)
	postJSON(t, srv.URL+"/api/v1/write/mutable/open/users/alice", map[string]any{"value": 1}).Body.Close()
	postJSON(t, srv.URL+"/api/v1/write/mutable/open/users/bob/profile", map[string]any{"value": 2}).Body.Close()

	resp, err := http.Get(srv.URL + "/api/v1/list/mutable/open/users?sortBy=name")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	defer resp.Body.Close()
	var res node.ListResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("items = %+v", res.Items)
	}
	if res.Items[1].Kind != node.KindDirectory {
		t.Errorf("second kind = %s", res.Items[1].Kind)
	}
}

func TestDelete(t *testing.T) {
	srv := testServer(t)
	postJSON(t, srv.URL+"/api/v1/write/mutable/open/x", map[string]any{"value": 1}).Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/delete/mutable/open/x", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.DefaultClient.Do(req)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestReadMulti(t *testing.T) {
	srv := testServer(t)
	postJSON(t, srv.URL+"/api/v1/write/mutable/open/a", map[string]any{"value": "va"}).Body.Close()

	resp := postJSON(t, srv.URL+"/api/v1/read-multi",
		map[string]any{"uris": []string{"mutable://open/a", "mutable://open/missing"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	summary, _ := body["summary"].(map[string]any)
	if summary["succeeded"] != float64(1) || summary["failed"] != float64(1) {
		t.Errorf("summary = %v", summary)
	}

	// Oversized batch fails as a whole with 400.
	big := make([]string, node.MaxReadMulti+1)
	for i := range big {
		big[i] = "mutable://open/a"
	}
	resp = postJSON(t, srv.URL+"/api/v1/read-multi", map[string]any{"uris": big})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("oversized status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealthAndSchema(t *testing.T) {
	srv := testServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/v1/schema")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody(t, resp)
	progs, _ := body["programs"].([]any)
	if len(progs) == 0 {
		t.Error("no programs listed")
	}
}
