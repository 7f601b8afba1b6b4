package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/skobkin/threadtop-web/internal/api"
	"github.com/skobkin/threadtop-web/internal/config"
	"github.com/skobkin/threadtop-web/internal/procscan"
	"github.com/skobkin/threadtop-web/internal/sampler"
	"github.com/skobkin/threadtop-web/internal/version"
)

func TestHealthzOK(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, defaultTestConfig(), nil, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if strings.TrimSpace(string(body)) != `{"status":"ok"}` {
		t.Fatalf("unexpected body %q", string(body))
	}

	respAPI, err := http.Get(ts.URL + "/api/healthz")
	if err != nil {
		t.Fatalf("GET /api/healthz failed: %v", err)
	}
	respAPI.Body.Close()
	if respAPI.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for /api/healthz, got %d", respAPI.StatusCode)
	}
}

func TestReadyzStates(t *testing.T) {
	t.Parallel()

	_, tsNone := newTestHTTPServer(t, defaultTestConfig(), nil, nil)
	assertReadyz(t, tsNone.URL+"/readyz", http.StatusServiceUnavailable, "degraded", "scanner_not_configured")

	root := t.TempDir()
	scanner := newTestScanner(t, root)
	_, ts := newTestHTTPServer(t, defaultTestConfig(), scanner, nil)

	assertReadyz(t, ts.URL+"/readyz", http.StatusOK, "ok", "")
	assertReadyz(t, ts.URL+"/api/readyz", http.StatusOK, "ok", "")

	if err := os.Remove(root); err != nil {
		t.Fatalf("remove proc root: %v", err)
	}
	assertReadyz(t, ts.URL+"/readyz", http.StatusServiceUnavailable, "degraded", "proc_root_unreadable")
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()

	version.Set(version.Info{Version: "v0.0.1", Commit: "abc123", BuildTime: "now"})

	_, ts := newTestHTTPServer(t, defaultTestConfig(), nil, nil)

	resp, err := http.Get(ts.URL + "/api/version")
	if err != nil {
		t.Fatalf("GET /api/version failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	var info version.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Version != "v0.0.1" || info.Commit != "abc123" || info.BuildTime != "now" {
		t.Fatalf("unexpected version payload %+v", info)
	}
}

func TestStaticIndexServed(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, defaultTestConfig(), nil, nil)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "/stat/") {
		t.Fatalf("dashboard does not poll the stat endpoint")
	}

	missing, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope failed: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", missing.StatusCode)
	}
}

func TestNonGetMethodsRejected(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	_, ts := newTestHTTPServer(t, defaultTestConfig(), newTestScanner(t, root), nil)

	for _, path := range []string{"/", "/search?q=x", "/stat/1", "/healthz", "/api/processes/1", "/nope"} {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			req, err := http.NewRequest(method, ts.URL+path, strings.NewReader("{}"))
			if err != nil {
				t.Fatalf("new request: %v", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("%s %s failed: %v", method, path, err)
			}
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			if resp.StatusCode != http.StatusMethodNotAllowed {
				t.Fatalf("%s %s: expected 405, got %d", method, path, resp.StatusCode)
			}
			if resp.Header.Get("Allow") != http.MethodGet {
				t.Fatalf("%s %s: unexpected Allow header %q", method, path, resp.Header.Get("Allow"))
			}
			if strings.TrimSpace(string(body)) != "Method Not Allowed" {
				t.Fatalf("%s %s: unexpected body %q", method, path, body)
			}
		}
	}
}

func TestSearchEndpoint(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeProcess(t, root, 1, "init")
	writeProcess(t, root, 42, "worker-a")
	writeProcess(t, root, 100, "workerb")

	_, ts := newTestHTTPServer(t, defaultTestConfig(), newTestScanner(t, root), nil)

	cases := []struct {
		query string
		want  []int
	}{
		{query: "?q=work", want: []int{42, 100}},
		{query: "?q=Work", want: []int{}},
		{query: "?q=", want: []int{1, 42, 100}},
		{query: "", want: []int{1, 42, 100}},
	}
	for _, tc := range cases {
		resp, err := http.Get(ts.URL + "/search" + tc.query)
		if err != nil {
			t.Fatalf("GET /search%s failed: %v", tc.query, err)
		}
		var payload api.SearchResponse
		err = json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if fmt.Sprint(payload.PIDs) != fmt.Sprint(tc.want) || payload.PIDs == nil {
			t.Fatalf("query %q: expected pids %v, got %v", tc.query, tc.want, payload.PIDs)
		}
	}
}

func TestSearchEndpointListingFailure(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	_, ts := newTestHTTPServer(t, defaultTestConfig(), newTestScanner(t, root), nil)
	if err := os.Remove(root); err != nil {
		t.Fatalf("remove proc root: %v", err)
	}

	resp, err := http.Get(ts.URL + "/search?q=x")
	if err != nil {
		t.Fatalf("GET /search failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestStatEndpoint(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeProcess(t, root, 42, "worker-a")
	writeThread(t, root, 42, 42, statLine(42, "worker-a", 120, 30))
	writeThread(t, root, 42, 43, statLine(43, "worker-a", 5, 1))
	mustMkdir(t, filepath.Join(root, "42", "task", "44"))

	_, ts := newTestHTTPServer(t, defaultTestConfig(), newTestScanner(t, root), nil)

	for _, path := range []string{"/stat/42", "/stat/42/", "/stat/%34%32"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
		if ct := resp.Header.Get("Content-Type"); ct != jsonContentType {
			t.Fatalf("unexpected content type %q", ct)
		}
		if !strings.Contains(string(body), `{"tid":null}`) {
			t.Fatalf("expected sentinel for unreadable thread in %s", body)
		}

		var snapshot procscan.ProcessSnapshot
		if err := json.Unmarshal(body, &snapshot); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if snapshot.TicksClockNow <= 0 {
			t.Fatalf("expected positive clock reading, got %v", snapshot.TicksClockNow)
		}
		if len(snapshot.ThreadStats) != 3 || snapshot.Invalid() != 1 {
			t.Fatalf("unexpected thread stats %+v", snapshot.ThreadStats)
		}
		byTID := make(map[int]procscan.ThreadStat)
		for _, stat := range snapshot.ThreadStats {
			if stat.Valid {
				byTID[stat.TID] = stat
			}
		}
		if got := byTID[42]; got.Name != "(worker-a)" || got.UTime != 120 || got.STime != 30 {
			t.Fatalf("unexpected stat for tid 42: %+v", got)
		}
		if got := byTID[43]; got.UTime != 5 || got.STime != 1 {
			t.Fatalf("unexpected stat for tid 43: %+v", got)
		}
	}
}

func TestStatEndpointMissingProcess(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, defaultTestConfig(), newTestScanner(t, t.TempDir()), nil)

	resp, err := http.Get(ts.URL + "/stat/999999")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(raw["threadStats"]) != "[]" {
		t.Fatalf("expected empty thread list, got %s", raw["threadStats"])
	}
	if _, ok := raw["ticksClockNow"]; !ok {
		t.Fatalf("missing ticksClockNow")
	}
}

func TestStatEndpointBadPID(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, defaultTestConfig(), newTestScanner(t, t.TempDir()), nil)

	for _, path := range []string{"/stat/abc", "/stat/", "/stat/-1", "/stat/12x"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("GET %s: expected 400, got %d", path, resp.StatusCode)
		}
		if string(body) != "{}" {
			t.Fatalf("GET %s: expected {} body, got %q", path, body)
		}
	}
}

func TestParseStatPID(t *testing.T) {
	cases := []struct {
		path string
		pid  int
		ok   bool
	}{
		{"/stat/42", 42, true},
		{"/stat/42/", 42, true},
		{" /stat/7 ", 7, true},
		{"/stat/", 0, false},
		{"/stat/abc", 0, false},
		{"/stat/4/2", 0, false},
		{"/stat/99999999999999999999999", 0, false},
	}
	for _, tc := range cases {
		pid, ok := parseStatPID(tc.path)
		if pid != tc.pid || ok != tc.ok {
			t.Fatalf("parseStatPID(%q) = %d, %v; want %d, %v", tc.path, pid, ok, tc.pid, tc.ok)
		}
	}
}

func TestProcessInfoEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("procfs not available")
	}

	cfg := defaultTestConfig()
	cfg.ProcRoot = "/proc"
	_, ts := newTestHTTPServer(t, cfg, newTestScanner(t, "/proc"), nil)

	pid := os.Getpid()
	resp, err := http.Get(ts.URL + "/api/processes/" + strconv.Itoa(pid))
	if err != nil {
		t.Fatalf("GET process info failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var info api.ProcessInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.PID != pid || info.Name == "" {
		t.Fatalf("unexpected process info %+v", info)
	}
	if info.NumThreads == nil || *info.NumThreads < 1 {
		t.Fatalf("expected thread count, got %+v", info.NumThreads)
	}

	// A pid wider than 32 bits must not alias the test process.
	aliased := "/api/processes/" + strconv.FormatInt(int64(pid)+1<<32, 10)
	for path, want := range map[string]int{
		"/api/processes/abc":        http.StatusBadRequest,
		"/api/processes/0":          http.StatusBadRequest,
		"/api/processes/99999999":   http.StatusNotFound,
		"/api/processes/4294967297": http.StatusBadRequest,
		aliased:                     http.StatusBadRequest,
	} {
		r, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		r.Body.Close()
		if r.StatusCode != want {
			t.Fatalf("GET %s: expected %d, got %d", path, want, r.StatusCode)
		}
	}
}

func TestLookupProcessInfoRejectsWidePIDs(t *testing.T) {
	t.Parallel()

	for _, pid := range []int{0, -1, 1<<31 + 5} {
		if _, err := lookupProcessInfo(context.Background(), "/proc", pid); err == nil {
			t.Fatalf("expected error for pid %d", pid)
		}
	}
}

func TestOpenAPIDocument(t *testing.T) {
	t.Parallel()

	doc := newOpenAPIDoc("test")
	if err := doc.Validate(context.Background()); err != nil {
		t.Fatalf("openapi document invalid: %v", err)
	}
	for _, path := range []string{"/search", "/stat/{pid}", "/api/processes/{pid}", "/readyz"} {
		if doc.Paths.Value(path) == nil {
			t.Fatalf("path %s missing from document", path)
		}
	}

	_, ts := newTestHTTPServer(t, defaultTestConfig(), nil, nil)
	resp, err := http.Get(ts.URL + "/api/openapi.json")
	if err != nil {
		t.Fatalf("GET openapi failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["openapi"] != "3.0.3" {
		t.Fatalf("unexpected openapi version %v", payload["openapi"])
	}
}

func TestAPIDocsServed(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, defaultTestConfig(), nil, nil)

	resp, err := http.Get(ts.URL + "/api")
	if err != nil {
		t.Fatalf("GET /api failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/unknown")
	if err != nil {
		t.Fatalf("GET /api/unknown failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	_, ts := newTestHTTPServer(t, defaultTestConfig(), nil, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if id := resp.Header.Get("X-Request-Id"); len(id) != 36 {
		t.Fatalf("expected generated uuid request id, got %q", id)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("X-Request-Id", "caller-id")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if id := resp.Header.Get("X-Request-Id"); id != "caller-id" {
		t.Fatalf("expected caller request id to be echoed, got %q", id)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeProcess(t, root, 42, "worker-a")
	writeThread(t, root, 42, 42, statLine(42, "worker-a", 120, 30))

	scanner := newTestScanner(t, root)
	manager := newTestManager(t, scanner)
	samples, unsubscribe, err := manager.Subscribe(42)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()
	select {
	case <-samples:
	case <-time.After(2 * time.Second):
		t.Fatalf("no sample produced")
	}

	cfg := defaultTestConfig()
	cfg.EnablePrometheus = true
	_, ts := newTestHTTPServer(t, cfg, scanner, manager)

	stat, err := http.Get(ts.URL + "/stat/42")
	if err != nil {
		t.Fatalf("GET stat failed: %v", err)
	}
	stat.Body.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	for _, want := range []string{
		"threadtop_http_snapshots_total 1",
		"threadtop_snapshot_duration_seconds_count 1",
		`threadtop_process_threads{pid="42"} 1`,
		`threadtop_process_user_ticks{pid="42"} 120`,
		"threadtop_ws_active_connections 0",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestWebSocketHelloAndSnapshots(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeProcess(t, root, 42, "worker-a")
	writeThread(t, root, 42, 42, statLine(42, "worker-a", 120, 30))

	scanner := newTestScanner(t, root)
	manager := newTestManager(t, scanner)

	cfg := defaultTestConfig()
	_, ts := newTestHTTPServer(t, cfg, scanner, manager)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, toWebsocketURL(ts.URL+"/ws"), nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	hello := readWSMessage(t, ctx, conn)
	if hello["type"] != "hello" {
		t.Fatalf("expected hello message, got %v", hello["type"])
	}
	if hello["interval_ms"] != float64(5) || hello["ticks_per_second"] != float64(100) {
		t.Fatalf("unexpected hello payload %v", hello)
	}

	writeWSMessage(t, ctx, conn, `{"type":"ping"}`)
	if msg := readWSMessage(t, ctx, conn); msg["type"] != "pong" {
		t.Fatalf("expected pong, got %v", msg)
	}

	writeWSMessage(t, ctx, conn, `{"type":"subscribe","pid":0}`)
	if msg := readWSMessage(t, ctx, conn); msg["type"] != "error" {
		t.Fatalf("expected error for invalid pid, got %v", msg)
	}

	writeWSMessage(t, ctx, conn, `{"type":"subscribe","pid":42}`)
	ack := readWSMessage(t, ctx, conn)
	if ack["type"] != "subscribed" || ack["pid"] != float64(42) {
		t.Fatalf("expected subscribe ack, got %v", ack)
	}

	snapshot := readWSMessage(t, ctx, conn)
	if snapshot["type"] != "snapshot" || snapshot["pid"] != float64(42) {
		t.Fatalf("expected snapshot for pid 42, got %v", snapshot)
	}
	threads, ok := snapshot["threadStats"].([]any)
	if !ok || len(threads) != 1 {
		t.Fatalf("unexpected thread stats %v", snapshot["threadStats"])
	}
	if _, ok := snapshot["ticksClockNow"].(float64); !ok {
		t.Fatalf("missing clock reading in %v", snapshot)
	}

	writeWSMessage(t, ctx, conn, `{"type":"unsubscribe"}`)
	waitFor(t, 2*time.Second, func() bool { return len(manager.Watched()) == 0 })
}

func TestWebSocketCapacity(t *testing.T) {
	t.Parallel()

	scanner := newTestScanner(t, t.TempDir())
	manager := newTestManager(t, scanner)

	cfg := defaultTestConfig()
	cfg.WS.MaxClients = 1
	srv, ts := newTestHTTPServer(t, cfg, scanner, manager)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, toWebsocketURL(ts.URL+"/ws"), nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	_ = readWSMessage(t, ctx, conn)

	_, resp, err := websocket.Dial(ctx, toWebsocketURL(ts.URL+"/ws"), nil)
	if err == nil {
		t.Fatalf("expected second connection to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 rejection, got %+v", resp)
	}
	if srv.wsRejected.Load() != 1 {
		t.Fatalf("expected one rejected connection, got %d", srv.wsRejected.Load())
	}
}

func TestWSOutboundDropsOldest(t *testing.T) {
	t.Parallel()

	var drops atomic.Uint64
	out := newWSOutbound(2, &drops)
	for _, msg := range []string{"a", "b", "c"} {
		if !out.enqueue([]byte(msg)) {
			t.Fatalf("enqueue %q failed", msg)
		}
	}
	if got := string(<-out.channel()); got != "b" {
		t.Fatalf("expected oldest message to be dropped, got %q first", got)
	}
	if drops.Load() != 1 {
		t.Fatalf("expected one drop, got %d", drops.Load())
	}

	out.close()
	if out.enqueue([]byte("d")) {
		t.Fatalf("enqueue after close must fail")
	}
}

func newTestHTTPServer(t *testing.T, cfg config.Config, scanner *procscan.Scanner, samplerManager *sampler.Manager) (*Server, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, logger, scanner, samplerManager)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return srv, ts
}

func newTestScanner(t *testing.T, root string) *procscan.Scanner {
	t.Helper()
	scanner, err := procscan.NewScanner(root, 8, nil)
	if err != nil {
		t.Fatalf("NewScanner error: %v", err)
	}
	t.Cleanup(func() { _ = scanner.Close() })
	return scanner
}

func newTestManager(t *testing.T, scanner *procscan.Scanner) *sampler.Manager {
	t.Helper()
	manager, err := sampler.NewManager(5*time.Millisecond, scanner, nil)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func assertReadyz(t *testing.T, url string, expectedStatus int, expected string, reason string) {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		t.Fatalf("expected status %d for %s, got %d", expectedStatus, url, resp.StatusCode)
	}

	var payload readyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode readyz response: %v", err)
	}
	if payload.Status != expected {
		t.Fatalf("expected status %q, got %q", expected, payload.Status)
	}
	if payload.Reason != reason {
		t.Fatalf("expected reason %q, got %q", reason, payload.Reason)
	}
}

func readWSMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) map[string]any {
	t.Helper()
	msgType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("websocket read: %v", err)
	}
	if msgType != websocket.MessageText {
		t.Fatalf("unexpected message type %v", msgType)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode websocket message: %v", err)
	}
	return msg
}

func writeWSMessage(t *testing.T, ctx context.Context, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
		t.Fatalf("websocket write: %v", err)
	}
}

func writeProcess(t *testing.T, root string, pid int, comm string) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid))
	mustMkdir(t, filepath.Join(dir, "task"))
	writeFile(t, filepath.Join(dir, "comm"), comm+"\n")
}

func writeThread(t *testing.T, root string, pid, tid int, stat string) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid), "task", strconv.Itoa(tid))
	mustMkdir(t, dir)
	writeFile(t, filepath.Join(dir, "stat"), stat)
}

func statLine(tid int, comm string, utime, stime uint64) string {
	return fmt.Sprintf("%d (%s) S 1 %d %d 0 -1 4194560 100 0 0 0 %d %d 0 0 20 0 2 0 12345 1000000 200 18446744073709551615 1 1 0 0 0 0 0 0 0 0 0 0 17 3 0 0 0 0 0 0 0 0 0 0 0 0 0\n",
		tid, comm, tid, tid, utime, stime)
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	mustMkdir(t, filepath.Dir(path))
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not satisfied within %s", timeout)
}

func defaultTestConfig() config.Config {
	return config.Config{
		ListenAddr:     ":0",
		SampleInterval: 5 * time.Millisecond,
		IdleTimeout:    30 * time.Second,
		AllowedOrigins: []string{"*"},
		ProcRoot:       "/proc",
		WS: config.WebsocketConfig{
			MaxClients:   1024,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
		Proc: config.ProcConfig{
			ReadConcurrency: 8,
		},
	}
}

func toWebsocketURL(httpURL string) string {
	u, err := url.Parse(httpURL)
	if err != nil {
		return httpURL
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String()
}
