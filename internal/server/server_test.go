package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/netdiag/internal/dispatch"
	"github.com/KilimcininKorOglu/netdiag/internal/probe"
	"github.com/KilimcininKorOglu/netdiag/internal/trace"
	"github.com/KilimcininKorOglu/netdiag/internal/vendor"
)

type stubVendors struct {
	err error
}

func (s *stubVendors) Lookup(ctx context.Context, mac string) (*vendor.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &vendor.Result{MAC: mac, Vendor: "Acme Networks"}, nil
}

type stubPorts struct {
	calls atomic.Int32
}

func (s *stubPorts) Check(ctx context.Context, target probe.Target) (*probe.PortResult, error) {
	s.calls.Add(1)
	return &probe.PortResult{Host: target.Host, Port: target.Port, Status: probe.PortClosed}, nil
}

type stubPinger struct {
	host string
	err  error
}

func (s *stubPinger) Ping(ctx context.Context, host string) (*probe.ReachabilityResult, error) {
	s.host = host
	if s.err != nil {
		return nil, s.err
	}
	rtt := 4.2
	return &probe.ReachabilityResult{Host: host, Alive: true, RoundTripTimeMs: &rtt}, nil
}

type panickyPorts struct{}

func (panickyPorts) Check(ctx context.Context, target probe.Target) (*probe.PortResult, error) {
	panic("boom")
}

// shellTracer returns a tracer that runs script instead of traceroute.
func shellTracer(t *testing.T, script string) *trace.Tracer {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("Skipping: requires a POSIX shell")
	}
	config := trace.DefaultConfig()
	config.Timeout = 5 * time.Second
	config.Command = func(host string) (string, []string) {
		return "sh", []string{"-c", script, "trace", host}
	}
	tracer, err := trace.New(config)
	require.NoError(t, err)
	return tracer
}

func newTestServer(t *testing.T, opts dispatch.Options) (*Server, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	return New(DefaultConfig(), dispatch.New(opts), logger), &logs
}

func do(t *testing.T, s *Server, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, dispatch.Options{})

	w := do(t, s, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["ok"])
}

func TestMacVendor(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		status int
		code   string
	}{
		{"found", "/mac-vendor?mac=00:1A:2B:3C:4D:5E", nil, http.StatusOK, ""},
		{"missing", "/mac-vendor", nil, http.StatusBadRequest, "MISSING_INPUT"},
		{"blank", "/mac-vendor?mac=%20%20", nil, http.StatusBadRequest, "MISSING_INPUT"},
		{"not found", "/mac-vendor?mac=FF:FF:FF:00:00:00", vendor.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"upstream down", "/mac-vendor?mac=00:00:00:00:00:00", vendor.ErrLookupFailed, http.StatusBadGateway, "LOOKUP_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, dispatch.Options{Vendors: &stubVendors{err: tt.err}})

			w := do(t, s, http.MethodGet, tt.target, nil)

			require.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			if tt.code == "" {
				assert.Equal(t, true, body["ok"])
				data := body["data"].(map[string]any)
				assert.Equal(t, "Acme Networks", data["vendor"])
				return
			}
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestCheckPort(t *testing.T) {
	ports := &stubPorts{}
	s, _ := newTestServer(t, dispatch.Options{Ports: ports})

	w := do(t, s, http.MethodGet, "/check-port?ip=10.0.0.1&port=22", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "closed", data["status"])
	assert.Equal(t, "10.0.0.1", data["host"])
	assert.EqualValues(t, 22, data["port"])

	w = do(t, s, http.MethodGet, "/check-port?host=example.com&port=443", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/check-port?ip=10.0.0.1", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode(t, w)["error_kind"])

	w = do(t, s, http.MethodGet, "/check-port?ip=10.0.0.1&port=http", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, w)["code"])

	assert.EqualValues(t, 2, ports.calls.Load())
}

func TestPingOnce(t *testing.T) {
	pinger := &stubPinger{}
	s, _ := newTestServer(t, dispatch.Options{Pinger: pinger})

	w := do(t, s, http.MethodPost, "/ping-once", strings.NewReader(`{"host":"1.1.1.1"}`))
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, true, data["alive"])
	assert.Equal(t, 4.2, data["round_trip_time_ms"])
	assert.Equal(t, "1.1.1.1", pinger.host)

	w = do(t, s, http.MethodPost, "/ping-once", strings.NewReader(`{}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "MISSING_INPUT", decode(t, w)["code"])

	w = do(t, s, http.MethodPost, "/ping-once", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/ping-once", strings.NewReader(`[1,2`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, w)["code"])

	w = do(t, s, http.MethodGet, "/ping-once", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestPingOnce_ProbeFailure(t *testing.T) {
	pinger := &stubPinger{err: errors.Join(probe.ErrProbeFailed, probe.ErrPermissionDenied)}
	s, _ := newTestServer(t, dispatch.Options{Pinger: pinger})

	w := do(t, s, http.MethodPost, "/ping-once", strings.NewReader(`{"host":"1.1.1.1"}`))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "PROBE_FAILURE", body["error_kind"])
	assert.Equal(t, "PROBE_FAILED", body["code"])
}

func TestTraceroute_Streams(t *testing.T) {
	tracer := shellTracer(t, `echo " 1  gw  1 ms"; echo "no reply" >&2; echo " 2  $1  9 ms"; exit 1`)
	s, _ := newTestServer(t, dispatch.Options{Tracer: tracer})

	w := do(t, s, http.MethodGet, "/traceroute/192.0.2.7", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.True(t, w.Flushed)

	body := w.Body.String()
	assert.Contains(t, body, " 1  gw  1 ms")
	assert.Contains(t, body, "Error: no reply")
	assert.Contains(t, body, "192.0.2.7")
	assert.True(t, strings.HasSuffix(body, "\nTraceroute exited with code 1 (possible failure or partial route)\n"), body)
}

func TestTraceroute_InvalidHost(t *testing.T) {
	tracer := shellTracer(t, `echo should-not-run`)
	s, _ := newTestServer(t, dispatch.Options{Tracer: tracer})

	w := do(t, s, http.MethodGet, "/traceroute/-n", nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, w)["code"])
}

func TestTraceroute_ClientDisconnectKillsTrace(t *testing.T) {
	tracer := shellTracer(t, `while true; do echo hop; sleep 0.05; done`)
	s, _ := newTestServer(t, dispatch.Options{Tracer: tracer})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/traceroute/192.0.2.7", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	buf := make([]byte, 3)
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	assert.Equal(t, "hop", string(buf))

	cancel()
	resp.Body.Close()

	// srv.Close waits for the handler, which only returns once the
	// trace session has ended.
	done := make(chan struct{})
	go func() {
		srv.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("trace handler did not finish after client disconnect")
	}
}

func TestTraceroute_StalledClientDoesNotPinTrace(t *testing.T) {
	tracer := shellTracer(t, `yes hop`)
	config := DefaultConfig()
	config.StreamWriteTimeout = 200 * time.Millisecond
	s := New(config, dispatch.New(dispatch.Options{Tracer: tracer}), zerolog.Nop())

	finished := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(finished)
		s.Handler().ServeHTTP(w, r)
	}))
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "GET /traceroute/192.0.2.7 HTTP/1.1\r\nHost: netdiag\r\n\r\n")
	require.NoError(t, err)

	// Never read: socket buffers fill up and writes start blocking.
	select {
	case <-finished:
	case <-time.After(15 * time.Second):
		t.Fatal("trace handler stayed blocked on a client that stopped reading")
	}
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t, dispatch.Options{})

	w := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/ping-once", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "content-type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestRequestID(t *testing.T) {
	s, logs := newTestServer(t, dispatch.Options{})

	w := do(t, s, http.MethodGet, "/healthz", nil)
	id := w.Header().Get(RequestIDHeader)
	require.NotEmpty(t, id)
	assert.Contains(t, logs.String(), id)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestRequestLogging(t *testing.T) {
	s, logs := newTestServer(t, dispatch.Options{})

	do(t, s, http.MethodGet, "/mac-vendor", nil)

	var entry map[string]any
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["message"] == "Request handled" {
			break
		}
	}
	assert.Equal(t, "Request handled", entry["message"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/mac-vendor", entry["path"])
	assert.EqualValues(t, http.StatusBadRequest, entry["status"])
}

func TestPanicRecovery(t *testing.T) {
	s, _ := newTestServer(t, dispatch.Options{Ports: panickyPorts{}})

	w := do(t, s, http.MethodGet, "/check-port?ip=10.0.0.1&port=22", nil)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "INTERNAL_ERROR", body["error_kind"])
}

func TestServe_GracefulShutdown(t *testing.T) {
	s, _ := newTestServer(t, dispatch.Options{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{}, dispatch.New(dispatch.Options{}), zerolog.Nop())
	assert.Equal(t, DefaultConfig(), s.config)
	assert.Equal(t, 10*time.Second, s.config.StreamWriteTimeout)
}
