package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
	"github.com/JakeFAU/menu-catalog-sync/internal/reconcile"
	"github.com/JakeFAU/menu-catalog-sync/internal/storage/memory"
)

func TestHealthzAndReadyz(t *testing.T) {
	t.Parallel()

	server := NewServer(&stubSyncer{}, nil, Options{}, zap.NewNop())
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestReadyzReportsDownstreamFailure(t *testing.T) {
	t.Parallel()

	server := NewServer(&stubSyncer{}, nil, Options{
		Ready: func(context.Context) error { return errors.New("postgres unreachable") },
	}, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "postgres unreachable")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := NewServer(&stubSyncer{}, nil, Options{}, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSyncWaitReturnsResult(t *testing.T) {
	t.Parallel()

	syncer := &stubSyncer{result: catalog.SyncRunResult{
		RunID: "run-1", Status: catalog.RunStatusSuccess, Success: true, Synced: 3, Errors: []string{},
	}}
	server := NewServer(syncer, nil, Options{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sync?wait=true", bytes.NewBufferString(`{"limit":5}`))
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got catalog.SyncRunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 3, got.Synced)
	require.Equal(t, []int{5}, syncer.limits())
}

func TestSyncWaitBusyIsConflict(t *testing.T) {
	t.Parallel()

	syncer := &stubSyncer{result: catalog.SyncRunResult{Status: catalog.RunStatusError, Busy: true}}
	server := NewServer(syncer, nil, Options{}, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync?wait=1", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), `"busy":true`)
}

func TestSyncStartsInBackground(t *testing.T) {
	t.Parallel()

	syncer := &stubSyncer{}
	server := NewServer(syncer, nil, Options{}, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	server.Close()
	require.Equal(t, []int{0}, syncer.limits())
}

func TestSyncRejectedWhileRunning(t *testing.T) {
	t.Parallel()

	syncer := &stubSyncer{running: true}
	server := NewServer(syncer, nil, Options{}, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Empty(t, syncer.limits())
}

func TestSyncBadRequests(t *testing.T) {
	t.Parallel()

	server := NewServer(&stubSyncer{}, nil, Options{}, nil)
	for _, body := range []string{"{invalid", `{"limit":-1}`} {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync", bytes.NewBufferString(body)))
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestLastSync(t *testing.T) {
	t.Parallel()

	runs := memory.NewCatalogStore(nil)
	server := NewServer(&stubSyncer{}, runs, Options{}, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sync/last", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, runs.RecordRun(context.Background(), catalog.SyncRunResult{
		RunID: "run-7", Status: catalog.RunStatusPartial, Success: true, Errors: []string{"fetch failed"},
	}))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sync/last", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"run_id":"run-7"`)
	require.Contains(t, rec.Body.String(), `"status":"partial"`)
}

func TestDiagnose(t *testing.T) {
	t.Parallel()

	syncer := &stubSyncer{}
	server := NewServer(syncer, nil, Options{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/diagnose?url=https://shop.example/product/a", nil)
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://shop.example/product/a", syncer.diagnosed)
	require.Contains(t, rec.Body.String(), `"success":true`)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/diagnose?url=not-a-url", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(&stubSyncer{}, memory.NewCatalogStore(nil), Options{AuthEnabled: true, APIKey: "secret"}, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sync/last", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/sync/last", nil)
	req.Header.Set("X-API-Key", "secret")
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(&stubSyncer{panicOnDiagnose: true}, nil, Options{}, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/diagnose", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := NewServer(&stubSyncer{}, nil, Options{}, nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type stubSyncer struct {
	mu              sync.Mutex
	result          catalog.SyncRunResult
	running         bool
	calls           []int
	diagnosed       string
	panicOnDiagnose bool
}

func (s *stubSyncer) Run(_ context.Context, opts reconcile.RunOptions) catalog.SyncRunResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, opts.Limit)
	return s.result
}

func (s *stubSyncer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *stubSyncer) Diagnose(_ context.Context, url string) reconcile.Diagnosis {
	if s.panicOnDiagnose {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnosed = url
	return reconcile.Diagnosis{Success: true}
}

func (s *stubSyncer) limits() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.calls...)
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
