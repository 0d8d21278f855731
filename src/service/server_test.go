package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	dim int
}

func (m *fakeModel) Dimensions() int { return m.dim }

func (m *fakeModel) Embed(_ context.Context, prompt string) ([]float32, error) {
	vec := make([]float32, m.dim)
	for i, b := range []byte(prompt) {
		vec[i%m.dim] += float32(b)
	}
	return vec, nil
}

// fakeBackend counts Load calls and can be made to fail or block, to observe
// the cache's dedup and retry behavior.
type fakeBackend struct {
	mu      sync.Mutex
	loads   map[string]int
	failing map[string]bool
	gate    chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{loads: make(map[string]int), failing: make(map[string]bool)}
}

func (b *fakeBackend) Family() string { return "fastembed" }

func (b *fakeBackend) Models() []ModelInfo {
	return []ModelInfo{{Name: "test-model", Family: "fastembed", ParameterSize: "8"}}
}

func (b *fakeBackend) Load(_ context.Context, name string) (Model, error) {
	b.mu.Lock()
	b.loads[name]++
	failing := b.failing[name]
	gate := b.gate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if failing {
		return nil, fmt.Errorf("download of %s failed", name)
	}
	return &fakeModel{dim: 8}, nil
}

func (b *fakeBackend) loadCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads[name]
}

func newTestServer(t *testing.T) (*Server, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	cfg := Config{Engine: "fastembed", Model: "test-model", CacheDir: t.TempDir(), Addr: ":0"}
	return NewServer(cfg, backend), backend
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestPullIdempotentForReadyModel(t *testing.T) {
	srv, backend := newTestServer(t)
	handler := srv.Handler()

	for i := 0; i < 3; i++ {
		rec := postJSON(t, handler, "/api/pull", pullRequest{Name: "test-model"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Equal(t, 1, backend.loadCount("test-model"), "ready model must not be re-downloaded")

	record, ok := srv.Cache().Record("test-model")
	require.True(t, ok)
	require.Equal(t, StatusReady, record.Status)
}

func TestLateJoinerAfterCompletedDownload(t *testing.T) {
	srv, backend := newTestServer(t)
	cache := srv.Cache()

	require.NoError(t, cache.Pull(context.Background(), "test-model"))
	require.Equal(t, 1, backend.loadCount("test-model"))

	// A caller that observed a stale status may still enter the download
	// path after the first flight finished. The model is ready by then, so
	// the backend must not be hit again.
	_, err := cache.download("test-model")
	require.NoError(t, err)
	require.Equal(t, 1, backend.loadCount("test-model"), "completed download must not be restarted")

	record, ok := cache.Record("test-model")
	require.True(t, ok)
	require.Equal(t, StatusReady, record.Status)
}

func TestConcurrentPullsShareOneDownload(t *testing.T) {
	srv, backend := newTestServer(t)
	backend.gate = make(chan struct{})

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = srv.Cache().Pull(context.Background(), "test-model")
		}(i)
	}
	// Let every caller reach the in-flight download before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(backend.gate)
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	require.Equal(t, 1, backend.loadCount("test-model"))
}

func TestFailedPullCanBeRetried(t *testing.T) {
	srv, backend := newTestServer(t)
	handler := srv.Handler()
	backend.failing["test-model"] = true

	rec := postJSON(t, handler, "/api/pull", pullRequest{Name: "test-model"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	record, ok := srv.Cache().Record("test-model")
	require.True(t, ok)
	require.Equal(t, StatusFailed, record.Status)
	require.Error(t, record.Err)

	backend.mu.Lock()
	backend.failing["test-model"] = false
	backend.mu.Unlock()

	rec = postJSON(t, handler, "/api/pull", pullRequest{Name: "test-model"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, backend.loadCount("test-model"))
}

func TestAbandonedPullDoesNotCancelDownload(t *testing.T) {
	srv, backend := newTestServer(t)
	backend.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	go func() { abandoned <- srv.Cache().Pull(ctx, "test-model") }()

	waiting := make(chan error, 1)
	go func() { waiting <- srv.Cache().Pull(context.Background(), "test-model") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	require.ErrorIs(t, <-abandoned, context.Canceled)

	close(backend.gate)
	require.NoError(t, <-waiting, "remaining waiter must still get the shared download")
	require.Equal(t, 1, backend.loadCount("test-model"))
}

func TestEmbedDeterministicFixedDimension(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	embedOnce := func(prompt string) []float32 {
		rec := postJSON(t, handler, "/api/embed", embedRequest{Model: "test-model", Prompt: prompt})
		require.Equal(t, http.StatusOK, rec.Code)
		var resp embedResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp.Embedding
	}

	long := "first paragraph about coffee.\n\nsecond paragraph about tea."
	a := embedOnce(long)
	b := embedOnce(long)
	require.Equal(t, a, b, "same prompt must embed identically")
	require.Len(t, a, 8)

	empty := embedOnce("")
	require.Len(t, empty, 8, "empty prompt still yields the model's dimension")
}

func TestEmbedAutoProvisionsModel(t *testing.T) {
	srv, backend := newTestServer(t)
	handler := srv.Handler()

	rec := postJSON(t, handler, "/api/embed", embedRequest{Model: "other-model", Prompt: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, backend.loadCount("other-model"))
}

func TestEmbedFailsWhenModelCannotLoad(t *testing.T) {
	srv, backend := newTestServer(t)
	handler := srv.Handler()
	backend.failing["broken"] = true

	rec := postJSON(t, handler, "/api/embed", embedRequest{Model: "broken", Prompt: "hello"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEmbedDefaultsToConfiguredModel(t *testing.T) {
	srv, backend := newTestServer(t)
	handler := srv.Handler()

	rec := postJSON(t, handler, "/api/embed", embedRequest{Prompt: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, backend.loadCount("test-model"))
}

func TestStatusEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"version":"0.1.0"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tags", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tags))
	require.Len(t, tags.Models, 1)
	require.Equal(t, "test-model", tags.Models[0].Name)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var root map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &root))
	require.Equal(t, "running", root["status"])
	require.Equal(t, "test-model", root["default_model"])
}

func TestPullRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	rec := postJSON(t, handler, "/api/pull", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/pull", nil)
	getRec := httptest.NewRecorder()
	handler.ServeHTTP(getRec, req)
	require.Equal(t, http.StatusMethodNotAllowed, getRec.Code)
}

func TestWarmupToleratesPullFailure(t *testing.T) {
	srv, backend := newTestServer(t)
	backend.failing["test-model"] = true

	srv.Warmup(context.Background())

	record, ok := srv.Cache().Record("test-model")
	require.True(t, ok)
	require.Equal(t, StatusFailed, record.Status)
}
