package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRemoteURL is where the bundled embedding service listens.
const DefaultRemoteURL = "http://localhost:11434"

// RemoteEngine defers inference to the embedding microservice over its
// Ollama-compatible HTTP surface. Before the first embed it pulls the
// configured model and blocks until the service reports readiness; the
// pull is shared across concurrent first callers.
//
// Network failures are per-call: the engine is not demoted permanently,
// later calls retry.
type RemoteEngine struct {
	baseURL string
	model   string
	client  *http.Client

	dim    atomic.Int32
	pulled atomic.Bool
	group  singleflight.Group
}

func NewRemoteEngine(baseURL, model string) *RemoteEngine {
	if baseURL == "" {
		baseURL = DefaultRemoteURL
	}
	if model == "" {
		model = DefaultModel
	}
	e := &RemoteEngine{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
	e.dim.Store(DefaultDimensions)
	return e
}

func (e *RemoteEngine) Name() string                 { return EngineRemote }
func (e *RemoteEngine) Dimensions() int              { return int(e.dim.Load()) }
func (e *RemoteEngine) ResourceClass() ResourceClass { return ResourceLow }

// Available probes the service's version endpoint. The probe is cheap and
// carries no model-load side effects.
func (e *RemoteEngine) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (e *RemoteEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.EnsureModel(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]string{"model": e.model, "prompt": text})
	if err != nil {
		return nil, err
	}
	resp, err := e.post(ctx, "/api/embed", body)
	if err != nil {
		return nil, fmt.Errorf("%w: embed request: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: embed returned %d: %s", ErrEngineUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var parsed struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode embed response: %v", ErrEngineUnavailable, err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("%w: service returned empty embedding", ErrEngineUnavailable)
	}
	e.dim.Store(int32(len(parsed.Embedding)))
	return parsed.Embedding, nil
}

// EnsureModel pulls the configured model once. Concurrent callers share the
// in-flight pull; a failed pull is retried on the next call.
func (e *RemoteEngine) EnsureModel(ctx context.Context) error {
	if e.pulled.Load() {
		return nil
	}
	ch := e.group.DoChan("pull", func() (any, error) {
		body, err := json.Marshal(map[string]string{"name": e.model})
		if err != nil {
			return nil, err
		}
		resp, err := e.post(context.Background(), "/api/pull", body)
		if err != nil {
			return nil, fmt.Errorf("%w: pull request: %v", ErrEngineUnavailable, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, fmt.Errorf("%w: pull %q returned %d: %s", ErrEngineUnavailable, e.model, resp.StatusCode, bytes.TrimSpace(msg))
		}
		e.pulled.Store(true)
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		// The pull keeps running for other waiters.
		return ctx.Err()
	}
}

func (e *RemoteEngine) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return e.client.Do(req)
}
