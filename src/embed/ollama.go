package embed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// OllamaEngine embeds through a real Ollama host. It speaks the same wire
// surface as the bundled embedding service, so deployments that already run
// Ollama can point the remote backend at it unchanged.
type OllamaEngine struct {
	client *ollama.Client
	model  string
	dim    atomic.Int32
}

// NewOllamaEngine connects to OLLAMA_HOST (default http://localhost:11434).
func NewOllamaEngine(model string) (*OllamaEngine, error) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = DefaultRemoteURL
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid OLLAMA_HOST %q: %w", host, err)
	}
	if model == "" {
		// Commonly available local embedding model; override as needed.
		model = "nomic-embed-text"
	}
	httpClient := &http.Client{Timeout: 60 * time.Second}
	e := &OllamaEngine{
		client: ollama.NewClient(u, httpClient),
		model:  model,
	}
	e.dim.Store(DefaultDimensions)
	return e, nil
}

func (e *OllamaEngine) Name() string                 { return EngineOllama }
func (e *OllamaEngine) Dimensions() int              { return int(e.dim.Load()) }
func (e *OllamaEngine) ResourceClass() ResourceClass { return ResourceLow }

func (e *OllamaEngine) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.client.Heartbeat(ctx) == nil
}

func (e *OllamaEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return zeroVector(int(e.dim.Load())), nil
	}
	res, err := e.client.Embed(ctx, &ollama.EmbedRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: ollama embed: %v", ErrEngineUnavailable, err)
	}
	if res == nil || len(res.Embeddings) == 0 || len(res.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: ollama returned no embedding", ErrEngineUnavailable)
	}
	e.dim.Store(int32(len(res.Embeddings[0])))
	return res.Embeddings[0], nil
}
