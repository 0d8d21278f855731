//go:build !onnx

package embed

import (
	"context"
	"fmt"
)

// SentenceTransformerOptions locates the exported MiniLM-class model.
type SentenceTransformerOptions struct {
	ModelPath     string
	TokenizerPath string
	LibraryPath   string
}

// SentenceTransformerEngine is the high-accuracy dense engine. Without the
// onnx build tag its runtime dependency is absent and the selector skips it.
type SentenceTransformerEngine struct {
	dim int
}

func NewSentenceTransformerEngine(SentenceTransformerOptions) *SentenceTransformerEngine {
	return &SentenceTransformerEngine{dim: DefaultDimensions}
}

func (e *SentenceTransformerEngine) Name() string                 { return EngineSentenceTransformer }
func (e *SentenceTransformerEngine) Dimensions() int              { return e.dim }
func (e *SentenceTransformerEngine) ResourceClass() ResourceClass { return ResourceHigh }
func (e *SentenceTransformerEngine) Available() bool              { return false }

func (e *SentenceTransformerEngine) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("%w: onnx support not included; rebuild with -tags onnx", ErrEngineUnavailable)
}

func (e *SentenceTransformerEngine) Close() error { return nil }
