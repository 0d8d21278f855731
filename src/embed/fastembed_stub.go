//go:build !fastembed

package embed

import (
	"context"
	"fmt"
)

// FastEmbedOptions configures the fastembed engine.
type FastEmbedOptions struct {
	Model    string
	CacheDir string
}

// FastEmbedEngine is the lightweight dense engine. Without the fastembed
// build tag its runtime dependency is absent and the selector skips it.
type FastEmbedEngine struct {
	dim int
}

func NewFastEmbedEngine(FastEmbedOptions) *FastEmbedEngine {
	return &FastEmbedEngine{dim: DefaultDimensions}
}

func (e *FastEmbedEngine) Name() string                 { return EngineFastEmbed }
func (e *FastEmbedEngine) Dimensions() int              { return e.dim }
func (e *FastEmbedEngine) ResourceClass() ResourceClass { return ResourceMedium }
func (e *FastEmbedEngine) Available() bool              { return false }

func (e *FastEmbedEngine) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("%w: fastembed support not included; rebuild with -tags fastembed", ErrEngineUnavailable)
}

func (e *FastEmbedEngine) Close() error { return nil }
