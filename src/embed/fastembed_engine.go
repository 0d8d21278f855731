//go:build fastembed

package embed

import (
	"context"
	"fmt"
	"sync/atomic"

	fastembed "github.com/anush008/fastembed-go"
	"golang.org/x/sync/singleflight"
)

// FastEmbedOptions configures the fastembed engine.
type FastEmbedOptions struct {
	Model    fastembed.EmbeddingModel // zero value picks bge-small-en-v1.5
	CacheDir string                   // model artifact cache, e.g. ".fastembed"
}

// FastEmbedEngine is the lightweight dense engine. The underlying model is
// loaded lazily on first use; concurrent first callers share one load.
type FastEmbedEngine struct {
	opts  FastEmbedOptions
	dim   int
	group singleflight.Group

	m atomic.Pointer[fastembed.FlagEmbedding]
}

func NewFastEmbedEngine(opts FastEmbedOptions) *FastEmbedEngine {
	return &FastEmbedEngine{opts: opts, dim: DefaultDimensions}
}

func (e *FastEmbedEngine) Name() string                 { return EngineFastEmbed }
func (e *FastEmbedEngine) Dimensions() int              { return e.dim }
func (e *FastEmbedEngine) ResourceClass() ResourceClass { return ResourceMedium }
func (e *FastEmbedEngine) Available() bool              { return true }

func (e *FastEmbedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return zeroVector(e.dim), nil
	}
	m, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	return m.QueryEmbed(text)
}

// load memoizes model initialization behind a single flight. An abandoned
// caller stops waiting but the load itself runs to completion for the
// benefit of other waiters.
func (e *FastEmbedEngine) load(ctx context.Context) (*fastembed.FlagEmbedding, error) {
	if m := e.m.Load(); m != nil {
		return m, nil
	}
	ch := e.group.DoChan("load", func() (any, error) {
		if m := e.m.Load(); m != nil {
			return m, nil
		}
		m, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
			Model:    e.opts.Model,
			CacheDir: e.opts.CacheDir,
		})
		if err != nil {
			return nil, fmt.Errorf("fastembed load: %w", err)
		}
		e.m.Store(m)
		return m, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*fastembed.FlagEmbedding), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *FastEmbedEngine) Close() error {
	if m := e.m.Swap(nil); m != nil {
		m.Destroy()
	}
	return nil
}
