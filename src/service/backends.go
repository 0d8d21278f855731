package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/mnemo-labs/go-memory/src/embed"
)

// NewBackend builds the backend for the configured engine family.
func NewBackend(family, cacheDir string) (Backend, error) {
	switch family {
	case embed.EngineFastEmbed:
		return &fastembedBackend{cacheDir: cacheDir}, nil
	case embed.EngineSentenceTransformer:
		return &sentenceTransformerBackend{cacheDir: cacheDir}, nil
	default:
		return nil, fmt.Errorf("engine type %q not supported", family)
	}
}

// fastembedBackend serves fastembed-family models. Loading a model pulls
// its artifacts into the cache directory on first use.
type fastembedBackend struct {
	cacheDir string
}

func (b *fastembedBackend) Family() string { return embed.EngineFastEmbed }

func (b *fastembedBackend) Models() []ModelInfo {
	return []ModelInfo{
		{Name: embed.DefaultModel, Family: embed.EngineFastEmbed, ParameterSize: strconv.Itoa(embed.DefaultDimensions)},
		{Name: "sentence-transformers/all-MiniLM-L6-v2", Family: embed.EngineFastEmbed, ParameterSize: "384"},
	}
}

func (b *fastembedBackend) Load(ctx context.Context, name string) (Model, error) {
	eng := embed.NewFastEmbedEngine(embed.FastEmbedOptions{CacheDir: b.cacheDir})
	// The first embed call downloads and loads the model; probing here keeps
	// pull semantics (ready means servable).
	if _, err := eng.Embed(ctx, "warmup"); err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return eng, nil
}

// sentenceTransformerBackend serves exported sentence-transformer models.
// Artifacts are expected under <cacheDir>/<model>/{model.onnx,tokenizer.json}.
type sentenceTransformerBackend struct {
	cacheDir string
}

func (b *sentenceTransformerBackend) Family() string { return embed.EngineSentenceTransformer }

func (b *sentenceTransformerBackend) Models() []ModelInfo {
	names := []string{
		embed.DefaultModel,
		"all-MiniLM-L6-v2",
		"paraphrase-multilingual-MiniLM-L12-v2",
		"intfloat/multilingual-e5-small",
	}
	infos := make([]ModelInfo, 0, len(names))
	for _, n := range names {
		infos = append(infos, ModelInfo{Name: n, Family: embed.EngineSentenceTransformer})
	}
	return infos
}

func (b *sentenceTransformerBackend) Load(ctx context.Context, name string) (Model, error) {
	dir := filepath.Join(b.cacheDir, name)
	eng := embed.NewSentenceTransformerEngine(embed.SentenceTransformerOptions{
		ModelPath:     filepath.Join(dir, "model.onnx"),
		TokenizerPath: filepath.Join(dir, "tokenizer.json"),
	})
	if _, err := eng.Embed(ctx, "warmup"); err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return eng, nil
}
