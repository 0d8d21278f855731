package embed

import (
	"context"
	"errors"
)

// DefaultDimensions is the vector size shared by the bundled engines.
// It matches the MiniLM/BGE-small family so locally produced vectors stay
// comparable with the remote service defaults.
const DefaultDimensions = 384

// DefaultModel is the model pulled by the remote service when none is configured.
const DefaultModel = "BAAI/bge-small-en-v1.5"

// ErrEngineUnavailable is returned when no usable embedding backend can be
// resolved, or when a pinned engine's runtime dependency is missing.
var ErrEngineUnavailable = errors.New("embedding engine unavailable")

// ResourceClass describes the rough footprint of an engine.
type ResourceClass string

const (
	ResourceLow    ResourceClass = "low"
	ResourceMedium ResourceClass = "medium"
	ResourceHigh   ResourceClass = "high"
)

// Engine names understood by the selector.
const (
	EngineTFIDF               = "tfidf"
	EngineFastEmbed           = "fastembed"
	EngineSentenceTransformer = "sentence_transformer"
	EngineRemote              = "remote"
	EngineOllama              = "ollama"
	EngineAuto                = "auto"
)

// Engine is a pluggable text-embedding provider.
type Engine interface {
	// Embed converts text to a fixed-dimension vector. An empty input
	// yields a zero vector of the engine's dimension, not an error.
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
	Dimensions() int
	ResourceClass() ResourceClass
	// Available reports whether the engine's runtime dependency is
	// present. It must be side-effect-free: no model load, no network
	// round trip beyond a cheap version probe.
	Available() bool
}

// Descriptor is a point-in-time summary of an engine, used by the selector
// and the diagnostics surface.
type Descriptor struct {
	Name          string        `json:"name"`
	Available     bool          `json:"available"`
	Dimensions    int           `json:"dimensions"`
	ResourceClass ResourceClass `json:"resource_class"`
}

// Describe captures a Descriptor for any engine.
func Describe(e Engine) Descriptor {
	return Descriptor{
		Name:          e.Name(),
		Available:     e.Available(),
		Dimensions:    e.Dimensions(),
		ResourceClass: e.ResourceClass(),
	}
}

func zeroVector(dim int) []float32 {
	return make([]float32, dim)
}
