package embed

import "context"

// DummyEngine produces deterministic byte-derived vectors. Tests and
// lightweight wiring only; it carries no semantic signal.
type DummyEngine struct {
	name string
	dim  int
}

func NewDummyEngine(name string, dim int) *DummyEngine {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	if name == "" {
		name = "dummy"
	}
	return &DummyEngine{name: name, dim: dim}
}

func (e *DummyEngine) Name() string                 { return e.name }
func (e *DummyEngine) Dimensions() int              { return e.dim }
func (e *DummyEngine) ResourceClass() ResourceClass { return ResourceLow }
func (e *DummyEngine) Available() bool              { return true }

func (e *DummyEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for i, ch := range []byte(text) {
		vec[i%e.dim] += float32(ch) / 255.0
	}
	return vec, nil
}
