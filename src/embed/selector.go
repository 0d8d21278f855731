package embed

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"
)

// FallbackOrder is the auto policy's probe order: highest accuracy first,
// terminal fallback last.
var FallbackOrder = []string{
	EngineSentenceTransformer,
	EngineFastEmbed,
	EngineTFIDF,
}

// transientEngines fail per-call (network) rather than per-process (missing
// runtime dependency); their failures are never cached as demotions.
var transientEngines = map[string]bool{
	EngineRemote: true,
	EngineOllama: true,
}

// Selector resolves the active embedding engine for the process.
//
// Under the auto policy it probes candidates in FallbackOrder and picks the
// first whose availability check passes. A pinned policy selects exactly the
// named engine or fails; it never falls back. The resolved engine is cached
// for the process lifetime until Invalidate is called (configuration change).
type Selector struct {
	policy  string
	engines map[string]Engine
	order   []string

	mu       sync.Mutex
	resolved Engine
	demoted  map[string]error
	group    singleflight.Group
}

// NewSelector builds a selector over the given engines. Policy is an engine
// name or EngineAuto. The candidate order for auto is FallbackOrder filtered
// to registered engines.
func NewSelector(policy string, engines ...Engine) *Selector {
	if policy == "" {
		policy = EngineAuto
	}
	byName := make(map[string]Engine, len(engines))
	for _, e := range engines {
		byName[e.Name()] = e
	}
	var order []string
	for _, name := range FallbackOrder {
		if _, ok := byName[name]; ok {
			order = append(order, name)
		}
	}
	return &Selector{
		policy:  policy,
		engines: byName,
		order:   order,
		demoted: make(map[string]error),
	}
}

// Resolve returns the active engine, caching the result. Concurrent first
// calls share a single resolution.
func (s *Selector) Resolve(ctx context.Context) (Engine, error) {
	s.mu.Lock()
	if s.resolved != nil {
		e := s.resolved
		s.mu.Unlock()
		return e, nil
	}
	s.mu.Unlock()

	ch := s.group.DoChan("resolve", func() (any, error) {
		return s.resolve()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Engine), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Selector) resolve() (Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved != nil {
		return s.resolved, nil
	}

	if s.policy != EngineAuto {
		engine, ok := s.engines[s.policy]
		if !ok {
			return nil, fmt.Errorf("%w: unknown engine %q", ErrEngineUnavailable, s.policy)
		}
		if err, bad := s.demoted[s.policy]; bad {
			return nil, fmt.Errorf("%w: pinned engine %q failed earlier: %v", ErrEngineUnavailable, s.policy, err)
		}
		if !engine.Available() {
			return nil, fmt.Errorf("%w: pinned engine %q dependency check failed", ErrEngineUnavailable, s.policy)
		}
		s.resolved = engine
		log.Printf("embedding engine resolved: %s (pinned)", s.policy)
		return engine, nil
	}

	for _, name := range s.order {
		engine := s.engines[name]
		if _, bad := s.demoted[name]; bad {
			continue
		}
		if !engine.Available() {
			continue
		}
		s.resolved = engine
		log.Printf("embedding engine resolved: %s (auto)", name)
		return engine, nil
	}
	return nil, fmt.Errorf("%w: no engine passed its availability check", ErrEngineUnavailable)
}

// Embed resolves the active engine and embeds with it. When a local engine's
// lazy load fails mid-call, the engine is demoted for the process lifetime
// and resolution retries the next candidate; remote failures stay per-call.
func (s *Selector) Embed(ctx context.Context, text string) ([]float32, error) {
	for {
		engine, err := s.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		vec, err := engine.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		if !s.demote(engine, err) {
			return nil, err
		}
		log.Printf("embedding engine %s demoted: %v", engine.Name(), err)
	}
}

// demote records a permanent load failure and clears the resolved slot so the
// next Resolve proceeds to the remaining candidates. Returns false when the
// failure should surface to the caller instead.
func (s *Selector) demote(engine Engine, cause error) bool {
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return false
	}
	if transientEngines[engine.Name()] {
		return false
	}
	if !errors.Is(cause, ErrEngineUnavailable) && engine.Name() != EngineFastEmbed && engine.Name() != EngineSentenceTransformer {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, already := s.demoted[engine.Name()]; already {
		return false
	}
	s.demoted[engine.Name()] = cause
	if s.resolved == engine {
		s.resolved = nil
	}
	// Pinned policy fails outright rather than falling back.
	return s.policy == EngineAuto
}

// Invalidate drops the cached resolution and demotion history. Hooked to
// configuration changes.
func (s *Selector) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = nil
	s.demoted = make(map[string]error)
}

// Active returns the currently resolved engine name, or "" before first use.
func (s *Selector) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved == nil {
		return ""
	}
	return s.resolved.Name()
}

// Descriptors reports all registered engines, auto candidates first.
func (s *Selector) Descriptors() []Descriptor {
	var out []Descriptor
	seen := make(map[string]bool)
	for _, name := range s.order {
		out = append(out, Describe(s.engines[name]))
		seen[name] = true
	}
	for name, engine := range s.engines {
		if !seen[name] {
			out = append(out, Describe(engine))
		}
	}
	return out
}
