package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/mnemo-labs/go-memory/src/embed"
)

// stubPersister records saves in memory and can simulate write failures.
type stubPersister struct {
	mu      sync.Mutex
	saved   map[string][]Entry
	loadErr error
	saveErr error
	saves   int
}

func newStubPersister() *stubPersister {
	return &stubPersister{saved: make(map[string][]Entry)}
}

func (p *stubPersister) Load(_ context.Context, bankID string) ([]Entry, error) {
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Entry(nil), p.saved[bankID]...), nil
}

func (p *stubPersister) Save(_ context.Context, bankID string, entries []Entry) error {
	if p.saveErr != nil {
		return p.saveErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	p.saved[bankID] = append([]Entry(nil), entries...)
	return nil
}

func (p *stubPersister) Delete(_ context.Context, bankID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.saved, bankID)
	return nil
}

func (p *stubPersister) Close() error { return nil }

func newTestStore(t *testing.T) (*Store, *stubPersister) {
	t.Helper()
	persister := newStubPersister()
	selector := embed.NewSelector(embed.EngineAuto, embed.NewTFIDFEngine(""))
	return NewStore(selector, persister), persister
}

func configureBank(t *testing.T, s *Store, id string, scope Scope, agentID string, maxEntries int) {
	t.Helper()
	err := s.Configure(context.Background(), BankConfig{
		ID:          id,
		DisplayName: id,
		Scope:       scope,
		AgentID:     agentID,
		MaxEntries:  maxEntries,
	})
	if err != nil {
		t.Fatalf("Configure(%s) returned error: %v", id, err)
	}
}

func TestAddEvictsOldestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	configureBank(t, s, "notes", ScopeCommon, "", 3)

	ctx := context.Background()
	for _, text := range []string{"alpha", "beta", "gamma", "delta"} {
		if _, err := s.Add(ctx, "notes", text); err != nil {
			t.Fatalf("Add(%q) returned error: %v", text, err)
		}
	}

	b, err := s.bank("notes")
	if err != nil {
		t.Fatalf("bank lookup failed: %v", err)
	}
	_, entries, _ := b.snapshot()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, want := range []string{"beta", "gamma", "delta"} {
		if entries[i].Text != want {
			t.Fatalf("entries[%d] = %q, want %q", i, entries[i].Text, want)
		}
	}
}

func TestAddUnknownBank(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Add(context.Background(), "nope", "text")
	if !errors.Is(err, ErrBankNotFound) {
		t.Fatalf("expected ErrBankNotFound, got %v", err)
	}
}

func TestAddRefusedWhenNoEngineResolves(t *testing.T) {
	persister := newStubPersister()
	// Pinned to an engine whose runtime dependency is absent in this build.
	selector := embed.NewSelector(embed.EngineFastEmbed, embed.NewFastEmbedEngine(embed.FastEmbedOptions{}))
	s := NewStore(selector, persister)
	configureBank(t, s, "notes", ScopeCommon, "", 10)

	_, err := s.Add(context.Background(), "notes", "coffee")
	if !errors.Is(err, embed.ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
	if persister.saves != 0 {
		t.Fatalf("mutation must be refused, not stored without a vector; saves = %d", persister.saves)
	}
}

func TestAddRollsBackOnPersistFailure(t *testing.T) {
	s, persister := newTestStore(t)
	configureBank(t, s, "notes", ScopeCommon, "", 10)

	persister.saveErr = fmt.Errorf("disk full")
	if _, err := s.Add(context.Background(), "notes", "coffee"); err == nil {
		t.Fatalf("expected persist failure to surface")
	}

	persister.saveErr = nil
	summaries := s.List()
	if summaries[0].EntryCount != 0 {
		t.Fatalf("failed add left %d entries in memory, want 0", summaries[0].EntryCount)
	}
}

func TestClearPreservesConfiguration(t *testing.T) {
	s, _ := newTestStore(t)
	configureBank(t, s, "notes", ScopeCommon, "", 7)

	ctx := context.Background()
	if _, err := s.Add(ctx, "notes", "coffee"); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if err := s.Clear(ctx, "notes"); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}
	// Idempotent.
	if err := s.Clear(ctx, "notes"); err != nil {
		t.Fatalf("second Clear returned error: %v", err)
	}

	summaries := s.List()
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1", len(summaries))
	}
	if summaries[0].EntryCount != 0 {
		t.Fatalf("entry count = %d after clear, want 0", summaries[0].EntryCount)
	}
	if summaries[0].MaxEntries != 7 {
		t.Fatalf("max entries = %d after clear, want 7", summaries[0].MaxEntries)
	}
}

func TestConcurrentAddsLoseNothing(t *testing.T) {
	s, _ := newTestStore(t)
	configureBank(t, s, "notes", ScopeCommon, "", 1000)

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Add(context.Background(), "notes", fmt.Sprintf("memory number %d", i))
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Add #%d returned error: %v", i, err)
		}
	}

	b, _ := s.bank("notes")
	_, entries, _ := b.snapshot()
	if len(entries) != n {
		t.Fatalf("got %d entries after %d concurrent adds, want %d", len(entries), n, n)
	}
	seen := make(map[string]bool, n)
	for _, e := range entries {
		if seen[e.Text] {
			t.Fatalf("duplicated entry %q", e.Text)
		}
		seen[e.Text] = true
	}
}

func TestSearchRanksRelevantFirst(t *testing.T) {
	s, _ := newTestStore(t)
	configureBank(t, s, "notes", ScopeCommon, "", 100)

	ctx := context.Background()
	for _, text := range []string{
		"the user takes their coffee black every morning",
		"green tea should be brewed at eighty degrees",
		"yesterday was rainy and cold outside",
	} {
		if _, err := s.Add(ctx, "notes", text); err != nil {
			t.Fatalf("Add(%q) returned error: %v", text, err)
		}
	}

	results, err := s.Search(ctx, "coffee", ScopeContext{}, 2)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result")
	}
	if len(results) > 2 {
		t.Fatalf("got %d results, want at most 2", len(results))
	}
	if got := results[0].Entry.Text; got != "the user takes their coffee black every morning" {
		t.Fatalf("top result = %q, want the coffee entry", got)
	}
}

func TestSearchEmptyStoreReturnsEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	configureBank(t, s, "notes", ScopeCommon, "", 100)

	results, err := s.Search(context.Background(), "coffee", ScopeContext{}, 5)
	if err != nil {
		t.Fatalf("Search on empty bank returned error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("got %d results from empty bank, want 0", len(results))
	}
}

func TestSearchHonorsScope(t *testing.T) {
	s, _ := newTestStore(t)
	configureBank(t, s, "common", ScopeCommon, "", 100)
	configureBank(t, s, "private_alice", ScopePrivate, "agent.alice", 100)
	configureBank(t, s, "private_bob", ScopePrivate, "agent.bob", 100)

	ctx := context.Background()
	mustAdd := func(bankID, text string) {
		t.Helper()
		if _, err := s.Add(ctx, bankID, text); err != nil {
			t.Fatalf("Add(%s, %q) returned error: %v", bankID, text, err)
		}
	}
	mustAdd("common", "everyone drinks coffee at the office")
	mustAdd("private_alice", "alice hides the good coffee beans")
	mustAdd("private_bob", "bob borrowed the coffee grinder")

	results, err := s.Search(ctx, "coffee", ScopeContext{AgentID: "agent.alice"}, 10)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	for _, r := range results {
		if r.BankID == "private_bob" {
			t.Fatalf("search leaked another agent's private bank: %+v", r)
		}
	}
	banks := make(map[string]bool)
	for _, r := range results {
		banks[r.BankID] = true
	}
	if !banks["common"] || !banks["private_alice"] {
		t.Fatalf("expected results from common and the caller's private bank, got %v", banks)
	}
}

func TestScopeIsImmutableAcrossReconfigure(t *testing.T) {
	s, _ := newTestStore(t)
	configureBank(t, s, "notes", ScopePrivate, "agent.alice", 10)

	err := s.Configure(context.Background(), BankConfig{
		ID:         "notes",
		Scope:      ScopeCommon,
		MaxEntries: 20,
	})
	if err != nil {
		t.Fatalf("reconfigure returned error: %v", err)
	}

	summaries := s.List()
	if summaries[0].Scope != ScopePrivate {
		t.Fatalf("scope changed on reconfigure: %s", summaries[0].Scope)
	}
	if summaries[0].MaxEntries != 20 {
		t.Fatalf("max entries = %d, want updated value 20", summaries[0].MaxEntries)
	}
}

func TestReconfigureConcurrentWithReads(t *testing.T) {
	s, _ := newTestStore(t)
	configureBank(t, s, "notes", ScopeCommon, "", 10)
	if _, err := s.Add(context.Background(), "notes", "seed entry"); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			err := s.Configure(context.Background(), BankConfig{
				ID:          "notes",
				DisplayName: fmt.Sprintf("notes-%d", i),
				MaxEntries:  10 + i%5,
			})
			if err != nil {
				t.Errorf("reconfigure returned error: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.List()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, err := s.Context("notes"); err != nil {
				t.Errorf("Context returned error: %v", err)
				return
			}
		}
	}()
	wg.Wait()
}

func TestConfigureRequiresAgentForPrivate(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.Configure(context.Background(), BankConfig{ID: "p", Scope: ScopePrivate})
	if err == nil {
		t.Fatalf("expected error for private bank without agent id")
	}
}

func TestRemoveDeletesPersistedState(t *testing.T) {
	s, persister := newTestStore(t)
	configureBank(t, s, "notes", ScopeCommon, "", 10)

	ctx := context.Background()
	if _, err := s.Add(ctx, "notes", "coffee"); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if err := s.Remove(ctx, "notes"); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}
	if _, ok := persister.saved["notes"]; ok {
		t.Fatalf("persisted state survived Remove")
	}
	if err := s.Remove(ctx, "notes"); !errors.Is(err, ErrBankNotFound) {
		t.Fatalf("expected ErrBankNotFound on second Remove, got %v", err)
	}
}

func TestCorruptBankStartsEmptyOthersUsable(t *testing.T) {
	persister := newStubPersister()
	persister.loadErr = fmt.Errorf("%w: synthetic", ErrStorageCorrupt)
	selector := embed.NewSelector(embed.EngineAuto, embed.NewTFIDFEngine(""))
	s := NewStore(selector, persister)

	configureBank(t, s, "broken", ScopeCommon, "", 10)
	persister.loadErr = nil
	configureBank(t, s, "healthy", ScopeCommon, "", 10)

	ctx := context.Background()
	if _, err := s.Add(ctx, "healthy", "coffee"); err != nil {
		t.Fatalf("healthy bank unusable after sibling corruption: %v", err)
	}
	if _, err := s.Add(ctx, "broken", "tea"); err != nil {
		t.Fatalf("corrupt bank should restart empty and accept writes: %v", err)
	}
}

func TestContextSnippet(t *testing.T) {
	s, _ := newTestStore(t)
	configureBank(t, s, "notes", ScopeCommon, "", 100)

	ctx := context.Background()
	if _, err := s.Add(ctx, "notes", "the user prefers oat milk"); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	snippet, err := s.Context("notes")
	if err != nil {
		t.Fatalf("Context returned error: %v", err)
	}
	if snippet == "" {
		t.Fatalf("expected non-empty snippet")
	}
	for _, want := range []string{"LONG-TERM MEMORY", "the user prefers oat milk", "1 entries"} {
		if !strings.Contains(snippet, want) {
			t.Fatalf("snippet missing %q:\n%s", want, snippet)
		}
	}

	if err := s.Clear(ctx, "notes"); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}
	snippet, err = s.Context("notes")
	if err != nil {
		t.Fatalf("Context returned error: %v", err)
	}
	if snippet != "" {
		t.Fatalf("expected empty snippet for empty bank, got %q", snippet)
	}
}

func TestReembedTagsEntriesWithActiveEngine(t *testing.T) {
	s, _ := newTestStore(t)
	configureBank(t, s, "notes", ScopeCommon, "", 10)

	ctx := context.Background()
	if _, err := s.Add(ctx, "notes", "coffee"); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	// Simulate an entry written by a prior engine with another dimension.
	b, _ := s.bank("notes")
	b.mu.Lock()
	b.entries = append(b.entries, Entry{ID: "old", Text: "tea", Embedding: make([]float32, 16), Engine: "legacy", Dimensions: 16})
	b.mu.Unlock()

	if err := s.Reembed(ctx, "notes"); err != nil {
		t.Fatalf("Reembed returned error: %v", err)
	}
	_, entries, _ := b.snapshot()
	for _, e := range entries {
		if e.Engine != embed.EngineTFIDF {
			t.Fatalf("entry %s still tagged %q after re-embed", e.ID, e.Engine)
		}
		if e.Dimensions != embed.DefaultDimensions {
			t.Fatalf("entry %s dimension = %d after re-embed, want %d", e.ID, e.Dimensions, embed.DefaultDimensions)
		}
	}
}
