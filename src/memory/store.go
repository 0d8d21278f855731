package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mnemo-labs/go-memory/src/concurrent"
	"github.com/mnemo-labs/go-memory/src/embed"
)

// reembedWorkers bounds concurrent embed calls during an explicit Reembed.
const reembedWorkers = 4

// vocabularyUpdater is implemented by engines whose future embeddings
// improve from seeing stored documents (the TF-IDF engine).
type vocabularyUpdater interface {
	UpdateVocabulary(text string)
}

type bank struct {
	cfg BankConfig

	// mu serializes mutations to this bank only; other banks proceed
	// independently. Search snapshots under the same lock but scores
	// outside it.
	mu          sync.Mutex
	entries     []Entry
	lastUpdated time.Time
}

// snapshot copies the bank's state under its mutex. Callers must use the
// returned config rather than b.cfg: a concurrent Configure may rewrite
// b.cfg at any time.
func (b *bank) snapshot() (BankConfig, []Entry, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := make([]Entry, len(b.entries))
	copy(entries, b.entries)
	return b.cfg, entries, b.lastUpdated
}

// Store owns the configured memory banks, their persistence, and the
// similarity query path.
type Store struct {
	selector  *embed.Selector
	persister Persister

	mu    sync.RWMutex
	banks map[string]*bank
}

// NewStore wires a store over the given engine selector and persister.
func NewStore(selector *embed.Selector, persister Persister) *Store {
	return &Store{
		selector:  selector,
		persister: persister,
		banks:     make(map[string]*bank),
	}
}

// Selector returns the engine selector the store embeds with.
func (s *Store) Selector() *embed.Selector { return s.selector }

// Configure registers a bank and loads its persisted entries. A corrupt
// persisted file leaves the bank empty and usable; other banks are
// unaffected. Reconfiguring an existing bank updates display fields and
// capacity but never its scope.
func (s *Store) Configure(ctx context.Context, cfg BankConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("bank id is required")
	}
	switch cfg.Scope {
	case ScopeCommon:
	case ScopePrivate:
		if cfg.AgentID == "" {
			return fmt.Errorf("bank %s: private scope requires an agent id", cfg.ID)
		}
	default:
		return fmt.Errorf("bank %s: invalid scope %q", cfg.ID, cfg.Scope)
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.MaxEntries > MaxEntriesCeiling {
		cfg.MaxEntries = MaxEntriesCeiling
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.banks[cfg.ID]; ok {
		// Scope is immutable after creation.
		cfg.Scope = existing.cfg.Scope
		cfg.AgentID = existing.cfg.AgentID
		existing.mu.Lock()
		existing.cfg = cfg
		existing.mu.Unlock()
		return nil
	}

	entries, err := s.persister.Load(ctx, cfg.ID)
	if err != nil {
		if !errors.Is(err, ErrStorageCorrupt) {
			return fmt.Errorf("configure bank %s: %w", cfg.ID, err)
		}
		log.Printf("memory: bank %s persisted state unreadable, starting empty: %v", cfg.ID, err)
		entries = nil
	}
	if len(entries) > cfg.MaxEntries {
		entries = entries[len(entries)-cfg.MaxEntries:]
	}
	b := &bank{cfg: cfg, entries: entries}
	if len(entries) > 0 {
		b.lastUpdated = entries[len(entries)-1].CreatedAt
	}
	s.banks[cfg.ID] = b
	return nil
}

// Remove drops a bank and deletes its persisted representation. Called when
// the owning configuration entry goes away.
func (s *Store) Remove(ctx context.Context, bankID string) error {
	s.mu.Lock()
	_, ok := s.banks[bankID]
	delete(s.banks, bankID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrBankNotFound, bankID)
	}
	return s.persister.Delete(ctx, bankID)
}

func (s *Store) bank(bankID string) (*bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.banks[bankID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBankNotFound, bankID)
	}
	return b, nil
}

// Add embeds text with the resolved engine and appends it to the bank,
// evicting oldest entries beyond capacity. It returns only after the updated
// bank state is durably written.
func (s *Store) Add(ctx context.Context, bankID, text string) (EntryRef, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return EntryRef{}, fmt.Errorf("cannot add empty memory")
	}
	b, err := s.bank(bankID)
	if err != nil {
		return EntryRef{}, err
	}

	vector, err := s.selector.Embed(ctx, text)
	if err != nil {
		return EntryRef{}, err
	}
	entry := Entry{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now(),
		Text:       text,
		Embedding:  vector,
		Engine:     s.selector.Active(),
		Dimensions: len(vector),
	}

	b.mu.Lock()
	previous := b.entries
	next := append(append([]Entry(nil), b.entries...), entry)
	for len(next) > b.cfg.MaxEntries {
		log.Printf("memory: bank %s at capacity (%d), evicting oldest entry", bankID, b.cfg.MaxEntries)
		next = next[1:]
	}
	b.entries = next
	if err := s.persister.Save(ctx, bankID, next); err != nil {
		b.entries = previous
		b.mu.Unlock()
		return EntryRef{}, fmt.Errorf("persist bank %s: %w", bankID, err)
	}
	b.lastUpdated = entry.CreatedAt
	position := len(next) - 1
	b.mu.Unlock()

	s.updateVocabulary(ctx, text)

	return EntryRef{
		BankID:    bankID,
		EntryID:   entry.ID,
		Position:  position,
		CreatedAt: entry.CreatedAt,
	}, nil
}

// updateVocabulary feeds stored text back to corpus-statistics engines.
func (s *Store) updateVocabulary(ctx context.Context, text string) {
	engine, err := s.selector.Resolve(ctx)
	if err != nil {
		return
	}
	if updater, ok := engine.(vocabularyUpdater); ok {
		updater.UpdateVocabulary(text)
	}
}

// Clear empties a bank while keeping its configuration. Idempotent; returns
// after the empty state is durably written.
func (s *Store) Clear(ctx context.Context, bankID string) error {
	b, err := s.bank(bankID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	previous := b.entries
	b.entries = nil
	if err := s.persister.Save(ctx, bankID, nil); err != nil {
		b.entries = previous
		return fmt.Errorf("persist bank %s: %w", bankID, err)
	}
	b.lastUpdated = time.Now()
	log.Printf("memory: bank %s cleared (%d entries removed)", bankID, len(previous))
	return nil
}

// List summarizes all configured banks, ordered by id.
func (s *Store) List() []BankSummary {
	s.mu.RLock()
	banks := make([]*bank, 0, len(s.banks))
	for _, b := range s.banks {
		banks = append(banks, b)
	}
	s.mu.RUnlock()

	summaries := make([]BankSummary, 0, len(banks))
	for _, b := range banks {
		cfg, entries, lastUpdated := b.snapshot()
		summaries = append(summaries, BankSummary{
			ID:          cfg.ID,
			DisplayName: cfg.DisplayName,
			Description: cfg.Description,
			Scope:       cfg.Scope,
			EntryCount:  len(entries),
			MaxEntries:  cfg.MaxEntries,
			LastUpdated: lastUpdated,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}

// BankFor returns the id of the bank serving the given scope for an agent:
// the agent's private bank, or the first common bank by id. Used by the tool
// surface, which speaks in scopes rather than bank ids.
func (s *Store) BankFor(scope Scope, agentID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var match string
	for id, b := range s.banks {
		switch scope {
		case ScopePrivate:
			if b.cfg.Scope == ScopePrivate && b.cfg.AgentID == agentID {
				if match == "" || id < match {
					match = id
				}
			}
		case ScopeCommon:
			if b.cfg.Scope == ScopeCommon {
				if match == "" || id < match {
					match = id
				}
			}
		}
	}
	return match, match != ""
}

// Search ranks entries from all banks visible under the caller's scope.
// An empty corpus yields an empty result, not an error.
func (s *Store) Search(ctx context.Context, query string, scope ScopeContext, topK int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	s.mu.RLock()
	visible := make([]*bank, 0, len(s.banks))
	for _, b := range s.banks {
		if scope.Visible(b.cfg) {
			visible = append(visible, b)
		}
	}
	s.mu.RUnlock()

	var candidates []SearchResult
	for _, b := range visible {
		cfg, entries, _ := b.snapshot()
		for _, e := range entries {
			candidates = append(candidates, SearchResult{BankID: cfg.ID, Entry: e})
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	queryVector, err := s.selector.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return rankEntries(queryVector, candidates, topK), nil
}

// Context renders the bank's most recent entries as a snippet for prompt
// injection.
func (s *Store) Context(bankID string) (string, error) {
	b, err := s.bank(bankID)
	if err != nil {
		return "", err
	}
	cfg, entries, _ := b.snapshot()
	if len(entries) == 0 {
		return "", nil
	}

	recent := entries
	if len(recent) > contextEntryLimit {
		recent = recent[len(recent)-contextEntryLimit:]
	}
	lines := make([]string, len(recent))
	for i, e := range recent {
		lines[i] = fmt.Sprintf("[%s] %s", e.CreatedAt.Format(timeLayout), e.Text)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## LONG-TERM MEMORY: %s\n", cfg.DisplayName)
	if cfg.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", cfg.Description)
	}
	fmt.Fprintf(&sb, "This memory bank contains %d entries. Showing the most recent %d:\n\n", len(entries), len(recent))
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteString("\n\nUse these established facts and preferences naturally in your responses.\n")
	return sb.String(), nil
}

// Reembed recomputes every entry's vector with the currently resolved
// engine. This is the explicit maintenance path for migrating entries left
// behind by an earlier engine; it is never triggered implicitly.
func (s *Store) Reembed(ctx context.Context, bankID string) error {
	b, err := s.bank(bankID)
	if err != nil {
		return err
	}
	engine, err := s.selector.Resolve(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	previous := b.entries
	vectors, err := concurrent.Map(ctx, b.entries, reembedWorkers,
		func(ctx context.Context, e Entry) ([]float32, error) {
			return engine.Embed(ctx, e.Text)
		})
	if err != nil {
		return fmt.Errorf("re-embed bank %s: %w", bankID, err)
	}
	next := make([]Entry, len(b.entries))
	for i, e := range b.entries {
		e.Embedding = vectors[i]
		e.Engine = engine.Name()
		e.Dimensions = len(vectors[i])
		next[i] = e
	}
	b.entries = next
	if err := s.persister.Save(ctx, bankID, next); err != nil {
		b.entries = previous
		return fmt.Errorf("persist bank %s: %w", bankID, err)
	}
	b.lastUpdated = time.Now()
	log.Printf("memory: bank %s re-embedded %d entries with %s", bankID, len(next), engine.Name())
	return nil
}

// Close releases the persister.
func (s *Store) Close() error { return s.persister.Close() }
