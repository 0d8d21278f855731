package memory

import "time"

// Scope is the visibility class of a bank.
type Scope string

const (
	// ScopePrivate banks belong to exactly one agent identity.
	ScopePrivate Scope = "private"
	// ScopeCommon banks are visible to every agent.
	ScopeCommon Scope = "common"
)

const (
	// DefaultMaxEntries bounds a bank when no capacity is configured.
	DefaultMaxEntries = 1000
	// MaxEntriesCeiling is the hard upper bound for a bank's capacity.
	MaxEntriesCeiling = 10000

	// DefaultTopK is the search result count when the caller does not ask
	// for one; MaxTopK caps caller overrides.
	DefaultTopK = 5
	MaxTopK     = 50

	// scoreThreshold filters near-noise matches out of search results.
	scoreThreshold = 0.1

	// contextEntryLimit bounds the prompt-injection snippet.
	contextEntryLimit = 20
)

// Entry is one remembered fact. Immutable once written: entries are only
// appended and evicted, never edited in place.
type Entry struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"-"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
	// Engine and Dimensions tag the vector with its producer so entries
	// written under an earlier engine are recognizable instead of being
	// silently re-embedded.
	Engine     string `json:"engine,omitempty"`
	Dimensions int    `json:"dims,omitempty"`
}

// EntryRef confirms a successful add.
type EntryRef struct {
	BankID    string
	EntryID   string
	Position  int
	CreatedAt time.Time
}

// BankConfig describes a bank. Scope and agent binding are fixed at creation.
type BankConfig struct {
	ID          string
	DisplayName string
	Description string
	Scope       Scope
	AgentID     string // required for private scope
	MaxEntries  int
}

// BankSummary is the list_memories payload for one bank.
type BankSummary struct {
	ID          string    `json:"memory_id"`
	DisplayName string    `json:"memory_name"`
	Description string    `json:"description,omitempty"`
	Scope       Scope     `json:"scope"`
	EntryCount  int       `json:"entry_count"`
	MaxEntries  int       `json:"max_entries"`
	LastUpdated time.Time `json:"last_updated,omitempty"`
}

// ScopeContext identifies the caller for visibility checks: the caller sees
// all common banks plus private banks bound to its agent identity.
type ScopeContext struct {
	AgentID string
}

// Visible reports whether the caller may read the given bank.
func (sc ScopeContext) Visible(cfg BankConfig) bool {
	if cfg.Scope == ScopeCommon {
		return true
	}
	return sc.AgentID != "" && sc.AgentID == cfg.AgentID
}

// SearchResult pairs a matched entry with its similarity score.
type SearchResult struct {
	BankID string
	Entry  Entry
	Score  float64
}
