package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mnemo-labs/go-memory/src/memory"
)

// Service is the automation-facing surface: direct operations addressed by
// memory id, thin delegation to the store.
type Service struct {
	store *memory.Store
}

func NewService(store *memory.Store) *Service {
	return &Service{store: store}
}

// AddMemory appends text to the named bank.
func (s *Service) AddMemory(ctx context.Context, memoryID, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("no text provided for add_memory")
	}
	_, err := s.store.Add(ctx, memoryID, text)
	return err
}

// ClearMemory empties the named bank, keeping its configuration.
func (s *Service) ClearMemory(ctx context.Context, memoryID string) error {
	return s.store.Clear(ctx, memoryID)
}

// ListMemoriesResponse is the list_memories service payload.
type ListMemoriesResponse struct {
	Memories []memory.BankSummary `json:"memories"`
}

// ListMemories summarizes every configured bank.
func (s *Service) ListMemories(context.Context) ListMemoriesResponse {
	return ListMemoriesResponse{Memories: s.store.List()}
}

// GetContext renders the named bank's prompt-injection snippet.
func (s *Service) GetContext(_ context.Context, memoryID string) (string, error) {
	snippet, err := s.store.Context(memoryID)
	if err != nil {
		return "", err
	}
	if snippet == "" {
		return "No memories yet", nil
	}
	return snippet, nil
}
