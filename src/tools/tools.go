// Package tools exposes the memory store to an LLM agent runtime as a pair
// of invocable tools, and to automations as direct service operations.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mnemo-labs/go-memory/src/memory"
)

// ToolSpec describes how the host should present a tool to the model.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolRequest captures an invocation request for a tool. AgentID carries the
// caller's agent identity from the host and scopes private-memory access.
type ToolRequest struct {
	AgentID   string
	Arguments map[string]any
}

// ToolResponse is the structured result returned by a tool.
type ToolResponse struct {
	Content  string
	Metadata map[string]string
}

// Tool exposes structured metadata and an invocation handler. An error
// returned from Invoke is rendered by the host as a failed tool call; tools
// never panic into the host process.
type Tool interface {
	Spec() ToolSpec
	Invoke(ctx context.Context, req ToolRequest) (ToolResponse, error)
}

// AddMemoryTool stores a fact in the caller's private bank, or in the shared
// common bank when asked to.
type AddMemoryTool struct {
	store *memory.Store
}

func NewAddMemoryTool(store *memory.Store) *AddMemoryTool {
	return &AddMemoryTool{store: store}
}

func (t *AddMemoryTool) Spec() ToolSpec {
	return ToolSpec{
		Name: "add_memory",
		Description: "Add information to long-term memory. Use 'private' scope for user-specific facts, " +
			"'common' for general facts shared with other assistants.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{
					"type":        "string",
					"description": "The fact or preference to remember.",
				},
				"scope": map[string]any{
					"type":        "string",
					"enum":        []string{"private", "common"},
					"description": "Visibility of the memory. Defaults to private.",
				},
			},
			"required": []string{"content"},
		},
	}
}

func (t *AddMemoryTool) Invoke(ctx context.Context, req ToolRequest) (ToolResponse, error) {
	content, _ := req.Arguments["content"].(string)
	if strings.TrimSpace(content) == "" {
		return ToolResponse{}, fmt.Errorf("missing or empty 'content' argument")
	}

	scope := memory.ScopePrivate
	if raw, ok := req.Arguments["scope"].(string); ok && raw != "" {
		switch memory.Scope(raw) {
		case memory.ScopePrivate, memory.ScopeCommon:
			scope = memory.Scope(raw)
		default:
			return ToolResponse{}, fmt.Errorf("invalid scope %q", raw)
		}
	}
	if scope == memory.ScopePrivate && req.AgentID == "" {
		return ToolResponse{}, fmt.Errorf("private scope requires an agent identity")
	}

	bankID, ok := t.store.BankFor(scope, req.AgentID)
	if !ok {
		return ToolResponse{}, fmt.Errorf("no %s memory bank configured", scope)
	}
	ref, err := t.store.Add(ctx, bankID, content)
	if err != nil {
		return ToolResponse{}, fmt.Errorf("add memory: %w", err)
	}
	return ToolResponse{
		Content: fmt.Sprintf("Saved to %s memory.", scope),
		Metadata: map[string]string{
			"memory_id": ref.BankID,
			"entry_id":  ref.EntryID,
		},
	}, nil
}

// SearchMemoryTool searches the caller's visible banks (its private banks
// plus all common ones).
type SearchMemoryTool struct {
	store *memory.Store
}

func NewSearchMemoryTool(store *memory.Store) *SearchMemoryTool {
	return &SearchMemoryTool{store: store}
}

func (t *SearchMemoryTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "search_memory",
		Description: "Search through long-term memory (both private and common).",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Free-text query to match against stored memories.",
				},
			},
			"required": []string{"query"},
		},
	}
}

func (t *SearchMemoryTool) Invoke(ctx context.Context, req ToolRequest) (ToolResponse, error) {
	query, _ := req.Arguments["query"].(string)
	if strings.TrimSpace(query) == "" {
		return ToolResponse{}, fmt.Errorf("missing or empty 'query' argument")
	}

	results, err := t.store.Search(ctx, query, memory.ScopeContext{AgentID: req.AgentID}, memory.DefaultTopK)
	if err != nil {
		return ToolResponse{}, fmt.Errorf("search memory: %w", err)
	}
	if len(results) == 0 {
		return ToolResponse{Content: "No matching memories found."}, nil
	}

	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = fmt.Sprintf("- %s (memory: %s)", r.Entry.Text, r.BankID)
	}
	return ToolResponse{
		Content:  strings.Join(lines, "\n"),
		Metadata: map[string]string{"result_count": fmt.Sprintf("%d", len(results))},
	}, nil
}

// Tools returns the full agent-facing tool set for a store.
func Tools(store *memory.Store) []Tool {
	return []Tool{NewAddMemoryTool(store), NewSearchMemoryTool(store)}
}
