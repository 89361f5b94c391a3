package toolsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kestrel-dev/agentmem/internal/conflict"
	"github.com/kestrel-dev/agentmem/internal/memerr"
	"github.com/kestrel-dev/agentmem/internal/memory"
)

// invalidArgument builds a domain-error ToolResult for a bad or missing
// argument, detected before any store/search call is attempted.
func invalidArgument(msg string) ToolResult {
	return errorResult(memerr.New(memerr.InvalidArgument, "Invalid arguments: "+msg).Error())
}

func invalidArgumentErr(err error) ToolResult {
	return errorResult(memerr.Wrap(memerr.InvalidArgument, "Invalid arguments", err).Error())
}

func notFoundResult(id string) ToolResult {
	return errorResult(memerr.New(memerr.NotFound, fmt.Sprintf("memory %s not found", id)).Error())
}

func toolDescriptors() []map[string]any {
	return []map[string]any{
		{"name": "search_memories", "description": "Search stored memories by query text, optionally filtered by tags."},
		{"name": "store_memory", "description": "Store a new memory, resolving duplicates and conflicts against what is already stored."},
		{"name": "update_memory", "description": "Partially update a memory's title, summary, content, or tags."},
		{"name": "get_memory", "description": "Fetch a memory by id, reinforcing it."},
		{"name": "delete_memory", "description": "Permanently delete a memory by id."},
		{"name": "get_stats", "description": "Return aggregate statistics about the memory store."},
		{"name": "get_tag_history", "description": "Return the supersession history of memories carrying a tag."},
	}
}

func resourceDescriptors() []map[string]any {
	return []map[string]any{
		{"uri": "memory://stats", "description": "Aggregate statistics, as JSON."},
		{"uri": "memory://recent", "description": "The 10 most recently accessed memories, as JSON."},
		{"uri": "memory://{id}", "description": "A single memory by id, as JSON. Reinforces on read."},
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// --- search_memories ---

type searchArgs struct {
	Query string   `json:"query"`
	TopN  int      `json:"top_n"`
	Tags  []string `json:"tags"`
}

func (s *Server) toolSearchMemories(ctx context.Context, raw json.RawMessage) ToolResult {
	var args searchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return invalidArgumentErr(err)
	}
	results, err := s.Search.Search(ctx, args.Query, args.TopN, args.Tags)
	if err != nil {
		return errorResult("search failed: " + err.Error())
	}
	if len(results) == 0 {
		return textResult("No matching memories found.")
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s (score %.3f)\n   %s\n", i+1, r.Memory.Title, r.Score, r.Memory.Summary)
	}
	return textResult(b.String())
}

// --- store_memory ---

type storeArgs struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags"`
	Importance float64  `json:"importance"`
}

func (s *Server) toolStoreMemory(ctx context.Context, raw json.RawMessage) ToolResult {
	var args storeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return invalidArgumentErr(err)
	}
	if strings.TrimSpace(args.Title) == "" {
		return invalidArgument("title is required")
	}
	if strings.TrimSpace(args.Summary) == "" {
		return invalidArgument("summary is required")
	}

	m := memory.New(args.Title, args.Summary, args.Content, args.Tags, args.Importance, s.Limits, time.Now())
	result, err := s.Resolver.Store(ctx, m)
	if err != nil {
		return errorResult("store failed: " + err.Error())
	}
	return textResult(describeStoreResult(result))
}

func describeStoreResult(result *conflict.Result) string {
	switch result.Action {
	case conflict.ReinforcedExisting:
		return fmt.Sprintf("Reinforced existing memory %q (id %s). %s", result.Memory.Title, result.Memory.ID, result.Message)
	case conflict.StoredWithSupersede:
		names := make([]string, len(result.Superseded))
		for i, m := range result.Superseded {
			names[i] = m.Title
		}
		return fmt.Sprintf("Stored %q (id %s), superseding: %s.", result.Memory.Title, result.Memory.ID, strings.Join(names, ", "))
	case conflict.StoredCoexist:
		return fmt.Sprintf("Stored %q (id %s) alongside related memories.", result.Memory.Title, result.Memory.ID)
	default:
		return fmt.Sprintf("Stored %q (id %s).", result.Memory.Title, result.Memory.ID)
	}
}

// --- update_memory ---

type updateArgs struct {
	ID      string    `json:"id"`
	Title   *string   `json:"title"`
	Summary *string   `json:"summary"`
	Content *string   `json:"content"`
	Tags    *[]string `json:"tags"`
}

func (s *Server) toolUpdateMemory(ctx context.Context, raw json.RawMessage) ToolResult {
	var args updateArgs
	if err := decodeArgs(raw, &args); err != nil {
		return invalidArgumentErr(err)
	}
	if strings.TrimSpace(args.ID) == "" {
		return invalidArgument("id is required")
	}
	m, err := s.Store.Get(ctx, args.ID)
	if err != nil {
		return errorResult("update failed: " + err.Error())
	}
	if m == nil {
		return notFoundResult(args.ID)
	}

	reembed := false
	if args.Title != nil {
		m.Title = clamp(*args.Title, s.Limits.MaxTitle)
		reembed = true
	}
	if args.Summary != nil {
		m.Summary = clamp(*args.Summary, s.Limits.MaxSummary)
		reembed = true
	}
	if args.Content != nil {
		m.Content = clamp(*args.Content, s.Limits.MaxContent)
		reembed = true
	}
	if args.Tags != nil {
		m.Tags = memory.NormalizeTags(*args.Tags, s.Limits.MaxTags)
	}
	m.Recompute()

	if reembed && s.Resolver.Embedder != nil && s.Resolver.Embedder.IsAvailable() {
		if v, err := s.Resolver.Embedder.Embed(ctx, m.Title+" "+m.Summary); err == nil {
			m.SetEmbedding(v)
		} else {
			slog.Debug("update_memory: re-embed skipped", "id", m.ID, "error", memerr.Wrap(memerr.EmbeddingUnavailable, "re-embed failed", err))
		}
	}

	if err := s.Store.Save(ctx, m); err != nil {
		return errorResult("update failed: " + err.Error())
	}
	return textResult(fmt.Sprintf("Updated memory %q (id %s).", m.Title, m.ID))
}

func clamp(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	return string(r[:max])
}

// --- get_memory ---

type idArgs struct {
	ID string `json:"id"`
}

func (s *Server) toolGetMemory(ctx context.Context, raw json.RawMessage) ToolResult {
	var args idArgs
	if err := decodeArgs(raw, &args); err != nil {
		return invalidArgumentErr(err)
	}
	if strings.TrimSpace(args.ID) == "" {
		return invalidArgument("id is required")
	}
	m, err := s.Store.Get(ctx, args.ID)
	if err != nil {
		return errorResult("get failed: " + err.Error())
	}
	if m == nil {
		return notFoundResult(args.ID)
	}
	if s.Reinforce != nil {
		s.Reinforce.Enqueue(m.ID)
	}
	data, _ := json.MarshalIndent(m, "", "  ")
	return textResult(string(data))
}

// --- delete_memory ---

func (s *Server) toolDeleteMemory(ctx context.Context, raw json.RawMessage) ToolResult {
	var args idArgs
	if err := decodeArgs(raw, &args); err != nil {
		return invalidArgumentErr(err)
	}
	if strings.TrimSpace(args.ID) == "" {
		return invalidArgument("id is required")
	}
	ok, err := s.Store.Delete(ctx, args.ID)
	if err != nil {
		return errorResult("delete failed: " + err.Error())
	}
	if !ok {
		return textResult(fmt.Sprintf("memory %s not found", args.ID))
	}
	return textResult(fmt.Sprintf("Deleted memory %s.", args.ID))
}

// --- get_stats ---

func (s *Server) toolGetStats(ctx context.Context, raw json.RawMessage) ToolResult {
	st, err := s.Store.Stats(ctx, s.WeakThreshold, time.Now())
	if err != nil {
		return errorResult("stats failed: " + err.Error())
	}
	data, _ := json.MarshalIndent(st, "", "  ")
	return textResult(string(data))
}

// --- get_tag_history ---

type tagHistoryArgs struct {
	Tag             string `json:"tag"`
	IncludeArchived bool   `json:"include_archived"`
}

func (s *Server) toolGetTagHistory(ctx context.Context, raw json.RawMessage) ToolResult {
	var args tagHistoryArgs
	if err := decodeArgs(raw, &args); err != nil {
		return invalidArgumentErr(err)
	}
	if strings.TrimSpace(args.Tag) == "" {
		return invalidArgument("tag is required")
	}
	hist, err := s.Resolver.GetTagHistory(ctx, args.Tag, args.IncludeArchived)
	if err != nil {
		return errorResult("tag history failed: " + err.Error())
	}
	if len(hist) == 0 {
		return textResult(fmt.Sprintf("No memories found for tag %q.", args.Tag))
	}
	var b strings.Builder
	for _, m := range hist {
		status := "current"
		if m.IsArchived {
			status = "archived"
		}
		fmt.Fprintf(&b, "- %s [%s] (valid_from %s)\n", m.Title, status, m.ValidFrom.Format(time.RFC3339))
	}
	return textResult(b.String())
}
