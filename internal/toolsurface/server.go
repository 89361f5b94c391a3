package toolsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kestrel-dev/agentmem/internal/conflict"
	"github.com/kestrel-dev/agentmem/internal/memerr"
	"github.com/kestrel-dev/agentmem/internal/memory"
	"github.com/kestrel-dev/agentmem/internal/reinforce"
	"github.com/kestrel-dev/agentmem/internal/search"
	"github.com/kestrel-dev/agentmem/internal/storage"
)

// ProtocolVersion is returned from initialize.
const ProtocolVersion = "2024-11-05"

// defaultWeakThreshold matches config.Default()'s decay.weak_threshold.
const defaultWeakThreshold = 0.1

// Server dispatches JSON-RPC requests to the tool and resource handlers.
type Server struct {
	Search        *search.Engine
	Resolver      *conflict.Resolver
	Store         storage.Port
	Reinforce     *reinforce.Queue
	Limits        memory.Limits
	WeakThreshold float64
}

// New builds a Server wiring the three core components together, with
// default ingress clamps applied.
func New(searchEngine *search.Engine, resolver *conflict.Resolver, store storage.Port, queue *reinforce.Queue) *Server {
	return &Server{Search: searchEngine, Resolver: resolver, Store: store, Reinforce: queue, Limits: memory.DefaultLimits(), WeakThreshold: defaultWeakThreshold}
}

// Handle parses raw as a single JSON-RPC request and dispatches it,
// returning the marshaled response. A malformed request body yields a
// -32700 parse error response instead of returning a Go error, matching the
// "tool domain errors are normal return values" propagation policy.
func (s *Server) Handle(ctx context.Context, raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		resp := s.rpcError(nil, memerr.Wrap(memerr.ParseError, "parse error", err))
		out, _ := json.Marshal(resp)
		return out
	}

	resp := s.dispatch(ctx, &req)
	out, err := json.Marshal(resp)
	if err != nil {
		fallback := newError(req.ID, CodeInternalError, "failed to encode response")
		out, _ = json.Marshal(fallback)
	}
	return out
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return newResult(req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"serverInfo":      map[string]any{"name": "agentmem", "version": "1.0.0"},
			"capabilities":    map[string]any{"tools": map[string]any{}, "resources": map[string]any{}},
		})
	case "ping":
		return newResult(req.ID, map[string]any{})
	case "tools/list":
		return newResult(req.ID, map[string]any{"tools": toolDescriptors()})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "resources/list":
		return newResult(req.ID, map[string]any{"resources": resourceDescriptors()})
	case "resources/read":
		return s.handleResourcesRead(ctx, req)
	default:
		return s.rpcError(req.ID, memerr.New(memerr.MethodNotFound, fmt.Sprintf("method not found: %s", req.Method)))
	}
}

// rpcError maps err's memerr.Kind (if any) to a JSON-RPC error code, falling
// back to an internal error for untyped errors. This is the one place a
// domain error crosses into the transport-level error channel; tool-call
// results never go through it.
func (s *Server) rpcError(id json.RawMessage, err error) *Response {
	switch {
	case memerr.Is(err, memerr.ParseError):
		return newError(id, CodeParseError, err.Error())
	case memerr.Is(err, memerr.MethodNotFound):
		return newError(id, CodeMethodNotFound, err.Error())
	case memerr.Is(err, memerr.InvalidArgument), memerr.Is(err, memerr.NotFound):
		return newError(id, CodeInvalidParams, err.Error())
	default:
		return newError(id, CodeInternalError, err.Error())
	}
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.rpcError(req.ID, memerr.Wrap(memerr.InvalidArgument, "invalid params", err))
	}

	var result ToolResult
	switch params.Name {
	case "search_memories":
		result = s.toolSearchMemories(ctx, params.Arguments)
	case "store_memory":
		result = s.toolStoreMemory(ctx, params.Arguments)
	case "update_memory":
		result = s.toolUpdateMemory(ctx, params.Arguments)
	case "get_memory":
		result = s.toolGetMemory(ctx, params.Arguments)
	case "delete_memory":
		result = s.toolDeleteMemory(ctx, params.Arguments)
	case "get_stats":
		result = s.toolGetStats(ctx, params.Arguments)
	case "get_tag_history":
		result = s.toolGetTagHistory(ctx, params.Arguments)
	default:
		return s.rpcError(req.ID, memerr.New(memerr.InvalidArgument, fmt.Sprintf("unknown tool: %s", params.Name)))
	}
	return newResult(req.ID, result)
}

func (s *Server) handleResourcesRead(ctx context.Context, req *Request) *Response {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.rpcError(req.ID, memerr.Wrap(memerr.InvalidArgument, "invalid params", err))
	}

	if !strings.HasPrefix(params.URI, "memory://") {
		return s.rpcError(req.ID, memerr.New(memerr.InvalidArgument, "Invalid URI scheme"))
	}
	path := strings.TrimPrefix(params.URI, "memory://")

	switch path {
	case "stats":
		st, err := s.Store.Stats(ctx, s.WeakThreshold, time.Now())
		if err != nil {
			return s.rpcError(req.ID, err)
		}
		return newResult(req.ID, resourceContents(params.URI, st))
	case "recent":
		recent, err := s.recentMemories(ctx, 10)
		if err != nil {
			return s.rpcError(req.ID, err)
		}
		return newResult(req.ID, resourceContents(params.URI, recent))
	case "":
		return s.rpcError(req.ID, memerr.New(memerr.InvalidArgument, "Invalid resource path"))
	default:
		m, err := s.Store.Get(ctx, path)
		if err != nil {
			return s.rpcError(req.ID, err)
		}
		if m == nil {
			return s.rpcError(req.ID, memerr.New(memerr.NotFound, "not found"))
		}
		if s.Reinforce != nil {
			s.Reinforce.Enqueue(m.ID)
		}
		return newResult(req.ID, resourceContents(params.URI, m))
	}
}

func resourceContents(uri string, v any) map[string]any {
	data, _ := json.Marshal(v)
	return map[string]any{
		"contents": []map[string]any{
			{"uri": uri, "mimeType": "application/json", "text": string(data)},
		},
	}
}

func (s *Server) recentMemories(ctx context.Context, n int) ([]any, error) {
	all, err := s.Store.GetAll(ctx)
	if err != nil {
		return nil, memerr.Wrap(memerr.StorageUnavailable, "list memories", err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastAccessedAt.After(all[j].LastAccessedAt) })
	if len(all) > n {
		all = all[:n]
	}
	out := make([]any, len(all))
	for i, m := range all {
		out[i] = m
	}
	return out, nil
}
