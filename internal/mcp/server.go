package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arturoeanton/tds-virtual-ta/internal/service"
)

// Server implements the Model Context Protocol (MCP) server.
// It exposes the answer pipeline as tools for external AI agents.
type Server struct {
	ragService *service.RAGService
	retrieval  *service.RetrievalService
	index      *service.IndexService
	port       string
	httpServer *http.Server
}

// NewServer creates a new MCP server.
func NewServer(ragService *service.RAGService, retrieval *service.RetrievalService, index *service.IndexService, port string) *Server {
	s := &Server{
		ragService: ragService,
		retrieval:  retrieval,
		index:      index,
		port:       port,
	}
	s.httpServer = &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Tool represents an MCP tool definition.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handler returns the MCP HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleRPC)
	mux.HandleFunc("/mcp/sse", s.handleSSE)
	return mux
}

// Start begins the MCP server on the configured port. It returns nil after Shutdown.
func (s *Server) Start() error {
	slog.Info("MCP server starting", "port", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, -32700, "parse error")
		return
	}

	var result any
	var err error

	switch req.Method {
	case "tools/list":
		result = s.listTools()
	case "tools/call":
		result, err = s.callTool(r.Context(), req.Params)
	case "initialize":
		result = map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo": map[string]string{
				"name":    "tds-virtual-ta",
				"version": "1.0.0",
			},
			"capabilities": map[string]any{
				"tools": map[string]bool{"listChanged": false},
			},
		}
	default:
		writeError(w, req.ID, -32601, "method not found")
		return
	}

	if err != nil {
		writeError(w, req.ID, -32603, err.Error())
		return
	}

	writeResult(w, req.ID, result)
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Send initial endpoint message
	fmt.Fprintf(w, "event: endpoint\ndata: /mcp\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	// Keep connection alive
	<-r.Context().Done()
}

func (s *Server) listTools() map[string]any {
	tools := []Tool{
		{
			Name:        "ask_question",
			Description: "Answer a Tools in Data Science student question from course material and forum posts",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"question": {"type": "string", "description": "The student's question"},
					"image": {"type": "string", "description": "Optional base64 image, with or without a data URL prefix"}
				},
				"required": ["question"]
			}`),
		},
		{
			Name:        "find_evidence",
			Description: "Return the ranked course and forum excerpts retrieved for a question",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"question": {"type": "string", "description": "Search question"}
				},
				"required": ["question"]
			}`),
		},
		{
			Name:        "index_stats",
			Description: "Report embedding index and corpus statistics",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {}
			}`),
		},
	}
	return map[string]any{"tools": tools}
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage) (any, error) {
	var req struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	switch req.Name {
	case "ask_question":
		var args service.AskRequest
		if err := unmarshalArgs(req.Arguments, &args); err != nil {
			return nil, err
		}
		answer, err := s.ragService.Ask(ctx, args)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": answer.Answer},
			},
			"links": answer.Links,
		}, nil

	case "find_evidence":
		var args struct {
			Question string `json:"question"`
		}
		if err := unmarshalArgs(req.Arguments, &args); err != nil {
			return nil, err
		}
		if strings.TrimSpace(args.Question) == "" {
			return nil, fmt.Errorf("question is required")
		}
		evidence, err := s.retrieval.FindEvidence(ctx, args.Question)
		if err != nil {
			return nil, err
		}
		var b strings.Builder
		for i, e := range evidence {
			fmt.Fprintf(&b, "%d. [%s] %s (%s)\n", i+1, e.Variant.Label(), e.Title, e.URL)
		}
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": b.String()},
			},
			"evidence": evidence,
		}, nil

	case "index_stats":
		corpora, err := s.index.CorpusStatus(ctx)
		if err != nil {
			return nil, err
		}
		stats := s.index.IndexStats()
		return map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": fmt.Sprintf("%d embeddings (%d course, %d forum), dimension %d",
					stats.Total, stats.Course, stats.Forum, stats.Dimension)},
			},
			"index":   stats,
			"corpora": corpora,
		}, nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", req.Name)
	}
}

func unmarshalArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func writeResult(w http.ResponseWriter, id any, result any) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, id any, code int, message string) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
