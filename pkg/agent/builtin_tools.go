package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuiltinTools returns the default tool set registered on every worker.
func BuiltinTools() []Tool {
	return []Tool{
		NewAPICallerTool(30 * time.Second),
		&WebSearchTool{},
		&EchoTool{},
	}
}

// apiCallerSchema validates api_caller params.
var apiCallerSchema = jsonschema.MustCompileString("api_caller.json", `{
	"type": "object",
	"properties": {
		"url":     {"type": "string", "minLength": 1},
		"method":  {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE"]},
		"headers": {"type": "object", "additionalProperties": {"type": "string"}},
		"body":    {}
	},
	"required": ["url"]
}`)

// APICallerTool performs real HTTP calls to external APIs. The only tool
// with side effects; everything else in the built-in set is a deterministic
// simulation.
type APICallerTool struct {
	client *http.Client
}

// NewAPICallerTool creates the tool with a per-call timeout.
func NewAPICallerTool(timeout time.Duration) *APICallerTool {
	return &APICallerTool{client: &http.Client{Timeout: timeout}}
}

func (t *APICallerTool) Name() string                     { return "api_caller" }
func (t *APICallerTool) ParamsSchema() *jsonschema.Schema { return apiCallerSchema }

func (t *APICallerTool) Execute(ctx context.Context, _ string, params map[string]any) (json.RawMessage, error) {
	url, _ := params["url"].(string)
	method, _ := params["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if raw, ok := params["body"]; ok && raw != nil {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, permanent(ReasonInvalidConfig, "api_caller body: %v", err)
		}
		body = strings.NewReader(string(encoded))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, permanent(ReasonInvalidConfig, "api_caller request: %v", err)
	}
	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, transient(ReasonToolError, err)
	}
	defer resp.Body.Close()

	// Response bodies are audit payload, not pipeline data; cap them.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
	if err != nil {
		return nil, transient(ReasonToolError, err)
	}

	return json.Marshal(map[string]any{
		"status": resp.StatusCode,
		"body":   string(raw),
	})
}

// webSearchSchema validates web_search params.
var webSearchSchema = jsonschema.MustCompileString("web_search.json", `{
	"type": "object",
	"properties": {
		"query": {"type": "string", "minLength": 1},
		"limit": {"type": "integer", "minimum": 1, "maximum": 10}
	},
	"required": ["query"]
}`)

// WebSearchTool is a deterministic search simulation: results are derived
// from a hash of the query so repeated runs and tests see stable output.
type WebSearchTool struct{}

func (t *WebSearchTool) Name() string                     { return "web_search" }
func (t *WebSearchTool) ParamsSchema() *jsonschema.Schema { return webSearchSchema }

func (t *WebSearchTool) Execute(_ context.Context, _ string, params map[string]any) (json.RawMessage, error) {
	query, _ := params["query"].(string)
	limit := 3
	if f, ok := params["limit"].(float64); ok && f >= 1 {
		limit = int(f)
	}

	h := fnv.New32a()
	h.Write([]byte(query))
	seed := h.Sum32()

	results := make([]map[string]any, 0, limit)
	for i := 0; i < limit; i++ {
		results = append(results, map[string]any{
			"title": fmt.Sprintf("Result %d for %q", i+1, query),
			"url":   fmt.Sprintf("https://example.com/%08x/%d", seed, i+1),
			"rank":  i + 1,
		})
	}
	return json.Marshal(map[string]any{"query": query, "results": results})
}

// EchoTool returns its params verbatim. Used in development workflows and
// tests to exercise the tool path without side effects.
type EchoTool struct{}

func (t *EchoTool) Name() string                     { return "echo" }
func (t *EchoTool) ParamsSchema() *jsonschema.Schema { return nil }

func (t *EchoTool) Execute(_ context.Context, action string, params map[string]any) (json.RawMessage, error) {
	return json.Marshal(map[string]any{"action": action, "params": params})
}
