package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/agentrun/agentrun/pkg/config"
	"github.com/agentrun/agentrun/pkg/models"
)

// GatewayClient is the worker-side HTTP client for the LLM gateway. The
// gateway owns provider failover and budget enforcement; this client only
// translates status codes into the worker's retry taxonomy.
type GatewayClient struct {
	baseURL string
	http    *http.Client
}

// NewGatewayClient creates the client from worker configuration.
func NewGatewayClient(cfg *config.WorkerConfig) *GatewayClient {
	return &GatewayClient{
		baseURL: cfg.GatewayURL,
		http:    &http.Client{Timeout: cfg.GatewayTimeout},
	}
}

// Complete posts a completion request and returns the gateway response.
func (c *GatewayClient) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, permanent(ReasonInvalidConfig, "marshal completion request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, transient(ReasonGatewayError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var completion models.CompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, transient(ReasonGatewayError, fmt.Errorf("decode gateway response: %w", err))
	}
	return &completion, nil
}

// statusError maps a non-200 gateway response onto the retry taxonomy:
// 402 fails the step and the run (budget), 400 is a permanent config error,
// 429 and 5xx are retryable.
func (c *GatewayClient) statusError(resp *http.Response) error {
	var gwErr models.GatewayError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &gwErr); err != nil {
		gwErr.Message = string(raw)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return permanent(ReasonBudgetExceeded, "%s", gwErr.Message)
	case resp.StatusCode == http.StatusBadRequest:
		reason := ReasonInvalidConfig
		if gwErr.Error == "model_not_supported" {
			reason = ReasonModelRejected
		}
		return permanent(reason, "%s", gwErr.Message)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return transient(ReasonGatewayError,
			fmt.Errorf("gateway returned %d: %s", resp.StatusCode, gwErr.Message))
	default:
		return permanent(ReasonGatewayError, "gateway returned %d: %s", resp.StatusCode, gwErr.Message)
	}
}
