package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sokopay/facepay-core/internal/domain"
	"github.com/sokopay/facepay-core/internal/ports"
)

// ClientConfig configures the push-payment gateway client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Client talks to the external mobile-money gateway over its REST API.
// Transport errors and 5xx responses map to domain.ErrGatewayTransient (the
// submission may be retried under the same idempotency key); 4xx responses
// map to domain.ErrGatewayRejected and are never retried.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
}

type submitPayload struct {
	IdempotencyKey string `json:"idempotency_key"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Provider       string `json:"provider"`
	AccountRef     string `json:"account_ref"`
	TransactionRef string `json:"transaction_ref"`
	CallbackURL    string `json:"callback_url"`
}

type submitResponse struct {
	CorrelationToken string `json:"correlation_token"`
}

type statusResponse struct {
	Status           string `json:"status"`
	GatewayReference string `json:"gateway_reference"`
	FailureReason    string `json:"failure_reason"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) Submit(ctx context.Context, req ports.GatewaySubmitRequest) (ports.GatewaySubmitResult, error) {
	body, err := json.Marshal(submitPayload{
		IdempotencyKey: req.IdempotencyKey,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Provider:       req.Provider,
		AccountRef:     req.AccountRef,
		TransactionRef: req.TransactionRef,
		CallbackURL:    req.CallbackURL,
	})
	if err != nil {
		return ports.GatewaySubmitResult{}, fmt.Errorf("encode submit payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return ports.GatewaySubmitResult{}, fmt.Errorf("build submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ports.GatewaySubmitResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ports.GatewaySubmitResult{}, fmt.Errorf("%w: read response: %v", domain.ErrGatewayTransient, err)
	}
	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return ports.GatewaySubmitResult{}, err
	}

	var out submitResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return ports.GatewaySubmitResult{}, fmt.Errorf("%w: decode response: %v", domain.ErrGatewayTransient, err)
	}
	if out.CorrelationToken == "" {
		return ports.GatewaySubmitResult{}, fmt.Errorf("%w: gateway returned no correlation token", domain.ErrGatewayTransient)
	}
	return ports.GatewaySubmitResult{CorrelationToken: out.CorrelationToken}, nil
}

func (c *Client) QueryStatus(ctx context.Context, correlationToken string) (ports.GatewayStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/charges/"+correlationToken, nil)
	if err != nil {
		return ports.GatewayStatus{}, fmt.Errorf("build status request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ports.GatewayStatus{}, fmt.Errorf("%w: %v", domain.ErrGatewayTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ports.GatewayStatus{}, fmt.Errorf("%w: read response: %v", domain.ErrGatewayTransient, err)
	}
	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		return ports.GatewayStatus{}, err
	}

	var out statusResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return ports.GatewayStatus{}, fmt.Errorf("%w: decode response: %v", domain.ErrGatewayTransient, err)
	}
	return ports.GatewayStatus{
		Outcome:          mapOutcome(out.Status),
		GatewayReference: out.GatewayReference,
		FailureReason:    out.FailureReason,
	}, nil
}

func classifyStatus(code int, raw []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500 || code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: gateway returned %d", domain.ErrGatewayTransient, code)
	default:
		var apiErr errorResponse
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Message != "" {
			return fmt.Errorf("%w: %s (%s)", domain.ErrGatewayRejected, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("%w: gateway returned %d", domain.ErrGatewayRejected, code)
	}
}

func mapOutcome(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCEEDED", "SUCCESS", "COMPLETED":
		return domain.GatewayOutcomeSucceeded
	case "FAILED", "DECLINED", "CANCELLED":
		return domain.GatewayOutcomeFailed
	default:
		return domain.GatewayOutcomePending
	}
}
