package erpagents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ERP Agents REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ActionRecord mirrors a single entry of the action ledger.
type ActionRecord struct {
	ID              string         `json:"id"`
	AgentDomain     string         `json:"agent_domain"`
	ActionType      string         `json:"action_type"`
	InputData       map[string]any `json:"input_data,omitempty"`
	OutputData      map[string]any `json:"output_data,omitempty"`
	ConfidenceScore float64        `json:"confidence_score"`
	Reasoning       string         `json:"reasoning,omitempty"`
	Status          string         `json:"status"`
	RouteKey        string         `json:"route_key,omitempty"`
	ApprovedBy      string         `json:"approved_by,omitempty"`
	ApprovedAt      int64          `json:"approved_at,omitempty"`
	ExecutedAt      int64          `json:"executed_at,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	ErrorCode       string         `json:"error_code,omitempty"`
	CreatedAt       int64          `json:"created_at"`
	UpdatedAt       int64          `json:"updated_at"`
}

// ExecutionResult is the outcome of an agent operation: the recorded action
// plus the structured output the agent produced.
type ExecutionResult struct {
	Action ActionRecord   `json:"action"`
	Output map[string]any `json:"output,omitempty"`
}

// ActionStats aggregates ledger counts per status.
type ActionStats struct {
	Total    int64 `json:"total"`
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
	Executed int64 `json:"executed"`
	Failed   int64 `json:"failed"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("erpagents api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("erpagents api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ERP Agents API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Execute runs an agent operation and returns the recorded action with its
// structured output.
func (c *Client) Execute(ctx context.Context, domain, operation string, data map[string]any) (ExecutionResult, error) {
	if domain == "" || operation == "" {
		return ExecutionResult{}, errors.New("erpagents: domain and operation are required")
	}
	payload := map[string]any{"action": operation, "data": data}
	var envelope struct {
		Result ExecutionResult `json:"result"`
	}
	endpoint := fmt.Sprintf("/api/v1/agents/%s/run", url.PathEscape(domain))
	if err := c.post(ctx, endpoint, payload, &envelope); err != nil {
		return ExecutionResult{}, err
	}
	return envelope.Result, nil
}

// Actions lists the most recent ledger entries for a domain. A non-positive
// limit lets the server apply its default page size.
func (c *Client) Actions(ctx context.Context, domain string, limit int) ([]ActionRecord, error) {
	if domain == "" {
		return nil, errors.New("erpagents: domain is required")
	}
	endpoint := fmt.Sprintf("/api/v1/agents/%s/actions", url.PathEscape(domain))
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var envelope struct {
		Actions []ActionRecord `json:"actions"`
	}
	if err := c.get(ctx, endpoint, &envelope); err != nil {
		return nil, err
	}
	return envelope.Actions, nil
}

// GetAction fetches a single ledger entry by identifier.
func (c *Client) GetAction(ctx context.Context, actionID string) (ActionRecord, error) {
	if actionID == "" {
		return ActionRecord{}, errors.New("erpagents: action id is required")
	}
	var envelope struct {
		Action ActionRecord `json:"action"`
	}
	if err := c.get(ctx, "/api/v1/actions/"+url.PathEscape(actionID), &envelope); err != nil {
		return ActionRecord{}, err
	}
	return envelope.Action, nil
}

// Approve marks a pending action as approved on behalf of the operator and
// schedules it for dispatch.
func (c *Client) Approve(ctx context.Context, actionID, operator string) (ActionRecord, error) {
	return c.review(ctx, actionID, "approve", operator, "")
}

// Reject marks a pending action as rejected with an optional reason.
func (c *Client) Reject(ctx context.Context, actionID, operator, reason string) (ActionRecord, error) {
	return c.review(ctx, actionID, "reject", operator, reason)
}

// Stats returns ledger counts grouped by status.
func (c *Client) Stats(ctx context.Context) (ActionStats, error) {
	var envelope struct {
		Stats ActionStats `json:"stats"`
	}
	if err := c.get(ctx, "/api/v1/actions/stats", &envelope); err != nil {
		return ActionStats{}, err
	}
	return envelope.Stats, nil
}

func (c *Client) review(ctx context.Context, actionID, verb, operator, reason string) (ActionRecord, error) {
	if actionID == "" {
		return ActionRecord{}, errors.New("erpagents: action id is required")
	}
	payload := map[string]any{"approved_by": operator}
	if reason != "" {
		payload["reason"] = reason
	}
	var envelope struct {
		Action ActionRecord `json:"action"`
	}
	endpoint := fmt.Sprintf("/api/v1/actions/%s/%s", url.PathEscape(actionID), verb)
	if err := c.post(ctx, endpoint, payload, &envelope); err != nil {
		return ActionRecord{}, err
	}
	return envelope.Action, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
