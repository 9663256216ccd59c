package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "ERP-Agents/internal/errors"
	"ERP-Agents/pkg/logger"
)

const (
	defaultHeaderName  = "X-N8N-API-KEY"
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
	defaultHTTPTimeout = 30 * time.Second

	idempotencyHeader = "Idempotency-Key"
)

// WebhookConfig 描述自动化引擎 Webhook 入口的连接参数。
type WebhookConfig struct {
	BaseURL     string
	APIKey      string
	HeaderName  string
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

// WebhookClient 把已批准的行动投递到自动化引擎的 Webhook 路由。
// 每次投递都携带行动 ID 作为幂等令牌，下游据此去重。
type WebhookClient struct {
	baseURL     string
	apiKey      string
	headerName  string
	maxAttempts int
	backoff     time.Duration
	httpClient  *http.Client
}

// Delivery 是一次待投递的行动载荷。
type Delivery struct {
	ActionID string
	RouteKey string
	Payload  map[string]any
}

// NewWebhookClient 创建 Webhook 投递客户端。
func NewWebhookClient(cfg WebhookConfig) (*WebhookClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "automation engine base url is required")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	headerName := strings.TrimSpace(cfg.HeaderName)
	if headerName == "" {
		headerName = defaultHeaderName
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &WebhookClient{
		baseURL:     baseURL,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		headerName:  headerName,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// Deliver 投递行动并按指数退避重试。4xx 视为永久拒绝立即放弃，
// 5xx 与网络错误重试至次数耗尽。
func (c *WebhookClient) Deliver(ctx context.Context, d Delivery) error {
	if strings.TrimSpace(d.ActionID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "delivery requires an action id")
	}
	if strings.TrimSpace(d.RouteKey) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "delivery requires a route key")
	}

	body, err := json.Marshal(map[string]any{
		"action_id": d.ActionID,
		"data":      d.Payload,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode delivery payload")
	}

	endpoint := c.baseURL + "/webhook/" + d.RouteKey
	backoff := c.backoff
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		lastErr = c.deliverOnce(ctx, endpoint, d.ActionID, body)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !xerrors.RetryableError(lastErr) {
			return lastErr
		}
		logger.L().Warn("webhook delivery retrying",
			"action_id", d.ActionID,
			"route_key", d.RouteKey,
			"attempt", attempt,
			"error", lastErr.Error(),
		)
	}
	return xerrors.Wrap(xerrors.CodeDispatch, lastErr,
		"delivery attempts exhausted after "+strconv.Itoa(c.maxAttempts)+" tries")
}

func (c *WebhookClient) deliverOnce(ctx context.Context, endpoint, actionID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeDispatch, err, "build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotencyHeader, actionID)
	if c.apiKey != "" {
		req.Header.Set(c.headerName, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeDispatch, err, "call automation engine", xerrors.WithRetryable(true))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	message := "automation engine returned status " + resp.Status
	if trimmed := strings.TrimSpace(string(detail)); trimmed != "" {
		message += ": " + trimmed
	}
	return xerrors.New(xerrors.CodeDispatch, message,
		xerrors.WithRetryable(resp.StatusCode >= http.StatusInternalServerError))
}
