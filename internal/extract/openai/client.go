package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "ERP-Agents/internal/errors"
	"ERP-Agents/internal/extract"
	"ERP-Agents/pkg/logger"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second

	// toolName 是模型被强制调用的函数名，其参数结构即行动提案。
	toolName = "execute_action"
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 OpenAI 的工具调用能力抽取结构化的行动提案。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "openai api key is required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Extract 调用模型并强制其通过 execute_action 工具返回行动提案。
func (c *Client) Extract(ctx context.Context, req extract.Request) (*extract.Proposal, error) {
	logger.Audit().Info("extraction requested",
		"provider", "openai",
		"model", c.model,
		"agent_domain", req.Domain,
		"action_type", req.ActionType,
	)

	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExtraction, err, "build openai request")
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExtraction, err, "call openai", xerrors.WithRetryable(true))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodeExtraction,
			"openai returned status "+resp.Status+": "+strings.TrimSpace(string(body)),
			xerrors.WithRetryable(resp.StatusCode >= http.StatusInternalServerError),
		)
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				ToolCalls []struct {
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExtraction, err, "decode openai response")
	}
	if len(decoded.Choices) == 0 || len(decoded.Choices[0].Message.ToolCalls) == 0 {
		return nil, xerrors.New(xerrors.CodeExtraction, "openai response carries no tool call")
	}

	call := decoded.Choices[0].Message.ToolCalls[0].Function
	if call.Name != toolName {
		return nil, xerrors.New(xerrors.CodeExtraction, "unexpected tool call: "+call.Name)
	}
	return extract.ParseProposal([]byte(call.Arguments))
}

func (c *Client) buildPayload(req extract.Request) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	input, err := json.Marshal(req.Input)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode extraction input")
	}

	messages := []message{
		{Role: "system", Content: req.SystemPrompt},
		{Role: "user", Content: buildUserPrompt(req, input)},
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"temperature": 0.2,
		"tools": []map[string]any{
			{
				"type": "function",
				"function": map[string]any{
					"name":        toolName,
					"description": "Record the structured action extracted from the request.",
					"parameters":  extract.ProposalSchema(),
				},
			},
		},
		"tool_choice": map[string]any{
			"type":     "function",
			"function": map[string]any{"name": toolName},
		},
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeExtraction, err, "encode openai request")
	}
	return encoded, nil
}

func buildUserPrompt(req extract.Request, input []byte) string {
	var builder strings.Builder
	builder.WriteString("## Requested action\n")
	builder.WriteString(req.ActionType)
	builder.WriteString("\n\n## Input data\n")
	builder.Write(input)
	builder.WriteString("\n\nCall the " + toolName + " tool with the extracted action. " +
		"Set type to the requested action unless routing demands otherwise, " +
		"and report your confidence honestly.")
	return builder.String()
}
