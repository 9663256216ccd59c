package extract

import (
	"context"
	"encoding/json"
	"strings"

	"ERP-Agents/pkg/logger"
)

// StaticExtractor 是无外部依赖的确定性抽取器，面向本地开发与测试：
// 直接把输入数据透传为提案负载，并按关键字为调度请求选择目标领域。
type StaticExtractor struct {
	confidence float64
}

// NewStaticExtractor 创建静态抽取器。
func NewStaticExtractor() *StaticExtractor {
	return &StaticExtractor{confidence: 0.75}
}

// Extract 生成确定性的行动提案。
func (s *StaticExtractor) Extract(ctx context.Context, req Request) (*Proposal, error) {
	logger.Audit().Info("extraction requested",
		"provider", "static",
		"agent_domain", req.Domain,
		"action_type", req.ActionType,
	)

	if req.ActionType == "route_request" {
		return s.route(req), nil
	}

	payload := make(map[string]any, len(req.Input))
	for key, value := range req.Input {
		payload[key] = value
	}
	return &Proposal{
		Type:       req.ActionType,
		Payload:    payload,
		Reasoning:  "static extractor passed input through unchanged",
		Confidence: s.confidence,
	}, nil
}

// route 依据请求文本中的关键字选择目标领域。
func (s *StaticExtractor) route(req Request) *Proposal {
	text := strings.ToLower(flatten(req.Input))

	target := "finance"
	switch {
	case containsAny(text, "lead", "customer", "deal", "crm", "meeting"):
		target = "sales"
	case containsAny(text, "report", "summary", "trend", "metric"):
		target = "reporting"
	case containsAny(text, "invoice", "payment", "expense", "reconcile", "vendor"):
		target = "finance"
	}

	return &Proposal{
		Type:       "route_request",
		Payload:    map[string]any{"target_domain": target},
		Reasoning:  "keyword match against the request text",
		Confidence: s.confidence,
	}
}

func flatten(input map[string]any) string {
	if len(input) == 0 {
		return ""
	}
	encoded, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func containsAny(text string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
