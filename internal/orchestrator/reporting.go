package orchestrator

import (
	"context"
	"strings"

	"ERP-Agents/internal/action"
	xerrors "ERP-Agents/internal/errors"
	"ERP-Agents/internal/rules"
)

// reportingAgent 负责业务摘要与趋势分析。
type reportingAgent struct {
	*core
}

func (a *reportingAgent) Domain() action.Domain { return action.DomainReporting }

func (a *reportingAgent) Handlers() map[string]Handler {
	return map[string]Handler{
		"generate_summary": a.generateSummary,
		"analyze_trends":   a.analyzeTrends,
		"create_report":    a.createReport,
	}
}

// generateSummary 从指标快照生成带亮点与关注项的业务摘要。
func (a *reportingAgent) generateSummary(ctx context.Context, input map[string]any) (*Result, error) {
	var payload struct {
		Period  string             `json:"period"`
		Metrics map[string]float64 `json:"metrics"`
	}
	if err := decodeInput(input, &payload); err != nil {
		return nil, err
	}
	if strings.TrimSpace(payload.Period) == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "generate_summary requires a period")
	}
	if payload.Metrics == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "generate_summary requires a metrics object")
	}

	summary := rules.BuildSummary(payload.Period, payload.Metrics)
	output := map[string]any{"summary": summary}

	act, err := a.record(ctx, action.Draft{
		Domain:     action.DomainReporting,
		ActionType: "generate_summary",
		Input:      input,
		Output:     output,
		Confidence: 1.0,
		Reasoning:  "classified each metric into highlights and concerns",
	})
	if err != nil {
		return nil, err
	}
	return &Result{Action: act, Output: output}, nil
}

// analyzeTrends 比较指标序列的首尾两点并给出方向与涨跌幅。
func (a *reportingAgent) analyzeTrends(ctx context.Context, input map[string]any) (*Result, error) {
	var payload struct {
		Metric     string    `json:"metric"`
		DataPoints []float64 `json:"data_points"`
	}
	if err := decodeInput(input, &payload); err != nil {
		return nil, err
	}
	if strings.TrimSpace(payload.Metric) == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "analyze_trends requires a metric name")
	}

	trend := rules.AnalyzeTrend(payload.Metric, payload.DataPoints)
	output := map[string]any{"trend": trend}

	act, err := a.record(ctx, action.Draft{
		Domain:     action.DomainReporting,
		ActionType: "analyze_trends",
		Input:      input,
		Output:     output,
		Confidence: 1.0,
		Reasoning:  "first and last data points compared for direction and change",
	})
	if err != nil {
		return nil, err
	}
	return &Result{Action: act, Output: output}, nil
}

// createReport 通过抽取器组织报告内容并触发分发工作流。
func (a *reportingAgent) createReport(ctx context.Context, input map[string]any) (*Result, error) {
	return a.extractAndRecord(ctx, action.DomainReporting, "create_report", input, RouteReportDelivery)
}
