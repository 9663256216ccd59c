package orchestrator

import (
	"context"

	"ERP-Agents/internal/action"
	xerrors "ERP-Agents/internal/errors"
	"ERP-Agents/internal/rules"
)

// salesAgent 负责线索评分、随访序列与 CRM 相关的操作。
type salesAgent struct {
	*core
}

func (a *salesAgent) Domain() action.Domain { return action.DomainSales }

func (a *salesAgent) Handlers() map[string]Handler {
	return map[string]Handler{
		"score_lead":       a.scoreLead,
		"intake_lead":      a.intakeLead,
		"schedule_meeting": a.scheduleMeeting,
		"update_crm":       a.updateCRM,
	}
}

func decodeLead(input map[string]any) (rules.Lead, error) {
	var payload struct {
		Lead *rules.Lead `json:"lead"`
	}
	if err := decodeInput(input, &payload); err != nil {
		return rules.Lead{}, err
	}
	if payload.Lead == nil {
		return rules.Lead{}, xerrors.New(xerrors.CodeValidation, "lead object is required")
	}
	return *payload.Lead, nil
}

// scoreLead 对线索做确定性打分。
func (a *salesAgent) scoreLead(ctx context.Context, input map[string]any) (*Result, error) {
	lead, err := decodeLead(input)
	if err != nil {
		return nil, err
	}

	score := rules.ScoreLead(lead)
	output := map[string]any{
		"score":          score.Score,
		"priority":       score.Priority,
		"recommendation": score.Recommendation,
	}

	act, err := a.record(ctx, action.Draft{
		Domain:     action.DomainSales,
		ActionType: "score_lead",
		Input:      input,
		Output:     output,
		Confidence: 1.0,
		Reasoning:  "additive scoring over company size, industry, role, budget and timeline",
	})
	if err != nil {
		return nil, err
	}
	return &Result{Action: act, Output: output}, nil
}

// intakeLead 是新线索的完整入库流程：评分、选定随访序列并
// 触发线索落库工作流。
func (a *salesAgent) intakeLead(ctx context.Context, input map[string]any) (*Result, error) {
	lead, err := decodeLead(input)
	if err != nil {
		return nil, err
	}

	score := rules.ScoreLead(lead)
	sequence := rules.DetermineSequence(score.Priority)
	output := map[string]any{
		"score":          score.Score,
		"priority":       score.Priority,
		"recommendation": score.Recommendation,
		"sequence":       sequence,
	}

	act, err := a.record(ctx, action.Draft{
		Domain:     action.DomainSales,
		ActionType: "intake_lead",
		Input:      input,
		Output:     output,
		Confidence: 1.0,
		Reasoning:  "scored the lead and picked the follow-up sequence for its priority",
		RouteKey:   RouteLeadIntake,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Action: act, Output: output}, nil
}

// scheduleMeeting 通过抽取器识别会议安排请求并触发排程工作流。
func (a *salesAgent) scheduleMeeting(ctx context.Context, input map[string]any) (*Result, error) {
	return a.extractAndRecord(ctx, action.DomainSales, "schedule_meeting", input, RouteMeetingScheduler)
}

// updateCRM 通过抽取器生成 CRM 字段变更并触发同步工作流。
func (a *salesAgent) updateCRM(ctx context.Context, input map[string]any) (*Result, error) {
	return a.extractAndRecord(ctx, action.DomainSales, "update_crm", input, RouteCRMUpdate)
}
