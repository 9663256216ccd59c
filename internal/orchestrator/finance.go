package orchestrator

import (
	"context"
	"time"

	"ERP-Agents/internal/action"
	xerrors "ERP-Agents/internal/errors"
	"ERP-Agents/internal/rules"
)

// financeAgent 负责发票、付款与财务异常相关的操作。
type financeAgent struct {
	*core
}

func (a *financeAgent) Domain() action.Domain { return action.DomainFinance }

func (a *financeAgent) Handlers() map[string]Handler {
	return map[string]Handler{
		"detect_overdue":    a.detectOverdue,
		"reconcile_payment": a.reconcilePayment,
		"detect_anomaly":    a.detectAnomaly,
		"parse_invoice":     a.parseInvoice,
	}
}

// detectOverdue 找出逾期未付的发票；存在逾期时触发催款提醒工作流。
func (a *financeAgent) detectOverdue(ctx context.Context, input map[string]any) (*Result, error) {
	var payload struct {
		Invoices []rules.Invoice `json:"invoices"`
	}
	if err := decodeInput(input, &payload); err != nil {
		return nil, err
	}
	if payload.Invoices == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "detect_overdue requires an invoices array")
	}

	overdue := rules.DetectOverdueInvoices(payload.Invoices, time.Now())
	output := map[string]any{
		"overdue": overdue,
		"count":   len(overdue),
	}
	routeKey := ""
	if len(overdue) > 0 {
		routeKey = RouteInvoiceReminder
	}

	act, err := a.record(ctx, action.Draft{
		Domain:     action.DomainFinance,
		ActionType: "detect_overdue",
		Input:      input,
		Output:     output,
		Confidence: 1.0,
		Reasoning:  "deterministic due date comparison against unpaid invoices",
		RouteKey:   routeKey,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Action: act, Output: output}, nil
}

// reconcilePayment 按金额或单号把付款匹配到发票。
func (a *financeAgent) reconcilePayment(ctx context.Context, input map[string]any) (*Result, error) {
	var payload struct {
		Payment  rules.Payment   `json:"payment"`
		Invoices []rules.Invoice `json:"invoices"`
	}
	if err := decodeInput(input, &payload); err != nil {
		return nil, err
	}
	if payload.Invoices == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "reconcile_payment requires an invoices array")
	}

	reconciliation := rules.ReconcilePayment(payload.Payment, payload.Invoices)
	output := map[string]any{
		"matched":        reconciliation.Matched,
		"invoice":        reconciliation.Invoice,
		"recommendation": reconciliation.Recommendation,
	}

	act, err := a.record(ctx, action.Draft{
		Domain:     action.DomainFinance,
		ActionType: "reconcile_payment",
		Input:      input,
		Output:     output,
		Confidence: 1.0,
		Reasoning:  "first invoice matching the payment amount or reference wins",
	})
	if err != nil {
		return nil, err
	}
	return &Result{Action: act, Output: output}, nil
}

// detectAnomaly 标记大额与疑似重复的交易。
func (a *financeAgent) detectAnomaly(ctx context.Context, input map[string]any) (*Result, error) {
	var payload struct {
		Transactions []rules.Transaction `json:"transactions"`
	}
	if err := decodeInput(input, &payload); err != nil {
		return nil, err
	}
	if payload.Transactions == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "detect_anomaly requires a transactions array")
	}

	anomalies := rules.DetectAnomalies(payload.Transactions)
	output := map[string]any{
		"anomalies": anomalies,
		"count":     len(anomalies),
	}

	act, err := a.record(ctx, action.Draft{
		Domain:     action.DomainFinance,
		ActionType: "detect_anomaly",
		Input:      input,
		Output:     output,
		Confidence: 1.0,
		Reasoning:  "threshold and duplicate checks over the transaction batch",
	})
	if err != nil {
		return nil, err
	}
	return &Result{Action: act, Output: output}, nil
}

// parseInvoice 通过抽取器从原始单据中提取结构化发票数据。
func (a *financeAgent) parseInvoice(ctx context.Context, input map[string]any) (*Result, error) {
	return a.extractAndRecord(ctx, action.DomainFinance, "parse_invoice", input, "")
}
