package action

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	xerrors "ERP-Agents/internal/errors"
	"ERP-Agents/internal/policy"
	"ERP-Agents/pkg/logger"
)

// AutoApprover 是策略网关自动批准行动时登记的审批人标识。
const AutoApprover = "auto-policy"

// Draft 描述一次待登记的行动产出。
type Draft struct {
	Domain     Domain
	ActionType string
	Input      map[string]any
	Output     map[string]any
	Confidence float64
	Reasoning  string
	RouteKey   string
}

// Ledger 是行动台账服务：负责登记行动、套用置信度策略网关，
// 并将一切状态迁移写入审计日志。
type Ledger struct {
	store  Store
	policy *policy.Policy
}

// NewLedger 创建台账服务。
func NewLedger(store Store, pol *policy.Policy) *Ledger {
	if pol == nil {
		pol = policy.Default()
	}
	return &Ledger{store: store, policy: pol}
}

// Record 登记一次行动产出并套用策略网关：置信度达到所属领域阈值时
// 自动批准，否则停留在 pending 等待人工审批。
func (l *Ledger) Record(ctx context.Context, draft Draft) (*Action, error) {
	if !IsValidDomain(draft.Domain) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown agent domain: "+string(draft.Domain))
	}
	if strings.TrimSpace(draft.ActionType) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "action type is required")
	}
	if draft.Output == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "action output is required before recording")
	}
	if draft.Confidence < 0 || draft.Confidence > 1 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "confidence score must be within [0, 1]")
	}

	record := &Action{
		ID:              uuid.NewString(),
		Domain:          draft.Domain,
		ActionType:      draft.ActionType,
		InputData:       draft.Input,
		OutputData:      draft.Output,
		ConfidenceScore: draft.Confidence,
		Reasoning:       draft.Reasoning,
		RouteKey:        draft.RouteKey,
	}
	if err := l.store.Create(ctx, record); err != nil {
		return nil, err
	}

	threshold := l.policy.ThresholdFor(string(draft.Domain))
	logger.Audit().Info("action recorded",
		"action_id", record.ID,
		"agent_domain", record.Domain,
		"action_type", record.ActionType,
		"confidence", record.ConfidenceScore,
		"reasoning", record.Reasoning,
		"threshold", threshold,
	)

	if record.ConfidenceScore >= threshold {
		approved, err := l.store.Approve(ctx, record.ID, AutoApprover)
		if err != nil {
			return nil, err
		}
		logger.Audit().Info("action auto-approved",
			"action_id", approved.ID,
			"agent_domain", approved.Domain,
			"confidence", approved.ConfidenceScore,
		)
		return approved, nil
	}

	logger.Audit().Info("action held for review",
		"action_id", record.ID,
		"agent_domain", record.Domain,
		"confidence", record.ConfidenceScore,
	)
	return record, nil
}

// Approve 人工批准 pending 状态的行动。
func (l *Ledger) Approve(ctx context.Context, id, operator string) (*Action, error) {
	if !l.policy.CanApprove(operator) {
		return nil, ErrApprovalDenied
	}
	approved, err := l.store.Approve(ctx, id, operator)
	if err != nil {
		return approved, err
	}
	logger.Audit().Info("action approved",
		"action_id", approved.ID,
		"agent_domain", approved.Domain,
		"operator", operator,
	)
	return approved, nil
}

// Reject 人工拒绝 pending 状态的行动，记录保留用于审计。
func (l *Ledger) Reject(ctx context.Context, id, operator, reason string) (*Action, error) {
	if !l.policy.CanApprove(operator) {
		return nil, ErrApprovalDenied
	}
	rejected, err := l.store.Reject(ctx, id, operator, reason)
	if err != nil {
		return rejected, err
	}
	logger.Audit().Info("action rejected",
		"action_id", rejected.ID,
		"agent_domain", rejected.Domain,
		"operator", operator,
		"reason", reason,
	)
	return rejected, nil
}

// CompleteDispatch 在下游投递成功后将行动迁移到 executed。
// 重复完成同一行动是幂等的：返回既有终态记录而不报错。
func (l *Ledger) CompleteDispatch(ctx context.Context, id string) (*Action, error) {
	executed, err := l.store.MarkExecuted(ctx, id)
	if err != nil {
		if errors.Is(err, ErrActionTerminal) && executed != nil && executed.Status == StatusExecuted {
			return executed, nil
		}
		return executed, err
	}
	logger.Audit().Info("action executed",
		"action_id", executed.ID,
		"agent_domain", executed.Domain,
		"action_type", executed.ActionType,
	)
	return executed, nil
}

// FailDispatch 在投递最终失败后将行动迁移到 failed 并记录原因。
func (l *Ledger) FailDispatch(ctx context.Context, id string, cause error) (*Action, error) {
	code := string(xerrors.CodeOf(cause))
	failed, err := l.store.MarkFailed(ctx, id, code, cause.Error())
	if err != nil {
		if errors.Is(err, ErrActionTerminal) && failed != nil {
			return failed, nil
		}
		return failed, err
	}
	logger.Audit().Warn("action failed",
		"action_id", failed.ID,
		"agent_domain", failed.Domain,
		"error_code", code,
		"error", cause.Error(),
	)
	return failed, nil
}

// Get 按 ID 读取行动。
func (l *Ledger) Get(ctx context.Context, id string) (*Action, error) {
	return l.store.Get(ctx, id)
}

// List 按选项查询行动。
func (l *Ledger) List(ctx context.Context, opts ...ListOption) ([]*Action, error) {
	return l.store.List(ctx, BuildListOptions(opts))
}

// Stats 返回状态分布统计。
func (l *Ledger) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	return l.store.Stats(ctx, BuildListOptions(opts))
}

// Threshold 返回领域生效的置信度阈值，用于对外展示。
func (l *Ledger) Threshold(domain Domain) float64 {
	return l.policy.ThresholdFor(string(domain))
}

// Close 释放底层存储资源。
func (l *Ledger) Close() error {
	return l.store.Close()
}
