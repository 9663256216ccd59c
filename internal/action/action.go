package action

import (
	xerrors "ERP-Agents/internal/errors"
)

// Domain 标识行动所属的智能体领域。
type Domain string

const (
	DomainFinance    Domain = "finance"
	DomainSales      Domain = "sales"
	DomainReporting  Domain = "reporting"
	DomainSupervisor Domain = "supervisor"
)

// IsValidDomain 检查给定的领域是否为支持的枚举值。
func IsValidDomain(domain Domain) bool {
	switch domain {
	case DomainFinance, DomainSales, DomainReporting, DomainSupervisor:
		return true
	default:
		return false
	}
}

// Status 表示行动在生命周期中的状态。
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

// IsValidStatus 检查给定的状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusApproved, StatusRejected, StatusExecuted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal 判断状态是否为终态。executed 与 failed 不允许再发生任何迁移，
// rejected 保留记录但同样不再参与派发。
func (s Status) Terminal() bool {
	return s == StatusExecuted || s == StatusFailed || s == StatusRejected
}

// Action 是一次业务决策的审计记录，也是派发到自动化引擎的工作单元。
// InputData 在创建后不可变；OutputData 由产出组件一次性写入；
// 状态迁移只能由台账完成。
type Action struct {
	ID              string         `json:"id"`
	Domain          Domain         `json:"agent_domain"`
	ActionType      string         `json:"action_type"`
	InputData       map[string]any `json:"input_data,omitempty"`
	OutputData      map[string]any `json:"output_data,omitempty"`
	ConfidenceScore float64        `json:"confidence_score"`
	Reasoning       string         `json:"reasoning,omitempty"`
	Status          Status         `json:"status"`
	RouteKey        string         `json:"route_key,omitempty"`
	ApprovedBy      string         `json:"approved_by,omitempty"`
	ApprovedAt      int64          `json:"approved_at,omitempty"`
	ExecutedAt      int64          `json:"executed_at,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	ErrorCode       string         `json:"error_code,omitempty"`
	CreatedAt       int64          `json:"created_at"`
	UpdatedAt       int64          `json:"updated_at"`
}

// Dispatchable 判断行动是否已批准且声明了下游路由。
func (a *Action) Dispatchable() bool {
	return a != nil && a.Status == StatusApproved && a.RouteKey != ""
}

var (
	// ErrActionNotFound 表示指定的行动不存在。
	ErrActionNotFound = xerrors.New(CodeActionNotFound, "action not found")
	// ErrActionConflict 表示行动在当前状态下无法进行所请求的迁移。
	ErrActionConflict = xerrors.New(CodeActionConflict, "action state conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrActionTerminal 表示行动已处于终态，审计记录不可再变更。
	ErrActionTerminal = xerrors.New(CodeActionTerminal, "action already terminal", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrApprovalDenied 表示操作者不具备审批权限。
	ErrApprovalDenied = xerrors.New(CodeApprovalDenied, "operator not allowed to approve or reject")
)

const (
	CodeActionNotFound xerrors.Code = "ACTION_NOT_FOUND"
	CodeActionConflict xerrors.Code = "ACTION_CONFLICT"
	CodeActionTerminal xerrors.Code = "ACTION_TERMINAL"
	CodeApprovalDenied xerrors.Code = "APPROVAL_DENIED"
)

func init() {
	xerrors.Register(CodeActionNotFound, xerrors.Attributes{
		Message:   "action not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeActionConflict, xerrors.Attributes{
		Message:   "action state conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeActionTerminal, xerrors.Attributes{
		Message:   "action already terminal",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeApprovalDenied, xerrors.Attributes{
		Message:   "operator not allowed to approve or reject",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	cloned := make(map[string]any, len(data))
	for key, value := range data {
		cloned[key] = value
	}
	return cloned
}

func cloneAction(a *Action) *Action {
	clone := *a
	clone.InputData = cloneData(a.InputData)
	clone.OutputData = cloneData(a.OutputData)
	return &clone
}
