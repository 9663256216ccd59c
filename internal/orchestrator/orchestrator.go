package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"ERP-Agents/internal/action"
	xerrors "ERP-Agents/internal/errors"
	"ERP-Agents/internal/extract"
	"ERP-Agents/internal/observability/alerting"
	"ERP-Agents/internal/observability/metrics"
	"ERP-Agents/internal/prompts"
	"ERP-Agents/pkg/logger"
)

// 下游自动化引擎的 Webhook 路由。
const (
	RouteInvoiceReminder  = "invoice-reminder"
	RouteLeadIntake       = "lead-intake"
	RouteMeetingScheduler = "meeting-scheduler"
	RouteCRMUpdate        = "crm-update"
	RouteReportDelivery   = "report-delivery"
)

// Dispatcher 把已批准的行动同步投递到下游。
type Dispatcher interface {
	Handle(ctx context.Context, actionID string) error
}

// Deps 汇集各智能体共享的依赖。
type Deps struct {
	Ledger     *action.Ledger
	Extractor  extract.Extractor
	Prompts    prompts.Provider
	Dispatcher Dispatcher
	Alerts     alerting.Dispatcher
}

// Result 是一次操作的产出：台账记录与面向调用方的输出数据。
type Result struct {
	Action *action.Action `json:"action"`
	Output map[string]any `json:"output"`
}

// Handler 执行单个操作。
type Handler func(ctx context.Context, input map[string]any) (*Result, error)

// Agent 声明一个领域智能体及其支持的操作。
type Agent interface {
	Domain() action.Domain
	Handlers() map[string]Handler
}

// Registry 是智能体编排器：按 (领域, 操作) 查表执行，
// 调度表在构造时完成校验。
type Registry struct {
	ledger   *action.Ledger
	handlers map[action.Domain]map[string]Handler
}

// NewRegistry 构造编排器并注册全部领域智能体。
func NewRegistry(deps Deps) (*Registry, error) {
	if deps.Ledger == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "orchestrator requires a ledger")
	}
	if deps.Extractor == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "orchestrator requires an extractor")
	}
	if deps.Prompts == nil {
		deps.Prompts = prompts.NewStaticProvider()
	}

	shared := &core{
		ledger:     deps.Ledger,
		extractor:  deps.Extractor,
		prompts:    deps.Prompts,
		dispatcher: deps.Dispatcher,
		alerter:    deps.Alerts,
	}

	registry := &Registry{
		ledger:   deps.Ledger,
		handlers: make(map[action.Domain]map[string]Handler),
	}
	agents := []Agent{
		&financeAgent{core: shared},
		&salesAgent{core: shared},
		&reportingAgent{core: shared},
		&supervisorAgent{core: shared},
	}
	for _, agent := range agents {
		domain := agent.Domain()
		if !action.IsValidDomain(domain) {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "agent declares unknown domain: "+string(domain))
		}
		if _, exists := registry.handlers[domain]; exists {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "duplicate agent for domain: "+string(domain))
		}
		handlers := agent.Handlers()
		if len(handlers) == 0 {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "agent has no handlers: "+string(domain))
		}
		registry.handlers[domain] = handlers
	}
	return registry, nil
}

// Execute 按领域与操作类型执行一次请求。
func (r *Registry) Execute(ctx context.Context, domain action.Domain, actionType string, input map[string]any) (*Result, error) {
	start := time.Now()

	handlers, ok := r.handlers[domain]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown agent domain: "+string(domain))
	}
	handler, ok := handlers[actionType]
	if !ok {
		return nil, xerrors.New(xerrors.CodeUnsupportedAction,
			"agent "+string(domain)+" does not support action "+actionType)
	}

	result, err := handler(ctx, input)

	status := "error"
	if err == nil && result != nil && result.Action != nil {
		status = string(result.Action.Status)
	}
	metrics.ObserveAction(string(domain), actionType, status, time.Since(start))

	if err != nil {
		logger.L().Error("agent operation failed",
			"agent_domain", domain,
			"action_type", actionType,
			"error", err.Error(),
		)
		return nil, err
	}
	return result, nil
}

// Actions 返回领域最近的行动记录。
func (r *Registry) Actions(ctx context.Context, domain action.Domain, limit int) ([]*action.Action, error) {
	if _, ok := r.handlers[domain]; !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown agent domain: "+string(domain))
	}
	return r.ledger.List(ctx, action.WithDomains(domain), action.WithLimit(limit))
}

// Supports 报告编排器是否注册了该操作。
func (r *Registry) Supports(domain action.Domain, actionType string) bool {
	handlers, ok := r.handlers[domain]
	if !ok {
		return false
	}
	_, ok = handlers[actionType]
	return ok
}

// core 承载各智能体共享的依赖与公共流程。
type core struct {
	ledger     *action.Ledger
	extractor  extract.Extractor
	prompts    prompts.Provider
	dispatcher Dispatcher
	alerter    alerting.Dispatcher
}

// record 登记行动；被策略网关自动批准的行动立即同步投递，
// 返回投递后的最终状态。
func (c *core) record(ctx context.Context, draft action.Draft) (*action.Action, error) {
	act, err := c.ledger.Record(ctx, draft)
	if err != nil {
		return nil, err
	}
	if act.Status == action.StatusApproved && c.dispatcher != nil {
		if err := c.dispatcher.Handle(ctx, act.ID); err != nil {
			return act, err
		}
		return c.ledger.Get(ctx, act.ID)
	}
	return act, nil
}

// extractAndRecord 走大模型抽取路径：调用抽取器并把提案登记为行动。
func (c *core) extractAndRecord(ctx context.Context, domain action.Domain, actionType string, input map[string]any, routeKey string) (*Result, error) {
	proposal, err := c.extractor.Extract(ctx, extract.Request{
		Domain:       string(domain),
		ActionType:   actionType,
		SystemPrompt: c.prompts.SystemPrompt(string(domain)),
		Input:        input,
	})
	if err != nil {
		logger.Audit().Warn("extraction failed",
			"agent_domain", domain,
			"action_type", actionType,
			"error_code", string(xerrors.CodeOf(err)),
			"error", err.Error(),
		)
		c.alertExtraction(ctx, domain, actionType, err)
		return nil, err
	}
	logger.Audit().Info("proposal extracted",
		"agent_domain", domain,
		"proposed_type", proposal.Type,
		"confidence", proposal.Confidence,
		"reasoning", proposal.Reasoning,
	)

	act, err := c.record(ctx, action.Draft{
		Domain:     domain,
		ActionType: proposal.Type,
		Input:      input,
		Output:     proposal.Payload,
		Confidence: proposal.Confidence,
		Reasoning:  proposal.Reasoning,
		RouteKey:   routeKey,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Action: act, Output: proposal.Payload}, nil
}

// alertExtraction 把抽取失败上报告警渠道。
func (c *core) alertExtraction(ctx context.Context, domain action.Domain, actionType string, cause error) {
	if c.alerter == nil {
		return
	}
	event := alerting.Event{
		Code:       xerrors.CodeOf(cause),
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		Domain:     string(domain),
		ActionType: actionType,
		OccurredAt: time.Now(),
	}
	if err := c.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			"agent_domain", domain,
			"action_type", actionType,
			"error", err.Error(),
		)
	}
}

// decodeInput 把通用 JSON 输入映射到操作的类型化载荷。
func decodeInput(input map[string]any, out any) error {
	encoded, err := json.Marshal(input)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "encode operation input")
	}
	if err := json.Unmarshal(encoded, out); err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "operation input does not match the expected shape")
	}
	return nil
}
