package orchestrator

import (
	"context"

	"ERP-Agents/internal/action"
)

// supervisorAgent 只负责把自由文本请求路由到专职智能体，
// 自身不触发任何下游工作流。
type supervisorAgent struct {
	*core
}

func (a *supervisorAgent) Domain() action.Domain { return action.DomainSupervisor }

func (a *supervisorAgent) Handlers() map[string]Handler {
	return map[string]Handler{
		"route_request": a.routeRequest,
	}
}

// routeRequest 通过抽取器为请求选择目标领域。路由结论同样走
// 台账与策略网关，但不携带路由键，批准即视为完成。
func (a *supervisorAgent) routeRequest(ctx context.Context, input map[string]any) (*Result, error) {
	return a.extractAndRecord(ctx, action.DomainSupervisor, "route_request", input, "")
}
