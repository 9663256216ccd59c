package action

import (
	"context"
)

// Store 定义行动台账的持久化接口。所有状态迁移方法都携带
// 比较并交换语义：只有当行动处于允许的前置状态时迁移才会生效，
// 否则返回 ErrActionConflict（非终态冲突）或 ErrActionTerminal（终态），
// 并附带当前记录，便于调用方幂等地汇报既有结果。
type Store interface {
	// Create 写入一条新的行动记录，状态必须为 pending。
	Create(ctx context.Context, a *Action) error

	// Get 按 ID 读取行动，不存在时返回 ErrActionNotFound。
	Get(ctx context.Context, id string) (*Action, error)

	// Approve 执行 pending -> approved 迁移并记录审批人。
	Approve(ctx context.Context, id, operator string) (*Action, error)

	// Reject 执行 pending -> rejected 迁移并记录操作者与原因。
	Reject(ctx context.Context, id, operator, reason string) (*Action, error)

	// MarkExecuted 执行 approved -> executed 迁移并记录执行时间。
	MarkExecuted(ctx context.Context, id string) (*Action, error)

	// MarkFailed 将 pending 或 approved 的行动迁移到 failed，
	// 记录错误码与错误信息。
	MarkFailed(ctx context.Context, id, errCode, reason string) (*Action, error)

	// List 按过滤条件返回行动，默认按创建时间倒序。
	List(ctx context.Context, opts ListOptions) ([]*Action, error)

	// Stats 返回满足过滤条件的状态分布。
	Stats(ctx context.Context, opts ListOptions) (Stats, error)

	// Close 释放底层资源。
	Close() error
}

// Stats 汇总台账中各状态的行动数量。
type Stats struct {
	Total    int64 `json:"total"`
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
	Executed int64 `json:"executed"`
	Failed   int64 `json:"failed"`
}

func (s *Stats) observe(status Status, n int64) {
	s.Total += n
	switch status {
	case StatusPending:
		s.Pending += n
	case StatusApproved:
		s.Approved += n
	case StatusRejected:
		s.Rejected += n
	case StatusExecuted:
		s.Executed += n
	case StatusFailed:
		s.Failed += n
	}
}
