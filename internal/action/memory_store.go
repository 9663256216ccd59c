package action

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "ERP-Agents/internal/errors"
)

// MemoryStore 是基于内存的台账实现，适用于开发与测试场景。
type MemoryStore struct {
	mu      sync.RWMutex
	actions map[string]*Action
}

// NewMemoryStore 创建内存台账。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: make(map[string]*Action)}
}

// Create 写入新的行动记录。
func (s *MemoryStore) Create(ctx context.Context, a *Action) error {
	if a == nil || a.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "action id is required")
	}
	if !IsValidDomain(a.Domain) {
		return xerrors.New(xerrors.CodeInvalidArgument, "unknown agent domain: "+string(a.Domain))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actions[a.ID]; exists {
		return ErrActionConflict
	}
	now := time.Now().Unix()
	record := cloneAction(a)
	record.Status = StatusPending
	record.CreatedAt = now
	record.UpdatedAt = now
	s.actions[a.ID] = record
	*a = *cloneAction(record)
	return nil
}

// Get 按 ID 读取行动。
func (s *MemoryStore) Get(ctx context.Context, id string) (*Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.actions[id]
	if !ok {
		return nil, ErrActionNotFound
	}
	return cloneAction(record), nil
}

// Approve 执行 pending -> approved 迁移。
func (s *MemoryStore) Approve(ctx context.Context, id, operator string) (*Action, error) {
	return s.transition(id, StatusPending, func(record *Action) {
		record.Status = StatusApproved
		record.ApprovedBy = operator
		record.ApprovedAt = time.Now().Unix()
	})
}

// Reject 执行 pending -> rejected 迁移。
func (s *MemoryStore) Reject(ctx context.Context, id, operator, reason string) (*Action, error) {
	return s.transition(id, StatusPending, func(record *Action) {
		record.Status = StatusRejected
		record.ApprovedBy = operator
		record.ApprovedAt = time.Now().Unix()
		record.ErrorMessage = reason
	})
}

// MarkExecuted 执行 approved -> executed 迁移。
func (s *MemoryStore) MarkExecuted(ctx context.Context, id string) (*Action, error) {
	return s.transition(id, StatusApproved, func(record *Action) {
		record.Status = StatusExecuted
		record.ExecutedAt = time.Now().Unix()
	})
}

// MarkFailed 将 pending 或 approved 的行动迁移到 failed。
func (s *MemoryStore) MarkFailed(ctx context.Context, id, errCode, reason string) (*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.actions[id]
	if !ok {
		return nil, ErrActionNotFound
	}
	if record.Status.Terminal() {
		return cloneAction(record), ErrActionTerminal
	}
	record.Status = StatusFailed
	record.ErrorCode = errCode
	record.ErrorMessage = reason
	record.UpdatedAt = time.Now().Unix()
	return cloneAction(record), nil
}

// List 按过滤条件返回行动。
func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*Action, error) {
	opts.applyDefaults()
	// 在持有读锁期间完成克隆，释放锁后不再触碰共享记录。
	s.mu.RLock()
	matched := make([]*Action, 0, len(s.actions))
	for _, record := range s.actions {
		if opts.matches(record) {
			matched = append(matched, cloneAction(record))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt == matched[j].CreatedAt {
			if opts.Order == SortByCreatedAsc {
				return matched[i].ID < matched[j].ID
			}
			return matched[i].ID > matched[j].ID
		}
		if opts.Order == SortByCreatedAsc {
			return matched[i].CreatedAt < matched[j].CreatedAt
		}
		return matched[i].CreatedAt > matched[j].CreatedAt
	})

	if opts.Offset >= len(matched) {
		return []*Action{}, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Stats 返回满足过滤条件的状态分布。
func (s *MemoryStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats Stats
	for _, record := range s.actions {
		if opts.matches(record) {
			stats.observe(record.Status, 1)
		}
	}
	return stats, nil
}

// Close 实现 Store 接口，内存实现无需释放资源。
func (s *MemoryStore) Close() error {
	return nil
}

// transition 在目标状态前置条件满足时应用迁移，否则返回冲突或终态错误。
func (s *MemoryStore) transition(id string, from Status, apply func(*Action)) (*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.actions[id]
	if !ok {
		return nil, ErrActionNotFound
	}
	if record.Status != from {
		if record.Status.Terminal() {
			return cloneAction(record), ErrActionTerminal
		}
		return cloneAction(record), ErrActionConflict
	}
	apply(record)
	record.UpdatedAt = time.Now().Unix()
	return cloneAction(record), nil
}
