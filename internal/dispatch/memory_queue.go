package dispatch

import (
	"context"
	"sync"

	xerrors "ERP-Agents/internal/errors"
)

// MemoryQueue 使用 channel 模拟消息队列，面向开发与测试。
// 关闭通过独立的 done 信号广播，数据通道本身从不关闭，
// 因此阻塞中的 Publish 不会因 Close 触发向已关闭通道发送。
type MemoryQueue struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		ch:   make(chan string, size),
		done: make(chan struct{}),
	}
}

// Publish 将行动投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, actionID string) error {
	select {
	case <-q.done:
		return xerrors.New(xerrors.CodeQueueFailure, "queue already closed")
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return xerrors.New(xerrors.CodeQueueFailure, "queue already closed")
	case q.ch <- actionID:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费队列中的行动。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case actionID := <-q.ch:
					_ = handler(ctx, actionID)
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
	case <-q.done:
	}
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() {
		close(q.done)
	})
	return nil
}
