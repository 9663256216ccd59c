package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	xerrors "ERP-Agents/internal/errors"
)

func TestMemoryQueueRoundTrip(t *testing.T) {
	queue := NewMemoryQueue(4)
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	received := make(map[string]bool)
	done := make(chan struct{})

	go func() {
		_ = queue.Consume(ctx, 2, func(_ context.Context, actionID string) error {
			mu.Lock()
			received[actionID] = true
			if len(received) == 3 {
				close(done)
			}
			mu.Unlock()
			return nil
		})
	}()

	for _, id := range []string{"act-1", "act-2", "act-3"} {
		if err := queue.Publish(ctx, id); err != nil {
			t.Fatalf("Publish %s returned error: %v", id, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for consumption")
	}
}

func TestMemoryQueuePublishAfterClose(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	err := queue.Publish(context.Background(), "act-1")
	if xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("expected queue failure after close, got %v", err)
	}
	// 重复关闭必须是安全的。
	if err := queue.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
}

func TestMemoryQueueCloseUnblocksPublish(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Publish(context.Background(), "act-fill"); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		// 缓冲已满，本次投递阻塞直到 Close 广播关闭信号。
		result <- queue.Publish(context.Background(), "act-blocked")
	}()

	time.Sleep(50 * time.Millisecond)
	if err := queue.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	select {
	case err := <-result:
		if xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
			t.Fatalf("expected queue failure, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Publish was not released by Close")
	}
}
