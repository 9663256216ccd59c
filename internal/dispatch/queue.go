package dispatch

import (
	"context"
)

// Handler 处理来自队列的行动 ID。
type Handler func(ctx context.Context, actionID string) error

// Producer 负责向队列投递已批准的行动。
type Producer interface {
	Publish(ctx context.Context, actionID string) error
	Close() error
}

// Consumer 负责从队列中消费行动。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
