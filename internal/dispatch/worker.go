package dispatch

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"ERP-Agents/internal/action"
	xerrors "ERP-Agents/internal/errors"
	"ERP-Agents/internal/observability/alerting"
	"ERP-Agents/pkg/logger"
)

// Ledger 定义工作器所需的台账能力。
type Ledger interface {
	Get(ctx context.Context, id string) (*action.Action, error)
	CompleteDispatch(ctx context.Context, id string) (*action.Action, error)
	FailDispatch(ctx context.Context, id string, cause error) (*action.Action, error)
}

// Deliverer 把行动载荷投递到下游自动化引擎。
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
}

// Worker 从队列消费已批准的行动并投递到自动化引擎，
// 投递结论写回台账。
type Worker struct {
	ledger      Ledger
	deliverer   Deliverer
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// WorkerOption 定义可选配置。
type WorkerOption func(*Worker)

// WithWorkerLogger 指定日志输出。
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) WorkerOption {
	return func(w *Worker) {
		if workers > 0 {
			w.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) WorkerOption {
	return func(w *Worker) {
		w.alerter = dispatcher
	}
}

// NewWorker 构造 Worker。
func NewWorker(ledger Ledger, deliverer Deliverer, consumer Consumer, opts ...WorkerOption) *Worker {
	w := &Worker{
		ledger:      ledger,
		deliverer:   deliverer,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.workerCount <= 0 {
		w.workerCount = 1
	}
	return w
}

// Start 启动行动投递循环。
func (w *Worker) Start(ctx context.Context) error {
	if w.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "dispatch consumer not configured")
	}
	return w.consumer.Consume(ctx, w.workerCount, w.Handle)
}

// Handle 处理一条队列消息。同一行动被重复投递时，终态记录保证幂等：
// 已出结论的行动直接跳过。
func (w *Worker) Handle(ctx context.Context, actionID string) error {
	if w.ledger == nil || w.deliverer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "dispatch worker not initialized")
	}

	act, err := w.ledger.Get(ctx, actionID)
	if err != nil {
		if stdErrors.Is(err, action.ErrActionNotFound) {
			w.logDebug("跳过未知行动", slog.String("action_id", actionID))
			return nil
		}
		logger.L().Error("读取行动失败", slog.Any("error", err), slog.String("action_id", actionID))
		return err
	}
	if act.Status.Terminal() {
		w.logDebug("跳过已出结论的行动",
			slog.String("action_id", act.ID),
			slog.String("status", string(act.Status)))
		return nil
	}
	if act.Status != action.StatusApproved {
		w.logDebug("跳过未批准的行动",
			slog.String("action_id", act.ID),
			slog.String("status", string(act.Status)))
		return nil
	}

	// 没有声明下游路由的行动在批准后即视为完成。
	if act.RouteKey == "" {
		if _, err := w.ledger.CompleteDispatch(ctx, act.ID); err != nil {
			logger.L().Error("标记行动完成失败", slog.Any("error", err), slog.String("action_id", act.ID))
			return err
		}
		return nil
	}

	deliverErr := w.deliverer.Deliver(ctx, Delivery{
		ActionID: act.ID,
		RouteKey: act.RouteKey,
		Payload:  deliveryPayload(act),
	})
	if deliverErr == nil {
		if _, err := w.ledger.CompleteDispatch(ctx, act.ID); err != nil {
			logger.L().Error("标记行动完成失败", slog.Any("error", err), slog.String("action_id", act.ID))
			return err
		}
		return nil
	}

	// 取消场景下仍要落一条失败记录，避免行动停留在 approved。
	recordCtx := ctx
	if ctx.Err() != nil {
		recordCtx = context.WithoutCancel(ctx)
	}
	if _, err := w.ledger.FailDispatch(recordCtx, act.ID, deliverErr); err != nil {
		logger.L().Error("标记行动失败状态出错", slog.Any("error", err), slog.String("action_id", act.ID))
		return err
	}
	w.emitAlert(recordCtx, act, deliverErr)
	return nil
}

func (w *Worker) logDebug(msg string, attrs ...slog.Attr) {
	if w.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		w.logger.Debug(msg, args...)
	}
}

func (w *Worker) emitAlert(ctx context.Context, act *action.Action, cause error) {
	if w == nil || w.alerter == nil || act == nil {
		return
	}
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = xerrors.CodeDispatch
	}
	event := alerting.Event{
		Code:       code,
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		ActionID:   act.ID,
		Domain:     string(act.Domain),
		ActionType: act.ActionType,
		Metadata:   map[string]string{"route_key": act.RouteKey},
		OccurredAt: time.Now(),
	}
	if err := w.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("action_id", act.ID),
		)
	}
}

// NopDeliverer 在未配置自动化引擎时充当投递器，只记录日志并视为成功。
type NopDeliverer struct{}

// Deliver 记录投递请求后直接返回成功。
func (NopDeliverer) Deliver(_ context.Context, d Delivery) error {
	logger.L().Info("自动化引擎未配置，跳过投递",
		slog.String("action_id", d.ActionID),
		slog.String("route_key", d.RouteKey))
	return nil
}

func deliveryPayload(act *action.Action) map[string]any {
	payload := map[string]any{
		"agent_domain": string(act.Domain),
		"action_type":  act.ActionType,
		"confidence":   act.ConfidenceScore,
	}
	if act.OutputData != nil {
		payload["output"] = act.OutputData
	}
	return payload
}
