package dispatch

import (
	"context"
	"sync"
	"testing"

	"ERP-Agents/internal/action"
	xerrors "ERP-Agents/internal/errors"
)

type stubDeliverer struct {
	mu         sync.Mutex
	deliveries []Delivery
	err        error
}

func (d *stubDeliverer) Deliver(ctx context.Context, delivery Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivery)
	return d.err
}

func (d *stubDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.deliveries)
}

func recordApproved(t *testing.T, ledger *action.Ledger, routeKey string) *action.Action {
	t.Helper()
	recorded, err := ledger.Record(context.Background(), action.Draft{
		Domain:     action.DomainFinance,
		ActionType: "detect_overdue",
		Output:     map[string]any{"count": 1},
		Confidence: 0.95,
		RouteKey:   routeKey,
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if recorded.Status != action.StatusApproved {
		t.Fatalf("fixture expected approved action, got %s", recorded.Status)
	}
	return recorded
}

func TestWorkerDeliversApprovedAction(t *testing.T) {
	ledger := action.NewLedger(action.NewMemoryStore(), nil)
	deliverer := &stubDeliverer{}
	worker := NewWorker(ledger, deliverer, NewMemoryQueue(4))

	recorded := recordApproved(t, ledger, "invoice-reminder")
	if err := worker.Handle(context.Background(), recorded.ID); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if deliverer.count() != 1 {
		t.Fatalf("expected one delivery, got %d", deliverer.count())
	}
	delivery := deliverer.deliveries[0]
	if delivery.ActionID != recorded.ID || delivery.RouteKey != "invoice-reminder" {
		t.Fatalf("unexpected delivery: %+v", delivery)
	}

	final, err := ledger.Get(context.Background(), recorded.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if final.Status != action.StatusExecuted {
		t.Fatalf("expected executed, got %s", final.Status)
	}
}

func TestWorkerRecordsDeliveryFailure(t *testing.T) {
	ledger := action.NewLedger(action.NewMemoryStore(), nil)
	deliverer := &stubDeliverer{err: xerrors.New(xerrors.CodeDispatch, "automation engine returned 404")}
	worker := NewWorker(ledger, deliverer, NewMemoryQueue(4))

	recorded := recordApproved(t, ledger, "invoice-reminder")
	if err := worker.Handle(context.Background(), recorded.ID); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	final, err := ledger.Get(context.Background(), recorded.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if final.Status != action.StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.ErrorCode != string(xerrors.CodeDispatch) {
		t.Fatalf("expected dispatch error code, got %q", final.ErrorCode)
	}
}

func TestWorkerSkipsTerminalAction(t *testing.T) {
	ledger := action.NewLedger(action.NewMemoryStore(), nil)
	deliverer := &stubDeliverer{}
	worker := NewWorker(ledger, deliverer, NewMemoryQueue(4))

	recorded := recordApproved(t, ledger, "invoice-reminder")
	if _, err := ledger.CompleteDispatch(context.Background(), recorded.ID); err != nil {
		t.Fatalf("CompleteDispatch returned error: %v", err)
	}

	// 重复投递同一行动不得再触达下游。
	if err := worker.Handle(context.Background(), recorded.ID); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if deliverer.count() != 0 {
		t.Fatalf("terminal action must not be delivered, got %d deliveries", deliverer.count())
	}
}

func TestWorkerSkipsPendingAction(t *testing.T) {
	ledger := action.NewLedger(action.NewMemoryStore(), nil)
	deliverer := &stubDeliverer{}
	worker := NewWorker(ledger, deliverer, NewMemoryQueue(4))

	pending, err := ledger.Record(context.Background(), action.Draft{
		Domain:     action.DomainFinance,
		ActionType: "parse_invoice",
		Output:     map[string]any{"amount": 5},
		Confidence: 0.1,
		RouteKey:   "invoice-reminder",
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := worker.Handle(context.Background(), pending.ID); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if deliverer.count() != 0 {
		t.Fatalf("pending action must not be delivered")
	}
}

func TestWorkerCompletesActionWithoutRoute(t *testing.T) {
	ledger := action.NewLedger(action.NewMemoryStore(), nil)
	deliverer := &stubDeliverer{}
	worker := NewWorker(ledger, deliverer, NewMemoryQueue(4))

	recorded := recordApproved(t, ledger, "")
	if err := worker.Handle(context.Background(), recorded.ID); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if deliverer.count() != 0 {
		t.Fatalf("action without route must not be delivered")
	}

	final, err := ledger.Get(context.Background(), recorded.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if final.Status != action.StatusExecuted {
		t.Fatalf("expected executed, got %s", final.Status)
	}
}

func TestWorkerIgnoresUnknownAction(t *testing.T) {
	ledger := action.NewLedger(action.NewMemoryStore(), nil)
	worker := NewWorker(ledger, &stubDeliverer{}, NewMemoryQueue(4))
	if err := worker.Handle(context.Background(), "missing"); err != nil {
		t.Fatalf("unknown action should be skipped, got %v", err)
	}
}
