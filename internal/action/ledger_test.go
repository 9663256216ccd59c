package action

import (
	"context"
	"errors"
	"testing"

	xerrors "ERP-Agents/internal/errors"
	"ERP-Agents/internal/policy"
)

func newTestLedger(t *testing.T, pol *policy.Policy) *Ledger {
	t.Helper()
	return NewLedger(NewMemoryStore(), pol)
}

func TestLedgerRecordAutoApprovesAtThreshold(t *testing.T) {
	ledger := newTestLedger(t, nil)
	recorded, err := ledger.Record(context.Background(), Draft{
		Domain:     DomainSales,
		ActionType: "score_lead",
		Output:     map[string]any{"score": 85},
		Confidence: 0.7,
		Reasoning:  "deterministic scoring",
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if recorded.Status != StatusApproved {
		t.Fatalf("expected auto approval at threshold, got %s", recorded.Status)
	}
	if recorded.ApprovedBy != AutoApprover {
		t.Fatalf("expected approver %q, got %q", AutoApprover, recorded.ApprovedBy)
	}
}

func TestLedgerRecordHoldsBelowThreshold(t *testing.T) {
	ledger := newTestLedger(t, nil)
	recorded, err := ledger.Record(context.Background(), Draft{
		Domain:     DomainFinance,
		ActionType: "parse_invoice",
		Output:     map[string]any{"invoiceNumber": "INV-1"},
		Confidence: 0.69,
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if recorded.Status != StatusPending {
		t.Fatalf("expected pending below threshold, got %s", recorded.Status)
	}
	if recorded.ApprovedBy != "" {
		t.Fatalf("expected no approver, got %q", recorded.ApprovedBy)
	}
}

func TestLedgerRecordUsesDomainOverride(t *testing.T) {
	threshold := 0.9
	pol := policy.Default()
	pol.Domains = map[string]policy.DomainPolicy{
		"finance": {Threshold: &threshold},
	}
	ledger := newTestLedger(t, pol)

	held, err := ledger.Record(context.Background(), Draft{
		Domain:     DomainFinance,
		ActionType: "parse_invoice",
		Output:     map[string]any{"amount": 120.5},
		Confidence: 0.85,
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if held.Status != StatusPending {
		t.Fatalf("finance override should hold 0.85, got %s", held.Status)
	}

	// 其他领域继续使用默认阈值。
	approved, err := ledger.Record(context.Background(), Draft{
		Domain:     DomainSales,
		ActionType: "score_lead",
		Output:     map[string]any{"score": 40},
		Confidence: 0.85,
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if approved.Status != StatusApproved {
		t.Fatalf("expected sales auto approval at 0.85, got %s", approved.Status)
	}
}

func TestLedgerRecordValidation(t *testing.T) {
	ledger := newTestLedger(t, nil)
	cases := []Draft{
		{Domain: "inventory", ActionType: "noop", Output: map[string]any{}, Confidence: 0.5},
		{Domain: DomainSales, ActionType: "", Output: map[string]any{}, Confidence: 0.5},
		{Domain: DomainSales, ActionType: "score_lead", Output: nil, Confidence: 0.5},
		{Domain: DomainSales, ActionType: "score_lead", Output: map[string]any{}, Confidence: 1.2},
	}
	for i, draft := range cases {
		if _, err := ledger.Record(context.Background(), draft); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
			t.Fatalf("case %d: expected invalid argument, got %v", i, err)
		}
	}
}

func TestLedgerApprovalPolicy(t *testing.T) {
	pol := policy.Default()
	pol.Approvers = []string{"lead@example.com"}
	ledger := newTestLedger(t, pol)

	recorded, err := ledger.Record(context.Background(), Draft{
		Domain:     DomainFinance,
		ActionType: "reconcile_payment",
		Output:     map[string]any{"matched": false},
		Confidence: 0.2,
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	if _, err := ledger.Approve(context.Background(), recorded.ID, "intruder@example.com"); !errors.Is(err, ErrApprovalDenied) {
		t.Fatalf("expected ErrApprovalDenied, got %v", err)
	}

	approved, err := ledger.Approve(context.Background(), recorded.ID, "lead@example.com")
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if approved.Status != StatusApproved || approved.ApprovedBy != "lead@example.com" {
		t.Fatalf("unexpected approved record: %+v", approved)
	}
}

func TestLedgerCompleteDispatchIsIdempotent(t *testing.T) {
	ledger := newTestLedger(t, nil)
	recorded, err := ledger.Record(context.Background(), Draft{
		Domain:     DomainFinance,
		ActionType: "detect_overdue",
		Output:     map[string]any{"overdue": []any{}},
		Confidence: 0.95,
		RouteKey:   "invoice-reminder",
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	first, err := ledger.CompleteDispatch(context.Background(), recorded.ID)
	if err != nil {
		t.Fatalf("first CompleteDispatch returned error: %v", err)
	}
	second, err := ledger.CompleteDispatch(context.Background(), recorded.ID)
	if err != nil {
		t.Fatalf("repeated CompleteDispatch should be idempotent, got %v", err)
	}
	if first.Status != StatusExecuted || second.Status != StatusExecuted {
		t.Fatalf("expected executed on both calls, got %s / %s", first.Status, second.Status)
	}
}

func TestLedgerFailDispatchRecordsCode(t *testing.T) {
	ledger := newTestLedger(t, nil)
	recorded, err := ledger.Record(context.Background(), Draft{
		Domain:     DomainSales,
		ActionType: "intake_lead",
		Output:     map[string]any{"priority": "high"},
		Confidence: 0.9,
		RouteKey:   "lead-intake",
	})
	if err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	cause := xerrors.New(xerrors.CodeDispatch, "automation engine returned 400")
	failed, err := ledger.FailDispatch(context.Background(), recorded.ID, cause)
	if err != nil {
		t.Fatalf("FailDispatch returned error: %v", err)
	}
	if failed.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", failed.Status)
	}
	if failed.ErrorCode != string(xerrors.CodeDispatch) {
		t.Fatalf("expected dispatch error code, got %q", failed.ErrorCode)
	}
	if failed.ErrorMessage == "" {
		t.Fatal("expected error message to be recorded")
	}
}
