package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"ERP-Agents/internal/action"
	xerrors "ERP-Agents/internal/errors"
	"ERP-Agents/internal/extract"
	"ERP-Agents/internal/observability/alerting"
	"ERP-Agents/pkg/logger"
)

// completingDispatcher 模拟投递成功的调度器：记录行动并写回执行结论。
type completingDispatcher struct {
	mu     sync.Mutex
	ledger *action.Ledger
	ids    []string
}

func (d *completingDispatcher) Handle(ctx context.Context, actionID string) error {
	d.mu.Lock()
	d.ids = append(d.ids, actionID)
	d.mu.Unlock()
	_, err := d.ledger.CompleteDispatch(ctx, actionID)
	return err
}

func (d *completingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}

type fixedExtractor struct {
	proposal *extract.Proposal
	err      error
}

func (f *fixedExtractor) Extract(ctx context.Context, req extract.Request) (*extract.Proposal, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.proposal, nil
}

func newTestRegistry(t *testing.T, extractor extract.Extractor) (*Registry, *action.Ledger, *completingDispatcher) {
	t.Helper()
	ledger := action.NewLedger(action.NewMemoryStore(), nil)
	dispatcher := &completingDispatcher{ledger: ledger}
	if extractor == nil {
		extractor = extract.NewStaticExtractor()
	}
	registry, err := NewRegistry(Deps{
		Ledger:     ledger,
		Extractor:  extractor,
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}
	return registry, ledger, dispatcher
}

func TestExecuteDetectOverdueDispatchesReminder(t *testing.T) {
	registry, _, dispatcher := newTestRegistry(t, nil)

	result, err := registry.Execute(context.Background(), action.DomainFinance, "detect_overdue", map[string]any{
		"invoices": []map[string]any{
			{"id": "1", "invoiceNumber": "INV-1", "amount": 500.0, "dueDate": "2020-01-01", "status": "sent"},
			{"id": "2", "invoiceNumber": "INV-2", "amount": 900.0, "dueDate": "2999-01-01", "status": "sent"},
		},
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Output["count"] != 1 {
		t.Fatalf("expected one overdue invoice, got %v", result.Output["count"])
	}
	if result.Action.RouteKey != RouteInvoiceReminder {
		t.Fatalf("expected reminder route, got %q", result.Action.RouteKey)
	}
	if result.Action.Status != action.StatusExecuted {
		t.Fatalf("expected executed after synchronous dispatch, got %s", result.Action.Status)
	}
	if dispatcher.count() != 1 {
		t.Fatalf("expected one dispatch, got %d", dispatcher.count())
	}
}

func TestExecuteDetectOverdueWithoutOverdueSkipsRoute(t *testing.T) {
	registry, _, _ := newTestRegistry(t, nil)

	result, err := registry.Execute(context.Background(), action.DomainFinance, "detect_overdue", map[string]any{
		"invoices": []map[string]any{
			{"id": "1", "invoiceNumber": "INV-1", "amount": 500.0, "dueDate": "2999-01-01", "status": "sent"},
		},
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Action.RouteKey != "" {
		t.Fatalf("no overdue invoices must not set a route, got %q", result.Action.RouteKey)
	}
}

func TestExecuteScoreLead(t *testing.T) {
	registry, _, _ := newTestRegistry(t, nil)

	result, err := registry.Execute(context.Background(), action.DomainSales, "score_lead", map[string]any{
		"lead": map[string]any{
			"company_size": 150,
			"industry":     "tech",
			"role":         "Director of Engineering",
			"budget":       20000.0,
			"timeline":     "immediate",
		},
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Output["score"] != 100 {
		t.Fatalf("expected score 100, got %v", result.Output["score"])
	}
}

func TestExecuteIntakeLeadRoutesToLeadIntake(t *testing.T) {
	registry, _, dispatcher := newTestRegistry(t, nil)

	result, err := registry.Execute(context.Background(), action.DomainSales, "intake_lead", map[string]any{
		"lead": map[string]any{"company_size": 10, "industry": "retail"},
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Action.RouteKey != RouteLeadIntake {
		t.Fatalf("expected lead-intake route, got %q", result.Action.RouteKey)
	}
	sequence, ok := result.Output["sequence"].([]string)
	if !ok || len(sequence) == 0 {
		t.Fatalf("expected follow-up sequence, got %v", result.Output["sequence"])
	}
	if dispatcher.count() != 1 {
		t.Fatalf("expected one dispatch, got %d", dispatcher.count())
	}
}

func TestExecuteSupervisorRoutesRequest(t *testing.T) {
	registry, _, _ := newTestRegistry(t, nil)

	result, err := registry.Execute(context.Background(), action.DomainSupervisor, "route_request", map[string]any{
		"request": "a new lead came in from the webinar",
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Output["target_domain"] != "sales" {
		t.Fatalf("expected sales routing, got %v", result.Output["target_domain"])
	}
	if result.Action.RouteKey != "" {
		t.Fatalf("supervisor must not trigger downstream workflows, got %q", result.Action.RouteKey)
	}
}

func TestExecuteHoldsLowConfidenceProposal(t *testing.T) {
	extractor := &fixedExtractor{proposal: &extract.Proposal{
		Type:       "parse_invoice",
		Payload:    map[string]any{"invoiceNumber": "INV-3"},
		Reasoning:  "document is blurry",
		Confidence: 0.3,
	}}
	registry, _, dispatcher := newTestRegistry(t, extractor)

	result, err := registry.Execute(context.Background(), action.DomainFinance, "parse_invoice", map[string]any{
		"document": "unreadable scan",
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Action.Status != action.StatusPending {
		t.Fatalf("low confidence proposal must wait for review, got %s", result.Action.Status)
	}
	if dispatcher.count() != 0 {
		t.Fatalf("pending action must not be dispatched")
	}
}

func TestExecutePropagatesExtractionFailure(t *testing.T) {
	extractor := &fixedExtractor{err: xerrors.New(xerrors.CodeExtraction, "model returned no tool call")}
	registry, ledger, _ := newTestRegistry(t, extractor)

	_, err := registry.Execute(context.Background(), action.DomainFinance, "parse_invoice", map[string]any{
		"document": "whatever",
	})
	if xerrors.CodeOf(err) != xerrors.CodeExtraction {
		t.Fatalf("expected extraction failure, got %v", err)
	}

	// 抽取失败不得留下任何台账记录。
	actions, listErr := ledger.List(context.Background())
	if listErr != nil {
		t.Fatalf("List returned error: %v", listErr)
	}
	if len(actions) != 0 {
		t.Fatalf("expected empty ledger, got %d actions", len(actions))
	}
}

type capturingAlerter struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (a *capturingAlerter) Notify(_ context.Context, event alerting.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func TestExtractionFailureRaisesAlert(t *testing.T) {
	alerter := &capturingAlerter{}
	ledger := action.NewLedger(action.NewMemoryStore(), nil)
	registry, err := NewRegistry(Deps{
		Ledger:    ledger,
		Extractor: &fixedExtractor{err: xerrors.New(xerrors.CodeExtraction, "model declined the request")},
		Alerts:    alerter,
	})
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}

	_, err = registry.Execute(context.Background(), action.DomainSupervisor, "route_request", map[string]any{
		"request": "help",
	})
	if xerrors.CodeOf(err) != xerrors.CodeExtraction {
		t.Fatalf("expected extraction failure, got %v", err)
	}
	if len(alerter.events) != 1 {
		t.Fatalf("expected one alert event, got %d", len(alerter.events))
	}
	event := alerter.events[0]
	if event.Code != xerrors.CodeExtraction || event.Domain != string(action.DomainSupervisor) {
		t.Fatalf("unexpected alert event: %+v", event)
	}
}

func TestExtractionAuditTrail(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.log")
	if err := logger.Init(logger.Config{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{filepath.Join(t.TempDir(), "app.log")},
		Audit:       logger.AuditConfig{Enabled: true, Path: auditPath},
	}); err != nil {
		t.Fatalf("logger init: %v", err)
	}
	t.Cleanup(func() {
		_ = logger.Close()
		_ = logger.Init(logger.Config{Level: "info", Format: "json"})
	})

	registry, _, _ := newTestRegistry(t, nil)
	_, err := registry.Execute(context.Background(), action.DomainSupervisor, "route_request", map[string]any{
		"request": "remind the customer about the overdue invoice",
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	failing := &fixedExtractor{err: xerrors.New(xerrors.CodeExtraction, "proposal failed schema validation")}
	failingRegistry, _, _ := newTestRegistry(t, failing)
	if _, err := failingRegistry.Execute(context.Background(), action.DomainSupervisor, "route_request", map[string]any{
		"request": "help",
	}); xerrors.CodeOf(err) != xerrors.CodeExtraction {
		t.Fatalf("expected extraction failure, got %v", err)
	}

	raw, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}

	var extracted, recorded, failed map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("audit line is not JSON: %v (%s)", err, line)
		}
		switch entry["msg"] {
		case "proposal extracted":
			extracted = entry
		case "action recorded":
			recorded = entry
		case "extraction failed":
			failed = entry
		}
	}

	if extracted == nil {
		t.Fatal("missing audit entry for the successful extraction")
	}
	for _, field := range []string{"agent_domain", "proposed_type", "confidence", "reasoning"} {
		if _, ok := extracted[field]; !ok {
			t.Fatalf("extraction audit entry missing %s: %v", field, extracted)
		}
	}
	if recorded == nil || recorded["reasoning"] == nil {
		t.Fatalf("ledger audit entry must carry reasoning: %v", recorded)
	}
	if failed == nil || failed["error"] == nil {
		t.Fatalf("failed extraction must leave an audit entry with its detail: %v", failed)
	}
}

func TestExecuteRejectsUnknownOperation(t *testing.T) {
	registry, _, _ := newTestRegistry(t, nil)

	_, err := registry.Execute(context.Background(), action.DomainFinance, "make_coffee", nil)
	if xerrors.CodeOf(err) != xerrors.CodeUnsupportedAction {
		t.Fatalf("expected unsupported action, got %v", err)
	}

	_, err = registry.Execute(context.Background(), "inventory", "detect_overdue", nil)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for unknown domain, got %v", err)
	}
}

func TestExecuteRejectsMalformedInput(t *testing.T) {
	registry, _, _ := newTestRegistry(t, nil)

	_, err := registry.Execute(context.Background(), action.DomainSales, "score_lead", map[string]any{
		"lead": "not an object",
	})
	if xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation failure, got %v", err)
	}

	_, err = registry.Execute(context.Background(), action.DomainFinance, "detect_overdue", map[string]any{})
	if xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation failure for missing invoices, got %v", err)
	}
}

func TestActionsListsDomainHistory(t *testing.T) {
	registry, _, _ := newTestRegistry(t, nil)

	for i := 0; i < 3; i++ {
		if _, err := registry.Execute(context.Background(), action.DomainSales, "score_lead", map[string]any{
			"lead": map[string]any{"company_size": 5},
		}); err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
	}

	actions, err := registry.Actions(context.Background(), action.DomainSales, 2)
	if err != nil {
		t.Fatalf("Actions returned error: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(actions))
	}
	for _, act := range actions {
		if act.Domain != action.DomainSales {
			t.Fatalf("unexpected domain in history: %s", act.Domain)
		}
	}

	if _, err := registry.Actions(context.Background(), "inventory", 5); err == nil {
		t.Fatal("expected error for unknown domain")
	}
}

func TestSupports(t *testing.T) {
	registry, _, _ := newTestRegistry(t, nil)
	if !registry.Supports(action.DomainReporting, "generate_summary") {
		t.Fatal("expected generate_summary to be supported")
	}
	if registry.Supports(action.DomainReporting, "score_lead") {
		t.Fatal("score_lead must not be registered under reporting")
	}
}
