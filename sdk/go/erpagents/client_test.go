package erpagents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestExecuteSendsOperationPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/agents/sales/run" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["action"] != "score_lead" {
			t.Fatalf("unexpected action: %v", body["action"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result": ExecutionResult{
				Action: ActionRecord{ID: "act-1", AgentDomain: "sales", Status: "executed"},
				Output: map[string]any{"score": float64(85)},
			},
		})
	})

	result, err := client.Execute(context.Background(), "sales", "score_lead", map[string]any{
		"lead": map[string]any{"companySize": 900},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Action.ID != "act-1" || result.Action.Status != "executed" {
		t.Fatalf("unexpected action: %+v", result.Action)
	}
	if result.Output["score"] != float64(85) {
		t.Fatalf("unexpected output: %v", result.Output)
	}
}

func TestExecuteValidatesArguments(t *testing.T) {
	client, err := NewClient("http://localhost:0", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Execute(context.Background(), "", "score_lead", nil); err == nil {
		t.Fatal("expected error for empty domain")
	}
	if _, err := client.Execute(context.Background(), "sales", "", nil); err == nil {
		t.Fatal("expected error for empty operation")
	}
}

func TestActionsPassesLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/agents/finance/actions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("limit") != "5" {
			t.Fatalf("unexpected limit: %q", r.URL.Query().Get("limit"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"actions": []ActionRecord{{ID: "act-1"}, {ID: "act-2"}},
		})
	})

	actions, err := client.Actions(context.Background(), "finance", 5)
	if err != nil {
		t.Fatalf("actions: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
}

func TestApproveAndReject(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/api/v1/actions/act-1/approve":
			if body["approved_by"] != "ops@example.com" {
				t.Fatalf("unexpected operator: %v", body["approved_by"])
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"action":  ActionRecord{ID: "act-1", Status: "approved"},
			})
		case "/api/v1/actions/act-2/reject":
			if body["reason"] != "duplicate" {
				t.Fatalf("unexpected reason: %v", body["reason"])
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"action":  ActionRecord{ID: "act-2", Status: "rejected"},
			})
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	})

	approved, err := client.Approve(context.Background(), "act-1", "ops@example.com")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != "approved" {
		t.Fatalf("unexpected status: %s", approved.Status)
	}

	rejected, err := client.Reject(context.Background(), "act-2", "ops@example.com", "duplicate")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != "rejected" {
		t.Fatalf("unexpected status: %s", rejected.Status)
	}
}

func TestStats(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/actions/stats" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"stats":   ActionStats{Total: 4, Executed: 2, Pending: 1, Failed: 1},
		})
	})

	stats, err := client.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.Executed != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error": map[string]any{
				"code":    "ACTION_TERMINAL",
				"message": "action already settled",
			},
		})
	})

	_, err := client.Approve(context.Background(), "act-1", "ops@example.com")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "ACTION_TERMINAL" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
