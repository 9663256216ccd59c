package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"ERP-Agents/sdk/go/erpagents"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/agents/finance/run", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result": erpagents.ExecutionResult{
				Action: erpagents.ActionRecord{
					ID:              "act-demo",
					AgentDomain:     "finance",
					ActionType:      "detect_overdue",
					ConfidenceScore: 1.0,
					Status:          "executed",
					RouteKey:        "invoice-reminder",
				},
				Output: map[string]any{"count": 2},
			},
		})
	})
	mux.HandleFunc("/api/v1/actions/stats", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"stats":   erpagents.ActionStats{Total: 1, Executed: 1},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := erpagents.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx := context.Background()
	result, err := client.Execute(ctx, "finance", "detect_overdue", map[string]any{
		"invoices": []map[string]any{
			{"invoiceNumber": "INV-1", "dueDate": "2026-01-01", "status": "SENT"},
		},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("action %s finished with status %s\n", result.Action.ID, result.Action.Status)

	stats, err := client.Stats(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("ledger holds %d actions (%d executed)\n", stats.Total, stats.Executed)
}
