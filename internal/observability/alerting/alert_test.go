package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "ERP-Agents/internal/errors"
)

func sampleEvent() Event {
	return Event{
		Code:       xerrors.CodeDispatch,
		Message:    "webhook delivery exhausted",
		Severity:   xerrors.SeverityCritical,
		ActionID:   "act-1",
		Domain:     "finance",
		ActionType: "detect_overdue",
		Metadata:   map[string]string{"route_key": "invoice-reminder"},
		OccurredAt: time.Unix(1700000000, 0),
	}
}

func TestDingTalkWebhookSender(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := &DingTalkWebhookSender{WebhookURL: server.URL, Client: server.Client()}
	notifier := &DingTalkNotifier{Sender: sender}
	if err := notifier.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if captured["msgtype"] != "text" {
		t.Fatalf("expected text message, got %v", captured["msgtype"])
	}
	text, _ := captured["text"].(map[string]any)
	content, _ := text["content"].(string)
	if content == "" {
		t.Fatal("empty dingtalk content")
	}
}

func TestSlackWebhookSenderStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	notifier := &SlackNotifier{
		Sender:    &SlackWebhookSender{WebhookURL: server.URL, Client: server.Client()},
		ChannelID: "#ops",
	}
	if err := notifier.Notify(context.Background(), sampleEvent()); err == nil {
		t.Fatal("expected error on non-2xx response")
	}
}

type stubNotifier struct {
	channel Channel
	err     error
	events  []Event
}

func (n *stubNotifier) Channel() Channel { return n.channel }

func (n *stubNotifier) Notify(_ context.Context, event Event) error {
	n.events = append(n.events, event)
	return n.err
}

func TestFanoutBroadcastsAndJoinsErrors(t *testing.T) {
	ok := &stubNotifier{channel: ChannelSlack}
	failing := &stubNotifier{channel: ChannelDingTalk, err: errors.New("robot offline")}

	fanout := NewFanout(ok, failing, nil)
	err := fanout.Notify(context.Background(), sampleEvent())
	if err == nil {
		t.Fatal("expected joined error from failing channel")
	}
	if len(ok.events) != 1 || len(failing.events) != 1 {
		t.Fatalf("expected every channel to receive the event, got %d/%d", len(ok.events), len(failing.events))
	}
}

func TestUnconfiguredNotifiersAreNoops(t *testing.T) {
	fanout := NewFanout(&EmailNotifier{}, &DingTalkNotifier{}, &SlackNotifier{})
	if err := fanout.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("unconfigured notifiers should be skipped, got %v", err)
	}
}
