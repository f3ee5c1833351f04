package automations

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"mailflow/internal/engine/webhooks"
)

func TestSlackActionSendMessage(t *testing.T) {
	var gotAuth string
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "ts": "123.456"})
	}))
	defer server.Close()

	action := &SlackAction{Client: server.Client(), BaseURL: server.URL}
	result, err := action.Execute(context.Background(),
		map[string]interface{}{"bot_token": "xoxb-test"},
		map[string]interface{}{"channel": "#deals", "message": "Deal won"},
		map[string]interface{}{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !result.Success {
		t.Errorf("Expected success, got %+v", result)
	}
	if gotAuth != "Bearer xoxb-test" {
		t.Errorf("Unexpected auth header %s", gotAuth)
	}
	if gotBody["channel"] != "#deals" || gotBody["text"] != "Deal won" {
		t.Errorf("Unexpected request body %v", gotBody)
	}
	if result.Data["ts"] != "123.456" {
		t.Errorf("Expected ts in result data, got %v", result.Data)
	}
}

func TestSlackActionRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	action := &SlackAction{Client: server.Client(), BaseURL: server.URL}
	result, err := action.Execute(context.Background(),
		map[string]interface{}{"bot_token": "xoxb-test"},
		map[string]interface{}{"channel": "#deals", "message": "hi"},
		nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Success {
		t.Error("429 must not be a success")
	}
	if !result.RateLimited {
		t.Error("429 must be surfaced as rate limited, not a generic failure")
	}
}

func TestSlackActionAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error": "channel_not_found"})
	}))
	defer server.Close()

	action := &SlackAction{Client: server.Client(), BaseURL: server.URL}
	result, err := action.Execute(context.Background(),
		map[string]interface{}{"bot_token": "xoxb-test"},
		map[string]interface{}{"channel": "#gone", "message": "hi"},
		nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if result.Success || result.RateLimited {
		t.Errorf("ok=false must be a plain failure, got %+v", result)
	}
}

func TestSlackActionMissingConfig(t *testing.T) {
	action := NewSlackAction(http.DefaultClient)

	result, err := action.Execute(context.Background(),
		map[string]interface{}{"bot_token": "xoxb-test"},
		map[string]interface{}{"channel": "#deals"}, // no message
		nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Success {
		t.Error("Missing message must fail without an outbound call")
	}
}

func TestEmailSendActionRecipientFallback(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	action := NewEmailSendAction(server.Client())
	result, err := action.Execute(context.Background(),
		map[string]interface{}{"api_base": server.URL, "api_key": "key-1"},
		map[string]interface{}{"subject": "Bounce detected", "body": "..."},
		map[string]interface{}{"recipient": "jane@example.com"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !result.Success {
		t.Errorf("Expected success, got %+v", result)
	}
	if gotBody["to"] != "jane@example.com" {
		t.Errorf("Expected event recipient as fallback, got %s", gotBody["to"])
	}
}

func TestEmailLabelActionRequiresMessageID(t *testing.T) {
	action := NewEmailLabelAction(http.DefaultClient)

	result, err := action.Execute(context.Background(),
		map[string]interface{}{"api_base": "http://example.invalid", "api_key": "key"},
		map[string]interface{}{"label": "bounced"},
		map[string]interface{}{}) // no message_id in payload
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Success {
		t.Error("Missing message id must fail")
	}
}

func TestOutboundWebhookActionSignsBody(t *testing.T) {
	var gotSig string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("x-mailflow-signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	action := NewOutboundWebhookAction(server.Client())
	result, err := action.Execute(context.Background(),
		nil,
		map[string]interface{}{"url": server.URL, "secret": "hook-secret"},
		map[string]interface{}{"event": "pipedrive.deal.updated", "status": "won"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if !result.Success {
		t.Errorf("Expected success, got %+v", result)
	}
	if gotSig == "" {
		t.Fatal("Expected a signature header")
	}
	if !webhooks.Verify("hook-secret", gotBody, gotSig) {
		t.Error("Signature does not verify against the delivered body")
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal(gotBody, &envelope); err != nil {
		t.Fatalf("Delivered body is not JSON: %v", err)
	}
	if envelope["event"] != "pipedrive.deal.updated" {
		t.Errorf("Envelope missing event, got %v", envelope)
	}
}

func TestOutboundWebhookActionReceiverError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	action := NewOutboundWebhookAction(server.Client())
	result, err := action.Execute(context.Background(),
		nil,
		map[string]interface{}{"url": server.URL},
		map[string]interface{}{"event": "x"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Success {
		t.Error("5xx from receiver must fail the action")
	}
}
