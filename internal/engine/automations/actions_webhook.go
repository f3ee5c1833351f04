package automations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mailflow/internal/engine/webhooks"
)

// OutboundWebhookAction POSTs the trigger event to a customer-configured URL,
// signed the same way inbound webhooks are verified so receivers can
// authenticate us symmetrically.
type OutboundWebhookAction struct {
	Client *http.Client
}

func NewOutboundWebhookAction(client *http.Client) *OutboundWebhookAction {
	return &OutboundWebhookAction{Client: client}
}

func (a *OutboundWebhookAction) Execute(ctx context.Context, authData, actionConfig, payload map[string]interface{}) (*Result, error) {
	url, _ := actionConfig["url"].(string)
	if url == "" {
		return &Result{Success: false, Error: "webhook send_request requires a url"}, nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"event":     payload["event"],
		"data":      payload,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if secret, _ := actionConfig["secret"].(string); secret != "" {
		req.Header.Set("x-mailflow-signature", webhooks.Sign(secret, body))
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &Result{Success: false, RateLimited: true, Error: "receiver rate limited"}, nil
	}
	if resp.StatusCode >= 400 {
		return &Result{Success: false, Error: fmt.Sprintf("receiver returned HTTP %d", resp.StatusCode)}, nil
	}

	return &Result{Success: true, Data: map[string]interface{}{"status_code": resp.StatusCode}}, nil
}

// DefaultRegistry wires every shipped provider action. Called once at
// startup by both the server and the worker.
func DefaultRegistry(client *http.Client) *Registry {
	registry := NewRegistry()
	registry.Register("slack", "send_message", NewSlackAction(client))
	registry.Register("email", "send_email", NewEmailSendAction(client))
	registry.Register("email", "apply_label", NewEmailLabelAction(client))
	registry.Register("webhook", "send_request", NewOutboundWebhookAction(client))
	return registry
}
