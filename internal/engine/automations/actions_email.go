package automations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// EmailSendAction sends a transactional email through the workspace's email
// provider API.
type EmailSendAction struct {
	Client *http.Client
}

func NewEmailSendAction(client *http.Client) *EmailSendAction {
	return &EmailSendAction{Client: client}
}

func (a *EmailSendAction) Execute(ctx context.Context, authData, actionConfig, payload map[string]interface{}) (*Result, error) {
	base, apiKey, errResult := emailAPIAuth(authData)
	if errResult != nil {
		return errResult, nil
	}

	to, _ := actionConfig["to"].(string)
	if to == "" {
		// fall back to the event's recipient when the rule does not pin one
		to, _ = payload["recipient"].(string)
	}
	subject, _ := actionConfig["subject"].(string)
	bodyText, _ := actionConfig["body"].(string)
	if to == "" || subject == "" {
		return &Result{Success: false, Error: "email send_email requires to and subject"}, nil
	}

	body, err := json.Marshal(map[string]string{
		"to":      to,
		"subject": subject,
		"body":    bodyText,
	})
	if err != nil {
		return nil, err
	}

	return doEmailAPICall(ctx, a.Client, base+"/messages", apiKey, body)
}

// EmailLabelAction applies a label to an existing message in the provider's
// mailbox, keyed by the event's provider message id.
type EmailLabelAction struct {
	Client *http.Client
}

func NewEmailLabelAction(client *http.Client) *EmailLabelAction {
	return &EmailLabelAction{Client: client}
}

func (a *EmailLabelAction) Execute(ctx context.Context, authData, actionConfig, payload map[string]interface{}) (*Result, error) {
	base, apiKey, errResult := emailAPIAuth(authData)
	if errResult != nil {
		return errResult, nil
	}

	label, _ := actionConfig["label"].(string)
	messageID, _ := payload["message_id"].(string)
	if label == "" || messageID == "" {
		return &Result{Success: false, Error: "email apply_label requires a label and an event message id"}, nil
	}

	body, err := json.Marshal(map[string]string{"label": label})
	if err != nil {
		return nil, err
	}

	endpoint := base + "/messages/" + url.PathEscape(messageID) + "/labels"
	return doEmailAPICall(ctx, a.Client, endpoint, apiKey, body)
}

func emailAPIAuth(authData map[string]interface{}) (base, apiKey string, errResult *Result) {
	base, _ = authData["api_base"].(string)
	apiKey, _ = authData["api_key"].(string)
	if base == "" || apiKey == "" {
		return "", "", &Result{Success: false, Error: "email connection has no api_base/api_key"}
	}
	return base, apiKey, nil
}

func doEmailAPICall(ctx context.Context, client *http.Client, endpoint, apiKey string, body []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &Result{Success: false, RateLimited: true, Error: "email provider rate limited"}, nil
	}
	if resp.StatusCode >= 400 {
		return &Result{Success: false, Error: fmt.Sprintf("email provider returned HTTP %d", resp.StatusCode)}, nil
	}

	var data map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&data)
	return &Result{Success: true, Data: data}, nil
}
