package automations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// SlackAction posts a chat message via the Slack web API using the
// workspace's stored bot token.
type SlackAction struct {
	Client  *http.Client
	BaseURL string
}

func NewSlackAction(client *http.Client) *SlackAction {
	return &SlackAction{Client: client, BaseURL: "https://slack.com/api"}
}

func (a *SlackAction) Execute(ctx context.Context, authData, actionConfig, payload map[string]interface{}) (*Result, error) {
	token, _ := authData["bot_token"].(string)
	if token == "" {
		return &Result{Success: false, Error: "slack connection has no bot token"}, nil
	}
	channel, _ := actionConfig["channel"].(string)
	message, _ := actionConfig["message"].(string)
	if channel == "" || message == "" {
		return &Result{Success: false, Error: "slack send_message requires channel and message"}, nil
	}

	body, err := json.Marshal(map[string]string{
		"channel": channel,
		"text":    message,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &Result{Success: false, RateLimited: true, Error: "slack rate limited"}, nil
	}
	if resp.StatusCode >= 400 {
		return &Result{Success: false, Error: fmt.Sprintf("slack API returned HTTP %d", resp.StatusCode)}, nil
	}

	// Slack reports application errors with HTTP 200 and ok=false
	var slackResp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
		TS    string `json:"ts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&slackResp); err != nil {
		return nil, err
	}
	if !slackResp.OK {
		return &Result{Success: false, Error: "slack API error: " + slackResp.Error}, nil
	}

	return &Result{Success: true, Data: map[string]interface{}{"ts": slackResp.TS}}, nil
}
