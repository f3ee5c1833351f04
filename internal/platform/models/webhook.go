package models

// WebhookSigningKey is the per-workspace, per-provider shared secret used to
// verify inbound webhook signatures. Only active keys are consulted; rotating
// a key deactivates the previous one.
type WebhookSigningKey struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Provider    string `json:"provider"`
	Secret      string `json:"-"`
	Active      bool   `json:"active"`
	CreatedAt   int64  `json:"created_at"`
}
