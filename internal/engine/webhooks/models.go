package webhooks

import "time"

// Event statuses. failed events with retry budget left are re-selected by the
// sweeper; after the final attempt they stay failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Canonical actions across provider families.
const (
	ActionAdded     = "added"
	ActionUpdated   = "updated"
	ActionDeleted   = "deleted"
	ActionMerged    = "merged"
	ActionBounce    = "bounce"
	ActionComplaint = "complaint"
	ActionDelivery  = "delivery"
	ActionOpen      = "open"
	ActionClick     = "click"
)

// Event is one accepted inbound webhook notification, persisted in the
// workspace database.
type Event struct {
	ID          string `json:"id"`
	DedupKey    string `json:"dedup_key"`
	Provider    string `json:"provider"`
	ObjectType  string `json:"object_type"`
	ObjectID    string `json:"object_id"`
	Action      string `json:"action"`
	ActorID     string `json:"actor_id,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
	Description string `json:"description,omitempty"`
	EventTime   int64  `json:"event_time"`
	RawCurrent  string `json:"raw_current,omitempty"`
	RawPrevious string `json:"raw_previous,omitempty"`
	Status      string `json:"status"`
	RetryCount  int    `json:"retry_count"`
	NextRetryAt *int64 `json:"next_retry_at,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Normalized is the provider-agnostic view of a payload before it is stored.
type Normalized struct {
	Provider     string
	MessageID    string
	Recipient    string
	ObjectType   string
	ObjectID     string
	Action       string
	ActorID      string
	Timestamp    time.Time
	RawTimestamp string
	Description  string
	Current      map[string]interface{}
	Previous     map[string]interface{}
}

// TriggerName is the canonical automation trigger for the event, e.g.
// "pipedrive.deal.updated" or "email.bounce".
func (n *Normalized) TriggerName() string {
	if n.ObjectType == "message" {
		return n.Provider + "." + n.Action
	}
	return n.Provider + "." + n.ObjectType + "." + n.Action
}

// DedupKey is built from fields the provider guarantees to vary per logical
// event rather than a provider-supplied event id, because not all providers
// furnish one uniformly.
func (n *Normalized) DedupKey(workspaceID string) string {
	return workspaceID + ":" + n.ObjectType + ":" + n.ObjectID + ":" + n.RawTimestamp
}

// Status is the rolling per-provider health summary, one row per provider in
// the workspace database, always upserted.
type Status struct {
	Provider            string `json:"provider"`
	LastEventAt         *int64 `json:"last_event_at,omitempty"`
	LastErrorAt         *int64 `json:"last_error_at,omitempty"`
	LastError           string `json:"last_error,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Healthy             bool   `json:"healthy"`
	UpdatedAt           int64  `json:"updated_at"`
}
