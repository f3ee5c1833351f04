package automations

// Rule maps a canonical trigger event to a provider action within one
// workspace. Conditions are a flat field -> required-value map; all must
// hold, an empty map always matches.
type Rule struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	TriggerEvent   string                 `json:"trigger_event"`
	Conditions     map[string]interface{} `json:"trigger_conditions"`
	Provider       string                 `json:"provider"`
	ActionType     string                 `json:"action_type"`
	ActionConfig   map[string]interface{} `json:"action_config"`
	ExecutionOrder int                    `json:"execution_order"`
	Active         bool                   `json:"active"`
	SuccessCount   int                    `json:"success_count"`
	FailureCount   int                    `json:"failure_count"`
	CreatedAt      int64                  `json:"created_at"`
	UpdatedAt      int64                  `json:"updated_at"`
}

// Connection is a workspace's credentialed link to a provider. A rule only
// fires when its provider connection exists and is in the active sync state.
type Connection struct {
	ID        string                 `json:"id"`
	Provider  string                 `json:"provider"`
	AuthData  map[string]interface{} `json:"-"`
	SyncState string                 `json:"sync_state"`
	CreatedAt int64                  `json:"created_at"`
	UpdatedAt int64                  `json:"updated_at"`
}

// ExecutionLog is one immutable record per dispatch attempt, success or not.
type ExecutionLog struct {
	ID             string `json:"id"`
	AutomationID   string `json:"automation_id"`
	Provider       string `json:"provider"`
	ActionType     string `json:"action_type"`
	TriggerEvent   string `json:"trigger_event"`
	TriggerPayload string `json:"trigger_payload,omitempty"`
	ActionConfig   string `json:"action_config,omitempty"`
	Status         string `json:"status"`
	ErrorMessage   string `json:"error_message,omitempty"`
	ExecutedAt     int64  `json:"executed_at"`
}

// Result is the outcome of a single provider action call.
type Result struct {
	Success     bool
	Error       string
	RateLimited bool
	Data        map[string]interface{}
}

// DispatchResult is the per-rule outcome returned to trigger callers. A
// rate-limited dispatch is a failed one that the caller may reschedule.
type DispatchResult struct {
	AutomationID string `json:"automation_id"`
	Provider     string `json:"provider"`
	Action       string `json:"action"`
	Success      bool   `json:"success"`
	Skipped      bool   `json:"skipped,omitempty"`
	RateLimited  bool   `json:"rate_limited,omitempty"`
	Error        string `json:"error,omitempty"`
}
