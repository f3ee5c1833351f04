package models

type Workspace struct {
	ID         string `json:"id"`
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	PlanTier   string `json:"plan_tier"`
	DBFilePath string `json:"db_file_path"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
	DeletedAt  *int64 `json:"deleted_at,omitempty"`
}

type User struct {
	ID           string `json:"id"`
	WorkspaceID  string `json:"workspace_id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	FullName     string `json:"full_name"`
	Role         string `json:"role"`
	LastLoginAt  *int64 `json:"last_login_at,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// CronLog is one row per sweep invocation, status: started, completed, error.
type CronLog struct {
	ID         string `json:"id"`
	JobName    string `json:"job_name"`
	Status     string `json:"status"`
	Details    string `json:"details,omitempty"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt *int64 `json:"finished_at,omitempty"`
}
