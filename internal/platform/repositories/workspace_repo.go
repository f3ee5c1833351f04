package repositories

import (
	"database/sql"
	"time"

	"mailflow/internal/platform/models"
)

type WorkspaceRepository struct {
	db *sql.DB
}

func NewWorkspaceRepository(db *sql.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

func (r *WorkspaceRepository) Create(ws *models.Workspace) error {
	_, err := r.db.Exec(`
		INSERT INTO workspaces (id, slug, name, plan_tier, db_file_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ws.ID, ws.Slug, ws.Name, ws.PlanTier, ws.DBFilePath, ws.CreatedAt, ws.UpdatedAt)
	return err
}

func (r *WorkspaceRepository) GetByID(id string) (*models.Workspace, error) {
	ws := &models.Workspace{}
	err := r.db.QueryRow(`
		SELECT id, slug, name, plan_tier, db_file_path, created_at, updated_at, deleted_at
		FROM workspaces WHERE id = ? AND deleted_at IS NULL
	`, id).Scan(&ws.ID, &ws.Slug, &ws.Name, &ws.PlanTier, &ws.DBFilePath, &ws.CreatedAt, &ws.UpdatedAt, &ws.DeletedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return ws, nil
}

// List returns all live workspaces. The sweeper iterates this to process each
// workspace database in turn.
func (r *WorkspaceRepository) List() ([]*models.Workspace, error) {
	rows, err := r.db.Query(`
		SELECT id, slug, name, plan_tier, db_file_path, created_at, updated_at, deleted_at
		FROM workspaces WHERE deleted_at IS NULL ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workspaces []*models.Workspace
	for rows.Next() {
		ws := &models.Workspace{}
		if err := rows.Scan(&ws.ID, &ws.Slug, &ws.Name, &ws.PlanTier, &ws.DBFilePath, &ws.CreatedAt, &ws.UpdatedAt, &ws.DeletedAt); err != nil {
			return nil, err
		}
		workspaces = append(workspaces, ws)
	}
	return workspaces, rows.Err()
}

func (r *WorkspaceRepository) SoftDelete(id string) error {
	now := time.Now().Unix()
	_, err := r.db.Exec(`UPDATE workspaces SET deleted_at = ?, updated_at = ? WHERE id = ?`, now, now, id)
	return err
}
