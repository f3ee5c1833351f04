package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"mailflow/internal/platform/models"
)

type SigningKeyRepository struct {
	db *sql.DB
}

func NewSigningKeyRepository(db *sql.DB) *SigningKeyRepository {
	return &SigningKeyRepository{db: db}
}

func (r *SigningKeyRepository) Create(key *models.WebhookSigningKey) error {
	if key.ID == "" {
		key.ID = "whk_" + uuid.NewString()
	}
	key.CreatedAt = time.Now().Unix()
	key.Active = true

	_, err := r.db.Exec(`
		INSERT INTO webhook_signing_keys (id, workspace_id, provider, secret, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, key.ID, key.WorkspaceID, key.Provider, key.Secret, key.Active, key.CreatedAt)
	return err
}

// GetActiveSecret returns the active shared secret for a workspace/provider
// pair, or "" when none is configured.
func (r *SigningKeyRepository) GetActiveSecret(workspaceID, provider string) (string, error) {
	var secret string
	err := r.db.QueryRow(`
		SELECT secret FROM webhook_signing_keys
		WHERE workspace_id = ? AND provider = ? AND active = 1
		ORDER BY created_at DESC LIMIT 1
	`, workspaceID, provider).Scan(&secret)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return secret, nil
}

func (r *SigningKeyRepository) ListByWorkspace(workspaceID string) ([]*models.WebhookSigningKey, error) {
	rows, err := r.db.Query(`
		SELECT id, workspace_id, provider, secret, active, created_at
		FROM webhook_signing_keys WHERE workspace_id = ? ORDER BY created_at DESC
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*models.WebhookSigningKey
	for rows.Next() {
		key := &models.WebhookSigningKey{}
		if err := rows.Scan(&key.ID, &key.WorkspaceID, &key.Provider, &key.Secret, &key.Active, &key.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Rotate deactivates existing keys for the provider and installs a new secret
// in one transaction.
func (r *SigningKeyRepository) Rotate(workspaceID, provider, secret string) (*models.WebhookSigningKey, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE webhook_signing_keys SET active = 0
		WHERE workspace_id = ? AND provider = ? AND active = 1
	`, workspaceID, provider); err != nil {
		return nil, err
	}

	key := &models.WebhookSigningKey{
		ID:          "whk_" + uuid.NewString(),
		WorkspaceID: workspaceID,
		Provider:    provider,
		Secret:      secret,
		Active:      true,
		CreatedAt:   time.Now().Unix(),
	}
	if _, err := tx.Exec(`
		INSERT INTO webhook_signing_keys (id, workspace_id, provider, secret, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, key.ID, key.WorkspaceID, key.Provider, key.Secret, key.Active, key.CreatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return key, nil
}
