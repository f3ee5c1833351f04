package handlers

import (
	"encoding/json"
	"net/http"

	apiContext "mailflow/internal/api/context"
	"mailflow/internal/pkg/errors"
	"mailflow/internal/platform/auth"
	"mailflow/internal/platform/models"
	"mailflow/internal/platform/repositories"
)

// SigningKeyHandler manages the per-provider webhook shared secrets. Rotation
// deactivates the previous key so stale signatures stop verifying.
type SigningKeyHandler struct {
	signingKeys *repositories.SigningKeyRepository
}

func NewSigningKeyHandler(signingKeys *repositories.SigningKeyRepository) *SigningKeyHandler {
	return &SigningKeyHandler{signingKeys: signingKeys}
}

func (h *SigningKeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req struct {
		Provider string `json:"provider"`
		Secret   string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Provider == "" || req.Secret == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "provider and secret are required", nil)
		return
	}

	key, err := h.signingKeys.Rotate(claims.WorkspaceID, req.Provider, req.Secret)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to rotate signing key", nil)
		return
	}
	errors.WriteJSON(w, http.StatusCreated, key)
}

func (h *SigningKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	keys, err := h.signingKeys.ListByWorkspace(claims.WorkspaceID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list signing keys", nil)
		return
	}
	if keys == nil {
		keys = []*models.WebhookSigningKey{}
	}
	errors.WriteJSON(w, http.StatusOK, keys)
}
