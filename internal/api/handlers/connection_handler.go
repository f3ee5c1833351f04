package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "mailflow/internal/api/context"
	"mailflow/internal/api/middleware"
	"mailflow/internal/engine/automations"
	"mailflow/internal/pkg/errors"
)

// ConnectionHandler manages a workspace's provider connections. Rules only
// fire against connections in the active sync state.
type ConnectionHandler struct{}

func NewConnectionHandler() *ConnectionHandler {
	return &ConnectionHandler{}
}

func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*middleware.TenantContext)

	var req struct {
		Provider string                 `json:"provider"`
		AuthData map[string]interface{} `json:"auth_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Provider == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "provider is required", nil)
		return
	}

	conn := &automations.Connection{
		Provider: req.Provider,
		AuthData: req.AuthData,
	}
	if err := automations.NewConnectionRepository(tenant.DB).Create(conn); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create connection", nil)
		return
	}
	errors.WriteJSON(w, http.StatusCreated, conn)
}

func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*middleware.TenantContext)

	conns, err := automations.NewConnectionRepository(tenant.DB).List()
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list connections", nil)
		return
	}
	if conns == nil {
		conns = []*automations.Connection{}
	}
	errors.WriteJSON(w, http.StatusOK, conns)
}

func (h *ConnectionHandler) UpdateState(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*middleware.TenantContext)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	var req struct {
		SyncState string `json:"sync_state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	switch req.SyncState {
	case "active", "paused", "error":
	default:
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "sync_state must be active, paused or error", nil)
		return
	}

	if err := automations.NewConnectionRepository(tenant.DB).UpdateSyncState(params.ByName("connection_id"), req.SyncState); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to update connection", nil)
		return
	}
	w.WriteHeader(http.StatusOK)
}
