package handlers

import (
	"encoding/json"
	"net/http"

	apiContext "mailflow/internal/api/context"
	"mailflow/internal/api/middleware"
	"mailflow/internal/engine/automations"
	"mailflow/internal/pkg/errors"
)

// TriggerHandler lets the dashboard (and internal callers) fire automations
// directly for a named event. Unlike the webhook path this dispatches
// synchronously and reports per-rule outcomes.
type TriggerHandler struct {
	dispatcher *automations.Dispatcher
}

func NewTriggerHandler(dispatcher *automations.Dispatcher) *TriggerHandler {
	return &TriggerHandler{dispatcher: dispatcher}
}

type triggerRequest struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

type triggerResponse struct {
	Success   bool                         `json:"success"`
	Triggered int                          `json:"triggered"`
	Results   []automations.DispatchResult `json:"results"`
}

func (h *TriggerHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*middleware.TenantContext)

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Event == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Missing event", nil)
		return
	}

	payload := req.Data
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["event"] = req.Event

	results, err := h.dispatcher.Trigger(r.Context(), tenant.DB, tenant.WorkspaceID, req.Event, payload)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Dispatch failed", err.Error())
		return
	}

	triggered := 0
	for _, res := range results {
		if !res.Skipped {
			triggered++
		}
	}
	if results == nil {
		results = []automations.DispatchResult{}
	}

	errors.WriteJSON(w, http.StatusOK, triggerResponse{
		Success:   true,
		Triggered: triggered,
		Results:   results,
	})
}
