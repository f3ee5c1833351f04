package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	apiContext "mailflow/internal/api/context"
	"mailflow/internal/api/middleware"
	"mailflow/internal/engine/automations"
	"mailflow/internal/pkg/errors"
)

// AutomationHandler is the dashboard CRUD surface for automation rules and
// their execution logs. All state lives in the workspace database resolved
// by the tenant middleware.
type AutomationHandler struct{}

func NewAutomationHandler() *AutomationHandler {
	return &AutomationHandler{}
}

type automationRequest struct {
	Name           string                 `json:"name"`
	TriggerEvent   string                 `json:"trigger_event"`
	Conditions     map[string]interface{} `json:"trigger_conditions"`
	Provider       string                 `json:"provider"`
	ActionType     string                 `json:"action_type"`
	ActionConfig   map[string]interface{} `json:"action_config"`
	ExecutionOrder *int                   `json:"execution_order"`
	Active         *bool                  `json:"active"`
}

func (h *AutomationHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*middleware.TenantContext)

	var req automationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Name == "" || req.TriggerEvent == "" || req.Provider == "" || req.ActionType == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "name, trigger_event, provider and action_type are required", nil)
		return
	}

	rule := &automations.Rule{
		Name:         req.Name,
		TriggerEvent: req.TriggerEvent,
		Conditions:   req.Conditions,
		Provider:     req.Provider,
		ActionType:   req.ActionType,
		ActionConfig: req.ActionConfig,
		Active:       true,
	}
	if req.ExecutionOrder != nil {
		rule.ExecutionOrder = *req.ExecutionOrder
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if err := automations.NewRuleRepository(tenant.DB).Create(rule); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create automation", nil)
		return
	}
	errors.WriteJSON(w, http.StatusCreated, rule)
}

func (h *AutomationHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*middleware.TenantContext)

	rules, err := automations.NewRuleRepository(tenant.DB).List()
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list automations", nil)
		return
	}
	if rules == nil {
		rules = []*automations.Rule{}
	}
	errors.WriteJSON(w, http.StatusOK, rules)
}

func (h *AutomationHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*middleware.TenantContext)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	rule, err := automations.NewRuleRepository(tenant.DB).GetByID(params.ByName("automation_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load automation", nil)
		return
	}
	if rule == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Automation not found", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, rule)
}

func (h *AutomationHandler) Update(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*middleware.TenantContext)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	repo := automations.NewRuleRepository(tenant.DB)
	rule, err := repo.GetByID(params.ByName("automation_id"))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load automation", nil)
		return
	}
	if rule == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Automation not found", nil)
		return
	}

	var req automationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if req.Name != "" {
		rule.Name = req.Name
	}
	if req.TriggerEvent != "" {
		rule.TriggerEvent = req.TriggerEvent
	}
	if req.Conditions != nil {
		rule.Conditions = req.Conditions
	}
	if req.Provider != "" {
		rule.Provider = req.Provider
	}
	if req.ActionType != "" {
		rule.ActionType = req.ActionType
	}
	if req.ActionConfig != nil {
		rule.ActionConfig = req.ActionConfig
	}
	if req.ExecutionOrder != nil {
		rule.ExecutionOrder = *req.ExecutionOrder
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if err := repo.Update(rule); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to update automation", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, rule)
}

func (h *AutomationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*middleware.TenantContext)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	if err := automations.NewRuleRepository(tenant.DB).Delete(params.ByName("automation_id")); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to delete automation", nil)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *AutomationHandler) Logs(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*middleware.TenantContext)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	logs, err := automations.NewExecutionLogRepository(tenant.DB).ListByAutomation(params.ByName("automation_id"), limit)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list execution logs", nil)
		return
	}
	if logs == nil {
		logs = []*automations.ExecutionLog{}
	}
	errors.WriteJSON(w, http.StatusOK, logs)
}

func (h *AutomationHandler) RecentExecutions(w http.ResponseWriter, r *http.Request) {
	tenant := r.Context().Value(apiContext.Tenant).(*middleware.TenantContext)

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	logs, err := automations.NewExecutionLogRepository(tenant.DB).ListRecent(limit)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list executions", nil)
		return
	}
	if logs == nil {
		logs = []*automations.ExecutionLog{}
	}
	errors.WriteJSON(w, http.StatusOK, logs)
}
