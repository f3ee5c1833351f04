package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	apiContext "mailflow/internal/api/context"
	"mailflow/internal/engine/syncqueue"
	"mailflow/internal/engine/webhooks"
	"mailflow/internal/pkg/errors"
	"mailflow/internal/platform/database"
	"mailflow/internal/platform/repositories"
)

// WebhookHandler terminates inbound provider webhooks: signature check,
// schema validation, normalization and the durable dedup insert. Automation
// dispatch happens later, from the sweeper, so the provider gets its 200
// without waiting on third-party calls.
type WebhookHandler struct {
	workspaces  *repositories.WorkspaceRepository
	signingKeys *repositories.SigningKeyRepository
	pool        *database.TenantDBPool
	validator   *webhooks.Validator
	normalizer  *webhooks.Normalizer
	log         zerolog.Logger
}

func NewWebhookHandler(
	workspaces *repositories.WorkspaceRepository,
	signingKeys *repositories.SigningKeyRepository,
	pool *database.TenantDBPool,
	validator *webhooks.Validator,
	normalizer *webhooks.Normalizer,
	log zerolog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		workspaces:  workspaces,
		signingKeys: signingKeys,
		pool:        pool,
		validator:   validator,
		normalizer:  normalizer,
		log:         log,
	}
}

type acceptedResponse struct {
	Status           string   `json:"status"`
	EventID          string   `json:"event_id,omitempty"`
	EventIDs         []string `json:"event_ids,omitempty"`
	Duplicate        bool     `json:"duplicate,omitempty"`
	ProcessingTimeMS int64    `json:"processing_time_ms"`
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	provider := params.ByName("provider")
	if !h.validator.KnownProvider(provider) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Unknown provider", nil)
		return
	}

	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		workspaceID = r.Header.Get("x-workspace-id")
	}
	if workspaceID == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Missing workspace_id", nil)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Failed to read request body", nil)
		return
	}

	// Authenticate before touching any state: a rejected signature must not
	// create an event row.
	signature := r.Header.Get("x-" + provider + "-signature")
	secret, err := h.signingKeys.GetActiveSecret(workspaceID, provider)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load signing key", nil)
		return
	}
	if !webhooks.Verify(secret, body, signature) {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeInvalidSignature, "Invalid signature", nil)
		return
	}

	ws, err := h.workspaces.GetByID(workspaceID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load workspace", nil)
		return
	}
	if ws == nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unknown workspace", nil)
		return
	}

	db, err := h.pool.Get(ws.ID, ws.DBFilePath)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to open workspace database", nil)
		return
	}
	status := webhooks.NewStatusRepository(db)

	payload, err := h.validator.Validate(provider, body)
	if err != nil {
		status.RecordError(provider, err.Error())
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Payload failed validation", err.Error())
		return
	}

	normalized, err := h.normalizer.Normalize(provider, payload)
	if err != nil {
		status.RecordError(provider, err.Error())
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Failed to normalize payload", err.Error())
		return
	}

	events := webhooks.NewEventRepository(db)
	queue := syncqueue.NewRepository(db)
	var eventIDs []string
	allDuplicate := len(normalized) > 0
	for _, n := range normalized {
		ev, created, err := events.Record(ws.ID, n)
		if err != nil {
			status.RecordError(provider, err.Error())
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to store event", nil)
			return
		}
		eventIDs = append(eventIDs, ev.ID)
		if !created {
			continue
		}
		allDuplicate = false

		// a CRM object change also queues a refresh so the sync drain
		// re-pulls the object from the provider
		if provider == "pipedrive" {
			raw, _ := json.Marshal(map[string]string{
				"object_type": n.ObjectType,
				"object_id":   n.ObjectID,
			})
			item := &syncqueue.Item{Provider: provider, Operation: "object_refresh", Payload: string(raw)}
			if err := queue.Enqueue(item); err != nil {
				h.log.Error().Err(err).Str("workspace_id", ws.ID).Str("event_id", ev.ID).
					Msg("failed to enqueue sync refresh")
			}
		}
	}

	if err := status.RecordSuccess(provider); err != nil {
		h.log.Error().Err(err).Str("workspace_id", ws.ID).Str("provider", provider).Msg("failed to upsert webhook status")
	}

	resp := acceptedResponse{
		Status:           "accepted",
		Duplicate:        allDuplicate,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}
	if len(eventIDs) == 1 {
		resp.EventID = eventIDs[0]
	} else {
		resp.EventIDs = eventIDs
	}
	errors.WriteJSON(w, http.StatusOK, resp)
}

// Health serves GET on the webhook path: a bare liveness probe without a
// workspace, or the persisted status row with one.
func (h *WebhookHandler) Health(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	provider := params.ByName("provider")
	if !h.validator.KnownProvider(provider) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Unknown provider", nil)
		return
	}

	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		errors.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}

	ws, err := h.workspaces.GetByID(workspaceID)
	if err != nil || ws == nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unknown workspace", nil)
		return
	}

	db, err := h.pool.Get(ws.ID, ws.DBFilePath)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to open workspace database", nil)
		return
	}

	st, err := webhooks.NewStatusRepository(db).Get(provider)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load webhook status", nil)
		return
	}
	if st == nil {
		errors.WriteJSON(w, http.StatusOK, map[string]interface{}{"provider": provider, "healthy": true})
		return
	}
	errors.WriteJSON(w, http.StatusOK, st)
}
