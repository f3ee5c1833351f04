package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "mailflow/internal/api/context"
	"mailflow/internal/pkg/errors"
	"mailflow/internal/workers"
)

// CronHandler exposes the sweep jobs over HTTP for platform cron dispatchers
// and manual invocation. The worker binary runs the same jobs on a schedule.
type CronHandler struct {
	sweeper *workers.Sweeper
}

func NewCronHandler(sweeper *workers.Sweeper) *CronHandler {
	return &CronHandler{sweeper: sweeper}
}

var knownJobs = map[string]bool{
	workers.JobProcessWebhooks: true,
	workers.JobProcessSync:     true,
	workers.JobCleanup:         true,
	workers.JobHealthCheck:     true,
}

func (h *CronHandler) RunNamed(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	h.run(w, r, params.ByName("job"))
}

func (h *CronHandler) RunFromBody(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Job string `json:"job"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	h.run(w, r, req.Job)
}

func (h *CronHandler) run(w http.ResponseWriter, r *http.Request, job string) {
	if !knownJobs[job] {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unknown job", nil)
		return
	}

	stats, err := h.sweeper.Run(r.Context(), job)
	if err != nil {
		// The sweep already recorded the failure; the caller still gets a
		// structured payload rather than a crash.
		errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"job":    job,
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job":    job,
		"status": "completed",
		"stats":  stats,
	})
}
