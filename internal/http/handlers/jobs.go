package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"archgen/internal/domain"
	"archgen/internal/errclass"

	"github.com/go-chi/chi/v5"
)

type jobResponse struct {
	ID        string    `json:"id"`
	ToolID    string    `json:"tool_id"`
	Status    string    `json:"status"`
	Cost      int       `json:"cost"`
	ResultURL *string   `json:"result_url"`
	Error     *string   `json:"error"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := a.ownedJob(w, r)
	if !ok {
		return
	}
	resp := jobResponse{
		ID:        job.ID,
		ToolID:    string(job.ToolID),
		Status:    string(job.Status),
		Cost:      job.Cost,
		ResultURL: job.ResultURL,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if job.ErrorMessage != nil {
		msg := publicError(*job.ErrorMessage)
		resp.Error = &msg
	}
	a.json(w, http.StatusOK, resp)
}

func (a *App) JobPosition(w http.ResponseWriter, r *http.Request) {
	job, ok := a.ownedJob(w, r)
	if !ok {
		return
	}
	position := 0
	if !job.Status.IsTerminal() {
		position = a.Jobs.QueuePosition(r.Context(), job.ID)
	}
	a.json(w, http.StatusOK, map[string]any{"job_id": job.ID, "status": job.Status, "position": position})
}

// ReconcileJobs fails and refunds the caller's stuck jobs. Clients call it
// when a session starts.
func (a *App) ReconcileJobs(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	report, err := a.Sweeper.Sweep(r.Context(), userID)
	if err != nil {
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("reconcile jobs")
		a.error(w, http.StatusInternalServerError, "internal", "failed to reconcile jobs")
		return
	}
	a.json(w, http.StatusOK, report)
}

// ownedJob loads the {id} job and hides jobs of other users behind 404.
func (a *App) ownedJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return nil, false
	}
	jobID := chi.URLParam(r, "id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job id required")
		return nil, false
	}
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			a.Logger.Error().Err(err).Str("job_id", jobID).Msg("load job")
		}
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return nil, false
	}
	if job.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return nil, false
	}
	return job, true
}

// publicError turns a stored "<KIND>: <raw>" message into user-facing text.
func publicError(stored string) string {
	if stored == domain.TimeoutMessage {
		return stored
	}
	prefix, _, _ := strings.Cut(stored, ":")
	switch kind := errclass.Kind(strings.TrimSpace(prefix)); kind {
	case errclass.InsufficientCredits, errclass.SafetyPolicyViolation:
		return kind.UserMessage()
	}
	return errclass.GenericBackendError.UserMessage()
}
