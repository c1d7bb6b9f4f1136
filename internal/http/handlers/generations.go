package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"archgen/internal/cache"
	"archgen/internal/domain"
	"archgen/internal/errclass"
	"archgen/internal/lifecycle"
)

type generationRequest struct {
	ToolID      string   `json:"tool_id"`
	Prompt      string   `json:"prompt"`
	Images      []string `json:"images"`
	AspectRatio string   `json:"aspect_ratio"`
	Count       int      `json:"count"`
	Model       string   `json:"model"`
}

type generationResponse struct {
	JobID       string   `json:"job_id"`
	Status      string   `json:"status"`
	ResultURL   string   `json:"result_url"`
	ImageURLs   []string `json:"image_urls"`
	MediaIDs    []string `json:"media_ids,omitempty"`
	ProjectID   string   `json:"project_id,omitempty"`
	Cost        int      `json:"cost"`
	FailedUnits int      `json:"failed_units"`
}

var errBlobExpired = errors.New("upload expired or unknown")

// Generate prices the request from the tool catalog and runs it through the
// lifecycle manager. The call blocks until the attempt settles.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	tool := domain.ToolID(strings.TrimSpace(req.ToolID))
	if !tool.Valid() {
		a.error(w, http.StatusBadRequest, "bad_request", "unknown tool_id")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" && len(req.Images) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt or images required")
		return
	}
	count := req.Count
	if count <= 0 {
		count = 1
	}
	if count > lifecycle.MaxUnits {
		count = lifecycle.MaxUnits
	}
	images, err := a.resolveImages(req.Images)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	unitCost, err := a.Tools.UnitCost(r.Context(), tool)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusBadRequest, "bad_request", "unknown tool_id")
			return
		}
		a.Logger.Error().Err(err).Str("tool_id", string(tool)).Msg("load tool price")
		a.error(w, http.StatusInternalServerError, "internal", "failed to price request")
		return
	}
	cost := unitCost * count

	res, err := a.Runner.Run(r.Context(), lifecycle.Request{
		UserID:      userID,
		ToolID:      tool,
		Prompt:      req.Prompt,
		Images:      images,
		AspectRatio: req.AspectRatio,
		Count:       count,
		Model:       req.Model,
		Cost:        cost,
	})
	if err != nil {
		a.generationError(w, userID, err)
		return
	}
	a.json(w, http.StatusOK, generationResponse{
		JobID:       res.JobID,
		Status:      string(domain.JobStatusCompleted),
		ResultURL:   res.ResultURL,
		ImageURLs:   res.ImageURLs,
		MediaIDs:    res.MediaIDs,
		ProjectID:   res.ProjectID,
		Cost:        cost,
		FailedUnits: res.FailedUnits,
	})
}

func (a *App) generationError(w http.ResponseWriter, userID string, err error) {
	var genErr *lifecycle.GenerationError
	if errors.As(err, &genErr) {
		body := errorBody{Message: genErr.UserMessage(), JobID: genErr.JobID}
		switch genErr.Kind {
		case errclass.InsufficientCredits:
			body.Error = "insufficient_credits"
			a.json(w, http.StatusPaymentRequired, body)
		case errclass.SafetyPolicyViolation:
			body.Error = "safety_policy_violation"
			a.json(w, http.StatusUnprocessableEntity, body)
		default:
			body.Error = "generation_failed"
			a.json(w, http.StatusBadGateway, body)
		}
		return
	}
	var createErr *domain.JobCreationError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.As(err, &createErr):
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("generation: job creation failed")
		a.error(w, http.StatusServiceUnavailable, "job_creation_failed", "could not start the job; credits were returned")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "account not found")
	default:
		a.Logger.Error().Err(err).Str("user_id", userID).Msg("generation: unexpected error")
		a.error(w, http.StatusInternalServerError, "internal", "generation could not be started")
	}
}

// resolveImages inlines blob: references as data URIs so the generator can
// read them.
func (a *App) resolveImages(refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if !strings.HasPrefix(ref, cache.BlobPrefix) {
			out = append(out, ref)
			continue
		}
		if a.Blobs == nil {
			return nil, errBlobExpired
		}
		blob, ok := a.Blobs.Get(ref)
		if !ok {
			return nil, errBlobExpired
		}
		out = append(out, "data:"+blob.ContentType+";base64,"+base64.StdEncoding.EncodeToString(blob.Data))
	}
	return out, nil
}
