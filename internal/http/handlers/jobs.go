package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"mediaforge/internal/domain"
	"mediaforge/internal/middleware"
)

type generateRequest struct {
	Kind     string `json:"kind"`
	Provider string `json:"provider"`
	Prompt   string `json:"prompt"`
}

type jobResponse struct {
	JobID          string     `json:"job_id"`
	Kind           string     `json:"kind"`
	Provider       string     `json:"provider"`
	Prompt         string     `json:"prompt"`
	ProviderTaskID string     `json:"provider_task_id,omitempty"`
	Status         string     `json:"status"`
	ResultURL      string     `json:"result_url,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func toJobResponse(job *domain.Job) jobResponse {
	return jobResponse{
		JobID:          job.ID,
		Kind:           string(job.Kind),
		Provider:       job.Provider,
		Prompt:         job.Prompt,
		ProviderTaskID: job.ProviderTaskID,
		Status:         string(job.Status),
		ResultURL:      job.ResultURL,
		Error:          job.ErrorMessage,
		CreatedAt:      job.CreatedAt,
		CompletedAt:    job.CompletedAt,
	}
}

// Generate accepts a generation request and enqueues a job for the worker
// pool, returning immediately with the job id.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "prompt is required")
		return
	}
	kind := domain.JobKind(strings.ToUpper(strings.TrimSpace(req.Kind)))
	if !kind.Valid() {
		a.error(w, http.StatusBadRequest, "bad_request", "kind must be IMAGE or VIDEO")
		return
	}
	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		provider = a.DefaultProviders[kind]
	}
	if !a.Orch.HasProvider(provider) {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported provider")
		return
	}

	job := &domain.Job{
		OwnerID:  userID,
		Kind:     kind,
		Provider: provider,
		Prompt:   req.Prompt,
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: failed to queue generation job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		return
	}
	a.json(w, http.StatusAccepted, toJobResponse(job))
}

// JobStatus returns a job record. A PROCESSING job is opportunistically
// refreshed first, so a stalled job can still reach its terminal state
// from a read path.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	job, err := a.Jobs.GetForOwner(r.Context(), userID, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: failed to load job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}

	if job.Status == domain.JobStatusProcessing && job.ProviderTaskID != "" {
		refreshed, err := a.Orch.Refresh(r.Context(), job.ID)
		if err != nil {
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("handlers: status refresh failed")
		} else {
			job = refreshed
		}
	}

	a.json(w, http.StatusOK, toJobResponse(job))
}

// ListJobs returns the caller's jobs, newest first.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	jobs, err := a.Jobs.ListByOwner(r.Context(), userID, limit)
	if err != nil {
		a.Logger.Error().Err(err).Msg("handlers: failed to list jobs")
		a.error(w, http.StatusInternalServerError, "internal", "failed to list jobs")
		return
	}

	items := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		items = append(items, toJobResponse(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

// DeleteJob removes a job record and its stored media. Deletion is a
// user-initiated gallery action; it never races the orchestration flow for
// non-terminal jobs.
func (a *App) DeleteJob(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}

	job, err := a.Jobs.GetForOwner(r.Context(), userID, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: failed to load job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	if !job.Terminal() {
		a.error(w, http.StatusConflict, "conflict", "job is still in progress")
		return
	}

	if job.ResultURL != "" && a.Store != nil {
		if err := a.Store.Delete(r.Context(), job.StorageKey()); err != nil {
			a.Logger.Warn().Err(err).Str("job_id", job.ID).Msg("handlers: failed to delete stored media")
		}
	}
	if err := a.Jobs.Delete(r.Context(), userID, job.ID); err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("handlers: failed to delete job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
