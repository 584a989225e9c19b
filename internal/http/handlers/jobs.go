package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/iago/technoshare-commentator/internal/domain"
	"github.com/iago/technoshare-commentator/internal/repository"
)

func (api *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := domain.JobListFilter{}
	query := r.URL.Query()

	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status := domain.JobStatus(strings.ToLower(raw))
		if !status.Valid() {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "unknown status filter")
			return
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	jobs, err := api.jobsService.ListJobs(r.Context(), filter)
	if err != nil {
		api.logger.Error("list jobs failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list jobs")
		return
	}

	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, newJobView(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	job, err := api.jobsService.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
			return
		}
		api.logger.Error("load job failed", "job_id", jobID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}

	writeJSON(w, http.StatusOK, newJobDetailView(job))
}

func (api *API) RequeueJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseJobID(w, r)
	if !ok {
		return
	}

	job, err := api.jobsService.RequeueJob(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "not_found", "job not found")
		case errors.Is(err, repository.ErrInvalidTransition):
			writeError(w, r, http.StatusConflict, "invalid_transition", "only failed jobs, or processing jobs past the job timeout, can be requeued")
		default:
			api.logger.Error("requeue job failed", "job_id", jobID, "error", err)
			writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to requeue job")
		}
		return
	}

	api.logger.Info("job requeued", "job_id", jobID, "attempts", job.Attempts)
	writeJSON(w, http.StatusOK, newJobDetailView(job))
}

func (api *API) Stats(w http.ResponseWriter, r *http.Request) {
	counts, err := api.jobsService.Stats(r.Context())
	if err != nil {
		api.logger.Error("job stats failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to count jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": counts})
}

func parseJobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(r.PathValue("id"))
	jobID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || jobID <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job id must be a positive integer")
		return 0, false
	}
	return jobID, true
}
