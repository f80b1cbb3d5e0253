package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/jobs"
	"github.com/xkilldash9x/portalpilot/internal/store"
)

// JobService is the part of the job runner the API exposes.
type JobService interface {
	Submit(ctx context.Context, jobType schemas.JobType, params schemas.JobParameters) (*schemas.Job, error)
	Get(ctx context.Context, id string) (*schemas.Job, error)
	List(ctx context.Context) ([]schemas.Job, error)
}

// CreateJobRequest is the body of POST /api/automation/jobs.
type CreateJobRequest struct {
	JobType    schemas.JobType       `json:"job_type"`
	Parameters schemas.JobParameters `json:"parameters"`
}

// Handler manages the HTTP request handling for the job API.
type Handler struct {
	jobs    JobService
	log     *zap.Logger
	version string
}

// NewHandler creates a new Handler.
func NewHandler(jobs JobService, logger *zap.Logger, version string) *Handler {
	return &Handler{
		jobs:    jobs,
		log:     logger.Named("api_handlers"),
		version: version,
	}
}

// ServiceInfo handles GET /api/
func (h *Handler) ServiceInfo(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"service": "portalpilot",
		"version": h.version,
		"job_types": []schemas.JobType{
			schemas.JobAuthenticate,
			schemas.JobScrapeUsers,
			schemas.JobProvision,
			schemas.JobDeprovision,
		},
	})
}

// CreateJob handles POST /api/automation/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.Submit(r.Context(), req.JobType, req.Parameters)
	switch {
	case errors.Is(err, jobs.ErrInvalidJobType):
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrQueueFull):
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.log.Error("Failed to submit job", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	h.respondJSON(w, http.StatusAccepted, redact(*job))
}

// ListJobs handles GET /api/automation/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.List(r.Context())
	if err != nil {
		h.log.Error("Failed to list jobs", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	out := make([]schemas.Job, 0, len(list))
	for _, job := range list {
		out = append(out, redact(job))
	}
	h.respondJSON(w, http.StatusOK, out)
}

// GetJob handles GET /api/automation/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := h.jobs.Get(r.Context(), id)
	if errors.Is(err, store.ErrJobNotFound) {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.log.Error("Failed to load job", zap.String("job_id", id), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	h.respondJSON(w, http.StatusOK, redact(*job))
}

// redact strips secrets from job parameters before they leave the process.
func redact(job schemas.Job) schemas.Job {
	if job.Parameters.Password != "" {
		job.Parameters.Password = "********"
	}
	job.Parameters.OTPCode = ""
	return job
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Warn("Failed to write response", zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
