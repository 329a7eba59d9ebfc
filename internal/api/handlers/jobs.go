package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dvloznov/journal-classifier/internal/api/middleware"
	"github.com/dvloznov/journal-classifier/internal/jobs"
	"github.com/dvloznov/journal-classifier/internal/logger"
	"github.com/gorilla/mux"
)

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store     jobs.JobStore
	publisher jobs.Publisher
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, publisher jobs.Publisher) *JobsHandler {
	return &JobsHandler{
		store:     store,
		publisher: publisher,
	}
}

// EnqueueRegister handles POST /api/mf/register/jobs
func (h *JobsHandler) EnqueueRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readBody(w, r)
	if err != nil {
		writeErr(w, err, "")
		return
	}
	req, err := decodeRegisterRequest(body)
	if err != nil {
		writeErr(w, err, "")
		return
	}

	job := &jobs.RegisterJob{
		TenantID: req.TenantID,
		Request:  body,
	}
	if err := h.publisher.PublishRegister(ctx, job); err != nil {
		ctxLog := logger.FromContext(ctx)
		ctxLog.Error().Err(err).Msg("api.jobs.enqueue_failed")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue registration job")
		return
	}

	// Workers own the job once published; only the id is stable.
	jobID := job.JobID
	ctxLog := logger.FromContext(ctx)
	ctxLog.Info().Str("job_id", jobID).Str("tenant_id", req.TenantID).Msg("api.jobs.enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(jobs.JobStatusPending),
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := mux.Vars(r)["id"]

	job, err := h.store.GetJob(ctx, jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		ctxLog := logger.FromContext(ctx)
		ctxLog.Error().Err(err).Str("job_id", jobID).Msg("api.jobs.get_failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		TenantID: query.Get("tenantId"),
		Status:   jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		ctxLog := logger.FromContext(ctx)
		ctxLog.Error().Err(err).Msg("api.jobs.list_failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// ProcessJob runs a queued register job. It is the queue's JobHandler.
// Failures after the pipeline started are permanent so a retry never
// persists the same batch twice.
func (h *RegisterHandler) ProcessJob(ctx context.Context, job jobs.Job) error {
	rj, ok := job.(*jobs.RegisterJob)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected job type: %T", job))
	}

	var req RegisterRequest
	if err := json.Unmarshal(rj.Request, &req); err != nil {
		return jobs.Permanent(fmt.Errorf("decode request: %w", err))
	}
	if req.TenantID == "" {
		req.TenantID = rj.TenantID
	}

	ctx = logger.WithTenant(ctx, req.TenantID)
	resp, err := h.register(ctx, &req)
	if err != nil {
		return jobs.Permanent(err)
	}

	result := &jobs.RegisterResult{
		Count:             resp.Count,
		PersistedCount:    resp.PersistedCount,
		PersistedEntryIDs: resp.PersistedEntryIDs,
		CSVExportID:       resp.CSVExportID,
		Errors:            resp.Errors,
	}
	if resp.CSVDownloadURL != nil {
		result.CSVDownloadURL = *resp.CSVDownloadURL
	}
	rj.Result = result
	return nil
}
