package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hlsforge/build-service/internal/api/dto"
	"github.com/hlsforge/build-service/internal/billing"
	"github.com/hlsforge/build-service/internal/executor"
	"github.com/hlsforge/build-service/internal/job"
	"github.com/hlsforge/build-service/internal/job/storage"
	"github.com/hlsforge/build-service/internal/orchestrator"
)

// SubmitJob handles POST /api/v1/jobs
// Accepts a multipart submission, charges the user's balance and dispatches
// the paid job to the orchestrator.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	ctx := c.Request.Context()

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form is required"})
		return
	}

	userID := c.PostForm("user_id")
	if _, err := uuid.Parse(userID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id must be a valid UUID"})
		return
	}

	top := c.PostForm("top")
	checkoutRef := c.PostForm("checkout_ref")
	instanceClass := c.PostForm("instance")
	files := form.File["files"]

	filenames := make([]string, len(files))
	for i, f := range files {
		filenames[i] = f.Filename
	}

	acct, err := h.billing.Account(ctx, userID)
	if err != nil {
		if errors.Is(err, job.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		h.logger.Error("Failed to load account", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return
	}

	if !acct.Active {
		c.JSON(http.StatusForbidden, gin.H{"error": "account is disabled"})
		return
	}

	if err := validateSubmission(h.submission, acct, top, checkoutRef, instanceClass, filenames); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	rec := &job.Record{
		ID:            uuid.New().String(),
		UserID:        userID,
		State:         job.StateUnpaid,
		TopFilename:   top,
		Filenames:     filenames,
		CheckoutRef:   checkoutRef,
		InstanceClass: instanceClass,
		Price:         h.pricing.JobPrice,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.store.CreateJob(ctx, rec); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job"})
		return
	}

	balance, err := h.billing.Reserve(ctx, acct, rec)
	if err != nil {
		if billing.IsInsufficientBalance(err) {
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":   "balance is too short",
				"balance": balance,
				"price":   rec.Price,
			})
			return
		}
		h.logger.Error("Failed to reserve job charge",
			slog.String("job_id", rec.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to charge for job"})
		return
	}

	if err := h.store.MarkPaid(ctx, rec.ID); err != nil {
		h.logger.Error("Failed to mark job paid",
			slog.String("job_id", rec.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record payment"})
		return
	}

	// The charge is settled; a stuck pending marker is an operator concern,
	// not a submission failure.
	if err := h.billing.Confirm(ctx, userID, rec.ID); err != nil {
		h.logger.Error("Failed to confirm reservation",
			slog.String("job_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := h.stageFiles(c, rec.ID, files); err != nil {
		h.logger.Error("Failed to stage submission files",
			slog.String("job_id", rec.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store submission files"})
		return
	}

	body, err := json.Marshal(orchestrator.DispatchMessage{JobID: rec.ID})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to dispatch job"})
		return
	}

	if err := h.rabbitClient.PublishWithRetry(ctx, body, "application/json"); err != nil {
		h.logger.Error("Failed to dispatch job",
			slog.String("job_id", rec.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to dispatch job"})
		return
	}

	h.logger.Info("Job submitted",
		slog.String("job_id", rec.ID),
		slog.String("user_id", userID),
		slog.String("instance_class", instanceClass),
	)

	c.JSON(http.StatusAccepted, dto.SubmitJobResponse{
		JobID:    rec.ID,
		State:    job.StatePaid.String(),
		Price:    rec.Price,
		Currency: h.pricing.Currency,
		Balance:  balance,
	})
}

// stageFiles saves the uploaded sources under the job's staging directory,
// where the orchestrator picks them up.
func (h *JobHandler) stageFiles(c *gin.Context, jobID string, files []*multipart.FileHeader) error {
	stagingDir := filepath.Join(h.workRoot, jobID, "staging")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return err
	}

	for _, f := range files {
		if err := c.SaveUploadedFile(f, filepath.Join(stagingDir, f.Filename)); err != nil {
			return err
		}
	}

	return nil
}

// GetJob handles GET /api/v1/jobs/:job_id
// An optional user_id query parameter scopes the lookup to the owner, so a
// caller acting for a user cannot read someone else's job.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a valid UUID"})
		return
	}

	var rec *job.Record
	var err error
	if userID := c.Query("user_id"); userID != "" {
		rec, err = h.store.GetJobForUser(c.Request.Context(), jobID, userID)
	} else {
		rec, err = h.store.GetJob(c.Request.Context(), jobID)
	}
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job"})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(rec))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with keyset pagination.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
		return
	}

	filter := storage.Filter{
		UserID:   req.UserID,
		State:    req.State,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs"})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = toJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor, err = EncodeJobCursor(&storage.Cursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode next cursor"})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// TailLogs handles GET /api/v1/jobs/:job_id/logs
// Returns the job's log entries from the given offset on, plus a state
// snapshot so a poller knows when to stop.
func (h *JobHandler) TailLogs(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a valid UUID"})
		return
	}

	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}

	rec, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job"})
		return
	}

	entries, err := h.sink.TailSince(c.Request.Context(), jobID, offset)
	if err != nil {
		h.logger.Error("Failed to tail job logs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to tail job logs"})
		return
	}

	lines := make([]dto.LogLineDTO, len(entries))
	nextOffset := offset
	for i, e := range entries {
		lines[i] = dto.LogLineDTO{
			Seq:  e.Seq,
			At:   e.At.Format(time.RFC3339),
			Line: e.Line,
		}
		nextOffset = e.Seq + 1
	}

	c.JSON(http.StatusOK, dto.TailLogsResponse{
		JobID:      rec.ID,
		State:      rec.State.String(),
		Done:       rec.Done,
		NextOffset: nextOffset,
		Lines:      lines,
	})
}

// DownloadArtifact handles GET /api/v1/jobs/:job_id/artifact
// Serves the build artifact of a successfully finished job.
func (h *JobHandler) DownloadArtifact(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a valid UUID"})
		return
	}

	rec, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get job"})
		return
	}

	if !rec.Done || !rec.OutputReady {
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact is not available"})
		return
	}

	artifact := executor.ArtifactPath(filepath.Join(h.workRoot, rec.ID))
	if _, err := os.Stat(artifact); err != nil {
		h.logger.Error("Artifact missing on disk",
			slog.String("job_id", rec.ID),
			slog.String("path", artifact),
		)
		c.JSON(http.StatusNotFound, gin.H{"error": "artifact is not available"})
		return
	}

	c.FileAttachment(artifact, executor.ArtifactName)
}

func toJobDTO(rec *job.Record) dto.JobDTO {
	d := dto.JobDTO{
		JobID:         rec.ID,
		UserID:        rec.UserID,
		State:         rec.State.String(),
		TopFilename:   rec.TopFilename,
		Filenames:     rec.Filenames,
		CheckoutRef:   rec.CheckoutRef,
		InstanceClass: rec.InstanceClass,
		Price:         rec.Price,
		Paid:          rec.Paid,
		OutputReady:   rec.OutputReady,
		Done:          rec.Done,
		Terminated:    rec.Terminated,
		InstanceID:    rec.InstanceID,
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     rec.UpdatedAt.Format(time.RFC3339),
	}

	if rec.CompletedAt != nil {
		d.CompletedAt = rec.CompletedAt.Format(time.RFC3339)
	}

	return d
}
