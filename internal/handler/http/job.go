package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"collabrun/internal/domain"
	"collabrun/internal/service"
)

// JobHandler implements the Control Surface's sandbox-execution routes (spec.md §6.1).
type JobHandler struct {
	jobs *service.JobService
}

func NewJobHandler(jobs *service.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

type submitJobRequest struct {
	RoomID  string `json:"roomId" binding:"required,uuid"`
	UserID  string `json:"userId" binding:"required"`
	Code    string `json:"code" binding:"required"`
	Options *struct {
		MemoryLimit       *string  `json:"memoryLimit"`
		CPULimit          *float64 `json:"cpuLimit"`
		WallTimeoutMs     *int     `json:"wallTimeoutMs"`
		ProcessCountLimit *int     `json:"processCountLimit"`
		CompilerFlags     []string `json:"compilerFlags"`
	} `json:"options"`
}

func (h *JobHandler) SubmitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid input: "+err.Error())
		return
	}

	var input service.OptionsInput
	if req.Options != nil {
		input = service.OptionsInput{
			MemoryLimit:       req.Options.MemoryLimit,
			CPULimit:          req.Options.CPULimit,
			WallTimeoutMs:     req.Options.WallTimeoutMs,
			ProcessCountLimit: req.Options.ProcessCountLimit,
			CompilerFlags:     req.Options.CompilerFlags,
		}
	}

	job, err := h.jobs.SubmitJob(c.Request.Context(), req.RoomID, req.UserID, req.Code, input)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusAccepted, gin.H{"jobId": job.ID, "state": job.State})
}

func (h *JobHandler) JobStatus(c *gin.Context) {
	jobID := c.Param("jobId")
	view, err := h.jobs.JobStatus(c.Request.Context(), jobID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, toJobStatusResponse(view))
}

func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("jobId")
	userID := c.Query("userId")
	if userID == "" {
		ErrorResponse(c, http.StatusBadRequest, "userId query parameter is required")
		return
	}
	cancelled, err := h.jobs.CancelJob(c.Request.Context(), jobID, userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	if !cancelled {
		ErrorResponse(c, http.StatusBadRequest, "job cannot be cancelled")
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"jobId": jobID, "state": domain.JobCancelled})
}

type jobStatusResponse struct {
	JobID         string                   `json:"jobId"`
	State         domain.JobState          `json:"state"`
	QueuePosition *int                     `json:"queuePosition,omitempty"`
	Result        *domain.ExecutionResult `json:"result,omitempty"`
	Timestamp     string                   `json:"timestamp"`
}

func toJobStatusResponse(view *service.JobStatusView) jobStatusResponse {
	job := view.Job
	resp := jobStatusResponse{
		JobID:         job.ID,
		State:         job.State,
		QueuePosition: view.QueuePosition,
		Timestamp:     time.Now().UTC().Format(httpTimeFormat),
	}
	if job.State.IsTerminal() && job.ExitCode != nil {
		result := &domain.ExecutionResult{
			Success:  job.State == domain.JobCompleted,
			Stdout:   job.Stdout,
			Stderr:   job.Stderr,
			ExitCode: *job.ExitCode,
			TimedOut: job.State == domain.JobTimeout,
		}
		if job.ExecutionTimeMs != nil {
			result.ExecutionTimeMs = *job.ExecutionTimeMs
		}
		if job.MemoryBytes != nil {
			result.MemoryBytes = *job.MemoryBytes
		}
		resp.Result = result
	}
	return resp
}
