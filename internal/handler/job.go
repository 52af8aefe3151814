package handler

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/safetymv/api/internal/client"
	"github.com/safetymv/api/internal/model"
	"github.com/safetymv/api/internal/service"
	"github.com/safetymv/api/pkg/response"
)

// JobHandler exposes the job lifecycle endpoints.
type JobHandler struct {
	service   *service.FlowService
	storage   client.StorageClient
	validator *validator.Validate
}

// NewJobHandler creates a new job handler
func NewJobHandler(svc *service.FlowService, storage client.StorageClient, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		storage:   storage,
		validator: v,
	}
}

// Create handles POST /api/jobs
func (h *JobHandler) Create(c *fiber.Ctx) error {
	var req model.JobCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if req.Config != nil {
		if err := h.validator.Struct(req.Config); err != nil {
			return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
		}
	}

	job, err := h.service.CreateJob(c.Context(), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, model.JobCreateResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

// Get handles GET /api/jobs/:jobId
func (h *JobHandler) Get(c *fiber.Ctx) error {
	jobID := c.Params("jobId")

	job, err := h.service.GetJob(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	h.attachTrackURLs(c, job)
	return response.OK(c, job)
}

// Cancel handles POST /api/jobs/:jobId/cancel
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")

	job, err := h.service.CancelJob(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, service.ErrNotCancelable) {
			return response.Conflict(c, "Job already started and cannot be canceled")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.JobCancelResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Success: true,
	})
}

// Resume handles POST /api/jobs/:jobId/hitl
func (h *JobHandler) Resume(c *fiber.Ctx) error {
	var req model.HITLResumeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	req.JobID = c.Params("jobId")

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	job, err := h.service.ResumeFromHITL(c.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, service.ErrNotAwaitingHITL):
			return response.Conflict(c, "Job is not awaiting human review")
		case errors.Is(err, service.ErrUnknownConcept):
			return response.ValidationError(c, "Selected concept id does not exist", nil)
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.Accepted(c, model.JobCreateResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

// attachTrackURLs refreshes presigned URLs for stored media so the record
// returned to the client always carries fetchable links.
func (h *JobHandler) attachTrackURLs(c *fiber.Ctx, job *model.Job) {
	if h.storage == nil {
		return
	}
	if job.Suno != nil {
		for i := range job.Suno.Tracks {
			t := &job.Suno.Tracks[i]
			if t.AudioKey != "" {
				if url, err := h.storage.Presign(c.Context(), t.AudioKey, time.Hour); err == nil {
					t.PublicAudioURL = url
				}
			}
			if t.ImageKey != "" {
				if url, err := h.storage.Presign(c.Context(), t.ImageKey, time.Hour); err == nil {
					t.PublicImageURL = url
				}
			}
		}
	}
	for i := range job.Scenes {
		sc := &job.Scenes[i]
		if sc.Key != "" && sc.Status == model.SceneStatusStored {
			if url, err := h.storage.Presign(c.Context(), sc.Key, time.Hour); err == nil {
				sc.URL = url
			}
		}
	}
	if job.Final != nil {
		if url, err := h.storage.Presign(c.Context(), job.Final.Key, time.Hour); err == nil {
			job.Final.URL = url
		}
	}
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
