package handler

import (
	"errors"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/safetymv/api/internal/model"
	"github.com/safetymv/api/internal/service"
	"github.com/safetymv/api/pkg/response"
)

// SunoHandler exposes music generation endpoints and the provider webhook.
type SunoHandler struct {
	service   *service.SunoService
	validator *validator.Validate
}

// NewSunoHandler creates a new music handler
func NewSunoHandler(svc *service.SunoService, v *validator.Validate) *SunoHandler {
	return &SunoHandler{
		service:   svc,
		validator: v,
	}
}

// Generate handles POST /api/suno/generate
func (h *SunoHandler) Generate(c *fiber.Ctx) error {
	var req model.SunoGenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	task, err := h.service.Generate(c.Context(), &req)
	if err != nil {
		var limitErr *service.LimitError
		switch {
		case errors.As(err, &limitErr):
			return response.ValidationError(c, limitErr.Error(), nil)
		case errors.Is(err, service.ErrJobNotFound):
			return response.NotFound(c, "Job not found")
		default:
			return response.AIError(c, err.Error())
		}
	}

	return response.Accepted(c, task)
}

// GetTask handles GET /api/suno/tasks/:taskId
func (h *SunoHandler) GetTask(c *fiber.Ctx) error {
	taskID := c.Params("taskId")

	task, err := h.service.GetTask(c.Context(), taskID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			return response.NotFound(c, "Music task not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, task)
}

// Callback handles POST /callbacks/suno/music. The provider retries on
// non-200, so unknown tasks are acknowledged and logged rather than failed.
func (h *SunoHandler) Callback(c *fiber.Ctx) error {
	var cb model.SunoCallback
	if err := c.BodyParser(&cb); err != nil {
		return response.ValidationError(c, "Invalid callback body", nil)
	}

	if err := h.service.HandleCallback(c.Context(), &cb); err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			log.Printf("[Suno] callback for unknown task %s", cb.Data.ResolveTaskID())
			return response.OK(c, fiber.Map{"ok": true})
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, fiber.Map{"ok": true})
}
