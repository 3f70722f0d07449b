package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/reelsmith/api/internal/model"
	"github.com/reelsmith/api/internal/service"
	"github.com/reelsmith/api/internal/store"
	ws "github.com/reelsmith/api/internal/websocket"
	"github.com/reelsmith/api/pkg/response"
)

type VideoHandler struct {
	jobs      *service.JobService
	hub       *ws.Hub
	validator *validator.Validate
}

func NewVideoHandler(jobs *service.JobService, hub *ws.Hub, v *validator.Validate) *VideoHandler {
	return &VideoHandler{
		jobs:      jobs,
		hub:       hub,
		validator: v,
	}
}

// Create handles POST /api/videos
// @Summary      Create video job
// @Description  Queue a narrated vertical video for the given text
// @Tags         Videos
// @Accept       json
// @Produce      json
// @Param        request body model.VideoCreateRequest true "Video request"
// @Success      202 {object} model.VideoCreateResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/videos [post]
func (h *VideoHandler) Create(c *fiber.Ctx) error {
	var req model.VideoCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.jobs.Submit(c.UserContext(), &req)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Get handles GET /api/videos/:jobId
// @Summary      Get video job
// @Description  Get the current record of a video job
// @Tags         Videos
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.Job
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/videos/{jobId} [get]
func (h *VideoHandler) Get(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.jobs.Get(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, job)
}

// Stream serves GET /ws/jobs/:jobId. The stored job, when found, is sent
// first so late subscribers start from the current state.
func (h *VideoHandler) Stream(c *websocket.Conn) {
	jobID := c.Params("jobId")

	current, err := h.jobs.Get(context.Background(), jobID)
	if err != nil {
		current = nil
	}
	h.hub.HandleConnection(c, jobID, current)
}

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errs := make(map[string]string)
		for _, e := range validationErrors {
			errs[e.Field()] = e.Tag()
		}
		return errs
	}
	return nil
}
