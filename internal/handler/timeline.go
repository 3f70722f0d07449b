package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/reelsmith/api/internal/model"
	"github.com/reelsmith/api/internal/scenario"
	"github.com/reelsmith/api/internal/timeline"
	"github.com/reelsmith/api/pkg/response"
)

type TimelineHandler struct {
	scenarios *scenario.Validator
	validator *validator.Validate
	params    timeline.Params
}

func NewTimelineHandler(scenarios *scenario.Validator, v *validator.Validate, params timeline.Params) *TimelineHandler {
	return &TimelineHandler{
		scenarios: scenarios,
		validator: v,
		params:    params,
	}
}

// Preview handles POST /api/timeline/preview
// @Summary      Preview render plan
// @Description  Synthesize the frame-level plan for a scenario and measured narration lengths
// @Tags         Tooling
// @Accept       json
// @Produce      json
// @Param        request body model.TimelinePreviewRequest true "Scenario and durations"
// @Success      200 {object} model.TimelinePreviewResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      422 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/timeline/preview [post]
func (h *TimelineHandler) Preview(c *fiber.Ctx) error {
	var req model.TimelinePreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if violations := h.scenarios.Check(&req.Scenario, scenario.Options{}); len(violations) > 0 {
		return response.ScenarioInvalid(c, violations)
	}

	params := h.params
	if req.FPS > 0 {
		params.FPS = req.FPS
	}
	if req.NarrationGapMs != nil {
		params.NarrationGapMs = *req.NarrationGapMs
	}
	if req.OpeningCardSec > 0 {
		params.OpeningCardSec = req.OpeningCardSec
	}
	if req.EndingCardSec > 0 {
		params.EndingCardSec = req.EndingCardSec
	}

	assets := make(map[string]model.ShotAsset, len(req.AudioDurations))
	for id, sec := range req.AudioDurations {
		assets[id] = model.ShotAsset{ShotID: id, AudioDurationSec: sec}
	}

	plan, err := timeline.Synthesize(&req.Scenario, assets, params)
	if err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	return response.OK(c, model.TimelinePreviewResponse{
		Plan:       plan,
		Violations: timeline.Check(plan, timeline.GapFrames(params.NarrationGapMs, params.FPS)),
	})
}
