package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/reelsmith/api/internal/model"
	"github.com/reelsmith/api/internal/scenario"
	"github.com/reelsmith/api/pkg/response"
)

type ScenarioHandler struct {
	scenarios *scenario.Validator
	validator *validator.Validate
}

func NewScenarioHandler(scenarios *scenario.Validator, v *validator.Validate) *ScenarioHandler {
	return &ScenarioHandler{
		scenarios: scenarios,
		validator: v,
	}
}

// Validate handles POST /api/scenarios/validate
// @Summary      Validate scenario
// @Description  Extract and validate a scenario from raw model output
// @Tags         Tooling
// @Accept       json
// @Produce      json
// @Param        request body model.ScenarioValidateRequest true "Raw scenario"
// @Success      200 {object} model.ScenarioValidateResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      422 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/scenarios/validate [post]
func (h *ScenarioHandler) Validate(c *fiber.Ctx) error {
	var req model.ScenarioValidateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	sc, err := h.scenarios.Validate(req.Raw, scenario.Options{
		ExactShots:       req.ExactShots,
		TotalDurationSec: req.TotalDurationSec,
	})
	if err != nil {
		var violations scenario.ValidationErrors
		if errors.As(err, &violations) {
			return response.ScenarioInvalid(c, violations)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.ScenarioValidateResponse{
		Valid:    true,
		Scenario: sc,
	})
}
