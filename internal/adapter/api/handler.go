package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"symptom-gateway/internal/domain/entity"
)

// AnalysisService is what the transport needs from the core pipeline.
type AnalysisService interface {
	Analyze(ctx context.Context, req entity.AnalysisRequest) (*entity.AnalysisResult, error)
}

type AnalysisHandler struct {
	service AnalysisService
}

func NewAnalysisHandler(service AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{service: service}
}

// HandleAnalyze parses the request body, runs the pipeline and translates
// the result or its closed error set into the wire shape.
func (h *AnalysisHandler) HandleAnalyze(c *fiber.Ctx) error {
	var req entity.AnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid or missing JSON body",
			"code":  entity.CodeInvalidInput,
		})
	}

	result, err := h.service.Analyze(c.Context(), req)
	if err != nil {
		var appErr *entity.Error
		if !errors.As(err, &appErr) {
			appErr = entity.NewError(entity.CodeUpstreamError, "internal gateway error")
		}
		payload := fiber.Map{
			"error": appErr.Message,
			"code":  appErr.Code,
		}
		if len(appErr.Details) > 0 {
			payload["details"] = appErr.Details
		}
		return c.Status(appErr.HTTPStatus()).JSON(payload)
	}

	c.Set("X-Analysis-Cache-Hit", "false")
	if result.Cached {
		c.Set("X-Analysis-Cache-Hit", "true")
	}
	return c.Status(fiber.StatusOK).JSON(result)
}
