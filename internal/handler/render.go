package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/onera/studio/internal/model"
	"github.com/onera/studio/internal/service"
	"github.com/onera/studio/pkg/response"
)

// RenderJobs is the part of the render service the handler needs
type RenderJobs interface {
	StartRender(ctx context.Context, req *model.RenderRequest) (*model.RenderResponse, error)
	GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error)
}

type RenderHandler struct {
	service   RenderJobs
	validator *validator.Validate
}

func NewRenderHandler(svc RenderJobs, v *validator.Validate) *RenderHandler {
	return &RenderHandler{
		service:   svc,
		validator: v,
	}
}

// Submit handles POST /api/render
func (h *RenderHandler) Submit(c *fiber.Ctx) error {
	var raw struct {
		Layers json.RawMessage `json:"layers"`
		Canvas *model.Canvas   `json:"canvas"`
		Tracks model.Tracks    `json:"tracks"`
	}
	if err := json.Unmarshal(c.Body(), &raw); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	var req model.RenderRequest
	if len(raw.Layers) == 0 || json.Unmarshal(raw.Layers, &req.Layers) != nil || req.Layers == nil {
		return response.ValidationError(c, `Invalid payload: "layers" must be an array`, nil)
	}
	req.Canvas = raw.Canvas
	req.Tracks = raw.Tracks

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if id, ok := duplicateLayerID(req.Layers); ok {
		return response.ValidationError(c, "Validation failed", map[string]string{"layers": "duplicate id " + id})
	}

	result, err := h.service.StartRender(c.UserContext(), &req)
	if err != nil {
		return response.ServiceError(c, "Failed to queue render job")
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/jobs/:id
func (h *RenderHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

func duplicateLayerID(layers []model.Layer) (string, bool) {
	seen := make(map[string]struct{}, len(layers))
	for _, l := range layers {
		if _, ok := seen[l.ID]; ok {
			return l.ID, true
		}
		seen[l.ID] = struct{}{}
	}
	return "", false
}
