package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/onera/studio/internal/model"
	"github.com/onera/studio/internal/service"
	"github.com/onera/studio/pkg/response"
)

type AssetHandler struct {
	service   service.AssetSigner
	validator *validator.Validate
}

func NewAssetHandler(svc service.AssetSigner, v *validator.Validate) *AssetHandler {
	return &AssetHandler{
		service:   svc,
		validator: v,
	}
}

// Sign handles POST /api/assets/sign
func (h *AssetHandler) Sign(c *fiber.Ctx) error {
	var req model.AssetSignRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Missing filename or contentType", formatValidationErrors(err))
	}

	result, err := h.service.Sign(c.UserContext(), &req)
	if err != nil {
		return response.ServiceError(c, "Failed to sign URL")
	}

	return response.OK(c, result)
}
