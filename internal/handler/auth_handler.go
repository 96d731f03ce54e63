package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/onera/studio/internal/auth"
)

// AuthHandler answers gateway ForwardAuth checks
type AuthHandler struct {
	authenticator *auth.Authenticator
}

// NewAuthHandler creates a new auth handler for ForwardAuth verification
func NewAuthHandler(authenticator *auth.Authenticator) *AuthHandler {
	return &AuthHandler{authenticator: authenticator}
}

// Verify handles GET /auth/verify.
// Returns 200 with X-User-* headers on success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	tokenString, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	identity, err := h.authenticator.Authenticate(tokenString)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set("X-User-Id", identity.UserID)
	c.Set("X-User-Email", identity.Email)
	if identity.Name != "" {
		c.Set("X-User-Name", identity.Name)
	}
	return c.SendStatus(fiber.StatusOK)
}
