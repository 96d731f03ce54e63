package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/onera/studio/internal/auth"
	"github.com/onera/studio/pkg/response"
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	authenticator *auth.Authenticator
	required      bool
}

// NewAuthMiddleware creates auth middleware. When required is false, requests
// without an Authorization header pass through anonymously; a header that is
// present must still carry a valid token.
func NewAuthMiddleware(authenticator *auth.Authenticator, required bool) *AuthMiddleware {
	return &AuthMiddleware{
		authenticator: authenticator,
		required:      required,
	}
}

// Authenticate validates JWT token from Authorization header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if errors.Is(err, auth.ErrMissingToken) {
			if !m.required {
				return c.Next()
			}
			return response.Unauthorized(c, "Missing authorization header")
		}
		if err != nil {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		identity, err := m.authenticator.Authenticate(tokenString)
		if errors.Is(err, auth.ErrNotConfigured) {
			return response.Unauthorized(c, "Authentication not configured")
		}
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		c.Locals("userId", identity.UserID)
		c.Locals("email", identity.Email)
		c.Locals("name", identity.Name)
		return c.Next()
	}
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}
