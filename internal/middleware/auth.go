package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/reelsmith/api/internal/auth"
	"github.com/reelsmith/api/pkg/response"
)

// Authenticate validates the bearer token of every request and stores the
// caller identity in the fiber locals.
func Authenticate(authenticator *auth.Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, err := authenticator.Authenticate(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return response.Unauthorized(c, unauthorizedMessage(err))
		}

		setIdentity(c, identity)
		return c.Next()
	}
}

func setIdentity(c *fiber.Ctx, identity *auth.Identity) {
	c.Locals("userId", identity.UserID)
	c.Locals("email", identity.Email)
	c.Locals("name", identity.Name)
}

func unauthorizedMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingHeader):
		return "Missing authorization header"
	case errors.Is(err, auth.ErrBadHeader):
		return "Invalid authorization header format"
	case errors.Is(err, auth.ErrNotConfigured):
		return "Authentication not configured"
	default:
		return "Invalid or expired token"
	}
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userId").(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals("email").(string); ok {
		return email
	}
	return ""
}
