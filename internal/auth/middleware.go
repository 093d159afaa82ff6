package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"procgate/internal/engine"
	"procgate/internal/metadata"
)

func bearerClaims(c *fiber.Ctx, secret string) (*Claims, error) {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return nil, engine.UnauthenticatedError("Missing auth token")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, engine.UnauthenticatedError("Invalid auth header format")
	}

	claims, err := ParseToken(parts[1], secret)
	if err != nil {
		return nil, engine.UnauthenticatedError("Invalid or expired token")
	}
	return claims, nil
}

// ClientMiddleware validates the bearer token and resolves its subject to a
// client in the current snapshot. Inactive clients pass; the gateway
// rejects them per function.
func ClientMiddleware(secret string, reg *metadata.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := bearerClaims(c, secret)
		if err != nil {
			return err
		}
		if claims.Scope != ScopeClient {
			return engine.UnauthenticatedError("Token is not valid for function calls")
		}

		client, ok := reg.Snapshot().Client(claims.Subject)
		if !ok {
			return engine.UnauthenticatedError("Unknown client")
		}
		c.Locals(engine.ClientKey, &client)

		return c.Next()
	}
}

// RequireAdmin is a Fiber middleware that only admits admin-scoped tokens.
func RequireAdmin(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := bearerClaims(c, secret)
		if err != nil {
			return err
		}
		if claims.Scope != ScopeAdmin {
			return engine.NewAppError(engine.CodePermissionDenied, fiber.StatusForbidden, "Admin access required")
		}
		return c.Next()
	}
}
