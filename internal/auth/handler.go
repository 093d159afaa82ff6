package auth

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"procgate/internal/engine"
	"procgate/internal/logging"
	"procgate/internal/metadata"
)

// TokenHandler exchanges client credentials for bearer tokens.
type TokenHandler struct {
	registry *metadata.Registry
	secret   string
	ttl      time.Duration
	logger   *slog.Logger
}

func NewTokenHandler(reg *metadata.Registry, secret string, ttl time.Duration, logger *slog.Logger) *TokenHandler {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenHandler{
		registry: reg,
		secret:   secret,
		ttl:      ttl,
		logger:   logging.OrDiscard(logger).With("component", "auth"),
	}
}

func RegisterAuthRoutes(app *fiber.App, h *TokenHandler) {
	app.Post("/api/auth/token", h.Token)
}

// Token handles POST /api/auth/token.
func (h *TokenHandler) Token(c *fiber.Ctx) error {
	var body struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError(engine.CodeInvalidPayload, fiber.StatusBadRequest, "Invalid request body")
	}
	if body.ClientID == "" || body.ClientSecret == "" {
		return engine.UnauthenticatedError("client_id and client_secret are required")
	}

	client, ok := h.registry.Snapshot().Client(body.ClientID)
	if !ok || !CheckSecret(body.ClientSecret, client.SecretHash) {
		h.logger.Warn("token exchange rejected", "client", body.ClientID)
		return engine.UnauthenticatedError("Invalid client credentials")
	}
	if !client.Active {
		return engine.UnauthenticatedError("Client is disabled")
	}

	token, err := GenerateToken(client.ID, ScopeClient, h.secret, h.ttl)
	if err != nil {
		return err
	}
	h.logger.Info("token issued", "client", client.ID)

	return c.JSON(fiber.Map{
		"success": true,
		"data": TokenResponse{
			AccessToken: token,
			TokenType:   "Bearer",
			ExpiresIn:   int(h.ttl.Seconds()),
		},
	})
}
