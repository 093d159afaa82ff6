package admin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"procgate/internal/logging"
	"procgate/internal/metadata"
)

// Invalidator is the authorization side of the hooks.
type Invalidator interface {
	OnClientRolesChanged(ctx context.Context, clientID string) error
	OnRolePermissionsChanged(ctx context.Context, roleID string) error
	OnFunctionPermissionsChanged(ctx context.Context, functionID string) error
	InvalidateAll(ctx context.Context) error
}

// Handler serves the hooks the configuration admin calls after each
// mutation. Every hook reloads the snapshot and invalidates the affected
// cached decisions before it responds.
type Handler struct {
	source      metadata.Source
	registry    *metadata.Registry
	invalidator Invalidator
	logger      *slog.Logger

	mu sync.Mutex // serializes reloads
}

func NewHandler(src metadata.Source, reg *metadata.Registry, inv Invalidator, logger *slog.Logger) *Handler {
	return &Handler{
		source:      src,
		registry:    reg,
		invalidator: inv,
		logger:      logging.OrDiscard(logger).With("component", "admin"),
	}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Get("/status", h.Status)
	admin.Post("/reload", h.Reload)

	admin.Post("/clients/:id/roles-changed", h.ClientRolesChanged)
	admin.Post("/roles/:id/permissions-changed", h.RolePermissionsChanged)
	admin.Post("/functions/:id/permissions-changed", h.FunctionPermissionsChanged)
}

type statusView struct {
	Version          uint64                      `json:"version"`
	LoadedAt         string                      `json:"loaded_at"`
	Functions        []string                    `json:"functions"`
	InvalidFunctions []*metadata.DefinitionError `json:"invalid_functions"`
}

func view(snap *metadata.Snapshot) statusView {
	v := statusView{
		Version:          snap.Version,
		LoadedAt:         snap.LoadedAt.Format(time.RFC3339),
		Functions:        []string{},
		InvalidFunctions: snap.DefinitionErrors(),
	}
	for _, fn := range snap.Functions() {
		v.Functions = append(v.Functions, fn.ID)
	}
	return v
}

// Status handles GET /api/_admin/status.
func (h *Handler) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "data": view(h.registry.Snapshot())})
}

// Reload handles POST /api/_admin/reload: full reload, every cached
// decision dropped.
func (h *Handler) Reload(c *fiber.Ctx) error {
	snap, err := h.reload(c.UserContext(), func(ctx context.Context) error {
		return h.invalidator.InvalidateAll(ctx)
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": view(snap)})
}

// ClientRolesChanged handles POST /api/_admin/clients/:id/roles-changed.
func (h *Handler) ClientRolesChanged(c *fiber.Ctx) error {
	id := c.Params("id")
	return h.hook(c, "client", id, func(ctx context.Context) error {
		return h.invalidator.OnClientRolesChanged(ctx, id)
	})
}

// RolePermissionsChanged handles POST /api/_admin/roles/:id/permissions-changed.
func (h *Handler) RolePermissionsChanged(c *fiber.Ctx) error {
	id := c.Params("id")
	return h.hook(c, "role", id, func(ctx context.Context) error {
		return h.invalidator.OnRolePermissionsChanged(ctx, id)
	})
}

// FunctionPermissionsChanged handles POST /api/_admin/functions/:id/permissions-changed.
func (h *Handler) FunctionPermissionsChanged(c *fiber.Ctx) error {
	id := c.Params("id")
	return h.hook(c, "function", id, func(ctx context.Context) error {
		return h.invalidator.OnFunctionPermissionsChanged(ctx, id)
	})
}

func (h *Handler) hook(c *fiber.Ctx, kind, id string, invalidate func(ctx context.Context) error) error {
	snap, err := h.reload(c.UserContext(), invalidate)
	if err != nil {
		return err
	}
	h.logger.Info("configuration hook applied", "kind", kind, "id", id, "version", snap.Version)
	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"version": snap.Version, kind: id},
	})
}

// reload publishes a fresh snapshot, then runs invalidate against it.
func (h *Handler) reload(ctx context.Context, invalidate func(ctx context.Context) error) (*metadata.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap, err := metadata.ReloadFrom(ctx, h.source, h.registry, h.logger)
	if err != nil {
		return nil, fmt.Errorf("reload configuration: %w", err)
	}
	if err := invalidate(ctx); err != nil {
		return nil, fmt.Errorf("invalidate permissions: %w", err)
	}
	return snap, nil
}
