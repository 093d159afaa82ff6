// Package authz decides whether a client may execute a function and keeps
// those decisions cached until the configuration they derive from changes.
package authz

import (
	"context"
	"log/slog"

	"procgate/internal/instrument"
	"procgate/internal/logging"
	"procgate/internal/metadata"
)

// Manager is the authorization entry point. Decisions are cached per
// (client, function); the On* hooks must be called synchronously by
// whatever mutates the configuration.
type Manager struct {
	registry *metadata.Registry
	cache    *PermissionCache
	checker  Checker
	roles    *RoleResolver
	logger   *slog.Logger
	metrics  *instrument.Metrics
}

func NewManager(reg *metadata.Registry, cache *PermissionCache, checker Checker, logger *slog.Logger, metrics *instrument.Metrics) *Manager {
	roles := NewRoleResolver()
	if checker == nil {
		checker = NewPermissionChecker(roles)
	}
	return &Manager{
		registry: reg,
		cache:    cache,
		checker:  checker,
		roles:    roles,
		logger:   logging.OrDiscard(logger).With("component", "authz"),
		metrics:  metrics,
	}
}

// Authorize looks both ids up in the current snapshot. Unknown clients and
// functions are denied.
func (m *Manager) Authorize(ctx context.Context, clientID, functionID string) (bool, error) {
	snap := m.registry.Snapshot()
	client, ok := snap.Client(clientID)
	if !ok {
		return false, nil
	}
	fn, ok := snap.Function(functionID)
	if !ok {
		return false, nil
	}
	return m.AuthorizeIn(ctx, snap, client, fn)
}

// AuthorizeIn decides within snap. Inactive clients and functions are
// denied before the cache is consulted. Cached decisions carry
// snap.AccessStamp, so a decision computed on an older snapshot is never
// served for a newer one. A failing cache degrades to computing the
// decision every time.
func (m *Manager) AuthorizeIn(ctx context.Context, snap *metadata.Snapshot, client metadata.Client, fn *metadata.FunctionDefinition) (bool, error) {
	if !client.Active || fn == nil || !fn.Active {
		m.metrics.ObserveAuthorization(false)
		return false, nil
	}

	allowed, hit, err := m.cache.Get(ctx, client.ID, fn.ID, snap.AccessStamp)
	if err != nil {
		m.logger.Warn("permission cache read failed", "client", client.ID, "function", fn.ID, "error", err)
	}
	m.metrics.ObservePermissionCache(hit)
	if hit {
		m.metrics.ObserveAuthorization(allowed)
		return allowed, nil
	}

	d := m.checker.Check(snap, client.ID, fn.ID)
	if err := m.cache.Put(ctx, client.ID, fn.ID, snap.AccessStamp, d.Allowed); err != nil {
		m.logger.Warn("permission cache write failed", "client", client.ID, "function", fn.ID, "error", err)
	}
	m.metrics.ObserveAuthorization(d.Allowed)
	m.logger.Debug("authorization computed",
		"client", client.ID,
		"function", fn.ID,
		"allowed", d.Allowed,
		"reason", d.Reason)
	return d.Allowed, nil
}

// OnClientRolesChanged drops every decision of clientID.
func (m *Manager) OnClientRolesChanged(ctx context.Context, clientID string) error {
	n, err := m.cache.InvalidateClient(ctx, clientID)
	if err != nil {
		return err
	}
	m.logger.Info("client permissions invalidated", "client", clientID, "entries", n)
	return nil
}

// OnRolePermissionsChanged drops the decisions of every client currently
// holding roleID.
func (m *Manager) OnRolePermissionsChanged(ctx context.Context, roleID string) error {
	clients := m.roles.ClientsWithRole(m.registry.Snapshot(), roleID)
	total := 0
	for _, clientID := range clients {
		n, err := m.cache.InvalidateClient(ctx, clientID)
		if err != nil {
			return err
		}
		total += n
	}
	m.logger.Info("role permissions invalidated", "role", roleID, "clients", len(clients), "entries", total)
	return nil
}

// OnFunctionPermissionsChanged drops every decision referencing functionID.
func (m *Manager) OnFunctionPermissionsChanged(ctx context.Context, functionID string) error {
	n, err := m.cache.InvalidateFunction(ctx, functionID)
	if err != nil {
		return err
	}
	m.logger.Info("function permissions invalidated", "function", functionID, "entries", n)
	return nil
}

// InvalidateAll drops every cached decision. Used after a full reload.
func (m *Manager) InvalidateAll(ctx context.Context) error {
	n, err := m.cache.InvalidateAll(ctx)
	if err != nil {
		return err
	}
	m.logger.Info("all permissions invalidated", "entries", n)
	return nil
}
