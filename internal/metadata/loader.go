package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"procgate/internal/store"
)

// LoadGraph reads the configuration tables into a Graph. Each entity kind is
// one flat query; relations are joined in memory by id.
func LoadGraph(ctx context.Context, q store.Querier, logger *slog.Logger) (*Graph, error) {
	g := &Graph{}
	var err error

	if g.Functions, g.Rejected, err = loadFunctions(ctx, q, logger); err != nil {
		return nil, fmt.Errorf("load functions: %w", err)
	}
	if g.Clients, err = loadClients(ctx, q); err != nil {
		return nil, fmt.Errorf("load clients: %w", err)
	}
	if g.Roles, err = loadRoles(ctx, q); err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	if g.ClientRoles, err = loadClientRoles(ctx, q); err != nil {
		return nil, fmt.Errorf("load client roles: %w", err)
	}
	if g.FunctionPermissions, err = loadFunctionPermissions(ctx, q); err != nil {
		return nil, fmt.Errorf("load function permissions: %w", err)
	}
	return g, nil
}

// Reload loads the graph and publishes it as the registry's next snapshot.
// Called at startup and by the admin reload hook.
func Reload(ctx context.Context, q store.Querier, reg *Registry, logger *slog.Logger) (*Snapshot, error) {
	g, err := LoadGraph(ctx, q, logger)
	if err != nil {
		return nil, err
	}
	return Publish(reg, g, logger), nil
}

// Publish makes g current and logs what was rejected.
func Publish(reg *Registry, g *Graph, logger *slog.Logger) *Snapshot {
	snap := reg.Load(g)
	if logger != nil {
		for id, derr := range snap.invalid {
			logger.Warn("function excluded from snapshot", "function", id, "error", derr)
		}
		logger.Info("configuration loaded",
			"version", snap.Version,
			"functions", len(snap.functions),
			"invalid_functions", len(snap.invalid),
			"clients", len(snap.clients),
			"roles", len(snap.roles))
	}
	return snap
}

func loadFunctions(ctx context.Context, q store.Querier, logger *slog.Logger) ([]*FunctionDefinition, []*DefinitionError, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, procedure_name, is_active, definition FROM _functions ORDER BY id")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		fns      []*FunctionDefinition
		rejected []*DefinitionError
	)
	for rows.Next() {
		var id, procedure string
		var active bool
		var defJSON []byte
		if err := rows.Scan(&id, &procedure, &active, &defJSON); err != nil {
			return nil, nil, fmt.Errorf("scan function row: %w", err)
		}

		var fn FunctionDefinition
		if err := json.Unmarshal(defJSON, &fn); err != nil {
			if logger != nil {
				logger.Warn("function definition does not decode", "function", id, "error", err)
			}
			rejected = append(rejected, decodeError(id, err))
			continue
		}
		fn.ID = id
		fn.Procedure = procedure
		fn.Active = active
		fns = append(fns, &fn)
	}
	return fns, rejected, rows.Err()
}

func decodeError(id string, err error) *DefinitionError {
	return &DefinitionError{Function: id, Problems: []string{"decode definition: " + err.Error()}}
}

func loadClients(ctx context.Context, q store.Querier) ([]Client, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, name, is_active, rate_limit, secret_hash FROM _clients ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		var (
			c      Client
			secret sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Active, &c.RateLimit, &secret); err != nil {
			return nil, fmt.Errorf("scan client row: %w", err)
		}
		c.SecretHash = secret.String
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func loadRoles(ctx context.Context, q store.Querier) ([]Role, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, name FROM _roles ORDER BY id")
	if err != nil {
		return nil, err
	}
	var roles []Role
	index := make(map[string]int)
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan role row: %w", err)
		}
		index[r.ID] = len(roles)
		roles = append(roles, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	prows, err := q.QueryContext(ctx,
		"SELECT role_id, resource_type, resource_id, action FROM _role_permissions ORDER BY role_id")
	if err != nil {
		return nil, err
	}
	defer prows.Close()

	for prows.Next() {
		var roleID string
		var p Permission
		var resourceID sql.NullString
		if err := prows.Scan(&roleID, &p.ResourceType, &resourceID, &p.Action); err != nil {
			return nil, fmt.Errorf("scan role permission row: %w", err)
		}
		if resourceID.Valid {
			id := resourceID.String
			p.ResourceID = &id
		}
		i, ok := index[roleID]
		if !ok {
			continue
		}
		roles[i].Permissions = append(roles[i].Permissions, p)
	}
	return roles, prows.Err()
}

func loadClientRoles(ctx context.Context, q store.Querier) ([]ClientRole, error) {
	rows, err := q.QueryContext(ctx, "SELECT client_id, role_id FROM _client_roles ORDER BY client_id, role_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClientRole
	for rows.Next() {
		var cr ClientRole
		if err := rows.Scan(&cr.ClientID, &cr.RoleID); err != nil {
			return nil, fmt.Errorf("scan client role row: %w", err)
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

func loadFunctionPermissions(ctx context.Context, q store.Querier) ([]FunctionPermission, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT client_id, function_id, allowed FROM _function_permissions ORDER BY function_id, client_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FunctionPermission
	for rows.Next() {
		var fp FunctionPermission
		if err := rows.Scan(&fp.ClientID, &fp.FunctionID, &fp.Allowed); err != nil {
			return nil, fmt.Errorf("scan function permission row: %w", err)
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}
