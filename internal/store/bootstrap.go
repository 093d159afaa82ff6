package store

import (
	"context"
	"fmt"
	"strings"
)

func configTablesSQL(keyType, jsonType string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS _functions (
    id              %[1]s PRIMARY KEY,
    procedure_name  %[1]s NOT NULL,
    is_active       BOOLEAN NOT NULL DEFAULT TRUE,
    definition      %[2]s NOT NULL
);

CREATE TABLE IF NOT EXISTS _clients (
    id          %[1]s PRIMARY KEY,
    name        %[1]s NOT NULL,
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    rate_limit  INTEGER NOT NULL DEFAULT 0,
    secret_hash %[1]s NULL
);

CREATE TABLE IF NOT EXISTS _roles (
    id    %[1]s PRIMARY KEY,
    name  %[1]s NOT NULL
);

CREATE TABLE IF NOT EXISTS _role_permissions (
    role_id        %[1]s NOT NULL REFERENCES _roles(id) ON DELETE CASCADE,
    resource_type  %[1]s NOT NULL,
    resource_id    %[1]s NULL,
    action         %[1]s NOT NULL
);

CREATE TABLE IF NOT EXISTS _client_roles (
    client_id  %[1]s NOT NULL REFERENCES _clients(id) ON DELETE CASCADE,
    role_id    %[1]s NOT NULL REFERENCES _roles(id) ON DELETE CASCADE,
    PRIMARY KEY (client_id, role_id)
);

CREATE TABLE IF NOT EXISTS _function_permissions (
    client_id    %[1]s NOT NULL REFERENCES _clients(id) ON DELETE CASCADE,
    function_id  %[1]s NOT NULL REFERENCES _functions(id) ON DELETE CASCADE,
    allowed      BOOLEAN NOT NULL,
    PRIMARY KEY (client_id, function_id)
);
`, keyType, jsonType)
}

// Bootstrap creates the configuration tables if they don't exist.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, stmt := range strings.Split(s.Dialect.ConfigTablesSQL(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap config tables: %w", err)
		}
	}
	return nil
}
