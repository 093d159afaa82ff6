package metadata

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procgate/internal/config"
	"procgate/internal/logging"
	"procgate/internal/store"
)

func TestLoadGraph_SQLite(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "cfg"})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Bootstrap(ctx))

	stmts := []string{
		`INSERT INTO _functions (id, procedure_name, is_active, definition) VALUES
			('user.query', 'sp_get_user', 1, '{"parameters":[{"name":"user_id","type":"integer","required":true,"position":0}],"responses":[{"name":"email","source":"user_email","type":"string","transform":"lowercase"}]}'),
			('bad.json', 'sp_x', 1, '{not json')`,
		`INSERT INTO _clients (id, name, is_active, rate_limit) VALUES ('web', 'Web', 1, 60), ('off', 'Off', 0, 0)`,
		`INSERT INTO _roles (id, name) VALUES ('reader', 'Reader'), ('admin', 'Admin')`,
		`INSERT INTO _role_permissions (role_id, resource_type, resource_id, action) VALUES
			('reader', 'function', 'user.query', 'execute'),
			('admin', 'function', NULL, '*')`,
		`INSERT INTO _client_roles (client_id, role_id) VALUES ('web', 'reader')`,
		`INSERT INTO _function_permissions (client_id, function_id, allowed) VALUES ('off', 'user.query', 0)`,
	}
	for _, stmt := range stmts {
		_, err := s.DB.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	g, err := LoadGraph(ctx, s.DB, logging.Discard())
	require.NoError(t, err)

	require.Len(t, g.Functions, 1)
	require.Len(t, g.Rejected, 1)
	assert.Equal(t, "bad.json", g.Rejected[0].Function)
	fn := g.Functions[0]
	assert.Equal(t, "user.query", fn.ID)
	assert.Equal(t, "sp_get_user", fn.Procedure)
	assert.True(t, fn.Active)
	require.Len(t, fn.Parameters, 1)
	assert.Equal(t, TypeInteger, fn.Parameters[0].Type)
	assert.Equal(t, "lowercase", fn.Responses[0].Transform.Rule)

	require.Len(t, g.Clients, 2)
	assert.Equal(t, Client{ID: "off", Name: "Off", Active: false}, g.Clients[0])
	assert.Equal(t, Client{ID: "web", Name: "Web", Active: true, RateLimit: 60}, g.Clients[1])

	require.Len(t, g.Roles, 2)
	admin := g.Roles[0]
	assert.Equal(t, "admin", admin.ID)
	require.Len(t, admin.Permissions, 1)
	assert.Nil(t, admin.Permissions[0].ResourceID)
	require.NotNil(t, g.Roles[1].Permissions[0].ResourceID)
	assert.Equal(t, "user.query", *g.Roles[1].Permissions[0].ResourceID)

	assert.Equal(t, []ClientRole{{ClientID: "web", RoleID: "reader"}}, g.ClientRoles)
	assert.Equal(t, []FunctionPermission{{ClientID: "off", FunctionID: "user.query", Allowed: false}}, g.FunctionPermissions)

	reg := NewRegistry()
	snap, err := Reload(ctx, s.DB, reg, logging.Discard())
	require.NoError(t, err)
	assert.Same(t, snap, reg.Snapshot())
	_, ok := snap.Function("user.query")
	assert.True(t, ok)

	// an undecodable definition is a configuration error, not a missing function
	_, ok = snap.Function("bad.json")
	assert.False(t, ok)
	var derr *DefinitionError
	require.ErrorAs(t, snap.DefinitionError("bad.json"), &derr)
	assert.Contains(t, derr.Problems[0], "decode definition")
}

func TestLoadGraph_UnknownTypeIsDefinitionError(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "cfg"})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Bootstrap(ctx))

	_, err = s.DB.ExecContext(ctx, `INSERT INTO _functions (id, procedure_name, is_active, definition) VALUES
		('typo', 'sp_typo', 1, '{"parameters":[{"name":"n","type":"intgr","position":0}]}')`)
	require.NoError(t, err)

	snap, err := Reload(ctx, s.DB, NewRegistry(), logging.Discard())
	require.NoError(t, err)
	_, ok := snap.Function("typo")
	assert.False(t, ok)
	require.Error(t, snap.DefinitionError("typo"))
	assert.Contains(t, snap.DefinitionError("typo").Error(), `unknown data type "intgr"`)
}

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "functions.yaml")
	content := []byte(`
functions:
  - id: user.query
    procedure: sp_get_user
    active: true
    transactional: true
    parameters:
      - name: user_id
        type: integer
        required: true
        position: 0
        validation:
          min: 1
      - name: status
        type: string
        position: 1
        default: active
        validation:
          enum: [active, blocked]
    responses:
      - name: email
        source: user_email
        type: string
        transform:
          rule: replace
          args: {search: "@", replace: " at "}
    error_mappings:
      - code: "45000"
        http_status: 404
        message: User not found
clients:
  - id: web
    active: true
roles:
  - id: admin
    permissions:
      - resource_type: function
        action: "*"
client_roles:
  - client_id: web
    role_id: admin
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	g, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, g.Functions, 1)

	fn := g.Functions[0]
	require.NoError(t, fn.Prepare())
	assert.True(t, fn.Transactional)
	require.NotNil(t, fn.Parameters[0].Rules.Min)
	assert.Equal(t, 1.0, *fn.Parameters[0].Rules.Min)
	assert.Equal(t, "active", fn.Parameters[1].Default)
	assert.Equal(t, []string{"active", "blocked"}, fn.Parameters[1].Rules.Enum)
	assert.Equal(t, " at ", fn.Responses[0].Transform.Arg("replace"))
	assert.Equal(t, 404, fn.ErrorMappings[0].HTTPStatus)

	assert.True(t, g.Roles[0].Permissions[0].IsWildcard())
	assert.Equal(t, "web", g.ClientRoles[0].ClientID)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseGraph_InvalidTypeRejectsOnlyThatFunction(t *testing.T) {
	g, err := ParseGraph([]byte(`
functions:
  - id: ok
    procedure: sp_ok
    active: true
  - id: typo
    procedure: sp_typo
    parameters:
      - name: a
        type: uuidish
  - procedure: sp_anonymous
    parameters:
      - name: b
        type: intgr
clients:
  - id: web
    active: true
`))
	require.NoError(t, err)
	require.Len(t, g.Functions, 1)
	assert.Equal(t, "ok", g.Functions[0].ID)
	require.Len(t, g.Clients, 1)

	require.Len(t, g.Rejected, 2)
	assert.Equal(t, "typo", g.Rejected[0].Function)
	assert.Contains(t, g.Rejected[0].Problems[0], `unknown data type "uuidish"`)
	assert.Equal(t, "functions[2]", g.Rejected[1].Function)

	snap := NewSnapshot(g, 1)
	assert.Error(t, snap.DefinitionError("typo"))
	_, ok := snap.Function("ok")
	assert.True(t, ok)
}

func TestReloadFrom_FileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "functions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
functions:
  - id: ping
    procedure: sp_ping
    active: true
clients:
  - id: web
    active: true
`), 0o600))

	reg := NewRegistry()
	snap, err := ReloadFrom(context.Background(), FileSource{Path: path}, reg, nil)
	require.NoError(t, err)
	assert.Same(t, snap, reg.Snapshot())
	_, ok := snap.Function("ping")
	assert.True(t, ok)

	// a failing source keeps the published snapshot
	_, err = ReloadFrom(context.Background(), FileSource{Path: path + ".missing"}, reg, nil)
	assert.Error(t, err)
	assert.Same(t, snap, reg.Snapshot())
}
