package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procgate/internal/metadata"
)

type recordingInvalidator struct {
	calls []string
	err   error
}

func (r *recordingInvalidator) OnClientRolesChanged(_ context.Context, id string) error {
	r.calls = append(r.calls, "client:"+id)
	return r.err
}

func (r *recordingInvalidator) OnRolePermissionsChanged(_ context.Context, id string) error {
	r.calls = append(r.calls, "role:"+id)
	return r.err
}

func (r *recordingInvalidator) OnFunctionPermissionsChanged(_ context.Context, id string) error {
	r.calls = append(r.calls, "function:"+id)
	return r.err
}

func (r *recordingInvalidator) InvalidateAll(context.Context) error {
	r.calls = append(r.calls, "all")
	return r.err
}

const graphYAML = `
functions:
  - id: ping
    procedure: sp_ping
    active: true
  - id: broken
    procedure: "not valid"
    active: true
`

func setup(t *testing.T) (*fiber.App, *metadata.Registry, *recordingInvalidator) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "functions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(graphYAML), 0o600))

	reg := metadata.NewRegistry()
	inv := &recordingInvalidator{}
	app := fiber.New()
	RegisterAdminRoutes(app, NewHandler(metadata.FileSource{Path: path}, reg, inv, nil))
	return app, reg, inv
}

func TestReload(t *testing.T) {
	app, reg, inv := setup(t)

	resp, err := app.Test(httptest.NewRequest("POST", "/api/_admin/reload", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var out struct {
		Data statusView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, uint64(1), out.Data.Version)
	assert.Equal(t, []string{"ping"}, out.Data.Functions)
	require.Len(t, out.Data.InvalidFunctions, 1)
	assert.Equal(t, "broken", out.Data.InvalidFunctions[0].Function)

	assert.Equal(t, uint64(1), reg.Snapshot().Version)
	assert.Equal(t, []string{"all"}, inv.calls)
}

func TestHooksReloadThenInvalidate(t *testing.T) {
	app, reg, inv := setup(t)

	for _, path := range []string{
		"/api/_admin/clients/web/roles-changed",
		"/api/_admin/roles/reader/permissions-changed",
		"/api/_admin/functions/ping/permissions-changed",
	} {
		resp, err := app.Test(httptest.NewRequest("POST", path, nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode, path)
	}

	assert.Equal(t, []string{"client:web", "role:reader", "function:ping"}, inv.calls)
	assert.Equal(t, uint64(3), reg.Snapshot().Version)
}

func TestHookFailureIsReported(t *testing.T) {
	app, _, inv := setup(t)
	inv.err = errors.New("redis down")

	resp, err := app.Test(httptest.NewRequest("POST", "/api/_admin/clients/web/roles-changed", nil))
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	app, _, _ := setup(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/_admin/status", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var out struct {
		Data statusView `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, uint64(0), out.Data.Version)
	assert.Empty(t, out.Data.Functions)
}
