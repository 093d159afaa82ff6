package authz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procgate/internal/cache"
	"procgate/internal/metadata"
)

func strptr(s string) *string { return &s }

func fn(id string, active bool) *metadata.FunctionDefinition {
	return &metadata.FunctionDefinition{ID: id, Procedure: "sp_" + id, Active: active}
}

func testGraph() *metadata.Graph {
	return &metadata.Graph{
		Functions: []*metadata.FunctionDefinition{
			fn("orders", true),
			fn("reports", true),
			fn("secret", true),
			fn("off", false),
			fn("unlisted", true),
		},
		Clients: []metadata.Client{
			{ID: "web", Active: true},
			{ID: "mobile", Active: true},
			{ID: "blocked", Active: false},
			{ID: "nobody", Active: true},
		},
		Roles: []metadata.Role{
			{ID: "reader", Permissions: []metadata.Permission{
				{ResourceType: "function", ResourceID: strptr("reports"), Action: "execute"},
			}},
			{ID: "all", Permissions: []metadata.Permission{
				{ResourceType: "function", Action: "execute"},
			}},
			{ID: "star", Permissions: []metadata.Permission{
				{ResourceType: "function", Action: "*"},
			}},
		},
		ClientRoles: []metadata.ClientRole{
			{ClientID: "web", RoleID: "all"},
			{ClientID: "mobile", RoleID: "reader"},
			{ClientID: "blocked", RoleID: "all"},
		},
		FunctionPermissions: []metadata.FunctionPermission{
			{ClientID: "web", FunctionID: "secret", Allowed: false},
			{ClientID: "nobody", FunctionID: "orders", Allowed: true},
		},
	}
}

type countingChecker struct {
	inner Checker
	calls int
}

func (c *countingChecker) Check(snap *metadata.Snapshot, clientID, functionID string) Decision {
	c.calls++
	return c.inner.Check(snap, clientID, functionID)
}

func newManager(t *testing.T, store cache.Store) (*Manager, *countingChecker, *metadata.Registry) {
	t.Helper()
	reg := metadata.NewRegistry()
	reg.Load(testGraph())
	checker := &countingChecker{inner: NewPermissionChecker(nil)}
	m := NewManager(reg, NewPermissionCache(store, time.Minute, nil), checker, nil, nil)
	return m, checker, reg
}

func TestPermissionChecker_Precedence(t *testing.T) {
	snap := metadata.NewSnapshot(testGraph(), 1)
	checker := NewPermissionChecker(nil)

	tests := []struct {
		name     string
		client   string
		function string
		allowed  bool
	}{
		{"wildcard role grant", "web", "orders", true},
		{"explicit deny beats role grant", "web", "secret", false},
		{"exact role grant", "mobile", "reports", true},
		{"exact grant does not cover other functions", "mobile", "orders", false},
		{"explicit allow without roles", "nobody", "orders", true},
		{"no rows at all is denied", "nobody", "unlisted", false},
		{"unknown client", "ghost", "orders", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := checker.Check(snap, tt.client, tt.function)
			assert.Equal(t, tt.allowed, d.Allowed, d.Reason)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestRoleResolver_Grants(t *testing.T) {
	r := NewRoleResolver()

	assert.True(t, r.Grants(metadata.Role{Permissions: []metadata.Permission{
		{ResourceType: "function", Action: "*"},
	}}, "anything"))
	assert.False(t, r.Grants(metadata.Role{Permissions: []metadata.Permission{
		{ResourceType: "function", ResourceID: strptr("orders"), Action: "*"},
	}}, "orders"), "all-actions only applies to the wildcard")
	assert.False(t, r.Grants(metadata.Role{Permissions: []metadata.Permission{
		{ResourceType: "report", Action: "execute"},
	}}, "orders"))
	assert.False(t, r.Grants(metadata.Role{Permissions: []metadata.Permission{
		{ResourceType: "function", Action: "read"},
	}}, "orders"))
}

func TestManager_ExplicitDenyOverridesRoleGrant(t *testing.T) {
	m, _, _ := newManager(t, cache.NewMemoryStore())

	allowed, err := m.Authorize(context.Background(), "web", "secret")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = m.Authorize(context.Background(), "web", "orders")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestManager_CacheHitAvoidsRecompute(t *testing.T) {
	ctx := context.Background()
	m, checker, _ := newManager(t, cache.NewMemoryStore())

	for i := 0; i < 3; i++ {
		allowed, err := m.Authorize(ctx, "web", "orders")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.Equal(t, 1, checker.calls)

	require.NoError(t, m.OnClientRolesChanged(ctx, "web"))

	_, err := m.Authorize(ctx, "web", "orders")
	require.NoError(t, err)
	assert.Equal(t, 2, checker.calls)
}

func TestManager_DeniedDecisionsAreCached(t *testing.T) {
	ctx := context.Background()
	m, checker, _ := newManager(t, cache.NewMemoryStore())

	for i := 0; i < 2; i++ {
		allowed, err := m.Authorize(ctx, "mobile", "orders")
		require.NoError(t, err)
		assert.False(t, allowed)
	}
	assert.Equal(t, 1, checker.calls)
}

func TestManager_InactiveSkipsChecker(t *testing.T) {
	ctx := context.Background()
	m, checker, _ := newManager(t, cache.NewMemoryStore())

	allowed, err := m.Authorize(ctx, "blocked", "orders")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = m.Authorize(ctx, "web", "off")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = m.Authorize(ctx, "web", "missing")
	require.NoError(t, err)
	assert.False(t, allowed)

	assert.Zero(t, checker.calls)
}

func TestManager_FunctionInvalidation(t *testing.T) {
	ctx := context.Background()
	m, checker, _ := newManager(t, cache.NewMemoryStore())

	_, _ = m.Authorize(ctx, "web", "orders")
	_, _ = m.Authorize(ctx, "nobody", "orders")
	_, _ = m.Authorize(ctx, "web", "reports")
	require.Equal(t, 3, checker.calls)

	require.NoError(t, m.OnFunctionPermissionsChanged(ctx, "orders"))

	_, _ = m.Authorize(ctx, "web", "reports")
	assert.Equal(t, 3, checker.calls, "other functions stay cached")
	_, _ = m.Authorize(ctx, "web", "orders")
	_, _ = m.Authorize(ctx, "nobody", "orders")
	assert.Equal(t, 5, checker.calls)
}

func TestManager_RoleInvalidationReachesHolders(t *testing.T) {
	ctx := context.Background()
	m, checker, reg := newManager(t, cache.NewMemoryStore())

	_, _ = m.Authorize(ctx, "mobile", "reports")
	_, _ = m.Authorize(ctx, "web", "reports")
	require.Equal(t, 2, checker.calls)

	// reader loses its grant
	g := testGraph()
	g.Roles[0].Permissions = nil
	reg.Load(g)
	require.NoError(t, m.OnRolePermissionsChanged(ctx, "reader"))

	allowed, err := m.Authorize(ctx, "mobile", "reports")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 3, checker.calls)

	_, _ = m.Authorize(ctx, "web", "reports")
	assert.Equal(t, 3, checker.calls, "clients without the role keep their entries")
}

func TestManager_InvalidateAll(t *testing.T) {
	ctx := context.Background()
	m, checker, _ := newManager(t, cache.NewMemoryStore())

	_, _ = m.Authorize(ctx, "web", "orders")
	_, _ = m.Authorize(ctx, "mobile", "reports")
	require.NoError(t, m.InvalidateAll(ctx))

	_, _ = m.Authorize(ctx, "web", "orders")
	_, _ = m.Authorize(ctx, "mobile", "reports")
	assert.Equal(t, 4, checker.calls)
}

func TestManager_RedisBackedCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	m, checker, _ := newManager(t, cache.NewRedisStore(rdb, "test:"))

	_, _ = m.Authorize(ctx, "web", "orders")
	_, _ = m.Authorize(ctx, "web", "orders")
	assert.Equal(t, 1, checker.calls)

	assert.True(t, mr.Exists("test:perm:web:orders"))
	members, err := mr.Members("test:perm:idx:client:web")
	require.NoError(t, err)
	assert.Equal(t, []string{"perm:web:orders"}, members)

	require.NoError(t, m.OnClientRolesChanged(ctx, "web"))
	assert.False(t, mr.Exists("test:perm:web:orders"))

	_, _ = m.Authorize(ctx, "web", "orders")
	assert.Equal(t, 2, checker.calls)
}

func TestPermissionCache_TTL(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	now := time.Now()
	store.SetClock(func() time.Time { return now })

	c := NewPermissionCache(store, 0, nil)
	assert.Equal(t, DefaultTTL, c.TTL())

	require.NoError(t, c.Put(ctx, "web", "orders", "s1", true))
	allowed, ok, err := c.Get(ctx, "web", "orders", "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, allowed)

	now = now.Add(DefaultTTL)
	_, ok, err = c.Get(ctx, "web", "orders", "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPermissionCache_StampMismatchIsMiss(t *testing.T) {
	ctx := context.Background()
	c := NewPermissionCache(cache.NewMemoryStore(), time.Minute, nil)

	require.NoError(t, c.Put(ctx, "web", "orders", "old", true))
	_, ok, err := c.Get(ctx, "web", "orders", "new")
	require.NoError(t, err)
	assert.False(t, ok)

	allowed, ok, err := c.Get(ctx, "web", "orders", "old")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, allowed)
}

func TestPermissionCache_KeysDoNotCollide(t *testing.T) {
	assert.NotEqual(t, pairKey("a:b", "c"), pairKey("a", "b:c"))
	assert.NotEqual(t, pairKey("a%3Ab", "c"), pairKey("a:b", "c"))
	assert.NotEqual(t, clientIndex("a:b"), clientIndex("a%3Ab"))
	assert.NotEqual(t, pairKey("idx", "client:web"), clientIndex("web"))
	assert.Equal(t, "perm:web:orders", pairKey("web", "orders"))
}

func TestManager_SeparatorInIDsKeepsDecisionsApart(t *testing.T) {
	ctx := context.Background()
	reg := metadata.NewRegistry()
	reg.Load(&metadata.Graph{
		Functions: []*metadata.FunctionDefinition{fn("c", true), fn("b:c", true)},
		Clients:   []metadata.Client{{ID: "a:b", Active: true}, {ID: "a", Active: true}},
		FunctionPermissions: []metadata.FunctionPermission{
			{ClientID: "a:b", FunctionID: "c", Allowed: true},
		},
	})
	m := NewManager(reg, NewPermissionCache(cache.NewMemoryStore(), time.Minute, nil), nil, nil, nil)

	allowed, err := m.Authorize(ctx, "a:b", "c")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = m.Authorize(ctx, "a", "b:c")
	require.NoError(t, err)
	assert.False(t, allowed)

	// the client index of "a" must not reach "a:b"'s decision
	require.NoError(t, m.OnClientRolesChanged(ctx, "a"))
	allowed, err = m.Authorize(ctx, "a:b", "c")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestManager_InFlightOldSnapshotCannotPoisonCache(t *testing.T) {
	ctx := context.Background()
	m, _, reg := newManager(t, cache.NewMemoryStore())

	allowed, err := m.Authorize(ctx, "web", "orders")
	require.NoError(t, err)
	require.True(t, allowed)

	oldSnap := reg.Snapshot()
	web, _ := oldSnap.Client("web")
	orders, _ := oldSnap.Function("orders")

	// web loses its "all" role: reload, then the synchronous hook
	g := testGraph()
	g.ClientRoles = []metadata.ClientRole{
		{ClientID: "mobile", RoleID: "reader"},
		{ClientID: "blocked", RoleID: "all"},
	}
	reg.Load(g)
	require.NoError(t, m.OnClientRolesChanged(ctx, "web"))

	// a request that resolved the old snapshot finishes after the hook
	allowed, err = m.AuthorizeIn(ctx, oldSnap, web, orders)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = m.Authorize(ctx, "web", "orders")
	require.NoError(t, err)
	assert.False(t, allowed)

	// and the fresh decision is the one cached from now on
	allowed, err = m.Authorize(ctx, "web", "orders")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestManager_UnchangedAccessKeepsCacheAcrossReloads(t *testing.T) {
	ctx := context.Background()
	m, checker, reg := newManager(t, cache.NewMemoryStore())

	_, err := m.Authorize(ctx, "web", "orders")
	require.NoError(t, err)

	before := reg.Snapshot().AccessStamp
	reg.Load(testGraph())
	assert.Equal(t, before, reg.Snapshot().AccessStamp)

	_, err = m.Authorize(ctx, "web", "orders")
	require.NoError(t, err)
	assert.Equal(t, 1, checker.calls)
}
