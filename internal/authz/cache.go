package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"procgate/internal/cache"
	"procgate/internal/logging"
)

// DefaultTTL bounds how long a cached decision survives without an
// invalidation.
const DefaultTTL = 1800 * time.Second

const keyPrefix = "perm:"

// Key parts are query-escaped, so an id never contains the ':' separator
// and pair keys (one separator) never meet index keys (two).
func keyPart(id string) string {
	return url.QueryEscape(id)
}

func pairKey(clientID, functionID string) string {
	return keyPrefix + keyPart(clientID) + ":" + keyPart(functionID)
}

func clientIndex(clientID string) string {
	return keyPrefix + "idx:client:" + keyPart(clientID)
}

func functionIndex(functionID string) string {
	return keyPrefix + "idx:function:" + keyPart(functionID)
}

// PermissionCache stores authorization decisions per (client, function)
// pair. Every entry is also recorded in a client index and a function
// index, so invalidation touches only the affected pairs.
type PermissionCache struct {
	store  cache.Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewPermissionCache(store cache.Store, ttl time.Duration, logger *slog.Logger) *PermissionCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PermissionCache{
		store:  store,
		ttl:    ttl,
		logger: logging.OrDiscard(logger).With("component", "permission_cache"),
	}
}

func (c *PermissionCache) TTL() time.Duration { return c.ttl }

// Get returns the cached decision and whether there was one. A decision
// computed under a different access stamp is a miss.
func (c *PermissionCache) Get(ctx context.Context, clientID, functionID, stamp string) (allowed, ok bool, err error) {
	v, err := c.store.Get(ctx, pairKey(clientID, functionID))
	if errors.Is(err, cache.ErrMiss) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("get permission: %w", err)
	}
	cachedStamp, decision, found := strings.Cut(v, "|")
	if !found || cachedStamp != stamp {
		return false, false, nil
	}
	return decision == "1", true, nil
}

// Put stores a decision computed under stamp and indexes it under its
// client and function.
func (c *PermissionCache) Put(ctx context.Context, clientID, functionID, stamp string, allowed bool) error {
	key := pairKey(clientID, functionID)
	v := stamp + "|0"
	if allowed {
		v = stamp + "|1"
	}
	if err := c.store.Set(ctx, key, v, c.ttl); err != nil {
		return fmt.Errorf("put permission: %w", err)
	}
	if err := c.store.IndexAdd(ctx, clientIndex(clientID), key, c.ttl); err != nil {
		return fmt.Errorf("index permission by client: %w", err)
	}
	if err := c.store.IndexAdd(ctx, functionIndex(functionID), key, c.ttl); err != nil {
		return fmt.Errorf("index permission by function: %w", err)
	}
	return nil
}

// InvalidateClient drops every cached pair of clientID.
func (c *PermissionCache) InvalidateClient(ctx context.Context, clientID string) (int, error) {
	return c.invalidateIndex(ctx, clientIndex(clientID))
}

// InvalidateFunction drops every cached pair referencing functionID.
func (c *PermissionCache) InvalidateFunction(ctx context.Context, functionID string) (int, error) {
	return c.invalidateIndex(ctx, functionIndex(functionID))
}

// InvalidatePair drops a single decision.
func (c *PermissionCache) InvalidatePair(ctx context.Context, clientID, functionID string) error {
	if err := c.store.Delete(ctx, pairKey(clientID, functionID)); err != nil {
		return fmt.Errorf("invalidate permission: %w", err)
	}
	return nil
}

// InvalidateAll drops every decision and index.
func (c *PermissionCache) InvalidateAll(ctx context.Context) (int, error) {
	n, err := c.store.DeletePrefix(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("invalidate all permissions: %w", err)
	}
	return n, nil
}

func (c *PermissionCache) invalidateIndex(ctx context.Context, index string) (int, error) {
	members, err := c.store.IndexMembers(ctx, index)
	if err != nil {
		return 0, fmt.Errorf("read index %s: %w", index, err)
	}
	keys := append(members, index)
	if err := c.store.Delete(ctx, keys...); err != nil {
		return 0, fmt.Errorf("invalidate index %s: %w", index, err)
	}
	c.logger.Debug("permissions invalidated", "index", index, "entries", len(members))
	return len(members), nil
}
