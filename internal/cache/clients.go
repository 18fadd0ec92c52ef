package cache

import (
	"context"
	"errors"
	"time"

	"github.com/lodgic/authd/internal/oauth"
)

// ClientResolver is satisfied by the OAuth client service.
type ClientResolver interface {
	GetByClientID(ctx context.Context, clientID string) (oauth.Client, error)
}

// CachedClientResolver fronts client lookups with the cache. Client
// records change rarely and are read on every authorize and token
// request, which makes them the hottest read path in the server.
type CachedClientResolver struct {
	Resolver ClientResolver
	Cache    *Service
	TTL      time.Duration
}

func NewCachedClientResolver(resolver ClientResolver, cache *Service, ttl time.Duration) *CachedClientResolver {
	return &CachedClientResolver{Resolver: resolver, Cache: cache, TTL: ttl}
}

func clientKey(clientID string) string {
	return "client:" + clientID
}

// GetByClientID reads through the cache. Misses and cache failures both
// fall back to the database; negative results are not cached so a
// freshly registered client is usable immediately.
func (r *CachedClientResolver) GetByClientID(ctx context.Context, clientID string) (oauth.Client, error) {
	var cached oauth.Client
	if err := r.Cache.Get(ctx, clientKey(clientID), &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		// Degraded cache, keep serving from the database.
	}

	client, err := r.Resolver.GetByClientID(ctx, clientID)
	if err != nil {
		return oauth.Client{}, err
	}

	_ = r.Cache.Set(ctx, clientKey(clientID), client, r.TTL)
	return client, nil
}

// Invalidate drops a cached client record, used after registration
// updates.
func (r *CachedClientResolver) Invalidate(ctx context.Context, clientID string) {
	_ = r.Cache.Delete(ctx, clientKey(clientID))
}
