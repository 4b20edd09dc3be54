package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"moto-alarm/ingestion/internal/config"
)

// KeyLookup resolves a device API key to the entity it belongs to. An
// unknown key yields "", nil.
type KeyLookup interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

type cacheEntry struct {
	entityID  string
	expiresAt time.Time
}

// Authenticator checks device API keys against static config keys, a local
// cache and Redis, in that order.
type Authenticator struct {
	localCache    sync.Map
	lookup        KeyLookup
	ttl           time.Duration
	staticKeys    map[string]bool
	defaultEntity string
	logger        *slog.Logger
	now           func() time.Time
}

func NewAuthenticator(cfg *config.Config, lookup KeyLookup, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	staticKeys := make(map[string]bool, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		if k != "" {
			staticKeys[k] = true
		}
	}

	return &Authenticator{
		lookup:        lookup,
		ttl:           time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys:    staticKeys,
		defaultEntity: cfg.DefaultEntityID,
		logger:        logger,
		now:           time.Now,
	}
}

// Validate returns the entity a key belongs to and whether the key is valid.
// Static keys belong to the default entity.
func (a *Authenticator) Validate(ctx context.Context, apiKey string) (string, bool) {
	if apiKey == "" {
		return "", false
	}

	// Level 0: static config keys
	if a.staticKeys[apiKey] {
		return a.defaultEntity, true
	}

	// Level 1: in-memory cache
	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if a.now().Before(entry.expiresAt) {
			return entry.entityID, true
		}
		a.localCache.Delete(apiKey)
	}

	// Level 2: Redis lookup
	if a.lookup == nil {
		return "", false
	}
	entityID, err := a.lookup.GetAPIKey(ctx, apiKey)
	if err != nil {
		a.logger.Error("api_key_lookup_failed", "error", err)
		return "", false
	}
	if entityID == "" {
		return "", false
	}

	a.localCache.Store(apiKey, cacheEntry{
		entityID:  entityID,
		expiresAt: a.now().Add(a.ttl),
	})

	return entityID, true
}
