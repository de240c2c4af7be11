// Package colors assigns each player a stable display color
package colors

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf16"

	"github.com/redis/go-redis/v9"

	"github.com/ernie/teamwatch/internal/config"
)

// Derive computes a player's color from a rolling hash of the ID's UTF-16
// code units. The result is pure, so it is stable across restarts.
func Derive(playerID string) string {
	var h int64
	for _, c := range utf16.Encode([]rune(playerID)) {
		// shift is done on the low 32 bits with wraparound
		shifted := int64(int32(uint32(h) << 5))
		h = int64(c) + shifted - h
	}

	hue := abs(h % 360)
	sat := 70 + abs(h)%30
	light := 50 + abs(int64(int32(uint32(h))>>8))%20
	return fmt.Sprintf("hsl(%d, %d%%, %d%%)", hue, sat, light)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Store persists colors. *storage.Store satisfies it.
type Store interface {
	GetPlayerColor(ctx context.Context, playerID string) (string, bool, error)
	InsertPlayerColor(ctx context.Context, playerID, color string, now time.Time) (string, error)
}

// Resolver looks colors up in an optional Redis cache, then the store, and
// derives and persists a color on first use
type Resolver struct {
	store  Store
	cache  redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(store Store, cache redis.UniversalClient, cfg config.CacheConfig, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		cache:  cache,
		prefix: cfg.RedisPrefix,
		ttl:    cfg.ColorTTL,
		logger: logger.With("component", "colors"),
	}
}

// NewRedisClient connects to the configured Redis, or returns nil when no
// address is configured
func NewRedisClient(ctx context.Context, cfg config.CacheConfig) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

func (r *Resolver) key(playerID string) string {
	return r.prefix + "color:" + playerID
}

// ColorFor returns the player's color. Cache failures are logged and fall
// through to the store.
func (r *Resolver) ColorFor(ctx context.Context, playerID string) (string, error) {
	if r.cache != nil {
		color, err := r.cache.Get(ctx, r.key(playerID)).Result()
		if err == nil {
			return color, nil
		}
		if err != redis.Nil {
			r.logger.Warn("color cache read failed", "player", playerID, "error", err)
		}
	}

	color, ok, err := r.store.GetPlayerColor(ctx, playerID)
	if err != nil {
		return "", err
	}
	if !ok {
		color, err = r.store.InsertPlayerColor(ctx, playerID, Derive(playerID), time.Now().UTC())
		if err != nil {
			return "", err
		}
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, r.key(playerID), color, r.ttl).Err(); err != nil {
			r.logger.Warn("color cache write failed", "player", playerID, "error", err)
		}
	}
	return color, nil
}
