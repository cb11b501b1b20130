package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetReference retrieves a cached reference snapshot for an application.
	GetReference(ctx context.Context, appID string) (*ReferenceCache, error)

	// SetReference caches the reference snapshot resolved during scoring.
	SetReference(ctx context.Context, appID string, data *ReferenceCache, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for invoice reuse tracking within a time window.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ReferenceCache holds the reference data resolved for an application,
// cached so batch scoring does not re-query per record.
type ReferenceCache struct {
	FarmerID      string  `json:"farmerId"`
	DealerID      string  `json:"dealerId"`
	LandHoldingHa float64 `json:"landHoldingHa"`
	GhostFarmer   bool    `json:"ghostFarmer"`
	AllowedQty    float64 `json:"allowedQty"`
	MaxSubsidy    float64 `json:"maxSubsidy"`
	Timestamp     string  `json:"timestamp"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
