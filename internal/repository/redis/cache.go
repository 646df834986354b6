// Package redis caches inventory snapshots and publishes placement events.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/config"
	"github.com/limiquantix/vmplacer/internal/domain"
)

// ErrCacheMiss indicates the key was not found in cache.
var ErrCacheMiss = errors.New("cache miss")

const defaultSnapshotTTL = 2 * time.Minute

// Cache wraps a Redis client for caching operations.
type Cache struct {
	client      *redis.Client
	snapshotTTL time.Duration
	logger      *zap.Logger
}

// NewCache creates a new Redis cache connection.
func NewCache(cfg config.RedisConfig, logger *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger = logger.With(zap.String("component", "redis"))
	logger.Info("Connected to Redis", zap.String("addr", cfg.Address()))

	ttl := cfg.SnapshotTTL
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &Cache{client: client, snapshotTTL: ttl, logger: logger}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Health checks if Redis is reachable.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// =============================================================================
// Generic Cache Operations
// =============================================================================

// Get retrieves a value from cache and unmarshals it into dest.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get error: %w", err)
	}

	return json.Unmarshal([]byte(val), dest)
}

// Set stores a value in cache with a TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

// =============================================================================
// Snapshot Cache Operations
// =============================================================================

// Ensure Cache implements domain.SnapshotCache
var _ domain.SnapshotCache = (*Cache)(nil)

func snapshotKey(datacenter string) string {
	return fmt.Sprintf("snapshot:%s", datacenter)
}

// GetSnapshot retrieves a datacenter snapshot from cache.
func (c *Cache) GetSnapshot(ctx context.Context, datacenter string) (*domain.Datacenter, error) {
	var dc domain.Datacenter
	if err := c.Get(ctx, snapshotKey(datacenter), &dc); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, fmt.Errorf("snapshot %s: %w", datacenter, domain.ErrNotFound)
		}
		return nil, err
	}
	return &dc, nil
}

// SetSnapshot stores a datacenter snapshot in cache.
func (c *Cache) SetSnapshot(ctx context.Context, dc *domain.Datacenter) error {
	return c.Set(ctx, snapshotKey(dc.Name), dc, c.snapshotTTL)
}

// =============================================================================
// Pub/Sub Operations for Real-time Updates
// =============================================================================

// Event represents a real-time event.
type Event struct {
	Type       string      `json:"type"` // "placement.completed", "placement.ready"
	ResourceID string      `json:"resource_id"`
	Data       interface{} `json:"data,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Publish publishes an event to a channel.
func (c *Cache) Publish(ctx context.Context, channel string, event Event) error {
	event.Timestamp = time.Now()
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return c.client.Publish(ctx, channel, data).Err()
}

// Subscribe subscribes to a channel and returns a message channel.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) <-chan Event {
	pubsub := c.client.Subscribe(ctx, channels...)
	events := make(chan Event, 100)

	go func() {
		defer close(events)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					c.logger.Warn("Failed to unmarshal event", zap.Error(err))
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events
}

// Ensure Cache implements domain.EventPublisher
var _ domain.EventPublisher = (*Cache)(nil)

// PlacementChannel carries placement run events.
const PlacementChannel = "events:placement"

// PublishRunEvent publishes a placement run event.
func (c *Cache) PublishRunEvent(ctx context.Context, eventType string, run *domain.PlacementRun) error {
	return c.Publish(ctx, PlacementChannel, Event{
		Type:       eventType,
		ResourceID: run.ID,
		Data:       run,
	})
}
