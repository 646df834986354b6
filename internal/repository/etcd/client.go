// Package etcd provides the distributed placement lock and the latest-run index.
package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/config"
	"github.com/limiquantix/vmplacer/internal/domain"
)

// ErrKeyNotFound indicates the key was not found in etcd.
var ErrKeyNotFound = errors.New("key not found")

// Client wraps an etcd client with a session for distributed locking.
type Client struct {
	client  *clientv3.Client
	session *concurrency.Session
	logger  *zap.Logger
}

// NewClient creates a new etcd client.
func NewClient(cfg config.EtcdConfig, logger *zap.Logger) (*Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	// Create a session for distributed coordination
	session, err := concurrency.NewSession(client, concurrency.WithTTL(30))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	logger = logger.With(zap.String("component", "etcd"))
	logger.Info("Connected to etcd", zap.Strings("endpoints", cfg.Endpoints))

	return &Client{
		client:  client,
		session: session,
		logger:  logger,
	}, nil
}

// Close closes the etcd client and session.
func (c *Client) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

// Health checks if etcd is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Status(ctx, c.client.Endpoints()[0])
	return err
}

// =============================================================================
// Key-Value Operations
// =============================================================================

// Put stores a value in etcd.
func (c *Client) Put(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	_, err = c.client.Put(ctx, key, string(data))
	if err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}

	return nil
}

// Get retrieves a value from etcd.
func (c *Client) Get(ctx context.Context, key string, dest interface{}) error {
	resp, err := c.client.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to get key: %w", err)
	}

	if len(resp.Kvs) == 0 {
		return ErrKeyNotFound
	}

	return json.Unmarshal(resp.Kvs[0].Value, dest)
}

// =============================================================================
// Distributed Locking
// =============================================================================

// Ensure Client implements domain.Locker
var _ domain.Locker = (*Client)(nil)

// Lock represents a distributed lock.
type Lock struct {
	mutex *concurrency.Mutex
}

func lockKey(key string) string {
	return fmt.Sprintf("/locks/%s", key)
}

// TryLock takes the lock without waiting. A lock held by another session yields
// domain.ErrConflict.
func (c *Client) TryLock(ctx context.Context, key string) (domain.Lock, error) {
	mutex := concurrency.NewMutex(c.session, lockKey(key))

	if err := mutex.TryLock(ctx); err != nil {
		if errors.Is(err, concurrency.ErrLocked) {
			return nil, fmt.Errorf("%w: lock %s is held", domain.ErrConflict, key)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	c.logger.Debug("Acquired lock", zap.String("key", key))

	return &Lock{mutex: mutex}, nil
}

// Unlock releases a distributed lock.
func (l *Lock) Unlock(ctx context.Context) error {
	if l.mutex == nil {
		return nil
	}
	return l.mutex.Unlock(ctx)
}

// =============================================================================
// Latest Run Index
// =============================================================================

// Ensure Client implements domain.LatestRunIndex
var _ domain.LatestRunIndex = (*Client)(nil)

func latestKey(cluster string) string {
	return fmt.Sprintf("/placements/%s/latest", cluster)
}

// SetLatest records runID as the latest placement run of cluster.
func (c *Client) SetLatest(ctx context.Context, cluster, runID string) error {
	return c.Put(ctx, latestKey(cluster), runID)
}

// Latest returns the ID of the latest placement run of cluster.
func (c *Client) Latest(ctx context.Context, cluster string) (string, error) {
	var id string
	if err := c.Get(ctx, latestKey(cluster), &id); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return "", fmt.Errorf("latest run of %s: %w", cluster, domain.ErrNotFound)
		}
		return "", err
	}
	return id, nil
}
