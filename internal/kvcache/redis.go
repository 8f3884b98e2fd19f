package kvcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dandantas/vcollab/internal/topology"
	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings
type Config struct {
	Addr       string
	Password   string
	DB         int
	Deployment string
	TTL        time.Duration
}

// RedisMirror keeps the latest topology snapshot in Redis so a restarted instance can
// serve it before its first fetch.
type RedisMirror struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// Connect opens a client and verifies it with PING
func Connect(ctx context.Context, cfg Config) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	slog.Info("Connected to Redis", "addr", cfg.Addr, "db", cfg.DB)
	return NewRedisMirror(client, cfg.Deployment, cfg.TTL), nil
}

// NewRedisMirror wraps an existing client. A zero ttl keeps the snapshot forever.
func NewRedisMirror(client *redis.Client, deployment string, ttl time.Duration) *RedisMirror {
	if deployment == "" {
		deployment = "default"
	}
	return &RedisMirror{
		client: client,
		key:    SnapshotKey(deployment),
		ttl:    ttl,
	}
}

// SnapshotKey is the Redis key holding the snapshot of a deployment
func SnapshotKey(deployment string) string {
	return "vcollab:" + deployment + ":topology:snapshot"
}

func (m *RedisMirror) Save(ctx context.Context, snap topology.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := m.client.Set(ctx, m.key, data, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

func (m *RedisMirror) Load(ctx context.Context) (topology.Snapshot, bool, error) {
	data, err := m.client.Get(ctx, m.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return topology.Snapshot{}, false, nil
	}
	if err != nil {
		return topology.Snapshot{}, false, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap topology.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return topology.Snapshot{}, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, true, nil
}

func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
