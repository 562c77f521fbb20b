// Package redis provides a snapshot store backed by Redis. Snapshots carry a
// TTL so a long-dead instance does not resurrect ancient prices.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tenenciaexterior/marketdata/internal/app/domain/market"
	"github.com/tenenciaexterior/marketdata/internal/app/storage"
)

const defaultSnapshotTTL = 24 * time.Hour

// SnapshotStore keeps the latest market snapshot under a single key.
type SnapshotStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Config configures the Redis snapshot store.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*SnapshotStore, error) {
	if cfg.Key == "" {
		cfg.Key = "marketdata:snapshot"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultSnapshotTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &SnapshotStore{client: client, key: cfg.Key, ttl: cfg.TTL}, nil
}

// NewWithClient wraps an existing client, mainly for tests.
func NewWithClient(client *redis.Client, key string, ttl time.Duration) *SnapshotStore {
	if key == "" {
		key = "marketdata:snapshot"
	}
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &SnapshotStore{client: client, key: key, ttl: ttl}
}

func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap market.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.client.Set(ctx, s.key, payload, s.ttl).Err()
}

func (s *SnapshotStore) LoadSnapshot(ctx context.Context) (market.Snapshot, error) {
	payload, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return market.Snapshot{}, fmt.Errorf("no snapshot stored")
		}
		return market.Snapshot{}, err
	}

	var snap market.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return market.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Close releases the underlying client.
func (s *SnapshotStore) Close() error { return s.client.Close() }
