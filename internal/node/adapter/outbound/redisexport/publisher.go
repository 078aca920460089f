package redisexport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthanhphan/go-replicated-kv/internal/node/port"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
	"github.com/redis/go-redis/v9"
)

var ErrNoSnapshot = errors.New("no ring snapshot published")

// Client is the subset of a redis client the publisher needs.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Publisher stores the latest ring snapshot under one key and announces
// every new version on <key>:updates, so routing clients outside the
// gossip mesh can follow ring changes.
type Publisher struct {
	client Client
	key    string
}

func NewPublisher(client Client, key string) *Publisher {
	return &Publisher{client: client, key: key}
}

var _ port.RingPublisher = (*Publisher)(nil)

// Announcement is the message sent on the updates channel.
type Announcement struct {
	Version  uint64 `json:"version"`
	Checksum string `json:"checksum"`
}

func (p *Publisher) Channel() string {
	return p.key + ":updates"
}

// PublishRing stores export unless a newer snapshot is already stored.
// Nodes publish independently, so an older node may lag behind.
func (p *Publisher) PublishRing(ctx context.Context, export shard.Export) error {
	current, err := p.Load(ctx)
	switch {
	case err == nil:
		if current.Version > export.Version ||
			(current.Version == export.Version && current.Checksum == export.Checksum) {
			return nil
		}
	case !errors.Is(err, ErrNoSnapshot):
		return err
	}

	data, err := json.Marshal(export)
	if err != nil {
		return fmt.Errorf("failed to encode ring snapshot: %w", err)
	}
	if err := p.client.Set(ctx, p.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store ring snapshot: %w", err)
	}

	msg, err := json.Marshal(Announcement{Version: export.Version, Checksum: export.Checksum})
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.Channel(), msg).Err(); err != nil {
		return fmt.Errorf("failed to announce ring snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot.
func (p *Publisher) Load(ctx context.Context) (shard.Export, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return shard.Export{}, ErrNoSnapshot
	}
	if err != nil {
		return shard.Export{}, fmt.Errorf("failed to load ring snapshot: %w", err)
	}
	var export shard.Export
	if err := json.Unmarshal(data, &export); err != nil {
		return shard.Export{}, fmt.Errorf("failed to decode ring snapshot: %w", err)
	}
	return export, nil
}
