package persistence

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSlot keeps the guest snapshot under cart:guest:<guestID>. Entries
// expire after the base TTL plus up to five minutes of jitter; every write
// refreshes the TTL.
type RedisSlot struct {
	client  *redis.Client
	key     string
	baseTTL time.Duration
}

func NewRedisSlot(client *redis.Client, guestID string, baseTTL time.Duration) *RedisSlot {
	if baseTTL <= 0 {
		baseTTL = 30 * 24 * time.Hour
	}
	return &RedisSlot{
		client:  client,
		key:     slotKey(guestID),
		baseTTL: baseTTL,
	}
}

func (r *RedisSlot) Read(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

func (r *RedisSlot) Write(ctx context.Context, data []byte) error {
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	ttl := r.baseTTL + jitter
	if err := r.client.Set(ctx, r.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisSlot) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func slotKey(guestID string) string {
	return fmt.Sprintf("cart:guest:%s", guestID)
}
