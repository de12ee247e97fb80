package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/easybook/easybook/internal/domain/schedule"
)

const keyPrefix = "easybook:availability:"

// AvailabilityCache keeps the free slots of each date in a Redis hash
// keyed by date, with one field per schedule version. Dropping a date is a
// single DEL regardless of how many versions were cached.
type AvailabilityCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewAvailabilityCache(client redis.Cmdable, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

func dateKey(date string) string {
	return keyPrefix + date
}

func versionField(version int) string {
	return strconv.Itoa(version)
}

func (c *AvailabilityCache) Get(ctx context.Context, version int, date string) ([]schedule.Slot, bool, error) {
	raw, err := c.client.HGet(ctx, dateKey(date), versionField(version)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get availability %s: %w", date, err)
	}
	slots, err := decodeSlots(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode availability %s: %w", date, err)
	}
	return slots, true, nil
}

func (c *AvailabilityCache) Set(ctx context.Context, version int, date string, slots []schedule.Slot) error {
	raw, err := encodeSlots(slots)
	if err != nil {
		return fmt.Errorf("encode availability %s: %w", date, err)
	}
	key := dateKey(date)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, versionField(version), raw)
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set availability %s: %w", date, err)
	}
	return nil
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, date string) error {
	if err := c.client.Del(ctx, dateKey(date)).Err(); err != nil {
		return fmt.Errorf("invalidate availability %s: %w", date, err)
	}
	return nil
}

// An empty day is stored as [] so that it still counts as a hit.
func encodeSlots(slots []schedule.Slot) ([]byte, error) {
	if slots == nil {
		slots = []schedule.Slot{}
	}
	return json.Marshal(slots)
}

func decodeSlots(raw []byte) ([]schedule.Slot, error) {
	var slots []schedule.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, err
	}
	return slots, nil
}
