// Package cache holds the ephemeral per-bike state in Redis. It is a pure
// accelerator: losing it causes transient detection anomalies (a resident
// bike looks newly seen) but never loses historical facts, which live only
// in the durable store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"bike-tracker/internal/model"
)

type Cache struct {
	client        *redis.Client
	bikeStateHash string
	stationPrefix string
}

func New(client *redis.Client, bikeStateHash, stationPrefix string) *Cache {
	return &Cache{
		client:        client,
		bikeStateHash: bikeStateHash,
		stationPrefix: stationPrefix,
	}
}

// BikeState returns the cached last-known state of a bike, or nil when the
// bike has never been seen.
func (c *Cache) BikeState(ctx context.Context, bikeNumber string) (*model.BikeState, error) {
	raw, err := c.client.HGet(ctx, c.bikeStateHash, bikeNumber).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get bike state %s: %w", bikeNumber, err)
	}
	var state model.BikeState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode bike state %s: %w", bikeNumber, err)
	}
	return &state, nil
}

func (c *Cache) SetBikeState(ctx context.Context, bikeNumber string, state model.BikeState) error {
	if err := c.client.HSet(ctx, c.bikeStateHash, bikeNumber, state).Err(); err != nil {
		return fmt.Errorf("set bike state %s: %w", bikeNumber, err)
	}
	return nil
}

// ReplaceStationOccupancy atomically swaps the station's resident set for
// the bikes present in the current snapshot, so departed bikes are not
// falsely reported as resident.
func (c *Cache) ReplaceStationOccupancy(ctx context.Context, stationUID int64, bikeNumbers []string) error {
	key := fmt.Sprintf("%s%d", c.stationPrefix, stationUID)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(bikeNumbers) > 0 {
		members := make([]interface{}, len(bikeNumbers))
		for i, n := range bikeNumbers {
			members[i] = n
		}
		pipe.SAdd(ctx, key, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replace occupancy for station %d: %w", stationUID, err)
	}
	return nil
}
