// Package consumer drains the snapshot stream through a named consumer
// group with at-least-once delivery. Each message resolves to one of three
// outcomes: processed (acked), discarded (poison, acked anyway), or left
// pending for redelivery.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"bike-tracker/internal/metrics"
	"bike-tracker/internal/model"
)

// StreamClient is the slice of the Redis API the consumer needs.
// *redis.Client satisfies it.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XTrimMinID(ctx context.Context, key string, minID string) *redis.IntCmd
}

// SnapshotHandler processes one validated snapshot synchronously.
type SnapshotHandler interface {
	ProcessSnapshot(ctx context.Context, snap *model.Snapshot) error
}

type Config struct {
	Stream           string
	Group            string
	Consumer         string
	ReadBlock        time.Duration
	ReadErrorBackoff time.Duration
}

type Consumer struct {
	client  StreamClient
	handler SnapshotHandler
	cfg     Config
	metrics *metrics.Collector
}

func New(client StreamClient, handler SnapshotHandler, cfg Config, m *metrics.Collector) *Consumer {
	return &Consumer{client: client, handler: handler, cfg: cfg, metrics: m}
}

// EnsureGroup idempotently creates the consumer group at the origin of the
// stream. An already existing group is not an error; anything else aborts
// startup.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			log.Printf("consumer group %q already exists", c.cfg.Group)
			return nil
		}
		return fmt.Errorf("create consumer group %q: %w", c.cfg.Group, err)
	}
	log.Printf("consumer group %q created", c.cfg.Group)
	return nil
}

// Run blocks until ctx is cancelled. Reads are bounded by cfg.ReadBlock so
// shutdown is observed between messages; read errors never crash the loop.
func (c *Consumer) Run(ctx context.Context) error {
	log.Printf("listening on stream %q as %s/%s", c.cfg.Stream, c.cfg.Group, c.cfg.Consumer)
	for {
		if ctx.Err() != nil {
			return nil
		}
		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Consumer,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    1,
			Block:    c.cfg.ReadBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // nothing undelivered within the block window
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("stream read error: %v", err)
			if c.metrics != nil {
				c.metrics.ReadErrors.Inc()
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.ReadErrorBackoff):
			}
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				c.handle(ctx, msg)
			}
		}
	}
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeDiscarded
	outcomeRetried
)

func (c *Consumer) handle(ctx context.Context, msg redis.XMessage) outcome {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		log.Printf("message %s has no data field; discarding", msg.ID)
		c.ackAndTrim(ctx, msg.ID)
		if c.metrics != nil {
			c.metrics.MessagesDiscarded.Inc()
		}
		return outcomeDiscarded
	}

	snap, err := model.ParseSnapshot([]byte(raw))
	if err != nil {
		// Poison message: acknowledge anyway so it cannot stall the stream.
		log.Printf("message %s failed validation: %v; acknowledging to avoid reprocessing", msg.ID, err)
		c.ackAndTrim(ctx, msg.ID)
		if c.metrics != nil {
			c.metrics.MessagesDiscarded.Inc()
		}
		return outcomeDiscarded
	}

	if err := c.handler.ProcessSnapshot(ctx, snap); err != nil {
		log.Printf("failed to process message %s: %v; it will be redelivered", msg.ID, err)
		if c.metrics != nil {
			c.metrics.MessagesRetried.Inc()
		}
		return outcomeRetried
	}

	c.ackAndTrim(ctx, msg.ID)
	if c.metrics != nil {
		c.metrics.MessagesProcessed.Inc()
	}
	log.Printf("processed and acknowledged message %s", msg.ID)
	return outcomeProcessed
}

// ackAndTrim acknowledges the message and drops everything up to it from
// the stream. Failures here only mean a redundant redelivery later, which
// the diff-based detector absorbs.
func (c *Consumer) ackAndTrim(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		log.Printf("ack message %s: %v", id, err)
		return
	}
	if err := c.client.XTrimMinID(ctx, c.cfg.Stream, id).Err(); err != nil {
		log.Printf("trim stream to %s: %v", id, err)
	}
}
