package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"bike-tracker/internal/cache"
	"bike-tracker/internal/config"
	"bike-tracker/internal/consumer"
	"bike-tracker/internal/detector"
	"bike-tracker/internal/events"
	"bike-tracker/internal/metrics"
	"bike-tracker/internal/store"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Durable store: connect, ping, bootstrap schema and hypertables
	sqlDB, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer sqlDB.Close()
	if err := store.Ping(ctx, sqlDB); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	factStore := store.New(sqlDB)
	if err := factStore.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema error: %v", err)
	}

	// Redis serves both the snapshot stream and the state cache
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping error: %v", err)
	}

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector()
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-ctx.Done()
			// Shutdown with timeout
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Optional NATS fan-out of detected movements
	var pub *events.Publisher
	var det *detector.Detector
	stateCache := cache.New(rdb, cfg.BikeStateHash, cfg.StationPrefix)
	if cfg.NATSURL != "" {
		pub, err = events.NewPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer pub.Close()
		det = detector.New(factStore, stateCache, pub, mcol)
	} else {
		det = detector.New(factStore, stateCache, nil, mcol)
	}

	cons := consumer.New(rdb, det, consumer.Config{
		Stream:           cfg.StreamName,
		Group:            cfg.GroupName,
		Consumer:         cfg.ConsumerName,
		ReadBlock:        cfg.ReadBlock,
		ReadErrorBackoff: cfg.ReadErrorBackoff,
	}, mcol)
	if err := cons.EnsureGroup(ctx); err != nil {
		log.Fatalf("consumer group error: %v", err)
	}

	// Block until the stream loop exits on context cancellation
	if err := cons.Run(ctx); err != nil {
		log.Fatalf("consumer error: %v", err)
	}
	log.Println("shutdown complete")
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) events.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) EventPublishedInc()  { p.c.EventsPublished.Inc() }
func (p *pubMetrics) EventPublishErrInc() { p.c.EventPublishErrs.Inc() }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
