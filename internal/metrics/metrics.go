package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	MessagesProcessed prometheus.Counter
	MessagesDiscarded prometheus.Counter
	MessagesRetried   prometheus.Counter
	ReadErrors        prometheus.Counter

	MovementsDetected prometheus.Counter
	StaysOpened       prometheus.Counter
	StaysClosed       prometheus.Counter
	StationUpserts    prometheus.Counter

	EventsPublished  prometheus.Counter
	EventPublishErrs prometheus.Counter
	NATSConnected    prometheus.Gauge

	SnapshotDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		MessagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processor_messages_processed_total",
			Help: "Total stream messages processed and acknowledged.",
		}),
		MessagesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processor_messages_discarded_total",
			Help: "Total malformed messages acknowledged without processing.",
		}),
		MessagesRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processor_messages_retried_total",
			Help: "Total messages left pending for redelivery after a processing error.",
		}),
		ReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processor_read_errors_total",
			Help: "Total stream read errors followed by back-off.",
		}),
		MovementsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processor_movements_detected_total",
			Help: "Total bike movements recorded.",
		}),
		StaysOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processor_stays_opened_total",
			Help: "Total stays opened.",
		}),
		StaysClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processor_stays_closed_total",
			Help: "Total stays closed.",
		}),
		StationUpserts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processor_station_upserts_total",
			Help: "Total station upserts.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processor_events_published_total",
			Help: "Total movement events published to NATS.",
		}),
		EventPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "processor_event_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "processor_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		SnapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "processor_snapshot_duration_seconds",
			Help:    "Duration of one snapshot detection pass.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
	}

	reg.MustRegister(
		c.MessagesProcessed, c.MessagesDiscarded, c.MessagesRetried, c.ReadErrors,
		c.MovementsDetected, c.StaysOpened, c.StaysClosed, c.StationUpserts,
		c.EventsPublished, c.EventPublishErrs, c.NATSConnected,
		c.SnapshotDuration,
	)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// SnapshotObserve records the duration of a full snapshot pass.
func (c *Collector) SnapshotObserve(d time.Duration) {
	c.SnapshotDuration.Observe(d.Seconds())
}
