// Package events fans detected movements out to downstream subscribers
// over NATS. Publishing is best-effort: the durable store is already the
// system of record by the time an event is emitted.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

type Publisher struct {
	nc            *nats.Conn
	subjectPrefix string
	metrics       PublisherMetrics
}

type PublisherMetrics interface {
	EventPublishedInc()
	EventPublishErrInc()
	NATSSetConnected(connected bool)
}

func NewPublisher(url, subjectPrefix string, m PublisherMetrics) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("bike-tracker-processor"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &Publisher{nc: nc, subjectPrefix: subjectPrefix, metrics: m}, nil
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

type MovementEvent struct {
	BikeNumber      string    `json:"bikeNumber"`
	StartStationUID int64     `json:"startStationUid"`
	EndStationUID   int64     `json:"endStationUid"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	DistanceKM      float64   `json:"distanceKm"`
}

func (p *Publisher) PublishMovement(ev MovementEvent) error {
	subject := fmt.Sprintf("%s.%s", p.subjectPrefix, subjectToken(ev.BikeNumber))
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		if err != nil {
			p.metrics.EventPublishErrInc()
		} else {
			p.metrics.EventPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
