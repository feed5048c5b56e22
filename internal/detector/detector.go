// Package detector turns successive positional snapshots into durable
// movement and stay facts by diffing each bike's position against its
// cached last-known state.
package detector

import (
	"context"
	"log"
	"time"

	"bike-tracker/internal/events"
	"bike-tracker/internal/geo"
	"bike-tracker/internal/metrics"
	"bike-tracker/internal/model"
)

// FactStore is the durable side of detection.
type FactStore interface {
	UpsertStation(ctx context.Context, st model.Station) error
	GetStation(ctx context.Context, uid int64) (*model.Station, error)
	CreateMovement(ctx context.Context, mv model.Movement) error
	FindActiveStay(ctx context.Context, bikeNumber string) (*model.Stay, error)
	CreateStay(ctx context.Context, stay model.Stay) error
	EndStay(ctx context.Context, stay *model.Stay, end time.Time) error
}

// StateCache is the ephemeral side: last-known per-bike state and
// per-station occupancy.
type StateCache interface {
	BikeState(ctx context.Context, bikeNumber string) (*model.BikeState, error)
	SetBikeState(ctx context.Context, bikeNumber string, state model.BikeState) error
	ReplaceStationOccupancy(ctx context.Context, stationUID int64, bikeNumbers []string) error
}

// MovementPublisher fans detected movements out to subscribers. Optional.
type MovementPublisher interface {
	PublishMovement(ev events.MovementEvent) error
}

type Detector struct {
	store   FactStore
	cache   StateCache
	pub     MovementPublisher
	metrics *metrics.Collector

	now func() time.Time
}

func New(store FactStore, cache StateCache, pub MovementPublisher, m *metrics.Collector) *Detector {
	return &Detector{
		store:   store,
		cache:   cache,
		pub:     pub,
		metrics: m,
		now:     time.Now,
	}
}

// ProcessSnapshot applies one validated snapshot. A single timestamp is
// captured up front and reused for every record derived from this pass.
// Any store or cache error aborts the pass and propagates, leaving the
// message pending for redelivery.
func (d *Detector) ProcessSnapshot(ctx context.Context, snap *model.Snapshot) error {
	start := time.Now()
	// Truncate to whole seconds so durable rows line up with the epoch
	// seconds kept in the cache.
	now := time.Unix(d.now().Unix(), 0).UTC()

	for _, country := range snap.Countries {
		for _, city := range country.Cities {
			for _, place := range city.Places {
				if !place.Spot {
					continue // free-floating locations are not tracked
				}
				if err := d.processStation(ctx, place, now); err != nil {
					return err
				}
			}
		}
	}

	if d.metrics != nil {
		d.metrics.SnapshotObserve(time.Since(start))
	}
	return nil
}

func (d *Detector) processStation(ctx context.Context, place model.Place, now time.Time) error {
	st := model.Station{UID: place.UID, Name: place.Name, Lat: place.Lat, Lng: place.Lng}
	if err := d.store.UpsertStation(ctx, st); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.StationUpserts.Inc()
	}

	current := make([]string, 0, len(place.BikeList))
	for _, b := range place.BikeList {
		current = append(current, b.Number)
	}
	if err := d.cache.ReplaceStationOccupancy(ctx, place.UID, current); err != nil {
		return err
	}

	for _, b := range place.BikeList {
		if err := d.detect(ctx, b.Number, place.UID, now); err != nil {
			return err
		}
	}
	return nil
}

func (d *Detector) detect(ctx context.Context, bikeNumber string, stationUID int64, now time.Time) error {
	last, err := d.cache.BikeState(ctx, bikeNumber)
	if err != nil {
		return err
	}
	nowSec := now.Unix()

	switch {
	case last == nil:
		// First sighting: open a stay, no movement.
		if err := d.openStay(ctx, bikeNumber, stationUID, now); err != nil {
			return err
		}
		return d.cache.SetBikeState(ctx, bikeNumber, model.BikeState{
			StationUID:    stationUID,
			Timestamp:     nowSec,
			StayStartTime: nowSec,
		})

	case last.StationUID == stationUID:
		// Still parked: refresh last-seen only, the stay start is kept.
		stayStart := last.StayStartTime
		if stayStart == 0 {
			stayStart = last.Timestamp
		}
		return d.cache.SetBikeState(ctx, bikeNumber, model.BikeState{
			StationUID:    stationUID,
			Timestamp:     nowSec,
			StayStartTime: stayStart,
		})

	default:
		return d.recordMovement(ctx, bikeNumber, last, stationUID, now)
	}
}

func (d *Detector) recordMovement(ctx context.Context, bikeNumber string, last *model.BikeState, stationUID int64, now time.Time) error {
	log.Printf("movement detected for bike %s: %d -> %d", bikeNumber, last.StationUID, stationUID)

	// The true departure time is unknown; the last confirmed sighting at
	// the old station is the best bound for closing the stay.
	lastSeen := time.Unix(last.Timestamp, 0).UTC()

	active, err := d.store.FindActiveStay(ctx, bikeNumber)
	if err != nil {
		return err
	}
	if active != nil {
		if err := d.store.EndStay(ctx, active, lastSeen); err != nil {
			return err
		}
		if d.metrics != nil {
			d.metrics.StaysClosed.Inc()
		}
	}

	if err := d.openStay(ctx, bikeNumber, stationUID, now); err != nil {
		return err
	}

	distance, err := d.distanceBetween(ctx, last.StationUID, stationUID)
	if err != nil {
		return err
	}

	mv := model.Movement{
		BikeNumber:      bikeNumber,
		StartStationUID: last.StationUID,
		EndStationUID:   stationUID,
		StartTime:       lastSeen,
		EndTime:         now,
		DistanceKM:      distance,
	}
	if err := d.store.CreateMovement(ctx, mv); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.MovementsDetected.Inc()
	}

	if d.pub != nil {
		ev := events.MovementEvent{
			BikeNumber:      mv.BikeNumber,
			StartStationUID: mv.StartStationUID,
			EndStationUID:   mv.EndStationUID,
			StartTime:       mv.StartTime,
			EndTime:         mv.EndTime,
			DistanceKM:      mv.DistanceKM,
		}
		if err := d.pub.PublishMovement(ev); err != nil {
			// Fan-out is best-effort; the fact is already durable.
			log.Printf("publish movement event for bike %s: %v", bikeNumber, err)
		}
	}

	nowSec := now.Unix()
	return d.cache.SetBikeState(ctx, bikeNumber, model.BikeState{
		StationUID:    stationUID,
		Timestamp:     nowSec,
		StayStartTime: nowSec,
	})
}

func (d *Detector) openStay(ctx context.Context, bikeNumber string, stationUID int64, start time.Time) error {
	stay := model.Stay{
		BikeNumber: bikeNumber,
		StationUID: stationUID,
		StartTime:  start,
	}
	if err := d.store.CreateStay(ctx, stay); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.StaysOpened.Inc()
	}
	return nil
}

// distanceBetween returns the great-circle distance between two stations,
// or 0 when either record is missing.
func (d *Detector) distanceBetween(ctx context.Context, fromUID, toUID int64) (float64, error) {
	from, err := d.store.GetStation(ctx, fromUID)
	if err != nil {
		return 0, err
	}
	to, err := d.store.GetStation(ctx, toUID)
	if err != nil {
		return 0, err
	}
	if from == nil || to == nil {
		return 0, nil
	}
	return geo.DistanceKM(from.Lat, from.Lng, to.Lat, to.Lng), nil
}
