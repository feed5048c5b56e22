package model

import (
	"encoding/json"
	"time"
)

// Station is the durable record of a docking station. Upserted whenever it
// appears in a snapshot, never deleted.
type Station struct {
	UID  int64
	Name string
	Lat  float64
	Lng  float64
}

// Movement is a completed transition of one bike between two distinct
// stations. Keyed by (bike_number, start_time).
type Movement struct {
	BikeNumber      string
	StartStationUID int64
	EndStationUID   int64
	StartTime       time.Time
	EndTime         time.Time
	DistanceKM      float64
}

// Stay is a contiguous interval a bike spends parked at one station.
// EndTime == nil marks the bike's current (still open) stay.
type Stay struct {
	BikeNumber string
	StationUID int64
	StartTime  time.Time
	EndTime    *time.Time
}

// BikeState is the cached last-known position of one bike. Timestamps are
// epoch seconds. StayStartTime is authoritative for when the current stay
// began; Timestamp only records the last confirmed sighting.
type BikeState struct {
	StationUID    int64 `json:"station_uid"`
	Timestamp     int64 `json:"timestamp"`
	StayStartTime int64 `json:"stay_start_time"`
}

// MarshalBinary lets go-redis store the state directly as a hash value.
func (s BikeState) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}
