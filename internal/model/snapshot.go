package model

import (
	"encoding/json"
	"fmt"
)

// Snapshot is one full poll of the provider's live map: every station and
// the bikes docked at it, at a single instant.
type Snapshot struct {
	Countries []Country `json:"countries"`
}

type Country struct {
	Cities []City `json:"cities"`
}

type City struct {
	Places []Place `json:"places"`
}

// Place is a location as reported upstream. Spot distinguishes genuine
// docking stations from free-floating groups; only spots are tracked.
type Place struct {
	UID      int64   `json:"uid"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Name     string  `json:"name"`
	Spot     bool    `json:"spot"`
	BikeList []Bike  `json:"bike_list"`
}

type Bike struct {
	Number string `json:"number"`
}

// ParseSnapshot decodes and validates a raw snapshot payload. Any type
// mismatch (e.g. a non-numeric uid) is a schema error; callers treat that
// as a poison message rather than retrying.
func ParseSnapshot(raw []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
