package model

import "testing"

func TestParseSnapshot(t *testing.T) {
	raw := []byte(`{
		"countries": [{
			"cities": [{
				"places": [
					{"uid": 42, "lat": 47.5, "lng": 19.0, "name": "Deak ter", "spot": true,
					 "bike_list": [{"number": "123456"}, {"number": "654321"}]},
					{"uid": 43, "lat": 47.6, "lng": 19.1, "name": "floating", "spot": false, "bike_list": []}
				]
			}]
		}]
	}`)

	snap, err := ParseSnapshot(raw)
	if err != nil {
		t.Fatalf("ParseSnapshot: %v", err)
	}
	places := snap.Countries[0].Cities[0].Places
	if len(places) != 2 {
		t.Fatalf("expected 2 places, got %d", len(places))
	}
	if places[0].UID != 42 || !places[0].Spot || places[0].Name != "Deak ter" {
		t.Errorf("unexpected place: %+v", places[0])
	}
	if len(places[0].BikeList) != 2 || places[0].BikeList[0].Number != "123456" {
		t.Errorf("unexpected bike list: %+v", places[0].BikeList)
	}
	if places[1].Spot {
		t.Errorf("spot flag lost: %+v", places[1])
	}
}

func TestParseSnapshotRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"uid as string", `{"countries":[{"cities":[{"places":[{"uid":"abc","lat":1,"lng":2,"name":"x","spot":true,"bike_list":[]}]}]}]}`},
		{"lat as string", `{"countries":[{"cities":[{"places":[{"uid":1,"lat":"x","lng":2,"name":"x","spot":true,"bike_list":[]}]}]}]}`},
		{"truncated json", `{"countries":[`},
		{"wrong top-level type", `[1,2,3]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseSnapshot([]byte(tc.raw)); err == nil {
				t.Error("expected schema error")
			}
		})
	}
}

func TestParseSnapshotEmptyIsValid(t *testing.T) {
	snap, err := ParseSnapshot([]byte(`{"countries":[]}`))
	if err != nil {
		t.Fatalf("ParseSnapshot: %v", err)
	}
	if len(snap.Countries) != 0 {
		t.Errorf("expected empty snapshot, got %+v", snap)
	}
}
