package geo

import "github.com/golang/geo/s2"

// EarthRadiusKM is the Earth's mean radius in kilometers.
const EarthRadiusKM = 6371.0

// DistanceKM returns the great-circle distance in kilometers between two
// points given in degrees.
func DistanceKM(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lng1)
	p2 := s2.LatLngFromDegrees(lat2, lng2)
	return p1.Distance(p2).Radians() * EarthRadiusKM
}
