package admission

import "math"

const earthRadiusMeters = 6371000

// distanceMeters returns the great-circle distance between two coordinates
// using the haversine formula.
func distanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// Contains reports whether the coordinate lies within the fence radius.
func (g Geofence) Contains(lat, lng float64) bool {
	return distanceMeters(lat, lng, g.Latitude, g.Longitude) <= g.RadiusMeters
}
