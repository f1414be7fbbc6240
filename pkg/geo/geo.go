package geo

import "math"

// earthRadiusMeters is the mean earth radius used for haversine distance.
const earthRadiusMeters = 6371000.0

// Distance returns the great-circle distance in meters between two
// coordinates using the haversine formula. The same function backs both
// geometry validation and violation detection so results stay reproducible.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// WithinRadius reports whether (lat, lng) lies inside or on the circle
// centered at (centerLat, centerLng). The boundary counts as inside.
func WithinRadius(centerLat, centerLng, lat, lng, radiusMeters float64) bool {
	return Distance(centerLat, centerLng, lat, lng) <= radiusMeters
}

// ValidCoordinates reports whether a lat/lng pair is a plausible WGS84 fix.
func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
