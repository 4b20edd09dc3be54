package alarm

import (
	"math"

	"moto-alarm/ingestion/internal/domain"
)

// metersPerDegree is the length of one degree of latitude at the equator.
const metersPerDegree = 111139

// Distance approximates the distance in meters between two locations by
// treating degrees as planar. Good enough for tens to low hundreds of
// meters at moderate latitudes; wrong for long range or near the poles.
// Returns 0 when either side lacks a latitude or longitude.
func Distance(a, b *domain.Location) float64 {
	if !a.HasCoordinates() || !b.HasCoordinates() {
		return 0
	}
	dLat := *b.Latitude - *a.Latitude
	dLon := *b.Longitude - *a.Longitude
	return math.Sqrt(dLat*dLat+dLon*dLon) * metersPerDegree
}
