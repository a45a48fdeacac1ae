// README: Pure geographic helpers: great-circle distance and nearest-first ordering.
package location

import (
	"math"

	"quickassist/internal/types"
)

// EarthRadiusKm is the mean spherical radius used for every distance in the system.
const EarthRadiusKm = 6371.0

// DistanceKm returns the haversine distance in kilometres between two points given in degrees.
func DistanceKm(a, b types.Point) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push h a hair above 1 for antipodal points.
	if h > 1 {
		h = 1
	}
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// SortByDistance orders items nearest first. The sort is stable, so callers that
// pre-sort by id keep id order among equal distances.
func SortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
