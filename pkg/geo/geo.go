// Package geo provides great-circle distance computation shared by the
// server-side ranking and any client that wants to display distances.
// Both must use the same formula and Earth radius or the numbers skew.
package geo

import "math"

// earthRadiusKm is the mean Earth radius used by the haversine formula.
const earthRadiusKm = 6371.0

// DistanceKm returns the haversine distance in kilometers between two
// points given in decimal degrees. The function is pure and total:
// out-of-range degrees produce nonsensical but non-crashing results.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	latDistance := radians(lat2 - lat1)
	lonDistance := radians(lon2 - lon1)

	a := math.Sin(latDistance/2)*math.Sin(latDistance/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(lonDistance/2)*math.Sin(lonDistance/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func radians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
