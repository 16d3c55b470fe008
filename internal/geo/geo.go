// Package geo は地理座標の計算を提供する。
package geo

import "math"

// EarthRadiusKm は平均地球半径（km）。
const EarthRadiusKm = 6371.0088

// KmPerMile は1マイルあたりのkm。
const KmPerMile = 1.609344

// HaversineKm は2点間の大円距離（km）を返す。
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Asin(math.Min(1, math.Sqrt(a)))
	return EarthRadiusKm * c
}

// KmToMiles はkmをマイルに換算する。
func KmToMiles(km float64) float64 {
	return km / KmPerMile
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
