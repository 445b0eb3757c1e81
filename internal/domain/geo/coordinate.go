package geo

import (
	"errors"
	"math"
	"strings"
)

var ErrInvalidCoordinates = errors.New("coordinates out of range")

// Point is a named WGS-84 coordinate pair.
type Point struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Name string  `json:"name,omitempty"`
}

// NewPoint validates and constructs a Point.
func NewPoint(lat, lon float64, name string) (Point, error) {
	if !ValidCoordinates(lat, lon) {
		return Point{}, ErrInvalidCoordinates
	}
	return Point{Lat: lat, Lon: lon, Name: strings.TrimSpace(name)}, nil
}

// ValidCoordinates reports whether lat/lon are inside the valid WGS-84 ranges.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Valid reports whether the point itself is inside the valid ranges.
func (p Point) Valid() bool {
	return ValidCoordinates(p.Lat, p.Lon)
}

// HaversineKM returns the great-circle distance between two coordinates in kilometers.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0 // Earth radius in km
	a1 := lat1 * math.Pi / 180
	a2 := lat2 * math.Pi / 180
	da := (lat2 - lat1) * math.Pi / 180
	db := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(da/2)*math.Sin(da/2) +
		math.Cos(a1)*math.Cos(a2)*math.Sin(db/2)*math.Sin(db/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// DistanceKM returns the distance from p to other in kilometers.
func (p Point) DistanceKM(other Point) float64 {
	return HaversineKM(p.Lat, p.Lon, other.Lat, other.Lon)
}

// EstimateDurationSec estimates travel time for a distance with an average-city-speed heuristic.
func EstimateDurationSec(distanceKM float64) int {
	const avgSpeedKMH = 21.0
	if distanceKM < 0 {
		distanceKM = 0
	}
	sec := int(math.Ceil((distanceKM / avgSpeedKMH) * 3600.0))
	if sec < 60 {
		return 60
	}
	return sec
}
