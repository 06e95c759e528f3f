// Package geo computes great-circle distances between outlet coordinates.
package geo

import (
	"math"
	"strconv"

	"github.com/j5272000/campus-imaotai/internal/errs"
)

// earthRadiusMeters is the WGS84 semi-major axis.
const earthRadiusMeters = 6378137.0

// Point is a geocoordinate in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// ParsePoint parses latitude/longitude strings as they appear on accounts
// and outlet rows.
func ParsePoint(lat, lng string) (Point, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return Point{}, errs.Wrap(err, "parse latitude")
	}
	ln, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return Point{}, errs.Wrap(err, "parse longitude")
	}
	return Point{Lat: la, Lng: ln}, nil
}

// Distance returns the haversine great-circle distance between a and b in
// meters.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat1 - lat2
	dLng := (a.Lng - b.Lng) * math.Pi / 180

	h := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dLng/2), 2)
	return 2 * math.Asin(math.Sqrt(h)) * earthRadiusMeters
}
