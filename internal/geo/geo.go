package geo

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// Constants
const (
	EarthRadiusM = 6371000.0 // Mean Earth radius in meters
	MetersPerNM  = 1852.0    // Meters per nautical mile
	FeetPerMeter = 3.28084   // Feet per meter
	KnotsToMs    = 0.514444  // Conversion factor from knots to m/s
	MsToKnots    = 1.94384   // Conversion factor from m/s to knots
)

// Point is a WGS84 position in decimal degrees
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Distance calculates the great-circle distance in meters between two points
func Distance(a, b Point) float64 {
	rad := math.Pi / 180.0

	lat1 := a.Latitude * rad
	lat2 := b.Latitude * rad
	dlat := (b.Latitude - a.Latitude) * rad
	dlon := (b.Longitude - a.Longitude) * rad

	h := math.Pow(math.Sin(dlat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dlon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusM * c
}

// Bearing calculates the initial bearing in degrees from one point to another.
// Returns a value between 0 and 360 degrees (0 = North, 90 = East).
func Bearing(from, to Point) float64 {
	rad := math.Pi / 180.0

	lat1 := from.Latitude * rad
	lat2 := to.Latitude * rad
	dlon := (to.Longitude - from.Longitude) * rad

	y := math.Sin(dlon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dlon)
	bearing := math.Atan2(y, x) * 180.0 / math.Pi

	return math.Mod(bearing+360.0, 360.0)
}

// HeadingError returns the smallest absolute difference between two headings
// on the circle, in degrees within [0, 180].
func HeadingError(reference, sample float64) float64 {
	diff := math.Abs(math.Mod(reference, 360) - math.Mod(sample, 360))
	if diff > 180 {
		diff = 360 - diff
	}
	return diff
}

// NormalizeHeading rounds a heading to the nearest integer degree in [1, 360].
// A computed 0 maps to 360 so that 0 stays reserved as "unset".
func NormalizeHeading(heading float64) int {
	h := int(math.Round(math.Mod(heading, 360)))
	if h <= 0 {
		h += 360
	}
	return h
}

// MetersToNM converts meters to nautical miles
func MetersToNM(meters float64) float64 {
	return meters / MetersPerNM
}

// MetersToFeet converts meters to feet
func MetersToFeet(meters float64) float64 {
	return meters * FeetPerMeter
}

// MagneticDeclination calculates the magnetic declination for a position,
// altitude (meters) and time. Returns degrees (+East, -West), or 0 if the
// model evaluation fails.
func MagneticDeclination(p Point, altM float64, date time.Time) float64 {
	loc := egm96.NewLocationGeodetic(p.Latitude, p.Longitude, altM)

	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		return 0.0
	}

	return mag.D()
}

// TrueToMagnetic converts a true heading to a magnetic heading given the
// local declination. The result stays within [0, 360).
func TrueToMagnetic(trueHeading, declination float64) float64 {
	return math.Mod(trueHeading-declination+360.0, 360.0)
}
