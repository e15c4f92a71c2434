package flight

import (
	"math"
	"time"

	"github.com/soaringlab/flighttrack/internal/geo"
)

// AerotowDetector finds candidate tow pairings for a context. The caller
// holds the context's mutex, so implementations must only read lock-free
// snapshots (CurrentPosition, AircraftID) of the given context and of
// other contexts; locking another context could deadlock against that
// context's own classification.
type AerotowDetector interface {
	Encounters(c *FlightContext) []Encounter
}

// ContextSource supplies the tracked contexts a detector may pair
// against. The factory implements it.
type ContextSource interface {
	Contexts() []*FlightContext
}

// NearbyDetector pairs aircraft that climb out together: close laterally
// and vertically, with position reports from the same instant, both above
// the moving threshold. Whichever aircraft sits ahead on the other's
// course is taken for the tug.
type NearbyDetector struct {
	source ContextSource

	MaxSeparationM float64       // lateral pairing distance (default: 200)
	MaxAltDiffM    float64       // vertical pairing distance (default: 50)
	MaxTimeSkew    time.Duration // report timestamp tolerance (default: 10s)
	AheadConeDeg   float64       // half-angle of the "ahead" cone (default: 60)
}

// NewNearbyDetector creates a detector with default pairing thresholds
func NewNearbyDetector(source ContextSource) *NearbyDetector {
	return &NearbyDetector{
		source:         source,
		MaxSeparationM: 200,
		MaxAltDiffM:    50,
		MaxTimeSkew:    10 * time.Second,
		AheadConeDeg:   60,
	}
}

// Encounters returns tow pairings for the given context, nearest first
func (d *NearbyDetector) Encounters(c *FlightContext) []Encounter {
	cur := c.CurrentPosition()
	if cur == nil {
		return nil
	}

	var out []Encounter
	var dists []float64 // parallel to out, ascending
	for _, other := range d.source.Contexts() {
		if other == c || other.AircraftID() == c.AircraftID() {
			continue
		}

		p := other.CurrentPosition()
		if p == nil {
			continue
		}

		skew := cur.Timestamp.Sub(p.Timestamp)
		if skew < 0 {
			skew = -skew
		}
		if skew > d.MaxTimeSkew {
			continue
		}
		if math.Abs(cur.Altitude-p.Altitude) > d.MaxAltDiffM {
			continue
		}
		dist := geo.Distance(cur.Location(), p.Location())
		if dist > d.MaxSeparationM {
			continue
		}

		// insert so the result stays ordered nearest first
		i := len(out)
		for i > 0 && dists[i-1] > dist {
			i--
		}
		out = append(out, Encounter{})
		copy(out[i+1:], out[i:])
		out[i] = Encounter{
			AircraftID: other.AircraftID(),
			Type:       d.role(cur, p),
			Start:      earlier(cur.Timestamp, p.Timestamp),
		}
		dists = append(dists, 0)
		copy(dists[i+1:], dists[i:])
		dists[i] = dist
	}
	return out
}

// role decides who tows whom: a partner inside the ahead-cone on our own
// course is pulling us.
func (d *NearbyDetector) role(cur, partner *PositionUpdate) EncounterType {
	if !cur.hasHeading() {
		return EncounterTow
	}
	bearing := geo.Bearing(cur.Location(), partner.Location())
	if geo.HeadingError(cur.Heading, bearing) <= d.AheadConeDeg {
		return EncounterTug
	}
	return EncounterTow
}

func earlier(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
