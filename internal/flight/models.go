package flight

import (
	"math"
	"strings"
	"time"

	"github.com/soaringlab/flighttrack/internal/geo"
)

// PositionUpdate is a single immutable position report for one aircraft.
// Speed is in knots and Heading in degrees 0-360; either may be NaN when
// the source did not supply it, and a heading of 0 doubles as "unknown
// while at rest".
type PositionUpdate struct {
	AircraftID string    `json:"aircraft_id"`
	Timestamp  time.Time `json:"timestamp"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"` // meters
	Speed      float64   `json:"speed"`    // knots
	Heading    float64   `json:"heading"`  // degrees, 0 = unknown at rest
}

// Location returns the report position as a geo.Point
func (u PositionUpdate) Location() geo.Point {
	return geo.Point{Latitude: u.Latitude, Longitude: u.Longitude}
}

// hasHeading reports whether the sample carries a usable heading
func (u PositionUpdate) hasHeading() bool {
	return u.Heading != 0 && !math.IsNaN(u.Heading)
}

// InfoStatus is the tri-state confidence attached to departure and
// arrival data.
type InfoStatus uint8

const (
	InfoNone InfoStatus = iota
	InfoEstimated
	InfoConfirmed
)

func (s InfoStatus) String() string {
	switch s {
	case InfoEstimated:
		return "estimated"
	case InfoConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// LaunchMethod is a bitflag set describing how a flight got airborne.
// Before classification it carries the full candidate set; once classified
// it holds exactly one of Aerotow, Winch or Self, with Aerotow further
// qualified by OnTow or TowPlane.
type LaunchMethod uint8

const (
	LaunchNone     LaunchMethod = 0
	LaunchUnknown  LaunchMethod = 1 << 0
	LaunchAerotow  LaunchMethod = 1 << 1
	LaunchWinch    LaunchMethod = 1 << 2
	LaunchSelf     LaunchMethod = 1 << 3
	LaunchOnTow    LaunchMethod = 1 << 4
	LaunchTowPlane LaunchMethod = 1 << 5
)

// candidateSet is the initial set promoted once a departure heading is known
const candidateSet = LaunchUnknown | LaunchAerotow | LaunchWinch | LaunchSelf

// Has reports whether all bits of m are set
func (l LaunchMethod) Has(m LaunchMethod) bool {
	return l&m == m
}

// Clear returns l with the bits of m removed
func (l LaunchMethod) Clear(m LaunchMethod) LaunchMethod {
	return l &^ m
}

func (l LaunchMethod) String() string {
	if l == LaunchNone {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		bit  LaunchMethod
		name string
	}{
		{LaunchUnknown, "unknown"},
		{LaunchAerotow, "aerotow"},
		{LaunchWinch, "winch"},
		{LaunchSelf, "self"},
		{LaunchOnTow, "on-tow"},
		{LaunchTowPlane, "tow-plane"},
	} {
		if l.Has(f.bit) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

// EncounterType classifies the role of the other aircraft in a pairing
type EncounterType uint8

const (
	EncounterNone EncounterType = iota
	EncounterTug                // the other aircraft is towing us
	EncounterTow                // the other aircraft is being towed by us
)

func (t EncounterType) String() string {
	switch t {
	case EncounterTug:
		return "tug"
	case EncounterTow:
		return "tow"
	default:
		return "none"
	}
}

// Encounter records a tow pairing with another tracked aircraft
type Encounter struct {
	AircraftID string        `json:"aircraft_id"` // the other aircraft
	Type       EncounterType `json:"type"`
	Start      time.Time     `json:"start"`
	End        *time.Time    `json:"end,omitempty"`
}

// Flight is the mutable per-aircraft aggregate built up by the state
// machine. EndTime may hold an estimate while ArrivalInfo is estimated;
// headings are integer degrees in [1, 360] with 0 reserved as "unset".
type Flight struct {
	AircraftID        string           `json:"aircraft_id"`
	StartTime         *time.Time       `json:"start_time,omitempty"`
	EndTime           *time.Time       `json:"end_time,omitempty"`
	DepartureLocation *geo.Point       `json:"departure_location,omitempty"`
	ArrivalLocation   *geo.Point       `json:"arrival_location,omitempty"`
	DepartureHeading  int              `json:"departure_heading,omitempty"`
	ArrivalHeading    int              `json:"arrival_heading,omitempty"`
	DepartureInfo     InfoStatus       `json:"departure_info"`
	ArrivalInfo       InfoStatus       `json:"arrival_info"`
	LaunchMethod      LaunchMethod     `json:"launch_method"`
	LaunchFinished    *time.Time       `json:"launch_finished,omitempty"`
	Encounters        []Encounter      `json:"encounters,omitempty"`
	PositionUpdates   []PositionUpdate `json:"position_updates,omitempty"`
}

// NewFlight creates an empty flight aggregate for an aircraft
func NewFlight(aircraftID string) *Flight {
	return &Flight{AircraftID: aircraftID}
}

// Clone returns a deep copy of the flight. Event payloads carry clones so
// subscribers can never observe later mutations.
func (f *Flight) Clone() *Flight {
	if f == nil {
		return nil
	}
	c := *f
	c.StartTime = cloneTime(f.StartTime)
	c.EndTime = cloneTime(f.EndTime)
	c.LaunchFinished = cloneTime(f.LaunchFinished)
	if f.DepartureLocation != nil {
		p := *f.DepartureLocation
		c.DepartureLocation = &p
	}
	if f.ArrivalLocation != nil {
		p := *f.ArrivalLocation
		c.ArrivalLocation = &p
	}
	if f.Encounters != nil {
		c.Encounters = make([]Encounter, len(f.Encounters))
		copy(c.Encounters, f.Encounters)
		for i := range c.Encounters {
			c.Encounters[i].End = cloneTime(f.Encounters[i].End)
		}
	}
	if f.PositionUpdates != nil {
		c.PositionUpdates = make([]PositionUpdate, len(f.PositionUpdates))
		copy(c.PositionUpdates, f.PositionUpdates)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
