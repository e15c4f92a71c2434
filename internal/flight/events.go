package flight

import "time"

// EventType identifies a domain event produced by a flight context
type EventType uint8

const (
	EventTakeoff EventType = iota
	EventLanding
	EventRadarContact
	EventLaunchCompleted
	EventCompletedWithErrors
	EventContextDisposed
	eventTypeCount // must be last
)

var eventTypeNames = [eventTypeCount]string{
	EventTakeoff:             "takeoff",
	EventLanding:             "landing",
	EventRadarContact:        "radar_contact",
	EventLaunchCompleted:     "launch_completed",
	EventCompletedWithErrors: "completed_with_errors",
	EventContextDisposed:     "context_disposed",
}

func (t EventType) String() string {
	if t < eventTypeCount {
		return eventTypeNames[t]
	}
	return "unknown"
}

// CompletionReason explains why a flight completed with errors
type CompletionReason string

const (
	ReasonArrivalLocationUnknown CompletionReason = "arrival_location_unknown"
	ReasonArrivalHeadingUnknown  CompletionReason = "arrival_heading_unknown"
)

// Event is the payload delivered to factory subscribers. Flight is a deep
// snapshot taken at the moment the event fired; the Timestamp is the
// sample time that produced the event, except for ContextDisposed which
// carries the disposal wall-clock time.
type Event struct {
	Type       EventType          `json:"type"`
	AircraftID string             `json:"aircraft_id"`
	Timestamp  time.Time          `json:"timestamp"`
	Flight     *Flight            `json:"flight,omitempty"`
	Reasons    []CompletionReason `json:"reasons,omitempty"`
}

// EventHandler consumes events from a factory stream
type EventHandler func(Event)
