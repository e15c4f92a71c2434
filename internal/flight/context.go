package flight

import (
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soaringlab/flighttrack/internal/config"
	"github.com/soaringlab/flighttrack/pkg/logger"
)

// ErrEmptyAircraftID is returned when a context is created or attached
// with a blank aircraft identifier.
var ErrEmptyAircraftID = errors.New("flight: aircraft id must not be empty")

// Samples kept per context when memory pressure trimming is on
const minifiedBufferLen = 16

// FlightContext runs the state machine for a single aircraft. All
// mutations happen under the context mutex, so each context is
// single-writer regardless of how many goroutines feed the factory.
type FlightContext struct {
	mu     sync.Mutex
	flight *Flight
	state  State

	cfg    config.TrackingConfig
	logger *logger.Logger

	// sink receives domain events; owned by the factory. Contexts never
	// hold a factory reference, only this function value.
	sink func(Event)

	detector AerotowDetector
	minify   bool

	// Lock-free snapshots so the aerotow detector can inspect other
	// contexts without taking their mutexes (avoids lock-order inversion
	// between concurrently classifying contexts).
	current    atomic.Pointer[PositionUpdate]
	lastActive atomic.Int64 // unix nanos

	arrivalTheory *time.Timer
}

// NewFlightContext creates a context for a single aircraft
func NewFlightContext(aircraftID string, cfg config.TrackingConfig, log *logger.Logger) (*FlightContext, error) {
	if strings.TrimSpace(aircraftID) == "" {
		return nil, ErrEmptyAircraftID
	}
	c := &FlightContext{
		flight: NewFlight(aircraftID),
		state:  StateInitial,
		cfg:    cfg,
		logger: log.Named("context").With(logger.String("aircraft_id", aircraftID)),
	}
	c.lastActive.Store(time.Now().UnixNano())
	return c, nil
}

// NewFlightContextFrom creates a context seeded with externally supplied
// flight metadata. The buffered position updates are adopted as-is and
// normalised to ascending timestamps.
func NewFlightContextFrom(f *Flight, cfg config.TrackingConfig, log *logger.Logger) (*FlightContext, error) {
	if f == nil || strings.TrimSpace(f.AircraftID) == "" {
		return nil, ErrEmptyAircraftID
	}
	c, err := NewFlightContext(f.AircraftID, cfg, log)
	if err != nil {
		return nil, err
	}
	c.flight = f.Clone()
	sort.SliceStable(c.flight.PositionUpdates, func(i, j int) bool {
		return c.flight.PositionUpdates[i].Timestamp.Before(c.flight.PositionUpdates[j].Timestamp)
	})
	if n := len(c.flight.PositionUpdates); n > 0 {
		u := c.flight.PositionUpdates[n-1]
		c.current.Store(&u)
	}
	return c, nil
}

// AircraftID returns the aircraft this context tracks
func (c *FlightContext) AircraftID() string {
	return c.flight.AircraftID
}

// CurrentPosition returns the last consumed report, or nil before the
// first intake. Lock-free.
func (c *FlightContext) CurrentPosition() *PositionUpdate {
	return c.current.Load()
}

// LastActive returns the wall-clock instant of the last enqueue
func (c *FlightContext) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// State returns the current machine state
func (c *FlightContext) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a deep copy of the flight aggregate
func (c *FlightContext) Snapshot() *Flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flight.Clone()
}

func (c *FlightContext) setSink(sink func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

func (c *FlightContext) setDetector(d AerotowDetector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detector = d
}

// enableMinify turns on aggressive buffer trimming and trims immediately
func (c *FlightContext) enableMinify() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minify = true
	c.trimBuffer()
}

// dispose cancels timers and detaches the event sink. Called by the
// factory when the context expires.
func (c *FlightContext) dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelArrivalTheory()
	c.sink = nil
}

// Enqueue consumes position reports for this aircraft. Reports may arrive
// out of order; each is inserted in timestamp order before its handler
// pass. A report whose timestamp is already buffered is a no-op for the
// flight aggregate.
func (c *FlightContext) Enqueue(updates ...PositionUpdate) {
	c.lastActive.Store(time.Now().UnixNano())

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, u := range updates {
		if u.AircraftID != "" && u.AircraftID != c.flight.AircraftID {
			c.logger.Warn("Dropping report for foreign aircraft",
				logger.String("report_aircraft_id", u.AircraftID))
			continue
		}
		u.AircraftID = c.flight.AircraftID

		// Reports from before the anchored departure were dropped on
		// takeoff; replaying one must not resurrect it.
		if c.flight.StartTime != nil && u.Timestamp.Before(*c.flight.StartTime) {
			continue
		}

		if !c.insert(u) {
			continue // duplicate timestamp, idempotent
		}
		stored := u
		c.current.Store(&stored)
		c.process()
	}
}

// insert places u in timestamp order. Returns false for duplicates.
func (c *FlightContext) insert(u PositionUpdate) bool {
	buf := c.flight.PositionUpdates
	i := sort.Search(len(buf), func(i int) bool {
		return !buf[i].Timestamp.Before(u.Timestamp)
	})
	if i < len(buf) && buf[i].Timestamp.Equal(u.Timestamp) {
		return false
	}
	buf = append(buf, PositionUpdate{})
	copy(buf[i+1:], buf[i:])
	buf[i] = u
	c.flight.PositionUpdates = buf
	return true
}

// process runs the current state handler and applies at most one
// fired-trigger re-entry per intake.
func (c *FlightContext) process() {
	trig := c.runHandler()
	if trig == triggerNone {
		return
	}
	if !c.fire(trig) {
		return
	}
	// Arrived ends the flight; only a later sample may start the next one
	if c.state == StateArrived {
		return
	}
	if trig = c.runHandler(); trig != triggerNone {
		c.fire(trig)
	}
}

func (c *FlightContext) runHandler() Trigger {
	switch c.state {
	case StateInitial, StateStationary:
		return c.handleStationary()
	case StateDeparting:
		return c.handleDeparting()
	case StateAerotow:
		return c.handleAerotow()
	case StateCruise:
		return c.handleCruise()
	case StateArriving:
		return c.handleArriving()
	case StateArrived:
		return c.handleArrived()
	}
	return triggerNone
}

// fire applies a trigger to the transition table. Undefined combinations
// are ignored.
func (c *FlightContext) fire(t Trigger) bool {
	next, ok := nextState(c.state, t)
	if !ok {
		c.logger.Debug("Ignoring trigger with no transition",
			logger.String("state", c.state.String()),
			logger.String("trigger", t.String()))
		return false
	}

	c.logger.Debug("State transition",
		logger.String("from", c.state.String()),
		logger.String("trigger", t.String()),
		logger.String("to", next.String()))

	c.state = next

	switch next {
	case StateArrived:
		c.onArrived()
	case StateCruise:
		if c.minify {
			c.trimBuffer()
		}
	}

	return true
}

// onArrived finalises the flight once the machine reaches its terminal
// state: pending timers are cancelled and missing arrival data is
// reported through CompletedWithErrors.
func (c *FlightContext) onArrived() {
	c.cancelArrivalTheory()
	if c.minify {
		c.trimBuffer()
	}

	var reasons []CompletionReason
	if c.flight.ArrivalLocation == nil {
		reasons = append(reasons, ReasonArrivalLocationUnknown)
	}
	if c.flight.ArrivalHeading == 0 {
		reasons = append(reasons, ReasonArrivalHeadingUnknown)
	}
	if len(reasons) > 0 {
		c.emit(EventCompletedWithErrors, reasons...)
	}
}

// emit publishes an event with a deep flight snapshot. Caller holds the
// context mutex.
func (c *FlightContext) emit(t EventType, reasons ...CompletionReason) {
	if c.sink == nil {
		return
	}
	ts := time.Now().UTC()
	if cur := c.current.Load(); cur != nil && t != EventContextDisposed {
		ts = cur.Timestamp
	}
	c.sink(Event{
		Type:       t,
		AircraftID: c.flight.AircraftID,
		Timestamp:  ts,
		Flight:     c.flight.Clone(),
		Reasons:    reasons,
	})
}

// dropBefore discards buffered samples strictly earlier than t
func (c *FlightContext) dropBefore(t time.Time) {
	buf := c.flight.PositionUpdates
	i := sort.Search(len(buf), func(i int) bool {
		return !buf[i].Timestamp.Before(t)
	})
	if i > 0 {
		c.flight.PositionUpdates = append(buf[:0], buf[i:]...)
	}
}

// trimBuffer keeps only the newest samples. During intake it runs on
// entering Cruise or Arrived, once launch classification has settled;
// enableMinify (used by Attach) also trims once, in whatever state the
// context is in.
func (c *FlightContext) trimBuffer() {
	buf := c.flight.PositionUpdates
	if len(buf) > minifiedBufferLen {
		c.flight.PositionUpdates = append(buf[:0], buf[len(buf)-minifiedBufferLen:]...)
	}
}

// cancelArrivalTheory stops a pending finalize-arrival timer
func (c *FlightContext) cancelArrivalTheory() {
	if c.arrivalTheory != nil {
		c.arrivalTheory.Stop()
		c.arrivalTheory = nil
	}
}

// scheduleArrivalTheory arms the finalize-arrival timer. When no further
// report arrives, the ripened theory is promoted to a final landing.
func (c *FlightContext) scheduleArrivalTheory(d time.Duration) {
	c.cancelArrivalTheory()
	c.arrivalTheory = time.AfterFunc(d, c.arrivalTheoryRipened)
}

func (c *FlightContext) arrivalTheoryRipened() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateArriving || c.flight.ArrivalInfo != InfoEstimated {
		return
	}

	c.logger.Info("Arrival theory ripened without further contact",
		logger.Time("estimated_end", derefTime(c.flight.EndTime)))

	c.emit(EventLanding)
	c.fire(TriggerArrived)
}

// resetForNewFlight prepares the context for a subsequent flight of the
// same aircraft. The current sample seeds the fresh buffer.
func (c *FlightContext) resetForNewFlight() {
	cur := c.current.Load()
	c.cancelArrivalTheory()
	c.flight = NewFlight(c.flight.AircraftID)
	if cur != nil {
		c.flight.PositionUpdates = []PositionUpdate{*cur}
	}
	c.state = StateInitial
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// moving reports whether the sample's speed is above the moving threshold
func (c *FlightContext) moving(u *PositionUpdate) bool {
	return !math.IsNaN(u.Speed) && u.Speed > c.cfg.MovingSpeedKts
}
