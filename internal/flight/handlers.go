package flight

import (
	"math"
	"time"

	"github.com/soaringlab/flighttrack/internal/geo"
	"github.com/soaringlab/flighttrack/pkg/logger"
)

// Number of heading samples averaged for departure and arrival headings
const headingSampleCount = 5

// handleStationary covers Initial and Stationary. It waits for the
// aircraft to start moving, anchors the departure time, and distinguishes
// a rolling takeoff from an aircraft first seen mid-flight.
func (c *FlightContext) handleStationary() Trigger {
	if c.state == StateInitial {
		c.state = StateStationary
	}

	cur := c.current.Load()
	if cur == nil || !c.moving(cur) {
		return triggerNone
	}

	f := c.flight

	// Latest buffered sample at rest before the current one
	var anchor *PositionUpdate
	buf := f.PositionUpdates
	for i := len(buf) - 1; i >= 0; i-- {
		s := &buf[i]
		if !s.Timestamp.Before(cur.Timestamp) {
			continue
		}
		if s.Speed == 0 || math.IsNaN(s.Speed) {
			anchor = s
			break
		}
	}

	switch {
	case anchor != nil:
		st := anchor.Timestamp
		f.StartTime = &st
		f.DepartureInfo = InfoEstimated
		c.dropBefore(st)
		c.logger.Info("Takeoff detected",
			logger.Time("start_time", st),
			logger.Float64("speed_kts", cur.Speed))
		c.emit(EventTakeoff)

	case cur.Altitude > c.cfg.AirborneAltitudeM:
		// Already airborne when first seen
		f.DepartureInfo = InfoEstimated
		c.logger.Info("Radar contact with airborne aircraft",
			logger.Float64("altitude_m", cur.Altitude),
			logger.Float64("speed_kts", cur.Speed))
		c.emit(EventRadarContact)

	default:
		st := cur.Timestamp
		f.StartTime = &st
		f.DepartureInfo = InfoEstimated
		c.dropBefore(st)
		c.logger.Info("Takeoff detected on first moving sample",
			logger.Time("start_time", st))
		c.emit(EventTakeoff)
	}

	return TriggerDepart
}

// handleDeparting classifies the launch method
func (c *FlightContext) handleDeparting() Trigger {
	f := c.flight
	cur := c.current.Load()
	if cur == nil {
		return triggerNone
	}

	// Heading acquisition
	if f.LaunchMethod == LaunchNone {
		samples := c.earliestWithHeading(headingSampleCount)
		if len(samples) < headingSampleCount {
			return triggerNone
		}
		var sum float64
		for _, s := range samples {
			sum += s.Heading
		}
		f.DepartureHeading = geo.NormalizeHeading(sum / float64(len(samples)))
		loc := samples[0].Location()
		f.DepartureLocation = &loc
		f.LaunchMethod = candidateSet

		c.logger.Debug("Departure heading acquired",
			logger.Int("heading", f.DepartureHeading))
	}

	// Debounce: give the launch time to develop before classifying
	if f.StartTime != nil {
		if first := c.firstMovingSample(); first != nil {
			debounce := time.Duration(c.cfg.DepartureDebounceSecs) * time.Second
			if cur.Timestamp.Sub(first.Timestamp) < debounce {
				return triggerNone
			}
		}
	}

	// Aerotow probe
	if f.LaunchMethod.Has(LaunchUnknown | LaunchAerotow) {
		if enc, ok := c.probeAerotow(); ok {
			if enc.Type == EncounterTug {
				f.LaunchMethod = LaunchAerotow | LaunchOnTow
			} else {
				f.LaunchMethod = LaunchAerotow | LaunchTowPlane
			}
			f.Encounters = append(f.Encounters, enc)

			c.logger.Info("Aerotow detected",
				logger.String("partner", enc.AircraftID),
				logger.String("role", enc.Type.String()))
			return TriggerTrackAerotow
		}
		f.LaunchMethod = f.LaunchMethod.Clear(LaunchAerotow)
	}

	// Sink check: losing altitude during departure means the launch was
	// aborted and the aircraft is coming back down.
	if !f.LaunchMethod.Has(LaunchAerotow) {
		if prev := c.sampleBefore(cur.Timestamp); prev != nil {
			if prev.Altitude > cur.Altitude+c.cfg.SinkThresholdM {
				c.logger.Info("Departure aborted, aircraft descending",
					logger.Float64("altitude_m", cur.Altitude))
				return TriggerLanding
			}
		}
	}

	// Winch classification
	if f.LaunchMethod.Has(LaunchUnknown|LaunchWinch) && f.StartTime != nil {
		return c.classifyWinch(cur)
	}

	// Self-launch fallback
	if f.LaunchMethod.Has(LaunchUnknown | LaunchSelf) {
		lf := cur.Timestamp
		f.LaunchFinished = &lf
		f.LaunchMethod = LaunchSelf
		c.logger.Info("Launch classified", logger.String("method", "self"))
		c.emit(EventLaunchCompleted)
		return TriggerLaunchCompleted
	}

	return triggerNone
}

// classifyWinch fits the climb profile and decides whether it matches a
// winch launch: a short straight ballistic climb that has just ended.
func (c *FlightContext) classifyWinch(cur *PositionUpdate) Trigger {
	f := c.flight
	start := *f.StartTime

	var xs, ys []float64
	for i := range f.PositionUpdates {
		s := &f.PositionUpdates[i]
		if s.Timestamp.Before(start) {
			continue
		}
		xs = append(xs, s.Timestamp.Sub(start).Seconds())
		ys = append(ys, s.Altitude)
	}

	spline, err := geo.NewCubicSpline(xs, ys)
	if err != nil {
		return triggerNone // not enough data yet
	}

	if spline.Slope(cur.Timestamp.Sub(start).Seconds()) >= 0 {
		return triggerNone // still climbing
	}

	// Climb has ended. A winch launch is straight and short.
	var sum float64
	var count int
	for i := range f.PositionUpdates {
		if f.PositionUpdates[i].hasHeading() {
			sum += f.PositionUpdates[i].Heading
			count++
		}
	}
	if count == 0 {
		return triggerNone
	}
	mean := sum / float64(count)

	rejected := false
	for i := range f.PositionUpdates {
		s := &f.PositionUpdates[i]
		if s.hasHeading() && geo.HeadingError(mean, s.Heading) > c.cfg.WinchHeadingToleranceDeg {
			rejected = true
			break
		}
	}
	if !rejected && len(f.PositionUpdates) > 0 {
		run := geo.Distance(f.PositionUpdates[0].Location(), cur.Location())
		if run > c.cfg.WinchMaxDistanceM {
			rejected = true
		}
	}

	if rejected {
		f.LaunchMethod = f.LaunchMethod.Clear(LaunchWinch)
		c.logger.Debug("Winch launch ruled out")
		return triggerNone
	}

	lf := cur.Timestamp
	f.LaunchFinished = &lf
	f.LaunchMethod = LaunchWinch
	c.logger.Info("Launch classified", logger.String("method", "winch"))
	c.emit(EventLaunchCompleted)
	return TriggerLaunchCompleted
}

// handleAerotow tracks an ongoing tow and completes the launch once the
// pairing dissolves.
func (c *FlightContext) handleAerotow() Trigger {
	f := c.flight
	cur := c.current.Load()
	if cur == nil || len(f.Encounters) == 0 {
		return triggerNone
	}

	partner := f.Encounters[len(f.Encounters)-1].AircraftID

	if enc, ok := c.probeAerotow(); ok && enc.AircraftID == partner {
		return triggerNone // still on tow
	}

	// Tow released
	end := cur.Timestamp
	f.Encounters[len(f.Encounters)-1].End = &end
	f.LaunchFinished = &end

	c.logger.Info("Tow released",
		logger.String("partner", partner),
		logger.Float64("altitude_m", cur.Altitude))
	c.emit(EventLaunchCompleted)
	return TriggerLaunchCompleted
}

// probeAerotow consults the detector for a tow pairing. Caller holds the
// context mutex; the detector must only touch this context's lock-free
// snapshots.
func (c *FlightContext) probeAerotow() (Encounter, bool) {
	if c.detector == nil {
		return Encounter{}, false
	}
	for _, enc := range c.detector.Encounters(c) {
		if enc.Type == EncounterTug || enc.Type == EncounterTow {
			return enc, true
		}
	}
	return Encounter{}, false
}

// handleCruise watches for the beginning of a landing: a sustained
// descent at low altitude, or wheels already down.
func (c *FlightContext) handleCruise() Trigger {
	cur := c.current.Load()
	if cur == nil {
		return triggerNone
	}

	if cur.Altitude > c.cfg.CruiseLowAltitudeM {
		return triggerNone
	}

	if cur.Speed == 0 {
		return TriggerLanding
	}

	buf := c.flight.PositionUpdates
	if len(buf) < 3 {
		return triggerNone
	}
	recent := buf[len(buf)-3:]
	if recent[0].Altitude > recent[1].Altitude && recent[1].Altitude > recent[2].Altitude {
		c.logger.Debug("Sustained descent at low altitude",
			logger.Float64("altitude_m", cur.Altitude))
		return TriggerLanding
	}

	return triggerNone
}

// handleArriving estimates and finalises the arrival
func (c *FlightContext) handleArriving() Trigger {
	c.cancelArrivalTheory()

	f := c.flight
	cur := c.current.Load()
	if cur == nil {
		return triggerNone
	}

	if cur.Altitude > c.cfg.ArrivalAbortAltitudeM {
		c.logger.Info("Landing aborted, aircraft climbing away",
			logger.Float64("altitude_m", cur.Altitude))
		return TriggerLandingAborted
	}

	recent := c.latestWithHeading(headingSampleCount)
	if len(recent) == 0 {
		return triggerNone
	}
	var sum float64
	for _, s := range recent {
		sum += s.Heading
	}
	meanHeading := sum / float64(len(recent))

	// Wheels down
	if cur.Speed == 0 {
		et := cur.Timestamp
		f.EndTime = &et
		f.ArrivalInfo = InfoConfirmed
		f.ArrivalHeading = geo.NormalizeHeading(meanHeading)
		loc := recent[len(recent)-1].Location()
		f.ArrivalLocation = &loc

		c.logger.Info("Landing confirmed",
			logger.Time("end_time", et),
			logger.Int("heading", f.ArrivalHeading))
		c.emit(EventLanding)
		return TriggerArrived
	}

	// A previously estimated arrival has ripened
	ripen := time.Duration(c.cfg.ArrivalTheoryRipenSecs) * time.Second
	if f.ArrivalInfo == InfoEstimated && f.EndTime != nil && cur.Timestamp.After(f.EndTime.Add(ripen)) {
		c.logger.Info("Estimated arrival finalised",
			logger.Time("end_time", *f.EndTime))
		c.emit(EventLanding)
		return TriggerArrived
	}

	// Estimate time until arrival from the running climb rate
	rate := c.meanClimbRate()
	if rate == 0 {
		return triggerNone
	}
	etua := cur.Altitude / math.Abs(rate)
	if math.IsInf(etua, 0) || math.IsNaN(etua) || etua > float64(c.cfg.ArrivalMaxETUASecs) {
		return triggerNone
	}

	et := cur.Timestamp.Add(time.Duration(etua * float64(time.Second)))
	f.EndTime = &et
	f.ArrivalInfo = InfoEstimated
	f.ArrivalHeading = geo.NormalizeHeading(meanHeading)

	c.logger.Debug("Arrival estimated",
		logger.Time("end_time", et),
		logger.Float64("etua_seconds", etua))

	c.scheduleArrivalTheory(time.Duration(etua*float64(time.Second)) + ripen)
	return triggerNone
}

// handleArrived is terminal for the flight. The next moving sample starts
// a fresh flight for the same aircraft.
func (c *FlightContext) handleArrived() Trigger {
	cur := c.current.Load()
	if cur == nil || !c.moving(cur) {
		return triggerNone
	}
	c.logger.Info("Aircraft moving again, starting new flight")
	c.resetForNewFlight()
	return c.handleStationary()
}

// earliestWithHeading returns the up-to-n earliest buffered samples with
// a usable heading, in chronological order.
func (c *FlightContext) earliestWithHeading(n int) []PositionUpdate {
	var out []PositionUpdate
	for _, s := range c.flight.PositionUpdates {
		if s.hasHeading() {
			out = append(out, s)
			if len(out) == n {
				break
			}
		}
	}
	return out
}

// latestWithHeading returns the up-to-n latest buffered samples with a
// usable heading, in chronological order.
func (c *FlightContext) latestWithHeading(n int) []PositionUpdate {
	buf := c.flight.PositionUpdates
	var out []PositionUpdate
	for i := len(buf) - 1; i >= 0 && len(out) < n; i-- {
		if buf[i].hasHeading() {
			out = append(out, buf[i])
		}
	}
	// restore chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// sampleBefore returns the latest buffered sample strictly earlier than t
func (c *FlightContext) sampleBefore(t time.Time) *PositionUpdate {
	buf := c.flight.PositionUpdates
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i].Timestamp.Before(t) {
			return &buf[i]
		}
	}
	return nil
}

// firstMovingSample returns the earliest buffered sample above the moving
// speed threshold.
func (c *FlightContext) firstMovingSample() *PositionUpdate {
	for i := range c.flight.PositionUpdates {
		s := &c.flight.PositionUpdates[i]
		if c.moving(s) {
			return s
		}
	}
	return nil
}

// meanClimbRate averages altitude deltas over time deltas for the most
// recent sample pairs, up to the configured window. Meters per second;
// negative while descending.
func (c *FlightContext) meanClimbRate() float64 {
	buf := c.flight.PositionUpdates
	if len(buf) < 2 {
		return 0
	}

	first := len(buf) - 1 - c.cfg.ClimbRateWindow
	if first < 0 {
		first = 0
	}

	var sum float64
	var pairs int
	for i := first + 1; i < len(buf); i++ {
		dt := buf[i].Timestamp.Sub(buf[i-1].Timestamp).Seconds()
		if dt <= 0 {
			continue
		}
		sum += (buf[i].Altitude - buf[i-1].Altitude) / dt
		pairs++
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}
