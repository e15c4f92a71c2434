package flight

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringlab/flighttrack/internal/config"
	"github.com/soaringlab/flighttrack/pkg/logger"
)

var testBase = time.Date(2024, 5, 18, 9, 0, 0, 0, time.UTC)

func testCfg() config.TrackingConfig {
	return config.Default().Tracking
}

// eventCollector records events from factory streams or a context sink
type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (ec *eventCollector) collect(ev Event) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.events = append(ec.events, ev)
}

func (ec *eventCollector) all() []Event {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return append([]Event(nil), ec.events...)
}

func (ec *eventCollector) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range ec.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (ec *eventCollector) typesFor(aircraftID string) []EventType {
	var out []EventType
	for _, ev := range ec.all() {
		if ev.AircraftID == aircraftID {
			out = append(out, ev.Type)
		}
	}
	return out
}

func subscribeAll(f *Factory, ec *eventCollector) {
	for t := EventType(0); t < eventTypeCount; t++ {
		f.Subscribe(t, ec.collect)
	}
}

func newTestFactory(t *testing.T, cfg config.TrackingConfig) (*Factory, *eventCollector) {
	t.Helper()
	f := NewFactory(cfg, logger.NewNop())
	ec := &eventCollector{}
	subscribeAll(f, ec)
	return f, ec
}

// pos builds a report for one aircraft at an offset from the test base time
func pos(id string, sec float64, lat, lon, alt, speed, hdg float64) PositionUpdate {
	return PositionUpdate{
		AircraftID: id,
		Timestamp:  testBase.Add(time.Duration(sec * float64(time.Second))),
		Latitude:   lat,
		Longitude:  lon,
		Altitude:   alt,
		Speed:      speed,
		Heading:    hdg,
	}
}

// winchStream is the §8 scenario 1 input: a minute of rest, then a
// straight 8 second climb to 400m that tops out.
func winchStream(id string, lon float64, headings func(i int) float64) []PositionUpdate {
	var updates []PositionUpdate
	for sec := 0.0; sec <= 59; sec += 10 {
		updates = append(updates, pos(id, sec, 52.0, lon, 0, 0, 0))
	}
	updates = append(updates, pos(id, 59, 52.0, lon, 0, 0, 0))
	for i := 0; i <= 8; i++ {
		updates = append(updates, pos(id, 60+float64(i), 52.0, lon, float64(i)*50, 60, headings(i)))
	}
	// past the apex: slope turns negative without tripping the sink abort
	updates = append(updates,
		pos(id, 69, 52.0, lon, 399.5, 60, headings(9)),
		pos(id, 70, 52.0, lon, 399, 60, headings(10)),
		pos(id, 71, 52.0, lon, 398, 60, headings(11)),
	)
	return updates
}

func steady90(i int) float64 {
	// 090 +/- 5
	offsets := []float64{88, 92, 90, 87, 93, 90, 91, 89, 90, 90, 90, 90}
	return offsets[i%len(offsets)]
}

func TestWinchLaunch(t *testing.T) {
	f, ec := newTestFactory(t, testCfg())

	f.Enqueue(winchStream("PH-123", 5.0, steady90))

	takeoffs := ec.ofType(EventTakeoff)
	require.Len(t, takeoffs, 1)
	assert.Equal(t, "PH-123", takeoffs[0].AircraftID)
	assert.Equal(t, testBase.Add(60*time.Second), takeoffs[0].Timestamp)
	assert.Equal(t, InfoEstimated, takeoffs[0].Flight.DepartureInfo)

	launches := ec.ofType(EventLaunchCompleted)
	require.Len(t, launches, 1)
	assert.Equal(t, LaunchWinch, launches[0].Flight.LaunchMethod)

	c, ok := f.Context("PH-123")
	require.True(t, ok)
	assert.Equal(t, StateCruise, c.State())

	snap := c.Snapshot()
	assert.Equal(t, LaunchWinch, snap.LaunchMethod)
	require.NotNil(t, snap.StartTime)
	assert.Equal(t, testBase.Add(59*time.Second), *snap.StartTime)
	require.NotNil(t, snap.LaunchFinished)
	assert.InDelta(t, 90, snap.DepartureHeading, 3)
	assert.GreaterOrEqual(t, snap.DepartureHeading, 1)
	assert.LessOrEqual(t, snap.DepartureHeading, 360)
	require.NotNil(t, snap.DepartureLocation)

	assert.Empty(t, ec.ofType(EventRadarContact))
}

func TestWinchRejectedByHeadingDrift(t *testing.T) {
	f, ec := newTestFactory(t, testCfg())

	// heading sweeping 40+ degrees during the climb
	drift := func(i int) float64 { return 50 + 7.5*float64(i) }
	updates := winchStream("PH-124", 5.0, drift)
	updates = append(updates, pos("PH-124", 72, 52.0, 5.0, 397, 60, drift(12)))

	f.Enqueue(updates)

	launches := ec.ofType(EventLaunchCompleted)
	require.Len(t, launches, 1)
	assert.Equal(t, LaunchSelf, launches[0].Flight.LaunchMethod)
	assert.False(t, launches[0].Flight.LaunchMethod.Has(LaunchWinch))
}

func TestWinchRejectedByDisplacement(t *testing.T) {
	f, ec := newTestFactory(t, testCfg())

	// straight heading but covering ~5km before the climb tops out
	var updates []PositionUpdate
	updates = append(updates, pos("PH-125", 59, 52.0, 5.0, 0, 0, 0))
	for i := 0; i <= 8; i++ {
		lon := 5.0 + 0.007*float64(i+1)
		updates = append(updates, pos("PH-125", 60+float64(i), 52.0, lon, float64(i)*50, 60, 90))
	}
	updates = append(updates,
		pos("PH-125", 69, 52.0, 5.070, 399.5, 60, 90),
		pos("PH-125", 70, 52.0, 5.077, 399, 60, 90),
		pos("PH-125", 71, 52.0, 5.084, 398, 60, 90),
		pos("PH-125", 72, 52.0, 5.091, 397, 60, 90),
	)

	f.Enqueue(updates)

	launches := ec.ofType(EventLaunchCompleted)
	require.Len(t, launches, 1)
	assert.Equal(t, LaunchSelf, launches[0].Flight.LaunchMethod)
}

// stubDetector returns a scripted pairing while active
type stubDetector struct {
	mu      sync.Mutex
	active  bool
	partner string
	encType EncounterType
}

func (d *stubDetector) set(active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = active
}

func (d *stubDetector) Encounters(c *FlightContext) []Encounter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return nil
	}
	return []Encounter{{
		AircraftID: d.partner,
		Type:       d.encType,
		Start:      testBase,
	}}
}

func TestAerotowLaunch(t *testing.T) {
	f, ec := newTestFactory(t, testCfg())
	det := &stubDetector{active: true, partner: "TUG1", encType: EncounterTow}
	f.SetDetector(det)

	var updates []PositionUpdate
	updates = append(updates, pos("PH-126", 0, 52.0, 5.0, 0, 0, 0))
	for i := 0; i <= 10; i++ {
		updates = append(updates, pos("PH-126", 10+float64(i), 52.0, 5.0, float64(i)*30, 60, 90))
	}
	f.Enqueue(updates)

	c, ok := f.Context("PH-126")
	require.True(t, ok)
	assert.Equal(t, StateAerotow, c.State())

	snap := c.Snapshot()
	assert.Equal(t, LaunchAerotow|LaunchTowPlane, snap.LaunchMethod)
	require.Len(t, snap.Encounters, 1)
	assert.Equal(t, "TUG1", snap.Encounters[0].AircraftID)
	assert.Nil(t, snap.Encounters[0].End)
	assert.Empty(t, ec.ofType(EventLaunchCompleted))

	// tow released
	det.set(false)
	f.Enqueue([]PositionUpdate{pos("PH-126", 21, 52.0, 5.0, 330, 60, 90)})

	launches := ec.ofType(EventLaunchCompleted)
	require.Len(t, launches, 1)
	assert.Equal(t, StateCruise, c.State())

	snap = c.Snapshot()
	require.NotNil(t, snap.LaunchFinished)
	require.Len(t, snap.Encounters, 1)
	require.NotNil(t, snap.Encounters[0].End)
}

func TestAerotowOnTowRole(t *testing.T) {
	f, _ := newTestFactory(t, testCfg())
	f.SetDetector(&stubDetector{active: true, partner: "GLD1", encType: EncounterTug})

	var updates []PositionUpdate
	updates = append(updates, pos("PH-127", 0, 52.0, 5.0, 0, 0, 0))
	for i := 0; i <= 10; i++ {
		updates = append(updates, pos("PH-127", 10+float64(i), 52.0, 5.0, float64(i)*30, 60, 90))
	}
	f.Enqueue(updates)

	c, _ := f.Context("PH-127")
	assert.Equal(t, LaunchAerotow|LaunchOnTow, c.Snapshot().LaunchMethod)
}

func TestConfirmedLanding(t *testing.T) {
	f, ec := newTestFactory(t, testCfg())

	updates := winchStream("PH-128", 5.0, func(int) float64 { return 180 })
	// descend into the circuit and roll out
	updates = append(updates,
		pos("PH-128", 80, 52.0, 5.0, 350, 55, 180),
		pos("PH-128", 82, 52.0, 5.0, 280, 50, 180),
		pos("PH-128", 84, 52.0, 5.0, 260, 48, 180),
		pos("PH-128", 86, 52.0, 5.0, 240, 45, 180),
		pos("PH-128", 90, 52.0, 5.0, 0, 0, 180),
	)
	f.Enqueue(updates)

	landings := ec.ofType(EventLanding)
	require.Len(t, landings, 1)
	fl := landings[0].Flight
	assert.Equal(t, InfoConfirmed, fl.ArrivalInfo)
	assert.Equal(t, 180, fl.ArrivalHeading)
	require.NotNil(t, fl.ArrivalLocation)
	require.NotNil(t, fl.EndTime)
	assert.Equal(t, testBase.Add(90*time.Second), *fl.EndTime)

	// a confirmed arrival completes without errors
	assert.Empty(t, ec.ofType(EventCompletedWithErrors))

	c, _ := f.Context("PH-128")
	assert.Equal(t, StateArrived, c.State())

	// takeoff always precedes landing
	types := ec.typesFor("PH-128")
	require.NotEmpty(t, types)
	assert.Equal(t, EventTakeoff, types[0])
}

func TestRadarContactMidFlight(t *testing.T) {
	f, ec := newTestFactory(t, testCfg())

	f.Enqueue([]PositionUpdate{pos("PH-129", 0, 52.0, 5.0, 1500, 90, 180)})

	contacts := ec.ofType(EventRadarContact)
	require.Len(t, contacts, 1)
	assert.Equal(t, InfoEstimated, contacts[0].Flight.DepartureInfo)
	assert.Empty(t, ec.ofType(EventTakeoff))

	c, _ := f.Context("PH-129")
	assert.Equal(t, StateDeparting, c.State())
	assert.Nil(t, c.Snapshot().StartTime)
}

func TestEstimatedLandingAfterSignalLoss(t *testing.T) {
	f, ec := newTestFactory(t, testCfg())

	var updates []PositionUpdate
	// first seen airborne, gently descending
	for i := 0; i <= 4; i++ {
		updates = append(updates, pos("PH-130", float64(i), 52.0, 5.0, 1200-2*float64(i), 90, 180))
	}
	// reappears low, descending at 2 m/s
	updates = append(updates,
		pos("PH-130", 10, 52.0, 5.0, 290, 60, 180),
		pos("PH-130", 11, 52.0, 5.0, 288, 60, 180),
		pos("PH-130", 12, 52.0, 5.0, 286, 60, 180),
	)
	f.Enqueue(updates)

	c, ok := f.Context("PH-130")
	require.True(t, ok)
	require.Equal(t, StateArriving, c.State())

	snap := c.Snapshot()
	assert.Equal(t, InfoEstimated, snap.ArrivalInfo)
	require.NotNil(t, snap.EndTime)
	assert.Equal(t, 180, snap.ArrivalHeading)

	// the theory ripens well past the estimated end time
	f.Enqueue([]PositionUpdate{pos("PH-130", 40, 52.0, 5.0, 284, 60, 180)})

	landings := ec.ofType(EventLanding)
	require.Len(t, landings, 1)
	assert.Equal(t, InfoEstimated, landings[0].Flight.ArrivalInfo)
	assert.Nil(t, landings[0].Flight.ArrivalLocation)

	completions := ec.ofType(EventCompletedWithErrors)
	require.Len(t, completions, 1)
	assert.Equal(t, []CompletionReason{ReasonArrivalLocationUnknown}, completions[0].Reasons)

	assert.Equal(t, StateArrived, c.State())
}

func TestArrivalTheoryTimerRipens(t *testing.T) {
	cfg := testCfg()
	cfg.ArrivalTheoryRipenSecs = 1

	c, err := NewFlightContext("PH-131", cfg, logger.NewNop())
	require.NoError(t, err)
	ec := &eventCollector{}
	c.setSink(ec.collect)

	// already descending on final, low enough that the estimate and its
	// ripen window land within a couple of wall-clock seconds
	now := time.Now().UTC()
	c.flight.PositionUpdates = []PositionUpdate{
		{AircraftID: "PH-131", Timestamp: now.Add(-3 * time.Second), Latitude: 52, Longitude: 5, Altitude: 10, Speed: 60, Heading: 180},
		{AircraftID: "PH-131", Timestamp: now.Add(-2 * time.Second), Latitude: 52, Longitude: 5, Altitude: 8, Speed: 60, Heading: 180},
		{AircraftID: "PH-131", Timestamp: now.Add(-1 * time.Second), Latitude: 52, Longitude: 5, Altitude: 6, Speed: 60, Heading: 180},
	}
	c.state = StateArriving

	c.Enqueue(PositionUpdate{AircraftID: "PH-131", Timestamp: now, Latitude: 52, Longitude: 5, Altitude: 2, Speed: 60, Heading: 180})

	require.Equal(t, StateArriving, c.State())
	require.Equal(t, InfoEstimated, c.Snapshot().ArrivalInfo)
	require.Empty(t, ec.ofType(EventLanding))

	// ETUA(1s) + ripen(1s) and some slack
	time.Sleep(3 * time.Second)

	landings := ec.ofType(EventLanding)
	require.Len(t, landings, 1)
	assert.Equal(t, InfoEstimated, landings[0].Flight.ArrivalInfo)
	assert.Equal(t, StateArrived, c.State())
}

func TestLandingAbortedAtAltitude(t *testing.T) {
	cfg := testCfg()
	c, err := NewFlightContext("PH-132", cfg, logger.NewNop())
	require.NoError(t, err)
	ec := &eventCollector{}
	c.setSink(ec.collect)

	c.flight.PositionUpdates = []PositionUpdate{
		pos("PH-132", 0, 52, 5, 280, 60, 180),
		pos("PH-132", 1, 52, 5, 278, 60, 180),
	}
	c.state = StateArriving

	// climbing away again
	c.Enqueue(pos("PH-132", 2, 52, 5, 1100, 70, 180))

	assert.Equal(t, StateCruise, c.State())
	assert.Empty(t, ec.ofType(EventLanding))
}

func TestContextReusedForNextFlight(t *testing.T) {
	f, ec := newTestFactory(t, testCfg())

	updates := winchStream("PH-133", 5.0, func(int) float64 { return 90 })
	updates = append(updates,
		pos("PH-133", 80, 52.0, 5.0, 280, 50, 90),
		pos("PH-133", 82, 52.0, 5.0, 260, 48, 90),
		pos("PH-133", 84, 52.0, 5.0, 240, 45, 90),
		pos("PH-133", 88, 52.0, 5.0, 0, 0, 90),
	)
	f.Enqueue(updates)

	c, _ := f.Context("PH-133")
	require.Equal(t, StateArrived, c.State())

	// rolls for a second launch
	f.Enqueue([]PositionUpdate{pos("PH-133", 300, 52.0, 5.0, 0, 60, 90)})

	assert.Equal(t, StateDeparting, c.State())
	assert.Len(t, ec.ofType(EventTakeoff), 2)

	snap := c.Snapshot()
	require.NotNil(t, snap.StartTime)
	assert.Equal(t, testBase.Add(300*time.Second), *snap.StartTime)
	assert.Equal(t, LaunchNone, snap.LaunchMethod)
}

func TestDepartureAbortedBySink(t *testing.T) {
	f, ec := newTestFactory(t, testCfg())

	var updates []PositionUpdate
	updates = append(updates, pos("PH-134", 0, 52.0, 5.0, 0, 0, 0))
	// climbs briefly, then drops back while still in Departing
	for i := 0; i <= 10; i++ {
		updates = append(updates, pos("PH-134", 10+float64(i), 52.0, 5.0, float64(i)*10, 45, 270))
	}
	updates = append(updates,
		pos("PH-134", 21, 52.0, 5.0, 90, 45, 270),
		pos("PH-134", 22, 52.0, 5.0, 60, 45, 270),
	)
	f.Enqueue(updates)

	c, _ := f.Context("PH-134")
	assert.Equal(t, StateArriving, c.State())
	assert.NotEmpty(t, ec.ofType(EventTakeoff))
	assert.Empty(t, ec.ofType(EventLaunchCompleted))
}
