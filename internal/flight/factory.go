package flight

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/soaringlab/flighttrack/internal/config"
	"github.com/soaringlab/flighttrack/pkg/logger"
)

// Factory demultiplexes a shared stream of position reports into
// per-aircraft flight contexts, expires idle contexts, and fans out every
// context's events to its subscribers.
type Factory struct {
	cfg    config.TrackingConfig
	logger *logger.Logger

	mu       sync.RWMutex
	contexts map[string]*FlightContext

	detector AerotowDetector

	subsMu sync.RWMutex
	subs   map[EventType]map[int]EventHandler
	nextID int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewFactory creates a flight context factory
func NewFactory(cfg config.TrackingConfig, log *logger.Logger) *Factory {
	f := &Factory{
		cfg:      cfg,
		logger:   log.Named("factory"),
		contexts: make(map[string]*FlightContext),
		subs:     make(map[EventType]map[int]EventHandler),
		stopCh:   make(chan struct{}),
	}
	if cfg.NearbyRuntime {
		f.detector = NewNearbyDetector(f)
	}
	return f
}

// SetDetector overrides the aerotow detector for all contexts created or
// attached afterwards.
func (f *Factory) SetDetector(d AerotowDetector) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detector = d
}

// Start launches the periodic expiry sweep
func (f *Factory) Start(ctx context.Context) error {
	f.logger.Info("Starting flight context factory",
		logger.Duration("context_expiration", f.expiration()),
		logger.Duration("sweep_interval", f.sweepInterval()))

	f.wg.Add(1)
	go f.sweepLoop(ctx)
	return nil
}

// Stop halts the expiry sweep
func (f *Factory) Stop() {
	close(f.stopCh)
	f.wg.Wait()
	f.logger.Info("Flight context factory stopped")
}

func (f *Factory) expiration() time.Duration {
	return time.Duration(f.cfg.ContextExpirationSecs) * time.Second
}

func (f *Factory) sweepInterval() time.Duration {
	return time.Duration(f.cfg.SweepIntervalSecs) * time.Second
}

func (f *Factory) sweepLoop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.sweep(time.Now())
		case <-f.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Enqueue routes a batch of position reports to their per-aircraft
// contexts, creating contexts on demand. Entries with a blank aircraft id
// are dropped per entry. Enqueue never blocks on IO and never panics.
func (f *Factory) Enqueue(updates []PositionUpdate) {
	groups := make(map[string][]PositionUpdate)
	var order []string

	for _, u := range updates {
		id := strings.TrimSpace(u.AircraftID)
		if id == "" {
			continue
		}
		u.AircraftID = id
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], u)
	}

	for _, id := range order {
		c := f.ensureContext(id)
		f.forward(c, groups[id])
	}
}

// forward hands a group to its context, isolating the factory from any
// handler panic.
func (f *Factory) forward(c *FlightContext, group []PositionUpdate) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Panic while processing reports",
				logger.String("aircraft_id", c.AircraftID()),
				logger.Any("panic", r))
		}
	}()
	c.Enqueue(group...)
}

// ensureContext returns the tracked context for an aircraft, creating one
// if needed.
func (f *Factory) ensureContext(aircraftID string) *FlightContext {
	f.mu.RLock()
	c, ok := f.contexts[aircraftID]
	f.mu.RUnlock()
	if ok {
		return c
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok = f.contexts[aircraftID]; ok {
		return c
	}

	c, _ = NewFlightContext(aircraftID, f.cfg, f.logger) // id verified non-blank
	c.sink = f.publish
	c.detector = f.detector
	if f.cfg.MinifyMemoryPressure {
		c.minify = true
	}
	f.contexts[aircraftID] = c

	f.logger.Debug("Context created", logger.String("aircraft_id", aircraftID))
	return c
}

// Attach replaces any tracked context for the same aircraft with the
// given one.
func (f *Factory) Attach(c *FlightContext) error {
	if c == nil || strings.TrimSpace(c.AircraftID()) == "" {
		return ErrEmptyAircraftID
	}

	c.setSink(f.publish)
	c.setDetector(f.detector)
	if f.cfg.MinifyMemoryPressure {
		c.enableMinify()
	}

	f.mu.Lock()
	old := f.contexts[c.AircraftID()]
	f.contexts[c.AircraftID()] = c
	f.mu.Unlock()

	if old != nil && old != c {
		old.dispose()
	}
	return nil
}

// AttachFlight constructs a context from externally supplied flight
// metadata and attaches it.
func (f *Factory) AttachFlight(fl *Flight) error {
	c, err := NewFlightContextFrom(fl, f.cfg, f.logger)
	if err != nil {
		return err
	}
	return f.Attach(c)
}

// Context looks up the tracked context for an aircraft
func (f *Factory) Context(aircraftID string) (*FlightContext, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c, ok := f.contexts[aircraftID]
	return c, ok
}

// Detach removes a context from the factory and hands ownership to the
// caller. No disposed event fires; the context stops emitting to the
// factory streams until re-attached.
func (f *Factory) Detach(aircraftID string) (*FlightContext, bool) {
	f.mu.Lock()
	c, ok := f.contexts[aircraftID]
	if ok {
		delete(f.contexts, aircraftID)
	}
	f.mu.Unlock()

	if ok {
		c.setSink(nil)
	}
	return c, ok
}

// Count returns the number of tracked contexts
func (f *Factory) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.contexts)
}

// Contexts returns a snapshot of all tracked contexts
func (f *Factory) Contexts() []*FlightContext {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*FlightContext, 0, len(f.contexts))
	for _, c := range f.contexts {
		out = append(out, c)
	}
	return out
}

// SweepNow forces an immediate expiry pass. Useful for tests and hosts
// with their own scheduler.
func (f *Factory) SweepNow() int {
	return f.sweep(time.Now())
}

// sweep removes contexts idle past the expiration and emits a disposed
// event for each. Victims are snapshotted first; the map lock is never
// held while emitting.
func (f *Factory) sweep(now time.Time) int {
	expiration := f.expiration()
	if expiration <= 0 {
		return 0
	}

	f.mu.RLock()
	var victims []*FlightContext
	for _, c := range f.contexts {
		if now.Sub(c.LastActive()) > expiration {
			victims = append(victims, c)
		}
	}
	f.mu.RUnlock()

	removed := 0
	for _, c := range victims {
		id := c.AircraftID()

		f.mu.Lock()
		cur, ok := f.contexts[id]
		if !ok || cur != c || now.Sub(c.LastActive()) <= expiration {
			// Raced a fresh enqueue or a replacement; leave it alone
			f.mu.Unlock()
			continue
		}
		delete(f.contexts, id)
		f.mu.Unlock()

		snapshot := c.Snapshot()
		c.dispose()
		removed++

		f.logger.Info("Context expired",
			logger.String("aircraft_id", id),
			logger.Duration("idle", now.Sub(c.LastActive())))

		f.publish(Event{
			Type:       EventContextDisposed,
			AircraftID: id,
			Timestamp:  time.Now().UTC(),
			Flight:     snapshot,
		})
	}

	return removed
}

// Subscribe registers a handler for one event stream and returns its
// cancel function. Handlers run synchronously on the emitting goroutine;
// a panicking handler is recorded and does not poison other subscribers.
func (f *Factory) Subscribe(t EventType, h EventHandler) func() {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()

	if f.subs[t] == nil {
		f.subs[t] = make(map[int]EventHandler)
	}
	id := f.nextID
	f.nextID++
	f.subs[t][id] = h

	return func() {
		f.subsMu.Lock()
		defer f.subsMu.Unlock()
		delete(f.subs[t], id)
	}
}

// Named stream helpers mirroring the per-context events

func (f *Factory) OnTakeoff(h EventHandler) func()      { return f.Subscribe(EventTakeoff, h) }
func (f *Factory) OnLanding(h EventHandler) func()      { return f.Subscribe(EventLanding, h) }
func (f *Factory) OnRadarContact(h EventHandler) func() { return f.Subscribe(EventRadarContact, h) }
func (f *Factory) OnLaunchCompleted(h EventHandler) func() {
	return f.Subscribe(EventLaunchCompleted, h)
}
func (f *Factory) OnCompletedWithErrors(h EventHandler) func() {
	return f.Subscribe(EventCompletedWithErrors, h)
}
func (f *Factory) OnContextDisposed(h EventHandler) func() {
	return f.Subscribe(EventContextDisposed, h)
}

// publish fans an event out to the stream's subscribers. Iterates a
// snapshot of the handler list so subscriptions may change concurrently.
func (f *Factory) publish(ev Event) {
	f.subsMu.RLock()
	handlers := make([]EventHandler, 0, len(f.subs[ev.Type]))
	for _, h := range f.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	f.subsMu.RUnlock()

	for _, h := range handlers {
		f.deliver(h, ev)
	}
}

func (f *Factory) deliver(h EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Subscriber panicked",
				logger.String("event", ev.Type.String()),
				logger.String("aircraft_id", ev.AircraftID),
				logger.Any("panic", r))
		}
	}()
	h(ev)
}
