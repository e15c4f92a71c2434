package sqlite

import (
	"github.com/soaringlab/flighttrack/internal/flight"
	"github.com/soaringlab/flighttrack/pkg/logger"
)

// Recorder subscribes to a factory's disposal stream and archives the
// final flight of every expired context.
type Recorder struct {
	store  *FlightStore
	logger *logger.Logger
	cancel func()
}

// NewRecorder wires a flight store to a factory
func NewRecorder(store *FlightStore, factory *flight.Factory, log *logger.Logger) *Recorder {
	r := &Recorder{
		store:  store,
		logger: log.Named("recorder"),
	}
	r.cancel = factory.OnContextDisposed(r.record)
	return r
}

// Stop unsubscribes from the factory
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Recorder) record(ev flight.Event) {
	if ev.Flight == nil {
		return
	}
	if _, err := r.store.SaveFlight(ev.Flight); err != nil {
		r.logger.Error("Failed to archive flight",
			logger.String("aircraft_id", ev.AircraftID),
			logger.Error(err))
	}
}
