package websocket

import (
	"github.com/soaringlab/flighttrack/internal/flight"
	"github.com/soaringlab/flighttrack/pkg/logger"
)

// Bridge forwards every factory event stream to the WebSocket hub
type Bridge struct {
	server  *Server
	logger  *logger.Logger
	cancels []func()
}

// NewBridge subscribes the hub to all factory streams
func NewBridge(server *Server, factory *flight.Factory, log *logger.Logger) *Bridge {
	b := &Bridge{
		server: server,
		logger: log.Named("event-bridge"),
	}

	for _, t := range []flight.EventType{
		flight.EventTakeoff,
		flight.EventLanding,
		flight.EventRadarContact,
		flight.EventLaunchCompleted,
		flight.EventCompletedWithErrors,
		flight.EventContextDisposed,
	} {
		b.cancels = append(b.cancels, factory.Subscribe(t, b.forward))
	}

	return b
}

// Stop unsubscribes from every stream
func (b *Bridge) Stop() {
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = nil
}

func (b *Bridge) forward(ev flight.Event) {
	data := map[string]any{
		"aircraft_id": ev.AircraftID,
		"timestamp":   ev.Timestamp,
	}
	if len(ev.Reasons) > 0 {
		data["reasons"] = ev.Reasons
	}
	if ev.Flight != nil {
		// Summary only: position buffers may hold NaN speeds/headings,
		// which JSON cannot carry.
		f := ev.Flight
		summary := map[string]any{
			"aircraft_id":       f.AircraftID,
			"launch_method":     f.LaunchMethod.String(),
			"departure_info":    f.DepartureInfo.String(),
			"arrival_info":      f.ArrivalInfo.String(),
			"departure_heading": f.DepartureHeading,
			"arrival_heading":   f.ArrivalHeading,
			"positions":         len(f.PositionUpdates),
		}
		if f.StartTime != nil {
			summary["start_time"] = *f.StartTime
		}
		if f.EndTime != nil {
			summary["end_time"] = *f.EndTime
		}
		if f.DepartureLocation != nil {
			summary["departure_location"] = *f.DepartureLocation
		}
		if f.ArrivalLocation != nil {
			summary["arrival_location"] = *f.ArrivalLocation
		}
		data["flight"] = summary
	}

	b.server.Broadcast(&Message{
		Type: ev.Type.String(),
		Data: data,
	})
}
