package flight

// State is the per-aircraft machine state
type State uint8

const (
	StateInitial State = iota
	StateStationary
	StateDeparting
	StateAerotow
	StateCruise
	StateArriving
	StateArrived
	stateCount // must be last
)

var stateNames = [stateCount]string{
	StateInitial:    "initial",
	StateStationary: "stationary",
	StateDeparting:  "departing",
	StateAerotow:    "aerotow",
	StateCruise:     "cruise",
	StateArriving:   "arriving",
	StateArrived:    "arrived",
}

func (s State) String() string {
	if s < stateCount {
		return stateNames[s]
	}
	return "unknown"
}

// Trigger is a state machine transition cause fired by a state handler
type Trigger uint8

const (
	triggerNone Trigger = iota
	TriggerDepart
	TriggerTrackAerotow
	TriggerLaunchCompleted
	TriggerLanding
	TriggerLandingAborted
	TriggerArrived
	triggerCount // must be last
)

var triggerNames = [triggerCount]string{
	triggerNone:            "none",
	TriggerDepart:          "depart",
	TriggerTrackAerotow:    "track_aerotow",
	TriggerLaunchCompleted: "launch_completed",
	TriggerLanding:         "landing",
	TriggerLandingAborted:  "landing_aborted",
	TriggerArrived:         "arrived",
}

func (t Trigger) String() string {
	if t < triggerCount {
		return triggerNames[t]
	}
	return "unknown"
}

// nextState resolves the transition table. The second return is false for
// trigger/state combinations the machine does not define.
func nextState(s State, t Trigger) (State, bool) {
	switch s {
	case StateInitial, StateStationary:
		if t == TriggerDepart {
			return StateDeparting, true
		}
	case StateDeparting:
		switch t {
		case TriggerTrackAerotow:
			return StateAerotow, true
		case TriggerLaunchCompleted:
			return StateCruise, true
		case TriggerLanding:
			return StateArriving, true
		}
	case StateAerotow:
		if t == TriggerLaunchCompleted {
			return StateCruise, true
		}
	case StateCruise:
		if t == TriggerLanding {
			return StateArriving, true
		}
	case StateArriving:
		switch t {
		case TriggerLandingAborted:
			return StateCruise, true
		case TriggerArrived:
			return StateArrived, true
		}
	}
	return s, false
}
