package trip

import "time"

type StopStatus string

const (
	StopPending StopStatus = "pending"
	StopCurrent StopStatus = "current"
	StopReached StopStatus = "reached"
)

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// StopSnapshot is an immutable copy of one stop's state at a point in time.
type StopSnapshot struct {
	ID        string
	Name      string
	Order     int
	Status    StopStatus
	ReachedAt time.Time // client-observed arrival instant, zero until reached
}

// Snapshot is an immutable copy of the whole trip state, safe to hand to the
// publisher or the control surface after the session lock is released.
type Snapshot struct {
	TripID      string
	RouteID     string
	RouteName   string
	BusNumber   string
	DriverID    string
	DriverName  string
	Status      Status
	Stops       []StopSnapshot // ascending by Order
	CurrentStop *StopSnapshot  // nil when no stop is current
	StartedAt   time.Time
	FinishedAt  time.Time
}

type TransitionKind string

const (
	TransitionTripStarted   TransitionKind = "trip_started"
	TransitionStopReached   TransitionKind = "stop_reached"
	TransitionTripCompleted TransitionKind = "trip_completed"
	TransitionTripCancelled TransitionKind = "trip_cancelled"
)

// Transition describes one accepted state change. It carries everything the
// publisher needs so it never has to reach back into the session.
type Transition struct {
	Kind       TransitionKind
	TripID     string
	OccurredAt time.Time

	// Reached is the stop that just moved to reached (stop_reached and
	// trip_completed transitions).
	Reached *StopSnapshot
	// Next is the stop promoted to current (stop_reached only).
	Next *StopSnapshot

	Trip Snapshot
}
