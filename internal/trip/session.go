package trip

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"bus-tracker/internal/route"
)

// Session owns the state of one bus's trips. Driver actions mutate it
// synchronously; the cooldown reset fires from a timer goroutine, so all
// state is guarded by a mutex.
//
// Statuses only move forward within a trip: pending -> current -> reached.
// Orders are fixed at construction and never reassigned.
type Session struct {
	mu sync.Mutex

	routeID    string
	routeName  string
	busNumber  string
	driverID   string
	driverName string

	stops []StopSnapshot // ascending by Order
	state Status

	tripID     string
	currentIdx int // index into stops, -1 when no current stop
	startedAt  time.Time
	finishedAt time.Time

	cooldown   time.Duration
	resetTimer *time.Timer
	onReset    func()

	now func() time.Time
}

// NewSession builds a session for the given route with all stops pending.
// cooldown is the delay between trip completion and the automatic return to
// the not-started state.
func NewSession(rt *route.Route, cooldown time.Duration) *Session {
	stops := make([]StopSnapshot, len(rt.Stops))
	for i, st := range rt.Stops {
		stops[i] = StopSnapshot{
			ID:     st.ID,
			Name:   st.Name,
			Order:  st.Order,
			Status: StopPending,
		}
	}
	return &Session{
		routeID:    rt.ID,
		routeName:  rt.Name,
		busNumber:  rt.BusNumber,
		driverID:   rt.DriverID,
		driverName: rt.DriverName,
		stops:      stops,
		state:      StatusNotStarted,
		currentIdx: -1,
		cooldown:   cooldown,
		now:        time.Now,
	}
}

// OnReset registers a hook invoked after the automatic cooldown reset.
// Must be called before the session is shared.
func (s *Session) OnReset(fn func()) { s.onReset = fn }

// Start begins a new trip. It is an idempotency guard, not an error: if a
// trip is already in progress (or completing), ok is false and nothing
// changes. The triggering UI action can fire more than once in quick
// succession.
func (s *Session) Start() (Transition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatusNotStarted || len(s.stops) == 0 {
		return Transition{}, false
	}
	s.stopResetTimerLocked()

	now := s.now()
	s.tripID = uuid.NewString()
	s.startedAt = now
	s.finishedAt = time.Time{}
	s.state = StatusInProgress
	for i := range s.stops {
		s.stops[i].Status = StopPending
		s.stops[i].ReachedAt = time.Time{}
	}
	s.stops[0].Status = StopCurrent
	s.currentIdx = 0

	return Transition{
		Kind:       TransitionTripStarted,
		TripID:     s.tripID,
		OccurredAt: now,
		Trip:       s.snapshotLocked(),
	}, true
}

// MarkReached records arrival at the current stop and promotes the next
// pending stop, or completes the trip if the reached stop was the last one.
// With no current stop it is a silent no-op: that indicates a stale or
// duplicate UI call, not a fault.
func (s *Session) MarkReached() (Transition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatusInProgress || s.currentIdx < 0 {
		return Transition{}, false
	}

	now := s.now()
	s.stops[s.currentIdx].Status = StopReached
	s.stops[s.currentIdx].ReachedAt = now
	reached := s.stops[s.currentIdx]

	if s.currentIdx == len(s.stops)-1 {
		// Last stop: the trip is done.
		s.currentIdx = -1
		s.state = StatusCompleted
		s.finishedAt = now
		s.scheduleResetLocked()
		return Transition{
			Kind:       TransitionTripCompleted,
			TripID:     s.tripID,
			OccurredAt: now,
			Reached:    &reached,
			Trip:       s.snapshotLocked(),
		}, true
	}

	s.currentIdx++
	s.stops[s.currentIdx].Status = StopCurrent
	next := s.stops[s.currentIdx]

	return Transition{
		Kind:       TransitionStopReached,
		TripID:     s.tripID,
		OccurredAt: now,
		Reached:    &reached,
		Next:       &next,
		Trip:       s.snapshotLocked(),
	}, true
}

// Cancel aborts an in-progress trip. The cooldown reset applies as after
// completion so the driver can start over.
func (s *Session) Cancel() (Transition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatusInProgress {
		return Transition{}, false
	}

	now := s.now()
	if s.currentIdx >= 0 {
		s.stops[s.currentIdx].Status = StopPending
		s.currentIdx = -1
	}
	s.state = StatusCancelled
	s.finishedAt = now
	s.scheduleResetLocked()

	return Transition{
		Kind:       TransitionTripCancelled,
		TripID:     s.tripID,
		OccurredAt: now,
		Trip:       s.snapshotLocked(),
	}, true
}

// Reset returns the session to not-started immediately, cancelling any
// pending cooldown. Idempotent.
func (s *Session) Reset() {
	s.mu.Lock()
	s.stopResetTimerLocked()
	s.resetLocked()
	s.mu.Unlock()
}

// Close releases the cooldown timer. The session must not be used after.
func (s *Session) Close() {
	s.mu.Lock()
	s.stopResetTimerLocked()
	s.mu.Unlock()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentStop returns the stop the bus is presently heading to, or nil.
func (s *Session) CurrentStop() *StopSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentIdx < 0 {
		return nil
	}
	cp := s.stops[s.currentIdx]
	return &cp
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	stops := make([]StopSnapshot, len(s.stops))
	copy(stops, s.stops)
	var cur *StopSnapshot
	if s.currentIdx >= 0 {
		cp := s.stops[s.currentIdx]
		cur = &cp
	}
	return Snapshot{
		TripID:      s.tripID,
		RouteID:     s.routeID,
		RouteName:   s.routeName,
		BusNumber:   s.busNumber,
		DriverID:    s.driverID,
		DriverName:  s.driverName,
		Status:      s.state,
		Stops:       stops,
		CurrentStop: cur,
		StartedAt:   s.startedAt,
		FinishedAt:  s.finishedAt,
	}
}

func (s *Session) scheduleResetLocked() {
	s.stopResetTimerLocked()
	cooldown := s.cooldown
	if cooldown < 0 {
		cooldown = 0
	}
	s.resetTimer = time.AfterFunc(cooldown, func() {
		s.mu.Lock()
		// Only fire if nothing restarted the session meanwhile.
		if s.state == StatusCompleted || s.state == StatusCancelled {
			s.resetLocked()
		}
		hook := s.onReset
		s.mu.Unlock()
		if hook != nil {
			hook()
		}
	})
}

func (s *Session) resetLocked() {
	for i := range s.stops {
		s.stops[i].Status = StopPending
		s.stops[i].ReachedAt = time.Time{}
	}
	s.state = StatusNotStarted
	s.currentIdx = -1
	s.tripID = ""
	s.startedAt = time.Time{}
	s.finishedAt = time.Time{}
}

func (s *Session) stopResetTimerLocked() {
	if s.resetTimer != nil {
		s.resetTimer.Stop()
		s.resetTimer = nil
	}
}
