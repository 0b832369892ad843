package publish

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"bus-tracker/internal/broadcast"
	"bus-tracker/internal/store"
	"bus-tracker/internal/trip"
)

// consecutive write failures on one sink before the degraded indicator trips
const degradedThreshold = 3

// Broadcast is the slice of the broadcast client the publisher needs.
type Broadcast interface {
	PutRouteMeta(busNumber string, doc broadcast.RouteMetaDoc) error
	PutRouteStartNotified(busNumber string, notified bool) error
	PutRouteState(busNumber, state string) error
	PutStop(busNumber string, doc broadcast.StopDoc) error
	PutCurrentStop(busNumber string, doc *broadcast.StopDoc) error
}

// TripStore is the slice of the durable store the publisher needs.
type TripStore interface {
	CreateTrip(ctx context.Context, rec store.TripRecord) error
	MarkStopReached(ctx context.Context, tripID, stopID string, reachedAt time.Time, nextStopID string) error
	SetStatus(ctx context.Context, tripID, status string, finishedAt time.Time) error
}

type Metrics interface {
	TripsStartedInc()
	StopsReachedInc()
	TripsCompletedInc()
	TripsCancelledInc()
	StoreWriteErrInc()
	SetDegraded(degraded bool)
}

// Publisher applies trip transitions to both sinks. Transitions are queued
// and drained by a single worker so writes for one trip go out in the order
// their transitions occurred; nothing ever waits on an acknowledgment before
// the next transition is accepted.
//
// Every write is fire-and-forget from the session's point of view: failures
// are logged and counted, never propagated back, and the first sink's write
// is never rolled back because a later one failed.
type Publisher struct {
	bcast   Broadcast
	trips   TripStore
	metrics Metrics

	queue  chan trip.Transition
	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once

	failStreak  atomic.Int32 // consecutive broadcast write failures
	storeStreak atomic.Int32 // consecutive durable store write failures
	degraded    atomic.Bool
}

func New(bcast Broadcast, trips TripStore, m Metrics) *Publisher {
	return &Publisher{
		bcast:   bcast,
		trips:   trips,
		metrics: m,
		queue:   make(chan trip.Transition, 64),
	}
}

// Start launches the worker. Close drains outstanding transitions.
func (p *Publisher) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				// Drain whatever was already accepted.
				for {
					select {
					case t := <-p.queue:
						p.apply(context.Background(), t)
					default:
						return
					}
				}
			case t := <-p.queue:
				p.apply(ctx, t)
			}
		}
	}()
}

func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
	})
}

// Publish enqueues a transition. It never blocks the caller: if the queue is
// full (sustained outage) the transition's writes are dropped with a log
// line. The loss is accepted; local state is never held back waiting for
// either sink.
func (p *Publisher) Publish(t trip.Transition) {
	select {
	case p.queue <- t:
	default:
		log.Printf("publish queue full, dropping %s for trip %s", t.Kind, t.TripID)
		p.noteBroadcastFailure()
	}
}

// Degraded reports whether recent writes to either sink have been failing
// (3 consecutive failures on the broadcast or the durable side). It clears
// once the failing sink writes successfully again.
func (p *Publisher) Degraded() bool { return p.degraded.Load() }

func (p *Publisher) apply(ctx context.Context, t trip.Transition) {
	switch t.Kind {
	case trip.TransitionTripStarted:
		p.applyStarted(ctx, t)
	case trip.TransitionStopReached:
		p.applyReached(ctx, t)
	case trip.TransitionTripCompleted:
		p.applyCompleted(ctx, t)
	case trip.TransitionTripCancelled:
		p.applyCancelled(ctx, t)
	default:
		log.Printf("unknown transition kind %q", t.Kind)
	}
}

// applyStarted writes, in order: identity metadata and the notification
// flag, then routeState (the field the notification trigger watches — its
// sibling reads must not race against absent metadata), then the full stop
// map and current pointer, then the durable trip document.
func (p *Publisher) applyStarted(ctx context.Context, t trip.Transition) {
	bus := t.Trip.BusNumber
	p.try(p.bcast.PutRouteMeta(bus, broadcast.RouteMetaDoc{
		BusNumber:  bus,
		RouteID:    t.Trip.RouteID,
		RouteName:  t.Trip.RouteName,
		DriverID:   t.Trip.DriverID,
		DriverName: t.Trip.DriverName,
		TripID:     t.TripID,
		StartedAt:  t.OccurredAt.UnixMilli(),
	}))
	p.try(p.bcast.PutRouteStartNotified(bus, false))
	p.try(p.bcast.PutRouteState(bus, string(trip.StatusInProgress)))
	for _, st := range t.Trip.Stops {
		p.try(p.bcast.PutStop(bus, stopDoc(st)))
	}
	if cur := t.Trip.CurrentStop; cur != nil {
		doc := stopDoc(*cur)
		p.try(p.bcast.PutCurrentStop(bus, &doc))
	}

	p.store(p.trips.CreateTrip(ctx, tripRecord(t)))
	if p.metrics != nil {
		p.metrics.TripsStartedInc()
	}
}

// applyReached sends a targeted diff: the reached stop, the promoted stop,
// the current pointer — not a rewrite of the whole stop map — then mirrors
// the same patch into the trip document.
func (p *Publisher) applyReached(ctx context.Context, t trip.Transition) {
	bus := t.Trip.BusNumber
	p.try(p.bcast.PutStop(bus, stopDoc(*t.Reached)))
	nextID := ""
	if t.Next != nil {
		nextID = t.Next.ID
		doc := stopDoc(*t.Next)
		p.try(p.bcast.PutStop(bus, doc))
		p.try(p.bcast.PutCurrentStop(bus, &doc))
	}

	p.store(p.trips.MarkStopReached(ctx, t.TripID, t.Reached.ID, t.Reached.ReachedAt, nextID))
	if p.metrics != nil {
		p.metrics.StopsReachedInc()
	}
}

// applyCompleted handles the final reach: last stop to reached, pointer
// cleared, then completed status to both sinks. The completed routeState is
// also the signal the external cleanup uses to clear the one-shot
// notification flags for the next trip.
func (p *Publisher) applyCompleted(ctx context.Context, t trip.Transition) {
	bus := t.Trip.BusNumber
	if t.Reached != nil {
		p.try(p.bcast.PutStop(bus, stopDoc(*t.Reached)))
	}
	p.try(p.bcast.PutCurrentStop(bus, nil))
	p.try(p.bcast.PutRouteState(bus, string(trip.StatusCompleted)))

	if t.Reached != nil {
		p.store(p.trips.MarkStopReached(ctx, t.TripID, t.Reached.ID, t.Reached.ReachedAt, ""))
	}
	p.store(p.trips.SetStatus(ctx, t.TripID, string(trip.StatusCompleted), t.Trip.FinishedAt))
	if p.metrics != nil {
		p.metrics.StopsReachedInc()
		p.metrics.TripsCompletedInc()
	}
}

func (p *Publisher) applyCancelled(ctx context.Context, t trip.Transition) {
	bus := t.Trip.BusNumber
	p.try(p.bcast.PutCurrentStop(bus, nil))
	p.try(p.bcast.PutRouteState(bus, string(trip.StatusCancelled)))

	p.store(p.trips.SetStatus(ctx, t.TripID, string(trip.StatusCancelled), t.Trip.FinishedAt))
	if p.metrics != nil {
		p.metrics.TripsCancelledInc()
	}
}

// try logs a broadcast failure and tracks the consecutive-failure streak.
// It never aborts the remaining writes of the transition.
func (p *Publisher) try(err error) {
	if err == nil {
		p.failStreak.Store(0)
		p.refreshDegraded()
		return
	}
	log.Printf("broadcast write error: %v", err)
	p.noteBroadcastFailure()
}

func (p *Publisher) noteBroadcastFailure() {
	p.failStreak.Add(1)
	p.refreshDegraded()
}

// store mirrors try for the durable side: failures count toward the same
// degraded indicator, because a dead database is no healthier than a dead
// broker from the driver's point of view.
func (p *Publisher) store(err error) {
	if err == nil {
		p.storeStreak.Store(0)
		p.refreshDegraded()
		return
	}
	log.Printf("trip store write error: %v", err)
	if p.metrics != nil {
		p.metrics.StoreWriteErrInc()
	}
	p.storeStreak.Add(1)
	p.refreshDegraded()
}

func (p *Publisher) refreshDegraded() {
	want := p.failStreak.Load() >= degradedThreshold ||
		p.storeStreak.Load() >= degradedThreshold
	if p.degraded.Swap(want) != want && p.metrics != nil {
		p.metrics.SetDegraded(want)
	}
}

func stopDoc(st trip.StopSnapshot) broadcast.StopDoc {
	doc := broadcast.StopDoc{
		ID:     st.ID,
		Name:   st.Name,
		Order:  st.Order,
		Status: string(st.Status),
	}
	if !st.ReachedAt.IsZero() {
		ms := st.ReachedAt.UnixMilli()
		doc.ReachedAt = &ms
	}
	return doc
}

func tripRecord(t trip.Transition) store.TripRecord {
	stops := make(map[string]store.StopRecord, len(t.Trip.Stops))
	for _, st := range t.Trip.Stops {
		rec := store.StopRecord{
			Name:   st.Name,
			Order:  st.Order,
			Status: string(st.Status),
		}
		if !st.ReachedAt.IsZero() {
			at := st.ReachedAt
			rec.ReachedAt = &at
		}
		stops[st.ID] = rec
	}
	curID := ""
	if t.Trip.CurrentStop != nil {
		curID = t.Trip.CurrentStop.ID
	}
	return store.TripRecord{
		TripID:        t.TripID,
		BusNumber:     t.Trip.BusNumber,
		RouteID:       t.Trip.RouteID,
		DriverID:      t.Trip.DriverID,
		Status:        string(t.Trip.Status),
		CurrentStopID: curID,
		StartedAt:     t.Trip.StartedAt,
		Stops:         stops,
	}
}
