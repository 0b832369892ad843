package location

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"bus-tracker/internal/broadcast"
)

// Sink receives the published location documents.
type Sink interface {
	PutLocation(busNumber string, doc broadcast.LocationDoc) error
}

type Metrics interface {
	LocationPublishedInc()
	LocationPublishErrInc()
	LocationDroppedInc()
}

// Meta is the identity block embedded in every location document.
type Meta struct {
	BusNumber  string
	RouteID    string
	RouteName  string
	DriverID   string
	DriverName string
}

// Tracker subscribes to a positioning source and publishes the latest sample
// on a fixed cadence. Samples arriving between ticks overwrite each other;
// only the freshest one goes out. Samples are never persisted durably.
//
// Start/Stop bound the subscription like a scoped acquisition: Stop releases
// it on every exit path and calling Stop twice is safe.
type Tracker struct {
	src      Source
	sink     Sink
	interval time.Duration
	meta     Meta
	metrics  Metrics

	mu         sync.Mutex
	latest     *Sample
	sub        Subscription
	cancel     context.CancelFunc
	running    bool
	routeState string
	wg         sync.WaitGroup
}

func NewTracker(src Source, sink Sink, interval time.Duration, meta Meta, m Metrics) *Tracker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Tracker{
		src:      src,
		sink:     sink,
		interval: interval,
		meta:     meta,
		metrics:  m,
	}
}

// SetRouteState updates the trip status string mirrored into location
// documents (the rider app shows it next to the moving marker).
func (t *Tracker) SetRouteState(state string) {
	t.mu.Lock()
	t.routeState = state
	t.mu.Unlock()
}

// Start subscribes and begins the publish loop. A second Start while
// running is a no-op.
func (t *Tracker) Start(parent context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	t.latest = nil
	t.mu.Unlock()

	// Subscribe without the lock held: sources are allowed to deliver the
	// first sample synchronously from inside Subscribe, and onSample needs
	// the lock.
	sub, err := t.src.Subscribe(t.onSample, t.onError)
	if err != nil {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		return err
	}
	ctx, cancel := context.WithCancel(parent)

	t.mu.Lock()
	if !t.running {
		// Stop raced us between the reservation and here; hand its work back.
		t.mu.Unlock()
		sub.Unsubscribe()
		cancel()
		return nil
	}
	t.sub = sub
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go t.loop(ctx)
	log.Printf("location tracking started for bus %s (every %s)", t.meta.BusNumber, t.interval)
	return nil
}

// Stop cancels the loop and releases the subscription. Idempotent.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	sub := t.sub
	t.sub = nil
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	log.Printf("location tracking stopped for bus %s", t.meta.BusNumber)
}

func (t *Tracker) onSample(s Sample) {
	t.mu.Lock()
	t.latest = &s
	t.mu.Unlock()
}

func (t *Tracker) onError(err error) {
	if errors.Is(err, ErrPermissionDenied) {
		// Terminal until the user grants permission again.
		log.Printf("location error (terminal): %v", err)
		go t.Stop()
		return
	}
	// Timeout/unavailable costs at most one sample.
	log.Printf("location error (skipping sample): %v", err)
	if t.metrics != nil {
		t.metrics.LocationDroppedInc()
	}
}

func (t *Tracker) loop(ctx context.Context) {
	defer t.wg.Done()
	tick := time.NewTicker(t.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			t.publishLatest()
		}
	}
}

func (t *Tracker) publishLatest() {
	t.mu.Lock()
	s := t.latest
	state := t.routeState
	t.mu.Unlock()
	if s == nil {
		return
	}

	doc := broadcast.LocationDoc{
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		Accuracy:   s.Accuracy,
		Speed:      s.Speed,
		Heading:    s.Heading,
		Timestamp:  s.CapturedAt.UnixMilli(),
		DriverID:   t.meta.DriverID,
		DriverName: t.meta.DriverName,
		BusNumber:  t.meta.BusNumber,
		RouteID:    t.meta.RouteID,
		RouteName:  t.meta.RouteName,
		RouteState: state,
	}
	if err := t.sink.PutLocation(t.meta.BusNumber, doc); err != nil {
		log.Printf("location publish error: %v", err)
		if t.metrics != nil {
			t.metrics.LocationPublishErrInc()
		}
		return
	}
	if t.metrics != nil {
		t.metrics.LocationPublishedInc()
	}
}
