package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	TripsStarted   prometheus.Counter
	TripsCompleted prometheus.Counter
	TripsCancelled prometheus.Counter
	StopsReached   prometheus.Counter

	BroadcastWritten   prometheus.Counter
	BroadcastWriteErrs prometheus.Counter
	StoreWriteErrs     prometheus.Counter
	BroadcastConnected prometheus.Gauge
	Degraded           prometheus.Gauge

	LocationPublished   prometheus.Counter
	LocationPublishErrs prometheus.Counter
	LocationDropped     prometheus.Counter

	WriteDuration prometheus.Histogram

	PublishInterval prometheus.Gauge // seconds
}

func NewCollector(locationInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_started_total",
			Help: "Total trips started.",
		}),
		TripsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_completed_total",
			Help: "Total trips completed.",
		}),
		TripsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_trips_cancelled_total",
			Help: "Total trips cancelled.",
		}),
		StopsReached: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_stops_reached_total",
			Help: "Total stops marked reached.",
		}),
		BroadcastWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_broadcast_writes_total",
			Help: "Total broadcast store writes.",
		}),
		BroadcastWriteErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_broadcast_write_errors_total",
			Help: "Total broadcast store write errors.",
		}),
		StoreWriteErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_store_write_errors_total",
			Help: "Total durable store write errors.",
		}),
		BroadcastConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_broadcast_connected",
			Help: "1 if the broadcast store connection is established, 0 otherwise.",
		}),
		Degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_degraded",
			Help: "1 while broadcast writes are failing consecutively.",
		}),
		LocationPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_location_published_total",
			Help: "Total location documents published.",
		}),
		LocationPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_location_publish_errors_total",
			Help: "Total location publish errors.",
		}),
		LocationDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_location_samples_dropped_total",
			Help: "Total location samples skipped on transient source errors.",
		}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_broadcast_write_duration_seconds",
			Help:    "Duration of single broadcast store writes.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PublishInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_location_publish_interval_seconds",
			Help: "Location publish interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.TripsStarted, c.TripsCompleted, c.TripsCancelled, c.StopsReached,
		c.BroadcastWritten, c.BroadcastWriteErrs, c.StoreWriteErrs,
		c.BroadcastConnected, c.Degraded,
		c.LocationPublished, c.LocationPublishErrs, c.LocationDropped,
		c.WriteDuration, c.PublishInterval,
	)

	c.PublishInterval.Set(locationInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// Method adapters so the collector satisfies the observer interfaces of the
// broadcast, publish and location packages.

func (c *Collector) TripsStartedInc()       { c.TripsStarted.Inc() }
func (c *Collector) TripsCompletedInc()     { c.TripsCompleted.Inc() }
func (c *Collector) TripsCancelledInc()     { c.TripsCancelled.Inc() }
func (c *Collector) StopsReachedInc()       { c.StopsReached.Inc() }
func (c *Collector) StoreWriteErrInc()      { c.StoreWriteErrs.Inc() }
func (c *Collector) BroadcastWrittenInc()   { c.BroadcastWritten.Inc() }
func (c *Collector) BroadcastWriteErrInc()  { c.BroadcastWriteErrs.Inc() }
func (c *Collector) LocationPublishedInc()  { c.LocationPublished.Inc() }
func (c *Collector) LocationPublishErrInc() { c.LocationPublishErrs.Inc() }
func (c *Collector) LocationDroppedInc()    { c.LocationDropped.Inc() }

func (c *Collector) WriteObserve(d time.Duration) { c.WriteDuration.Observe(d.Seconds()) }

func (c *Collector) SetConnected(connected bool) {
	if connected {
		c.BroadcastConnected.Set(1)
	} else {
		c.BroadcastConnected.Set(0)
	}
}

func (c *Collector) SetDegraded(degraded bool) {
	if degraded {
		c.Degraded.Set(1)
	} else {
		c.Degraded.Set(0)
	}
}
