package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bus-tracker/internal/api"
	"bus-tracker/internal/broadcast"
	"bus-tracker/internal/config"
	"bus-tracker/internal/location"
	"bus-tracker/internal/metrics"
	"bus-tracker/internal/publish"
	"bus-tracker/internal/route"
	"bus-tracker/internal/store"
	"bus-tracker/internal/trip"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := route.Load(cfg.RouteFile)
	if err != nil {
		log.Fatalf("route config error: %v", err)
	}
	log.Printf("serving bus %s on route %s (%d stops)", rt.BusNumber, rt.ID, len(rt.Stops))

	// Durable document store
	sqlDB, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer sqlDB.Close()
	if err := store.Ping(ctx, sqlDB); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	trips := store.NewTripStore(sqlDB)
	if err := trips.EnsureSchema(ctx); err != nil {
		log.Fatalf("db schema error: %v", err)
	}

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrvCancel context.CancelFunc
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.LocationInterval)
		mctx, mcancel := context.WithCancel(ctx)
		metricsSrvCancel = mcancel
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-mctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Real-time broadcast store
	bcast, err := broadcast.New(cfg.NATSURL, cfg.BroadcastBucket, cfg.LogBroadcastKeys, broadcastMetrics(mcol))
	if err != nil {
		log.Fatalf("broadcast store error: %v", err)
	}
	defer bcast.Close()

	// Trip session and dual-sink publisher
	session := trip.NewSession(rt, cfg.ResetCooldown)
	defer session.Close()
	pub := publish.New(bcast, trips, publishMetrics(mcol))
	pub.Start(ctx)
	defer pub.Close()

	// Location tracking
	var src location.Source
	if cfg.GPSMode == "sim" {
		src, err = location.NewSimSource(rt.Stops, cfg.SimSpeedMps, cfg.LocationInterval)
		if err != nil {
			log.Fatalf("sim source error: %v", err)
		}
	} else {
		src = noopSource{}
	}
	tracker := location.NewTracker(src, bcast, cfg.LocationInterval, location.Meta{
		BusNumber:  rt.BusNumber,
		RouteID:    rt.ID,
		RouteName:  rt.Name,
		DriverID:   rt.DriverID,
		DriverName: rt.DriverName,
	}, locationMetrics(mcol))
	defer tracker.Stop()
	session.OnReset(func() {
		tracker.SetRouteState(string(trip.StatusNotStarted))
	})

	// Driver control surface
	ctl := api.New(ctx, session, pub, tracker, trips, rt.BusNumber)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      ctl.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("control api listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("control api error: %v", err)
			cancel()
		}
	}()

	// Block until context cancelled
	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	tracker.Stop()
	if metricsSrvCancel != nil {
		metricsSrvCancel()
	}
	log.Println("shutdown complete")
}

// noopSource satisfies the positioning contract when GPS is disabled; it
// emits nothing and reports unavailability once.
type noopSource struct{}

type noopSub struct{}

func (noopSub) Unsubscribe() {}

func (noopSource) Subscribe(onSample func(location.Sample), onError func(error)) (location.Subscription, error) {
	go onError(location.ErrUnavailable)
	return noopSub{}, nil
}

// Nil-safe metric adapters: a nil *Collector must become a nil interface.

func broadcastMetrics(c *metrics.Collector) broadcast.Metrics {
	if c == nil {
		return nil
	}
	return c
}

func publishMetrics(c *metrics.Collector) publish.Metrics {
	if c == nil {
		return nil
	}
	return c
}

func locationMetrics(c *metrics.Collector) location.Metrics {
	if c == nil {
		return nil
	}
	return c
}
