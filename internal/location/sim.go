package location

import (
	"fmt"
	"sync"
	"time"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/route"
)

// SimSource is a positioning source that walks the route geometry at a
// constant speed, for running the daemon end to end without device GPS.
// When it reaches the last stop it turns around and walks back.
type SimSource struct {
	stops    []route.Stop
	speedMps float64
	emit     time.Duration
	now      func() time.Time
}

func NewSimSource(stops []route.Stop, speedMps float64, emit time.Duration) (*SimSource, error) {
	if len(stops) < 2 {
		return nil, fmt.Errorf("simulated source needs at least 2 stops, got %d", len(stops))
	}
	if speedMps <= 0 {
		speedMps = 8.0 // ~29 km/h
	}
	if emit <= 0 {
		emit = time.Second
	}
	return &SimSource{stops: stops, speedMps: speedMps, emit: emit, now: time.Now}, nil
}

type simSub struct {
	done chan struct{}
	once sync.Once
}

func (s *simSub) Unsubscribe() {
	s.once.Do(func() { close(s.done) })
}

func (s *SimSource) Subscribe(onSample func(Sample), onError func(error)) (Subscription, error) {
	sub := &simSub{done: make(chan struct{})}

	// Cumulative distances along the stop polyline.
	cum := make([]float64, len(s.stops))
	for i := 1; i < len(s.stops); i++ {
		a, b := s.stops[i-1], s.stops[i]
		cum[i] = cum[i-1] + geo.DistanceMeters(a.Lat, a.Lon, b.Lat, b.Lon)
	}
	total := cum[len(cum)-1]

	go func() {
		start := s.now()
		tick := time.NewTicker(s.emit)
		defer tick.Stop()
		for {
			select {
			case <-sub.done:
				return
			case now := <-tick.C:
				dist := s.speedMps * now.Sub(start).Seconds()
				if total > 0 {
					// Ping-pong along the polyline.
					lap := int(dist/total) % 2
					dist = dist - float64(int(dist/total))*total
					if lap == 1 {
						dist = total - dist
					}
				}
				lat, lon, brng := pointAt(s.stops, cum, dist)
				speed := s.speedMps
				onSample(Sample{
					Latitude:   lat,
					Longitude:  lon,
					Speed:      &speed,
					Heading:    &brng,
					CapturedAt: now,
				})
			}
		}
	}()
	return sub, nil
}

func pointAt(stops []route.Stop, cum []float64, dist float64) (lat, lon, bearing float64) {
	n := len(stops)
	if dist <= 0 {
		a, b := stops[0], stops[1]
		return a.Lat, a.Lon, geo.BearingDeg(a.Lat, a.Lon, b.Lat, b.Lon)
	}
	if dist >= cum[n-1] {
		a, b := stops[n-2], stops[n-1]
		return b.Lat, b.Lon, geo.BearingDeg(a.Lat, a.Lon, b.Lat, b.Lon)
	}
	i := 1
	for i < n && cum[i] < dist {
		i++
	}
	a, b := stops[i-1], stops[i]
	seg := cum[i] - cum[i-1]
	frac := 0.0
	if seg > 0 {
		frac = (dist - cum[i-1]) / seg
	}
	lat, lon = geo.Interpolate(a.Lat, a.Lon, b.Lat, b.Lon, frac)
	return lat, lon, geo.BearingDeg(a.Lat, a.Lon, b.Lat, b.Lon)
}
