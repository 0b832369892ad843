package location

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/route"
)

var simStops = []route.Stop{
	{ID: "a", Name: "A", Order: 1, Lat: 43.2389, Lon: 76.8897},
	{ID: "b", Name: "B", Order: 2, Lat: 43.2400, Lon: 76.8950},
	{ID: "c", Name: "C", Order: 3, Lat: 43.2450, Lon: 76.9000},
}

func TestSimSourceNeedsTwoStops(t *testing.T) {
	_, err := NewSimSource(simStops[:1], 8, time.Second)
	assert.Error(t, err)
}

func TestSimSourceEmitsSamplesAlongRoute(t *testing.T) {
	src, err := NewSimSource(simStops, 50, 5*time.Millisecond)
	require.NoError(t, err)

	var mu sync.Mutex
	var samples []Sample
	sub, err := src.Subscribe(func(s Sample) {
		mu.Lock()
		samples = append(samples, s)
		mu.Unlock()
	}, func(error) {})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(samples) >= 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, s := range samples {
		assert.InDelta(t, 43.24, s.Latitude, 0.02)
		assert.InDelta(t, 76.89, s.Longitude, 0.02)
		require.NotNil(t, s.Speed)
		assert.Equal(t, 50.0, *s.Speed)
		require.NotNil(t, s.Heading)
		assert.GreaterOrEqual(t, *s.Heading, 0.0)
		assert.Less(t, *s.Heading, 360.0)
		assert.False(t, s.CapturedAt.IsZero())
	}
}

func TestSimSourceUnsubscribeIsIdempotent(t *testing.T) {
	src, err := NewSimSource(simStops, 8, time.Millisecond)
	require.NoError(t, err)
	sub, err := src.Subscribe(func(Sample) {}, func(error) {})
	require.NoError(t, err)
	sub.Unsubscribe()
	sub.Unsubscribe()
}

func TestPointAtEndpoints(t *testing.T) {
	cum := []float64{0, 100, 250}
	lat, lon, _ := pointAt(simStops, cum, 0)
	assert.Equal(t, simStops[0].Lat, lat)
	assert.Equal(t, simStops[0].Lon, lon)

	lat, lon, _ = pointAt(simStops, cum, 1000)
	assert.Equal(t, simStops[2].Lat, lat)
	assert.Equal(t, simStops[2].Lon, lon)

	// Midway through the first segment.
	lat, lon, _ = pointAt(simStops, cum, 50)
	assert.InDelta(t, (simStops[0].Lat+simStops[1].Lat)/2, lat, 1e-9)
	assert.InDelta(t, (simStops[0].Lon+simStops[1].Lon)/2, lon, 1e-9)
}
