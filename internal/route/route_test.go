package route

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRoute() Route {
	return Route{
		ID:        "route-7",
		Name:      "Campus Loop",
		BusNumber: "BUS-12",
		DriverID:  "drv-1",
		Stops: []Stop{
			{ID: "a", Name: "A", Order: 1, Lat: 43.23, Lon: 76.88},
			{ID: "b", Name: "B", Order: 2, Lat: 43.24, Lon: 76.89},
		},
	}
}

func TestValidateAcceptsGoodRoute(t *testing.T) {
	rt := validRoute()
	assert.NoError(t, rt.Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Route)
	}{
		{"missing bus number", func(r *Route) { r.BusNumber = "" }},
		{"missing route id", func(r *Route) { r.ID = "" }},
		{"no stops", func(r *Route) { r.Stops = nil }},
		{"stop without id", func(r *Route) { r.Stops[0].ID = "" }},
		{"order below one", func(r *Route) { r.Stops[0].Order = 0 }},
		{"duplicate order", func(r *Route) { r.Stops[1].Order = 1 }},
		{"duplicate stop id", func(r *Route) { r.Stops[1].ID = "a" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rt := validRoute()
			tc.mutate(&rt)
			assert.Error(t, rt.Validate())
		})
	}
}

func TestLoadSortsStopsByOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "route.json")
	data := `{
  "routeId": "route-7",
  "routeName": "Campus Loop",
  "busNumber": "BUS-12",
  "driverId": "drv-1",
  "driverName": "Asel",
  "stops": [
    {"id": "c", "name": "C", "order": 3, "lat": 43.25, "lon": 76.90},
    {"id": "a", "name": "A", "order": 1, "lat": 43.23, "lon": 76.88},
    {"id": "b", "name": "B", "order": 2, "lat": 43.24, "lon": 76.89}
  ]
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	rt, err := Load(path)
	require.NoError(t, err)
	require.Len(t, rt.Stops, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{rt.Stops[0].ID, rt.Stops[1].ID, rt.Stops[2].ID})
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
