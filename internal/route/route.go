package route

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Stop is a waypoint on a route as configured upstream. The coordinates are
// only used by the simulated positioning source; the trip state machine keys
// everything off ID and Order.
type Stop struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Order int     `json:"order"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

// Route is the read-only configuration one driver daemon serves: a bus, its
// driver, and the ordered stop list.
type Route struct {
	ID         string `json:"routeId"`
	Name       string `json:"routeName"`
	BusNumber  string `json:"busNumber"`
	DriverID   string `json:"driverId"`
	DriverName string `json:"driverName"`
	Stops      []Stop `json:"stops"`
}

// Load reads and validates a route configuration file. Stops are returned
// sorted ascending by Order.
func Load(path string) (*Route, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read route file: %w", err)
	}
	var rt Route
	if err := json.Unmarshal(b, &rt); err != nil {
		return nil, fmt.Errorf("parse route file: %w", err)
	}
	if err := rt.Validate(); err != nil {
		return nil, err
	}
	sort.Slice(rt.Stops, func(i, j int) bool { return rt.Stops[i].Order < rt.Stops[j].Order })
	return &rt, nil
}

func (r *Route) Validate() error {
	if r.BusNumber == "" {
		return fmt.Errorf("route %q: busNumber is required", r.ID)
	}
	if r.ID == "" {
		return fmt.Errorf("route for bus %q: routeId is required", r.BusNumber)
	}
	if len(r.Stops) == 0 {
		return fmt.Errorf("route %q: at least one stop is required", r.ID)
	}
	seenOrder := make(map[int]string, len(r.Stops))
	seenID := make(map[string]bool, len(r.Stops))
	for _, st := range r.Stops {
		if st.ID == "" {
			return fmt.Errorf("route %q: stop %q has no id", r.ID, st.Name)
		}
		if st.Order < 1 {
			return fmt.Errorf("route %q: stop %q has order %d, want >= 1", r.ID, st.ID, st.Order)
		}
		if other, dup := seenOrder[st.Order]; dup {
			return fmt.Errorf("route %q: stops %q and %q share order %d", r.ID, other, st.ID, st.Order)
		}
		if seenID[st.ID] {
			return fmt.Errorf("route %q: duplicate stop id %q", r.ID, st.ID)
		}
		seenOrder[st.Order] = st.ID
		seenID[st.ID] = true
	}
	return nil
}
