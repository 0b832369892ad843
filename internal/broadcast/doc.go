package broadcast

import "strings"

// Document types written to the broadcast store. Each is a closed record:
// optional telemetry fields are pointers with omitempty so the presence rule
// lives here once, not at call sites.

// LocationDoc mirrors the latest location sample plus the identity fields
// rider clients read alongside it.
type LocationDoc struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Timestamp int64    `json:"timestamp"` // epoch millis, client clock

	DriverID   string `json:"driverId,omitempty"`
	DriverName string `json:"driverName,omitempty"`
	BusNumber  string `json:"busNumber"`
	RouteID    string `json:"routeId,omitempty"`
	RouteName  string `json:"routeName,omitempty"`
	RouteState string `json:"routeState,omitempty"`
}

// StopDoc is the per-stop projection under stops/{stopId}.
type StopDoc struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Order     int    `json:"order"`
	Status    string `json:"status"`
	ReachedAt *int64 `json:"reachedAt,omitempty"` // epoch millis, client clock
	Notified  bool   `json:"notified"`
}

// RouteMetaDoc carries the identity fields the downstream notification
// trigger reads at the moment it fires. It must exist before routeState is
// written (see publish ordering).
type RouteMetaDoc struct {
	BusNumber  string `json:"busNumber"`
	RouteID    string `json:"routeId"`
	RouteName  string `json:"routeName,omitempty"`
	DriverID   string `json:"driverId,omitempty"`
	DriverName string `json:"driverName,omitempty"`
	TripID     string `json:"tripId"`
	StartedAt  int64  `json:"startedAt"` // epoch millis
}

// keyToken sanitizes one path segment for use in KV keys and subjects.
// Dots are the hierarchy separator, so they may not appear inside a token;
// spaces and NATS wildcards are equally illegal.
func keyToken(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
