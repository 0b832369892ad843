package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"bus-tracker/internal/store"
	"bus-tracker/internal/trip"
)

// Publisher is the slice of the dual-sink publisher the handlers need.
type Publisher interface {
	Publish(t trip.Transition)
	Degraded() bool
}

// Tracker controls the location sampling loop.
type Tracker interface {
	Start(ctx context.Context) error
	Stop()
	SetRouteState(state string)
}

// History reads past trips from the durable store.
type History interface {
	RecentTrips(ctx context.Context, busNumber string, limit int) ([]store.TripRecord, error)
}

// API is the driver-facing control surface: the HTTP stand-in for the UI
// actions that drive the trip session.
type API struct {
	session *trip.Session
	pub     Publisher
	tracker Tracker
	history History
	bus     string

	// base context for the tracker's lifetime; request contexts end with
	// the request and must not own the subscription
	base context.Context
}

func New(base context.Context, session *trip.Session, pub Publisher, tracker Tracker, history History, busNumber string) *API {
	return &API{
		session: session,
		pub:     pub,
		tracker: tracker,
		history: history,
		bus:     busNumber,
		base:    base,
	}
}

func (a *API) Routes() http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodPost, "/v1/trip/start", a.startHandler)
	router.HandlerFunc(http.MethodPost, "/v1/trip/reached", a.reachedHandler)
	router.HandlerFunc(http.MethodPost, "/v1/trip/cancel", a.cancelHandler)
	router.HandlerFunc(http.MethodGet, "/v1/trip", a.tripHandler)
	router.HandlerFunc(http.MethodGet, "/v1/trips", a.tripsHandler)
	router.HandlerFunc(http.MethodGet, "/v1/healthz", a.healthzHandler)
	return router
}

func (a *API) startHandler(w http.ResponseWriter, r *http.Request) {
	tr, ok := a.session.Start()
	if !ok {
		// Duplicate tap or cooldown in progress; deliberately not an error.
		sendJSON(w, http.StatusOK, envelope{
			Text: "ignored",
			Data: tripPayload(a.session.Snapshot(), a.pub.Degraded()),
		})
		return
	}
	a.pub.Publish(tr)
	a.tracker.SetRouteState(string(trip.StatusInProgress))
	if err := a.tracker.Start(a.base); err != nil {
		log.Printf("tracker start error: %v", err)
	}
	sendJSON(w, http.StatusOK, envelope{
		Text: "started",
		Data: tripPayload(tr.Trip, a.pub.Degraded()),
	})
}

func (a *API) reachedHandler(w http.ResponseWriter, r *http.Request) {
	tr, ok := a.session.MarkReached()
	if !ok {
		// No current stop: stale UI call, silently skipped.
		sendJSON(w, http.StatusOK, envelope{
			Text: "ignored",
			Data: tripPayload(a.session.Snapshot(), a.pub.Degraded()),
		})
		return
	}
	a.pub.Publish(tr)
	if tr.Kind == trip.TransitionTripCompleted {
		a.tracker.SetRouteState(string(trip.StatusCompleted))
		a.tracker.Stop()
	}
	sendJSON(w, http.StatusOK, envelope{
		Text: string(tr.Kind),
		Data: tripPayload(tr.Trip, a.pub.Degraded()),
	})
}

func (a *API) cancelHandler(w http.ResponseWriter, r *http.Request) {
	tr, ok := a.session.Cancel()
	if !ok {
		sendJSON(w, http.StatusOK, envelope{
			Text: "ignored",
			Data: tripPayload(a.session.Snapshot(), a.pub.Degraded()),
		})
		return
	}
	a.pub.Publish(tr)
	a.tracker.SetRouteState(string(trip.StatusCancelled))
	a.tracker.Stop()
	sendJSON(w, http.StatusOK, envelope{
		Text: "cancelled",
		Data: tripPayload(tr.Trip, a.pub.Degraded()),
	})
}

func (a *API) tripHandler(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, envelope{
		Text: "ok",
		Data: tripPayload(a.session.Snapshot(), a.pub.Degraded()),
	})
}

func (a *API) tripsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			sendJSON(w, http.StatusBadRequest, envelope{Text: "invalid limit"})
			return
		}
		limit = n
	}
	trips, err := a.history.RecentTrips(r.Context(), a.bus, limit)
	if err != nil {
		log.Printf("trip history error: %v", err)
		sendJSON(w, http.StatusInternalServerError, envelope{Text: "trip history unavailable"})
		return
	}
	sendJSON(w, http.StatusOK, envelope{Text: "ok", Data: trips})
}

func (a *API) healthzHandler(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, envelope{Text: "ok"})
}

type envelope struct {
	Text string `json:"text"`
	Data any    `json:"data,omitempty"`
}

type stopPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Order     int    `json:"order"`
	Status    string `json:"status"`
	ReachedAt *int64 `json:"reachedAt,omitempty"`
}

type tripView struct {
	TripID      string        `json:"tripId,omitempty"`
	RouteID     string        `json:"routeId"`
	RouteName   string        `json:"routeName,omitempty"`
	BusNumber   string        `json:"busNumber"`
	Status      string        `json:"status"`
	Stops       []stopPayload `json:"stops"`
	CurrentStop *stopPayload  `json:"currentStop"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	FinishedAt  *time.Time    `json:"finishedAt,omitempty"`
	Degraded    bool          `json:"degraded"`
}

func tripPayload(s trip.Snapshot, degraded bool) tripView {
	stops := make([]stopPayload, len(s.Stops))
	for i, st := range s.Stops {
		stops[i] = stopView(st)
	}
	v := tripView{
		TripID:    s.TripID,
		RouteID:   s.RouteID,
		RouteName: s.RouteName,
		BusNumber: s.BusNumber,
		Status:    string(s.Status),
		Stops:     stops,
		Degraded:  degraded,
	}
	if s.CurrentStop != nil {
		cur := stopView(*s.CurrentStop)
		v.CurrentStop = &cur
	}
	if !s.StartedAt.IsZero() {
		t := s.StartedAt
		v.StartedAt = &t
	}
	if !s.FinishedAt.IsZero() {
		t := s.FinishedAt
		v.FinishedAt = &t
	}
	return v
}

func stopView(st trip.StopSnapshot) stopPayload {
	p := stopPayload{
		ID:     st.ID,
		Name:   st.Name,
		Order:  st.Order,
		Status: string(st.Status),
	}
	if !st.ReachedAt.IsZero() {
		ms := st.ReachedAt.UnixMilli()
		p.ReachedAt = &ms
	}
	return p
}

func sendJSON(w http.ResponseWriter, status int, v envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response error: %v", err)
	}
}
