package trip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/route"
)

func testRoute(stopNames ...string) *route.Route {
	rt := &route.Route{
		ID:         "route-7",
		Name:       "Campus Loop",
		BusNumber:  "BUS-12",
		DriverID:   "drv-1",
		DriverName: "Asel",
	}
	for i, name := range stopNames {
		rt.Stops = append(rt.Stops, route.Stop{
			ID:    "s" + string(rune('a'+i)),
			Name:  name,
			Order: i + 1,
		})
	}
	return rt
}

func statuses(s *Session) []StopStatus {
	snap := s.Snapshot()
	out := make([]StopStatus, len(snap.Stops))
	for i, st := range snap.Stops {
		out[i] = st.Status
	}
	return out
}

func TestStartPromotesFirstStop(t *testing.T) {
	s := NewSession(testRoute("A", "B", "C"), time.Minute)
	defer s.Close()

	tr, ok := s.Start()
	require.True(t, ok)
	assert.Equal(t, TransitionTripStarted, tr.Kind)
	assert.NotEmpty(t, tr.TripID)
	assert.Equal(t, StatusInProgress, s.Status())
	assert.Equal(t, []StopStatus{StopCurrent, StopPending, StopPending}, statuses(s))

	cur := s.CurrentStop()
	require.NotNil(t, cur)
	assert.Equal(t, "A", cur.Name)
	assert.Equal(t, 1, cur.Order)
}

func TestStartIsIdempotent(t *testing.T) {
	s := NewSession(testRoute("A", "B"), time.Minute)
	defer s.Close()

	tr1, ok := s.Start()
	require.True(t, ok)

	_, ok = s.Start()
	assert.False(t, ok, "second start must be a no-op")
	assert.Equal(t, []StopStatus{StopCurrent, StopPending}, statuses(s))
	assert.Equal(t, tr1.TripID, s.Snapshot().TripID, "trip identity must not change")
}

func TestMarkReachedWithoutCurrentStopIsNoOp(t *testing.T) {
	s := NewSession(testRoute("A", "B"), time.Minute)
	defer s.Close()

	before := s.Snapshot()
	_, ok := s.MarkReached()
	assert.False(t, ok)
	assert.Equal(t, before, s.Snapshot())
}

func TestThreeStopScenario(t *testing.T) {
	s := NewSession(testRoute("A", "B", "C"), time.Minute)
	defer s.Close()

	_, ok := s.Start()
	require.True(t, ok)
	assert.Equal(t, []StopStatus{StopCurrent, StopPending, StopPending}, statuses(s))

	tr, ok := s.MarkReached()
	require.True(t, ok)
	assert.Equal(t, TransitionStopReached, tr.Kind)
	assert.Equal(t, "A", tr.Reached.Name)
	assert.False(t, tr.Reached.ReachedAt.IsZero())
	require.NotNil(t, tr.Next)
	assert.Equal(t, "B", tr.Next.Name)
	assert.Equal(t, []StopStatus{StopReached, StopCurrent, StopPending}, statuses(s))
	assert.Equal(t, StatusInProgress, s.Status())

	tr, ok = s.MarkReached()
	require.True(t, ok)
	assert.Equal(t, "B", tr.Reached.Name)
	assert.Equal(t, "C", tr.Next.Name)
	assert.Equal(t, []StopStatus{StopReached, StopReached, StopCurrent}, statuses(s))

	tr, ok = s.MarkReached()
	require.True(t, ok)
	assert.Equal(t, TransitionTripCompleted, tr.Kind)
	assert.Equal(t, "C", tr.Reached.Name)
	assert.Nil(t, tr.Next)
	assert.Equal(t, StatusCompleted, s.Status())
	assert.Nil(t, s.CurrentStop())
	assert.Equal(t, []StopStatus{StopReached, StopReached, StopReached}, statuses(s))
	assert.False(t, s.Snapshot().FinishedAt.IsZero())
}

func TestReachedSetIsPrefixOfOrder(t *testing.T) {
	s := NewSession(testRoute("A", "B", "C", "D"), time.Minute)
	defer s.Close()

	_, ok := s.Start()
	require.True(t, ok)

	for step := 0; step < 3; step++ {
		_, ok := s.MarkReached()
		require.True(t, ok)
		snap := s.Snapshot()
		require.NotNil(t, snap.CurrentStop)
		for _, st := range snap.Stops {
			switch {
			case st.Order < snap.CurrentStop.Order:
				assert.Equal(t, StopReached, st.Status, "stop %s", st.ID)
			case st.Order == snap.CurrentStop.Order:
				assert.Equal(t, StopCurrent, st.Status, "stop %s", st.ID)
			default:
				assert.Equal(t, StopPending, st.Status, "stop %s", st.ID)
			}
		}
	}
}

func TestSingleStopTripCompletesImmediately(t *testing.T) {
	s := NewSession(testRoute("Only"), time.Minute)
	defer s.Close()

	_, ok := s.Start()
	require.True(t, ok)

	tr, ok := s.MarkReached()
	require.True(t, ok)
	assert.Equal(t, TransitionTripCompleted, tr.Kind)
	assert.Nil(t, s.CurrentStop())
}

func TestAutoResetAfterCooldown(t *testing.T) {
	s := NewSession(testRoute("A", "B"), 20*time.Millisecond)
	defer s.Close()

	resets := make(chan struct{}, 1)
	s.OnReset(func() { resets <- struct{}{} })

	_, ok := s.Start()
	require.True(t, ok)
	_, ok = s.MarkReached()
	require.True(t, ok)
	_, ok = s.MarkReached()
	require.True(t, ok)
	require.Equal(t, StatusCompleted, s.Status())

	select {
	case <-resets:
	case <-time.After(time.Second):
		t.Fatal("cooldown reset did not fire")
	}
	assert.Equal(t, StatusNotStarted, s.Status())
	assert.Equal(t, []StopStatus{StopPending, StopPending}, statuses(s))
	assert.Nil(t, s.CurrentStop())

	// A fresh trip must be possible right away.
	tr, ok := s.Start()
	require.True(t, ok)
	assert.Equal(t, TransitionTripStarted, tr.Kind)
}

func TestCancelResetsAfterCooldown(t *testing.T) {
	s := NewSession(testRoute("A", "B"), 20*time.Millisecond)
	defer s.Close()

	resets := make(chan struct{}, 1)
	s.OnReset(func() { resets <- struct{}{} })

	_, ok := s.Start()
	require.True(t, ok)
	tr, ok := s.Cancel()
	require.True(t, ok)
	assert.Equal(t, TransitionTripCancelled, tr.Kind)
	assert.Equal(t, StatusCancelled, s.Status())
	assert.Nil(t, s.CurrentStop())

	_, ok = s.Cancel()
	assert.False(t, ok, "cancel twice must be a no-op")

	select {
	case <-resets:
	case <-time.After(time.Second):
		t.Fatal("cooldown reset did not fire")
	}
	assert.Equal(t, StatusNotStarted, s.Status())
}

func TestResetIsImmediateAndIdempotent(t *testing.T) {
	s := NewSession(testRoute("A", "B"), time.Hour)
	defer s.Close()

	_, ok := s.Start()
	require.True(t, ok)
	_, ok = s.MarkReached()
	require.True(t, ok)

	s.Reset()
	s.Reset()
	assert.Equal(t, StatusNotStarted, s.Status())
	assert.Equal(t, []StopStatus{StopPending, StopPending}, statuses(s))
}
