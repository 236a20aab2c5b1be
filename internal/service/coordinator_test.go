package service

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lascruzadas/carpool/internal/model"
)

func TestParseReleasePolicy(t *testing.T) {
	for in, want := range map[string]ReleasePolicy{
		"":          ReleaseKeep,
		"keep":      ReleaseKeep,
		" Requeue ": ReleaseRequeue,
	} {
		got, err := ParseReleasePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseReleasePolicy("drop")
	assert.Error(t, err)
}

func TestDeleteRideScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ride := f.createRide(t, "D1", "E2", 3)

	assert.ErrorIs(t, f.coord.DeleteRide(ctx, ride.ID, "D2"), ErrForbidden)
	require.NoError(t, f.coord.DeleteRide(ctx, ride.ID, "D1"))

	_, err := f.coord.GetRide(ctx, ride.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.coord.DeleteRide(ctx, ride.ID, "D1"), ErrNotFound)
}

func TestCreateRideValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, seats := range []int{0, -1, DefaultMaxSeatsPerRide + 1} {
		_, err := f.coord.CreateRide(ctx, CreateRideInput{DriverID: "D1", EventID: "E1", SeatCount: seats})
		assert.ErrorIs(t, err, ErrInvalidInput, "seats=%d", seats)
	}
	_, err := f.coord.CreateRide(ctx, CreateRideInput{DriverID: "", EventID: "E1", SeatCount: 2})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.coord.CreateRide(ctx, CreateRideInput{DriverID: "D1", EventID: "missing", SeatCount: 2})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, f.points(t, "D1"))

	ride := f.createRide(t, "D1", "E1", DefaultMaxSeatsPerRide)
	assert.Equal(t, DefaultMaxSeatsPerRide, ride.SeatsFree)
	for i, s := range ride.Seats {
		assert.Equal(t, i+1, s.Number)
		assert.True(t, s.Free())
	}
	assert.Equal(t, DriverPoints, f.points(t, "D1"))
}

func TestRequestSeatAssignsWaitingEntryAndRewards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ride := f.createRide(t, "D1", "E1", 2)

	_, _, err := f.coord.JoinQueue(ctx, "U1", "E1", "")
	require.NoError(t, err)
	_, err = f.coord.RequestSeat(ctx, "U1", ride.ID, 2)
	require.NoError(t, err)

	entries := f.queue.Entries("E1")
	require.Len(t, entries, 1)
	assert.Equal(t, model.Assigned{RideID: ride.ID}, entries[0].Status)
	assert.Equal(t, PassengerPoints, f.points(t, "U1"))

	logs := f.dir.PointLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, ReasonRideCreated, logs[0].Reason)
	assert.Equal(t, ReasonSeatBooked, logs[1].Reason)
}

func TestRequestSeatSurvivesQueueFailure(t *testing.T) {
	f := newFixture(t, withQueue(func(q QueueStore) QueueStore { return failingQueue{q} }))
	ctx := context.Background()
	ride := f.createRide(t, "D1", "E1", 2)

	got, err := f.coord.RequestSeat(ctx, "U1", ride.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SeatsFree)
	assert.Equal(t, 1, f.entries(logrus.WarnLevel, "queue entry not marked assigned after booking"))
}

func TestRewardFailureIsLogged(t *testing.T) {
	f := newFixture(t, withPoints(failingLedger{}))
	ctx := context.Background()

	ride := f.createRide(t, "D1", "E1", 2)
	_, err := f.coord.RequestSeat(ctx, "U1", ride.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, f.entries(logrus.WarnLevel, "points reward failed"))
}

func TestLeaveRidePermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ride := f.createRide(t, "D1", "E1", 3)
	for seat, user := range map[int]string{1: "U1", 2: "U2"} {
		_, err := f.coord.RequestSeat(ctx, user, ride.ID, seat)
		require.NoError(t, err)
	}

	_, err := f.coord.LeaveRide(ctx, ride.ID, BySeat(2), "U1")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.coord.LeaveRide(ctx, ride.ID, ByUser("U2"), "U1")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.coord.LeaveRide(ctx, ride.ID, BySeat(3), "U1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.coord.LeaveRide(ctx, "missing", ByUser("U1"), "U1")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := f.coord.LeaveRide(ctx, ride.ID, BySeat(1), "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{"U2"}, got.Passengers)

	got, err = f.coord.LeaveRide(ctx, ride.ID, ByUser("U2"), "D1")
	require.NoError(t, err)
	assert.Empty(t, got.Passengers)
	assert.Equal(t, 3, got.SeatsFree)

	_, err = f.coord.LeaveRide(ctx, ride.ID, ByUser("U2"), "U2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReleasePolicies(t *testing.T) {
	run := func(t *testing.T, policy ReleasePolicy) *fixture {
		f := newFixture(t, withOptions(func(o *Options) { o.ReleasePolicy = policy }))
		ctx := context.Background()
		ride := f.createRide(t, "D1", "E1", 2)
		for _, u := range []string{"U1", "U2"} {
			_, _, err := f.coord.JoinQueue(ctx, u, "E1", "")
			require.NoError(t, err)
		}
		_, err := f.coord.RequestSeat(ctx, "U1", ride.ID, 1)
		require.NoError(t, err)
		_, err = f.coord.LeaveRide(ctx, ride.ID, ByUser("U1"), "U1")
		require.NoError(t, err)
		return f
	}

	t.Run("keep", func(t *testing.T) {
		f := run(t, ReleaseKeep)
		st, err := f.coord.QueueStatus(context.Background(), "U1", "E1")
		require.NoError(t, err)
		assert.False(t, st.Waiting)
	})
	t.Run("requeue", func(t *testing.T) {
		f := run(t, ReleaseRequeue)
		st, err := f.coord.QueueStatus(context.Background(), "U1", "E1")
		require.NoError(t, err)
		assert.Equal(t, QueueStatus{Waiting: true, Position: 1}, st)
		assert.Equal(t, 1, f.entries(logrus.InfoLevel, "passenger back in line"))
	})
}

func TestDeleteRideRequeuesAssignedPassengers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ride := f.createRide(t, "D1", "E1", 3)

	for _, u := range []string{"U1", "U2", "U3"} {
		_, _, err := f.coord.JoinQueue(ctx, u, "E1", "")
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, _, err := f.coord.PromoteNext(ctx, ride.ID, "D1")
		require.NoError(t, err)
	}
	// U2 lines up again while still assigned to the ride.
	_, created, err := f.coord.JoinQueue(ctx, "U2", "E1", "")
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, f.coord.DeleteRide(ctx, ride.ID, "D1"))

	st, err := f.coord.QueueStatus(ctx, "U1", "E1")
	require.NoError(t, err)
	assert.Equal(t, QueueStatus{Waiting: true, Position: 1}, st)

	for _, e := range f.queue.Entries("E1") {
		_, bound := model.RideOf(e.Status)
		assert.False(t, bound, "entry %s still points at the deleted ride", e.ID)
		assert.LessOrEqual(t, waitingCount(f, e.UserID, "E1"), 1)
	}
	assert.Equal(t, 1, waitingCount(f, "U2", "E1"))
}

func TestPromoteNext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ride := f.createRide(t, "D1", "E1", 1)

	entry, booked, err := f.coord.PromoteNext(ctx, ride.ID, "D1")
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.Nil(t, booked)

	for _, u := range []string{"U1", "U2"} {
		_, _, err := f.coord.JoinQueue(ctx, u, "E1", "")
		require.NoError(t, err)
	}

	_, _, err = f.coord.PromoteNext(ctx, ride.ID, "U3")
	assert.ErrorIs(t, err, ErrForbidden)
	_, _, err = f.coord.PromoteNext(ctx, "missing", "D1")
	assert.ErrorIs(t, err, ErrNotFound)

	entry, booked, err = f.coord.PromoteNext(ctx, ride.ID, "D1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "U1", entry.UserID)
	assert.Equal(t, model.Assigned{RideID: ride.ID}, entry.Status)
	assert.Equal(t, []string{"U1"}, booked.Passengers)
	assert.Equal(t, PassengerPoints, f.points(t, "U1"))

	_, _, err = f.coord.PromoteNext(ctx, ride.ID, "D1")
	assert.ErrorIs(t, err, ErrSeatUnavailable)
	waiting, err := f.coord.queue.IsWaiting(ctx, "U2", "E1")
	require.NoError(t, err)
	assert.True(t, waiting)
}

func TestPromoteNextPutsEntryBackWhenBookingFails(t *testing.T) {
	f := newFixture(t,
		withRides(func(r RideStore) RideStore { return &stealingStore{RideStore: r} }),
		withOptions(func(o *Options) { o.FirstFreeSeatAttempts = 1 }),
	)
	ctx := context.Background()
	ride := f.createRide(t, "D1", "E1", 2)
	_, _, err := f.coord.JoinQueue(ctx, "U1", "E1", "")
	require.NoError(t, err)

	_, _, err = f.coord.PromoteNext(ctx, ride.ID, "D1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSeatUnavailable)
	assert.Contains(t, err.Error(), "could not assign queued passenger to ride")

	st, err := f.coord.QueueStatus(ctx, "U1", "E1")
	require.NoError(t, err)
	assert.Equal(t, QueueStatus{Waiting: true, Position: 1}, st)
}

func TestListRidesForEventOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	older := f.createRide(t, "D1", "E1", 2)
	newer := f.createRide(t, "D2", "E1", 3)
	roomy := f.createRide(t, "D1", "E1", 3)
	f.createRide(t, "D1", "E2", 8)
	_, err := f.coord.RequestSeat(ctx, "U1", newer.ID, 1)
	require.NoError(t, err)

	rides, err := f.coord.ListRidesForEvent(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, rides, 3)
	assert.Equal(t, []string{roomy.ID, older.ID, newer.ID}, []string{rides[0].ID, rides[1].ID, rides[2].ID})
	assert.Equal(t, []int{3, 2, 2}, []int{rides[0].SeatsFree, rides[1].SeatsFree, rides[2].SeatsFree})

	_, err = f.coord.ListRidesForEvent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentRides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.dir.PutEvent(model.Event{ID: "OLD", Name: "Old", StartsAt: t0.Add(-30 * 24 * time.Hour)})
	f.coord.registry.now = func() time.Time { return t0.Add(24 * time.Hour) }

	first := f.createRide(t, "D1", "E1", 2)
	f.coord.registry.now = func() time.Time { return t0.Add(25 * time.Hour) }
	second := f.createRide(t, "D2", "E2", 2)
	f.createRide(t, "D1", "OLD", 2)

	items, err := f.coord.RecentRides(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].Ride.ID)
	assert.Equal(t, "Event E2", items[0].EventName)
	assert.Equal(t, first.ID, items[1].Ride.ID)

	items, err = f.coord.RecentRides(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestNicknames(t *testing.T) {
	f := newFixture(t)
	got, err := f.coord.Nicknames(context.Background(), "D1", "U2", "D1", "ghost", "")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"D1": "nick-D1", "U2": "nick-U2"}, got)
}

func TestReconcilerRepairsDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ride := f.createRide(t, "D1", "E1", 3)
	_, err := f.coord.RequestSeat(ctx, "U1", ride.ID, 1)
	require.NoError(t, err)
	f.rides.SetCachedFree(ride.ID, 3)

	logger, hook := logtest.NewNullLogger()
	r := NewReconciler(f.rides, 0, logger)
	drifts, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.FreeSeatDrift{{RideID: ride.ID, Cached: 3, Actual: 2}}, drifts)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	got, err := f.coord.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SeatsFree)

	drifts, err = r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestReconcilerRunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	logger, _ := logtest.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewReconciler(f.rides, time.Millisecond, logger).Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop")
	}
}
