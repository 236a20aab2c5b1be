package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/lascruzadas/carpool/internal/model"
	"github.com/lascruzadas/carpool/internal/repository"
)

var t0 = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

// stepClock returns start, start+step, start+2*step, ...
type stepClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(c.step)
	return now
}

type fixture struct {
	rides *repository.MemoryRideRepo
	queue *repository.MemoryQueueRepo
	dir   *repository.MemoryDirectory
	hook  *logtest.Hook
	coord *Coordinator
}

type fixtureOption func(*Deps, *Options)

func withRides(wrap func(RideStore) RideStore) fixtureOption {
	return func(d *Deps, _ *Options) { d.Rides = wrap(d.Rides) }
}

func withQueue(wrap func(QueueStore) QueueStore) fixtureOption {
	return func(d *Deps, _ *Options) { d.Queue = wrap(d.Queue) }
}

func withPoints(p PointsLedger) fixtureOption {
	return func(d *Deps, _ *Options) { d.Points = p }
}

func withOptions(fn func(*Options)) fixtureOption {
	return func(_ *Deps, o *Options) { fn(o) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &fixture{
		rides: repository.NewMemoryRideRepo(),
		queue: repository.NewMemoryQueueRepo(),
		dir:   repository.NewMemoryDirectory(),
		hook:  hook,
	}
	for _, id := range []string{"E1", "E2"} {
		f.dir.PutEvent(model.Event{ID: id, Name: "Event " + id, StartsAt: t0, Location: "Plaza"})
	}
	for _, id := range []string{"U1", "U2", "U3", "U4", "U5", "D1", "D2"} {
		f.dir.PutUser(model.User{ID: id, Nickname: "nick-" + id, Role: "USER"})
	}

	deps := Deps{Rides: f.rides, Queue: f.queue, Users: f.dir, Events: f.dir, Points: f.dir}
	o := Options{Log: logger}
	for _, opt := range opts {
		opt(&deps, &o)
	}
	f.coord = NewCoordinator(deps, o)
	f.coord.registry.now = (&stepClock{next: t0, step: time.Second}).Now
	f.coord.queue.now = (&stepClock{next: t0, step: time.Second}).Now
	return f
}

func (f *fixture) createRide(t *testing.T, driver, event string, seats int) *model.Ride {
	t.Helper()
	ride, err := f.coord.CreateRide(context.Background(), CreateRideInput{
		DriverID: driver, EventID: event, SeatCount: seats,
		DeparturePoint: "Mercado", DepartureTime: "17:30",
	})
	require.NoError(t, err)
	return ride
}

func (f *fixture) points(t *testing.T, userID string) int {
	t.Helper()
	u, err := f.dir.GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.Points
}

func (f *fixture) entries(level logrus.Level, msg string) int {
	n := 0
	for _, e := range f.hook.AllEntries() {
		if e.Level == level && e.Message == msg {
			n++
		}
	}
	return n
}

// stealingStore books the target seat for an intruder right before
// every booking attempt, simulating a competing request that wins the
// race between the read and the write.
type stealingStore struct {
	RideStore
	mu     sync.Mutex
	steals int
	limit  int
}

func (s *stealingStore) BookSeat(ctx context.Context, rideID, userID string, seat int) (*model.Ride, error) {
	s.mu.Lock()
	steal := s.limit == 0 || s.steals < s.limit
	if steal {
		s.steals++
	}
	s.mu.Unlock()
	if steal {
		if _, err := s.RideStore.BookSeat(ctx, rideID, "intruder", seat); err != nil {
			return nil, err
		}
	}
	return s.RideStore.BookSeat(ctx, rideID, userID, seat)
}

// failingQueue fails AssignWaiting.
type failingQueue struct {
	QueueStore
}

func (failingQueue) AssignWaiting(context.Context, string, string, string) (bool, error) {
	return false, errors.New("queue store down")
}

type failingLedger struct{}

func (failingLedger) AddPoints(context.Context, string, int, string) error {
	return errors.New("broker unreachable")
}
