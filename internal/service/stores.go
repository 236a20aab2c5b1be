package service

import (
	"context"
	"time"

	"github.com/lascruzadas/carpool/internal/model"
)

// RideStore persists rides with their seats.  Seat mutations must be
// atomic per ride: BookSeat succeeds only when the seat is free at the
// moment of the write and fails with repository.ErrSeatTaken otherwise.
// Implemented by repository.RideRepo and repository.MemoryRideRepo.
type RideStore interface {
	CreateRide(ctx context.Context, ride *model.Ride) error
	GetRide(ctx context.Context, id string) (*model.Ride, error)
	ListRidesByEvent(ctx context.Context, eventID string) ([]model.Ride, error)
	ListRidesByEvents(ctx context.Context, eventIDs []string, limit int) ([]model.Ride, error)
	DeleteRide(ctx context.Context, id, driverID string) error
	BookSeat(ctx context.Context, rideID, userID string, seat int) (*model.Ride, error)
	ReleaseSeatNumber(ctx context.Context, rideID string, seat int, holder string) (*model.Ride, string, error)
	ReleaseSeatOf(ctx context.Context, rideID, userID string) (*model.Ride, int, error)
	ReconcileFreeCounts(ctx context.Context) ([]model.FreeSeatDrift, error)
}

// QueueStore persists the passenger waiting list.  InsertWaiting fails
// with repository.ErrDuplicateWaiting when the user already waits for
// the event, and DequeueOldest hands out each entry at most once.
type QueueStore interface {
	InsertWaiting(ctx context.Context, e *model.QueueEntry) error
	FindWaiting(ctx context.Context, userID, eventID string) (*model.QueueEntry, error)
	DequeueOldest(ctx context.Context, eventID, rideID string) (*model.QueueEntry, error)
	AssignWaiting(ctx context.Context, userID, eventID, rideID string) (bool, error)
	WaitingPosition(ctx context.Context, userID, eventID string) (int, error)
	RequeueRide(ctx context.Context, rideID string) (int, error)
	RequeueUser(ctx context.Context, userID, eventID, rideID string) (bool, error)
	Requeue(ctx context.Context, entryID string) (bool, error)
}

// UserDirectory resolves users.  The engine never mutates them.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	FindUserID(ctx context.Context, nickname string) (string, error)
}

// EventDirectory resolves events.
type EventDirectory interface {
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	ListRecentEvents(ctx context.Context, since time.Time) ([]model.Event, error)
}

// PointsLedger applies a signed delta to a user's points.
type PointsLedger interface {
	AddPoints(ctx context.Context, userID string, amount int, reason string) error
}
