package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lascruzadas/carpool/internal/model"
)

// ReleasePolicy decides what happens to a passenger's queue entry when
// they give up their last seat in a ride.
type ReleasePolicy string

const (
	// ReleaseKeep leaves the entry ASSIGNED; the passenger gave up their
	// place in line.
	ReleaseKeep ReleasePolicy = "keep"
	// ReleaseRequeue puts the entry back in line at its original place.
	ReleaseRequeue ReleasePolicy = "requeue"
)

// ParseReleasePolicy reads a policy name.  Empty means ReleaseKeep.
func ParseReleasePolicy(s string) (ReleasePolicy, error) {
	switch p := ReleasePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", ReleaseKeep:
		return ReleaseKeep, nil
	case ReleaseRequeue:
		return ReleaseRequeue, nil
	default:
		return "", fmt.Errorf("unknown release policy %q", s)
	}
}

// Deps are the stores and directories a Coordinator works on.
type Deps struct {
	Rides  RideStore
	Queue  QueueStore
	Users  UserDirectory
	Events EventDirectory
	Points PointsLedger
}

// Options tune a Coordinator.  Zero values select the defaults.
type Options struct {
	ReleasePolicy         ReleasePolicy
	FirstFreeSeatAttempts int
	MaxSeatsPerRide       int
	FeedWindow            time.Duration
	Log                   logrus.FieldLogger
}

// QueueStatus is a passenger's standing in an event's line.
type QueueStatus struct {
	Waiting  bool `json:"waiting"`
	Position int  `json:"position"`
}

// Coordinator is the only component that touches both the seat ledger
// and the passenger queue for a single user action.
type Coordinator struct {
	registry *RideRegistry
	ledger   *SeatLedger
	queue    *PassengerQueue
	users    UserDirectory
	events   EventDirectory
	rewards  rewarder
	policy   ReleasePolicy
	log      logrus.FieldLogger
}

// NewCoordinator wires the engine together.
func NewCoordinator(d Deps, o Options) *Coordinator {
	log := o.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	policy := o.ReleasePolicy
	if policy == "" {
		policy = ReleaseKeep
	}
	return &Coordinator{
		registry: NewRideRegistry(d.Rides, d.Events, o.MaxSeatsPerRide).WithFeedWindow(o.FeedWindow),
		ledger:   NewSeatLedger(d.Rides, o.FirstFreeSeatAttempts, log),
		queue:    NewPassengerQueue(d.Queue),
		users:    d.Users,
		events:   d.Events,
		rewards:  rewarder{ledger: d.Points, log: log, timeout: 5 * time.Second},
		policy:   policy,
		log:      log,
	}
}

// Registry exposes the ride registry for read-only queries.
func (c *Coordinator) Registry() *RideRegistry { return c.registry }

// RequestSeat books seat for userID, then marks the user's waiting
// entry for the ride's event as assigned and grants the passenger
// reward.  Both follow-ups are best effort: the booking stands if they
// fail.
func (c *Coordinator) RequestSeat(ctx context.Context, userID, rideID string, seat int) (*model.Ride, error) {
	ride, err := c.ledger.BookSeatByNumber(ctx, rideID, userID, seat)
	if err != nil {
		return nil, err
	}
	c.afterBooking(ctx, userID, ride)
	return ride, nil
}

// RequestAnySeat is RequestSeat on the lowest free seat.
func (c *Coordinator) RequestAnySeat(ctx context.Context, userID, rideID string) (*model.Ride, error) {
	ride, err := c.ledger.BookFirstFreeSeat(ctx, rideID, userID)
	if err != nil {
		return nil, err
	}
	c.afterBooking(ctx, userID, ride)
	return ride, nil
}

func (c *Coordinator) afterBooking(ctx context.Context, userID string, ride *model.Ride) {
	fields := logrus.Fields{"user_id": userID, "ride_id": ride.ID, "event_id": ride.EventID}
	if _, err := c.queue.AssignWaiting(ctx, userID, ride.EventID, ride.ID); err != nil {
		c.log.WithFields(fields).WithError(err).Warn("queue entry not marked assigned after booking")
	}
	c.rewards.grant(ctx, userID, PassengerPoints, ReasonSeatBooked)
	c.log.WithFields(fields).WithField("seats_free", ride.SeatsFree).Info("seat booked")
}

// LeaveRide releases a seat.  Passengers may release their own seat and
// the driver may release any seat.
func (c *Coordinator) LeaveRide(ctx context.Context, rideID string, sel SeatSelector, requesterID string) (*model.Ride, error) {
	if requesterID == "" {
		return nil, ErrInvalidInput
	}
	ride, err := c.registry.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID != requesterID {
		if userID, ok := sel.User(); ok && userID != requesterID {
			return nil, ErrForbidden
		}
		if seat, ok := sel.Seat(); ok {
			for _, s := range ride.Seats {
				if s.Number == seat && s.OccupantID != nil && *s.OccupantID != requesterID {
					return nil, ErrForbidden
				}
			}
			sel = sel.HeldBy(requesterID)
		}
	}
	updated, occupant, seat, err := c.ledger.ReleaseSeat(ctx, rideID, sel)
	if err != nil {
		return nil, err
	}
	fields := logrus.Fields{"ride_id": rideID, "user_id": occupant, "seat": seat}
	c.log.WithFields(fields).Info("seat released")
	if c.policy == ReleaseRequeue && !updated.HasPassenger(occupant) {
		ok, err := c.queue.RequeueUser(ctx, occupant, updated.EventID, updated.ID)
		if err != nil {
			c.log.WithFields(fields).WithError(err).Warn("requeue after release failed")
		} else if ok {
			c.log.WithFields(fields).Info("passenger back in line")
		}
	}
	return updated, nil
}

// JoinQueue puts the user in line for an event.  created=false means the
// user was already waiting; that is not an error.
func (c *Coordinator) JoinQueue(ctx context.Context, userID, eventID, note string) (*model.QueueEntry, bool, error) {
	if _, err := c.events.GetEvent(ctx, eventID); err != nil {
		return nil, false, translate(err)
	}
	return c.queue.Enqueue(ctx, userID, eventID, note)
}

// QueueStatus reports whether the user waits for the event and where.
func (c *Coordinator) QueueStatus(ctx context.Context, userID, eventID string) (QueueStatus, error) {
	pos, err := c.queue.Position(ctx, userID, eventID)
	if err != nil {
		return QueueStatus{}, fmt.Errorf("queue position: %w", err)
	}
	return QueueStatus{Waiting: pos > 0, Position: pos}, nil
}

// DequeueNext takes the oldest waiter of an event off the line.  With a
// ride the entry is bound to it and only the ride's driver may call it;
// the ride must belong to the event.
func (c *Coordinator) DequeueNext(ctx context.Context, eventID, rideID, requesterID string) (*model.QueueEntry, error) {
	if _, err := c.events.GetEvent(ctx, eventID); err != nil {
		return nil, translate(err)
	}
	if rideID != "" {
		ride, err := c.registry.GetRide(ctx, rideID)
		if err != nil {
			return nil, err
		}
		if ride.EventID != eventID {
			return nil, fmt.Errorf("%w: ride belongs to another event", ErrInvalidInput)
		}
		if ride.DriverID != requesterID {
			return nil, ErrForbidden
		}
	}
	return c.queue.DequeueNext(ctx, eventID, rideID)
}

// PromoteNext seats the oldest waiter of the ride's event in the ride.
// Only the driver may promote.  A full ride dequeues nobody; a booking
// that fails after the dequeue puts the entry back in line.  A nil entry
// with a nil error means nobody was waiting.
func (c *Coordinator) PromoteNext(ctx context.Context, rideID, requesterID string) (*model.QueueEntry, *model.Ride, error) {
	ride, err := c.registry.GetRide(ctx, rideID)
	if err != nil {
		return nil, nil, err
	}
	if ride.DriverID != requesterID {
		return nil, nil, ErrForbidden
	}
	if ride.FreeSeats() == 0 {
		return nil, nil, ErrSeatUnavailable
	}
	entry, err := c.queue.DequeueNext(ctx, ride.EventID, ride.ID)
	if err != nil || entry == nil {
		return nil, nil, err
	}
	fields := logrus.Fields{"ride_id": ride.ID, "event_id": ride.EventID, "user_id": entry.UserID, "entry_id": entry.ID}
	booked, err := c.ledger.BookFirstFreeSeat(ctx, ride.ID, entry.UserID)
	if err != nil {
		if _, rqErr := c.queue.Requeue(ctx, entry.ID); rqErr != nil {
			c.log.WithFields(fields).WithError(rqErr).Error("promoted entry could not be put back in line")
		}
		return nil, nil, fmt.Errorf("could not assign queued passenger to ride: %w", err)
	}
	c.rewards.grant(ctx, entry.UserID, PassengerPoints, ReasonSeatBooked)
	c.log.WithFields(fields).Info("queued passenger promoted")
	return entry, booked, nil
}

// CreateRide creates a ride and grants the driver reward.
func (c *Coordinator) CreateRide(ctx context.Context, in CreateRideInput) (*model.Ride, error) {
	ride, err := c.registry.CreateRide(ctx, in)
	if err != nil {
		return nil, err
	}
	c.rewards.grant(ctx, ride.DriverID, DriverPoints, ReasonRideCreated)
	c.log.WithFields(logrus.Fields{
		"ride_id":  ride.ID,
		"event_id": ride.EventID,
		"seats":    ride.Capacity(),
	}).Info("ride created")
	return ride, nil
}

// DeleteRide deletes a ride and sends every passenger assigned to it
// back in line.  A failed sweep is logged; the deletion stands.
func (c *Coordinator) DeleteRide(ctx context.Context, rideID, requesterID string) error {
	if err := c.registry.DeleteRide(ctx, rideID, requesterID); err != nil {
		return err
	}
	fields := logrus.Fields{"ride_id": rideID}
	n, err := c.queue.RequeueRide(ctx, rideID)
	if err != nil {
		c.log.WithFields(fields).WithError(err).Warn("requeue after ride deletion failed")
		return nil
	}
	c.log.WithFields(fields).WithField("requeued", n).Info("ride deleted")
	return nil
}

// GetRide returns one ride.
func (c *Coordinator) GetRide(ctx context.Context, rideID string) (*model.Ride, error) {
	return c.registry.GetRide(ctx, rideID)
}

// ListRidesForEvent returns the rides of an event, roomiest first.
func (c *Coordinator) ListRidesForEvent(ctx context.Context, eventID string) ([]model.Ride, error) {
	if _, err := c.events.GetEvent(ctx, eventID); err != nil {
		return nil, translate(err)
	}
	return c.registry.ListRidesForEvent(ctx, eventID)
}

// RecentRides returns the rides feed.
func (c *Coordinator) RecentRides(ctx context.Context, limit int) ([]FeedItem, error) {
	return c.registry.RecentRides(ctx, time.Time{}, limit)
}

// Nicknames resolves the nicknames of the given users.  Unknown users
// are left out.
func (c *Coordinator) Nicknames(ctx context.Context, userIDs ...string) (map[string]string, error) {
	out := make(map[string]string, len(userIDs))
	if c.users == nil {
		return out, nil
	}
	for _, id := range userIDs {
		if _, done := out[id]; done || id == "" {
			continue
		}
		u, err := c.users.GetUser(ctx, id)
		if err != nil {
			if errors.Is(translate(err), ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[id] = u.Nickname
	}
	return out, nil
}
