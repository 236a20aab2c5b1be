package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lascruzadas/carpool/internal/model"
)

// Registry defaults.
const (
	DefaultMaxSeatsPerRide = 8
	DefaultFeedWindow      = 7 * 24 * time.Hour
	DefaultFeedLimit       = 10
)

// CreateRideInput carries a driver's ride offer.
type CreateRideInput struct {
	DriverID       string
	EventID        string
	SeatCount      int
	DeparturePoint string
	DepartureTime  string
}

// FeedItem is one ride of the recent rides feed.
type FeedItem struct {
	Ride      model.Ride
	EventName string
}

// RideRegistry creates rides with a fixed seat layout and answers
// availability queries.
type RideRegistry struct {
	rides    RideStore
	events   EventDirectory
	maxSeats int
	window   time.Duration
	now      func() time.Time
}

// NewRideRegistry returns a registry.  maxSeats < 1 uses
// DefaultMaxSeatsPerRide.
func NewRideRegistry(rides RideStore, events EventDirectory, maxSeats int) *RideRegistry {
	if maxSeats < 1 {
		maxSeats = DefaultMaxSeatsPerRide
	}
	return &RideRegistry{rides: rides, events: events, maxSeats: maxSeats, window: DefaultFeedWindow, now: time.Now}
}

// WithFeedWindow sets how far back RecentRides looks by default.
func (r *RideRegistry) WithFeedWindow(d time.Duration) *RideRegistry {
	if d > 0 {
		r.window = d
	}
	return r
}

// CreateRide stores a ride with seats 1..SeatCount, all free.
func (r *RideRegistry) CreateRide(ctx context.Context, in CreateRideInput) (*model.Ride, error) {
	in.DriverID = strings.TrimSpace(in.DriverID)
	in.EventID = strings.TrimSpace(in.EventID)
	if in.DriverID == "" || in.EventID == "" {
		return nil, fmt.Errorf("%w: driver and event are required", ErrInvalidInput)
	}
	if in.SeatCount < 1 {
		return nil, fmt.Errorf("%w: a ride needs at least one seat", ErrInvalidInput)
	}
	if in.SeatCount > r.maxSeats {
		return nil, fmt.Errorf("%w: at most %d seats per ride", ErrInvalidInput, r.maxSeats)
	}
	if _, err := r.events.GetEvent(ctx, in.EventID); err != nil {
		return nil, translate(err)
	}
	now := r.now().UTC()
	ride := &model.Ride{
		ID:             uuid.NewString(),
		DriverID:       in.DriverID,
		EventID:        in.EventID,
		Seats:          model.NewSeats(in.SeatCount),
		DeparturePoint: strings.TrimSpace(in.DeparturePoint),
		DepartureTime:  strings.TrimSpace(in.DepartureTime),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	ride.Refresh()
	if err := r.rides.CreateRide(ctx, ride); err != nil {
		return nil, fmt.Errorf("create ride: %w", err)
	}
	return ride, nil
}

// GetRide returns one ride.
func (r *RideRegistry) GetRide(ctx context.Context, rideID string) (*model.Ride, error) {
	ride, err := r.rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, translate(err)
	}
	return ride, nil
}

// ListRidesForEvent returns the rides of an event, roomiest first, then
// oldest, then by id.  Free counts come from the seats, not the cache.
func (r *RideRegistry) ListRidesForEvent(ctx context.Context, eventID string) ([]model.Ride, error) {
	if strings.TrimSpace(eventID) == "" {
		return nil, ErrInvalidInput
	}
	rides, err := r.rides.ListRidesByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list rides: %w", err)
	}
	return rides, nil
}

// DeleteRide removes a ride.  Only its driver may do so.
func (r *RideRegistry) DeleteRide(ctx context.Context, rideID, requesterID string) error {
	if rideID == "" || requesterID == "" {
		return ErrInvalidInput
	}
	return translate(r.rides.DeleteRide(ctx, rideID, requesterID))
}

// RecentRides returns the newest rides of events dated on or after
// since, at most limit of them.  A zero since means the configured feed
// window and limit < 1 means DefaultFeedLimit.
func (r *RideRegistry) RecentRides(ctx context.Context, since time.Time, limit int) ([]FeedItem, error) {
	if since.IsZero() {
		since = r.now().Add(-r.window)
	}
	if limit < 1 {
		limit = DefaultFeedLimit
	}
	events, err := r.events.ListRecentEvents(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	items := []FeedItem{}
	if len(events) == 0 {
		return items, nil
	}
	names := make(map[string]string, len(events))
	ids := make([]string, 0, len(events))
	for _, e := range events {
		names[e.ID] = e.Name
		ids = append(ids, e.ID)
	}
	rides, err := r.rides.ListRidesByEvents(ctx, ids, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent rides: %w", err)
	}
	for _, ride := range rides {
		items = append(items, FeedItem{Ride: ride, EventName: names[ride.EventID]})
	}
	return items, nil
}
