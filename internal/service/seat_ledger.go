package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lascruzadas/carpool/internal/model"
	"github.com/lascruzadas/carpool/internal/repository"
)

// DefaultFirstFreeSeatAttempts bounds the pick-then-book loop of
// BookFirstFreeSeat when no explicit value is configured.
const DefaultFirstFreeSeatAttempts = 3

// SeatSelector picks the seat to release: a seat number or the seat a
// given user holds.
type SeatSelector struct {
	seat   int
	userID string
	holder string
}

// BySeat selects seat n.
func BySeat(n int) SeatSelector { return SeatSelector{seat: n} }

// HeldBy restricts a seat-number selector to a seat occupied by userID.
func (s SeatSelector) HeldBy(userID string) SeatSelector {
	s.holder = userID
	return s
}

// ByUser selects the lowest-numbered seat held by userID.
func ByUser(userID string) SeatSelector { return SeatSelector{userID: userID} }

// Seat returns the selected seat number and whether the selector is by seat.
func (s SeatSelector) Seat() (int, bool) { return s.seat, s.userID == "" }

// User returns the selected user and whether the selector is by user.
func (s SeatSelector) User() (string, bool) { return s.userID, s.userID != "" }

// SeatLedger books and releases seats.  Each call is one atomic
// conditional write in the RideStore; a contested seat goes to exactly
// one caller.
type SeatLedger struct {
	rides    RideStore
	attempts int
	log      logrus.FieldLogger
}

// NewSeatLedger returns a ledger.  attempts < 1 falls back to
// DefaultFirstFreeSeatAttempts.
func NewSeatLedger(rides RideStore, attempts int, log logrus.FieldLogger) *SeatLedger {
	if attempts < 1 {
		attempts = DefaultFirstFreeSeatAttempts
	}
	return &SeatLedger{rides: rides, attempts: attempts, log: log}
}

// BookSeatByNumber gives seat to userID if it is free.  A missing ride,
// a missing seat and an occupied seat all fail with ErrSeatUnavailable
// and leave the ride untouched.  Seat numbers start at 1.
func (l *SeatLedger) BookSeatByNumber(ctx context.Context, rideID, userID string, seat int) (*model.Ride, error) {
	if rideID == "" || userID == "" {
		return nil, ErrInvalidInput
	}
	if seat < 1 {
		return nil, fmt.Errorf("%w: seat number must be positive", ErrInvalidInput)
	}
	ride, err := l.rides.BookSeat(ctx, rideID, userID, seat)
	if err != nil {
		if errors.Is(err, repository.ErrSeatTaken) {
			return nil, ErrSeatUnavailable
		}
		return nil, fmt.Errorf("book seat %d: %w", seat, err)
	}
	return ride, nil
}

// BookFirstFreeSeat books the lowest free seat.  The pick and the book
// are separate steps, so a competing booking can take the picked seat
// first; the ledger then re-reads and tries again, at most attempts
// times.  Only the final book is linearizable.
func (l *SeatLedger) BookFirstFreeSeat(ctx context.Context, rideID, userID string) (*model.Ride, error) {
	if rideID == "" || userID == "" {
		return nil, ErrInvalidInput
	}
	for attempt := 1; attempt <= l.attempts; attempt++ {
		ride, err := l.rides.GetRide(ctx, rideID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrSeatUnavailable
			}
			return nil, fmt.Errorf("read ride: %w", err)
		}
		seat, ok := ride.LowestFreeSeat()
		if !ok {
			return nil, ErrSeatUnavailable
		}
		booked, err := l.BookSeatByNumber(ctx, rideID, userID, seat)
		if err == nil {
			return booked, nil
		}
		if !errors.Is(err, ErrSeatUnavailable) {
			return nil, err
		}
		l.log.WithFields(logrus.Fields{
			"ride_id": rideID,
			"seat":    seat,
			"attempt": attempt,
		}).Debug("first free seat taken concurrently")
	}
	return nil, ErrSeatUnavailable
}

// ReleaseSeat clears the selected seat.  It also returns the user that
// held it and the seat number.  No match is ErrNotFound.
func (l *SeatLedger) ReleaseSeat(ctx context.Context, rideID string, sel SeatSelector) (*model.Ride, string, int, error) {
	if rideID == "" {
		return nil, "", 0, ErrInvalidInput
	}
	if userID, ok := sel.User(); ok {
		ride, seat, err := l.rides.ReleaseSeatOf(ctx, rideID, userID)
		if err != nil {
			return nil, "", 0, translate(err)
		}
		return ride, userID, seat, nil
	}
	seat, _ := sel.Seat()
	if seat < 1 {
		return nil, "", 0, ErrNotFound
	}
	ride, occupant, err := l.rides.ReleaseSeatNumber(ctx, rideID, seat, sel.holder)
	if err != nil {
		return nil, "", 0, translate(err)
	}
	return ride, occupant, seat, nil
}
