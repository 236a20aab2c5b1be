package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Point rewards granted by the carpool engine.
const (
	BasePoints      = 5
	PassengerPoints = BasePoints / 2
	DriverPoints    = BasePoints * 3
)

// Reasons recorded next to each points delta.
const (
	ReasonSeatBooked  = "ride.seat_booked"
	ReasonRideCreated = "ride.created"
)

// rewarder applies point rewards without letting a ledger failure touch
// the operation that earned them.
type rewarder struct {
	ledger  PointsLedger
	log     logrus.FieldLogger
	timeout time.Duration
}

func (r rewarder) grant(ctx context.Context, userID string, amount int, reason string) {
	if r.ledger == nil || amount == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.ledger.AddPoints(ctx, userID, amount, reason); err != nil {
		r.log.WithFields(logrus.Fields{
			"user_id": userID,
			"amount":  amount,
			"reason":  reason,
		}).WithError(err).Warn("points reward failed")
	}
}
