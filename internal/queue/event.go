// Package queue carries points rewards over RabbitMQ: a publisher that
// stands in for the points ledger and a consumer that applies the
// deltas to the user store.
package queue

import "time"

// PointsQueueName is the durable queue holding points rewards.
const PointsQueueName = "points.awarded"

// PointsAwardedEvent is published whenever the carpool engine grants or
// takes points.  Amount is a signed delta.
type PointsAwardedEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
	AwardedAt time.Time `json:"awarded_at"`
}
