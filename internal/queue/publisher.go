package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Publisher sends points rewards to the points.awarded queue.  It
// satisfies the points ledger interface of the service layer, so the
// engine never waits on the user store for a reward.
type Publisher struct {
	URL string
	Log logrus.FieldLogger
}

func NewPublisher(url string, log logrus.FieldLogger) *Publisher {
	return &Publisher{URL: url, Log: log}
}

// AddPoints publishes one PointsAwardedEvent.  Messages are persistent.
// A connection is opened per call; rewards are rare next to the
// requests that earn them.
func (p *Publisher) AddPoints(ctx context.Context, userID string, amount int, reason string) error {
	if amount == 0 {
		return nil
	}
	body, err := json.Marshal(PointsAwardedEvent{
		ID:        uuid.NewString(),
		UserID:    userID,
		Amount:    amount,
		Reason:    reason,
		AwardedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := amqp.Dial(p.URL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(PointsQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	err = ch.PublishWithContext(ctx, "", PointsQueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	p.Log.WithFields(logrus.Fields{"user_id": userID, "amount": amount, "reason": reason}).Debug("points reward published")
	return nil
}
