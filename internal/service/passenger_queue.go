package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/lascruzadas/carpool/internal/model"
	"github.com/lascruzadas/carpool/internal/repository"
)

// MaxNoteLength caps the free-text note of a queue entry, in runes.
const MaxNoteLength = 280

// PassengerQueue is the FIFO waiting list of passengers per event.  The
// store's unique key on (user, event, WAITING) is the only concurrency
// control it relies on.
type PassengerQueue struct {
	store QueueStore
	now   func() time.Time
}

func NewPassengerQueue(store QueueStore) *PassengerQueue {
	return &PassengerQueue{store: store, now: time.Now}
}

// Enqueue puts the user in line for the event.  When the user already
// waits, the existing entry is returned with created=false.
func (q *PassengerQueue) Enqueue(ctx context.Context, userID, eventID, note string) (*model.QueueEntry, bool, error) {
	if userID == "" || eventID == "" {
		return nil, false, ErrInvalidInput
	}
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > MaxNoteLength {
		return nil, false, fmt.Errorf("%w: note longer than %d characters", ErrInvalidInput, MaxNoteLength)
	}
	entry := &model.QueueEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		EventID:   eventID,
		Note:      note,
		CreatedAt: q.now().UTC(),
	}
	// A duplicate whose waiting row is dequeued before the re-read leaves
	// the user free to queue again, so the insert gets one more try.
	for attempt := 1; attempt <= 2; attempt++ {
		err := q.store.InsertWaiting(ctx, entry)
		if err == nil {
			return entry, true, nil
		}
		if !errors.Is(err, repository.ErrDuplicateWaiting) {
			return nil, false, fmt.Errorf("enqueue: %w", err)
		}
		existing, err := q.store.FindWaiting(ctx, userID, eventID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, fmt.Errorf("enqueue: re-read waiting entry: %w", err)
		}
	}
	return nil, false, errors.New("enqueue: waiting entry kept changing, try again")
}

// DequeueNext takes the oldest waiter of the event off the line.  The
// entry becomes Assigned to rideID, or Promoted when rideID is empty.
// An empty line yields nil, nil.
func (q *PassengerQueue) DequeueNext(ctx context.Context, eventID, rideID string) (*model.QueueEntry, error) {
	if eventID == "" {
		return nil, ErrInvalidInput
	}
	e, err := q.store.DequeueOldest(ctx, eventID, rideID)
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return e, nil
}

// IsWaiting reports whether the user is in line for the event.
func (q *PassengerQueue) IsWaiting(ctx context.Context, userID, eventID string) (bool, error) {
	_, err := q.store.FindWaiting(ctx, userID, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Position is the 1-based place of the user in line, 0 when not waiting.
func (q *PassengerQueue) Position(ctx context.Context, userID, eventID string) (int, error) {
	return q.store.WaitingPosition(ctx, userID, eventID)
}

// AssignWaiting marks the user's waiting entry as assigned to rideID.
func (q *PassengerQueue) AssignWaiting(ctx context.Context, userID, eventID, rideID string) (bool, error) {
	return q.store.AssignWaiting(ctx, userID, eventID, rideID)
}

// RequeueRide sends every passenger assigned to rideID back in line at
// their original place.
func (q *PassengerQueue) RequeueRide(ctx context.Context, rideID string) (int, error) {
	return q.store.RequeueRide(ctx, rideID)
}

// RequeueUser sends one passenger assigned to rideID back in line.
func (q *PassengerQueue) RequeueUser(ctx context.Context, userID, eventID, rideID string) (bool, error) {
	return q.store.RequeueUser(ctx, userID, eventID, rideID)
}

// Requeue puts a dequeued entry back by id.
func (q *PassengerQueue) Requeue(ctx context.Context, entryID string) (bool, error) {
	ok, err := q.store.Requeue(ctx, entryID)
	return ok, translate(err)
}
