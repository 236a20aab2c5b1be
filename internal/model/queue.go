package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueueState is the persisted state column of passenger_queue.
type QueueState string

const (
	StateWaiting  QueueState = "WAITING"
	StateAssigned QueueState = "ASSIGNED"
)

// QueueStatus is the state of a queue entry.  It is a closed set of
// variants: Waiting, Assigned (always bound to a ride) and Promoted
// (taken off the queue without a ride).
type QueueStatus interface {
	State() QueueState
	isQueueStatus()
}

// Waiting means the passenger is still in line.
type Waiting struct{}

// Assigned means the passenger left the line for RideID.
type Assigned struct{ RideID string }

// Promoted means the passenger was taken off the line by FIFO
// promotion without being bound to a particular ride.
type Promoted struct{}

func (Waiting) State() QueueState  { return StateWaiting }
func (Assigned) State() QueueState { return StateAssigned }
func (Promoted) State() QueueState { return StateAssigned }

func (Waiting) isQueueStatus()  {}
func (Assigned) isQueueStatus() {}
func (Promoted) isQueueStatus() {}

// AssignedTo builds the status for a passenger leaving the line.  An
// empty rideID yields Promoted.
func AssignedTo(rideID string) QueueStatus {
	if rideID == "" {
		return Promoted{}
	}
	return Assigned{RideID: rideID}
}

// StatusFromRow rebuilds a status from the state and assigned_ride_id
// columns.
func StatusFromRow(state string, rideID *string) (QueueStatus, error) {
	switch QueueState(state) {
	case StateWaiting:
		return Waiting{}, nil
	case StateAssigned:
		if rideID == nil {
			return Promoted{}, nil
		}
		return AssignedTo(*rideID), nil
	}
	return nil, fmt.Errorf("unknown queue state %q", state)
}

// RideOf returns the ride an Assigned status points at.
func RideOf(s QueueStatus) (string, bool) {
	if a, ok := s.(Assigned); ok {
		return a.RideID, true
	}
	return "", false
}

// QueueEntry is one passenger's wait for one event.  FIFO order is
// CreatedAt, then Seq (the storage insertion sequence).
type QueueEntry struct {
	ID        string
	Seq       uint64
	UserID    string
	EventID   string
	Status    QueueStatus
	Note      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Waiting reports whether the entry is still in line.
func (e *QueueEntry) Waiting() bool {
	_, ok := e.Status.(Waiting)
	return ok
}

// MarshalJSON flattens the status into state + assigned_ride_id.
func (e QueueEntry) MarshalJSON() ([]byte, error) {
	out := struct {
		ID             string     `json:"id"`
		UserID         string     `json:"user_id"`
		EventID        string     `json:"event_id"`
		State          QueueState `json:"state"`
		AssignedRideID *string    `json:"assigned_ride_id"`
		Note           string     `json:"note,omitempty"`
		CreatedAt      time.Time  `json:"created_at"`
	}{
		ID:        e.ID,
		UserID:    e.UserID,
		EventID:   e.EventID,
		Note:      e.Note,
		CreatedAt: e.CreatedAt,
	}
	if e.Status != nil {
		out.State = e.Status.State()
	}
	if id, ok := RideOf(e.Status); ok {
		out.AssignedRideID = &id
	}
	return json.Marshal(out)
}
