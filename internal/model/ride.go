package model

import "time"

// Seat is one numbered place inside a ride.  Numbers start at 1 and
// are unique within the ride.  OccupantID is nil while the seat is free.
type Seat struct {
	Number     int     `json:"number"`
	OccupantID *string `json:"occupant_id"`
}

// Free reports whether nobody holds the seat.
func (s Seat) Free() bool { return s.OccupantID == nil }

// Ride is one driver's offer of a fixed number of seats for an event.
// Seats are created once and never added or removed.  SeatsFree is the
// cached projection of the seat array kept in the rides table; it is
// rewritten from the seats on every mutation and Refresh recomputes it
// in memory.  Passengers is derived from the seats as well: every user
// holding at least one seat, in seat order, without duplicates.
type Ride struct {
	ID             string    `json:"id"`
	DriverID       string    `json:"driver_id"`
	EventID        string    `json:"event_id"`
	Seats          []Seat    `json:"seats"`
	SeatsFree      int       `json:"seats_free"`
	Passengers     []string  `json:"passengers"`
	DeparturePoint string    `json:"departure_point"`
	DepartureTime  string    `json:"departure_time"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewSeats returns seats numbered 1..n, all free.
func NewSeats(n int) []Seat {
	seats := make([]Seat, n)
	for i := range seats {
		seats[i] = Seat{Number: i + 1}
	}
	return seats
}

// Capacity is the total number of seats.
func (r *Ride) Capacity() int { return len(r.Seats) }

// FreeSeats counts unoccupied seats straight from the seat array.
func (r *Ride) FreeSeats() int {
	n := 0
	for _, s := range r.Seats {
		if s.Free() {
			n++
		}
	}
	return n
}

// Refresh recomputes SeatsFree and Passengers from the seat array.
func (r *Ride) Refresh() {
	r.SeatsFree = r.FreeSeats()
	seen := make(map[string]struct{}, len(r.Seats))
	passengers := make([]string, 0, len(r.Seats))
	for _, s := range r.Seats {
		if s.OccupantID == nil {
			continue
		}
		if _, ok := seen[*s.OccupantID]; ok {
			continue
		}
		seen[*s.OccupantID] = struct{}{}
		passengers = append(passengers, *s.OccupantID)
	}
	r.Passengers = passengers
}

// LowestFreeSeat returns the smallest free seat number.
func (r *Ride) LowestFreeSeat() (int, bool) {
	best := 0
	for _, s := range r.Seats {
		if s.Free() && (best == 0 || s.Number < best) {
			best = s.Number
		}
	}
	return best, best != 0
}

// SeatOf returns the lowest seat number held by userID.
func (r *Ride) SeatOf(userID string) (int, bool) {
	best := 0
	for _, s := range r.Seats {
		if s.OccupantID != nil && *s.OccupantID == userID && (best == 0 || s.Number < best) {
			best = s.Number
		}
	}
	return best, best != 0
}

// HasPassenger reports whether userID holds any seat.
func (r *Ride) HasPassenger(userID string) bool {
	_, ok := r.SeatOf(userID)
	return ok
}

// FreeSeatDrift describes a ride whose cached SeatsFree disagreed with
// its seat array when the reconciler looked at it.
type FreeSeatDrift struct {
	RideID string `json:"ride_id"`
	Cached int    `json:"cached"`
	Actual int    `json:"actual"`
}
