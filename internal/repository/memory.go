package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lascruzadas/carpool/internal/model"
)

// MemoryRideRepo keeps rides in process memory.  Every operation holds
// the mutex for its whole check-and-set, which gives the same per-ride
// atomicity as the MySQL store.  Returned rides are copies.
type MemoryRideRepo struct {
	mu    sync.Mutex
	rides map[string]*model.Ride
}

func NewMemoryRideRepo() *MemoryRideRepo {
	return &MemoryRideRepo{rides: make(map[string]*model.Ride)}
}

func cloneRide(r *model.Ride) *model.Ride {
	out := *r
	out.Seats = make([]model.Seat, len(r.Seats))
	for i, s := range r.Seats {
		out.Seats[i] = model.Seat{Number: s.Number}
		if s.OccupantID != nil {
			v := *s.OccupantID
			out.Seats[i].OccupantID = &v
		}
	}
	out.Passengers = append([]string(nil), r.Passengers...)
	return &out
}

func (m *MemoryRideRepo) CreateRide(_ context.Context, ride *model.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[ride.ID] = cloneRide(ride)
	return nil
}

func (m *MemoryRideRepo) GetRide(_ context.Context, id string) (*model.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRide(r), nil
}

func (m *MemoryRideRepo) ListRidesByEvent(_ context.Context, eventID string) ([]model.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Ride{}
	for _, r := range m.rides {
		if r.EventID == eventID {
			c := cloneRide(r)
			c.Refresh()
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SeatsFree != out[j].SeatsFree {
			return out[i].SeatsFree > out[j].SeatsFree
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryRideRepo) ListRidesByEvents(_ context.Context, eventIDs []string, limit int) ([]model.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		want[id] = true
	}
	out := []model.Ride{}
	for _, r := range m.rides {
		if want[r.EventID] {
			c := cloneRide(r)
			c.Refresh()
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRideRepo) DeleteRide(_ context.Context, id, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return ErrNotFound
	}
	if r.DriverID != driverID {
		return ErrForbidden
	}
	delete(m.rides, id)
	return nil
}

func (m *MemoryRideRepo) seat(rideID string, number int) (*model.Ride, *model.Seat) {
	r, ok := m.rides[rideID]
	if !ok {
		return nil, nil
	}
	for i := range r.Seats {
		if r.Seats[i].Number == number {
			return r, &r.Seats[i]
		}
	}
	return r, nil
}

func (m *MemoryRideRepo) BookSeat(_ context.Context, rideID, userID string, number int) (*model.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, s := m.seat(rideID, number)
	if s == nil || !s.Free() {
		return nil, ErrSeatTaken
	}
	occupant := userID
	s.OccupantID = &occupant
	return m.finish(r), nil
}

func (m *MemoryRideRepo) ReleaseSeatNumber(_ context.Context, rideID string, number int, holder string) (*model.Ride, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, s := m.seat(rideID, number)
	if s == nil || s.Free() || (holder != "" && *s.OccupantID != holder) {
		return nil, "", ErrNotFound
	}
	occupant := *s.OccupantID
	s.OccupantID = nil
	return m.finish(r), occupant, nil
}

func (m *MemoryRideRepo) ReleaseSeatOf(_ context.Context, rideID, userID string) (*model.Ride, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, 0, ErrNotFound
	}
	number, ok := r.SeatOf(userID)
	if !ok {
		return nil, 0, ErrNotFound
	}
	_, s := m.seat(rideID, number)
	s.OccupantID = nil
	return m.finish(r), number, nil
}

// finish mirrors the SQL store: the cached count is rewritten from the
// seats, then a copy is handed out.
func (m *MemoryRideRepo) finish(r *model.Ride) *model.Ride {
	r.Refresh()
	r.UpdatedAt = time.Now().UTC()
	return cloneRide(r)
}

func (m *MemoryRideRepo) ReconcileFreeCounts(_ context.Context) ([]model.FreeSeatDrift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drifts := []model.FreeSeatDrift{}
	for _, r := range m.rides {
		if actual := r.FreeSeats(); actual != r.SeatsFree {
			drifts = append(drifts, model.FreeSeatDrift{RideID: r.ID, Cached: r.SeatsFree, Actual: actual})
			r.SeatsFree = actual
		}
	}
	sort.Slice(drifts, func(i, j int) bool { return drifts[i].RideID < drifts[j].RideID })
	return drifts, nil
}

// SetCachedFree overwrites the cached count without touching seats.  It
// exists so tests can simulate drift.
func (m *MemoryRideRepo) SetCachedFree(rideID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rides[rideID]; ok {
		r.SeatsFree = n
	}
}

// MemoryQueueRepo keeps queue entries in insertion order.  The waiting
// index plays the role of the unique key on (user, event, WAITING).
type MemoryQueueRepo struct {
	mu      sync.Mutex
	seq     uint64
	entries []*model.QueueEntry
	waiting map[string]*model.QueueEntry
}

func NewMemoryQueueRepo() *MemoryQueueRepo {
	return &MemoryQueueRepo{waiting: make(map[string]*model.QueueEntry)}
}

func waitingKey(userID, eventID string) string { return userID + "|" + eventID }

func cloneEntry(e *model.QueueEntry) *model.QueueEntry {
	out := *e
	return &out
}

func (m *MemoryQueueRepo) InsertWaiting(_ context.Context, e *model.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := waitingKey(e.UserID, e.EventID)
	if _, ok := m.waiting[key]; ok {
		return ErrDuplicateWaiting
	}
	m.seq++
	e.Seq = m.seq
	e.Status = model.Waiting{}
	e.UpdatedAt = e.CreatedAt
	stored := cloneEntry(e)
	m.entries = append(m.entries, stored)
	m.waiting[key] = stored
	return nil
}

func (m *MemoryQueueRepo) FindWaiting(_ context.Context, userID, eventID string) (*model.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.waiting[waitingKey(userID, eventID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntry(e), nil
}

// oldestWaiting scans in insertion order, so equal timestamps keep
// their seq order.
func (m *MemoryQueueRepo) oldestWaiting(eventID string) *model.QueueEntry {
	var best *model.QueueEntry
	for _, e := range m.entries {
		if e.EventID != eventID || !e.Waiting() {
			continue
		}
		if best == nil || e.CreatedAt.Before(best.CreatedAt) {
			best = e
		}
	}
	return best
}

func (m *MemoryQueueRepo) DequeueOldest(_ context.Context, eventID, rideID string) (*model.QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.oldestWaiting(eventID)
	if e == nil {
		return nil, nil
	}
	delete(m.waiting, waitingKey(e.UserID, e.EventID))
	e.Status = model.AssignedTo(rideID)
	e.UpdatedAt = time.Now().UTC()
	return cloneEntry(e), nil
}

func (m *MemoryQueueRepo) AssignWaiting(_ context.Context, userID, eventID, rideID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := waitingKey(userID, eventID)
	e, ok := m.waiting[key]
	if !ok {
		return false, nil
	}
	delete(m.waiting, key)
	e.Status = model.AssignedTo(rideID)
	e.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryQueueRepo) WaitingPosition(_ context.Context, userID, eventID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	me, ok := m.waiting[waitingKey(userID, eventID)]
	if !ok {
		return 0, nil
	}
	pos := 0
	for _, e := range m.entries {
		if e.EventID != eventID || !e.Waiting() {
			continue
		}
		if e.CreatedAt.Before(me.CreatedAt) || (e.CreatedAt.Equal(me.CreatedAt) && e.Seq <= me.Seq) {
			pos++
		}
	}
	return pos, nil
}

func (m *MemoryQueueRepo) RequeueRide(_ context.Context, rideID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if id, ok := model.RideOf(e.Status); ok && id == rideID {
			if m.requeue(e) {
				n++
			}
		}
	}
	return n, nil
}

func (m *MemoryQueueRepo) RequeueUser(_ context.Context, userID, eventID, rideID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.UserID != userID || e.EventID != eventID {
			continue
		}
		if id, ok := model.RideOf(e.Status); ok && id == rideID {
			return m.requeue(e), nil
		}
	}
	return false, nil
}

func (m *MemoryQueueRepo) Requeue(_ context.Context, entryID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == entryID {
			return m.requeue(e), nil
		}
	}
	return false, ErrNotFound
}

// requeue mirrors requeueSeq: back to WAITING with the original
// created_at, or detached from its ride when the user waits again.
func (m *MemoryQueueRepo) requeue(e *model.QueueEntry) bool {
	e.UpdatedAt = time.Now().UTC()
	if e.Waiting() {
		return true
	}
	key := waitingKey(e.UserID, e.EventID)
	if _, taken := m.waiting[key]; taken {
		e.Status = model.Promoted{}
		return false
	}
	e.Status = model.Waiting{}
	m.waiting[key] = e
	return true
}

// Entries returns a copy of every entry of an event, in insertion order.
func (m *MemoryQueueRepo) Entries(eventID string) []model.QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.QueueEntry{}
	for _, e := range m.entries {
		if e.EventID == eventID {
			out = append(out, *e)
		}
	}
	return out
}

// MemoryDirectory is an in-memory user and event directory with a
// points counter per user.
type MemoryDirectory struct {
	mu     sync.Mutex
	users  map[string]*model.User
	events map[string]model.Event
	logs   []model.PointLog
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[string]*model.User), events: make(map[string]model.Event)}
}

func (d *MemoryDirectory) PutUser(u model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = &u
}

func (d *MemoryDirectory) PutEvent(e model.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events[e.ID] = e
}

func (d *MemoryDirectory) GetUser(_ context.Context, id string) (*model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (d *MemoryDirectory) FindUserID(_ context.Context, nickname string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if strings.EqualFold(u.Nickname, strings.TrimSpace(nickname)) {
			return u.ID, nil
		}
	}
	return "", ErrNotFound
}

func (d *MemoryDirectory) AddPoints(_ context.Context, userID string, amount int, reason string) error {
	if amount == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Points += amount
	d.logs = append(d.logs, model.PointLog{
		ID: uint64(len(d.logs) + 1), UserID: userID, Amount: amount, Reason: reason, CreatedAt: time.Now().UTC(),
	})
	return nil
}

// PointLogs returns a copy of the recorded point changes.
func (d *MemoryDirectory) PointLogs() []model.PointLog {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.PointLog(nil), d.logs...)
}

func (d *MemoryDirectory) GetEvent(_ context.Context, id string) (*model.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (d *MemoryDirectory) ListRecentEvents(_ context.Context, since time.Time) ([]model.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := []model.Event{}
	for _, e := range d.events {
		if !e.StartsAt.Before(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}
