package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lascruzadas/carpool/internal/model"
)

// RideRepo persists rides and their embedded seat arrays in the rides and
// ride_seats tables.  A ride and its seats are one unit of mutation:
// every seat change runs in a transaction that first locks the ride row,
// applies a conditional UPDATE on the seat and rewrites seats_free from
// the seat rows before committing.  Concurrent writers on the same ride
// therefore queue on the ride row and the conditional UPDATE decides
// which of them gets a contested seat.
type RideRepo struct {
	db *sql.DB
}

// NewRideRepo returns a new RideRepo bound to the given database.
func NewRideRepo(db *sql.DB) *RideRepo { return &RideRepo{db: db} }

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const rideColumns = `id, driver_id, event_id, seats_free, departure_point, departure_time, created_at, updated_at`

const recomputeFree = `UPDATE rides
    SET seats_free = (SELECT COUNT(*) FROM ride_seats WHERE ride_id = ? AND occupant_id IS NULL),
        updated_at = ?
    WHERE id = ?`

// CreateRide inserts the ride row and one ride_seats row per seat in a
// single transaction.
func (r *RideRepo) CreateRide(ctx context.Context, ride *model.Ride) error {
	if len(ride.Seats) == 0 {
		return errors.New("ride without seats")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	const ins = `INSERT INTO rides (id, driver_id, event_id, seats_total, seats_free, departure_point, departure_time, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, ins,
		ride.ID, ride.DriverID, ride.EventID, len(ride.Seats), ride.SeatsFree,
		ride.DeparturePoint, ride.DepartureTime, ride.CreatedAt, ride.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert ride: %w", err)
	}

	query := `INSERT INTO ride_seats (ride_id, seat_number, occupant_id) VALUES `
	args := make([]any, 0, len(ride.Seats)*3)
	for i, s := range ride.Seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?)"
		args = append(args, ride.ID, s.Number, s.OccupantID)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert seats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// GetRide loads a ride with its seats.  SeatsFree is the cached column.
func (r *RideRepo) GetRide(ctx context.Context, id string) (*model.Ride, error) {
	return getRide(ctx, r.db, id)
}

func getRide(ctx context.Context, q queryer, id string) (*model.Ride, error) {
	var ride model.Ride
	err := q.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = ?`, id).Scan(
		&ride.ID, &ride.DriverID, &ride.EventID, &ride.SeatsFree,
		&ride.DeparturePoint, &ride.DepartureTime, &ride.CreatedAt, &ride.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ride: %w", err)
	}
	seats, err := loadSeats(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	ride.Seats = seats[id]
	cached := ride.SeatsFree
	ride.Refresh()
	ride.SeatsFree = cached
	return &ride, nil
}

// loadSeats returns the seats of the given rides keyed by ride id, each
// slice ordered by seat number.
func loadSeats(ctx context.Context, q queryer, rideIDs []string) (map[string][]model.Seat, error) {
	out := make(map[string][]model.Seat, len(rideIDs))
	if len(rideIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(rideIDs))
	for i, id := range rideIDs {
		args[i] = id
	}
	query := `SELECT ride_id, seat_number, occupant_id FROM ride_seats WHERE ride_id IN (` +
		placeholders(len(rideIDs)) + `) ORDER BY ride_id, seat_number`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load seats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rideID   string
			number   int
			occupant sql.NullString
		)
		if err := rows.Scan(&rideID, &number, &occupant); err != nil {
			return nil, fmt.Errorf("scan seat: %w", err)
		}
		seat := model.Seat{Number: number}
		if occupant.Valid {
			v := occupant.String
			seat.OccupantID = &v
		}
		out[rideID] = append(out[rideID], seat)
	}
	return out, rows.Err()
}

// ListRidesByEvent returns the rides of an event with the free count
// computed from the seat rows, roomiest first, then oldest.
func (r *RideRepo) ListRidesByEvent(ctx context.Context, eventID string) ([]model.Ride, error) {
	const q = `SELECT r.id, r.driver_id, r.event_id, r.seats_free, r.departure_point, r.departure_time, r.created_at, r.updated_at,
                      SUM(s.occupant_id IS NULL) AS free_now
               FROM rides r
               JOIN ride_seats s ON s.ride_id = r.id
               WHERE r.event_id = ?
               GROUP BY r.id, r.driver_id, r.event_id, r.seats_free, r.departure_point, r.departure_time, r.created_at, r.updated_at
               ORDER BY free_now DESC, r.created_at ASC, r.id ASC`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, fmt.Errorf("list rides: %w", err)
	}
	rides, err := scanRides(rows, true)
	if err != nil {
		return nil, err
	}
	return r.attachSeats(ctx, rides)
}

// ListRidesByEvents returns the newest rides across the given events.
func (r *RideRepo) ListRidesByEvents(ctx context.Context, eventIDs []string, limit int) ([]model.Ride, error) {
	if len(eventIDs) == 0 {
		return []model.Ride{}, nil
	}
	args := make([]any, 0, len(eventIDs)+1)
	for _, id := range eventIDs {
		args = append(args, id)
	}
	args = append(args, limit)
	q := `SELECT ` + rideColumns + ` FROM rides WHERE event_id IN (` + placeholders(len(eventIDs)) +
		`) ORDER BY created_at DESC, id ASC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent rides: %w", err)
	}
	rides, err := scanRides(rows, false)
	if err != nil {
		return nil, err
	}
	return r.attachSeats(ctx, rides)
}

func scanRides(rows *sql.Rows, withFree bool) ([]model.Ride, error) {
	defer rows.Close()
	rides := []model.Ride{}
	for rows.Next() {
		var ride model.Ride
		dest := []any{&ride.ID, &ride.DriverID, &ride.EventID, &ride.SeatsFree,
			&ride.DeparturePoint, &ride.DepartureTime, &ride.CreatedAt, &ride.UpdatedAt}
		var freeNow int
		if withFree {
			dest = append(dest, &freeNow)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan ride: %w", err)
		}
		rides = append(rides, ride)
	}
	return rides, rows.Err()
}

// attachSeats loads the seats of every ride and recomputes the derived
// fields from them.
func (r *RideRepo) attachSeats(ctx context.Context, rides []model.Ride) ([]model.Ride, error) {
	ids := make([]string, len(rides))
	for i := range rides {
		ids[i] = rides[i].ID
	}
	seats, err := loadSeats(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range rides {
		rides[i].Seats = seats[rides[i].ID]
		rides[i].Refresh()
	}
	return rides, nil
}

// DeleteRide removes a ride owned by driverID; seats cascade.  It returns
// ErrNotFound when the ride does not exist and ErrForbidden when it
// belongs to another driver.
func (r *RideRepo) DeleteRide(ctx context.Context, id, driverID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	var owner string
	err = tx.QueryRowContext(ctx, `SELECT driver_id FROM rides WHERE id = ? FOR UPDATE`, id).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("lock ride: %w", err)
	}
	if owner != driverID {
		return ErrForbidden
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rides WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete ride: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// BookSeat sets the occupant of one free seat.  The seat UPDATE is
// conditional on occupant_id IS NULL; when it matches nothing (seat
// occupied, missing, or ride gone) ErrSeatTaken is returned and the
// transaction is rolled back without touching anything.
func (r *RideRepo) BookSeat(ctx context.Context, rideID, userID string, seat int) (*model.Ride, error) {
	var out *model.Ride
	err := r.mutate(ctx, rideID, ErrSeatTaken, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE ride_seats SET occupant_id = ? WHERE ride_id = ? AND seat_number = ? AND occupant_id IS NULL`,
			userID, rideID, seat)
		if err != nil {
			return fmt.Errorf("book seat: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrSeatTaken
		}
		out, err = finishMutation(ctx, tx, rideID)
		return err
	})
	return out, err
}

// ReleaseSeatNumber clears an occupied seat and returns the user that
// held it.  A free or unknown seat yields ErrNotFound, and so does a seat
// held by someone other than holder when holder is not empty.
func (r *RideRepo) ReleaseSeatNumber(ctx context.Context, rideID string, seat int, holder string) (*model.Ride, string, error) {
	var (
		out      *model.Ride
		occupant string
	)
	err := r.mutate(ctx, rideID, ErrNotFound, func(tx *sql.Tx) error {
		var current sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT occupant_id FROM ride_seats WHERE ride_id = ? AND seat_number = ?`,
			rideID, seat).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !current.Valid) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read seat: %w", err)
		}
		if holder != "" && current.String != holder {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE ride_seats SET occupant_id = NULL WHERE ride_id = ? AND seat_number = ?`,
			rideID, seat); err != nil {
			return fmt.Errorf("release seat: %w", err)
		}
		occupant = current.String
		out, err = finishMutation(ctx, tx, rideID)
		return err
	})
	return out, occupant, err
}

// ReleaseSeatOf clears the lowest-numbered seat held by userID and
// returns its number.  ErrNotFound when the user holds no seat.
func (r *RideRepo) ReleaseSeatOf(ctx context.Context, rideID, userID string) (*model.Ride, int, error) {
	var (
		out    *model.Ride
		number int
	)
	err := r.mutate(ctx, rideID, ErrNotFound, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT seat_number FROM ride_seats WHERE ride_id = ? AND occupant_id = ? ORDER BY seat_number LIMIT 1`,
			rideID, userID).Scan(&number)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("find seat: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE ride_seats SET occupant_id = NULL WHERE ride_id = ? AND seat_number = ?`,
			rideID, number); err != nil {
			return fmt.Errorf("release seat: %w", err)
		}
		out, err = finishMutation(ctx, tx, rideID)
		return err
	})
	return out, number, err
}

// mutate runs fn inside a transaction holding the ride row lock.  A
// missing ride returns missingErr.
func (r *RideRepo) mutate(ctx context.Context, rideID string, missingErr error, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM rides WHERE id = ? FOR UPDATE`, rideID).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return missingErr
		}
		return fmt.Errorf("lock ride: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// finishMutation rewrites seats_free from the seat rows and reloads the
// ride inside the same transaction.
func finishMutation(ctx context.Context, tx *sql.Tx, rideID string) (*model.Ride, error) {
	if _, err := tx.ExecContext(ctx, recomputeFree, rideID, time.Now().UTC(), rideID); err != nil {
		return nil, fmt.Errorf("recompute free seats: %w", err)
	}
	return getRide(ctx, tx, rideID)
}

// ReconcileFreeCounts finds rides whose cached seats_free disagrees with
// the seat rows and rewrites the cached value.
func (r *RideRepo) ReconcileFreeCounts(ctx context.Context) ([]model.FreeSeatDrift, error) {
	const q = `SELECT r.id, r.seats_free, SUM(s.occupant_id IS NULL) AS actual
               FROM rides r
               JOIN ride_seats s ON s.ride_id = r.id
               GROUP BY r.id, r.seats_free
               HAVING r.seats_free <> actual`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("scan drift: %w", err)
	}
	drifts := []model.FreeSeatDrift{}
	for rows.Next() {
		var d model.FreeSeatDrift
		if err := rows.Scan(&d.RideID, &d.Cached, &d.Actual); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan drift row: %w", err)
		}
		drifts = append(drifts, d)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	for _, d := range drifts {
		if _, err := r.db.ExecContext(ctx, recomputeFree, d.RideID, time.Now().UTC(), d.RideID); err != nil {
			return drifts, fmt.Errorf("repair ride %s: %w", d.RideID, err)
		}
	}
	return drifts, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
