package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lascruzadas/carpool/internal/model"
)

var created = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*RideRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRideRepo(db), mock
}

func expectLock(mock sqlmock.Sqlmock, rideID string) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM rides WHERE id = \? FOR UPDATE`).
		WithArgs(rideID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(rideID))
}

func expectReload(mock sqlmock.Sqlmock, rideID string, free int, occupants ...any) {
	mock.ExpectExec(`UPDATE rides\s+SET seats_free = \(SELECT COUNT\(\*\) FROM ride_seats`).
		WithArgs(rideID, sqlmock.AnyArg(), rideID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, driver_id, event_id, seats_free, .* FROM rides WHERE id = \?`).
		WithArgs(rideID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "driver_id", "event_id", "seats_free", "departure_point", "departure_time", "created_at", "updated_at"}).
			AddRow(rideID, "d1", "e1", free, "Plaza", "08:00", created, created))
	seats := sqlmock.NewRows([]string{"ride_id", "seat_number", "occupant_id"})
	for i, o := range occupants {
		seats.AddRow(rideID, i+1, o)
	}
	mock.ExpectQuery(`SELECT ride_id, seat_number, occupant_id FROM ride_seats WHERE ride_id IN \(\?\)`).
		WithArgs(rideID).
		WillReturnRows(seats)
}

func TestRideRepoBookSeat(t *testing.T) {
	repo, mock := newMock(t)
	expectLock(mock, "r1")
	mock.ExpectExec(`UPDATE ride_seats SET occupant_id = \? WHERE ride_id = \? AND seat_number = \? AND occupant_id IS NULL`).
		WithArgs("u1", "r1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectReload(mock, "r1", 1, nil, "u1")
	mock.ExpectCommit()

	ride, err := repo.BookSeat(context.Background(), "r1", "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, ride.SeatsFree)
	assert.Equal(t, []string{"u1"}, ride.Passengers)
	require.NotNil(t, ride.Seats[1].OccupantID)
	assert.Equal(t, "u1", *ride.Seats[1].OccupantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepoBookSeatTaken(t *testing.T) {
	repo, mock := newMock(t)
	expectLock(mock, "r1")
	mock.ExpectExec(`UPDATE ride_seats SET occupant_id = \?`).
		WithArgs("u2", "r1", 1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.BookSeat(context.Background(), "r1", "u2", 1)
	assert.ErrorIs(t, err, ErrSeatTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepoBookSeatMissingRide(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM rides WHERE id = \? FOR UPDATE`).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := repo.BookSeat(context.Background(), "gone", "u1", 1)
	assert.ErrorIs(t, err, ErrSeatTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepoReleaseSeatNumberChecksHolder(t *testing.T) {
	repo, mock := newMock(t)
	expectLock(mock, "r1")
	mock.ExpectQuery(`SELECT occupant_id FROM ride_seats WHERE ride_id = \? AND seat_number = \?`).
		WithArgs("r1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"occupant_id"}).AddRow("u2"))
	mock.ExpectRollback()

	_, _, err := repo.ReleaseSeatNumber(context.Background(), "r1", 1, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepoReleaseSeatNumber(t *testing.T) {
	repo, mock := newMock(t)
	expectLock(mock, "r1")
	mock.ExpectQuery(`SELECT occupant_id FROM ride_seats WHERE ride_id = \? AND seat_number = \?`).
		WithArgs("r1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"occupant_id"}).AddRow("u2"))
	mock.ExpectExec(`UPDATE ride_seats SET occupant_id = NULL WHERE ride_id = \? AND seat_number = \?`).
		WithArgs("r1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectReload(mock, "r1", 2, nil, nil)
	mock.ExpectCommit()

	ride, occupant, err := repo.ReleaseSeatNumber(context.Background(), "r1", 1, "")
	require.NoError(t, err)
	assert.Equal(t, "u2", occupant)
	assert.Equal(t, 2, ride.SeatsFree)
	assert.Empty(t, ride.Passengers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepoDeleteRide(t *testing.T) {
	t.Run("other driver", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT driver_id FROM rides WHERE id = \? FOR UPDATE`).
			WithArgs("r1").
			WillReturnRows(sqlmock.NewRows([]string{"driver_id"}).AddRow("d1"))
		mock.ExpectRollback()

		assert.ErrorIs(t, repo.DeleteRide(context.Background(), "r1", "d2"), ErrForbidden)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("driver", func(t *testing.T) {
		repo, mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT driver_id FROM rides WHERE id = \? FOR UPDATE`).
			WithArgs("r1").
			WillReturnRows(sqlmock.NewRows([]string{"driver_id"}).AddRow("d1"))
		mock.ExpectExec(`DELETE FROM rides WHERE id = \?`).
			WithArgs("r1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, repo.DeleteRide(context.Background(), "r1", "d1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRideRepoReconcileFreeCounts(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`HAVING r.seats_free <> actual`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "seats_free", "actual"}).AddRow("r1", 0, 2))
	mock.ExpectExec(`UPDATE rides\s+SET seats_free`).
		WithArgs("r1", sqlmock.AnyArg(), "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	drifts, err := repo.ReconcileFreeCounts(context.Background())
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, "r1", drifts[0].RideID)
	assert.Equal(t, 0, drifts[0].Cached)
	assert.Equal(t, 2, drifts[0].Actual)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepoReleaseSeatOf(t *testing.T) {
	repo, mock := newMock(t)
	expectLock(mock, "r1")
	mock.ExpectQuery(`SELECT seat_number FROM ride_seats WHERE ride_id = \? AND occupant_id = \? ORDER BY seat_number LIMIT 1`).
		WithArgs("r1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"seat_number"}).AddRow(2))
	mock.ExpectExec(`UPDATE ride_seats SET occupant_id = NULL WHERE ride_id = \? AND seat_number = \?`).
		WithArgs("r1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectReload(mock, "r1", 2, nil, nil, "u1")
	mock.ExpectCommit()

	ride, seat, err := repo.ReleaseSeatOf(context.Background(), "r1", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, seat)
	assert.Equal(t, 2, ride.SeatsFree)
	assert.Equal(t, []string{"u1"}, ride.Passengers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepoReleaseSeatOfNotHeld(t *testing.T) {
	repo, mock := newMock(t)
	expectLock(mock, "r1")
	mock.ExpectQuery(`SELECT seat_number FROM ride_seats WHERE ride_id = \? AND occupant_id = \?`).
		WithArgs("r1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"seat_number"}))
	mock.ExpectRollback()

	_, _, err := repo.ReleaseSeatOf(context.Background(), "r1", "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepoListRidesByEvent(t *testing.T) {
	repo, mock := newMock(t)
	later := created.Add(time.Minute)
	mock.ExpectQuery(`WHERE r.event_id = \?\s+GROUP BY .*\s+ORDER BY free_now DESC, r.created_at ASC, r.id ASC`).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "driver_id", "event_id", "seats_free", "departure_point", "departure_time", "created_at", "updated_at", "free_now"}).
			AddRow("r2", "d2", "e1", 2, "Mercado", "17:30", later, later, 2).
			AddRow("r1", "d1", "e1", 2, "Plaza", "08:00", created, created, 1))
	mock.ExpectQuery(`SELECT ride_id, seat_number, occupant_id FROM ride_seats WHERE ride_id IN \(\?,\?\) ORDER BY ride_id, seat_number`).
		WithArgs("r2", "r1").
		WillReturnRows(sqlmock.NewRows([]string{"ride_id", "seat_number", "occupant_id"}).
			AddRow("r1", 1, "u1").
			AddRow("r1", 2, nil).
			AddRow("r2", 1, nil).
			AddRow("r2", 2, nil))

	rides, err := repo.ListRidesByEvent(context.Background(), "e1")
	require.NoError(t, err)
	require.Len(t, rides, 2)
	assert.Equal(t, "r2", rides[0].ID)
	assert.Equal(t, 2, rides[0].SeatsFree)
	assert.Empty(t, rides[0].Passengers)
	assert.Equal(t, "r1", rides[1].ID)
	// The stale cached column is replaced by the count from the seats.
	assert.Equal(t, 1, rides[1].SeatsFree)
	assert.Equal(t, []string{"u1"}, rides[1].Passengers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepoListRidesByEventEmpty(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery(`ORDER BY free_now DESC`).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "driver_id", "event_id", "seats_free", "departure_point", "departure_time", "created_at", "updated_at", "free_now"}))

	rides, err := repo.ListRidesByEvent(context.Background(), "e1")
	require.NoError(t, err)
	assert.NotNil(t, rides)
	assert.Empty(t, rides)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newRide(seats int) *model.Ride {
	ride := &model.Ride{
		ID: "r1", DriverID: "d1", EventID: "e1", SeatsFree: seats,
		DeparturePoint: "Plaza", DepartureTime: "08:00", CreatedAt: created, UpdatedAt: created,
	}
	for i := 1; i <= seats; i++ {
		ride.Seats = append(ride.Seats, model.Seat{Number: i})
	}
	return ride
}

func TestRideRepoCreateRide(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO rides \(id, driver_id, event_id, seats_total, seats_free, departure_point, departure_time, created_at, updated_at\)`).
		WithArgs("r1", "d1", "e1", 3, 3, "Plaza", "08:00", created, created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ride_seats \(ride_id, seat_number, occupant_id\) VALUES \(\?, \?, \?\),\(\?, \?, \?\),\(\?, \?, \?\)$`).
		WithArgs("r1", 1, nil, "r1", 2, nil, "r1", 3, nil).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateRide(context.Background(), newRide(3)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepoCreateRideRollsBack(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO rides`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ride_seats`).
		WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	err := repo.CreateRide(context.Background(), newRide(2))
	assert.ErrorContains(t, err, "insert seats")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepoCreateRideWithoutSeats(t *testing.T) {
	repo, mock := newMock(t)
	assert.Error(t, repo.CreateRide(context.Background(), newRide(0)))
	assert.NoError(t, mock.ExpectationsWereMet())
}
