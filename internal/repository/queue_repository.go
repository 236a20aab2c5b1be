package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lascruzadas/carpool/internal/model"
)

// QueueRepo persists the passenger waiting list.  The table carries a
// generated waiting_key column (1 while WAITING, NULL otherwise) so the
// unique key on (user_id, event_id, waiting_key) admits at most one
// WAITING row per user and event while keeping any number of ASSIGNED
// rows as history.  FIFO order is created_at, then the auto-increment
// seq column.
type QueueRepo struct {
	db *sql.DB
}

// NewQueueRepo returns a new QueueRepo bound to the given database.
func NewQueueRepo(db *sql.DB) *QueueRepo { return &QueueRepo{db: db} }

const queueColumns = `seq, id, user_id, event_id, state, assigned_ride_id, note, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(s rowScanner) (*model.QueueEntry, error) {
	var (
		e      model.QueueEntry
		state  string
		rideID sql.NullString
		note   sql.NullString
	)
	if err := s.Scan(&e.Seq, &e.ID, &e.UserID, &e.EventID, &state, &rideID, &note, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	var ride *string
	if rideID.Valid {
		ride = &rideID.String
	}
	status, err := model.StatusFromRow(state, ride)
	if err != nil {
		return nil, err
	}
	e.Status = status
	e.Note = note.String
	return &e, nil
}

// InsertWaiting adds a WAITING entry.  A unique key violation on the
// waiting key is reported as ErrDuplicateWaiting.  Seq is populated
// from the generated auto-increment value.
func (r *QueueRepo) InsertWaiting(ctx context.Context, e *model.QueueEntry) error {
	var note any
	if e.Note != "" {
		note = e.Note
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO passenger_queue (id, user_id, event_id, state, note, created_at, updated_at)
         VALUES (?, ?, ?, 'WAITING', ?, ?, ?)`,
		e.ID, e.UserID, e.EventID, note, e.CreatedAt, e.CreatedAt)
	if err != nil {
		if isDuplicateKey(err, "uq_queue_waiting") {
			return ErrDuplicateWaiting
		}
		return fmt.Errorf("insert queue entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.Seq = uint64(seq)
	e.Status = model.Waiting{}
	e.UpdatedAt = e.CreatedAt
	return nil
}

// FindWaiting returns the WAITING entry of a user for an event.
func (r *QueueRepo) FindWaiting(ctx context.Context, userID, eventID string) (*model.QueueEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM passenger_queue WHERE user_id = ? AND event_id = ? AND state = 'WAITING' LIMIT 1`,
		userID, eventID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find waiting entry: %w", err)
	}
	return e, nil
}

// DequeueOldest takes the oldest WAITING entry of an event and marks it
// ASSIGNED, bound to rideID when it is not empty.  The row is selected
// with FOR UPDATE SKIP LOCKED so concurrent dequeues never hand out the
// same entry.  It returns nil, nil when nobody is waiting.
func (r *QueueRepo) DequeueOldest(ctx context.Context, eventID, rideID string) (*model.QueueEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	row := tx.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM passenger_queue
         WHERE event_id = ? AND state = 'WAITING'
         ORDER BY created_at ASC, seq ASC
         LIMIT 1
         FOR UPDATE SKIP LOCKED`, eventID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select next entry: %w", err)
	}
	var ride any
	if rideID != "" {
		ride = rideID
	}
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE passenger_queue SET state = 'ASSIGNED', assigned_ride_id = ?, updated_at = ? WHERE seq = ?`,
		ride, now, e.Seq); err != nil {
		return nil, fmt.Errorf("assign entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	e.Status = model.AssignedTo(rideID)
	e.UpdatedAt = now
	return e, nil
}

// AssignWaiting marks the user's WAITING entry for the event as assigned
// to rideID.  It reports whether an entry was waiting.
func (r *QueueRepo) AssignWaiting(ctx context.Context, userID, eventID, rideID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE passenger_queue SET state = 'ASSIGNED', assigned_ride_id = ?, updated_at = ?
         WHERE user_id = ? AND event_id = ? AND state = 'WAITING'`,
		rideID, time.Now().UTC(), userID, eventID)
	if err != nil {
		return false, fmt.Errorf("assign waiting entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// WaitingPosition returns the 1-based FIFO position of the user's WAITING
// entry, or 0 when the user is not waiting.
func (r *QueueRepo) WaitingPosition(ctx context.Context, userID, eventID string) (int, error) {
	e, err := r.FindWaiting(ctx, userID, eventID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var pos int
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM passenger_queue
         WHERE event_id = ? AND state = 'WAITING'
           AND (created_at < ? OR (created_at = ? AND seq <= ?))`,
		eventID, e.CreatedAt, e.CreatedAt, e.Seq).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("queue position: %w", err)
	}
	return pos, nil
}

// RequeueRide puts every entry assigned to rideID back in line and
// returns how many went back to WAITING.  Entries whose user already
// waits again for the same event lose the ride reference instead.
func (r *QueueRepo) RequeueRide(ctx context.Context, rideID string) (int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq FROM passenger_queue WHERE assigned_ride_id = ? AND state = 'ASSIGNED' ORDER BY seq`, rideID)
	if err != nil {
		return 0, fmt.Errorf("list assigned entries: %w", err)
	}
	var seqs []uint64
	for rows.Next() {
		var seq uint64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return 0, err
		}
		seqs = append(seqs, seq)
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}
	requeued := 0
	for _, seq := range seqs {
		ok, err := r.requeueSeq(ctx, seq)
		if err != nil {
			return requeued, err
		}
		if ok {
			requeued++
		}
	}
	return requeued, nil
}

// RequeueUser puts the user's latest entry assigned to rideID back in
// line.  It reports whether the entry is WAITING again.
func (r *QueueRepo) RequeueUser(ctx context.Context, userID, eventID, rideID string) (bool, error) {
	var seq uint64
	err := r.db.QueryRowContext(ctx,
		`SELECT seq FROM passenger_queue
         WHERE user_id = ? AND event_id = ? AND state = 'ASSIGNED' AND assigned_ride_id = ?
         ORDER BY seq DESC LIMIT 1`,
		userID, eventID, rideID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find assigned entry: %w", err)
	}
	return r.requeueSeq(ctx, seq)
}

// Requeue puts one entry back in line by id.
func (r *QueueRepo) Requeue(ctx context.Context, entryID string) (bool, error) {
	var seq uint64
	err := r.db.QueryRowContext(ctx, `SELECT seq FROM passenger_queue WHERE id = ?`, entryID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("find entry: %w", err)
	}
	return r.requeueSeq(ctx, seq)
}

// requeueSeq flips one row back to WAITING keeping its created_at, so the
// passenger regains the original place in line.
func (r *QueueRepo) requeueSeq(ctx context.Context, seq uint64) (bool, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`UPDATE passenger_queue SET state = 'WAITING', assigned_ride_id = NULL, updated_at = ? WHERE seq = ?`,
		now, seq)
	if err == nil {
		return true, nil
	}
	if !isDuplicateKey(err, "uq_queue_waiting") {
		return false, fmt.Errorf("requeue entry: %w", err)
	}
	if _, err := r.db.ExecContext(ctx,
		`UPDATE passenger_queue SET assigned_ride_id = NULL, updated_at = ? WHERE seq = ?`,
		now, seq); err != nil {
		return false, fmt.Errorf("detach entry: %w", err)
	}
	return false, nil
}
