package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lascruzadas/carpool/internal/model"
)

// EventRepo is the read side of the events table used by the carpool
// engine: existence checks and the recent-events window of the feed.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns a new EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// GetEvent returns one event or ErrNotFound.
func (r *EventRepo) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, starts_at, location FROM events WHERE id = ?`, id).
		Scan(&e.ID, &e.Name, &e.StartsAt, &e.Location)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

// ListRecentEvents returns events dated on or after since, soonest first.
func (r *EventRepo) ListRecentEvents(ctx context.Context, since time.Time) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, starts_at, location FROM events WHERE starts_at >= ? ORDER BY starts_at ASC`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	defer rows.Close()
	events := []model.Event{}
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.Name, &e.StartsAt, &e.Location); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
