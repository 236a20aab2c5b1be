package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lascruzadas/carpool/internal/model"
	"github.com/lascruzadas/carpool/internal/utils"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,email,nickname,password_hash,role,points,created_at,updated_at"

// Create inserts user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, email, nickname, password, role string, cost int) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	nickname = strings.TrimSpace(nickname)
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = r.DB.ExecContext(ctx,
		"INSERT INTO users (id, email, nickname, password_hash, role) VALUES (?,?,?,?,?)",
		id, email, nickname, hash, role)
	if err != nil {
		switch {
		case isDuplicateKey(err, "uq_users_nickname"):
			return "", ErrNicknameTaken
		case isDuplicateKey(err, ""):
			return "", ErrEmailExists
		}
		return "", err
	}
	return id, nil
}

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Nickname, &u.PasswordHash, &u.Role, &u.Points, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// GetUser is the user directory lookup; a missing user is ErrNotFound.
func (r *UserRepo) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := r.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// FindUserID resolves a nickname, ignoring case.
func (r *UserRepo) FindUserID(ctx context.Context, nickname string) (string, error) {
	var id string
	err := r.DB.QueryRowContext(ctx,
		"SELECT id FROM users WHERE nickname_ci=LOWER(?) LIMIT 1", strings.TrimSpace(nickname)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return id, err
}

// AddPoints applies a signed delta to the user's counter and records it
// in point_logs.  A zero amount is a no-op.
func (r *UserRepo) AddPoints(ctx context.Context, userID string, amount int, reason string) error {
	if amount == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, "UPDATE users SET points = points + ? WHERE id = ?", amount, userID)
	if err != nil {
		return fmt.Errorf("update points: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO point_logs (user_id, amount, reason) VALUES (?,?,?)", userID, amount, reason); err != nil {
		return fmt.Errorf("insert point log: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
