package service

import (
	"errors"

	"github.com/lascruzadas/carpool/internal/repository"
)

// Errors surfaced by the carpool engine.  Handlers map them to HTTP
// status codes with errors.Is.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrSeatUnavailable = errors.New("seat unavailable, try another seat")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("not your ride")
)

// translate maps storage sentinels onto the service taxonomy.  Anything
// it does not know passes through unchanged.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrSeatTaken):
		return ErrSeatUnavailable
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrForbidden):
		return ErrForbidden
	}
	return err
}
