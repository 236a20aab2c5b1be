// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as the
// booking services to distinguish between different failure scenarios.
// Both the MySQL stores and the in-memory stores return the same
// sentinels so callers never depend on the backend.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the addressed row does not exist, or when
// a release finds no occupied seat matching its selector.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when the caller attempts an operation
// on a resource they do not own, such as deleting another driver's
// ride.  Handlers translate this into an HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrSeatTaken is returned when the conditional seat update matched no
// row: the seat is occupied, does not exist, or the ride is gone.
var ErrSeatTaken = errors.New("seat taken or missing")

// ErrDuplicateWaiting is returned when inserting a WAITING queue entry
// violates the one-waiting-entry-per-user-and-event unique key.
var ErrDuplicateWaiting = errors.New("already waiting for this event")

// ErrEmailExists and ErrNicknameTaken report unique key violations on
// the users table.
var (
	ErrEmailExists   = errors.New("email already exists")
	ErrNicknameTaken = errors.New("nickname already taken")
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// isDuplicateKey reports whether err is a MySQL unique key violation.
// When key is not empty the violated index name must contain it.
func isDuplicateKey(err error, key string) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != mysqlDuplicateEntry {
		return false
	}
	return key == "" || strings.Contains(me.Message, key)
}
