package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("record not found")

	// ErrTextbookNotFound is returned by every write that targets a textbook
	// which no longer exists (deleted while its pipeline was running)
	ErrTextbookNotFound = errors.New("textbook not found")

	// ErrDuplicateKey marks a lost insert race on a unique key. Callers of the
	// page cache treat it as success.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the textbook's current state
	ErrInvalidTransition = errors.New("invalid status transition")
)

// postgres unique_violation
const pgUniqueViolation = "23505"

// IsDuplicateKey classifies err as a unique-constraint violation.
// gorm translates driver errors when TranslateError is enabled; the pgconn
// check covers statements that bypass translation (raw Exec).
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicateKey) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// normalize maps gorm sentinel errors onto this package's errors
func normalize(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case IsDuplicateKey(err):
		return errors.Join(ErrDuplicateKey, err)
	default:
		return err
	}
}
