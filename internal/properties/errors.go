package properties

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrImageStoreMissing reports that the property_images table does not exist.
	ErrImageStoreMissing = errors.New("properties: image store missing")
	// ErrTxConflict reports a serialization failure, deadlock or lock timeout.
	ErrTxConflict = errors.New("properties: transaction conflict")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingProbe      = errors.New("image store probe is required")
)

// ServiceError carries an "<operation>.<reason>" code for internal failures.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

const (
	pgUndefinedTable        = "42P01"
	pgSerializationFailure  = "40001"
	pgDeadlockDetected      = "40P01"
	pgLockNotAvailable      = "55P03"
	mysqlNoSuchTable        = 1146
	mysqlLockWaitTimeout    = 1205
	mysqlDeadlock           = 1213
	sqliteNoSuchTablePrefix = "no such table"
	imageTableName          = "property_images"
)

// classifyDBError tags driver errors with ErrImageStoreMissing or ErrTxConflict.
// Unrecognized errors are returned unchanged.
func classifyDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrImageStoreMissing), errors.Is(err, ErrTxConflict):
		return err
	case isMissingTableError(err):
		return fmt.Errorf("%w: %w", ErrImageStoreMissing, err)
	case isConflictError(err):
		return fmt.Errorf("%w: %w", ErrTxConflict, err)
	default:
		return err
	}
}

func isMissingTableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrImageStoreMissing) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUndefinedTable && namesImageTable(pgErr.Message)
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlNoSuchTable && namesImageTable(mysqlErr.Message)
	}
	message := err.Error()
	return strings.Contains(strings.ToLower(message), sqliteNoSuchTablePrefix) && namesImageTable(message)
}

// namesImageTable reports whether a driver message refers to the image table.
// Other missing tables are ordinary failures.
func namesImageTable(message string) bool {
	return strings.Contains(strings.ToLower(message), imageTableName)
}

func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return true
		}
		return false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDeadlock || mysqlErr.Number == mysqlLockWaitTimeout
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "database table is locked") ||
		strings.Contains(message, "sqlite_busy")
}
