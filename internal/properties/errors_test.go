package properties

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifyDBError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		missing  bool
		conflict bool
	}{
		{name: "postgres undefined table", err: &pgconn.PgError{Code: "42P01", Message: `relation "property_images" does not exist`}, missing: true},
		{name: "postgres serialization failure", err: &pgconn.PgError{Code: "40001"}, conflict: true},
		{name: "postgres deadlock", err: fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40P01"}), conflict: true},
		{name: "postgres unique violation", err: &pgconn.PgError{Code: "23505"}},
		{name: "mysql missing table", err: &mysql.MySQLError{Number: 1146, Message: "Table 'app.property_images' doesn't exist"}, missing: true},
		{name: "mysql deadlock", err: &mysql.MySQLError{Number: 1213}, conflict: true},
		{name: "mysql lock wait timeout", err: &mysql.MySQLError{Number: 1205}, conflict: true},
		{name: "sqlite missing table", err: errors.New("SQL logic error: no such table: property_images (1)"), missing: true},
		{name: "postgres other missing table", err: &pgconn.PgError{Code: "42P01", Message: `relation "units" does not exist`}},
		{name: "mysql other missing table", err: &mysql.MySQLError{Number: 1146, Message: "Table 'app.property_documents' doesn't exist"}},
		{name: "sqlite other missing table", err: errors.New("SQL logic error: no such table: units (1)")},
		{name: "sqlite busy", err: errors.New("database is locked (5) (SQLITE_BUSY)"), conflict: true},
		{name: "unrelated", err: errors.New("connection refused")},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			classified := classifyDBError(testCase.err)
			if got := errors.Is(classified, ErrImageStoreMissing); got != testCase.missing {
				t.Fatalf("missing table = %v, want %v", got, testCase.missing)
			}
			if got := errors.Is(classified, ErrTxConflict); got != testCase.conflict {
				t.Fatalf("conflict = %v, want %v", got, testCase.conflict)
			}
			if !errors.Is(classified, testCase.err) {
				t.Fatalf("classified error must wrap the original")
			}
		})
	}
	if classifyDBError(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}
