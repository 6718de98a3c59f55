// Package repository holds the MySQL data access for the booking
// service.  Repositories take a *sql.DB, accept a context on every
// call and return the sentinel errors below for conditions that the
// callers branch on.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrConflict is returned when a row with the same unique key already
// exists, such as a second booking for the same hold.
var ErrConflict = errors.New("conflict")

const mysqlDuplicateEntry = 1062

// isDuplicate reports whether err is a MySQL unique key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
