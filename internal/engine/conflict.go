package engine

import (
	stderrors "errors"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"

	"github.com/zoravur/tablegate/internal/errors"
)

// postgres SQLSTATEs for serialization failure, deadlock and lock timeout.
var pgConflictStates = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
}

const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213

	sqliteBusy   = 5
	sqliteLocked = 6
)

// isConflict reports whether err is the engine aborting a transaction
// because of a concurrent writer.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgConflictStates[pgErr.Code]
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pgConflictStates[string(pqErr.Code)]
	}
	var myErr *mysql.MySQLError
	if stderrors.As(err, &myErr) {
		return myErr.Number == mysqlDeadlock || myErr.Number == mysqlLockWaitTimeout
	}
	var liteErr *sqlite.Error
	if stderrors.As(err, &liteErr) {
		primary := liteErr.Code() & 0xff
		return primary == sqliteBusy || primary == sqliteLocked
	}
	return false
}

// classify codes conflicts as WriteConflict and wraps everything else.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if isConflict(err) {
		return errors.Coded(err, errors.ErrWriteConflict, op)
	}
	return errors.Wrap(err, op)
}
