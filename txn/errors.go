package txn

import "github.com/cockroachdb/errors"

var (
	// ErrHistoricalReadTransaction is returned when a transaction is started on
	// a connection pinned to a historical SCN.
	ErrHistoricalReadTransaction = errors.New("transactions cannot be used with a fixed SCN")
	// ErrNoTransactionContext is returned when the coordinator wraps a caller
	// supplied transaction and so cannot start one itself.
	ErrNoTransactionContext = errors.New("no transaction context")

	ErrTransactionConflict = errors.New("transaction conflict")
	ErrTransactionFailure  = errors.New("transaction failure")

	// ErrWriteConflict is the service level signal behind ErrTransactionConflict.
	ErrWriteConflict         = errors.New("write conflict")
	ErrUnknownTransaction    = errors.New("unknown transaction")
	ErrInvalidTransactionLen = errors.New("transaction state truncated")
)
