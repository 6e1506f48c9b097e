package txn

import "context"

// Participant is a resource enlisted in a transaction. The service drives
// its hooks: StartTx when enlisted, ChangeSet and CommitTx on finish,
// PostTxCommit once the commit is durable, and RollbackTx on abort.
type Participant interface {
	Name() string
	StartTx(tx *Transaction)
	// ChangeSet returns the keys written under the transaction, used for
	// conflict detection. Participants without conflict detection return nil.
	ChangeSet() [][]byte
	CommitTx(ctx context.Context) error
	PostTxCommit()
	RollbackTx(ctx context.Context) error
}
