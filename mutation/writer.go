package mutation

import (
	"context"

	"github.com/bootjp/elasticsql/kv"
	"github.com/bootjp/elasticsql/schema"
	"github.com/bootjp/elasticsql/txn"
	"github.com/cockroachdb/errors"
)

// writerKind is the capability of the handle a batch is written through,
// chosen from the data table before the batch is sent.
type writerKind int

const (
	writerPlain writerKind = iota
	// writerTxnTagged stamps writes with the transaction.
	writerTxnTagged
	// writerTxnTaggedAbortIndex also removes index rows when the
	// transaction manager replays deletes on rollback.
	writerTxnTaggedAbortIndex
)

func (k writerKind) String() string {
	switch k {
	case writerPlain:
		return "plain"
	case writerTxnTagged:
		return "txn"
	case writerTxnTaggedAbortIndex:
		return "txn+abort-index"
	default:
		return "unknown"
	}
}

func writerKindFor(data *schema.Table) writerKind {
	switch {
	case !data.Transactional:
		return writerPlain
	case len(data.EnabledIndexes()) > 0:
		return writerTxnTaggedAbortIndex
	default:
		return writerTxnTagged
	}
}

func conflictLevel(data *schema.Table) txn.ConflictLevel {
	if data.ImmutableRows {
		return txn.ConflictNone
	}
	return txn.ConflictRow
}

// openWriter opens the handle for one batch of data. Only the primary batch
// of a transactional table is enlisted; index batches are tagged with the
// running transaction but never rolled back on their own.
func (s *MutationState) openWriter(ctx context.Context, data *schema.Table, b TableMutations) (kv.WriteHandle, error) {
	h, err := s.conn.Client.WriteHandle(b.Table)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	kind := writerKindFor(data)
	if kind == writerPlain {
		return h, nil
	}

	var hook txn.DeleteHook
	if kind == writerTxnTaggedAbortIndex && b.Primary() {
		hook = &abortSafeIndexHook{client: s.conn.Client, data: data, tenant: s.conf.TenantID}
	}
	table := txn.NewTxTable(s.conn.Client, h, conflictLevel(data), hook)
	if !b.Primary() {
		table.StartTx(s.coord.Transaction())
		return table, nil
	}
	if err := s.coord.AddParticipant(ctx, table); err != nil {
		if closeErr := h.Close(); closeErr != nil {
			err = errors.CombineErrors(err, errors.Mark(errors.Wrap(closeErr, "close write handle"), ErrResourceRelease))
		}
		return nil, err
	}
	return table, nil
}
