package txn

import (
	"context"
	"strconv"
	"sync"

	"github.com/bootjp/elasticsql/kv"
	"github.com/cockroachdb/errors"
)

type ConflictLevel int

const (
	// ConflictRow detects write-write conflicts per row.
	ConflictRow ConflictLevel = iota
	// ConflictNone records no change set. Tables with immutable rows use it.
	ConflictNone
)

// DeleteHook is called when a rollback replays the row deletes that undo a
// transaction's writes. It receives the deletes, each at the transaction's
// write pointer, and must send them through h itself. A returned error fails
// the rollback of the table.
type DeleteHook interface {
	ReplayDeletes(ctx context.Context, h kv.WriteHandle, deletes []*kv.Mutation) error
}

// TxTable is a transaction-aware write handle. Writes are stamped with the
// write pointer of the current transaction and remembered so that a rollback
// can remove exactly those versions.
type TxTable struct {
	client kv.Client
	inner  kv.WriteHandle
	level  ConflictLevel
	hook   DeleteHook

	mu      sync.Mutex
	tx      *Transaction
	written map[string][]byte
	order   []string
}

var (
	_ kv.WriteHandle = (*TxTable)(nil)
	_ Participant    = (*TxTable)(nil)
)

// NewTxTable wraps inner. client opens the handle used for rollback, which
// may run after inner is closed. hook may be nil.
func NewTxTable(client kv.Client, inner kv.WriteHandle, level ConflictLevel, hook DeleteHook) *TxTable {
	return &TxTable{
		client:  client,
		inner:   inner,
		level:   level,
		hook:    hook,
		written: map[string][]byte{},
	}
}

func (t *TxTable) Name() string {
	return t.inner.Name()
}

// StartTx binds the table to tx. Starting again with the same transaction
// keeps the recorded writes.
func (t *TxTable) StartTx(tx *Transaction) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tx != nil && t.tx.ID == tx.ID {
		return
	}
	t.tx = tx
	t.reset()
}

func (t *TxTable) reset() {
	t.written = map[string][]byte{}
	t.order = nil
}

func txIDAttr(tx *Transaction) []byte {
	return []byte(strconv.FormatUint(tx.ID, 10))
}

// Batch stamps muts with the write pointer and forwards them.
func (t *TxTable) Batch(ctx context.Context, muts []*kv.Mutation) error {
	t.mu.Lock()
	tx := t.tx
	if tx == nil {
		t.mu.Unlock()
		return errors.WithStack(ErrNoTransactionContext)
	}
	for _, m := range muts {
		m.Timestamp = tx.WritePointer
		m.SetAttribute(kv.AttrTxID, txIDAttr(tx))
		k := string(m.Row)
		if _, ok := t.written[k]; !ok {
			t.written[k] = m.Row
			t.order = append(t.order, k)
		}
	}
	t.mu.Unlock()
	return errors.WithStack(t.inner.Batch(ctx, muts))
}

func (t *TxTable) Close() error {
	return errors.WithStack(t.inner.Close())
}

func (t *TxTable) ChangeSet() [][]byte {
	if t.level == ConflictNone {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, 0, len(t.order))
	prefix := t.Name() + "\x00"
	for _, k := range t.order {
		out = append(out, []byte(prefix+k))
	}
	return out
}

// CommitTx has nothing to flush; writes go out as they are batched.
func (t *TxTable) CommitTx(context.Context) error {
	return nil
}

func (t *TxTable) PostTxCommit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tx = nil
	t.reset()
}

// Written returns the rows written under the current transaction.
func (t *TxTable) Written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.written[k])
	}
	return out
}

// RollbackTx deletes the versions this table wrote at the write pointer.
func (t *TxTable) RollbackTx(ctx context.Context) error {
	t.mu.Lock()
	tx := t.tx
	rows := make([][]byte, 0, len(t.order))
	for _, k := range t.order {
		rows = append(rows, t.written[k])
	}
	t.tx = nil
	t.reset()
	t.mu.Unlock()

	if tx == nil || len(rows) == 0 {
		return nil
	}

	deletes := make([]*kv.Mutation, 0, len(rows))
	for _, r := range rows {
		m := &kv.Mutation{Op: kv.OpDeleteVersion, Row: r, Timestamp: tx.WritePointer}
		m.SetAttribute(kv.AttrTxID, txIDAttr(tx))
		deletes = append(deletes, m)
	}

	h, err := t.client.WriteHandle(t.Name())
	if err != nil {
		return errors.WithStack(err)
	}
	if t.hook != nil {
		err = t.hook.ReplayDeletes(ctx, h, deletes)
	} else {
		err = h.Batch(ctx, deletes)
	}
	return errors.WithStack(errors.CombineErrors(err, h.Close()))
}
