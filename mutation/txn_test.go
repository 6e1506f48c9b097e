package mutation

import (
	"context"
	"testing"

	"github.com/bootjp/elasticsql/kv"
	"github.com/bootjp/elasticsql/schema"
	"github.com/bootjp/elasticsql/txn"
	"github.com/stretchr/testify/require"
)

func TestTransactionalBatchCarriesState(t *testing.T) {
	t.Parallel()
	env := newFakeEnv(newTestConf())
	tbl := kvTable("T")
	tbl.Transactional = true
	ref := publish(t, env.catalog, tbl)

	s := New(env.conn)
	require.NoError(t, s.AddEdit(ref, key("a"), cols(colV, "1")))
	require.NoError(t, s.Send(context.Background()))

	tx := s.Transaction()
	require.NotNil(t, tx)
	m := env.client.batches("T")[0][0]
	require.Equal(t, tx.WritePointer, m.Timestamp)
	require.NotNil(t, m.Attribute(kv.AttrTxID))
	state, err := txn.DecodeState(m.Attribute(kv.AttrTxState))
	require.NoError(t, err)
	require.Equal(t, tx.ID, state.ID)

	require.NoError(t, s.Commit(context.Background()))
	require.Nil(t, s.Transaction())
	require.Equal(t, txn.StateFinished, s.Coordinator().LastOutcome())
}

func TestFailedSendLeavesTransactionForRollback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newFakeEnv(newTestConf())
	tbl := kvTable("T")
	tbl.Transactional = true
	ref := publish(t, env.catalog, tbl)
	env.client.always["T"] = errPermanent

	s := New(env.conn)
	require.NoError(t, s.AddEdit(ref, key("a"), cols(colV, "1")))
	require.ErrorIs(t, s.Commit(ctx), errPermanent)
	require.Equal(t, txn.StateStarted, s.Coordinator().State())
	require.Empty(t, s.Coordinator().Participants())

	env.client.mu.Lock()
	delete(env.client.always, "T")
	env.client.mu.Unlock()
	require.NoError(t, s.Rollback(ctx))
	require.Equal(t, txn.StateUnstarted, s.Coordinator().State())
	require.Equal(t, txn.StateAborted, s.Coordinator().LastOutcome())
	require.Equal(t, 0, s.PendingCount())
}

func TestHistoricalConnectionCannotWriteTransactionally(t *testing.T) {
	t.Parallel()
	conf := newTestConf()
	conf.SCN = 10
	env := newFakeEnv(conf)
	tbl := kvTable("T")
	tbl.Transactional = true
	ref := publish(t, env.catalog, tbl)

	s := New(env.conn)
	require.NoError(t, s.AddEdit(ref, key("a"), cols(colV, "1")))
	require.ErrorIs(t, s.Commit(context.Background()), txn.ErrHistoricalReadTransaction)
	require.Empty(t, env.client.batches("T"))
}

func TestSendTransactionalFiltersTables(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newFakeEnv(newTestConf())
	txTbl := kvTable("TX")
	txTbl.Transactional = true
	txRef := publish(t, env.catalog, txTbl)
	plainRef := publish(t, env.catalog, kvTable("PLAIN"))

	s := New(env.conn)
	require.NoError(t, s.AddEdit(plainRef, key("a"), cols(colV, "1")))

	sent, err := s.SendTransactional(ctx, []*schema.TableRef{plainRef})
	require.NoError(t, err)
	require.False(t, sent)
	require.Nil(t, s.Transaction())

	require.NoError(t, s.AddEdit(txRef, key("a"), cols(colV, "1")))
	sent, err = s.SendTransactional(ctx, s.Tables())
	require.NoError(t, err)
	require.True(t, sent)
	require.NotNil(t, s.Transaction())
	require.Len(t, env.client.batches("TX"), 1)
	require.Empty(t, env.client.batches("PLAIN"))
	require.Equal(t, []*schema.TableRef{plainRef}, s.Tables())

	require.NoError(t, s.Commit(ctx))
	require.Len(t, env.client.batches("PLAIN"), 1)
}

func TestWriterKind(t *testing.T) {
	t.Parallel()

	require.Equal(t, writerPlain, writerKindFor(ordersTable(true, false)))
	require.Equal(t, writerTxnTaggedAbortIndex, writerKindFor(ordersTable(true, true)))
	tbl := kvTable("T")
	tbl.Transactional = true
	require.Equal(t, writerTxnTagged, writerKindFor(tbl))

	require.Equal(t, txn.ConflictNone, conflictLevel(ordersTable(true, true)))
	require.Equal(t, txn.ConflictRow, conflictLevel(tbl))
}

func TestRollbackRemovesIndexRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newClusterEnv(t, newTestConf())
	orders := publish(t, env.catalog, ordersTable(true, true))

	s := New(env.conn)
	require.NoError(t, s.AddEdit(orders, key("o1"), cols(customer, "alice", total, "10")))
	require.NoError(t, s.AddEdit(orders, key("o2"), cols(customer, "bob", total, "20")))
	require.NoError(t, s.Send(ctx))

	for _, name := range []string{"ORDERS", "ORDERS_BY_CUSTOMER", "ORDERS_BY_ID", "ORDERS_LOCAL"} {
		require.Equal(t, 2, env.cluster.Table(name).Len(), name)
	}
	require.Equal(t, 0, env.cluster.Table("ORDERS_OLD").Len())
	_, ok := env.cluster.Table("ORDERS_BY_CUSTOMER").Get(schema.EncodeRowKey([]byte("alice"), []byte("o1")))
	require.True(t, ok)

	require.NoError(t, s.Rollback(ctx))
	for _, name := range []string{"ORDERS", "ORDERS_BY_CUSTOMER", "ORDERS_BY_ID", "ORDERS_LOCAL"} {
		require.Equal(t, 0, env.cluster.Table(name).Len(), name)
	}
	require.Equal(t, 0, env.txn.Active())
}

func TestConflictingCommitIsRolledBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newClusterEnv(t, newTestConf())
	tbl := kvTable("ACCOUNTS")
	tbl.Transactional = true
	ref := publish(t, env.catalog, tbl)

	first, second := New(env.conn), New(env.conn)
	require.NoError(t, first.AddEdit(ref, key("a"), cols(colV, "1")))
	require.NoError(t, second.AddEdit(ref, key("a"), cols(colV, "2")))
	_, err := first.StartTransaction(ctx)
	require.NoError(t, err)
	_, err = second.StartTransaction(ctx)
	require.NoError(t, err)

	require.NoError(t, first.Commit(ctx))
	err = second.Commit(ctx)
	require.ErrorIs(t, err, txn.ErrTransactionConflict)
	require.Equal(t, 0, second.PendingCount())

	row, ok := env.cluster.Table("ACCOUNTS").Get(key("a"))
	require.True(t, ok)
	v, _ := row.Cell(colV.Family, colV.Name)
	require.Equal(t, []byte("1"), v)
	require.Equal(t, 0, env.txn.Active())
}

func TestNestedBufferJoinsManagedTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newClusterEnv(t, newTestConf())
	tbl := kvTable("T")
	tbl.Transactional = true
	ref := publish(t, env.catalog, tbl)

	parent := New(env.conn)
	_, err := parent.StartTransaction(ctx)
	require.NoError(t, err)

	child, err := NewWithRows(parent, ref, []RowEntry{{Row: key("a"), Edit: cols(colV, "1")}})
	require.NoError(t, err)
	require.Same(t, parent.Coordinator(), child.Coordinator())
	require.NoError(t, child.Send(ctx))
	require.Equal(t, 1, env.txn.Active())

	require.NoError(t, parent.Join(ctx, child))
	require.NoError(t, parent.Rollback(ctx))
	require.Equal(t, 0, env.cluster.Table("T").Len(), "the nested write is rolled back with the parent")
}

func TestNestedBufferStartsParentTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newClusterEnv(t, newTestConf())
	tbl := kvTable("T")
	tbl.Transactional = true
	ref := publish(t, env.catalog, tbl)

	parent := New(env.conn)
	require.Nil(t, parent.Transaction())
	child, err := NewWithRows(parent, ref, []RowEntry{{Row: key("a"), Edit: cols(colV, "1")}})
	require.NoError(t, err)
	require.NoError(t, child.Send(ctx))

	tx := parent.Transaction()
	require.NotNil(t, tx, "the nested send starts the parent's transaction")
	require.Same(t, tx, child.Transaction())

	require.NoError(t, parent.Join(ctx, child))
	require.NoError(t, parent.Commit(ctx))
	require.Equal(t, 0, env.txn.Active())
	require.Equal(t, txn.StateFinished, parent.Coordinator().LastOutcome())

	row, ok := env.cluster.Table("T").Get(key("a"))
	require.True(t, ok)
	v, _ := row.Cell(colV.Family, colV.Name)
	require.Equal(t, []byte("1"), v)
	require.Equal(t, tx.WritePointer, row.TS)
}

func TestSplitRaceAgainstCluster(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conf := newTestConf()
	conf.IndexMetadataCacheThreshold = 0
	conf.IndexMutateBatchThreshold = 0
	env := newClusterEnv(t, conf)
	orders := publish(t, env.catalog, ordersTable(false, false))

	s := New(env.conn)
	for _, id := range []string{"o1", "o2", "o3", "o4", "o5", "o6", "o7", "o8"} {
		require.NoError(t, s.AddEdit(orders, key(id), cols(customer, "c-"+id, total, "1")))
	}
	// locate the table, then split under the client
	h, err := env.client.WriteHandle("ORDERS")
	require.NoError(t, err)
	require.NoError(t, h.Close())
	_, err = env.cluster.AddServer()
	require.NoError(t, err)

	require.NoError(t, s.Commit(ctx))
	require.Equal(t, 8, env.cluster.Table("ORDERS").Len())
	require.Equal(t, 8, env.cluster.Table("ORDERS_BY_CUSTOMER").Len())
	require.Equal(t, 8, env.cluster.Table("ORDERS_BY_ID").Len())
}
