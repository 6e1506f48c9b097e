package schema

import "sync/atomic"

// TableRef is the write target shared by every pending row of one table. Its
// schema snapshot may be swapped when validation finds a newer definition.
type TableRef struct {
	table atomic.Pointer[Table]

	timestamp atomic.Uint64
}

func NewTableRef(t *Table, ts uint64) *TableRef {
	r := &TableRef{}
	r.table.Store(t)
	r.timestamp.Store(ts)
	return r
}

func (r *TableRef) Table() *Table {
	return r.table.Load()
}

// ReplaceTable installs next if the current snapshot is still old.
func (r *TableRef) ReplaceTable(old, next *Table) bool {
	return r.table.CompareAndSwap(old, next)
}

// TimeStamp is the time at which the schema snapshot was resolved.
func (r *TableRef) TimeStamp() uint64 {
	return r.timestamp.Load()
}

func (r *TableRef) SetTimeStamp(ts uint64) {
	r.timestamp.Store(ts)
}

// Key identifies the logical table for buffering. Two refs for the same
// table share a key even when they hold different snapshots.
func (r *TableRef) Key() string {
	return r.Table().Name
}
