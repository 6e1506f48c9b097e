package kv

import (
	"math"
	"sort"
)

// LatestTimestamp asks the store to stamp the write with its own clock.
const LatestTimestamp uint64 = math.MaxUint64

// Op describes a physical mutation kind.
type Op byte

const (
	// OpPut upserts the given cells into the row.
	OpPut Op = iota
	// OpDelete writes a row tombstone at the mutation timestamp.
	OpDelete
	// OpDeleteVersion removes exactly the version written at the mutation
	// timestamp. Transaction rollback uses it to undo its own writes.
	OpDeleteVersion
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpDeleteVersion:
		return "delete_version"
	default:
		return "unknown"
	}
}

// Mutation attributes understood by the store side. Values are opaque.
const (
	AttrTenantID  = "_TenantId"
	AttrIndexUUID = "IdxUUID"
	AttrIndexMD   = "IdxMD"
	AttrTxState   = "_TxState"
	AttrTxID      = "_TxId"
)

type Cell struct {
	Family    string
	Qualifier string
	Value     []byte
}

// Mutation is one row-level write sent to the store.
type Mutation struct {
	Op        Op
	Row       []byte
	Cells     []Cell
	Timestamp uint64

	attrs map[string][]byte
}

func NewPut(row []byte, ts uint64, cells []Cell) *Mutation {
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Family != cells[j].Family {
			return cells[i].Family < cells[j].Family
		}
		return cells[i].Qualifier < cells[j].Qualifier
	})
	return &Mutation{Op: OpPut, Row: row, Cells: cells, Timestamp: ts}
}

func NewDelete(row []byte, ts uint64) *Mutation {
	return &Mutation{Op: OpDelete, Row: row, Timestamp: ts}
}

// SetAttribute attaches an opaque attribute. A nil value removes it.
func (m *Mutation) SetAttribute(name string, value []byte) {
	if value == nil {
		delete(m.attrs, name)
		return
	}
	if m.attrs == nil {
		m.attrs = make(map[string][]byte, 4)
	}
	m.attrs[name] = value
}

func (m *Mutation) Attribute(name string) []byte {
	return m.attrs[name]
}

// Attributes returns the attribute names in sorted order.
func (m *Mutation) Attributes() []string {
	names := make([]string, 0, len(m.attrs))
	for k := range m.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

const mutationOverhead = 64

// HeapSize estimates the in-memory footprint of the mutation.
func (m *Mutation) HeapSize() int {
	size := mutationOverhead + len(m.Row)
	for _, c := range m.Cells {
		size += len(c.Family) + len(c.Qualifier) + len(c.Value)
	}
	for k, v := range m.attrs {
		size += len(k) + len(v)
	}
	return size
}

// Keys returns the row keys of muts in order.
func Keys(muts []*Mutation) [][]byte {
	out := make([][]byte, 0, len(muts))
	for _, m := range muts {
		out = append(out, m.Row)
	}
	return out
}
