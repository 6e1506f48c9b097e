package mutation

import (
	"github.com/bootjp/elasticsql/internal"
	"github.com/bootjp/elasticsql/kv"
	"github.com/bootjp/elasticsql/schema"
)

// TableMutations is one physical batch: the rows of the data table, or the
// rows of one of its indexes.
type TableMutations struct {
	Table     string
	Index     *schema.Table
	Mutations []*kv.Mutation
}

// Primary reports whether the batch targets the data table.
func (b TableMutations) Primary() bool {
	return b.Index == nil
}

// tableIterator yields the primary batch of one table, then one batch per
// client-maintained index. Index batches are built only when reached.
type tableIterator struct {
	data    *schema.Table
	ts      uint64
	primary []*kv.Mutation
	indexes []*schema.Table

	pos   int
	batch TableMutations
	err   error
}

func primaryMutation(row []byte, e *RowEdit, ts uint64) *kv.Mutation {
	row = internal.CloneBytes(row)
	if e.IsDelete() {
		return kv.NewDelete(row, ts)
	}
	cells := make([]kv.Cell, 0, len(e.Columns)+1)
	for ref, v := range e.Columns {
		cells = append(cells, kv.Cell{Family: ref.Family, Qualifier: ref.Name, Value: v})
	}
	cells = append(cells, kv.Cell{
		Family:    schema.EmptyColumn.Family,
		Qualifier: schema.EmptyColumn.Name,
		Value:     schema.EmptyColumnValue,
	})
	return kv.NewPut(row, ts, cells)
}

func newTableIterator(edits *TableEdits, ts uint64, includeMutable bool) *tableIterator {
	data := edits.Ref.Table()
	primary := make([]*kv.Mutation, 0, edits.Len())
	edits.Each(func(row []byte, e *RowEdit) {
		primary = append(primary, primaryMutation(row, e, ts))
	})
	return &tableIterator{
		data:    data,
		ts:      ts,
		primary: primary,
		indexes: schema.ClientMaintained(data, includeMutable),
	}
}

func (it *tableIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.pos == 0 {
		it.pos++
		it.batch = TableMutations{Table: it.data.Physical(), Mutations: it.primary}
		return true
	}
	for it.pos <= len(it.indexes) {
		idx := it.indexes[it.pos-1]
		it.pos++
		muts, err := it.indexMutations(idx)
		if err != nil {
			it.err = err
			return false
		}
		if len(muts) == 0 {
			continue
		}
		it.batch = TableMutations{Table: idx.Physical(), Index: idx, Mutations: muts}
		return true
	}
	return false
}

// indexMutations derives index upserts from the primary puts. Deletes are
// not derived here.
func (it *tableIterator) indexMutations(idx *schema.Table) ([]*kv.Mutation, error) {
	m, err := schema.NewIndexMaintainer(it.data, idx)
	if err != nil {
		return nil, err
	}
	var out []*kv.Mutation
	for _, p := range it.primary {
		if p.Op != kv.OpPut {
			continue
		}
		put, err := m.UpdateFor(p.Row, it.ts, schema.CellValues(p.Cells))
		if err != nil {
			return nil, err
		}
		out = append(out, put)
	}
	return out, nil
}

func (it *tableIterator) Batch() TableMutations {
	return it.batch
}

func (it *tableIterator) Err() error {
	return it.err
}

// Iterator walks the physical batches of every buffered table.
type Iterator struct {
	tables         []*TableEdits
	ts             uint64
	includeMutable bool

	cur *tableIterator
	err error
}

func (it *Iterator) Next() bool {
	for {
		if it.err != nil {
			return false
		}
		if it.cur != nil {
			if it.cur.Next() {
				return true
			}
			if err := it.cur.Err(); err != nil {
				it.err = err
				return false
			}
		}
		if len(it.tables) == 0 {
			return false
		}
		it.cur = newTableIterator(it.tables[0], it.ts, it.includeMutable)
		it.tables = it.tables[1:]
	}
}

func (it *Iterator) Batch() TableMutations {
	return it.cur.Batch()
}

func (it *Iterator) Err() error {
	return it.err
}
