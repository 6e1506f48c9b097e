package schema

import (
	"github.com/bootjp/elasticsql/kv"
	"github.com/cockroachdb/errors"
)

var (
	ErrIndexColumnNotFound = errors.New("index column not found in data table")
	ErrKeyValueIndex       = errors.New("index needs column values, not just the row key")
)

// IndexedColumn is one component of an index row key. PKPosition points into
// the data row key, or is -1 when the value comes from a cell.
type IndexedColumn struct {
	Ref        ColumnRef
	PKPosition int
}

// IndexMaintainer projects data rows of one table into rows of one index. It
// carries everything needed to do so without the schema, so the store side
// can run it from a decoded descriptor.
type IndexMaintainer struct {
	IndexTable  string
	Local       bool
	DataPKCount int
	Indexed     []IndexedColumn
	Covered     []ColumnRef
}

func NewIndexMaintainer(data, index *Table) (*IndexMaintainer, error) {
	m := &IndexMaintainer{
		IndexTable:  index.Physical(),
		Local:       index.IndexType == IndexLocal,
		DataPKCount: data.PKCount(),
	}
	for _, ref := range index.IndexedColumns {
		col, ok := data.Column(ref)
		if !ok {
			return nil, errors.Wrapf(ErrIndexColumnNotFound, "%s on %s", ref, index.Name)
		}
		m.Indexed = append(m.Indexed, IndexedColumn{Ref: ref, PKPosition: col.PKPosition})
	}
	for _, ref := range index.CoveredColumns {
		col, ok := data.Column(ref)
		if !ok {
			return nil, errors.Wrapf(ErrIndexColumnNotFound, "%s on %s", ref, index.Name)
		}
		if col.InRowKey() {
			continue
		}
		m.Covered = append(m.Covered, ref)
	}
	return m, nil
}

// Maintainers builds maintainers for indexes of data.
func Maintainers(data *Table, indexes []*Table) ([]*IndexMaintainer, error) {
	out := make([]*IndexMaintainer, 0, len(indexes))
	for _, idx := range indexes {
		m, err := NewIndexMaintainer(data, idx)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// AllColumns returns the cell columns the index reads from a data row.
func (m *IndexMaintainer) AllColumns() []ColumnRef {
	out := make([]ColumnRef, 0, len(m.Indexed)+len(m.Covered))
	for _, c := range m.Indexed {
		if c.PKPosition < 0 {
			out = append(out, c.Ref)
		}
	}
	return append(out, m.Covered...)
}

// HasKeyValueColumns reports whether index rows depend on cell values. An
// index without them can be derived from the data row key alone.
func (m *IndexMaintainer) HasKeyValueColumns() bool {
	return len(m.AllColumns()) > 0
}

// IndexRowKey builds the index row key: the indexed values followed by the
// data row key parts.
func (m *IndexMaintainer) IndexRowKey(dataRowKey []byte, values map[ColumnRef][]byte) ([]byte, error) {
	pk, err := DecodeRowKey(dataRowKey)
	if err != nil {
		return nil, err
	}
	if len(pk) != m.DataPKCount {
		return nil, errors.Wrapf(ErrMalformedRowKey, "want %d row key parts, got %d", m.DataPKCount, len(pk))
	}
	parts := make([][]byte, 0, len(m.Indexed)+len(pk))
	for _, c := range m.Indexed {
		if c.PKPosition >= 0 {
			if c.PKPosition >= len(pk) {
				return nil, errors.Wrapf(ErrMalformedRowKey, "row key position %d", c.PKPosition)
			}
			parts = append(parts, pk[c.PKPosition])
			continue
		}
		parts = append(parts, values[c.Ref])
	}
	parts = append(parts, pk...)
	return EncodeRowKey(parts...), nil
}

// CellValues indexes cells by column.
func CellValues(cells []kv.Cell) map[ColumnRef][]byte {
	out := make(map[ColumnRef][]byte, len(cells))
	for _, c := range cells {
		out[ColumnRef{Family: c.Family, Name: c.Qualifier}] = c.Value
	}
	return out
}

// ValueCells returns the index row cells for a data row image.
func (m *IndexMaintainer) ValueCells(values map[ColumnRef][]byte) []kv.Cell {
	cells := make([]kv.Cell, 0, len(m.Covered)+1)
	for _, ref := range m.Covered {
		v, ok := values[ref]
		if !ok {
			continue
		}
		cells = append(cells, kv.Cell{Family: ref.Family, Qualifier: ref.Name, Value: v})
	}
	return append(cells, kv.Cell{Family: EmptyColumn.Family, Qualifier: EmptyColumn.Name, Value: EmptyColumnValue})
}

// UpdateFor derives the index upsert for a data row image.
func (m *IndexMaintainer) UpdateFor(row []byte, ts uint64, values map[ColumnRef][]byte) (*kv.Mutation, error) {
	key, err := m.IndexRowKey(row, values)
	if err != nil {
		return nil, err
	}
	return kv.NewPut(key, ts, m.ValueCells(values)), nil
}

// DeleteFor derives the index delete for a data row delete. It only works
// for indexes without key-value columns; the result keeps the op and
// timestamp of del.
func (m *IndexMaintainer) DeleteFor(del *kv.Mutation) (*kv.Mutation, error) {
	if m.HasKeyValueColumns() {
		return nil, errors.Wrapf(ErrKeyValueIndex, "%s", m.IndexTable)
	}
	key, err := m.IndexRowKey(del.Row, nil)
	if err != nil {
		return nil, err
	}
	return &kv.Mutation{Op: del.Op, Row: key, Timestamp: del.Timestamp}, nil
}
