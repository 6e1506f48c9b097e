package schema

// TableType separates data tables from the physical tables backing indexes.
type TableType int

const (
	TableTypeTable TableType = iota
	TableTypeIndex
)

type IndexType int

const (
	// IndexGlobal rows live in their own table and are routed independently
	// of the data row.
	IndexGlobal IndexType = iota
	// IndexLocal rows are colocated with the data row and always maintained
	// by the store.
	IndexLocal
)

type IndexState int

const (
	IndexActive IndexState = iota
	IndexBuilding
	IndexDisabled
)

func (s IndexState) String() string {
	switch s {
	case IndexActive:
		return "active"
	case IndexBuilding:
		return "building"
	case IndexDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// DefaultFamily holds every non row-key column unless the table says
// otherwise.
const DefaultFamily = "0"

// ColumnRef identifies a column inside a row edit.
type ColumnRef struct {
	Family string
	Name   string
}

func (c ColumnRef) String() string {
	return c.Family + "." + c.Name
}

// EmptyColumn is written with every upsert so that a row consisting only of
// row-key columns still exists in the store.
var (
	EmptyColumn      = ColumnRef{Family: DefaultFamily, Name: "_0"}
	EmptyColumnValue = []byte("x")
)

// Column is a column definition. PKPosition is the position of the column in
// the row key, or -1 when the column is stored as a cell.
type Column struct {
	Family     string
	Name       string
	PKPosition int
}

func (c Column) Ref() ColumnRef {
	return ColumnRef{Family: c.Family, Name: c.Name}
}

func (c Column) InRowKey() bool {
	return c.PKPosition >= 0
}

// Table is one immutable schema snapshot. A newer definition is a new value
// with a higher Version; snapshots are never modified once published.
type Table struct {
	Name         string
	PhysicalName string
	Type         TableType
	Version      uint64
	Columns      []Column

	// ImmutableRows marks tables whose rows are written once; their global
	// index rows are derived on the client.
	ImmutableRows bool
	Transactional bool
	Indexes       []*Table

	// Index fields, set when Type is TableTypeIndex. IndexedColumns and
	// CoveredColumns refer to columns of the data table.
	IndexType      IndexType
	IndexState     IndexState
	IndexedColumns []ColumnRef
	CoveredColumns []ColumnRef
}

func (t *Table) IsIndex() bool {
	return t.Type == TableTypeIndex
}

// Physical returns the store table name.
func (t *Table) Physical() string {
	if t.PhysicalName != "" {
		return t.PhysicalName
	}
	return t.Name
}

// Column resolves ref against the table definition.
func (t *Table) Column(ref ColumnRef) (Column, bool) {
	for _, c := range t.Columns {
		if c.Family == ref.Family && c.Name == ref.Name {
			return c, true
		}
	}
	return Column{}, false
}

// PKCount is the number of row-key columns.
func (t *Table) PKCount() int {
	n := 0
	for _, c := range t.Columns {
		if c.InRowKey() {
			n++
		}
	}
	return n
}

// EnabledIndexes returns the indexes that still receive writes.
func (t *Table) EnabledIndexes() []*Table {
	out := make([]*Table, 0, len(t.Indexes))
	for _, idx := range t.Indexes {
		if idx.IndexState != IndexDisabled {
			out = append(out, idx)
		}
	}
	return out
}

// Clone returns a copy that can be edited and published as a new version.
func (t *Table) Clone() *Table {
	c := *t
	c.Columns = append([]Column(nil), t.Columns...)
	c.Indexes = append([]*Table(nil), t.Indexes...)
	c.IndexedColumns = append([]ColumnRef(nil), t.IndexedColumns...)
	c.CoveredColumns = append([]ColumnRef(nil), t.CoveredColumns...)
	return &c
}
