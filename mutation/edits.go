package mutation

import (
	"github.com/bootjp/elasticsql/internal"
	"github.com/bootjp/elasticsql/schema"
)

// TableEdits holds the pending rows of one table in insertion order.
type TableEdits struct {
	Ref  *schema.TableRef
	rows map[string]*RowEdit
	keys [][]byte
}

func newTableEdits(ref *schema.TableRef) *TableEdits {
	return &TableEdits{Ref: ref, rows: map[string]*RowEdit{}}
}

func (t *TableEdits) Len() int {
	return len(t.keys)
}

func (t *TableEdits) Get(row []byte) (*RowEdit, bool) {
	e, ok := t.rows[string(row)]
	return e, ok
}

// Each visits rows in insertion order.
func (t *TableEdits) Each(fn func(row []byte, e *RowEdit)) {
	for _, k := range t.keys {
		fn(k, t.rows[string(k)])
	}
}

// put merges a copy of e into the row and reports whether the row is new.
func (t *TableEdits) put(row []byte, e *RowEdit) bool {
	e = e.clone()
	k := string(row)
	if old, ok := t.rows[k]; ok {
		t.rows[k] = mergeEdit(old, e)
		return false
	}
	t.rows[k] = e
	t.keys = append(t.keys, internal.CloneBytes(row))
	return true
}

// RowEditMap is the per-table row ledger. Tables are keyed by logical name
// and kept in the order they were first written, which is the order they
// are sent in.
type RowEditMap struct {
	tables map[string]*TableEdits
	order  []string
}

func newRowEditMap() *RowEditMap {
	return &RowEditMap{tables: map[string]*TableEdits{}}
}

func (m *RowEditMap) Len() int {
	return len(m.order)
}

func (m *RowEditMap) get(key string) (*TableEdits, bool) {
	t, ok := m.tables[key]
	return t, ok
}

func (m *RowEditMap) tableFor(ref *schema.TableRef) *TableEdits {
	key := ref.Key()
	if t, ok := m.tables[key]; ok {
		return t
	}
	t := newTableEdits(ref)
	m.tables[key] = t
	m.order = append(m.order, key)
	return t
}

// Refs returns the buffered tables in send order.
func (m *RowEditMap) Refs() []*schema.TableRef {
	out := make([]*schema.TableRef, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.tables[k].Ref)
	}
	return out
}

func (m *RowEditMap) remove(key string) {
	if _, ok := m.tables[key]; !ok {
		return
	}
	delete(m.tables, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *RowEditMap) clear() {
	m.tables = map[string]*TableEdits{}
	m.order = nil
}

// countNew is the number of rows merging other would add to the pending
// count. Index-ness is decided once per incoming table.
func (m *RowEditMap) countNew(other *RowEditMap) int {
	n := 0
	for _, k := range other.order {
		src := other.tables[k]
		if src.Ref.Table().IsIndex() {
			continue
		}
		dst, ok := m.tables[k]
		if !ok {
			n += src.Len()
			continue
		}
		for _, row := range src.keys {
			if _, exists := dst.rows[string(row)]; !exists {
				n++
			}
		}
	}
	return n
}

// merge folds other into m and returns the number of new non-index rows.
func (m *RowEditMap) merge(other *RowEditMap) int {
	if m == other {
		return 0
	}
	added := 0
	for _, k := range other.order {
		src := other.tables[k]
		isIndex := src.Ref.Table().IsIndex()
		dst := m.tableFor(src.Ref)
		for _, row := range src.keys {
			if dst.put(row, src.rows[string(row)]) && !isIndex {
				added++
			}
		}
	}
	return added
}
