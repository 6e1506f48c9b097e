package mutation

import "github.com/bootjp/elasticsql/schema"

// RowEdit is the pending change of one row: new values for some columns, or
// DeleteMarker.
type RowEdit struct {
	Columns map[schema.ColumnRef][]byte
}

// DeleteMarker deletes the whole row. It is compared by identity and never
// merged column-wise.
var DeleteMarker = &RowEdit{}

func NewRowEdit(cols map[schema.ColumnRef][]byte) *RowEdit {
	if cols == nil {
		cols = map[schema.ColumnRef][]byte{}
	}
	return &RowEdit{Columns: cols}
}

func (e *RowEdit) IsDelete() bool {
	return e == DeleteMarker
}

// clone copies the column map so the buffer never aliases a caller's edit.
func (e *RowEdit) clone() *RowEdit {
	if e == DeleteMarker {
		return e
	}
	cols := make(map[schema.ColumnRef][]byte, len(e.Columns))
	for k, v := range e.Columns {
		cols[k] = v
	}
	return &RowEdit{Columns: cols}
}

// mergeEdit returns the edit equal to applying older then newer. A column
// edit on both sides is merged into older in place, so older must be owned
// by the buffer.
func mergeEdit(older, newer *RowEdit) *RowEdit {
	if newer == DeleteMarker || older == DeleteMarker {
		return newer
	}
	if older == newer {
		return older
	}
	if older.Columns == nil {
		older.Columns = make(map[schema.ColumnRef][]byte, len(newer.Columns))
	}
	for k, v := range newer.Columns {
		older.Columns[k] = v
	}
	return older
}
