package schema

// orders is ORDERS(id PK, customer, total) with a global index on customer
// covering total, and a row-key-only index on id.
func orders(immutable bool) *Table {
	byCustomer := &Table{
		Name:           "ORDERS_BY_CUSTOMER",
		Type:           TableTypeIndex,
		IndexedColumns: []ColumnRef{{Family: DefaultFamily, Name: "CUSTOMER"}},
		CoveredColumns: []ColumnRef{{Family: DefaultFamily, Name: "TOTAL"}},
	}
	byID := &Table{
		Name:           "ORDERS_BY_ID",
		Type:           TableTypeIndex,
		IndexedColumns: []ColumnRef{{Family: "", Name: "ID"}},
	}
	local := &Table{
		Name:           "ORDERS_LOCAL",
		Type:           TableTypeIndex,
		IndexType:      IndexLocal,
		IndexedColumns: []ColumnRef{{Family: DefaultFamily, Name: "TOTAL"}},
	}
	return &Table{
		Name:          "ORDERS",
		Version:       1,
		ImmutableRows: immutable,
		Columns: []Column{
			{Name: "ID", PKPosition: 0},
			{Family: DefaultFamily, Name: "CUSTOMER", PKPosition: -1},
			{Family: DefaultFamily, Name: "TOTAL", PKPosition: -1},
		},
		Indexes: []*Table{byCustomer, byID, local},
	}
}
