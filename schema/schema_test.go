package schema

import (
	"bytes"
	"testing"

	"github.com/bootjp/elasticsql/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRowKeyRoundTrip(t *testing.T) {
	t.Parallel()

	key := EncodeRowKey([]byte("a\x00b"), []byte{}, []byte("c"))
	parts, err := DecodeRowKey(key)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a\x00b"), {}, []byte("c")}, parts)

	_, err = DecodeRowKey([]byte{0x00})
	require.ErrorIs(t, err, ErrMalformedRowKey)
	_, err = DecodeRowKey([]byte("abc"))
	require.ErrorIs(t, err, ErrMalformedRowKey)
}

func TestRowKey_Property_OrderPreserving(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.SliceOf(rapid.Byte()).Draw(t, "a")
		b := rapid.SliceOf(rapid.Byte()).Draw(t, "b")

		ka, kb := EncodeRowKey(a), EncodeRowKey(b)
		if got, want := bytes.Compare(ka, kb), bytes.Compare(a, b); got != want {
			t.Fatalf("compare(%x,%x)=%d, encoded %d", a, b, want, got)
		}
		parts, err := DecodeRowKey(ka)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(parts) != 1 || !bytes.Equal(parts[0], a) {
			t.Fatalf("round trip %x -> %x", a, parts)
		}
	})
}

func TestTableRefReplace(t *testing.T) {
	t.Parallel()

	v1 := orders(true)
	ref := NewTableRef(v1, 7)
	require.Equal(t, "ORDERS", ref.Key())
	require.Equal(t, uint64(7), ref.TimeStamp())

	v2 := v1.Clone()
	v2.Version = 2
	require.True(t, ref.ReplaceTable(v1, v2))
	require.False(t, ref.ReplaceTable(v1, v2), "stale expected snapshot must not win")
	require.Same(t, v2, ref.Table())
	require.Equal(t, "ORDERS", ref.Key())
}

func TestEnabledIndexesSkipsDisabled(t *testing.T) {
	t.Parallel()

	tbl := orders(true)
	tbl.Indexes[1].IndexState = IndexDisabled
	enabled := tbl.EnabledIndexes()
	require.Len(t, enabled, 2)
	for _, idx := range enabled {
		assert.NotEqual(t, "ORDERS_BY_ID", idx.Name)
	}
}

func TestMaintainerUpdateFor(t *testing.T) {
	t.Parallel()

	tbl := orders(true)
	m, err := NewIndexMaintainer(tbl, tbl.Indexes[0])
	require.NoError(t, err)
	require.True(t, m.HasKeyValueColumns())
	require.Equal(t, 1, m.DataPKCount)

	row := EncodeRowKey([]byte("o1"))
	values := map[ColumnRef][]byte{
		{Family: DefaultFamily, Name: "CUSTOMER"}: []byte("alice"),
		{Family: DefaultFamily, Name: "TOTAL"}:    []byte("10"),
	}
	put, err := m.UpdateFor(row, 5, values)
	require.NoError(t, err)
	require.Equal(t, kv.OpPut, put.Op)
	require.Equal(t, uint64(5), put.Timestamp)
	require.Equal(t, EncodeRowKey([]byte("alice"), []byte("o1")), put.Row)
	require.Equal(t, []kv.Cell{
		{Family: DefaultFamily, Qualifier: "TOTAL", Value: []byte("10")},
		{Family: DefaultFamily, Qualifier: "_0", Value: EmptyColumnValue},
	}, put.Cells)

	_, err = m.DeleteFor(kv.NewDelete(row, 5))
	require.ErrorIs(t, err, ErrKeyValueIndex)
}

func TestMaintainerDeleteForRowKeyOnlyIndex(t *testing.T) {
	t.Parallel()

	tbl := orders(true)
	m, err := NewIndexMaintainer(tbl, tbl.Indexes[1])
	require.NoError(t, err)
	require.False(t, m.HasKeyValueColumns())

	row := EncodeRowKey([]byte("o1"))
	del := &kv.Mutation{Op: kv.OpDeleteVersion, Row: row, Timestamp: 9}
	idx, err := m.DeleteFor(del)
	require.NoError(t, err)
	require.Equal(t, kv.OpDeleteVersion, idx.Op)
	require.Equal(t, uint64(9), idx.Timestamp)
	require.Equal(t, EncodeRowKey([]byte("o1"), []byte("o1")), idx.Row)
}

func TestMaintainerUnknownColumn(t *testing.T) {
	t.Parallel()

	tbl := orders(true)
	bad := &Table{Name: "BAD", Type: TableTypeIndex, IndexedColumns: []ColumnRef{{Family: DefaultFamily, Name: "NOPE"}}}
	_, err := NewIndexMaintainer(tbl, bad)
	require.ErrorIs(t, err, ErrIndexColumnNotFound)
}

func TestDescriptorRoundTrip(t *testing.T) {
	t.Parallel()

	tbl := orders(false)
	ms, err := Maintainers(tbl, tbl.EnabledIndexes())
	require.NoError(t, err)

	blob := EncodeMaintainers(ms)
	got, err := DecodeMaintainers(blob)
	require.NoError(t, err)
	require.Equal(t, ms, got)

	none, err := DecodeMaintainers(nil)
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = DecodeMaintainers([]byte{0xff})
	require.ErrorIs(t, err, ErrMalformedDescriptor)
}

func TestServerAndClientMaintained(t *testing.T) {
	t.Parallel()

	immutable := orders(true)
	require.Equal(t, []*Table{immutable.Indexes[2]}, ServerMaintained(immutable))
	require.Equal(t, immutable.Indexes[:2], ClientMaintained(immutable, false))

	mutable := orders(false)
	require.Len(t, ServerMaintained(mutable), 3)
	require.Empty(t, ClientMaintained(mutable, false))
	require.Len(t, ClientMaintained(mutable, true), 2)

	plain := &Table{Name: "PLAIN", Columns: []Column{{Name: "K", PKPosition: 0}}}
	md, err := DescriptorFor(plain, nil)
	require.NoError(t, err)
	require.Nil(t, md)

	md, err = DescriptorFor(immutable, immutable.Indexes[:1])
	require.NoError(t, err)
	ms, err := DecodeMaintainers(md)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	require.Equal(t, "ORDERS_LOCAL", ms[0].IndexTable)
	require.Equal(t, "ORDERS_BY_CUSTOMER", ms[1].IndexTable)
}
