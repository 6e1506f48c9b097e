package schema

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformedDescriptor = errors.New("malformed index descriptor")

const descriptorVersion = 1

// Field numbers of the index descriptor record.
const (
	fieldVersion    protowire.Number = 1
	fieldMaintainer protowire.Number = 2

	fieldIndexTable  protowire.Number = 1
	fieldLocal       protowire.Number = 2
	fieldDataPKCount protowire.Number = 3
	fieldIndexed     protowire.Number = 4
	fieldCovered     protowire.Number = 5

	fieldFamily     protowire.Number = 1
	fieldName       protowire.Number = 2
	fieldPKPosition protowire.Number = 3
)

// EncodeMaintainers serializes maintainers into the descriptor blob attached
// to mutations. An empty list encodes to nil.
func EncodeMaintainers(ms []*IndexMaintainer) []byte {
	if len(ms) == 0 {
		return nil
	}
	b := protowire.AppendTag(nil, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, descriptorVersion)
	for _, m := range ms {
		b = protowire.AppendTag(b, fieldMaintainer, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeMaintainer(m))
	}
	return b
}

func encodeMaintainer(m *IndexMaintainer) []byte {
	b := protowire.AppendTag(nil, fieldIndexTable, protowire.BytesType)
	b = protowire.AppendString(b, m.IndexTable)
	if m.Local {
		b = protowire.AppendTag(b, fieldLocal, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	b = protowire.AppendTag(b, fieldDataPKCount, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.DataPKCount))
	for _, c := range m.Indexed {
		b = protowire.AppendTag(b, fieldIndexed, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeColumn(c.Ref, c.PKPosition))
	}
	for _, c := range m.Covered {
		b = protowire.AppendTag(b, fieldCovered, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeColumn(c, -1))
	}
	return b
}

func encodeColumn(ref ColumnRef, pkPos int) []byte {
	b := protowire.AppendTag(nil, fieldFamily, protowire.BytesType)
	b = protowire.AppendString(b, ref.Family)
	b = protowire.AppendTag(b, fieldName, protowire.BytesType)
	b = protowire.AppendString(b, ref.Name)
	// zigzag keeps -1 short
	b = protowire.AppendTag(b, fieldPKPosition, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(pkPos)))
}

// fields walks the top-level fields of b.
func fields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error) error {
	for len(b) > 0 {
		num, typ, tl := protowire.ConsumeTag(b)
		if tl < 0 {
			return errors.Wrap(ErrMalformedDescriptor, protowire.ParseError(tl).Error())
		}
		b = b[tl:]
		var (
			raw []byte
			val uint64
			l   int
		)
		switch typ {
		case protowire.VarintType:
			val, l = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			raw, l = protowire.ConsumeBytes(b)
		default:
			l = protowire.ConsumeFieldValue(num, typ, b)
		}
		if l < 0 {
			return errors.Wrap(ErrMalformedDescriptor, protowire.ParseError(l).Error())
		}
		b = b[l:]
		if err := fn(num, typ, raw, val); err != nil {
			return err
		}
	}
	return nil
}

func DecodeMaintainers(b []byte) ([]*IndexMaintainer, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var (
		out     []*IndexMaintainer
		version uint64
	)
	err := fields(b, func(num protowire.Number, _ protowire.Type, v []byte, n uint64) error {
		switch num {
		case fieldVersion:
			version = n
		case fieldMaintainer:
			m, err := decodeMaintainer(v)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if version != descriptorVersion {
		return nil, errors.Wrapf(ErrMalformedDescriptor, "unsupported version %d", version)
	}
	return out, nil
}

func decodeMaintainer(b []byte) (*IndexMaintainer, error) {
	m := &IndexMaintainer{}
	err := fields(b, func(num protowire.Number, _ protowire.Type, v []byte, n uint64) error {
		switch num {
		case fieldIndexTable:
			m.IndexTable = string(v)
		case fieldLocal:
			m.Local = n != 0
		case fieldDataPKCount:
			m.DataPKCount = int(n)
		case fieldIndexed:
			ref, pos, err := decodeColumn(v)
			if err != nil {
				return err
			}
			m.Indexed = append(m.Indexed, IndexedColumn{Ref: ref, PKPosition: pos})
		case fieldCovered:
			ref, _, err := decodeColumn(v)
			if err != nil {
				return err
			}
			m.Covered = append(m.Covered, ref)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if m.IndexTable == "" {
		return nil, errors.Wrap(ErrMalformedDescriptor, "missing index table")
	}
	return m, nil
}

func decodeColumn(b []byte) (ColumnRef, int, error) {
	var (
		ref ColumnRef
		pos = -1
	)
	err := fields(b, func(num protowire.Number, _ protowire.Type, v []byte, n uint64) error {
		switch num {
		case fieldFamily:
			ref.Family = string(v)
		case fieldName:
			ref.Name = string(v)
		case fieldPKPosition:
			pos = int(protowire.DecodeZigZag(n))
		}
		return nil
	})
	return ref, pos, err
}

// ServerMaintained returns the indexes of t that the store keeps up to date
// itself: every enabled index of a mutable table, and the local indexes of
// an immutable one.
func ServerMaintained(t *Table) []*Table {
	var out []*Table
	for _, idx := range t.EnabledIndexes() {
		if !t.ImmutableRows || idx.IndexType == IndexLocal {
			out = append(out, idx)
		}
	}
	return out
}

// ClientMaintained returns the indexes whose rows the client derives: the
// enabled global indexes of an immutable table, or of any table when
// includeMutable is set.
func ClientMaintained(t *Table, includeMutable bool) []*Table {
	if !t.ImmutableRows && !includeMutable {
		return nil
	}
	var out []*Table
	for _, idx := range t.EnabledIndexes() {
		if idx.IndexType != IndexLocal {
			out = append(out, idx)
		}
	}
	return out
}

// DescriptorFor encodes the server-maintained indexes of t plus extra. It
// returns nil when there is nothing for the store to maintain.
func DescriptorFor(t *Table, extra []*Table) ([]byte, error) {
	indexes := append(ServerMaintained(t), extra...)
	ms, err := Maintainers(t, indexes)
	if err != nil {
		return nil, err
	}
	return EncodeMaintainers(ms), nil
}
