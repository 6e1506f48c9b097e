package store

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/bootjp/elasticsql/internal"
	"github.com/bootjp/elasticsql/kv"
	"github.com/cockroachdb/errors"
	"github.com/emirpasic/gods/maps/treemap"
)

var (
	ErrUnknownOp         = errors.New("unknown op")
	ErrTimestampRequired = errors.New("mutation timestamp must be assigned before apply")
)

// Version is one timestamped write of a row.
type Version struct {
	TS        uint64
	Tombstone bool
	Cells     []kv.Cell
}

// Row is the visible image of a row: every put since the newest tombstone.
type Row struct {
	Key   []byte
	Cells []kv.Cell
	TS    uint64
}

// Cell returns the value of family:qualifier in the row.
func (r Row) Cell(family, qualifier string) ([]byte, bool) {
	for _, c := range r.Cells {
		if c.Family == family && c.Qualifier == qualifier {
			return c.Value, true
		}
	}
	return nil, false
}

// RowStore is an ordered, versioned in-memory row table.
type RowStore struct {
	mtx  sync.RWMutex
	tree *treemap.Map
	log  *slog.Logger
}

func byteSliceComparator(a, b interface{}) int {
	aAsserted, aOk := a.([]byte)
	bAsserted, bOK := b.([]byte)
	if !aOk || !bOK {
		panic("not a byte slice")
	}
	return bytes.Compare(aAsserted, bAsserted)
}

func NewRowStore() *RowStore {
	return &RowStore{
		tree: treemap.NewWith(byteSliceComparator),
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
}

// Apply writes m. The caller stamps store-assigned timestamps first.
func (s *RowStore) Apply(ctx context.Context, m *kv.Mutation) error {
	if m.Timestamp == kv.LatestTimestamp {
		return errors.WithStack(ErrTimestampRequired)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	versions := s.versions(m.Row)
	switch m.Op {
	case kv.OpPut:
		versions = putVersion(versions, Version{TS: m.Timestamp, Cells: m.Cells})
	case kv.OpDelete:
		versions = replaceVersion(versions, Version{TS: m.Timestamp, Tombstone: true})
	case kv.OpDeleteVersion:
		versions = removeVersion(versions, m.Timestamp)
	default:
		return errors.Wrapf(ErrUnknownOp, "op %d", m.Op)
	}

	if len(versions) == 0 {
		s.tree.Remove(m.Row)
	} else {
		s.tree.Put(internal.CloneBytes(m.Row), versions)
	}
	s.log.DebugContext(ctx, "apply",
		slog.String("row", string(m.Row)),
		slog.String("op", m.Op.String()),
		slog.Uint64("ts", m.Timestamp),
	)
	return nil
}

func (s *RowStore) versions(row []byte) []Version {
	v, ok := s.tree.Get(row)
	if !ok {
		return nil
	}
	vv, _ := v.([]Version)
	return vv
}

func versionIndex(versions []Version, ts uint64) (int, bool) {
	i := sort.Search(len(versions), func(i int) bool { return versions[i].TS >= ts })
	return i, i < len(versions) && versions[i].TS == ts
}

func putVersion(versions []Version, v Version) []Version {
	i, found := versionIndex(versions, v.TS)
	if found && !versions[i].Tombstone {
		merged := versions[i]
		merged.Cells = mergeCells(merged.Cells, v.Cells)
		out := append([]Version(nil), versions...)
		out[i] = merged
		return out
	}
	return replaceVersion(versions, v)
}

func replaceVersion(versions []Version, v Version) []Version {
	i, found := versionIndex(versions, v.TS)
	out := make([]Version, 0, len(versions)+1)
	out = append(out, versions[:i]...)
	out = append(out, v)
	if found {
		i++
	}
	return append(out, versions[i:]...)
}

func removeVersion(versions []Version, ts uint64) []Version {
	i, found := versionIndex(versions, ts)
	if !found {
		return versions
	}
	out := make([]Version, 0, len(versions)-1)
	out = append(out, versions[:i]...)
	return append(out, versions[i+1:]...)
}

func mergeCells(existing, updates []kv.Cell) []kv.Cell {
	out := append([]kv.Cell(nil), existing...)
	for _, u := range updates {
		replaced := false
		for i := range out {
			if out[i].Family == u.Family && out[i].Qualifier == u.Qualifier {
				out[i] = u
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Family != out[j].Family {
			return out[i].Family < out[j].Family
		}
		return out[i].Qualifier < out[j].Qualifier
	})
	return out
}

func visible(key []byte, versions []Version, ts uint64) (Row, bool) {
	var row Row
	live := false
	for _, v := range versions {
		if v.TS > ts {
			break
		}
		if v.Tombstone {
			row, live = Row{}, false
			continue
		}
		row.Cells = mergeCells(row.Cells, v.Cells)
		row.TS = v.TS
		live = true
	}
	if !live {
		return Row{}, false
	}
	row.Key = key
	return row, true
}

// Get returns the newest visible image of row.
func (s *RowStore) Get(row []byte) (Row, bool) {
	return s.GetAt(row, kv.LatestTimestamp)
}

// GetAt returns the image of row as of ts.
func (s *RowStore) GetAt(row []byte, ts uint64) (Row, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return visible(row, s.versions(row), ts)
}

// VersionAt returns the version written exactly at ts.
func (s *RowStore) VersionAt(row []byte, ts uint64) (Version, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	versions := s.versions(row)
	i, found := versionIndex(versions, ts)
	if !found {
		return Version{}, false
	}
	return versions[i], true
}

// Scan returns visible rows with start <= key < end; nil bounds are open.
func (s *RowStore) Scan(start []byte, end []byte, limit int) []Row {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	var out []Row
	it := s.tree.Iterator()
	for it.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		k, ok := it.Key().([]byte)
		if !ok {
			continue
		}
		if start != nil && bytes.Compare(k, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(k, end) >= 0 {
			break
		}
		versions, _ := it.Value().([]Version)
		if row, ok := visible(k, versions, kv.LatestTimestamp); ok {
			out = append(out, row)
		}
	}
	return out
}

// Len counts visible rows.
func (s *RowStore) Len() int {
	return len(s.Scan(nil, nil, 0))
}
