package catalog

import (
	"context"
	"sync"

	"github.com/bootjp/elasticsql/kv"
	"github.com/bootjp/elasticsql/schema"
	"github.com/cockroachdb/errors"
)

// UnsetTimestamp means the catalog did not report a mutation time.
const UnsetTimestamp uint64 = 0

var (
	ErrTableNotFound = errors.New("table not found")
	ErrNilTable      = errors.New("table definition is nil")
)

// Result is the current definition of a table.
type Result struct {
	Table        *schema.Table
	MutationTime uint64
}

type Catalog interface {
	LookupCurrentSchema(ctx context.Context, name string) (Result, error)
}

// Memory is an in-process catalog. Every Put publishes a new version of the
// table stamped with the catalog clock.
type Memory struct {
	mu     sync.RWMutex
	clock  kv.Clock
	tables map[string]Result
}

var _ Catalog = (*Memory)(nil)

func NewMemory(clock kv.Clock) *Memory {
	return &Memory{clock: clock, tables: map[string]Result{}}
}

// Put publishes t as the next version of its table and returns the stored
// snapshot. t itself is not modified.
func (m *Memory) Put(t *schema.Table) (*schema.Table, error) {
	if t == nil {
		return nil, errors.WithStack(ErrNilTable)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := t.Clone()
	if cur, ok := m.tables[t.Name]; ok {
		next.Version = cur.Table.Version + 1
	} else if next.Version == 0 {
		next.Version = 1
	}
	m.tables[t.Name] = Result{Table: next, MutationTime: m.clock.Next()}
	return next, nil
}

func (m *Memory) Drop(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables, name)
}

func (m *Memory) LookupCurrentSchema(ctx context.Context, name string) (Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.tables[name]
	if !ok {
		return Result{}, errors.Wrapf(ErrTableNotFound, "%s", name)
	}
	return r, nil
}
