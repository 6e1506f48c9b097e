package mutation

import (
	"context"
	"log/slog"
	"os"

	"github.com/bootjp/elasticsql/catalog"
	"github.com/bootjp/elasticsql/config"
	"github.com/bootjp/elasticsql/kv"
	"github.com/bootjp/elasticsql/schema"
	"github.com/bootjp/elasticsql/servercache"
	"github.com/bootjp/elasticsql/txn"
	"github.com/cockroachdb/errors"
)

// MetadataCache pushes index metadata to the servers hosting rows.
type MetadataCache interface {
	Push(ctx context.Context, table string, rows [][]byte, payload []byte) (*servercache.Cache, error)
}

// Connection is what a mutation buffer needs from its connection. Cache and
// Txn may be nil: metadata is then always sent inline, and transactional
// tables cannot be written.
type Connection struct {
	Config  *config.Config
	Client  kv.Client
	Catalog catalog.Catalog
	Cache   MetadataCache
	Txn     txn.Service
}

// MutationState buffers the row edits of one unit of work and commits them.
// It is owned by a single connection and is not safe for concurrent use.
type MutationState struct {
	conn *Connection
	conf *config.Config

	edits      *RowEditMap
	numRows    int
	sizeOffset int
	maxSize    int

	coord *txn.Coordinator
	log   *slog.Logger
}

type Option func(*options)

type options struct {
	tx         *txn.Transaction
	coord      *txn.Coordinator
	sizeOffset int
	log        *slog.Logger
}

// WithTransaction binds the buffer to a transaction owned by the caller.
func WithTransaction(tx *txn.Transaction) Option {
	return func(o *options) {
		o.tx = tx
	}
}

// WithSizeOffset adds rows changed outside the buffer to UpdateCount.
func WithSizeOffset(n int) Option {
	return func(o *options) {
		o.sizeOffset = n
	}
}

// withCoordinator makes the buffer drive an existing coordinator.
func withCoordinator(c *txn.Coordinator) Option {
	return func(o *options) {
		o.coord = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

func New(conn *Connection, opts ...Option) *MutationState {
	o := options{
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	for _, opt := range opts {
		opt(&o)
	}
	conf := conn.Config
	if conf == nil {
		conf = config.DefaultConf()
	}

	coord := o.coord
	if coord == nil {
		if o.tx != nil {
			coord = txn.NewDirect(o.tx, txn.WithLogger(o.log))
		} else {
			coord = txn.NewManaged(conn.Txn, conf.Historical(), txn.WithLogger(o.log))
		}
	}
	return &MutationState{
		conn:       conn,
		conf:       conf,
		edits:      newRowEditMap(),
		sizeOffset: o.sizeOffset,
		maxSize:    conf.MaxMutationSize,
		coord:      coord,
		log:        o.log,
	}
}

// RowEntry is one row handed to NewWithRows.
type RowEntry struct {
	Row  []byte
	Edit *RowEdit
}

// NewWithRows builds a single table buffer for a nested operation, meant to
// be joined back into parent. Under a direct parent it writes in the same
// transaction. Under a managed parent it drives the parent's coordinator, so
// a transaction it starts is the parent's and is finished by the parent.
func NewWithRows(parent *MutationState, ref *schema.TableRef, rows []RowEntry, opts ...Option) (*MutationState, error) {
	all := append([]Option{WithLogger(parent.log)}, opts...)
	if parent.coord.Direct() {
		all = append(all, WithTransaction(parent.coord.Transaction()))
	} else {
		all = append(all, withCoordinator(parent.coord))
	}
	s := New(parent.conn, all...)
	for _, r := range rows {
		if err := s.AddEdit(ref, r.Row, r.Edit); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MutationState) checkCapacity(added int) error {
	if s.numRows+added > s.maxSize {
		return errors.Wrapf(ErrCapacityExceeded, "%d rows buffered, %d more, limit %d", s.numRows, added, s.maxSize)
	}
	return nil
}

// AddEdit merges e into the pending edit of row.
func (s *MutationState) AddEdit(ref *schema.TableRef, row []byte, e *RowEdit) error {
	t, exists := s.edits.get(ref.Key())
	isNew := true
	if exists {
		_, found := t.Get(row)
		isNew = !found
	}
	counted := isNew && !ref.Table().IsIndex()
	if counted {
		if err := s.checkCapacity(1); err != nil {
			return err
		}
	}
	s.edits.tableFor(ref).put(row, e)
	if counted {
		s.numRows++
	}
	return nil
}

// Join merges the edits of a newer buffer into s and takes over its
// participants. Nothing changes if the merged buffer would be too big.
func (s *MutationState) Join(ctx context.Context, other *MutationState) error {
	if s == other {
		return nil
	}
	if err := s.checkCapacity(s.edits.countNew(other.edits)); err != nil {
		return err
	}
	if err := s.coord.Transfer(ctx, other.coord); err != nil {
		return err
	}
	s.sizeOffset += other.sizeOffset
	s.numRows += s.edits.merge(other.edits)
	return nil
}

// PendingCount is the number of buffered rows outside index tables.
func (s *MutationState) PendingCount() int {
	return s.numRows
}

// UpdateCount is the number of rows reported as affected.
func (s *MutationState) UpdateCount() int {
	return s.sizeOffset + s.numRows
}

func (s *MutationState) SizeOffset() int {
	return s.sizeOffset
}

func (s *MutationState) MaxSize() int {
	return s.maxSize
}

// Tables returns the buffered tables in send order.
func (s *MutationState) Tables() []*schema.TableRef {
	return s.edits.Refs()
}

// Edits returns the pending rows of a table.
func (s *MutationState) Edits(ref *schema.TableRef) (*TableEdits, bool) {
	return s.edits.get(ref.Key())
}

// Transaction returns the transaction writes are tagged with, or nil.
func (s *MutationState) Transaction() *txn.Transaction {
	return s.coord.Transaction()
}

func (s *MutationState) Coordinator() *txn.Coordinator {
	return s.coord
}

func (s *MutationState) StartTransaction(ctx context.Context) (bool, error) {
	return s.coord.StartTransaction(ctx)
}

// Mutations returns every buffered batch without sending it. Indexes of
// mutable tables are included when includeMutableIndexes is set.
func (s *MutationState) Mutations(includeMutableIndexes bool) *Iterator {
	ts := kv.LatestTimestamp
	if s.conf.Historical() {
		ts = s.conf.SCN
	}
	tables := make([]*TableEdits, 0, s.edits.Len())
	for _, ref := range s.edits.Refs() {
		t, _ := s.edits.get(ref.Key())
		tables = append(tables, t)
	}
	return &Iterator{tables: tables, ts: ts, includeMutable: includeMutableIndexes}
}

// Clear drops every pending edit.
func (s *MutationState) Clear() {
	s.edits.clear()
	s.numRows = 0
}

// Send writes every buffered table without finishing the transaction.
func (s *MutationState) Send(ctx context.Context) error {
	return s.send(ctx, nil)
}

// SendTransactional sends the transactional tables among refs, starting
// the transaction first. It reports whether there was any.
func (s *MutationState) SendTransactional(ctx context.Context, refs []*schema.TableRef) (bool, error) {
	var txRefs []*schema.TableRef
	for _, ref := range refs {
		if ref.Table().Transactional {
			txRefs = append(txRefs, ref)
		}
	}
	if len(txRefs) == 0 {
		return false, nil
	}
	if s.coord.Direct() {
		return true, s.send(ctx, txRefs)
	}
	if _, err := s.coord.StartTransaction(ctx); err != nil {
		return true, err
	}
	return true, s.send(ctx, txRefs)
}

// Commit sends every buffered table and then finishes the transaction. If
// sending fails the transaction is left running for Rollback.
func (s *MutationState) Commit(ctx context.Context) error {
	err := s.send(ctx, nil)
	s.coord.ClearParticipants()
	if err != nil {
		return err
	}
	return s.coord.Commit(ctx)
}

// Rollback drops the buffer and aborts the transaction.
func (s *MutationState) Rollback(ctx context.Context) error {
	s.Clear()
	s.coord.ClearParticipants()
	return s.coord.Abort(ctx)
}

// Close has nothing to release.
func (s *MutationState) Close() error {
	return nil
}
