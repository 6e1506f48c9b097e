package kv

import (
	"bytes"
	"context"
	"encoding/gob"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/bootjp/elasticsql/internal"
	"github.com/cockroachdb/errors"
	"go.etcd.io/bbolt"
)

const mode = 0666

// BoltClient is a single-node Client on bbolt with one bucket per physical
// table. It keeps only the latest row image: attributes are ignored and both
// delete ops remove the row.
type BoltClient struct {
	mtx   sync.RWMutex
	log   *slog.Logger
	bbolt *bbolt.DB
}

var _ Client = (*BoltClient)(nil)

func NewBoltClient(path string) (*BoltClient, error) {
	db, err := bbolt.Open(path, mode, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &BoltClient{
		bbolt: db,
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}, nil
}

func (c *BoltClient) WriteHandle(name string) (WriteHandle, error) {
	return &boltHandle{client: c, name: name}, nil
}

// ClearRegionCache is a no-op: a bolt file has a single region.
func (c *BoltClient) ClearRegionCache(string) {}

// Get returns the stored cells of row, nil when absent.
func (c *BoltClient) Get(ctx context.Context, table string, row []byte) ([]Cell, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	var cells []Cell
	err := c.bbolt.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(table))
		if b == nil {
			return nil
		}
		raw := b.Get(row)
		if raw == nil {
			return nil
		}
		var err error
		cells, err = decodeCells(raw)
		return err
	})
	return internal.WithStacks(cells, err)
}

func (c *BoltClient) Close() error {
	return errors.WithStack(c.bbolt.Close())
}

func (c *BoltClient) apply(ctx context.Context, table string, muts []*Mutation) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.log.InfoContext(ctx, "batch",
		slog.String("table", table),
		slog.Int("mutations", len(muts)),
	)

	err := c.bbolt.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(table))
		if err != nil {
			return errors.WithStack(err)
		}
		for _, m := range muts {
			if err := applyToBucket(b, m); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.WithStack(err)
}

func applyToBucket(b *bbolt.Bucket, m *Mutation) error {
	switch m.Op {
	case OpDelete, OpDeleteVersion:
		return errors.WithStack(b.Delete(m.Row))
	case OpPut:
		var existing []Cell
		if raw := b.Get(m.Row); raw != nil {
			var err error
			if existing, err = decodeCells(raw); err != nil {
				return err
			}
		}
		raw, err := encodeCells(mergeCells(existing, m.Cells))
		if err != nil {
			return err
		}
		return errors.WithStack(b.Put(m.Row, raw))
	default:
		return errors.Newf("unknown op %d", m.Op)
	}
}

func mergeCells(existing, updates []Cell) []Cell {
	byName := make(map[[2]string]Cell, len(existing)+len(updates))
	for _, c := range existing {
		byName[[2]string{c.Family, c.Qualifier}] = c
	}
	for _, c := range updates {
		byName[[2]string{c.Family, c.Qualifier}] = c
	}
	out := make([]Cell, 0, len(byName))
	for _, c := range byName {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Family != out[j].Family {
			return out[i].Family < out[j].Family
		}
		return out[i].Qualifier < out[j].Qualifier
	})
	return out
}

func encodeCells(cells []Cell) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cells); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

func decodeCells(raw []byte) ([]Cell, error) {
	var cells []Cell
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&cells); err != nil {
		return nil, errors.WithStack(err)
	}
	return cells, nil
}

type boltHandle struct {
	client *BoltClient
	name   string
	closed bool
}

func (h *boltHandle) Name() string { return h.name }

func (h *boltHandle) Batch(ctx context.Context, muts []*Mutation) error {
	if h.closed {
		return errors.WithStack(ErrHandleClosed)
	}
	return h.client.apply(ctx, h.name, muts)
}

func (h *boltHandle) Close() error {
	h.closed = true
	return nil
}
