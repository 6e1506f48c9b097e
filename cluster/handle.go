package cluster

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/bootjp/elasticsql/kv"
	"github.com/bootjp/elasticsql/schema"
	"github.com/bootjp/elasticsql/servercache"
	"github.com/bootjp/elasticsql/store"
	"github.com/bootjp/elasticsql/txn"
	"github.com/cockroachdb/errors"
)

type handle struct {
	name    string
	cluster *Cluster
	closed  atomic.Bool
}

func (h *handle) Name() string {
	return h.name
}

func (h *handle) Close() error {
	h.closed.Store(true)
	return nil
}

type resolved struct {
	mut         *kv.Mutation
	maintainers []*schema.IndexMaintainer
}

// Batch resolves the metadata of every mutation before applying any, so a
// metadata miss leaves the batch unapplied.
func (h *handle) Batch(ctx context.Context, muts []*kv.Mutation) error {
	if h.closed.Load() {
		return errors.WithStack(kv.ErrHandleClosed)
	}
	work := make([]resolved, 0, len(muts))
	for _, m := range muts {
		ms, err := h.cluster.resolve(h.name, m)
		if err != nil {
			return err
		}
		work = append(work, resolved{mut: m, maintainers: ms})
	}
	data := h.cluster.Table(h.name)
	for _, w := range work {
		if w.mut.Timestamp == kv.LatestTimestamp {
			w.mut.Timestamp = h.cluster.clock.Next()
		} else {
			h.cluster.clock.Observe(w.mut.Timestamp)
		}
		if err := h.cluster.maintain(ctx, data, w.mut, w.maintainers); err != nil {
			return err
		}
		if err := data.Apply(ctx, w.mut); err != nil {
			return errors.WithStack(err)
		}
	}
	h.cluster.log.DebugContext(ctx, "batch applied",
		slog.String("table", h.name),
		slog.Int("mutations", len(muts)),
	)
	return nil
}

// resolve finds the index descriptor of m, inline or in the cache of the
// server owning the row.
func (c *Cluster) resolve(table string, m *kv.Mutation) ([]*schema.IndexMaintainer, error) {
	md := m.Attribute(kv.AttrIndexMD)
	txState := m.Attribute(kv.AttrTxState)
	if id := m.Attribute(kv.AttrIndexUUID); id != nil {
		payload, ok := c.owner(m.Row).lookup(table, id)
		if !ok {
			return nil, kv.NewServerError(kv.CodeIndexMetadataNotFound,
				"index metadata not found for table "+table)
		}
		var err error
		md, txState, err = servercache.DecodePayload(payload)
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}
	if txState != nil {
		if _, err := txn.DecodeState(txState); err != nil {
			return nil, kv.NewServerError(kv.CodeTxStateInvalid, err.Error())
		}
	}
	ms, err := schema.DecodeMaintainers(md)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ms, nil
}

// maintain applies the index rows implied by m, reading the data row as it
// is before m.
func (c *Cluster) maintain(ctx context.Context, data *store.RowStore, m *kv.Mutation, ms []*schema.IndexMaintainer) error {
	if len(ms) == 0 {
		return nil
	}
	ts := m.Timestamp
	for _, im := range ms {
		index := c.Table(im.IndexTable)
		var idxMuts []*kv.Mutation
		switch m.Op {
		case kv.OpPut:
			prior, hadPrior := data.GetAt(m.Row, ts)
			values := schema.CellValues(prior.Cells)
			for k, v := range schema.CellValues(m.Cells) {
				values[k] = v
			}
			put, err := im.UpdateFor(m.Row, ts, values)
			if err != nil {
				return err
			}
			if hadPrior {
				old, err := im.IndexRowKey(m.Row, schema.CellValues(prior.Cells))
				if err != nil {
					return err
				}
				if string(old) != string(put.Row) {
					idxMuts = append(idxMuts, kv.NewDelete(old, ts))
				}
			}
			idxMuts = append(idxMuts, put)
		case kv.OpDelete:
			prior, ok := data.GetAt(m.Row, ts)
			if !ok {
				continue
			}
			key, err := im.IndexRowKey(m.Row, schema.CellValues(prior.Cells))
			if err != nil {
				return err
			}
			idxMuts = append(idxMuts, kv.NewDelete(key, ts))
		case kv.OpDeleteVersion:
			// undo whatever the write at ts did to the index
			var images []store.Row
			if img, ok := data.GetAt(m.Row, ts); ok {
				images = append(images, img)
			}
			if ts > 0 {
				if img, ok := data.GetAt(m.Row, ts-1); ok {
					images = append(images, img)
				}
			}
			for _, img := range images {
				key, err := im.IndexRowKey(m.Row, schema.CellValues(img.Cells))
				if err != nil {
					return err
				}
				idxMuts = append(idxMuts, &kv.Mutation{Op: kv.OpDeleteVersion, Row: key, Timestamp: ts})
			}
		}
		for _, x := range idxMuts {
			if err := index.Apply(ctx, x); err != nil {
				return errors.WithStack(err)
			}
		}
	}
	return nil
}
