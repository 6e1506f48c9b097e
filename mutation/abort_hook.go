package mutation

import (
	"context"

	"github.com/bootjp/elasticsql/kv"
	"github.com/bootjp/elasticsql/schema"
	"github.com/cockroachdb/errors"
)

// abortSafeIndexHook handles the deletes a rollback replays against a
// transactional data table. The store cannot maintain indexes during that
// replay, so indexes keyed only by row-key columns are cleaned up here and
// the descriptor of the others rides along on the deletes.
type abortSafeIndexHook struct {
	client kv.Client
	data   *schema.Table
	tenant string
}

func (h *abortSafeIndexHook) ReplayDeletes(ctx context.Context, w kv.WriteHandle, deletes []*kv.Mutation) error {
	var (
		rowKeyOnly []*schema.IndexMaintainer
		keyValue   []*schema.Table
	)
	for _, idx := range schema.ClientMaintained(h.data, false) {
		m, err := schema.NewIndexMaintainer(h.data, idx)
		if err != nil {
			return err
		}
		if m.HasKeyValueColumns() {
			keyValue = append(keyValue, idx)
			continue
		}
		rowKeyOnly = append(rowKeyOnly, m)
	}

	for _, m := range rowKeyOnly {
		if err := h.deleteIndexRows(ctx, m, deletes); err != nil {
			return err
		}
	}

	md, err := schema.DescriptorFor(h.data, keyValue)
	if err != nil {
		return err
	}
	if md != nil {
		for _, d := range deletes {
			d.SetAttribute(kv.AttrIndexMD, md)
			if h.tenant != "" {
				d.SetAttribute(kv.AttrTenantID, []byte(h.tenant))
			}
		}
	}
	return errors.WithStack(w.Batch(ctx, deletes))
}

func (h *abortSafeIndexHook) deleteIndexRows(ctx context.Context, m *schema.IndexMaintainer, deletes []*kv.Mutation) error {
	idxDeletes := make([]*kv.Mutation, 0, len(deletes))
	for _, d := range deletes {
		del, err := m.DeleteFor(d)
		if err != nil {
			return err
		}
		idxDeletes = append(idxDeletes, del)
	}
	w, err := h.client.WriteHandle(m.IndexTable)
	if err != nil {
		return errors.WithStack(err)
	}
	err = w.Batch(ctx, idxDeletes)
	if err != nil {
		err = errors.Wrapf(err, "delete rows of index %s", m.IndexTable)
	}
	return errors.CombineErrors(err, w.Close())
}
