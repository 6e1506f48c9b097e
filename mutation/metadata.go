package mutation

import (
	"context"

	"github.com/bootjp/elasticsql/kv"
	"github.com/bootjp/elasticsql/servercache"
	"github.com/cockroachdb/errors"
)

// useMetadataCache decides between inline metadata and a pushed reference.
// Both the size and the batch have to be large for the push to pay off.
func (s *MutationState) useMetadataCache(md, txState []byte, muts []*kv.Mutation) bool {
	if s.conn.Cache == nil {
		return false
	}
	return len(md)+len(txState) > s.conf.IndexMetadataCacheThreshold &&
		len(muts) > s.conf.IndexMutateBatchThreshold
}

// attachMetadata sets the tenant, index descriptor and transaction state on
// muts. The returned cache, if any, must be closed once the batch is done.
func (s *MutationState) attachMetadata(ctx context.Context, table string, muts []*kv.Mutation, md, txState []byte) (*servercache.Cache, error) {
	if s.conf.TenantID != "" {
		tenant := []byte(s.conf.TenantID)
		for _, m := range muts {
			m.SetAttribute(kv.AttrTenantID, tenant)
		}
	}
	if len(md) == 0 && len(txState) == 0 {
		return nil, nil
	}

	if s.useMetadataCache(md, txState, muts) {
		cache, err := s.conn.Cache.Push(ctx, table, kv.Keys(muts), servercache.EncodePayload(md, txState))
		if err != nil {
			return nil, errors.Wrapf(err, "push index metadata for %s", table)
		}
		for _, m := range muts {
			m.SetAttribute(kv.AttrIndexUUID, cache.ID())
			m.SetAttribute(kv.AttrIndexMD, nil)
			m.SetAttribute(kv.AttrTxState, nil)
		}
		return cache, nil
	}

	for _, m := range muts {
		m.SetAttribute(kv.AttrIndexUUID, nil)
		if len(md) > 0 {
			m.SetAttribute(kv.AttrIndexMD, md)
		}
		if len(txState) > 0 {
			m.SetAttribute(kv.AttrTxState, txState)
		}
	}
	return nil, nil
}
