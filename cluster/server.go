package cluster

import (
	"context"
	"log/slog"

	"github.com/bootjp/elasticsql/servercache"
	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/ristretto"
)

const (
	cacheNumCounters = 1 << 14
	cacheMaxCost     = 64 << 20
	cacheBufferItems = 64
)

var ErrCacheRejected = errors.New("metadata cache rejected entry")

// RegionServer holds the index metadata pushed by clients for the rows it
// serves.
type RegionServer struct {
	id    string
	cache *ristretto.Cache
	log   *slog.Logger
}

var _ servercache.Server = (*RegionServer)(nil)

func newRegionServer(id string, log *slog.Logger) (*RegionServer, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheNumCounters,
		MaxCost:     cacheMaxCost,
		BufferItems: cacheBufferItems,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &RegionServer{id: id, cache: c, log: log}, nil
}

func cacheKey(table string, id []byte) string {
	return table + "/" + string(id)
}

func (s *RegionServer) ID() string {
	return s.id
}

func (s *RegionServer) AddCache(ctx context.Context, table string, id []byte, payload []byte) error {
	if !s.cache.Set(cacheKey(table, id), payload, int64(len(payload))+1) {
		return errors.Wrapf(ErrCacheRejected, "server %s table %s", s.id, table)
	}
	// make the entry visible to the next Get
	s.cache.Wait()
	s.log.DebugContext(ctx, "cached index metadata",
		slog.String("server", s.id),
		slog.String("table", table),
		slog.Int("bytes", len(payload)),
	)
	return nil
}

func (s *RegionServer) RemoveCache(_ context.Context, table string, id []byte) error {
	s.cache.Del(cacheKey(table, id))
	return nil
}

func (s *RegionServer) lookup(table string, id []byte) ([]byte, bool) {
	v, ok := s.cache.Get(cacheKey(table, id))
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

func (s *RegionServer) close() {
	s.cache.Close()
}
