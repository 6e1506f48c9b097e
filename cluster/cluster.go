package cluster

import (
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/bootjp/elasticsql/kv"
	"github.com/bootjp/elasticsql/store"
	"github.com/cockroachdb/errors"
	"github.com/spaolacci/murmur3"
)

var ErrNoServers = errors.New("cluster has no region servers")

// Cluster is an in-process stand-in for the distributed store: a set of
// region servers that own rows by hash, and the row tables they serve.
type Cluster struct {
	mu      sync.RWMutex
	servers []*RegionServer
	tables  map[string]*store.RowStore
	clock   *kv.HLC
	log     *slog.Logger
}

type Option func(*Cluster)

func WithLogger(l *slog.Logger) Option {
	return func(c *Cluster) {
		c.log = l
	}
}

func WithClock(clock *kv.HLC) Option {
	return func(c *Cluster) {
		c.clock = clock
	}
}

// New starts a cluster of n region servers.
func New(n int, opts ...Option) (*Cluster, error) {
	if n <= 0 {
		return nil, errors.WithStack(ErrNoServers)
	}
	c := &Cluster{
		tables: map[string]*store.RowStore{},
		clock:  kv.NewHLC(),
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	for _, opt := range opts {
		opt(c)
	}
	for i := 0; i < n; i++ {
		if _, err := c.AddServer(); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// AddServer adds a region server. Rows are redistributed, which is how a
// split looks to clients holding cached locations.
func (c *Cluster) AddServer() (*RegionServer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := newRegionServer("rs-"+strconv.Itoa(len(c.servers)), c.log)
	if err != nil {
		return nil, err
	}
	c.servers = append(c.servers, s)
	c.log.Info("region server added", slog.String("server", s.id), slog.Int("servers", len(c.servers)))
	return s, nil
}

func (c *Cluster) Servers() []*RegionServer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*RegionServer(nil), c.servers...)
}

func (c *Cluster) Clock() *kv.HLC {
	return c.clock
}

func route(row []byte, n int) int {
	return int(murmur3.Sum64(row) % uint64(n))
}

// owner returns the server currently serving row.
func (c *Cluster) owner(row []byte) *RegionServer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.servers[route(row, len(c.servers))]
}

// layout is the number of servers, the part of the cluster state clients
// cache.
func (c *Cluster) layout() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.servers)
}

func (c *Cluster) serversAt(n int, rows [][]byte) []*RegionServer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n = min(n, len(c.servers))
	if len(rows) == 0 {
		return append([]*RegionServer(nil), c.servers[:n]...)
	}
	seen := make(map[int]struct{}, n)
	var out []*RegionServer
	for _, r := range rows {
		i := route(r, n)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, c.servers[i])
	}
	return out
}

// Table returns the row table backing a physical table, creating it.
func (c *Cluster) Table(name string) *store.RowStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		t = store.NewRowStore()
		c.tables[name] = t
	}
	return t
}

func (c *Cluster) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.servers {
		s.close()
	}
	c.servers = nil
}
