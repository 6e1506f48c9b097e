package cluster

import (
	"context"
	"sync"

	"github.com/bootjp/elasticsql/kv"
	"github.com/bootjp/elasticsql/servercache"
)

// Client talks to a Cluster. It caches the region layout per table the way
// a store client caches region locations; a stale entry only shows up as a
// metadata miss on the server side.
type Client struct {
	cluster *Cluster

	mu        sync.Mutex
	locations map[string]int
}

var (
	_ kv.Client           = (*Client)(nil)
	_ servercache.Locator = (*Client)(nil)
)

func NewClient(c *Cluster) *Client {
	return &Client{cluster: c, locations: map[string]int{}}
}

func (c *Client) location(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.locations[table]
	if !ok {
		n = c.cluster.layout()
		c.locations[table] = n
	}
	return n
}

func (c *Client) ClearRegionCache(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locations, table)
}

// ServersFor returns the servers the client believes serve rows.
func (c *Client) ServersFor(_ context.Context, table string, rows [][]byte) ([]servercache.Server, error) {
	regionServers := c.cluster.serversAt(c.location(table), rows)
	out := make([]servercache.Server, 0, len(regionServers))
	for _, s := range regionServers {
		out = append(out, s)
	}
	return out, nil
}

func (c *Client) WriteHandle(name string) (kv.WriteHandle, error) {
	c.location(name)
	return &handle{name: name, cluster: c.cluster}, nil
}
