package mutation

import (
	"context"
	"sync"
	"testing"

	"github.com/bootjp/elasticsql/catalog"
	"github.com/bootjp/elasticsql/cluster"
	"github.com/bootjp/elasticsql/config"
	"github.com/bootjp/elasticsql/kv"
	"github.com/bootjp/elasticsql/schema"
	"github.com/bootjp/elasticsql/servercache"
	"github.com/bootjp/elasticsql/txn"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

var (
	colV     = schema.ColumnRef{Family: schema.DefaultFamily, Name: "V"}
	colW     = schema.ColumnRef{Family: schema.DefaultFamily, Name: "W"}
	customer = schema.ColumnRef{Family: schema.DefaultFamily, Name: "CUSTOMER"}
	total    = schema.ColumnRef{Family: schema.DefaultFamily, Name: "TOTAL"}
)

func kvTable(name string) *schema.Table {
	return &schema.Table{
		Name: name,
		Columns: []schema.Column{
			{Name: "K", PKPosition: 0},
			{Family: colV.Family, Name: colV.Name, PKPosition: -1},
			{Family: colW.Family, Name: colW.Name, PKPosition: -1},
		},
	}
}

func indexTable(name string) *schema.Table {
	t := kvTable(name)
	t.Type = schema.TableTypeIndex
	return t
}

// ordersTable has a covered index on CUSTOMER, an index on the row key
// alone, a local index and a disabled one.
func ordersTable(immutable, transactional bool) *schema.Table {
	return &schema.Table{
		Name:          "ORDERS",
		ImmutableRows: immutable,
		Transactional: transactional,
		Columns: []schema.Column{
			{Name: "ID", PKPosition: 0},
			{Family: customer.Family, Name: customer.Name, PKPosition: -1},
			{Family: total.Family, Name: total.Name, PKPosition: -1},
		},
		Indexes: []*schema.Table{
			{
				Name:           "ORDERS_BY_CUSTOMER",
				Type:           schema.TableTypeIndex,
				IndexedColumns: []schema.ColumnRef{customer},
				CoveredColumns: []schema.ColumnRef{total},
			},
			{
				Name:           "ORDERS_BY_ID",
				Type:           schema.TableTypeIndex,
				IndexedColumns: []schema.ColumnRef{{Name: "ID"}},
			},
			{
				Name:           "ORDERS_LOCAL",
				Type:           schema.TableTypeIndex,
				IndexType:      schema.IndexLocal,
				IndexedColumns: []schema.ColumnRef{total},
			},
			{
				Name:           "ORDERS_OLD",
				Type:           schema.TableTypeIndex,
				IndexState:     schema.IndexDisabled,
				IndexedColumns: []schema.ColumnRef{total},
			},
		},
	}
}

func key(s string) []byte {
	return schema.EncodeRowKey([]byte(s))
}

func cols(kvs ...any) *RowEdit {
	e := NewRowEdit(nil)
	for i := 0; i+1 < len(kvs); i += 2 {
		ref, _ := kvs[i].(schema.ColumnRef)
		v, _ := kvs[i+1].(string)
		e.Columns[ref] = []byte(v)
	}
	return e
}

// publish stores t in the catalog and returns a ref to the stored snapshot.
func publish(t *testing.T, c *catalog.Memory, table *schema.Table) *schema.TableRef {
	t.Helper()
	stored, err := c.Put(table)
	require.NoError(t, err)
	return schema.NewTableRef(stored, catalog.UnsetTimestamp)
}

// scriptedClient records batches and fails them on demand.
type scriptedClient struct {
	mu       sync.Mutex
	sent     map[string][][]*kv.Mutation
	failures map[string][]error
	always   map[string]error
	closeErr map[string]error
	cleared  []string
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		sent:     map[string][][]*kv.Mutation{},
		failures: map[string][]error{},
		always:   map[string]error{},
		closeErr: map[string]error{},
	}
}

func (c *scriptedClient) failNext(table string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[table] = append(c.failures[table], errs...)
}

func (c *scriptedClient) batches(table string) [][]*kv.Mutation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[table]
}

func (c *scriptedClient) WriteHandle(name string) (kv.WriteHandle, error) {
	return &scriptedHandle{name: name, client: c}, nil
}

func (c *scriptedClient) ClearRegionCache(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared = append(c.cleared, name)
}

type scriptedHandle struct {
	name   string
	client *scriptedClient
}

func (h *scriptedHandle) Name() string { return h.name }

func (h *scriptedHandle) Batch(_ context.Context, muts []*kv.Mutation) error {
	c := h.client
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.always[h.name]; err != nil {
		return err
	}
	if q := c.failures[h.name]; len(q) > 0 {
		c.failures[h.name] = q[1:]
		if q[0] != nil {
			return q[0]
		}
	}
	c.sent[h.name] = append(c.sent[h.name], muts)
	return nil
}

func (h *scriptedHandle) Close() error {
	h.client.mu.Lock()
	defer h.client.mu.Unlock()
	return h.client.closeErr[h.name]
}

// memServer is a metadata cache server that never loses entries.
type memServer struct {
	mu      sync.Mutex
	entries map[string][]byte
	removed int
}

func newMemServer() *memServer {
	return &memServer{entries: map[string][]byte{}}
}

func (s *memServer) ID() string { return "mem" }

func (s *memServer) AddCache(_ context.Context, table string, id []byte, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[table+"/"+string(id)] = payload
	return nil
}

func (s *memServer) RemoveCache(_ context.Context, table string, id []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, table+"/"+string(id))
	s.removed++
	return nil
}

func (s *memServer) live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type oneServer struct{ s servercache.Server }

func (l oneServer) ServersFor(context.Context, string, [][]byte) ([]servercache.Server, error) {
	return []servercache.Server{l.s}, nil
}

type fakeEnv struct {
	client  *scriptedClient
	catalog *catalog.Memory
	server  *memServer
	conn    *Connection
}

func newFakeEnv(conf *config.Config) *fakeEnv {
	clock := kv.NewHLC()
	env := &fakeEnv{
		client:  newScriptedClient(),
		catalog: catalog.NewMemory(clock),
		server:  newMemServer(),
	}
	env.conn = &Connection{
		Config:  conf,
		Client:  env.client,
		Catalog: env.catalog,
		Cache:   servercache.NewClient(oneServer{env.server}),
		Txn:     txn.NewLocalService(clock),
	}
	return env
}

type clusterEnv struct {
	cluster *cluster.Cluster
	client  *cluster.Client
	catalog *catalog.Memory
	txn     *txn.LocalService
	conn    *Connection
}

func newClusterEnv(t *testing.T, conf *config.Config) *clusterEnv {
	t.Helper()
	clock := kv.NewHLC()
	c, err := cluster.New(1, cluster.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	client := cluster.NewClient(c)
	env := &clusterEnv{
		cluster: c,
		client:  client,
		catalog: catalog.NewMemory(clock),
		txn:     txn.NewLocalService(clock),
	}
	env.conn = &Connection{
		Config:  conf,
		Client:  client,
		Catalog: env.catalog,
		Cache:   servercache.NewClient(client),
		Txn:     env.txn,
	}
	return env
}

var errPermanent = errors.New("region unavailable")

func metadataNotFound() error {
	return kv.NewServerError(kv.CodeIndexMetadataNotFound, "index metadata not found")
}

func newTestConf() *config.Config {
	return config.DefaultConf()
}
