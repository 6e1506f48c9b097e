package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/bootjp/elasticsql/catalog"
	"github.com/bootjp/elasticsql/cluster"
	"github.com/bootjp/elasticsql/config"
	"github.com/bootjp/elasticsql/kv"
	"github.com/bootjp/elasticsql/mutation"
	"github.com/bootjp/elasticsql/schema"
	"github.com/bootjp/elasticsql/servercache"
	"github.com/bootjp/elasticsql/txn"
	"github.com/cockroachdb/errors"
)

var (
	configPath = flag.String("config", "", "TOML connection config")
	dataPath   = flag.String("data", "", "bbolt file to write to; an in-process cluster is used when empty")
	servers    = flag.Int("servers", 3, "region servers of the in-process cluster")
	rows       = flag.Int("rows", 100, "rows to buffer before commit")
)

type options struct {
	configPath string
	dataPath   string
	servers    int
	rows       int
}

func main() {
	flag.Parse()

	opts := options{
		configPath: *configPath,
		dataPath:   *dataPath,
		servers:    *servers,
		rows:       *rows,
	}
	if err := run(context.Background(), opts, os.Stdout); err != nil {
		log.Fatalf("%+v", err)
	}
}

// ordersTable is the demo schema: an immutable table with one covered
// global index, so commits exercise client-side index maintenance.
func ordersTable() *schema.Table {
	customer := schema.ColumnRef{Family: schema.DefaultFamily, Name: "CUSTOMER"}
	total := schema.ColumnRef{Family: schema.DefaultFamily, Name: "TOTAL"}
	return &schema.Table{
		Name:          "ORDERS",
		ImmutableRows: true,
		Transactional: true,
		Columns: []schema.Column{
			{Name: "ID", PKPosition: 0},
			{Family: customer.Family, Name: customer.Name, PKPosition: -1},
			{Family: total.Family, Name: total.Name, PKPosition: -1},
		},
		Indexes: []*schema.Table{{
			Name:           "ORDERS_BY_CUSTOMER",
			Type:           schema.TableTypeIndex,
			IndexedColumns: []schema.ColumnRef{customer},
			CoveredColumns: []schema.ColumnRef{total},
		}},
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	conf, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	level, err := config.ParseLevel(conf.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	clock := kv.NewHLC()
	tables := catalog.NewMemory(clock)
	conn := &mutation.Connection{
		Config:  conf,
		Catalog: tables,
		Txn:     txn.NewLocalService(clock),
	}

	if opts.dataPath != "" {
		bolt, err := kv.NewBoltClient(opts.dataPath)
		if err != nil {
			return err
		}
		defer bolt.Close()
		conn.Client = bolt
	} else {
		c, err := cluster.New(opts.servers, cluster.WithLogger(logger), cluster.WithClock(clock))
		if err != nil {
			return err
		}
		defer c.Close()
		client := cluster.NewClient(c)
		conn.Client = client
		conn.Cache = servercache.NewClient(client, servercache.WithLogger(logger))
	}

	stored, err := tables.Put(ordersTable())
	if err != nil {
		return err
	}
	ref := schema.NewTableRef(stored, catalog.UnsetTimestamp)

	s := mutation.New(conn, mutation.WithLogger(logger))
	defer s.Close()
	customer := schema.ColumnRef{Family: schema.DefaultFamily, Name: "CUSTOMER"}
	total := schema.ColumnRef{Family: schema.DefaultFamily, Name: "TOTAL"}
	for i := 0; i < opts.rows; i++ {
		edit := mutation.NewRowEdit(map[schema.ColumnRef][]byte{
			customer: []byte(fmt.Sprintf("customer-%d", i%7)),
			total:    []byte(fmt.Sprintf("%d", i*10)),
		})
		row := schema.EncodeRowKey([]byte(fmt.Sprintf("order-%06d", i)))
		if err := s.AddEdit(ref, row, edit); err != nil {
			return err
		}
	}

	updated := s.UpdateCount()
	if err := s.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit demo orders")
	}
	fmt.Fprintf(out, "committed %d rows into %s\n", updated, stored.Name)
	return nil
}
