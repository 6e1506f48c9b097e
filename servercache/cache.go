package servercache

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const defaultPushParallelism = 8

var ErrNoServers = errors.New("no region servers for table")

// Server is a store-side process holding pushed metadata.
type Server interface {
	ID() string
	AddCache(ctx context.Context, table string, id []byte, payload []byte) error
	RemoveCache(ctx context.Context, table string, id []byte) error
}

// Locator finds the servers hosting rows of a table.
type Locator interface {
	ServersFor(ctx context.Context, table string, rows [][]byte) ([]Server, error)
}

// NewID returns a fresh cache reference id.
func NewID() []byte {
	id := uuid.New()
	return id[:]
}

type Client struct {
	locator     Locator
	parallelism int
	log         *slog.Logger
}

type Option func(*Client)

func WithParallelism(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

func NewClient(locator Locator, opts ...Option) *Client {
	c := &Client{
		locator:     locator,
		parallelism: defaultPushParallelism,
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Push stores payload on every server holding one of rows and returns the
// reference to attach to mutations. If any server fails, the servers already
// written are cleaned up before returning.
func (c *Client) Push(ctx context.Context, table string, rows [][]byte, payload []byte) (*Cache, error) {
	servers, err := c.locator.ServersFor(ctx, table, rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(servers) == 0 {
		return nil, errors.Wrapf(ErrNoServers, "table %s", table)
	}

	cache := &Cache{id: NewID(), table: table, log: c.log, parallelism: c.parallelism}

	var mu sync.Mutex
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(c.parallelism)
	for _, s := range servers {
		s := s
		eg.Go(func() error {
			if err := s.AddCache(egctx, table, cache.id, payload); err != nil {
				return errors.Wrapf(err, "push to %s", s.ID())
			}
			mu.Lock()
			cache.servers = append(cache.servers, s)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		// ctx of the group is done, release with the caller's.
		return nil, errors.CombineErrors(err, cache.Close(ctx))
	}

	c.log.DebugContext(ctx, "pushed index metadata",
		slog.String("table", table),
		slog.Int("servers", len(servers)),
		slog.Int("bytes", len(payload)),
	)
	return cache, nil
}

// Cache is a reference to metadata pushed to a set of servers.
type Cache struct {
	id          []byte
	table       string
	servers     []Server
	parallelism int
	log         *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (c *Cache) ID() []byte {
	return c.id
}

// Close removes the metadata from every server it was pushed to. Failures
// of individual servers are combined; Close is idempotent.
func (c *Cache) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		var (
			mu   sync.Mutex
			errs error
		)
		eg := errgroup.Group{}
		eg.SetLimit(max(c.parallelism, 1))
		for _, s := range c.servers {
			s := s
			eg.Go(func() error {
				if err := s.RemoveCache(ctx, c.table, c.id); err != nil {
					mu.Lock()
					errs = errors.CombineErrors(errs, errors.Wrapf(err, "release on %s", s.ID()))
					mu.Unlock()
				}
				return nil
			})
		}
		_ = eg.Wait()
		if errs != nil {
			c.log.WarnContext(ctx, "failed to release index metadata",
				slog.String("table", c.table),
				slog.Any("error", errs),
			)
		}
		c.closeErr = errs
	})
	return c.closeErr
}
