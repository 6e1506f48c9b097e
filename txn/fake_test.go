package txn

import (
	"context"
	"sync"

	"github.com/bootjp/elasticsql/kv"
	"github.com/cockroachdb/errors"
)

type recordingClient struct {
	mu       sync.Mutex
	batches  map[string][][]*kv.Mutation
	batchErr error
	opened   int
}

func newRecordingClient() *recordingClient {
	return &recordingClient{batches: map[string][][]*kv.Mutation{}}
}

func (c *recordingClient) WriteHandle(name string) (kv.WriteHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened++
	return &recordingHandle{name: name, client: c}, nil
}

func (c *recordingClient) ClearRegionCache(string) {}

func (c *recordingClient) sent(name string) [][]*kv.Mutation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches[name]
}

type recordingHandle struct {
	name   string
	client *recordingClient
	closed bool
}

func (h *recordingHandle) Name() string { return h.name }

func (h *recordingHandle) Batch(_ context.Context, muts []*kv.Mutation) error {
	if h.closed {
		return errors.WithStack(kv.ErrHandleClosed)
	}
	h.client.mu.Lock()
	defer h.client.mu.Unlock()
	if h.client.batchErr != nil {
		return h.client.batchErr
	}
	h.client.batches[h.name] = append(h.client.batches[h.name], muts)
	return nil
}

func (h *recordingHandle) Close() error {
	h.closed = true
	return nil
}

type hookFunc func(ctx context.Context, h kv.WriteHandle, deletes []*kv.Mutation) error

func (f hookFunc) ReplayDeletes(ctx context.Context, h kv.WriteHandle, deletes []*kv.Mutation) error {
	return f(ctx, h, deletes)
}

type failingParticipant struct {
	name        string
	commitErr   error
	rollbackErr error
	started     *Transaction
}

func (p *failingParticipant) Name() string                   { return p.name }
func (p *failingParticipant) StartTx(tx *Transaction)        { p.started = tx }
func (p *failingParticipant) ChangeSet() [][]byte            { return nil }
func (p *failingParticipant) CommitTx(context.Context) error { return p.commitErr }
func (p *failingParticipant) PostTxCommit()                  {}
func (p *failingParticipant) RollbackTx(context.Context) error {
	return p.rollbackErr
}
