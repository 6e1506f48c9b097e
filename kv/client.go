package kv

import "context"

// WriteHandle is a per-table write session. Close must be called after use
// regardless of the batch outcome.
type WriteHandle interface {
	Name() string
	// Batch sends muts as one call. The error is a store error that
	// ClassifyError can interpret.
	Batch(ctx context.Context, muts []*Mutation) error
	Close() error
}

// Client is the distributed store client used by the commit path.
type Client interface {
	WriteHandle(name string) (WriteHandle, error)
	// ClearRegionCache drops cached region locations for the table so the next
	// call relocates it.
	ClearRegionCache(name string)
}
