package mutation

import (
	"context"
	"log/slog"
	"time"

	"github.com/bootjp/elasticsql/kv"
	"github.com/bootjp/elasticsql/schema"
	"github.com/bootjp/elasticsql/servercache"
	"github.com/bootjp/elasticsql/txn"
	"github.com/cockroachdb/errors"
)

// send writes the given tables, or every buffered table when refs is nil.
// Tables go out one at a time in buffer order and leave the buffer as soon
// as all their batches succeed, so after a failure the buffer holds exactly
// the tables that were not committed.
func (s *MutationState) send(ctx context.Context, refs []*schema.TableRef) error {
	sendAll := refs == nil
	var timestamps map[string]uint64
	if sendAll {
		var err error
		if timestamps, err = s.validateAll(ctx); err != nil {
			return err
		}
		refs = s.edits.Refs()
	}

	for _, ref := range refs {
		edits, ok := s.edits.get(ref.Key())
		if !ok {
			continue
		}
		ts, validated := timestamps[ref.Key()]
		if !validated {
			var err error
			if ts, err = s.validate(ctx, edits); err != nil {
				return err
			}
		}
		if err := s.sendTable(ctx, edits, ts); err != nil {
			return err
		}
	}

	if sendAll && (s.numRows != 0 || s.edits.Len() != 0) {
		return errors.AssertionFailedf("%d rows in %d tables left after sending everything", s.numRows, s.edits.Len())
	}
	return nil
}

func (s *MutationState) sendTable(ctx context.Context, edits *TableEdits, ts uint64) error {
	data := edits.Ref.Table()
	start := time.Now()

	var txState []byte
	if data.Transactional {
		if err := s.ensureTransaction(ctx); err != nil {
			return err
		}
		txState = txn.EncodeState(s.coord.Transaction())
	}
	md, err := schema.DescriptorFor(data, nil)
	if err != nil {
		return err
	}

	it := newTableIterator(edits, ts, false)
	for it.Next() {
		b := it.Batch()
		batchMD := md
		if !b.Primary() {
			batchMD = nil
		}
		if err := s.sendBatch(ctx, data, b, batchMD, txState); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return commitError(err, s)
	}

	if !data.IsIndex() {
		s.numRows -= edits.Len()
	}
	s.edits.remove(edits.Ref.Key())

	elapsed := time.Since(start)
	commitSeconds.WithLabelValues(data.Physical()).Observe(elapsed.Seconds())
	s.log.DebugContext(ctx, "table committed",
		slog.String("table", data.Physical()),
		slog.Int("rows", edits.Len()),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

func (s *MutationState) ensureTransaction(ctx context.Context) error {
	if s.coord.Direct() {
		return nil
	}
	_, err := s.coord.StartTransaction(ctx)
	return err
}

// sendBatch sends one batch. A batch that referenced pushed metadata the
// store could not find is resent once after relocating the table, since a
// region split between push and write causes exactly that.
func (s *MutationState) sendBatch(ctx context.Context, data *schema.Table, b TableMutations, md, txState []byte) error {
	for attempt := 0; ; attempt++ {
		cache, err := s.attachMetadata(ctx, b.Table, b.Mutations, md, txState)
		if err != nil {
			commitFailures.WithLabelValues(b.Table).Inc()
			return commitError(err, s)
		}
		h, err := s.openWriter(ctx, data, b)
		if err != nil {
			commitFailures.WithLabelValues(b.Table).Inc()
			return commitError(errors.CombineErrors(err, s.releaseCache(ctx, cache)), s)
		}

		size := 0
		for _, m := range b.Mutations {
			size += m.HeapSize()
		}
		batchSize.WithLabelValues(b.Table).Observe(float64(len(b.Mutations)))
		batchBytes.WithLabelValues(b.Table).Observe(float64(size))
		s.log.DebugContext(ctx, "sending batch",
			slog.String("table", b.Table),
			slog.Int("mutations", len(b.Mutations)),
			slog.Int("bytes", size),
			slog.String("writer", writerKindFor(data).String()),
		)

		start := time.Now()
		err = h.Batch(ctx, b.Mutations)
		releaseErr := s.release(ctx, cache, h)
		s.log.DebugContext(ctx, "batch done",
			slog.String("table", b.Table),
			slog.Duration("elapsed", time.Since(start)),
		)

		if err == nil && releaseErr == nil {
			return nil
		}
		if err == nil {
			commitFailures.WithLabelValues(b.Table).Inc()
			return commitError(releaseErr, s)
		}
		if cache != nil && attempt == 0 && kv.IsIndexMetadataNotFound(err) {
			s.conn.Client.ClearRegionCache(b.Table)
			batchRetries.WithLabelValues(b.Table).Inc()
			s.log.WarnContext(ctx, "index metadata not found, retrying batch",
				slog.String("table", b.Table),
				slog.Any("error", errors.CombineErrors(err, releaseErr)),
			)
			continue
		}
		commitFailures.WithLabelValues(b.Table).Inc()
		return commitError(errors.CombineErrors(err, releaseErr), s)
	}
}

func (s *MutationState) releaseCache(ctx context.Context, cache *servercache.Cache) error {
	if cache == nil {
		return nil
	}
	if err := cache.Close(ctx); err != nil {
		return errors.Mark(errors.Wrap(err, "release index metadata"), ErrResourceRelease)
	}
	return nil
}

// release frees the cache reference and closes the handle whatever the
// batch outcome was.
func (s *MutationState) release(ctx context.Context, cache *servercache.Cache, h kv.WriteHandle) error {
	err := s.releaseCache(ctx, cache)
	if cerr := h.Close(); cerr != nil {
		err = errors.CombineErrors(err, errors.Mark(errors.Wrap(cerr, "close write handle"), ErrResourceRelease))
	}
	return err
}
