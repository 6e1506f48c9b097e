package mutation

import (
	"context"
	"log/slog"

	"github.com/bootjp/elasticsql/catalog"
	"github.com/bootjp/elasticsql/kv"
	"github.com/bootjp/elasticsql/schema"
	"github.com/cockroachdb/errors"
)

// validate refreshes the schema of a buffered table and returns the
// timestamp its rows are written at.
func (s *MutationState) validate(ctx context.Context, edits *TableEdits) (uint64, error) {
	ref := edits.Ref
	serverTS := ref.TimeStamp()
	if !s.conf.AutoCommit {
		res, err := s.conn.Catalog.LookupCurrentSchema(ctx, ref.Key())
		if err != nil {
			if errors.Is(err, catalog.ErrTableNotFound) {
				return 0, errors.Mark(err, ErrTableNotFound)
			}
			return 0, errors.Wrapf(err, "lookup %s", ref.Key())
		}
		if err := s.refresh(edits, res.Table); err != nil {
			return 0, err
		}
		if res.MutationTime != catalog.UnsetTimestamp {
			serverTS = res.MutationTime
			ref.SetTimeStamp(serverTS)
		}
	}
	switch {
	case s.conf.Historical():
		return s.conf.SCN, nil
	case ref.Table().Transactional, serverTS == catalog.UnsetTimestamp:
		return kv.LatestTimestamp, nil
	default:
		return serverTS, nil
	}
}

// refresh installs latest if it is newer than the snapshot the rows were
// buffered with, after checking every edited column still exists.
func (s *MutationState) refresh(edits *TableEdits, latest *schema.Table) error {
	ref := edits.Ref
	for {
		cur := ref.Table()
		if latest.Version <= cur.Version {
			return nil
		}
		var missing error
		edits.Each(func(row []byte, e *RowEdit) {
			if missing != nil || e.IsDelete() {
				return
			}
			for col := range e.Columns {
				if _, ok := latest.Column(col); !ok {
					missing = errors.Wrapf(ErrColumnNotFound, "%s in %s version %d", col, latest.Name, latest.Version)
					return
				}
			}
		})
		if missing != nil {
			return missing
		}
		if ref.ReplaceTable(cur, latest) {
			s.log.Info("schema refreshed",
				slog.String("table", latest.Name),
				slog.Uint64("from", cur.Version),
				slog.Uint64("to", latest.Version),
			)
			return nil
		}
	}
}

// validateAll validates every buffered table up front and returns the write
// timestamp per table.
func (s *MutationState) validateAll(ctx context.Context) (map[string]uint64, error) {
	out := make(map[string]uint64, s.edits.Len())
	for _, ref := range s.edits.Refs() {
		edits, _ := s.edits.get(ref.Key())
		ts, err := s.validate(ctx, edits)
		if err != nil {
			return nil, err
		}
		out[ref.Key()] = ts
	}
	return out, nil
}
