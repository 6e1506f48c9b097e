package txn

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/bootjp/elasticsql/kv"
	"github.com/cockroachdb/errors"
)

// Service is the transaction manager consumed by the coordinator.
type Service interface {
	Begin(ctx context.Context) (*Transaction, error)
	// Enlist registers p with tx and starts it.
	Enlist(tx *Transaction, p Participant) error
	// Finish commits tx. A detected conflict is reported as ErrWriteConflict
	// and leaves tx in progress so it can still be aborted.
	Finish(ctx context.Context, tx *Transaction) error
	// Abort rolls back every participant of tx.
	Abort(ctx context.Context, tx *Transaction) error
}

type activeTx struct {
	tx           *Transaction
	participants []Participant
}

type committedTx struct {
	commitTS uint64
	changes  map[string]struct{}
}

// LocalService is an in-process transaction manager with row level
// optimistic conflict detection.
type LocalService struct {
	mu        sync.Mutex
	clock     kv.Clock
	active    map[uint64]*activeTx
	committed []committedTx
	log       *slog.Logger
}

var _ Service = (*LocalService)(nil)

func NewLocalService(clock kv.Clock) *LocalService {
	return &LocalService{
		clock:  clock,
		active: map[uint64]*activeTx{},
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
}

func (s *LocalService) Begin(_ context.Context) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inProgress := make([]uint64, 0, len(s.active))
	for id := range s.active {
		inProgress = append(inProgress, id)
	}
	slices.Sort(inProgress)

	read := s.clock.Next()
	write := s.clock.Next()
	tx := &Transaction{ID: write, ReadPointer: read, WritePointer: write, InProgress: inProgress}
	s.active[tx.ID] = &activeTx{tx: tx}
	return tx, nil
}

func (s *LocalService) Enlist(tx *Transaction, p Participant) error {
	s.mu.Lock()
	a, ok := s.active[tx.ID]
	if ok {
		a.participants = append(a.participants, p)
	}
	s.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownTransaction, "enlist %s in %d", p.Name(), tx.ID)
	}
	p.StartTx(tx)
	return nil
}

func (s *LocalService) lookup(tx *Transaction) (*activeTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.active[tx.ID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTransaction, "%d", tx.ID)
	}
	return a, nil
}

func (s *LocalService) Finish(ctx context.Context, tx *Transaction) error {
	a, err := s.lookup(tx)
	if err != nil {
		return err
	}

	changes := map[string]struct{}{}
	for _, p := range a.participants {
		for _, k := range p.ChangeSet() {
			changes[string(k)] = struct{}{}
		}
	}

	s.mu.Lock()
	for _, c := range s.committed {
		if c.commitTS <= tx.ReadPointer {
			continue
		}
		for k := range changes {
			if _, hit := c.changes[k]; hit {
				s.mu.Unlock()
				return errors.Wrapf(ErrWriteConflict, "tx %d on %q", tx.ID, k)
			}
		}
	}
	s.mu.Unlock()

	for _, p := range a.participants {
		if err := p.CommitTx(ctx); err != nil {
			return errors.Wrapf(err, "commit %s", p.Name())
		}
	}

	s.mu.Lock()
	if len(changes) > 0 {
		s.committed = append(s.committed, committedTx{commitTS: s.clock.Next(), changes: changes})
	}
	delete(s.active, tx.ID)
	s.pruneLocked()
	s.mu.Unlock()

	for _, p := range a.participants {
		p.PostTxCommit()
	}
	return nil
}

func (s *LocalService) Abort(ctx context.Context, tx *Transaction) error {
	a, err := s.lookup(tx)
	if err != nil {
		return err
	}

	var errs error
	for _, p := range a.participants {
		if err := p.RollbackTx(ctx); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "rollback %s", p.Name()))
		}
	}

	s.mu.Lock()
	delete(s.active, tx.ID)
	s.pruneLocked()
	s.mu.Unlock()

	if errs != nil {
		s.log.WarnContext(ctx, "rollback incomplete",
			slog.Uint64("tx", tx.ID),
			slog.Any("error", errs),
		)
	}
	return errs
}

// pruneLocked drops committed change sets no active transaction can
// conflict with.
func (s *LocalService) pruneLocked() {
	if len(s.active) == 0 {
		s.committed = s.committed[:0]
		return
	}
	oldest := ^uint64(0)
	for _, a := range s.active {
		oldest = min(oldest, a.tx.ReadPointer)
	}
	keep := s.committed[:0]
	for _, c := range s.committed {
		if c.commitTS > oldest {
			keep = append(keep, c)
		}
	}
	s.committed = keep
}

// Active reports the number of transactions in progress.
func (s *LocalService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
