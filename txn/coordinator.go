package txn

import (
	"context"
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
)

type State int

const (
	StateUnstarted State = iota
	StateStarted
	StateFinished
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarted:
		return "started"
	case StateFinished:
		return "finished"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Coordinator owns the transaction of one connection. In managed mode it
// starts transactions lazily through a Service; each one ends Finished or
// Aborted and is then dropped, so the coordinator reports StateUnstarted
// until the next start. In direct mode it only binds participants to a
// transaction owned by the caller.
type Coordinator struct {
	svc        Service
	historical bool
	direct     *Transaction

	tx   *Transaction
	last State

	// participants bound in direct mode, kept so a parent buffer can take
	// them over on join.
	participants []Participant

	log *slog.Logger
}

type CoordinatorOption func(*Coordinator)

func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.log = l
	}
}

func newCoordinator(opts []CoordinatorOption) *Coordinator {
	c := &Coordinator{
		log: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewManaged returns a coordinator that starts its own transactions.
// historical is set when the connection reads at a fixed SCN.
func NewManaged(svc Service, historical bool, opts ...CoordinatorOption) *Coordinator {
	c := newCoordinator(opts)
	c.svc = svc
	c.historical = historical
	return c
}

// NewDirect returns a coordinator bound to tx, which the caller owns.
func NewDirect(tx *Transaction, opts ...CoordinatorOption) *Coordinator {
	c := newCoordinator(opts)
	c.direct = tx
	return c
}

func (c *Coordinator) Direct() bool {
	return c.direct != nil
}

// Transaction returns the transaction writes are tagged with, or nil.
func (c *Coordinator) Transaction() *Transaction {
	if c.direct != nil {
		return c.direct
	}
	return c.tx
}

func (c *Coordinator) InTransaction() bool {
	return c.Transaction() != nil
}

// State is the state of the current managed transaction. It is only ever
// StateStarted or StateUnstarted: a finished or aborted transaction is
// dropped, and its outcome is reported by LastOutcome.
func (c *Coordinator) State() State {
	if c.tx != nil {
		return StateStarted
	}
	return StateUnstarted
}

// LastOutcome is the terminal state of the previous managed transaction.
func (c *Coordinator) LastOutcome() State {
	return c.last
}

// StartTransaction begins a managed transaction. It reports false when one
// is already running.
func (c *Coordinator) StartTransaction(ctx context.Context) (bool, error) {
	if c.historical {
		return false, errors.WithStack(ErrHistoricalReadTransaction)
	}
	if c.direct != nil || c.svc == nil {
		return false, errors.WithStack(ErrNoTransactionContext)
	}
	if c.tx != nil {
		return false, nil
	}
	tx, err := c.svc.Begin(ctx)
	if err != nil {
		return false, errors.Mark(errors.Wrap(err, "begin transaction"), ErrTransactionFailure)
	}
	c.tx = tx
	return true, nil
}

// AddParticipant enlists p. A managed coordinator starts a transaction
// first if none is running.
func (c *Coordinator) AddParticipant(ctx context.Context, p Participant) error {
	if c.direct != nil {
		p.StartTx(c.direct)
		c.participants = append(c.participants, p)
		return nil
	}
	if _, err := c.StartTransaction(ctx); err != nil {
		return err
	}
	return errors.WithStack(c.svc.Enlist(c.tx, p))
}

func (c *Coordinator) Participants() []Participant {
	return c.participants
}

func (c *Coordinator) ClearParticipants() {
	c.participants = nil
}

// Transfer takes over the participants of a nested buffer.
func (c *Coordinator) Transfer(ctx context.Context, from *Coordinator) error {
	if from == c {
		return nil
	}
	for _, p := range from.Participants() {
		if err := c.AddParticipant(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Commit finishes the managed transaction. When the service rejects it the
// transaction is aborted and the rejection is returned, classified as
// ErrTransactionConflict or ErrTransactionFailure. A direct coordinator has
// nothing to commit.
func (c *Coordinator) Commit(ctx context.Context) error {
	if c.direct != nil || c.tx == nil {
		return nil
	}
	tx := c.tx
	defer func() {
		c.tx = nil
	}()

	err := c.svc.Finish(ctx, tx)
	if err == nil {
		c.last = StateFinished
		return nil
	}

	c.last = StateAborted
	abortErr := c.svc.Abort(ctx, tx)
	if abortErr != nil {
		c.log.WarnContext(ctx, "abort after failed commit",
			slog.Uint64("tx", tx.ID),
			slog.Any("error", abortErr),
		)
		abortErr = errors.Wrap(abortErr, "abort after failed commit")
	}

	mark := ErrTransactionFailure
	if errors.Is(err, ErrWriteConflict) {
		mark = ErrTransactionConflict
	}
	out := errors.Mark(errors.Wrapf(err, "commit transaction %d", tx.ID), mark)
	return errors.CombineErrors(out, abortErr)
}

// Abort rolls back the managed transaction, if any.
func (c *Coordinator) Abort(ctx context.Context) error {
	if c.direct != nil || c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	c.last = StateAborted
	if err := c.svc.Abort(ctx, tx); err != nil {
		return errors.Wrapf(err, "abort transaction %d", tx.ID)
	}
	return nil
}
