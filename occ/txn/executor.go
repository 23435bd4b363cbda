package txn

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap-incubator/tinyocc/log"
	"github.com/pingcap-incubator/tinyocc/occ/cell"
	"github.com/pingcap-incubator/tinyocc/occ/metrics"
	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"
	"go.uber.org/zap"
)

// Status is the final state of a transaction run.
type Status int

const (
	// StatusCommitted means an attempt wrote every staged value.
	StatusCommitted Status = iota
	// StatusInvalid means the text was malformed; no cell was changed.
	StatusInvalid
	// StatusCanceled means the context ended between attempts, or the backoff schedule stopped; no cell was changed
	// by this run.
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusCommitted:
		return "committed"
	case StatusInvalid:
		return "invalid"
	case StatusCanceled:
		return "canceled"
	}
	return "unknown"
}

// Result describes one transaction run.
type Result struct {
	Text   string
	Owner  cell.Owner
	Status Status
	// Attempts counts parse-to-commit passes, the final one included.
	Attempts int
	// Conflicts counts attempts aborted by a conflict.
	Conflicts int
	// Backoff is the total wait scheduled between attempts.
	Backoff  time.Duration
	Duration time.Duration
	// Writes holds the committed values by cell id.
	Writes map[int]int
	Err    error
}

// Executor runs transactions against a table, retrying on conflict.
type Executor struct {
	table      *cell.Table
	newBackOff NewBackOffFunc
}

// Option configures an Executor.
type Option func(*Executor)

// WithBackOff replaces the default linear backoff. f is called once per run.
func WithBackOff(f NewBackOffFunc) Option {
	return func(e *Executor) {
		e.newBackOff = f
	}
}

// NewExecutor creates an executor for table.
func NewExecutor(table *cell.Table, opts ...Option) *Executor {
	e := &Executor{
		table:      table,
		newBackOff: NewLinearBackOff(DefaultBackoffBase, true),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Table returns the table the executor runs against.
func (e *Executor) Table() *cell.Table {
	return e.table
}

// Execute runs text until an attempt commits, the text turns out to be malformed, or ctx is done between attempts.
// An attempt that has started always finishes, so cancellation never leaves a partial write. A backoff schedule that
// returns backoff.Stop also ends the run as canceled, with the last conflict as its error.
func (e *Executor) Execute(ctx context.Context, text string) *Result {
	start := time.Now()
	res := &Result{
		Text:  text,
		Owner: cell.NewOwner(),
	}

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		res.Attempts++
		writes, err := e.attempt(res.Owner, text)
		if err == nil {
			res.Writes = writes
			return nil
		}
		if perr, ok := errors.Cause(err).(*ParseError); ok {
			return backoff.Permanent(perr)
		}
		conflict, ok := cell.AsConflict(err)
		if !ok {
			// attempt only returns parse errors and conflicts.
			panic(errors.Annotatef(err, "unexpected error from transaction %q", text))
		}
		res.Conflicts++
		log.L().Debug("transaction conflict",
			zap.Uint64("owner", uint64(res.Owner)),
			zap.String("cell", cell.Name(conflict.Cell)),
			zap.Stringer("reason", conflict.Reason),
			zap.Int("attempt", res.Attempts))
		return conflict
	}
	notify := func(err error, wait time.Duration) {
		res.Backoff += wait
		reason := "unknown"
		if conflict, ok := cell.AsConflict(err); ok {
			reason = conflict.Reason.String()
		}
		metrics.ObserveConflict(reason, wait)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(e.newBackOff(), ctx), notify)
	switch perr, invalid := errors.Cause(err).(*ParseError); {
	case err == nil:
		res.Status = StatusCommitted
	case invalid:
		res.Status = StatusInvalid
		res.Err = perr
	default:
		res.Status = StatusCanceled
		res.Err = errors.Trace(err)
	}

	res.Duration = time.Since(start)
	metrics.ObserveTxn(res.Status.String(), res.Attempts, res.Duration)

	logger := log.With(zap.Uint64("owner", uint64(res.Owner)), zap.String("txn", text))
	switch res.Status {
	case StatusCommitted:
		logger.Debug("transaction committed", zap.Int("attempts", res.Attempts), zap.Duration("cost", res.Duration))
	case StatusInvalid:
		logger.Warn("invalid transaction", zap.Error(res.Err))
	case StatusCanceled:
		logger.Info("transaction canceled", zap.Int("attempts", res.Attempts), zap.Error(res.Err))
	}
	return res
}

// attempt makes one pass over text with a fresh cache.
func (e *Executor) attempt(owner cell.Owner, text string) (map[int]int, error) {
	cmds, err := ParseTransaction(text, e.table.Len())
	if err != nil {
		return nil, err
	}

	cache := NewCache(e.table, owner)
	for _, cmd := range cmds {
		cmd.Eval(cache)
	}
	injectDelay(fpStagedDelay)

	if err := cache.Open(); err != nil {
		return nil, err
	}

	injectDelay(fpCommitDelay)

	writes := cache.Writes()
	cache.Commit()
	return writes, nil
}

const (
	// fpStagedDelay pauses an attempt after staging, before any cell is opened.
	fpStagedDelay = "github.com/pingcap-incubator/tinyocc/occ/txn/stagedDelay"
	// fpCommitDelay pauses an attempt after every cell is opened and verified, before the writes.
	fpCommitDelay = "github.com/pingcap-incubator/tinyocc/occ/txn/commitDelay"
)

// injectDelay sleeps for the milliseconds a failpoint is enabled with, e.g. `return(50)`.
func injectDelay(fpname string) {
	if val, err := failpoint.Eval(fpname); err == nil {
		if ms, ok := val.(int); ok && ms > 0 {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
	}
}
