// Package txn runs a unit of work inside a MongoDB transaction and reports
// how it ended as an explicit Outcome.
//
// Usage:
//
//	runner := txn.New(db, log)
//	out := runner.Run(ctx, func(ctx context.Context) error {
//	    // every store call must use ctx so it joins the transaction
//	    return accounts.Update(ctx, acct)
//	})
//	switch out.Kind {
//	case txn.Conflicted:
//	    // safe to try again against fresh state
//	case txn.Failed:
//	    return out.Err
//	}
//
// The transaction is started and committed by hand rather than through
// Session.WithTransaction, whose built-in retry loop would swallow the very
// conflicts callers need to observe. Deployments without transaction support
// (standalone mongod, some DocumentDB setups) fall back to running the
// function directly.
package txn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dalemusser/stratabook/internal/app/store/storeutil"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// ErrConflict marks a write that lost an optimistic-concurrency race.
// Stores wrap it in their own sentinels; Run reports any error matching it
// as Conflicted.
var ErrConflict = errors.New("concurrent modification")

// Func is the function type for transaction operations.
// The function receives a context that may be a mongo.SessionContext (if in a
// transaction) or a regular context (if transactions are not supported).
type Func func(ctx context.Context) error

// Kind tells how a unit of work ended.
type Kind int

const (
	// Succeeded means every write was committed.
	Succeeded Kind = iota
	// Conflicted means the unit of work was rolled back because another
	// writer got there first. Repeating it against fresh state may succeed.
	Conflicted
	// Failed means the unit of work hit an error that repeating will not fix.
	Failed
)

func (k Kind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case Conflicted:
		return "conflicted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one unit of work. Err is nil only for Succeeded.
type Outcome struct {
	Kind Kind
	Err  error
}

// Runner executes units of work.
type Runner interface {
	Run(ctx context.Context, fn Func) Outcome
}

// Mongo is the MongoDB-backed Runner.
type Mongo struct {
	db  *mongo.Database
	log *zap.Logger

	// set once the server has told us it cannot run transactions
	unsupported atomic.Bool
	// operations already warned about running without a transaction
	nonAtomic sync.Map
}

// New returns a Runner bound to db. log may be nil.
func New(db *mongo.Database, log *zap.Logger) *Mongo {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mongo{db: db, log: log}
}

// Run executes fn inside a transaction and classifies the result.
func (m *Mongo) Run(ctx context.Context, fn Func) Outcome {
	if m.unsupported.Load() {
		return m.runDirect(ctx, fn)
	}

	session, err := m.db.Client().StartSession()
	if err != nil {
		m.log.Warn("failed to start session", zap.Error(err))
		return m.runDirect(ctx, fn)
	}
	defer session.EndSession(ctx)

	if err := session.StartTransaction(); err != nil {
		m.log.Warn("failed to start transaction", zap.Error(err))
		return m.runDirect(ctx, fn)
	}

	sc := mongo.NewSessionContext(ctx, session)
	if err := fn(sc); err != nil {
		_ = session.AbortTransaction(ctx)
		if !IsConflict(err) && !isConnection(err) && IsNotSupported(err) {
			return m.fallback(ctx, fn, err)
		}
		return Classify(err)
	}

	if err := commit(ctx, session, m.log); err != nil {
		if hasUnknownCommitResult(err) {
			// the commit may have been applied; running fn again could apply it twice
			return Outcome{Kind: Failed, Err: fmt.Errorf("%w: commit result unknown: %w", storeutil.ErrConnection, err)}
		}
		if !IsConflict(err) && !isConnection(err) && IsNotSupported(err) {
			return m.fallback(ctx, fn, err)
		}
		_ = session.AbortTransaction(ctx)
		return Classify(err)
	}

	return Outcome{Kind: Succeeded}
}

// commitRetries bounds how often a commit with an unknown result is resent.
// Resending the commit is safe; rerunning the unit of work is not.
const commitRetries = 2

type committer interface {
	CommitTransaction(ctx context.Context) error
}

func commit(ctx context.Context, c committer, log *zap.Logger) error {
	err := c.CommitTransaction(ctx)
	for i := 0; i < commitRetries && hasUnknownCommitResult(err); i++ {
		log.Warn("commit result unknown, resending commit",
			zap.Int("retry", i+1),
			zap.Error(err))
		err = c.CommitTransaction(ctx)
	}
	return err
}

func hasUnknownCommitResult(err error) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorLabel("UnknownTransactionCommitResult")
}

func (m *Mongo) fallback(ctx context.Context, fn Func, cause error) Outcome {
	if !m.unsupported.Swap(true) {
		m.log.Warn("transactions not supported, running without transaction",
			zap.Error(cause))
	}
	return m.runDirect(ctx, fn)
}

// runDirect runs fn without a transaction. The first time each named
// operation runs this way a warning records that its writes are no longer
// applied together: a failure part way through leaves the earlier writes.
func (m *Mongo) runDirect(ctx context.Context, fn Func) Outcome {
	op := OperationFrom(ctx)
	if _, seen := m.nonAtomic.LoadOrStore(op, struct{}{}); !seen {
		m.log.Warn("running without a transaction; multi-document writes are not atomic",
			zap.String("operation", op))
	}
	return Classify(fn(ctx))
}

type operationKey struct{}

// WithOperation names the unit of work run under ctx. The retry executor
// sets it so runner log lines can say which operation they concern.
func WithOperation(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

// OperationFrom returns the name set by WithOperation, or "unnamed".
func OperationFrom(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey{}).(string); ok && op != "" {
		return op
	}
	return "unnamed"
}

// Classify maps the error returned by a unit of work to an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Outcome{Kind: Succeeded}
	case IsConflict(err):
		return Outcome{Kind: Conflicted, Err: err}
	case isConnection(err) && !errors.Is(err, storeutil.ErrConnection):
		return Outcome{Kind: Failed, Err: fmt.Errorf("%w: %w", storeutil.ErrConnection, err)}
	default:
		return Outcome{Kind: Failed, Err: err}
	}
}

// IsConflict reports whether err means the unit of work lost a race and may
// be repeated:
//   - anything wrapping ErrConflict (stale version on a store write)
//   - server code 112 (WriteConflict)
//   - the TransientTransactionError label, unless the cause was the network
//
// An unknown commit result is never a conflict: the commit may have landed.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) {
		return true
	}
	if isConnection(err) {
		return false
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorCode(112) || se.HasErrorLabel("TransientTransactionError")
	}
	return false
}

func isConnection(err error) bool {
	return errors.Is(err, storeutil.ErrConnection) || mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}

// IsNotSupported checks if an error indicates that transactions are not supported.
// This detects:
//   - Standalone MongoDB without replica set
//   - DocumentDB with transactions disabled
//   - Other configurations that don't support multi-document transactions
//
// Known error codes:
//   - 20: "Transaction numbers are only allowed on a replica set member or mongos"
//   - 51: IllegalOperation
//   - 263: "Cannot run 'aggregate' in a multi-document transaction"
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case 20, 51, 263:
			return true
		}
	}

	// Check error message for transaction-related failures.
	// This catches both MongoDB and DocumentDB error variations.
	errStr := strings.ToLower(err.Error())
	transactionKeywords := []string{
		"transaction",
		"replica set",
		"session",
		"not supported",
		"illegal operation",
	}

	matchCount := 0
	for _, kw := range transactionKeywords {
		if strings.Contains(errStr, kw) {
			matchCount++
		}
	}

	// Require at least 2 keyword matches to avoid false positives
	return matchCount >= 2
}
