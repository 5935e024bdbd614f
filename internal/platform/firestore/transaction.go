package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	txDefaultAttempts = 5
	txDefaultTimeout  = 15 * time.Second
)

// TxFunc runs inside a Firestore transaction. Reads must precede writes, and
// the function can run more than once when the commit is contended.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

type txSettings struct {
	attempts int
	timeout  time.Duration
}

// TxOption adjusts retry and deadline behaviour for one transaction.
type TxOption func(*txSettings)

// WithTxAttempts caps commit retries at n.
func WithTxAttempts(n int) TxOption {
	return func(s *txSettings) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithTxTimeout bounds the whole transaction, retries included.
func WithTxTimeout(d time.Duration) TxOption {
	return func(s *txSettings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// RunTransaction commits fn atomically on client. The returned error carries
// repository semantics: an AlreadyExists raised inside fn surfaces as a
// conflict, an aborted commit after all retries likewise.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	settings := txSettings{attempts: txDefaultAttempts, timeout: txDefaultTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	txCtx, cancel := boundTxContext(ctx, settings.timeout)
	defer cancel()

	var txOpts []firestore.TransactionOption
	if settings.attempts > 0 {
		txOpts = append(txOpts, firestore.MaxAttempts(settings.attempts))
	}

	return WrapError("transaction", client.RunTransaction(txCtx, fn, txOpts...))
}

// boundTxContext caps the transaction deadline without loosening one the
// caller already set tighter.
func boundTxContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
