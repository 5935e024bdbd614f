package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errKind int

const (
	kindUnknown errKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// Error carries the categorisation the service layer switches on. It
// implements repositories.RepositoryError.
type Error struct {
	scope string
	kind  errKind
	cause error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.scope != "" {
		return fmt.Sprintf("%s: %v", e.scope, e.cause)
	}
	return e.cause.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// IsNotFound reports whether the document does not exist.
func (e *Error) IsNotFound() bool {
	return e != nil && e.kind == kindNotFound
}

// IsConflict reports whether the write lost to a concurrent one. Create on
// an existing document and aborted transactions both land here.
func (e *Error) IsConflict() bool {
	return e != nil && e.kind == kindConflict
}

// IsUnavailable reports a transient backend failure worth retrying.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.kind == kindUnavailable
}

func classify(code codes.Code) errKind {
	switch code {
	case codes.NotFound:
		return kindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return kindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return kindUnavailable
	}
	return kindUnknown
}

// WrapError translates a Firestore failure into an Error scoped to the given
// operation. Context cancellation passes through untouched so callers keep
// their errors.Is checks.
func WrapError(scope string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var wrapped *Error
	if errors.As(err, &wrapped) {
		if scope != "" && wrapped.scope == "" {
			wrapped.scope = scope
		}
		return wrapped
	}

	return &Error{scope: scope, kind: classify(status.Code(err)), cause: err}
}
