package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error implements repositories.RepositoryError for Firestore backed repositories.
type Error struct {
	op   string
	err  error
	kind errorKind
}

type errorKind int

const (
	kindOther errorKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

var codeKinds = map[codes.Code]errorKind{
	codes.NotFound:           kindNotFound,
	codes.AlreadyExists:      kindConflict,
	codes.FailedPrecondition: kindConflict,
	codes.Aborted:            kindConflict,
	codes.OutOfRange:         kindConflict,
	codes.Unavailable:        kindUnavailable,
	codes.ResourceExhausted:  kindUnavailable,
	codes.Internal:           kindUnavailable,
	codes.DeadlineExceeded:   kindUnavailable,
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing document.
func (e *Error) IsNotFound() bool { return e != nil && e.kind == kindNotFound }

// IsConflict reports whether the error represents a conflicting write, including
// create-only writes against an existing document.
func (e *Error) IsConflict() bool { return e != nil && e.kind == kindConflict }

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

// WrapError annotates Firestore errors with repository semantics. Context cancellations are passed through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}
	return &Error{op: op, err: err, kind: codeKinds[code]}
}
