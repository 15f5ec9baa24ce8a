package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bookporter/api/internal/repositories"
)

// ErrRepositoryUnavailable marks transient storage failures. Callers may retry.
var ErrRepositoryUnavailable = errors.New("repository unavailable")

type logFunc = func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

func loggerOrNoop(logger logFunc) logFunc {
	if logger == nil {
		return noopLogger
	}
	return logger
}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time { return clock().UTC() }
}

func idGeneratorOrDefault(gen func() string) func() string {
	if gen != nil {
		return gen
	}
	return func() string { return ulid.Make().String() }
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func unitOfWorkOrNoop(unit repositories.UnitOfWork) repositories.UnitOfWork {
	if unit == nil {
		return noopUnitOfWork{}
	}
	return unit
}

// classifyRepositoryError translates repository categories into service sentinels. Errors
// that already carry a service sentinel pass through untouched.
func classifyRepositoryError(err error, notFound, conflict error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) {
		return err
	}
	switch {
	case repoErr.IsNotFound() && notFound != nil:
		return fmt.Errorf("%w: %v", notFound, err)
	case repoErr.IsConflict() && conflict != nil:
		return fmt.Errorf("%w: %v", conflict, err)
	case repoErr.IsUnavailable():
		return fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
	}
	return err
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepositoryConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
