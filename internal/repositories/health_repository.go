package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/bookporter/api/internal/domain"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// DependencyCheck describes a dependency probe executed during readiness checks.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// DependencyHealthOption customises the dependency-backed health repository.
type DependencyHealthOption func(*dependencyHealthRepository)

// WithDependencyTimeout overrides the timeout applied when a check omits its own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if timeout > 0 {
			repo.defaultTimeout = timeout
		}
	}
}

// WithDependencyClock injects a custom clock.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(repo *dependencyHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type dependencyHealthRepository struct {
	checks         []DependencyCheck
	defaultTimeout time.Duration
	now            func() time.Time
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

// NewDependencyHealthRepository constructs a HealthRepository that evaluates the provided check set.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" {
			return nil, errors.New("health repository: dependency check missing name")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health repository: dependency %s missing check function", check.Name)
		}
	}

	repo := &dependencyHealthRepository{
		checks:         append([]DependencyCheck(nil), checks...),
		defaultTimeout: defaultDependencyTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	if ctx == nil {
		return domain.HealthReport{}, errors.New("health repository: context is required")
	}

	var (
		mu      sync.Mutex
		group   errgroup.Group
		results = make(map[string]domain.HealthCheck, len(r.checks))
	)
	for _, check := range r.checks {
		check := check
		group.Go(func() error {
			result := r.probe(ctx, check)
			mu.Lock()
			results[check.Name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	status := domain.HealthStatusOK
	for _, result := range results {
		if result.Status == domain.HealthStatusError {
			status = domain.HealthStatusError
			break
		}
		if result.Status != domain.HealthStatusOK {
			status = domain.HealthStatusDegraded
		}
	}
	return domain.HealthReport{Status: status, Checks: results, GeneratedAt: r.now()}, nil
}

func (r *dependencyHealthRepository) probe(ctx context.Context, check DependencyCheck) domain.HealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := check.Check(checkCtx)
	end := r.now()
	if err == nil {
		err = checkCtx.Err()
	}

	result := domain.HealthCheck{Status: domain.HealthStatusOK, Detail: "ok", Latency: end.Sub(start), CheckedAt: end}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result.Status, result.Detail = domain.HealthStatusError, "timeout"
	case errors.Is(err, context.Canceled):
		result.Status, result.Detail = domain.HealthStatusError, "cancelled"
	default:
		result.Status, result.Detail = domain.HealthStatusDegraded, err.Error()
	}
	return result
}
