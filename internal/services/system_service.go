package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/bookporter/api/internal/domain"
	"github.com/bookporter/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	healthRepo repositories.HealthRepository
	clock      func() time.Time
	build      BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind the readiness endpoint.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := utcClock(deps.Clock)
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{healthRepo: deps.HealthRepository, clock: clock, build: build}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (HealthReport, error) {
	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return HealthReport{}, err
	}

	now := s.clock()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.Version = firstNonEmpty(report.Version, s.build.Version)
	report.CommitSHA = firstNonEmpty(report.CommitSHA, s.build.CommitSHA)
	report.Environment = firstNonEmpty(report.Environment, s.build.Environment)
	if report.Uptime <= 0 && !s.build.StartedAt.IsZero() {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.HealthCheck{}
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = deriveStatus(report.Checks)
	}
	return report, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func deriveStatus(checks map[string]domain.HealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
