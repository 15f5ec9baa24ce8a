package domain

import "time"

const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// HealthCheck describes the outcome of an individual dependency probe.
type HealthCheck struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency status for the readiness endpoint.
type HealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
