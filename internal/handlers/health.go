package handlers

import (
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	domain "github.com/bookporter/api/internal/domain"
	"github.com/bookporter/api/internal/platform/httpx"
	"github.com/bookporter/api/internal/platform/requestctx"
	"github.com/bookporter/api/internal/services"
)

// HealthHandlers serves /healthz (process liveness) and /readyz (dependency readiness).
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

// Healthz never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	httpx.WriteJSON(w, http.StatusOK, healthResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      uptimeSeconds(now.Sub(h.build.StartedAt)),
		GeneratedAt: formatTime(now),
	})
}

// Readyz reports 503 only when a dependency check is in error; degraded still serves traffic.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		h.Healthz(w, r)
		return
	}
	report, err := h.system.HealthReport(ctx)
	if err != nil {
		requestctx.Logger(ctx).Error("readiness report failed", zap.Error(err))
		writeUnavailable(ctx, w, "readiness report")
		return
	}

	resp := healthResponse{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		Uptime:      uptimeSeconds(report.Uptime),
		GeneratedAt: formatTime(report.GeneratedAt),
		Checks:      make([]healthCheckResponse, 0, len(report.Checks)),
	}
	for name, check := range report.Checks {
		resp.Checks = append(resp.Checks, healthCheckResponse{
			Name:      name,
			Status:    check.Status,
			Detail:    check.Detail,
			LatencyMS: check.Latency.Milliseconds(),
			CheckedAt: formatTime(check.CheckedAt),
		})
	}
	sort.Slice(resp.Checks, func(i, j int) bool { return resp.Checks[i].Name < resp.Checks[j].Name })

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, resp)
}

type healthResponse struct {
	Status      string                `json:"status"`
	Version     string                `json:"version,omitempty"`
	CommitSHA   string                `json:"commit_sha,omitempty"`
	Environment string                `json:"environment,omitempty"`
	Uptime      int64                 `json:"uptime_seconds"`
	GeneratedAt string                `json:"generated_at"`
	Checks      []healthCheckResponse `json:"checks,omitempty"`
}

type healthCheckResponse struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	CheckedAt string `json:"checked_at,omitempty"`
}

func uptimeSeconds(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
