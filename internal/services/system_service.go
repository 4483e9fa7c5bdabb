package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

// SystemService backs the readiness probe and the operator audit view.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	AuditTrail(ctx context.Context, targetRef string) ([]AuditLogEntry, error)
}

// BuildInfo is stamped onto health reports that do not carry their own metadata.
type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Audit            AuditLogService
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	probes repositories.HealthRepository
	audit  AuditLogService
	now    func() time.Time
	build  BuildInfo
}

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	svc := &systemService{probes: deps.HealthRepository, audit: deps.Audit, now: utcClock(deps.Clock), build: deps.Build}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

// utcClock keeps microsecond precision, the resolution TIMESTAMPTZ stores.
func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time { return clock().UTC().Truncate(time.Microsecond) }
}

// HealthReport runs the dependency probes and fills in build metadata, uptime and an
// overall status when the probes left them blank.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}
	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	if strings.TrimSpace(report.Version) == "" {
		report.Version = s.build.Version
	}
	if strings.TrimSpace(report.Environment) == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = deriveStatus(report.Checks)
	}
	return report, nil
}

func (s *systemService) AuditTrail(ctx context.Context, targetRef string) ([]AuditLogEntry, error) {
	if s.audit == nil {
		return nil, errors.New("system service: audit service not configured")
	}
	return s.audit.ListByTarget(ctx, targetRef)
}

// deriveStatus is "error" if any probe failed, "degraded" if any probe reported
// anything other than ok, and "ok" otherwise.
func deriveStatus(checks map[string]domain.SystemHealthCheck) string {
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
