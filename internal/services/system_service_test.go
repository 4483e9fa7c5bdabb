package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestSystemServiceHealthReportEnrichesMetadata(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{
			"postgres": {Status: domain.HealthStatusOK},
			"pubsub":   {Status: domain.HealthStatusDegraded},
		},
	}}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "1.4.0", Environment: "staging", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %q", report.Status)
	}
	if report.Version != "1.4.0" || report.Environment != "staging" {
		t.Fatalf("expected build metadata, got %+v", report)
	}
	if report.Uptime != 5*time.Minute || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected timing %v / %v", report.Uptime, report.GeneratedAt)
	}
}

func TestSystemServiceHealthReportPropagatesError(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: errors.New("down")}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := svc.AuditTrail(context.Background(), "/orders/1"); err == nil {
		t.Fatalf("expected error without audit service")
	}
}

func TestDeriveStatus(t *testing.T) {
	if got := deriveStatus(nil); got != domain.HealthStatusOK {
		t.Fatalf("expected ok for no checks, got %q", got)
	}
	checks := map[string]domain.SystemHealthCheck{
		"a": {Status: domain.HealthStatusDegraded},
		"b": {Status: domain.HealthStatusError},
	}
	if got := deriveStatus(checks); got != domain.HealthStatusError {
		t.Fatalf("expected error to dominate, got %q", got)
	}
}
