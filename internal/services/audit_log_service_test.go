package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

type captureAuditRepo struct {
	entries   []domain.AuditLogEntry
	appendErr error
}

func (c *captureAuditRepo) Append(_ context.Context, entry domain.AuditLogEntry) error {
	if c.appendErr != nil {
		return c.appendErr
	}
	c.entries = append(c.entries, entry)
	return nil
}

func (c *captureAuditRepo) ListByTarget(_ context.Context, targetRef string) ([]domain.AuditLogEntry, error) {
	var out []domain.AuditLogEntry
	for _, entry := range c.entries {
		if entry.TargetRef == targetRef {
			out = append(out, entry)
		}
	}
	return out, nil
}

func TestAuditLogServiceRecordSanitises(t *testing.T) {
	repo := &captureAuditRepo{}
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("JST", 9*3600))
	svc, err := NewAuditLogService(AuditLogServiceDeps{
		Repository:  repo,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01HX" },
	})
	if err != nil {
		t.Fatalf("new audit service: %v", err)
	}

	err = svc.Record(context.Background(), AuditLogRecord{
		Actor:     " admin-1\x00 ",
		ActorType: "ADMIN",
		Action:    "order.cancelled",
		TargetRef: "/orders/ord_1",
		Metadata: map[string]any{
			"reason": strings.Repeat("a", 600),
			"  ":     "dropped",
			"count":  2,
		},
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.ID != "aud_01HX" || entry.Actor != "admin-1" || entry.ActorType != "admin" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if !entry.OccurredAt.Equal(now) || entry.OccurredAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamp, got %v", entry.OccurredAt)
	}
	if len(entry.Metadata["reason"].(string)) != 512 {
		t.Fatalf("expected metadata string truncated to 512")
	}
	if _, ok := entry.Metadata[""]; ok {
		t.Fatalf("expected blank key dropped")
	}
	if entry.Metadata["count"] != 2 {
		t.Fatalf("expected non-string metadata preserved")
	}
}

func TestAuditLogServiceRecordErrors(t *testing.T) {
	repo := &captureAuditRepo{appendErr: errors.New("write failed")}
	svc, err := NewAuditLogService(AuditLogServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new audit service: %v", err)
	}
	if err := svc.Record(context.Background(), AuditLogRecord{TargetRef: "/orders/1"}); !errors.Is(err, ErrAuditInvalidInput) {
		t.Fatalf("expected invalid input without action, got %v", err)
	}
	if err := svc.Record(context.Background(), AuditLogRecord{Action: "x", TargetRef: "/orders/1"}); err == nil {
		t.Fatalf("expected append failure to propagate")
	}
	if got := normalizeActorType("robot"); got != defaultActorType {
		t.Fatalf("expected unknown actor type, got %q", got)
	}
}
