package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/commerce/internal/platform/textutil"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	auditIDPrefix    = "aud_"
	defaultActorType = "unknown"
	maxMetadataKeys  = 32
)

type auditLogService struct {
	repo  repositories.AuditLogRepository
	clock func() time.Time
	newID func() string
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &auditLogService{
		repo:  deps.Repository,
		clock: func() time.Time { return clock().UTC().Truncate(time.Microsecond) },
		newID: idGen,
	}, nil
}

// Record appends a sanitised entry. It runs inside the caller's unit of work so a failed append
// aborts the state change it describes.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) error {
	action := sanitizeText(record.Action, 120)
	target := sanitizeText(record.TargetRef, 200)
	if action == "" || target == "" {
		return fmt.Errorf("%w: action and target are required", ErrAuditInvalidInput)
	}
	entry := AuditLogEntry{
		ID:         auditIDPrefix + s.newID(),
		Actor:      sanitizeText(record.Actor, 160),
		ActorType:  normalizeActorType(record.ActorType),
		Action:     action,
		TargetRef:  target,
		Metadata:   sanitizeMetadata(record.Metadata),
		RequestID:  sanitizeText(record.RequestID, 128),
		OccurredAt: s.clock(),
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		return fmt.Errorf("audit: append failed: %w", err)
	}
	return nil
}

func (s *auditLogService) ListByTarget(ctx context.Context, targetRef string) ([]AuditLogEntry, error) {
	targetRef = strings.TrimSpace(targetRef)
	if targetRef == "" {
		return nil, fmt.Errorf("%w: target is required", ErrAuditInvalidInput)
	}
	return s.repo.ListByTarget(ctx, targetRef)
}

func normalizeActorType(actorType string) string {
	switch normalized := strings.ToLower(strings.TrimSpace(actorType)); normalized {
	case "user", "admin", "staff", "system":
		return normalized
	default:
		return defaultActorType
	}
}

func sanitizeMetadata(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, min(len(values), maxMetadataKeys))
	for key, value := range values {
		key = sanitizeText(key, 80)
		if key == "" {
			continue
		}
		if len(out) >= maxMetadataKeys {
			break
		}
		if str, ok := value.(string); ok {
			value = sanitizeText(str, 512)
		}
		out[key] = value
	}
	return out
}

// sanitizeText drops control characters and truncates to limit runes.
func sanitizeText(input string, limit int) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
	}
	return textutil.Truncate(builder.String(), limit)
}

// auditTarget builds the target reference used for audit entries.
func auditTarget(kind, id string) string {
	return "/" + kind + "/" + id
}
