package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/historica-labs/historica-go/internal/domain"
)

// AuditAppender writes append-only audit events for artifact mutations.
type AuditAppender struct {
	db DB
}

func NewAuditAppender(db DB) *AuditAppender {
	if db == nil {
		return nil
	}
	return &AuditAppender{db: db}
}

func (a *AuditAppender) Append(ctx context.Context, event domain.AuditEvent) (int64, error) {
	if a == nil || a.db == nil {
		return 0, fmt.Errorf("audit appender not initialized")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}

	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	var requestID sql.NullString
	if v := strings.TrimSpace(event.RequestID); v != "" {
		requestID = sql.NullString{String: v, Valid: true}
	}
	var ip sql.NullString
	if v := strings.TrimSpace(event.IP.String()); v != "" && v != "<nil>" {
		ip = sql.NullString{String: v, Valid: true}
	}
	var userAgent sql.NullString
	if v := strings.TrimSpace(event.UserAgent); v != "" {
		userAgent = sql.NullString{String: v, Valid: true}
	}

	var id int64
	err = a.db.QueryRowContext(
		ctx,
		`INSERT INTO audit_events (
			occurred_at,
			actor,
			action,
			resource_type,
			resource_id,
			request_id,
			ip,
			user_agent,
			payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING event_id`,
		event.OccurredAt.UTC(),
		strings.TrimSpace(event.Actor),
		strings.TrimSpace(event.Action),
		strings.TrimSpace(event.ResourceType),
		strings.TrimSpace(event.ResourceID),
		requestID,
		ip,
		userAgent,
		payloadJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit event: %w", err)
	}
	return id, nil
}
