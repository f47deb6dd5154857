// Package auditlog appends tamper-evident records to the audit_events table.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

type Event struct {
	OccurredAt   time.Time
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	RequestID    string
	IP           net.IP
	UserAgent    string
	Payload      any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const insertEventQuery = `INSERT INTO audit_events (
	occurred_at, actor, action, resource_type, resource_id,
	request_id, ip, user_agent, payload, integrity_sha256
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING event_id`

func (e Event) Validate() error {
	var missing []string
	if e.OccurredAt.IsZero() {
		missing = append(missing, "OccurredAt")
	}
	if strings.TrimSpace(e.Actor) == "" {
		missing = append(missing, "Actor")
	}
	if strings.TrimSpace(e.Action) == "" {
		missing = append(missing, "Action")
	}
	if strings.TrimSpace(e.ResourceType) == "" {
		missing = append(missing, "ResourceType")
	}
	if strings.TrimSpace(e.ResourceID) == "" {
		missing = append(missing, "ResourceID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("audit event missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// record is the normalized column set written for one event.
type record struct {
	OccurredAt   time.Time       `json:"occurred_at"`
	Actor        string          `json:"actor"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	RequestID    string          `json:"request_id,omitempty"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"user_agent,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

func newRecord(event Event, payloadJSON []byte) record {
	ip := ""
	if event.IP != nil {
		ip = event.IP.String()
	}
	return record{
		OccurredAt:   event.OccurredAt.UTC(),
		Actor:        strings.TrimSpace(event.Actor),
		Action:       strings.TrimSpace(event.Action),
		ResourceType: strings.TrimSpace(event.ResourceType),
		ResourceID:   strings.TrimSpace(event.ResourceID),
		RequestID:    strings.TrimSpace(event.RequestID),
		IP:           ip,
		UserAgent:    strings.TrimSpace(event.UserAgent),
		Payload:      payloadJSON,
	}
}

func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
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

	rec := newRecord(event, payloadJSON)
	integrity, err := rec.integrity()
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRowContext(ctx, insertEventQuery,
		rec.OccurredAt,
		rec.Actor,
		rec.Action,
		rec.ResourceType,
		rec.ResourceID,
		nullString(rec.RequestID),
		nullString(rec.IP),
		nullString(rec.UserAgent),
		[]byte(rec.Payload),
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit event: %w", err)
	}
	return id, nil
}

// ComputeIntegritySHA256 hashes the normalized event so later edits to a row
// are detectable.
func ComputeIntegritySHA256(event Event, payloadJSON []byte) (string, error) {
	return newRecord(event, payloadJSON).integrity()
}

func (r record) integrity() (string, error) {
	blob, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

// Appender writes events through a fixed queryer, usually a transaction.
type Appender struct {
	DB QueryRower
}

func (a Appender) Append(ctx context.Context, event Event) error {
	_, err := Insert(ctx, a.DB, event)
	return err
}
