package auditlog

import (
	"context"
	"net"
	"strings"

	"github.com/animus-labs/stage-retry/internal/platform/auth"
)

// AuthDenyEvent converts a rejected request into an audit event.
func AuthDenyEvent(service string, event auth.DenyEvent) Event {
	actor := strings.TrimSpace(event.Subject)
	if actor == "" {
		actor = "anonymous"
	}

	var ip net.IP
	if host, _, err := net.SplitHostPort(event.RemoteAddr); err == nil {
		ip = net.ParseIP(host)
	}

	return Event{
		OccurredAt:   event.Time,
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           ip,
		UserAgent:    event.UserAgent,
		Payload: map[string]any{
			"service": service,
			"status":  event.Status,
			"reason":  event.Reason,
			"error":   event.Error,
			"email":   event.Email,
			"roles":   event.Roles,
		},
	}
}

func InsertAuthDeny(ctx context.Context, q QueryRower, service string, event auth.DenyEvent) error {
	_, err := Insert(ctx, q, AuthDenyEvent(service, event))
	return err
}
