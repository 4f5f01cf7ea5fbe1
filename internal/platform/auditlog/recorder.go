package auditlog

import (
	"context"
	"log/slog"
	"net"
	"time"
)

const (
	ActionUnitRegister       = "unit.register"
	ActionUnitRegisterFailed = "unit.register_failed"
	ActionUnitRepair         = "unit.repair"

	resourceTypeUnit = "unit"
)

// Recorder persists audit events for directory-changing operations.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// DBRecorder writes events to the audit_events table.
type DBRecorder struct {
	DB      QueryRower
	Timeout time.Duration
}

func (r DBRecorder) Record(ctx context.Context, event Event) error {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 750 * time.Millisecond
	}
	auditCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := Insert(auditCtx, r.DB, event)
	return err
}

// LogRecorder emits events as structured log lines, for backends without an
// audit table.
type LogRecorder struct {
	Logger *slog.Logger
}

func (r LogRecorder) Record(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return err
	}
	r.Logger.InfoContext(ctx, "audit event",
		"action", event.Action,
		"actor", event.Actor,
		"resource_type", event.ResourceType,
		"resource_id", event.ResourceID,
		"request_id", event.RequestID,
		"ip", ipString(event.IP),
		"payload", event.Payload,
	)
	return nil
}

// UnitEvent builds an audit event about a unit.
func UnitEvent(action, unit, requestID, remoteAddr, userAgent string, payload map[string]any) Event {
	var ip net.IP
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		ip = net.ParseIP(host)
	}
	return Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        "anonymous",
		Action:       action,
		ResourceType: resourceTypeUnit,
		ResourceID:   unit,
		RequestID:    requestID,
		IP:           ip,
		UserAgent:    userAgent,
		Payload:      payload,
	}
}
