package auditlog

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"
)

func TestComputeIntegritySHA256_Deterministic(t *testing.T) {
	event := Event{
		OccurredAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Actor:        "anonymous",
		Action:       ActionUnitRegister,
		ResourceType: "unit",
		ResourceID:   "hello-1",
		IP:           net.ParseIP("10.0.0.1"),
	}
	payload := []byte(`{"deployment_id":"dep-1"}`)

	a, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b || len(a) != 64 {
		t.Fatalf("hash mismatch or bad length: %q vs %q", a, b)
	}

	event.ResourceID = "hello-2"
	c, err := ComputeIntegritySHA256(event, payload)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if c == a {
		t.Fatalf("expected different hash for different resource")
	}
}

func TestEventValidate(t *testing.T) {
	event := UnitEvent(ActionUnitRegister, "hello-1", "rid-1", "192.0.2.10:5555", "curl/8", nil)
	if err := event.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	if got := event.IP.String(); got != "192.0.2.10" {
		t.Fatalf("IP=%q, want 192.0.2.10", got)
	}
	event.ResourceID = " "
	if err := event.Validate(); err == nil {
		t.Fatalf("Validate() expected error for blank resource id")
	}
}

func TestInsert_RequiresQueryer(t *testing.T) {
	if _, err := Insert(context.Background(), nil, Event{}); err == nil {
		t.Fatalf("Insert() expected error without queryer")
	}
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec := LogRecorder{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	event := UnitEvent(ActionUnitRepair, "hello-1", "rid-1", "", "", map[string]any{"deployment_id": "dep-1"})
	if err := rec.Record(context.Background(), event); err != nil {
		t.Fatalf("Record() err=%v", err)
	}
	if !strings.Contains(buf.String(), `"action":"unit.repair"`) {
		t.Fatalf("expected action in log line: %s", buf.String())
	}
}
