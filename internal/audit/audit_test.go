package audit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Dxstvn/realestatecrypto-sub008/internal/limiter"
)

func TestDenialHookEmitsDistinctEvents(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(slog.New(slog.NewJSONHandler(&buf, nil)))

	hook := rec.DenialHook("auth")
	req := httptest.NewRequest("GET", "/api/auth/login", nil)
	d := limiter.Decision{Identity: "auth:ip:203.0.113.5", Limit: 10, ObservedCount: 11}

	hook(req, d)
	hook(req, d)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 events, got %d", len(lines))
	}

	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}

	if first["msg"] != "request denied" {
		t.Errorf("unexpected message %v", first["msg"])
	}
	if first["policy"] != "auth" {
		t.Errorf("expected policy auth, got %v", first["policy"])
	}
	if first["identity"] != "auth:ip:203.0.113.5" {
		t.Errorf("unexpected identity %v", first["identity"])
	}
	if first["observed"] != float64(11) {
		t.Errorf("expected observed 11, got %v", first["observed"])
	}
	if first["path"] != "/api/auth/login" {
		t.Errorf("unexpected path %v", first["path"])
	}

	id1, _ := first["event_id"].(string)
	id2, _ := second["event_id"].(string)
	if id1 == "" || id2 == "" {
		t.Fatal("expected event ids on both events")
	}
	if id1 == id2 {
		t.Error("each denial must carry its own event id")
	}
}
