package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return line
}

func TestWithContextAttachesRequestFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("production", &buf)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, TenantIDKey, "tenant-1")
	log.WithContext(ctx).Info("lead captured")

	line := decodeLine(t, &buf)
	if line["request_id"] != "req-1" || line["tenant_id"] != "tenant-1" {
		t.Fatalf("expected request and tenant ids, got %v", line)
	}
	if _, ok := line["user_id"]; ok {
		t.Fatalf("expected no user_id field, got %v", line["user_id"])
	}
}

func TestWithContextWithoutFieldsReturnsSameLogger(t *testing.T) {
	log := NewWithWriter("production", &bytes.Buffer{})
	if got := log.WithContext(context.Background()); got != log {
		t.Fatal("expected the same logger for an empty context")
	}
}

func TestHTTPRequestLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("production", &buf)

	log.HTTPRequest("GET", "/api/health", 200, 1500*time.Microsecond, "127.0.0.1", nil)
	line := decodeLine(t, &buf)
	if line["level"] != "INFO" || line["msg"] != "http_request" || line["latency_ms"] != 1.5 {
		t.Fatalf("unexpected request line: %v", line)
	}

	buf.Reset()
	log.HTTPRequest("POST", "/api/v1/funnel/sweep", 500, time.Millisecond, "127.0.0.1", errors.New("boom"))
	line = decodeLine(t, &buf)
	if line["level"] != "ERROR" || line["error"] != "boom" {
		t.Fatalf("unexpected error line: %v", line)
	}
}
