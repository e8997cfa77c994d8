package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkghttp "github.com/wakaruku/station-auth/pkg/http"
)

func TestSecureLogger_RedactsSensitiveQuery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := SecureLogger(logger, pkghttp.NewClientIPResolver(nil))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest("GET", "/api/auth/refresh?refresh_token=eyJhbGciOi", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if strings.Contains(buf.String(), "eyJhbGciOi") {
		t.Fatalf("token leaked into log: %s", buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["path"] != "/api/auth/refresh?[REDACTED]" {
		t.Errorf("path: got %v", entry["path"])
	}
	if entry["status"] != float64(http.StatusCreated) {
		t.Errorf("status: got %v", entry["status"])
	}
	if entry["ip"] != "10.1.2.3" {
		t.Errorf("ip: got %v", entry["ip"])
	}
}

func TestSecureLogger_KeepsHarmlessQuery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := SecureLogger(logger, pkghttp.NewClientIPResolver(nil))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/admin/security-log?limit=10", nil))

	if !strings.Contains(buf.String(), "/api/admin/security-log?limit=10") {
		t.Errorf("expected query to be logged: %s", buf.String())
	}
}
