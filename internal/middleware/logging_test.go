package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/mimitask/internal/auth"
)

func TestRequestLoggerLevels(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusForbidden, "level=WARN"},
		{http.StatusInternalServerError, "level=ERROR"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/docs/couples", nil))

		out := buf.String()
		if !strings.Contains(out, tt.level) {
			t.Errorf("status %d: log %q missing %q", tt.status, out, tt.level)
		}
		if !strings.Contains(out, "path=/v1/docs/couples") {
			t.Errorf("status %d: log %q missing path", tt.status, out)
		}
	}
}

func TestRequestLoggerRecordsUID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	issuer := auth.NewTokenIssuer("secret", time.Hour)
	token, _ := issuer.Issue("uid-9")

	inner := RequireToken(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	RequestLogger(logger)(inner).ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), "uid=uid-9") {
		t.Errorf("log %q missing uid", buf.String())
	}
}
