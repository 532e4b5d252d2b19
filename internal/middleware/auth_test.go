package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/mimitask/internal/auth"
)

func protected(t *testing.T, issuer *auth.TokenIssuer, got *auth.AuthContext) http.Handler {
	t.Helper()
	return RequireToken(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.FromContext(r.Context())
		if !ok {
			t.Fatal("expected AuthContext in request context")
		}
		*got = ac
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRequireTokenMissing(t *testing.T) {
	issuer := auth.NewTokenIssuer("secret", time.Hour)
	handler := RequireToken(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected error message in body")
	}
}

func TestRequireTokenInvalid(t *testing.T) {
	issuer := auth.NewTokenIssuer("secret", time.Hour)
	handler := RequireToken(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireTokenHeader(t *testing.T) {
	issuer := auth.NewTokenIssuer("secret", time.Hour)
	token, _ := issuer.Issue("uid-1")

	var got auth.AuthContext
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(ClientIDHeader, "device-1")
	rec := httptest.NewRecorder()
	protected(t, issuer, &got).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got.UID != "uid-1" {
		t.Errorf("UID = %q, want %q", got.UID, "uid-1")
	}
	if got.ClientID != "device-1" {
		t.Errorf("ClientID = %q, want %q", got.ClientID, "device-1")
	}
}

func TestRequireTokenQueryParam(t *testing.T) {
	issuer := auth.NewTokenIssuer("secret", time.Hour)
	token, _ := issuer.Issue("uid-2")

	var got auth.AuthContext
	req := httptest.NewRequest("GET", "/listen?access_token="+token+"&client_id=device-2", nil)
	rec := httptest.NewRecorder()
	protected(t, issuer, &got).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got.UID != "uid-2" || got.ClientID != "device-2" {
		t.Errorf("AuthContext = %+v", got)
	}
}
