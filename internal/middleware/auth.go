package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dukerupert/mimitask/internal/auth"
)

// ClientIDHeader names the device that issued a request. Listeners use it
// to recognise echoes of their own writes.
const ClientIDHeader = "X-Client-Id"

// TokenValidator resolves a bearer token to a uid.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// RequireToken validates the bearer token and populates AuthContext.
// Browsers cannot set headers on WebSocket upgrades, so the token may also
// arrive as the access_token query parameter.
func RequireToken(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				RespondError(w, "missing authorization token", http.StatusUnauthorized)
				return
			}
			uid, err := tokens.Validate(token)
			if err != nil {
				RespondError(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			reportUID(r.Context(), uid)

			clientID := r.Header.Get(ClientIDHeader)
			if clientID == "" {
				clientID = r.URL.Query().Get("client_id")
			}
			ctx := auth.WithAuth(r.Context(), auth.AuthContext{UID: uid, ClientID: clientID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}

// RespondError writes {"error": message} with the given status.
func RespondError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
