package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/dukerupert/mimitask/internal/auth"
	"github.com/dukerupert/mimitask/internal/docstore"
	"github.com/dukerupert/mimitask/internal/handler"
	"github.com/dukerupert/mimitask/internal/middleware"
	ws "github.com/dukerupert/mimitask/internal/websocket"
)

// SignInLimit is the number of anonymous sign ins allowed per IP per
// minute.
const SignInLimit = 10

type Server struct {
	hub         *ws.Hub
	authH       *handler.AuthHandler
	docH        *handler.DocHandler
	tokens      *auth.TokenIssuer
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(backend docstore.Backend, tokens *auth.TokenIssuer, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))
	return &Server{
		hub:         hub,
		authH:       handler.NewAuthHandler(tokens, logger.With("component", "auth")),
		docH:        handler.NewDocHandler(backend, hub, logger.With("component", "docs")),
		tokens:      tokens,
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middleware.RequestLogger(s.logger.With("component", "http")))
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", s.healthHandler)

	r.Route("/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(s.rateLimiter, middleware.RealIP, SignInLimit, time.Minute)).
			Post("/auth/anonymous", s.authH.Anonymous)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireToken(s.tokens))
			r.Get("/docs/*", s.docH.Get)
			r.Post("/commit", s.docH.Commit)
			r.Get("/listen", s.docH.Listen)
		})
	})
	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"listeners": s.hub.ClientCount(),
	})
}
