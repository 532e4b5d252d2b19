package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dukerupert/mimitask/internal/auth"
	"github.com/dukerupert/mimitask/internal/docstore"
	"github.com/dukerupert/mimitask/internal/websocket"
)

// MaxBatchWrites caps the writes accepted in one commit.
const MaxBatchWrites = 500

type DocHandler struct {
	backend docstore.Backend
	access  *Access
	hub     *websocket.Hub
	logger  *slog.Logger
}

func NewDocHandler(backend docstore.Backend, hub *websocket.Hub, logger *slog.Logger) *DocHandler {
	return &DocHandler{
		backend: backend,
		access:  NewAccess(backend),
		hub:     hub,
		logger:  logger,
	}
}

type listResponse struct {
	Documents []docstore.Document `json:"documents"`
}

type commitRequest struct {
	Writes []docstore.Write `json:"writes"`
}

type commitResponse struct {
	Changes []docstore.Change `json:"changes"`
}

func (h *DocHandler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.logger.Error(op, "error", err)
	}
	writeError(w, status, err.Error())
}

// Get returns a document, or {"documents": [...]} for a collection path.
func (h *DocHandler) Get(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(chi.URLParam(r, "*"), "/")
	uid := auth.UID(r.Context())

	if err := h.access.CanRead(r.Context(), uid, path); err != nil {
		h.fail(w, "read", err)
		return
	}

	if docstore.IsCollection(path) {
		docs, err := h.backend.List(r.Context(), path)
		if err != nil {
			h.fail(w, "list", err)
			return
		}
		if docs == nil {
			docs = []docstore.Document{}
		}
		writeJSON(w, http.StatusOK, listResponse{Documents: docs})
		return
	}

	doc, err := h.backend.Get(r.Context(), path)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Commit applies a batch of writes atomically and fans the resulting
// changes out to listeners, tagged with the caller's client id.
func (h *DocHandler) Commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Writes) == 0 {
		writeError(w, http.StatusBadRequest, "no writes")
		return
	}
	if len(req.Writes) > MaxBatchWrites {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d writes per commit", MaxBatchWrites))
		return
	}

	ac, _ := auth.FromContext(r.Context())
	for _, wr := range req.Writes {
		if err := h.access.CanWrite(r.Context(), ac.UID, wr); err != nil {
			h.fail(w, "authorize write", err)
			return
		}
	}

	changes, err := h.backend.Commit(r.Context(), req.Writes)
	if err != nil {
		h.fail(w, "commit", err)
		return
	}
	h.hub.Publish(ac.ClientID, changes)
	for _, ch := range changes {
		if ch.Kind == docstore.ChangeRemoved && !strings.Contains(strings.TrimPrefix(ch.Doc.Path, "couples/"), "/") {
			h.hub.Fail(ch.Doc.Path, websocket.StatusPermissionDenied, "couple removed")
		}
	}
	writeJSON(w, http.StatusOK, commitResponse{Changes: changes})
}

// Listen upgrades to a WebSocket that receives change events for the path
// given in the query string.
func (h *DocHandler) Listen(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Query().Get("path"), "/")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := h.access.CanRead(r.Context(), auth.UID(r.Context()), path); err != nil {
		h.fail(w, "listen", err)
		return
	}
	websocket.Serve(w, r, h.hub, path, h.logger)
}
