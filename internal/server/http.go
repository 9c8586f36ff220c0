package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/metorial/signal/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)

	mux.HandleFunc("PUT /v1/tenants", s.handleUpsertTenant)
	mux.HandleFunc("GET /v1/tenants/{tenant}", s.handleGetTenant)
	mux.HandleFunc("PUT /v1/tenants/{tenant}/senders", s.handleUpsertSender)
	mux.HandleFunc("GET /v1/tenants/{tenant}/senders/{sender}", s.handleGetSender)

	mux.HandleFunc("POST /v1/tenants/{tenant}/events", s.handleCreateEvent)
	mux.HandleFunc("GET /v1/tenants/{tenant}/events", s.handleListEvents)
	mux.HandleFunc("GET /v1/tenants/{tenant}/events/{id}", s.handleGetEvent)

	mux.HandleFunc("POST /v1/tenants/{tenant}/destinations", s.handleCreateDestination)
	mux.HandleFunc("GET /v1/tenants/{tenant}/destinations", s.handleListDestinations)
	mux.HandleFunc("GET /v1/tenants/{tenant}/destinations/{id}", s.handleGetDestination)
	mux.HandleFunc("PATCH /v1/tenants/{tenant}/destinations/{id}", s.handleUpdateDestination)
	mux.HandleFunc("DELETE /v1/tenants/{tenant}/destinations/{id}", s.handleDeleteDestination)

	mux.HandleFunc("GET /v1/tenants/{tenant}/intents", s.handleListIntents)
	mux.HandleFunc("GET /v1/tenants/{tenant}/intents/{id}", s.handleGetIntent)
	mux.HandleFunc("GET /v1/tenants/{tenant}/attempts", s.handleListAttempts)
	mux.HandleFunc("GET /v1/tenants/{tenant}/attempts/{id}", s.handleGetAttempt)

	mux.HandleFunc("GET /v1/tenants/{tenant}/notifications/stream", s.handleNotificationStream)

	return RecoveryMiddleware(s.logger, LoggingMiddleware(s.logger, AuthMiddleware(authToken, mux)))
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return inputError("invalid JSON body")
	}
	return nil
}

// listParam splits a comma-separated query parameter.
func listParam(r *http.Request, name string) []string {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// pageParams reads limit and cursor.
func pageParams(r *http.Request) (model.Page, error) {
	q := r.URL.Query()
	p := model.Page{Cursor: q.Get("cursor")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, inputError("limit must be a positive integer")
		}
		p.Limit = n
	}
	return p.Normalize(), nil
}

// nextCursor returns the cursor for the page after items, or "" when the
// page was not full.
func nextCursor[T any](items []*T, p model.Page, id func(*T) string) string {
	if len(items) < p.Limit || len(items) == 0 {
		return ""
	}
	return id(items[len(items)-1])
}

// writeList writes a page of items under key, never as null.
func writeList[T any](w http.ResponseWriter, key string, items []*T, p model.Page, id func(*T) string) {
	if items == nil {
		items = []*T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		key:           items,
		"next_cursor": nextCursor(items, p, id),
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
