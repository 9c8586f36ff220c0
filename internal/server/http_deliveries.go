package server

import (
	"errors"
	"net/http"

	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/objects"
)

// handleListIntents handles GET /v1/tenants/{tenant}/intents.
func (s *Server) handleListIntents(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	page, err := pageParams(r)
	if err != nil {
		s.writeServiceError(w, err, "intents")
		return
	}
	filter := model.IntentFilter{
		TenantID:       tenant.ID,
		EventIDs:       listParam(r, "event"),
		DestinationIDs: listParam(r, "destination"),
		Page:           page,
	}
	for _, v := range listParam(r, "status") {
		st := model.IntentStatus(v)
		if !st.IsValid() {
			s.writeServiceError(w, inputError("invalid intent status "+v), "intents")
			return
		}
		filter.Status = append(filter.Status, st)
	}

	list, err := s.store.ListIntents(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err, "intents")
		return
	}
	writeList(w, "intents", list, page, func(i *model.Intent) string { return i.ID })
}

// handleGetIntent handles GET /v1/tenants/{tenant}/intents/{id}.
func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	intent, err := s.store.GetIntent(r.Context(), r.PathValue("id"))
	if err == nil && intent.TenantID != tenant.ID {
		err = errNotInTenant
	}
	if err != nil {
		s.writeServiceError(w, err, "intent")
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

// handleListAttempts handles GET /v1/tenants/{tenant}/attempts.
func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	page, err := pageParams(r)
	if err != nil {
		s.writeServiceError(w, err, "attempts")
		return
	}
	filter := model.AttemptFilter{
		TenantID:       tenant.ID,
		EventIDs:       listParam(r, "event"),
		IntentIDs:      listParam(r, "intent"),
		DestinationIDs: listParam(r, "destination"),
		Page:           page,
	}
	for _, v := range listParam(r, "status") {
		st := model.AttemptStatus(v)
		if st != model.AttemptSucceeded && st != model.AttemptFailed {
			s.writeServiceError(w, inputError("invalid attempt status "+v), "attempts")
			return
		}
		filter.Status = append(filter.Status, st)
	}

	list, err := s.store.ListAttempts(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err, "attempts")
		return
	}
	writeList(w, "attempts", list, page, func(a *model.Attempt) string { return a.ID })
}

// attemptDetail is an attempt together with the stored response.
type attemptDetail struct {
	*model.Attempt
	Response *objects.AttemptData `json:"response,omitempty"`
}

// handleGetAttempt handles GET /v1/tenants/{tenant}/attempts/{id}.
func (s *Server) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	attempt, err := s.store.GetAttempt(r.Context(), r.PathValue("id"))
	if err == nil && attempt.TenantID != tenant.ID {
		err = errNotInTenant
	}
	if err != nil {
		s.writeServiceError(w, err, "attempt")
		return
	}

	out := attemptDetail{Attempt: attempt}
	var data objects.AttemptData
	err = objects.GetJSON(r.Context(), s.objects, objects.AttemptKey(attempt.ID), &data)
	switch {
	case err == nil:
		out.Response = &data
	case !errors.Is(err, objects.ErrNotFound):
		s.writeServiceError(w, err, "attempt response")
		return
	}
	writeJSON(w, http.StatusOK, out)
}
