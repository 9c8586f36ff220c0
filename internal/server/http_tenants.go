package server

import (
	"net/http"
	"strings"

	"github.com/metorial/signal/internal/idgen"
	"github.com/metorial/signal/internal/model"
)

type upsertInput struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

func (in upsertInput) validate() error {
	if strings.TrimSpace(in.Identifier) == "" {
		return inputError("identifier is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return inputError("name is required")
	}
	if len([]rune(in.Name)) > model.MaxNameLength {
		return inputError("name is too long")
	}
	return nil
}

// handleUpsertTenant handles PUT /v1/tenants.
func (s *Server) handleUpsertTenant(w http.ResponseWriter, r *http.Request) {
	var in upsertInput
	if err := decodeBody(r, &in); err != nil {
		s.writeServiceError(w, err, "tenant")
		return
	}
	if err := in.validate(); err != nil {
		s.writeServiceError(w, err, "tenant")
		return
	}

	id, err := idgen.GenerateWithPrefix(idgen.PrefixTenant)
	if err != nil {
		s.writeServiceError(w, err, "tenant")
		return
	}
	tenant := &model.Tenant{ID: id, Identifier: in.Identifier, Name: in.Name}
	if err := s.store.UpsertTenant(r.Context(), tenant); err != nil {
		s.writeServiceError(w, err, "tenant")
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// handleGetTenant handles GET /v1/tenants/{tenant}.
func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// tenant resolves the {tenant} path value by id or identifier. On failure
// the response has been written and ok is false.
func (s *Server) tenant(w http.ResponseWriter, r *http.Request) (*model.Tenant, bool) {
	tenant, err := s.store.GetTenant(r.Context(), r.PathValue("tenant"))
	if err != nil {
		s.writeServiceError(w, err, "tenant")
		return nil, false
	}
	return tenant, true
}

// handleUpsertSender handles PUT /v1/tenants/{tenant}/senders.
func (s *Server) handleUpsertSender(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	var in upsertInput
	if err := decodeBody(r, &in); err != nil {
		s.writeServiceError(w, err, "sender")
		return
	}
	if err := in.validate(); err != nil {
		s.writeServiceError(w, err, "sender")
		return
	}

	sender := &model.Sender{TenantID: tenant.ID, Identifier: in.Identifier, Name: in.Name}
	if err := s.delivery.UpsertSender(r.Context(), sender); err != nil {
		s.writeServiceError(w, err, "sender")
		return
	}
	writeJSON(w, http.StatusOK, sender)
}

// handleGetSender handles GET /v1/tenants/{tenant}/senders/{sender}.
func (s *Server) handleGetSender(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	sender, err := s.store.GetSender(r.Context(), tenant.ID, r.PathValue("sender"))
	if err != nil {
		s.writeServiceError(w, err, "sender")
		return
	}
	writeJSON(w, http.StatusOK, sender)
}
