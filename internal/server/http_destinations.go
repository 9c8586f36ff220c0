package server

import (
	"net/http"

	"github.com/metorial/signal/internal/delivery"
	"github.com/metorial/signal/internal/model"
)

type createDestinationInput struct {
	Sender string `json:"sender"`
	delivery.DestinationInput
}

// handleCreateDestination handles POST /v1/tenants/{tenant}/destinations.
func (s *Server) handleCreateDestination(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	var in createDestinationInput
	if err := decodeBody(r, &in); err != nil {
		s.writeServiceError(w, err, "destination")
		return
	}
	if in.Sender == "" {
		s.writeServiceError(w, inputError("sender is required"), "destination")
		return
	}
	sender, err := s.delivery.Sender(r.Context(), tenant.ID, in.Sender)
	if err != nil {
		s.writeServiceError(w, err, "sender")
		return
	}

	dest, err := s.delivery.CreateDestination(r.Context(), tenant.ID, sender.ID, in.DestinationInput)
	if err != nil {
		s.writeServiceError(w, err, "destination")
		return
	}
	writeJSON(w, http.StatusCreated, dest)
}

// handleListDestinations handles GET /v1/tenants/{tenant}/destinations.
func (s *Server) handleListDestinations(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	page, err := pageParams(r)
	if err != nil {
		s.writeServiceError(w, err, "destinations")
		return
	}
	list, err := s.store.ListDestinations(r.Context(), model.DestinationFilter{TenantID: tenant.ID, Page: page})
	if err != nil {
		s.writeServiceError(w, err, "destinations")
		return
	}
	writeList(w, "destinations", list, page, func(d *model.Destination) string { return d.ID })
}

// destination loads the {id} destination of the request's tenant.
func (s *Server) destination(w http.ResponseWriter, r *http.Request) (*model.Destination, bool) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return nil, false
	}
	dest, err := s.store.GetDestination(r.Context(), r.PathValue("id"))
	if err == nil && dest.TenantID != tenant.ID {
		err = errNotInTenant
	}
	if err != nil {
		s.writeServiceError(w, err, "destination")
		return nil, false
	}
	return dest, true
}

// handleGetDestination handles GET /v1/tenants/{tenant}/destinations/{id}.
func (s *Server) handleGetDestination(w http.ResponseWriter, r *http.Request) {
	dest, ok := s.destination(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, dest)
}

// handleUpdateDestination handles PATCH /v1/tenants/{tenant}/destinations/{id}.
func (s *Server) handleUpdateDestination(w http.ResponseWriter, r *http.Request) {
	dest, ok := s.destination(w, r)
	if !ok {
		return
	}
	var upd delivery.DestinationUpdate
	if err := decodeBody(r, &upd); err != nil {
		s.writeServiceError(w, err, "destination")
		return
	}
	updated, err := s.delivery.UpdateDestination(r.Context(), dest, upd)
	if err != nil {
		s.writeServiceError(w, err, "destination")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteDestination handles DELETE /v1/tenants/{tenant}/destinations/{id}.
func (s *Server) handleDeleteDestination(w http.ResponseWriter, r *http.Request) {
	dest, ok := s.destination(w, r)
	if !ok {
		return
	}
	if err := s.delivery.DeleteDestination(r.Context(), dest); err != nil {
		s.writeServiceError(w, err, "destination")
		return
	}
	deleted, err := s.store.GetDestination(r.Context(), dest.ID)
	if err != nil {
		s.writeServiceError(w, err, "destination")
		return
	}
	writeJSON(w, http.StatusOK, deleted)
}
