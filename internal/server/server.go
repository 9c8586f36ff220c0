// Package server exposes the management and ingestion API over HTTP.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/metorial/signal/internal/delivery"
	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/objects"
	"github.com/metorial/signal/internal/store"
)

// Server handles API requests. Reads go straight to the store; writes that
// start or change delivery go through the delivery service.
type Server struct {
	store    store.Store
	delivery *delivery.Service
	objects  objects.Store
	logger   *slog.Logger
	hub      *sseHub
}

// New returns a Server backed by the given store, delivery service and
// object store.
func New(s store.Store, svc *delivery.Service, obj objects.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    s,
		delivery: svc,
		objects:  obj,
		logger:   logger,
		hub:      newSSEHub(),
	}
}

// SetDelivery replaces the delivery service. A server that is itself the
// service's Publisher is created with a nil service and attached here.
func (s *Server) SetDelivery(svc *delivery.Service) {
	s.delivery = svc
}

// errNotInTenant hides resources of other tenants behind a 404.
var errNotInTenant = fmt.Errorf("resource belongs to another tenant: %w", store.ErrNotFound)

// inputError indicates invalid user input.
// Transport layers map this to 400.
type inputError string

func (e inputError) Error() string { return string(e) }

// writeServiceError maps store and delivery errors onto status codes. what
// names the resource for 404 and 500 messages.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, what string) {
	var (
		ie inputError
		ve *model.ValidationError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Error(), "fields": ve.Errors})
	case errors.As(err, &ie), errors.Is(err, delivery.ErrVariantTypeChange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, delivery.ErrDestinationInactive):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "resource", what, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to process "+what)
	}
}
