package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/objects"
)

type createEventInput struct {
	Sender              string          `json:"sender"`
	EventType           string          `json:"event_type"`
	Topics              []string        `json:"topics,omitempty"`
	Payload             json.RawMessage `json:"payload"`
	Headers             []model.Header  `json:"headers,omitempty"`
	OnlyForDestinations []string        `json:"only_for_destinations,omitempty"`
}

// handleCreateEvent handles POST /v1/tenants/{tenant}/events.
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	var in createEventInput
	if err := decodeBody(r, &in); err != nil {
		s.writeServiceError(w, err, "event")
		return
	}
	if in.Sender == "" {
		s.writeServiceError(w, inputError("sender is required"), "event")
		return
	}
	sender, err := s.delivery.Sender(r.Context(), tenant.ID, in.Sender)
	if err != nil {
		s.writeServiceError(w, err, "sender")
		return
	}

	event := &model.Event{
		TenantID:            tenant.ID,
		SenderID:            sender.ID,
		EventType:           in.EventType,
		Topics:              in.Topics,
		Headers:             in.Headers,
		OnlyForDestinations: in.OnlyForDestinations,
	}
	if len(in.Payload) > 0 {
		p, err := payloadText(in.Payload)
		if err != nil {
			s.writeServiceError(w, err, "event")
			return
		}
		event.Payload = &p
	}
	if err := s.delivery.SubmitEvent(r.Context(), event); err != nil {
		s.writeServiceError(w, err, "event")
		return
	}
	event.Sender = sender
	writeJSON(w, http.StatusCreated, event)
}

// payloadText returns the delivery body for a payload field. A JSON string
// is taken as the body itself; any other value is delivered as sent.
func payloadText(raw json.RawMessage) (string, error) {
	if raw[0] != '"' {
		return string(raw), nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", inputError("payload: " + err.Error())
	}
	return text, nil
}

// handleListEvents handles GET /v1/tenants/{tenant}/events. Payloads are
// omitted from listings.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	page, err := pageParams(r)
	if err != nil {
		s.writeServiceError(w, err, "events")
		return
	}
	filter := model.EventFilter{
		TenantID:   tenant.ID,
		EventTypes: listParam(r, "event_type"),
		Topics:     listParam(r, "topic"),
		Page:       page,
	}
	for _, ref := range listParam(r, "sender") {
		sender, err := s.delivery.Sender(r.Context(), tenant.ID, ref)
		if err != nil {
			s.writeServiceError(w, err, "sender")
			return
		}
		filter.SenderIDs = append(filter.SenderIDs, sender.ID)
	}

	list, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err, "events")
		return
	}
	for _, e := range list {
		e.Payload, e.Headers = nil, nil
	}
	writeList(w, "events", list, page, func(e *model.Event) string { return e.ID })
}

// handleGetEvent handles GET /v1/tenants/{tenant}/events/{id}. An offloaded
// payload is read back from object storage.
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	event, err := s.store.GetEvent(r.Context(), r.PathValue("id"))
	if err == nil && event.TenantID != tenant.ID {
		err = errNotInTenant
	}
	if err != nil {
		s.writeServiceError(w, err, "event")
		return
	}
	if err := s.loadOffloaded(r.Context(), event); err != nil {
		s.writeServiceError(w, err, "event payload")
		return
	}
	if sender, err := s.delivery.Sender(r.Context(), tenant.ID, event.SenderID); err == nil {
		event.Sender = sender
	}
	writeJSON(w, http.StatusOK, event)
}

// loadOffloaded fills in the payload of an offloaded event. A missing object
// leaves the payload empty.
func (s *Server) loadOffloaded(ctx context.Context, e *model.Event) error {
	if !e.PayloadOffloaded || e.Payload != nil {
		return nil
	}
	var data objects.EventData
	err := objects.GetJSON(ctx, s.objects, objects.EventKey(e.ID), &data)
	if errors.Is(err, objects.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	e.Payload, e.Headers = data.Body, data.Headers
	return nil
}
