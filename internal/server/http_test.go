package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/metorial/signal/internal/model"
)

type eventList struct {
	Events     []*model.Event `json:"events"`
	NextCursor string         `json:"next_cursor"`
}

func TestHandleHealth(t *testing.T) {
	env := newTestServer(t)
	rec := doJSON(t, env.handler, http.MethodGet, "/v1/health", nil)
	requireStatus(t, rec, http.StatusOK)

	var resp map[string]string
	decodeJSON(t, rec, &resp)
	if resp["status"] != "ok" {
		t.Fatalf("expected status=ok, got %v", resp)
	}
}

func TestHandleHTTPErrors(t *testing.T) {
	env := newTestServer(t)
	env.seed(t)

	for _, tc := range []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"UnknownTenant", http.MethodGet, "/v1/tenants/nope", nil, http.StatusNotFound},
		{"TenantMissingName", http.MethodPut, "/v1/tenants", map[string]string{"identifier": "x"}, http.StatusBadRequest},
		{"UnknownSender", http.MethodGet, "/v1/tenants/acme/senders/nope", nil, http.StatusNotFound},
		{"EventWithoutSender", http.MethodPost, "/v1/tenants/acme/events", map[string]any{"event_type": "a", "payload": map[string]int{"id": 1}}, http.StatusBadRequest},
		{"EventUnknownSender", http.MethodPost, "/v1/tenants/acme/events", map[string]any{"sender": "nope", "event_type": "a", "payload": 1}, http.StatusNotFound},
		{"EventMissingPayload", http.MethodPost, "/v1/tenants/acme/events", map[string]any{"sender": "billing", "event_type": "a"}, http.StatusBadRequest},
		{"EventNotFound", http.MethodGet, "/v1/tenants/acme/events/sev_missing", nil, http.StatusNotFound},
		{"BadLimit", http.MethodGet, "/v1/tenants/acme/events?limit=zero", nil, http.StatusBadRequest},
		{"DestinationNotFound", http.MethodGet, "/v1/tenants/acme/destinations/sed_missing", nil, http.StatusNotFound},
		{"BadIntentStatus", http.MethodGet, "/v1/tenants/acme/intents?status=lost", nil, http.StatusBadRequest},
		{"BadAttemptStatus", http.MethodGet, "/v1/tenants/acme/attempts?status=lost", nil, http.StatusBadRequest},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, env.handler, tc.method, tc.path, tc.body)
			requireStatus(t, rec, tc.want)
		})
	}

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/v1/tenants", strings.NewReader("{"))
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		requireStatus(t, rec, http.StatusBadRequest)
	})
}

func TestHandleUpsertTenant_KeepsID(t *testing.T) {
	env := newTestServer(t)
	tenant, _ := env.seed(t)

	rec := doJSON(t, env.handler, http.MethodPut, "/v1/tenants", map[string]string{"identifier": "acme", "name": "Acme Corp"})
	requireStatus(t, rec, http.StatusOK)
	var again model.Tenant
	decodeJSON(t, rec, &again)
	if again.ID != tenant.ID || again.Name != "Acme Corp" {
		t.Errorf("upsert = %s %q, want %s renamed", again.ID, again.Name, tenant.ID)
	}

	rec = doJSON(t, env.handler, http.MethodGet, "/v1/tenants/"+tenant.ID, nil)
	requireStatus(t, rec, http.StatusOK)
	var byID model.Tenant
	decodeJSON(t, rec, &byID)
	if byID.Identifier != "acme" {
		t.Errorf("get by id = %+v", byID)
	}
}

func TestHandleCreateEvent(t *testing.T) {
	env := newTestServer(t)
	_, sender := env.seed(t)

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/tenants/acme/events", map[string]any{
		"sender":     "billing",
		"event_type": "invoice.paid",
		"topics":     []string{"invoices"},
		"payload":    map[string]int{"id": 7},
		"headers":    []model.Header{{Key: "X-Trace", Value: "abc"}},
	})
	requireStatus(t, rec, http.StatusCreated)

	var event model.Event
	decodeJSON(t, rec, &event)
	if !strings.HasPrefix(event.ID, "sev_") || event.SenderID != sender.ID {
		t.Errorf("event = %s from %s", event.ID, event.SenderID)
	}
	if event.Payload == nil || *event.Payload != `{"id":7}` {
		t.Errorf("payload = %v", event.Payload)
	}
	if event.Status != model.EventPending || event.DestinationCount != model.UnresolvedDestinationCount {
		t.Errorf("event = %s with count %d", event.Status, event.DestinationCount)
	}
	if event.Sender == nil || event.Sender.Identifier != "billing" {
		t.Errorf("sender not embedded: %+v", event.Sender)
	}
}

func TestHandleCreateEvent_PayloadText(t *testing.T) {
	env := newTestServer(t)
	env.seed(t)

	for _, tc := range []struct {
		name    string
		payload any
		want    string
	}{
		{"Object", map[string]int{"id": 7}, `{"id":7}`},
		{"EncodedJSON", `{"id":7}`, `{"id":7}`},
		{"PlainText", "not json at all", "not json at all"},
		{"Number", 42, "42"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, env.handler, http.MethodPost, "/v1/tenants/acme/events", map[string]any{
				"sender": "billing", "event_type": "a", "payload": tc.payload,
			})
			requireStatus(t, rec, http.StatusCreated)
			var event model.Event
			decodeJSON(t, rec, &event)
			if event.Payload == nil || *event.Payload != tc.want {
				t.Errorf("payload = %v, want %q", event.Payload, tc.want)
			}
		})
	}
}

func TestHandleCreateEvent_ValidationFields(t *testing.T) {
	env := newTestServer(t)
	env.seed(t)

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/tenants/acme/events", map[string]any{
		"sender":  "billing",
		"payload": 1,
	})
	requireStatus(t, rec, http.StatusBadRequest)

	var resp struct {
		Error  string             `json:"error"`
		Fields []model.FieldError `json:"fields"`
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Fields) != 1 || resp.Fields[0].Field != "event_type" {
		t.Errorf("fields = %+v", resp.Fields)
	}
}

func TestHandleListEvents(t *testing.T) {
	env := newTestServer(t)
	env.seed(t)
	for _, typ := range []string{"a", "b", "a"} {
		rec := doJSON(t, env.handler, http.MethodPost, "/v1/tenants/acme/events", map[string]any{
			"sender": "billing", "event_type": typ, "payload": map[string]string{"t": typ},
		})
		requireStatus(t, rec, http.StatusCreated)
	}

	rec := doJSON(t, env.handler, http.MethodGet, "/v1/tenants/acme/events?event_type=a", nil)
	requireStatus(t, rec, http.StatusOK)
	var list eventList
	decodeJSON(t, rec, &list)
	if len(list.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(list.Events))
	}
	for _, e := range list.Events {
		if e.Payload != nil {
			t.Errorf("listing carries payload of %s", e.ID)
		}
	}

	rec = doJSON(t, env.handler, http.MethodGet, "/v1/tenants/acme/events?limit=2", nil)
	requireStatus(t, rec, http.StatusOK)
	var first eventList
	decodeJSON(t, rec, &first)
	if len(first.Events) != 2 || first.NextCursor != first.Events[1].ID {
		t.Fatalf("first page = %d events, cursor %q", len(first.Events), first.NextCursor)
	}

	rec = doJSON(t, env.handler, http.MethodGet, "/v1/tenants/acme/events?limit=2&cursor="+first.NextCursor, nil)
	requireStatus(t, rec, http.StatusOK)
	var second eventList
	decodeJSON(t, rec, &second)
	if len(second.Events) != 1 || second.NextCursor != "" {
		t.Errorf("second page = %d events, cursor %q", len(second.Events), second.NextCursor)
	}

	rec = doJSON(t, env.handler, http.MethodGet, "/v1/tenants/acme/events?sender=billing", nil)
	requireStatus(t, rec, http.StatusOK)
	var bySender eventList
	decodeJSON(t, rec, &bySender)
	if len(bySender.Events) != 3 {
		t.Errorf("sender filter returned %d events", len(bySender.Events))
	}
}

func TestHandleEmptyLists(t *testing.T) {
	env := newTestServer(t)
	env.seed(t)

	for _, tc := range []struct{ path, key string }{
		{"/v1/tenants/acme/events", "events"},
		{"/v1/tenants/acme/destinations", "destinations"},
		{"/v1/tenants/acme/intents", "intents"},
		{"/v1/tenants/acme/attempts", "attempts"},
	} {
		rec := doJSON(t, env.handler, http.MethodGet, tc.path, nil)
		requireStatus(t, rec, http.StatusOK)
		if !strings.Contains(rec.Body.String(), `"`+tc.key+`":[]`) {
			t.Errorf("%s: expected an empty array, got %s", tc.path, rec.Body.String())
		}
	}
}

func TestHandleGetEvent_OffloadedPayload(t *testing.T) {
	env := newTestServer(t)
	env.seed(t)

	rec := doJSON(t, env.handler, http.MethodPost, "/v1/tenants/acme/events", map[string]any{
		"sender": "billing", "event_type": "a", "payload": map[string]int{"n": 1},
		"headers": []model.Header{{Key: "X-A", Value: "1"}},
	})
	requireStatus(t, rec, http.StatusCreated)
	var created model.Event
	decodeJSON(t, rec, &created)

	// No destinations: the event finalizes and its payload is offloaded.
	env.drain(t)
	stored, err := env.store.GetEvent(t.Context(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.PayloadOffloaded || stored.Payload != nil {
		t.Fatalf("event not offloaded: %+v", stored)
	}

	rec = doJSON(t, env.handler, http.MethodGet, "/v1/tenants/acme/events/"+created.ID, nil)
	requireStatus(t, rec, http.StatusOK)
	var got model.Event
	decodeJSON(t, rec, &got)
	if got.Payload == nil || *got.Payload != `{"n":1}` {
		t.Errorf("payload = %v", got.Payload)
	}
	if len(got.Headers) != 1 || got.Headers[0].Key != "X-A" {
		t.Errorf("headers = %+v", got.Headers)
	}
	if got.Status != model.EventDelivered {
		t.Errorf("status = %s", got.Status)
	}
}

func TestHandleGetEvent_OtherTenant(t *testing.T) {
	env := newTestServer(t)
	env.seed(t)
	rec := doJSON(t, env.handler, http.MethodPost, "/v1/tenants/acme/events", map[string]any{
		"sender": "billing", "event_type": "a", "payload": 1,
	})
	requireStatus(t, rec, http.StatusCreated)
	var created model.Event
	decodeJSON(t, rec, &created)

	rec = doJSON(t, env.handler, http.MethodPut, "/v1/tenants", map[string]string{"identifier": "other", "name": "Other"})
	requireStatus(t, rec, http.StatusOK)

	rec = doJSON(t, env.handler, http.MethodGet, "/v1/tenants/other/events/"+created.ID, nil)
	requireStatus(t, rec, http.StatusNotFound)
}
