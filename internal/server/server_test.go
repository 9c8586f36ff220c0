package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/metorial/signal/internal/delivery"
	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/objects"
	"github.com/metorial/signal/internal/queue"
	"github.com/metorial/signal/internal/store/memory"
)

type testEnv struct {
	srv     *Server
	store   *memory.Store
	objects *objects.MemoryStore
	queue   *queue.Queue
	handler http.Handler
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	st := memory.New()
	obj := objects.NewMemoryStore()
	q := queue.New(queue.NewMemoryBackend(), queue.Config{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{store: st, objects: obj, queue: q}
	env.srv = New(st, nil, obj, logger)
	svc := delivery.New(delivery.Config{
		Store:     st,
		Objects:   obj,
		Queue:     q,
		Publisher: env.srv,
		Client:    &http.Client{Timeout: delivery.RequestTimeout},
		Logger:    logger,
	})
	svc.Register(q)
	env.srv.SetDelivery(svc)
	env.handler = env.srv.NewHTTPHandler("")
	return env
}

func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	if _, err := e.queue.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

// seed creates tenant "acme" with sender "billing".
func (e *testEnv) seed(t *testing.T) (*model.Tenant, *model.Sender) {
	t.Helper()
	rec := doJSON(t, e.handler, http.MethodPut, "/v1/tenants", map[string]string{"identifier": "acme", "name": "Acme"})
	requireStatus(t, rec, http.StatusOK)
	var tenant model.Tenant
	decodeJSON(t, rec, &tenant)

	rec = doJSON(t, e.handler, http.MethodPut, "/v1/tenants/acme/senders", map[string]string{"identifier": "billing", "name": "Billing"})
	requireStatus(t, rec, http.StatusOK)
	var sender model.Sender
	decodeJSON(t, rec, &sender)
	return &tenant, &sender
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rec.Code != code {
		t.Fatalf("expected status %d, got %d; body: %s", code, rec.Code, rec.Body.String())
	}
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}
