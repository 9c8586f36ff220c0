package delivery

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/objects"
	"github.com/metorial/signal/internal/queue"
	"github.com/metorial/signal/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type published struct {
	topic string
	event any
}

// recordingPublisher keeps every published message for assertions.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic, event})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.msgs {
		if m.topic == topic {
			n++
		}
	}
	return n
}

type harness struct {
	t       *testing.T
	clock   *fakeClock
	store   *memory.Store
	objects *objects.MemoryStore
	backend *queue.MemoryBackend
	queue   *queue.Queue
	pub     *recordingPublisher
	svc     *Service
}

// newHarness wires a Service to in-memory collaborators. The HTTP client
// skips address filtering so tests can deliver to httptest servers.
func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		clock:   &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		store:   memory.New(),
		objects: objects.NewMemoryStore(),
		backend: queue.NewMemoryBackend(),
		pub:     &recordingPublisher{},
	}
	h.store.Now = h.clock.Now
	h.queue = queue.New(h.backend, queue.Config{Now: h.clock.Now})

	cfg := Config{
		Store:     h.store,
		Objects:   h.objects,
		Queue:     h.queue,
		Publisher: h.pub,
		Client:    &http.Client{Timeout: RequestTimeout},
		Now:       h.clock.Now,
	}
	for _, o := range opts {
		o(&cfg)
	}
	h.svc = New(cfg)
	h.svc.Register(h.queue)
	return h
}

func (h *harness) drain() {
	h.t.Helper()
	if _, err := h.queue.Drain(context.Background()); err != nil {
		h.t.Fatalf("Drain: %v", err)
	}
}

func (h *harness) sender() *model.Sender {
	h.t.Helper()
	s := &model.Sender{TenantID: "stn_1", Identifier: "billing", Name: "Billing"}
	if err := h.svc.UpsertSender(context.Background(), s); err != nil {
		h.t.Fatalf("UpsertSender: %v", err)
	}
	return s
}

func (h *harness) destination(senderID, url string, in DestinationInput) *model.Destination {
	h.t.Helper()
	if in.Name == "" {
		in.Name = "hook"
	}
	in.Variant.URL = url
	d, err := h.svc.CreateDestination(context.Background(), "stn_1", senderID, in)
	if err != nil {
		h.t.Fatalf("CreateDestination: %v", err)
	}
	return d
}

func (h *harness) submit(senderID string, e *model.Event) *model.Event {
	h.t.Helper()
	e.TenantID, e.SenderID = "stn_1", senderID
	if e.EventType == "" {
		e.EventType = "user.created"
	}
	if e.Payload == nil {
		p := `{"id":1}`
		e.Payload = &p
	}
	if err := h.svc.SubmitEvent(context.Background(), e); err != nil {
		h.t.Fatalf("SubmitEvent: %v", err)
	}
	return e
}

func (h *harness) event(id string) *model.Event {
	h.t.Helper()
	e, err := h.store.GetEvent(context.Background(), id)
	if err != nil {
		h.t.Fatalf("GetEvent(%s): %v", id, err)
	}
	return e
}

func (h *harness) intents(eventID string) map[string]*model.Intent {
	h.t.Helper()
	list, err := h.store.ListIntents(context.Background(), model.IntentFilter{TenantID: "stn_1", EventIDs: []string{eventID}})
	if err != nil {
		h.t.Fatalf("ListIntents: %v", err)
	}
	byDest := make(map[string]*model.Intent, len(list))
	for _, in := range list {
		byDest[in.DestinationID] = in
	}
	return byDest
}

func (h *harness) attempts(intentID string) []*model.Attempt {
	h.t.Helper()
	list, err := h.store.ListAttempts(context.Background(), model.AttemptFilter{TenantID: "stn_1", IntentIDs: []string{intentID}})
	if err != nil {
		h.t.Fatalf("ListAttempts: %v", err)
	}
	return list
}
