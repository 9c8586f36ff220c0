package delivery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/metorial/signal/internal/events"
	"github.com/metorial/signal/internal/lifecycle"
	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/objects"
	"github.com/metorial/signal/internal/queue"
	"github.com/metorial/signal/internal/retry"
	"github.com/metorial/signal/internal/signature"
)

type capturedRequest struct {
	method  string
	headers http.Header
	body    string
}

// endpoint is an httptest destination answering with status and recording requests.
type endpoint struct {
	*httptest.Server
	mu       sync.Mutex
	status   int
	requests []capturedRequest
}

func newEndpoint(t *testing.T, status int) *endpoint {
	t.Helper()
	ep := &endpoint{status: status}
	ep.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ep.mu.Lock()
		ep.requests = append(ep.requests, capturedRequest{r.Method, r.Header.Clone(), string(body)})
		status := ep.status
		ep.mu.Unlock()
		w.Header().Set("X-Receiver", "test")
		w.WriteHeader(status)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(ep.Close)
	return ep
}

func (ep *endpoint) received() []capturedRequest {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return append([]capturedRequest(nil), ep.requests...)
}

func TestEndToEnd_PartialFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sender := h.sender()

	okEP := newEndpoint(t, http.StatusOK)
	failEP := newEndpoint(t, http.StatusInternalServerError)
	policy := &model.RetryPolicy{Type: retry.Linear, DelaySeconds: 10, MaxAttempts: 2}
	destA := h.destination(sender.ID, okEP.URL, DestinationInput{Name: "a", Retry: policy})
	destB := h.destination(sender.ID, failEP.URL, DestinationInput{Name: "b", Retry: policy})

	ev := h.submit(sender.ID, &model.Event{Headers: []model.Header{{Key: "X-Trace", Value: "abc"}}})
	h.drain()

	intents := h.intents(ev.ID)
	if len(intents) != 2 {
		t.Fatalf("expected 2 intents, got %d", len(intents))
	}
	if got := intents[destA.ID]; got.Status != model.IntentDelivered || got.AttemptCount != 1 {
		t.Errorf("intent A = %s after %d attempts", got.Status, got.AttemptCount)
	}
	b := intents[destB.ID]
	if b.Status != model.IntentRetrying || b.AttemptCount != 1 {
		t.Fatalf("intent B = %s after %d attempts, want retrying after 1", b.Status, b.AttemptCount)
	}
	wantNext := h.clock.Now().Add(10 * time.Second)
	if b.NextAttemptAt == nil || !b.NextAttemptAt.Equal(wantNext) {
		t.Errorf("intent B NextAttemptAt = %v, want %v", b.NextAttemptAt, wantNext)
	}

	e := h.event(ev.ID)
	if e.Status != model.EventPending || e.DestinationCount != 2 || e.SuccessCount != 1 || e.FailureCount != 0 {
		t.Fatalf("event mid-flight = %s %d/%d of %d", e.Status, e.SuccessCount, e.FailureCount, e.DestinationCount)
	}

	h.clock.Advance(10 * time.Second)
	h.drain()

	b = h.intents(ev.ID)[destB.ID]
	if b.Status != model.IntentFailed || b.ErrorCode != model.ErrorCodeRetriesExhausted || b.AttemptCount != 2 {
		t.Errorf("intent B = %s/%s after %d attempts", b.Status, b.ErrorCode, b.AttemptCount)
	}
	if !strings.Contains(b.ErrorMessage, "status 500") {
		t.Errorf("intent B message = %q", b.ErrorMessage)
	}

	e = h.event(ev.ID)
	if e.Status != model.EventFailed || e.SuccessCount != 1 || e.FailureCount != 1 {
		t.Errorf("event = %s %d/%d", e.Status, e.SuccessCount, e.FailureCount)
	}
	if e.Payload != nil || !e.PayloadOffloaded {
		t.Errorf("payload not offloaded after finalize: %+v", e)
	}
	var offloaded objects.EventData
	if err := objects.GetJSON(ctx, h.objects, objects.EventKey(ev.ID), &offloaded); err != nil {
		t.Fatalf("offloaded payload: %v", err)
	}
	if offloaded.Body == nil || *offloaded.Body != `{"id":1}` {
		t.Errorf("offloaded body = %v", offloaded.Body)
	}

	if n := h.pub.count(events.TopicEventFailed); n != 1 {
		t.Errorf("event.failed published %d times", n)
	}
	if n := h.pub.count(events.TopicIntentDelivered); n != 1 {
		t.Errorf("intent.delivered published %d times", n)
	}

	attemptsB := h.attempts(b.ID)
	if len(attemptsB) != 2 {
		t.Fatalf("intent B has %d attempts", len(attemptsB))
	}
	for _, a := range attemptsB {
		if a.Status != model.AttemptFailed || a.ResponseStatusCode == nil || *a.ResponseStatusCode != 500 {
			t.Errorf("attempt %d = %s/%v", a.AttemptNumber, a.Status, a.ResponseStatusCode)
		}
		var data objects.AttemptData
		if err := objects.GetJSON(ctx, h.objects, objects.AttemptKey(a.ID), &data); err != nil {
			t.Errorf("attempt %s response not stored: %v", a.ID, err)
		}
	}
	if got := len(failEP.received()); got != 2 {
		t.Errorf("failing endpoint received %d requests", got)
	}
}

func TestAttempt_RequestHeaders(t *testing.T) {
	h := newHarness(t)
	sender := h.sender()
	ep := newEndpoint(t, http.StatusNoContent)
	dest := h.destination(sender.ID, ep.URL, DestinationInput{Variant: Variant{Method: model.MethodPut}})

	ev := h.submit(sender.ID, &model.Event{Headers: []model.Header{
		{Key: "X-Trace", Value: "abc"},
		{Key: "User-Agent", Value: "custom"},
	}})
	h.drain()

	reqs := ep.received()
	if len(reqs) != 1 {
		t.Fatalf("received %d requests", len(reqs))
	}
	r := reqs[0]
	intent := h.intents(ev.ID)[dest.ID]

	if r.method != http.MethodPut {
		t.Errorf("method = %s", r.method)
	}
	if r.body != `{"id":1}` {
		t.Errorf("body = %q", r.body)
	}
	for _, tc := range []struct{ header, want string }{
		{"Content-Type", "application/json"},
		{"Metorial-Webhook-Id", dest.CurrentInstance.Webhook.ID},
		{"Metorial-Notification-Id", intent.ID},
		{"Metorial-Event-Id", ev.ID},
		{"Metorial-Version", ProtocolVersion},
		{"Metorial-Delivery-Attempt", "1"},
		{"Metorial-Sender", "Billing (" + sender.ID + ")"},
		{"X-Trace", "abc"},
		{"User-Agent", "custom"},
	} {
		if got := r.headers.Get(tc.header); got != tc.want {
			t.Errorf("%s = %q, want %q", tc.header, got, tc.want)
		}
	}

	err := signature.Verify(r.headers.Get("Metorial-Signature"), []byte(r.body),
		dest.CurrentInstance.Webhook.SigningSecret, h.clock.Now(), signature.DefaultTolerance)
	if err != nil {
		t.Errorf("signature does not verify: %v", err)
	}
}

func TestFanOut_Selection(t *testing.T) {
	h := newHarness(t)
	sender := h.sender()
	other := &model.Sender{TenantID: "stn_1", Identifier: "other", Name: "Other"}
	if err := h.svc.UpsertSender(context.Background(), other); err != nil {
		t.Fatal(err)
	}
	ep := newEndpoint(t, http.StatusOK)

	all := h.destination(sender.ID, ep.URL, DestinationInput{})
	typed := h.destination(sender.ID, ep.URL, DestinationInput{EventTypes: []string{"user.created"}})
	h.destination(sender.ID, ep.URL, DestinationInput{EventTypes: []string{"user.deleted"}})
	h.destination(other.ID, ep.URL, DestinationInput{})
	deleted := h.destination(sender.ID, ep.URL, DestinationInput{})
	if err := h.svc.DeleteDestination(context.Background(), deleted); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		name string
		only []string
		want []string
	}{
		{"NoAllowList", nil, []string{all.ID, typed.ID}},
		{"AllowList", []string{typed.ID, deleted.ID}, []string{typed.ID}},
		{"EmptyAllowList", []string{}, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ev := h.submit(sender.ID, &model.Event{OnlyForDestinations: tc.only})
			h.drain()

			e := h.event(ev.ID)
			if e.DestinationCount != len(tc.want) {
				t.Fatalf("DestinationCount = %d, want %d", e.DestinationCount, len(tc.want))
			}
			intents := h.intents(ev.ID)
			for _, id := range tc.want {
				if intents[id] == nil {
					t.Errorf("no intent for %s", id)
				}
			}
			if len(intents) != len(tc.want) {
				t.Errorf("got %d intents, want %d", len(intents), len(tc.want))
			}
			if e.Status != model.EventDelivered {
				t.Errorf("status = %s", e.Status)
			}
		})
	}
}

func TestFanOut_NoDestinationsSucceedsImmediately(t *testing.T) {
	h := newHarness(t)
	sender := h.sender()
	ev := h.submit(sender.ID, &model.Event{})
	h.drain()

	e := h.event(ev.ID)
	if e.Status != model.EventDelivered || e.DestinationCount != 0 {
		t.Errorf("event = %s with %d destinations", e.Status, e.DestinationCount)
	}
	if n := h.pub.count(events.TopicEventDelivered); n != 1 {
		t.Errorf("event.delivered published %d times", n)
	}
}

func TestFanOut_RepeatedRunKeepsCount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sender := h.sender()
	ep := newEndpoint(t, http.StatusOK)
	h.destination(sender.ID, ep.URL, DestinationInput{})

	ev := h.submit(sender.ID, &model.Event{})
	if err := h.svc.OnNewEvent(ctx, ev.ID); err != nil {
		t.Fatal(err)
	}
	h.destination(sender.ID, ep.URL, DestinationInput{})
	if err := h.svc.OnNewEvent(ctx, ev.ID); err != nil {
		t.Fatal(err)
	}
	h.drain()

	e := h.event(ev.ID)
	if e.DestinationCount != 1 || len(h.intents(ev.ID)) != 1 {
		t.Errorf("count = %d with %d intents", e.DestinationCount, len(h.intents(ev.ID)))
	}
	if e.Status != model.EventDelivered {
		t.Errorf("status = %s", e.Status)
	}
}

// seedResolvedFanOut stores an event expecting n outcomes with one intent per destination.
func seedResolvedFanOut(t *testing.T, h *harness, n int) (*model.Event, []*model.Intent) {
	t.Helper()
	ctx := context.Background()
	payload := `{}`
	e := &model.Event{ID: "sev_agg", TenantID: "stn_1", SenderID: "ssn_1", EventType: "t",
		Payload: &payload, Status: model.EventPending, DestinationCount: model.UnresolvedDestinationCount}
	if err := h.store.CreateEvent(ctx, e); err != nil {
		t.Fatal(err)
	}
	if _, err := h.store.SetDestinationCount(ctx, e.ID, n); err != nil {
		t.Fatal(err)
	}
	intents := make([]*model.Intent, n)
	for i := range intents {
		in, err := h.store.CreateIntent(ctx, &model.Intent{
			ID: "sdi_" + string(rune('a'+i)), EventID: e.ID, DestinationID: "sed_" + string(rune('a'+i)),
			Status: model.IntentPending,
		})
		if err != nil {
			t.Fatal(err)
		}
		intents[i] = in
	}
	return e, intents
}

func TestIntentOutcome_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e, intents := seedResolvedFanOut(t, h, 2)

	out := lifecycle.IntentOutcome{IntentID: intents[0].ID}
	for range 3 {
		if err := h.svc.OnSucceeded(ctx, out); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.svc.OnFailed(ctx, lifecycle.IntentOutcome{IntentID: intents[0].ID, ErrorCode: "x"}); err != nil {
		t.Fatal(err)
	}

	got := h.event(e.ID)
	if got.SuccessCount != 1 || got.FailureCount != 0 {
		t.Errorf("counters = %d/%d, want 1/0", got.SuccessCount, got.FailureCount)
	}
	if in, _ := h.store.GetIntent(ctx, intents[0].ID); in.Status != model.IntentDelivered {
		t.Errorf("intent status = %s", in.Status)
	}
	if n := h.pub.count(events.TopicIntentDelivered); n != 1 {
		t.Errorf("intent.delivered published %d times", n)
	}
}

func TestAggregation_FinalizesOnceInAnyOrder(t *testing.T) {
	for _, tc := range []struct {
		name    string
		order   []int
		success []bool
		want    model.EventStatus
	}{
		{"AllSucceedInOrder", []int{0, 1, 2}, []bool{true, true, true}, model.EventDelivered},
		{"AllSucceedReversed", []int{2, 1, 0}, []bool{true, true, true}, model.EventDelivered},
		{"OneFailsFirst", []int{1, 0, 2}, []bool{true, false, true}, model.EventFailed},
		{"OneFailsLast", []int{0, 2, 1}, []bool{true, false, true}, model.EventFailed},
		{"AllFail", []int{2, 0, 1}, []bool{false, false, false}, model.EventFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			e, intents := seedResolvedFanOut(t, h, 3)

			for _, i := range tc.order {
				out := lifecycle.IntentOutcome{IntentID: intents[i].ID}
				var err error
				if tc.success[i] {
					err = h.svc.OnSucceeded(ctx, out)
				} else {
					out.ErrorCode = model.ErrorCodeRetriesExhausted
					err = h.svc.OnFailed(ctx, out)
				}
				if err != nil {
					t.Fatal(err)
				}
				// Duplicate resolved signals must not finalize twice.
				if err := h.svc.OnIntentResolved(ctx, intents[i].ID); err != nil {
					t.Fatal(err)
				}
			}
			h.drain()

			got := h.event(e.ID)
			if got.Status != tc.want {
				t.Errorf("status = %s, want %s", got.Status, tc.want)
			}
			finalized := h.pub.count(events.TopicEventDelivered) + h.pub.count(events.TopicEventFailed)
			if finalized != 1 {
				t.Errorf("event finalized %d times", finalized)
			}
		})
	}
}

func TestAggregation_WaitsForAllOutcomes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e, intents := seedResolvedFanOut(t, h, 2)

	if err := h.svc.OnSucceeded(ctx, lifecycle.IntentOutcome{IntentID: intents[0].ID}); err != nil {
		t.Fatal(err)
	}
	h.drain()
	if got := h.event(e.ID); got.Status != model.EventPending {
		t.Fatalf("finalized with one outcome missing: %s", got.Status)
	}

	// A premature finalize request is refused by the store guard.
	if err := h.svc.Finalize(ctx, e.ID, model.EventDelivered); err != nil {
		t.Fatal(err)
	}
	if got := h.event(e.ID); got.Status != model.EventPending {
		t.Fatalf("premature finalize applied: %s", got.Status)
	}
}

func TestAttempt_NoDestinationInstance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sender := h.sender()
	ep := newEndpoint(t, http.StatusOK)
	dest := h.destination(sender.ID, ep.URL, DestinationInput{})

	ev := h.submit(sender.ID, &model.Event{})
	// Fan out and create the intent, then remove the destination before the attempt.
	for _, task := range []string{lifecycle.TaskEventNew, lifecycle.TaskIntentCreate} {
		runOnly(t, h, task)
	}
	if err := h.svc.DeleteDestination(ctx, dest); err != nil {
		t.Fatal(err)
	}
	h.drain()

	in := h.intents(ev.ID)[dest.ID]
	if in.Status != model.IntentFailed || in.ErrorCode != model.ErrorCodeNoDestination {
		t.Errorf("intent = %s/%s", in.Status, in.ErrorCode)
	}
	if in.ErrorMessage != "No active destination instance found" {
		t.Errorf("message = %q", in.ErrorMessage)
	}
	if n := len(h.attempts(in.ID)); n != 0 {
		t.Errorf("expected no attempts, got %d", n)
	}
	if len(ep.received()) != 0 {
		t.Error("deleted destination received a request")
	}
	if e := h.event(ev.ID); e.Status != model.EventFailed || e.FailureCount != 1 {
		t.Errorf("event = %s with %d failures", e.Status, e.FailureCount)
	}
}

// runOnly executes the pending tasks of one type through a queue that only
// knows that handler.
func runOnly(t *testing.T, h *harness, taskType string) {
	t.Helper()
	q := queue.New(h.backend, queue.Config{Now: h.clock.Now})
	full := newRegistry()
	h.svc.Register(full)
	q.Process(taskType, full.handlers[taskType])
	if _, err := q.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}
}

type registry struct {
	handlers map[string]queue.Handler
}

func newRegistry() *registry { return &registry{handlers: make(map[string]queue.Handler)} }

func (r *registry) Process(taskType string, h queue.Handler) { r.handlers[taskType] = h }

func TestRegister_CoversEveryTask(t *testing.T) {
	h := newHarness(t)
	r := newRegistry()
	h.svc.Register(r)
	for _, task := range []string{
		lifecycle.TaskEventNew, lifecycle.TaskEventSucceeded, lifecycle.TaskEventFailed,
		lifecycle.TaskEventCleanup, lifecycle.TaskIntentCreate, lifecycle.TaskIntentAttempt,
		lifecycle.TaskIntentSucceeded, lifecycle.TaskIntentFailed, lifecycle.TaskIntentResolved,
		lifecycle.TaskCleanupSearch, lifecycle.TaskCleanupEvent,
	} {
		if r.handlers[task] == nil {
			t.Errorf("no handler for %s", task)
		}
	}
}

func TestAttempt_TransportError(t *testing.T) {
	h := newHarness(t)
	sender := h.sender()
	ep := newEndpoint(t, http.StatusOK)
	url := ep.URL
	ep.Close()
	dest := h.destination(sender.ID, url, DestinationInput{Retry: &model.RetryPolicy{Type: retry.Linear, DelaySeconds: 10, MaxAttempts: 1}})

	ev := h.submit(sender.ID, &model.Event{})
	h.drain()

	in := h.intents(ev.ID)[dest.ID]
	if in.Status != model.IntentFailed || in.ErrorCode != model.ErrorCodeRetriesExhausted {
		t.Fatalf("intent = %s/%s", in.Status, in.ErrorCode)
	}
	attempts := h.attempts(in.ID)
	if len(attempts) != 1 {
		t.Fatalf("attempts = %d", len(attempts))
	}
	a := attempts[0]
	if a.ErrorCode != model.ErrorCodeRequestError || a.ErrorMessage == "" {
		t.Errorf("attempt error = %q/%q", a.ErrorCode, a.ErrorMessage)
	}
	if a.ResponseStatusCode == nil || *a.ResponseStatusCode != model.NoResponseStatusCode {
		t.Errorf("status code = %v, want -1", a.ResponseStatusCode)
	}
	if strings.Contains(a.ErrorMessage, url) {
		t.Errorf("message carries the request URL: %q", a.ErrorMessage)
	}
}

func TestAttempt_BlockedAddress(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Client = nil })
	sender := h.sender()
	ep := newEndpoint(t, http.StatusOK)
	dest := h.destination(sender.ID, ep.URL, DestinationInput{Retry: &model.RetryPolicy{Type: retry.Linear, DelaySeconds: 10, MaxAttempts: 1}})

	ev := h.submit(sender.ID, &model.Event{})
	h.drain()

	if len(ep.received()) != 0 {
		t.Fatal("request reached a loopback address")
	}
	in := h.intents(ev.ID)[dest.ID]
	a := h.attempts(in.ID)[0]
	if a.ErrorCode != model.ErrorCodeRequestError || !strings.Contains(a.ErrorMessage, "not allowed") {
		t.Errorf("attempt error = %q/%q", a.ErrorCode, a.ErrorMessage)
	}
}

func TestAttempt_TruncatesResponseBody(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sender := h.sender()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("é", MaxResponseBody+500)))
	}))
	t.Cleanup(srv.Close)
	dest := h.destination(sender.ID, srv.URL, DestinationInput{})

	ev := h.submit(sender.ID, &model.Event{})
	h.drain()

	a := h.attempts(h.intents(ev.ID)[dest.ID].ID)[0]
	var data objects.AttemptData
	if err := objects.GetJSON(ctx, h.objects, objects.AttemptKey(a.ID), &data); err != nil {
		t.Fatal(err)
	}
	if n := len([]rune(data.Body)); n != MaxResponseBody {
		t.Errorf("stored %d characters, want %d", n, MaxResponseBody)
	}
}

func TestAttempt_ReadsOffloadedPayload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sender := h.sender()
	ep := newEndpoint(t, http.StatusOK)
	dest := h.destination(sender.ID, ep.URL, DestinationInput{})

	ev := h.submit(sender.ID, &model.Event{Headers: []model.Header{{Key: "X-A", Value: "1"}}})
	runOnly(t, h, lifecycle.TaskEventNew)
	runOnly(t, h, lifecycle.TaskIntentCreate)

	body := `{"id":1}`
	if err := objects.PutJSON(ctx, h.objects, objects.EventKey(ev.ID), objects.EventData{
		Body: &body, Headers: []model.Header{{Key: "X-A", Value: "1"}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := h.store.ScrubEventPayload(ctx, ev.ID); err != nil {
		t.Fatal(err)
	}
	h.drain()

	reqs := ep.received()
	if len(reqs) != 1 || reqs[0].body != body || reqs[0].headers.Get("X-A") != "1" {
		t.Fatalf("requests = %+v", reqs)
	}
	if in := h.intents(ev.ID)[dest.ID]; in.Status != model.IntentDelivered {
		t.Errorf("intent = %s", in.Status)
	}
}

func TestAttempt_MissingRowsAreTransient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, tc := range []struct {
		name string
		run  func() error
	}{
		{"Attempt", func() error { return h.svc.Attempt(ctx, "sdi_missing") }},
		{"OnNewEvent", func() error { return h.svc.OnNewEvent(ctx, "sev_missing") }},
		{"CreateIntent", func() error { return h.svc.CreateIntent(ctx, "sev_missing", "sed_missing") }},
		{"OnSucceeded", func() error { return h.svc.OnSucceeded(ctx, lifecycle.IntentOutcome{IntentID: "sdi_missing"}) }},
		{"Finalize", func() error { return h.svc.Finalize(ctx, "sev_missing", model.EventDelivered) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.run(); !errors.Is(err, queue.ErrRetry) {
				t.Errorf("expected ErrRetry, got %v", err)
			}
		})
	}
}

func TestAttempt_TerminalIntentIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, intents := seedResolvedFanOut(t, h, 1)
	if _, err := h.store.ResolveIntent(ctx, intents[0].ID, model.IntentDelivered, "", ""); err != nil {
		t.Fatal(err)
	}
	if err := h.svc.Attempt(ctx, intents[0].ID); err != nil {
		t.Fatalf("Attempt on terminal intent: %v", err)
	}
	if n := len(h.backend.Tasks()); n != 0 {
		t.Errorf("terminal intent queued %d tasks", n)
	}
}

func TestTruncate(t *testing.T) {
	for _, tc := range []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 2, "he"},
		{"héllo", 2, "hé"},
		{"", 3, ""},
	} {
		if got := truncate(tc.in, tc.n); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

// flakyQueue fails the first enqueue that matches fail and passes every
// other call through.
type flakyQueue struct {
	queue.Enqueuer
	fail func(taskType string, opts queue.Options) bool

	mu     sync.Mutex
	failed bool
}

func (q *flakyQueue) Enqueue(ctx context.Context, taskType string, payload any, opts queue.Options) error {
	q.mu.Lock()
	if !q.failed && q.fail(taskType, opts) {
		q.failed = true
		q.mu.Unlock()
		return errors.New("queue unavailable")
	}
	q.mu.Unlock()
	return q.Enqueuer.Enqueue(ctx, taskType, payload, opts)
}

func withFlakyQueue(fail func(string, queue.Options) bool) func(*Config) {
	return func(c *Config) {
		c.Queue = &flakyQueue{Enqueuer: c.Queue, fail: fail}
	}
}

func TestAttempt_RecordedSuccessIsNotResent(t *testing.T) {
	h := newHarness(t, withFlakyQueue(func(taskType string, _ queue.Options) bool {
		return taskType == lifecycle.TaskIntentSucceeded
	}))
	sender := h.sender()
	ep := newEndpoint(t, http.StatusOK)
	policy := &model.RetryPolicy{Type: retry.Linear, DelaySeconds: 10, MaxAttempts: 2}
	dest := h.destination(sender.ID, ep.URL, DestinationInput{Retry: policy})

	ev := h.submit(sender.ID, &model.Event{})
	h.drain()

	in := h.intents(ev.ID)[dest.ID]
	if in.Status.IsTerminal() || in.AttemptCount != 1 {
		t.Fatalf("intent = %s after %d attempts, want open after 1", in.Status, in.AttemptCount)
	}

	// The receiver would now fail; the recorded 2xx must stand.
	ep.mu.Lock()
	ep.status = http.StatusInternalServerError
	ep.mu.Unlock()

	h.clock.Advance(time.Minute)
	h.drain()

	if got := len(ep.received()); got != 1 {
		t.Errorf("endpoint received %d requests, want 1", got)
	}
	in = h.intents(ev.ID)[dest.ID]
	if in.Status != model.IntentDelivered || in.AttemptCount != 1 {
		t.Errorf("intent = %s/%s after %d attempts", in.Status, in.ErrorCode, in.AttemptCount)
	}
	if n := len(h.attempts(in.ID)); n != 1 {
		t.Errorf("recorded %d attempts", n)
	}
	e := h.event(ev.ID)
	if e.Status != model.EventDelivered || e.SuccessCount != 1 || e.FailureCount != 0 {
		t.Errorf("event = %s %d/%d", e.Status, e.SuccessCount, e.FailureCount)
	}
}

func TestAttempt_LostRetryKeepsPolicyDelay(t *testing.T) {
	h := newHarness(t, withFlakyQueue(func(taskType string, opts queue.Options) bool {
		return taskType == lifecycle.TaskIntentAttempt && opts.Delay > 0
	}))
	sender := h.sender()
	ep := newEndpoint(t, http.StatusInternalServerError)
	policy := &model.RetryPolicy{Type: retry.Linear, DelaySeconds: 30, MaxAttempts: 3}
	dest := h.destination(sender.ID, ep.URL, DestinationInput{Retry: policy})

	start := h.clock.Now()
	ev := h.submit(sender.ID, &model.Event{})
	h.drain()

	// The queue retries the failed task well before the policy delay.
	h.clock.Advance(10 * time.Second)
	h.drain()

	if got := len(ep.received()); got != 1 {
		t.Fatalf("endpoint received %d requests before the retry was due", got)
	}
	in := h.intents(ev.ID)[dest.ID]
	wantNext := start.Add(30 * time.Second)
	if in.Status != model.IntentRetrying || in.NextAttemptAt == nil || !in.NextAttemptAt.Equal(wantNext) {
		t.Fatalf("intent = %s next %v, want retrying at %v", in.Status, in.NextAttemptAt, wantNext)
	}

	h.clock.Advance(19 * time.Second)
	h.drain()
	if got := len(ep.received()); got != 1 {
		t.Fatalf("endpoint received %d requests a second early", got)
	}

	h.clock.Advance(time.Second)
	h.drain()
	if got := len(ep.received()); got != 2 {
		t.Fatalf("endpoint received %d requests once the retry was due", got)
	}
	in = h.intents(ev.ID)[dest.ID]
	if in.Status != model.IntentRetrying || in.AttemptCount != 2 {
		t.Errorf("intent = %s after %d attempts", in.Status, in.AttemptCount)
	}
}

func TestAttemptError(t *testing.T) {
	code, none := 503, model.NoResponseStatusCode
	tests := []struct {
		name string
		a    model.Attempt
		want string
	}{
		{"succeeded", model.Attempt{Status: model.AttemptSucceeded, ResponseStatusCode: &code}, ""},
		{"status", model.Attempt{Status: model.AttemptFailed, ResponseStatusCode: &code}, "destination responded with status 503"},
		{"transport", model.Attempt{Status: model.AttemptFailed, ResponseStatusCode: &none, ErrorMessage: "dial tcp: refused"}, "dial tcp: refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := attemptError(&tt.a); got != tt.want {
				t.Errorf("attemptError() = %q, want %q", got, tt.want)
			}
		})
	}
}
