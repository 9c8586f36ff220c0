package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/metorial/signal/internal/idgen"
	"github.com/metorial/signal/internal/lifecycle"
	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/objects"
	"github.com/metorial/signal/internal/signature"
)

// response is what one HTTP attempt produced.
type response struct {
	statusCode int
	body       string
	headers    []model.Header
	err        error
}

func (r *response) succeeded() bool {
	return r.err == nil && r.statusCode >= 200 && r.statusCode < 300
}

// Attempt performs the next delivery attempt of an intent, records it and
// schedules whatever follows: success, exhaustion or a delayed retry.
func (s *Service) Attempt(ctx context.Context, intentID string) error {
	intent, err := s.store.GetIntent(ctx, intentID)
	if err != nil {
		return transient(err, "intent", intentID)
	}
	if intent.Status.IsTerminal() {
		return nil
	}
	event, err := s.store.GetEvent(ctx, intent.EventID)
	if err != nil {
		return transient(err, "event", intent.EventID)
	}
	dest, err := s.store.GetDestination(ctx, intent.DestinationID)
	if err != nil {
		return transient(err, "destination", intent.DestinationID)
	}

	logger := s.logger.With("intent_id", intent.ID, "event_id", event.ID, "destination_id", dest.ID)

	if intent.AttemptCount > 0 {
		waiting, err := s.resume(ctx, intent, dest.Retry)
		if err != nil || waiting {
			return err
		}
	}

	inst := dest.CurrentInstance
	if dest.DeletedAt != nil || inst == nil || inst.Webhook == nil {
		logger.Info("no destination instance, failing intent")
		_, effects := lifecycle.StepIntent(intentState(intent), lifecycle.NoInstance{})
		return s.apply(ctx, effects)
	}

	sender, err := s.senders.get(ctx, event.TenantID, event.SenderID)
	if err != nil {
		return transient(err, "sender", event.SenderID)
	}
	body, headers, err := s.eventPayload(ctx, event)
	if err != nil {
		return err
	}

	number := intent.AttemptCount + 1
	hook := inst.Webhook

	start := s.now()
	res := s.send(ctx, hook, body, deliveryHeaders(hook, intent, event, sender, number, body, start, headers))
	duration := s.now().Sub(start)

	attemptID, err := idgen.GenerateWithPrefix(idgen.PrefixAttempt)
	if err != nil {
		return err
	}
	attempt := &model.Attempt{
		ID:            attemptID,
		IntentID:      intent.ID,
		InstanceID:    inst.ID,
		Status:        model.AttemptFailed,
		AttemptNumber: number,
		DurationMs:    duration.Milliseconds(),
		CreatedAt:     start,
	}
	code := res.statusCode
	attempt.ResponseStatusCode = &code
	if res.succeeded() {
		attempt.Status = model.AttemptSucceeded
	}
	if res.err != nil {
		attempt.ErrorCode = model.ErrorCodeRequestError
		attempt.ErrorMessage = res.err.Error()
	}

	data := objects.AttemptData{Body: res.body, Headers: res.headers}
	if res.err != nil {
		data.Error = res.err.Error()
	}
	if err := objects.PutJSON(ctx, s.objects, objects.AttemptKey(attempt.ID), data); err != nil {
		return fmt.Errorf("store response of attempt %d: %w", number, err)
	}

	recorded, err := s.store.RecordAttempt(ctx, attempt)
	if err != nil {
		return fmt.Errorf("record attempt %d: %w", number, err)
	}
	if !recorded {
		logger.Info("attempt already recorded by another worker", "attempt", number)
		if err := s.objects.DeleteObject(ctx, objects.AttemptKey(attempt.ID)); err != nil {
			logger.Warn("delete orphaned attempt object", "attempt_id", attempt.ID, "err", err)
		}
		return nil
	}

	logger.Info("delivery attempt", "attempt", number, "status", attempt.Status,
		"response_status", res.statusCode, "duration_ms", attempt.DurationMs)

	return s.settle(ctx, intent, dest.Retry, attempt)
}

// settle applies the transition that follows a recorded attempt: success,
// exhaustion or a retry due policy delay after the attempt was made.
// Repeating it is safe.
func (s *Service) settle(ctx context.Context, intent *model.Intent, policy model.RetryPolicy, a *model.Attempt) error {
	next, effects := lifecycle.StepIntent(intentState(intent), lifecycle.AttemptResult{
		Number:       a.AttemptNumber,
		Succeeded:    a.Status == model.AttemptSucceeded,
		ErrorMessage: attemptError(a),
		Policy:       policy,
	})
	if next.Status == model.IntentRetrying {
		for i, e := range effects {
			if e.Task != lifecycle.TaskIntentAttempt {
				continue
			}
			at := a.CreatedAt.Add(e.Delay)
			if err := s.store.ScheduleIntentRetry(ctx, intent.ID, at); err != nil {
				return fmt.Errorf("schedule retry of %s: %w", intent.ID, err)
			}
			effects[i].Delay = max(at.Sub(s.now()), 0)
		}
	}
	return s.apply(ctx, effects)
}

// resume completes the transition of the intent's last recorded attempt
// when an earlier run stopped after recording it. It reports true when no
// new request may be sent yet.
func (s *Service) resume(ctx context.Context, intent *model.Intent, policy model.RetryPolicy) (bool, error) {
	last, err := s.store.GetLatestAttempt(ctx, intent.ID)
	if err != nil {
		return false, transient(err, "latest attempt of intent", intent.ID)
	}
	logger := s.logger.With("intent_id", intent.ID, "attempt", last.AttemptNumber)

	if last.Status == model.AttemptSucceeded || last.AttemptNumber >= policy.MaxAttempts {
		logger.Info("settling recorded attempt", "status", last.Status)
		return true, s.settle(ctx, intent, policy, last)
	}
	if intent.NextAttemptAt == nil || !intent.NextAttemptAt.After(last.CreatedAt) {
		logger.Info("scheduling retry of recorded attempt")
		return true, s.settle(ctx, intent, policy, last)
	}
	if wait := intent.NextAttemptAt.Sub(s.now()); wait > 0 {
		logger.Debug("retry not due yet", "next_attempt_at", *intent.NextAttemptAt)
		return true, s.apply(ctx, []lifecycle.Effect{{
			Task:      lifecycle.TaskIntentAttempt,
			Payload:   lifecycle.IntentRef{IntentID: intent.ID},
			Delay:     wait,
			DedupeKey: intent.ID,
		}})
	}
	return false, nil
}

// attemptError describes a failed attempt for the intent's final error.
func attemptError(a *model.Attempt) string {
	if a.ErrorMessage != "" {
		return a.ErrorMessage
	}
	if a.Status == model.AttemptSucceeded || a.ResponseStatusCode == nil {
		return ""
	}
	return "destination responded with status " + strconv.Itoa(*a.ResponseStatusCode)
}

// eventPayload returns the event body and custom headers, reading them back
// from object storage once the event has been offloaded.
func (s *Service) eventPayload(ctx context.Context, e *model.Event) (string, []model.Header, error) {
	if e.Payload != nil {
		return *e.Payload, e.Headers, nil
	}
	var data objects.EventData
	if err := objects.GetJSON(ctx, s.objects, objects.EventKey(e.ID), &data); err != nil {
		return "", nil, fmt.Errorf("load offloaded payload of %s: %w", e.ID, err)
	}
	if data.Body == nil {
		return "", nil, fmt.Errorf("event %s has no payload", e.ID)
	}
	return *data.Body, data.Headers, nil
}

// deliveryHeaders builds the outbound header set. Event headers come last
// and override the protocol headers of the same name.
func deliveryHeaders(hook *model.Webhook, intent *model.Intent, event *model.Event, sender *model.Sender, number int, body string, ts time.Time, custom []model.Header) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", UserAgent)
	h.Set("Metorial-Webhook-Id", hook.ID)
	h.Set("Metorial-Notification-Id", intent.ID)
	h.Set("Metorial-Event-Id", event.ID)
	h.Set("Metorial-Signature", signature.Sign([]byte(body), hook.SigningSecret, ts))
	h.Set("Metorial-Version", ProtocolVersion)
	h.Set("Metorial-Delivery-Attempt", strconv.Itoa(number))
	h.Set("Metorial-Sender", sender.Descriptor())
	for _, c := range custom {
		h.Set(c.Key, c.Value)
	}
	return h
}

// send performs one request. Any HTTP status is a response; only transport
// failures set err.
func (s *Service) send(ctx context.Context, hook *model.Webhook, body string, headers http.Header) *response {
	req, err := http.NewRequestWithContext(ctx, string(hook.Method), hook.URL, strings.NewReader(body))
	if err != nil {
		return &response{statusCode: model.NoResponseStatusCode, err: err}
	}
	req.Header = headers

	resp, err := s.client.Do(req)
	if err != nil {
		return &response{statusCode: model.NoResponseStatusCode, err: unwrapURLError(err)}
	}
	defer resp.Body.Close()

	// Four bytes per rune is enough to fill MaxResponseBody characters.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody*4))
	if err != nil {
		raw = nil
	}
	return &response{
		statusCode: resp.StatusCode,
		body:       truncate(string(raw), MaxResponseBody),
		headers:    flattenHeaders(resp.Header),
	}
}

// unwrapURLError drops the "Post \"url\":" prefix net/http adds.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err
	}
	return err
}

func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func flattenHeaders(h http.Header) []model.Header {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]model.Header, 0, len(keys))
	for _, k := range keys {
		out = append(out, model.Header{Key: k, Value: strings.Join(h[k], ", ")})
	}
	return out
}
