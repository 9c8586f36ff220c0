package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/store"
)

func seedEvent(t *testing.T, s *Store, id string) {
	t.Helper()
	payload := `{}`
	err := s.CreateEvent(context.Background(), &model.Event{
		ID: id, TenantID: "stn_1", SenderID: "ssn_1", EventType: "t",
		Payload: &payload, Status: model.EventPending,
		DestinationCount: model.UnresolvedDestinationCount,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestEventCounters(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedEvent(t, s, "sev_1")

	if ok, _ := s.FinalizeEvent(ctx, "sev_1", model.EventDelivered); ok {
		t.Fatal("finalized an unresolved event")
	}
	if ok, _ := s.SetDestinationCount(ctx, "sev_1", 2); !ok {
		t.Fatal("first SetDestinationCount should apply")
	}
	if ok, _ := s.SetDestinationCount(ctx, "sev_1", 5); ok {
		t.Fatal("second SetDestinationCount should not apply")
	}

	_ = s.IncrementEventCounter(ctx, "sev_1", true)
	if ok, _ := s.FinalizeEvent(ctx, "sev_1", model.EventDelivered); ok {
		t.Fatal("finalized with outcomes missing")
	}
	_ = s.IncrementEventCounter(ctx, "sev_1", false)

	if ok, _ := s.FinalizeEvent(ctx, "sev_1", model.EventFailed); !ok {
		t.Fatal("expected finalize to apply")
	}
	if ok, _ := s.FinalizeEvent(ctx, "sev_1", model.EventFailed); ok {
		t.Fatal("finalize applied twice")
	}

	e, _ := s.GetEvent(ctx, "sev_1")
	if e.Status != model.EventFailed || e.SuccessCount != 1 || e.FailureCount != 1 {
		t.Errorf("event = %+v", e)
	}
	if err := s.IncrementEventCounter(ctx, "sev_missing", true); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReturnedRowsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedEvent(t, s, "sev_1")

	e, _ := s.GetEvent(ctx, "sev_1")
	e.Status = model.EventDelivered
	*e.Payload = "changed"

	again, _ := s.GetEvent(ctx, "sev_1")
	if again.Status != model.EventPending || *again.Payload != `{}` {
		t.Errorf("stored event was mutated through a returned copy: %+v", again)
	}
}

func TestIntentAndAttempts(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedEvent(t, s, "sev_1")

	first, err := s.CreateIntent(ctx, &model.Intent{ID: "sdi_a", EventID: "sev_1", DestinationID: "sed_1", Status: model.IntentPending})
	if err != nil {
		t.Fatal(err)
	}
	second, _ := s.CreateIntent(ctx, &model.Intent{ID: "sdi_b", EventID: "sev_1", DestinationID: "sed_1", Status: model.IntentPending})
	if first.ID != "sdi_a" || second.ID != "sdi_a" || second.TenantID != "stn_1" {
		t.Fatalf("CreateIntent not idempotent: %s, %s", first.ID, second.ID)
	}

	if _, err := s.GetLatestAttempt(ctx, "sdi_a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetLatestAttempt before any attempt: %v", err)
	}

	attempt := &model.Attempt{ID: "sda_1", IntentID: "sdi_a", AttemptNumber: 1, Status: model.AttemptFailed, CreatedAt: time.Now()}
	if ok, _ := s.RecordAttempt(ctx, attempt); !ok {
		t.Fatal("first RecordAttempt should apply")
	}
	dup := *attempt
	dup.ID = "sda_2"
	if ok, _ := s.RecordAttempt(ctx, &dup); ok {
		t.Fatal("RecordAttempt accepted the same attempt number twice")
	}

	in, _ := s.GetIntent(ctx, "sdi_a")
	if in.AttemptCount != 1 || in.LastAttemptAt == nil {
		t.Errorf("intent = %+v", in)
	}
	a, _ := s.GetAttempt(ctx, "sda_1")
	if a.EventID != "sev_1" || a.DestinationID != "sed_1" || a.TenantID != "stn_1" {
		t.Errorf("attempt scope not filled: %+v", a)
	}

	retried := &model.Attempt{ID: "sda_3", IntentID: "sdi_a", AttemptNumber: 2, Status: model.AttemptSucceeded, CreatedAt: time.Now()}
	if ok, _ := s.RecordAttempt(ctx, retried); !ok {
		t.Fatal("second attempt should apply")
	}
	latest, err := s.GetLatestAttempt(ctx, "sdi_a")
	if err != nil || latest.ID != "sda_3" || latest.EventID != "sev_1" {
		t.Errorf("GetLatestAttempt = %+v, %v", latest, err)
	}

	if ok, _ := s.ResolveIntent(ctx, "sdi_a", model.IntentDelivered, "", ""); !ok {
		t.Fatal("resolve should apply")
	}
	if ok, _ := s.ResolveIntent(ctx, "sdi_a", model.IntentFailed, "x", "y"); ok {
		t.Fatal("resolved a terminal intent")
	}

	if err := s.PurgeEvent(ctx, "sev_1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetAttempt(ctx, "sda_1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("attempt survived purge: %v", err)
	}
}

func TestRunInTransaction_Rollback(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedEvent(t, s, "sev_1")

	boom := errors.New("boom")
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		if _, err := tx.SetDestinationCount(ctx, "sev_1", 3); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	e, _ := s.GetEvent(ctx, "sev_1")
	if e.DestinationCount != model.UnresolvedDestinationCount {
		t.Errorf("rolled back write is visible: count = %d", e.DestinationCount)
	}
}

func TestListPaging(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"sev_a", "sev_b", "sev_c"} {
		seedEvent(t, s, id)
	}

	got, _ := s.ListEvents(ctx, model.EventFilter{TenantID: "stn_1", Page: model.Page{Limit: 2}})
	if len(got) != 2 || got[0].ID != "sev_c" || got[1].ID != "sev_b" {
		t.Fatalf("first page = %v", ids(got))
	}
	got, _ = s.ListEvents(ctx, model.EventFilter{TenantID: "stn_1", Page: model.Page{Limit: 2, Cursor: "sev_b"}})
	if len(got) != 1 || got[0].ID != "sev_a" {
		t.Fatalf("second page = %v", ids(got))
	}

	expired, _ := s.ListEventIDsBefore(ctx, time.Now().Add(time.Hour), "sev_c", 10)
	if len(expired) != 2 || expired[0] != "sev_b" {
		t.Errorf("ListEventIDsBefore = %v", expired)
	}
}

func ids(events []*model.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}
