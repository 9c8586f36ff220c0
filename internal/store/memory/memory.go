// Package memory is an in-process store.Store with the same conditional
// update semantics as the Postgres store. It backs tests and the
// single-process development server.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/store"
)

// Store keeps every row in maps guarded by one mutex. Stored values are
// never mutated in place; updates swap in a modified copy, so a shallow
// copy of the maps is a consistent snapshot.
type Store struct {
	// Now stamps created and updated times.
	Now func() time.Time

	txMu sync.Mutex
	mu   sync.Mutex
	data tables
}

type tables struct {
	tenants      map[string]*model.Tenant
	senders      map[string]*model.Sender
	events       map[string]*model.Event
	webhooks     map[string]*model.Webhook
	destinations map[string]*model.Destination
	instances    map[string]*model.Instance
	intents      map[string]*model.Intent
	attempts     map[string]*model.Attempt
}

func (t tables) clone() tables {
	return tables{
		tenants:      maps.Clone(t.tenants),
		senders:      maps.Clone(t.senders),
		events:       maps.Clone(t.events),
		webhooks:     maps.Clone(t.webhooks),
		destinations: maps.Clone(t.destinations),
		instances:    maps.Clone(t.instances),
		intents:      maps.Clone(t.intents),
		attempts:     maps.Clone(t.attempts),
	}
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		Now: time.Now,
		data: tables{
			tenants:      make(map[string]*model.Tenant),
			senders:      make(map[string]*model.Sender),
			events:       make(map[string]*model.Event),
			webhooks:     make(map[string]*model.Webhook),
			destinations: make(map[string]*model.Destination),
			instances:    make(map[string]*model.Instance),
			intents:      make(map[string]*model.Intent),
			attempts:     make(map[string]*model.Attempt),
		},
	}
}

func (s *Store) lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

// Tenants and senders

func (s *Store) UpsertTenant(_ context.Context, t *model.Tenant) error {
	defer s.lock()()
	now := s.Now()
	for _, existing := range s.data.tenants {
		if existing.Identifier == t.Identifier {
			cp := *existing
			cp.Name = t.Name
			cp.UpdatedAt = now
			s.data.tenants[cp.ID] = &cp
			*t = cp
			return nil
		}
	}
	t.CreatedAt, t.UpdatedAt = now, now
	cp := *t
	s.data.tenants[t.ID] = &cp
	return nil
}

func (s *Store) GetTenant(_ context.Context, idOrIdentifier string) (*model.Tenant, error) {
	defer s.lock()()
	if t, ok := s.data.tenants[idOrIdentifier]; ok {
		cp := *t
		return &cp, nil
	}
	for _, t := range s.data.tenants {
		if t.Identifier == idOrIdentifier {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpsertSender(_ context.Context, sn *model.Sender) error {
	defer s.lock()()
	now := s.Now()
	for _, existing := range s.data.senders {
		if existing.TenantID == sn.TenantID && existing.Identifier == sn.Identifier {
			cp := *existing
			cp.Name = sn.Name
			cp.UpdatedAt = now
			s.data.senders[cp.ID] = &cp
			*sn = cp
			return nil
		}
	}
	sn.CreatedAt, sn.UpdatedAt = now, now
	cp := *sn
	s.data.senders[sn.ID] = &cp
	return nil
}

func (s *Store) GetSender(_ context.Context, tenantID, idOrIdentifier string) (*model.Sender, error) {
	defer s.lock()()
	if sn, ok := s.data.senders[idOrIdentifier]; ok && sn.TenantID == tenantID {
		cp := *sn
		return &cp, nil
	}
	for _, sn := range s.data.senders {
		if sn.TenantID == tenantID && sn.Identifier == idOrIdentifier {
			cp := *sn
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// Events

func cloneEvent(e *model.Event) *model.Event {
	cp := *e
	cp.Topics = slices.Clone(e.Topics)
	cp.Headers = slices.Clone(e.Headers)
	cp.OnlyForDestinations = slices.Clone(e.OnlyForDestinations)
	if e.Payload != nil {
		p := *e.Payload
		cp.Payload = &p
	}
	cp.Sender = nil
	return &cp
}

func (s *Store) CreateEvent(_ context.Context, e *model.Event) error {
	defer s.lock()()
	now := s.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	s.data.events[e.ID] = cloneEvent(e)
	return nil
}

func (s *Store) GetEvent(_ context.Context, id string) (*model.Event, error) {
	defer s.lock()()
	e, ok := s.data.events[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneEvent(e), nil
}

func (s *Store) ListEvents(_ context.Context, f model.EventFilter) ([]*model.Event, error) {
	defer s.lock()()
	var out []*model.Event
	for _, e := range s.data.events {
		if e.TenantID != f.TenantID {
			continue
		}
		if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
			continue
		}
		if len(f.SenderIDs) > 0 && !slices.Contains(f.SenderIDs, e.SenderID) {
			continue
		}
		if len(f.Topics) > 0 && !slices.ContainsFunc(e.Topics, func(t string) bool { return slices.Contains(f.Topics, t) }) {
			continue
		}
		out = append(out, cloneEvent(e))
	}
	return page(out, func(e *model.Event) string { return e.ID }, f.Page), nil
}

// updateEvent swaps in a modified copy of the event when cond holds.
func (s *Store) updateEvent(id string, cond func(*model.Event) bool, fn func(*model.Event)) (bool, error) {
	e, ok := s.data.events[id]
	if !ok {
		return false, nil
	}
	if cond != nil && !cond(e) {
		return false, nil
	}
	cp := cloneEvent(e)
	fn(cp)
	cp.UpdatedAt = s.Now()
	s.data.events[id] = cp
	return true, nil
}

func (s *Store) SetDestinationCount(_ context.Context, eventID string, count int) (bool, error) {
	defer s.lock()()
	return s.updateEvent(eventID,
		func(e *model.Event) bool { return e.Status == model.EventPending && e.DestinationCount < 0 },
		func(e *model.Event) { e.DestinationCount, e.SuccessCount, e.FailureCount = count, 0, 0 })
}

func (s *Store) IncrementEventCounter(_ context.Context, eventID string, succeeded bool) error {
	defer s.lock()()
	ok, _ := s.updateEvent(eventID, nil, func(e *model.Event) {
		if succeeded {
			e.SuccessCount++
		} else {
			e.FailureCount++
		}
	})
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FinalizeEvent(_ context.Context, eventID string, status model.EventStatus) (bool, error) {
	defer s.lock()()
	return s.updateEvent(eventID,
		func(e *model.Event) bool { return e.Status == model.EventPending && e.Resolved() },
		func(e *model.Event) { e.Status = status })
}

func (s *Store) ScrubEventPayload(_ context.Context, eventID string) error {
	defer s.lock()()
	ok, _ := s.updateEvent(eventID, nil, func(e *model.Event) {
		e.Payload, e.Headers, e.PayloadOffloaded = nil, nil, true
	})
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListEventIDsBefore(_ context.Context, before time.Time, cursor string, limit int) ([]string, error) {
	defer s.lock()()
	var ids []string
	for _, e := range s.data.events {
		if e.CreatedAt.Before(before) && (cursor == "" || e.ID < cursor) {
			ids = append(ids, e.ID)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Store) PurgeEvent(_ context.Context, eventID string) error {
	defer s.lock()()
	for id, in := range s.data.intents {
		if in.EventID != eventID {
			continue
		}
		for aid, a := range s.data.attempts {
			if a.IntentID == id {
				delete(s.data.attempts, aid)
			}
		}
		delete(s.data.intents, id)
	}
	delete(s.data.events, eventID)
	return nil
}

// Destinations

func (s *Store) CreateWebhook(_ context.Context, w *model.Webhook) error {
	defer s.lock()()
	w.CreatedAt = s.Now()
	cp := *w
	s.data.webhooks[w.ID] = &cp
	return nil
}

func cloneDestination(d *model.Destination) *model.Destination {
	cp := *d
	cp.EventTypes = slices.Clone(d.EventTypes)
	cp.CurrentInstance = nil
	return &cp
}

func (s *Store) CreateDestination(_ context.Context, d *model.Destination) error {
	defer s.lock()()
	now := s.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	s.data.destinations[d.ID] = cloneDestination(d)
	return nil
}

func (s *Store) CreateInstance(_ context.Context, inst *model.Instance) error {
	defer s.lock()()
	inst.CreatedAt = s.Now()
	cp := *inst
	cp.Webhook = nil
	s.data.instances[inst.ID] = &cp
	return nil
}

func (s *Store) UpdateDestination(_ context.Context, d *model.Destination) error {
	defer s.lock()()
	existing, ok := s.data.destinations[d.ID]
	if !ok || existing.DeletedAt != nil {
		return store.ErrNotFound
	}
	cp := cloneDestination(d)
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = s.Now()
	s.data.destinations[d.ID] = cp
	d.UpdatedAt = cp.UpdatedAt
	return nil
}

// joined returns a copy of d with its current instance and webhook attached.
func (s *Store) joined(d *model.Destination) *model.Destination {
	cp := cloneDestination(d)
	if inst, ok := s.data.instances[d.CurrentInstanceID]; ok {
		ic := *inst
		if w, ok := s.data.webhooks[inst.WebhookID]; ok {
			wc := *w
			ic.Webhook = &wc
		}
		cp.CurrentInstance = &ic
	}
	return cp
}

func (s *Store) GetDestination(_ context.Context, id string) (*model.Destination, error) {
	defer s.lock()()
	d, ok := s.data.destinations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.joined(d), nil
}

func (s *Store) ListDestinations(_ context.Context, f model.DestinationFilter) ([]*model.Destination, error) {
	defer s.lock()()
	var out []*model.Destination
	for _, d := range s.data.destinations {
		if d.TenantID == f.TenantID && d.DeletedAt == nil {
			out = append(out, s.joined(d))
		}
	}
	return page(out, func(d *model.Destination) string { return d.ID }, f.Page), nil
}

func (s *Store) ListActiveDestinations(_ context.Context, tenantID, senderID, eventType string) ([]*model.Destination, error) {
	defer s.lock()()
	var out []*model.Destination
	for _, d := range s.data.destinations {
		if d.TenantID != tenantID || d.SenderID != senderID {
			continue
		}
		if d.Status != model.DestinationActive || d.DeletedAt != nil || !d.Accepts(eventType) {
			continue
		}
		out = append(out, s.joined(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteDestination(_ context.Context, id string) error {
	defer s.lock()()
	d, ok := s.data.destinations[id]
	if !ok || d.DeletedAt != nil {
		return store.ErrNotFound
	}
	cp := cloneDestination(d)
	now := s.Now()
	cp.Status = model.DestinationInactive
	cp.DeletedAt = &now
	cp.UpdatedAt = now
	s.data.destinations[id] = cp
	return nil
}

// Intents

func (s *Store) intentRow(in *model.Intent) *model.Intent {
	cp := *in
	cp.Event, cp.Destination = nil, nil
	if e, ok := s.data.events[in.EventID]; ok {
		cp.TenantID = e.TenantID
	}
	return &cp
}

func (s *Store) CreateIntent(_ context.Context, in *model.Intent) (*model.Intent, error) {
	defer s.lock()()
	for _, existing := range s.data.intents {
		if existing.EventID == in.EventID && existing.DestinationID == in.DestinationID {
			return s.intentRow(existing), nil
		}
	}
	now := s.Now()
	cp := *in
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.data.intents[in.ID] = &cp
	return s.intentRow(&cp), nil
}

func (s *Store) GetIntent(_ context.Context, id string) (*model.Intent, error) {
	defer s.lock()()
	in, ok := s.data.intents[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.intentRow(in), nil
}

func (s *Store) ListIntents(_ context.Context, f model.IntentFilter) ([]*model.Intent, error) {
	defer s.lock()()
	var out []*model.Intent
	for _, in := range s.data.intents {
		row := s.intentRow(in)
		if row.TenantID != f.TenantID {
			continue
		}
		if len(f.EventIDs) > 0 && !slices.Contains(f.EventIDs, in.EventID) {
			continue
		}
		if len(f.DestinationIDs) > 0 && !slices.Contains(f.DestinationIDs, in.DestinationID) {
			continue
		}
		if len(f.Status) > 0 && !slices.Contains(f.Status, in.Status) {
			continue
		}
		out = append(out, row)
	}
	return page(out, func(i *model.Intent) string { return i.ID }, f.Page), nil
}

// updateIntent swaps in a modified copy of a non-terminal intent.
func (s *Store) updateIntent(id string, fn func(*model.Intent)) bool {
	in, ok := s.data.intents[id]
	if !ok || in.Status.IsTerminal() {
		return false
	}
	cp := *in
	fn(&cp)
	cp.UpdatedAt = s.Now()
	s.data.intents[id] = &cp
	return true
}

func (s *Store) ScheduleIntentRetry(_ context.Context, intentID string, next time.Time) error {
	defer s.lock()()
	s.updateIntent(intentID, func(in *model.Intent) {
		in.Status = model.IntentRetrying
		in.NextAttemptAt = &next
	})
	return nil
}

func (s *Store) ResolveIntent(_ context.Context, intentID string, status model.IntentStatus, code, msg string) (bool, error) {
	defer s.lock()()
	return s.updateIntent(intentID, func(in *model.Intent) {
		in.Status, in.ErrorCode, in.ErrorMessage, in.NextAttemptAt = status, code, msg, nil
	}), nil
}

func (s *Store) CloseEventIntents(_ context.Context, eventID, code, msg string) error {
	defer s.lock()()
	for id, in := range s.data.intents {
		if in.EventID == eventID {
			s.updateIntent(id, func(in *model.Intent) {
				in.Status, in.ErrorCode, in.ErrorMessage, in.NextAttemptAt = model.IntentFailed, code, msg, nil
			})
		}
	}
	return nil
}

// Attempts

func (s *Store) attemptRow(a *model.Attempt) *model.Attempt {
	cp := *a
	if a.ResponseStatusCode != nil {
		c := *a.ResponseStatusCode
		cp.ResponseStatusCode = &c
	}
	if in, ok := s.data.intents[a.IntentID]; ok {
		row := s.intentRow(in)
		cp.TenantID, cp.EventID, cp.DestinationID = row.TenantID, row.EventID, row.DestinationID
	}
	return &cp
}

func (s *Store) RecordAttempt(_ context.Context, a *model.Attempt) (bool, error) {
	defer s.lock()()
	in, ok := s.data.intents[a.IntentID]
	if !ok || in.AttemptCount != a.AttemptNumber-1 {
		return false, nil
	}
	at := a.CreatedAt
	if !s.updateIntent(a.IntentID, func(in *model.Intent) {
		in.AttemptCount = a.AttemptNumber
		in.LastAttemptAt = &at
	}) {
		return false, nil
	}
	s.data.attempts[a.ID] = s.attemptRow(a)
	return true, nil
}

func (s *Store) GetAttempt(_ context.Context, id string) (*model.Attempt, error) {
	defer s.lock()()
	a, ok := s.data.attempts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.attemptRow(a), nil
}

func (s *Store) GetLatestAttempt(_ context.Context, intentID string) (*model.Attempt, error) {
	defer s.lock()()
	var latest *model.Attempt
	for _, a := range s.data.attempts {
		if a.IntentID == intentID && (latest == nil || a.AttemptNumber > latest.AttemptNumber) {
			latest = a
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return s.attemptRow(latest), nil
}

func (s *Store) ListAttempts(_ context.Context, f model.AttemptFilter) ([]*model.Attempt, error) {
	defer s.lock()()
	var out []*model.Attempt
	for _, a := range s.data.attempts {
		row := s.attemptRow(a)
		if row.TenantID != f.TenantID {
			continue
		}
		if len(f.EventIDs) > 0 && !slices.Contains(f.EventIDs, row.EventID) {
			continue
		}
		if len(f.IntentIDs) > 0 && !slices.Contains(f.IntentIDs, row.IntentID) {
			continue
		}
		if len(f.DestinationIDs) > 0 && !slices.Contains(f.DestinationIDs, row.DestinationID) {
			continue
		}
		if len(f.Status) > 0 && !slices.Contains(f.Status, row.Status) {
			continue
		}
		out = append(out, row)
	}
	return page(out, func(a *model.Attempt) string { return a.ID }, f.Page), nil
}

func (s *Store) ListAttemptIDsForEvent(_ context.Context, eventID string) ([]string, error) {
	defer s.lock()()
	var ids []string
	for id, a := range s.data.attempts {
		if in, ok := s.data.intents[a.IntentID]; ok && in.EventID == eventID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// RunInTransaction serializes transactions and restores the previous
// state when fn fails.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Close() error { return nil }

// page orders rows by id descending and applies the cursor window.
func page[T any](rows []T, id func(T) string, p model.Page) []T {
	p = p.Normalize()
	sort.Slice(rows, func(i, j int) bool { return id(rows[i]) > id(rows[j]) })
	out := rows[:0]
	for _, r := range rows {
		if p.Cursor != "" && id(r) >= p.Cursor {
			continue
		}
		out = append(out, r)
		if len(out) == p.Limit {
			break
		}
	}
	return out
}
