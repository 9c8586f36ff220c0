package queue

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryBackend keeps tasks in process memory. It is used by tests and by
// single-process development setups.
type MemoryBackend struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// Compile-time check that MemoryBackend implements Backend.
var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tasks: make(map[string]*Task)}
}

func (m *MemoryBackend) pendingDuplicate(t *Task) *Task {
	if t.DedupeKey == "" {
		return nil
	}
	for _, other := range m.tasks {
		if other.ID != t.ID && other.Status == StatusPending && other.Type == t.Type && other.DedupeKey == t.DedupeKey {
			return other
		}
	}
	return nil
}

func (m *MemoryBackend) Push(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dup := m.pendingDuplicate(t); dup != nil {
		dup.Payload = t.Payload
		dup.RunAt = t.RunAt
		return nil
	}
	c := *t
	c.Status = StatusPending
	m.tasks[c.ID] = &c
	return nil
}

func (m *MemoryBackend) Claim(_ context.Context, types []string, now time.Time, lease time.Duration, limit int) ([]*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ready []*Task
	for _, t := range m.tasks {
		if !slices.Contains(types, t.Type) {
			continue
		}
		runnable := (t.Status == StatusPending && !t.RunAt.After(now)) ||
			(t.Status == StatusRunning && t.LockedUntil.Before(now))
		if runnable {
			ready = append(ready, t)
		}
	}
	slices.SortFunc(ready, func(a, b *Task) int {
		if c := a.RunAt.Compare(b.RunAt); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}

	out := make([]*Task, len(ready))
	for i, t := range ready {
		t.Status = StatusRunning
		t.Attempts++
		t.LockedUntil = now.Add(lease)
		c := *t
		out[i] = &c
	}
	return out, nil
}

func (m *MemoryBackend) Complete(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, t.ID)
	return nil
}

func (m *MemoryBackend) Retry(_ context.Context, t *Task, runAt time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.tasks[t.ID]
	if !ok {
		return nil
	}
	if m.pendingDuplicate(stored) != nil {
		delete(m.tasks, t.ID)
		return nil
	}
	stored.Status = StatusPending
	stored.RunAt = runAt
	stored.LastError = reason
	stored.LockedUntil = time.Time{}
	return nil
}

func (m *MemoryBackend) Bury(_ context.Context, t *Task, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stored, ok := m.tasks[t.ID]; ok {
		stored.Status = StatusDead
		stored.LastError = reason
		stored.LockedUntil = time.Time{}
	}
	return nil
}

// Tasks returns a snapshot of every stored task, ordered by run time.
func (m *MemoryBackend) Tasks() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b Task) int { return a.RunAt.Compare(b.RunAt) })
	return out
}
