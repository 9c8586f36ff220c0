package delivery

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/metorial/signal/internal/idgen"
	"github.com/metorial/signal/internal/model"
	"github.com/metorial/signal/internal/store"
)

type senderEntry struct {
	sender  *model.Sender
	expires time.Time
}

// senderCache memoizes sender lookups for a short TTL. Concurrent misses for
// the same key share one store query.
type senderCache struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]senderEntry
}

func newSenderCache(s store.Store, ttl time.Duration, now func() time.Time) *senderCache {
	return &senderCache{store: s, ttl: ttl, now: now, entries: make(map[string]senderEntry)}
}

func (c *senderCache) get(ctx context.Context, tenantID, idOrIdentifier string) (*model.Sender, error) {
	key := tenantID + "/" + idOrIdentifier

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Before(e.expires) {
		return e.sender, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		sender, err := c.store.GetSender(ctx, tenantID, idOrIdentifier)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = senderEntry{sender: sender, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return sender, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Sender), nil
}

// forget drops cached lookups of a tenant's sender after an upsert.
func (c *senderCache) forget(tenantID string, keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, tenantID+"/"+k)
	}
}

// Sender resolves a sender of the tenant by id or identifier.
func (s *Service) Sender(ctx context.Context, tenantID, idOrIdentifier string) (*model.Sender, error) {
	return s.senders.get(ctx, tenantID, idOrIdentifier)
}

// UpsertSender creates or renames a sender and refreshes the cache.
func (s *Service) UpsertSender(ctx context.Context, sender *model.Sender) error {
	if sender.ID == "" {
		id, err := idgen.GenerateWithPrefix(idgen.PrefixSender)
		if err != nil {
			return err
		}
		sender.ID = id
	}
	if err := s.store.UpsertSender(ctx, sender); err != nil {
		return err
	}
	s.senders.forget(sender.TenantID, sender.ID, sender.Identifier)
	return nil
}
