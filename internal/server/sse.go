package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/metorial/signal/internal/events"
)

const (
	// sseRingBufferSize is the number of recent notifications kept in memory
	// for Last-Event-ID reconnection support.
	sseRingBufferSize = 1000

	// sseKeepaliveInterval is how often keepalive comments are sent to
	// prevent connection timeouts.
	sseKeepaliveInterval = 15 * time.Second
)

// notificationTopics are the lifecycle subjects relayed to stream clients.
var notificationTopics = []string{
	events.TopicEventDelivered,
	events.TopicEventFailed,
	events.TopicIntentDelivered,
	events.TopicIntentFailed,
}

// sseEvent is a single notification stored in the ring buffer and sent to
// SSE clients.
type sseEvent struct {
	ID       uint64 // monotonically increasing sequence number
	Topic    string
	TenantID string
	Data     []byte // JSON-encoded payload
}

// sseHub fans out lifecycle notifications to connected SSE clients.
type sseHub struct {
	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	nextID  atomic.Uint64

	ringMu  sync.RWMutex
	ring    [sseRingBufferSize]sseEvent
	ringPos int // next write position (wraps around)
	ringLen int // number of valid entries (up to sseRingBufferSize)
}

// sseClient represents a single connected stream of one tenant.
type sseClient struct {
	tenantID string
	topics   []string // topic patterns to match (empty = all)
	ch       chan *sseEvent
}

func newSSEHub() *sseHub {
	return &sseHub{
		clients: make(map[*sseClient]struct{}),
	}
}

// broadcast sends a notification to every matching client.
func (h *sseHub) broadcast(topic, tenantID string, payload []byte) {
	evt := &sseEvent{
		ID:       h.nextID.Add(1),
		Topic:    topic,
		TenantID: tenantID,
		Data:     payload,
	}

	h.ringMu.Lock()
	h.ring[h.ringPos] = *evt
	h.ringPos = (h.ringPos + 1) % sseRingBufferSize
	if h.ringLen < sseRingBufferSize {
		h.ringLen++
	}
	h.ringMu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.matches(evt) {
			select {
			case c.ch <- evt:
			default:
				// Slow client; drop rather than block the relay.
			}
		}
	}
}

func (h *sseHub) subscribe(tenantID string, topics []string) *sseClient {
	c := &sseClient{
		tenantID: tenantID,
		topics:   topics,
		ch:       make(chan *sseEvent, 64),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// eventsSince returns buffered notifications with ID > lastID, oldest first.
func (h *sseHub) eventsSince(lastID uint64) []*sseEvent {
	h.ringMu.RLock()
	defer h.ringMu.RUnlock()

	var result []*sseEvent
	start := h.ringPos - h.ringLen
	if start < 0 {
		start += sseRingBufferSize
	}
	for i := range h.ringLen {
		evt := &h.ring[(start+i)%sseRingBufferSize]
		if evt.ID > lastID {
			result = append(result, evt)
		}
	}
	return result
}

func (c *sseClient) matches(evt *sseEvent) bool {
	if evt.TenantID != c.tenantID {
		return false
	}
	if len(c.topics) == 0 {
		return true
	}
	for _, pattern := range c.topics {
		if matchTopicPattern(pattern, evt.Topic) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches a dot-separated topic against a pattern.
// Supports "*" as a single-segment wildcard and ">" as a multi-segment
// suffix wildcard (NATS-style).
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patParts := strings.Split(pattern, ".")
	topParts := strings.Split(topic, ".")

	for i, pp := range patParts {
		if pp == ">" {
			return i < len(topParts)
		}
		if i >= len(topParts) {
			return false
		}
		if pp != "*" && pp != topParts[i] {
			return false
		}
	}

	return len(patParts) == len(topParts)
}

// Publish broadcasts a lifecycle notification to stream clients, letting
// the Server stand in for the event bus when worker and API share a process.
func (s *Server) Publish(_ context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}
	s.broadcastRaw(topic, payload)
	return nil
}

// Close implements events.Publisher.
func (s *Server) Close() error { return nil }

func (s *Server) broadcastRaw(topic string, payload []byte) {
	var scope struct {
		TenantID string `json:"tenant_id"`
	}
	if err := json.Unmarshal(payload, &scope); err != nil || scope.TenantID == "" {
		s.logger.Warn("dropping notification without tenant", "topic", topic)
		return
	}
	s.hub.broadcast(topic, scope.TenantID, payload)
}

// RelayNotifications forwards lifecycle notifications from sub to stream
// clients until ctx is done.
func (s *Server) RelayNotifications(ctx context.Context, sub events.Subscriber) error {
	var wg sync.WaitGroup
	for _, topic := range notificationTopics {
		ch, cancel, err := sub.Subscribe(topic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-ch:
					if !ok {
						return
					}
					s.broadcastRaw(topic, payload)
				}
			}
		}()
	}
	wg.Wait()
	return nil
}

// handleNotificationStream handles GET /v1/tenants/{tenant}/notifications/stream.
func (s *Server) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	tenant, ok := s.tenant(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	client := s.hub.subscribe(tenant.ID, listParam(r, "topics"))
	defer s.hub.unsubscribe(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if lastID, err := strconv.ParseUint(lastIDStr, 10, 64); err == nil {
			for _, evt := range s.hub.eventsSince(lastID) {
				if client.matches(evt) {
					writeSSEEvent(w, evt)
				}
			}
			flusher.Flush()
		}
	}

	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-client.ch:
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt *sseEvent) {
	fmt.Fprintf(w, "id:%d\n", evt.ID)
	fmt.Fprintf(w, "event:%s\n", evt.Topic)
	fmt.Fprintf(w, "data:%s\n\n", evt.Data)
}
