// Package feed publishes claim change events to downstream consumers.
package feed

import (
	"sync"
	"sync/atomic"

	"github.com/labstack/gommon/log"

	"rcm-reconciliation-backend/internal/services/claims"
)

const DefaultBuffer = 256

// Hub fans change events out to subscribers. Delivery never blocks the claim
// store: a subscriber whose buffer is full loses the event and the loss is
// counted.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*Subscription)}
}

type Subscription struct {
	id       uint64
	tenantID string
	ch       chan claims.ChangeEvent
	hub      *Hub
	once     sync.Once
	dropped  atomic.Uint64
}

// C delivers events in the order the store emitted them.
func (s *Subscription) C() <-chan claims.ChangeEvent {
	return s.ch
}

func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.ch)
	})
}

// Subscribe registers a consumer. An empty tenantID receives every tenant.
func (h *Hub) Subscribe(tenantID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{
		id:       h.nextID,
		tenantID: tenantID,
		ch:       make(chan claims.ChangeEvent, buffer),
		hub:      h,
	}
	h.subs[sub.id] = sub
	return sub
}

func (h *Hub) OnClaimChange(ev claims.ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.tenantID != "" && sub.tenantID != ev.TenantID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			h.dropped.Add(1)
			log.Warnf("[Feed] subscriber %d full, dropped %s/%s %s", sub.id, ev.TenantID, ev.ClaimID, ev.Kind)
		}
	}
}

// Dropped is the number of deliveries lost across all subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
