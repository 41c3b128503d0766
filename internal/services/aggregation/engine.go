// Package aggregation keeps a read projection of every tenant's claims fed by
// claim store change events, and answers faceted queries and rollups from it
// without rescanning the store.
package aggregation

import (
	"strings"
	"sync"
	"time"

	"rcm-reconciliation-backend/internal/models"
	"rcm-reconciliation-backend/internal/services/claims"
)

type Engine struct {
	mu      sync.RWMutex
	tenants map[string]*tenantView
	now     func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		tenants: make(map[string]*tenantView),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type idSet map[string]struct{}

// tenantView holds one tenant's projection. mu is taken for writing by every
// change event and for reading by queries, so a query never observes half of
// a transition.
type tenantView struct {
	mu      sync.RWMutex
	version uint64
	claims  map[string]models.Claim

	byStatus   map[models.ClaimStatus]idSet
	byAgent    map[string]idSet
	byCategory map[models.DenialCategory]idSet

	totals counters

	agingMu sync.Mutex
	aging   *agingCache
}

func newTenantView() *tenantView {
	return &tenantView{
		claims:     make(map[string]models.Claim),
		byStatus:   make(map[models.ClaimStatus]idSet),
		byAgent:    make(map[string]idSet),
		byCategory: make(map[models.DenialCategory]idSet),
		totals:     newCounters(),
	}
}

func (e *Engine) tenant(tenantID string, create bool) *tenantView {
	e.mu.RLock()
	tv := e.tenants[tenantID]
	e.mu.RUnlock()
	if tv != nil || !create {
		return tv
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if tv = e.tenants[tenantID]; tv == nil {
		tv = newTenantView()
		e.tenants[tenantID] = tv
	}
	return tv
}

// OnClaimChange folds one change event into the projection. The previous
// contribution of the claim is removed before the new one is added, so the
// result never depends on how many events came before.
func (e *Engine) OnClaimChange(ev claims.ChangeEvent) {
	tv := e.tenant(ev.TenantID, true)
	tv.mu.Lock()
	defer tv.mu.Unlock()

	if prev, ok := tv.claims[ev.ClaimID]; ok {
		tv.remove(prev)
	}
	tv.add(ev.After.Clone())
	tv.version++
}

func agentKey(agent string) string {
	return strings.ToLower(strings.TrimSpace(agent))
}

func (tv *tenantView) add(c models.Claim) {
	tv.claims[c.ClaimID] = c
	index(tv.byStatus, c.Status, c.ClaimID)
	if c.AssignedAgent != "" {
		index(tv.byAgent, agentKey(c.AssignedAgent), c.ClaimID)
	}
	if c.DenialReasonCategory != "" {
		index(tv.byCategory, c.DenialReasonCategory, c.ClaimID)
	}
	tv.totals.apply(c, 1)
}

func (tv *tenantView) remove(c models.Claim) {
	delete(tv.claims, c.ClaimID)
	unindex(tv.byStatus, c.Status, c.ClaimID)
	if c.AssignedAgent != "" {
		unindex(tv.byAgent, agentKey(c.AssignedAgent), c.ClaimID)
	}
	if c.DenialReasonCategory != "" {
		unindex(tv.byCategory, c.DenialReasonCategory, c.ClaimID)
	}
	tv.totals.apply(c, -1)
}

func index[K comparable](m map[K]idSet, key K, id string) {
	set := m[key]
	if set == nil {
		set = make(idSet)
		m[key] = set
	}
	set[id] = struct{}{}
}

func unindex[K comparable](m map[K]idSet, key K, id string) {
	set := m[key]
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}

// Recompute rebuilds the tenant's counters from the projected claims and
// returns the resulting snapshot. Incremental maintenance must always agree
// with it.
func (e *Engine) Recompute(tenantID string) Snapshot {
	tv := e.tenant(tenantID, false)
	if tv == nil {
		return emptySnapshot(tenantID, e.now())
	}
	tv.mu.Lock()
	defer tv.mu.Unlock()

	tv.totals = newCounters()
	for _, c := range tv.claims {
		tv.totals.apply(c, 1)
	}
	tv.version++
	return tv.snapshot(tenantID, e.now())
}

// Snapshot returns the tenant's aggregates at the current projection state.
func (e *Engine) Snapshot(tenantID string) Snapshot {
	tv := e.tenant(tenantID, false)
	if tv == nil {
		return emptySnapshot(tenantID, e.now())
	}
	tv.mu.RLock()
	defer tv.mu.RUnlock()
	return tv.snapshot(tenantID, e.now())
}
