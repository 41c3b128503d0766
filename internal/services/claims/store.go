// Package claims is the authoritative per-tenant claim store. It is the only
// component allowed to mutate claim state; every mutation is serialized per
// (tenant, claim) and published to listeners as a ChangeEvent.
package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"
	"gorm.io/datatypes"

	"rcm-reconciliation-backend/internal/models"
	"rcm-reconciliation-backend/internal/taxonomy"
)

var (
	ErrNotFound      = errors.New("claim not found")
	ErrAlreadyExists = errors.New("claim already exists")
	ErrInvalidClaim  = errors.New("invalid claim")
	ErrInvalidEvent  = errors.New("invalid claim event")
)

// ManualBatchID tags audit rows written for manual actions.
const ManualBatchID = "manual"

// Persister is the durable side of the store. The in-memory state is only
// updated after the persister accepts a write.
type Persister interface {
	CreateClaim(ctx context.Context, c *models.Claim) error
	SaveTransition(ctx context.Context, c *models.Claim, ev *models.ClaimEvent) error
	LoadClaims(ctx context.Context, tenantID string) ([]models.Claim, error)
	LoadClaimEvents(ctx context.Context, tenantID string) ([]models.ClaimEvent, error)
}

type Store struct {
	mu        sync.RWMutex
	tenants   map[string]*tenantClaims
	persister Persister
	taxonomy  *taxonomy.Taxonomy
	now       func() time.Time

	listenersMu sync.RWMutex
	listeners   []Listener
}

type tenantClaims struct {
	mu         sync.RWMutex
	claims     map[string]*entry
	normalized map[string][]string
}

type entry struct {
	mu      sync.Mutex
	claim   models.Claim
	applied map[string]struct{}
}

type Option func(*Store)

func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

func WithTaxonomy(t *taxonomy.Taxonomy) Option {
	return func(s *Store) { s.taxonomy = t }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithListener(l Listener) Option {
	return func(s *Store) { s.listeners = append(s.listeners, l) }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		tenants:  make(map[string]*tenantClaims),
		taxonomy: taxonomy.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers l for every subsequent change event.
func (s *Store) Subscribe(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Now is the store's clock, shared with read projections.
func (s *Store) Now() time.Time {
	return s.now()
}

func (s *Store) tenant(tenantID string, create bool) *tenantClaims {
	s.mu.RLock()
	tc := s.tenants[tenantID]
	s.mu.RUnlock()
	if tc != nil || !create {
		return tc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tc = s.tenants[tenantID]; tc == nil {
		tc = &tenantClaims{
			claims:     make(map[string]*entry),
			normalized: make(map[string][]string),
		}
		s.tenants[tenantID] = tc
	}
	return tc
}

func (s *Store) lookup(tenantID, claimID string) (*entry, error) {
	tc := s.tenant(tenantID, false)
	if tc == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, tenantID, claimID)
	}
	tc.mu.RLock()
	e := tc.claims[claimID]
	tc.mu.RUnlock()
	if e == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, tenantID, claimID)
	}
	return e, nil
}

// Create registers a new Pending claim from intake.
func (s *Store) Create(ctx context.Context, c models.Claim) (models.Claim, error) {
	if c.TenantID == "" || c.ClaimID == "" {
		return models.Claim{}, fmt.Errorf("%w: tenant and claim id are required", ErrInvalidClaim)
	}
	if c.BilledAmount.IsNegative() {
		return models.Claim{}, fmt.Errorf("%w: billed amount must be >= 0", ErrInvalidClaim)
	}

	now := s.now()
	c.Status = models.ClaimPending
	c.DenialReasonCategory = ""
	c.LastDenialCategory = ""
	c.TouchCount = 0
	c.FirstDeniedAt = nil
	c.ResolvedAt = nil
	if c.SubmittedAt.IsZero() {
		c.SubmittedAt = now
	}
	c.LastActivityAt = c.SubmittedAt
	c.CreatedAt = now
	c.UpdatedAt = now

	tc := s.tenant(c.TenantID, true)
	tc.mu.Lock()
	if _, exists := tc.claims[c.ClaimID]; exists {
		tc.mu.Unlock()
		return models.Claim{}, fmt.Errorf("%w: %s/%s", ErrAlreadyExists, c.TenantID, c.ClaimID)
	}
	if s.persister != nil {
		if err := s.persister.CreateClaim(ctx, &c); err != nil {
			tc.mu.Unlock()
			return models.Claim{}, fmt.Errorf("persist claim %s: %w", c.ClaimID, err)
		}
	}
	e := &entry{claim: c, applied: make(map[string]struct{})}
	e.mu.Lock()
	tc.insert(e)
	tc.mu.Unlock()

	s.emit(ChangeEvent{
		Kind:      ChangeCreated,
		TenantID:  c.TenantID,
		ClaimID:   c.ClaimID,
		NewStatus: c.Status,
		NewAgent:  c.AssignedAgent,
		After:     c.Clone(),
		Timestamp: now,
	})
	e.mu.Unlock()

	log.Debugf("[ClaimStore] created %s/%s billed=%s", c.TenantID, c.ClaimID, c.BilledAmount)
	return c.Clone(), nil
}

// insert must be called with tc.mu held.
func (tc *tenantClaims) insert(e *entry) {
	id := e.claim.ClaimID
	tc.claims[id] = e
	norm := NormalizeClaimID(id)
	tc.normalized[norm] = append(tc.normalized[norm], id)
}

// Load hydrates a tenant from the persister. Claims already in memory are kept.
func (s *Store) Load(ctx context.Context, tenantID string) (int, error) {
	if s.persister == nil {
		return 0, nil
	}
	rows, err := s.persister.LoadClaims(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("load claims for %s: %w", tenantID, err)
	}
	events, err := s.persister.LoadClaimEvents(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("load claim events for %s: %w", tenantID, err)
	}
	applied := make(map[string]map[string]struct{})
	for _, ev := range events {
		if ev.BatchID == "" || ev.BatchID == ManualBatchID {
			continue
		}
		if applied[ev.ClaimID] == nil {
			applied[ev.ClaimID] = make(map[string]struct{})
		}
		applied[ev.ClaimID][sourceKey(ev.BatchID, ev.TransactionSeq)] = struct{}{}
	}

	tc := s.tenant(tenantID, true)
	var loaded []*entry
	tc.mu.Lock()
	for _, c := range rows {
		if c.TenantID != tenantID {
			continue
		}
		if _, exists := tc.claims[c.ClaimID]; exists {
			continue
		}
		keys := applied[c.ClaimID]
		if keys == nil {
			keys = make(map[string]struct{})
		}
		e := &entry{claim: c, applied: keys}
		e.mu.Lock()
		tc.insert(e)
		loaded = append(loaded, e)
	}
	tc.mu.Unlock()

	now := s.now()
	for _, e := range loaded {
		c := e.claim
		s.emit(ChangeEvent{
			Kind:        ChangeLoaded,
			TenantID:    c.TenantID,
			ClaimID:     c.ClaimID,
			NewStatus:   c.Status,
			NewCategory: c.DenialReasonCategory,
			NewAgent:    c.AssignedAgent,
			After:       c.Clone(),
			Timestamp:   now,
		})
		e.mu.Unlock()
	}

	log.Infof("[ClaimStore] loaded %d claims for tenant %s", len(loaded), tenantID)
	return len(loaded), nil
}

func (s *Store) Get(tenantID, claimID string) (models.Claim, error) {
	e, err := s.lookup(tenantID, claimID)
	if err != nil {
		return models.Claim{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.claim.Clone(), nil
}

// FindNormalized returns the ids of every claim whose normalized id equals
// normalized, sorted.
func (s *Store) FindNormalized(tenantID, normalized string) []string {
	tc := s.tenant(tenantID, false)
	if tc == nil {
		return nil
	}
	tc.mu.RLock()
	ids := append([]string(nil), tc.normalized[normalized]...)
	tc.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// List returns a copy of every claim of the tenant ordered by claim id.
func (s *Store) List(tenantID string) []models.Claim {
	tc := s.tenant(tenantID, false)
	if tc == nil {
		return nil
	}
	tc.mu.RLock()
	entries := make([]*entry, 0, len(tc.claims))
	for _, e := range tc.claims {
		entries = append(entries, e)
	}
	tc.mu.RUnlock()

	out := make([]models.Claim, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.claim.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimID < out[j].ClaimID })
	return out
}

func (s *Store) Tenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tenants))
	for id := range s.tenants {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ApplyTransition runs ev through the claim state machine. Redundant events
// (already-applied source, terminal state, no effective change) return a
// NoOp result and no error.
func (s *Store) ApplyTransition(ctx context.Context, tenantID, claimID string, ev Event) (Result, error) {
	e, err := s.lookup(tenantID, claimID)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.claim.Clone()
	noop := Result{Claim: before, OldStatus: before.Status, NewStatus: before.Status, NoOp: true}

	key := ev.sourceKey()
	if key != "" {
		if _, seen := e.applied[key]; seen {
			return noop, nil
		}
	}

	now := s.now()
	after, changed, err := s.next(before.Clone(), ev, now)
	if err != nil {
		return Result{}, err
	}
	if !changed {
		return noop, nil
	}
	after.TouchCount++
	after.LastActivityAt = now
	after.UpdatedAt = now

	if s.persister != nil {
		audit := s.auditRow(before, after, ev, now)
		if err := s.persister.SaveTransition(ctx, &after, audit); err != nil {
			return Result{}, fmt.Errorf("persist transition %s/%s: %w", tenantID, claimID, err)
		}
	}

	e.claim = after
	if key != "" {
		e.applied[key] = struct{}{}
	}

	s.emit(ChangeEvent{
		Kind:        ChangeTransition,
		TenantID:    tenantID,
		ClaimID:     claimID,
		OldStatus:   before.Status,
		NewStatus:   after.Status,
		OldCategory: before.DenialReasonCategory,
		NewCategory: after.DenialReasonCategory,
		OldAgent:    before.AssignedAgent,
		NewAgent:    after.AssignedAgent,
		Before:      &before,
		After:       after.Clone(),
		Timestamp:   now,
	})

	return Result{Claim: after.Clone(), OldStatus: before.Status, NewStatus: after.Status}, nil
}

func (s *Store) auditRow(before, after models.Claim, ev Event, now time.Time) *models.ClaimEvent {
	batchID, seq := ev.BatchID, ev.Seq
	if batchID == "" {
		batchID, seq = ManualBatchID, after.TouchCount
	}
	performedBy := ev.Actor
	if performedBy == "" {
		performedBy = "reconciliation"
	}
	details, _ := json.Marshal(map[string]interface{}{
		"amount": ev.Amount.String(),
		"codes":  ev.Codes,
		"agent":  ev.Agent,
		"touch":  after.TouchCount,
	})
	return &models.ClaimEvent{
		ID:             uuid.New(),
		TenantID:       after.TenantID,
		ClaimID:        after.ClaimID,
		BatchID:        batchID,
		TransactionSeq: seq,
		Action:         string(ev.Kind),
		OldStatus:      before.Status,
		NewStatus:      after.Status,
		OldCategory:    before.DenialReasonCategory,
		NewCategory:    after.DenialReasonCategory,
		PerformedBy:    performedBy,
		Details:        datatypes.JSON(details),
		CreatedAt:      now,
	}
}

func (s *Store) emit(ev ChangeEvent) {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	for _, l := range s.listeners {
		l.OnClaimChange(ev)
	}
}
