// Package reconciliation coordinates remittance runs: one background worker
// per submitted batch, at most one running batch per tenant, progress that
// only moves forward, and cooperative cancellation between transactions.
package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"rcm-reconciliation-backend/internal/locker"
	"rcm-reconciliation-backend/internal/models"
	"rcm-reconciliation-backend/internal/services/matching"
	"rcm-reconciliation-backend/internal/services/remittance"
)

var (
	ErrRunInProgress    = errors.New("a reconciliation run is already in progress for this tenant")
	ErrRunNotFound      = errors.New("reconciliation run not found")
	ErrAlreadyCompleted = errors.New("reconciliation run already completed")
	ErrInvalidTenant    = errors.New("tenant id is required")
)

const (
	DefaultInactivityWindow   = 5 * time.Minute
	DefaultProgressFlushEvery = 100

	reasonCancelled = "cancelled"
	reasonAbandoned = "abandoned: process restarted while running"
)

// Matcher resolves and applies a single transaction.
type Matcher interface {
	Match(ctx context.Context, tenantID string, tx models.RemittanceTransaction) matching.Outcome
}

// RunRepository persists run records for audit and for status queries after
// a restart.
type RunRepository interface {
	SaveRun(ctx context.Context, run *models.ReconciliationRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.ReconciliationRun, error)
	ListRuns(ctx context.Context, tenantID string) ([]models.ReconciliationRun, error)
}

type Service struct {
	matcher    Matcher
	runRepo    RunRepository
	locks      *locker.Locker
	now        func() time.Time
	inactivity time.Duration
	flushEvery int

	mu   sync.RWMutex
	runs map[uuid.UUID]*runState
}

type Option func(*Service)

func WithRunRepository(r RunRepository) Option {
	return func(s *Service) { s.runRepo = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithInactivityWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.inactivity = d
		}
	}
}

func WithProgressFlushEvery(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.flushEvery = n
		}
	}
}

func NewService(matcher Matcher, opts ...Option) *Service {
	s := &Service{
		matcher:    matcher,
		locks:      locker.New(),
		now:        time.Now,
		inactivity: DefaultInactivityWindow,
		flushEvery: DefaultProgressFlushEvery,
		runs:       make(map[uuid.UUID]*runState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// runState is the live, in-memory side of a run. mu guards run and the
// collected records; the worker holds it only between transactions.
type runState struct {
	mu          sync.Mutex
	run         models.ReconciliationRun
	unmatched   []models.UnmatchedTransaction
	parseErrors []models.TransactionParseError

	cancelRequested atomic.Bool
	done            chan struct{}
}

// snapshot must be called with st.mu held.
func (st *runState) snapshot() models.ReconciliationRun {
	run := st.run
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		run.CompletedAt = &t
	}
	run.Unmatched = marshalJSON(st.unmatched)
	run.ParseErrors = marshalJSON(st.parseErrors)
	return run
}

func marshalJSON[T any](items []T) []byte {
	if len(items) == 0 {
		return nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil
	}
	return b
}

// Submit registers a run for tenantID and starts processing batch in the
// background. A tenant with a running batch is rejected, never queued.
func (s *Service) Submit(ctx context.Context, tenantID string, batch []byte) (uuid.UUID, error) {
	if tenantID == "" {
		return uuid.Nil, ErrInvalidTenant
	}

	id := uuid.New()
	if ok, holder := s.locks.TryLock(tenantID, id.String()); !ok {
		return uuid.Nil, fmt.Errorf("%w: tenant %s is running %s", ErrRunInProgress, tenantID, holder)
	}

	now := s.now()
	st := &runState{
		run: models.ReconciliationRun{
			ID:             id,
			TenantID:       tenantID,
			State:          models.RunRunning,
			StartedAt:      now,
			LastProgressAt: now,
		},
		done: make(chan struct{}),
	}
	if s.runRepo != nil {
		run := st.run
		if err := s.runRepo.SaveRun(ctx, &run); err != nil {
			s.locks.Unlock(tenantID, id.String())
			return uuid.Nil, fmt.Errorf("persist run: %w", err)
		}
	}

	s.mu.Lock()
	s.runs[id] = st
	s.mu.Unlock()

	log.Infof("[Coordinator] run %s started for tenant %s (%d bytes)", id, tenantID, len(batch))
	go s.execute(st, batch)
	return id, nil
}

func (s *Service) execute(st *runState, data []byte) {
	ctx := context.Background()
	tenantID, runID := st.run.TenantID, st.run.ID
	defer close(st.done)

	batch, err := remittance.Parse(data)
	if err != nil {
		log.Warnf("[Parser] run %s: %v", runID, err)
		s.finish(ctx, st, models.RunFailed, err.Error())
		return
	}

	st.mu.Lock()
	st.run.BatchID = batch.BatchID
	st.run.TotalCount = batch.Total()
	for _, perr := range batch.LineErrors {
		st.parseErrors = append(st.parseErrors, perr)
		st.run.FailedCount++
		st.run.ProcessedCount++
	}
	s.progress(st)
	st.mu.Unlock()
	s.flush(ctx, st)

	log.Infof("[Coordinator] run %s batch %s (%s): %d transactions, %d malformed",
		runID, batch.BatchID, batch.Format, len(batch.Transactions), len(batch.LineErrors))

	for i, tx := range batch.Transactions {
		if st.cancelRequested.Load() {
			st.mu.Lock()
			st.run.SkippedCount = len(batch.Transactions) - i
			st.mu.Unlock()
			s.finish(ctx, st, models.RunFailed, reasonCancelled)
			return
		}

		outcome := s.matcher.Match(ctx, tenantID, tx)

		st.mu.Lock()
		s.record(st, tx, outcome)
		s.progress(st)
		processed := st.run.ProcessedCount
		st.mu.Unlock()

		if processed%s.flushEvery == 0 {
			s.flush(ctx, st)
		}
	}

	s.finish(ctx, st, models.RunCompleted, "")
}

// record must be called with st.mu held.
func (s *Service) record(st *runState, tx models.RemittanceTransaction, out matching.Outcome) {
	st.run.ProcessedCount++
	switch {
	case out.Counted():
		st.run.MatchedCount++
		if out.Kind == matching.OutcomeNoOp {
			st.run.NoOpCount++
		}
	case out.Kind == matching.OutcomeUnmatched || out.Kind == matching.OutcomeAmbiguous:
		st.run.UnmatchedCount++
		st.unmatched = append(st.unmatched, out.Unmatched(tx))
	default:
		st.run.FailedCount++
	}
}

// progress must be called with st.mu held. The fraction is derived from
// counts that never decrease, so it never regresses.
func (s *Service) progress(st *runState) {
	if st.run.TotalCount > 0 {
		st.run.ProgressFraction = float64(st.run.ProcessedCount) / float64(st.run.TotalCount)
	}
	st.run.LastProgressAt = s.now()
}

func (s *Service) flush(ctx context.Context, st *runState) {
	if s.runRepo == nil {
		return
	}
	st.mu.Lock()
	run := st.snapshot()
	st.mu.Unlock()
	if err := s.runRepo.SaveRun(ctx, &run); err != nil {
		log.Errorf("[Coordinator] persist run %s progress: %v", run.ID, err)
	}
}

// finish records the terminal state. The tenant lock is released under st.mu
// so no reader observes a finished run while the tenant is still held. A
// cancel accepted after the last transaction still ends the run as cancelled.
func (s *Service) finish(ctx context.Context, st *runState, state models.RunState, reason string) {
	now := s.now()
	st.mu.Lock()
	if state == models.RunCompleted && st.cancelRequested.Load() {
		state, reason = models.RunFailed, reasonCancelled
	}
	s.locks.Unlock(st.run.TenantID, st.run.ID.String())
	st.run.State = state
	st.run.FailureReason = reason
	st.run.CompletedAt = &now
	st.run.LastProgressAt = now
	if state == models.RunCompleted {
		st.run.ProgressFraction = 1
	}
	run := st.snapshot()
	st.mu.Unlock()

	if s.runRepo != nil {
		if err := s.runRepo.SaveRun(ctx, &run); err != nil {
			log.Errorf("[Coordinator] persist run %s result: %v", run.ID, err)
		}
	}

	if state == models.RunCompleted {
		log.Infof("[Coordinator] run %s completed: processed=%d matched=%d noop=%d unmatched=%d failed=%d",
			run.ID, run.ProcessedCount, run.MatchedCount, run.NoOpCount, run.UnmatchedCount, run.FailedCount)
	} else {
		log.Warnf("[Coordinator] run %s failed (%s): processed=%d skipped=%d",
			run.ID, reason, run.ProcessedCount, run.SkippedCount)
	}
}

func (s *Service) live(runID uuid.UUID) *runState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs[runID]
}

// Status returns a consistent snapshot of the run. Stalled is set when a
// running run has made no progress within the inactivity window; nothing is
// cancelled automatically.
func (s *Service) Status(ctx context.Context, runID uuid.UUID) (models.ReconciliationRun, error) {
	var run models.ReconciliationRun
	if st := s.live(runID); st != nil {
		st.mu.Lock()
		run = st.snapshot()
		st.mu.Unlock()
	} else {
		stored, err := s.stored(ctx, runID)
		if err != nil {
			return models.ReconciliationRun{}, err
		}
		run = *stored
	}
	run.Stalled = run.Active() && s.now().Sub(run.LastProgressAt) > s.inactivity
	return run, nil
}

func (s *Service) stored(ctx context.Context, runID uuid.UUID) (*models.ReconciliationRun, error) {
	if s.runRepo == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	run, err := s.runRepo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// Cancel asks the run's worker to stop before its next transaction.
// Transactions already applied stay applied.
func (s *Service) Cancel(ctx context.Context, runID uuid.UUID) error {
	st := s.live(runID)
	if st == nil {
		return s.cancelStored(ctx, runID)
	}

	st.mu.Lock()
	if !st.run.Active() {
		st.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, runID)
	}
	st.cancelRequested.Store(true)
	st.mu.Unlock()
	log.Infof("[Coordinator] cancel requested for run %s", runID)
	return nil
}

// cancelStored handles runs this process is not executing. A stored run
// still marked running was orphaned by a restart and is closed out as failed.
func (s *Service) cancelStored(ctx context.Context, runID uuid.UUID) error {
	run, err := s.stored(ctx, runID)
	if err != nil {
		return err
	}
	if !run.Active() {
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, runID)
	}
	now := s.now()
	run.State = models.RunFailed
	run.FailureReason = reasonAbandoned
	run.SkippedCount = run.TotalCount - run.ProcessedCount
	run.CompletedAt = &now
	if err := s.runRepo.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("persist run: %w", err)
	}
	log.Warnf("[Coordinator] closed orphaned run %s", runID)
	return nil
}

// Wait blocks until the run leaves the running state or ctx is done.
func (s *Service) Wait(ctx context.Context, runID uuid.UUID) (models.ReconciliationRun, error) {
	st := s.live(runID)
	if st == nil {
		return s.Status(ctx, runID)
	}
	select {
	case <-st.done:
		return s.Status(ctx, runID)
	case <-ctx.Done():
		return models.ReconciliationRun{}, ctx.Err()
	}
}

// List returns the tenant's runs, newest first. Live runs take precedence
// over their stored copies.
func (s *Service) List(ctx context.Context, tenantID string) ([]models.ReconciliationRun, error) {
	byID := make(map[uuid.UUID]models.ReconciliationRun)
	if s.runRepo != nil {
		stored, err := s.runRepo.ListRuns(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		for _, run := range stored {
			byID[run.ID] = run
		}
	}

	s.mu.RLock()
	live := make([]*runState, 0, len(s.runs))
	for _, st := range s.runs {
		live = append(live, st)
	}
	s.mu.RUnlock()
	for _, st := range live {
		st.mu.Lock()
		if st.run.TenantID == tenantID {
			byID[st.run.ID] = st.snapshot()
		}
		st.mu.Unlock()
	}

	now := s.now()
	out := make([]models.ReconciliationRun, 0, len(byID))
	for _, run := range byID {
		run.Stalled = run.Active() && now.Sub(run.LastProgressAt) > s.inactivity
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}
