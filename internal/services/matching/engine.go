// Package matching resolves remittance transactions to claims and drives the
// claim store transition for each one.
package matching

import (
	"context"
	"errors"

	"github.com/labstack/gommon/log"

	"rcm-reconciliation-backend/internal/models"
	"rcm-reconciliation-backend/internal/services/claims"
	"rcm-reconciliation-backend/internal/taxonomy"
)

// ClaimStore is the subset of the claim store the matcher needs.
type ClaimStore interface {
	Get(tenantID, claimID string) (models.Claim, error)
	FindNormalized(tenantID, normalized string) []string
	ApplyTransition(ctx context.Context, tenantID, claimID string, ev claims.Event) (claims.Result, error)
}

type OutcomeKind string

const (
	OutcomeMatched   OutcomeKind = "matched"
	OutcomeNoOp      OutcomeKind = "noop"
	OutcomeUnmatched OutcomeKind = "unmatched"
	OutcomeAmbiguous OutcomeKind = "ambiguous"
	OutcomeFailed    OutcomeKind = "failed"
)

// Outcome is the result of matching one transaction. ClaimID is empty for
// unmatched and ambiguous outcomes; Candidates lists the colliding ids for
// ambiguous ones.
type Outcome struct {
	Kind       OutcomeKind
	ClaimID    string
	Candidates []string
	OldStatus  models.ClaimStatus
	NewStatus  models.ClaimStatus
	Err        error
}

// Counted reports whether the outcome belongs to the matched total. A no-op
// is a match against a claim that already reflects the transaction.
func (o Outcome) Counted() bool {
	return o.Kind == OutcomeMatched || o.Kind == OutcomeNoOp
}

// Unmatched converts a non-matching outcome into the record kept on the run.
func (o Outcome) Unmatched(tx models.RemittanceTransaction) models.UnmatchedTransaction {
	reason := models.UnmatchedNotFound
	if o.Kind == OutcomeAmbiguous {
		reason = models.UnmatchedAmbiguous
	}
	return models.UnmatchedTransaction{
		BatchID:        tx.BatchID,
		TransactionSeq: tx.TransactionSeq,
		ClaimIDHint:    tx.ClaimIDHint,
		Reason:         reason,
		Candidates:     o.Candidates,
	}
}

type Matcher struct {
	store    ClaimStore
	taxonomy *taxonomy.Taxonomy
}

func NewMatcher(store ClaimStore, tax *taxonomy.Taxonomy) *Matcher {
	if tax == nil {
		tax = taxonomy.Default()
	}
	return &Matcher{store: store, taxonomy: tax}
}

// Resolve finds the claim a hint refers to: an exact id first, then a unique
// normalized id. More than one normalized candidate is never guessed.
func (m *Matcher) Resolve(tenantID, hint string) (string, []string, OutcomeKind) {
	if _, err := m.store.Get(tenantID, hint); err == nil {
		return hint, nil, OutcomeMatched
	}

	norm := claims.NormalizeClaimID(hint)
	if norm == "" {
		return "", nil, OutcomeUnmatched
	}
	candidates := m.store.FindNormalized(tenantID, norm)
	switch len(candidates) {
	case 0:
		return "", nil, OutcomeUnmatched
	case 1:
		return candidates[0], nil, OutcomeMatched
	default:
		return "", candidates, OutcomeAmbiguous
	}
}

// EventFor derives the claim event a transaction implies.
func (m *Matcher) EventFor(tx models.RemittanceTransaction) claims.Event {
	for _, code := range tx.AdjustmentCodes {
		if m.taxonomy.IsDenial(code) {
			return claims.Denied(tx.AdjustmentCodes...).From(tx.BatchID, tx.TransactionSeq)
		}
	}
	return claims.PaymentReceived(tx.PaidAmount).From(tx.BatchID, tx.TransactionSeq)
}

// Match resolves tx within the tenant and applies the derived event. It never
// returns an error; store failures are reported as OutcomeFailed so a single
// record cannot abort a batch.
func (m *Matcher) Match(ctx context.Context, tenantID string, tx models.RemittanceTransaction) Outcome {
	claimID, candidates, kind := m.Resolve(tenantID, tx.ClaimIDHint)
	if kind != OutcomeMatched {
		return Outcome{Kind: kind, Candidates: candidates}
	}

	res, err := m.store.ApplyTransition(ctx, tenantID, claimID, m.EventFor(tx))
	switch {
	case errors.Is(err, claims.ErrNotFound):
		return Outcome{Kind: OutcomeUnmatched}
	case err != nil:
		log.Warnf("[Matcher] tenant=%s batch=%s seq=%d claim=%s: %v",
			tenantID, tx.BatchID, tx.TransactionSeq, claimID, err)
		return Outcome{Kind: OutcomeFailed, ClaimID: claimID, Err: err}
	case res.NoOp:
		return Outcome{Kind: OutcomeNoOp, ClaimID: claimID, OldStatus: res.OldStatus, NewStatus: res.NewStatus}
	default:
		return Outcome{Kind: OutcomeMatched, ClaimID: claimID, OldStatus: res.OldStatus, NewStatus: res.NewStatus}
	}
}
