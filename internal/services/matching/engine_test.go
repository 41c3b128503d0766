package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rcm-reconciliation-backend/internal/models"
	"rcm-reconciliation-backend/internal/services/claims"
	"rcm-reconciliation-backend/internal/taxonomy"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testTaxonomy() *taxonomy.Taxonomy {
	return taxonomy.New([]taxonomy.Entry{
		{Code: "CARC-001", Category: models.CategoryMissingAuthorization, Denial: true},
		{Code: "45", Category: models.CategoryContractualAdjustment},
	})
}

func setup(t *testing.T, ids ...string) (*claims.Store, *Matcher) {
	t.Helper()
	tax := testTaxonomy()
	store := claims.NewStore(claims.WithTaxonomy(tax), claims.WithClock(func() time.Time { return testNow }))
	for _, id := range ids {
		_, err := store.Create(context.Background(), models.Claim{
			TenantID:     "agency-a",
			ClaimID:      id,
			BilledAmount: decimal.NewFromInt(1250),
			SubmittedAt:  testNow.AddDate(0, 0, -10),
		})
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	return store, NewMatcher(store, tax)
}

func tx(seq int, hint string, paid int64, codes ...string) models.RemittanceTransaction {
	return models.RemittanceTransaction{
		BatchID:         "B1",
		TransactionSeq:  seq,
		ClaimIDHint:     hint,
		PaidAmount:      decimal.NewFromInt(paid),
		AdjustmentCodes: codes,
	}
}

func TestMatch_ExactDenial(t *testing.T) {
	store, m := setup(t, "CLM-1")

	out := m.Match(context.Background(), "agency-a", tx(1, "CLM-1", 0, "CARC-001"))
	if out.Kind != OutcomeMatched || out.ClaimID != "CLM-1" {
		t.Fatalf("outcome = %+v", out)
	}
	if out.OldStatus != models.ClaimPending || out.NewStatus != models.ClaimDenied {
		t.Errorf("status %s -> %s", out.OldStatus, out.NewStatus)
	}
	c, _ := store.Get("agency-a", "CLM-1")
	if c.DenialReasonCategory != models.CategoryMissingAuthorization || c.TouchCount != 1 {
		t.Errorf("claim = %+v", c)
	}

	out = m.Match(context.Background(), "agency-a", tx(2, "CLM-1", 1250))
	if out.Kind != OutcomeMatched || out.NewStatus != models.ClaimResolved {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestMatch_Normalized(t *testing.T) {
	_, m := setup(t, "CLM-00012")

	out := m.Match(context.Background(), "agency-a", tx(1, "clm 00012", 1250))
	if out.Kind != OutcomeMatched || out.ClaimID != "CLM-00012" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestMatch_Ambiguous(t *testing.T) {
	store, m := setup(t, "CLM-7", "CLM7")

	out := m.Match(context.Background(), "agency-a", tx(1, "clm.7", 1250))
	if out.Kind != OutcomeAmbiguous {
		t.Fatalf("outcome = %+v, want ambiguous", out)
	}
	if len(out.Candidates) != 2 {
		t.Errorf("candidates = %v", out.Candidates)
	}
	rec := out.Unmatched(tx(1, "clm.7", 1250))
	if rec.Reason != models.UnmatchedAmbiguous || rec.TransactionSeq != 1 {
		t.Errorf("unmatched record = %+v", rec)
	}
	for _, id := range []string{"CLM-7", "CLM7"} {
		c, _ := store.Get("agency-a", id)
		if c.TouchCount != 0 {
			t.Errorf("%s was touched", id)
		}
	}
}

func TestMatch_ExactWinsOverNormalized(t *testing.T) {
	store, m := setup(t, "CLM-7", "CLM7")

	out := m.Match(context.Background(), "agency-a", tx(1, "CLM7", 1250))
	if out.Kind != OutcomeMatched || out.ClaimID != "CLM7" {
		t.Fatalf("outcome = %+v", out)
	}
	if c, _ := store.Get("agency-a", "CLM-7"); c.TouchCount != 0 {
		t.Error("normalized sibling was touched")
	}
}

func TestMatch_NotFound(t *testing.T) {
	store, m := setup(t, "CLM-1")

	out := m.Match(context.Background(), "agency-a", tx(1, "CLM-9999", 100))
	if out.Kind != OutcomeUnmatched || out.Counted() {
		t.Fatalf("outcome = %+v", out)
	}
	if rec := out.Unmatched(tx(1, "CLM-9999", 100)); rec.Reason != models.UnmatchedNotFound {
		t.Errorf("reason = %s", rec.Reason)
	}
	if c, _ := store.Get("agency-a", "CLM-1"); c.TouchCount != 0 {
		t.Error("store changed")
	}
}

func TestMatch_TenantIsolation(t *testing.T) {
	_, m := setup(t, "CLM-1")

	out := m.Match(context.Background(), "agency-b", tx(1, "CLM-1", 100))
	if out.Kind != OutcomeUnmatched {
		t.Fatalf("outcome = %+v, want unmatched across tenants", out)
	}
}

func TestMatch_ReplayIsNoOp(t *testing.T) {
	_, m := setup(t, "CLM-1")
	ctx := context.Background()

	first := m.Match(ctx, "agency-a", tx(1, "CLM-1", 1250))
	again := m.Match(ctx, "agency-a", tx(1, "CLM-1", 1250))
	if first.Kind != OutcomeMatched {
		t.Fatalf("first = %+v", first)
	}
	if again.Kind != OutcomeNoOp || !again.Counted() {
		t.Fatalf("replay = %+v, want counted no-op", again)
	}
}

func TestEventFor(t *testing.T) {
	_, m := setup(t)

	cases := []struct {
		name  string
		codes []string
		want  claims.EventKind
	}{
		{"no codes", nil, claims.EventPaymentReceived},
		{"contractual only", []string{"CO-45"}, claims.EventPaymentReceived},
		{"unknown code", []string{"ZZ-999"}, claims.EventPaymentReceived},
		{"denial among others", []string{"CO-45", "CARC-001"}, claims.EventDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := m.EventFor(tx(3, "X", 10, tc.codes...))
			if ev.Kind != tc.want {
				t.Errorf("kind = %s, want %s", ev.Kind, tc.want)
			}
			if ev.BatchID != "B1" || ev.Seq != 3 {
				t.Errorf("source = %s#%d", ev.BatchID, ev.Seq)
			}
		})
	}
}

type failingStore struct {
	*claims.Store
	err error
}

func (f failingStore) ApplyTransition(ctx context.Context, tenantID, claimID string, ev claims.Event) (claims.Result, error) {
	return claims.Result{}, f.err
}

func TestMatch_StoreErrors(t *testing.T) {
	store, _ := setup(t, "CLM-1")
	boom := errors.New("disk full")

	m := NewMatcher(failingStore{Store: store, err: boom}, testTaxonomy())
	out := m.Match(context.Background(), "agency-a", tx(1, "CLM-1", 10))
	if out.Kind != OutcomeFailed || !errors.Is(out.Err, boom) {
		t.Fatalf("outcome = %+v, want failed", out)
	}

	m = NewMatcher(failingStore{Store: store, err: claims.ErrNotFound}, testTaxonomy())
	if out := m.Match(context.Background(), "agency-a", tx(2, "CLM-1", 10)); out.Kind != OutcomeUnmatched {
		t.Fatalf("outcome = %+v, want unmatched", out)
	}
}
