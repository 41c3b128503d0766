package claims

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"rcm-reconciliation-backend/internal/models"
)

type EventKind string

const (
	EventPaymentReceived EventKind = "payment_received"
	EventDenied          EventKind = "denied"
	EventManualReassign  EventKind = "manual_reassign"
)

// Event is an input to ApplyTransition. Reconciliation events carry the
// (BatchID, Seq) of the remittance line that produced them; a claim never
// applies the same source twice.
type Event struct {
	Kind    EventKind
	Amount  decimal.Decimal
	Codes   []string
	Agent   string
	Actor   string
	BatchID string
	Seq     int
}

func PaymentReceived(amount decimal.Decimal) Event {
	return Event{Kind: EventPaymentReceived, Amount: amount}
}

func Denied(codes ...string) Event {
	return Event{Kind: EventDenied, Codes: append([]string(nil), codes...)}
}

func ManualReassign(agent, actor string) Event {
	return Event{Kind: EventManualReassign, Agent: agent, Actor: actor}
}

// From tags the event with the remittance line it came from.
func (e Event) From(batchID string, seq int) Event {
	e.BatchID = batchID
	e.Seq = seq
	return e
}

func (e Event) sourceKey() string {
	if e.BatchID == "" {
		return ""
	}
	return sourceKey(e.BatchID, e.Seq)
}

func sourceKey(batchID string, seq int) string {
	return fmt.Sprintf("%s#%d", batchID, seq)
}

type ChangeKind string

const (
	ChangeCreated    ChangeKind = "created"
	ChangeLoaded     ChangeKind = "loaded"
	ChangeTransition ChangeKind = "transition"
)

// ChangeEvent is emitted once per claim mutation, in mutation order for any
// given claim. Before is nil for created and loaded claims.
type ChangeEvent struct {
	Kind        ChangeKind            `json:"kind"`
	TenantID    string                `json:"tenant_id"`
	ClaimID     string                `json:"claim_id"`
	OldStatus   models.ClaimStatus    `json:"old_status,omitempty"`
	NewStatus   models.ClaimStatus    `json:"new_status"`
	OldCategory models.DenialCategory `json:"old_category,omitempty"`
	NewCategory models.DenialCategory `json:"new_category,omitempty"`
	OldAgent    string                `json:"old_agent,omitempty"`
	NewAgent    string                `json:"new_agent,omitempty"`
	Before      *models.Claim         `json:"-"`
	After       models.Claim          `json:"-"`
	Timestamp   time.Time             `json:"timestamp"`
}

// Listener receives change events synchronously while the claim is still
// locked. Implementations must not call back into the Store.
type Listener interface {
	OnClaimChange(ev ChangeEvent)
}

type ListenerFunc func(ev ChangeEvent)

func (f ListenerFunc) OnClaimChange(ev ChangeEvent) { f(ev) }

// Result reports the claim state after ApplyTransition. NoOp is set when the
// event was redundant and nothing was written.
type Result struct {
	Claim     models.Claim
	OldStatus models.ClaimStatus
	NewStatus models.ClaimStatus
	NoOp      bool
}

// NormalizeClaimID strips everything but letters and digits and case-folds,
// so "clm-00012" and "CLM00012" compare equal.
func NormalizeClaimID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
