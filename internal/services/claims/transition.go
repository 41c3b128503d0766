package claims

import (
	"fmt"
	"time"

	"rcm-reconciliation-backend/internal/models"
)

// next computes the state that ev moves c into. changed is false when ev is
// redundant for c's current state; c is returned untouched in that case.
//
//	Pending    --Payment(total >= billed)--> Resolved
//	Pending    --Payment(total <  billed)--> InProgress
//	InProgress --Payment(total >= billed)--> Resolved
//	InProgress --Payment(total <  billed)--> InProgress
//	Pending | InProgress --Denied--> Denied
//	Denied     --Denied(other category)--> Denied
//	Denied     --Payment(any)--> Resolved, denial category cleared
//	any        --ManualReassign--> same status, new agent
//	Resolved   --Payment | Denied--> no-op
func (s *Store) next(c models.Claim, ev Event, now time.Time) (models.Claim, bool, error) {
	switch ev.Kind {
	case EventManualReassign:
		if c.AssignedAgent == ev.Agent {
			return c, false, nil
		}
		c.AssignedAgent = ev.Agent
		return c, true, nil

	case EventPaymentReceived:
		if ev.Amount.IsNegative() {
			return c, false, fmt.Errorf("%w: negative payment %s", ErrInvalidEvent, ev.Amount)
		}
		switch c.Status {
		case models.ClaimResolved:
			return c, false, nil
		case models.ClaimDenied:
			c.PaidAmount = c.PaidAmount.Add(ev.Amount)
			c.Status = models.ClaimResolved
			c.DenialReasonCategory = ""
			c.ResolvedAt = &now
		default:
			c.PaidAmount = c.PaidAmount.Add(ev.Amount)
			if c.PaidAmount.GreaterThanOrEqual(c.BilledAmount) {
				c.Status = models.ClaimResolved
				c.ResolvedAt = &now
			} else {
				c.Status = models.ClaimInProgress
			}
		}
		return c, true, nil

	case EventDenied:
		if c.Status == models.ClaimResolved {
			return c, false, nil
		}
		category := s.denialCategory(ev.Codes)
		if c.Status == models.ClaimDenied && c.DenialReasonCategory == category {
			return c, false, nil
		}
		c.Status = models.ClaimDenied
		c.DenialReasonCategory = category
		c.LastDenialCategory = category
		if c.FirstDeniedAt == nil {
			c.FirstDeniedAt = &now
		}
		return c, true, nil
	}
	return c, false, fmt.Errorf("%w: %q", ErrInvalidEvent, ev.Kind)
}

// denialCategory picks the category of the first denial-class code, falling
// back to the first code's category and finally Other.
func (s *Store) denialCategory(codes []string) models.DenialCategory {
	for _, code := range codes {
		if s.taxonomy.IsDenial(code) {
			return s.taxonomy.CategoryFor(code)
		}
	}
	if len(codes) > 0 {
		return s.taxonomy.CategoryFor(codes[0])
	}
	return models.CategoryOther
}
