package aggregation

import (
	"sort"
	"strings"

	"rcm-reconciliation-backend/internal/models"
)

// Filters are conjunctive; an empty field does not constrain. AgencyOrAgent
// equal to the tenant id selects the whole agency, any other value selects
// the claims assigned to that agent.
type Filters struct {
	Status         models.ClaimStatus    `form:"status" json:"status,omitempty"`
	AgencyOrAgent  string                `form:"agent" json:"agent,omitempty"`
	DenialCategory models.DenialCategory `form:"category" json:"category,omitempty"`
	TextSearch     string                `form:"q" json:"q,omitempty"`
}

type Result struct {
	Claims   []models.ClaimView `json:"claims"`
	Snapshot Snapshot           `json:"aggregates"`
}

// Query returns the claims matching f, ordered by claim id, together with
// the aggregates of the same projection version.
func (e *Engine) Query(tenantID string, f Filters) Result {
	now := e.now()
	tv := e.tenant(tenantID, false)
	if tv == nil {
		return Result{Claims: []models.ClaimView{}, Snapshot: emptySnapshot(tenantID, now)}
	}

	tv.mu.RLock()
	defer tv.mu.RUnlock()

	agent := agentKey(f.AgencyOrAgent)
	if agent == agentKey(tenantID) {
		agent = ""
	}
	text := strings.ToLower(strings.TrimSpace(f.TextSearch))

	out := []models.ClaimView{}
	for id := range tv.candidates(f.Status, agent, f.DenialCategory) {
		c := tv.claims[id]
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if agent != "" && agentKey(c.AssignedAgent) != agent {
			continue
		}
		if f.DenialCategory != "" && c.DenialReasonCategory != f.DenialCategory {
			continue
		}
		if text != "" && !matchesText(c, text) {
			continue
		}
		out = append(out, c.Clone().View(now))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimID < out[j].ClaimID })

	return Result{Claims: out, Snapshot: tv.snapshot(tenantID, now)}
}

// candidates picks the smallest index that applies to the filters. Every
// filter is still checked per claim by the caller.
func (tv *tenantView) candidates(status models.ClaimStatus, agent string, category models.DenialCategory) idSet {
	var best idSet
	filtered := false
	consider := func(set idSet) {
		if !filtered || len(set) < len(best) {
			best = set
		}
		filtered = true
	}
	if status != "" {
		consider(tv.byStatus[status])
	}
	if agent != "" {
		consider(tv.byAgent[agent])
	}
	if category != "" {
		consider(tv.byCategory[category])
	}
	if filtered {
		return best
	}

	all := make(idSet, len(tv.claims))
	for id := range tv.claims {
		all[id] = struct{}{}
	}
	return all
}

func matchesText(c models.Claim, text string) bool {
	for _, field := range []string{c.ClaimID, c.PatientRef, c.ProviderRef} {
		if strings.Contains(strings.ToLower(field), text) {
			return true
		}
	}
	return false
}
