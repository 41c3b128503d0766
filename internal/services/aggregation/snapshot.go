package aggregation

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"rcm-reconciliation-backend/internal/models"
)

const (
	Bucket0To30  = "0-30"
	Bucket31To60 = "31-60"
	Bucket61To90 = "61-90"
	Bucket90Plus = "90+"
)

var bucketLabels = [4]string{Bucket0To30, Bucket31To60, Bucket61To90, Bucket90Plus}

// bucketStarts are the first aging day of each bucket after the first.
var bucketStarts = [3]int{31, 61, 91}

func bucketFor(days int) int {
	for i, start := range bucketStarts {
		if days < start {
			return i
		}
	}
	return len(bucketStarts)
}

type BucketStat struct {
	Bucket string          `json:"bucket"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type DenialStat struct {
	Category           models.DenialCategory `json:"category"`
	Denied             int                   `json:"denied"`
	Resolved           int                   `json:"resolved"`
	AvgResolutionHours float64               `json:"avg_resolution_hours"`
}

type AgentStat struct {
	Agent              string  `json:"agent"`
	Assigned           int     `json:"assigned"`
	Resolved           int     `json:"resolved"`
	AvgResolutionHours float64 `json:"avg_resolution_hours"`
	AvgTouches         float64 `json:"avg_touches"`
}

// Snapshot is the aggregate view of one tenant at a single projection
// version. Aging amounts are outstanding balances (billed minus paid) of
// claims that are not resolved.
type Snapshot struct {
	TenantID     string                     `json:"tenant_id"`
	Version      uint64                     `json:"version"`
	AsOf         time.Time                  `json:"as_of"`
	TotalClaims  int                        `json:"total_claims"`
	StatusCounts map[models.ClaimStatus]int `json:"status_counts"`
	Aging        []BucketStat               `json:"aging"`
	Denials      []DenialStat               `json:"denials"`
	Agents       []AgentStat                `json:"agents"`
}

func emptySnapshot(tenantID string, now time.Time) Snapshot {
	return Snapshot{
		TenantID:     tenantID,
		AsOf:         now,
		StatusCounts: map[models.ClaimStatus]int{},
		Aging:        emptyBuckets(),
		Denials:      []DenialStat{},
		Agents:       []AgentStat{},
	}
}

func emptyBuckets() []BucketStat {
	out := make([]BucketStat, len(bucketLabels))
	for i, label := range bucketLabels {
		out[i] = BucketStat{Bucket: label, Amount: decimal.Zero}
	}
	return out
}

type denialTotals struct {
	denied     int
	resolved   int
	resolution time.Duration
}

type agentTotals struct {
	assigned   int
	resolved   int
	resolution time.Duration
	touches    int
}

// counters are the event-maintained aggregates. Each claim contributes a
// fixed amount determined only by its own state.
type counters struct {
	status  map[models.ClaimStatus]int
	denials map[models.DenialCategory]*denialTotals
	agents  map[string]*agentTotals
}

func newCounters() counters {
	return counters{
		status:  make(map[models.ClaimStatus]int),
		denials: make(map[models.DenialCategory]*denialTotals),
		agents:  make(map[string]*agentTotals),
	}
}

// resolvedAt falls back to the last activity for claims persisted before
// ResolvedAt was tracked.
func resolvedAt(c models.Claim) time.Time {
	if c.ResolvedAt != nil {
		return *c.ResolvedAt
	}
	return c.LastActivityAt
}

// rollupCategory is the denial a claim is counted under, including after
// it has been resolved.
func rollupCategory(c models.Claim) models.DenialCategory {
	if c.LastDenialCategory != "" {
		return c.LastDenialCategory
	}
	return c.DenialReasonCategory
}

func (t *counters) apply(c models.Claim, sign int) {
	t.status[c.Status] += sign
	if t.status[c.Status] == 0 {
		delete(t.status, c.Status)
	}

	if cat := rollupCategory(c); cat != "" {
		d := t.denials[cat]
		if d == nil {
			d = &denialTotals{}
			t.denials[cat] = d
		}
		switch {
		case c.Status == models.ClaimDenied:
			d.denied += sign
		case c.Status == models.ClaimResolved && c.FirstDeniedAt != nil:
			d.resolved += sign
			d.resolution += time.Duration(sign) * resolvedAt(c).Sub(*c.FirstDeniedAt)
		}
		if *d == (denialTotals{}) {
			delete(t.denials, cat)
		}
	}

	if c.AssignedAgent != "" {
		a := t.agents[c.AssignedAgent]
		if a == nil {
			a = &agentTotals{}
			t.agents[c.AssignedAgent] = a
		}
		a.assigned += sign
		a.touches += sign * c.TouchCount
		if c.Status == models.ClaimResolved {
			a.resolved += sign
			a.resolution += time.Duration(sign) * resolvedAt(c).Sub(c.SubmittedAt)
		}
		if *a == (agentTotals{}) {
			delete(t.agents, c.AssignedAgent)
		}
	}
}

func avgHours(total time.Duration, n int) float64 {
	if n == 0 {
		return 0
	}
	return total.Hours() / float64(n)
}

// snapshot must be called with tv.mu held.
func (tv *tenantView) snapshot(tenantID string, now time.Time) Snapshot {
	s := Snapshot{
		TenantID:     tenantID,
		Version:      tv.version,
		AsOf:         now,
		TotalClaims:  len(tv.claims),
		StatusCounts: make(map[models.ClaimStatus]int, len(tv.totals.status)),
		Aging:        tv.agingBuckets(now),
		Denials:      make([]DenialStat, 0, len(tv.totals.denials)),
		Agents:       make([]AgentStat, 0, len(tv.totals.agents)),
	}
	for status, n := range tv.totals.status {
		s.StatusCounts[status] = n
	}
	for cat, d := range tv.totals.denials {
		s.Denials = append(s.Denials, DenialStat{
			Category:           cat,
			Denied:             d.denied,
			Resolved:           d.resolved,
			AvgResolutionHours: avgHours(d.resolution, d.resolved),
		})
	}
	sort.Slice(s.Denials, func(i, j int) bool { return s.Denials[i].Category < s.Denials[j].Category })

	for agent, a := range tv.totals.agents {
		stat := AgentStat{
			Agent:              agent,
			Assigned:           a.assigned,
			Resolved:           a.resolved,
			AvgResolutionHours: avgHours(a.resolution, a.resolved),
		}
		if a.assigned > 0 {
			stat.AvgTouches = float64(a.touches) / float64(a.assigned)
		}
		s.Agents = append(s.Agents, stat)
	}
	sort.Slice(s.Agents, func(i, j int) bool { return s.Agents[i].Agent < s.Agents[j].Agent })
	return s
}

// agingCache holds bucket totals computed at one projection version. They stay
// valid until the version changes or the clock reaches the first moment an
// open claim would cross into its next bucket.
type agingCache struct {
	version    uint64
	computedAt time.Time
	validUntil time.Time
	buckets    []BucketStat
}

func (a *agingCache) fresh(version uint64, now time.Time) bool {
	if a == nil || a.version != version || now.Before(a.computedAt) {
		return false
	}
	return a.validUntil.IsZero() || now.Before(a.validUntil)
}

// agingBuckets must be called with tv.mu held.
func (tv *tenantView) agingBuckets(now time.Time) []BucketStat {
	tv.agingMu.Lock()
	defer tv.agingMu.Unlock()
	if tv.aging.fresh(tv.version, now) {
		return append([]BucketStat(nil), tv.aging.buckets...)
	}

	buckets := emptyBuckets()
	var validUntil time.Time
	for _, c := range tv.claims {
		if c.Status == models.ClaimResolved {
			continue
		}
		i := bucketFor(c.AgingDays(now))
		buckets[i].Count++
		buckets[i].Amount = buckets[i].Amount.Add(c.BilledAmount.Sub(c.PaidAmount))
		if i < len(bucketStarts) {
			edge := c.SubmittedAt.Add(time.Duration(bucketStarts[i]) * 24 * time.Hour)
			if validUntil.IsZero() || edge.Before(validUntil) {
				validUntil = edge
			}
		}
	}
	tv.aging = &agingCache{
		version:    tv.version,
		computedAt: now,
		validUntil: validUntil,
		buckets:    buckets,
	}
	return append([]BucketStat(nil), buckets...)
}
