package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/gommon/log"
	"github.com/shopspring/decimal"

	"rcm-reconciliation-backend/internal/models"
	"rcm-reconciliation-backend/internal/services/aggregation"
	"rcm-reconciliation-backend/internal/services/claims"
)

type ClaimStore interface {
	Create(ctx context.Context, c models.Claim) (models.Claim, error)
	Get(tenantID, claimID string) (models.Claim, error)
	ApplyTransition(ctx context.Context, tenantID, claimID string, ev claims.Event) (claims.Result, error)
	Now() time.Time
}

type ClaimQuerier interface {
	Query(tenantID string, f aggregation.Filters) aggregation.Result
	Snapshot(tenantID string) aggregation.Snapshot
	Recompute(tenantID string) aggregation.Snapshot
}

type ClaimHandler struct {
	store   ClaimStore
	queries ClaimQuerier
}

func NewClaimHandler(store ClaimStore, queries ClaimQuerier) *ClaimHandler {
	return &ClaimHandler{store: store, queries: queries}
}

func claimError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, claims.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "claim not found"})
	case errors.Is(err, claims.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, claims.ErrInvalidClaim), errors.Is(err, claims.ErrInvalidEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Errorf("[Server] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// CreateClaim is the intake endpoint; new claims always start pending.
func (h *ClaimHandler) CreateClaim(c *gin.Context) {
	var payload struct {
		ClaimID            string          `json:"claim_id"`
		PatientRef         string          `json:"patient_ref"`
		ProviderRef        string          `json:"provider_ref"`
		ServiceDescription string          `json:"service_description"`
		BilledAmount       decimal.Decimal `json:"billed_amount"`
		AssignedAgent      string          `json:"assigned_agent"`
		SubmittedAt        *time.Time      `json:"submitted_at"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if strings.TrimSpace(payload.ClaimID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "claim_id is required"})
		return
	}

	claim := models.Claim{
		TenantID:           c.Param("tenantId"),
		ClaimID:            strings.TrimSpace(payload.ClaimID),
		PatientRef:         payload.PatientRef,
		ProviderRef:        payload.ProviderRef,
		ServiceDescription: payload.ServiceDescription,
		BilledAmount:       payload.BilledAmount,
		AssignedAgent:      payload.AssignedAgent,
	}
	if payload.SubmittedAt != nil {
		claim.SubmittedAt = *payload.SubmittedAt
	}

	created, err := h.store.Create(c.Request.Context(), claim)
	if err != nil {
		claimError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created.View(h.store.Now()))
}

func (h *ClaimHandler) GetClaim(c *gin.Context) {
	claim, err := h.store.Get(c.Param("tenantId"), c.Param("claimId"))
	if err != nil {
		claimError(c, err)
		return
	}
	c.JSON(http.StatusOK, claim.View(h.store.Now()))
}

// ListClaims serves the faceted query: status, agent, category and q are
// combined with AND.
func (h *ClaimHandler) ListClaims(c *gin.Context) {
	var f aggregation.Filters
	if err := c.ShouldBindQuery(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filters"})
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + string(f.Status)})
		return
	}

	res := h.queries.Query(c.Param("tenantId"), f)
	c.JSON(http.StatusOK, gin.H{
		"items":      res.Claims,
		"count":      len(res.Claims),
		"aggregates": res.Snapshot,
	})
}

func (h *ClaimHandler) AssignClaim(c *gin.Context) {
	var payload struct {
		Agent       string `json:"agent"`
		PerformedBy string `json:"performed_by"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if payload.PerformedBy == "" {
		payload.PerformedBy = "manual"
	}

	res, err := h.store.ApplyTransition(c.Request.Context(), c.Param("tenantId"), c.Param("claimId"),
		claims.ManualReassign(strings.TrimSpace(payload.Agent), payload.PerformedBy))
	if err != nil {
		claimError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"claim":   res.Claim.View(h.store.Now()),
		"changed": !res.NoOp,
	})
}

func (h *ClaimHandler) Aggregates(c *gin.Context) {
	c.JSON(http.StatusOK, h.queries.Snapshot(c.Param("tenantId")))
}

// RecomputeAggregates rebuilds the tenant's counters from the projected
// claims.
func (h *ClaimHandler) RecomputeAggregates(c *gin.Context) {
	c.JSON(http.StatusOK, h.queries.Recompute(c.Param("tenantId")))
}
