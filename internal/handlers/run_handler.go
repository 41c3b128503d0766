package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/labstack/gommon/log"

	"rcm-reconciliation-backend/internal/models"
	service "rcm-reconciliation-backend/internal/services/reconciliation"
)

// MaxBatchBytes bounds a single remittance upload.
const MaxBatchBytes = 64 << 20

type RunService interface {
	Submit(ctx context.Context, tenantID string, batch []byte) (uuid.UUID, error)
	Status(ctx context.Context, runID uuid.UUID) (models.ReconciliationRun, error)
	Cancel(ctx context.Context, runID uuid.UUID) error
	List(ctx context.Context, tenantID string) ([]models.ReconciliationRun, error)
}

type ReconciliationHandler struct {
	service RunService
}

func NewReconciliationHandler(s RunService) *ReconciliationHandler {
	return &ReconciliationHandler{service: s}
}

// runError maps coordinator errors onto HTTP statuses.
func runError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRunNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
	case errors.Is(err, service.ErrRunInProgress), errors.Is(err, service.ErrAlreadyCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidTenant):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Errorf("[Server] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func readBatch(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBatchBytes)
	if file, header, err := c.Request.FormFile("file"); err == nil {
		defer file.Close()
		log.Infof("[Server] received remittance file %s (%d bytes)", header.Filename, header.Size)
		return io.ReadAll(file)
	}
	return io.ReadAll(c.Request.Body)
}

// Upload accepts a remittance batch as multipart "file" or as the raw body
// and starts a run in the background.
func (h *ReconciliationHandler) Upload(c *gin.Context) {
	tenantID := c.Param("tenantId")
	data, err := readBatch(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read batch: " + err.Error()})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
		return
	}

	runID, err := h.service.Submit(c.Request.Context(), tenantID, data)
	if err != nil {
		runError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"run_id": runID.String(),
		"status": models.RunRunning,
	})
}

func (h *ReconciliationHandler) GetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("runId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
		return
	}
	run, err := h.service.Status(c.Request.Context(), runID)
	if err != nil {
		runError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *ReconciliationHandler) CancelRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("runId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
		return
	}
	if err := h.service.Cancel(c.Request.Context(), runID); err != nil {
		runError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cancellation requested", "run_id": runID.String()})
}

func (h *ReconciliationHandler) ListRuns(c *gin.Context) {
	runs, err := h.service.List(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		runError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": runs})
}
