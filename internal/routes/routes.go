package routes

import (
	"github.com/gin-gonic/gin"

	handler "rcm-reconciliation-backend/internal/handlers"
)

func RegisterRoutes(r *gin.Engine, reconHandler *handler.ReconciliationHandler, claimHandler *handler.ClaimHandler) {
	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Reconciliation runs
	runs := api.Group("/runs")
	runs.GET("/:runId", reconHandler.GetRun)
	runs.POST("/:runId/cancel", reconHandler.CancelRun)

	// Tenant-scoped routes
	tenant := api.Group("/tenants/:tenantId")
	tenant.POST("/remittances", reconHandler.Upload)
	tenant.GET("/runs", reconHandler.ListRuns)
	tenant.GET("/aggregates", claimHandler.Aggregates)
	tenant.POST("/aggregates/recompute", claimHandler.RecomputeAggregates)

	claims := tenant.Group("/claims")
	{
		claims.POST("", claimHandler.CreateClaim)
		claims.GET("", claimHandler.ListClaims)
		claims.GET("/:claimId", claimHandler.GetClaim)
		claims.POST("/:claimId/assign", claimHandler.AssignClaim)
	}
}
