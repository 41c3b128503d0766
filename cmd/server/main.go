package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/labstack/gommon/log"

	"rcm-reconciliation-backend/internal/config"
	"rcm-reconciliation-backend/internal/feed"
	handler "rcm-reconciliation-backend/internal/handlers"
	"rcm-reconciliation-backend/internal/models"
	"rcm-reconciliation-backend/internal/repository"
	"rcm-reconciliation-backend/internal/routes"
	"rcm-reconciliation-backend/internal/services/aggregation"
	"rcm-reconciliation-backend/internal/services/claims"
	"rcm-reconciliation-backend/internal/services/matching"
	"rcm-reconciliation-backend/internal/services/reconciliation"
	"rcm-reconciliation-backend/internal/taxonomy"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, relying on system env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Server] config: %v", err)
	}
	log.SetLevel(cfg.Level())

	db, err := config.InitDB(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("[Server] %v", err)
	}
	if err := db.AutoMigrate(
		&models.Claim{},
		&models.ClaimEvent{},
		&models.ReconciliationRun{},
	); err != nil {
		log.Fatalf("[Server] migrate: %v", err)
	}

	tax := taxonomy.Default()
	if cfg.Taxonomy.Path != "" {
		if tax, err = taxonomy.LoadFile(cfg.Taxonomy.Path); err != nil {
			log.Fatalf("[Server] taxonomy: %v", err)
		}
	}
	log.Infof("[Server] taxonomy has %d codes", tax.Len())

	aggregates := aggregation.NewEngine()
	hub := feed.NewHub()
	claimRepo := repository.NewClaimRepository(db)

	store := claims.NewStore(
		claims.WithPersister(claimRepo),
		claims.WithTaxonomy(tax),
		claims.WithListener(aggregates),
		claims.WithListener(hub),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tenants, err := claimRepo.TenantIDs(ctx)
	if err != nil {
		log.Fatalf("[Server] list tenants: %v", err)
	}
	for _, tenantID := range tenants {
		if _, err := store.Load(ctx, tenantID); err != nil {
			log.Fatalf("[Server] %v", err)
		}
	}
	log.Infof("[Server] claim store warm for tenants %v", store.Tenants())

	recon := reconciliation.NewService(
		matching.NewMatcher(store, tax),
		reconciliation.WithRunRepository(repository.NewRunRepository(db)),
		reconciliation.WithInactivityWindow(cfg.Reconciliation.InactivityWindow),
		reconciliation.WithProgressFlushEvery(cfg.Reconciliation.ProgressFlushEvery),
	)

	if len(cfg.Kafka.Brokers) > 0 {
		sink := feed.NewKafkaSink(
			feed.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic),
			hub.Subscribe("", feed.DefaultBuffer),
		)
		defer sink.Close()
		go func() {
			if err := sink.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("[Feed] sink stopped: %v", err)
			}
		}()
		log.Infof("[Server] publishing claim changes to %s", cfg.Kafka.Topic)
	}

	r := gin.Default()
	// CORS config
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r,
		handler.NewReconciliationHandler(recon),
		handler.NewClaimHandler(store, aggregates),
	)

	srv := &http.Server{Addr: ":" + cfg.Server.Port, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[Server] listen: %v", err)
		}
	}()
	log.Infof("[Server] listening on :%s", cfg.Server.Port)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("[Server] shutdown: %v", err)
	}
}
