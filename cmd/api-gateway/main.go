package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/bekzod-dev/tcenter-api/internal/handler"
	"github.com/bekzod-dev/tcenter-api/internal/middleware"
	"github.com/bekzod-dev/tcenter-api/internal/models"
	"github.com/bekzod-dev/tcenter-api/internal/repository"
	"github.com/bekzod-dev/tcenter-api/internal/service"
	"github.com/bekzod-dev/tcenter-api/pkg/cache"
	"github.com/bekzod-dev/tcenter-api/pkg/config"
	"github.com/bekzod-dev/tcenter-api/pkg/database"
	"github.com/bekzod-dev/tcenter-api/pkg/export"
	"github.com/bekzod-dev/tcenter-api/pkg/logger"
	corsmiddleware "github.com/bekzod-dev/tcenter-api/pkg/middleware/cors"
	reqidmiddleware "github.com/bekzod-dev/tcenter-api/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	// Redis is optional: without it the summary cache degrades to a
	// pass-through and every read hits postgres.
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, summary cache disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()

	snapshotRepo := repository.NewSnapshotRepository(db, cfg.Billing.PageSizeLimit)
	paymentRepo := repository.NewPaymentRepository(db, cfg.Billing.PageSizeLimit)
	discountRepo := repository.NewDiscountRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	userRepo := repository.NewUserRepository(db)
	defer cacheRepo.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()
	summarySvc := service.NewSummaryService(snapshotRepo, paymentRepo, cacheRepo, cfg.Billing.SummaryCacheTTL, logr)
	snapshotSvc := service.NewSnapshotService(snapshotRepo, enrollmentRepo, attendanceRepo, discountRepo, paymentRepo, summarySvc, validate, logr)
	paymentSvc := service.NewPaymentService(snapshotRepo, paymentRepo, summarySvc, validate, logr)
	discountSvc := service.NewDiscountService(snapshotRepo, discountRepo, summarySvc, validate, logr)
	attendanceSvc := service.NewAttendanceService(snapshotRepo, enrollmentRepo, attendanceRepo, logr)
	exportSvc := service.NewExportService(snapshotRepo,
		export.NewXLSXExporter(cfg.Export.SheetName),
		export.NewCSVExporter(),
		export.NewPDFExporter(),
		cfg.Export.FilenamePrefix, logr)
	authSvc := service.NewAuthService(userRepo, cfg.JWT, validate, logr)

	billingHandler := handler.NewBillingHandler(snapshotSvc, metricsSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc, metricsSvc)
	discountHandler := handler.NewDiscountHandler(discountSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc)
	summaryHandler := handler.NewSummaryHandler(summarySvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	authHandler := handler.NewAuthHandler(authSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)

	billing := api.Group("/billing", middleware.JWT(authSvc))
	adminOnly := middleware.RequireRoles(models.RoleAdmin)

	billing.POST("/snapshots", adminOnly, billingHandler.Generate)
	billing.POST("/snapshots/backfill", adminOnly, billingHandler.Backfill)
	billing.GET("/snapshots", billingHandler.List)
	billing.GET("/snapshots/:id", billingHandler.Get)
	billing.PATCH("/snapshots/:id", adminOnly, billingHandler.Update)
	billing.DELETE("/snapshots", adminOnly, billingHandler.Purge)
	billing.POST("/payments", adminOnly, paymentHandler.Apply)
	billing.GET("/payments", paymentHandler.List)
	billing.GET("/payments/verify", paymentHandler.Verify)
	billing.POST("/discounts", adminOnly, discountHandler.Apply)
	billing.GET("/discounts/students/:id", discountHandler.RulesForStudent)
	billing.POST("/reset", adminOnly, paymentHandler.Reset)
	billing.GET("/attendance", attendanceHandler.Report)
	billing.GET("/summary", summaryHandler.MonthSummary)
	billing.GET("/months", billingHandler.Months)
	billing.GET("/late-joiners", billingHandler.LateJoiners)
	billing.GET("/export", exportHandler.Export)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
