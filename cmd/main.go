package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"share-approval-service/internal/cache"
	"share-approval-service/internal/config"
	approvalevents "share-approval-service/internal/events"
	"share-approval-service/internal/handlers"
	"share-approval-service/internal/jobs"
	"share-approval-service/internal/metrics"
	"share-approval-service/internal/middleware"
	"share-approval-service/internal/models"
	"share-approval-service/internal/repository"
	"share-approval-service/internal/seeders"
	"share-approval-service/internal/services"

	"github.com/Tesseract-Nexus/go-shared/events"
	gosharedmw "github.com/Tesseract-Nexus/go-shared/middleware"
	"github.com/Tesseract-Nexus/go-shared/rbac"
)

// @title Share Approval API
// @version 1.0.0
// @description Document share approval policies, workflows and bucket permissions
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.example.com/support
// @contact.email support@example.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8099
// @BasePath /api/v1

// @securityDefinitions.bearer BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.InfoLevel)

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}

	// Run database migrations
	logger.Info("Running database migrations...")
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	if err := seeders.SeedDefaults(db, logger); err != nil {
		logger.Fatalf("Failed to seed defaults: %v", err)
	}

	// Initialize repositories
	approvalRepo := repository.NewApprovalRepository(db)
	policyRepo := repository.NewPolicyRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	permissionRepo := repository.NewPermissionRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)

	appMetrics := metrics.New()

	// Permission cache (optional - service works without Redis)
	var permCache *cache.PermissionCache
	if cfg.RedisHost != "" {
		permCache, err = cache.NewPermissionCache(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword, cfg.RedisDB, cfg.PermissionCacheTTL)
		if err != nil {
			logger.Warnf("Failed to connect to Redis: %v. Permission checks will not be cached.", err)
		} else {
			logger.Info("Permission cache initialized")
		}
	} else {
		logger.Info("REDIS_HOST not configured, permission caching disabled")
	}

	// Initialize event publisher (optional - service works without NATS)
	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		publisherConfig := events.DefaultPublisherConfig(cfg.NATSURL)
		publisherConfig.Name = "share-approval-service"
		publisher, err = events.NewPublisher(publisherConfig, logger)
		if err != nil {
			logger.Warnf("Failed to initialize event publisher: %v. Events will not be published.", err)
			publisher = nil
		} else {
			logger.Info("Event publisher initialized")
			// Ensure approval stream exists
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := publisher.EnsureStream(ctx, events.StreamApprovals, []string{"approval.>"}); err != nil {
				logger.Warnf("Failed to ensure approval stream: %v", err)
			}
			cancel()
		}
	} else {
		logger.Info("NATS_URL not configured, event publishing disabled")
	}
	notifier := approvalevents.NewPublisher(publisher, cfg.EventTenantID, cfg.ShareBaseURL, logger)

	// Initialize RBAC middleware
	rbacMiddleware := rbac.NewMiddlewareWithURL(cfg.StaffServiceURL, nil)
	logger.Info("RBAC middleware initialized")

	// Initialize services
	settingsService := services.NewSettingsService(settingsRepo, logger)
	categoryService := services.NewCategoryService(categoryRepo)
	policyService := services.NewPolicyService(policyRepo, categoryService, logger)
	permissionService := services.NewPermissionService(permissionRepo, permCache, appMetrics, logger)
	engine := services.NewApprovalEngine(approvalRepo, permissionService, settingsService, notifier, appMetrics, logger)
	gate := services.NewShareGate(policyService, settingsService, categoryService, engine, logger)

	// Initialize handlers
	approvalHandler := handlers.NewApprovalHandler(gate, engine, func(c *gin.Context) bool {
		return rbacMiddleware.HasPermission(c, rbac.PermissionApprovalsManage)
	}, logger)
	policyHandler := handlers.NewPolicyHandler(policyService, logger)
	settingsHandler := handlers.NewSettingsHandler(settingsService, logger)
	categoryHandler := handlers.NewCategoryHandler(categoryService, logger)
	permissionHandler := handlers.NewPermissionHandler(permissionService, func(c *gin.Context) bool {
		return rbacMiddleware.HasPermission(c, rbac.PermissionApprovalsManage)
	}, logger)

	// Start expiration job
	expirationJob := jobs.NewExpirationJob(engine, appMetrics, logger, cfg.SweepInterval, cfg.SweepBatchSize)
	jobCtx, jobCancel := context.WithCancel(context.Background())
	go expirationJob.Start(jobCtx)
	logger.Info("Expiration job started")

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	router.Use(middleware.Metrics(appMetrics))

	// Health check endpoints (no auth required)
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck(db))
	router.GET("/metrics", gin.WrapH(appMetrics.Handler()))

	// Machine credential routes
	machine := router.Group("/api/v1/machine")
	machine.Use(middleware.CredentialAuth(cfg.CredentialTokenSecret))
	{
		machine.GET("/buckets/:id/permissions/check", permissionHandler.CheckCredentialPermission)
	}

	// Protected API routes
	api := router.Group("/api/v1")

	// Authentication middleware using Istio JWT claims
	// Istio validates JWT and injects x-jwt-claim-* headers
	api.Use(gosharedmw.IstioAuth(gosharedmw.IstioAuthConfig{
		RequireAuth:        true,
		AllowLegacyHeaders: false,
		SkipPaths:          []string{"/health", "/ready", "/metrics", "/swagger"},
	}))
	api.Use(middleware.RequireUserID())

	// Approval endpoints
	{
		// Service-to-service endpoints used by the document service when a share is created
		api.POST("/approvals/check", approvalHandler.CheckApproval)
		api.POST("/approvals/shares", rbacMiddleware.RequirePermission(rbac.PermissionApprovalsCreate), approvalHandler.SubmitShare)

		api.GET("/approvals/pending", rbacMiddleware.RequirePermission(rbac.PermissionApprovalsRead), approvalHandler.ListPendingRequests)
		api.GET("/approvals/stats", rbacMiddleware.RequirePermission(rbac.PermissionApprovalsRead), approvalHandler.GetStats)
		api.GET("/approvals/my-requests", approvalHandler.ListMyRequests) // No special permission needed for own requests

		// Visibility and eligibility are decided per request by the engine
		api.GET("/approvals/:id", approvalHandler.GetRequest)
		api.GET("/approvals/:id/history", approvalHandler.GetRequestHistory)
		api.GET("/approvals/:id/decisions", approvalHandler.GetRequestDecisions)
		api.POST("/approvals/:id/approve", approvalHandler.ApproveRequest)
		api.POST("/approvals/:id/reject", approvalHandler.RejectRequest)
	}

	// Bucket permission checks for the calling user
	api.GET("/buckets/:id/permissions/check", permissionHandler.CheckUserPermission)

	// Admin endpoints
	admin := api.Group("/admin")
	manage := rbacMiddleware.RequirePermission(rbac.PermissionApprovalsManage)
	{
		admin.GET("/approval-policies", manage, policyHandler.ListPolicies)
		admin.POST("/approval-policies", manage, policyHandler.CreatePolicy)
		admin.GET("/approval-policies/:id", manage, policyHandler.GetPolicy)
		admin.PUT("/approval-policies/:id", manage, policyHandler.UpdatePolicy)
		admin.DELETE("/approval-policies/:id", manage, policyHandler.DeletePolicy)

		admin.GET("/approval-settings", manage, settingsHandler.GetSettings)
		admin.PUT("/approval-settings", manage, settingsHandler.UpdateSettings)
		admin.GET("/approval-settings/history", manage, settingsHandler.GetSettingsHistory)

		admin.PUT("/categories/:id/parent", manage, categoryHandler.SetParent)

		admin.POST("/permissions", manage, permissionHandler.GrantGlobalPermission)
		admin.DELETE("/permissions/:permissionId", manage, permissionHandler.RevokeGlobalPermission)

		admin.POST("/groups/:id/members", manage, permissionHandler.AddGroupMember)
		admin.DELETE("/groups/:id/members/:userId", manage, permissionHandler.RemoveGroupMember)

		// Bucket admins manage their own buckets
		admin.GET("/buckets/:id/permissions", permissionHandler.ListBucketPermissions)
		admin.POST("/buckets/:id/permissions", permissionHandler.GrantBucketPermission)
		admin.DELETE("/buckets/:id/permissions/:permissionId", permissionHandler.RevokeBucketPermission)
		admin.POST("/buckets/:id/credential-permissions", permissionHandler.GrantCredentialPermission)
		admin.DELETE("/buckets/:id/credential-permissions/:credentialId", permissionHandler.RevokeCredentialPermission)
	}

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Infof("Share approval service starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// Stop expiration job
	jobCancel()
	expirationJob.Stop()
	logger.Info("Expiration job stopped")

	notifier.Close()
	if err := permCache.Close(); err != nil {
		logger.Warnf("Failed to close permission cache: %v", err)
	}

	logger.Info("Server shutdown complete")
}
