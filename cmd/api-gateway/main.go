package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/academy-crm-api/api/swagger"
	"github.com/noah-isme/academy-crm-api/internal/handler"
	internalmiddleware "github.com/noah-isme/academy-crm-api/internal/middleware"
	"github.com/noah-isme/academy-crm-api/internal/models"
	"github.com/noah-isme/academy-crm-api/internal/repository"
	"github.com/noah-isme/academy-crm-api/internal/service"
	"github.com/noah-isme/academy-crm-api/pkg/cache"
	"github.com/noah-isme/academy-crm-api/pkg/config"
	"github.com/noah-isme/academy-crm-api/pkg/database"
	"github.com/noah-isme/academy-crm-api/pkg/logger"
	"github.com/noah-isme/academy-crm-api/pkg/messaging"
	corsmiddleware "github.com/noah-isme/academy-crm-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/academy-crm-api/pkg/middleware/requestid"
)

// @title Academy CRM API
// @version 1.0.0
// @description Lead pipeline board for the academy front office.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db.DB, cfg.Database.MigrationsDir); err != nil {
			logr.Fatal("failed to run migrations", zap.Error(err))
		}
		logr.Info("migrations applied")
	}

	redisClient := connectRedis(cfg, logr)

	metricsSvc := service.NewMetricsService()
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Leads.CacheTTL, logr, cfg.Leads.CacheEnabled && redisClient != nil)

	publisher := connectPublisher(cfg, logr)
	defer publisher.Close() //nolint:errcheck

	notificationSvc := service.NewNotificationService(
		repository.NewNotificationRepository(db),
		publisher,
		metricsSvc,
		logr,
		service.NotificationConfig{
			Enabled:    cfg.Notifications.Enabled,
			Workers:    cfg.Notifications.WorkerConcurrency,
			MaxRetries: cfg.Notifications.WorkerRetries,
			RetryDelay: cfg.Notifications.RetryDelay,
			RoutingKey: cfg.Notifications.RoutingKey,
		},
	)

	leadSvc := service.NewLeadService(
		repository.NewLeadRepository(db),
		service.NewLeadValidator(),
		logr,
		service.WithLeadNotifier(notificationSvc),
		service.WithLeadAudit(repository.NewAuditRepository(db)),
		service.WithLeadCache(cacheSvc, cfg.Leads.CacheTTL),
		service.WithLeadMetrics(metricsSvc),
		service.WithBulkConcurrency(cfg.Leads.BulkConcurrency),
		service.WithPhoneRegion(cfg.Leads.PhoneRegion),
	)
	pipelineSvc := service.NewPipelineService(leadSvc, metricsSvc, logr, service.PipelineConfig{
		RefreshInterval: cfg.Leads.RefreshInterval,
		SessionTTL:      cfg.Leads.SessionTTL,
	})
	tokenSvc := service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()
	go pipelineSvc.RunSessionJanitor(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, readinessChecks(db, cacheRepo, redisClient))
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	if cfg.Leads.Enabled {
		registerLeadRoutes(ctx, r.Group(cfg.APIPrefix), cfg, logr, tokenSvc, pipelineSvc)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func registerLeadRoutes(ctx context.Context, api *gin.RouterGroup, cfg *config.Config, logr *zap.Logger, tokens *service.TokenService, pipelineSvc *service.PipelineService) {
	leadHandler := handler.NewLeadHandler(pipelineSvc)
	boardHandler := handler.NewBoardHandler(pipelineSvc)
	bulkLimiter := internalmiddleware.NewIPRateLimiter(cfg.RateLimit.BulkPerMinute, cfg.RateLimit.BulkBurst, cfg.RateLimit.IdleTTL, logr)
	go bulkLimiter.RunJanitor(ctx, time.Minute)

	leads := api.Group("/leads")
	leads.Use(internalmiddleware.WithResponseMeta())
	leads.Use(internalmiddleware.JWT(tokens))
	leads.Use(internalmiddleware.RequireRoles(models.PipelineRoles()...))

	leads.GET("", leadHandler.List)
	leads.POST("", leadHandler.Create)

	board := leads.Group("/board")
	board.GET("", boardHandler.Board)
	board.POST("/selection", boardHandler.ToggleSelection)
	board.POST("/selection/stage", boardHandler.ToggleStageSelection)
	board.POST("/selection/all", boardHandler.SelectAll)
	board.DELETE("/selection", boardHandler.ClearSelection)
	board.POST("/drag", boardHandler.StartDrag)
	board.POST("/drag/drop", boardHandler.Drop)
	board.DELETE("/drag", boardHandler.CancelDrag)

	bulk := leads.Group("/bulk", bulkLimiter.RateLimit())
	bulk.POST("/archive", leadHandler.BulkArchive)
	bulk.POST("/delete", leadHandler.BulkDelete)
	bulk.POST("/move", leadHandler.BulkMove)

	leads.DELETE("/archived", leadHandler.PurgeArchived)

	leads.GET("/:id", leadHandler.Get)
	leads.PUT("/:id", leadHandler.Update)
	leads.DELETE("/:id", leadHandler.Delete)
	leads.POST("/:id/move", leadHandler.Move)
	leads.POST("/:id/archive", leadHandler.Archive)
	leads.POST("/:id/restore", leadHandler.Restore)
	leads.POST("/:id/contact", leadHandler.Contact)
}

// connectRedis returns nil when Redis is unreachable; the board then runs without the snapshot cache.
func connectRedis(cfg *config.Config, logr *zap.Logger) *redis.Client {
	if !cfg.Leads.CacheEnabled {
		return nil
	}
	client, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, lead cache disabled", zap.Error(err))
		return nil
	}
	return client
}

func connectPublisher(cfg *config.Config, logr *zap.Logger) messaging.Publisher {
	if !cfg.Notifications.Enabled || cfg.Notifications.AMQPURL == "" {
		return messaging.NopPublisher{}
	}
	publisher, err := messaging.DialRabbit(cfg.Notifications.AMQPURL, cfg.Notifications.Exchange, logr)
	if err != nil {
		logr.Warn("rabbitmq unavailable, lead notifications are stored only", zap.Error(err))
		return messaging.NopPublisher{}
	}
	return publisher
}

func readinessChecks(db *sqlx.DB, cacheRepo *repository.CacheRepository, redisClient *redis.Client) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = cacheRepo.Ping
	}
	return checks
}
