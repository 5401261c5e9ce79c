package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	_ "github.com/noah-isme/instructor-dispatch-api/api/swagger"
	"github.com/noah-isme/instructor-dispatch-api/internal/handler"
	internalmiddleware "github.com/noah-isme/instructor-dispatch-api/internal/middleware"
	"github.com/noah-isme/instructor-dispatch-api/internal/models"
	"github.com/noah-isme/instructor-dispatch-api/internal/repository"
	"github.com/noah-isme/instructor-dispatch-api/internal/service"
	"github.com/noah-isme/instructor-dispatch-api/pkg/cache"
	"github.com/noah-isme/instructor-dispatch-api/pkg/config"
	"github.com/noah-isme/instructor-dispatch-api/pkg/database"
	"github.com/noah-isme/instructor-dispatch-api/pkg/export"
	"github.com/noah-isme/instructor-dispatch-api/pkg/jobs"
	"github.com/noah-isme/instructor-dispatch-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/instructor-dispatch-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/instructor-dispatch-api/pkg/middleware/requestid"
	"github.com/noah-isme/instructor-dispatch-api/pkg/routing"
)

// @title Instructor Dispatch API
// @version 1.0.0
// @description Assignment engine for dispatching instructors to unit training sessions
// @BasePath /
// @schemes http
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Assignment.CacheEnabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, candidate cache disabled", zap.Error(err))
			redisClient = nil
		}
	}

	loc := cfg.Location()
	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Assignment.CandidatesTTL, logr, cfg.Assignment.CacheEnabled && redisClient != nil)

	assignmentRepo := repository.NewAssignmentRepository(db)
	slotRepo := repository.NewSlotRepository(db)
	instructorRepo := repository.NewInstructorRepository(db)
	unitRepo := repository.NewUnitRepository(db)
	usageRepo := repository.NewUsageRepository(db)
	distanceRepo := repository.NewDistanceRepository(db)

	rps := cfg.Distance.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	kakao := routing.NewKakaoClient(cfg.Distance, routing.Options{Limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1)})

	distanceSvc := service.NewDistanceService(service.DistanceServiceParams{
		Distances:    distanceRepo,
		Usage:        usageRepo,
		Instructors:  instructorRepo,
		Units:        unitRepo,
		Provider:     kakao,
		Cache:        cacheSvc,
		Metrics:      metricsSvc,
		Logger:       logr.Named("distance"),
		Location:     loc,
		RouteLimit:   cfg.Distance.DailyRouteLimit,
		GeocodeLimit: cfg.Distance.DailyGeocodeLimit,
		Timeout:      cfg.Distance.ProviderTimeout,
	})

	warmer := service.NewDistanceWarmer(distanceSvc, jobs.QueueConfig{
		Workers:    cfg.Distance.WarmerWorkers,
		BufferSize: cfg.Distance.WarmerBufferSize,
		MaxRetries: 2,
		RetryDelay: 5 * time.Second,
		Logger:     logr.Named("distance-warmer"),
	})
	warmer.Start(ctx)
	if cfg.Distance.BatchInterval > 0 {
		go warmer.RunPeriodic(ctx, cfg.Distance.BatchInterval, cfg.Distance.BatchSize)
	}

	candidateSvc := service.NewCandidateService(service.CandidateServiceParams{
		Slots:        slotRepo,
		Instructors:  instructorRepo,
		Assignments:  assignmentRepo,
		Distances:    distanceSvc,
		Warmer:       warmer,
		Cache:        cacheSvc,
		Logger:       logr.Named("candidates"),
		Location:     loc,
		MaxRangeDays: cfg.Assignment.MaxRangeDays,
		CacheTTL:     cfg.Assignment.CandidatesTTL,
		WarmOnRead:   cfg.Assignment.WarmOnCandidates,
	})

	assignmentSvc := service.NewAssignmentService(service.AssignmentServiceParams{
		Assignments: assignmentRepo,
		Slots:       slotRepo,
		Instructors: instructorRepo,
		Candidates:  candidateSvc,
		Cache:       cacheSvc,
		Metrics:     metricsSvc,
		Validator:   validate,
		Logger:      logr.Named("assignments"),
		Location:    loc,
	})

	exportSvc := service.NewExportService(assignmentSvc, export.NewCSVExporter(), export.NewPDFExporter(cfg.Export.PDFFontPath), logr.Named("export"))
	availabilitySvc := service.NewAvailabilityService(instructorRepo, cacheSvc, validate, logr.Named("availability"), loc)
	authSvc := service.NewAuthService(service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})

	assignmentHandler := handler.NewAssignmentHandler(candidateSvc, assignmentSvc, exportSvc)
	distanceHandler := handler.NewDistanceHandler(distanceSvc)
	availabilityHandler := handler.NewAvailabilityHandler(availabilitySvc)
	checks := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admins := internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	instructors := internalmiddleware.RequireRoles(models.RoleInstructor)
	audit := func(action string) gin.HandlerFunc { return internalmiddleware.Audit(logr.Named("audit"), action) }

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(authSvc))

	assignments := api.Group("/assignments")
	assignments.GET("/candidates", admins, assignmentHandler.Candidates)
	assignments.POST("/auto", admins, audit("assignment.auto"), assignmentHandler.AutoAssign)
	assignments.POST("/propose", admins, audit("assignment.propose"), assignmentHandler.Propose)
	assignments.PATCH("/:slotId/cancel", admins, audit("assignment.cancel"), assignmentHandler.Cancel)
	assignments.POST("/:slotId/respond", instructors, audit("assignment.respond"), assignmentHandler.Respond)
	assignments.GET("/upcoming", instructors, assignmentHandler.Upcoming)
	assignments.GET("/history", instructors, assignmentHandler.History)
	assignments.GET("/history/export", instructors, assignmentHandler.ExportHistory)
	assignments.GET("/:slotId/detail", instructors, assignmentHandler.Detail)

	distances := api.Group("/distances")
	distances.GET("/usage/today", admins, distanceHandler.TodayUsage)
	distances.POST("/batch", internalmiddleware.RequireRoles(models.RoleSuperAdmin), audit("distance.batch"), distanceHandler.Batch)
	distances.DELETE("/units/:unitId", admins, audit("distance.invalidate"), distanceHandler.InvalidateUnit)
	distances.GET("/:instructorId/units",
		internalmiddleware.RBAC(string(models.RoleAdmin), string(models.RoleSuperAdmin), internalmiddleware.Self),
		distanceHandler.UnitsWithin)
	distances.GET("/:instructorId/:unitId", admins, distanceHandler.Get)

	me := api.Group("/instructors/me", instructors)
	me.GET("/availability", availabilityHandler.Get)
	me.PUT("/availability", audit("availability.update"), availabilityHandler.Update)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	warmer.Stop()
}
