package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/marsitschool/review-agent/config"
	"github.com/marsitschool/review-agent/internal/gateway"
	"github.com/marsitschool/review-agent/internal/handlers"
	"github.com/marsitschool/review-agent/internal/middleware"
	"github.com/marsitschool/review-agent/internal/push"
	"github.com/marsitschool/review-agent/internal/queue"
	"github.com/marsitschool/review-agent/internal/rating"
	"github.com/marsitschool/review-agent/internal/schoolapi"
	"github.com/marsitschool/review-agent/internal/services"
	"github.com/marsitschool/review-agent/internal/session"
	"github.com/marsitschool/review-agent/internal/storage"
	"github.com/marsitschool/review-agent/pkg/httpclient"
	"github.com/marsitschool/review-agent/pkg/logger"
	"github.com/marsitschool/review-agent/pkg/metrics"
	"github.com/marsitschool/review-agent/pkg/profiling"
	"github.com/marsitschool/review-agent/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	err = logger.Initialize(logger.Config{
		Level:       cfg.Logging.Level,
		LogDir:      cfg.Logging.Dir,
		Environment: cfg.Server.AppEnv,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting review agent",
		zap.String("version", cfg.Observability.ServiceVersion),
		zap.String("environment", cfg.Server.AppEnv),
	)

	tracerShutdown, err := tracing.InitTracer(
		cfg.Observability.ServiceName,
		cfg.Observability.ServiceNamespace,
		cfg.Observability.ServiceVersion,
		cfg.Observability.ServiceInstanceID,
		cfg.Server.AppEnv,
		cfg.Observability.ExporterEndpoint,
	)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tracerShutdown(ctx); shutdownErr != nil {
			logger.Error("Failed to shutdown tracer", zap.Error(shutdownErr))
		}
	}()

	if cfg.Profiling.Enabled {
		stopProfiler, err := profiling.InitProfiler(
			cfg.Profiling,
			cfg.Observability.ServiceName,
			cfg.Observability.ServiceNamespace,
			cfg.Observability.ServiceVersion,
			cfg.Observability.ServiceInstanceID,
			cfg.Server.AppEnv,
		)
		if err != nil {
			logger.Error("Failed to initialize profiler", zap.Error(err))
		} else {
			defer stopProfiler()
		}
	}

	metrics.RecordInfrastructureMetrics()

	// Credential store and session state
	creds, err := storage.NewFileStore(filepath.Join(cfg.Storage.DataDir, "credentials.json"))
	if err != nil {
		logger.Fatal("Failed to open credential store", zap.Error(err))
	}
	sessions := session.New(creds)

	// Upstream plumbing: plain client for login/refresh/subscribe, gateway
	// for everything behind the bearer token.
	httpClient := httpclient.NewClientWithTimeout(time.Duration(cfg.SchoolAPI.TimeoutSeconds) * time.Second)
	gw := gateway.New(cfg.SchoolAPI.BaseURL, httpClient, sessions, creds)
	api := schoolapi.NewClient(cfg.SchoolAPI.BaseURL, httpClient, gw, sessions)

	// Domain services
	pushManager := push.NewManager(
		cfg.Push.Enabled,
		cfg.Push.VAPIDPublicKey,
		cfg.Push.CallbackBaseURL,
		cfg.Storage.DataDir,
		api,
	)
	receiver := push.NewReceiver(pushManager, nil)

	authService := services.NewAuthService(sessions, api, pushManager)
	queueService := queue.NewService(api, time.Duration(cfg.Cache.RulesTTLSeconds)*time.Second)
	flows := rating.NewRegistry(api, queueService.Remove)

	// Queue follows session changes: refetch on a new token, clear on logout.
	sessions.OnChange(queueService.HandleSessionChange)
	sessions.OnChange(func(s session.Session) {
		if !s.IsAuthenticated {
			flows.Reset()
		}
	})

	// Restore a previous session before accepting requests.
	authService.Restore()

	// Handlers
	authHandler := handlers.NewAuthHandler(authService)
	queueHandler := handlers.NewQueueHandler(queueService)
	ratingHandler := handlers.NewRatingHandler(flows)
	notificationsHandler := handlers.NewNotificationsHandler(receiver)
	healthHandler := handlers.NewHealthHandler(cfg.Push.Enabled)

	gin.SetMode(cfg.Server.GinMode)
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Observability.ServiceName))
	router.Use(middleware.Observability())
	router.Use(middleware.SecurityHeaders())

	allowedOrigins := cfg.Server.AllowedOrigins
	if cfg.IsDevelopment() {
		allowedOrigins = append(allowedOrigins, "http://localhost:3000", "http://127.0.0.1:3000")
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "traceparent", "tracestate"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	generalRateLimiter := middleware.NewRateLimiter(50, 100) // local UI traffic
	authRateLimiter := middleware.NewRateLimiter(1, 5)       // login attempts
	pushRateLimiter := middleware.NewRateLimiter(10, 20)     // push deliveries
	defer generalRateLimiter.Stop()
	defer authRateLimiter.Stop()
	defer pushRateLimiter.Stop()

	ops := router.Group("/api")
	ops.GET("/healthcheck", generalRateLimiter.Middleware(), healthHandler.Healthcheck)
	ops.GET("/metrics", generalRateLimiter.Middleware(), gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	auth := router.Group("/api/v1/auth")
	auth.POST("/login", authRateLimiter.Middleware(), middleware.BodySizeLimit(16*1024), authHandler.Login)
	auth.POST("/logout", generalRateLimiter.Middleware(), authHandler.Logout)
	auth.GET("/session", generalRateLimiter.Middleware(), authHandler.Session)
	auth.POST("/clear-error", generalRateLimiter.Middleware(), authHandler.ClearError)

	v1 := router.Group("/api/v1")
	v1.Use(generalRateLimiter.Middleware(), middleware.SessionGuard(sessions))
	v1.GET("/queue", queueHandler.List)
	v1.POST("/queue/refresh", queueHandler.Refresh)
	v1.GET("/rules", queueHandler.Rules)
	v1.POST("/queue/:internId/rating", middleware.BodySizeLimit(64*1024), ratingHandler.Submit)
	v1.GET("/notifications", notificationsHandler.List)
	v1.POST("/notifications/:id/click", notificationsHandler.Click)

	// Push delivery callback. Not session guarded: the push service is the
	// caller, authenticated by the per-device endpoint and payload encryption.
	router.POST("/push/:deviceId", pushRateLimiter.Middleware(), middleware.BodySizeLimit(8*1024), receiver.HandlePush)

	srv := &http.Server{
		Addr:              "127.0.0.1:" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Info("Agent started", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down agent...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Agent exited")
}
