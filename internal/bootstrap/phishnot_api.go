package bootstrap

import (
	"context"
	"strings"

	"phishnot_server/adapter/in/http"
	"phishnot_server/config"
	"phishnot_server/core/service/ratelimit"
	"phishnot_server/infra/middleware"
	"phishnot_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// devUserHeader carries the caller id in development when no token is sent.
const devUserHeader = "X-User-ID"

func NewAPI(ctx context.Context, cfg *config.Config) (*fiber.App, func(), error) {
	logger.Init(logger.Config{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Service: "phishnot-api",
	})

	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		// go-json: 표준 encoding/json 대비 빠른 직렬화
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// email bodies are the largest payloads
		BodyLimit: 2 * 1024 * 1024,

		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger(deps.Metrics))
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PUT,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset,Retry-After",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health & metrics (no auth)
	health := http.NewHealthHandler()
	if deps.Postgres != nil {
		health.AddCheck("postgres", deps.Postgres.Ping)
	}
	if deps.Redis != nil {
		health.AddCheck("redis", func(ctx context.Context) error { return deps.Redis.Ping(ctx).Err() })
	}
	if deps.MongoDB != nil {
		health.AddOptionalCheck("mongodb", func(ctx context.Context) error { return deps.MongoDB.Ping(ctx, nil) })
	}
	if deps.Neo4j != nil {
		health.AddOptionalCheck("neo4j", deps.Neo4j.VerifyConnectivity)
	}
	health.AddOptionalCheck("classifier", deps.Classifier.Health)
	health.Register(app)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{})))

	// API routes
	auth := middleware.AuthConfig{Secret: cfg.JWTSecret}
	if cfg.IsDevelopment() {
		auth.DevHeader = devUserHeader
		logger.Warn("Development auth enabled: %s header is trusted", devUserHeader)
	}
	api := app.Group("/api/v1", middleware.JWTAuth(auth), middleware.RequireJSON())

	http.NewFeedbackHandler(deps.FeedbackService).Register(api)
	http.NewClassificationHandler(deps.ClassificationService).
		Register(api, middleware.RateLimit(deps.Limiter, ratelimit.EndpointClassify))

	readLimit := middleware.RateLimit(deps.Limiter, ratelimit.EndpointAnalytics)
	http.NewAnalyticsHandler(deps.AnalyticsService).Register(api, readLimit)
	http.NewInsightHandler(deps.ReputationTracker, deps.PatternWeights, deps.Limiter).Register(api, readLimit)
	http.NewAlertHandler(deps.AlertService).
		Register(api, middleware.RateLimit(deps.Limiter, ratelimit.EndpointSettings))

	logger.Info("API server initialized successfully")

	return app, cleanup, nil
}
