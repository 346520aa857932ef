package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"phishnot_server/adapter/out/graph"
	"phishnot_server/adapter/out/memory"
	"phishnot_server/adapter/out/messaging"
	"phishnot_server/adapter/out/mongodb"
	"phishnot_server/adapter/out/persistence"
	"phishnot_server/adapter/out/provider"
	"phishnot_server/config"
	"phishnot_server/core/domain"
	"phishnot_server/core/port/out"
	"phishnot_server/core/service/alert"
	"phishnot_server/core/service/analytics"
	"phishnot_server/core/service/classification"
	"phishnot_server/core/service/feedback"
	"phishnot_server/core/service/pattern"
	"phishnot_server/core/service/ratelimit"
	"phishnot_server/core/service/reputation"
	"phishnot_server/infra/database"
	"phishnot_server/pkg/cache"
	"phishnot_server/pkg/logger"
	"phishnot_server/pkg/metrics"
	redislimit "phishnot_server/pkg/ratelimit"
	"phishnot_server/pkg/resilience"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	redisPrefix         = "phishnot:"
	auditEntriesPerItem = 100
	connectTimeout      = 10 * time.Second
)

// stores is the set of repositories one backend provides.
type stores struct {
	tx              out.Transactor
	classifications out.ClassificationRepository
	feedback        out.FeedbackRepository
	reputations     out.ReputationRepository
	patterns        out.PatternWeightRepository
	rateLimits      out.RateLimitStore
	alerts          out.AlertRepository
	alertState      out.AlertStateStore
}

type Dependencies struct {
	Config  *config.Config
	Metrics *metrics.Metrics

	// Infrastructure (nil when not configured)
	Postgres *database.Postgres
	Redis    *redis.Client
	MongoDB  *mongo.Client
	Neo4j    neo4j.DriverWithContext

	// Adapters
	Classifier   *provider.HTTPClassifier
	Publisher    out.EventPublisher
	PatternGraph out.PatternGraph

	// Services
	Limiter               *ratelimit.Limiter
	ReputationTracker     *reputation.Tracker
	PatternWeights        *pattern.WeightStore
	AlertService          *alert.Service
	AnalyticsService      *analytics.Service
	ClassificationService *classification.Service
	FeedbackService       *feedback.Service
}

// NewDependencies connects every configured backend and wires the services.
// The returned cleanup closes connections in reverse order.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg, Metrics: metrics.New()}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// =========================================================================
	// Primary store
	// =========================================================================
	var st stores
	if cfg.DatabaseURL != "" {
		pgCfg := database.DefaultPostgresConfig()
		pgCfg.MaxConns = int32(cfg.DBMaxConns)
		pgCfg.MinConns = int32(cfg.DBMinConns)
		pgCfg.ConnectTimeout = cfg.DBConnTimeout

		pg, err := database.NewPostgres(ctx, cfg.DatabaseURL, pgCfg)
		if err != nil {
			return fail(err)
		}
		deps.Postgres = pg
		cleanups = append(cleanups, pg.Close)
		deps.Metrics.RegisterDB(pg.DB.DB, "postgres")

		if cfg.AutoMigrate {
			version, err := persistence.Migrate(pg.DB)
			if err != nil {
				return fail(err)
			}
			logger.Info("Database schema at version %d", version)
		}
		st = postgresStores(pg)
		logger.Info("Using PostgreSQL store")
	} else {
		if cfg.IsProduction() {
			return fail(errors.New("in-memory store is not allowed in production"))
		}
		st = memoryStores(memory.NewStore())
		logger.Warn("DATABASE_URL not set, using in-memory store (state is lost on restart)")
	}

	// =========================================================================
	// Optional backends
	// =========================================================================
	if cfg.RedisURL != "" {
		client, err := database.NewRedis(ctx, cfg.RedisURL, database.DefaultRedisConfig())
		if err != nil {
			if cfg.RateLimitBackend == "redis" {
				return fail(err)
			}
			logger.WithError(err).Warn("Redis unavailable, continuing without cache and streams")
		} else {
			deps.Redis = client
			cleanups = append(cleanups, func() { _ = client.Close() })
		}
	}
	if cfg.RateLimitBackend == "redis" && deps.Redis == nil {
		return fail(errors.New("RATE_LIMIT_BACKEND=redis requires REDIS_URL"))
	}

	var audit interface {
		out.AuditSink
		out.AuditReader
	} = memory.NewAuditLog(auditEntriesPerItem)
	if cfg.MongoDBURL != "" {
		client, err := mongodb.NewClient(ctx, cfg.MongoDBURL, mongodb.DefaultClientConfig())
		if err != nil {
			logger.WithError(err).Warn("MongoDB unavailable, audit log kept in memory")
		} else {
			deps.MongoDB = client
			cleanups = append(cleanups, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = client.Disconnect(ctx)
			})
			adapter := mongodb.NewAuditAdapter(client.Database(cfg.MongoDBName), cfg.AuditRetention)
			if err := adapter.EnsureIndexes(ctx); err != nil {
				logger.WithError(err).Warn("Failed to ensure audit indexes")
			}
			audit = adapter
			logger.Info("MongoDB audit log initialized")
		}
	}

	if cfg.Neo4jURL != "" {
		driver, err := graph.NewDriver(ctx, cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword, connectTimeout)
		if err != nil {
			logger.WithError(err).Warn("Neo4j unavailable, pattern graph projection disabled")
		} else {
			deps.Neo4j = driver
			cleanups = append(cleanups, func() { _ = driver.Close(context.Background()) })
			projector := graph.NewPatternProjector(driver, "neo4j")
			if err := projector.EnsureIndexes(ctx); err != nil {
				logger.WithError(err).Warn("Failed to ensure Neo4j indexes")
			}
			deps.PatternGraph = projector
		}
	}

	// Redis takes over the hot paths it is configured for.
	var analyticsCache out.Cache = cache.NewLocalCache(0)
	if deps.Redis != nil {
		producer := messaging.NewRedisProducer(deps.Redis)
		deps.Publisher = producer
		analyticsCache = cache.NewRedisCache(deps.Redis, redisPrefix+"cache:")
		st.alertState = redislimit.NewRedisAlertState(deps.Redis, redisPrefix+"alert:")
	}
	switch cfg.RateLimitBackend {
	case "redis":
		st.rateLimits = redislimit.NewRedisWindowStore(deps.Redis, redisPrefix+"rl:")
	case "memory":
		if deps.Postgres != nil {
			st.rateLimits = memory.NewStore().RateLimits()
		}
	}

	// =========================================================================
	// Services
	// =========================================================================
	p := cfg.Policy
	limiterBreaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name: "ratelimit-store",
		IsFailure: func(err error) bool {
			return errors.Is(err, domain.ErrStoreUnavailable)
		},
	})
	deps.Limiter = ratelimit.NewLimiter(st.rateLimits, map[string]ratelimit.Policy{
		ratelimit.EndpointFeedback:  {Limit: p.FeedbackLimit, Window: p.FeedbackWindow, Mutating: true},
		ratelimit.EndpointClassify:  {Limit: p.ClassifyLimit, Window: p.ClassifyWindow, Mutating: true},
		ratelimit.EndpointAnalytics: {Limit: p.AnalyticsLimit, Window: p.AnalyticsWindow},
		ratelimit.EndpointSettings:  {Limit: p.SettingsLimit, Window: p.SettingsWindow, Mutating: true},
	}, ratelimit.WithMetrics(deps.Metrics), ratelimit.WithBreaker(limiterBreaker))

	lex, err := config.LoadLexicon(cfg.LexiconPath)
	if err != nil {
		return fail(err)
	}
	extractor := pattern.NewExtractor(pattern.Lexicon{
		SubjectKeywords:   lex.SubjectKeywords,
		SubjectPatterns:   lex.SubjectPatterns,
		ContentIndicators: lex.ContentIndicators,
	})

	deps.ReputationTracker = reputation.NewTracker(st.reputations, deps.Metrics)
	deps.PatternWeights = pattern.NewWeightStore(st.patterns, extractor, pattern.WeightConfig{
		DeltaScale:    p.DeltaScale,
		SkipThreshold: p.SkipThreshold,
		BoostBound:    p.BoostBound,
	}, deps.Metrics)
	deps.AlertService = alert.NewService(st.alerts, st.alertState, st.classifications, deps.Publisher, deps.Metrics, p.AlertWindow)
	deps.AnalyticsService = analytics.NewService(st.classifications, st.feedback, analyticsCache, cfg.AnalyticsCacheTTL)

	deps.Classifier = provider.NewHTTPClassifier(cfg.ClassifierURL, cfg.ClassifierTimeout, nil)
	deps.ClassificationService = classification.NewService(
		deps.Classifier, st.classifications, deps.PatternWeights, deps.AlertService, deps.Metrics)

	deps.FeedbackService = feedback.NewService(feedback.Deps{
		Tx:              st.tx,
		Classifications: st.classifications,
		Feedback:        st.feedback,
		Limiter:         deps.Limiter,
		Validator: feedback.NewValidator(st.reputations, st.feedback, feedback.ValidatorConfig{
			ReputationWeight:      p.ReputationWeight,
			ConsistencyWeight:     p.ConsistencyWeight,
			AcceptanceThreshold:   p.AcceptanceThreshold,
			HistoryWindow:         p.HistoryWindow,
			MinHistory:            p.MinHistory,
			SuspiciousRatio:       p.SuspiciousRatio,
			SuspiciousConsistency: p.SuspiciousConsistency,
			NeutralConsistency:    p.NeutralConsistency,
		}),
		Reputation:  deps.ReputationTracker,
		Weights:     deps.PatternWeights,
		Audit:       audit,
		AuditReader: audit,
		Publisher:   deps.Publisher,
		Metrics:     deps.Metrics,
	})

	return deps, cleanup, nil
}

func postgresStores(pg *database.Postgres) stores {
	alerts := persistence.NewAlertAdapter(pg.DB)
	return stores{
		tx:              persistence.NewTransactor(pg.DB),
		classifications: persistence.NewClassificationAdapter(pg.DB),
		feedback:        persistence.NewFeedbackAdapter(pg.DB),
		reputations:     persistence.NewReputationAdapter(pg.DB),
		patterns:        persistence.NewPatternWeightAdapter(pg.DB),
		rateLimits:      persistence.NewRateLimitAdapter(pg.DB),
		alerts:          alerts,
		alertState:      alerts,
	}
}

func memoryStores(s *memory.Store) stores {
	return stores{
		tx:              s,
		classifications: s.Classifications(),
		feedback:        s.Feedback(),
		reputations:     s.Reputations(),
		patterns:        s.Patterns(),
		rateLimits:      s.RateLimits(),
		alerts:          s.Alerts(),
		alertState:      s.AlertState(),
	}
}

// RunMigrations applies the embedded schema and reports the resulting version.
func RunMigrations(ctx context.Context, cfg *config.Config) (uint, error) {
	if cfg.DatabaseURL == "" {
		return 0, errors.New("DATABASE_URL is required to migrate")
	}
	pg, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.DefaultPostgresConfig())
	if err != nil {
		return 0, err
	}
	defer pg.Close()

	version, err := persistence.Migrate(pg.DB)
	if err != nil {
		return 0, fmt.Errorf("migrate: %w", err)
	}
	return version, nil
}
