package di

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"topicgrader/application/commands/bus"
	commandhandlers "topicgrader/application/commands/handlers"
	"topicgrader/application/ports"
	querybus "topicgrader/application/queries/bus"
	queryhandlers "topicgrader/application/queries/handlers"
	"topicgrader/application/services"
	domainconfig "topicgrader/domain/config"
	domainservices "topicgrader/domain/services"
	"topicgrader/infrastructure/config"
	"topicgrader/infrastructure/messaging/eventbridge"
	"topicgrader/infrastructure/messaging/logging"
	"topicgrader/infrastructure/persistence/badger"
	"topicgrader/infrastructure/persistence/dynamodb"
	"topicgrader/infrastructure/persistence/memory"
	"topicgrader/infrastructure/persistence/sqlite"
	"topicgrader/infrastructure/scheduler"
	"topicgrader/infrastructure/scoring/openai"
	"topicgrader/pkg/observability"
)

const (
	serviceName = "topicgrader"

	// queryCacheTTL is in seconds
	queryCacheTTL       = 300
	queryCacheSweep     = time.Minute
	cleanupLockOwnerEnv = "HOSTNAME"
)

// ProvideLogger creates a new logger instance. Its cleanup flushes buffered entries.
func ProvideLogger(cfg *config.Config) (*zap.Logger, func(), error) {
	var zapCfg zap.Config
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	// keep stdout for command output
	zapCfg.OutputPaths = []string{"stderr"}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, nil, err
	}
	logger = logger.With(zap.String("service", serviceName))
	return logger, func() { _ = logger.Sync() }, nil
}

// ProvideDomainConfig derives the domain rules from the process configuration
func ProvideDomainConfig(cfg *config.Config) *domainconfig.DomainConfig {
	return cfg.DomainConfig()
}

// ProvideAWSConfig creates AWS configuration. Clients built from it are
// traced through X-Ray when tracing is enabled.
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if cfg.EnableTracing {
		awsv2.AWSV2Instrumentor(&awsCfg.APIOptions)
	}
	return awsCfg, nil
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideTreeStore opens the configured store backend
func ProvideTreeStore(cfg *config.Config, client *awsdynamodb.Client, logger *zap.Logger) (ports.TreeStore, func(), error) {
	noop := func() {}
	switch cfg.StoreBackend {
	case config.StoreDynamoDB:
		return dynamodb.NewTreeStore(client, cfg.DynamoDBTable, logger), noop, nil

	case config.StoreBadger:
		badgerCfg := badger.InMemoryConfig()
		if cfg.BadgerDir != "" {
			badgerCfg = badger.DefaultConfig(cfg.BadgerDir)
		}
		db, err := badger.Open(badgerCfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return badger.NewTreeStore(db, logger), func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close badger", zap.Error(err))
			}
		}, nil

	case config.StoreSQLite:
		store, err := sqlite.Open(cfg.SQLiteDSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close sqlite", zap.Error(err))
			}
		}, nil

	case config.StoreMemory, "":
		return memory.NewTreeStore(), noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// ProvideEventPublisher publishes to EventBridge when a bus is configured
// and to the debug log otherwise
func ProvideEventPublisher(cfg *config.Config, client *awseventbridge.Client, logger *zap.Logger) ports.EventPublisher {
	if cfg.EventBusName != "" {
		return eventbridge.NewPublisher(client, cfg.EventBusName, logger)
	}
	return logging.NewPublisher(logger, zapcore.DebugLevel)
}

// ProvideCollector creates the Prometheus collector
func ProvideCollector() *observability.Collector {
	return observability.NewCollector("topicgrader")
}

// ProvideMetrics returns the collector when metrics are enabled
func ProvideMetrics(cfg *config.Config, collector *observability.Collector) ports.Metrics {
	if !cfg.EnableMetrics {
		return ports.NoopMetrics{}
	}
	return collector
}

// ProvideTracer returns an X-Ray tracer when tracing is enabled
func ProvideTracer(cfg *config.Config) ports.Tracer {
	if !cfg.EnableTracing {
		return ports.NoopTracer{}
	}
	return observability.NewTracer(serviceName)
}

// ProvideScoringStrategy picks the heuristic or the chat model strategy
func ProvideScoringStrategy(cfg *config.Config, domainCfg *domainconfig.DomainConfig, logger *zap.Logger) domainservices.ScoringStrategy {
	if cfg.ScoringBackend == config.ScoringOpenAI {
		oaCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
		oaCfg.BaseURL = cfg.OpenAIBaseURL
		if cfg.OpenAIModel != "" {
			oaCfg.Model = cfg.OpenAIModel
		}
		oaCfg.RatePerSecond = cfg.ScoringRateLimit
		return openai.NewStrategy(oaCfg, logger)
	}
	return domainservices.NewHeuristicScoringStrategy(domainservices.NewKeywordTopicAnalyzer(domainCfg))
}

// ProvideSessionManager creates the session registry and the options every
// grading system it creates receives
func ProvideSessionManager(
	cfg *config.Config,
	domainCfg *domainconfig.DomainConfig,
	store ports.TreeStore,
	publisher ports.EventPublisher,
	metrics ports.Metrics,
	tracer ports.Tracer,
	strategy domainservices.ScoringStrategy,
	logger *zap.Logger,
) *services.SessionManager {
	return services.NewSessionManager(domainCfg, store, logger,
		services.WithRestoreMode(services.RestoreMode(cfg.RestoreMode)),
		services.WithSessionPublisher(publisher),
		services.WithSessionMetrics(metrics),
		services.WithGradingOptions(
			services.WithScoringStrategy(strategy),
			services.WithEventPublisher(publisher),
			services.WithMetrics(metrics),
			services.WithTracer(tracer),
			services.WithLogger(logger),
		),
	)
}

// ProvideCommandBus creates a command bus with registered handlers
func ProvideCommandBus(
	sessions *services.SessionManager,
	domainCfg *domainconfig.DomainConfig,
	logger *zap.Logger,
) (*bus.CommandBus, error) {
	commandBus := bus.NewCommandBus(
		bus.RecoveryMiddleware(),
		bus.LoggingMiddleware(logger.Named("commands")),
	)
	err := commandhandlers.RegisterAll(commandBus,
		commandhandlers.NewSessionCommandHandler(sessions, domainCfg, logger),
		commandhandlers.NewGradingCommandHandler(sessions),
	)
	if err != nil {
		return nil, fmt.Errorf("registering command handlers: %w", err)
	}
	return commandBus, nil
}

// ProvideQueryCache creates the query result cache
func ProvideQueryCache() (*InMemoryCache, func()) {
	cache := NewInMemoryCache(queryCacheSweep)
	return cache, cache.Close
}

// ProvideQueryBus creates a query bus with registered handlers. Session
// scoped results are cached per tree version.
func ProvideQueryBus(
	sessions *services.SessionManager,
	cache *InMemoryCache,
	tracer ports.Tracer,
	logger *zap.Logger,
) (*querybus.QueryBus, error) {
	handler := queryhandlers.NewTopicQueryHandler(sessions)
	caching := querybus.NewCachingMiddleware(cache, queryCacheTTL, handler.VersionLookup())

	queryBus := querybus.NewQueryBus(
		querybus.TracingMiddleware(tracer, logger.Named("queries")),
		caching.Wrap,
	)
	if err := handler.RegisterAll(queryBus); err != nil {
		return nil, fmt.Errorf("registering query handlers: %w", err)
	}
	return queryBus, nil
}

// ProvideCleanupLocker guards the expiry sweep with a DynamoDB lease when
// sessions are shared through DynamoDB. Other backends are process local.
func ProvideCleanupLocker(cfg *config.Config, client *awsdynamodb.Client, logger *zap.Logger) scheduler.Locker {
	if cfg.StoreBackend != config.StoreDynamoDB {
		return nil
	}
	return dynamodb.NewDistributedLock(client, cfg.DynamoDBTable, os.Getenv(cleanupLockOwnerEnv), logger)
}

// ProvideScheduler creates the session expiry scheduler; it is started by the caller
func ProvideScheduler(
	cfg *config.Config,
	sessions *services.SessionManager,
	locker scheduler.Locker,
	logger *zap.Logger,
) (*scheduler.Scheduler, error) {
	spec := cfg.CleanupSchedule
	if spec == "" {
		spec = config.Default().CleanupSchedule
	}
	var opts []scheduler.Option
	if locker != nil {
		opts = append(opts, scheduler.WithLocker(locker))
	}
	return scheduler.New(spec, sessions, cfg.SessionMaxAge, logger.Named("scheduler"), opts...)
}
