package bootstrap

import (
	"context"
	"time"

	"deepsearch-be/internal/config"
	"deepsearch-be/internal/controller"
	"deepsearch-be/internal/metrics"
	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/internal/pkg/serverutils"
	"deepsearch-be/internal/repository/cache"
	"deepsearch-be/internal/repository/contract"
	"deepsearch-be/internal/repository/implementation"
	"deepsearch-be/internal/repository/memory"
	"deepsearch-be/internal/service"
	"deepsearch-be/internal/websocket"
	pktNats "deepsearch-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProgressTopic is the in-process topic carrying session progress.
const ProgressTopic = "deepsearch.progress"

// sessionRetention is how long finished session traces stay in memory.
const sessionRetention = time.Hour

type Container struct {
	// Controllers
	QueryController controller.IQueryController

	// Background Services (Exposed for main.go to run)
	QueryService    service.IQueryService
	ConsumerService service.IConsumerService

	WebSocketHub *websocket.Hub
	Registry     *prometheus.Registry
	Logger       logger.ILogger

	pubSub  *gochannel.GoChannel
	natsPub *pktNats.Publisher
	rdb     *redis.Client
}

// NewContainer wires every dependency of the REST service. db may be nil when
// the vector store is not pgvector; query history is then not persisted.
func NewContainer(db *gorm.DB, cfg *config.Config, sysLogger logger.ILogger) (*Container, error) {
	// 1. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// 2. Infrastructure
	// Redis backs the answer cache and fans progress out across instances
	var rdb *redis.Client
	if cfg.App.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			sysLogger.Warn("Bootstrap", "Failed to parse Redis URL, using direct Addr", map[string]interface{}{"error": err.Error()})
			opt = &redis.Options{Addr: cfg.App.RedisURL}
		}
		rdb = redis.NewClient(opt)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			sysLogger.Warn("Bootstrap", "Failed to connect to Redis, cache and cross-instance progress disabled", map[string]interface{}{"error": err.Error()})
			_ = rdb.Close()
			rdb = nil
		}
	}

	// NATS
	var natsPub *pktNats.Publisher
	var lifecycle service.EventPublisher
	if cfg.App.NatsURL != "" {
		pub, err := pktNats.NewPublisher(cfg.App.NatsURL, sysLogger)
		if err != nil {
			sysLogger.Warn("Bootstrap", "Failed to connect to NATS Publisher", map[string]interface{}{"error": err.Error()})
		} else {
			natsPub = pub
			lifecycle = pub
		}
	}

	// WebSocket Hub
	wsLogger := logger.NewIsolatedLogger("logs/progress.log")
	wsHub := websocket.NewHub(rdb, wsLogger)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(registry)

	// 3. Search loop
	gateways, err := NewGateways(cfg, db)
	if err != nil {
		return nil, err
	}
	searchController := NewSearchController(cfg, gateways, recorder, sysLogger)
	sysLogger.Info("Bootstrap", "Search gateways ready", map[string]interface{}{
		"llm":          cfg.LLM.Provider + "/" + cfg.LLM.Model,
		"embedding":    cfg.Embedding.Provider + "/" + cfg.Embedding.Model,
		"vector_store": cfg.VectorStore.Provider,
	})

	// 4. Services
	var history contract.QueryHistoryRepository
	if db != nil {
		history = implementation.NewQueryHistoryRepository(db)
	}

	publisherService := service.NewPublisherService(ProgressTopic, pubSub, sysLogger)
	consumerService := service.NewConsumerService(pubSub, ProgressTopic, wsHub, lifecycle, wsLogger)
	queryService := service.NewQueryService(
		searchController,
		gateways.Store,
		memory.NewSessionRepository(sessionRetention),
		history,
		cache.NewAnswerCache(rdb, cfg.App.AnswerCacheTTL),
		publisherService,
		sysLogger,
	)

	// 5. Controllers
	jwtMiddleware := serverutils.NewJwtMiddleware(cfg.App.JWTSecret)
	if cfg.App.JWTSecret == "" {
		sysLogger.Warn("Bootstrap", "JWT_SECRET is empty, query API is unauthenticated", nil)
	}

	return &Container{
		QueryController: controller.NewQueryController(queryService, wsHub, jwtMiddleware, wsLogger),
		QueryService:    queryService,
		ConsumerService: consumerService,
		WebSocketHub:    wsHub,
		Registry:        registry,
		Logger:          sysLogger,
		pubSub:          pubSub,
		natsPub:         natsPub,
		rdb:             rdb,
	}, nil
}

// Start runs the background workers until ctx ends.
func (c *Container) Start(ctx context.Context) error {
	go c.WebSocketHub.Run(ctx)
	return c.ConsumerService.Consume(ctx)
}

// Close stops running sessions and releases connections.
func (c *Container) Close(ctx context.Context) {
	if err := c.QueryService.Shutdown(ctx); err != nil {
		c.Logger.Warn("Bootstrap", "Sessions still running at shutdown", map[string]interface{}{"error": err.Error()})
	}
	if err := c.pubSub.Close(); err != nil {
		c.Logger.Warn("Bootstrap", "Failed to close event bus", map[string]interface{}{"error": err.Error()})
	}
	if c.natsPub != nil {
		c.natsPub.Close()
	}
	if c.rdb != nil {
		_ = c.rdb.Close()
	}
}
