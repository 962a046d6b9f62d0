// Command coordinator is the control plane's MCP server process: it wires
// configuration, storage, the context engine, the event bus, the
// application facades, and the MCP tool catalog, then serves either stdio
// or HTTP transport depending on TRANSPORT_MODE — the same environment
// switch and wiring order as the teacher's mcp-server/main.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"hyperion-taskctl/internal/cache"
	"hyperion-taskctl/internal/config"
	"hyperion-taskctl/internal/contextengine"
	"hyperion-taskctl/internal/enforcement"
	"hyperion-taskctl/internal/eventbus"
	"hyperion-taskctl/internal/facade"
	"hyperion-taskctl/internal/featureflags"
	"hyperion-taskctl/internal/httpapi"
	"hyperion-taskctl/internal/mcpserver"
	"hyperion-taskctl/internal/models"
	"hyperion-taskctl/internal/notification"
	"hyperion-taskctl/internal/optimizer"
	"hyperion-taskctl/internal/store"
	"hyperion-taskctl/internal/store/memstore"
	"hyperion-taskctl/internal/store/mongostore"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mongoClient *mongo.Client
	var mongoDB *mongo.Database
	if !cfg.IsTest() {
		mongoClient, err = mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			logger.Fatal("failed to connect to MongoDB", zap.Error(err))
		}
		mongoDB = mongoClient.Database(cfg.MongoDatabase)
		if err := mongostore.EnsureIndexes(ctx, mongoDB); err != nil {
			logger.Fatal("failed to ensure MongoDB indexes", zap.Error(err))
		}
		logger.Info("connected to MongoDB", zap.String("database", cfg.MongoDatabase))
	}

	l1 := cache.New(logger, cache.Thresholds{})

	testBackend := newMemBackend()
	var realBackend store.Backend
	if mongoDB != nil {
		realBackend = newMongoBackend(mongoDB, l1, logger)
	}

	factory := store.NewFactory(environmentOf(cfg), testBackend, realBackend)
	if cfg.UseCache && !cfg.IsTest() {
		factory = factory.WithCache(store.NewCacheBackedDecorator(l1))
	}
	backend := factory.Backend()

	lookup := contextengine.BackendLookup{Backend: backend}
	ctxSvc := contextengine.New(contextengine.Repositories{
		Global:  backend.Contexts(models.ContextLevelGlobal),
		Project: backend.Contexts(models.ContextLevelProject),
		Branch:  backend.Contexts(models.ContextLevelBranch),
		Task:    backend.Contexts(models.ContextLevelTask),
	}, lookup, l1, logger)

	bus := eventbus.New(logger, eventbus.Config{})
	defer bus.Stop()

	notifier := notification.New(bus, logger)

	flags, err := featureflags.Load(cfg.FeatureFlagsPath)
	if err != nil {
		logger.Warn("failed to load feature flags, continuing with an empty store", zap.Error(err))
		flags, err = featureflags.Load(cfg.FeatureFlagsPath + ".missing")
		if err != nil {
			logger.Fatal("failed to construct an empty feature flag store", zap.Error(err))
		}
	}
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	if err := flags.Watch(stopWatch, logger); err != nil {
		logger.Warn("feature flag file watch disabled", zap.Error(err))
	}

	enforcementSvc := enforcement.New(logger, enforcement.LevelWarning)
	optimizerSvc := optimizer.New()
	facadeFactory := facade.NewFactory(backend, bus, ctxSvc, logger)

	impl := &mcp.Implementation{Name: "hyperion-taskctl", Version: "1.0.0"}
	opts := &mcp.ServerOptions{HasTools: true}
	mcpServer := mcp.NewServer(impl, opts)

	deps := mcpserver.Dependencies{
		Facades:     facadeFactory,
		Backend:     backend,
		Enforcement: enforcementSvc,
		Optimizer:   optimizerSvc,
		Bus:         bus,
		Logger:      logger,
	}
	if err := mcpserver.RegisterAll(mcpServer, deps); err != nil {
		logger.Fatal("failed to register MCP tools", zap.Error(err))
	}

	transportMode := os.Getenv("TRANSPORT_MODE")
	if transportMode == "" {
		transportMode = "stdio"
	}

	switch transportMode {
	case "http":
		srv := httpapi.New(cfg, logger, mcpServer, mongoHealth{client: mongoClient}, notifier)

		go func() {
			if err := srv.Run(); err != nil {
				logger.Fatal("http server error", zap.Error(err))
			}
		}()

		waitForShutdown(logger)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during http server shutdown", zap.Error(err))
		}

	default:
		logger.Info("starting MCP server with stdio transport")
		transport := &mcp.StdioTransport{}
		if err := mcpServer.Run(ctx, transport); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}

	logger.Info("server shutdown complete")
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")
}

func environmentOf(cfg *config.Config) store.Environment {
	switch cfg.Environment {
	case "staging":
		return store.EnvStaging
	case "test":
		return store.EnvTest
	default:
		return store.EnvProduction
	}
}

func newMemBackend() store.Backend {
	ms := memstore.New()
	return store.Backend{
		Tasks:    ms.Tasks(),
		Subtasks: ms.Subtasks(),
		Projects: ms.Projects(),
		Branches: ms.Branches(),
		Contexts: ms.Contexts,
		Tokens:   ms.ApiTokens(),
	}
}

func newMongoBackend(db *mongo.Database, c *cache.Cache, logger *zap.Logger) store.Backend {
	mdb := &mongostore.Database{Mongo: db, Cache: c, Audit: store.NopAuditSink{}, Logger: logger}
	return store.Backend{
		Tasks:    mongostore.NewTaskRepository(mdb),
		Subtasks: mongostore.NewSubtaskRepository(mdb),
		Projects: mongostore.NewProjectRepository(mdb),
		Branches: mongostore.NewGitBranchRepository(mdb),
		Contexts: func(level models.ContextLevel) store.ContextRepository {
			return mongostore.NewContextRepository(mdb, level)
		},
		Tokens: mongostore.NewApiTokenRepository(mdb),
	}
}

// mongoHealth implements httpapi.HealthChecker against the raw Mongo client.
type mongoHealth struct {
	client *mongo.Client
}

func (h mongoHealth) DatabaseStatus(ctx context.Context) string {
	if h.client == nil {
		return "not configured"
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.client.Ping(pingCtx, nil); err != nil {
		return "unreachable"
	}
	return "ok"
}
