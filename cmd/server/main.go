// Command server runs the inspection platform backend: the tenant-scoped
// document API, the workflow execution engine, and the vector embedding
// pipeline, all behind one HTTP listener.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/iamkash/intellispec/internal/audit"
	"github.com/iamkash/intellispec/internal/auth"
	"github.com/iamkash/intellispec/internal/config"
	"github.com/iamkash/intellispec/internal/database"
	"github.com/iamkash/intellispec/internal/featureflag"
	"github.com/iamkash/intellispec/internal/httpserver"
	"github.com/iamkash/intellispec/internal/identity"
	"github.com/iamkash/intellispec/internal/logger"
	"github.com/iamkash/intellispec/internal/metrics"
	"github.com/iamkash/intellispec/internal/telemetry"
	"github.com/iamkash/intellispec/internal/vector"
	"github.com/iamkash/intellispec/internal/workflow"
)

const (
	shutdownTimeout = 30 * time.Second
	featureFlagTTL  = time.Minute
	poolGaugePeriod = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("failed to load configuration")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Mongo.Timeout)
	db, err := database.Connect(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.MaxPoolSize, log)
	cancel()
	if err != nil {
		return err
	}
	if err := db.EnsureIndexes(ctx); err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	m := metrics.New()

	var publisher audit.Publisher
	var amqpPublisher *audit.AMQPPublisher
	if cfg.RabbitMQ.URL != "" {
		amqpPublisher, err = audit.NewAMQPPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			// The trail still persists to Mongo; fan-out is best effort.
			log.Warn().Err(err).Msg("audit publisher unavailable")
		} else {
			publisher = amqpPublisher
		}
	}
	trail := audit.NewTrail(db.Collection(database.CollAuditEvents), log, publisher, auditCounter{m})

	identityStore := identity.NewStore(db.Database())
	issuer := auth.NewTokenIssuer(cfg.Auth.SigningKey, cfg.Auth.TokenTTL)
	authService := auth.NewService(issuer, identityStore, trail)
	authorizer := auth.NewAuthorizer(identityStore, redisClient, cfg.Redis.PermissionTTL)

	var agentLLM llms.Model
	if cfg.Workflow.AgentAPIKey != "" {
		agentLLM, err = openai.New(
			openai.WithToken(cfg.Workflow.AgentAPIKey),
			openai.WithModel(cfg.Workflow.AgentModel),
		)
		if err != nil {
			return err
		}
	} else {
		log.Warn().Msg("no agent API key configured; dynamic agents will fail")
	}
	workflowStore := workflow.NewStore(db.Database())
	runtime := workflow.NewRuntime(agentLLM, log, cfg.Workflow.CallTimeout)
	engine := workflow.NewEngine(workflowStore, workflowStore, runtime, log, engineObserver{m},
		cfg.Workflow.MaxConcurrent, cfg.Workflow.MaxCheckpoints)

	vectorStore := vector.NewStore(db.Database())
	var embedder *vector.Embedder
	if cfg.Vector.Enabled {
		embedLLM, err := openai.New(
			openai.WithToken(cfg.Vector.APIKey),
			openai.WithEmbeddingModel(cfg.Vector.Model),
		)
		if err != nil {
			return err
		}
		client, err := embeddings.NewEmbedder(embedLLM)
		if err != nil {
			return err
		}
		embedder = vector.NewEmbedder(client, nil, cfg.Vector.MaxInputChars, cfg.Vector.MaxRetries)
	}
	pipeline := vector.New(vector.Config{
		Enabled:        cfg.Vector.Enabled,
		MonitoredTypes: cfg.Vector.MonitoredTypes,
		DebounceWindow: cfg.Vector.DebounceWindow,
		Workers:        cfg.Vector.Workers,
		QueueHighWater: cfg.Vector.QueueHighWater,
		QueueLowWater:  cfg.Vector.QueueLowWater,
	}, vectorStore, embedder, db.Collection(database.CollDocuments), log, vectorObserver{m})

	flags, err := featureflag.New(db.Database(), featureFlagTTL)
	if err != nil {
		return err
	}

	server, err := httpserver.New(httpserver.Deps{
		Config:      cfg,
		Logger:      log,
		Metrics:     m,
		DB:          db,
		Auth:        authService,
		Authorizer:  authorizer,
		Identity:    identityStore,
		Trail:       trail,
		Engine:      engine,
		Workflows:   workflowStore,
		Vector:      pipeline,
		VectorStore: vectorStore,
		Flags:       flags,
	})
	if err != nil {
		return err
	}

	if err := pipeline.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("vector pipeline did not start")
	}

	go watchPoolGauge(ctx, db, m)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutdown signal received")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	// Drain in dependency order: stop accepting requests, let running
	// workflows settle, then stop the pipeline and close connections.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("workflow engine shutdown incomplete")
	}
	if err := pipeline.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("vector pipeline stop incomplete")
	}

	flags.Close()
	if amqpPublisher != nil {
		if err := amqpPublisher.Close(); err != nil {
			log.Warn().Err(err).Msg("audit publisher close failed")
		}
	}
	if err := redisClient.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close failed")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("trace exporter shutdown failed")
	}
	if err := db.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("mongo close failed")
	}

	log.Info().Msg("shutdown complete")
	return nil
}

// watchPoolGauge mirrors the driver's checked-out connection count into the
// exported gauge.
func watchPoolGauge(ctx context.Context, db *database.Manager, m *metrics.Metrics) {
	ticker := time.NewTicker(poolGaugePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.DBPoolInUse.Set(float64(db.Stats().CheckedOut))
		}
	}
}

type auditCounter struct{ m *metrics.Metrics }

func (c auditCounter) Inc(eventType string) {
	c.m.AuditEventsTotal.WithLabelValues(eventType).Inc()
}

type engineObserver struct{ m *metrics.Metrics }

func (o engineObserver) ExecutionStarted() {
	o.m.ActiveExecutions.Inc()
}

func (o engineObserver) ExecutionFinished(status string) {
	o.m.ActiveExecutions.Dec()
	o.m.ExecutionsTotal.WithLabelValues(status).Inc()
}

type vectorObserver struct{ m *metrics.Metrics }

func (o vectorObserver) QueueDepth(depth int) {
	o.m.VectorQueueDepth.Set(float64(depth))
}

func (o vectorObserver) EmbeddingGenerated() {
	o.m.EmbeddingsTotal.Inc()
}

func (o vectorObserver) EmbeddingFailed() {
	o.m.EmbeddingErrors.Inc()
}
