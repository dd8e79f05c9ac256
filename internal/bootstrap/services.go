package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/pixeldeck/pixeldeck/config"
	"github.com/pixeldeck/pixeldeck/internal/adapters/processor"
	"github.com/pixeldeck/pixeldeck/internal/adapters/redisevents"
	"github.com/pixeldeck/pixeldeck/internal/data"
	"github.com/pixeldeck/pixeldeck/internal/observability/statsd"
	"github.com/pixeldeck/pixeldeck/internal/service"
)

// Services bundles the constructed engine components.
type Services struct {
	Orchestrator *service.Orchestrator
	RetryQueue   *service.RetryQueue
	RerunQueue   *service.RerunQueue
	Executions   *service.ExecutionService
	Credentials  *service.CredentialService

	ConfigurationRepo *data.ConfigurationRepo
	ExecutionRepo     *data.ExecutionRepo
	ImageRepo         *data.ImageRepo

	Metrics *statsd.Client
}

// ServicesConfig groups inputs for BuildServices.
type ServicesConfig struct {
	AppConfig config.AppConfig
	DB        *sql.DB
	Redis     redis.UniversalClient // nil when the event channel is disabled
	Logger    *slog.Logger
}

// BuildServices constructs the full engine: repositories, credential tiers,
// the provider adapter, the orchestrator, and both queues.
func BuildServices(cfg ServicesConfig) (*Services, error) {
	logger := cfg.Logger

	metricsClient, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.AppConfig.Observability.Metrics.IsEnabled(),
		Address: cfg.AppConfig.Observability.Metrics.StatsdAddress,
		Prefix:  "pixeldeck",
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create statsd client: %w", err)
	}

	configurationRepo := data.NewConfigurationRepo(cfg.DB, data.ConfigurationRepoConfig{Logger: logger})
	executionRepo := data.NewExecutionRepo(cfg.DB, data.ExecutionRepoConfig{Logger: logger})
	imageRepo := data.NewImageRepo(cfg.DB, data.ImageRepoConfig{Logger: logger})
	credentialRepo := data.NewCredentialRepo(cfg.DB, data.CredentialRepoConfig{
		Logger:    logger,
		Encryptor: CreateEncryptor(cfg.AppConfig.CredentialsEncryptionKey, logger),
	})

	credentials, err := service.NewCredentialService(service.CredentialServiceOptions{
		Repo:      credentialRepo,
		EnvPrefix: cfg.AppConfig.Engine.CredentialEnvPrefix,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create credential service: %w", err)
	}

	providerClient, err := processor.NewClient(processor.Options{
		BaseURL: cfg.AppConfig.Provider.BaseURL,
		Timeout: cfg.AppConfig.Provider.Timeout,
		Logger:  logger,
		Buffer:  cfg.AppConfig.Provider.ResultBuffer,
	})
	if err != nil {
		return nil, fmt.Errorf("create provider client: %w", err)
	}

	publisher := redisevents.NewPublisherWithChannel(
		cfg.Redis, cfg.AppConfig.Redis.EventsChannel, logger)

	orchestrator, err := service.NewOrchestrator(service.OrchestratorOptions{
		Executions:     executionRepo,
		Images:         imageRepo,
		Configurations: configurationRepo,
		Processor:      providerClient,
		Credentials:    credentials,
		Publisher:      publisher,
		Metrics:        metricsClient,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	retryQueue, err := service.NewRetryQueue(service.RetryQueueOptions{
		Images:      imageRepo,
		Executions:  executionRepo,
		Processor:   providerClient,
		Credentials: credentials,
		Publisher:   publisher,
		Metrics:     metricsClient,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create retry queue: %w", err)
	}
	orchestrator.AttachQueues(retryQueue)

	rerunQueue, err := service.NewRerunQueue(service.RerunQueueOptions{
		Orchestrator: orchestrator,
		Executions:   executionRepo,
		Publisher:    publisher,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create rerun queue: %w", err)
	}

	executions, err := service.NewExecutionService(service.ExecutionServiceOptions{
		Executions: executionRepo,
		Images:     imageRepo,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create execution service: %w", err)
	}

	return &Services{
		Orchestrator:      orchestrator,
		RetryQueue:        retryQueue,
		RerunQueue:        rerunQueue,
		Executions:        executions,
		Credentials:       credentials,
		ConfigurationRepo: configurationRepo,
		ExecutionRepo:     executionRepo,
		ImageRepo:         imageRepo,
		Metrics:           metricsClient,
	}, nil
}

// Start runs the startup sequence: reconcile the ledgers, then launch the
// retry worker. Reconciliation runs before any new job may start.
func (s *Services) Start(ctx context.Context, cfg config.AppConfig, logger *slog.Logger) error {
	if cfg.Engine.ReconcileOnStart {
		result, err := s.Orchestrator.Reconcile(ctx)
		if err != nil {
			return fmt.Errorf("startup reconciliation: %w", err)
		}
		if logger != nil && (result.ReconciledCount > 0 || result.ResetImages > 0) {
			logger.InfoContext(ctx, "startup reconciliation repaired ledger rows",
				"executions", result.ReconciledCount,
				"images", result.ResetImages)
		}
	}

	s.RetryQueue.Start(ctx)
	return nil
}
