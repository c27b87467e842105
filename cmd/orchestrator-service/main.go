package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hlsforge/build-service/internal/compute"
	"github.com/hlsforge/build-service/internal/config"
	"github.com/hlsforge/build-service/internal/executor"
	"github.com/hlsforge/build-service/internal/job/storage"
	"github.com/hlsforge/build-service/internal/logsink"
	"github.com/hlsforge/build-service/internal/orchestrator"
	"github.com/hlsforge/build-service/internal/probe"
	"github.com/hlsforge/build-service/shared/logger"
	"github.com/hlsforge/build-service/shared/postgresql"
	"github.com/hlsforge/build-service/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("ORCHESTRATOR_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/orchestrator-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateOrchestratorConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting orchestrator service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Initialize the EC2 control plane
	plane, err := compute.NewEC2ControlPlane(context.Background(), compute.AWSConfig{
		Region:        cfg.Compute.Region,
		AMIID:         cfg.Compute.AMIID,
		KeyName:       cfg.Compute.KeyName,
		SecurityGroup: cfg.Compute.SecurityGroup,
		ProvisionWait: cfg.Compute.ProvisionWait,
		TerminateWait: cfg.Compute.TerminateWait,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize EC2 control plane: %w", err)
	}

	db := dbClient.GetDB()
	store := storage.NewStore(db, appLogger.Logger)
	sink := logsink.NewSink(db, appLogger.Logger)

	provisioner := compute.NewProvisioner(plane, cfg.Compute.InstanceTag, appLogger.Logger)

	prober := probe.New(probe.Config{
		SSHProgram:     cfg.Probe.SSHProgram,
		KeyFile:        cfg.Build.KeyFile,
		User:           cfg.Build.SSHUser,
		MaxAttempts:    cfg.Probe.MaxAttempts,
		Interval:       cfg.Probe.Interval,
		ConnectTimeout: cfg.Probe.ConnectTimeout,
	}, appLogger.Logger)

	runner := executor.New(executor.Config{
		PythonProgram: cfg.Build.PythonProgram,
		HandlerScript: cfg.Build.HandlerScript,
		KeyFile:       cfg.Build.KeyFile,
		SSHUser:       cfg.Build.SSHUser,
		Timeout:       cfg.Build.Timeout,
	}, sink, appLogger.Logger)

	orch := orchestrator.New(
		orchestrator.Config{WorkRoot: cfg.Build.WorkRoot},
		store,
		sink,
		provisioner,
		prober,
		runner,
		appLogger.Logger,
	)

	service := orchestrator.NewService(
		rabbitClient,
		orch,
		cfg.RabbitMQ.Consumer.PrefetchCount,
		cfg.App.Name,
		appLogger.Logger,
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	defer cleanup()

	// Start the consumer in a goroutine. Run always sends its result so the
	// shutdown path can wait for the drain to finish.
	errChan := make(chan error, 1)
	go func() {
		errChan <- service.Run(ctx)
	}()

	appLogger.Info("Orchestrator service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
		cancel()

		// In-flight pipelines keep writing state and logs until Run
		// returns; the clients must stay open until then.
		select {
		case err := <-errChan:
			if err != nil {
				appLogger.Error("Consumer stopped with error",
					slog.Any("error", err),
				)
			}
			appLogger.Info("Running jobs drained")
		case <-time.After(30 * time.Second):
			appLogger.Warn("Shutdown timeout exceeded, forcing exit")
		}
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Consumer error",
				slog.Any("error", err),
			)
			cancel()
			return err
		}
	}

	appLogger.Info("Orchestrator service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.Exchange.Name,
		ExchangeType:      cfg.Exchange.Type,
		ExchangeDurable:   cfg.Exchange.Durable,
		QueueName:         cfg.Queue.Name,
		QueueDurable:      cfg.Queue.Durable,
		RoutingKey:        cfg.RoutingKey,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		PublishRetries:    cfg.Publish.RetryAttempts,
		PublishRetryDelay: cfg.Publish.RetryInterval,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
