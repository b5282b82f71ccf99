package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nicedentist/auth-service/internal/api"
	"github.com/nicedentist/auth-service/internal/api/handler"
	"github.com/nicedentist/auth-service/internal/core/ports"
	"github.com/nicedentist/auth-service/internal/core/service"
	mongodb "github.com/nicedentist/auth-service/internal/infrastructure/db/mongo"
	redisdb "github.com/nicedentist/auth-service/internal/infrastructure/db/redis"
	"github.com/nicedentist/auth-service/internal/infrastructure/messaging/rabbitmq"
	"github.com/nicedentist/auth-service/internal/infrastructure/notify"
	"github.com/nicedentist/auth-service/internal/infrastructure/queue"
	"github.com/nicedentist/auth-service/internal/pkg/config"
	"github.com/nicedentist/auth-service/internal/pkg/lifecycle"
	"github.com/nicedentist/auth-service/pkg/logger"
)

const (
	serviceName     = "nicedentist-auth"
	shutdownTimeout = 20 * time.Second
)

// @title                       NiceDentist Auth API
// @version                     1.0
// @description                 Account registration, login and event-driven account provisioning.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	cfg := config.Load()
	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: serviceName,
	})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("service stopped with error")
	}
}

func run(cfg *config.Config, log zerolog.Logger) (err error) {
	manager := lifecycle.New(shutdownTimeout, log)
	ctx, cancel := manager.Listen(context.Background())
	defer cancel()
	defer func() {
		err = errors.Join(err, manager.Shutdown(context.Background()))
	}()

	// --- Storage ---
	mongoClient, db, err := mongodb.Connect(ctx, mongodb.Config{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
		AppName:  serviceName,
		Timeout:  cfg.Mongo.Timeout,
	})
	if err != nil {
		return err
	}
	manager.Register("mongo", mongoClient.Disconnect)

	users := mongodb.NewUserRepository(db)
	if err := users.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("mongo indexes: %w", err)
	}

	rdb, err := redisdb.Connect(ctx, redisdb.Config{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		ClientName: serviceName,
	})
	if err != nil {
		return err
	}
	manager.Register("redis", func(context.Context) error { return rdb.Close() })

	// --- Credentials ---
	hasher := service.NewBcryptHasher(cfg.JWT.BcryptCost)
	signer := service.NewJWTSigner(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL)
	authService := service.NewAuthService(users, hasher, signer, log)

	if cfg.SeedEnabled() {
		seed := service.AdminSeed{
			Username: cfg.Admin.Username,
			Email:    cfg.Admin.Email,
			Password: cfg.Admin.Password,
		}
		if err := service.SeedAdmin(ctx, users, hasher, seed, log); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}

	// --- Broker ---
	brokerCfg := rabbitmq.Config{
		Host:     cfg.RabbitMQ.Host,
		Port:     cfg.RabbitMQ.Port,
		User:     cfg.RabbitMQ.User,
		Password: cfg.RabbitMQ.Password,
		VHost:    cfg.RabbitMQ.VHost,
	}

	pubConn, err := rabbitmq.Dial(brokerCfg, serviceName+"-publisher")
	if err != nil {
		return err
	}
	manager.Register("rabbitmq-publisher", func(context.Context) error { return pubConn.Close() })

	publisher, err := rabbitmq.NewPublisher(pubConn.Channel(), rabbitmq.PublisherConfig{
		Exchange:         cfg.RabbitMQ.Exchange,
		CorrelationQueue: cfg.RabbitMQ.UserEventsQueue,
	}, log)
	if err != nil {
		return err
	}

	var notifier ports.WelcomeNotifier
	if cfg.Welcome.TemplateURL != "" {
		n, err := notify.NewWelcomeNotifier(notify.Config{
			TemplateURL: cfg.Welcome.TemplateURL,
			Timeout:     cfg.Welcome.Timeout,
		}, log)
		if err != nil {
			return err
		}
		notifier = n
	}

	provisioning := service.NewProvisioningService(service.ProvisioningDeps{
		Users:     users,
		Hasher:    hasher,
		Passwords: service.NewTempPasswordGenerator(nil, service.TempPasswordLength),
		Publisher: publisher,
		Notifier:  notifier,
		Audit:     mongodb.NewProvisioningLog(db),
	}, service.ProvisioningConfig{
		CorrelationQueue: cfg.RabbitMQ.UserEventsQueue,
		Source:           cfg.RabbitMQ.Source,
		NotifyTimeout:    cfg.Welcome.Timeout,
	}, log)

	consConn, err := rabbitmq.Dial(brokerCfg, serviceName+"-consumer")
	if err != nil {
		return err
	}
	manager.Register("rabbitmq-consumer", func(context.Context) error { return consConn.Close() })
	manager.Register("welcome-notifications", waitHook(provisioning.Wait))

	dispatcher := queue.NewDispatcher(cfg.RabbitMQ.Workers, log)
	consumer, err := rabbitmq.NewConsumer(consConn.Channel(), rabbitmq.ConsumerConfig{
		Exchange:    cfg.RabbitMQ.Exchange,
		Queue:       cfg.RabbitMQ.ManagerEventsQueue,
		Tag:         serviceName,
		Prefetch:    cfg.RabbitMQ.Prefetch,
		QuorumQueue: cfg.RabbitMQ.QuorumQueue,
		Retry: rabbitmq.RetryPolicy{
			MaxRedeliveries: cfg.RabbitMQ.MaxRedeliveries,
			DeadLetterQueue: cfg.RabbitMQ.DeadLetterQueue,
		},
	}, rabbitmq.Handlers{
		Customer: provisioning,
		Dentist:  provisioning,
	}, dispatcher, redisdb.NewAttemptTracker(rdb, cfg.RabbitMQ.ManagerEventsQueue, cfg.Redis.AttemptTTL), log)
	if err != nil {
		return err
	}

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	consumerDone := make(chan error, 1)
	go func() { consumerDone <- consumer.Run(consumerCtx) }()
	manager.Register("consumer", func(ctx context.Context) error {
		stopConsumer()
		return waitHook(dispatcher.Wait)(ctx)
	})

	// --- HTTP ---
	e := api.NewRouter(api.Deps{
		Auth:   authService,
		Tokens: signer,
		Ready: handler.NewHealthDependenciesHandler(0,
			handler.MongoDependency(mongoClient),
			handler.RedisDependency(rdb),
			handler.BrokerDependency(pubConn, consConn),
		),
		Log: log,
	})

	serverLog := logger.Component("server")
	serverErr := make(chan error, 1)
	go func() {
		serverLog.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("http server started")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	manager.Register("http", e.Shutdown)

	select {
	case <-ctx.Done():
		return nil
	case err := <-consumerDone:
		if err != nil {
			return fmt.Errorf("consumer: %w", err)
		}
		return nil
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}
}

// waitHook turns a blocking Wait into a shutdown hook bounded by ctx.
func waitHook(wait func()) lifecycle.ShutdownFunc {
	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
