package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	"relay-chat/config"
	"relay-chat/internal/auth"
	"relay-chat/internal/handler"
	"relay-chat/internal/push"
	"relay-chat/internal/redis"
	"relay-chat/internal/repository"
	"relay-chat/internal/server"
	"relay-chat/internal/services"
	"relay-chat/internal/websocket"
	"relay-chat/pkg/database"
	"relay-chat/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.LoadConfig()
	l := logger.New(cfg.AppMode).Named("notification-service")
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg, l)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redis.Ping(ctx, redisClient); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	messenger, err := push.NewMessenger(ctx, cfg.PushCredentialsFile, l)
	if err != nil {
		log.Fatalf("Failed to initialise push: %v", err)
	}
	pushClient := push.NewClient(messenger, l)

	realtime := redis.NewPublisher(redisClient)
	hub := websocket.NewHub()
	go hub.Run(ctx)
	bridge := websocket.NewRedisBridge(redis.NewSubscriber(redisClient), hub)
	go func() {
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			l.Errorf("Realtime bridge stopped: %v", err)
			stop()
		}
	}()

	notifications := repository.NewNotificationRepository(db)
	dispatcher := services.NewDispatcher(notifications, realtime, pushClient, services.DispatcherConfig{
		PushTimeout:    cfg.PushTimeout,
		PushMaxRetries: cfg.PushMaxRetries,
		PushWorkers:    cfg.PushWorkers,
		PushQueueSize:  cfg.PushQueueSize,
	}, metrics, l)
	dispatcher.Start(ctx)

	consumer := redis.NewStreamConsumer(redisClient, redis.ConsumerConfig{
		Topic:       cfg.Bus.Topic,
		Partitions:  cfg.Bus.Partitions,
		Group:       cfg.Bus.Group,
		Consumer:    cfg.Bus.Consumer,
		WorkerIndex: cfg.Bus.WorkerIndex,
		WorkerCount: cfg.Bus.WorkerCount,
		Block:       cfg.Bus.Block,
	}, dispatcher, metrics, l)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			l.Errorf("Stream consumer stopped: %v", err)
			stop()
		}
	}()

	producer := services.NewEventProducer(redis.NewStreamProducer(redisClient, redis.ProducerConfig{
		Topic:          cfg.Bus.Topic,
		Partitions:     cfg.Bus.Partitions,
		MaxLen:         cfg.Bus.MaxLen,
		PublishTimeout: cfg.Bus.PublishTimeout,
	}))
	notificationService := services.NewNotificationService(notifications, producer, realtime, l)

	authProvider := auth.NewCachedProvider(
		auth.NewClient(cfg.AuthURL, cfg.AuthTimeout),
		redis.NewCacheStore(redisClient, redis.DefaultCacheConfig()),
		l,
	)

	srv := server.New(cfg, l)
	srv.SetupCommon(registry, healthChecks(db, redisClient))
	srv.SetupNotificationRoutes(server.NotificationRoutes{
		Notifications: handler.NewNotificationHandler(notificationService, pushClient),
		WebSocket:     websocket.NewHandler(authProvider, hub, l),
		ServiceSecret: cfg.InternalJWTSecret,
	})

	serveErr := srv.Start(ctx)
	stop()
	// No delivery may still be in flight when the push queue closes.
	<-consumerDone
	dispatcher.Close()
	if serveErr != nil {
		l.Errorf("Server exited with error: %v", serveErr)
		os.Exit(1)
	}
}

func healthChecks(db *sql.DB, client *goredis.Client) map[string]server.HealthCheck {
	return map[string]server.HealthCheck{
		"database": func(ctx context.Context) error { return database.HealthCheck(ctx, db) },
		"redis":    func(ctx context.Context) error { return redis.Ping(ctx, client) },
	}
}
