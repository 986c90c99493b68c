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
	"relay-chat/internal/outbox"
	"relay-chat/internal/redis"
	"relay-chat/internal/repository"
	"relay-chat/internal/server"
	"relay-chat/internal/services"
	"relay-chat/pkg/database"
	"relay-chat/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.LoadConfig()
	l := logger.New(cfg.AppMode).Named("chat-service")
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

	authProvider := auth.NewCachedProvider(
		auth.NewClient(cfg.AuthURL, cfg.AuthTimeout),
		redis.NewCacheStore(redisClient, redis.DefaultCacheConfig()),
		l,
	)

	producer := services.NewEventProducer(redis.NewStreamProducer(redisClient, redis.ProducerConfig{
		Topic:          cfg.Bus.Topic,
		Partitions:     cfg.Bus.Partitions,
		MaxLen:         cfg.Bus.MaxLen,
		PublishTimeout: cfg.Bus.PublishTimeout,
	}))

	outboxRepo := repository.NewOutboxRepository(db)
	chatService := services.NewChatService(
		repository.NewTransactor(db),
		repository.NewConversationRepository(db),
		repository.NewMessageRepository(db),
		outboxRepo,
		authProvider,
		producer,
		metrics,
		l,
	)

	processor := outbox.NewProcessor(outboxRepo, producer, metrics, l,
		cfg.Outbox.BatchSize, cfg.Outbox.Interval, cfg.Outbox.MaxRetries)
	outbox.NewRunner(processor).Start(ctx)

	rateCfg := redis.DefaultRateLimitConfig()
	rateCfg.MessageLimit = cfg.MessageRateLimit
	limiter := redis.NewRateLimiter(redisClient, rateCfg)

	srv := server.New(cfg, l)
	srv.SetupCommon(registry, healthChecks(db, redisClient))
	srv.SetupChatRoutes(server.ChatRoutes{
		Chats:       handler.NewChatHandler(chatService),
		RateLimiter: limiter,
		Resolver:    authProvider,
	})

	if err := srv.Start(ctx); err != nil {
		l.Errorf("Server exited with error: %v", err)
		os.Exit(1)
	}
}

func healthChecks(db *sql.DB, client *goredis.Client) map[string]server.HealthCheck {
	return map[string]server.HealthCheck{
		"database": func(ctx context.Context) error { return database.HealthCheck(ctx, db) },
		"redis":    func(ctx context.Context) error { return redis.Ping(ctx, client) },
	}
}
