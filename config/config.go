package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort string
	AppMode string

	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	AuthURL     string
	AuthTimeout time.Duration

	Bus    BusConfig
	Outbox OutboxConfig

	PushCredentialsFile string
	PushTimeout         time.Duration
	PushMaxRetries      int
	PushWorkers         int
	PushQueueSize       int

	InternalJWTSecret string
	MessageRateLimit  int
}

// BusConfig describes the partitioned notification stream and this process's
// share of it.
type BusConfig struct {
	Topic          string
	Partitions     int
	Group          string
	Consumer       string
	WorkerIndex    int
	WorkerCount    int
	Block          time.Duration
	PublishTimeout time.Duration
	MaxLen         int64
}

type OutboxConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}

	return &Config{
		AppPort:    getEnv("APP_PORT", "8080"),
		AppMode:    getEnv("APP_MODE", "debug"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "relay_chat"),
		DBPort:     getEnv("DB_PORT", "5432"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		AuthURL:     getEnv("AUTH_URL", "http://localhost:8081/api/v1/auth/"),
		AuthTimeout: getEnvAsDuration("AUTH_TIMEOUT", 5*time.Second),

		Bus: BusConfig{
			Topic:          getEnv("BUS_TOPIC", "notifications"),
			Partitions:     getEnvAsInt("BUS_PARTITIONS", 8),
			Group:          getEnv("BUS_GROUP", "notification-dispatcher"),
			Consumer:       getEnv("BUS_CONSUMER", hostname),
			WorkerIndex:    getEnvAsInt("BUS_WORKER_INDEX", 0),
			WorkerCount:    getEnvAsInt("BUS_WORKER_COUNT", 1),
			Block:          getEnvAsDuration("BUS_BLOCK", time.Second),
			PublishTimeout: getEnvAsDuration("BUS_PUBLISH_TIMEOUT", 3*time.Second),
			MaxLen:         int64(getEnvAsInt("BUS_MAXLEN", 100000)),
		},
		Outbox: OutboxConfig{
			Interval:   getEnvAsDuration("OUTBOX_INTERVAL", 2*time.Second),
			BatchSize:  getEnvAsInt("OUTBOX_BATCH", 100),
			MaxRetries: getEnvAsInt("OUTBOX_MAX_RETRIES", 10),
		},

		PushCredentialsFile: getEnv("PUSH_CREDENTIALS_FILE", ""),
		PushTimeout:         getEnvAsDuration("PUSH_TIMEOUT", 10*time.Second),
		PushMaxRetries:      getEnvAsInt("PUSH_MAX_RETRIES", 3),
		PushWorkers:         getEnvAsInt("PUSH_WORKERS", 4),
		PushQueueSize:       getEnvAsInt("PUSH_QUEUE_SIZE", 1024),

		InternalJWTSecret: getEnv("INTERNAL_JWT_SECRET", "change-me"),
		MessageRateLimit:  getEnvAsInt("MESSAGE_RATE_LIMIT", 60),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
