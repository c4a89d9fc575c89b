package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"codeduel/internal/common/cache"
	"codeduel/internal/common/db"
	"codeduel/internal/common/mq"
	"codeduel/internal/common/storage"
	"codeduel/internal/execution/sandbox"
	execservice "codeduel/internal/execution/service"
	"codeduel/internal/hub"
	"codeduel/internal/match/service"
	"codeduel/internal/matchmaking"
	"codeduel/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:3001"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxHeaderBytes  = 1 << 20
)

const (
	queueDriverRedis  = "redis"
	queueDriverKafka  = "kafka"
	queueDriverMemory = "memory"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	MaxHeaderBytes int           `yaml:"maxHeaderBytes"`
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`
}

// QueueConfig selects the execution queue backend.
type QueueConfig struct {
	Driver       string               `yaml:"driver"` // redis | kafka | memory
	Kafka        mq.KafkaConfig       `yaml:"kafka"`
	RedisStream  mq.RedisStreamConfig `yaml:"redisStream"`
	MemoryBuffer int                  `yaml:"memoryBuffer"`
}

// LimiterConfig configures the shared execution admission limiter.
type LimiterConfig struct {
	Key   string `yaml:"key"`
	Burst int    `yaml:"burst"`
}

// AppConfig holds the duel server configuration.
type AppConfig struct {
	Server      ServerConfig        `yaml:"server"`
	Logger      logger.Config       `yaml:"logger"`
	Auth        AuthConfig          `yaml:"auth"`
	Database    db.Config           `yaml:"database"`
	Redis       cache.RedisConfig   `yaml:"redis"`
	Queue       QueueConfig         `yaml:"queue"`
	MinIO       storage.MinIOConfig `yaml:"minio"`
	Sandbox     sandbox.Config      `yaml:"sandbox"`
	Match       service.Config      `yaml:"match"`
	Matchmaking matchmaking.Config  `yaml:"matchmaking"`
	Execution   execservice.Config  `yaml:"execution"`
	Limiter     LimiterConfig       `yaml:"limiter"`
	Hub         hub.Config          `yaml:"hub"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

// loadEnvFile reads an optional dotenv file into the process environment.
// Variables already set take precedence.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path, envPath string) (*AppConfig, error) {
	if err := loadEnvFile(envPath); err != nil {
		return nil, err
	}
	cfg := AppConfig{
		Match:       service.DefaultConfig(),
		Matchmaking: matchmaking.DefaultConfig(),
		Execution:   execservice.DefaultConfig(),
		Hub:         hub.DefaultConfig(),
	}
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = defaultMaxHeaderBytes
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwtSecret is required")
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	applyRedisDefaults(&cfg.Redis)
	if cfg.Sandbox.BaseURL == "" {
		return nil, fmt.Errorf("sandbox.baseUrl is required")
	}

	switch cfg.Queue.Driver {
	case "":
		cfg.Queue.Driver = queueDriverRedis
	case queueDriverRedis, queueDriverMemory:
	case queueDriverKafka:
		if len(cfg.Queue.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("queue.kafka.brokers are required for the kafka driver")
		}
	default:
		return nil, fmt.Errorf("unsupported queue driver: %s", cfg.Queue.Driver)
	}
	if cfg.Queue.MemoryBuffer <= 0 {
		cfg.Queue.MemoryBuffer = 1024
	}

	if cfg.Limiter.Key == "" {
		cfg.Limiter.Key = "execution-admission"
	}
	if cfg.Limiter.Burst <= 0 {
		cfg.Limiter.Burst = cfg.Execution.RatePerSecond
	}
	if cfg.MinIO.Enabled && cfg.MinIO.Bucket == "" {
		return nil, fmt.Errorf("minio.bucket is required when minio is enabled")
	}

	return &cfg, nil
}

// applyEnvOverrides lets deployments keep secrets and endpoints out of the YAML file.
func applyEnvOverrides(cfg *AppConfig) {
	overrideString(&cfg.Server.Addr, "DUEL_HTTP_ADDR")
	overrideString(&cfg.Auth.JWTSecret, "DUEL_JWT_SECRET")
	overrideString(&cfg.Auth.JWTIssuer, "DUEL_JWT_ISSUER")
	overrideString(&cfg.Database.Driver, "DUEL_DB_DRIVER")
	overrideString(&cfg.Database.DSN, "DUEL_DB_DSN")
	overrideString(&cfg.Redis.Addr, "DUEL_REDIS_ADDR")
	overrideString(&cfg.Redis.Password, "DUEL_REDIS_PASSWORD")
	overrideString(&cfg.Queue.Driver, "DUEL_QUEUE_DRIVER")
	overrideString(&cfg.Sandbox.BaseURL, "DUEL_SANDBOX_URL")
	overrideString(&cfg.MinIO.Endpoint, "DUEL_MINIO_ENDPOINT")
	overrideString(&cfg.MinIO.AccessKey, "DUEL_MINIO_ACCESS_KEY")
	overrideString(&cfg.MinIO.SecretKey, "DUEL_MINIO_SECRET_KEY")
	if brokers := os.Getenv("DUEL_KAFKA_BROKERS"); brokers != "" {
		cfg.Queue.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if origins := os.Getenv("DUEL_ALLOWED_ORIGINS"); origins != "" {
		cfg.Hub.AllowedOrigins = strings.Split(origins, ",")
	}
}

func overrideString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
}
