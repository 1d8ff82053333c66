package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

const (
	DedupNone     = "none"
	DedupRedis    = "redis"
	DedupPostgres = "postgres"
)

type Config struct {
	App       App       `yaml:"app"`
	HTTP      HTTP      `yaml:"http"`
	Log       Log       `yaml:"log"`
	WebSocket WebSocket `yaml:"websocket"`
	Kafka     Kafka     `yaml:"kafka"`
	Dedup     Dedup     `yaml:"dedup"`
	Postgres  Postgres  `yaml:"postgres"`
	Redis     Redis     `yaml:"redis"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"event-distributor" validate:"required"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type HTTP struct {
	Port            string        `yaml:"port" env:"HTTP_PORT" env-default:"8080" validate:"required,numeric"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s" validate:"gt=0"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
}

type WebSocket struct {
	Path           string        `yaml:"path" env:"WS_PATH" env-default:"/ws" validate:"required,startswith=/"`
	ReadLimit      int64         `yaml:"read_limit" env:"WS_READ_LIMIT" env-default:"65536" validate:"min=512"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"WS_WRITE_TIMEOUT" env-default:"10s" validate:"gt=0"`
	PongWait       time.Duration `yaml:"pong_wait" env:"WS_PONG_WAIT" env-default:"60s" validate:"gt=0"`
	PingPeriod     time.Duration `yaml:"ping_period" env:"WS_PING_PERIOD" env-default:"54s" validate:"gt=0,ltfield=PongWait"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"WS_ALLOWED_ORIGINS" env-separator:","`
}

type Kafka struct {
	Brokers         []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092" env-separator:"," validate:"min=1,dive,required"`
	GroupID         string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"event-distributor" validate:"required"`
	Topics          []string `yaml:"topics" env:"KAFKA_TOPICS" env-default:"project-events,task-events,user-events,comment-events,notifications-to-send" env-separator:"," validate:"min=1,dive,required"`
	StartOffset     string   `yaml:"start_offset" env:"KAFKA_START_OFFSET" env-default:"earliest" validate:"oneof=earliest latest"`
	DeadLetterTopic string   `yaml:"dead_letter_topic" env:"KAFKA_DEAD_LETTER_TOPIC"`
}

type Dedup struct {
	Backend string        `yaml:"backend" env:"DEDUP_BACKEND" env-default:"none" validate:"oneof=none redis postgres"`
	TTL     time.Duration `yaml:"ttl" env:"DEDUP_TTL" env-default:"24h" validate:"gt=0"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"distributor"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0" validate:"min=0"`
}

// New reads config.yaml (or CONFIG_PATH) with env overrides, falling back
// to env vars alone when the file is missing.
func New() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return Load(path)
}

func Load(path string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(path); err == nil {
		// ReadConfig applies env overrides on top of the file.
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else {
		return nil, fmt.Errorf("config error: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
