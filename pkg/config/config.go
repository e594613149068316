package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/sakashimaa/stock-reservation/pkg/utils"
)

type Config struct {
	Env         string     `yaml:"env" env:"ENV" env-default:"local"`
	ServiceName string     `yaml:"service_name" env:"SERVICE_NAME" env-default:"stock-reservation"`
	Log         Log        `yaml:"log"`
	HTTP        HTTP       `yaml:"http"`
	Postgres    PG         `yaml:"postgres"`
	Redis       Redis      `yaml:"redis"`
	Kafka       Kafka      `yaml:"kafka"`
	Tracing     Tracing    `yaml:"tracing"`
	Limiter     Limiter    `yaml:"limiter"`
	Outbox      Outbox     `yaml:"outbox"`
	Consumer    Consumer   `yaml:"consumer"`
	Inventory   Inventory  `yaml:"inventory"`
	Reconciler  Reconciler `yaml:"reconciler"`
	SMTP        SMTP       `yaml:"smtp"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT" env-default:"4s"`
}

type PG struct {
	URL      string `yaml:"url" env:"DB_URL"`
	MaxConns int32  `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"10"`
	MinConns int32  `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"2"`
}

type Redis struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"REDIS_CACHE_TTL" env-default:"10s"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	GroupID string   `yaml:"group_id" env:"KAFKA_GROUP_ID"`
}

type Tracing struct {
	Endpoint string `yaml:"endpoint" env:"JAEGER_ENDPOINT" env-default:"localhost:4318"`
}

type Limiter struct {
	Max        int           `yaml:"max" env-default:"20"`
	Expiration time.Duration `yaml:"expiration" env-default:"5s"`
}

type Outbox struct {
	BatchSize   int           `yaml:"batch_size" env-default:"50"`
	Interval    time.Duration `yaml:"interval" env-default:"500ms"`
	MaxAttempts int           `yaml:"max_attempts" env-default:"10"`
}

type Consumer struct {
	MaxAttempts    uint64        `yaml:"max_attempts" env:"CONSUMER_MAX_ATTEMPTS" env-default:"5"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env-default:"200ms"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env-default:"5s"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" env:"CONSUMER_ATTEMPT_TIMEOUT" env-default:"10s"`
}

type Inventory struct {
	URL     string        `yaml:"url" env:"INVENTORY_URL" env-default:"http://localhost:3001"`
	Timeout time.Duration `yaml:"timeout" env:"INVENTORY_TIMEOUT" env-default:"2s"`
}

type Reconciler struct {
	Interval       time.Duration `yaml:"interval" env-default:"30s"`
	PendingTimeout time.Duration `yaml:"pending_timeout" env-default:"2m"`
	MaxAttempts    int           `yaml:"max_attempts" env-default:"5"`
	BatchSize      int           `yaml:"batch_size" env-default:"100"`
}

type SMTP struct {
	Host     string        `yaml:"host" env:"SMTP_HOST"`
	Port     string        `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	User     string        `yaml:"user" env:"SMTP_USER"`
	Password string        `yaml:"password" env:"SMTP_PASSWORD"`
	Timeout  time.Duration `yaml:"timeout" env:"SMTP_TIMEOUT" env-default:"10s"`
}

// Load reads the YAML file at path with env overrides, or env only when the file is absent.
func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("error reading env config: %w", err)
		}

		return &cfg, nil
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("error reading config %s: %w", path, err)
	}

	return &cfg, nil
}

func MustLoad(fallbackPath string) *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", fallbackPath)

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	return cfg
}
