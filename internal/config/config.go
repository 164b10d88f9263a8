package config

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// драйверы хранилища
const (
	StoreSupabase = "supabase"
	StorePostgres = "postgres"
)

type Config struct {
	Env        string           `yaml:"env" env:"ENV" env-default:"local"` // environment
	HTTPServer HTTPServerConfig `yaml:"http_server"`
	Store      StoreConfig      `yaml:"store"`
	Supabase   SupabaseConfig   `yaml:"supabase"`
	Database   DatabaseConfig   `yaml:"database"`
	JWT        JWTConfig        `yaml:"jwt"`
	Cache      CacheConfig      `yaml:"cache"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Migrations MigrationsConfig `yaml:"migrations"`
}

// HTTPServerConfig структура http сервера
type HTTPServerConfig struct {
	Address     string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// StoreConfig выбор бэкенда за шлюзом данных
type StoreConfig struct {
	Driver string `yaml:"driver" env:"STORE_DRIVER" env-default:"supabase"`
}

// SupabaseConfig хостинг: REST, storage, edge functions и realtime
type SupabaseConfig struct {
	URL     string        `yaml:"url" env:"SUPABASE_URL"`
	AnonKey string        `yaml:"-" env:"SUPABASE_ANON_KEY"`
	Timeout time.Duration `yaml:"timeout" env-default:"10s"`
}

// DatabaseConfig структура по работе с БД
type DatabaseConfig struct {
	Host         string `yaml:"host" env-default:"localhost"`
	Port         int    `yaml:"port" env-default:"5432"`
	User         string `yaml:"user" env-default:"postgres"`
	Password     string `yaml:"-" env:"DB_PASSWORD"`
	Name         string `yaml:"name" env-default:"naijahub"`
	SSLMode      string `yaml:"sslmode" env-default:"disable"`
	MaxOpenConns int    `yaml:"max_open_conns" env-default:"20"`
}

// JWTConfig настройка jwt
type JWTConfig struct {
	Secret string `yaml:"-" env:"JWT_SECRET" env-required:"true"`
}

type CacheConfig struct {
	StaleTime     time.Duration `yaml:"stale_time" env-default:"30s"`
	RetryCount    int           `yaml:"retry_count" env-default:"1"`
	RetryInterval time.Duration `yaml:"retry_interval" env-default:"200ms"`
	PersistMaxAge time.Duration `yaml:"persist_max_age" env-default:"24h"`
}

// RedisConfig сохранение кэша и ключи идемпотентности, выключен без адреса
type RedisConfig struct {
	Address  string `yaml:"address" env:"REDIS_ADDRESS"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env-default:"0"`
	Prefix   string `yaml:"prefix" env-default:"naijahub:cache:"`
	// IdempotencyTTL сколько держится ключ идемпотентности оформления заказа.
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" env-default:"24h"`
}

// KafkaConfig доменные события, выключены без брокеров
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env-default:"naijahub.marketplace"`
}

type RealtimeConfig struct {
	Enabled        bool          `yaml:"enabled" env:"REALTIME_ENABLED" env-default:"false"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env-default:"5s"`
	Heartbeat      time.Duration `yaml:"heartbeat" env-default:"25s"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" env-default:"6"`
	Burst             int `yaml:"burst" env-default:"2"`
}

type MigrationsConfig struct {
	Path string `yaml:"path" env-default:"./migrations"`
}

// MustLoad - если не загружаем - паникуем
func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		log.Fatal("CONFIG_PATH not exists")
	}
	return MustLoadByPath(configPath)
}

func fetchConfigPath() string {
	var path string

	flag.StringVar(&path, "config", "", "path to config file")
	flag.Parse()

	// .env необязателен, переменные окружения важнее
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	return path
}

func MustLoadByPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file not found: " + configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("can't read config file %s: %v", configPath, err)
	}

	return &cfg
}

// DSN строка подключения для обычных запросов.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// MigrateDSN указывает golang-migrate его служебную таблицу.
func (c DatabaseConfig) MigrateDSN(migrationsTable string) string {
	return c.DSN() + "&x-migrations-table=" + url.QueryEscape(migrationsTable)
}
