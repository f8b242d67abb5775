package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type GRPC struct {
	Addr string `yaml:"addr" env:"MAINROOM_GRPC_ADDR"`
}

type HTTP struct {
	Addr           string        `yaml:"addr"           env:"MAINROOM_HTTP_ADDR"`
	AllowedOrigins []string      `yaml:"allowedOrigins" env:"MAINROOM_HTTP_ALLOWED_ORIGINS" envSeparator:","`
	Timeout        time.Duration `yaml:"timeout"        env:"MAINROOM_HTTP_TIMEOUT"`
}

type Logging struct {
	Env       string `yaml:"env"       env:"MAINROOM_ENV"`       // dev|stage|prod
	Service   string `yaml:"service"`                            // mainroom-service
	Version   string `yaml:"version"`                            // v0.1.0
	Backend   string `yaml:"backend"   env:"MAINROOM_LOG_BACKEND"` // std|zap
	Level     string `yaml:"level"     env:"MAINROOM_LOG_LEVEL"`   // debug|info|warn|error
	AddSource bool   `yaml:"addSource"`
	Debug     bool   `yaml:"debug"`
}

type Storage struct {
	Driver string `yaml:"driver" env:"MAINROOM_STORAGE_DRIVER"` // postgres|sqlite

	// postgres
	DSN               string        `yaml:"dsn"               env:"MAINROOM_POSTGRES_DSN"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	ApplicationName   string        `yaml:"applicationName"`

	// sqlite
	Path string `yaml:"path" env:"MAINROOM_SQLITE_PATH"`
}

type Join struct {
	Timeout       time.Duration `yaml:"timeout"       env:"MAINROOM_JOIN_TIMEOUT"`
	LockTimeout   time.Duration `yaml:"lockTimeout"   env:"MAINROOM_JOIN_LOCK_TIMEOUT"`
	IssueTimeout  time.Duration `yaml:"issueTimeout"  env:"MAINROOM_JOIN_ISSUE_TIMEOUT"`
	RetryAttempts uint          `yaml:"retryAttempts" env:"MAINROOM_JOIN_RETRY_ATTEMPTS"`
}

type Credential struct {
	PrivateKeyPath string        `yaml:"privateKeyPath" env:"MAINROOM_CREDENTIAL_PRIVATE_KEY"`
	PublicKeyPath  string        `yaml:"publicKeyPath"  env:"MAINROOM_CREDENTIAL_PUBLIC_KEY"`
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	TTL            time.Duration `yaml:"ttl"            env:"MAINROOM_CREDENTIAL_TTL"`
	ClockSkew      time.Duration `yaml:"clockSkew"`
}

type Redis struct {
	// пусто: кэш витрины выключен
	URL        string        `yaml:"url"        env:"MAINROOM_REDIS_URL"`
	SummaryTTL time.Duration `yaml:"summaryTTL" env:"MAINROOM_REDIS_SUMMARY_TTL"`
}

type Events struct {
	Mode         string        `yaml:"mode"         env:"MAINROOM_EVENTS_MODE"` // inline|asynq
	Buffer       int           `yaml:"buffer"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	Queue        string        `yaml:"queue"        env:"MAINROOM_EVENTS_QUEUE"`
	MaxRetry     int           `yaml:"maxRetry"`
	Concurrency  int           `yaml:"concurrency"  env:"MAINROOM_EVENTS_CONCURRENCY"`
}

type Config struct {
	HTTP            HTTP          `yaml:"http"`
	GRPC            GRPC          `yaml:"grpc"`
	Logging         Logging       `yaml:"logging"`
	Storage         Storage       `yaml:"storage"`
	Join            Join          `yaml:"join"`
	Credential      Credential    `yaml:"credential"`
	Redis           Redis         `yaml:"redis"`
	Events          Events        `yaml:"events"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"MAINROOM_SHUTDOWN_TIMEOUT"`
}

// LoadConfig читает yaml из CONFIG_PATH (по умолчанию ./config/config.yaml),
// затем поверх накладывает переменные окружения MAINROOM_*.
// Отсутствующий файл не ошибка: всё можно задать через окружение.
func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	// установка дефолтов, если значения не указаны
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":9090"
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "mainroom-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Join.validate(); err != nil {
		return err
	}
	if err := c.Credential.validate(); err != nil {
		return err
	}
	if err := c.Events.validate(); err != nil {
		return err
	}
	if c.Events.Mode == "asynq" && c.Redis.URL == "" {
		return errors.New("events.mode=asynq requires redis.url")
	}
	if c.Redis.SummaryTTL <= 0 {
		c.Redis.SummaryTTL = 30 * time.Second
	}
	return nil
}

func (s *Storage) validate() error {
	if s.Driver == "" {
		s.Driver = "postgres"
	}
	switch s.Driver {
	case "postgres":
		if s.DSN == "" {
			return errors.New("storage.dsn is required for postgres")
		}
		if s.ApplicationName == "" {
			s.ApplicationName = "mainroom-service"
		}
	case "sqlite":
		if s.Path == "" {
			s.Path = "./data/mainroom.db"
		}
	default:
		return fmt.Errorf("storage.driver: unknown %q (postgres|sqlite)", s.Driver)
	}
	return nil
}

func (j *Join) validate() error {
	if j.Timeout <= 0 {
		j.Timeout = 5 * time.Second
	}
	if j.LockTimeout <= 0 {
		j.LockTimeout = 2 * time.Second
	}
	if j.IssueTimeout <= 0 {
		j.IssueTimeout = time.Second
	}
	if j.RetryAttempts == 0 {
		j.RetryAttempts = 3
	}
	if j.LockTimeout >= j.Timeout || j.IssueTimeout >= j.Timeout {
		return errors.New("join.lockTimeout and join.issueTimeout must be less than join.timeout")
	}
	return nil
}

func (c *Credential) validate() error {
	if c.Issuer == "" {
		c.Issuer = "mainroom-service"
	}
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.ClockSkew < 0 {
		return errors.New("credential.clockSkew must be >= 0")
	}
	if c.ClockSkew == 0 {
		c.ClockSkew = 30 * time.Second
	}
	if c.PublicKeyPath != "" && c.PrivateKeyPath == "" {
		return errors.New("credential.privateKeyPath is required when publicKeyPath is set")
	}
	return nil
}

func (e *Events) validate() error {
	if e.Mode == "" {
		e.Mode = "inline"
	}
	switch e.Mode {
	case "inline", "asynq":
	default:
		return fmt.Errorf("events.mode: unknown %q (inline|asynq)", e.Mode)
	}
	if e.Buffer <= 0 {
		e.Buffer = 1024
	}
	if e.WriteTimeout <= 0 {
		e.WriteTimeout = 5 * time.Second
	}
	if e.Queue == "" {
		e.Queue = "mainroom-events"
	}
	if e.MaxRetry <= 0 {
		e.MaxRetry = 10
	}
	if e.Concurrency <= 0 {
		e.Concurrency = 4
	}
	return nil
}
