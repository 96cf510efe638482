package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	GatewayMock    = "mock"
	GatewayInfobip = "infobip"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Gateway   GatewayConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
	ConnectWait time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SchedulerConfig struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

type GatewayConfig struct {
	Mode    string
	Mock    MockConfig
	Infobip InfobipConfig
}

type MockConfig struct {
	Delay               time.Duration
	InitiateSuccessRate float64
	CompleteSuccessRate float64
}

type InfobipConfig struct {
	BaseURL     string
	APIKey      string
	From        string
	CallbackURL string
}

type LogConfig struct {
	Level slog.Level
}

func LoadAll() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	pgURL, err := requireEnv("POSTGRES_URL")
	collect(err)

	connectWait, err := getEnvInt("POSTGRES_CONNECT_WAIT_SECONDS", 30)
	collect(err)

	interval, err := getEnvInt("SCHED_INTERVAL_SECONDS", 30)
	collect(err)
	batch, err := getEnvInt("SCHED_BATCH_SIZE", 50)
	collect(err)
	concurrency, err := getEnvInt("DISPATCH_CONCURRENCY", 8)
	collect(err)

	gw, err := loadGatewayConfig()
	collect(err)

	redis, err := loadRedisConfig()
	collect(err)

	level, err := getEnvLevel("LOG_LEVEL", slog.LevelInfo)
	collect(err)

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: pgURL,
			ConnectWait: time.Duration(connectWait) * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval:    time.Duration(interval) * time.Second,
			BatchSize:   batch,
			Concurrency: concurrency,
		},
		Gateway: gw,
		Redis:   redis,
		Log:     LogConfig{Level: level},
	}

	if len(errs) == 0 {
		errs = append(errs, validate(cfg)...)
	}
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadGatewayConfig() (GatewayConfig, error) {
	var errs []error

	mode := strings.ToLower(getEnv("GATEWAY_MODE", GatewayMock))

	delayMS, err := getEnvInt("MOCK_DELAY_MS", 3000)
	if err != nil {
		errs = append(errs, err)
	}
	initRate, err := getEnvFloat("MOCK_INITIATE_SUCCESS_RATE", 0.9)
	if err != nil {
		errs = append(errs, err)
	}
	completeRate, err := getEnvFloat("MOCK_COMPLETE_SUCCESS_RATE", 0.95)
	if err != nil {
		errs = append(errs, err)
	}

	cfg := GatewayConfig{
		Mode: mode,
		Mock: MockConfig{
			Delay:               time.Duration(delayMS) * time.Millisecond,
			InitiateSuccessRate: initRate,
			CompleteSuccessRate: completeRate,
		},
		Infobip: InfobipConfig{
			BaseURL:     os.Getenv("INFOBIP_BASE_URL"),
			APIKey:      os.Getenv("INFOBIP_API_KEY"),
			From:        getEnv("INFOBIP_FROM", "VoiceReminder"),
			CallbackURL: os.Getenv("CALLBACK_URL"),
		},
	}

	if mode == GatewayInfobip {
		if _, err := requireEnv("INFOBIP_BASE_URL"); err != nil {
			errs = append(errs, err)
		}
		if _, err := requireEnv("INFOBIP_API_KEY"); err != nil {
			errs = append(errs, err)
		}
	}

	return cfg, joinErrors(errs)
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	var errs []error
	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		errs = append(errs, err)
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, joinErrors(errs)
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Scheduler.BatchSize <= 0 {
		errs = append(errs, errors.New("SCHED_BATCH_SIZE must be > 0"))
	}
	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Scheduler.Concurrency <= 0 {
		errs = append(errs, errors.New("DISPATCH_CONCURRENCY must be > 0"))
	}
	if cfg.Database.ConnectWait <= 0 {
		errs = append(errs, errors.New("POSTGRES_CONNECT_WAIT_SECONDS must be > 0"))
	}

	switch cfg.Gateway.Mode {
	case GatewayMock, GatewayInfobip:
	default:
		errs = append(errs, fmt.Errorf("GATEWAY_MODE must be %q or %q, got %q", GatewayMock, GatewayInfobip, cfg.Gateway.Mode))
	}
	if cfg.Gateway.Mock.Delay < 0 {
		errs = append(errs, errors.New("MOCK_DELAY_MS must be >= 0"))
	}
	if r := cfg.Gateway.Mock.InitiateSuccessRate; r < 0 || r > 1 {
		errs = append(errs, errors.New("MOCK_INITIATE_SUCCESS_RATE must be within [0, 1]"))
	}
	if r := cfg.Gateway.Mock.CompleteSuccessRate; r < 0 || r > 1 {
		errs = append(errs, errors.New("MOCK_COMPLETE_SUCCESS_RATE must be within [0, 1]"))
	}

	if cfg.Redis.Enabled && cfg.Redis.TTL <= 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("invalid float for env %s: %s", key, v)
	}
	return f, nil
}

func getEnvLevel(key string, def slog.Level) (slog.Level, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return def, fmt.Errorf("invalid log level for env %s: %s", key, v)
	}
	return l, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
