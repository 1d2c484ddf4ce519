package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rl1809/crop-market/internal/core/domain"
)

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	ServiceName string `yaml:"service_name"`
	LogMode     string `yaml:"log_mode"`

	Store             string        `yaml:"store"`
	MySQLDSN          string        `yaml:"mysql_dsn"`
	MySQLMaxOpenConns int           `yaml:"mysql_max_open_conns"`
	MySQLMaxIdleConns int           `yaml:"mysql_max_idle_conns"`
	MySQLConnLifetime time.Duration `yaml:"mysql_conn_lifetime"`
	RedisAddr         string        `yaml:"redis_addr"`
	RedisPoolSize     int           `yaml:"redis_pool_size"`
	AcceptGuard       string        `yaml:"accept_guard"`
	JWTSecret         string        `yaml:"jwt_secret"`
	StatsWorkers      int           `yaml:"stats_workers"`
	StatsQueueSize    int           `yaml:"stats_queue_size"`
	SubmitRatePerSec  float64       `yaml:"submit_rate_per_sec"`
	SubmitBurst       int           `yaml:"submit_burst"`
	CORSOrigins       []string      `yaml:"cors_origins"`
	Tracing           string        `yaml:"tracing"`
	OTLPEndpoint      string        `yaml:"otlp_endpoint"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

func Default() Config {
	return Config{
		HTTPAddr:          ":8080",
		GRPCAddr:          ":50051",
		ServiceName:       "crop-market",
		LogMode:           "dev",
		Store:             StoreMySQL,
		MySQLDSN:          "root:root@tcp(localhost:3306)/cropmarket?parseTime=true&loc=UTC",
		MySQLMaxOpenConns: 50,
		MySQLMaxIdleConns: 25,
		MySQLConnLifetime: 5 * time.Minute,
		RedisAddr:         "localhost:6379",
		RedisPoolSize:     100,
		AcceptGuard:       string(domain.AcceptGuardStrict),
		StatsWorkers:      4,
		StatsQueueSize:    1024,
		SubmitRatePerSec:  1,
		SubmitBurst:       5,
		CORSOrigins:       []string{"*"},
		Tracing:           "none",
		ShutdownTimeout:   5 * time.Second,
	}
}

// Load reads defaults, then the YAML file named by CONFIG_FILE (if any), then
// environment variables.
func Load() (Config, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.loadEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.HTTPAddr = getenv("HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getenv("GRPC_ADDR", c.GRPCAddr)
	c.ServiceName = getenv("SERVICE_NAME", c.ServiceName)
	c.LogMode = getenv("LOG_MODE", c.LogMode)
	c.Store = strings.ToLower(getenv("STORE", c.Store))
	c.MySQLDSN = getenv("MYSQL_DSN", c.MySQLDSN)
	c.MySQLMaxOpenConns = getInt("MYSQL_MAX_OPEN_CONNS", c.MySQLMaxOpenConns)
	c.MySQLMaxIdleConns = getInt("MYSQL_MAX_IDLE_CONNS", c.MySQLMaxIdleConns)
	c.MySQLConnLifetime = getDuration("MYSQL_CONN_LIFETIME", c.MySQLConnLifetime)
	c.RedisAddr = getenv("REDIS_ADDR", c.RedisAddr)
	c.RedisPoolSize = getInt("REDIS_POOL_SIZE", c.RedisPoolSize)
	c.AcceptGuard = strings.ToLower(getenv("ACCEPT_GUARD", c.AcceptGuard))
	c.JWTSecret = getenv("JWT_SECRET", c.JWTSecret)
	c.StatsWorkers = getInt("STATS_WORKERS", c.StatsWorkers)
	c.StatsQueueSize = getInt("STATS_QUEUE_SIZE", c.StatsQueueSize)
	c.SubmitRatePerSec = getFloat("SUBMIT_RATE_PER_SEC", c.SubmitRatePerSec)
	c.SubmitBurst = getInt("SUBMIT_BURST", c.SubmitBurst)
	if v := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); v != "" {
		c.CORSOrigins = splitList(v)
	}
	c.Tracing = getenv("TRACING", c.Tracing)
	c.OTLPEndpoint = getenv("OTLP_ENDPOINT", c.OTLPEndpoint)
	c.ShutdownTimeout = getDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
}

func (c Config) Validate() error {
	var errs []error
	if c.Store != StoreMySQL && c.Store != StoreMemory {
		errs = append(errs, fmt.Errorf("store must be %q or %q, got %q", StoreMySQL, StoreMemory, c.Store))
	}
	if c.Store == StoreMySQL && c.MySQLDSN == "" {
		errs = append(errs, errors.New("mysql_dsn is required for the mysql store"))
	}
	if !domain.AcceptGuard(c.AcceptGuard).Valid() {
		errs = append(errs, fmt.Errorf("accept_guard must be strict or reference, got %q", c.AcceptGuard))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	if c.StatsWorkers < 1 {
		errs = append(errs, errors.New("stats_workers must be at least 1"))
	}
	if c.StatsQueueSize < 1 {
		errs = append(errs, errors.New("stats_queue_size must be at least 1"))
	}
	if c.SubmitRatePerSec <= 0 || c.SubmitBurst < 1 {
		errs = append(errs, errors.New("submit rate and burst must be positive"))
	}
	return errors.Join(errs...)
}

func (c Config) Guard() domain.AcceptGuard {
	return domain.AcceptGuard(c.AcceptGuard)
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getFloat(k string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
