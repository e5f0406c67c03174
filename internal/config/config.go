package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Run modes.
const (
	ModeSolo  = "solo"
	ModeSplit = "split"
)

// Backend kinds for the job store and queue.
const (
	BackendLocal  = "local"
	BackendShared = "shared"
)

// Job record drivers available on the shared backend.
const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config holds all configuration for a renderq process.
type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	Database DatabaseConfig
	Lease    LeaseConfig
	Recovery RecoveryConfig
	Worker   WorkerConfig
	Beat     HeartbeatConfig
	Renderer RendererConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port               int
	AdminTokenHash     string
	RateLimitPerMinute int
}

// BackendConfig is the raw, unresolved backend selection. Use Resolve to
// turn it into the effective backends.
type BackendConfig struct {
	RunMode        string
	StoreBackend   string
	QueueBackend   string
	SharedStoreURL string
	RecordDriver   string
	InstanceID     string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type LeaseConfig struct {
	TTL           time.Duration
	RenewInterval time.Duration
}

type RecoveryConfig struct {
	Interval   time.Duration
	LockTTL    time.Duration
	MaxRetries int
}

type WorkerConfig struct {
	JobTimeout     time.Duration
	DequeueTimeout time.Duration
	WorkDir        string
}

type HeartbeatConfig struct {
	Interval time.Duration
	TTL      time.Duration
}

type RendererConfig struct {
	BaseURL  string
	Provider string
}

type LogConfig struct {
	Level  string
	Format string
}

var validModes = map[string]bool{
	ModeSolo:  true,
	ModeSplit: true,
}

var validBackends = map[string]bool{
	BackendLocal:  true,
	BackendShared: true,
}

var validDrivers = map[string]bool{
	DriverRedis:    true,
	DriverPostgres: true,
}

// loadEnvFiles merges each file that exists into the environment. Values
// already set win, so earlier files take precedence over later ones.
func loadEnvFiles(files ...string) error {
	for _, f := range files {
		err := godotenv.Load(f)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables (after merging any
// .env files) and returns a validated Config. Contradictory combinations,
// such as split mode without shared store connection info, are errors.
func Load() (*Config, error) {
	if err := loadEnvFiles(".env.local", ".env"); err != nil {
		return nil, err
	}

	sharedURL := os.Getenv("SHARED_STORE_URL")
	if sharedURL == "" {
		sharedURL = os.Getenv("REDIS_URL")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("RENDERQ_PORT", 8080),
			AdminTokenHash:     os.Getenv("ADMIN_TOKEN_HASH"),
			RateLimitPerMinute: envInt("ADMIN_RATE_LIMIT_PER_MINUTE", 60),
		},
		Backend: BackendConfig{
			RunMode:        strings.ToLower(envString("RUN_MODE", ModeSolo)),
			StoreBackend:   strings.ToLower(os.Getenv("STORE_BACKEND")),
			QueueBackend:   strings.ToLower(os.Getenv("QUEUE_BACKEND")),
			SharedStoreURL: sharedURL,
			RecordDriver:   strings.ToLower(envString("JOB_RECORD_DRIVER", DriverRedis)),
			InstanceID:     os.Getenv("INSTANCE_ID"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Lease: LeaseConfig{
			TTL:           envDurationMs("LEASE_TTL_MS", 60*time.Second),
			RenewInterval: envDurationMs("LEASE_RENEW_INTERVAL_MS", 20*time.Second),
		},
		Recovery: RecoveryConfig{
			Interval:   envDurationMs("RECOVERY_INTERVAL_MS", 30*time.Second),
			LockTTL:    envDurationMs("RECOVERY_LOCK_TTL_MS", 15*time.Second),
			MaxRetries: envInt("MAX_RETRIES", 2),
		},
		Worker: WorkerConfig{
			JobTimeout:     envDurationSecs("JOB_TIMEOUT_SECS", 15*time.Minute),
			DequeueTimeout: envDurationSecs("DEQUEUE_TIMEOUT_SECS", 5*time.Second),
			WorkDir:        envString("WORK_DIR", filepath.Join(os.TempDir(), "renderq")),
		},
		Beat: HeartbeatConfig{
			Interval: envDurationMs("HEARTBEAT_INTERVAL_MS", 2*time.Second),
			TTL:      envDurationMs("HEARTBEAT_TTL_MS", 60*time.Second),
		},
		Renderer: RendererConfig{
			BaseURL:  strings.TrimRight(os.Getenv("RENDERER_BASE_URL"), "/"),
			Provider: envString("RENDER_PROVIDER", "http"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validModes[c.Backend.RunMode] {
		return fmt.Errorf("RUN_MODE must be one of solo, split; got %q", c.Backend.RunMode)
	}
	if c.Backend.StoreBackend != "" && !validBackends[c.Backend.StoreBackend] {
		return fmt.Errorf("STORE_BACKEND must be one of local, shared; got %q", c.Backend.StoreBackend)
	}
	if c.Backend.QueueBackend != "" && !validBackends[c.Backend.QueueBackend] {
		return fmt.Errorf("QUEUE_BACKEND must be one of local, shared; got %q", c.Backend.QueueBackend)
	}
	if !validDrivers[c.Backend.RecordDriver] {
		return fmt.Errorf("JOB_RECORD_DRIVER must be one of redis, postgres; got %q", c.Backend.RecordDriver)
	}

	// Resolution carries the mode/backend/URL rules; run it here so every
	// contradiction is reported at startup rather than at first use.
	b, err := Resolve(c.Backend)
	if err != nil {
		return err
	}
	if b.StoreBackend == BackendShared && c.Backend.RecordDriver == DriverPostgres && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when JOB_RECORD_DRIVER is postgres")
	}

	if c.Lease.TTL <= 0 {
		return fmt.Errorf("LEASE_TTL_MS must be positive")
	}
	if c.Lease.RenewInterval <= 0 || c.Lease.RenewInterval >= c.Lease.TTL {
		return fmt.Errorf("LEASE_RENEW_INTERVAL_MS must be positive and shorter than LEASE_TTL_MS (%s); got %s",
			c.Lease.TTL, c.Lease.RenewInterval)
	}
	if c.Server.RateLimitPerMinute <= 0 {
		return fmt.Errorf("ADMIN_RATE_LIMIT_PER_MINUTE must be positive; got %d", c.Server.RateLimitPerMinute)
	}
	if c.Recovery.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative; got %d", c.Recovery.MaxRetries)
	}
	if c.Recovery.Interval <= 0 || c.Recovery.LockTTL <= 0 {
		return fmt.Errorf("RECOVERY_INTERVAL_MS and RECOVERY_LOCK_TTL_MS must be positive")
	}
	if c.Worker.JobTimeout <= 0 || c.Worker.DequeueTimeout <= 0 {
		return fmt.Errorf("JOB_TIMEOUT_SECS and DEQUEUE_TIMEOUT_SECS must be positive")
	}
	if c.Beat.Interval <= 0 || c.Beat.TTL <= c.Beat.Interval {
		return fmt.Errorf("HEARTBEAT_TTL_MS must be longer than HEARTBEAT_INTERVAL_MS")
	}

	if c.Renderer.BaseURL != "" &&
		!strings.HasPrefix(c.Renderer.BaseURL, "http://") && !strings.HasPrefix(c.Renderer.BaseURL, "https://") {
		return fmt.Errorf("RENDERER_BASE_URL must start with http:// or https://, got %q", c.Renderer.BaseURL)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

func envDurationMs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(ms) * time.Millisecond
}
