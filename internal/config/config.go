package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mr1hm/go-covid19-stats/internal/logging"
)

const (
	DefaultConfirmedURL   = "https://raw.githubusercontent.com/CSSEGISandData/COVID-19/master/csse_covid_19_data/csse_covid_19_time_series/time_series_covid19_confirmed_global.csv"
	DefaultDeathsURL      = "https://raw.githubusercontent.com/CSSEGISandData/COVID-19/master/csse_covid_19_data/csse_covid_19_time_series/time_series_covid19_deaths_global.csv"
	DefaultRecoveredURL   = "https://raw.githubusercontent.com/CSSEGISandData/COVID-19/master/csse_covid_19_data/csse_covid_19_time_series/time_series_covid19_recovered_global.csv"
	DefaultDailyReportURL = "https://raw.githubusercontent.com/CSSEGISandData/COVID-19/master/csse_covid_19_data/csse_covid_19_daily_reports_us/"
)

type Config struct {
	Server  ServerConfig   `yaml:"server"`
	GRPC    GRPCConfig     `yaml:"grpc"`
	Worker  WorkerConfig   `yaml:"worker"`
	Sources SourcesConfig  `yaml:"sources"`
	DB      DatabaseConfig `yaml:"db"`
	Logging LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	RateLimit    int           `yaml:"rateLimit"` // requests per second, 0 disables
	AllowOrigins []string      `yaml:"allowOrigins"`
	StaticDir    string        `yaml:"staticDir"`
}

// GRPCConfig is the health server listener. Port 0 disables it.
type GRPCConfig struct {
	Port int `yaml:"port"`
}

type WorkerConfig struct {
	Count      int `yaml:"count"`
	BufferSize int `yaml:"bufferSize"`
}

type SourcesConfig struct {
	ConfirmedURL       string        `yaml:"confirmedUrl"`
	DeathsURL          string        `yaml:"deathsUrl"`
	RecoveredURL       string        `yaml:"recoveredUrl"`
	DailyReportBaseURL string        `yaml:"dailyReportBaseUrl"`
	CacheTTL           time.Duration `yaml:"cacheTtl"`
	FetchTimeout       time.Duration `yaml:"fetchTimeout"`
	WarmEnabled        bool          `yaml:"warmEnabled"`
	WarmSchedule       string        `yaml:"warmSchedule"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load builds the config from defaults, an optional YAML file named by
// CONFIG_PATH, and finally environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 2 * time.Minute,
			RateLimit:    20,
			AllowOrigins: []string{"*"},
		},
		GRPC: GRPCConfig{
			Port: 9090,
		},
		Worker: WorkerConfig{
			Count:      2,
			BufferSize: 20,
		},
		Sources: SourcesConfig{
			ConfirmedURL:       DefaultConfirmedURL,
			DeathsURL:          DefaultDeathsURL,
			RecoveredURL:       DefaultRecoveredURL,
			DailyReportBaseURL: DefaultDailyReportURL,
			CacheTTL:           time.Hour,
			FetchTimeout:       time.Minute,
			WarmEnabled:        true,
			WarmSchedule:       "@every 55m",
		},
		DB: DatabaseConfig{
			Path: ":memory:",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.RateLimit = getEnvInt("RATE_LIMIT_RPS", cfg.Server.RateLimit)
	cfg.Server.AllowOrigins = getEnvList("CORS_ALLOW_ORIGINS", cfg.Server.AllowOrigins)
	cfg.Server.StaticDir = getEnv("STATIC_DIR", cfg.Server.StaticDir)

	cfg.GRPC.Port = getEnvInt("GRPC_PORT", cfg.GRPC.Port)

	cfg.Worker.Count = getEnvInt("WORKER_COUNT", cfg.Worker.Count)
	cfg.Worker.BufferSize = getEnvInt("WORKER_BUFFER_SIZE", cfg.Worker.BufferSize)

	cfg.Sources.ConfirmedURL = getEnv("CONFIRMED_URL", cfg.Sources.ConfirmedURL)
	cfg.Sources.DeathsURL = getEnv("DEATHS_URL", cfg.Sources.DeathsURL)
	cfg.Sources.RecoveredURL = getEnv("RECOVERED_URL", cfg.Sources.RecoveredURL)
	cfg.Sources.DailyReportBaseURL = getEnv("DAILY_REPORT_BASE_URL", cfg.Sources.DailyReportBaseURL)
	cfg.Sources.CacheTTL = getEnvDuration("CACHE_TTL", cfg.Sources.CacheTTL)
	cfg.Sources.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", cfg.Sources.FetchTimeout)
	cfg.Sources.WarmEnabled = getEnvBool("WARM_ENABLED", cfg.Sources.WarmEnabled)
	cfg.Sources.WarmSchedule = getEnv("WARM_SCHEDULE", cfg.Sources.WarmSchedule)

	cfg.DB.Path = getEnv("DB_PATH", cfg.DB.Path)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.GRPC.Port < 0 || c.GRPC.Port > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPC.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("invalid rate limit: %d", c.Server.RateLimit)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}
	if c.Worker.BufferSize < 0 {
		return fmt.Errorf("worker buffer size cannot be negative")
	}

	for name, url := range map[string]string{
		"confirmed":    c.Sources.ConfirmedURL,
		"deaths":       c.Sources.DeathsURL,
		"recovered":    c.Sources.RecoveredURL,
		"daily report": c.Sources.DailyReportBaseURL,
	} {
		if strings.TrimSpace(url) == "" {
			return fmt.Errorf("%s source URL cannot be empty", name)
		}
	}

	if c.Sources.CacheTTL < time.Minute {
		return fmt.Errorf("cache TTL must be at least 1 minute")
	}
	if c.Sources.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.Sources.WarmEnabled && strings.TrimSpace(c.Sources.WarmSchedule) == "" {
		return fmt.Errorf("warm schedule cannot be empty when warm-up is enabled")
	}
	if c.DB.Path == "" {
		return fmt.Errorf("db path cannot be empty")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
