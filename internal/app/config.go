package app

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/odyssey-erp/revreport/internal/revenue"
)

// Mapping sources.
const (
	MappingNone     = "none"
	MappingFile     = "file"
	MappingPostgres = "postgres"
)

// Config holds runtime configuration for the CLI, worker and server.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"60s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"55s"`
	AppRateLimit      int           `envconfig:"APP_RATE_LIMIT" default:"60"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"4"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`

	ReportFirstYear      int           `envconfig:"REPORT_FIRST_YEAR" default:"2016"`
	ReportLastYear       int           `envconfig:"REPORT_LAST_YEAR" default:"2023"`
	ReportWorkers        int           `envconfig:"REPORT_WORKERS" default:"1"`
	ReportCacheTTL       time.Duration `envconfig:"REPORT_CACHE_TTL" default:"1h"`
	ReportMaxUploadBytes int64         `envconfig:"REPORT_MAX_UPLOAD_BYTES" default:"67108864"`

	MappingSource   string        `envconfig:"MAPPING_SOURCE" default:"none"`
	MappingFilePath string        `envconfig:"MAPPING_FILE"`
	MappingCacheTTL time.Duration `envconfig:"MAPPING_CACHE_TTL" default:"5m"`

	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"2"`

	AMQPURL      string `envconfig:"AMQP_URL"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"revreport"`
	AMQPQueue    string `envconfig:"AMQP_QUEUE" default:"report_completed"`
}

// LoadConfig reads an optional .env file and then environment variables.
// Variables already present in the environment win over the file.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.MappingSource = strings.ToLower(strings.TrimSpace(cfg.MappingSource))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	var problems []string
	if err := c.Years().Validate(); err != nil {
		problems = append(problems, fmt.Sprintf("report years %d-%d: %v", c.ReportFirstYear, c.ReportLastYear, err))
	}
	if c.ReportWorkers < 1 {
		problems = append(problems, "REPORT_WORKERS must be at least 1")
	}
	if c.WorkerConcurrency < 1 {
		problems = append(problems, "WORKER_CONCURRENCY must be at least 1")
	}
	if c.ReportMaxUploadBytes <= 0 {
		problems = append(problems, "REPORT_MAX_UPLOAD_BYTES must be positive")
	}
	switch c.MappingSource {
	case MappingNone:
	case MappingFile:
		if strings.TrimSpace(c.MappingFilePath) == "" {
			problems = append(problems, "MAPPING_FILE is required when MAPPING_SOURCE=file")
		}
	case MappingPostgres:
		if strings.TrimSpace(c.PGDSN) == "" {
			problems = append(problems, "PG_DSN is required when MAPPING_SOURCE=postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("MAPPING_SOURCE %q must be none, file or postgres", c.MappingSource))
	}
	if _, ok := parseLevel(c.LogLevel); !ok {
		problems = append(problems, fmt.Sprintf("LOG_LEVEL %q is not a slog level", c.LogLevel))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Years returns the configured report year range.
func (c *Config) Years() revenue.YearRange {
	return revenue.YearRange{First: c.ReportFirstYear, Last: c.ReportLastYear}
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

func parseLevel(s string) (slog.Level, bool) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, false
	}
	return level, true
}
