package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"exam-grader/internal/backoff"
	"exam-grader/internal/grader"
	"exam-grader/internal/pool"
	"exam-grader/internal/sandbox"
	"exam-grader/internal/toolchain"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Grader   GraderConfig   `yaml:"grader"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Security SecurityConfig `yaml:"security"`
	TLS      TLSConfig      `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// GraderConfig controls the worker pool and scoring.
type GraderConfig struct {
	Workers           int                `yaml:"workers"` // 0 sizes from CPU count
	MinWorkers        int                `yaml:"min_workers"`
	MaxWorkers        int                `yaml:"max_workers"`
	JobTimeout        time.Duration      `yaml:"job_timeout"`
	RestartPolicy     string             `yaml:"restart_policy"`
	RestartBase       time.Duration      `yaml:"restart_base"`
	RestartMax        time.Duration      `yaml:"restart_max"`
	LimitedTests      int                `yaml:"limited_tests"`
	ExamQuestions     []int              `yaml:"exam_questions"` // empty means every catalog question
	SubmissionTimeout time.Duration      `yaml:"submission_timeout"`
	SubmitterPattern  string             `yaml:"submitter_pattern"`
	Bonus             grader.BonusPolicy `yaml:"bonus"`
}

type SandboxConfig struct {
	WorkDir        string         `yaml:"work_dir"` // empty means $TMPDIR/exam-grader
	Compiler       string         `yaml:"compiler"`
	Flags          []string       `yaml:"flags"`
	MaxSourceBytes int            `yaml:"max_source_bytes"`
	Limits         sandbox.Limits `yaml:"limits"`
	SweepInterval  time.Duration  `yaml:"sweep_interval"`
	SweepAge       time.Duration  `yaml:"sweep_age"`
}

// CatalogConfig points at a TOML question file. Empty uses the built-in set.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

type DatabaseConfig struct {
	DSN              string        `yaml:"dsn"`
	WriterBuffer     int           `yaml:"writer_buffer"`
	WriterMaxRetries int           `yaml:"writer_max_retries"`
	FlushTimeout     time.Duration `yaml:"flush_timeout"`
}

type RedisConfig struct {
	URL       string        `yaml:"url"` // empty disables cache, guard and intake
	Prefix    string        `yaml:"prefix"`
	ResultTTL time.Duration `yaml:"result_ttl"`
	// GuardTTL bounds how long a submitter stays locked. Zero keeps the lock
	// until the exam is reset.
	GuardTTL time.Duration `yaml:"guard_ttl"`
	Intake   IntakeConfig  `yaml:"intake"`
}

type IntakeConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Queue       string        `yaml:"queue"`
	Concurrency int           `yaml:"concurrency"`
	ResultTTL   time.Duration `yaml:"result_ttl"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Insecure bool    `yaml:"insecure"`
	Sample   float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	APIKeyHeader   string   `yaml:"api_key_header"`
	AllowedKeys    []string `yaml:"allowed_keys"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    65 * time.Second, // > submission timeout + overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Grader: GraderConfig{
			MinWorkers:        pool.DefaultMinWorkers,
			MaxWorkers:        pool.DefaultMaxWorkers,
			JobTimeout:        pool.DefaultJobTimeout,
			RestartPolicy:     string(backoff.Fixed),
			RestartBase:       pool.DefaultRestart,
			RestartMax:        30 * time.Second,
			LimitedTests:      grader.DefaultLimitedTests,
			SubmissionTimeout: grader.DefaultSubmissionTimeout,
			SubmitterPattern:  grader.DefaultSubmitterPattern.String(),
			Bonus:             grader.DefaultBonusPolicy(),
		},
		Sandbox: SandboxConfig{
			Compiler:       toolchain.DefaultCompiler,
			Flags:          toolchain.DefaultFlags,
			MaxSourceBytes: toolchain.DefaultMaxSourceBytes,
			Limits:         sandbox.DefaultLimits(),
			SweepInterval:  5 * time.Minute,
			SweepAge:       10 * time.Minute,
		},
		Database: DatabaseConfig{
			WriterBuffer:     10000,
			WriterMaxRetries: 3,
			FlushTimeout:     10 * time.Second,
		},
		Redis: RedisConfig{
			Prefix:    "grader",
			ResultTTL: 24 * time.Hour,
			Intake: IntakeConfig{
				Queue:       "grader:jobs",
				Concurrency: 4,
				ResultTTL:   time.Hour,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if err := c.Sandbox.Limits.Validate(); err != nil {
		return fmt.Errorf("sandbox.limits: %w", err)
	}
	if budget := c.Sandbox.Limits.CompileTimeout + c.Sandbox.Limits.RunTimeout; c.Grader.JobTimeout <= budget {
		return fmt.Errorf("grader.job_timeout (%s) must exceed compile_timeout + run_timeout (%s)",
			c.Grader.JobTimeout, budget)
	}
	if c.Grader.SubmissionTimeout < c.Grader.JobTimeout {
		return fmt.Errorf("grader.submission_timeout (%s) must be >= job_timeout (%s)",
			c.Grader.SubmissionTimeout, c.Grader.JobTimeout)
	}
	if c.Server.WriteTimeout <= c.Grader.SubmissionTimeout {
		return fmt.Errorf("server.write_timeout (%s) must exceed grader.submission_timeout (%s)",
			c.Server.WriteTimeout, c.Grader.SubmissionTimeout)
	}
	if c.Grader.Workers < 0 {
		return fmt.Errorf("grader.workers must be >= 0")
	}
	if c.Grader.MinWorkers < 1 || c.Grader.MaxWorkers < c.Grader.MinWorkers {
		return fmt.Errorf("grader worker bounds must satisfy 1 <= min_workers (%d) <= max_workers (%d)",
			c.Grader.MinWorkers, c.Grader.MaxWorkers)
	}
	if _, err := backoff.ParsePolicy(c.Grader.RestartPolicy); err != nil {
		return fmt.Errorf("grader.restart_policy: %w", err)
	}
	if c.Grader.LimitedTests < 1 {
		return fmt.Errorf("grader.limited_tests must be >= 1")
	}
	if c.Grader.Bonus.Step < 1 || c.Grader.Bonus.MaxPoints < 0 {
		return fmt.Errorf("grader.bonus: step must be >= 1 and max_points >= 0")
	}
	if _, err := regexp.Compile(c.Grader.SubmitterPattern); err != nil {
		return fmt.Errorf("grader.submitter_pattern: %w", err)
	}
	if c.Sandbox.Compiler == "" {
		return fmt.Errorf("sandbox.compiler is required")
	}
	if c.Sandbox.WorkDir != "" && !filepath.IsAbs(c.Sandbox.WorkDir) {
		return fmt.Errorf("sandbox.work_dir: %q must be an absolute path", c.Sandbox.WorkDir)
	}
	if c.Redis.Intake.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis.intake requires redis.url")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// ApplyEnv overrides settings from the environment: PORT, DATABASE_DSN,
// REDIS_URL and GRADER_API_KEYS (comma separated).
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if port := getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = p
	}
	if dsn := getenv("DATABASE_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if url := getenv("REDIS_URL"); url != "" {
		c.Redis.URL = url
	}
	if keys := getenv("GRADER_API_KEYS"); keys != "" {
		c.Security.AllowedKeys = c.Security.AllowedKeys[:0]
		for _, k := range strings.Split(keys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				c.Security.AllowedKeys = append(c.Security.AllowedKeys, k)
			}
		}
	}
	return c.Validate()
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// PoolOptions translates the grader section for the worker pool.
func (c *Config) PoolOptions() pool.Options {
	policy, _ := backoff.ParsePolicy(c.Grader.RestartPolicy)
	return pool.Options{
		Workers:       c.Grader.Workers,
		MinWorkers:    c.Grader.MinWorkers,
		MaxWorkers:    c.Grader.MaxWorkers,
		JobTimeout:    c.Grader.JobTimeout,
		RestartPolicy: policy,
		RestartBase:   c.Grader.RestartBase,
		RestartMax:    c.Grader.RestartMax,
	}
}

// Toolchain builds the C++ toolchain described by the sandbox section.
func (c *Config) Toolchain() *toolchain.CPP {
	tc := toolchain.NewCPP(c.Sandbox.Compiler, c.Sandbox.Flags)
	if c.Sandbox.MaxSourceBytes > 0 {
		tc.MaxSourceBytes = c.Sandbox.MaxSourceBytes
	}
	return tc
}

// ServiceOptions translates the grader section for grader.NewService. The
// caller attaches cache, guard, store and recorder.
func (c *Config) ServiceOptions() grader.ServiceOptions {
	pattern, _ := regexp.Compile(c.Grader.SubmitterPattern)
	return grader.ServiceOptions{
		Pool:              c.PoolOptions(),
		ExamQuestions:     c.Grader.ExamQuestions,
		SubmissionTimeout: c.Grader.SubmissionTimeout,
		SubmitterPattern:  pattern,
		Bonus:             c.Grader.Bonus,
	}
}
