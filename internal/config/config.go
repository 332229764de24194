// Package config loads drafter configuration from DRAFTER_* environment
// variables and an optional YAML runtime table.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/drafter/internal/artifact"
	"github.com/seantiz/drafter/internal/deadline"
	"github.com/seantiz/drafter/internal/sandbox"
)

const (
	defaultListenAddr        = ":8080"
	defaultDBPath            = "drafter.db"
	defaultWorkerBin         = "drafter-worker"
	defaultTimeoutS          = 90
	defaultMaxTimeoutS       = 600
	defaultTerminateGrace    = 500 * time.Millisecond
	defaultTerminateAttempts = 3
	defaultS3Bucket          = "diagrams"
	defaultS3Region          = "us-east-1"

	envListenAddr        = "DRAFTER_LISTEN_ADDR"
	envDBPath            = "DRAFTER_DB_PATH"
	envLogLevel          = "DRAFTER_LOG_LEVEL"
	envWorkspaceDir      = "DRAFTER_WORKSPACE_DIR"
	envDefaultTimeout    = "DRAFTER_DEFAULT_TIMEOUT_S"
	envMaxTimeout        = "DRAFTER_MAX_TIMEOUT_S"
	envStrategy          = "DRAFTER_DEADLINE_STRATEGY"
	envWorkerBin         = "DRAFTER_WORKER_BIN"
	envRuntimesFile      = "DRAFTER_RUNTIMES_FILE"
	envTerminateGrace    = "DRAFTER_TERMINATE_GRACE"
	envTerminateAttempts = "DRAFTER_TERMINATE_ATTEMPTS"
	envCORSOrigins       = "DRAFTER_CORS_ORIGINS"
	envS3Endpoint        = "DRAFTER_S3_ENDPOINT"
	envS3AccessKey       = "DRAFTER_S3_ACCESS_KEY"
	envS3SecretKey       = "DRAFTER_S3_SECRET_KEY"
	envS3Region          = "DRAFTER_S3_REGION"
	envS3Bucket          = "DRAFTER_S3_BUCKET"
	envS3Prefix          = "DRAFTER_S3_PREFIX"
	envS3UseSSL          = "DRAFTER_S3_USE_SSL"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr   string
	DBPath       string
	LogLevel     slog.Level
	WorkspaceDir string

	// DefaultTimeoutS applies when a request names no timeout; requests
	// above MaxTimeoutS are rejected.
	DefaultTimeoutS float64
	MaxTimeoutS     float64

	Strategy          string
	WorkerBin         string
	RuntimesFile      string
	TerminateGrace    time.Duration
	TerminateAttempts int
	CORSOrigins       []string

	S3 artifact.S3Config
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:        defaultListenAddr,
		DBPath:            defaultDBPath,
		LogLevel:          slog.LevelInfo,
		WorkspaceDir:      filepath.Join(os.TempDir(), "drafter"),
		DefaultTimeoutS:   defaultTimeoutS,
		MaxTimeoutS:       defaultMaxTimeoutS,
		Strategy:          deadline.PreferAuto,
		WorkerBin:         defaultWorkerBin,
		TerminateGrace:    defaultTerminateGrace,
		TerminateAttempts: defaultTerminateAttempts,
		CORSOrigins:       []string{"*"},
		S3: artifact.S3Config{
			Region: defaultS3Region,
			Bucket: defaultS3Bucket,
		},
	}

	setString(&cfg.ListenAddr, envListenAddr)
	setString(&cfg.DBPath, envDBPath)
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	setString(&cfg.WorkspaceDir, envWorkspaceDir)
	setString(&cfg.Strategy, envStrategy)
	setString(&cfg.WorkerBin, envWorkerBin)
	setString(&cfg.RuntimesFile, envRuntimesFile)
	if v := os.Getenv(envCORSOrigins); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	setString(&cfg.S3.Endpoint, envS3Endpoint)
	setString(&cfg.S3.AccessKey, envS3AccessKey)
	setString(&cfg.S3.SecretKey, envS3SecretKey)
	setString(&cfg.S3.Region, envS3Region)
	setString(&cfg.S3.Bucket, envS3Bucket)
	setString(&cfg.S3.Prefix, envS3Prefix)

	var err error
	if cfg.DefaultTimeoutS, err = envFloat(envDefaultTimeout, cfg.DefaultTimeoutS); err != nil {
		return Config{}, err
	}
	if cfg.MaxTimeoutS, err = envFloat(envMaxTimeout, cfg.MaxTimeoutS); err != nil {
		return Config{}, err
	}
	if cfg.TerminateGrace, err = envDuration(envTerminateGrace, cfg.TerminateGrace); err != nil {
		return Config{}, err
	}
	if cfg.TerminateAttempts, err = envInt(envTerminateAttempts, cfg.TerminateAttempts); err != nil {
		return Config{}, err
	}
	if cfg.S3.UseSSL, err = envBool(envS3UseSSL, false); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.DefaultTimeoutS <= 0 {
		return fmt.Errorf("%s must be positive, got %v", envDefaultTimeout, c.DefaultTimeoutS)
	}
	if c.MaxTimeoutS < c.DefaultTimeoutS {
		return fmt.Errorf("%s (%v) must not be below %s (%v)", envMaxTimeout, c.MaxTimeoutS, envDefaultTimeout, c.DefaultTimeoutS)
	}
	if c.TerminateGrace <= 0 {
		return fmt.Errorf("%s must be positive, got %s", envTerminateGrace, c.TerminateGrace)
	}
	if c.TerminateAttempts < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", envTerminateAttempts, c.TerminateAttempts)
	}
	if !filepath.IsAbs(c.WorkspaceDir) {
		return fmt.Errorf("%s must be an absolute path, got %q", envWorkspaceDir, c.WorkspaceDir)
	}
	if c.S3.Enabled() {
		if err := c.S3.Validate(); err != nil {
			return fmt.Errorf("s3: %w", err)
		}
	}
	return nil
}

// ProcessConfig returns the process runner configuration, with runtimes
// from RuntimesFile merged over the defaults.
func (c Config) ProcessConfig() (sandbox.ProcessConfig, error) {
	runtimes := sandbox.DefaultRuntimes(c.WorkerBin)
	if c.RuntimesFile != "" {
		extra, err := LoadRuntimes(c.RuntimesFile)
		if err != nil {
			return sandbox.ProcessConfig{}, err
		}
		for name, rc := range extra {
			runtimes[name] = rc
		}
	}
	return sandbox.ProcessConfig{
		Runtimes:          runtimes,
		TerminateGrace:    c.TerminateGrace,
		TerminateAttempts: c.TerminateAttempts,
	}, nil
}

// ThreadConfig returns the thread runner configuration.
func (c Config) ThreadConfig() sandbox.ThreadConfig {
	return sandbox.ThreadConfig{
		TerminateGrace:    c.TerminateGrace,
		TerminateAttempts: c.TerminateAttempts,
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
