// Package config provides YAML/env configuration loading for the executor
// plugin. AWS settings are read once into an immutable value and threaded
// into every component; process environment is never mutated.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root plugin configuration.
type Config struct {
	// AWS holds credentials resolution and backend naming.
	AWS AWSConfig `mapstructure:"aws"`

	// Lambda holds remote function resource settings.
	Lambda LambdaConfig `mapstructure:"lambda"`

	// Poll holds completion/active polling settings.
	Poll PollConfig `mapstructure:"poll"`

	// Build holds deployment package build settings.
	Build BuildConfig `mapstructure:"build"`

	// CacheDir is the root under which per-dispatch working directories
	// are created.
	CacheDir string `mapstructure:"cache_dir"`

	// Cleanup controls whether teardown removes remote and local state.
	// When false, resources are intentionally left behind for inspection.
	Cleanup bool `mapstructure:"cleanup"`

	// WorkerPoolSize bounds concurrently executing blocking SDK calls
	// across all task lifecycles in this process.
	WorkerPoolSize int `mapstructure:"worker_pool_size"`

	// Log holds logging configuration.
	Log LogConfig `mapstructure:"log"`
}

// AWSConfig identifies the account context all backend calls run under.
type AWSConfig struct {
	// CredentialsFile is the shared credentials file path.
	CredentialsFile string `mapstructure:"credentials_file"`
	// Profile selects a profile within the credentials file.
	Profile string `mapstructure:"profile"`
	// Region is the AWS region for every client.
	Region string `mapstructure:"region"`
	// S3Bucket is the transfer bucket for task payloads and results.
	S3Bucket string `mapstructure:"s3_bucket"`
}

// LambdaConfig describes the provisioned function resource.
type LambdaConfig struct {
	// RoleName is the pre-existing execution role looked up at setup.
	// Roles are never created by this plugin.
	RoleName string `mapstructure:"role_name"`
	// TimeoutS is the remote function timeout in seconds.
	TimeoutS int `mapstructure:"timeout_s"`
	// MemoryMB is the remote function memory size.
	MemoryMB int `mapstructure:"memory_mb"`
	// InvocationType: "Event" (async submit, completion observed via the
	// store) or "RequestResponse".
	InvocationType string `mapstructure:"invocation_type"`
}

// PollConfig controls the bounded waits.
type PollConfig struct {
	// IntervalS is the delay between result/exception existence sweeps.
	IntervalS int `mapstructure:"interval_s"`
	// TimeoutS is the total completion budget.
	TimeoutS int `mapstructure:"timeout_s"`
	// ActiveIntervalMS is the delay between function-state checks while
	// waiting for the created function to become Active.
	ActiveIntervalMS int `mapstructure:"active_interval_ms"`
	// ActiveTimeoutS bounds the active wait.
	ActiveTimeoutS int `mapstructure:"active_timeout_s"`
}

// BuildConfig controls the deployment package build.
type BuildConfig struct {
	// ModuleRoot is the directory the build commands run in; HandlerPkg
	// resolves against the module found there.
	ModuleRoot string `mapstructure:"module_root"`
	// HandlerPkg is the Go package path compiled into the Lambda bootstrap.
	HandlerPkg string `mapstructure:"handler_pkg"`
	// GOARCH is the target architecture, arm64 or amd64.
	GOARCH string `mapstructure:"goarch"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`
	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults. Credentials
// file and profile defaults mirror the standard AWS environment variables,
// read once here and never written back.
func Default() *Config {
	creds := os.Getenv("AWS_SHARED_CREDENTIALS_FILE")
	if creds == "" {
		if home, err := os.UserHomeDir(); err == nil {
			creds = filepath.Join(home, ".aws", "credentials")
		}
	}
	cache := ".cache/covalent"
	if home, err := os.UserHomeDir(); err == nil {
		cache = filepath.Join(home, ".cache", "covalent")
	}
	return &Config{
		AWS: AWSConfig{
			CredentialsFile: creds,
			Profile:         os.Getenv("AWS_PROFILE"),
			Region:          os.Getenv("AWS_REGION"),
			S3Bucket:        "covalent-lambda",
		},
		Lambda: LambdaConfig{
			RoleName:       "CovalentLambdaExecutionRole",
			TimeoutS:       900,
			MemoryMB:       512,
			InvocationType: "Event",
		},
		Poll: PollConfig{
			IntervalS:        5,
			TimeoutS:         900,
			ActiveIntervalMS: 500,
			ActiveTimeoutS:   300,
		},
		Build: BuildConfig{
			ModuleRoot: ".",
			HandlerPkg: "github.com/AgnostiqHQ/covalent-awslambda-plugin/cmd/covalent-handler",
			GOARCH:     "arm64",
		},
		CacheDir:       cache,
		Cleanup:        true,
		WorkerPoolSize: 32,
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/covalent-lambda.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from the provided path (if non-empty), otherwise
// it searches common locations and supports environment overrides.
// Environment variables use the prefix COVALENT and `.`/`-` are replaced
// with `_`. Example: COVALENT_AWS_S3_BUCKET=my-bucket
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("COVALENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("aws.credentials_file", cfg.AWS.CredentialsFile)
	v.SetDefault("aws.profile", cfg.AWS.Profile)
	v.SetDefault("aws.region", cfg.AWS.Region)
	v.SetDefault("aws.s3_bucket", cfg.AWS.S3Bucket)
	v.SetDefault("lambda.role_name", cfg.Lambda.RoleName)
	v.SetDefault("lambda.timeout_s", cfg.Lambda.TimeoutS)
	v.SetDefault("lambda.memory_mb", cfg.Lambda.MemoryMB)
	v.SetDefault("lambda.invocation_type", cfg.Lambda.InvocationType)
	v.SetDefault("poll.interval_s", cfg.Poll.IntervalS)
	v.SetDefault("poll.timeout_s", cfg.Poll.TimeoutS)
	v.SetDefault("poll.active_interval_ms", cfg.Poll.ActiveIntervalMS)
	v.SetDefault("poll.active_timeout_s", cfg.Poll.ActiveTimeoutS)
	v.SetDefault("build.module_root", cfg.Build.ModuleRoot)
	v.SetDefault("build.handler_pkg", cfg.Build.HandlerPkg)
	v.SetDefault("build.goarch", cfg.Build.GOARCH)
	v.SetDefault("cache_dir", cfg.CacheDir)
	v.SetDefault("cleanup", cfg.Cleanup)
	v.SetDefault("worker_pool_size", cfg.WorkerPoolSize)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		if envPath := os.Getenv("COVALENT_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `covalent-lambda`
		v.SetConfigName("covalent-lambda")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "covalent"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	if strings.TrimSpace(c.AWS.S3Bucket) == "" {
		return errors.New("aws.s3_bucket must be set")
	}
	if strings.TrimSpace(c.Lambda.RoleName) == "" {
		return errors.New("lambda.role_name must be set")
	}
	switch c.Lambda.InvocationType {
	case "Event", "RequestResponse":
		// ok
	default:
		return fmt.Errorf("invalid lambda.invocation_type: %q", c.Lambda.InvocationType)
	}
	if c.Lambda.TimeoutS <= 0 || c.Lambda.MemoryMB <= 0 {
		return errors.New("lambda.timeout_s and lambda.memory_mb must be positive")
	}
	if c.Poll.IntervalS <= 0 || c.Poll.TimeoutS <= 0 {
		return errors.New("poll.interval_s and poll.timeout_s must be positive")
	}
	if c.Poll.ActiveIntervalMS <= 0 {
		c.Poll.ActiveIntervalMS = 500
	}
	if c.Poll.ActiveTimeoutS <= 0 {
		c.Poll.ActiveTimeoutS = 300
	}
	switch c.Build.GOARCH {
	case "arm64", "amd64":
		// ok
	default:
		return fmt.Errorf("invalid build.goarch: %q", c.Build.GOARCH)
	}
	if strings.TrimSpace(c.Build.ModuleRoot) == "" {
		c.Build.ModuleRoot = "."
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = 32
	}
	if strings.TrimSpace(c.CacheDir) == "" {
		return errors.New("cache_dir must be set")
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
