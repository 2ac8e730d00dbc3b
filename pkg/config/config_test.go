package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Poll.IntervalS != 5 {
		t.Fatalf("poll.interval_s default = %d", cfg.Poll.IntervalS)
	}
	if cfg.Lambda.MemoryMB != 512 {
		t.Fatalf("lambda.memory_mb default = %d", cfg.Lambda.MemoryMB)
	}
	if cfg.Lambda.TimeoutS != 900 {
		t.Fatalf("lambda.timeout_s default = %d", cfg.Lambda.TimeoutS)
	}
	if !cfg.Cleanup {
		t.Fatalf("cleanup should default to enabled")
	}
	if cfg.Lambda.InvocationType != "Event" {
		t.Fatalf("invocation_type default = %q", cfg.Lambda.InvocationType)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "covalent-lambda.yaml")
	body := []byte(`
aws:
  region: eu-west-1
  s3_bucket: test-bucket
lambda:
  role_name: test-role
  memory_mb: 1024
poll:
  interval_s: 1
  timeout_s: 30
cleanup: false
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AWS.Region != "eu-west-1" || cfg.AWS.S3Bucket != "test-bucket" {
		t.Fatalf("aws section not applied: %+v", cfg.AWS)
	}
	if cfg.Lambda.MemoryMB != 1024 {
		t.Fatalf("memory_mb = %d", cfg.Lambda.MemoryMB)
	}
	if cfg.Cleanup {
		t.Fatalf("cleanup should be disabled")
	}
	// untouched values keep defaults
	if cfg.Lambda.TimeoutS != 900 {
		t.Fatalf("timeout_s = %d", cfg.Lambda.TimeoutS)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("COVALENT_AWS_S3_BUCKET", "env-bucket")
	t.Setenv("COVALENT_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AWS.S3Bucket != "env-bucket" {
		t.Fatalf("env override not applied: %q", cfg.AWS.S3Bucket)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"empty bucket", func(c *Config) { c.AWS.S3Bucket = "" }},
		{"empty role", func(c *Config) { c.Lambda.RoleName = "" }},
		{"bad invocation type", func(c *Config) { c.Lambda.InvocationType = "DryRun" }},
		{"zero poll interval", func(c *Config) { c.Poll.IntervalS = 0 }},
		{"bad goarch", func(c *Config) { c.Build.GOARCH = "mips" }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := cfg.validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
