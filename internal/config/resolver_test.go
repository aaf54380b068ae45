package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolveConfig_Precedence_ConfigEnvCLI(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	yaml := `db_path: ~/.agora/from-config.db
log_level: debug
clustering:
  min_users: 25
  min_statements: 8
  cache_ttl: 5m
queue:
  max_attempts: 5
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("AGORA_DB", "~/from-env.db")
	t.Setenv("AGORA_MIN_USERS", "30")

	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: cfgPath,
		CLIDBPath:  "~/from-cli.db",
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}

	if resolved.DBPath.Source != SourceCLI {
		t.Fatalf("expected DB path source cli, got %s", resolved.DBPath.Source)
	}
	if resolved.MinUsers.Source != SourceEnv || resolved.MinUsers.Value != "30" {
		t.Fatalf("expected min_users from env, got %+v", resolved.MinUsers)
	}
	if resolved.LogLevel.Source != SourceConfig || resolved.LogLevel.Value != "debug" {
		t.Fatalf("expected log level from config, got %+v", resolved.LogLevel)
	}
	if resolved.MaxAttempts.Value != "5" {
		t.Fatalf("expected max_attempts 5 from config, got %+v", resolved.MaxAttempts)
	}
}

func TestResolveConfig_MissingFileIsFine(t *testing.T) {
	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: filepath.Join(t.TempDir(), "nope.yaml"),
	})
	if err != nil {
		t.Fatalf("missing config file must not error: %v", err)
	}
	if resolved.DBPath.Value != "" {
		t.Fatalf("expected unset db path, got %+v", resolved.DBPath)
	}
	if resolved.EffectiveDBPath().Source != SourceDefault {
		t.Fatalf("expected default db path source, got %s", resolved.EffectiveDBPath().Source)
	}
}

func TestEngineConfigFromResolved(t *testing.T) {
	tmp := t.TempDir()
	cfgPath := filepath.Join(tmp, "config.yaml")
	yaml := `clustering:
  min_users: 40
  cache_ttl: 30m
classify:
  consensus: 70
  divisive_std_dev: 35
coalition:
  high_polarization: 50
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	cfg, err := resolved.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}

	if cfg.MinUsers != 40 {
		t.Errorf("expected min users 40, got %d", cfg.MinUsers)
	}
	if cfg.MinStatements != 0 {
		t.Errorf("unset min statements must stay zero for engine defaulting, got %d", cfg.MinStatements)
	}
	if cfg.CacheTTL != 30*time.Minute {
		t.Errorf("expected cache TTL 30m, got %v", cfg.CacheTTL)
	}
	if cfg.Classify.Consensus != 70 || cfg.Classify.DivisiveStdDev != 35 {
		t.Errorf("classify thresholds not carried: %+v", cfg.Classify)
	}
	if cfg.Coalition.HighPolarization != 50 {
		t.Errorf("coalition thresholds not carried: %+v", cfg.Coalition)
	}
}

func TestEngineConfigRejectsMalformedValues(t *testing.T) {
	t.Setenv("AGORA_MIN_USERS", "lots")
	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: filepath.Join(t.TempDir(), "nope.yaml"),
	})
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if _, err := resolved.EngineConfig(); err == nil {
		t.Fatal("expected error for non-numeric min_users")
	}
}

func TestEffectiveMaxAttemptsDefault(t *testing.T) {
	var resolved ResolvedConfig
	n, err := resolved.EffectiveMaxAttempts()
	if err != nil {
		t.Fatalf("EffectiveMaxAttempts: %v", err)
	}
	if n != 3 {
		t.Errorf("expected default retry budget 3, got %d", n)
	}
}
