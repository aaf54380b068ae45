// Package config resolves runtime settings from, in increasing
// precedence, the YAML config file, AGORA_* environment variables, and
// CLI flags. Every resolved value remembers where it came from so
// `agora config` style debugging can show the winning source.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/civitas-io/agora/internal/classify"
	"github.com/civitas-io/agora/internal/coalition"
	"github.com/civitas-io/agora/internal/engine"
	"github.com/civitas-io/agora/internal/store"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath  string
	CLIDBPath   string
	CLILogLevel string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath   ResolvedValue `json:"db_path"`
	LogLevel ResolvedValue `json:"log_level"`

	MinUsers      ResolvedValue `json:"min_users"`
	MinStatements ResolvedValue `json:"min_statements"`
	CacheTTL      ResolvedValue `json:"cache_ttl"`
	MaxAttempts   ResolvedValue `json:"max_attempts"`

	// Threshold overrides come from the config file only; zero values
	// mean "use the built-in defaults".
	Classify  classify.Thresholds  `json:"classify"`
	Coalition coalition.Thresholds `json:"coalition"`
}

type fileConfig struct {
	DBPath     string `yaml:"db_path"`
	LogLevel   string `yaml:"log_level"`
	Clustering struct {
		MinUsers      int    `yaml:"min_users"`
		MinStatements int    `yaml:"min_statements"`
		CacheTTL      string `yaml:"cache_ttl"`
	} `yaml:"clustering"`
	Classify  classify.Thresholds  `yaml:"classify"`
	Coalition coalition.Thresholds `yaml:"coalition"`
	Queue     struct {
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"queue"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agora", "config.yaml")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{ConfigPath: path}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.LogLevel, cfg.LogLevel, SourceConfig, path)
		applyInt(&out.MinUsers, cfg.Clustering.MinUsers, SourceConfig, path)
		applyInt(&out.MinStatements, cfg.Clustering.MinStatements, SourceConfig, path)
		apply(&out.CacheTTL, cfg.Clustering.CacheTTL, SourceConfig, path)
		applyInt(&out.MaxAttempts, cfg.Queue.MaxAttempts, SourceConfig, path)
		out.Classify = cfg.Classify
		out.Coalition = cfg.Coalition
	}

	applyEnv(&out.DBPath, "AGORA_DB")
	applyEnv(&out.DBPath, "AGORA_DB_PATH")
	applyEnv(&out.LogLevel, "AGORA_LOG_LEVEL")
	applyEnv(&out.MinUsers, "AGORA_MIN_USERS")
	applyEnv(&out.MinStatements, "AGORA_MIN_STATEMENTS")
	applyEnv(&out.CacheTTL, "AGORA_CACHE_TTL")
	applyEnv(&out.MaxAttempts, "AGORA_MAX_ATTEMPTS")

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.LogLevel, opts.CLILogLevel, SourceCLI, "--log-level")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}

	return out, nil
}

// EffectiveDBPath returns the resolved database path, falling back to
// the store default.
func (r ResolvedConfig) EffectiveDBPath() ResolvedValue {
	if strings.TrimSpace(r.DBPath.Value) != "" {
		return r.DBPath
	}
	return ResolvedValue{
		Value:  expandUserPath(store.DefaultDBPath),
		Source: SourceDefault,
		From:   "built-in default",
	}
}

// EngineConfig converts the resolved values into an engine
// configuration. Unset values are left zero for the engine's own
// defaulting; malformed overrides are reported, not ignored.
func (r ResolvedConfig) EngineConfig() (engine.Config, error) {
	cfg := engine.Config{
		Classify:  r.Classify,
		Coalition: r.Coalition,
	}

	var err error
	if cfg.MinUsers, err = intValue(r.MinUsers, "min_users"); err != nil {
		return cfg, err
	}
	if cfg.MinStatements, err = intValue(r.MinStatements, "min_statements"); err != nil {
		return cfg, err
	}
	if raw := strings.TrimSpace(r.CacheTTL.Value); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return cfg, fmt.Errorf("invalid cache_ttl %q (from %s): %w", raw, r.CacheTTL.From, err)
		}
		cfg.CacheTTL = ttl
	}
	return cfg, nil
}

// EffectiveMaxAttempts returns the job retry budget, defaulting to the
// store's built-in value.
func (r ResolvedConfig) EffectiveMaxAttempts() (int, error) {
	n, err := intValue(r.MaxAttempts, "max_attempts")
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return store.DefaultMaxAttempts, nil
	}
	return n, nil
}

func intValue(v ResolvedValue, name string) (int, error) {
	raw := strings.TrimSpace(v.Value)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q (from %s): %w", name, raw, v.From, err)
	}
	return n, nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyInt(dst *ResolvedValue, n int, source ValueSource, from string) {
	if n == 0 {
		return
	}
	*dst = ResolvedValue{Value: strconv.Itoa(n), Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
