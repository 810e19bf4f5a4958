package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/randalmurphal/stepguard/pkg/stepguard/checkpoint"
)

// EnvConfigPath names the environment variable consulted by DefaultPath.
const EnvConfigPath = "STEPGUARD_CONFIG"

// Settings is the typed view of a stepguard configuration file.
type Settings struct {
	Registry   RegistrySettings
	Supervisor SupervisorSettings
	Store      StoreSettings
	Runtime    RuntimeSettings
	Oracle     OracleSettings
	Logging    LoggingSettings

	// Path is the file the settings were read from, empty for defaults.
	Path string
}

// RegistrySettings configures the global Registry server.
type RegistrySettings struct {
	Addr             string
	Host             string
	SupervisorBinary string
	StartupTimeout   time.Duration
	SpawnAttempts    int
	StopGrace        time.Duration
}

// SupervisorSettings configures each per-agent supervisor.
type SupervisorSettings struct {
	Policy         string
	PolicyEvery    int
	PolicyExpr     string
	Rollback       string
	CaptureTimeout time.Duration
	CommandTimeout time.Duration
}

// StoreSettings selects the checkpoint store backend.
type StoreSettings struct {
	Backend       string
	Path          string
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string
	PostgresDSN   string
	PostgresTable string
}

// RuntimeSettings configures the container runtime CLI.
type RuntimeSettings struct {
	DockerBinary    string
	ImageRepository string
}

// OracleSettings configures the step verification oracle.
type OracleSettings struct {
	URL     string
	Timeout time.Duration
}

// LoggingSettings configures the process logger.
type LoggingSettings struct {
	Level  string
	Format string
}

// Default returns the built-in settings.
func Default() Settings {
	return FromConfig(New(nil))
}

// FromConfig reads Settings out of cfg, filling missing keys with defaults.
func FromConfig(cfg Config) Settings {
	reg := cfg.Section("registry")
	sup := cfg.Section("supervisor")
	st := cfg.Section("store")
	rt := cfg.Section("runtime")
	orc := cfg.Section("oracle")
	lg := cfg.Section("logging")

	return Settings{
		Registry: RegistrySettings{
			Addr:             reg.String("addr", "127.0.0.1:8000"),
			Host:             reg.String("host", "127.0.0.1"),
			SupervisorBinary: reg.String("supervisor_binary", ""),
			StartupTimeout:   reg.Duration("startup_timeout", 10*time.Second),
			SpawnAttempts:    reg.Int("spawn_attempts", 3),
			StopGrace:        reg.Duration("stop_grace", 5*time.Second),
		},
		Supervisor: SupervisorSettings{
			Policy:         sup.String("policy", "always"),
			PolicyEvery:    sup.Int("policy_every", 1),
			PolicyExpr:     sup.String("policy_expr", ""),
			Rollback:       sup.String("rollback", "latest"),
			CaptureTimeout: sup.Duration("capture_timeout", 2*time.Minute),
			CommandTimeout: sup.Duration("command_timeout", 30*time.Second),
		},
		Store: StoreSettings{
			Backend:       st.String("backend", checkpoint.BackendFile),
			Path:          st.String("path", "snapshots"),
			RedisAddr:     st.String("redis_addr", "127.0.0.1:6379"),
			RedisPassword: st.String("redis_password", ""),
			RedisPrefix:   st.String("redis_prefix", "stepguard:"),
			PostgresDSN:   st.String("postgres_dsn", ""),
			PostgresTable: st.String("postgres_table", ""),
		},
		Runtime: RuntimeSettings{
			DockerBinary:    rt.String("docker_binary", "docker"),
			ImageRepository: rt.String("image_repository", "stepguard"),
		},
		Oracle: OracleSettings{
			URL:     orc.String("url", ""),
			Timeout: orc.Duration("timeout", 30*time.Second),
		},
		Logging: LoggingSettings{
			Level:  lg.String("level", "info"),
			Format: lg.String("format", "text"),
		},
	}
}

// DefaultPath returns $STEPGUARD_CONFIG if set, otherwise
// $XDG_CONFIG_HOME/stepguard/config.yaml (falling back to ~/.config).
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "stepguard", "config.yaml")
}

// Load reads settings from path. An empty path means DefaultPath, and a
// missing default file yields the built-in defaults. An explicitly named
// file must exist.
func Load(path string) (Settings, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path == "" {
		return Default(), nil
	}

	cfg, err := FromFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Settings{}, err
	}

	s := FromConfig(cfg)
	s.Path = path
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return s, nil
}

// Validate checks enumerated values and bounds.
func (s Settings) Validate() error {
	switch s.Store.Backend {
	case checkpoint.BackendMemory, checkpoint.BackendFile, checkpoint.BackendSQLite,
		checkpoint.BackendRedis, checkpoint.BackendPostgres:
	default:
		return fmt.Errorf("store.backend: unknown backend %q", s.Store.Backend)
	}
	if s.Store.Backend == checkpoint.BackendPostgres && s.Store.PostgresDSN == "" {
		return errors.New("store.postgres_dsn is required for the postgres backend")
	}

	switch s.Supervisor.Policy {
	case "always", "never":
	case "every_n":
		if s.Supervisor.PolicyEvery < 1 {
			return errors.New("supervisor.policy_every must be at least 1")
		}
	case "expr":
		if s.Supervisor.PolicyExpr == "" {
			return errors.New("supervisor.policy_expr is required for the expr policy")
		}
	default:
		return fmt.Errorf("supervisor.policy: unknown policy %q", s.Supervisor.Policy)
	}

	switch s.Supervisor.Rollback {
	case "latest", "earliest":
	default:
		return fmt.Errorf("supervisor.rollback: must be latest or earliest, got %q", s.Supervisor.Rollback)
	}

	if s.Registry.SpawnAttempts < 1 {
		return errors.New("registry.spawn_attempts must be at least 1")
	}
	if s.Registry.StartupTimeout <= 0 {
		return errors.New("registry.startup_timeout must be positive")
	}
	if s.Supervisor.CaptureTimeout <= 0 || s.Supervisor.CommandTimeout <= 0 {
		return errors.New("supervisor timeouts must be positive")
	}
	return nil
}

// StoreOptions converts the store section into checkpoint.Open options.
func (s Settings) StoreOptions() checkpoint.Options {
	return checkpoint.Options{
		Backend:       s.Store.Backend,
		Path:          s.Store.Path,
		RedisAddr:     s.Store.RedisAddr,
		RedisPassword: s.Store.RedisPassword,
		RedisPrefix:   s.Store.RedisPrefix,
		PostgresDSN:   s.Store.PostgresDSN,
		PostgresTable: s.Store.PostgresTable,
	}
}
