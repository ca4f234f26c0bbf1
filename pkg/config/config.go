// Package config loads testgov configuration from an optional YAML file and
// TESTGOV_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Mindburn-Labs/helm/testgov/pkg/artifacts"
	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
	"github.com/Mindburn-Labs/helm/testgov/pkg/observability"
	"github.com/Mindburn-Labs/helm/testgov/pkg/orchestrator"
)

// EnvPrefix prefixes every environment override, e.g. TESTGOV_LEDGER_BACKEND.
const EnvPrefix = "TESTGOV"

type Config struct {
	Catalog       CatalogConfig       `mapstructure:"catalog"`
	Thermal       ThermalConfig       `mapstructure:"thermal"`
	Ledger        LedgerConfig        `mapstructure:"ledger"`
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator"`
	Consensus     ConsensusConfig     `mapstructure:"consensus"`
	Artifacts     artifacts.Config    `mapstructure:"artifacts"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

type ThermalConfig struct {
	// TickSource is auto, raw or monotonic.
	TickSource string `mapstructure:"tick_source"`
	Iterations uint64 `mapstructure:"iterations"`
}

// LedgerBackend names a journal implementation.
type LedgerBackend string

const (
	LedgerMemory   LedgerBackend = "memory"
	LedgerSQLite   LedgerBackend = "sqlite"
	LedgerPostgres LedgerBackend = "postgres"
	LedgerBadger   LedgerBackend = "badger"
)

type LedgerConfig struct {
	Backend LedgerBackend `mapstructure:"backend"`
	// Path is the SQLite file or Badger directory.
	Path string `mapstructure:"path"`
	DSN  string `mapstructure:"dsn"`
	// TrustedKeys maps key IDs to hex Ed25519 public keys. When set, the
	// ledger verifies every receipt signature on append and replay.
	TrustedKeys map[string]string `mapstructure:"trusted_keys"`
}

type LimiterConfig struct {
	Backend       string `mapstructure:"backend"` // memory or redis
	RPM           int    `mapstructure:"rpm"`
	Burst         int    `mapstructure:"burst"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

func (l LimiterConfig) Policy() orchestrator.BackpressurePolicy {
	return orchestrator.BackpressurePolicy{RPM: l.RPM, Burst: l.Burst}
}

type OrchestratorConfig struct {
	MaxSkips      int                      `mapstructure:"max_skips"`
	MaxConcurrent int                      `mapstructure:"max_concurrent"`
	Ceilings      contracts.ResourceBudget `mapstructure:"ceilings"`
	Limiter       LimiterConfig            `mapstructure:"limiter"`
}

type VoterConfig struct {
	ID        string `mapstructure:"id"`
	PublicKey string `mapstructure:"public_key"`
}

type ConsensusConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// Policy is a CEL expression over the ledger summary.
	Policy string        `mapstructure:"policy"`
	Voters []VoterConfig `mapstructure:"voters"`
}

type ObservabilityConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ServiceName    string        `mapstructure:"service_name"`
	Environment    string        `mapstructure:"environment"`
	OTLPEndpoint   string        `mapstructure:"otlp_endpoint"`
	Insecure       bool          `mapstructure:"insecure"`
	SampleRate     float64       `mapstructure:"sample_rate"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
}

// Provider converts to the observability package's config.
func (o ObservabilityConfig) Provider(version string) *observability.Config {
	cfg := observability.DefaultConfig()
	cfg.Enabled = o.Enabled
	cfg.ServiceName = o.ServiceName
	cfg.ServiceVersion = version
	cfg.Environment = o.Environment
	cfg.OTLPEndpoint = o.OTLPEndpoint
	cfg.Insecure = o.Insecure
	cfg.SampleRate = o.SampleRate
	cfg.ExportInterval = o.ExportInterval
	return cfg
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads path if given, otherwise ./testgov.yaml when present, then
// applies TESTGOV_* overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("testgov")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.path", "catalog.yaml")

	v.SetDefault("thermal.tick_source", "auto")
	v.SetDefault("thermal.iterations", 1)

	v.SetDefault("ledger.backend", string(LedgerMemory))
	v.SetDefault("ledger.path", "data/ledger.db")
	v.SetDefault("ledger.dsn", "")

	ceilings := orchestrator.DefaultCeilings()
	v.SetDefault("orchestrator.max_skips", orchestrator.DefaultMaxSkips)
	v.SetDefault("orchestrator.max_concurrent", 4)
	v.SetDefault("orchestrator.ceilings.max_cores", ceilings.MaxCores)
	v.SetDefault("orchestrator.ceilings.max_memory_bytes", ceilings.MaxMemoryBytes)
	v.SetDefault("orchestrator.ceilings.max_wall_clock_seconds", ceilings.MaxWallClockSeconds)
	v.SetDefault("orchestrator.ceilings.allow_network", ceilings.AllowNetwork)
	v.SetDefault("orchestrator.ceilings.allow_storage", ceilings.AllowStorage)
	bp := orchestrator.DefaultBackpressurePolicy()
	v.SetDefault("orchestrator.limiter.backend", "memory")
	v.SetDefault("orchestrator.limiter.rpm", bp.RPM)
	v.SetDefault("orchestrator.limiter.burst", bp.Burst)
	v.SetDefault("orchestrator.limiter.redis_addr", "localhost:6379")
	v.SetDefault("orchestrator.limiter.redis_password", "")
	v.SetDefault("orchestrator.limiter.redis_db", 0)

	v.SetDefault("consensus.timeout", "30s")
	v.SetDefault("consensus.policy", "")

	v.SetDefault("artifacts.backend", string(artifacts.BackendFS))
	v.SetDefault("artifacts.dir", "data/artifacts")
	v.SetDefault("artifacts.s3.bucket", "")
	v.SetDefault("artifacts.s3.region", "us-east-1")
	v.SetDefault("artifacts.s3.endpoint", "")
	v.SetDefault("artifacts.s3.prefix", "")
	v.SetDefault("artifacts.gcs.bucket", "")
	v.SetDefault("artifacts.gcs.prefix", "")

	obs := observability.DefaultConfig()
	v.SetDefault("observability.enabled", obs.Enabled)
	v.SetDefault("observability.service_name", obs.ServiceName)
	v.SetDefault("observability.environment", obs.Environment)
	v.SetDefault("observability.otlp_endpoint", obs.OTLPEndpoint)
	v.SetDefault("observability.insecure", true)
	v.SetDefault("observability.sample_rate", obs.SampleRate)
	v.SetDefault("observability.export_interval", obs.ExportInterval)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Thermal.TickSource {
	case "auto", "raw", "monotonic":
	default:
		errs = append(errs, fmt.Errorf("thermal.tick_source: unknown %q", c.Thermal.TickSource))
	}
	switch c.Ledger.Backend {
	case LedgerMemory, LedgerSQLite, LedgerBadger:
	case LedgerPostgres:
		if c.Ledger.DSN == "" {
			errs = append(errs, errors.New("ledger.dsn: required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.backend: unknown %q", c.Ledger.Backend))
	}
	switch c.Orchestrator.Limiter.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("orchestrator.limiter.backend: unknown %q", c.Orchestrator.Limiter.Backend))
	}
	if c.Orchestrator.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("orchestrator.max_concurrent: must be positive"))
	}
	if c.Consensus.Timeout <= 0 {
		errs = append(errs, errors.New("consensus.timeout: must be positive"))
	}
	switch c.Artifacts.Backend {
	case artifacts.BackendFS, artifacts.BackendS3, artifacts.BackendGCS:
	default:
		errs = append(errs, fmt.Errorf("artifacts.backend: unknown %q", c.Artifacts.Backend))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}
