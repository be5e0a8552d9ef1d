// Package config loads poold's runtime settings from YAML, the HTTP
// daemon's analogue of the teacher's services/lendingd/config package.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the lending pool HTTP daemon.
type Config struct {
	ListenAddress   string     `yaml:"listen"`
	RateLimitPerMin int        `yaml:"rate_limit_per_min"`
	TLS             TLSConfig  `yaml:"tls"`
	Auth            AuthConfig `yaml:"auth"`
	Pool            PoolConfig `yaml:"pool"`
	Telemetry       Telemetry  `yaml:"telemetry"`
	Logging         Logging    `yaml:"logging"`
}

// Logging configures poold's output destination. An empty File keeps
// logging on stdout; a non-empty one routes through a lumberjack-managed
// rotating file (see observability/logging.SetupWithRotation).
type Logging struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig lists the authenticators accepted by the daemon.
type AuthConfig struct {
	APITokens     []string       `yaml:"api_tokens"`
	JWTSigningKey string         `yaml:"jwt_signing_key"`
	MTLS          MTLSAuthConfig `yaml:"mtls"`
}

// MTLSAuthConfig enumerates the allowed client certificate identities.
type MTLSAuthConfig struct {
	AllowedCommonNames []string `yaml:"allowed_common_names"`
}

// PoolConfig seeds the engine's initial accounting parameters.
type PoolConfig struct {
	BaseAsset              string   `yaml:"base_asset"`
	BaseAssetDecimals      uint32   `yaml:"base_asset_decimals"`
	InitialHealthBps       uint32   `yaml:"initial_health_bps"`
	TimestampWindowSeconds uint64   `yaml:"timestamp_window_seconds"`
	FlashLoanFeeBps        uint32   `yaml:"flash_loan_fee_bps"`
	UserAssetsLimit        int      `yaml:"user_assets_limit"`
	LiquidationProtocolFee uint32   `yaml:"liquidation_protocol_fee_bps"`
	PoolAddress            string   `yaml:"pool_address"`
	IRParams               IRParams `yaml:"ir_params"`
	OracleBaseURL          string   `yaml:"oracle_base_url"`
	OracleDecimals         uint32   `yaml:"oracle_decimals"`
	OracleResolutionSecs   uint32   `yaml:"oracle_resolution_secs"`
	// StorePath, when set, switches the engine's ReserveStore/UserConfigStore
	// from the in-memory defaults to a sqlite-backed store/sqlitestore.Store
	// at this filesystem path so reserve and position state survives a
	// daemon restart. Empty keeps the in-memory stores.
	StorePath string `yaml:"store_path"`
	// GenesisTOML, when set, seeds Pool from a TOML bring-up document via
	// lending.LoadPoolConfigTOML instead of the fields above, for operators
	// who prefer the teacher's flat toml genesis format to inline YAML.
	GenesisTOML string `yaml:"genesis_toml"`
}

// IRParams mirrors native/lending's binomial interest-rate curve
// parameters for YAML seeding.
type IRParams struct {
	Alpha        int64 `yaml:"alpha"`
	InitialRate  int64 `yaml:"initial_rate_bps"`
	MaxRate      int64 `yaml:"max_rate_bps"`
	ScalingCoeff int64 `yaml:"scaling_coeff_bps"`
}

// Telemetry configures the OTLP exporter used by cmd/poold's logging/otel
// bootstrap.
type Telemetry struct {
	ServiceName string            `yaml:"service_name"`
	Environment string            `yaml:"environment"`
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8443",
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8443"
	}
	cfg.TLS.normalize()
	cfg.Auth.normalize()
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(cfg.TLS); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if strings.TrimSpace(cfg.Pool.BaseAsset) == "" {
		return fmt.Errorf("pool: base_asset is required")
	}
	if strings.TrimSpace(cfg.Pool.PoolAddress) == "" {
		return fmt.Errorf("pool: pool_address is required")
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

// MTLSEnabled reports whether mutual TLS verification is configured.
func (cfg TLSConfig) MTLSEnabled() bool {
	return strings.TrimSpace(cfg.ClientCAPath) != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	tokens := make([]string, 0, len(cfg.APITokens))
	for _, token := range cfg.APITokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	cfg.APITokens = tokens

	names := make([]string, 0, len(cfg.MTLS.AllowedCommonNames))
	for _, name := range cfg.MTLS.AllowedCommonNames {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	cfg.MTLS.AllowedCommonNames = names
}

func (cfg AuthConfig) validate(tls TLSConfig) error {
	hasTokens := len(cfg.APITokens) > 0
	hasJWT := strings.TrimSpace(cfg.JWTSigningKey) != ""
	hasMTLS := len(cfg.MTLS.AllowedCommonNames) > 0
	if !hasTokens && !hasJWT && !hasMTLS {
		return fmt.Errorf("at least one api token, jwt signing key, or mTLS common name must be configured")
	}
	if hasMTLS && strings.TrimSpace(tls.ClientCAPath) == "" {
		return fmt.Errorf("mtls.allowed_common_names requires tls.client_ca to be configured")
	}
	return nil
}
