// Package config defines the top-level configuration for the trade execution
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYEXEC_* environment variables.
type Config struct {
	Wallet      WalletConfig      `toml:"wallet"`
	Polymarket  PolymarketConfig  `toml:"polymarket"`
	Credentials CredentialsConfig `toml:"credentials"`
	Trading     TradingConfig     `toml:"trading"`
	Remediation RemediationConfig `toml:"remediation"`
	Extractor   ExtractorConfig   `toml:"extractor"`
	Chain       ChainConfig       `toml:"chain"`
	Supabase    SupabaseConfig    `toml:"supabase"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	SafeAddress      string `toml:"safe_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string   `toml:"clob_host"`
	GammaHost     string   `toml:"gamma_host"`
	DataHost      string   `toml:"data_host"`
	ChainID       int      `toml:"chain_id"`
	SignatureType int      `toml:"signature_type"`
	HTTPTimeout   duration `toml:"http_timeout"`
}

// CredentialsConfig optionally pre-provisions CLOB API credentials. When all
// three are empty the service derives them on first use.
type CredentialsConfig struct {
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
}

// TradingConfig holds the sizing and risk parameters of the pricing engine and
// guard.
type TradingConfig struct {
	MinNotionalUSD    float64 `toml:"min_notional_usd"`
	MinOrderSize      float64 `toml:"min_order_size"`
	MarketSlippage    float64 `toml:"market_slippage"`
	MaxPositionUSD    float64 `toml:"max_position_usd"`
	DefaultFeeRateBps int     `toml:"default_fee_rate_bps"`
	LiquidityLevels   int     `toml:"liquidity_levels"`
}

// RemediationConfig controls the deposit/approval recovery sequence.
type RemediationConfig struct {
	BaseURL          string   `toml:"base_url"`
	ApiKey           string   `toml:"api_key"`
	DepositPolicy    string   `toml:"deposit_policy"`
	DepositBufferUSD float64  `toml:"deposit_buffer_usd"`
	MaxSubmissions   int      `toml:"max_submissions"`
	Timeout          duration `toml:"timeout"`
}

// ExtractorConfig configures the LLM intent extractor. Leaving base_url empty
// disables it and every request goes through the pattern matchers.
type ExtractorConfig struct {
	BaseURL string   `toml:"base_url"`
	ApiKey  string   `toml:"api_key"`
	Model   string   `toml:"model"`
	Timeout duration `toml:"timeout"`
}

// ChainConfig configures the Polygon RPC used for on-chain balance reads.
type ChainConfig struct {
	RPCURL      string   `toml:"rpc_url"`
	USDCAddress string   `toml:"usdc_address"`
	Timeout     duration `toml:"timeout"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters used for the
// execution report archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	ApiKey      string   `toml:"api_key"`
	// RateLimit is the number of trade requests accepted per client per minute.
	RateLimit      int      `toml:"rate_limit"`
	IdempotencyTTL duration `toml:"idempotency_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// Deposit policies for RemediationConfig.DepositPolicy.
const (
	DepositNotionalPlusBuffer  = "notional_plus_buffer"
	DepositShortfallPlusBuffer = "shortfall_plus_buffer"
)

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			DataHost:      "https://data-api.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
			HTTPTimeout:   duration{30 * time.Second},
		},
		Trading: TradingConfig{
			MinNotionalUSD:  1.0,
			MinOrderSize:    5.0,
			MarketSlippage:  0.01,
			MaxPositionUSD:  1000.0,
			LiquidityLevels: 5,
		},
		Remediation: RemediationConfig{
			DepositPolicy:    DepositNotionalPlusBuffer,
			DepositBufferUSD: 1.0,
			MaxSubmissions:   3,
			Timeout:          duration{2 * time.Minute},
		},
		Extractor: ExtractorConfig{
			Model:   "gpt-4o-mini",
			Timeout: duration{8 * time.Second},
		},
		Chain: ChainConfig{
			USDCAddress: "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174",
			Timeout:     duration{15 * time.Second},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyexec-reports",
			Prefix:         "executions",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:      30,
			IdempotencyTTL: duration{10 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"trade_filled", "trade_failed"},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "polyexec",
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve": true,
	"once":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validDepositPolicies = map[string]bool{
	DepositNotionalPlusBuffer:  true,
	DepositShortfallPlusBuffer: true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, once)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is always required: every request may need to sign.
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	if c.Polymarket.SignatureType == 2 && c.Wallet.SafeAddress == "" {
		errs = append(errs, "wallet: safe_address is required for signature_type 2")
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType < 0 || c.Polymarket.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 0 (EOA), 1 (proxy) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}

	// Credentials: all three together, or all empty.
	ck := c.Credentials.ApiKey != ""
	cs := c.Credentials.ApiSecret != ""
	cp := c.Credentials.ApiPassphrase != ""
	if (ck || cs || cp) && !(ck && cs && cp) {
		errs = append(errs, "credentials: api_key, api_secret, and api_passphrase must all be set together")
	}

	// Trading
	if c.Trading.MinNotionalUSD <= 0 {
		errs = append(errs, "trading: min_notional_usd must be > 0")
	}
	if c.Trading.MinOrderSize <= 0 {
		errs = append(errs, "trading: min_order_size must be > 0")
	}
	if c.Trading.MarketSlippage < 0 || c.Trading.MarketSlippage >= 1 {
		errs = append(errs, "trading: market_slippage must be in [0, 1)")
	}
	if c.Trading.MaxPositionUSD <= 0 {
		errs = append(errs, "trading: max_position_usd must be > 0")
	}
	if c.Trading.DefaultFeeRateBps < 0 {
		errs = append(errs, "trading: default_fee_rate_bps must be >= 0")
	}
	if c.Trading.LiquidityLevels < 1 {
		errs = append(errs, "trading: liquidity_levels must be >= 1")
	}

	// Remediation
	if !validDepositPolicies[c.Remediation.DepositPolicy] {
		errs = append(errs, fmt.Sprintf("remediation: unknown deposit_policy %q (valid: %s, %s)",
			c.Remediation.DepositPolicy, DepositNotionalPlusBuffer, DepositShortfallPlusBuffer))
	}
	if c.Remediation.DepositBufferUSD < 0 {
		errs = append(errs, "remediation: deposit_buffer_usd must be >= 0")
	}
	if c.Remediation.MaxSubmissions < 1 || c.Remediation.MaxSubmissions > 3 {
		errs = append(errs, "remediation: max_submissions must be 1-3")
	}

	// Extractor
	if c.Extractor.BaseURL != "" && c.Extractor.Timeout.Duration <= 0 {
		errs = append(errs, "extractor: timeout must be > 0")
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 {
		errs = append(errs, "supabase: pool_min_conns must be >= 0")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
