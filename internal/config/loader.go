package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYEXEC_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYEXEC_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYEXEC_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.SafeAddress, "POLYEXEC_WALLET_SAFE_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYEXEC_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYEXEC_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYEXEC_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYEXEC_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.DataHost, "POLYEXEC_POLYMARKET_DATA_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYEXEC_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYEXEC_POLYMARKET_SIGNATURE_TYPE")
	setDuration(&cfg.Polymarket.HTTPTimeout, "POLYEXEC_POLYMARKET_HTTP_TIMEOUT")

	// ── Credentials ──
	setStr(&cfg.Credentials.ApiKey, "POLYEXEC_CREDENTIALS_API_KEY")
	setStr(&cfg.Credentials.ApiSecret, "POLYEXEC_CREDENTIALS_API_SECRET")
	setStr(&cfg.Credentials.ApiPassphrase, "POLYEXEC_CREDENTIALS_API_PASSPHRASE")

	// ── Trading ──
	setFloat64(&cfg.Trading.MinNotionalUSD, "POLYEXEC_TRADING_MIN_NOTIONAL_USD")
	setFloat64(&cfg.Trading.MinOrderSize, "POLYEXEC_TRADING_MIN_ORDER_SIZE")
	setFloat64(&cfg.Trading.MarketSlippage, "POLYEXEC_TRADING_MARKET_SLIPPAGE")
	setFloat64(&cfg.Trading.MaxPositionUSD, "POLYEXEC_TRADING_MAX_POSITION_USD")
	setInt(&cfg.Trading.DefaultFeeRateBps, "POLYEXEC_TRADING_DEFAULT_FEE_RATE_BPS")
	setInt(&cfg.Trading.LiquidityLevels, "POLYEXEC_TRADING_LIQUIDITY_LEVELS")

	// ── Remediation ──
	setStr(&cfg.Remediation.BaseURL, "POLYEXEC_REMEDIATION_BASE_URL")
	setStr(&cfg.Remediation.ApiKey, "POLYEXEC_REMEDIATION_API_KEY")
	setStr(&cfg.Remediation.DepositPolicy, "POLYEXEC_REMEDIATION_DEPOSIT_POLICY")
	setFloat64(&cfg.Remediation.DepositBufferUSD, "POLYEXEC_REMEDIATION_DEPOSIT_BUFFER_USD")
	setInt(&cfg.Remediation.MaxSubmissions, "POLYEXEC_REMEDIATION_MAX_SUBMISSIONS")
	setDuration(&cfg.Remediation.Timeout, "POLYEXEC_REMEDIATION_TIMEOUT")

	// ── Extractor ──
	setStr(&cfg.Extractor.BaseURL, "POLYEXEC_EXTRACTOR_BASE_URL")
	setStr(&cfg.Extractor.ApiKey, "POLYEXEC_EXTRACTOR_API_KEY")
	setStr(&cfg.Extractor.Model, "POLYEXEC_EXTRACTOR_MODEL")
	setDuration(&cfg.Extractor.Timeout, "POLYEXEC_EXTRACTOR_TIMEOUT")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "POLYEXEC_CHAIN_RPC_URL")
	setStr(&cfg.Chain.USDCAddress, "POLYEXEC_CHAIN_USDC_ADDRESS")
	setDuration(&cfg.Chain.Timeout, "POLYEXEC_CHAIN_TIMEOUT")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "POLYEXEC_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "POLYEXEC_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "POLYEXEC_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "POLYEXEC_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "POLYEXEC_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "POLYEXEC_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "POLYEXEC_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "POLYEXEC_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "POLYEXEC_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "POLYEXEC_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "POLYEXEC_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYEXEC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYEXEC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYEXEC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYEXEC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYEXEC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYEXEC_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYEXEC_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYEXEC_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYEXEC_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYEXEC_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "POLYEXEC_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "POLYEXEC_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYEXEC_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYEXEC_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYEXEC_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "POLYEXEC_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYEXEC_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.ApiKey, "POLYEXEC_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "POLYEXEC_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.IdempotencyTTL, "POLYEXEC_SERVER_IDEMPOTENCY_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYEXEC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYEXEC_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYEXEC_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYEXEC_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "POLYEXEC_METRICS_ENABLED")
	setStr(&cfg.Metrics.Namespace, "POLYEXEC_METRICS_NAMESPACE")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYEXEC_MODE")
	setStr(&cfg.LogLevel, "POLYEXEC_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
