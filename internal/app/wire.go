package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	s3blob "github.com/alanyoungcy/polyexec/internal/blob/s3"
	"github.com/alanyoungcy/polyexec/internal/cache/redis"
	"github.com/alanyoungcy/polyexec/internal/config"
	"github.com/alanyoungcy/polyexec/internal/crypto"
	"github.com/alanyoungcy/polyexec/internal/domain"
	"github.com/alanyoungcy/polyexec/internal/executor"
	"github.com/alanyoungcy/polyexec/internal/intent"
	"github.com/alanyoungcy/polyexec/internal/metrics"
	"github.com/alanyoungcy/polyexec/internal/notify"
	"github.com/alanyoungcy/polyexec/internal/platform/llm"
	"github.com/alanyoungcy/polyexec/internal/platform/polygon"
	"github.com/alanyoungcy/polyexec/internal/platform/polymarket"
	"github.com/alanyoungcy/polyexec/internal/platform/remediation"
	"github.com/alanyoungcy/polyexec/internal/pricing"
	"github.com/alanyoungcy/polyexec/internal/service"
	"github.com/alanyoungcy/polyexec/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Infrastructure; nil when not configured for the mode.
	Redis    *redis.Client
	Postgres *postgres.Client
	S3       *s3blob.Client

	// Trading identity
	Signer *crypto.Signer
	Wallet string

	// Redis-backed limiter and progress bus.
	RateLimiter domain.RateLimiter
	ProgressBus domain.ProgressBus

	Metrics  *metrics.Metrics
	Notifier *notify.Notifier
	Trades   *service.TradeService
}

// needsPostgres reports whether reports must be persisted. Serve mode always
// records executions; once mode only when a DSN is given explicitly.
func needsPostgres(cfg *config.Config) bool {
	return cfg.Mode == "serve" || cfg.Supabase.DSN != ""
}

// tradingWallet is the address that holds collateral and positions: the
// proxy or Safe for signature types 1 and 2, the signer itself for EOAs.
func tradingWallet(cfg *config.Config, signer *crypto.Signer) string {
	if cfg.Polymarket.SignatureType != 0 && cfg.Wallet.SafeAddress != "" {
		return cfg.Wallet.SafeAddress
	}
	return signer.Address().Hex()
}

// depositPolicy selects how much collateral a deposit remediation moves.
func depositPolicy(cfg *config.Config, balance executor.BalanceReader) executor.DepositPolicy {
	buffer := decimal.NewFromFloat(cfg.Remediation.DepositBufferUSD)
	if cfg.Remediation.DepositPolicy == config.DepositShortfallPlusBuffer {
		return executor.ShortfallPlusBuffer{Buffer: buffer, Balance: balance}
	}
	return executor.NotionalPlusBuffer{Buffer: buffer}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Signing key ---
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: load key: %w", err))
	}
	signer, err := crypto.NewSigner(keyHex, cfg.Polymarket.ChainID)
	if err != nil {
		return fail(fmt.Errorf("wire: signer: %w", err))
	}
	deps.Signer = signer
	deps.Wallet = tradingWallet(cfg, signer)

	// --- PostgreSQL ---
	var (
		executions domain.ExecutionStore
		audit      domain.AuditStore
	)
	if needsPostgres(cfg) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Postgres = pgClient
		executions = postgres.NewExecutionStore(pgClient.Pool())
		audit = postgres.NewAuditStore(pgClient.Pool())
	}

	// --- Redis ---
	var (
		settings domain.SettingsStore
		locks    domain.LockManager
		markets  *redis.MarketCache
	)
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Redis = redisClient
	settings = redis.NewSettingsStore(redisClient, deps.Wallet)
	locks = redis.NewLockManager(redisClient)
	markets = redis.NewMarketCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.ProgressBus = redis.NewProgressBus(redisClient)

	// --- S3 report archive ---
	var archiver *s3blob.ReportArchiver
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.S3 = s3Client
		archiver = s3blob.NewReportArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), cfg.S3.Prefix)
	}

	// --- Polygon RPC (optional, informational balance) ---
	var chain service.TokenBalanceReader
	if cfg.Chain.RPCURL != "" {
		reader, err := polygon.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.USDCAddress, cfg.Chain.Timeout.Duration)
		if err != nil {
			logger.WarnContext(ctx, "wire: polygon rpc unavailable, on-chain balance disabled",
				slog.String("error", err.Error()),
			)
		} else {
			closers = append(closers, reader.Close)
			chain = reader
		}
	}

	// --- Polymarket APIs ---
	timeout := cfg.Polymarket.HTTPTimeout.Duration
	clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, cfg.Polymarket.SignatureType, timeout)
	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost, timeout)
	data := polymarket.NewDataClient(cfg.Polymarket.DataHost, timeout)

	if c := cfg.Credentials; c.ApiKey != "" {
		creds := domain.Credentials{Key: c.ApiKey, Secret: c.ApiSecret, Passphrase: c.ApiPassphrase}
		clob.SetCredentials(creds)
		if err := settings.SetAll(ctx, map[string]string{
			service.SettingAPIKey:        creds.Key,
			service.SettingAPISecret:     creds.Secret,
			service.SettingAPIPassphrase: creds.Passphrase,
		}); err != nil {
			logger.WarnContext(ctx, "wire: store configured credentials failed",
				slog.String("error", err.Error()),
			)
		}
	}

	// --- Extractor ---
	var (
		extractor      intent.Extractor
		extractorModel string
	)
	if cfg.Extractor.BaseURL != "" {
		lc := llm.NewClient(cfg.Extractor.BaseURL, cfg.Extractor.ApiKey, cfg.Extractor.Model, cfg.Extractor.Timeout.Duration)
		extractor, extractorModel = lc, lc.Model()
	}

	// --- Remediation ---
	var (
		depositor executor.Depositor = remediation.Unavailable{}
		approver  executor.Approver  = remediation.Unavailable{}
	)
	if cfg.Remediation.BaseURL != "" {
		rc := remediation.NewClient(cfg.Remediation.BaseURL, cfg.Remediation.ApiKey, deps.Wallet, cfg.Remediation.Timeout.Duration)
		depositor, approver = rc, rc
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New(cfg.Metrics.Namespace)
	}

	// --- Services ---
	pricingCfg := pricing.Config{
		MinNotional: decimal.NewFromFloat(cfg.Trading.MinNotionalUSD),
		MinSize:     decimal.NewFromFloat(cfg.Trading.MinOrderSize),
		Slippage:    decimal.NewFromFloat(cfg.Trading.MarketSlippage),
		DepthLevels: cfg.Trading.LiquidityLevels,
	}
	oracle := service.NewClobBalanceOracle(clob, chain, deps.Wallet,
		decimal.NewFromFloat(cfg.Trading.MaxPositionUSD), logger)

	var recorder executor.Recorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}

	builder := service.NewOrderService(signer, clob, clob, cfg.Wallet.SafeAddress, cfg.Polymarket.SignatureType, logger)
	gateway := service.NewExchangeGateway(clob, deps.RateLimiter, deps.Wallet, service.GatewayConfig{}, logger)
	machine := executor.NewMachine(builder, gateway, depositor, approver,
		depositPolicy(cfg, oracle), recorder,
		executor.Config{MaxSubmissions: cfg.Remediation.MaxSubmissions, SubmitTimeout: timeout},
		logger)

	tradeDeps := service.TradeDeps{
		Resolver:   intent.NewResolver(extractor, cfg.Extractor.Timeout.Duration, cfg.Trading.DefaultFeeRateBps, logger),
		Markets:    service.NewMarketService(gamma, markets, markets, logger),
		Positions:  service.NewPositionService(data, pricingCfg.MinSize, logger),
		Pricer:     pricing.NewEngine(pricingCfg, clob, logger),
		Guard:      service.NewGuardService(oracle, settings, clob, clob, locks, deps.Wallet, service.DefaultGuardConfig(), logger),
		Machine:    machine,
		Executions: executions,
		Audit:      audit,
		Bus:        deps.ProgressBus,
	}
	if deps.Notifier.Enabled() {
		tradeDeps.Notifier = deps.Notifier
	}
	if deps.Metrics != nil {
		tradeDeps.Metrics = deps.Metrics
	}
	if archiver != nil {
		tradeDeps.Archive = archiver
		tradeDeps.Loader = archiver
	}
	deps.Trades = service.NewTradeService(tradeDeps, deps.Wallet, logger)

	logger.InfoContext(ctx, "wire: dependencies ready",
		slog.String("wallet", deps.Wallet),
		slog.String("signer", signer.Address().Hex()),
		slog.Int("signature_type", cfg.Polymarket.SignatureType),
		slog.Bool("postgres", deps.Postgres != nil),
		slog.Bool("s3", deps.S3 != nil),
		slog.Bool("extractor", extractor != nil),
		slog.String("extractor_model", extractorModel),
		slog.Bool("remediation", cfg.Remediation.BaseURL != ""),
		slog.Duration("timeout", timeout),
	)
	return deps, cleanup, nil
}
