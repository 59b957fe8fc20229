package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// Settings keys holding the derived CLOB API credentials.
const (
	SettingAPIKey        = "clob_api_key"
	SettingAPISecret     = "clob_api_secret"
	SettingAPIPassphrase = "clob_api_passphrase"
)

// CredentialDeriver obtains API credentials through wallet-signed L1 auth.
type CredentialDeriver interface {
	DeriveAPIKey(ctx context.Context) (domain.Credentials, error)
}

// CredentialSink receives credentials for authenticated exchange calls.
type CredentialSink interface {
	SetCredentials(creds domain.Credentials)
	HasCredentials() bool
}

// GuardConfig tunes the credential derivation lock.
type GuardConfig struct {
	LockTTL      time.Duration
	PollInterval time.Duration
	PollAttempts int
}

// DefaultGuardConfig waits up to two seconds for a concurrent derivation.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		LockTTL:      30 * time.Second,
		PollInterval: 200 * time.Millisecond,
		PollAttempts: 10,
	}
}

// GuardService runs the pre-submission checks: position limit, API
// credentials and trading balance, in that order.
type GuardService struct {
	oracle   BalanceOracle
	settings domain.SettingsStore
	deriver  CredentialDeriver
	sink     CredentialSink
	locks    domain.LockManager
	wallet   string
	cfg      GuardConfig
	logger   *slog.Logger
}

// NewGuardService creates a GuardService. locks may be nil, in which case
// derivations are not serialized.
func NewGuardService(
	oracle BalanceOracle,
	settings domain.SettingsStore,
	deriver CredentialDeriver,
	sink CredentialSink,
	locks domain.LockManager,
	wallet string,
	cfg GuardConfig,
	logger *slog.Logger,
) *GuardService {
	def := DefaultGuardConfig()
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = def.PollAttempts
	}
	return &GuardService{
		oracle:   oracle,
		settings: settings,
		deriver:  deriver,
		sink:     sink,
		locks:    locks,
		wallet:   wallet,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "guard_service")),
	}
}

// Authorize returns nil when order may be submitted.
func (s *GuardService) Authorize(ctx context.Context, order domain.FinalizedOrder) error {
	if order.Side == domain.SideBuy {
		limit := s.oracle.MaxPositionSize()
		if order.Notional.GreaterThan(limit) {
			return &domain.PositionLimitError{
				Notional: order.Notional,
				Max:      limit,
				Excess:   order.Notional.Sub(limit),
			}
		}
	}

	if err := s.EnsureCredentials(ctx); err != nil {
		return err
	}

	if order.Side != domain.SideBuy {
		return nil
	}
	check, err := s.oracle.CheckTradingBalance(ctx, order.Notional)
	if err != nil {
		return fmt.Errorf("guard_service: %w", err)
	}
	if !check.Sufficient {
		s.logger.InfoContext(ctx, "guard_service: insufficient balance",
			slog.String("available", check.Available.String()),
			slog.String("required", check.Required.String()),
		)
		return insufficientBalance(check)
	}
	return nil
}

// EnsureCredentials makes sure the exchange client holds complete API
// credentials, loading them from the settings store or deriving and storing
// them once.
func (s *GuardService) EnsureCredentials(ctx context.Context) error {
	if s.sink.HasCredentials() {
		return nil
	}

	creds, err := s.loadCredentials(ctx)
	if err != nil {
		return fmt.Errorf("guard_service: %w", err)
	}
	if creds.Complete() {
		s.sink.SetCredentials(creds)
		return nil
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "credentials:"+s.wallet, s.cfg.LockTTL)
		switch {
		case err == nil:
			defer unlock()
		case errors.Is(err, domain.ErrLockHeld):
			if creds, ok := s.awaitCredentials(ctx); ok {
				s.sink.SetCredentials(creds)
				return nil
			}
			s.logger.WarnContext(ctx, "guard_service: concurrent derivation did not finish, deriving anyway",
				slog.String("wallet", s.wallet),
			)
		default:
			s.logger.WarnContext(ctx, "guard_service: derivation lock unavailable",
				slog.String("error", err.Error()),
			)
		}
	}

	creds, err = s.deriver.DeriveAPIKey(ctx)
	if err != nil {
		return &domain.CredentialError{Err: err}
	}
	if err := s.settings.SetAll(ctx, map[string]string{
		SettingAPIKey:        creds.Key,
		SettingAPISecret:     creds.Secret,
		SettingAPIPassphrase: creds.Passphrase,
	}); err != nil {
		s.logger.WarnContext(ctx, "guard_service: storing derived credentials failed",
			slog.String("error", err.Error()),
		)
	}
	s.sink.SetCredentials(creds)

	s.logger.InfoContext(ctx, "guard_service: derived api credentials",
		slog.String("wallet", s.wallet),
	)
	return nil
}

func (s *GuardService) loadCredentials(ctx context.Context) (domain.Credentials, error) {
	var creds domain.Credentials
	fields := []struct {
		key string
		dst *string
	}{
		{SettingAPIKey, &creds.Key},
		{SettingAPISecret, &creds.Secret},
		{SettingAPIPassphrase, &creds.Passphrase},
	}
	for _, f := range fields {
		v, err := s.settings.Get(ctx, f.key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return domain.Credentials{}, fmt.Errorf("load %s: %w", f.key, err)
		}
		*f.dst = v
	}
	return creds, nil
}

// awaitCredentials polls the store while another request derives.
func (s *GuardService) awaitCredentials(ctx context.Context) (domain.Credentials, bool) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for range s.cfg.PollAttempts {
		select {
		case <-ctx.Done():
			return domain.Credentials{}, false
		case <-ticker.C:
		}
		creds, err := s.loadCredentials(ctx)
		if err == nil && creds.Complete() {
			return creds, true
		}
	}
	return domain.Credentials{}, false
}
