package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyexec/internal/crypto"
	"github.com/alanyoungcy/polyexec/internal/domain"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeExchange stands in for the CLOB client: credentials, balances, market
// parameters and scripted order responses.
type fakeExchange struct {
	mu sync.Mutex

	creds       domain.Credentials
	deriveCalls int
	deriveErr   error
	derived     domain.Credentials

	balance   decimal.Decimal
	allowance decimal.Decimal
	balErr    error

	negRisk bool
	tick    decimal.Decimal

	script []*domain.SubmitResult
	posts  int
	last   domain.SignedOrder
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		derived:   domain.Credentials{Key: "derived-key", Secret: "c2VjcmV0", Passphrase: "pp"},
		balance:   dec("1000"),
		allowance: dec("1000"),
		tick:      dec("0.01"),
		script:    []*domain.SubmitResult{{OrderID: "0xorder", Status: "live"}},
	}
}

func (f *fakeExchange) SetCredentials(c domain.Credentials) {
	f.mu.Lock()
	f.creds = c
	f.mu.Unlock()
}

func (f *fakeExchange) HasCredentials() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds.Key != ""
}

func (f *fakeExchange) APIKey() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds.Key
}

func (f *fakeExchange) DeriveAPIKey(context.Context) (domain.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deriveCalls++
	if f.deriveErr != nil {
		return domain.Credentials{}, f.deriveErr
	}
	return f.derived, nil
}

func (f *fakeExchange) GetBalanceAllowance(context.Context) (decimal.Decimal, decimal.Decimal, error) {
	return f.balance, f.allowance, f.balErr
}

func (f *fakeExchange) GetNegRisk(context.Context, string) (bool, error) { return f.negRisk, nil }

func (f *fakeExchange) GetTickSize(context.Context, string) (decimal.Decimal, error) {
	return f.tick, nil
}

func (f *fakeExchange) PostOrder(_ context.Context, order domain.SignedOrder, _ domain.OrderType) (*domain.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = order
	i := f.posts
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.posts++
	res := *f.script[i]
	return &res, nil
}

// fakeSigner records the last payload it signed.
type fakeSigner struct {
	last    crypto.OrderPayload
	negRisk bool
	err     error
}

func (s *fakeSigner) SignOrder(p crypto.OrderPayload, negRisk bool) (string, error) {
	s.last, s.negRisk = p, negRisk
	if s.err != nil {
		return "", s.err
	}
	return "0xsig", nil
}

func (s *fakeSigner) Address() common.Address {
	return common.HexToAddress("0x1111111111111111111111111111111111111111")
}

type memSettings struct {
	mu      sync.Mutex
	values  map[string]string
	setAlls int
}

func newMemSettings() *memSettings { return &memSettings{values: map[string]string{}} }

func (m *memSettings) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (m *memSettings) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
	return nil
}

func (m *memSettings) SetAll(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setAlls++
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

type fakeLocks struct {
	held     bool
	acquired int
	released int
}

func (l *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired++
	return func() { l.released++ }, nil
}

// memMarkets implements domain.MarketCache and domain.OutcomeMemory.
type memMarkets struct {
	byCond  map[string]domain.Market
	byName  map[string]string
	outcome map[string]string
}

func newMemMarkets() *memMarkets {
	return &memMarkets{byCond: map[string]domain.Market{}, byName: map[string]string{}, outcome: map[string]string{}}
}

func (m *memMarkets) Set(_ context.Context, market domain.Market) error {
	m.byCond[market.ConditionID] = market
	return nil
}

func (m *memMarkets) Get(_ context.Context, id string) (domain.Market, error) {
	mk, ok := m.byCond[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return mk, nil
}

func (m *memMarkets) GetByName(ctx context.Context, name string) (domain.Market, error) {
	id, ok := m.byName[name]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m.Get(ctx, id)
}

func (m *memMarkets) SetName(_ context.Context, name, id string) error {
	m.byName[name] = id
	return nil
}

func (m *memMarkets) LastOutcome(_ context.Context, user string) (string, error) {
	v, ok := m.outcome[user]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (m *memMarkets) RememberOutcome(_ context.Context, user, outcome string) error {
	m.outcome[user] = outcome
	return nil
}

type staticHoldings struct {
	holdings []domain.Holding
	err      error
	calls    int
}

func (s *staticHoldings) GetPositions(context.Context, string) ([]domain.Holding, error) {
	s.calls++
	return s.holdings, s.err
}
