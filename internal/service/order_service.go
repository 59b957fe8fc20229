package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyexec/internal/crypto"
	"github.com/alanyoungcy/polyexec/internal/domain"
	"github.com/alanyoungcy/polyexec/internal/executor"
	"github.com/alanyoungcy/polyexec/internal/pricing"
)

// Signer abstracts EIP-712 order signing so the service layer never depends
// on concrete key-management implementations.
type Signer interface {
	SignOrder(payload crypto.OrderPayload, negRisk bool) (string, error)
	Address() common.Address
}

// MarketParams reads per-token exchange parameters.
type MarketParams interface {
	GetNegRisk(ctx context.Context, tokenID string) (bool, error)
	GetTickSize(ctx context.Context, tokenID string) (decimal.Decimal, error)
}

// APIKeySource exposes the API key that owns submitted orders.
type APIKeySource interface {
	APIKey() string
}

const zeroAddress = "0x0000000000000000000000000000000000000000"

const amountScale = int32(6)

type tokenParams struct {
	negRisk bool
	tick    decimal.Decimal
}

// OrderService builds and signs CLOB orders. It implements executor.Builder.
type OrderService struct {
	signer        Signer
	params        MarketParams
	keys          APIKeySource
	funder        string
	signatureType int
	logger        *slog.Logger

	mu    sync.Mutex
	cache map[string]tokenParams
}

// NewOrderService creates an OrderService. funder is the proxy or Safe
// address that holds the funds; it is ignored for signatureType 0 (EOA).
func NewOrderService(
	signer Signer,
	params MarketParams,
	keys APIKeySource,
	funder string,
	signatureType int,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		signer:        signer,
		params:        params,
		keys:          keys,
		funder:        funder,
		signatureType: signatureType,
		logger:        logger.With(slog.String("component", "order_service")),
		cache:         make(map[string]tokenParams),
	}
}

// Build signs order. Pricing already places the price on the tick grid; a
// price off the grid (the tick changed in between) is moved the same way,
// never past the order's limit. Amounts are scaled to six-decimal units.
func (s *OrderService) Build(ctx context.Context, order domain.FinalizedOrder) (domain.SignedOrder, error) {
	tp := s.tokenParams(ctx, order)

	price := pricing.ToTick(order.Price, tp.tick, order.Side)
	if !price.Equal(order.Price) {
		s.logger.WarnContext(ctx, "order_service: price moved onto tick",
			slog.String("token_id", order.TokenID),
			slog.String("price", order.Price.String()),
			slog.String("signed_price", price.String()),
			slog.String("tick", tp.tick.String()),
		)
	}
	size := order.Size.RoundDown(pricing.SizeDecimals)
	if !price.IsPositive() || !size.IsPositive() {
		return domain.SignedOrder{}, fmt.Errorf("order_service: price %s size %s: %w", price, size, domain.ErrInvalidOrder)
	}
	usdc := price.Mul(size).RoundDown(4)

	side := 0
	maker, taker := usdc, size
	if order.Side == domain.SideSell {
		side = 1
		maker, taker = size, usdc
	}

	signerAddr := s.signer.Address().Hex()
	makerAddr := signerAddr
	if s.signatureType != 0 && s.funder != "" {
		makerAddr = common.HexToAddress(s.funder).Hex()
	}

	payload := crypto.OrderPayload{
		Salt:          strconv.FormatInt(rand.Int64N(1<<53), 10),
		Maker:         makerAddr,
		Signer:        signerAddr,
		Taker:         zeroAddress,
		TokenID:       order.TokenID,
		MakerAmount:   toUnits(maker),
		TakerAmount:   toUnits(taker),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    strconv.Itoa(order.FeeRateBps),
		Side:          side,
		SignatureType: s.signatureType,
	}

	signature, err := s.signer.SignOrder(payload, tp.negRisk)
	if err != nil {
		return domain.SignedOrder{}, fmt.Errorf("order_service: sign order: %w: %w", domain.ErrSigningFailed, err)
	}

	s.logger.DebugContext(ctx, "order_service: order signed",
		slog.String("token_id", order.TokenID),
		slog.String("side", string(order.Side)),
		slog.String("maker_amount", payload.MakerAmount),
		slog.String("taker_amount", payload.TakerAmount),
		slog.Bool("neg_risk", tp.negRisk),
	)

	return domain.SignedOrder{
		Salt:          payload.Salt,
		Maker:         payload.Maker,
		Signer:        payload.Signer,
		Taker:         payload.Taker,
		TokenID:       payload.TokenID,
		MakerAmount:   payload.MakerAmount,
		TakerAmount:   payload.TakerAmount,
		Expiration:    payload.Expiration,
		Nonce:         payload.Nonce,
		FeeRateBps:    payload.FeeRateBps,
		Side:          order.Side,
		SignatureType: payload.SignatureType,
		Signature:     signature,
		Owner:         s.keys.APIKey(),
	}, nil
}

// tokenParams prefers what the pricing stage read from the book and falls
// back to cached exchange lookups. The tick pricing quantized to wins over a
// looked-up one.
func (s *OrderService) tokenParams(ctx context.Context, order domain.FinalizedOrder) tokenParams {
	if order.FromBook && order.TickSize.IsPositive() {
		return tokenParams{negRisk: order.NegRisk, tick: order.TickSize}
	}
	tp := s.lookupParams(ctx, order.TokenID)
	if order.TickSize.IsPositive() {
		tp.tick = order.TickSize
	}
	return tp
}

func (s *OrderService) lookupParams(ctx context.Context, tokenID string) tokenParams {
	s.mu.Lock()
	tp, ok := s.cache[tokenID]
	s.mu.Unlock()
	if ok {
		return tp
	}

	tp = tokenParams{tick: pricing.DefaultTick}
	complete := true
	if negRisk, err := s.params.GetNegRisk(ctx, tokenID); err == nil {
		tp.negRisk = negRisk
	} else {
		complete = false
		s.logger.WarnContext(ctx, "order_service: neg-risk lookup failed",
			slog.String("token_id", tokenID),
			slog.String("error", err.Error()),
		)
	}
	if tick, err := s.params.GetTickSize(ctx, tokenID); err == nil {
		tp.tick = tick
	} else {
		complete = false
		s.logger.WarnContext(ctx, "order_service: tick size lookup failed",
			slog.String("token_id", tokenID),
			slog.String("error", err.Error()),
		)
	}

	if complete {
		s.mu.Lock()
		s.cache[tokenID] = tp
		s.mu.Unlock()
	}
	return tp
}

func toUnits(d decimal.Decimal) string {
	return d.Shift(amountScale).Truncate(0).String()
}

// OrderPoster posts signed orders to the exchange.
type OrderPoster interface {
	PostOrder(ctx context.Context, order domain.SignedOrder, orderType domain.OrderType) (*domain.SubmitResult, error)
}

// GatewayConfig bounds the submission rate per wallet.
type GatewayConfig struct {
	Limit  int
	Window time.Duration
}

// ExchangeGateway submits orders through the CLOB client under a shared
// per-wallet rate limit. It implements executor.Gateway.
type ExchangeGateway struct {
	poster  OrderPoster
	limiter domain.RateLimiter
	wallet  string
	cfg     GatewayConfig
	logger  *slog.Logger
}

// NewExchangeGateway creates an ExchangeGateway. limiter may be nil.
func NewExchangeGateway(poster OrderPoster, limiter domain.RateLimiter, wallet string, cfg GatewayConfig, logger *slog.Logger) *ExchangeGateway {
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	return &ExchangeGateway{
		poster:  poster,
		limiter: limiter,
		wallet:  wallet,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "gateway")),
	}
}

// Submit implements executor.Gateway. A limiter outage does not block
// submission.
func (g *ExchangeGateway) Submit(ctx context.Context, order domain.SignedOrder, orderType domain.OrderType) (*domain.SubmitResult, error) {
	if g.limiter != nil {
		allowed, err := g.limiter.Allow(ctx, "orders:"+g.wallet, g.cfg.Limit, g.cfg.Window)
		switch {
		case err != nil:
			g.logger.WarnContext(ctx, "gateway: rate limiter unavailable",
				slog.String("error", err.Error()),
			)
		case !allowed:
			return nil, fmt.Errorf("gateway: submit: %w", domain.ErrRateLimited)
		}
	}
	return g.poster.PostOrder(ctx, order, orderType)
}

// Compile-time interface checks.
var (
	_ executor.Builder = (*OrderService)(nil)
	_ executor.Gateway = (*ExchangeGateway)(nil)
)
