package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// HoldingsSource lists a wallet's outcome-token holdings.
type HoldingsSource interface {
	GetPositions(ctx context.Context, wallet string) ([]domain.Holding, error)
}

// PositionService turns relative sell sizes ("all", "half") into absolute
// unit counts from the wallet's current holdings.
type PositionService struct {
	holdings HoldingsSource
	minSize  decimal.Decimal
	logger   *slog.Logger
}

// NewPositionService creates a PositionService. Resolved sizes below minSize
// are rejected.
func NewPositionService(holdings HoldingsSource, minSize decimal.Decimal, logger *slog.Logger) *PositionService {
	return &PositionService{
		holdings: holdings,
		minSize:  minSize,
		logger:   logger.With(slog.String("component", "position_service")),
	}
}

// Holding returns the wallet's balance of tokenID, zero when none is held.
func (s *PositionService) Holding(ctx context.Context, tokenID, wallet string) (decimal.Decimal, error) {
	holdings, err := s.holdings.GetPositions(ctx, wallet)
	if err != nil {
		return decimal.Zero, fmt.Errorf("position_service: get positions: %w", err)
	}
	held := decimal.Zero
	for _, h := range holdings {
		if h.TokenID == tokenID {
			held = held.Add(h.Size)
		}
	}
	return held, nil
}

// ResolveSize returns the number of units to sell for hint. HALF is rounded
// down to two decimals. Results under the minimum size return a
// *domain.NoPositionError.
func (s *PositionService) ResolveSize(ctx context.Context, tokenID, wallet string, hint domain.SizeHint) (decimal.Decimal, error) {
	held, err := s.Holding(ctx, tokenID, wallet)
	if err != nil {
		return decimal.Zero, err
	}

	size := held
	if hint == domain.SizeHalf {
		size = held.Div(decimal.NewFromInt(2)).RoundDown(2)
	}

	if size.LessThan(s.minSize) {
		s.logger.InfoContext(ctx, "position_service: holding below minimum",
			slog.String("token_id", tokenID),
			slog.String("held", held.String()),
			slog.String("size", size.String()),
		)
		return decimal.Zero, &domain.NoPositionError{TokenID: tokenID, Held: held, Minimum: s.minSize}
	}
	return size, nil
}
