// Package intent resolves free-text trading instructions into order intents.
// A structured extractor is tried first; an ordered list of pattern matchers
// fills whatever it could not provide.
package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// minTokenLen is the shortest candidate accepted as a token id. Shorter
// candidates are treated as market names.
const minTokenLen = 5

var one = decimal.NewFromInt(1)

// parsed is the field set shared by the extractor and matcher paths.
type parsed struct {
	tokenID        string
	market         string
	outcome        string
	side           domain.Side
	kind           domain.OrderKind
	price          decimal.NullDecimal
	priceInDollars bool
	size           decimal.NullDecimal
	sizeHint       domain.SizeHint
}

func (p *parsed) setPrice(raw string, dollars bool) bool {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return false
	}
	p.price = decimal.NewNullDecimal(v)
	p.priceInDollars = dollars
	return true
}

// fill copies fields from o that p does not have yet.
func (p *parsed) fill(o parsed) {
	if p.tokenID == "" {
		p.tokenID = o.tokenID
	}
	if p.market == "" {
		p.market = o.market
	}
	if p.outcome == "" {
		p.outcome = o.outcome
	}
	if p.side == "" {
		p.side = o.side
	}
	if p.kind == "" {
		p.kind = o.kind
	}
	if !p.price.Valid && o.price.Valid {
		p.price = o.price
		p.priceInDollars = o.priceInDollars
	}
	if !p.size.Valid && p.sizeHint == "" {
		p.size = o.size
		p.sizeHint = o.sizeHint
	}
}

func (p parsed) missing() []string {
	var out []string
	if p.tokenID == "" && p.market == "" {
		out = append(out, "token")
	}
	if p.side == "" {
		out = append(out, "side")
	}
	if p.side == domain.SideBuy && !p.size.Valid {
		out = append(out, "size")
	}
	return out
}

// fromOutput validates an extractor result. Invalid values are dropped so the
// matchers can supply them instead.
func fromOutput(o ExtractorOutput) parsed {
	var p parsed
	p.tokenID = strings.TrimSpace(o.TokenID)
	p.market = strings.TrimSpace(o.Market)
	p.outcome = strings.ToUpper(strings.TrimSpace(o.Outcome))
	if s, ok := parseSide(o.Side); ok {
		p.side = s
	}
	if k, ok := parseKind(o.OrderType); ok {
		p.kind = k
	}
	if o.Price != nil && o.Price.Raw != "" {
		raw := o.Price.Raw
		dollars := strings.HasPrefix(raw, "$")
		raw = strings.TrimSpace(strings.TrimLeft(raw, "$"))
		raw = strings.TrimRight(raw, "%¢c ")
		p.setPrice(raw, dollars)
	}
	if o.Size != nil && o.Size.Raw != "" {
		raw := strings.ToLower(o.Size.Raw)
		switch raw {
		case "all", "max", "everything", "half":
			p.sizeHint = parseRelative(raw)
		default:
			raw = strings.TrimSpace(strings.TrimRight(raw, "abcdefghijklmnopqrstuvwxyz "))
			if v, err := decimal.NewFromString(raw); err == nil && v.IsPositive() {
				p.size = decimal.NewNullDecimal(v)
			}
		}
	}
	return p
}

var dollarAmount = regexp.MustCompile(`\$\s*(\d+(?:\.\d+)?|\.\d+)`)

// quotedInDollars reports whether text writes price with a $ marker.
func quotedInDollars(text string, price decimal.Decimal) bool {
	for _, m := range dollarAmount.FindAllStringSubmatch(text, -1) {
		if v, err := decimal.NewFromString(m[1]); err == nil && v.Equal(price) {
			return true
		}
	}
	return false
}

// Resolver produces order intents from text.
type Resolver struct {
	extractor  Extractor
	timeout    time.Duration
	feeRateBps int
	logger     *slog.Logger
}

// NewResolver creates a Resolver. extractor may be nil, in which case only
// the pattern matchers run.
func NewResolver(extractor Extractor, timeout time.Duration, feeRateBps int, logger *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Resolver{
		extractor:  extractor,
		timeout:    timeout,
		feeRateBps: feeRateBps,
		logger:     logger.With(slog.String("component", "intent")),
	}
}

// Resolve builds an OrderIntent for req. Fields present in req.Extracted are
// trusted first; otherwise the extractor is consulted within the resolver
// timeout. The matchers fill any remaining gaps.
func (r *Resolver) Resolve(ctx context.Context, req domain.TradeRequest) (domain.OrderIntent, error) {
	var p parsed
	if out, ok := r.extract(ctx, req); ok {
		p = fromOutput(out)
	}
	if len(p.missing()) > 0 || !p.price.Valid || p.kind == "" {
		p.fill(matchText(req.Text))
	}

	if missing := p.missing(); len(missing) > 0 {
		return domain.OrderIntent{}, &domain.MissingFieldsError{Fields: missing}
	}

	in := domain.OrderIntent{
		UserID:     req.UserID,
		Outcome:    p.outcome,
		Side:       p.side,
		Kind:       p.kind,
		FeeRateBps: r.feeRateBps,
	}

	id := p.tokenID
	if id != "" && len(id) < minTokenLen {
		in.MarketHint = id
		id = ""
	}
	in.TokenID = id
	if in.MarketHint == "" {
		in.MarketHint = p.market
	}

	if p.price.Valid {
		in.Price = p.price.Decimal
		in.PriceInDollars = p.priceInDollars || quotedInDollars(req.Text, in.Price)
		if in.PriceInDollars && (in.Price.GreaterThan(one) || !in.Price.IsPositive()) {
			return domain.OrderIntent{}, fmt.Errorf("intent: price $%s: %w", in.Price, domain.ErrPriceOutOfRange)
		}
	} else {
		in.PriceFromBook = true
	}
	if in.Kind == "" {
		in.Kind = domain.OrderKindLimit
		if in.PriceFromBook {
			in.Kind = domain.OrderKindMarket
		}
	}

	switch {
	case p.size.Valid:
		in.Size = p.size.Decimal
	case p.sizeHint != "":
		in.SizeHint = p.sizeHint
	default:
		in.SizeHint = domain.SizeAll
	}

	r.logger.DebugContext(ctx, "intent: resolved",
		slog.String("side", string(in.Side)),
		slog.String("token_id", in.TokenID),
		slog.String("market", in.MarketHint),
		slog.String("kind", string(in.Kind)),
		slog.Bool("price_from_book", in.PriceFromBook),
	)
	return in, nil
}

func (r *Resolver) extract(ctx context.Context, req domain.TradeRequest) (ExtractorOutput, bool) {
	if req.Extracted != nil {
		out, err := DecodeOutput(req.Extracted)
		if err != nil {
			r.logger.WarnContext(ctx, "intent: rejecting upstream fields", slog.String("error", err.Error()))
			return ExtractorOutput{}, false
		}
		return out, out.Error == ""
	}
	if r.extractor == nil {
		return ExtractorOutput{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	out, err := r.extractor.Extract(ctx, req.Text)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.DeadlineExceeded) {
			level = slog.LevelInfo
		}
		r.logger.Log(ctx, level, "intent: extractor failed, using matchers",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		return ExtractorOutput{}, false
	}
	if out.Error != "" {
		r.logger.InfoContext(ctx, "intent: extractor declined", slog.String("reason", out.Error))
		return ExtractorOutput{}, false
	}
	return out, true
}
