package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// MarketDirectory looks markets up by condition id, slug or free text.
type MarketDirectory interface {
	GetMarketByConditionID(ctx context.Context, conditionID string) (domain.Market, error)
	GetMarketBySlug(ctx context.Context, slug string) (domain.Market, error)
	SearchMarkets(ctx context.Context, query string, limit int) ([]domain.Market, error)
}

// minTokenIDLen is the shortest candidate accepted as a token id as-is.
const minTokenIDLen = 5

// searchLimit bounds free-text market searches.
const searchLimit = 20

var conditionIDPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// IsConditionID reports whether s is a 0x-prefixed 32-byte condition id.
func IsConditionID(s string) bool { return conditionIDPattern.MatchString(s) }

// NeedsResolution reports whether candidateID must be turned into a token id
// through the market directory before pricing.
func NeedsResolution(candidateID string) bool {
	return len(candidateID) < minTokenIDLen || IsConditionID(candidateID)
}

// MarketService resolves market names and condition ids to outcome token ids.
type MarketService struct {
	directory MarketDirectory
	cache     domain.MarketCache
	memory    domain.OutcomeMemory
	logger    *slog.Logger
}

// NewMarketService creates a MarketService. cache and memory may be nil.
func NewMarketService(
	directory MarketDirectory,
	cache domain.MarketCache,
	memory domain.OutcomeMemory,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		directory: directory,
		cache:     cache,
		memory:    memory,
		logger:    logger.With(slog.String("component", "market_service")),
	}
}

// ResolveToken returns the token id for the requested outcome. When
// candidateID is already a usable token id it is returned unchanged.
// Otherwise the market is found by condition id (candidateID) or by name
// (marketHint, falling back to a short candidateID) and the outcome is picked
// from outcomeHint, defaulting to YES for buys and the user's last outcome
// for sells.
func (s *MarketService) ResolveToken(
	ctx context.Context,
	candidateID, outcomeHint, marketHint string,
	side domain.Side,
	userID string,
) (string, error) {
	if !NeedsResolution(candidateID) {
		return candidateID, nil
	}

	var (
		market domain.Market
		err    error
	)
	switch {
	case IsConditionID(candidateID):
		market, err = s.byConditionID(ctx, candidateID)
	default:
		name := strings.TrimSpace(marketHint)
		if name == "" {
			name = strings.TrimSpace(candidateID)
		}
		if name == "" {
			return "", &domain.MissingFieldsError{Fields: []string{"token"}}
		}
		market, err = s.byName(ctx, name)
	}
	if err != nil {
		return "", err
	}

	label := s.outcomeLabel(ctx, outcomeHint, side, userID)
	outcome, ok := market.Outcome(label)
	if !ok {
		return "", &domain.OutcomeNotFoundError{
			Market:    market.Question,
			Requested: label,
			Valid:     market.OutcomeLabels(),
		}
	}

	if s.memory != nil {
		if err := s.memory.RememberOutcome(ctx, userID, strings.ToUpper(outcome.Label)); err != nil {
			s.logger.WarnContext(ctx, "market_service: remember outcome failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "market_service: resolved token",
		slog.String("condition_id", market.ConditionID),
		slog.String("question", market.Question),
		slog.String("outcome", outcome.Label),
		slog.String("token_id", outcome.TokenID),
	)
	return outcome.TokenID, nil
}

func (s *MarketService) outcomeLabel(ctx context.Context, hint string, side domain.Side, userID string) string {
	if hint = strings.TrimSpace(hint); hint != "" {
		return strings.ToUpper(hint)
	}
	if side == domain.SideSell && s.memory != nil {
		last, err := s.memory.LastOutcome(ctx, userID)
		if err == nil && last != "" {
			return last
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "market_service: last outcome lookup failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	return "YES"
}

func (s *MarketService) byConditionID(ctx context.Context, conditionID string) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, conditionID); err == nil {
			return m, nil
		}
	}

	m, err := s.directory.GetMarketByConditionID(ctx, conditionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Market{}, &domain.MarketNotFoundError{Query: conditionID}
		}
		return domain.Market{}, fmt.Errorf("market_service: get market %s: %w", conditionID, err)
	}
	s.store(ctx, "", m)
	return m, nil
}

// byName tries the cache, an exact slug, then a free-text search scored by
// word overlap with the market question.
func (s *MarketService) byName(ctx context.Context, name string) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.GetByName(ctx, name); err == nil {
			return m, nil
		}
	}

	if slug := Slugify(name); slug != "" {
		m, err := s.directory.GetMarketBySlug(ctx, slug)
		switch {
		case err == nil:
			s.store(ctx, name, m)
			return m, nil
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.WarnContext(ctx, "market_service: slug lookup failed",
				slog.String("slug", slug),
				slog.String("error", err.Error()),
			)
		}
	}

	candidates, err := s.directory.SearchMarkets(ctx, name, searchLimit)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: search %q: %w", name, err)
	}
	m, ok := BestMatch(name, candidates)
	if !ok {
		return domain.Market{}, &domain.MarketNotFoundError{Query: name}
	}
	s.store(ctx, name, m)
	return m, nil
}

func (s *MarketService) store(ctx context.Context, name string, m domain.Market) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.String("condition_id", m.ConditionID),
			slog.String("error", err.Error()),
		)
		return
	}
	if name == "" {
		return
	}
	if err := s.cache.SetName(ctx, name, m.ConditionID); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache set name failed",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
}

// Slugify lowercases name and joins its alphanumeric runs with dashes, the
// way market URL slugs are formed.
func Slugify(name string) string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, "-")
}

// BestMatch picks the candidate whose question shares the most words with
// query. Open markets win over closed ones; ties keep directory order. It
// reports false when no candidate shares a word.
func BestMatch(query string, candidates []domain.Market) (domain.Market, bool) {
	terms := strings.Fields(strings.ToLower(query))
	var (
		best      domain.Market
		bestScore int
		found     bool
	)
	for _, m := range candidates {
		if len(m.Outcomes) == 0 {
			continue
		}
		q := strings.ToLower(m.Question + " " + m.Slug)
		score := 0
		for _, t := range terms {
			if strings.Contains(q, t) {
				score += 2
			}
		}
		if score == 0 {
			continue
		}
		if !m.Closed {
			score++
		}
		if !found || score > bestScore {
			best, bestScore, found = m, score, true
		}
	}
	return best, found
}
