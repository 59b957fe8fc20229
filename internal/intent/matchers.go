package intent

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

type field int

const (
	fieldToken field = iota
	fieldMarket
	fieldOutcome
	fieldSide
	fieldKind
	fieldPrice
	fieldSize
)

// matcher fills one field from one regexp match. apply returns false to
// reject a match, in which case the next match (or matcher) is tried.
type matcher struct {
	field field
	name  string
	re    *regexp.Regexp
	apply func(sub []string, p *parsed) bool
}

// matchers run in order; the first accepted match for a field wins.
var matchers = []matcher{
	{fieldToken, "condition_id", regexp.MustCompile(`(?i)\b(0x[0-9a-f]{64})\b`), func(s []string, p *parsed) bool {
		p.tokenID = s[1]
		return true
	}},
	{fieldToken, "token_keyword", regexp.MustCompile(`(?i)\btoken(?:\s+id)?[\s:#]+(0x[0-9a-f]+|[0-9a-z]+)\b`), func(s []string, p *parsed) bool {
		if len(s[1]) < minTokenLen || !strings.ContainsAny(s[1], "0123456789") {
			return false
		}
		p.tokenID = s[1]
		return true
	}},
	{fieldToken, "long_digits", regexp.MustCompile(`(?i)\b(\d{5,})\b(\s*(?:shares?|tokens?|units?|contracts?|%|cents?|c)\b)?`), func(s []string, p *parsed) bool {
		if s[2] != "" {
			return false
		}
		p.tokenID = s[1]
		return true
	}},
	{fieldToken, "hex_like", regexp.MustCompile(`(?i)\b(0x[0-9a-f]{6,}|[0-9a-f]{6,})\b`), func(s []string, p *parsed) bool {
		id := s[1]
		if !strings.ContainsAny(id, "0123456789") || !strings.ContainsAny(strings.ToLower(id), "abcdefx") {
			return false
		}
		p.tokenID = id
		return true
	}},

	{fieldMarket, "quoted", regexp.MustCompile(`["“]([^"”]{3,})["”]`), func(s []string, p *parsed) bool {
		p.market = strings.TrimSpace(s[1])
		return p.market != ""
	}},

	{fieldOutcome, "yes_no", regexp.MustCompile(`(?i)\b(yes|no)\b`), func(s []string, p *parsed) bool {
		p.outcome = strings.ToUpper(s[1])
		return true
	}},

	{fieldSide, "verb", regexp.MustCompile(`(?i)\b(buy|sell|long|short)\b`), func(s []string, p *parsed) bool {
		side, ok := parseSide(s[1])
		p.side = side
		return ok
	}},

	{fieldKind, "market_order", regexp.MustCompile(`(?i)(\bmarket\s+order\b|\bat\s+(?:the\s+)?market\b|\bfok\b|\bfill[- ]or[- ]kill\b)`), func(_ []string, p *parsed) bool {
		p.kind = domain.OrderKindMarket
		return true
	}},
	{fieldKind, "limit_order", regexp.MustCompile(`(?i)(\blimit\b|\bgtc\b|\bgood[- ]til+[- ]cancel+ed\b)`), func(_ []string, p *parsed) bool {
		p.kind = domain.OrderKindLimit
		return true
	}},

	{fieldPrice, "dollar", regexp.MustCompile(`\$\s*(\d+(?:\.\d+)?|\.\d+)`), func(s []string, p *parsed) bool {
		return p.setPrice(s[1], true)
	}},
	{fieldPrice, "at_price", regexp.MustCompile(`(?i)(?:\bat|@|\bprice(?:\s+of)?)\s*(\d+(?:\.\d+)?|\.\d+)\s*(%|¢|cents?\b|c\b)?`), func(s []string, p *parsed) bool {
		return p.setPrice(s[1], false)
	}},
	{fieldPrice, "bare_decimal", regexp.MustCompile(`(?:^|\s)(0?\.\d+)\b`), func(s []string, p *parsed) bool {
		return p.setPrice(s[1], false)
	}},

	{fieldSize, "units", regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:shares?|tokens?|units?|contracts?)\b`), func(s []string, p *parsed) bool {
		v, err := decimal.NewFromString(s[1])
		if err != nil || !v.IsPositive() {
			return false
		}
		p.size = decimal.NewNullDecimal(v)
		return true
	}},
	{fieldSize, "relative", regexp.MustCompile(`(?i)\b(all|everything|entire|half)\b`), func(s []string, p *parsed) bool {
		p.sizeHint = parseRelative(s[1])
		return true
	}},
}

// matchText runs the fallback matchers over text.
func matchText(text string) parsed {
	var p parsed
	done := make(map[field]bool)
	for _, m := range matchers {
		if done[m.field] {
			continue
		}
		for _, sub := range m.re.FindAllStringSubmatch(text, -1) {
			if m.apply(sub, &p) {
				done[m.field] = true
				break
			}
		}
	}
	return p
}

func parseSide(s string) (domain.Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long", "b":
		return domain.SideBuy, true
	case "sell", "short", "s":
		return domain.SideSell, true
	}
	return "", false
}

func parseRelative(s string) domain.SizeHint {
	if strings.EqualFold(strings.TrimSpace(s), "half") {
		return domain.SizeHalf
	}
	return domain.SizeAll
}

func parseKind(s string) (domain.OrderKind, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MARKET", "FOK", "FAK":
		return domain.OrderKindMarket, true
	case "LIMIT", "GTC", "GTD":
		return domain.OrderKindLimit, true
	}
	return "", false
}
