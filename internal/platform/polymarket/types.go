package polymarket

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether flags are sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexStrings unmarshals a JSON array or a JSON-encoded array inside a
// string, which is how Gamma ships outcomes and clobTokenIds.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*f = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return err
	}
	*f = arr
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderRequest is the POST /order body.
type APIOrderRequest struct {
	Order     APISignedOrder `json:"order"`
	Owner     string         `json:"owner"`
	OrderType string         `json:"orderType"`
}

// APISignedOrder is the signed order as the CLOB expects it.
type APISignedOrder struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success            bool     `json:"success"`
	ErrorMsg           string   `json:"errorMsg,omitempty"`
	Error              string   `json:"error,omitempty"`
	OrderID            string   `json:"orderID,omitempty"`
	OrderIDAlt         string   `json:"orderId,omitempty"`
	Status             string   `json:"status,omitempty"`
	TransactionsHashes []string `json:"transactionsHashes,omitempty"`
	OrderHashes        []string `json:"orderHashes,omitempty"`
	MakingAmount       string   `json:"makingAmount,omitempty"`
	TakingAmount       string   `json:"takingAmount,omitempty"`
}

// ToSubmitResult converts the API response into the exchange-neutral result.
func (r APIOrderResult) ToSubmitResult() *domain.SubmitResult {
	out := &domain.SubmitResult{
		OrderID: r.OrderID,
		Status:  r.Status,
		Error:   r.ErrorMsg,
	}
	if out.OrderID == "" {
		out.OrderID = r.OrderIDAlt
	}
	if out.Error == "" {
		out.Error = r.Error
	}
	out.TransactionHashes = append(out.TransactionHashes, r.TransactionsHashes...)
	if len(out.TransactionHashes) == 0 {
		out.TransactionHashes = append(out.TransactionHashes, r.OrderHashes...)
	}
	return out
}

// APIBookLevel is a single level of GET /book.
type APIBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// APIBook is the GET /book response.
type APIBook struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Bids      []APIBookLevel `json:"bids"`
	Asks      []APIBookLevel `json:"asks"`
	TickSize  string         `json:"tick_size"`
	NegRisk   bool           `json:"neg_risk"`
	Timestamp string         `json:"timestamp"`
}

// ToSnapshot converts the book into best-first decimal levels. Levels that
// fail to parse or carry no size are skipped.
func (b APIBook) ToSnapshot() domain.OrderbookSnapshot {
	snap := domain.OrderbookSnapshot{
		AssetID: b.AssetID,
		NegRisk: b.NegRisk,
		Bids:    toLevels(b.Bids),
		Asks:    toLevels(b.Asks),
	}
	if ts, err := decimal.NewFromString(b.TickSize); err == nil {
		snap.TickSize = ts
	}
	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price.GreaterThan(snap.Bids[j].Price) })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price.LessThan(snap.Asks[j].Price) })
	return snap
}

func toLevels(in []APIBookLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, l := range in {
		p, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		s, err := decimal.NewFromString(l.Size)
		if err != nil || !s.IsPositive() {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// APICredentials is the body returned by the key derivation endpoints.
type APICredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// APIBalanceAllowance is the GET /balance-allowance response. Amounts are
// integer strings in 6-decimal collateral units.
type APIBalanceAllowance struct {
	Balance    string            `json:"balance"`
	Allowance  string            `json:"allowance"`
	Allowances map[string]string `json:"allowances"`
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID           string      `json:"id"`
	Question     string      `json:"question"`
	ConditionID  string      `json:"conditionId"`
	Slug         string      `json:"slug"`
	Active       flexBool    `json:"active"`
	Closed       flexBool    `json:"closed"`
	NegRisk      flexBool    `json:"negRisk"`
	Outcomes     flexStrings `json:"outcomes"`
	ClobTokenIDs flexStrings `json:"clobTokenIds"`
	Tokens       []Token     `json:"tokens"`
}

// Token represents a token entry inside a market response.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market. Explicit
// tokens win over the parallel outcomes/clobTokenIds arrays.
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:          m.ID,
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Slug:        m.Slug,
		NegRisk:     bool(m.NegRisk),
		Active:      bool(m.Active),
		Closed:      bool(m.Closed),
	}
	if len(m.Tokens) > 0 {
		for _, t := range m.Tokens {
			dm.Outcomes = append(dm.Outcomes, domain.Outcome{Label: t.Outcome, TokenID: t.TokenID})
		}
		return dm
	}
	for i, label := range m.Outcomes {
		if i >= len(m.ClobTokenIDs) {
			break
		}
		dm.Outcomes = append(dm.Outcomes, domain.Outcome{Label: label, TokenID: m.ClobTokenIDs[i]})
	}
	return dm
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APIPosition is one entry of GET /positions.
type APIPosition struct {
	Asset       string          `json:"asset"`
	ConditionID string          `json:"conditionId"`
	Outcome     string          `json:"outcome"`
	Size        decimal.Decimal `json:"size"`
	AvgPrice    decimal.Decimal `json:"avgPrice"`
}

// ToHolding converts a Data API position.
func (p APIPosition) ToHolding() domain.Holding {
	return domain.Holding{
		TokenID:     p.Asset,
		ConditionID: p.ConditionID,
		Outcome:     p.Outcome,
		Size:        p.Size,
		AvgPrice:    p.AvgPrice,
	}
}
