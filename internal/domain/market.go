package domain

import "strings"

// Outcome is one tradable side of a market.
type Outcome struct {
	Label   string `json:"label"`
	TokenID string `json:"token_id"`
}

// Market represents a Polymarket prediction market.
type Market struct {
	ID          string    `json:"id"`
	ConditionID string    `json:"condition_id"`
	Question    string    `json:"question"`
	Slug        string    `json:"slug"`
	NegRisk     bool      `json:"neg_risk"`
	Active      bool      `json:"active"`
	Closed      bool      `json:"closed"`
	Outcomes    []Outcome `json:"outcomes"`
}

// Outcome finds an outcome by label, case-insensitively.
func (m Market) Outcome(label string) (Outcome, bool) {
	for _, o := range m.Outcomes {
		if strings.EqualFold(o.Label, label) {
			return o, true
		}
	}
	return Outcome{}, false
}

// OutcomeLabels lists the outcome labels in market order.
func (m Market) OutcomeLabels() []string {
	out := make([]string, 0, len(m.Outcomes))
	for _, o := range m.Outcomes {
		out = append(out, o.Label)
	}
	return out
}
