package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Extractor turns free text into a structured, possibly partial, order.
type Extractor interface {
	Extract(ctx context.Context, text string) (ExtractorOutput, error)
}

// ExtractorOutput is the strict schema every extractor returns. All fields
// are optional; values are validated before they reach the pricing engine.
type ExtractorOutput struct {
	TokenID   string     `json:"token_id,omitempty"`
	Market    string     `json:"market,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
	Side      string     `json:"side,omitempty"`
	Price     *FlexValue `json:"price,omitempty"`
	Size      *FlexValue `json:"size,omitempty"`
	OrderType string     `json:"order_type,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// FlexValue accepts a JSON number or string and keeps its text form.
type FlexValue struct {
	Raw string
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		f.Raw = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f.Raw = strings.TrimSpace(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("intent: flex value %s: %w", b, err)
	}
	f.Raw = n.String()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f FlexValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Raw)
}

// DecodeOutput converts a loosely typed map, such as a request body field,
// into the extractor schema.
func DecodeOutput(m map[string]any) (ExtractorOutput, error) {
	var out ExtractorOutput
	b, err := json.Marshal(m)
	if err != nil {
		return out, fmt.Errorf("intent: decode extracted fields: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("intent: decode extracted fields: %w", err)
	}
	return out, nil
}
