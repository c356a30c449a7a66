package domain

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// PricePoint is a single historical price/volume observation, oldest first
// in MarketEvent.History.
type PricePoint struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume,omitempty"`
}

// PortfolioPosition describes one existing holding used for correlation checks.
type PortfolioPosition struct {
	Symbol string  `json:"symbol"`
	Sector string  `json:"sector,omitempty"`
	Weight float64 `json:"weight"`
}

// Portfolio is the caller-supplied snapshot of current holdings.
type Portfolio struct {
	TotalValue float64             `json:"total_value"`
	Positions  []PortfolioPosition `json:"positions,omitempty"`
}

// MarketEvent is one inbound market observation. Symbol and Price are
// required; everything else is optional. Context carries the open set of
// enrichment fields (volatility, market_trend, bid/ask, sentiment inputs)
// that upstream producers may or may not include.
type MarketEvent struct {
	Symbol    string
	Price     float64
	Volume    float64
	History   []PricePoint
	Context   map[string]any
	Portfolio *Portfolio
	Timestamp time.Time
}

type rawMarketEvent struct {
	Symbol     string           `json:"symbol"`
	Price      float64          `json:"price"`
	Volume     float64          `json:"volume"`
	Historical []map[string]any `json:"historical_data"`
	Context    map[string]any   `json:"context"`
	Portfolio  *Portfolio       `json:"portfolio_data"`
	Timestamp  time.Time        `json:"timestamp"`
}

// ParseMarketEvent decodes and validates an inbound queue message.
// Validation happens here, at the ingress boundary, so the analyzers can
// assume a well-formed event.
func ParseMarketEvent(payload []byte) (MarketEvent, error) {
	var raw rawMarketEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return MarketEvent{}, errors.Wrap(err, "decode market event")
	}

	if raw.Symbol == "" {
		return MarketEvent{}, errors.New("market event missing symbol")
	}
	if raw.Price <= 0 {
		return MarketEvent{}, errors.Errorf("market event for %s has non-positive price %f", raw.Symbol, raw.Price)
	}
	if raw.Volume < 0 {
		return MarketEvent{}, errors.Errorf("market event for %s has negative volume %f", raw.Symbol, raw.Volume)
	}

	event := MarketEvent{
		Symbol:    raw.Symbol,
		Price:     raw.Price,
		Volume:    raw.Volume,
		Context:   raw.Context,
		Portfolio: raw.Portfolio,
		Timestamp: raw.Timestamp,
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	for _, point := range raw.Historical {
		price, ok := historicalPrice(point)
		if !ok {
			continue
		}
		event.History = append(event.History, PricePoint{
			Price:  price,
			Volume: floatField(point, "volume"),
		})
	}

	return event, nil
}

// historicalPrice accepts the field aliases different producers use.
func historicalPrice(point map[string]any) (float64, bool) {
	for _, key := range []string{"price", "close", "last"} {
		if v, ok := point[key]; ok {
			if f, ok := toFloat(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func floatField(point map[string]any, key string) float64 {
	if v, ok := point[key]; ok {
		if f, ok := toFloat(v); ok {
			return f
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// ContextFloat reads a numeric field from the open context map.
func (e MarketEvent) ContextFloat(key string) (float64, bool) {
	if e.Context == nil {
		return 0, false
	}
	v, ok := e.Context[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// ContextString reads a string field from the open context map.
func (e MarketEvent) ContextString(key string) (string, bool) {
	if e.Context == nil {
		return "", false
	}
	s, ok := e.Context[key].(string)
	return s, ok
}

// Snapshot flattens the event into the generic map shape stored as an
// experience situation and rendered into prompts.
func (e MarketEvent) Snapshot() map[string]any {
	snapshot := map[string]any{
		"symbol":    e.Symbol,
		"price":     e.Price,
		"volume":    e.Volume,
		"timestamp": e.Timestamp.Format(time.RFC3339),
	}
	for key, value := range e.Context {
		if _, taken := snapshot[key]; !taken {
			snapshot[key] = value
		}
	}
	return snapshot
}
