package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Action is the trading verb a decision carries.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

const (
	// MinReasoningLength is the shortest reasoning accepted as substantive.
	MinReasoningLength = 10
	// thinReasoningConfidenceCap limits confidence when reasoning is missing.
	thinReasoningConfidenceCap = 0.3

	placeholderReasoning = "Insufficient reasoning provided"
)

// ProposedDecision is the decision engine's immutable output, before the
// risk adjustment stage. Zero-valued optional fields mean "not set".
type ProposedDecision struct {
	Symbol      string    `json:"symbol"`
	Action      Action    `json:"action"`
	Confidence  float64   `json:"confidence"`
	Reasoning   string    `json:"reasoning"`
	Quantity    float64   `json:"quantity,omitempty"`
	PriceTarget float64   `json:"price_target,omitempty"`
	StopLoss    float64   `json:"stop_loss,omitempty"`
	RiskScore   float64   `json:"risk_score,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// llmDecisionPayload is the JSON object the reasoning service must return.
type llmDecisionPayload struct {
	Action      string  `json:"action"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
	Quantity    float64 `json:"quantity,omitempty"`
	PriceTarget float64 `json:"price_target,omitempty"`
	StopLoss    float64 `json:"stop_loss,omitempty"`
	RiskScore   float64 `json:"risk_score,omitempty"`
}

// ParseProposedDecision decodes a reasoning-service response into a
// normalized decision. Model output frequently arrives fenced in markdown,
// so fences are stripped before decoding. Any shape mismatch is an error;
// field-level problems are corrected by Normalized instead.
func ParseProposedDecision(symbol, raw string) (ProposedDecision, error) {
	payload := sanitizeModelPayload(raw)

	if !json.Valid([]byte(payload)) {
		return ProposedDecision{}, errors.New("reasoning service returned invalid JSON")
	}

	var decoded llmDecisionPayload
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return ProposedDecision{}, errors.Wrap(err, "decode reasoning service response")
	}

	decision := ProposedDecision{
		Symbol:      symbol,
		Action:      Action(strings.ToUpper(strings.TrimSpace(decoded.Action))),
		Confidence:  decoded.Confidence,
		Reasoning:   decoded.Reasoning,
		Quantity:    decoded.Quantity,
		PriceTarget: decoded.PriceTarget,
		StopLoss:    decoded.StopLoss,
		RiskScore:   decoded.RiskScore,
		Timestamp:   time.Now().UTC(),
	}

	return decision.Normalized(), nil
}

func sanitizeModelPayload(raw string) string {
	payload := strings.TrimSpace(raw)
	payload = strings.TrimPrefix(payload, "```json")
	payload = strings.TrimPrefix(payload, "```")
	payload = strings.TrimSuffix(payload, "```")
	return strings.TrimSpace(payload)
}

// Normalized corrects field-level problems in place of rejecting the
// decision: unknown actions become HOLD, scores are clamped to [0,1] and
// thin reasoning is replaced while capping confidence.
func (d ProposedDecision) Normalized() ProposedDecision {
	switch d.Action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		d.Action = ActionHold
	}

	d.Confidence = clamp01(d.Confidence)
	if d.RiskScore != 0 {
		d.RiskScore = clamp01(d.RiskScore)
	}

	if len(strings.TrimSpace(d.Reasoning)) < MinReasoningLength {
		d.Reasoning = placeholderReasoning
		if d.Confidence > thinReasoningConfidenceCap {
			d.Confidence = thinReasoningConfidenceCap
		}
	}

	return d
}

// HoldFallback is the safe decision emitted when generation fails; the
// reasoning always names the failure so operators can trace it.
func HoldFallback(symbol, reason string) ProposedDecision {
	return ProposedDecision{
		Symbol:     symbol,
		Action:     ActionHold,
		Confidence: 0,
		Reasoning:  "Analysis failed: " + reason,
		Timestamp:  time.Now().UTC(),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Decision is the final, risk-adjusted form of a proposed decision.
// It is constructed exactly once by ApplyRiskAdjustment.
type Decision struct {
	Symbol      string    `json:"symbol"`
	Action      Action    `json:"action"`
	Confidence  float64   `json:"confidence"`
	Reasoning   string    `json:"reasoning"`
	Quantity    float64   `json:"quantity,omitempty"`
	PriceTarget float64   `json:"price_target,omitempty"`
	StopLoss    float64   `json:"stop_loss,omitempty"`
	RiskScore   float64   `json:"risk_score,omitempty"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Timestamp   time.Time `json:"timestamp"`
}

// ApplyRiskAdjustment folds a risk assessment into a proposed decision.
// It is a pure one-shot transformation: confidence is scaled by the
// assessment's adjustment factor, quantity by the recommended position
// size, the stop loss is overridden when the assessment provides one, and
// EXTREME risk forces the action to HOLD with drastically reduced
// confidence.
func ApplyRiskAdjustment(p ProposedDecision, r RiskAssessment) Decision {
	d := Decision{
		Symbol:      p.Symbol,
		Action:      p.Action,
		Confidence:  p.Confidence * r.ConfidenceAdjustment,
		Reasoning:   p.Reasoning,
		Quantity:    p.Quantity,
		PriceTarget: p.PriceTarget,
		StopLoss:    p.StopLoss,
		RiskScore:   p.RiskScore,
		RiskLevel:   r.RiskLevel,
		Timestamp:   p.Timestamp,
	}

	if d.Quantity > 0 {
		d.Quantity *= r.PositionSizeRecommendation
	}
	if r.StopLossRecommendation > 0 {
		d.StopLoss = r.StopLossRecommendation
	}

	if r.RiskLevel == RiskExtreme {
		d.Action = ActionHold
		d.Confidence *= 0.1
		d.Reasoning = "RISK OVERRIDE: " + d.Reasoning + " | Risk level: EXTREME"
	}

	return d
}

// DispatchMessage is the outbound contract consumed by the execution
// engine.
type DispatchMessage struct {
	Symbol      string    `json:"symbol"`
	Action      Action    `json:"action"`
	Confidence  float64   `json:"confidence"`
	Reasoning   string    `json:"reasoning"`
	Quantity    float64   `json:"quantity"`
	PriceTarget float64   `json:"price_target"`
	StopLoss    float64   `json:"stop_loss"`
	RiskScore   float64   `json:"risk_score"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
}

// DispatchMessage renders the decision for the outbound queue.
func (d Decision) DispatchMessage() DispatchMessage {
	return DispatchMessage{
		Symbol:      d.Symbol,
		Action:      d.Action,
		Confidence:  d.Confidence,
		Reasoning:   d.Reasoning,
		Quantity:    d.Quantity,
		PriceTarget: d.PriceTarget,
		StopLoss:    d.StopLoss,
		RiskScore:   d.RiskScore,
		Timestamp:   d.Timestamp,
		Source:      "cortex-brain",
	}
}
