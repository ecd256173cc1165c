// Package collaborator defines the contracts between the pipeline and its
// external collaborators: the analysis processes that produce result payloads
// and the payment processor that settles rewards. Analysis results are modeled
// as a closed tagged union so downstream validation is exhaustive rather than
// field-name sniffing.
package collaborator

import (
	"encoding/json"
	"fmt"

	"github.com/ChaosChain/fin-studio-go/types"
)

// Result is the closed union of analysis result payloads. Exactly one concrete
// type exists per component kind, plus Degraded for placeholder records
// produced when an analyzer fails.
type Result interface {
	Kind() types.ComponentType
}

// Sentiment vocabulary for market research results.
const (
	SentimentBullish = "bullish"
	SentimentBearish = "bearish"
	SentimentNeutral = "neutral"
	SentimentMixed   = "mixed"
)

// Trade signal vocabulary.
const (
	SignalBuy  = "buy"
	SignalSell = "sell"
	SignalHold = "hold"
)

// Risk level vocabulary.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Mood vocabulary for sentiment analysis results.
const (
	MoodPositive = "positive"
	MoodNegative = "negative"
	MoodNeutral  = "neutral"
	MoodVolatile = "volatile"
)

// MarketResearch is the result payload for market research components.
type MarketResearch struct {
	Summary     string   `json:"summary"`
	KeyFindings []string `json:"key_findings"`
	Sources     []string `json:"sources"`
	Sentiment   string   `json:"sentiment"`
}

func (MarketResearch) Kind() types.ComponentType { return types.ComponentMarketResearch }

// TechnicalAnalysis is the result payload for technical analysis components.
type TechnicalAnalysis struct {
	Summary    string             `json:"summary"`
	Indicators map[string]float64 `json:"indicators"`
	Signal     string             `json:"signal"`
	Confidence float64            `json:"confidence"`
}

func (TechnicalAnalysis) Kind() types.ComponentType { return types.ComponentTechnicalAnalysis }

// SentimentAnalysis is the result payload for sentiment components.
// Score ranges from -1 (maximally negative) to 1 (maximally positive).
type SentimentAnalysis struct {
	Summary string   `json:"summary"`
	Score   float64  `json:"score"`
	Mood    string   `json:"mood"`
	Drivers []string `json:"drivers"`
}

func (SentimentAnalysis) Kind() types.ComponentType { return types.ComponentSentiment }

// Recommendation is the result payload for recommendation components.
type Recommendation struct {
	Summary   string `json:"summary"`
	Action    string `json:"action"`
	Rationale string `json:"rationale"`
	RiskLevel string `json:"risk_level"`
}

func (Recommendation) Kind() types.ComponentType { return types.ComponentRecommendation }

// Degraded is the placeholder payload produced when an analyzer invocation
// fails. It keeps the pipeline shape intact so verifiers still have something
// to score; its component kind is carried explicitly.
type Degraded struct {
	Component types.ComponentType `json:"component"`
	Reason    string              `json:"reason"`
}

func (d Degraded) Kind() types.ComponentType { return d.Component }

// IsDegraded reports whether a result is a degraded placeholder.
func IsDegraded(r Result) bool {
	_, ok := r.(Degraded)
	return ok
}

// resultEnvelope is the wire/canonical form of a Result.
type resultEnvelope struct {
	Kind types.ComponentType `json:"kind"`
	Data json.RawMessage     `json:"data"`
}

// EncodeResult serializes a Result into its tagged canonical JSON form.
func EncodeResult(r Result) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil result")
	}
	kind := r.Kind()
	if _, ok := r.(Degraded); ok {
		kind = "degraded"
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return json.Marshal(resultEnvelope{Kind: kind, Data: data})
}

// DecodeResult deserializes a tagged canonical JSON form back into a Result.
func DecodeResult(raw []byte) (Result, error) {
	var env resultEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode result envelope: %w", err)
	}
	switch env.Kind {
	case types.ComponentMarketResearch:
		var r MarketResearch
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return nil, fmt.Errorf("decode market research: %w", err)
		}
		return r, nil
	case types.ComponentTechnicalAnalysis:
		var r TechnicalAnalysis
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return nil, fmt.Errorf("decode technical analysis: %w", err)
		}
		return r, nil
	case types.ComponentSentiment:
		var r SentimentAnalysis
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return nil, fmt.Errorf("decode sentiment analysis: %w", err)
		}
		return r, nil
	case types.ComponentRecommendation:
		var r Recommendation
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return nil, fmt.Errorf("decode recommendation: %w", err)
		}
		return r, nil
	case "degraded":
		var r Degraded
		if err := json.Unmarshal(env.Data, &r); err != nil {
			return nil, fmt.Errorf("decode degraded result: %w", err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown result kind %q", env.Kind)
	}
}
