package collaborator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ChaosChain/fin-studio-go/types"
)

// StaticAnalyzer is an in-process analyzer that returns canned results for one
// component type. It serves the demo binary and tests; production deployments
// swap in real collaborators behind the same interface.
type StaticAnalyzer struct {
	id        string
	component types.ComponentType
	logger    *zap.Logger
}

// NewStaticAnalyzer creates a canned analyzer for the given component type.
func NewStaticAnalyzer(id string, component types.ComponentType, logger *zap.Logger) *StaticAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaticAnalyzer{id: id, component: component, logger: logger.With(zap.String("component", "static_analyzer"))}
}

// Identity implements Analyzer.
func (a *StaticAnalyzer) Identity() AgentIdentity {
	return AgentIdentity{ID: a.id, Capabilities: []string{string(a.component)}}
}

// Handle implements Analyzer. The returned payloads are structurally complete
// so they pass end-result validation.
func (a *StaticAnalyzer) Handle(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.logger.Debug("handling analysis request",
		zap.String("analyzer", a.id),
		zap.String("task_id", req.TaskID),
		zap.String("subject", req.Subject),
	)

	sources := []string{
		fmt.Sprintf("static://%s/%s/fundamentals", a.id, req.Subject),
		fmt.Sprintf("static://%s/%s/history", a.id, req.Subject),
	}
	reasoning := fmt.Sprintf("Canned %s evaluation of %s derived from bundled reference data covering fundamentals and recent history.", a.component, req.Subject)

	var result Result
	switch a.component {
	case types.ComponentMarketResearch:
		result = MarketResearch{
			Summary:     fmt.Sprintf("Market research for %s: stable fundamentals, sector tailwinds.", req.Subject),
			KeyFindings: []string{"revenue growth steady", "sector demand rising", "competitive moat intact"},
			Sources:     sources,
			Sentiment:   SentimentBullish,
		}
	case types.ComponentTechnicalAnalysis:
		result = TechnicalAnalysis{
			Summary:    fmt.Sprintf("Technical picture for %s: trend intact above key moving averages.", req.Subject),
			Indicators: map[string]float64{"rsi": 58.2, "macd": 1.4, "sma_50": 182.5},
			Signal:     SignalBuy,
			Confidence: 0.72,
		}
	case types.ComponentSentiment:
		result = SentimentAnalysis{
			Summary: fmt.Sprintf("Sentiment around %s skews constructive.", req.Subject),
			Score:   0.35,
			Mood:    MoodPositive,
			Drivers: []string{"earnings beat coverage", "analyst upgrades"},
		}
	case types.ComponentRecommendation:
		result = Recommendation{
			Summary:   fmt.Sprintf("Composite view on %s supports accumulation.", req.Subject),
			Action:    SignalBuy,
			Rationale: "Research, technicals and sentiment align on the long side.",
			RiskLevel: RiskMedium,
		}
	default:
		return nil, fmt.Errorf("unsupported component type %q", a.component)
	}

	return &Response{Data: result, DataSources: sources, Reasoning: reasoning}, nil
}

// LoggingPaymentProcessor is a PaymentProcessor that only logs the gating
// decision. Suitable for development and tests.
type LoggingPaymentProcessor struct {
	logger *zap.Logger
}

// NewLoggingPaymentProcessor creates a logging-only payment processor.
func NewLoggingPaymentProcessor(logger *zap.Logger) *LoggingPaymentProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingPaymentProcessor{logger: logger.With(zap.String("component", "payments"))}
}

// Settle implements PaymentProcessor.
func (p *LoggingPaymentProcessor) Settle(ctx context.Context, agentID string, accepted bool, amount string) error {
	if accepted {
		p.logger.Info("releasing payment", zap.String("agent_id", agentID), zap.String("amount", amount))
	} else {
		p.logger.Info("withholding payment", zap.String("agent_id", agentID), zap.String("amount", amount))
	}
	return nil
}

var (
	_ Analyzer         = (*StaticAnalyzer)(nil)
	_ PaymentProcessor = (*LoggingPaymentProcessor)(nil)
)
