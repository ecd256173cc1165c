package verification

import (
	"fmt"

	"github.com/ChaosChain/fin-studio-go/collaborator"
	"github.com/ChaosChain/fin-studio-go/provenance"
)

// vocabulary membership helpers, exact and case-sensitive.
func inVocabulary(value string, vocabulary ...string) bool {
	for _, v := range vocabulary {
		if value == v {
			return true
		}
	}
	return false
}

// checkEndResult performs the component-type-specific structural validation of
// the result payload, re-verifies the signature and requires non-empty data
// sources. Every failing condition appends a descriptive issue.
func checkEndResult(store *provenance.Store, record *provenance.Record) EndResultCheck {
	var issues []string

	if record.Result == nil {
		issues = append(issues, "record has no result payload")
	} else {
		if record.Result.Kind() != record.ComponentType {
			issues = append(issues, fmt.Sprintf("result kind %q does not match component %q", record.Result.Kind(), record.ComponentType))
		}
		issues = append(issues, payloadIssues(record.Result)...)
	}

	if !store.VerifySignature(record) {
		issues = append(issues, "signature verification failed")
	}
	if len(record.DataSources) == 0 {
		issues = append(issues, "no data sources cited")
	}

	return EndResultCheck{Passed: len(issues) == 0, Issues: issues}
}

// payloadIssues validates one payload of the closed result union. The switch
// is exhaustive over the union members.
func payloadIssues(result collaborator.Result) []string {
	var issues []string
	switch r := result.(type) {
	case collaborator.MarketResearch:
		if r.Summary == "" {
			issues = append(issues, "market research summary is empty")
		}
		if len(r.KeyFindings) == 0 {
			issues = append(issues, "market research has no key findings")
		}
		if !inVocabulary(r.Sentiment,
			collaborator.SentimentBullish, collaborator.SentimentBearish,
			collaborator.SentimentNeutral, collaborator.SentimentMixed) {
			issues = append(issues, fmt.Sprintf("invalid sentiment %q", r.Sentiment))
		}
	case collaborator.TechnicalAnalysis:
		if r.Summary == "" {
			issues = append(issues, "technical analysis summary is empty")
		}
		if len(r.Indicators) == 0 {
			issues = append(issues, "technical analysis has no indicators")
		}
		if !inVocabulary(r.Signal, collaborator.SignalBuy, collaborator.SignalSell, collaborator.SignalHold) {
			issues = append(issues, fmt.Sprintf("invalid signal %q", r.Signal))
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			issues = append(issues, fmt.Sprintf("confidence %.2f outside [0,1]", r.Confidence))
		}
	case collaborator.SentimentAnalysis:
		if r.Summary == "" {
			issues = append(issues, "sentiment summary is empty")
		}
		if r.Score < -1 || r.Score > 1 {
			issues = append(issues, fmt.Sprintf("sentiment score %.2f outside [-1,1]", r.Score))
		}
		if !inVocabulary(r.Mood,
			collaborator.MoodPositive, collaborator.MoodNegative,
			collaborator.MoodNeutral, collaborator.MoodVolatile) {
			issues = append(issues, fmt.Sprintf("invalid mood %q", r.Mood))
		}
	case collaborator.Recommendation:
		if r.Summary == "" {
			issues = append(issues, "recommendation summary is empty")
		}
		if !inVocabulary(r.Action, collaborator.SignalBuy, collaborator.SignalSell, collaborator.SignalHold) {
			issues = append(issues, fmt.Sprintf("invalid action %q", r.Action))
		}
		if r.Rationale == "" {
			issues = append(issues, "recommendation rationale is empty")
		}
		if !inVocabulary(r.RiskLevel, collaborator.RiskLow, collaborator.RiskMedium, collaborator.RiskHigh) {
			issues = append(issues, fmt.Sprintf("invalid risk level %q", r.RiskLevel))
		}
	case collaborator.Degraded:
		issues = append(issues, fmt.Sprintf("degraded placeholder result: %s", r.Reason))
	default:
		issues = append(issues, fmt.Sprintf("unknown result type %T", result))
	}
	return issues
}

// auditCausality computes the causal audit: chain length via store ancestry,
// initiative and traceability scores with configured shaping, and threshold
// failures with per-threshold issue messages.
func auditCausality(cfg ScoringConfig, store *provenance.Store, record *provenance.Record, signatureValid bool) CausalAudit {
	chainLength := 0
	var issues []string

	ancestry, err := store.GetAncestry(record.ID)
	if err != nil {
		issues = append(issues, fmt.Sprintf("ancestry walk failed: %v", err))
	} else {
		chainLength = len(ancestry)
	}

	initiative := initiativeScore(cfg, record.Reasoning, len(record.DataSources), len(record.ParentRecords))
	traceability := traceabilityScore(cfg, len(record.DataSources), record.Reasoning, signatureValid)

	if initiative < cfg.InitiativeFailBelow {
		issues = append(issues, fmt.Sprintf("initiative score %.2f below threshold %.2f", initiative, cfg.InitiativeFailBelow))
	}
	if traceability < cfg.TraceabilityFailBelow {
		issues = append(issues, fmt.Sprintf("traceability score %.2f below threshold %.2f", traceability, cfg.TraceabilityFailBelow))
	}

	return CausalAudit{
		Passed:            len(issues) == 0,
		ChainLength:       chainLength,
		InitiativeScore:   initiative,
		TraceabilityScore: traceability,
		Issues:            issues,
	}
}
