package verification

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChaosChain/fin-studio-go/collaborator"
	"github.com/ChaosChain/fin-studio-go/identity"
	"github.com/ChaosChain/fin-studio-go/provenance"
	"github.com/ChaosChain/fin-studio-go/types"
)

func newStoreWithRecord(t *testing.T, result collaborator.Result, sources []string, reasoning string, parents ...string) (*provenance.Store, *provenance.Record) {
	t.Helper()
	store := provenance.NewStore(nil)
	signer, err := identity.Generate()
	require.NoError(t, err)

	record, err := store.CreateSigned(provenance.CreateParams{
		AgentID:       "agent-1",
		Result:        result,
		DataSources:   sources,
		Reasoning:     reasoning,
		ParentRecords: parents,
		TaskID:        "task-1",
		ComponentType: result.Kind(),
		ConfigID:      "cfg-a",
		Signer:        signer,
	})
	require.NoError(t, err)
	store.Add(record)
	return store, record
}

func goodResearch() collaborator.MarketResearch {
	return collaborator.MarketResearch{
		Summary:     "thorough market research summary",
		KeyFindings: []string{"finding one", "finding two"},
		Sources:     []string{"filings", "news"},
		Sentiment:   collaborator.SentimentBullish,
	}
}

const goodReasoning = "cross-checked fundamentals against recent filings and sector trends"

func TestVerifyRecord_GoodRecordPasses(t *testing.T) {
	store, record := newStoreWithRecord(t, goodResearch(), []string{"src-a", "src-b"}, goodReasoning)
	verifier := NewVerifier("verifier-1", store, nil, nil)

	result := verifier.VerifyRecord(context.Background(), record)
	require.NotNil(t, result)

	assert.True(t, result.EndResult.Passed, "issues: %v", result.EndResult.Issues)
	assert.True(t, result.CausalAudit.Passed, "issues: %v", result.CausalAudit.Issues)
	assert.True(t, result.StructuralPass())
	assert.Equal(t, record.ID, result.RecordID)
	assert.Equal(t, "agent-1", result.AgentID)
	assert.Equal(t, "verifier-1", result.VerifierID)
	assert.Equal(t, 0, result.CausalAudit.ChainLength)
	assert.GreaterOrEqual(t, result.Scores.Mean(), 0.6)
	assert.Contains(t, result.Feedback, "passed")

	for i, d := range result.Scores.Dims() {
		assert.GreaterOrEqual(t, d, 0.0, "dim %d", i)
		assert.LessOrEqual(t, d, 1.0, "dim %d", i)
		assert.InDelta(t, math.Round(d*100), d*100, 1e-9, "dim %d two decimals", i)
	}
}

func TestVerifyRecord_DegradedRecordFails(t *testing.T) {
	degraded := collaborator.Degraded{Component: types.ComponentSentiment, Reason: "analyzer timeout"}
	store, record := newStoreWithRecord(t, degraded, nil, "")
	verifier := NewVerifier("verifier-1", store, nil, nil)

	result := verifier.VerifyRecord(context.Background(), record)
	assert.False(t, result.EndResult.Passed)
	assert.Contains(t, result.EndResult.Issues[0], "degraded placeholder")
	// No sources, no reasoning, but a valid signature: 0.3 + 0.2 = 0.5 >= 0.4.
	assert.InDelta(t, 0.5, result.CausalAudit.TraceabilityScore, 1e-9)
	assert.Contains(t, result.Feedback, "problems")
}

func TestVerifyRecord_VocabularyViolations(t *testing.T) {
	bad := collaborator.MarketResearch{
		Summary:     "summary",
		KeyFindings: []string{"f"},
		Sources:     []string{"s"},
		Sentiment:   "euphoric",
	}
	store, record := newStoreWithRecord(t, bad, []string{"src"}, goodReasoning)
	verifier := NewVerifier("verifier-1", store, nil, nil)

	result := verifier.VerifyRecord(context.Background(), record)
	assert.False(t, result.EndResult.Passed)
	require.Len(t, result.EndResult.Issues, 1)
	assert.Contains(t, result.EndResult.Issues[0], "invalid sentiment")
}

func TestVerifyRecord_ComponentMismatch(t *testing.T) {
	store := provenance.NewStore(nil)
	signer, err := identity.Generate()
	require.NoError(t, err)
	record, err := store.CreateSigned(provenance.CreateParams{
		AgentID:       "agent-1",
		Result:        goodResearch(),
		DataSources:   []string{"src"},
		Reasoning:     goodReasoning,
		TaskID:        "task-1",
		ComponentType: types.ComponentRecommendation,
		Signer:        signer,
	})
	require.NoError(t, err)
	store.Add(record)

	result := NewVerifier("verifier-1", store, nil, nil).VerifyRecord(context.Background(), record)
	assert.False(t, result.EndResult.Passed)
	assert.Contains(t, result.EndResult.Issues[0], "does not match component")
}

func TestVerifyRecord_TamperedSignature(t *testing.T) {
	store, record := newStoreWithRecord(t, goodResearch(), []string{"src-a"}, goodReasoning)

	tampered := *record
	tampered.Reasoning = "rewritten after signing"
	store.Add(&tampered)

	result := NewVerifier("verifier-1", store, nil, nil).VerifyRecord(context.Background(), &tampered)
	assert.False(t, result.EndResult.Passed)
	assert.Contains(t, result.EndResult.Issues, "signature verification failed")
	// Losing the signature bonus drops traceability to 0.8, still passing.
	assert.InDelta(t, 0.8, result.CausalAudit.TraceabilityScore, 1e-9)
}

func TestVerifyRecord_ChainLength(t *testing.T) {
	store, parent := newStoreWithRecord(t, goodResearch(), []string{"src-a", "src-b"}, goodReasoning)
	signer, err := identity.Generate()
	require.NoError(t, err)

	child, err := store.CreateSigned(provenance.CreateParams{
		AgentID:       "agent-2",
		Result:        goodResearch(),
		DataSources:   []string{"src-a", "src-b"},
		Reasoning:     goodReasoning,
		ParentRecords: []string{parent.ID},
		TaskID:        "task-1",
		ComponentType: types.ComponentMarketResearch,
		Signer:        signer,
	})
	require.NoError(t, err)
	store.Add(child)

	result := NewVerifier("verifier-1", store, nil, nil).VerifyRecord(context.Background(), child)
	assert.Equal(t, 1, result.CausalAudit.ChainLength)
	// Parent bonus pushes initiative to the clamp.
	assert.InDelta(t, 1.0, result.CausalAudit.InitiativeScore, 1e-9)
}

func TestVerifyRecord_TimelinessAges(t *testing.T) {
	store, record := newStoreWithRecord(t, goodResearch(), []string{"src-a"}, goodReasoning)
	verifier := NewVerifier("verifier-1", store, nil, nil)

	base := record.Timestamp
	for _, tc := range []struct {
		age  time.Duration
		want float64
	}{
		{time.Minute, 1.0},
		{10 * time.Minute, 0.8},
		{25 * time.Minute, 0.6},
		{50 * time.Minute, 0.4},
		{90 * time.Minute, 0.2},
	} {
		verifier.clock = func() time.Time { return base.Add(tc.age) }
		result := verifier.VerifyRecord(context.Background(), record)
		assert.Equal(t, tc.want, result.Scores.Timeliness, "age %v", tc.age)
	}
}

func TestPool_FullCoverage(t *testing.T) {
	store, _ := newStoreWithRecord(t, goodResearch(), []string{"src-a", "src-b"}, goodReasoning)
	signer, err := identity.Generate()
	require.NoError(t, err)

	second, err := store.CreateSigned(provenance.CreateParams{
		AgentID:       "agent-2",
		Result:        goodResearch(),
		DataSources:   []string{"src-a"},
		Reasoning:     goodReasoning,
		TaskID:        "task-1",
		ComponentType: types.ComponentMarketResearch,
		Signer:        signer,
	})
	require.NoError(t, err)
	store.Add(second)

	cfg := DefaultPoolConfig()
	cfg.Size = 3
	pool := NewPool(store, &cfg, nil)
	require.Equal(t, 3, pool.Size())

	results := pool.VerifyTask(context.Background(), store, "task-1")
	require.Len(t, results, 6, "2 records x 3 verifiers")

	seen := make(map[string]map[string]bool)
	for _, r := range results {
		if seen[r.RecordID] == nil {
			seen[r.RecordID] = make(map[string]bool)
		}
		assert.False(t, seen[r.RecordID][r.VerifierID], "duplicate (record, verifier) pair")
		seen[r.RecordID][r.VerifierID] = true
	}
	for _, verifiers := range seen {
		assert.Len(t, verifiers, 3)
	}
}

func TestPool_EmptyTask(t *testing.T) {
	store := provenance.NewStore(nil)
	pool := NewPool(store, nil, nil)
	results := pool.VerifyTask(context.Background(), store, "missing")
	assert.Empty(t, results)
}
