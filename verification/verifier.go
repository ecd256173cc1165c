package verification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ChaosChain/fin-studio-go/internal/fanout"
	"github.com/ChaosChain/fin-studio-go/provenance"
)

// Verifier is one independent verification process. It reads records from the
// provenance store, runs the two-phase evaluation and produces a Result.
type Verifier struct {
	id     string
	store  *provenance.Store
	cfg    ScoringConfig
	clock  func() time.Time
	logger *zap.Logger
}

// NewVerifier creates a verifier bound to a provenance store. A nil config
// uses the defaults.
func NewVerifier(id string, store *provenance.Store, cfg *ScoringConfig, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	scoring := DefaultScoringConfig()
	if cfg != nil {
		scoring = *cfg
	}
	return &Verifier{
		id:     id,
		store:  store,
		cfg:    scoring,
		clock:  time.Now,
		logger: logger.With(zap.String("component", "verifier"), zap.String("verifier_id", id)),
	}
}

// ID returns the verifier's identifier.
func (v *Verifier) ID() string { return v.id }

// VerifyRecord runs the two-phase evaluation on one record. Detected problems
// are recorded as issues in the result, never returned as errors.
func (v *Verifier) VerifyRecord(ctx context.Context, record *provenance.Record) *Result {
	signatureValid := v.store.VerifySignature(record)

	end := checkEndResult(v.store, record)
	audit := auditCausality(v.cfg, v.store, record, signatureValid)

	age := v.clock().Sub(record.Timestamp)
	scores := buildScoreVector(v.cfg, signalsFor(record.Result), end, audit, age)

	result := &Result{
		RecordID:    record.ID,
		AgentID:     record.AgentID,
		VerifierID:  v.id,
		Scores:      scores,
		EndResult:   end,
		CausalAudit: audit,
		Feedback:    buildFeedback(v.id, end, audit),
		Timestamp:   v.clock().UTC(),
	}

	v.logger.Debug("record verified",
		zap.String("record_id", record.ID),
		zap.Bool("end_result_passed", end.Passed),
		zap.Bool("causal_audit_passed", audit.Passed),
		zap.Float64("mean_score", scores.Mean()),
	)
	return result
}

// buildFeedback renders a short human-readable summary. Observational only;
// nothing reads it back.
func buildFeedback(verifierID string, end EndResultCheck, audit CausalAudit) string {
	var b strings.Builder
	if end.Passed && audit.Passed {
		fmt.Fprintf(&b, "verifier %s: end-result and causal audit passed", verifierID)
	} else {
		fmt.Fprintf(&b, "verifier %s: validation found problems", verifierID)
	}
	issues := append(append([]string(nil), end.Issues...), audit.Issues...)
	if len(issues) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(issues, "; "))
	}
	return b.String()
}

// PoolConfig configures the verifier pool.
type PoolConfig struct {
	// Size is the number of independent verifiers.
	Size int `yaml:"size" json:"size"`
	// MaxConcurrent bounds concurrent verification units in batch mode.
	MaxConcurrent int64 `yaml:"max_concurrent" json:"max_concurrent"`
	// Scoring holds the shared scoring coefficients.
	Scoring ScoringConfig `yaml:"scoring" json:"scoring"`
}

// DefaultPoolConfig returns a PoolConfig with sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Size:          3,
		MaxConcurrent: 16,
		Scoring:       DefaultScoringConfig(),
	}
}

// Pool is a set of independent verifiers sharing one provenance store.
type Pool struct {
	verifiers []*Verifier
	sem       *semaphore.Weighted
	logger    *zap.Logger
}

// NewPool creates a pool of cfg.Size verifiers. A nil config uses defaults.
func NewPool(store *provenance.Store, cfg *PoolConfig, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	conf := DefaultPoolConfig()
	if cfg != nil {
		conf = *cfg
	}
	if conf.Size <= 0 {
		conf.Size = DefaultPoolConfig().Size
	}
	if conf.MaxConcurrent <= 0 {
		conf.MaxConcurrent = DefaultPoolConfig().MaxConcurrent
	}

	verifiers := make([]*Verifier, 0, conf.Size)
	for i := 0; i < conf.Size; i++ {
		verifiers = append(verifiers, NewVerifier(fmt.Sprintf("verifier-%d", i+1), store, &conf.Scoring, logger))
	}
	return &Pool{
		verifiers: verifiers,
		sem:       semaphore.NewWeighted(conf.MaxConcurrent),
		logger:    logger.With(zap.String("component", "verifier_pool")),
	}
}

// Size returns the number of verifiers in the pool.
func (p *Pool) Size() int { return len(p.verifiers) }

// VerifyRecords crosses every given record against every verifier in the pool
// concurrently. Units are independent and failure-isolated; a unit that cannot
// acquire capacity before ctx expires yields an error entry instead of a
// result, without affecting its siblings.
func (p *Pool) VerifyRecords(ctx context.Context, records []*provenance.Record) []*Result {
	units := make([]fanout.Unit[*Result], 0, len(records)*len(p.verifiers))
	for _, record := range records {
		for _, verifier := range p.verifiers {
			rec, ver := record, verifier
			units = append(units, func(ctx context.Context) (*Result, error) {
				if err := p.sem.Acquire(ctx, 1); err != nil {
					return nil, fmt.Errorf("verify %s by %s: %w", rec.ID, ver.ID(), err)
				}
				defer p.sem.Release(1)
				return ver.VerifyRecord(ctx, rec), nil
			})
		}
	}

	joined := fanout.Join(ctx, units)
	results := make([]*Result, 0, len(joined))
	for _, r := range joined {
		if r.Err != nil {
			p.logger.Warn("verification unit failed", zap.Error(r.Err))
			continue
		}
		results = append(results, r.Value)
	}
	return results
}

// VerifyTask verifies every record of a task with full pool coverage.
func (p *Pool) VerifyTask(ctx context.Context, store *provenance.Store, taskID string) []*Result {
	records := store.GetForTask(taskID)
	p.logger.Info("verifying task records",
		zap.String("task_id", taskID),
		zap.Int("records", len(records)),
		zap.Int("verifiers", len(p.verifiers)),
	)
	return p.VerifyRecords(ctx, records)
}
