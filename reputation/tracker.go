// Package reputation maintains a rolling trust score per agent, updated after
// every consensus decision involving that agent.
package reputation

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ChaosChain/fin-studio-go/verification"
)

// Record is the per-agent reputation snapshot.
type Record struct {
	AgentID       string   `json:"agent_id"`
	Name          string   `json:"name"`
	Score         float64  `json:"score"`
	TotalTasks    int      `json:"total_tasks"`
	AcceptedTasks int      `json:"accepted_tasks"`
	Specialties   []string `json:"specialties,omitempty"`
}

// Store abstracts reputation persistence. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the record for an agent; found=false when absent.
	Get(ctx context.Context, agentID string) (*Record, bool, error)
	// Put stores a record snapshot keyed by agent id.
	Put(ctx context.Context, record *Record) error
	// List returns every stored record.
	List(ctx context.Context) ([]*Record, error)
}

// MemoryStore is the default in-memory Store. Records live for the process
// lifetime.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, agentID string) (*Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[agentID]
	if !ok {
		return nil, false, nil
	}
	clone := *record
	return &clone, true, nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *record
	s.records[record.AgentID] = &clone
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		clone := *record
		out = append(out, &clone)
	}
	return out, nil
}

// Config holds the reputation tuning constants. The update magnitudes are
// tunables, not fixed law.
type Config struct {
	// BaselineScore is the score a newly seen agent starts with.
	BaselineScore float64 `yaml:"baseline_score" json:"baseline_score"`
	// AcceptDelta is added to the score when consensus accepts the agent's record.
	AcceptDelta float64 `yaml:"accept_delta" json:"accept_delta"`
	// RejectDelta is subtracted when consensus rejects it.
	RejectDelta float64 `yaml:"reject_delta" json:"reject_delta"`
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		BaselineScore: 0.5,
		AcceptDelta:   0.05,
		RejectDelta:   0.03,
	}
}

// Update describes one consensus outcome for one agent.
type Update struct {
	AgentID   string
	TaskID    string
	Accepted  bool
	Results   []*verification.Result
	TaskStart time.Time
	TaskEnd   time.Time
}

// Tracker consumes verification outcomes and maintains trust scores.
type Tracker struct {
	store  Store
	cfg    Config
	logger *zap.Logger
}

// NewTracker creates a tracker over the given store. A nil store uses an
// in-memory one; a nil config uses defaults.
func NewTracker(store Store, cfg *Config, logger *zap.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conf := DefaultConfig()
	if cfg != nil {
		conf = *cfg
	}
	return &Tracker{
		store:  store,
		cfg:    conf,
		logger: logger.With(zap.String("component", "reputation_tracker")),
	}
}

// InitializeAgent creates a baseline record for an agent on first sight.
// Re-initializing an existing agent is a no-op.
func (t *Tracker) InitializeAgent(ctx context.Context, agentID, name string) error {
	_, found, err := t.store.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	record := &Record{
		AgentID: agentID,
		Name:    name,
		Score:   t.cfg.BaselineScore,
	}
	if err := t.store.Put(ctx, record); err != nil {
		return err
	}
	t.logger.Info("agent initialized",
		zap.String("agent_id", agentID),
		zap.Float64("baseline_score", t.cfg.BaselineScore),
	)
	return nil
}

// UpdateReputation adjusts the agent's score for one consensus decision and
// increments the task counters. Unknown agents are initialized first.
func (t *Tracker) UpdateReputation(ctx context.Context, update Update) (*Record, error) {
	record, found, err := t.store.Get(ctx, update.AgentID)
	if err != nil {
		return nil, err
	}
	if !found {
		record = &Record{AgentID: update.AgentID, Score: t.cfg.BaselineScore}
	}

	record.TotalTasks++
	if update.Accepted {
		record.AcceptedTasks++
		delta := t.cfg.AcceptDelta
		// The reward scales with how well the record actually scored, so a
		// barely-accepted record moves the needle less than a strong one.
		if mean := meanVerificationScore(update.Results); mean > 0 {
			delta *= mean
		}
		record.Score += delta
	} else {
		record.Score -= t.cfg.RejectDelta
	}
	record.Score = math.Min(1, math.Max(0, record.Score))

	if err := t.store.Put(ctx, record); err != nil {
		return nil, err
	}
	t.logger.Debug("reputation updated",
		zap.String("agent_id", update.AgentID),
		zap.String("task_id", update.TaskID),
		zap.Bool("accepted", update.Accepted),
		zap.Float64("score", record.Score),
	)
	return record, nil
}

// meanVerificationScore averages the mean score of every verification result;
// zero when there are none.
func meanVerificationScore(results []*verification.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range results {
		sum += r.Scores.Mean()
	}
	return sum / float64(len(results))
}

// GetReputation returns the agent's record; found=false when the agent has
// never been seen.
func (t *Tracker) GetReputation(ctx context.Context, agentID string) (*Record, bool, error) {
	return t.store.Get(ctx, agentID)
}

var _ Store = (*MemoryStore)(nil)
