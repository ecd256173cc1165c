package provenance

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ChaosChain/fin-studio-go/collaborator"
	"github.com/ChaosChain/fin-studio-go/identity"
	"github.com/ChaosChain/fin-studio-go/types"
)

// Store is an in-memory, task-indexed collection of provenance records plus a
// registry of declared agent public keys. Records are append-only within a
// task; switching the current task evicts every other task's records.
type Store struct {
	mu sync.RWMutex

	// records indexes task ID -> record ID -> record.
	records map[string]map[string]*Record

	// order preserves insertion order per task for stable GetForTask output.
	order map[string][]string

	// keys maps agent ID -> declared hex public key.
	keys map[string]string

	currentTask string
	logger      *zap.Logger
}

// NewStore creates an empty provenance store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		records: make(map[string]map[string]*Record),
		order:   make(map[string][]string),
		keys:    make(map[string]string),
		logger:  logger.With(zap.String("component", "provenance_store")),
	}
}

// CreateParams carries everything needed to create and sign a record.
type CreateParams struct {
	AgentID       string
	Result        collaborator.Result
	DataSources   []string
	Reasoning     string
	ParentRecords []string
	TaskID        string
	ComponentType types.ComponentType
	ConfigID      string
	Signer        *identity.Identity
}

// CreateSigned canonicalizes the record fields, hashes them into the id, and
// signs the hash with the agent's key. The agent's public key is registered as
// its declared key as a side effect. The record is returned but not added.
func (s *Store) CreateSigned(p CreateParams) (*Record, error) {
	if p.Signer == nil {
		return nil, types.NewError(types.ErrSigningFailed, "no signing key provided")
	}
	record := &Record{
		AgentID:       p.AgentID,
		TaskID:        p.TaskID,
		ComponentType: p.ComponentType,
		Result:        p.Result,
		DataSources:   p.DataSources,
		Reasoning:     p.Reasoning,
		ParentRecords: p.ParentRecords,
		ConfigID:      p.ConfigID,
		Timestamp:     time.Now().UTC(),
	}
	digest, err := record.digest()
	if err != nil {
		return nil, types.NewError(types.ErrSigningFailed, "canonicalize record").WithCause(err)
	}
	sig, err := p.Signer.Sign(digest)
	if err != nil {
		return nil, types.NewError(types.ErrSigningFailed, "sign record digest").WithCause(err)
	}
	record.ID = idFromDigest(digest)
	record.Signature = sig

	s.RegisterAgentKey(p.AgentID, p.Signer.PublicKeyHex())

	s.logger.Debug("record signed",
		zap.String("record_id", record.ID),
		zap.String("agent_id", p.AgentID),
		zap.String("task_id", p.TaskID),
		zap.String("component", string(p.ComponentType)),
	)
	return record, nil
}

// RegisterAgentKey declares an agent's public key. A newer declaration from
// the same agent id supersedes the previous one.
func (s *Store) RegisterAgentKey(agentID, publicKeyHex string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[agentID] = publicKeyHex
}

// AgentKey returns the declared public key for an agent, if any.
func (s *Store) AgentKey(agentID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[agentID]
	return key, ok
}

// Add appends a record to its task's collection. An existing id is treated as
// an idempotent overwrite.
func (s *Store) Add(record *Record) {
	if record == nil || record.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	taskRecords, ok := s.records[record.TaskID]
	if !ok {
		taskRecords = make(map[string]*Record)
		s.records[record.TaskID] = taskRecords
	}
	if _, exists := taskRecords[record.ID]; !exists {
		s.order[record.TaskID] = append(s.order[record.TaskID], record.ID)
	}
	taskRecords[record.ID] = record
}

// Get returns the record with the given id from any retained task.
func (s *Store) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(id)
}

// lookup must be called with at least the read lock held.
func (s *Store) lookup(id string) (*Record, bool) {
	for _, taskRecords := range s.records {
		if record, ok := taskRecords[id]; ok {
			return record, true
		}
	}
	return nil, false
}

// GetForTask returns every record of a task in insertion order. A task with no
// records yields an empty slice, not an error.
func (s *Store) GetForTask(taskID string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[taskID]
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		if record, ok := s.records[taskID][id]; ok {
			out = append(out, record)
		}
	}
	return out
}

// VerifySignature recomputes the record's canonical digest and checks it
// against the stored signature and the claimed agent's declared public key.
// Unknown agents and malformed records verify as false.
func (s *Store) VerifySignature(record *Record) bool {
	if record == nil {
		return false
	}
	s.mu.RLock()
	key, ok := s.keys[record.AgentID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	digest, err := record.digest()
	if err != nil {
		return false
	}
	if idFromDigest(digest) != record.ID {
		return false
	}
	return identity.Verify(key, digest, record.Signature)
}

// GetAncestry walks ParentRecords transitively and returns the ancestors in
// visit order. The walk tracks visited ids and refuses to revisit one, so a
// cyclic parent reference terminates instead of looping. Referenced-but-absent
// parents are skipped; only a missing entry record is an error.
func (s *Store) GetAncestry(id string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.lookup(id)
	if !ok {
		return nil, types.NewErrorf(types.ErrRecordNotFound, "record %s not found", id)
	}

	visited := map[string]bool{entry.ID: true}
	var ancestry []*Record

	queue := append([]string(nil), entry.ParentRecords...)
	for len(queue) > 0 {
		parentID := queue[0]
		queue = queue[1:]
		if visited[parentID] {
			continue
		}
		visited[parentID] = true

		parent, ok := s.lookup(parentID)
		if !ok {
			s.logger.Debug("ancestry parent missing", zap.String("record_id", id), zap.String("parent_id", parentID))
			continue
		}
		ancestry = append(ancestry, parent)
		queue = append(queue, parent.ParentRecords...)
	}
	return ancestry, nil
}

// SetCurrentTask makes taskID the working task and evicts all records not
// belonging to it. Declared agent keys are kept.
func (s *Store) SetCurrentTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for task := range s.records {
		if task != taskID {
			evicted += len(s.records[task])
			delete(s.records, task)
			delete(s.order, task)
		}
	}
	s.currentTask = taskID
	if evicted > 0 {
		s.logger.Info("evicted records from previous tasks",
			zap.String("current_task", taskID),
			zap.Int("evicted", evicted),
		)
	}
}

// CurrentTask returns the working task id.
func (s *Store) CurrentTask() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentTask
}
