// Package orchestrator drives the analysis pipeline: it decomposes a task
// into redundant component assignments, fans the work out to analysis
// collaborators, signs the results into provenance records, has every record
// verified by the full verifier pool, folds the verdicts into per-record
// consensus, and gates reputation and payment on the outcome.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ChaosChain/fin-studio-go/audit"
	"github.com/ChaosChain/fin-studio-go/collaborator"
	"github.com/ChaosChain/fin-studio-go/identity"
	"github.com/ChaosChain/fin-studio-go/internal/fanout"
	"github.com/ChaosChain/fin-studio-go/internal/metrics"
	"github.com/ChaosChain/fin-studio-go/provenance"
	"github.com/ChaosChain/fin-studio-go/relay"
	"github.com/ChaosChain/fin-studio-go/reputation"
	"github.com/ChaosChain/fin-studio-go/types"
	"github.com/ChaosChain/fin-studio-go/verification"
)

// AgentBinding ties an analysis collaborator to the identity that signs its
// records and the configuration it runs under. Redundant agents on the same
// component must carry distinct configuration ids so their failures stay
// uncorrelated.
type AgentBinding struct {
	AgentID  string
	ConfigID string
	Analyzer collaborator.Analyzer
	Identity *identity.Identity
}

// Config holds orchestrator tuning.
type Config struct {
	// Components is the fixed decomposition of every task.
	Components []types.ComponentType `yaml:"components" json:"components"`
	// Redundancy is how many independent agents run each component.
	Redundancy int `yaml:"redundancy" json:"redundancy"`
	// MinMeanScore is the consensus acceptance threshold on the mean score.
	MinMeanScore float64 `yaml:"min_mean_score" json:"min_mean_score"`
	// RetryIncomplete re-runs components with zero real records once.
	RetryIncomplete bool `yaml:"retry_incomplete" json:"retry_incomplete"`
	// ComponentTimeout bounds one analyzer invocation.
	ComponentTimeout time.Duration `yaml:"component_timeout" json:"component_timeout"`
	// PaymentAmount is the per-record settlement amount handed to the payment
	// processor.
	PaymentAmount string `yaml:"payment_amount" json:"payment_amount"`
}

// DefaultConfig returns the default orchestrator tuning.
func DefaultConfig() Config {
	return Config{
		Components:       types.DefaultComponents(),
		Redundancy:       2,
		MinMeanScore:     0.6,
		RetryIncomplete:  true,
		ComponentTimeout: 30 * time.Second,
		PaymentAmount:    "10.00",
	}
}

// Deps is the orchestrator's context object. Store, Verifiers and Reputation
// are constructed when nil; Directory, Payments, Audit and Metrics are
// optional and tolerated nil.
type Deps struct {
	Store      *provenance.Store
	Verifiers  *verification.Pool
	Reputation *reputation.Tracker
	Directory  *relay.Directory
	Payments   collaborator.PaymentProcessor
	Audit      *audit.Store
	Metrics    *metrics.Collector
	Logger     *zap.Logger
}

// Orchestrator executes analysis tasks end to end. Multiple instances can
// coexist; each owns its own state.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu      sync.Mutex
	agents  map[types.ComponentType][]AgentBinding
	running bool
}

// New creates an orchestrator. A nil config uses defaults; missing core deps
// are constructed in-memory.
func New(deps Deps, cfg *Config) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	conf := DefaultConfig()
	if cfg != nil {
		conf = *cfg
		defaults := DefaultConfig()
		if len(conf.Components) == 0 {
			conf.Components = defaults.Components
		}
		if conf.Redundancy <= 0 {
			conf.Redundancy = defaults.Redundancy
		}
		if conf.MinMeanScore <= 0 {
			conf.MinMeanScore = defaults.MinMeanScore
		}
		if conf.ComponentTimeout <= 0 {
			conf.ComponentTimeout = defaults.ComponentTimeout
		}
		if conf.PaymentAmount == "" {
			conf.PaymentAmount = defaults.PaymentAmount
		}
	}
	if deps.Store == nil {
		deps.Store = provenance.NewStore(deps.Logger)
	}
	if deps.Verifiers == nil {
		deps.Verifiers = verification.NewPool(deps.Store, nil, deps.Logger)
	}
	if deps.Reputation == nil {
		deps.Reputation = reputation.NewTracker(nil, nil, deps.Logger)
	}
	return &Orchestrator{
		cfg:    conf,
		deps:   deps,
		logger: deps.Logger.With(zap.String("component", "orchestrator")),
		agents: make(map[types.ComponentType][]AgentBinding),
	}
}

// RegisterAgent binds an analyzer to one or more components. Registration
// order decides assignment order during decomposition.
func (o *Orchestrator) RegisterAgent(binding AgentBinding, components ...types.ComponentType) error {
	if binding.Analyzer == nil || binding.Identity == nil {
		return types.NewError(types.ErrDecomposition, "agent binding needs an analyzer and an identity")
	}
	if binding.AgentID == "" {
		binding.AgentID = binding.Analyzer.Identity().ID
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, component := range components {
		o.agents[component] = append(o.agents[component], binding)
	}
	o.logger.Info("agent registered",
		zap.String("agent_id", binding.AgentID),
		zap.String("config_id", binding.ConfigID),
		zap.Int("components", len(components)),
	)
	return nil
}

// Start marks the orchestrator ready and initializes reputation baselines for
// every registered agent.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return types.NewError(types.ErrInvalidTransition, "orchestrator already started")
	}
	o.running = true
	agents := o.registeredBindings()
	o.mu.Unlock()

	for _, binding := range agents {
		if err := o.deps.Reputation.InitializeAgent(ctx, binding.AgentID, binding.AgentID); err != nil {
			o.logger.Warn("reputation baseline init failed", zap.String("agent_id", binding.AgentID), zap.Error(err))
		}
	}
	o.logger.Info("orchestrator started", zap.Int("agents", len(agents)))
	return nil
}

// Stop marks the orchestrator stopped. In-flight tasks run to completion.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	o.logger.Info("orchestrator stopped")
	return nil
}

// registeredBindings returns every distinct binding across components. Caller
// holds o.mu.
func (o *Orchestrator) registeredBindings() []AgentBinding {
	seen := make(map[string]bool)
	var out []AgentBinding
	for _, bindings := range o.agents {
		for _, binding := range bindings {
			if !seen[binding.AgentID] {
				seen[binding.AgentID] = true
				out = append(out, binding)
			}
		}
	}
	return out
}

// executeOutcome is the fan-out unit result for one (component, agent) pair.
type executeOutcome struct {
	component types.ComponentType
	binding   AgentBinding
	record    *provenance.Record
}

// ExecuteTask runs one analysis task end to end and returns its report. The
// report is returned for every terminal status; an error means the task could
// not be run at all.
func (o *Orchestrator) ExecuteTask(ctx context.Context, subject string) (*TaskReport, error) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil, types.NewError(types.ErrNotRunning, "orchestrator is not started")
	}
	o.mu.Unlock()

	taskID := uuid.New().String()
	ctx, span := otel.Tracer("finstudio/orchestrator").Start(ctx, "execute_task",
		oteltrace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.subject", subject),
		))
	defer span.End()

	logger := o.logger.With(zap.String("task_id", taskID), zap.String("subject", subject))
	logger.Info("task accepted")
	o.deps.Metrics.TaskStarted()

	o.deps.Store.SetCurrentTask(taskID)
	task := newTaskExecution(taskID, subject, o.cfg.Components)

	assignments, err := o.decompose(task)
	if err != nil {
		task.Status = types.TaskStatusFailed
		o.finishTask(ctx, task, nil, nil)
		return nil, err
	}
	o.coordinate(ctx, task, assignments)

	if err := task.transition(types.TaskStatusInProgress); err != nil {
		return nil, err
	}
	o.executeAssignments(ctx, task, o.cfg.Components, assignments)

	if o.cfg.RetryIncomplete {
		o.retryIncomplete(ctx, task, assignments)
	}

	if err := task.transition(types.TaskStatusVerifying); err != nil {
		return nil, err
	}
	results := o.deps.Verifiers.VerifyTask(ctx, o.deps.Store, taskID)
	o.applyVerification(task, results)

	decisions := o.decide(ctx, task, results)

	final := o.finalStatus(task)
	if err := task.transition(final); err != nil {
		return nil, err
	}
	report := o.buildReport(task, decisions)
	o.finishTask(ctx, task, report, decisions)
	span.SetAttributes(attribute.String("task.status", string(task.Status)))
	logger.Info("task finished",
		zap.String("status", string(task.Status)),
		zap.Int("records", report.Records),
		zap.Int("accepted", report.Accepted),
		zap.Int("rejected", report.Rejected),
	)
	return report, nil
}

// decompose assigns exactly Redundancy agents to every component. Agents on
// the same component must carry distinct configuration ids.
func (o *Orchestrator) decompose(task *TaskExecution) (map[types.ComponentType][]AgentBinding, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	assignments := make(map[types.ComponentType][]AgentBinding, len(o.cfg.Components))
	for _, component := range o.cfg.Components {
		candidates := o.agents[component]
		if len(candidates) < o.cfg.Redundancy {
			return nil, types.NewErrorf(types.ErrDecomposition,
				"component %s has %d agents, need %d", component, len(candidates), o.cfg.Redundancy)
		}
		selected := candidates[:o.cfg.Redundancy]
		configs := make(map[string]bool, len(selected))
		execution := task.Components[component]
		for _, binding := range selected {
			if configs[binding.ConfigID] {
				return nil, types.NewErrorf(types.ErrDecomposition,
					"component %s has duplicate configuration %q", component, binding.ConfigID)
			}
			configs[binding.ConfigID] = true
			execution.AssignedAgents = append(execution.AssignedAgents, binding.AgentID)
		}
		assignments[component] = selected
	}
	return assignments, nil
}

// coordinate announces the fan-out on the relay network. Best effort; a nil
// or failing directory never blocks the task.
func (o *Orchestrator) coordinate(ctx context.Context, task *TaskExecution, assignments map[types.ComponentType][]AgentBinding) {
	if o.deps.Directory == nil {
		return
	}
	for _, component := range o.cfg.Components {
		o.deps.Directory.Discover(ctx, []string{string(component)}, nil)
	}
	var participants []string
	for _, bindings := range assignments {
		for _, binding := range bindings {
			participants = append(participants, binding.Identity.PublicKeyHex())
		}
	}
	if err := o.deps.Directory.CoordinateTask(ctx, task.TaskID, participants, map[string]string{"subject": task.Subject}); err != nil {
		o.logger.Warn("task coordination broadcast failed", zap.String("task_id", task.TaskID), zap.Error(err))
	}
}

// executeAssignments fans every (component, agent) pair out concurrently and
// folds the outcomes back into the task state at the barrier.
func (o *Orchestrator) executeAssignments(ctx context.Context, task *TaskExecution, components []types.ComponentType, assignments map[types.ComponentType][]AgentBinding) {
	var units []fanout.Unit[executeOutcome]
	for _, component := range components {
		for _, binding := range assignments[component] {
			comp, bind := component, binding
			units = append(units, func(ctx context.Context) (executeOutcome, error) {
				record, err := o.runAgent(ctx, task, comp, bind)
				if err != nil {
					return executeOutcome{}, err
				}
				return executeOutcome{component: comp, binding: bind, record: record}, nil
			})
		}
	}

	for _, joined := range fanout.Join(ctx, units) {
		if joined.Err != nil {
			// runAgent degrades analyzer failures itself; an error here means
			// even the placeholder could not be signed.
			o.logger.Error("component execution unit failed", zap.String("task_id", task.TaskID), zap.Error(joined.Err))
			continue
		}
		o.applyOutcome(task, joined.Value)
	}
}

// runAgent invokes one analyzer and signs its result into a provenance
// record. Analyzer failures produce a signed degraded placeholder so the
// pipeline shape survives.
func (o *Orchestrator) runAgent(ctx context.Context, task *TaskExecution, component types.ComponentType, binding AgentBinding) (*provenance.Record, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.ComponentTimeout)
	defer cancel()

	response, err := binding.Analyzer.Handle(callCtx, collaborator.Request{
		Action:  string(component),
		TaskID:  task.TaskID,
		Subject: task.Subject,
	})

	params := provenance.CreateParams{
		AgentID:       binding.AgentID,
		TaskID:        task.TaskID,
		ComponentType: component,
		ConfigID:      binding.ConfigID,
		Signer:        binding.Identity,
	}
	switch {
	case err != nil:
		o.logger.Warn("analyzer failed, recording degraded placeholder",
			zap.String("task_id", task.TaskID),
			zap.String("agent_id", binding.AgentID),
			zap.String("component", string(component)),
			zap.Error(err),
		)
		params.Result = collaborator.Degraded{Component: component, Reason: err.Error()}
		params.Reasoning = fmt.Sprintf("analyzer invocation failed: %v", err)
	case response == nil || response.Data == nil:
		params.Result = collaborator.Degraded{Component: component, Reason: "analyzer returned no result"}
		params.Reasoning = "analyzer invocation returned an empty response"
	default:
		params.Result = response.Data
		params.DataSources = response.DataSources
		params.Reasoning = response.Reasoning
	}

	record, err := o.deps.Store.CreateSigned(params)
	if err != nil {
		return nil, fmt.Errorf("sign record for %s/%s: %w", component, binding.AgentID, err)
	}
	o.deps.Store.Add(record)
	o.deps.Metrics.RecordCreated(string(component), record.Degraded())
	return record, nil
}

// applyOutcome folds one fan-out outcome into the task state. Runs only
// between barriers.
func (o *Orchestrator) applyOutcome(task *TaskExecution, outcome executeOutcome) {
	execution := task.Components[outcome.component]
	execution.RecordIDs = append(execution.RecordIDs, outcome.record.ID)
	if !outcome.record.Degraded() {
		execution.CompletedAgents = append(execution.CompletedAgents, outcome.binding.AgentID)
	}
}

// retryIncomplete re-runs components that produced zero real records, exactly
// once, with their original agents.
func (o *Orchestrator) retryIncomplete(ctx context.Context, task *TaskExecution, assignments map[types.ComponentType][]AgentBinding) {
	retryAssignments := make(map[types.ComponentType][]AgentBinding)
	for _, component := range o.cfg.Components {
		execution := task.Components[component]
		if execution.Completed() || execution.Retried {
			continue
		}
		execution.Retried = true
		retryAssignments[component] = assignments[component]
	}
	if len(retryAssignments) == 0 {
		return
	}

	var retried []string
	for component := range retryAssignments {
		retried = append(retried, string(component))
	}
	o.logger.Info("retrying incomplete components",
		zap.String("task_id", task.TaskID),
		zap.Strings("components", retried),
	)

	o.executeAssignments(ctx, task, componentsOf(retryAssignments, o.cfg.Components), retryAssignments)
}

// componentsOf filters the ordered component list down to those present in
// the assignment map.
func componentsOf(assignments map[types.ComponentType][]AgentBinding, ordered []types.ComponentType) []types.ComponentType {
	var out []types.ComponentType
	for _, component := range ordered {
		if _, ok := assignments[component]; ok {
			out = append(out, component)
		}
	}
	return out
}

// applyVerification attaches verification results to the component that owns
// each record.
func (o *Orchestrator) applyVerification(task *TaskExecution, results []*verification.Result) {
	byRecord := make(map[string]types.ComponentType)
	for component, execution := range task.Components {
		for _, id := range execution.RecordIDs {
			byRecord[id] = component
		}
	}
	for _, result := range results {
		o.deps.Metrics.Verification(result.StructuralPass())
		component, ok := byRecord[result.RecordID]
		if !ok {
			continue
		}
		execution := task.Components[component]
		execution.VerificationResults = append(execution.VerificationResults, result)
	}
}

// decide folds verification results into per-record consensus and gates
// reputation and payment on each decision.
func (o *Orchestrator) decide(ctx context.Context, task *TaskExecution, results []*verification.Result) []*Decision {
	grouped, order := groupByRecord(results)
	decisions := make([]*Decision, 0, len(order))

	for _, recordID := range order {
		recordResults := grouped[recordID]
		consensus := CalculateConsensus(recordResults, o.cfg.MinMeanScore)
		o.deps.Metrics.ConsensusDecision(consensus.Accepted)

		record, ok := o.deps.Store.Get(recordID)
		if !ok {
			o.logger.Warn("verified record vanished from store", zap.String("record_id", recordID))
			continue
		}
		if execution, exists := task.Components[record.ComponentType]; exists && consensus.Accepted {
			execution.ConsensusReached = true
		}

		if _, err := o.deps.Reputation.UpdateReputation(ctx, reputation.Update{
			AgentID:   record.AgentID,
			TaskID:    task.TaskID,
			Accepted:  consensus.Accepted,
			Results:   recordResults,
			TaskStart: task.StartTime,
			TaskEnd:   time.Now().UTC(),
		}); err != nil {
			o.logger.Warn("reputation update failed", zap.String("agent_id", record.AgentID), zap.Error(err))
		}
		if o.deps.Payments != nil {
			if err := o.deps.Payments.Settle(ctx, record.AgentID, consensus.Accepted, o.cfg.PaymentAmount); err != nil {
				o.logger.Warn("payment settlement failed", zap.String("agent_id", record.AgentID), zap.Error(err))
			}
		}

		decisions = append(decisions, &Decision{
			RecordID:         recordID,
			AgentID:          record.AgentID,
			ComponentType:    record.ComponentType,
			Accepted:         consensus.Accepted,
			MeanScore:        consensus.MeanScore,
			StructuralPasses: consensus.StructuralPasses,
			TotalVerifiers:   consensus.TotalVerifiers,
			Degraded:         record.Degraded(),
		})
	}
	return decisions
}

// finalStatus picks the terminal status from component completion: every
// component complete means completed, none means failed, anything in between
// is partially completed.
func (o *Orchestrator) finalStatus(task *TaskExecution) types.TaskStatus {
	complete := 0
	for _, execution := range task.Components {
		if execution.Completed() {
			complete++
		}
	}
	switch complete {
	case len(task.Components):
		return types.TaskStatusCompleted
	case 0:
		return types.TaskStatusFailed
	default:
		return types.TaskStatusPartiallyCompleted
	}
}

func (o *Orchestrator) buildReport(task *TaskExecution, decisions []*Decision) *TaskReport {
	report := &TaskReport{
		TaskID:     task.TaskID,
		Subject:    task.Subject,
		Status:     task.Status,
		StartedAt:  task.StartTime,
		FinishedAt: time.Now().UTC(),
		Decisions:  decisions,
	}
	for _, component := range o.cfg.Components {
		execution := task.Components[component]
		report.Records += len(execution.RecordIDs)
		if execution.Retried {
			report.Retried = append(report.Retried, component)
		}
	}
	for _, decision := range decisions {
		if decision.Accepted {
			report.Accepted++
		} else {
			report.Rejected++
		}
	}
	return report
}

// finishTask emits terminal metrics and archives the task when an audit store
// is configured.
func (o *Orchestrator) finishTask(ctx context.Context, task *TaskExecution, report *TaskReport, decisions []*Decision) {
	finished := time.Now().UTC()
	o.deps.Metrics.TaskFinished(string(task.Status), finished.Sub(task.StartTime).Seconds())

	if o.deps.Audit == nil {
		return
	}
	summary := &audit.TaskSummary{
		TaskID:         task.TaskID,
		Subject:        task.Subject,
		Status:         string(task.Status),
		Components:     len(task.Components),
		StartedAt:      task.StartTime,
		FinishedAt:     finished,
		DurationMillis: finished.Sub(task.StartTime).Milliseconds(),
	}
	auditDecisions := make([]*audit.ConsensusDecision, 0, len(decisions))
	if report != nil {
		summary.Records = report.Records
		summary.AcceptedCount = report.Accepted
		summary.RejectedCount = report.Rejected
		summary.RetriedCount = len(report.Retried)
	}
	for _, decision := range decisions {
		auditDecisions = append(auditDecisions, &audit.ConsensusDecision{
			RecordID:         decision.RecordID,
			AgentID:          decision.AgentID,
			ComponentType:    string(decision.ComponentType),
			Accepted:         decision.Accepted,
			MeanScore:        decision.MeanScore,
			StructuralPasses: decision.StructuralPasses,
			TotalVerifiers:   decision.TotalVerifiers,
			Degraded:         decision.Degraded,
		})
	}
	if err := o.deps.Audit.ArchiveTask(ctx, summary, auditDecisions); err != nil {
		o.logger.Warn("audit archive failed", zap.String("task_id", task.TaskID), zap.Error(err))
	}
}
