package workflow

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gilbertsahumada/chaoschain-workflow/workflow/emit"
)

// Reconciler is the narrow interface Engine consumes from the reconcile
// package, kept here (rather than importing reconcile) to avoid a
// workflow <-> reconcile import cycle. reconcile.Registry returns its own
// reconcile.Action type and so does not satisfy the interface directly;
// reconcile.EngineAdapter wraps a Registry and converts each reconcile.Action
// into a ReconcileAction.
//
// ReconcileAction mirrors reconcile.Action's fields; Engine only reads these
// four fields.
type ReconcileAction struct {
	Kind            int
	Step            string
	ProgressUpdates map[string]any
	Reason          string
}

const (
	ReconcileNoChange = iota
	ReconcileAdvanceToStep
	ReconcileUpdateProgress
	ReconcileClearTxHashAndRetry
	ReconcileComplete
	ReconcileFail
)

type Reconciler interface {
	Reconcile(ctx context.Context, rec *WorkflowRecord) (ReconcileAction, error)
}

// Engine is the registry of workflow definitions plus the driver loop that
// advances records one step at a time, per §4.6.
type Engine struct {
	store     Store
	emitter   emit.Emitter
	registry  *Registry
	reconcile Reconciler
	opts      Options

	mu      sync.Mutex
	running map[string]bool // record id -> currently driven, enforces one driver per record
}

// New constructs an Engine. opts.RetryPolicy, if its zero value, is replaced
// with DefaultRetryPolicy().
func New(st Store, emitter emit.Emitter, registry *Registry, reconciler Reconciler, opts Options, options ...Option) (*Engine, error) {
	cfg := &engineConfig{opts: opts}
	for _, o := range options {
		if err := o(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.opts.RetryPolicy.MaxAttempts == 0 {
		cfg.opts.RetryPolicy = DefaultRetryPolicy()
	}
	if err := cfg.opts.RetryPolicy.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		store:     st,
		emitter:   emitter,
		registry:  registry,
		reconcile: reconciler,
		opts:      cfg.opts,
		running:   make(map[string]bool),
	}, nil
}

// CreateWorkflow persists a new CREATED record and emits WORKFLOW_CREATED.
func (e *Engine) CreateWorkflow(ctx context.Context, id string, t WorkflowType, input []byte, signer string) (*WorkflowRecord, error) {
	def, err := e.registry.Get(t)
	if err != nil {
		return nil, &EngineError{Code: CodeUnknownType, Message: string(t), Cause: err}
	}

	initialStep, err := def.SelectInitialStep(input)
	if err != nil {
		return nil, &EngineError{Code: CodeInvalidDefinition, Message: "selecting initial step", Cause: err}
	}

	now := nowMillis()
	rec := &WorkflowRecord{
		ID:        id,
		Type:      t,
		CreatedAt: now,
		UpdatedAt: now,
		State:     StateCreated,
		Step:      initialStep,
		Input:     input,
		Progress:  map[string]any{},
		Signer:    signer,
	}

	if err := e.store.Create(ctx, rec); err != nil {
		if err == ErrAlreadyExists {
			return nil, &EngineError{Code: CodeWorkflowExists, Message: id, Cause: err}
		}
		return nil, &EngineError{Code: CodeStoreError, Message: "create", Cause: err}
	}

	e.emit(ctx, id, "", 0, "WORKFLOW_CREATED", nil)
	if e.opts.Metrics != nil {
		e.opts.Metrics.SetActive(string(t), string(StateCreated), 1)
	}
	return rec, nil
}

// StartWorkflow transitions a CREATED record to RUNNING and drives it.
func (e *Engine) StartWorkflow(ctx context.Context, id string) error {
	rec, err := e.store.Load(ctx, id)
	if err != nil {
		return &EngineError{Code: CodeWorkflowNotFound, Message: id, Cause: err}
	}
	if err := e.store.UpdateState(ctx, id, StateRunning, rec.Step, rec.StepAttempts); err != nil {
		return &EngineError{Code: CodeStoreError, Message: "start", Cause: err}
	}

	e.emit(ctx, id, rec.Step, rec.StepAttempts, "WORKFLOW_STARTED", nil)
	return e.drive(ctx, id)
}

// ResumeWorkflow re-drives a STALLED or RUNNING record.
func (e *Engine) ResumeWorkflow(ctx context.Context, id string) error {
	return e.drive(ctx, id)
}

// ReconcileAllActive enumerates every active record and reconciles + drives
// each, per §4.6's startup-reconciliation responsibility.
func (e *Engine) ReconcileAllActive(ctx context.Context) error {
	records, err := e.store.FindActiveWorkflows(ctx)
	if err != nil {
		return &EngineError{Code: CodeStoreError, Message: "find active", Cause: err}
	}
	for _, rec := range records {
		if err := e.drive(ctx, rec.ID); err != nil {
			return err
		}
	}
	return nil
}

// acquireRun enforces "one driver instance per record id at a time" (§5).
func (e *Engine) acquireRun(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[id] {
		return false
	}
	e.running[id] = true
	return true
}

func (e *Engine) releaseRun(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, id)
}

// drive is the per-workflow loop of §4.6: load, pre-step reconcile for
// irreversible steps, execute, translate outcome, repeat.
func (e *Engine) drive(ctx context.Context, id string) error {
	if !e.acquireRun(id) {
		return nil
	}
	defer e.releaseRun(id)

	for {
		rec, err := e.store.Load(ctx, id)
		if err != nil {
			return &EngineError{Code: CodeWorkflowNotFound, Message: id, Cause: err}
		}
		if rec.State == StateCompleted || rec.State == StateFailed {
			return nil
		}

		def, err := e.registry.Get(rec.Type)
		if err != nil {
			return &EngineError{Code: CodeUnknownType, Message: string(rec.Type), Cause: err}
		}
		step, err := def.Step(rec.Step)
		if err != nil {
			return &EngineError{Code: CodeUnknownStep, Message: rec.Step, Cause: err}
		}

		if step.IsIrreversible() {
			restarted, err := e.reconcileAndApply(ctx, rec)
			if err != nil {
				return err
			}
			if restarted {
				continue
			}
		}

		e.emit(ctx, id, rec.Step, rec.StepAttempts, "STEP_STARTED", nil)

		start := time.Now()
		outcome, timeoutErr := executeStepWithTimeout(ctx, step, rec.Step, rec, nil, e.opts.DefaultStepTimeout)
		if timeoutErr != nil {
			outcome = Retry(timeoutErr, outcome.ProgressUpdates)
		}

		if len(outcome.ProgressUpdates) > 0 {
			if err := e.store.AppendProgress(ctx, id, outcome.ProgressUpdates); err != nil {
				return &EngineError{Code: CodeStoreError, Message: "append progress", Cause: err}
			}
		}

		done, err := e.applyOutcome(ctx, rec, outcome, start)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		// loop: re-load and continue driving the same record.
	}
}

// reconcileAndApply runs the reconciler and, on a non-NO_CHANGE action,
// applies and persists it. Returns restarted=true if the caller should
// re-load the record and restart the driver loop from the top.
func (e *Engine) reconcileAndApply(ctx context.Context, rec *WorkflowRecord) (bool, error) {
	action, err := e.reconcile.Reconcile(ctx, rec)
	if err != nil {
		return false, &EngineError{Code: CodeReconcileError, Message: rec.ID, Cause: err}
	}

	e.emit(ctx, rec.ID, rec.Step, rec.StepAttempts, "RECONCILIATION_RAN", map[string]any{"action": action.Kind})
	if e.opts.Metrics != nil {
		e.opts.Metrics.IncrementReconciliations(string(rec.Type), fmt.Sprint(action.Kind))
	}

	switch action.Kind {
	case ReconcileNoChange:
		return false, nil

	case ReconcileAdvanceToStep:
		if len(action.ProgressUpdates) > 0 {
			if err := e.store.AppendProgress(ctx, rec.ID, action.ProgressUpdates); err != nil {
				return false, &EngineError{Code: CodeStoreError, Message: "reconcile progress", Cause: err}
			}
		}
		if err := e.transitionStep(ctx, rec.ID, action.Step); err != nil {
			return false, err
		}
		return true, nil

	case ReconcileUpdateProgress:
		if err := e.store.AppendProgress(ctx, rec.ID, action.ProgressUpdates); err != nil {
			return false, &EngineError{Code: CodeStoreError, Message: "reconcile progress", Cause: err}
		}
		return true, nil

	case ReconcileClearTxHashAndRetry:
		if err := e.store.AppendProgress(ctx, rec.ID, action.ProgressUpdates); err != nil {
			return false, &EngineError{Code: CodeStoreError, Message: "reconcile clear", Cause: err}
		}
		if err := e.store.UpdateState(ctx, rec.ID, StateRunning, rec.Step, 0); err != nil {
			return false, &EngineError{Code: CodeStoreError, Message: "reconcile reset attempts", Cause: err}
		}
		return true, nil

	case ReconcileComplete:
		if err := e.completeWorkflow(ctx, rec); err != nil {
			return false, err
		}
		return true, nil

	case ReconcileFail:
		if err := e.failWorkflow(ctx, rec, &StepError{
			Step:        rec.Step,
			Message:     action.Reason,
			Code:        ReconciliationFailureCode,
			Timestamp:   nowMillis(),
			Recoverable: false,
		}); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, nil
}

// transitionStep moves a record to a new non-terminal step and resets
// step_attempts to 0. Both the SUCCESS path in applyOutcome and the
// ADVANCE_TO_STEP reconciler action go through it; completeWorkflow and the
// CLEAR_TX_HASH_AND_RETRY action write step_attempts 0 through UpdateState
// directly.
func (e *Engine) transitionStep(ctx context.Context, id, step string) error {
	if err := e.store.UpdateState(ctx, id, StateRunning, step, 0); err != nil {
		return &EngineError{Code: CodeStoreError, Message: "transition step", Cause: err}
	}
	return nil
}

func (e *Engine) completeWorkflow(ctx context.Context, rec *WorkflowRecord) error {
	if err := e.store.UpdateState(ctx, rec.ID, StateCompleted, StepCompleted, 0); err != nil {
		return &EngineError{Code: CodeStoreError, Message: "complete", Cause: err}
	}
	e.emit(ctx, rec.ID, StepCompleted, 0, "WORKFLOW_COMPLETED", nil)
	if e.opts.Metrics != nil {
		e.opts.Metrics.IncrementCompleted(string(rec.Type))
	}
	return nil
}

func (e *Engine) failWorkflow(ctx context.Context, rec *WorkflowRecord, stepErr *StepError) error {
	if err := e.store.SetError(ctx, rec.ID, stepErr); err != nil {
		return &EngineError{Code: CodeStoreError, Message: "set error", Cause: err}
	}
	if err := e.store.UpdateState(ctx, rec.ID, StateFailed, rec.Step, rec.StepAttempts); err != nil {
		return &EngineError{Code: CodeStoreError, Message: "fail", Cause: err}
	}
	e.emit(ctx, rec.ID, rec.Step, rec.StepAttempts, "WORKFLOW_FAILED", map[string]any{"message": stepErr.Message})
	if e.opts.Metrics != nil {
		e.opts.Metrics.IncrementFailed(string(rec.Type))
	}
	return nil
}

func (e *Engine) stallWorkflow(ctx context.Context, rec *WorkflowRecord, stepErr *StepError) error {
	if err := e.store.SetError(ctx, rec.ID, stepErr); err != nil {
		return &EngineError{Code: CodeStoreError, Message: "set error", Cause: err}
	}
	if err := e.store.UpdateState(ctx, rec.ID, StateStalled, rec.Step, rec.StepAttempts); err != nil {
		return &EngineError{Code: CodeStoreError, Message: "stall", Cause: err}
	}
	e.emit(ctx, rec.ID, rec.Step, rec.StepAttempts, "WORKFLOW_STALLED", map[string]any{"message": stepErr.Message})
	if e.opts.Metrics != nil {
		e.opts.Metrics.IncrementStalled(string(rec.Type))
	}
	return nil
}

// applyOutcome translates a StepOutcome per §4.6 step 4. Returns done=true
// when the driver loop should stop (terminal or suspended on retry sleep
// returning via context cancellation).
func (e *Engine) applyOutcome(ctx context.Context, rec *WorkflowRecord, outcome StepOutcome, start time.Time) (bool, error) {
	latency := time.Since(start)

	switch outcome.Kind {
	case OutcomeSuccess:
		if e.opts.Metrics != nil {
			e.opts.Metrics.RecordStepLatency(string(rec.Type), rec.Step, "success", latency)
		}
		if outcome.NextStep == StepCompleted {
			return true, e.completeWorkflow(ctx, rec)
		}
		if err := e.transitionStep(ctx, rec.ID, outcome.NextStep); err != nil {
			return false, err
		}
		e.emit(ctx, rec.ID, rec.Step, rec.StepAttempts, "STEP_COMPLETED", nil)
		return false, nil

	case OutcomeRetry:
		if e.opts.Metrics != nil {
			e.opts.Metrics.RecordStepLatency(string(rec.Type), rec.Step, "retry", latency)
		}
		return e.retryStep(ctx, rec, outcome.Err)

	case OutcomeStalled:
		if e.opts.Metrics != nil {
			e.opts.Metrics.RecordStepLatency(string(rec.Type), rec.Step, "stalled", latency)
		}
		return true, e.stallWorkflow(ctx, rec, &StepError{
			Step:        rec.Step,
			Message:     outcome.Reason,
			Code:        CodeStepTimeout,
			Timestamp:   nowMillis(),
			Recoverable: true,
		})

	case OutcomeFailed:
		if e.opts.Metrics != nil {
			e.opts.Metrics.RecordStepLatency(string(rec.Type), rec.Step, "failed", latency)
		}
		return true, e.failWorkflow(ctx, rec, &StepError{
			Step:        rec.Step,
			Message:     errString(outcome.Err),
			Code:        classificationCode(outcome.Err),
			Timestamp:   nowMillis(),
			Recoverable: false,
		})
	}
	return true, nil
}

// retryStep applies the centralized retry-exhaustion-to-STALLED edge: every
// RETRY outcome, from every step in every workflow type, funnels through
// this one function.
func (e *Engine) retryStep(ctx context.Context, rec *WorkflowRecord, cause error) (bool, error) {
	policy := e.opts.RetryPolicy
	attempts := rec.StepAttempts + 1

	reason := classify(cause)
	if e.opts.Metrics != nil {
		e.opts.Metrics.IncrementRetries(string(rec.Type), rec.Step, string(reason))
	}
	e.emit(ctx, rec.ID, rec.Step, attempts, "STEP_RETRY", map[string]any{"attempt": attempts, "reason": string(reason)})

	if attempts >= policy.MaxAttempts {
		return true, e.stallWorkflow(ctx, rec, &StepError{
			Step:        rec.Step,
			Message:     errString(cause),
			Code:        CodeMaxAttempts,
			Timestamp:   nowMillis(),
			Recoverable: true,
		})
	}

	if err := e.store.UpdateState(ctx, rec.ID, StateRunning, rec.Step, attempts); err != nil {
		return false, &EngineError{Code: CodeStoreError, Message: "retry", Cause: err}
	}

	delay := computeBackoff(attempts-1, policy.InitialDelay, policy.MaxDelay, policy.BackoffMultiplier, policy.Jitter, rand.New(rand.NewSource(nowMillis())))
	select {
	case <-time.After(delay):
		return false, nil
	case <-ctx.Done():
		// Cooperative cancellation (§5): leave the record in its current
		// persisted state; the next start resumes cleanly via reconciliation.
		return true, nil
	}
}

// emit fans an event out to the configured Emitter and, best-effort, to the
// store's transactional outbox: a crashed or unreachable Emitter can be
// healed later by replaying Store.PendingEvents, since the outbox write
// lands in the same durable backend as the record itself. Outbox failures
// are swallowed rather than propagated -- observability must never abort
// the driver loop.
func (e *Engine) emit(ctx context.Context, runID, step string, stepAttempts int, msg string, meta map[string]any) {
	event := emit.Event{RunID: runID, Step: stepAttempts, NodeID: step, Msg: msg, Meta: meta}
	if e.emitter != nil {
		e.emitter.Emit(event)
	}
	if e.store != nil {
		_ = e.store.Enqueue(ctx, event)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func classificationCode(err error) string {
	return "CLASSIFIED_" + string(classify(err))
}
