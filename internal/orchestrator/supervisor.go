package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/internal/registry"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/pkg/models"
)

// Supervisor drives runs through planning, team execution and
// aggregation. A Supervisor is safe for concurrent use; each run keeps its
// own state.
type Supervisor struct {
	planner     Planner
	registry    *registry.Registry
	journal     Journal
	logger      *zap.Logger
	synthesizer Completer
	maxParallel int
	events      *EventEmitter
	now         func() time.Time
	defaults    ContextOptions
}

// New creates a Supervisor. It panics if a required collaborator is nil.
func New(req RequiredConfig, opts ...Option) *Supervisor {
	if req.Planner == nil || req.Registry == nil || req.Journal == nil {
		panic("orchestrator: planner, registry and journal are required")
	}
	o := &supervisorOptions{
		logger:      zap.NewNop(),
		maxParallel: DefaultMaxParallel,
		now:         time.Now,
		defaults:    DefaultContextOptions(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.maxParallel <= 0 {
		o.maxParallel = DefaultMaxParallel
	}
	return &Supervisor{
		planner:     req.Planner,
		registry:    req.Registry,
		journal:     req.Journal,
		logger:      o.logger,
		synthesizer: o.synthesizer,
		maxParallel: o.maxParallel,
		events:      o.events,
		now:         o.now,
		defaults:    o.defaults,
	}
}

// run is the control-path state of one run. Only the goroutine calling
// RunQuery or Resume touches it.
type run struct {
	sup       *Supervisor
	rs        *models.RunState
	persisted *models.RunState
	opts      ContextOptions
	logger    *zap.Logger
}

// RunQuery processes one query end to end. The session id becomes the run
// id; a new one is generated when it is empty. Reusing a run id starts a
// new generation of that run.
//
// The returned RunState is never nil. The error is non-nil exactly when the
// run ended in the error status: a team failure alone never fails a run.
func (s *Supervisor) RunQuery(ctx context.Context, query, sessionID string, opts ContextOptions) (*models.RunState, error) {
	opts = opts.withDefaults(s.defaults)
	runID := sessionID
	if runID == "" {
		runID = uuid.NewString()
	}

	shared := models.NewSharedState(query, runID, opts.Language, s.now())
	r := s.newRun(models.NewRunState(shared), opts)
	r.logger.Info("run started", zap.String("query", query))

	if _, err := s.journal.Open(ctx, runID); err != nil {
		return r.abort(models.ReasonJournalUnavailable, fmt.Errorf("open journal: %w", err))
	}
	defer s.journal.Close(runID)

	if err := r.persist(ctx); err != nil {
		return r.abort(models.ReasonJournalUnavailable, fmt.Errorf("write initial state: %w", err))
	}
	return r.drive(ctx)
}

// Resume continues an interrupted run from its last persisted state.
// Steps that already completed, failed or were skipped are not invoked
// again; steps that were in progress are retried. A terminal run is
// returned as-is.
func (s *Supervisor) Resume(ctx context.Context, runID string, opts ContextOptions) (*models.RunState, error) {
	if _, err := s.journal.Open(ctx, runID); err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer s.journal.Close(runID)

	rs, err := s.journal.GetState(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if rs == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if rs.Terminal() {
		if rs.Status() == models.RunStatusError {
			return rs, fmt.Errorf("run %s ended in error: %s", runID, rs.Shared.ErrorMessage)
		}
		return rs, nil
	}

	if opts.Language == "" {
		opts.Language = rs.Shared.Language
	}
	opts = opts.withDefaults(s.defaults)
	r := s.newRun(rs, opts)
	r.persisted = rs.Clone()

	if rs.Plan != nil {
		for _, step := range rs.Plan.Steps {
			if step.Status == models.StepInProgress {
				rs.SetStepStatus(step.ID, models.StepPending)
				rs.MarkPending(step.Team)
			}
		}
	}
	r.logger.Info("resuming run",
		zap.String("phase", string(rs.Phase)),
		zap.Int("invocations", rs.Invocations))
	return r.drive(ctx)
}

func (s *Supervisor) newRun(rs *models.RunState, opts ContextOptions) *run {
	return &run{
		sup:    s,
		rs:     rs,
		opts:   opts,
		logger: s.logger.With(zap.String("run_id", rs.RunID)),
	}
}

// drive advances the run from its current phase to a terminal one.
func (r *run) drive(ctx context.Context) (*models.RunState, error) {
	switch r.rs.Phase {
	case models.PhaseInitializing:
		r.rs.SetStatus(models.RunStatusProcessing, "", r.sup.now())
		if err := r.transition(ctx, models.PhasePlanning); err != nil {
			return r.stop(ctx, err)
		}
		fallthrough
	case models.PhasePlanning:
		if err := r.plan(ctx); err != nil {
			return r.rs, err
		}
		if err := r.transition(ctx, models.PhaseExecuting); err != nil {
			return r.stop(ctx, err)
		}
		fallthrough
	case models.PhaseExecuting:
		if err := r.execute(ctx); err != nil {
			return r.stop(ctx, err)
		}
		// The run is finalized even when the caller gave up.
		ctx = context.WithoutCancel(ctx)
		if err := r.transition(ctx, models.PhaseAggregating); err != nil {
			return r.stop(ctx, err)
		}
		fallthrough
	case models.PhaseAggregating:
		r.aggregate(ctx)
		if err := r.complete(ctx); err != nil {
			return r.stop(ctx, err)
		}
	}
	return r.rs, nil
}

// plan asks the planner for a plan and records it. An invalid or missing
// plan fails the run.
func (r *run) plan(ctx context.Context) error {
	intent, plan := r.sup.planner.Plan(ctx, r.rs.Shared.Query)
	now := r.sup.now()
	r.rs.Intent = &intent
	r.rs.Plan = plan

	if plan == nil {
		r.rs.AppendError(models.ErrorEntry{Time: now, Message: "planner returned no plan"})
		_, err := r.fail(ctx, models.ReasonPlanningFailure, ErrPlanningFailure)
		return err
	}
	if !plan.Validated {
		for _, msg := range plan.ValidationErrors {
			r.rs.AppendError(models.ErrorEntry{Time: now, Message: msg})
		}
		err := fmt.Errorf("%w: %s", ErrPlanningFailure, strings.Join(plan.ValidationErrors, "; "))
		_, err = r.fail(ctx, models.ReasonPlanningFailure, err)
		return err
	}

	for _, d := range plan.Dropped {
		r.rs.MarkSkipped(d.Team)
	}
	r.logger.Info("plan accepted",
		zap.String("intent", string(intent.Type)),
		zap.Bool("fallback", intent.UsedFallback),
		zap.String("strategy", string(plan.Strategy)),
		zap.Strings("teams", plan.Teams()))
	return nil
}

// complete moves the run to its terminal completed phase.
func (r *run) complete(ctx context.Context) error {
	now := r.sup.now()
	if !canTransition(r.rs.Phase, models.PhaseCompleted) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.rs.Phase, models.PhaseCompleted)
	}
	r.rs.SetPhase(models.PhaseCompleted, now)
	r.rs.SetStatus(models.RunStatusCompleted, "", now)
	if err := r.save(ctx); err != nil {
		return err
	}

	kind := models.ResponseKind("")
	if r.rs.FinalResponse != nil {
		kind = r.rs.FinalResponse.Kind
	}
	r.logger.Info("run completed",
		zap.String("response", string(kind)),
		zap.Strings("completed", r.rs.Teams.Completed),
		zap.Strings("failed", r.rs.Teams.Failed),
		zap.Strings("skipped", r.rs.Teams.Skipped),
		zap.Int("invocations", r.rs.Invocations))
	r.emit(SupervisorEvent{Type: EventRunDone, Message: string(kind)})
	return nil
}

// transition moves the run to the next phase and persists it.
func (r *run) transition(ctx context.Context, to models.Phase) error {
	from := r.rs.Phase
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	r.rs.SetPhase(to, r.sup.now())
	r.logger.Debug("phase changed", zap.String("from", string(from)), zap.String("to", string(to)))
	if err := r.save(ctx); err != nil {
		return err
	}
	r.emit(SupervisorEvent{Type: EventPhaseChanged, Message: string(from) + " -> " + string(to)})
	return nil
}

// fail moves the run to the error phase, persists it and returns the
// run together with cause.
func (r *run) fail(ctx context.Context, reason models.ErrorReason, cause error) (*models.RunState, error) {
	r.rs.Fail(reason, cause.Error(), r.sup.now())
	if err := r.save(ctx); err != nil {
		r.logger.Error("error state not recorded", zap.Error(err))
	}
	r.logger.Error("run failed", zap.String("reason", string(reason)), zap.Error(cause))
	r.emit(SupervisorEvent{Type: EventRunDone, Message: string(reason), Error: cause})
	return r.rs, cause
}

// abort fails a run whose journal is unusable. Nothing is persisted.
func (r *run) abort(reason models.ErrorReason, cause error) (*models.RunState, error) {
	now := r.sup.now()
	r.rs.AppendError(models.ErrorEntry{Time: now, Message: cause.Error()})
	r.rs.Fail(reason, cause.Error(), now)
	r.logger.Error("run aborted", zap.String("reason", string(reason)), zap.Error(cause))
	r.emit(SupervisorEvent{Type: EventRunDone, Message: string(reason), Error: cause})
	return r.rs, cause
}

// stop fails a run that could not enter or record its next phase. A
// journal that can no longer take writes ends the run as
// journal_unavailable.
func (r *run) stop(ctx context.Context, err error) (*models.RunState, error) {
	r.rs.AppendError(models.ErrorEntry{Time: r.sup.now(), Message: err.Error()})
	reason := models.ReasonInternal
	if errors.Is(err, state.ErrJournalUnavailable) {
		reason = models.ReasonJournalUnavailable
	}
	return r.fail(ctx, reason, err)
}

// persist writes the changes since the last successful write.
func (r *run) persist(ctx context.Context) error {
	delta := models.Diff(r.persisted, r.rs)
	if delta.IsEmpty() {
		return nil
	}
	if err := r.sup.journal.PutStateDelta(ctx, r.rs.RunID, delta); err != nil {
		return err
	}
	r.persisted = r.rs.Clone()
	return nil
}

// save persists the run, retrying a failed write once. Writes go through
// even after the caller canceled. A write that fails twice is reported as
// ErrJournalUnavailable: the run can no longer be recorded.
func (r *run) save(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	err := r.persist(ctx)
	if err == nil {
		return nil
	}
	r.logger.Warn("journal write failed, retrying", zap.Error(err))
	if err = r.persist(ctx); err != nil {
		return fmt.Errorf("%w: %w", state.ErrJournalUnavailable, err)
	}
	return nil
}

// emit sends an event when the run is traced.
func (r *run) emit(ev SupervisorEvent) {
	if !r.opts.TraceEnabled || r.sup.events == nil {
		return
	}
	ev.RunID = r.rs.RunID
	ev.Phase = r.rs.Phase
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.sup.now()
	}
	r.sup.events.Emit(ev)
}

// trace logs per-step details. DebugMode raises them to info.
func (r *run) trace(msg string, fields ...zap.Field) {
	if r.opts.DebugMode {
		r.logger.Info(msg, fields...)
		return
	}
	r.logger.Debug(msg, fields...)
}
