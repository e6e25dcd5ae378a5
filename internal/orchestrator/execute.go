package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/relay/internal/graph"
	"github.com/ShayCichocki/relay/internal/registry"
	"github.com/ShayCichocki/relay/pkg/models"
)

// outcome is what one invocation produced. Goroutines write only their
// own slot; the control path reads the slots after the barrier.
type outcome struct {
	step     models.ExecutionStep
	envelope models.ResultEnvelope
	err      *TeamError
}

// launch is a step cleared to run, with everything its goroutine needs.
type launch struct {
	step  models.ExecutionStep
	team  registry.Team
	state models.TeamState
}

// execute runs every step of the plan. It returns once every step is
// terminal, or with the first journal write that failed.
func (r *run) execute(ctx context.Context) error {
	plan := r.rs.Plan
	if plan == nil || len(plan.Steps) == 0 {
		return nil
	}

	if plan.Strategy == models.StrategySequential {
		for _, step := range plan.Steps {
			if err := r.runBatch(ctx, []string{step.ID}, 1); err != nil {
				return err
			}
		}
		return nil
	}

	for _, group := range r.groups() {
		if err := r.runBatch(ctx, group, r.sup.maxParallel); err != nil {
			return err
		}
	}
	// Steps missing from the groups are settled one at a time.
	for _, step := range plan.Steps {
		if !step.Status.Terminal() {
			if err := r.runBatch(ctx, []string{step.ID}, 1); err != nil {
				return err
			}
		}
	}
	return nil
}

// groups returns the plan's parallel groups, computing them from the
// dependency graph when the plan carries none.
func (r *run) groups() [][]string {
	plan := r.rs.Plan
	if len(plan.ParallelGroups) > 0 {
		return plan.ParallelGroups
	}
	g := graph.New()
	g.SetLogger(r.logger)
	if err := g.Build(plan.Steps); err != nil {
		r.logger.Warn("cannot group plan steps", zap.Error(err))
		return nil
	}
	levels, err := g.Levels()
	if err != nil {
		return nil
	}
	return levels
}

// runBatch settles the given steps. Steps that may run are invoked
// concurrently, up to limit at a time; the call returns after every one
// of them has settled, been merged and been recorded.
func (r *run) runBatch(ctx context.Context, ids []string, limit int) error {
	var launches []launch
	for _, id := range ids {
		step := r.rs.Plan.Step(id)
		if step == nil || step.Status.Terminal() {
			continue
		}
		if reason, msg, skip := r.shouldSkip(ctx, *step); skip {
			r.skip(*step, reason, msg)
			continue
		}
		launches = append(launches, r.prepare(*step))
	}
	if err := r.save(ctx); err != nil {
		return err
	}
	if len(launches) == 0 {
		return nil
	}

	outcomes := make([]outcome, len(launches))
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for i, l := range launches {
		g.Go(func() error {
			outcomes[i] = r.invoke(ctx, l)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		r.merge(o)
	}
	return r.save(ctx)
}

// shouldSkip applies cancellation, the recursion limit and the dependency
// policy to a step that has not run yet.
func (r *run) shouldSkip(ctx context.Context, step models.ExecutionStep) (models.FailureReason, string, bool) {
	if err := ctx.Err(); err != nil {
		return models.FailureCanceled, "run canceled before the step started", true
	}
	if r.rs.Invocations >= r.opts.RecursionLimit {
		return models.FailureLimit, fmt.Sprintf("recursion limit of %d invocations reached", r.opts.RecursionLimit), true
	}
	for _, dep := range step.DependsOn {
		up := r.rs.Plan.Step(dep)
		if up == nil {
			return models.FailureDependency, fmt.Sprintf("dependency %s is not in the plan", dep), true
		}
		switch up.Status {
		case models.StepCompleted:
		case models.StepFailed:
			if step.RequiresSuccess {
				return models.FailureDependency, fmt.Sprintf("required dependency %s failed", dep), true
			}
		case models.StepSkipped:
			return models.FailureDependency, fmt.Sprintf("dependency %s was skipped", dep), true
		default:
			return models.FailureDependency, fmt.Sprintf("dependency %s did not run", dep), true
		}
	}
	return "", "", false
}

// skip settles a step without invoking its team.
func (r *run) skip(step models.ExecutionStep, reason models.FailureReason, msg string) {
	r.rs.SetStepStatus(step.ID, models.StepSkipped)
	r.rs.MarkSkipped(step.Team)
	r.rs.AppendError(models.ErrorEntry{
		Time:    r.sup.now(),
		Team:    step.Team,
		StepID:  step.ID,
		Reason:  reason,
		Message: msg,
	})
	r.trace("step skipped",
		zap.String("team", step.Team),
		zap.String("step", step.ID),
		zap.String("reason", string(reason)))
	r.emit(SupervisorEvent{Type: EventTeamSkipped, Team: step.Team, StepID: step.ID, Reason: reason, Message: msg})
}

// prepare resolves the step's team, derives its TeamState and marks it
// active. It runs on the control path.
func (r *run) prepare(step models.ExecutionStep) launch {
	entry := r.sup.registry.Resolve(step.Team)
	team := entry.Team
	if !entry.Enabled {
		team = disabledTeam(step.Team)
	}

	intent := models.Intent{}
	if r.rs.Intent != nil {
		intent = *r.rs.Intent
	}
	upstream := make(map[string]models.ResultEnvelope, len(step.DependsOn))
	for _, dep := range step.DependsOn {
		up := r.rs.Plan.Step(dep)
		if up == nil {
			continue
		}
		if env, ok := r.rs.TeamResults[up.Team]; ok {
			upstream[up.Team] = env
		}
	}

	now := r.sup.now()
	ts := models.DeriveTeamState(r.rs.Shared, step, models.ParamsForStep(step, intent), upstream, now)

	r.rs.SetStepStatus(step.ID, models.StepInProgress)
	r.rs.MarkActive(step.Team)
	r.rs.Invocations++
	r.trace("step started",
		zap.String("team", step.Team),
		zap.String("step", step.ID),
		zap.Bool("available", entry.Available))
	r.emit(SupervisorEvent{Type: EventTeamStarted, Team: step.Team, StepID: step.ID})
	return launch{step: step, team: team, state: ts}
}

// invoke runs one team under the step timeout. It must not touch r.rs.
func (r *run) invoke(ctx context.Context, l launch) outcome {
	stepCtx, cancel := context.WithTimeout(ctx, r.opts.StepTimeout())
	defer cancel()

	type result struct {
		env models.ResultEnvelope
		err error
	}
	done := make(chan result, 1)
	go func() {
		env, err := safeExecute(stepCtx, l.team, l.state)
		done <- result{env, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-stepCtx.Done():
		// A team that settled as the deadline hit keeps its result.
		select {
		case res = <-done:
		default:
			res.err = stepCtx.Err()
		}
	}

	end := r.sup.now()
	o := outcome{step: l.step}
	if res.err == nil && res.env.Status == models.EnvelopeSuccess {
		o.envelope = normalize(res.env, l, end)
		return o
	}

	err := res.err
	if err == nil {
		msg := res.env.Error
		if msg == "" {
			msg = "team reported failure"
		}
		err = errors.New(msg)
	}
	reason := classify(ctx, stepCtx, err, res.env.Reason)
	if reason == models.FailureTimeout {
		err = fmt.Errorf("%w after %s", ErrStepTimeout, r.opts.StepTimeout())
	}
	o.err = &TeamError{Team: l.step.Team, StepID: l.step.ID, Reason: reason, Err: err}

	env := res.env
	env.Status = models.EnvelopeFailure
	env.Error = o.err.Error()
	env.Reason = reason
	env.Data = nil
	o.envelope = normalize(env, l, end)
	return o
}

// classify picks the failure reason for an invocation error.
func classify(parent, stepCtx context.Context, err error, reported models.FailureReason) models.FailureReason {
	switch {
	case parent.Err() != nil:
		return models.FailureCanceled
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
		return models.FailureTimeout
	case errors.Is(err, registry.ErrUnavailable):
		return models.FailureUnavailable
	case reported != models.FailureNone:
		return reported
	default:
		return models.FailureError
	}
}

// normalize fills the identity and timing fields a team may leave empty.
func normalize(env models.ResultEnvelope, l launch, end time.Time) models.ResultEnvelope {
	env.Team = l.step.Team
	env.StepID = l.step.ID
	if env.StartedAt.IsZero() {
		env.StartedAt = l.state.StartedAt
	}
	if env.FinishedAt.IsZero() {
		env.FinishedAt = end.UTC()
	}
	return env
}

// merge folds one outcome into the run on the control path.
func (r *run) merge(o outcome) {
	env := o.envelope
	if o.err == nil {
		r.rs.MergeTeamResult(env)
		r.trace("step completed",
			zap.String("team", env.Team),
			zap.String("step", env.StepID),
			zap.Duration("duration", env.Duration()))
		r.emit(SupervisorEvent{Type: EventTeamCompleted, Team: env.Team, StepID: env.StepID, Duration: env.Duration()})
		return
	}

	// A team cut off by the caller never settled: it counts as skipped.
	if o.err.Reason == models.FailureCanceled {
		r.skip(o.step, models.FailureCanceled, o.err.Error())
		return
	}

	r.rs.MergeTeamResult(env)
	r.rs.AppendError(models.ErrorEntry{
		Time:    env.FinishedAt,
		Team:    env.Team,
		StepID:  env.StepID,
		Reason:  o.err.Reason,
		Message: o.err.Err.Error(),
	})
	r.logger.Warn("team failed",
		zap.String("team", env.Team),
		zap.String("step", env.StepID),
		zap.String("reason", string(o.err.Reason)),
		zap.Error(o.err.Err))
	r.emit(SupervisorEvent{
		Type:     EventTeamFailed,
		Team:     env.Team,
		StepID:   env.StepID,
		Reason:   o.err.Reason,
		Error:    o.err,
		Duration: env.Duration(),
	})
}

// safeExecute calls the team and turns a panic into an error.
func safeExecute(ctx context.Context, team registry.Team, ts models.TeamState) (env models.ResultEnvelope, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("team panicked: %v", p)
		}
	}()
	return team.Execute(ctx, ts)
}

func disabledTeam(name string) registry.Team {
	return registry.TeamFunc(func(context.Context, models.TeamState) (models.ResultEnvelope, error) {
		return models.ResultEnvelope{}, fmt.Errorf("%w: %s is disabled", registry.ErrUnavailable, name)
	})
}
