package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc"

	"github.com/kazz187/taskforge/internal/agent"
	"github.com/kazz187/taskforge/internal/event"
	"github.com/kazz187/taskforge/internal/interaction"
	"github.com/kazz187/taskforge/internal/sandbox"
	"github.com/kazz187/taskforge/internal/task"
	"github.com/kazz187/taskforge/internal/tool"
	"github.com/kazz187/taskforge/internal/workspace"
	"github.com/kazz187/taskforge/pkg/ferr"
	"github.com/kazz187/taskforge/pkg/panicerr"
)

var errConfirmationRejected = errors.New("confirmation rejected")

// Runner is the coordination goroutine of one task: it plans, schedules
// steps in plan order, drives the agent loop for each, and owns the task's
// replan budget. All durable state goes through the plan store; the Runner
// itself only keeps what a restart may safely lose.
type Runner struct {
	o      *Orchestrator
	taskID string
	goal   string
	mode   task.Mode

	cancel     context.CancelFunc
	userCancel atomic.Bool
	done       chan struct{}

	// failed step ids an accepted replan already addressed; carried into
	// later revisions as frozen records, they must not trigger replans or
	// block completion again.
	handled map[string]bool
}

// requestCancel marks the cancellation as operator-requested and tears the
// runner's context down. The runner settles the task to cancelled on its
// way out.
func (r *Runner) requestCancel() {
	r.userCancel.Store(true)
	r.cancel()
}

func (r *Runner) run(ctx context.Context) error {
	t, err := r.o.store.GetTask(ctx, r.taskID)
	if err != nil {
		return err
	}

	if t.Status == task.StatusPlanning {
		if err := r.planInitial(ctx, t); err != nil {
			if ferr.CodeOf(err) == ferr.Cancelled {
				return err
			}
			r.recordError(ctx, "", err)
			_, uerr := r.o.store.UpdateTaskStatus(ctx, r.taskID, task.StatusFailed,
				"planning failed: "+err.Error())
			return uerr
		}
	}

	dir, err := r.o.workspaces.Ensure(r.taskID)
	if err != nil {
		return err
	}
	obsCtx, obsCancel := context.WithCancel(ctx)
	watch := conc.NewWaitGroup()
	watch.Go(func() {
		obs := workspace.NewObserver(r.taskID, dir, r.o.recorder)
		if err := obs.Run(obsCtx); err != nil {
			slog.Warn("orchestrator: workspace observer stopped", "task_id", r.taskID, "error", err)
		}
	})
	defer watch.Wait()
	defer obsCancel()

	return r.executeLoop(ctx)
}

func (r *Runner) planInitial(ctx context.Context, t *task.Task) error {
	slog.Info("orchestrator: planning", "task_id", r.taskID, "goal", t.Goal)
	drafts, err := r.o.agents.ProposePlan(ctx, agent.PlanInput{Goal: t.Goal})
	if err != nil {
		return err
	}
	if _, err := r.o.store.AppendPlan(ctx, r.taskID, drafts, t.CurrentRevision(), "initial plan"); err != nil {
		return err
	}
	_, err = r.o.store.UpdateTaskStatus(ctx, r.taskID, task.StatusExecuting, "plan ready")
	return err
}

func (r *Runner) executeLoop(ctx context.Context) error {
	replanRounds := 0
	for {
		if err := ctx.Err(); err != nil {
			return ferr.NewError(ferr.Cancelled, "task execution cancelled", err)
		}
		t, err := r.o.store.GetTask(ctx, r.taskID)
		if err != nil {
			return err
		}
		if t.Status.Terminal() {
			return nil
		}
		plan := t.ActivePlan()
		if plan == nil {
			return ferr.NewError(ferr.Internal, "executing task has no plan", nil)
		}

		if failed := r.firstUnhandledFailure(plan); failed != nil {
			if replanRounds >= r.o.env.ReplanLimit {
				_, err := r.o.store.UpdateTaskStatus(ctx, r.taskID, task.StatusFailed,
					"replan limit reached: "+failed.StatusReason)
				return err
			}
			replanRounds++
			if err := r.replan(ctx, t, failed); err != nil {
				if ferr.CodeOf(err) == ferr.Cancelled {
					return err
				}
				r.recordError(ctx, failed.ID, err)
				slog.Warn("orchestrator: replan round failed",
					"task_id", r.taskID, "round", replanRounds, "error", err)
			}
			continue
		}

		batch := nextBatch(plan, r.o.env.ParallelLimit)
		if len(batch) == 0 {
			if allTerminal(plan) {
				_, err := r.o.store.UpdateTaskStatus(ctx, r.taskID, task.StatusCompleted, "all steps done")
				return err
			}
			skipped, err := r.skipBlocked(ctx, plan)
			if err != nil {
				return err
			}
			if skipped == 0 {
				_, err := r.o.store.UpdateTaskStatus(ctx, r.taskID, task.StatusFailed,
					"no runnable step in the active plan")
				return err
			}
			continue
		}

		if err := r.runBatch(ctx, t, batch); err != nil {
			return err
		}

		fresh, err := r.o.store.GetTask(ctx, r.taskID)
		if err != nil {
			return err
		}
		for _, s := range batch {
			if cur := fresh.FindStep(s.ID); cur != nil && cur.Status == task.StepSucceeded {
				replanRounds = 0
				break
			}
		}
	}
}

// replan asks the planner for a new revision carrying the failure context.
// A revision conflict means the observed plan moved; reload and retry once.
func (r *Runner) replan(ctx context.Context, t *task.Task, failed *task.Step) error {
	note := fmt.Sprintf("step %q failed: %s", failed.Description, failed.StatusReason)
	drafts, err := r.o.agents.ProposePlan(ctx, agent.PlanInput{
		Goal:        r.goal,
		PriorPlan:   t.ActivePlan(),
		FailureNote: note,
	})
	if err != nil {
		return err
	}
	_, err = r.o.store.AppendPlan(ctx, r.taskID, drafts, t.CurrentRevision(), "replan: "+note)
	if ferr.IsCode(err, ferr.Conflict) {
		fresh, gerr := r.o.store.GetTask(ctx, r.taskID)
		if gerr != nil {
			return gerr
		}
		_, err = r.o.store.AppendPlan(ctx, r.taskID, drafts, fresh.CurrentRevision(), "replan: "+note)
	}
	if err != nil {
		return err
	}
	r.handled[failed.ID] = true
	slog.Info("orchestrator: replanned", "task_id", r.taskID, "failed_step", failed.ID, "steps", len(drafts))
	return nil
}

// runBatch executes one scheduling decision: a single step inline, a
// parallel batch on its own goroutines, rejoined before the loop advances.
func (r *Runner) runBatch(ctx context.Context, t *task.Task, batch []*task.Step) error {
	if len(batch) == 1 {
		return r.runStep(ctx, t, batch[0])
	}

	slog.Info("orchestrator: running parallel batch", "task_id", r.taskID, "steps", len(batch))
	errs := make([]error, len(batch))
	wg := conc.NewWaitGroup()
	for i, s := range batch {
		wg.Go(func() {
			errs[i] = panicerr.Safe(func() error {
				return r.runStep(ctx, t, s)
			})()
		})
	}
	wg.Wait()

	var first error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if ferr.CodeOf(err) == ferr.Cancelled {
			return err
		}
		if first == nil {
			first = err
		}
	}
	return first
}

// runStep drives one step to a terminal status. It returns an error only
// for cancellation or a broken store; every domain failure lands in the
// step's own status instead.
func (r *Runner) runStep(ctx context.Context, t *task.Task, step *task.Step) error {
	if _, err := r.o.store.UpdateStepStatus(ctx, r.taskID, step.ID, task.StepRunning, "", nil); err != nil {
		return err
	}
	slog.Info("orchestrator: step running", "task_id", r.taskID, "step_id", step.ID, "role", step.Role, "description", step.Description)

	var attempts []agent.Attempt
	failures := 0
	for i := 0; i < r.o.env.ActionBudget; i++ {
		if err := ctx.Err(); err != nil {
			return ferr.NewError(ferr.Cancelled, "step cancelled", err)
		}

		proposal, err := r.o.agents.ProposeNextAction(ctx, agent.ProposeInput{
			TaskID:   r.taskID,
			Goal:     r.goal,
			Step:     step,
			Attempts: attempts,
		})
		if err != nil {
			if ferr.CodeOf(err) == ferr.Cancelled {
				return err
			}
			r.recordError(ctx, step.ID, err)
			return r.failStep(ctx, step.ID, "reasoning failed: "+err.Error())
		}

		if proposal.Outcome != nil {
			if !proposal.Outcome.Success {
				return r.failStep(ctx, step.ID, reasonOr(proposal.Outcome.Reason, "agent declared failure"))
			}
			_, err := r.o.store.UpdateStepStatus(ctx, r.taskID, step.ID, task.StepSucceeded, proposal.Outcome.Reason, nil)
			if err == nil {
				return nil
			}
			if ferr.IsCode(err, ferr.InvalidArgument) {
				return r.failStep(ctx, step.ID, "agent declared success without a successful action")
			}
			return err
		}

		result, execErr := r.dispatchGated(ctx, t, step, proposal)
		if execErr != nil {
			if ferr.CodeOf(execErr) == ferr.Cancelled {
				return execErr
			}
			if errors.Is(execErr, errConfirmationRejected) {
				return r.failStep(ctx, step.ID, execErr.Error())
			}
			r.recordError(ctx, step.ID, execErr)
		}

		actionOK := execErr == nil && result != nil && result.ExitCode == 0
		if action := buildAction(proposal.Action, result, execErr); action != nil {
			if actionOK && checkPassed(result, proposal.SuccessCheck) {
				_, err := r.o.store.UpdateStepStatus(ctx, r.taskID, step.ID, task.StepSucceeded, "", action)
				return err
			}
			if _, err := r.o.store.UpdateStepStatus(ctx, r.taskID, step.ID, task.StepRunning, "", action); err != nil {
				return err
			}
		}

		attempts = append(attempts, agent.Attempt{
			Tool:   proposal.Action.Tool,
			Params: proposal.Action.Params,
			Result: summarizeAttempt(result, execErr, proposal.SuccessCheck),
			Failed: !actionOK,
		})
		if !actionOK {
			failures++
			if failures > r.o.env.StepRetries {
				return r.failStep(ctx, step.ID, "retries exhausted: "+attempts[len(attempts)-1].Result)
			}
		}
	}
	return r.failStep(ctx, step.ID, "action budget exhausted")
}

// dispatchGated runs one proposed action through the dispatcher and, when
// the policy asks for a confirmation, through the task's execution mode.
// This is the single place the mode is consulted.
func (r *Runner) dispatchGated(ctx context.Context, t *task.Task, step *task.Step, p *agent.Proposal) (*sandbox.ActionResult, error) {
	result, err := r.o.dispatcher.Dispatch(ctx, p.Action)
	if err == nil || !ferr.IsCode(err, ferr.NeedsConfirmation) {
		return result, err
	}

	if t.Mode == task.ModeAutonomous {
		// Picking the mode was the approval.
		p.Action.Approved = true
		return r.o.dispatcher.Dispatch(ctx, p.Action)
	}

	if _, err := r.o.store.UpdateStepStatus(ctx, r.taskID, step.ID, task.StepAwaitingConfirmation, "waiting for confirmation", nil); err != nil {
		return nil, err
	}
	c := interaction.New(r.taskID, step.ID, p.Action.Tool, p.Action.Params, r.o.dispatcher.Describe(p.Action))
	ch, err := r.o.confirms.Request(ctx, c)
	if err != nil {
		return nil, err
	}
	slog.Info("orchestrator: waiting for confirmation",
		"task_id", r.taskID, "step_id", step.ID, "confirmation_id", c.ID, "tool", p.Action.Tool)

	resolved, err := r.o.confirms.Await(ctx, ch, c.ID)
	if err != nil {
		return nil, err
	}
	switch resolved.Status {
	case interaction.StatusApproved:
		if _, err := r.o.store.UpdateStepStatus(ctx, r.taskID, step.ID, task.StepRunning, "confirmation approved", nil); err != nil {
			return nil, err
		}
		p.Action.Approved = true
		return r.o.dispatcher.Dispatch(ctx, p.Action)
	case interaction.StatusExpired:
		return nil, ferr.NewError(ferr.Cancelled, "confirmation expired", nil)
	default:
		if resolved.Reason != "" {
			return nil, fmt.Errorf("%w: %s", errConfirmationRejected, resolved.Reason)
		}
		return nil, errConfirmationRejected
	}
}

func (r *Runner) failStep(ctx context.Context, stepID, reason string) error {
	if _, err := r.o.store.UpdateStepStatus(ctx, r.taskID, stepID, task.StepFailed, reason, nil); err != nil {
		return err
	}
	slog.Warn("orchestrator: step failed", "task_id", r.taskID, "step_id", stepID, "reason", reason)
	return nil
}

// skipBlocked settles pending steps whose dependency ended without
// succeeding; they can never start.
func (r *Runner) skipBlocked(ctx context.Context, p *task.Plan) (int, error) {
	skipped := 0
	for _, s := range p.Steps {
		if s.Status != task.StepPending {
			continue
		}
		dep := findStep(p, s.DependsOn)
		if dep == nil || !dep.Status.Terminal() || dep.Status == task.StepSucceeded {
			continue
		}
		if _, err := r.o.store.UpdateStepStatus(ctx, r.taskID, s.ID, task.StepSkipped, "dependency did not succeed", nil); err != nil {
			return skipped, err
		}
		skipped++
	}
	return skipped, nil
}

func (r *Runner) firstUnhandledFailure(p *task.Plan) *task.Step {
	for _, s := range p.Steps {
		if s.Status == task.StepFailed && !r.handled[s.ID] {
			return s
		}
	}
	return nil
}

func (r *Runner) recordError(ctx context.Context, stepID string, err error) {
	ev := event.New(event.TypeErrorRecorded, r.taskID).
		WithMessage(err.Error()).
		WithField("code", ferr.CodeOf(err).String())
	if stepID != "" {
		ev.WithStep(stepID)
	}
	r.o.recorder.Record(ctx, ev)
}

// nextBatch picks the next runnable steps in plan order: the first eligible
// sequential step alone, or the eligible parallel steps with disjoint
// resource tags, capped at limit.
func nextBatch(p *task.Plan, limit int) []*task.Step {
	if limit < 1 {
		limit = 1
	}
	var batch []*task.Step
	used := map[string]bool{}
	for _, s := range p.Steps {
		if s.Status != task.StepPending || !depSatisfied(p, s) {
			continue
		}
		if !s.Parallel {
			if len(batch) == 0 {
				return []*task.Step{s}
			}
			return batch
		}
		if overlaps(used, s.Resources) {
			continue
		}
		for _, tag := range s.Resources {
			used[tag] = true
		}
		batch = append(batch, s)
		if len(batch) == limit {
			return batch
		}
	}
	return batch
}

func depSatisfied(p *task.Plan, s *task.Step) bool {
	if s.DependsOn == "" {
		return true
	}
	dep := findStep(p, s.DependsOn)
	if dep == nil {
		return true
	}
	return dep.Status == task.StepSucceeded
}

func findStep(p *task.Plan, id string) *task.Step {
	if id == "" {
		return nil
	}
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func allTerminal(p *task.Plan) bool {
	for _, s := range p.Steps {
		if !s.Status.Terminal() {
			return false
		}
	}
	return true
}

func overlaps(used map[string]bool, tags []string) bool {
	for _, tag := range tags {
		if used[tag] {
			return true
		}
	}
	return false
}

// buildAction turns a dispatch result into the immutable Action record. A
// nil result means no verdict was reached and nothing ran, so there is
// nothing to record.
func buildAction(req *tool.ActionRequest, result *sandbox.ActionResult, execErr error) *task.Action {
	if result == nil {
		return nil
	}
	now := time.Now().UTC()
	a := &task.Action{
		ID:         ulid.Make().String(),
		Tool:       req.Tool,
		Params:     req.Params,
		Verdict:    result.Verdict,
		Confirmed:  req.Approved && result.Verdict == task.VerdictNeedsConfirmation,
		ExitCode:   result.ExitCode,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		Truncated:  result.Truncated,
		StartedAt:  now.Add(-result.Elapsed),
		FinishedAt: now,
	}
	if execErr != nil {
		a.Error = ferr.CodeOf(execErr).String()
	}
	return a
}

// checkPassed applies the agent's success condition to a clean action: an
// empty condition accepts exit 0, otherwise the output must contain it.
func checkPassed(result *sandbox.ActionResult, check string) bool {
	if check == "" {
		return true
	}
	return strings.Contains(result.Stdout, check)
}

func summarizeAttempt(result *sandbox.ActionResult, execErr error, check string) string {
	switch {
	case execErr != nil:
		return execErr.Error()
	case result == nil:
		return "nothing ran"
	case result.ExitCode != 0:
		return fmt.Sprintf("exit %d: %s", result.ExitCode, headline(result.Stderr, result.Stdout))
	case !checkPassed(result, check):
		return fmt.Sprintf("exit 0, but output lacks expected %q", check)
	default:
		return fmt.Sprintf("exit %d", result.ExitCode)
	}
}

// headline picks the first non-empty line of the given outputs, trimmed to
// prompt size.
func headline(outputs ...string) string {
	for _, out := range outputs {
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if len(line) > 200 {
				line = line[:200]
			}
			return line
		}
	}
	return "no output"
}

func reasonOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}
