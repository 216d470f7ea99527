package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/kazz187/taskforge/internal/agent"
	"github.com/kazz187/taskforge/internal/config"
	"github.com/kazz187/taskforge/internal/event"
	"github.com/kazz187/taskforge/internal/interaction"
	"github.com/kazz187/taskforge/internal/task"
	"github.com/kazz187/taskforge/internal/tool"
	"github.com/kazz187/taskforge/internal/workspace"
	"github.com/kazz187/taskforge/pkg/ferr"
	"github.com/kazz187/taskforge/pkg/panicerr"
)

// cancelGrace bounds the cleanup writes of a runner that lost its context.
const cancelGrace = 10 * time.Second

// Orchestrator runs one coordination goroutine per task. Independent tasks
// are fully parallel; each runner serializes its own task's mutations
// through the plan store.
type Orchestrator struct {
	store      *task.Store
	agents     *agent.Agent
	dispatcher *tool.Dispatcher
	confirms   *interaction.Service
	recorder   *event.Recorder
	workspaces *workspace.Manager
	env        *config.OrchestratorEnv

	wg *conc.WaitGroup

	mu      sync.Mutex
	ctx     context.Context
	runners map[string]*Runner
}

func New(
	store *task.Store,
	agents *agent.Agent,
	dispatcher *tool.Dispatcher,
	confirms *interaction.Service,
	recorder *event.Recorder,
	workspaces *workspace.Manager,
	env *config.OrchestratorEnv,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		agents:     agents,
		dispatcher: dispatcher,
		confirms:   confirms,
		recorder:   recorder,
		workspaces: workspaces,
		env:        env,
		wg:         conc.NewWaitGroup(),
		runners:    map[string]*Runner{},
	}
}

// Start settles tasks a previous process left behind and begins accepting
// new ones. Runners live until ctx ends; call Wait afterwards to let them
// wind down.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.ctx != nil {
		o.mu.Unlock()
		return ferr.NewError(ferr.Conflict, "orchestrator already started", nil)
	}
	o.ctx = ctx
	o.mu.Unlock()

	o.sweepInterrupted(ctx)
	slog.Info("orchestrator: started")
	return nil
}

// Wait blocks until every runner has wound down.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
	slog.Info("orchestrator: stopped")
}

// StartTask accepts a goal and launches its runner. The returned task is in
// planning; execution progresses in the background.
func (o *Orchestrator) StartTask(ctx context.Context, goal string, mode task.Mode) (*task.Task, error) {
	o.mu.Lock()
	base := o.ctx
	o.mu.Unlock()
	if base == nil {
		return nil, ferr.NewError(ferr.Unavailable, "orchestrator is not running", nil)
	}

	t, err := o.store.CreateTask(ctx, goal, mode)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(base)
	run := &Runner{
		o:       o,
		taskID:  t.ID,
		goal:    t.Goal,
		mode:    t.Mode,
		cancel:  cancel,
		done:    make(chan struct{}),
		handled: map[string]bool{},
	}
	o.mu.Lock()
	o.runners[t.ID] = run
	o.mu.Unlock()

	o.wg.Go(func() {
		defer close(run.done)
		defer cancel()
		o.drive(runCtx, run)
		o.mu.Lock()
		delete(o.runners, run.taskID)
		o.mu.Unlock()
	})

	slog.Info("orchestrator: task accepted", "task_id", t.ID, "mode", string(t.Mode))
	return t, nil
}

// drive runs one runner to its end and settles whatever state the exit
// leaves behind: user cancellations become cancelled tasks, crashes become
// failed ones, a shutdown leaves the task for the next start's sweep.
func (o *Orchestrator) drive(ctx context.Context, run *Runner) {
	err := panicerr.Safe(func() error {
		return run.run(ctx)
	})()
	if err == nil {
		return
	}

	if ferr.CodeOf(err) == ferr.Cancelled || errors.Is(err, context.Canceled) {
		if run.userCancel.Load() {
			o.finalizeCancel(run.taskID, "cancelled by request")
		} else {
			slog.Info("orchestrator: runner interrupted", "task_id", run.taskID)
		}
		return
	}

	slog.Error("orchestrator: runner failed", "task_id", run.taskID, "error", err)
	bg, cancel := context.WithTimeout(context.Background(), cancelGrace)
	defer cancel()
	o.recorder.Record(bg, event.New(event.TypeErrorRecorded, run.taskID).
		WithMessage(err.Error()).
		WithField("code", ferr.CodeOf(err).String()))
	if _, uerr := o.store.UpdateTaskStatus(bg, run.taskID, task.StatusFailed, "internal error: "+err.Error()); uerr != nil {
		slog.Error("orchestrator: failed to settle crashed task", "task_id", run.taskID, "error", uerr)
	}
}

// CancelTask stops a task. With a live runner the cancellation is
// asynchronous: in-flight work tears down first and the task turns
// cancelled when the runner has wound down. Without one the task is
// settled directly.
func (o *Orchestrator) CancelTask(ctx context.Context, taskID string) error {
	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return ferr.NewError(ferr.Conflict, fmt.Sprintf("task is already %s", t.Status), nil)
	}

	o.mu.Lock()
	run := o.runners[taskID]
	o.mu.Unlock()

	if run != nil {
		slog.Info("orchestrator: cancelling task", "task_id", taskID)
		run.requestCancel()
		return nil
	}
	o.finalizeCancel(taskID, "cancelled by request")
	return nil
}

// WaitTask blocks until the task's runner has exited (its final status is
// durable by then) or ctx ends. A task without a runner returns at once.
func (o *Orchestrator) WaitTask(ctx context.Context, taskID string) error {
	o.mu.Lock()
	run := o.runners[taskID]
	o.mu.Unlock()
	if run == nil {
		return nil
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ferr.NewError(ferr.Cancelled, "wait cancelled", ctx.Err())
	}
}

// finalizeCancel settles a cancelled task: pending confirmations expire so
// no waiter hangs, live steps are skipped without executing, and the task
// goes terminal.
func (o *Orchestrator) finalizeCancel(taskID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelGrace)
	defer cancel()

	if _, err := o.confirms.ExpirePending(ctx, taskID); err != nil {
		slog.Warn("orchestrator: failed to expire confirmations", "task_id", taskID, "error", err)
	}
	t, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		slog.Warn("orchestrator: failed to load task for cancellation", "task_id", taskID, "error", err)
		return
	}
	o.skipLiveSteps(ctx, t, "task cancelled")
	if _, err := o.store.UpdateTaskStatus(ctx, taskID, task.StatusCancelled, reason); err != nil {
		slog.Warn("orchestrator: failed to mark task cancelled", "task_id", taskID, "error", err)
		return
	}
	slog.Info("orchestrator: task cancelled", "task_id", taskID)
}

// sweepInterrupted settles tasks a previous process left non-terminal.
// Their runners are gone, so the honest status is failed.
func (o *Orchestrator) sweepInterrupted(ctx context.Context) {
	tasks, err := o.store.ListTasks(ctx)
	if err != nil {
		slog.Warn("orchestrator: failed to list tasks on start", "error", err)
		return
	}
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		if _, err := o.confirms.ExpirePending(ctx, t.ID); err != nil {
			slog.Warn("orchestrator: failed to expire confirmations", "task_id", t.ID, "error", err)
		}
		o.skipLiveSteps(ctx, t, "interrupted by restart")
		if _, err := o.store.UpdateTaskStatus(ctx, t.ID, task.StatusFailed, "interrupted by restart"); err != nil {
			slog.Warn("orchestrator: failed to settle interrupted task", "task_id", t.ID, "error", err)
			continue
		}
		slog.Warn("orchestrator: task interrupted by restart", "task_id", t.ID)
	}
}

func (o *Orchestrator) skipLiveSteps(ctx context.Context, t *task.Task, reason string) {
	plan := t.ActivePlan()
	if plan == nil {
		return
	}
	for _, s := range plan.Steps {
		if s.Status.Terminal() {
			continue
		}
		if _, err := o.store.UpdateStepStatus(ctx, t.ID, s.ID, task.StepSkipped, reason, nil); err != nil {
			slog.Warn("orchestrator: failed to skip step", "task_id", t.ID, "step_id", s.ID, "error", err)
		}
	}
}
