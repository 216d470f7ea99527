package task

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kazz187/taskforge/internal/event"
	"github.com/kazz187/taskforge/pkg/ferr"
)

// Store is the single writer for task state. Every mutation goes through a
// per-task mutex, so a read-modify-write against the repository is atomic
// and the events recorded under the lock come out in completion order.
type Store struct {
	repo     Repository
	recorder *event.Recorder

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(repo Repository, recorder *event.Recorder) *Store {
	return &Store{
		repo:     repo,
		recorder: recorder,
		locks:    map[string]*sync.Mutex{},
	}
}

func (s *Store) lock(taskID string) func() {
	s.mu.Lock()
	l, ok := s.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[taskID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Store) CreateTask(ctx context.Context, goal string, mode Mode) (*Task, error) {
	if goal == "" {
		return nil, ferr.NewError(ferr.InvalidArgument, "goal is required", nil)
	}
	t := NewTask(goal, mode)
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.recorder.Record(ctx, event.New(event.TypeTaskCreated, t.ID).
		WithMessage(goal).
		WithField("mode", string(mode)))
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	return s.repo.Get(ctx, taskID)
}

func (s *Store) ListTasks(ctx context.Context) ([]*Task, error) {
	return s.repo.List(ctx)
}

// AppendPlan adds a new plan revision. expectedRevision is the revision the
// caller planned against; a mismatch means someone else revised the plan in
// the meantime and the caller must reload before retrying. Terminal steps of
// the superseded revision are carried into the new one with their records so
// the active plan stays a complete account of the task.
func (s *Store) AppendPlan(ctx context.Context, taskID string, drafts []StepDraft, expectedRevision int, reason string) (*Task, error) {
	if len(drafts) == 0 {
		return nil, ferr.NewError(ferr.InvalidArgument, "plan needs at least one step", nil)
	}
	unlock := s.lock(taskID)
	defer unlock()

	t, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, ferr.NewError(ferr.Conflict, fmt.Sprintf("task is %s, plan is frozen", t.Status), nil)
	}
	if current := t.CurrentRevision(); current != expectedRevision {
		return nil, ferr.NewError(ferr.Conflict,
			fmt.Sprintf("plan revision moved: expected %d, current %d", expectedRevision, current), nil)
	}

	steps := BuildSteps(drafts)
	if prior := t.ActivePlan(); prior != nil {
		var carried []*Step
		for _, prev := range prior.Steps {
			if prev.Status.Terminal() {
				c := *prev
				carried = append(carried, &c)
			}
		}
		steps = append(carried, steps...)
	}

	now := time.Now().UTC()
	plan := &Plan{
		Revision:  expectedRevision + 1,
		Reason:    reason,
		Steps:     steps,
		CreatedAt: now,
	}
	t.Plans = append(t.Plans, plan)
	t.UpdatedAt = now
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, event.New(event.TypePlanAppended, t.ID).
		WithMessage(reason).
		WithField("revision", strconv.Itoa(plan.Revision)).
		WithField("steps", strconv.Itoa(len(plan.Steps))))
	return t, nil
}

// UpdateStepStatus records an action on a step, transitions its status, or
// both in one write. Passing the step's current status with an action
// journals a retry attempt without a transition. Steps from superseded plan
// revisions are not found.
func (s *Store) UpdateStepStatus(ctx context.Context, taskID, stepID string, status StepStatus, reason string, action *Action) (*Task, error) {
	unlock := s.lock(taskID)
	defer unlock()

	t, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	step := t.FindStep(stepID)
	if step == nil {
		return nil, ferr.NewError(ferr.NotFound, "step not found in active plan", nil)
	}
	if step.Status.Terminal() {
		return nil, ferr.NewError(ferr.Conflict,
			fmt.Sprintf("step is %s and its record is frozen", step.Status), nil)
	}

	if action != nil {
		step.Actions = append(step.Actions, action)
	}

	transitioned := false
	from := step.Status
	if status != step.Status {
		if !ValidStepTransition(step.Status, status) {
			return nil, ferr.NewError(ferr.Conflict,
				fmt.Sprintf("invalid step transition %s -> %s", step.Status, status), nil)
		}
		if status == StepSucceeded && !step.Succeeded() {
			return nil, ferr.NewError(ferr.InvalidArgument, "step has no successful action", nil)
		}
		step.Status = status
		step.StatusReason = reason
		transitioned = true
	}

	now := time.Now().UTC()
	step.UpdatedAt = now
	t.UpdatedAt = now
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}

	if action != nil {
		s.recorder.Record(ctx, actionEvent(t.ID, stepID, action))
	}
	if transitioned {
		s.recorder.Record(ctx, event.New(event.TypeStepStatusChanged, t.ID).
			WithStep(stepID).
			WithMessage(reason).
			WithField("from", string(from)).
			WithField("to", string(status)))
	}
	return t, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status Status, reason string) (*Task, error) {
	unlock := s.lock(taskID)
	defer unlock()

	t, err := s.repo.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status == status {
		return t, nil
	}
	if !ValidTaskTransition(t.Status, status) {
		return nil, ferr.NewError(ferr.Conflict,
			fmt.Sprintf("invalid task transition %s -> %s", t.Status, status), nil)
	}

	from := t.Status
	t.Status = status
	t.StatusReason = reason
	t.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}

	s.recorder.Record(ctx, event.New(event.TypeTaskStatusChanged, t.ID).
		WithMessage(reason).
		WithField("from", string(from)).
		WithField("to", string(status)))
	return t, nil
}

func actionEvent(taskID, stepID string, a *Action) *event.ExecutionEvent {
	ev := event.New(event.TypeActionRecorded, taskID).
		WithStep(stepID).
		WithAction(a.ID).
		WithField("tool", a.Tool).
		WithField("verdict", string(a.Verdict))
	switch {
	case a.Verdict == VerdictDenied:
		ev.WithMessage("denied by policy")
	case a.Error != "":
		ev.WithMessage(a.Error)
	default:
		ev.WithMessage(fmt.Sprintf("exit %d", a.ExitCode)).
			WithField("exit_code", strconv.Itoa(a.ExitCode))
	}
	return ev
}
