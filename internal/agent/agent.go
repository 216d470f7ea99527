package agent

import (
	"context"
	"fmt"

	"github.com/kazz187/taskforge/internal/config"
	"github.com/kazz187/taskforge/internal/reasoning"
	"github.com/kazz187/taskforge/internal/task"
	"github.com/kazz187/taskforge/internal/tool"
	"github.com/kazz187/taskforge/pkg/ferr"
)

// Role selects the framing of an agent's prompt. The planner produces
// plans; the other roles execute steps.
type Role string

const (
	RolePlanner    Role = "planner"
	RoleCoder      Role = "coder"
	RoleResearcher Role = "researcher"
	RoleVerifier   Role = "verifier"
)

// ParseRole normalizes a role name coming from a plan decision. Anything
// unknown executes as coder rather than failing the plan.
func ParseRole(s string) Role {
	switch Role(s) {
	case RolePlanner, RoleCoder, RoleResearcher, RoleVerifier:
		return Role(s)
	}
	return RoleCoder
}

// PlanInput is everything the planner sees. PriorPlan and FailureNote are
// set on replans so the next revision learns from the failed one.
type PlanInput struct {
	Goal        string
	PriorPlan   *task.Plan
	FailureNote string
}

// ProposeInput is everything an executing agent sees for one proposal.
type ProposeInput struct {
	TaskID   string
	Goal     string
	Step     *task.Step
	Attempts []Attempt
}

// Attempt summarizes one earlier action of the step, executed or not, so
// the next proposal can react to it.
type Attempt struct {
	Tool   string
	Params map[string]string
	Result string
	Failed bool
}

// StepOutcome is an agent's terminal verdict on its own step.
type StepOutcome struct {
	Success bool
	Reason  string
}

// Proposal is one agent answer: either the next action (with an optional
// success condition checked against the action output) or a terminal
// outcome for the step.
type Proposal struct {
	Action       *tool.ActionRequest
	SuccessCheck string
	Outcome      *StepOutcome
}

// Agent is stateless: every proposal is a pure function of the input and
// the reasoning answer. All durable state lives in the plan store.
type Agent struct {
	gateway *reasoning.Gateway
	env     *config.ReasoningEnv
}

func New(gateway *reasoning.Gateway, env *config.ReasoningEnv) *Agent {
	return &Agent{gateway: gateway, env: env}
}

// ProposePlan asks the planner for step drafts, from the goal alone or
// from the wreckage of the previous plan on a replan.
func (a *Agent) ProposePlan(ctx context.Context, in PlanInput) ([]task.StepDraft, error) {
	d, err := a.gateway.Ask(ctx, &reasoning.Request{
		Prompt:      planPrompt(in),
		Temperature: a.env.PlanningTemperature,
		TopP:        a.env.TopP,
		MaxTokens:   a.env.MaxPlanningTokens,
	})
	if err != nil {
		return nil, err
	}
	if d.Kind != reasoning.DecisionPlan {
		return nil, ferr.NewError(ferr.ReasoningMalformed,
			fmt.Sprintf("planner returned a %s decision", d.Kind), nil)
	}
	drafts := make([]task.StepDraft, 0, len(d.Steps))
	for _, s := range d.Steps {
		drafts = append(drafts, task.StepDraft{
			Description: s.Description,
			Role:        string(ParseRole(s.Role)),
			Parallel:    s.Parallel,
			Resources:   s.Resources,
		})
	}
	return drafts, nil
}

// ProposeNextAction asks the step's agent what to do next.
func (a *Agent) ProposeNextAction(ctx context.Context, in ProposeInput) (*Proposal, error) {
	d, err := a.gateway.Ask(ctx, &reasoning.Request{
		Prompt:      actionPrompt(in),
		Temperature: a.env.ExecutionTemperature,
		TopP:        a.env.TopP,
		MaxTokens:   a.env.MaxExecutionTokens,
	})
	if err != nil {
		return nil, err
	}
	switch d.Kind {
	case reasoning.DecisionAction:
		return &Proposal{
			Action: &tool.ActionRequest{
				TaskID: in.TaskID,
				StepID: in.Step.ID,
				Tool:   d.Tool,
				Params: d.Params,
			},
			SuccessCheck: d.SuccessCheck,
		}, nil
	case reasoning.DecisionOutcome:
		switch d.Outcome {
		case "success":
			return &Proposal{Outcome: &StepOutcome{Success: true, Reason: d.Reason}}, nil
		case "failure":
			return &Proposal{Outcome: &StepOutcome{Success: false, Reason: d.Reason}}, nil
		}
		return nil, ferr.NewError(ferr.ReasoningMalformed,
			fmt.Sprintf("unknown outcome %q", d.Outcome), nil)
	}
	return nil, ferr.NewError(ferr.ReasoningMalformed,
		fmt.Sprintf("executing agent returned a %s decision", d.Kind), nil)
}
