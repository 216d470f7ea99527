package tool

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kazz187/taskforge/internal/sandbox"
	"github.com/kazz187/taskforge/internal/task"
	"github.com/kazz187/taskforge/pkg/ferr"
)

// ActionRequest is one tool invocation proposed by an agent. Approved is set
// when a confirmation-gated invocation has been approved (by a human in
// supervised mode, by the mode itself in autonomous mode).
type ActionRequest struct {
	TaskID   string
	StepID   string
	Tool     string
	Params   map[string]string
	Approved bool
}

// WorkspaceResolver hands out the workspace directory of a task, creating it
// on first use.
type WorkspaceResolver interface {
	Ensure(taskID string) (string, error)
}

// PlanReader is the slice of the plan store the plan_state tool needs.
type PlanReader interface {
	GetTask(ctx context.Context, taskID string) (*task.Task, error)
}

type dispatchFunc func(ctx context.Context, req *ActionRequest, workspace string) (*sandbox.ActionResult, error)

// Dispatcher owns the closed tool registry and is the single place that
// decides whether an invocation goes through the sandbox or runs directly.
// Agents never reach the executor themselves.
type Dispatcher struct {
	executor   *sandbox.Executor
	workspaces WorkspaceResolver
	plans      PlanReader
	search     SearchProvider
	httpClient *http.Client
	registry   map[string]dispatchFunc
}

func NewDispatcher(executor *sandbox.Executor, workspaces WorkspaceResolver, plans PlanReader, search SearchProvider) *Dispatcher {
	d := &Dispatcher{
		executor:   executor,
		workspaces: workspaces,
		plans:      plans,
		search:     search,
		httpClient: &http.Client{},
	}
	d.registry = map[string]dispatchFunc{
		ToolShell:      d.shell,
		ToolFileWrite:  d.fileWrite,
		ToolFileDelete: d.fileDelete,
		ToolFetch:      d.fetch,
		ToolFileRead:   d.fileRead,
		ToolFileList:   d.fileList,
		ToolSearch:     d.searchQuery,
		ToolPlanState:  d.planState,
	}
	return d
}

// Dispatch routes one invocation. An unknown tool name is a step-level
// failure with code UnknownTool; a nil result means no verdict was reached
// and nothing ran.
func (d *Dispatcher) Dispatch(ctx context.Context, req *ActionRequest) (*sandbox.ActionResult, error) {
	run, ok := d.registry[req.Tool]
	if !ok {
		return nil, ferr.NewError(ferr.UnknownTool, fmt.Sprintf("unknown tool %q", req.Tool), nil)
	}
	workspace, err := d.workspaces.Ensure(req.TaskID)
	if err != nil {
		return nil, err
	}
	return run(ctx, req, workspace)
}

// runDirect executes a read-only tool. Policy allow/deny still applies but
// the confirmation gate does not: the effective verdict of anything that is
// not denied is allowed.
func (d *Dispatcher) runDirect(ctx context.Context, req *ActionRequest, targets []string, workspace string, handler sandbox.HandlerFunc) (*sandbox.ActionResult, error) {
	result, err := d.executor.Execute(ctx, &sandbox.ExecRequest{
		Tool:      req.Tool,
		Targets:   targets,
		Approved:  true,
		Workspace: workspace,
		Handler:   handler,
	})
	if result != nil && result.Verdict != task.VerdictDenied {
		result.Verdict = task.VerdictAllowed
	}
	return result, err
}

func (d *Dispatcher) shell(ctx context.Context, req *ActionRequest, workspace string) (*sandbox.ActionResult, error) {
	command, err := requireParam(req, "command")
	if err != nil {
		return nil, err
	}
	return d.executor.Execute(ctx, &sandbox.ExecRequest{
		Tool:      req.Tool,
		Targets:   sandbox.AnalyzeShell(command),
		Approved:  req.Approved,
		Workspace: workspace,
		Command:   command,
	})
}

// Describe renders a short human-readable preview of what the invocation
// will do. Confirmation requests carry it so the approver sees the effect,
// not just the tool name.
func (d *Dispatcher) Describe(req *ActionRequest) string {
	switch req.Tool {
	case ToolShell:
		return "run: " + req.Params["command"]
	case ToolFileWrite:
		if diff := d.previewWrite(req); diff != "" {
			return diff
		}
		return "write " + req.Params["path"]
	case ToolFileDelete:
		return "delete " + req.Params["path"]
	case ToolFetch:
		return "fetch " + req.Params["url"]
	default:
		return describeGeneric(req)
	}
}

func describeGeneric(req *ActionRequest) string {
	if len(req.Params) == 0 {
		return req.Tool
	}
	parts := make([]string, 0, len(req.Params))
	for _, spec := range Catalog() {
		if spec.Name != req.Tool {
			continue
		}
		for _, key := range spec.Params {
			if v, ok := req.Params[key]; ok {
				parts = append(parts, fmt.Sprintf("%s=%s", key, v))
			}
		}
	}
	if len(parts) == 0 {
		for k, v := range req.Params {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
	}
	return req.Tool + " " + strings.Join(parts, " ")
}

func requireParam(req *ActionRequest, key string) (string, error) {
	v := strings.TrimSpace(req.Params[key])
	if v == "" {
		return "", ferr.NewError(ferr.InvalidArgument,
			fmt.Sprintf("%s requires param %q", req.Tool, key), nil)
	}
	return v, nil
}
