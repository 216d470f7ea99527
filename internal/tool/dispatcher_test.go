package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskforge/internal/sandbox"
	"github.com/kazz187/taskforge/internal/task"
	"github.com/kazz187/taskforge/pkg/ferr"
)

type fixedWorkspace struct{ dir string }

func (w fixedWorkspace) Ensure(string) (string, error) { return w.dir, nil }

type fakePlans struct{ task *task.Task }

func (f fakePlans) GetTask(_ context.Context, id string) (*task.Task, error) {
	if f.task == nil || f.task.ID != id {
		return nil, ferr.NewError(ferr.NotFound, "task not found", nil)
	}
	return f.task, nil
}

func testPolicy() *sandbox.Policy {
	return &sandbox.Policy{
		Allow:          []string{"*"},
		WallClock:      5 * time.Second,
		MaxOutputBytes: 64 * 1024,
	}
}

func newTestDispatcher(t *testing.T, policy *sandbox.Policy) (*Dispatcher, string) {
	t.Helper()
	dir := t.TempDir()
	d := NewDispatcher(
		sandbox.NewExecutor(policy, time.Second),
		fixedWorkspace{dir: dir},
		fakePlans{},
		NewStaticProvider(),
	)
	return d, dir
}

func TestDispatcher_UnknownTool(t *testing.T) {
	d, _ := newTestDispatcher(t, testPolicy())

	res, err := d.Dispatch(context.Background(), &ActionRequest{
		TaskID: "t1",
		Tool:   "teleport",
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, ferr.IsCode(err, ferr.UnknownTool))
}

func TestDispatcher_ShellRunsAndCaptures(t *testing.T) {
	d, _ := newTestDispatcher(t, testPolicy())

	res, err := d.Dispatch(context.Background(), &ActionRequest{
		TaskID: "t1",
		Tool:   ToolShell,
		Params: map[string]string{"command": "echo hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, task.VerdictAllowed, res.Verdict)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hi\n", res.Stdout)
}

func TestDispatcher_ShellRequiresCommand(t *testing.T) {
	d, _ := newTestDispatcher(t, testPolicy())

	res, err := d.Dispatch(context.Background(), &ActionRequest{
		TaskID: "t1",
		Tool:   ToolShell,
	})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, ferr.IsCode(err, ferr.InvalidArgument))
}

func TestDispatcher_PolicySeesCommandBehindCd(t *testing.T) {
	policy := testPolicy()
	policy.Deny = []string{"shell(rm *)"}
	d, _ := newTestDispatcher(t, policy)

	res, err := d.Dispatch(context.Background(), &ActionRequest{
		TaskID: "t1",
		Tool:   ToolShell,
		Params: map[string]string{"command": "cd /tmp && rm -rf scratch"},
	})
	require.Error(t, err)
	assert.True(t, ferr.IsCode(err, ferr.PolicyViolation))
	assert.Equal(t, task.VerdictDenied, res.Verdict)
}

func TestDispatcher_ConfirmationGateLiftedForReadOnly(t *testing.T) {
	policy := testPolicy()
	policy.Allow = nil
	policy.Confirm = []string{"file_read", "file_list", "search", "plan_state"}
	d, dir := newTestDispatcher(t, policy)

	writeWorkspaceFile(t, dir, "note.txt", "remember\n")

	res, err := d.Dispatch(context.Background(), &ActionRequest{
		TaskID: "t1",
		Tool:   ToolFileRead,
		Params: map[string]string{"path": "note.txt"},
	})
	require.NoError(t, err, "read-only tools never wait for confirmation")
	assert.Equal(t, task.VerdictAllowed, res.Verdict)
	assert.Equal(t, "remember\n", res.Stdout)
}

func TestDispatcher_ReadOnlyToolStillDeniable(t *testing.T) {
	policy := testPolicy()
	policy.Deny = []string{"file_read(secrets/*)"}
	d, dir := newTestDispatcher(t, policy)

	writeWorkspaceFile(t, dir, "secrets/key.pem", "private\n")

	res, err := d.Dispatch(context.Background(), &ActionRequest{
		TaskID: "t1",
		Tool:   ToolFileRead,
		Params: map[string]string{"path": "secrets/key.pem"},
	})
	require.Error(t, err)
	assert.True(t, ferr.IsCode(err, ferr.PolicyViolation))
	assert.Equal(t, task.VerdictDenied, res.Verdict)
}

func TestDispatcher_ConfirmationGateHoldsForSideEffects(t *testing.T) {
	policy := testPolicy()
	policy.Allow = nil
	policy.Confirm = []string{"file_write"}
	d, _ := newTestDispatcher(t, policy)

	req := &ActionRequest{
		TaskID: "t1",
		Tool:   ToolFileWrite,
		Params: map[string]string{"path": "out.txt", "content": "hello\n"},
	}
	res, err := d.Dispatch(context.Background(), req)
	require.Error(t, err)
	assert.True(t, ferr.IsCode(err, ferr.NeedsConfirmation))
	assert.Equal(t, task.VerdictNeedsConfirmation, res.Verdict)

	req.Approved = true
	res, err = d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}

func TestDispatcher_PlanState(t *testing.T) {
	tsk := task.NewTask("ship the feature", task.ModeAutonomous)
	tsk.Plans = []*task.Plan{{
		Revision: 1,
		Steps: task.BuildSteps([]task.StepDraft{
			{Description: "write code", Role: "coder"},
			{Description: "verify it", Role: "verifier"},
		}),
		CreatedAt: time.Now(),
	}}

	d, _ := newTestDispatcher(t, testPolicy())
	d.plans = fakePlans{task: tsk}

	res, err := d.Dispatch(context.Background(), &ActionRequest{
		TaskID: tsk.ID,
		Tool:   ToolPlanState,
	})
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "ship the feature")
	assert.Contains(t, res.Stdout, "plan revision 1")
	assert.Contains(t, res.Stdout, "1. [pending] write code (coder)")
	assert.Contains(t, res.Stdout, "2. [pending] verify it (verifier)")
}

func TestDispatcher_Describe(t *testing.T) {
	d, _ := newTestDispatcher(t, testPolicy())

	assert.Equal(t, "run: ls -la", d.Describe(&ActionRequest{
		Tool:   ToolShell,
		Params: map[string]string{"command": "ls -la"},
	}))
	assert.Equal(t, "delete old.txt", d.Describe(&ActionRequest{
		Tool:   ToolFileDelete,
		Params: map[string]string{"path": "old.txt"},
	}))
	assert.Equal(t, "fetch https://example.com", d.Describe(&ActionRequest{
		Tool:   ToolFetch,
		Params: map[string]string{"url": "https://example.com"},
	}))

	preview := d.Describe(&ActionRequest{
		TaskID: "t1",
		Tool:   ToolFileWrite,
		Params: map[string]string{"path": "notes.txt", "content": "hello\n"},
	})
	assert.Contains(t, preview, "+hello")
	assert.Contains(t, preview, "b/notes.txt")
}
