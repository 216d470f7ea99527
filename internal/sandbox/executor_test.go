package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskforge/internal/task"
	"github.com/kazz187/taskforge/pkg/ferr"
)

func permissiveExecutor(wall time.Duration, maxOutput int) *Executor {
	return NewExecutor(&Policy{
		Allow:          []string{"*"},
		WallClock:      wall,
		MaxOutputBytes: maxOutput,
	}, time.Second)
}

func shellRequest(workspace, command string) *ExecRequest {
	return &ExecRequest{
		Tool:      "shell",
		Targets:   AnalyzeShell(command),
		Workspace: workspace,
		Command:   command,
	}
}

func TestExecutor_DeniedNothingRuns(t *testing.T) {
	dir := t.TempDir()
	executor := NewExecutor(&Policy{
		Allow:          []string{"*"},
		Deny:           []string{"shell(touch *)"},
		WallClock:      5 * time.Second,
		MaxOutputBytes: 4096,
	}, time.Second)

	result, err := executor.Execute(context.Background(), shellRequest(dir, "touch marker"))
	require.Error(t, err)
	assert.True(t, ferr.IsCode(err, ferr.PolicyViolation))
	assert.Equal(t, task.VerdictDenied, result.Verdict)

	_, statErr := os.Stat(filepath.Join(dir, "marker"))
	assert.True(t, os.IsNotExist(statErr), "denied command must not run")
}

func TestExecutor_ConfirmationGate(t *testing.T) {
	dir := t.TempDir()
	executor := NewExecutor(&Policy{
		Confirm:        []string{"shell"},
		WallClock:      5 * time.Second,
		MaxOutputBytes: 4096,
	}, time.Second)

	req := shellRequest(dir, "touch marker")
	result, err := executor.Execute(context.Background(), req)
	require.Error(t, err)
	assert.True(t, ferr.IsCode(err, ferr.NeedsConfirmation))
	assert.Equal(t, task.VerdictNeedsConfirmation, result.Verdict)
	_, statErr := os.Stat(filepath.Join(dir, "marker"))
	assert.True(t, os.IsNotExist(statErr), "gated command must not run before approval")

	req.Approved = true
	result, err = executor.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	_, statErr = os.Stat(filepath.Join(dir, "marker"))
	assert.NoError(t, statErr, "approved command runs")
}

func TestExecutor_NonZeroExitIsNotAnError(t *testing.T) {
	executor := permissiveExecutor(5*time.Second, 4096)

	result, err := executor.Execute(context.Background(), shellRequest(t.TempDir(), "echo oops >&2; exit 3"))
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "oops\n", result.Stderr)
}

func TestExecutor_CapturesOutput(t *testing.T) {
	executor := permissiveExecutor(5*time.Second, 4096)

	result, err := executor.Execute(context.Background(), shellRequest(t.TempDir(), "echo one; echo two"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "one\ntwo\n", result.Stdout)
	assert.False(t, result.Truncated)
}

func TestExecutor_TruncatesOutput(t *testing.T) {
	executor := permissiveExecutor(5*time.Second, 16)

	result, err := executor.Execute(context.Background(),
		shellRequest(t.TempDir(), "i=0; while [ $i -lt 100 ]; do echo 0123456789; i=$((i+1)); done"))
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.LessOrEqual(t, len(result.Stdout), 16)
	assert.Equal(t, 0, result.ExitCode)
}

func TestExecutor_TimedOutWithinGraceAndNoSurvivors(t *testing.T) {
	dir := t.TempDir()
	executor := permissiveExecutor(300*time.Millisecond, 4096)

	started := time.Now()
	result, err := executor.Execute(context.Background(), shellRequest(dir, "sleep 2 && touch survivor"))
	elapsed := time.Since(started)

	require.Error(t, err)
	assert.True(t, ferr.IsCode(err, ferr.TimedOut))
	assert.Equal(t, task.VerdictAllowed, result.Verdict)
	// Wall clock plus kill grace plus scheduling slack.
	assert.Less(t, elapsed, 300*time.Millisecond+executor.killGrace+time.Second)

	// If anything survived the group kill it would create the marker.
	time.Sleep(2200 * time.Millisecond)
	_, statErr := os.Stat(filepath.Join(dir, "survivor"))
	assert.True(t, os.IsNotExist(statErr), "no process survives a timed out execution")
}

func TestExecutor_CancelKillsProcessGroup(t *testing.T) {
	executor := permissiveExecutor(10*time.Second, 4096)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	started := time.Now()
	_, err := executor.Execute(ctx, shellRequest(t.TempDir(), "sleep 5"))
	require.Error(t, err)
	assert.True(t, ferr.IsCode(err, ferr.Cancelled))
	assert.Less(t, time.Since(started), 3*time.Second)
}

func TestExecutor_EnvReduction(t *testing.T) {
	t.Setenv("TASKFORGE_TEST_KEEP", "kept")
	t.Setenv("TASKFORGE_TEST_DROP", "leaked")

	executor := NewExecutor(&Policy{
		Allow:          []string{"*"},
		WallClock:      5 * time.Second,
		MaxOutputBytes: 4096,
		EnvPassthrough: []string{"TASKFORGE_TEST_KEEP"},
	}, time.Second)

	result, err := executor.Execute(context.Background(),
		shellRequest(t.TempDir(), `echo "${TASKFORGE_TEST_KEEP}-${TASKFORGE_TEST_DROP}"`))
	require.NoError(t, err)
	assert.Equal(t, "kept-\n", result.Stdout)
}

func TestExecutor_HandlerRuns(t *testing.T) {
	executor := permissiveExecutor(time.Second, 8)

	result, err := executor.Execute(context.Background(), &ExecRequest{
		Tool:      "file_write",
		Targets:   []string{"out.txt"},
		Workspace: t.TempDir(),
		Handler: func(ctx context.Context) (string, error) {
			return "this output is longer than the cap", nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "this out", result.Stdout)
	assert.True(t, result.Truncated)
}

func TestExecutor_HandlerFailureIsNormalResult(t *testing.T) {
	executor := permissiveExecutor(time.Second, 4096)

	result, err := executor.Execute(context.Background(), &ExecRequest{
		Tool:      "file_write",
		Targets:   []string{"out.txt"},
		Workspace: t.TempDir(),
		Handler: func(ctx context.Context) (string, error) {
			return "", errors.New("disk full")
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
	assert.Equal(t, "disk full", result.Stderr)
}

func TestExecutor_HandlerTimeout(t *testing.T) {
	executor := permissiveExecutor(200*time.Millisecond, 4096)

	_, err := executor.Execute(context.Background(), &ExecRequest{
		Tool:      "fetch",
		Targets:   []string{"https://example.com"},
		Workspace: t.TempDir(),
		Handler: func(ctx context.Context) (string, error) {
			select {
			case <-time.After(5 * time.Second):
				return "late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	})
	require.Error(t, err)
	assert.True(t, ferr.IsCode(err, ferr.TimedOut))
}

func TestExecutor_ScriptPrelude(t *testing.T) {
	executor := NewExecutor(&Policy{
		CPUSeconds: 7,
		MemoryMB:   64,
	}, time.Second)

	script := executor.script("echo hi")
	if !strings.Contains(script, "ulimit -t 7") {
		t.Errorf("script missing CPU ceiling: %q", script)
	}
	if !strings.Contains(script, "ulimit -v 65536") {
		t.Errorf("script missing memory ceiling: %q", script)
	}
	if !strings.HasSuffix(script, "echo hi\n") {
		t.Errorf("script must end with the command: %q", script)
	}
}
