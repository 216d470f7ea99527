package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskforge/internal/task"
	"github.com/kazz187/taskforge/pkg/ferr"
)

const (
	scannerBufSize    = 64 * 1024
	scannerMaxBufSize = 1024 * 1024
	killPollInterval  = 50 * time.Millisecond
)

// HandlerFunc is an in-process tool implementation the executor runs under
// the wall clock and output cap. A returned error is a tool failure (normal
// result, exit code 1), not a sandbox violation.
type HandlerFunc func(ctx context.Context) (output string, err error)

// ExecRequest is one tool invocation. Exactly one of Command or Handler is
// set: Command runs as a /bin/sh subprocess in its own process group,
// Handler runs in-process.
type ExecRequest struct {
	Tool      string
	Targets   []string
	Approved  bool
	Workspace string
	Env       map[string]string

	Command string
	Handler HandlerFunc
}

// ActionResult captures one execution. Non-zero exit codes are normal
// results; only sandbox-level violations surface as errors, and the result
// still carries whatever output was captured before the violation.
type ActionResult struct {
	Verdict   task.Verdict
	ExitCode  int
	Stdout    string
	Stderr    string
	Truncated bool
	Elapsed   time.Duration
}

// Executor runs single actions under the policy's verdict rules and
// resource ceilings. It owns every process it spawns: no process group
// survives a finished, timed out, or cancelled execution.
type Executor struct {
	policy    *Policy
	killGrace time.Duration
}

func NewExecutor(policy *Policy, killGrace time.Duration) *Executor {
	if killGrace <= 0 {
		killGrace = 2 * time.Second
	}
	return &Executor{policy: policy, killGrace: killGrace}
}

func (e *Executor) Policy() *Policy {
	return e.policy
}

// OutputLimit is the byte cap applied to every captured output, exposed for
// handlers that produce output outside the executor.
func (e *Executor) OutputLimit() int {
	return e.policy.MaxOutputBytes
}

// Execute decides the verdict first and runs only allowed (or approved)
// invocations. Denied patterns return PolicyViolation, gated patterns
// without approval return NeedsConfirmation; in both cases nothing spawns
// and the result records the verdict.
func (e *Executor) Execute(ctx context.Context, req *ExecRequest) (*ActionResult, error) {
	verdict := e.policy.Evaluate(req.Tool, req.Targets)
	result := &ActionResult{Verdict: verdict}
	switch verdict {
	case task.VerdictDenied:
		return result, ferr.NewError(ferr.PolicyViolation,
			fmt.Sprintf("%s invocation denied by sandbox policy", req.Tool), nil)
	case task.VerdictNeedsConfirmation:
		if !req.Approved {
			return result, ferr.NewError(ferr.NeedsConfirmation,
				fmt.Sprintf("%s invocation requires confirmation", req.Tool), nil)
		}
	}

	started := time.Now()
	var err error
	if req.Handler != nil {
		err = e.runHandler(ctx, req, result)
	} else {
		err = e.runScript(ctx, req, result)
	}
	result.Elapsed = time.Since(started)
	return result, err
}

func (e *Executor) runHandler(ctx context.Context, req *ExecRequest, result *ActionResult) error {
	runCtx, cancel := context.WithTimeout(ctx, e.policy.WallClock)
	defer cancel()

	type handlerOut struct {
		output string
		err    error
	}
	done := make(chan handlerOut, 1)
	go func() {
		out, err := req.Handler(runCtx)
		done <- handlerOut{output: out, err: err}
	}()

	select {
	case out := <-done:
		result.Stdout, result.Truncated = capOutput(out.output, e.policy.MaxOutputBytes)
		if out.err != nil {
			result.ExitCode = 1
			var truncated bool
			result.Stderr, truncated = capOutput(out.err.Error(), e.policy.MaxOutputBytes)
			result.Truncated = result.Truncated || truncated
		}
		return nil
	case <-runCtx.Done():
		result.ExitCode = -1
		if ctx.Err() != nil {
			return ferr.NewError(ferr.Cancelled, "execution cancelled", ctx.Err())
		}
		return ferr.NewError(ferr.TimedOut,
			fmt.Sprintf("%s exceeded the wall clock of %s", req.Tool, e.policy.WallClock), nil)
	}
}

func (e *Executor) runScript(ctx context.Context, req *ExecRequest, result *ActionResult) error {
	tmpDir := filepath.Join(req.Workspace, ".taskforge", "tmp")
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return ferr.NewError(ferr.Internal, "failed to create sandbox temp directory", err)
	}
	tmpFile := filepath.Join(tmpDir, fmt.Sprintf("exec_%s.sh", ulid.Make().String()))
	if err := os.WriteFile(tmpFile, []byte(e.script(req.Command)), 0755); err != nil {
		return ferr.NewError(ferr.Internal, "failed to write sandbox script", err)
	}
	defer os.Remove(tmpFile)

	cmd := exec.Command("/bin/sh", tmpFile)
	cmd.Dir = req.Workspace
	cmd.Env = e.buildEnv(req.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return ferr.NewError(ferr.Internal, "failed to create stdout pipe", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return ferr.NewError(ferr.Internal, "failed to create stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return ferr.NewError(ferr.Internal, "failed to start sandbox process", err)
	}
	pgid := cmd.Process.Pid

	stdout := newCappedBuffer(e.policy.MaxOutputBytes)
	stderr := newCappedBuffer(e.policy.MaxOutputBytes)

	var readers sync.WaitGroup
	readers.Add(2)
	go drainPipe(&readers, stdoutPipe, stdout)
	go drainPipe(&readers, stderrPipe, stderr)

	// Wait only after both pipes are drained; Wait closes the pipes.
	done := make(chan error, 1)
	go func() {
		readers.Wait()
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(e.policy.WallClock)
	defer timer.Stop()

	var waitErr error
	timedOut := false
	cancelled := false
	select {
	case waitErr = <-done:
	case <-timer.C:
		timedOut = true
		e.terminate(pgid)
		waitErr = <-done
	case <-ctx.Done():
		cancelled = true
		e.terminate(pgid)
		waitErr = <-done
	}

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Truncated = stdout.Truncated() || stderr.Truncated()

	switch {
	case cancelled:
		result.ExitCode = -1
		return ferr.NewError(ferr.Cancelled, "execution cancelled", ctx.Err())
	case timedOut:
		result.ExitCode = -1
		return ferr.NewError(ferr.TimedOut,
			fmt.Sprintf("command exceeded the wall clock of %s", e.policy.WallClock), nil)
	}

	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return ferr.NewError(ferr.Internal, "sandbox process wait failed", waitErr)
		}
		result.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			switch ws.Signal() {
			case syscall.SIGXCPU:
				return ferr.NewError(ferr.ResourceExceeded, "command exceeded the CPU ceiling", nil)
			case syscall.SIGKILL:
				return ferr.NewError(ferr.ResourceExceeded, "command killed by the host resource controller", nil)
			}
		}
		// The shell reports a child killed by the CPU ceiling as 128+SIGXCPU.
		if result.ExitCode == 128+int(syscall.SIGXCPU) {
			return ferr.NewError(ferr.ResourceExceeded, "command exceeded the CPU ceiling", nil)
		}
	}
	return nil
}

// script wraps the command with a ulimit prelude so CPU and memory ceilings
// apply to the whole process group.
func (e *Executor) script(command string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	if e.policy.CPUSeconds > 0 {
		fmt.Fprintf(&b, "ulimit -t %d 2>/dev/null || true\n", e.policy.CPUSeconds)
	}
	if e.policy.MemoryMB > 0 {
		fmt.Fprintf(&b, "ulimit -v %d 2>/dev/null || true\n", e.policy.MemoryMB*1024)
	}
	b.WriteString(command)
	b.WriteString("\n")
	return b.String()
}

// buildEnv reduces the subprocess environment to PATH, HOME, the policy's
// passthrough list, and the request's extra variables.
func (e *Executor) buildEnv(extra map[string]string) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
	}
	for _, key := range e.policy.EnvPassthrough {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// terminate tears down the whole process group: TERM, a bounded grace, then
// KILL. Signal 0 polling detects the group going away early.
func (e *Executor) terminate(pgid int) {
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	deadline := time.NewTimer(e.killGrace)
	defer deadline.Stop()
	tick := time.NewTicker(killPollInterval)
	defer tick.Stop()

	for {
		select {
		case <-deadline.C:
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
			return
		case <-tick.C:
			if syscall.Kill(-pgid, 0) != nil {
				return
			}
		}
	}
}

// drainPipe reads a pipe to EOF so the child never blocks on a full pipe,
// even after the capped buffer stops accepting output.
func drainPipe(wg *sync.WaitGroup, pipe io.ReadCloser, buf *cappedBuffer) {
	defer wg.Done()
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, scannerBufSize), scannerMaxBufSize)
	for scanner.Scan() {
		buf.WriteLine(scanner.Text())
	}
	_, _ = io.Copy(io.Discard, pipe)
}

type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) WriteLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return
	}
	if b.buf.Len()+len(line)+1 > b.limit {
		remain := b.limit - b.buf.Len()
		if remain > 0 {
			b.buf.WriteString(line[:min(remain, len(line))])
		}
		b.truncated = true
		return
	}
	b.buf.WriteString(line)
	b.buf.WriteByte('\n')
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

func capOutput(s string, limit int) (string, bool) {
	if len(s) > limit {
		return s[:limit], true
	}
	return s, false
}
