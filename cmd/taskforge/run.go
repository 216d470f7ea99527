package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/sourcegraph/conc"

	"github.com/kazz187/taskforge/internal/config"
	"github.com/kazz187/taskforge/internal/event"
	"github.com/kazz187/taskforge/internal/task"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	stepColor    = color.New(color.FgBlue)
	okColor      = color.New(color.FgGreen)
	failColor    = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	dimColor     = color.New(color.Faint)
	promptColor  = color.New(color.FgYellow, color.Bold)
	verdictColor = color.New(color.FgMagenta)
)

// runOnce executes one goal in-process: events render to the terminal as
// they happen and confirmation requests become interactive prompts.
func runOnce(env *config.Env, goal, modeFlag string, yolo, verbose bool) error {
	mode, err := task.ParseMode(modeFlag)
	if err != nil {
		return err
	}
	if yolo {
		mode = task.ModeAutonomous
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := buildComponents(ctx, env)
	if err != nil {
		return err
	}
	if err := c.orch.Start(ctx); err != nil {
		return err
	}

	// Subscribe before the task starts so no event is missed.
	subID, events := c.bus.Subscribe(256)
	defer c.bus.Unsubscribe(subID)

	headerColor.Printf("goal: %s\n", goal)
	dimColor.Printf("mode: %s\n\n", mode)

	t, err := c.orch.StartTask(ctx, goal, mode)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	wg := conc.NewWaitGroup()
	wg.Go(func() {
		defer close(done)
		_ = c.orch.WaitTask(ctx, t.ID)
	})

	stdin := bufio.NewReader(os.Stdin)
render:
	for {
		select {
		case <-done:
			break render
		case ev, ok := <-events:
			if !ok {
				break render
			}
			if ev.TaskID != t.ID {
				continue
			}
			renderEvent(ev, verbose)
			if ev.Type == event.TypeConfirmationRequested && mode == task.ModeSupervised {
				if err := promptConfirmation(ctx, c, stdin, ev.Fields["confirmation_id"]); err != nil {
					warnColor.Printf("confirmation failed: %v\n", err)
				}
			}
		}
	}
	wg.Wait()

	final, err := c.store.GetTask(context.Background(), t.ID)
	if err != nil {
		return err
	}
	fmt.Println()
	switch final.Status {
	case task.StatusCompleted:
		okColor.Printf("task %s: %s\n", final.Status, final.StatusReason)
	case task.StatusCancelled:
		warnColor.Printf("task %s: %s\n", final.Status, final.StatusReason)
	default:
		failColor.Printf("task %s: %s\n", final.Status, final.StatusReason)
		return fmt.Errorf("task did not complete")
	}
	dimColor.Printf("workspace: %s\n", workspacePath(c, final.ID))
	return nil
}

func workspacePath(c *components, taskID string) string {
	dir, err := c.workspaces.Ensure(taskID)
	if err != nil {
		return "(unavailable)"
	}
	return dir
}

func renderEvent(ev *event.ExecutionEvent, verbose bool) {
	switch ev.Type {
	case event.TypePlanAppended:
		headerColor.Printf("plan revision %s (%s steps)\n", ev.Fields["revision"], ev.Fields["steps"])
		if ev.Message != "" {
			dimColor.Printf("  %s\n", ev.Message)
		}
	case event.TypeStepStatusChanged:
		line := fmt.Sprintf("step %s -> %s", shortID(ev.StepID), ev.Fields["to"])
		if ev.Message != "" {
			line += ": " + ev.Message
		}
		switch task.StepStatus(ev.Fields["to"]) {
		case task.StepSucceeded:
			okColor.Println(line)
		case task.StepFailed:
			failColor.Println(line)
		case task.StepAwaitingConfirmation:
			warnColor.Println(line)
		default:
			stepColor.Println(line)
		}
	case event.TypeActionRecorded:
		verdictColor.Printf("  action %s [%s] %s\n", ev.Fields["tool"], ev.Fields["verdict"], ev.Message)
	case event.TypeErrorRecorded:
		failColor.Printf("  error [%s] %s\n", ev.Fields["code"], ev.Message)
	case event.TypeTaskStatusChanged:
		dimColor.Printf("task -> %s\n", ev.Fields["to"])
	default:
		if verbose {
			dimColor.Printf("  %s %s\n", ev.Type, ev.Message)
		}
	}
}

func promptConfirmation(ctx context.Context, c *components, stdin *bufio.Reader, confirmationID string) error {
	if confirmationID == "" {
		return nil
	}
	conf, err := c.confirms.Get(ctx, confirmationID)
	if err != nil {
		return err
	}

	fmt.Println()
	promptColor.Println("confirmation required:")
	for _, line := range strings.Split(strings.TrimRight(conf.Description, "\n"), "\n") {
		fmt.Printf("  %s\n", line)
	}
	promptColor.Print("approve? [y/N] ")

	answer, err := stdin.ReadString('\n')
	if err != nil {
		return err
	}
	approve := false
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		approve = true
	}
	reason := ""
	if !approve {
		reason = "rejected at the terminal"
	}
	_, err = c.confirms.Resolve(ctx, confirmationID, approve, reason)
	return err
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return strings.ToLower(id[len(id)-8:])
}
