package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/kazz187/taskforge/internal/sandbox"
	"github.com/kazz187/taskforge/internal/task"
)

func (d *Dispatcher) planState(ctx context.Context, req *ActionRequest, workspace string) (*sandbox.ActionResult, error) {
	handler := func(ctx context.Context) (string, error) {
		t, err := d.plans.GetTask(ctx, req.TaskID)
		if err != nil {
			return "", err
		}
		return renderPlan(t), nil
	}
	return d.runDirect(ctx, req, nil, workspace, handler)
}

func renderPlan(t *task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "task %s [%s] %s\n", t.ID, t.Status, t.Goal)
	p := t.ActivePlan()
	if p == nil {
		b.WriteString("no plan yet\n")
		return b.String()
	}
	fmt.Fprintf(&b, "plan revision %d", p.Revision)
	if p.Reason != "" {
		fmt.Fprintf(&b, " (%s)", p.Reason)
	}
	b.WriteString("\n")
	for i, s := range p.Steps {
		fmt.Fprintf(&b, "%d. [%s] %s (%s)", i+1, s.Status, s.Description, s.Role)
		if s.StatusReason != "" {
			fmt.Fprintf(&b, " - %s", s.StatusReason)
		}
		b.WriteString("\n")
	}
	return b.String()
}
