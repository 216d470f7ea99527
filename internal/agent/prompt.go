package agent

import (
	"fmt"
	"strings"

	"github.com/kazz187/taskforge/internal/tool"
)

// Role framings. The rest of the prompt is shared structure; this is the
// only part that differs per role.
var framings = map[Role]string{
	RolePlanner:    "You are an expert planning agent. You break complex goals into clear, independently verifiable steps.",
	RoleCoder:      "You are an expert execution agent. You write files and run commands inside the task workspace to move the step forward.",
	RoleResearcher: "You are an expert research agent. You gather information with read-only tools and report findings.",
	RoleVerifier:   "You are an expert verification agent. You check that earlier steps produced the intended result and judge this step's outcome.",
}

const planContract = `Respond with exactly one JSON object and nothing else:
{"kind":"plan","steps":[{"description":"...","role":"coder","parallel":false,"resources":["out.txt"]}]}
Steps run in plan order. Mark a step "parallel" only when it can run
together with its neighbors; parallel steps whose "resources" tags
overlap never run concurrently. Roles: coder writes files and runs
commands, researcher gathers information, verifier checks the results
of earlier steps.`

const actionContract = `Respond with exactly one JSON object and nothing else. Either the next action:
{"kind":"action","tool":"shell","params":{"command":"..."},"success_check":"text expected in the output (optional)","reason":"..."}
or, when the step is complete or cannot be completed, its outcome:
{"kind":"outcome","outcome":"success","reason":"..."}
Valid outcomes are "success" and "failure".`

func planPrompt(in PlanInput) string {
	var b strings.Builder
	section(&b, "Role", framings[RolePlanner])
	section(&b, "Goal", in.Goal)
	if in.PriorPlan != nil {
		var p strings.Builder
		fmt.Fprintf(&p, "revision %d\n", in.PriorPlan.Revision)
		for i, s := range in.PriorPlan.Steps {
			fmt.Fprintf(&p, "%d. [%s] %s (%s)", i+1, s.Status, s.Description, s.Role)
			if s.StatusReason != "" {
				fmt.Fprintf(&p, " - %s", s.StatusReason)
			}
			p.WriteString("\n")
		}
		section(&b, "Previous plan", strings.TrimRight(p.String(), "\n"))
	}
	if in.FailureNote != "" {
		section(&b, "Failure context", in.FailureNote)
	}
	section(&b, "Available tools", toolsSection())
	section(&b, "Response contract", planContract)
	return strings.TrimRight(b.String(), "\n")
}

func actionPrompt(in ProposeInput) string {
	role := RoleCoder
	if in.Step != nil {
		role = ParseRole(in.Step.Role)
	}
	var b strings.Builder
	section(&b, "Role", framings[role])
	section(&b, "Goal", in.Goal)
	section(&b, "Step", in.Step.Description)
	if len(in.Attempts) > 0 {
		var p strings.Builder
		for i, at := range in.Attempts {
			fmt.Fprintf(&p, "%d. %s: %s\n", i+1, renderInvocation(at.Tool, at.Params), renderAttemptResult(at))
		}
		section(&b, "Prior attempts", strings.TrimRight(p.String(), "\n"))
	}
	section(&b, "Available tools", toolsSection())
	section(&b, "Response contract", actionContract)
	return strings.TrimRight(b.String(), "\n")
}

func section(b *strings.Builder, title, body string) {
	fmt.Fprintf(b, "## %s\n\n%s\n\n", title, body)
}

func toolsSection() string {
	var b strings.Builder
	for _, spec := range tool.Catalog() {
		if len(spec.Params) == 0 {
			fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Summary)
			continue
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", spec.Name, strings.Join(spec.Params, ", "), spec.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderInvocation prints params in catalog order so prompts are stable.
func renderInvocation(name string, params map[string]string) string {
	var keys []string
	for _, spec := range tool.Catalog() {
		if spec.Name == name {
			keys = spec.Params
			break
		}
	}
	var parts []string
	for _, k := range keys {
		if v, ok := params[k]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
	}
	if len(parts) == 0 {
		return name
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}

func renderAttemptResult(at Attempt) string {
	if at.Failed {
		return "failed: " + at.Result
	}
	return "ok: " + at.Result
}
