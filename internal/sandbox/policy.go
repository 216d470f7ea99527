package sandbox

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskforge/internal/config"
	"github.com/kazz187/taskforge/internal/task"
	"github.com/kazz187/taskforge/pkg/ferr"
)

// Policy is the process-wide sandbox configuration: which tools may run at
// all, which invocation patterns are pre-approved, gated, or denied, and the
// resource ceilings every approved execution runs under. Loaded once at
// startup, read-only afterwards.
//
// Rules use the form "tool" or "tool(pattern)" where pattern is a glob with
// "*" wildcards matched against the invocation targets (raw command text,
// each command call, redirect targets, file paths, urls).
type Policy struct {
	AllowedTools   []string      `yaml:"allowed_tools"`
	Allow          []string      `yaml:"allow"`
	Confirm        []string      `yaml:"confirm"`
	Deny           []string      `yaml:"deny"`
	WallClock      time.Duration `yaml:"wall_clock"`
	CPUSeconds     int           `yaml:"cpu_seconds"`
	MemoryMB       int           `yaml:"memory_mb"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	EnvPassthrough []string      `yaml:"env_passthrough"`
}

func defaultPolicy() *Policy {
	return &Policy{
		Allow: []string{
			"file_read", "file_list", "search", "plan_state",
			"shell(ls)", "shell(ls *)", "shell(pwd)", "shell(cat *)",
			"shell(echo *)", "shell(grep *)", "shell(find *)",
		},
		Confirm: []string{"shell", "file_write", "file_delete", "fetch"},
		// Deletion goes through file_delete; raw destructive commands stay out.
		Deny: []string{
			"shell(sudo *)", "shell(rm *)", "shell(mkfs *)",
			"shell(dd *)", "shell(format *)",
		},
	}
}

// LoadPolicy builds the policy from the configured YAML file, or the
// built-in default when no file is set. Ceilings left at zero fall back to
// the env values.
func LoadPolicy(env *config.SandboxEnv) (*Policy, error) {
	p := defaultPolicy()
	if env.PolicyFile != "" {
		data, err := os.ReadFile(env.PolicyFile)
		if err != nil {
			return nil, ferr.NewError(ferr.InvalidArgument, "failed to read sandbox policy file", err)
		}
		p = &Policy{}
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, ferr.NewError(ferr.InvalidArgument, "failed to parse sandbox policy file", err)
		}
	}
	if p.WallClock == 0 {
		p.WallClock = env.WallClock
	}
	if p.CPUSeconds == 0 {
		p.CPUSeconds = env.CPUSeconds
	}
	if p.MemoryMB == 0 {
		p.MemoryMB = env.MemoryMB
	}
	if p.MaxOutputBytes == 0 {
		p.MaxOutputBytes = env.MaxOutputBytes
	}
	return p, nil
}

// Evaluate decides the verdict for one tool invocation before anything runs.
// Precedence: tool whitelist, then deny, then allow, then confirm. Allow is
// checked before confirm so a specific pre-approval ("shell(ls *)")
// suppresses a broader confirm rule ("shell"). An invocation matching no
// rule requires confirmation; the dispatcher lifts that for read-only tools,
// and autonomous mode pre-approves it.
func (p *Policy) Evaluate(tool string, targets []string) task.Verdict {
	if len(p.AllowedTools) > 0 && !containsTool(p.AllowedTools, tool) {
		return task.VerdictDenied
	}
	if matchAnyRule(p.Deny, tool, targets) {
		return task.VerdictDenied
	}
	if matchAnyRule(p.Allow, tool, targets) {
		return task.VerdictAllowed
	}
	if matchAnyRule(p.Confirm, tool, targets) {
		return task.VerdictNeedsConfirmation
	}
	return task.VerdictNeedsConfirmation
}

func containsTool(tools []string, tool string) bool {
	for _, t := range tools {
		if t == tool {
			return true
		}
	}
	return false
}

func matchAnyRule(rules []string, tool string, targets []string) bool {
	for _, rule := range rules {
		if matchRule(rule, tool, targets) {
			return true
		}
	}
	return false
}

// matchRule checks one rule ("tool" or "tool(pattern)") against an
// invocation. A rule without a pattern matches every invocation of the tool;
// with a pattern, any target matching the glob counts.
func matchRule(rule string, tool string, targets []string) bool {
	rTool, rPattern, hasPattern := parseRule(rule)
	if !matchGlob(rTool, tool) {
		return false
	}
	if !hasPattern {
		return true
	}
	for _, target := range targets {
		if matchGlob(rPattern, target) {
			return true
		}
	}
	return false
}

// parseRule splits a rule string into its tool name, optional pattern, and
// whether a pattern was present.
//
//	"shell"          → ("shell", "", false)
//	"shell(git *)"   → ("shell", "git *", true)
func parseRule(rule string) (tool, pattern string, hasPattern bool) {
	idx := strings.Index(rule, "(")
	if idx < 0 {
		return rule, "", false
	}
	if !strings.HasSuffix(rule, ")") {
		return rule, "", false
	}
	return rule[:idx], rule[idx+1 : len(rule)-1], true
}

// matchGlob performs simple glob matching where "*" matches any sequence of
// characters. It supports multiple wildcards (e.g. "git * --*").
func matchGlob(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == "" {
		return value == ""
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}

	parts := strings.Split(pattern, "*")

	if !strings.HasPrefix(value, parts[0]) {
		return false
	}
	remaining := value[len(parts[0]):]

	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(remaining, parts[i])
		if idx < 0 {
			return false
		}
		remaining = remaining[idx+len(parts[i]):]
	}

	return strings.HasSuffix(remaining, parts[len(parts)-1])
}
