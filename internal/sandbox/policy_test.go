package sandbox

import (
	"testing"

	"github.com/kazz187/taskforge/internal/task"
)

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		// Exact match
		{"ls", "ls", true},
		{"ls", "rm", false},
		{"ls", "lsof", false},
		{"ls", "", false},

		// Wildcard only
		{"*", "anything", true},
		{"*", "", true},

		// Trailing wildcard (prefix match)
		{"git *", "git status", true},
		{"git *", "git commit -m 'test'", true},
		{"git *", "git", false}, // no space after "git"
		{"rm -rf *", "rm -rf build", true},
		{"rm -rf *", "rm build", false},

		// Leading wildcard (suffix match)
		{"*.yaml", "policy.yaml", true},
		{"*.yaml", "policy.json", false},

		// Middle wildcard
		{"git * --force", "git push --force", true},
		{"git * --force", "git push origin main --force", true},
		{"git * --force", "git push", false},

		// Multiple wildcards
		{"*secret*", "cat secrets.txt", true},
		{"*secret*", "secret", true},
		{"*secret*", "ls", false},

		// Empty pattern
		{"", "", true},
		{"", "ls", false},

		// No wildcard
		{"npm test", "npm test", true},
		{"npm test", "npm test --watch", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.value, func(t *testing.T) {
			got := matchGlob(tt.pattern, tt.value)
			if got != tt.want {
				t.Errorf("matchGlob(%q, %q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
			}
		})
	}
}

func TestParseRule(t *testing.T) {
	tests := []struct {
		rule       string
		wantTool   string
		wantPat    string
		wantHasPat bool
	}{
		{"shell", "shell", "", false},
		{"file_write", "file_write", "", false},
		{"shell(git *)", "shell", "git *", true},
		{"shell(npm test --watch)", "shell", "npm test --watch", true},
		{"fetch(https://*)", "fetch", "https://*", true},
		// Malformed: no closing paren → treated as no-pattern
		{"shell(git *", "shell(git *", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			tool, pat, hasPat := parseRule(tt.rule)
			if tool != tt.wantTool || pat != tt.wantPat || hasPat != tt.wantHasPat {
				t.Errorf("parseRule(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.rule, tool, pat, hasPat, tt.wantTool, tt.wantPat, tt.wantHasPat)
			}
		})
	}
}

func TestPolicyEvaluate(t *testing.T) {
	policy := &Policy{
		AllowedTools: []string{"shell", "file_write", "file_read", "fetch"},
		Allow:        []string{"file_read", "shell(ls *)", "shell(cat *)"},
		Confirm:      []string{"shell", "file_write", "fetch"},
		Deny:         []string{"shell(sudo *)", "shell(rm -rf /*)", "fetch(http://*)"},
	}

	tests := []struct {
		name    string
		tool    string
		targets []string
		want    task.Verdict
	}{
		{"tool outside whitelist", "file_delete", []string{"x.txt"}, task.VerdictDenied},
		{"deny wins over confirm", "shell", AnalyzeShell("sudo apt install x"), task.VerdictDenied},
		{"deny sees command behind cd", "shell", AnalyzeShell("cd / && sudo reboot"), task.VerdictDenied},
		{"root wipe denied", "shell", AnalyzeShell("rm -rf /var"), task.VerdictDenied},
		{"allow wins for listed pattern", "shell", AnalyzeShell("ls -la"), task.VerdictAllowed},
		{"confirm for generic shell", "shell", AnalyzeShell("make build"), task.VerdictNeedsConfirmation},
		{"plain http fetch denied", "fetch", []string{"http://example.com"}, task.VerdictDenied},
		{"https fetch confirmed", "fetch", []string{"https://example.com"}, task.VerdictNeedsConfirmation},
		{"read allowed without pattern", "file_read", []string{"notes.txt"}, task.VerdictAllowed},
		{"file write gated", "file_write", []string{"out.txt"}, task.VerdictNeedsConfirmation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.Evaluate(tt.tool, tt.targets)
			if got != tt.want {
				t.Errorf("Evaluate(%q, %v) = %q, want %q", tt.tool, tt.targets, got, tt.want)
			}
		})
	}
}

func TestPolicyEvaluateUnmatchedRequiresConfirmation(t *testing.T) {
	policy := &Policy{}
	if got := policy.Evaluate("shell", AnalyzeShell("anything goes")); got != task.VerdictNeedsConfirmation {
		t.Errorf("empty policy Evaluate = %q, want %q", got, task.VerdictNeedsConfirmation)
	}
}

func TestAnalyzeShell(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		contains []string
	}{
		{
			name:     "simple command",
			command:  "ls -la",
			contains: []string{"ls -la"},
		},
		{
			name:     "command behind cd",
			command:  "cd /tmp && rm -rf x",
			contains: []string{"cd /tmp && rm -rf x", "cd /tmp", "rm -rf x"},
		},
		{
			name:     "pipeline members",
			command:  "cat notes.txt | grep secret",
			contains: []string{"cat notes.txt", "grep secret"},
		},
		{
			name:     "redirect target",
			command:  "echo hi > /etc/passwd",
			contains: []string{"echo hi", "/etc/passwd"},
		},
		{
			name:     "unparsable falls back to raw",
			command:  "if [ broken",
			contains: []string{"if [ broken"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnalyzeShell(tt.command)
			for _, want := range tt.contains {
				found := false
				for _, target := range got {
					if target == want {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("AnalyzeShell(%q) = %v, missing target %q", tt.command, got, want)
				}
			}
		})
	}
}
