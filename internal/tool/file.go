package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/kazz187/taskforge/internal/sandbox"
	"github.com/kazz187/taskforge/pkg/ferr"
)

// confine resolves a path against the task workspace and rejects anything
// that lands outside it. Relative policy targets come from here so rules
// like file_write(*.go) match the workspace-relative path.
func confine(workspace, p string) (abs, rel string, err error) {
	if strings.TrimSpace(p) == "" {
		return "", "", ferr.NewError(ferr.InvalidArgument, "path is required", nil)
	}
	candidate := p
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workspace, candidate)
	}
	candidate = filepath.Clean(candidate)
	root := filepath.Clean(workspace)
	if candidate != root && !strings.HasPrefix(candidate, root+string(filepath.Separator)) {
		return "", "", ferr.NewError(ferr.PolicyViolation,
			fmt.Sprintf("path %q escapes the task workspace", p), nil)
	}
	rel, err = filepath.Rel(root, candidate)
	if err != nil {
		return "", "", ferr.NewError(ferr.Internal, "failed to resolve workspace path", err)
	}
	return candidate, rel, nil
}

func (d *Dispatcher) fileWrite(ctx context.Context, req *ActionRequest, workspace string) (*sandbox.ActionResult, error) {
	path, err := requireParam(req, "path")
	if err != nil {
		return nil, err
	}
	abs, rel, err := confine(workspace, path)
	if err != nil {
		return nil, err
	}
	content := req.Params["content"]
	appendMode := req.Params["append"] == "true"

	handler := func(ctx context.Context) (string, error) {
		old, readErr := os.ReadFile(abs)
		if readErr != nil && !os.IsNotExist(readErr) {
			return "", readErr
		}
		next := content
		if appendMode {
			next = string(old) + content
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return "", err
		}
		if err := os.WriteFile(abs, []byte(next), 0644); err != nil {
			return "", err
		}
		return fmt.Sprintf("wrote %d bytes to %s\n%s", len(next), rel, unifiedDiff(rel, string(old), next)), nil
	}
	return d.executor.Execute(ctx, &sandbox.ExecRequest{
		Tool:      req.Tool,
		Targets:   []string{rel},
		Approved:  req.Approved,
		Workspace: workspace,
		Handler:   handler,
	})
}

func (d *Dispatcher) fileDelete(ctx context.Context, req *ActionRequest, workspace string) (*sandbox.ActionResult, error) {
	path, err := requireParam(req, "path")
	if err != nil {
		return nil, err
	}
	abs, rel, err := confine(workspace, path)
	if err != nil {
		return nil, err
	}
	handler := func(ctx context.Context) (string, error) {
		if err := os.Remove(abs); err != nil {
			return "", err
		}
		return "deleted " + rel, nil
	}
	return d.executor.Execute(ctx, &sandbox.ExecRequest{
		Tool:      req.Tool,
		Targets:   []string{rel},
		Approved:  req.Approved,
		Workspace: workspace,
		Handler:   handler,
	})
}

func (d *Dispatcher) fileRead(ctx context.Context, req *ActionRequest, workspace string) (*sandbox.ActionResult, error) {
	path, err := requireParam(req, "path")
	if err != nil {
		return nil, err
	}
	abs, rel, err := confine(workspace, path)
	if err != nil {
		return nil, err
	}
	handler := func(ctx context.Context) (string, error) {
		data, err := os.ReadFile(abs)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return d.runDirect(ctx, req, []string{rel}, workspace, handler)
}

func (d *Dispatcher) fileList(ctx context.Context, req *ActionRequest, workspace string) (*sandbox.ActionResult, error) {
	path := req.Params["path"]
	if strings.TrimSpace(path) == "" {
		path = "."
	}
	abs, rel, err := confine(workspace, path)
	if err != nil {
		return nil, err
	}
	handler := func(ctx context.Context) (string, error) {
		entries, err := os.ReadDir(abs)
		if err != nil {
			return "", err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		if len(names) == 0 {
			return fmt.Sprintf("%s is empty", rel), nil
		}
		return strings.Join(names, "\n"), nil
	}
	return d.runDirect(ctx, req, []string{rel}, workspace, handler)
}

// previewWrite computes the diff a file_write would produce without applying
// it, for confirmation prompts.
func (d *Dispatcher) previewWrite(req *ActionRequest) string {
	workspace, err := d.workspaces.Ensure(req.TaskID)
	if err != nil {
		return ""
	}
	abs, rel, err := confine(workspace, req.Params["path"])
	if err != nil {
		return ""
	}
	old, readErr := os.ReadFile(abs)
	if readErr != nil && !os.IsNotExist(readErr) {
		return ""
	}
	next := req.Params["content"]
	if req.Params["append"] == "true" {
		next = string(old) + next
	}
	return unifiedDiff(rel, string(old), next)
}

func unifiedDiff(rel, old, next string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(old),
		B:        difflib.SplitLines(next),
		FromFile: "a/" + rel,
		ToFile:   "b/" + rel,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}
