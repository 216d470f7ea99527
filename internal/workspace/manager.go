package workspace

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/kazz187/taskforge/pkg/ferr"
)

// Manager hands out per-task working directories under a single root. Every
// sandboxed action of a task runs inside its directory and file paths are
// confined to it.
type Manager struct {
	root string
}

func NewManager(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, ferr.NewError(ferr.InvalidArgument, "invalid workspace root", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, ferr.NewError(ferr.Internal, "failed to create workspace root", err)
	}
	return &Manager{root: abs}, nil
}

// Ensure returns the task's workspace directory, creating it on first use.
func (m *Manager) Ensure(taskID string) (string, error) {
	if taskID == "" {
		return "", ferr.NewError(ferr.InvalidArgument, "task id is required", nil)
	}
	// Task ids are ULIDs; anything that could leave the root is malformed.
	if taskID == "." || taskID == ".." || strings.ContainsAny(taskID, `/\`) {
		return "", ferr.NewError(ferr.InvalidArgument, "invalid task id", nil)
	}
	dir := filepath.Join(m.root, taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", ferr.NewError(ferr.Internal, "failed to create task workspace", err)
	}
	return dir, nil
}

func (m *Manager) Root() string {
	return m.root
}
