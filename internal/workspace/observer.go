package workspace

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kazz187/taskforge/internal/event"
	"github.com/kazz187/taskforge/pkg/ferr"
)

// debounceInterval is the delay after a filesystem event before hashing the
// file, letting rapid write bursts settle into one event.
const debounceInterval = 100 * time.Millisecond

// Observer watches a task workspace and records workspace.file_changed
// events for sandbox side effects. Events are debounced per path and
// deduped by content hash, so rewrites with identical bytes stay silent.
// Hidden files and directories are not reported.
type Observer struct {
	taskID   string
	root     string
	recorder *event.Recorder
	debounce time.Duration

	mu     sync.Mutex
	hashes map[string][sha256.Size]byte
	timers map[string]*time.Timer
}

func NewObserver(taskID, root string, recorder *event.Recorder) *Observer {
	return &Observer{
		taskID:   taskID,
		root:     root,
		recorder: recorder,
		debounce: debounceInterval,
		hashes:   make(map[string][sha256.Size]byte),
		timers:   make(map[string]*time.Timer),
	}
}

// Run watches the workspace tree until the context ends. Content present
// before Run is treated as already seen.
func (o *Observer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return ferr.NewError(ferr.Internal, "failed to start workspace watcher", err)
	}
	defer watcher.Close()
	defer o.stopTimers()

	if err := o.addTree(ctx, watcher, o.root, true); err != nil {
		return ferr.NewError(ferr.Internal, "failed to watch workspace", err)
	}

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			o.handle(ctx, watcher, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("workspace: watcher error", "task_id", o.taskID, "error", err)
		case <-ctx.Done():
			return nil
		}
	}
}

func (o *Observer) handle(ctx context.Context, watcher *fsnotify.Watcher, ev fsnotify.Event) {
	if hidden(ev.Name) {
		return
	}

	if ev.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			// Directories made after the watch started join it. Files
			// already inside are scanned, not seeded, so a mkdir+write
			// burst still reports its files.
			if err := o.addTree(ctx, watcher, ev.Name, false); err != nil {
				slog.Warn("workspace: failed to watch new directory", "task_id", o.taskID, "dir", ev.Name, "error", err)
			}
			return
		}
	}

	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		o.mu.Lock()
		_, known := o.hashes[ev.Name]
		delete(o.hashes, ev.Name)
		if t, ok := o.timers[ev.Name]; ok {
			t.Stop()
			delete(o.timers, ev.Name)
		}
		o.mu.Unlock()
		if known {
			o.record(ctx, ev.Name, "deleted")
		}
		return
	}

	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	o.schedule(ctx, ev.Name)
}

// schedule arms the per-path debounce timer, replacing any pending one.
func (o *Observer) schedule(ctx context.Context, path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.timers[path]; ok {
		t.Stop()
	}
	o.timers[path] = time.AfterFunc(o.debounce, func() {
		o.settle(ctx, path)
	})
}

// settle hashes a path after its debounce window and records a change if
// the content actually differs from what was last seen.
func (o *Observer) settle(ctx context.Context, path string) {
	o.mu.Lock()
	delete(o.timers, path)
	o.mu.Unlock()

	hash, err := hashFile(path)
	if err != nil {
		// Gone or unreadable between the event and the debounce.
		return
	}

	o.mu.Lock()
	prev, known := o.hashes[path]
	o.hashes[path] = hash
	o.mu.Unlock()

	if known && prev == hash {
		return
	}
	op := "created"
	if known {
		op = "modified"
	}
	o.record(ctx, path, op)
}

func (o *Observer) record(ctx context.Context, path, op string) {
	rel, err := filepath.Rel(o.root, path)
	if err != nil {
		rel = path
	}
	o.recorder.Record(ctx, event.New(event.TypeWorkspaceFileChanged, o.taskID).
		WithMessage(rel).
		WithField("op", op))
}

// addTree watches dir and its visible subdirectories. With seed set,
// existing files are hashed silently; otherwise they are scheduled like
// fresh writes.
func (o *Observer) addTree(ctx context.Context, watcher *fsnotify.Watcher, dir string, seed bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir {
				return walkErr
			}
			// Entries can vanish mid-walk.
			return nil
		}
		if d.IsDir() {
			if path != dir && hidden(path) {
				return fs.SkipDir
			}
			return watcher.Add(path)
		}
		if hidden(path) || !d.Type().IsRegular() {
			return nil
		}
		if seed {
			if h, err := hashFile(path); err == nil {
				o.mu.Lock()
				o.hashes[path] = h
				o.mu.Unlock()
			}
			return nil
		}
		o.schedule(ctx, path)
		return nil
	})
}

func (o *Observer) stopTimers() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for path, t := range o.timers {
		t.Stop()
		delete(o.timers, path)
	}
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func hashFile(path string) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	fi, err := os.Stat(path)
	if err != nil {
		return sum, err
	}
	if !fi.Mode().IsRegular() {
		return sum, fmt.Errorf("%s is not a regular file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return sum, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}
