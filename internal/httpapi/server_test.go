package httpapi_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskforge/internal/agent"
	"github.com/kazz187/taskforge/internal/config"
	"github.com/kazz187/taskforge/internal/event"
	eventrepo "github.com/kazz187/taskforge/internal/event/repositoryimpl"
	"github.com/kazz187/taskforge/internal/eventbus"
	"github.com/kazz187/taskforge/internal/httpapi"
	"github.com/kazz187/taskforge/internal/interaction"
	interactionrepo "github.com/kazz187/taskforge/internal/interaction/repositoryimpl"
	"github.com/kazz187/taskforge/internal/orchestrator"
	pushrepo "github.com/kazz187/taskforge/internal/pushnotify/repositoryimpl"
	"github.com/kazz187/taskforge/internal/reasoning"
	"github.com/kazz187/taskforge/internal/sandbox"
	"github.com/kazz187/taskforge/internal/task"
	taskrepo "github.com/kazz187/taskforge/internal/task/repositoryimpl"
	"github.com/kazz187/taskforge/internal/tool"
	"github.com/kazz187/taskforge/internal/workspace"
	"github.com/kazz187/taskforge/pkg/storage"
)

type scriptProvider struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (p *scriptProvider) Complete(_ context.Context, _ *reasoning.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.replies) {
		return "", errors.New("script exhausted")
	}
	reply := p.replies[p.calls]
	p.calls++
	return reply, nil
}

type apiHarness struct {
	api *httptest.Server
	bus *eventbus.Bus
}

func newAPIHarness(t *testing.T, replies ...string) *apiHarness {
	t.Helper()
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	bus := eventbus.New()
	recorder := event.NewRecorder(eventrepo.NewYAMLRepository(st), bus)
	store := task.NewStore(taskrepo.NewYAMLRepository(st), recorder)
	confirms := interaction.NewService(interactionrepo.NewYAMLRepository(st), recorder)
	workspaces, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)

	reasoningEnv := &config.ReasoningEnv{
		MaxRetries:        1,
		RequestsPerMinute: 6000,
		Burst:             100,
		MaxPlanningTokens: 2048,
	}
	gateway := reasoning.NewGateway(&scriptProvider{replies: replies}, reasoningEnv)
	agents := agent.New(gateway, reasoningEnv)

	policy := &sandbox.Policy{
		Allow:          []string{"*"},
		WallClock:      10 * time.Second,
		MaxOutputBytes: 64 * 1024,
	}
	dispatcher := tool.NewDispatcher(sandbox.NewExecutor(policy, time.Second), workspaces, store, tool.NewStaticProvider())

	orch := orchestrator.New(store, agents, dispatcher, confirms, recorder, workspaces, &config.OrchestratorEnv{
		StepRetries:   0,
		ReplanLimit:   2,
		ParallelLimit: 4,
		ActionBudget:  8,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, orch.Start(ctx))

	env := &config.Env{}
	env.AllowedOrigins = []string{"*"}

	srv := httpapi.NewServer(env, orch, store, confirms, recorder, bus, pushrepo.NewYAMLRepository(st))
	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)
	return &apiHarness{api: api, bus: bus}
}

func (h *apiHarness) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.api.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestServer_Health(t *testing.T) {
	h := newAPIHarness(t)
	resp, err := http.Get(h.api.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_TaskLifecycle(t *testing.T) {
	h := newAPIHarness(t,
		`{"kind":"plan","steps":[{"description":"create out.txt","role":"coder"}]}`,
		`{"kind":"action","tool":"file_write","params":{"path":"out.txt","content":"hello"}}`,
	)

	resp := h.postJSON(t, "/api/tasks", map[string]string{
		"goal": "create file out.txt with content hello",
		"mode": "autonomous",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeJSON[*task.Task](t, resp)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, task.ModeAutonomous, created.Mode)

	var final *task.Task
	require.Eventually(t, func() bool {
		resp, err := http.Get(h.api.URL + "/api/tasks/" + created.ID)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		final = decodeJSON[*task.Task](t, resp)
		return final.Status.Terminal()
	}, 30*time.Second, 50*time.Millisecond)
	assert.Equal(t, task.StatusCompleted, final.Status)

	resp, err := http.Get(h.api.URL + "/api/tasks/" + created.ID + "/events")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := decodeJSON[map[string][]*event.ExecutionEvent](t, resp)
	require.NotEmpty(t, history["events"])
	var types []event.Type
	for _, ev := range history["events"] {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, event.TypeTaskCreated)
	assert.Contains(t, types, event.TypeActionRecorded)

	resp, err = http.Get(h.api.URL + "/api/tasks")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeJSON[map[string][]*task.Task](t, resp)
	require.Len(t, list["tasks"], 1)
}

func TestServer_CreateTaskValidation(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.postJSON(t, "/api/tasks", map[string]string{"goal": "x", "mode": "chaotic"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.postJSON(t, "/api/tasks", map[string]string{"goal": "", "mode": "autonomous"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_ResolveUnknownConfirmation(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.postJSON(t, "/api/confirmations/does-not-exist", map[string]any{
		"approve": true,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeJSON[map[string]string](t, resp)
	assert.Equal(t, "NotFound", body["code"])
}

func TestServer_PushSubscriptions(t *testing.T) {
	h := newAPIHarness(t)

	sub := map[string]any{
		"endpoint": "https://push.example.com/sub/1",
		"keys":     map[string]string{"p256dh": "pkey", "auth": "akey"},
	}
	resp := h.postJSON(t, "/api/push/subscriptions", sub)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decodeJSON[map[string]string](t, resp)
	require.NotEmpty(t, first["id"])

	// Registering the same endpoint again is a no-op.
	resp = h.postJSON(t, "/api/push/subscriptions", sub)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	second := decodeJSON[map[string]string](t, resp)
	assert.Equal(t, first["id"], second["id"])

	// No VAPID keys configured in this harness.
	getResp, err := http.Get(h.api.URL + "/api/push/vapid-public-key")
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, h.api.URL+"/api/push/subscriptions",
		strings.NewReader(`{"endpoint":"https://push.example.com/sub/1"}`))
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusOK, delResp.StatusCode)
}

func TestServer_EventStream(t *testing.T) {
	h := newAPIHarness(t)

	resp, err := http.Get(h.api.URL + "/api/events?task_id=task-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Publish once the subscription is live; a filtered-out event first
	// proves the task filter holds.
	go func() {
		time.Sleep(50 * time.Millisecond)
		h.bus.Publish(event.New(event.TypeStepStatusChanged, "other-task").WithMessage("ignored"))
		h.bus.Publish(event.New(event.TypeStepStatusChanged, "task-1").WithMessage("running"))
	}()

	type sseFrame struct {
		event string
		data  string
	}
	frames := make(chan sseFrame, 1)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		var frame sseFrame
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				frame.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				frame.data = strings.TrimPrefix(line, "data: ")
			case line == "" && frame.data != "":
				frames <- frame
				return
			}
		}
	}()

	select {
	case frame := <-frames:
		assert.Equal(t, string(event.TypeStepStatusChanged), frame.event)
		var ev event.ExecutionEvent
		require.NoError(t, json.Unmarshal([]byte(frame.data), &ev))
		assert.Equal(t, "task-1", ev.TaskID)
		assert.Equal(t, "running", ev.Message)
	case <-time.After(5 * time.Second):
		t.Fatal("no event arrived on the stream")
	}
}

func TestServer_CancelTask(t *testing.T) {
	h := newAPIHarness(t,
		`{"kind":"plan","steps":[{"description":"wait around","role":"coder"}]}`,
		`{"kind":"action","tool":"shell","params":{"command":"sleep 30"}}`,
	)

	resp := h.postJSON(t, "/api/tasks", map[string]string{
		"goal": "wait around",
		"mode": "autonomous",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeJSON[*task.Task](t, resp)

	// Let the task reach its long-running action before cancelling.
	require.Eventually(t, func() bool {
		resp, err := http.Get(h.api.URL + "/api/tasks/" + created.ID)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		cur := decodeJSON[*task.Task](t, resp)
		return cur.Status == task.StatusExecuting
	}, 10*time.Second, 50*time.Millisecond)

	cancelResp := h.postJSON(t, fmt.Sprintf("/api/tasks/%s/cancel", created.ID), map[string]string{})
	defer cancelResp.Body.Close()
	assert.Equal(t, http.StatusAccepted, cancelResp.StatusCode)

	require.Eventually(t, func() bool {
		resp, err := http.Get(h.api.URL + "/api/tasks/" + created.ID)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		cur := decodeJSON[*task.Task](t, resp)
		return cur.Status == task.StatusCancelled
	}, 30*time.Second, 50*time.Millisecond)
}
