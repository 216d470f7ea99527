package main

import (
	"context"

	"github.com/kazz187/taskforge/internal/agent"
	"github.com/kazz187/taskforge/internal/config"
	"github.com/kazz187/taskforge/internal/event"
	eventrepo "github.com/kazz187/taskforge/internal/event/repositoryimpl"
	"github.com/kazz187/taskforge/internal/eventbus"
	"github.com/kazz187/taskforge/internal/interaction"
	interactionrepo "github.com/kazz187/taskforge/internal/interaction/repositoryimpl"
	"github.com/kazz187/taskforge/internal/orchestrator"
	"github.com/kazz187/taskforge/internal/pushnotify"
	pushrepo "github.com/kazz187/taskforge/internal/pushnotify/repositoryimpl"
	"github.com/kazz187/taskforge/internal/reasoning"
	"github.com/kazz187/taskforge/internal/sandbox"
	"github.com/kazz187/taskforge/internal/task"
	taskrepo "github.com/kazz187/taskforge/internal/task/repositoryimpl"
	"github.com/kazz187/taskforge/internal/tool"
	"github.com/kazz187/taskforge/internal/workspace"
	"github.com/kazz187/taskforge/pkg/storage"
)

// components is the wired object graph shared by the daemon and the
// one-shot run.
type components struct {
	bus        *eventbus.Bus
	recorder   *event.Recorder
	store      *task.Store
	confirms   *interaction.Service
	workspaces *workspace.Manager
	orch       *orchestrator.Orchestrator
	pushRepo   pushnotify.Repository
	pushSender *pushnotify.Sender
}

func buildComponents(ctx context.Context, env *config.Env) (*components, error) {
	var st storage.Storage
	var err error
	switch env.StorageEnv.Type {
	case "s3":
		st, err = storage.NewS3Storage(ctx, env.S3Bucket, env.S3Prefix, env.S3Region)
	default:
		st, err = storage.NewLocalStorage(env.BaseDir)
	}
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	recorder := event.NewRecorder(eventrepo.NewYAMLRepository(st), bus)
	store := task.NewStore(taskrepo.NewYAMLRepository(st), recorder)
	confirms := interaction.NewService(interactionrepo.NewYAMLRepository(st), recorder)

	workspaces, err := workspace.NewManager(env.WorkspaceDir)
	if err != nil {
		return nil, err
	}

	policy, err := sandbox.LoadPolicy(&env.SandboxEnv)
	if err != nil {
		return nil, err
	}
	executor := sandbox.NewExecutor(policy, env.KillGrace)
	dispatcher := tool.NewDispatcher(executor, workspaces, store, tool.NewStaticProvider())

	gateway := reasoning.NewGateway(reasoning.NewOpenRouter(&env.ReasoningEnv), &env.ReasoningEnv)
	agents := agent.New(gateway, &env.ReasoningEnv)

	orch := orchestrator.New(store, agents, dispatcher, confirms, recorder, workspaces, &env.OrchestratorEnv)

	pushRepo := pushrepo.NewYAMLRepository(st)
	pushSender := pushnotify.NewSender(config.VAPIDEnvFromEnv(env), pushRepo)

	return &components{
		bus:        bus,
		recorder:   recorder,
		store:      store,
		confirms:   confirms,
		workspaces: workspaces,
		orch:       orch,
		pushRepo:   pushRepo,
		pushSender: pushSender,
	}, nil
}
