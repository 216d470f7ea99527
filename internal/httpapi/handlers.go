package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kazz187/taskforge/internal/pushnotify"
	"github.com/kazz187/taskforge/internal/task"
	"github.com/kazz187/taskforge/pkg/ferr"
)

type createTaskRequest struct {
	Goal string `json:"goal"`
	Mode string `json:"mode"`
}

func (s *Server) createTask(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ferr.SetNewJSONError(ctx, ferr.InvalidArgument, "invalid request body", err)
		return
	}
	mode, err := task.ParseMode(req.Mode)
	if err != nil {
		ferr.SetNewJSONError(ctx, ferr.InvalidArgument, err.Error(), nil)
		return
	}
	t, err := s.orch.StartTask(ctx, req.Goal, mode)
	if err != nil {
		ferr.SetJSONError(ctx, err)
		return
	}
	ferr.SetJSONResponse(ctx, http.StatusCreated, t)
}

func (s *Server) listTasks(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		ferr.SetJSONError(ctx, err)
		return
	}
	ferr.SetJSONResponse(ctx, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) getTask(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.store.GetTask(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		ferr.SetJSONError(ctx, err)
		return
	}
	ferr.SetJSONResponse(ctx, http.StatusOK, t)
}

func (s *Server) cancelTask(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := chi.URLParam(r, "taskID")
	if err := s.orch.CancelTask(ctx, taskID); err != nil {
		ferr.SetJSONError(ctx, err)
		return
	}
	ferr.SetJSONResponse(ctx, http.StatusAccepted, map[string]string{"task_id": taskID, "status": "cancelling"})
}

// taskEvents returns the durable journal of one task in chronological
// order, the point-in-time reconstruction the audit contract asks for.
func (s *Server) taskEvents(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	events, err := s.recorder.History(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		ferr.SetJSONError(ctx, err)
		return
	}
	ferr.SetJSONResponse(ctx, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) taskConfirmations(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := s.confirms.ListByTask(ctx, chi.URLParam(r, "taskID"))
	if err != nil {
		ferr.SetJSONError(ctx, err)
		return
	}
	ferr.SetJSONResponse(ctx, http.StatusOK, map[string]any{"confirmations": list})
}

type resolveConfirmationRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

func (s *Server) resolveConfirmation(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req resolveConfirmationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ferr.SetNewJSONError(ctx, ferr.InvalidArgument, "invalid request body", err)
		return
	}
	c, err := s.confirms.Resolve(ctx, chi.URLParam(r, "confirmationID"), req.Approve, req.Reason)
	if err != nil {
		ferr.SetJSONError(ctx, err)
		return
	}
	ferr.SetJSONResponse(ctx, http.StatusOK, c)
}

type pushSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s *Server) createPushSubscription(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req pushSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ferr.SetNewJSONError(ctx, ferr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		ferr.SetNewJSONError(ctx, ferr.InvalidArgument, "endpoint and keys are required", nil)
		return
	}
	// Re-registering an endpoint the browser already holds is a no-op.
	if existing, err := s.pushRepo.FindByEndpoint(ctx, req.Endpoint); err == nil {
		ferr.SetJSONResponse(ctx, http.StatusOK, map[string]string{"id": existing.ID})
		return
	}
	sub := pushnotify.NewSubscription(req.Endpoint, req.Keys.P256dh, req.Keys.Auth)
	if err := s.pushRepo.Create(ctx, sub); err != nil {
		ferr.SetJSONError(ctx, err)
		return
	}
	ferr.SetJSONResponse(ctx, http.StatusCreated, map[string]string{"id": sub.ID})
}

type deletePushSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
}

func (s *Server) deletePushSubscription(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req deletePushSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ferr.SetNewJSONError(ctx, ferr.InvalidArgument, "invalid request body", err)
		return
	}
	sub, err := s.pushRepo.FindByEndpoint(ctx, req.Endpoint)
	if err != nil {
		ferr.SetJSONError(ctx, err)
		return
	}
	if err := s.pushRepo.Delete(ctx, sub.ID); err != nil {
		ferr.SetJSONError(ctx, err)
		return
	}
	ferr.SetJSONResponse(ctx, http.StatusOK, map[string]string{"id": sub.ID})
}

func (s *Server) vapidPublicKey(_ http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.env.VAPIDPublicKey == "" {
		ferr.SetNewJSONError(ctx, ferr.NotFound, "push notifications are not configured", nil)
		return
	}
	ferr.SetJSONResponse(ctx, http.StatusOK, map[string]string{"public_key": s.env.VAPIDPublicKey})
}
