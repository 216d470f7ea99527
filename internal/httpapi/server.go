package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kazz187/taskforge/internal/config"
	"github.com/kazz187/taskforge/internal/event"
	"github.com/kazz187/taskforge/internal/eventbus"
	"github.com/kazz187/taskforge/internal/interaction"
	"github.com/kazz187/taskforge/internal/orchestrator"
	"github.com/kazz187/taskforge/internal/pushnotify"
	"github.com/kazz187/taskforge/internal/task"
	"github.com/kazz187/taskforge/pkg/ferr"
	"github.com/kazz187/taskforge/pkg/flog"
)

// Server is the observer and command boundary the GUI consumes: task CRUD
// and cancellation, confirmation resolution, the live SSE event stream, the
// durable event history, and push-subscription registration.
type Server struct {
	server   *http.Server
	env      *config.Env
	orch     *orchestrator.Orchestrator
	store    *task.Store
	confirms *interaction.Service
	recorder *event.Recorder
	bus      *eventbus.Bus
	pushRepo pushnotify.Repository
}

func NewServer(
	env *config.Env,
	orch *orchestrator.Orchestrator,
	store *task.Store,
	confirms *interaction.Service,
	recorder *event.Recorder,
	bus *eventbus.Bus,
	pushRepo pushnotify.Repository,
) *Server {
	return &Server{
		env:      env,
		orch:     orch,
		store:    store,
		confirms: confirms,
		recorder: recorder,
		bus:      bus,
		pushRepo: pushRepo,
	}
}

// Handler builds the full route tree. Exposed separately from
// ListenAndServe so tests can drive it through httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Route("/api", func(r chi.Router) {
		r.Use(
			flog.SlogChiMiddleware(),
			ferr.NewJSONResponseMiddleware(),
		)
		r.NotFound(func(_ http.ResponseWriter, req *http.Request) {
			ferr.SetNewJSONError(req.Context(), ferr.NotFound, "not found", nil)
		})

		// The SSE stream writes its own wire format; the JSON response
		// middleware stays idle because the handler stages nothing.
		r.Get("/events", s.streamEvents)

		r.Post("/tasks", s.createTask)
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{taskID}", s.getTask)
		r.Post("/tasks/{taskID}/cancel", s.cancelTask)
		r.Get("/tasks/{taskID}/events", s.taskEvents)
		r.Get("/tasks/{taskID}/confirmations", s.taskConfirmations)

		r.Post("/confirmations/{confirmationID}", s.resolveConfirmation)

		r.Post("/push/subscriptions", s.createPushSubscription)
		r.Delete("/push/subscriptions", s.deletePushSubscription)
		r.Get("/push/vapid-public-key", s.vapidPublicKey)
	})

	return h2c.NewHandler(cors.New(cors.Options{
		AllowedOrigins:   s.env.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(r), &http2.Server{})
}

// ListenAndServe starts the HTTP server. ctx becomes the base context of
// every request, so cancelling it on shutdown also ends the open SSE
// streams instead of waiting for them.
func (s *Server) ListenAndServe(ctx context.Context) error {
	slog.Info("starting server", "addr", s.env.ListenAddr)
	s.server = &http.Server{
		Addr:    s.env.ListenAddr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
