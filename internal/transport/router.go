package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/catalogboard/internal/config"
	"github.com/pitabwire/catalogboard/internal/definition"
	"github.com/pitabwire/catalogboard/internal/idempotency"
	"github.com/pitabwire/catalogboard/internal/journal"
	"github.com/pitabwire/catalogboard/internal/observability"
	"github.com/pitabwire/catalogboard/internal/session"
	"github.com/pitabwire/catalogboard/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Logger             *zap.Logger
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver model.CapabilityResolver
	Sessions           *session.Manager
	Definitions        *definition.Registry
	Journal            journal.Store
	Idempotency        idempotency.Store
	Metrics            *observability.Metrics
	MetricsHandler     http.Handler
	Readiness          observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}

	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		metrics := deps.MetricsHandler
		if metrics == nil {
			metrics = observability.Handler()
		}
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, metrics)
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	h := &handlers{
		sessions:    deps.Sessions,
		definitions: deps.Definitions,
		journal:     deps.Journal,
		idempotency: deps.Idempotency,
		metrics:     deps.Metrics,
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Identity.ClaimPaths))
		r.Use(ResolveCapabilities(deps.CapabilityResolver, logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/ui/boards", h.listBoards)
		r.Post("/ui/boards/{boardId}/sessions", h.openSession)
		r.Get("/ui/entries/{entryId}/moves", h.entryMoves)

		r.Route("/ui/sessions/{sessionId}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Delete("/", h.closeSession)
			r.Put("/filters", h.setFilters)
			r.Post("/columns/{columnKey}/more", h.showMore)
			r.Post("/columns/{columnKey}/toggle", h.toggleColumn)
			r.Delete("/entries/{entryId}", h.deleteEntry)
			r.Get("/notices", h.drainNotices)

			r.Post("/moves", h.move)
			r.Get("/moves/{moveId}", h.getMove)
			r.Post("/moves/{moveId}/confirm", h.confirmMove)
			r.Post("/moves/{moveId}/cancel", h.cancelMove)

			r.Post("/drag", h.startDrag)
			r.Post("/drag/pointer", h.dragPointer)
			r.Post("/drag/hover", h.dragHover)
			r.Post("/drag/drop", h.dragDrop)
			r.Post("/drag/cancel", h.dragCancel)
		})
	})

	return r
}

// handlers serves the authenticated board routes.
type handlers struct {
	sessions    *session.Manager
	definitions *definition.Registry
	journal     journal.Store
	idempotency idempotency.Store
	metrics     *observability.Metrics
}

// session resolves the {sessionId} route parameter to a session owned by
// the caller, writing the error response when it cannot.
func (h *handlers) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return s, true
}

// writeView renders the session's board view with the given status.
func writeView(w http.ResponseWriter, r *http.Request, s *session.Session, status int) {
	view, err := s.View(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	WriteJSON(w, status, view)
}
