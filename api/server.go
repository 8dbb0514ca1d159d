package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"kestrel-irp/config"
	"kestrel-irp/core/actors"
	"kestrel-irp/core/auth"
	"kestrel-irp/core/complaints"
	"kestrel-irp/core/directory"
	"kestrel-irp/core/rbac"
	"kestrel-irp/core/store"
	"kestrel-irp/core/utils"
)

// Server wires the HTTP surface over the complaint workflow and the
// portal's own stores.
type Server struct {
	cfg            *config.AppConfig
	logger         *utils.Logger
	policy         *rbac.Policy
	users          store.UsersStore
	sessions       store.SessionStore
	audits         store.AuditStore
	sessionManager *auth.SessionManager
	complaints     *complaints.Service
	dir            *actors.Directory
	refresher      *directory.Refresher

	activityTracker *sessionActivity
}

type ServerDeps struct {
	Cfg            *config.AppConfig
	Logger         *utils.Logger
	Policy         *rbac.Policy
	Users          store.UsersStore
	Sessions       store.SessionStore
	Audits         store.AuditStore
	SessionManager *auth.SessionManager
	Complaints     *complaints.Service
	Directory      *actors.Directory
	Refresher      *directory.Refresher
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		cfg:             deps.Cfg,
		logger:          deps.Logger,
		policy:          deps.Policy,
		users:           deps.Users,
		sessions:        deps.Sessions,
		audits:          deps.Audits,
		sessionManager:  deps.SessionManager,
		complaints:      deps.Complaints,
		dir:             deps.Directory,
		refresher:       deps.Refresher,
		activityTracker: newSessionActivity(),
	}
}

// Handler builds the full router. The outer middleware order matters:
// recover first, then headers, then logging.
func (s *Server) Handler() http.Handler {
	root := chi.NewRouter()
	root.Use(s.recoverMiddleware)
	root.Use(s.securityHeadersMiddleware)
	root.Use(s.loggingMiddleware)

	root.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(s.jsonMiddleware)
		s.registerRoutes(apiRouter)
	})

	root.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return root
}
