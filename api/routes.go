package api

import (
	"github.com/go-chi/chi/v5"

	"kestrel-irp/api/handlers"
)

type routeHandlers struct {
	auth       *handlers.AuthHandler
	complaints *handlers.ComplaintsHandler
	directory  *handlers.DirectoryHandler
	accounts   *handlers.AccountsHandler
	logs       *handlers.LogsHandler
}

func (s *Server) newRouteHandlers() routeHandlers {
	return routeHandlers{
		auth:       handlers.NewAuthHandler(s.cfg, s.users, s.sessions, s.sessionManager, s.policy, s.audits, s.logger),
		complaints: handlers.NewComplaintsHandler(s.complaints, s.dir, s.users, s.audits, s.logger),
		directory:  handlers.NewDirectoryHandler(s.dir, s.refresher, s.audits, s.logger),
		accounts:   handlers.NewAccountsHandler(s.cfg, s.users, s.sessions, s.audits, s.logger),
		logs:       handlers.NewLogsHandler(s.audits),
	}
}

func (s *Server) registerRoutes(apiRouter chi.Router) {
	h := s.newRouteHandlers()

	apiRouter.Route("/auth", func(authRouter chi.Router) {
		authRouter.MethodFunc("POST", "/login", s.rateLimitMiddleware(h.auth.Login))
		authRouter.MethodFunc("POST", "/logout", s.withSession(h.auth.Logout))
		authRouter.MethodFunc("GET", "/me", s.withSession(h.auth.Me))
		authRouter.MethodFunc("POST", "/ping", s.withSession(h.auth.Ping))
		authRouter.MethodFunc("POST", "/change-password", s.withSession(h.auth.ChangePassword))
	})

	apiRouter.Route("/complaints", func(cr chi.Router) {
		cr.MethodFunc("GET", "/", s.withSession(s.requirePermission("complaints.view")(h.complaints.List)))
		cr.MethodFunc("GET", "/{id:[0-9]+}", s.withSession(s.requirePermission("complaints.view")(h.complaints.Get)))
		cr.MethodFunc("GET", "/{id:[0-9]+}/timeline", s.withSession(s.requirePermission("complaints.view")(h.complaints.Timeline)))
		cr.MethodFunc("GET", "/{id:[0-9]+}/pending", s.withSession(s.requirePermission("complaints.view")(h.complaints.Pending)))
		cr.MethodFunc("POST", "/{id:[0-9]+}/assign", s.withSession(s.requirePermission("complaints.assign")(h.complaints.Assign)))
		cr.MethodFunc("POST", "/{id:[0-9]+}/notify", s.withSession(s.requirePermission("complaints.notify")(h.complaints.Notify)))
		cr.MethodFunc("POST", "/{id:[0-9]+}/reassign", s.withSession(s.requirePermission("complaints.decide")(h.complaints.Reassign)))
		cr.MethodFunc("POST", "/{id:[0-9]+}/close", s.withSession(s.requirePermission("complaints.decide")(h.complaints.Close)))
		cr.MethodFunc("POST", "/{id:[0-9]+}/reopen", s.withSession(s.requirePermission("complaints.reopen")(h.complaints.Reopen)))
		cr.MethodFunc("POST", "/{id:[0-9]+}/reserve", s.withSession(s.requireAnyPermission("complaints.assign", "complaints.notify", "complaints.decide", "complaints.reopen")(h.complaints.Reserve)))
		cr.MethodFunc("DELETE", "/{id:[0-9]+}/reserve", s.withSession(s.requireAnyPermission("complaints.assign", "complaints.notify", "complaints.decide", "complaints.reopen")(h.complaints.CancelReserve)))
	})

	apiRouter.Route("/directory", func(dr chi.Router) {
		dr.MethodFunc("GET", "/hq-staff", s.withSession(s.requirePermission("directory.view")(h.directory.HQStaff)))
		dr.MethodFunc("GET", "/areas/{area:[0-9]+}/officers", s.withSession(s.requirePermission("directory.view")(h.directory.AreaOfficers)))
		dr.MethodFunc("POST", "/refresh", s.withSession(s.requirePermission("accounts.manage")(h.directory.Refresh)))
	})

	apiRouter.Route("/accounts", func(ar chi.Router) {
		ar.MethodFunc("GET", "/", s.withSession(s.requirePermission("accounts.manage")(h.accounts.List)))
		ar.MethodFunc("POST", "/", s.withSession(s.requirePermission("accounts.manage")(h.accounts.Create)))
		ar.MethodFunc("POST", "/{id:[0-9]+}/active", s.withSession(s.requirePermission("accounts.manage")(h.accounts.SetActive)))
		ar.MethodFunc("POST", "/{id:[0-9]+}/reset-password", s.withSession(s.requirePermission("accounts.manage")(h.accounts.ResetPassword)))
	})

	apiRouter.MethodFunc("GET", "/logs", s.withSession(s.requirePermission("logs.view")(h.logs.List)))
}
