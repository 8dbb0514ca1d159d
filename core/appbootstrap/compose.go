package appbootstrap

import (
	"database/sql"

	"kestrel-irp/api"
	"kestrel-irp/config"
	"kestrel-irp/core/actors"
	"kestrel-irp/core/attachments"
	"kestrel-irp/core/auth"
	"kestrel-irp/core/complaints"
	"kestrel-irp/core/directory"
	"kestrel-irp/core/rbac"
	"kestrel-irp/core/store"
	"kestrel-irp/core/upstream"
	"kestrel-irp/core/utils"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	sessions   store.SessionStore
	workers    []api.BackgroundWorker
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*runtimeComposition, error) {
	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	audits := store.NewAuditStore(db)
	directoryStore := store.NewDirectoryStore(db)

	policy := rbac.NewPolicy(rbac.DefaultRoles())
	sessionManager := auth.NewSessionManager(sessions, cfg, logger)

	client := upstream.NewClient(cfg.Upstream, logger)
	dir := actors.NewDirectory()
	resolver := attachments.NewResolver(cfg.Attachments.StorageBaseURL)
	complaintsSvc := complaints.NewService(client, dir, resolver, audits, logger)
	refresher := directory.NewRefresher(cfg.Directory, client, dir, directoryStore, logger)

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			Cfg:            cfg,
			Logger:         logger,
			Policy:         policy,
			Users:          users,
			Sessions:       sessions,
			Audits:         audits,
			SessionManager: sessionManager,
			Complaints:     complaintsSvc,
			Directory:      dir,
			Refresher:      refresher,
		},
		sessions: sessions,
		workers:  []api.BackgroundWorker{refresher},
	}, nil
}
