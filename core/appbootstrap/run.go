package appbootstrap

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kestrel-irp/api"
	"kestrel-irp/config"
	"kestrel-irp/core/store"
	"kestrel-irp/core/utils"
)

// Run boots the whole service: config, database, migrations, the
// composed runtime, and the HTTP server. It blocks until SIGINT or
// SIGTERM and then shuts everything down in reverse order.
func Run(configPath string) error {
	logger := utils.NewLogger()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.ApplyMigrationsDialect(ctx, db, store.GooseDialect(cfg), logger); err != nil {
		return err
	}

	comp, err := composeRuntime(cfg, db, logger)
	if err != nil {
		return err
	}
	if err := seedAdmin(ctx, comp.serverDeps.Users, cfg, logger); err != nil {
		return err
	}
	if err := comp.serverDeps.Refresher.Warm(ctx); err != nil {
		logger.Errorf("BOOT directory warm-up: %v", err)
	}

	for _, worker := range comp.workers {
		if err := worker.Start(); err != nil {
			return err
		}
	}
	janitor := newSessionJanitor(comp.sessions, logger)
	janitor.Start()

	server := api.NewServer(comp.serverDeps)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("HTTP listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Printf("SHUTDOWN signal=%s", sig)
	case err := <-errCh:
		logger.Errorf("HTTP server failed: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	janitor.Stop()
	for i := len(comp.workers) - 1; i >= 0; i-- {
		comp.workers[i].Stop()
	}
	return nil
}

// seedAdmin creates the bootstrap admin account on an empty users
// table. The password must be rotated through the accounts API.
func seedAdmin(ctx context.Context, users store.UsersStore, cfg *config.AppConfig, logger *utils.Logger) error {
	existing, err := users.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	password := os.Getenv("KESTREL_ADMIN_PASSWORD")
	if password == "" {
		password, err = utils.RandString(16)
		if err != nil {
			return err
		}
		logger.Printf("BOOT generated admin password: %s", password)
	}
	hash, err := utils.HashPassword(password, cfg.Pepper)
	if err != nil {
		return err
	}
	_, err = users.Create(ctx, &store.User{
		Username:     "admin",
		PasswordHash: hash,
		FullName:     "Administrator",
		Role:         "admin",
		Active:       true,
	})
	if err == nil {
		logger.Printf("BOOT seeded admin account")
	}
	return err
}

type sessionJanitor struct {
	sessions store.SessionStore
	logger   *utils.Logger
	stop     chan struct{}
	done     chan struct{}
}

func newSessionJanitor(sessions store.SessionStore, logger *utils.Logger) *sessionJanitor {
	return &sessionJanitor{
		sessions: sessions,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (j *sessionJanitor) Start() {
	go func() {
		defer close(j.done)
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				n, err := j.sessions.DeleteExpired(ctx, utils.NowUTC())
				cancel()
				if err != nil {
					j.logger.Errorf("SESSIONS cleanup: %v", err)
				} else if n > 0 {
					j.logger.Printf("SESSIONS expired removed=%d", n)
				}
			case <-j.stop:
				return
			}
		}
	}()
}

func (j *sessionJanitor) Stop() {
	close(j.stop)
	<-j.done
}
