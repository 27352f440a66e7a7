package appbootstrap

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fathom-crm/api"
	"fathom-crm/config"
	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

// Run wires the application together and serves until ctx is cancelled.
func Run(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) error {
	db, err := store.OpenDB(ctx, cfg.DBDriver, cfg.DBURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		return err
	}

	rt := composeRuntime(cfg, db, logger)
	if err := rt.seeder.Run(ctx); err != nil {
		return err
	}
	if err := rt.retention.Start(); err != nil {
		return err
	}
	defer rt.retention.Stop()

	server := api.NewServer(rt.serverDeps)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("http shutdown: %v", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
