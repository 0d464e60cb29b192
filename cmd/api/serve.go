package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/app"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/authz"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/config"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/email"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/search"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/session"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/store"
	"github.com/InfinityBowman/amstar2-checklist-scoring-app/internal/syncproxy"
)

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger := loadConfig()
	ctx := cmd.Context()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db.DB, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	logger.Info("migrations applied", "count", len(applied), "versions", applied)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger := loadConfig()
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db.DB, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", "versions", applied)
	}
	dataStore := store.NewPostgresStore(db)

	sessions, closeSessions, err := openSessions(cfg, dataStore, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	// A nil *Meili must not reach search.NewService as a non-nil interface.
	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
		index = meili
	}
	searchService := search.NewService(index, search.NewPostgres(dataStore), logger)
	go searchService.ReindexAll(ctx)

	authorizer, err := authz.NewAuthorizer(authz.Config{Logger: logger})
	if err != nil {
		return fmt.Errorf("load authorization policies: %w", err)
	}

	mailer := email.NewService(email.Config{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Username:    cfg.SMTPUsername,
		Password:    cfg.SMTPPassword,
		From:        cfg.SMTPFrom,
		FromName:    cfg.SMTPFromName,
		AppName:     "AMSTAR",
		FrontendURL: cfg.FrontendURL,
	}, logger)
	if !mailer.IsConfigured() {
		logger.Warn("SMTP not configured; verification and reset codes will not be emailed")
	}

	var sync http.Handler
	if strings.TrimSpace(cfg.ElectricURL) != "" {
		proxy, err := syncproxy.New(cfg.ElectricURL, cfg.APIPrefix+"/electric", logger)
		if err != nil {
			return err
		}
		sync = proxy
	}

	service := app.New(app.Deps{
		Config:     cfg,
		Store:      dataStore,
		Authorizer: authorizer,
		Sessions:   sessions,
		Mailer:     mailer,
		Search:     searchService,
		Logger:     logger,
	})
	if service.DevCodes() {
		logger.Warn("one-time codes are echoed in API responses", "env", cfg.Env)
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, sync, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Sync long-polls hold the response open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("AMSTAR API listening", "addr", cfg.Addr, "prefix", cfg.APIPrefix)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	return nil
}

// openSessions prefers Redis for refresh sessions and falls back to the
// refresh_sessions table.
func openSessions(cfg config.Config, pg *store.PostgresStore, logger *slog.Logger) (session.Store, func(), error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Info("using PostgreSQL for refresh session storage")
		return session.NewPostgresStore(pg), func() {}, nil
	}
	redisStore, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info("using Redis for refresh session storage")
	return redisStore, func() { _ = redisStore.Close() }, nil
}
