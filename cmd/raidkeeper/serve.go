package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ernie/raidkeeper/internal/api"
	"github.com/ernie/raidkeeper/internal/auth"
	"github.com/ernie/raidkeeper/internal/collector"
	"github.com/ernie/raidkeeper/internal/config"
	"github.com/ernie/raidkeeper/internal/domain"
	"github.com/ernie/raidkeeper/internal/notify"
	"github.com/ernie/raidkeeper/internal/storage"
	"github.com/ernie/raidkeeper/internal/upload"
)

// cmdServe follows the active log and serves the live API
func cmdServe(args []string) error {
	fs, configPath := newFlagSet("serve")
	fs.Parse(args)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env, err := openEnv(ctx, fs, *configPath)
	if err != nil {
		return err
	}
	defer env.Close()
	cfg, logger, store := env.cfg, env.logger, env.store

	logger.Info("raidkeeper starting", zap.String("version", version), zap.String("database", cfg.Database.Path))

	resume, err := resumableRaid(ctx, store, cfg.Analysis.RaidGap, time.Now())
	if err != nil {
		return err
	}
	if resume != nil {
		logger.Info("Resuming raid", zap.Int64("id", resume.ID), zap.String("raid", resume.Name))
	}

	watcher := collector.NewLogWatcher(cfg.EQ.LogDir, cfg.EQ.LogFile, logger)
	manager := collector.NewLiveManager(collector.LiveOptions{
		Parser: collector.Options{
			Channels:        cfg.Parser.Channels,
			WhoHeaderWindow: cfg.Parser.WhoHeaderWindow,
			Character:       cfg.EQ.Character,
		},
		PollInterval: cfg.Server.PollInterval,
		RaidGap:      cfg.Analysis.RaidGap,
		KillWindow:   cfg.Analysis.KillWindow,
		Resume:       resume,
	}, watcher, store, logger)

	natsServer, publisher, err := startNATS(cfg.NATS, logger)
	if err != nil {
		return err
	}
	if natsServer != nil {
		defer natsServer.Shutdown()
	}
	if publisher != nil {
		defer publisher.Close()
		manager.AddPublisher(publisher)
	}

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("starting log collector: %w", err)
	}
	logger.Info("Following log", zap.String("path", manager.CurrentLog()), zap.Duration("poll", cfg.Server.PollInterval))

	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("No JWT secret configured; login and uploads through the API are disabled")
	}

	var uploader api.Uploader
	if cfg.Upload.BaseURL != "" && cfg.Upload.APISecret != "" {
		client := upload.NewClient(cfg.Upload, "", logger)
		uploader = upload.NewService(store, cfg.Upload.Discounts, client)
	}

	router := api.NewRouter(store, manager, uploader, authService, logger)
	router.Start()

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.Stringer("signal", sig))
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	// Sequential shutdown: stop accepting requests, then the collector, then clients
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	manager.Stop()
	router.Stop()
	cancel()

	logger.Info("Shutdown complete")
	return runErr
}

// resumableRaid returns the latest raid when it ended within gap of now and
// has not been uploaded yet
func resumableRaid(ctx context.Context, store *storage.Store, gap time.Duration, now time.Time) (*domain.Raid, error) {
	raids, err := store.GetRaids(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("loading latest raid: %w", err)
	}
	if len(raids) == 0 {
		return nil, nil
	}
	latest := raids[0]
	if latest.UploadedAt != nil || now.Sub(latest.EndedAt) > gap {
		return nil, nil
	}
	return store.GetRaid(ctx, latest.ID)
}

// startNATS runs the embedded server when configured and connects the
// event publisher. Both results may be nil.
func startNATS(cfg config.NATSConfig, logger *zap.Logger) (*notify.EmbeddedServer, *notify.Publisher, error) {
	url := cfg.URL
	var srv *notify.EmbeddedServer
	if cfg.Embedded {
		var err error
		srv, err = notify.StartServer(cfg.Host, cfg.Port)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Embedded NATS server running", zap.String("url", srv.URL()))
		if url == "" {
			url = srv.URL()
		}
	}
	if url == "" {
		return srv, nil, nil
	}

	pub, err := notify.Connect(url, cfg.Subject, logger)
	if err != nil {
		if srv != nil {
			srv.Shutdown()
		}
		return nil, nil, err
	}
	return srv, pub, nil
}
