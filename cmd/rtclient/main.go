package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rtclient/internal/config"
	"rtclient/internal/domain"
	"rtclient/internal/httpserver"
	"rtclient/internal/restapi"
	"rtclient/internal/rtc"
	"rtclient/internal/service"
	"rtclient/internal/signaling"
	"rtclient/internal/store/sqlite"
	"rtclient/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// Optional warm-start cache
	var cache domain.ConversationCache
	if cfg.CacheDSN != "" {
		db, err := sqlite.Open(cfg.CacheDSN)
		if err != nil {
			logger.Error("failed to open cache", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := sqlite.Migrate(db); err != nil {
			logger.Error("failed to migrate cache", "err", err)
			os.Exit(1)
		}
		cache = sqlite.NewConversationCache(db)
	}

	// Signaling: WebSocket first, long-poll as fallback
	var transports []signaling.Transport
	if cfg.ServerURL != "" {
		transports = append(transports, signaling.NewWebSocketTransport(cfg.ServerURL, logger))
	}
	if cfg.PollURL != "" {
		transports = append(transports, signaling.NewPollingTransport(cfg.PollURL))
	}
	manager := signaling.NewManager(signaling.Options{
		Transports:  transports,
		MaxAttempts: cfg.ReconnectAttempts,
		BaseDelay:   cfg.ReconnectBase(),
		MaxDelay:    cfg.ReconnectMax(),
		Logger:      logger,
	})

	peers, err := rtc.NewPionFactory(rtc.PionConfig{STUNServers: cfg.STUNServers, Logger: logger})
	if err != nil {
		logger.Error("failed to initialize webrtc", "err", err)
		os.Exit(1)
	}

	hub := ws.NewHub(logger)
	api := restapi.NewClient(cfg.APIURL, cfg.Token, &http.Client{Timeout: 15 * time.Second})

	sess := service.NewSession(manager, api, peers, &rtc.SyntheticDevices{}, service.Options{
		Token:          cfg.Token,
		UserID:         cfg.UserID,
		UserName:       cfg.UserName,
		PageSize:       cfg.PageSize,
		TypingTTL:      cfg.TypingTTL(),
		ErrorTTL:       cfg.ErrorTTL(),
		TypingThrottle: cfg.TypingThrottle(),
		Cache:          cache,
		Notifier:       hub,
		Logger:         logger,
	})

	router := httpserver.NewRouter(sess, hub, httpserver.Options{
		CORSOrigins: cfg.CORSOrigins,
		Secret:      cfg.BridgeSecret,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // /ws streams are long-lived
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(ctx); err != nil {
		logger.Error("failed to start session", "err", err)
		os.Exit(1)
	}

	// Start bridge in background
	go func() {
		logger.Info("bridge listening", "addr", cfg.HTTPAddr(), "user_id", cfg.UserID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "err", err)
	}
}
