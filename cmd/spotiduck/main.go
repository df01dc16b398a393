package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/spotiduck/spotiduck/internal/auth"
	"github.com/spotiduck/spotiduck/internal/config"
	"github.com/spotiduck/spotiduck/internal/hub"
	"github.com/spotiduck/spotiduck/internal/spotify"
	"github.com/spotiduck/spotiduck/internal/store"
)

const (
	defaultAddr     = ":8080"
	shutdownTimeout = 10 * time.Second
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	storePath := os.Getenv("SPOTIDUCK_STORE")
	if storePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			logger.Fatal("cannot resolve home directory", zap.Error(err))
		}
		storePath = filepath.Join(home, ".spotiduck", "store.json")
	}

	s, err := store.NewFileStore(storePath)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("path", storePath), zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfgPath := os.Getenv("SPOTIDUCK_CONFIG"); cfgPath != "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
		}
		if err := cfg.Seed(ctx, s); err != nil {
			logger.Fatal("failed to seed credentials", zap.Error(err))
		}
		logger.Info("credentials seeded from config", zap.String("path", cfgPath))
	}

	authority := auth.NewAuthority(logger, s, "")
	authority.LoadToken(ctx)

	client := spotify.NewClient("")
	h := hub.New(logger, authority, client, s)
	authority.SetNotifier(h)
	go h.Run(ctx)

	addr := os.Getenv("SPOTIDUCK_ADDR")
	if addr == "" {
		addr = defaultAddr
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", h.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("daemon listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	logger.Info("daemon exited")
}
