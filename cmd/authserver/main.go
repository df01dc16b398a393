package main

import (
	"errors"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/spotiduck/spotiduck/internal/authflow"
	"github.com/spotiduck/spotiduck/internal/config"
)

const defaultAddr = ":5000"

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.Load(os.Getenv("SPOTIDUCK_CONFIG"))
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		logger.Fatal("SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET are required")
	}

	addr := os.Getenv("AUTHSERVER_ADDR")
	if addr == "" {
		addr = defaultAddr
	}

	s := authflow.NewServer(logger, cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI)
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	logger.Info("open this address in a browser to authorize",
		zap.String("addr", addr),
		zap.String("redirectURI", cfg.RedirectURI))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}
