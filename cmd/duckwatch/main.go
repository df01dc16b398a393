package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/spotiduck/spotiduck/internal/activity"
	"github.com/spotiduck/spotiduck/internal/bus"
	"github.com/spotiduck/spotiduck/internal/spotify"
	"github.com/spotiduck/spotiduck/internal/trigger"
	"github.com/spotiduck/spotiduck/pkg/model"
)

const defaultDaemonURL = "ws://localhost:8080/ws"

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	url := os.Getenv("SPOTIDUCK_URL")
	if url == "" {
		url = defaultDaemonURL
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := bus.Dial(ctx, url, logger)
	if err != nil {
		logger.Fatal("cannot reach daemon", zap.String("url", url), zap.Error(err))
	}
	defer client.Close()

	tokens := bus.NewTokenSource(client, logger)
	trg := trigger.New(logger, spotify.NewClient(""), tokens)

	client.Handle(model.ActionTokenRefreshed, func(msg model.Message) {
		trg.UpdateToken(msg.Token)
	})
	client.Handle(model.ActionSnapshot, func(msg model.Message) {
		trg.UpdateToken(msg.Token)
		if msg.Volume != nil {
			v := *msg.Volume
			go trg.UpdateTarget(ctx, v)
		}
	})
	client.Handle(model.ActionUpdateVolume, func(msg model.Message) {
		if msg.Volume != nil {
			v := *msg.Volume
			go trg.UpdateTarget(ctx, v)
		}
	})
	client.Start()

	listener := activity.NewListener(activity.SystemProbe(), activity.DefaultInterval)
	transitions := listener.Listen(ctx)

	go trg.Run(ctx, transitions)
	logger.Info("watching local audio activity", zap.String("daemon", url))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutting down")
	case <-client.Done():
		logger.Error("daemon connection lost")
	}
}
