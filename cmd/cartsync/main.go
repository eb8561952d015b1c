package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/cartsync/api/routes"
	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "cartsync"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cartsync",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	agent, err := newAgent(ctx, cfg, logg, registry)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap agent", err)
		os.Exit(1)
	}
	defer func() {
		if err := agent.Close(); err != nil {
			logg.Error(context.Background(), "error closing agent resources", err)
		}
	}()

	ctx = logg.WithFields(ctx, map[string]any{
		"env":       cfg.App.Env,
		"origin_id": agent.bus.OriginID(),
		"storage":   cfg.Storage.Backend,
		"channel":   cfg.Sync.ChannelBackend,
	})

	agent.Start(ctx)

	server := &http.Server{
		Addr: net.JoinHostPort("", cfg.App.StatusPort),
		Handler: routes.NewRouter(routes.RouterParams{
			Config:   cfg,
			Logger:   logg,
			Cart:     agent.cart,
			Wishlist: agent.wishlist,
			Status:   agent.monitor,
			Sessions: agent.identity,
			Gatherer: registry,
			OriginID: agent.bus.OriginID(),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return agent.Run(groupCtx) })
	group.Go(func() error {
		logg.Info(groupCtx, "starting status server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cartsync agent stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cartsync agent shutting down gracefully")
}
