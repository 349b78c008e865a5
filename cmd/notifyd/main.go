// README: Entry point; loads config, wires services, starts the notification server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"savora/internal/auth"
	"savora/internal/config"
	"savora/internal/dispatch"
	"savora/internal/eta"
	httptransport "savora/internal/http"
	"savora/internal/infra"
	"savora/internal/notify"
	"savora/internal/order"
	"savora/internal/realtime"
	"savora/internal/routing"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Error("db init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()

	orderService := order.NewService(order.NewPGStore(dbPool))
	presenceStore := dispatch.NewRedisStore(redisClient)
	selector := dispatch.NewSelector(presenceStore, cfg.Dispatch.StaleThreshold, cfg.Dispatch.QueryTimeout)

	registry := realtime.NewRegistry(logger)
	router := notify.NewRouter(logger, registry, orderService)
	// Enqueued under the service's per-order lock, so room delivery order
	// matches acceptance order.
	orderService.OnAccepted = func(ev *order.StatusEvent) {
		router.Publish(notify.StatusChanged(ev))
	}

	providers, err := buildProviders(logger, cfg.ETA)
	if err != nil {
		logger.Error("routing provider init failed", slog.Any("error", err))
		os.Exit(1)
	}
	estimator := eta.NewEstimator(logger, providers, cfg.ETA.ProviderTimeout)
	refresher := eta.NewRefresher(logger, estimator, router, cfg.ETA.RefreshInterval, cfg.ETA.MovementKm)
	router.OnDriverLocation = refresher.ObserveDriverLocation

	authenticator := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret)
	hub := realtime.NewHub(logger, registry, authenticator, orderService, presenceStore, router, realtime.HubConfig{
		LocationMinGap: cfg.Realtime.LocationMinGap,
	})

	var connWG sync.WaitGroup
	server := httptransport.NewServer(ctx, &connWG, httptransport.ServerDeps{
		Logger:    logger,
		Hub:       hub,
		Orders:    orderService,
		Selector:  selector,
		Publisher: router,
		Refresher: refresher,
		Profiles:  presenceStore,
		Config:    cfg,
	})

	go router.Run(ctx)
	go refresher.Run(ctx)
	go registry.RunSweeper(ctx, cfg.Realtime.SweepInterval)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: server.Routes(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("server starting", slog.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdown(logger, httpServer, registry, &connWG)
}

func buildProviders(logger *slog.Logger, cfg config.ETAConfig) ([]routing.Provider, error) {
	var providers []routing.Provider
	for _, name := range cfg.Providers {
		switch name {
		case "osrm":
			providers = append(providers, routing.NewOSRM(cfg.OSRMBaseURL))
		case "mapbox":
			providers = append(providers, routing.NewMapbox(cfg.MapboxBaseURL, cfg.MapboxToken))
		case "google":
			p, err := routing.NewGoogle(cfg.GoogleMapsAPIKey)
			if err != nil {
				return nil, err
			}
			providers = append(providers, p)
		default:
			logger.Warn("unknown routing provider, skipping", slog.String("provider", name))
		}
	}
	return providers, nil
}

// shutdown drains the HTTP listener, closes every live websocket, and waits
// for connection goroutines to finish their cleanup.
func shutdown(logger *slog.Logger, httpServer *http.Server, registry *realtime.Registry, connWG *sync.WaitGroup) {
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", slog.Any("error", err))
	}

	for _, c := range registry.Clients() {
		c.Link.Close(errors.New("server shutting down"))
	}
	connWG.Wait()
	logger.Info("shut down cleanly")
}
