// Command gaia-core runs the real-time core experience server: the
// WebSocket connection manager, command dispatcher, state manager, and
// area-of-interest publisher described in SPEC_FULL.md. Wiring follows
// _examples/AltairaLabs-PromptKit/server/a2a/server.go's NewServer/ListenAndServe/Shutdown
// shape and examples/a2a-demo/server/main.go's signal-driven graceful
// shutdown, generalized to this process's two listeners (the WebSocket
// upgrade endpoint and the metrics exporter).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Aeonia-ai/gaia-sub001/internal/aoi"
	"github.com/Aeonia-ai/gaia-sub001/internal/auth"
	"github.com/Aeonia-ai/gaia-sub001/internal/bus"
	"github.com/Aeonia-ai/gaia-sub001/internal/config"
	"github.com/Aeonia-ai/gaia-sub001/internal/dispatch"
	"github.com/Aeonia-ai/gaia-sub001/internal/docstore"
	"github.com/Aeonia-ai/gaia-sub001/internal/handlers"
	"github.com/Aeonia-ai/gaia-sub001/internal/interpreter"
	"github.com/Aeonia-ai/gaia-sub001/internal/logger"
	"github.com/Aeonia-ai/gaia-sub001/internal/metrics"
	"github.com/Aeonia-ai/gaia-sub001/internal/statemanager"
	"github.com/Aeonia-ai/gaia-sub001/internal/template"
	"github.com/Aeonia-ai/gaia-sub001/internal/wsserver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("gaia-core: configuration error", "error", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		DefaultLevel: logger.ParseLevel(cfg.LogLevel),
		Format:       cfg.LogFormat,
	}, os.Stdout)
	slog.SetDefault(log)

	store, err := newStore(cfg)
	if err != nil {
		log.Error("gaia-core: failed to construct document store", "error", err)
		os.Exit(1)
	}

	eventBus := bus.New()
	manager := statemanager.New(store, eventBus, statemanager.WithLogger(log))
	resolver := template.NewResolver(cfg.ContentRoot)
	nowMillis := func() int64 { return time.Now().UnixMilli() }

	h := handlers.New(manager, resolver, nowMillis, log)
	fast, admin := h.Register()

	var adapter dispatch.Adapter = interpreter.Unconfigured{}
	if cfg.InterpreterURL != "" {
		adapter = interpreter.NewHTTPAdapter(cfg.InterpreterURL, cfg.InterpreterTimeout)
	}
	dispatcher := dispatch.New(fast, admin, adapter)

	aoiBuilder := aoi.NewBuilder(manager, resolver, nowMillis, log)
	verifier := auth.NewVerifier(cfg.JWTSecret, auth.WithCacheTTL(cfg.AuthCacheTTL))
	m := metrics.New()

	wsSrv := wsserver.New(verifier, dispatcher, aoiBuilder, eventBus, m,
		wsserver.WithAddr(cfg.ListenAddr),
		wsserver.WithLogger(log),
		wsserver.WithIdleTimeout(cfg.WSIdleTimeout),
		wsserver.WithOutboundBuffer(cfg.WSOutboundBuffer),
		wsserver.WithRateLimit(cfg.WSRateLimit, cfg.WSRateBurst),
	)

	exporter := metrics.NewExporter(cfg.MetricsAddr, m)

	errCh := make(chan error, 2)
	go func() {
		log.Info("gaia-core: ws listener starting", "addr", cfg.ListenAddr)
		errCh <- wsSrv.ListenAndServe()
	}()
	go func() {
		log.Info("gaia-core: metrics listener starting", "addr", cfg.MetricsAddr)
		errCh <- exporter.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("gaia-core: shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("gaia-core: listener failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := wsSrv.Shutdown(ctx); err != nil {
		log.Error("gaia-core: ws server shutdown error", "error", err)
	}
	if err := exporter.Shutdown(ctx); err != nil {
		log.Error("gaia-core: metrics server shutdown error", "error", err)
	}
}

func newStore(cfg *config.Config) (docstore.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return docstore.NewRedisStore(client), nil
	default:
		return docstore.NewFileStore(cfg.ContentRoot)
	}
}
