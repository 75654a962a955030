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

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/liveroom/internal/adapters/http"
	"github.com/dkeye/liveroom/internal/adapters/rtc"
	"github.com/dkeye/liveroom/internal/app"
	"github.com/dkeye/liveroom/internal/app/broadcast"
	"github.com/dkeye/liveroom/internal/app/orch"
	"github.com/dkeye/liveroom/internal/app/sfu"
	"github.com/dkeye/liveroom/internal/config"
	"github.com/dkeye/liveroom/internal/logging"
	"github.com/dkeye/liveroom/internal/storage"
)

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Console output until the configured logger replaces it.
	logging.Setup(logging.Config{Level: "info", Pretty: true})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Setup(cfg.Log)

	store, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("store close")
		}
	}()

	policy := app.SimplePolicy{
		MaxRooms:             cfg.Limits.MaxRooms,
		MaxParticipants:      cfg.Limits.MaxParticipants,
		MaxTransportsPerRoom: cfg.Limits.MaxTransportsPerRoom,
	}
	var limiter *app.RoomRateLimiter
	if cfg.Limits.JoinRate > 0 && cfg.Limits.JoinInterval > 0 {
		limiter = app.NewRoomRateLimiter(cfg.Limits.JoinRate, cfg.Limits.JoinInterval)
	}

	o := &orch.Orchestrator{
		Rooms:        app.NewRoomManager(policy),
		Registry:     app.NewRegistry(),
		Hub:          broadcast.NewHub(broadcast.Config{HeartbeatInterval: cfg.Broadcast.HeartbeatInterval}),
		Store:        store,
		Limiter:      limiter,
		HistoryLimit: cfg.Store.HistoryLimit,
	}

	engine := rtc.NewEngine(rtc.Config{
		ICEServers: cfg.Media.ICEServers,
		UDPPortMin: cfg.Media.UDPPortMin,
		UDPPortMax: cfg.Media.UDPPortMax,
		NAT1To1IPs: cfg.Media.NAT1To1IPs,
	})
	o.Media = sfu.NewAdapter(engine, sfu.Config{
		Workers: cfg.Media.Workers,
		Policy:  policy,
		OnLoss:  o.OnMediaLoss,
	})
	if err := o.Media.Init(ctx); err != nil {
		return fmt.Errorf("start media workers: %w", err)
	}
	defer o.Media.Close()

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("liveroom server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return o.Hub.Run(gctx)
	})
	if limiter != nil {
		g.Go(func() error {
			t := time.NewTicker(cfg.Limits.JoinInterval)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					limiter.Sweep()
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		// Closing every sink ends the SSE and WebSocket streams, which
		// Shutdown would otherwise wait on.
		o.Hub.Close()
		grace := cfg.Server.ShutdownGrace
		if grace <= 0 {
			grace = 5 * time.Second
		}
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), grace)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
