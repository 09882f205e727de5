package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/hiccup-im/media-signal/internal/adapters/http"
	"github.com/hiccup-im/media-signal/internal/adapters/rtc"
	signalctl "github.com/hiccup-im/media-signal/internal/adapters/signal"
	"github.com/hiccup-im/media-signal/internal/app"
	"github.com/hiccup-im/media-signal/internal/auth"
	"github.com/hiccup-im/media-signal/internal/config"
	"github.com/hiccup-im/media-signal/internal/core"
	"github.com/hiccup-im/media-signal/internal/registry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	keys := auth.NewKeySource()
	nonces := auth.NewNonceCache(cfg.NonceCacheSize, cfg.ReplayWindow)
	authn := auth.NewAuthenticator(keys, nonces, cfg.ServiceID, cfg.TimestampTolerance, cfg.KeyWait)

	engine, err := rtc.NewEngine(rtc.EngineConfig{
		PublicIP: cfg.PublicIP,
		MinPort:  cfg.MediaMinPort,
		MaxPort:  cfg.MediaMaxPort,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init media engine")
	}

	groups := app.NewGroups()
	cache := core.NewReconnectCache(cfg.ReconnectCacheSize, cfg.ReconnectTTL)
	notifier := core.NewRoomNotifier(groups)
	ctl := signalctl.NewController(authn, engine, groups, cache, notifier)

	hostname := cfg.PublicDomain
	if hostname == "" {
		hostname = cfg.PublicIP
	}
	reg := registry.NewClient(cfg.RegistryURL, cfg.ServiceToken, registry.ServiceInfo{
		ID:         cfg.ServiceID,
		IP:         cfg.PublicIP,
		Hostname:   hostname,
		Port:       cfg.Port,
		LoadFactor: 0.1,
		Tags:       []string{"media"},
	}, keys)
	go reg.Run(ctx, cfg.RegisterInterval)

	// Bounded wait for the verification key; without it every authorize
	// fails closed until registration eventually succeeds.
	log.Info().Msg("waiting for service registration")
	keyCtx, keyCancel := context.WithTimeout(ctx, cfg.KeyWait)
	if _, err := keys.Get(keyCtx); err != nil {
		log.Warn().Msg("verification key not ready, serving anyway")
	}
	keyCancel()

	r := router.SetupRouter(ctx, cfg, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("service", cfg.ServiceID).Msg("Signal server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
