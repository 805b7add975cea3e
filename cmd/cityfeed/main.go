package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/cityfeed/internal/broadcast"
	"github.com/adred-codev/cityfeed/internal/burst"
	"github.com/adred-codev/cityfeed/internal/config"
	"github.com/adred-codev/cityfeed/internal/handlers"
	"github.com/adred-codev/cityfeed/internal/identity"
	"github.com/adred-codev/cityfeed/internal/logging"
	"github.com/adred-codev/cityfeed/internal/messages"
	"github.com/adred-codev/cityfeed/internal/metrics"
	"github.com/adred-codev/cityfeed/internal/moderation"
	"github.com/adred-codev/cityfeed/internal/pipeline"
	"github.com/adred-codev/cityfeed/internal/ratelimit"
	"github.com/adred-codev/cityfeed/internal/registry"
	"github.com/adred-codev/cityfeed/internal/reputation"
	"github.com/adred-codev/cityfeed/internal/server"
	"github.com/adred-codev/cityfeed/internal/shadowban"
	"github.com/adred-codev/cityfeed/internal/stats"
	"github.com/adred-codev/cityfeed/internal/store"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	flag.Parse()

	bootstrapLogger := logging.New("info", "console")

	cfg, err := config.Load(&bootstrapLogger)
	if err != nil {
		bootstrapLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	cfg.LogConfig(logger)

	redisStore, err := store.NewRedisStore(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisStore.Close()

	var remote moderation.RemoteChecker
	if cfg.RemoteModerationEnabled() {
		remote = &moderation.HTTPRemoteChecker{
			URL:     cfg.ModerationURL,
			APIKey:  cfg.ModerationAPIKey,
			Timeout: cfg.ModerationTimeout,
		}
	}

	id := identity.NewDeriver(cfg.ServerSecret, cfg.TrustedProxies)
	rl := ratelimit.New(redisStore)
	bp := burst.New(redisStore)
	sb := shadowban.New(redisStore)
	rep := reputation.New(redisStore)
	mod := moderation.New(remote)
	pl := pipeline.New(id, rl, bp, sb, rep, mod, logger)
	msgs := messages.New(redisStore, rep)
	st := stats.New(redisStore)

	instanceID := uuid.NewString()
	bus := broadcast.New(redisStore, instanceID, logger)

	reg := registry.New(func(n int) { metrics.ActiveConnections.Set(float64(n)) })
	sink := registry.NewSink(reg)

	h := handlers.New(pl, id, msgs, rl, rep, bus, reg, st, redisStore, logger)
	srv := server.New(cfg, h, logger)

	collector, err := metrics.NewCollector(cfg.MetricsInterval)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to start process metrics collector")
	} else {
		go collector.Run()
		defer collector.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go bus.Run(ctx, sink)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}
