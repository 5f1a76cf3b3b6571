package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"guardian/config"
	"guardian/core/events"
	"guardian/native/secureop"
	"guardian/observability/logging"
	"guardian/observability/metrics"
	"guardian/observability/otel"
	"guardian/rpc"
	"guardian/storage"
)

const envKey = "GUARDIAN_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envKey))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var logger = logging.Setup("guardiand", env)
	if strings.TrimSpace(cfg.LogFile) != "" {
		logger = logging.SetupWithFile("guardiand", env, cfg.LogFile)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	var engineAddr [20]byte
	if strings.TrimSpace(cfg.EngineAddress) != "" {
		engineAddr, err = config.Identity(cfg.EngineAddress)
		if err != nil {
			logger.Error("invalid engine address", "err", err)
			os.Exit(1)
		}
	}

	engine, err := secureop.NewEngine(secureop.Config{
		ChainID:        cfg.ChainID,
		EngineAddress:  engineAddr,
		TimelockPeriod: time.Duration(cfg.TimelockSeconds) * time.Second,
	}, db)
	if err != nil {
		logger.Error("failed to construct engine", "err", err)
		os.Exit(1)
	}
	engine.SetMetrics(metrics.NewEngineMetrics(nil))

	stream := events.NewStream()
	engine.SetEmitter(stream)

	if cfg.Telemetry.Enabled {
		shutdown, err := otel.Init(context.Background(), otel.Config{
			ServiceName: "guardiand",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Traces:      cfg.Telemetry.Traces,
			Metrics:     cfg.Telemetry.Metrics,
		})
		if err != nil {
			logger.Error("telemetry init failed", "err", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Error("telemetry shutdown error", "err", err)
			}
		}()
	}

	owner, err := config.Identity(cfg.Owner)
	if err != nil {
		logger.Error("invalid owner identity", "err", err)
		os.Exit(1)
	}
	broadcaster, err := config.Identity(cfg.Broadcaster)
	if err != nil {
		logger.Error("invalid broadcaster identity", "err", err)
		os.Exit(1)
	}
	recovery, err := config.Identity(cfg.Recovery)
	if err != nil {
		logger.Error("invalid recovery identity", "err", err)
		os.Exit(1)
	}

	if err := engine.Initialize(owner, broadcaster, recovery); err != nil {
		logger.Error("engine initialization failed", "err", err)
		os.Exit(1)
	}
	logger.Info("engine initialized",
		"network", cfg.NetworkName,
		"chainId", cfg.ChainID,
		"timelock", time.Duration(cfg.TimelockSeconds)*time.Second,
	)

	server := rpc.NewServer(engine, logger, rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			Enabled:    cfg.RPC.AuthEnabled,
			HMACSecret: cfg.RPC.AuthSecret,
			Issuer:     cfg.RPC.AuthIssuer,
			Audience:   cfg.RPC.AuthAudience,
		},
		RateLimit: rpc.RateLimitConfig{
			Enabled:           cfg.RPC.RateLimitEnabled,
			RequestsPerMinute: cfg.RPC.RateLimitPerMinute,
			Burst:             cfg.RPC.RateLimitBurst,
		},
		Stream:  stream,
		Tracing: cfg.Telemetry.Enabled && cfg.Telemetry.Traces,
	})

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	if err := server.Serve(cfg.ListenAddress); err != nil {
		logger.Info("rpc server stopped", "err", err)
	}
}
