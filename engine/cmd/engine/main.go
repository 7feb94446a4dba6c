package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/pulsekit/pulsekit/engine/internal/alerts"
	"github.com/pulsekit/pulsekit/engine/internal/api"
	"github.com/pulsekit/pulsekit/engine/internal/auth"
	"github.com/pulsekit/pulsekit/engine/internal/bus"
	"github.com/pulsekit/pulsekit/engine/internal/config"
	"github.com/pulsekit/pulsekit/engine/internal/metrics"
	"github.com/pulsekit/pulsekit/engine/internal/pipeline"
	"github.com/pulsekit/pulsekit/engine/internal/receiver"
	"github.com/pulsekit/pulsekit/engine/internal/session"
	"github.com/pulsekit/pulsekit/engine/internal/ws"
	"github.com/pulsekit/pulsekit/pkg/streamrpc"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file; empty runs on defaults")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("pulsekit-engine starting", "config", *configPath)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	setLevel(level, cfg.LogLevel)

	slog.Info("config loaded",
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"sample_rate", cfg.Engine.SampleRate,
		"buffer_seconds", cfg.Engine.BufferSeconds,
		"session_ttl", cfg.Engine.SessionTTL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Session registry with background TTL eviction.
	sessions := session.NewRegistry(session.Options{
		DSP:           cfg.Engine.DSP,
		SampleRate:    cfg.Engine.SampleRate,
		BufferSeconds: cfg.Engine.BufferSeconds,
		TTL:           cfg.Engine.SessionTTL,
	})
	go sessions.Run(ctx)

	reg := metrics.New()
	alertEngine := alerts.New(cfg.Alerts)
	rec := receiver.New(sessions, reg)

	// Optional NATS fan-out of every heart-rate tick.
	var publisher *bus.Publisher
	if cfg.Bus.NATS.URL != "" {
		p, err := bus.ConnectNATS(cfg.Bus.NATS.URL, cfg.Bus.NATS.Subject)
		if err != nil {
			slog.Error("nats disabled", "err", err)
		} else {
			publisher = p
			defer publisher.Close()
			slog.Info("nats publisher connected", "url", cfg.Bus.NATS.URL, "subject", cfg.Bus.NATS.Subject)
		}
	}

	// Optional MQTT subscription for the BLE bridge.
	if cfg.Bus.MQTT.Broker != "" {
		sub := bus.NewSubscriber(cfg.Bus.MQTT, rec)
		if err := sub.Connect(); err != nil {
			slog.Error("mqtt disabled", "err", err)
		} else {
			defer sub.Close()
		}
	}

	// gRPC ingest with optional API key authentication.
	authCfg := cfg.Server.Auth
	grpcSrv := grpc.NewServer(
		grpc.UnaryInterceptor(auth.APIKeyInterceptor(authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key())),
		grpc.StreamInterceptor(auth.APIKeyStreamInterceptor(authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key())),
	)
	streamrpc.RegisterIngestServer(grpcSrv, rec)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port",
			"port", cfg.Server.GRPCPort, "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("gRPC ingest listening", "port", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	hub := ws.New(sessions)
	go hub.Run(ctx)

	// Heart-rate ticker: every update goes to the hub, metrics, alerts and NATS.
	go sessions.Monitor(ctx, cfg.Engine.HeartRateInterval, func(updates []session.Update) {
		hub.Publish(updates)
		reg.ObserveTick(updates)
		alertEngine.Evaluate(updates)
		reg.SetAlertsFiring(alertEngine.Firing())
		if publisher != nil {
			publisher.Publish(updates)
		}
	})

	if *configPath != "" {
		go func() {
			if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
				setLevel(level, updated.LogLevel)
				sessions.SetDefaults(updated.Engine.SampleRate, updated.Engine.DSP)
				alertEngine.Reload(updated.Alerts)
				slog.Info("config hot-reloaded",
					"rules", len(updated.Alerts.Rules),
					"sample_rate", updated.Engine.SampleRate,
					"smoothing_window", updated.Engine.DSP.SmoothingWindow)
			}); err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	apiHandler := api.New(api.Deps{
		Sessions: sessions,
		Alerts:   alertEngine,
		Metrics:  reg,
		Pipeline: pipeline.Options{WindowSize: cfg.Engine.WindowSize, Stride: cfg.Engine.Stride},
	})
	protect := func(h http.Handler) http.Handler {
		return auth.Middleware(authCfg.Mode, authCfg.EffectiveHeader(), authCfg.Key(), h)
	}

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/v1/health", apiHandler)
	httpMux.Handle("/api/", protect(apiHandler))
	httpMux.Handle("/ws/stream", protect(hub))
	httpMux.Handle("/metrics", reg.Handler())

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("pulsekit-engine shutting down")
	grpcSrv.GracefulStop()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

func setLevel(v *slog.LevelVar, s string) {
	l, err := config.ParseLevel(s)
	if err != nil {
		slog.Warn("keeping log level", "err", err)
		return
	}
	v.Set(l)
}
