package main

import (
	"fleetlink/internal/config"
	"fleetlink/internal/dispatcher"
	"fleetlink/internal/grpcclient"
	"fleetlink/internal/link"
	"fleetlink/internal/observability"
	"fleetlink/internal/server"
	"fleetlink/internal/session"
	"fleetlink/internal/store"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger()
	logger.Info("starting fleetlink...", "port", cfg.TCPPort)

	if err := store.InitRedis(cfg.RedisAddr, 0); err != nil {
		logger.Warn("redis unavailable, provisioning limits disabled", "addr", cfg.RedisAddr, "error", err)
	}
	link.Init(cfg.ProxyAddr, logger)

	var forward *grpcclient.GRPCClient
	if cfg.GRPCServer != "" {
		fc, err := grpcclient.NewGRPCClient(cfg.GRPCServer)
		if err != nil {
			logger.Warn("forwarder unavailable", "addr", cfg.GRPCServer, "error", err)
		} else {
			forward = fc
			defer fc.Close()
		}
	}

	go observability.StartMetricsServer(cfg.MetricsPort)

	registry := session.NewRegistry()
	engine := dispatcher.NewEngine(logger)
	disp := dispatcher.New(registry, engine, forward, cfg.CommandTimeout, logger)

	if err := server.Start(":"+cfg.TCPPort, registry, disp, logger); err != nil {
		logger.Error("TCP server failed", "error", err)
	}
}
