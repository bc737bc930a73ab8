package main

import (
	"log/slog"

	"github.com/hlnode/meshgem-proxy/internal/bridge"
	"github.com/hlnode/meshgem-proxy/internal/config"
)

func initBridge(cfg *config.Config, l *slog.Logger) bridge.Bridge {
	b, err := bridge.New(cfg.BridgeKind)
	if err != nil {
		l.Warn("bridge_init_failed", "kind", cfg.BridgeKind, "error", err)
		b, _ = bridge.New("none")
	}
	return b
}
