package main

import (
	"log/slog"

	"github.com/hlnode/meshgem-proxy/internal/config"
	"github.com/hlnode/meshgem-proxy/internal/registry"
)

func initRegistry(cfg *config.Config, l *slog.Logger) *registry.Registry {
	var policy registry.BackpressurePolicy
	switch cfg.HubPolicy {
	case "drop":
		policy = registry.PolicyDrop
	case "kick":
		policy = registry.PolicyKick
	default:
		l.Warn("unknown_hub_policy", "policy", cfg.HubPolicy, "used", "drop")
		policy = registry.PolicyDrop
	}
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("registry_config", "policy", cfg.HubPolicy, "buffer", cfg.HubBuffer)
	return registry.New(cfg.HubBuffer, policy)
}
