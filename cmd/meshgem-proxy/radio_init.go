package main

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/hlnode/meshgem-proxy/internal/config"
	"github.com/hlnode/meshgem-proxy/internal/meshproto"
	"github.com/hlnode/meshgem-proxy/internal/meshwire"
	"github.com/hlnode/meshgem-proxy/internal/radio"
)

func initRadio(cfg *config.Config, onFrame func(meshwire.Frame), l *slog.Logger) *radio.Link {
	addr := fmt.Sprintf("%s:%d", cfg.RadioHost, cfg.RadioPort)
	return radio.NewLink(addr, onFrame,
		radio.WithLogger(func(msg string, args ...any) { l.Info(msg, args...) }),
		radio.WithOnConnect(func(send func([]byte) error) {
			payload := meshproto.BuildWantConfig(rand.Uint32() | 1)
			frame, err := meshwire.Build(payload)
			if err != nil {
				l.Error("want_config_build_failed", "error", err)
				return
			}
			if err := send(frame); err != nil {
				l.Warn("want_config_send_failed", "error", err)
			}
		}),
	)
}
