package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hlnode/meshgem-proxy/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"frames_client_rx", snap.FramesClientRx,
					"frames_client_tx", snap.FramesClientTx,
					"frames_radio_rx", snap.FramesRadioRx,
					"frames_radio_tx", snap.FramesRadioTx,
					"hub_drops", snap.HubDrops,
					"hub_kicks", snap.HubKicks,
					"gem_commands", snap.GemCommands,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
