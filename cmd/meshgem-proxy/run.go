package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hlnode/meshgem-proxy/internal/config"
	"github.com/hlnode/meshgem-proxy/internal/generator"
	"github.com/hlnode/meshgem-proxy/internal/intercept"
	"github.com/hlnode/meshgem-proxy/internal/meshproto"
	"github.com/hlnode/meshgem-proxy/internal/meshwire"
	"github.com/hlnode/meshgem-proxy/internal/metrics"
	"github.com/hlnode/meshgem-proxy/internal/server"
)

var errRadioStartupTimeout = errors.New("timed out waiting for initial radio connection")

func runProxy(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(rootViper)
	if err != nil {
		return err
	}

	l := setupLogger(cfg.LogFormat, cfg.LogLevel)
	reg := initRegistry(cfg, l)

	chatBridge := initBridge(cfg, l)
	defer func() { _ = chatBridge.Close() }()
	l.Info("bridge_selected", "kind", cfg.BridgeKind)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	logInterval, _ := time.ParseDuration(cfg.LogMetricsEvery)
	startMetricsLogger(ctx, logInterval, l, &wg)

	var gen *generator.Client
	if cfg.GeminiAPIKey != "" {
		gen = generator.New(generator.Config{
			APIKey:           cfg.GeminiAPIKey,
			Endpoint:         cfg.GeminiEndpoint,
			Model:            cfg.GeminiModel,
			DisableSSLVerify: cfg.DisableSSLVerify,
		})
	} else {
		l.Warn("gemini_api_key_unset", "note", "/gem commands will receive a fixed diagnostic reply")
	}

	var interceptor *intercept.Interceptor
	radioLink := initRadio(cfg, func(fr meshwire.Frame) {
		if frame, err := meshwire.Build(fr.Payload); err == nil {
			reg.Broadcast(frame, 0)
		}
		env := meshproto.DecodeEnvelope(fr.Payload)
		if sender, channel, text, ok := meshproto.TryExtractText(env); ok && interceptor != nil {
			interceptor.Submit(sender, channel, text)
		}
	}, l)

	var interceptOpts []intercept.Option
	interceptOpts = append(interceptOpts, intercept.WithResponseDelay(time.Duration(cfg.ResponseDelay*float64(time.Second))))
	interceptOpts = append(interceptOpts, intercept.WithDefaultChannel(cfg.Channel))
	if cfg.GemFilter != "" {
		prg, err := intercept.NewFilter(cfg.GemFilter)
		if err != nil {
			l.Error("gem_filter_invalid", "expr", cfg.GemFilter, "error", err)
			return err
		}
		interceptOpts = append(interceptOpts, intercept.WithFilter(prg))
	}
	interceptor = intercept.New(gen, radioLink, reg, cfg.GemQueueSize, cfg.GemWorkers, interceptOpts...)
	defer interceptor.Close()

	radioLink.Run(ctx, &wg)

	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	select {
	case <-radioLink.Ready():
		connectCancel()
	case <-connectCtx.Done():
		connectCancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cancel()
		wg.Wait()
		return fmt.Errorf("connect radio at %s:%d: %w", cfg.RadioHost, cfg.RadioPort, errRadioStartupTimeout)
	}

	readDeadline, _ := time.ParseDuration(cfg.ClientReadTO)
	flushInterval, _ := time.ParseDuration(cfg.FlushInterval)

	srv := server.New(
		server.WithListenAddr(net.JoinHostPort(cfg.ListenHost, strconv.Itoa(cfg.ListenPort))),
		server.WithRegistry(reg),
		server.WithRadio(radioLink),
		server.WithInterceptor(interceptor),
		server.WithMaxClients(cfg.MaxClients),
		server.WithReadDeadline(readDeadline),
		server.WithFlushInterval(flushInterval),
		server.WithLogger(l),
	)

	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	go func() {
		if !cfg.MDNSEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		portNum := 0
		if _, p, err := net.SplitHostPort(srv.Addr()); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		if portNum == 0 {
			if idx := strings.LastIndex(srv.Addr(), ":"); idx >= 0 {
				if pn, perr := strconv.Atoi(srv.Addr()[idx+1:]); perr == nil {
					portNum = pn
				}
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.MDNSName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.MetricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv := metrics.StartHTTP(cfg.MetricsAddr)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Warn("shutdown_incomplete", "error", err)
	}
	wg.Wait()
	return nil
}
