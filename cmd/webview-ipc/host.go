/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DISTRHO/DPF-sub001/internal/config"
	"github.com/DISTRHO/DPF-sub001/internal/metrics"
	"github.com/DISTRHO/DPF-sub001/internal/protocol"
	"github.com/DISTRHO/DPF-sub001/internal/webview"
)

// pollInterval is how often the demo host drains callbacks.
const pollInterval = 16 * time.Millisecond

type hostFlags struct {
	url      string
	width    uint32
	height   uint32
	scale    float64
	window   uint64
	eval     []string
	duration time.Duration
}

func newHostCmd() *cobra.Command {
	var f hostFlags
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Launch a child web view and log its callbacks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHost(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.url, "url", "about:blank", "page to load")
	cmd.Flags().Uint32Var(&f.width, "width", 800, "view width in pixels")
	cmd.Flags().Uint32Var(&f.height, "height", 600, "view height in pixels")
	cmd.Flags().Float64Var(&f.scale, "scale", 1.0, "host scale factor")
	cmd.Flags().Uint64Var(&f.window, "window", 0, "native parent window handle")
	cmd.Flags().StringArrayVar(&f.eval, "eval", nil, "code to evaluate once ready (repeatable)")
	cmd.Flags().DurationVar(&f.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func runHost(ctx context.Context, f hostFlags) error {
	cfg, log, err := loadHost()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return runView(gctx, cfg, log, m, f)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.MetricsAddr, reg, log)
		})
	}
	return g.Wait()
}

func runView(ctx context.Context, cfg *config.HostConfig, log *zap.Logger, m *metrics.Metrics, f hostFlags) error {
	h := webview.NewHost(cfg, webview.WithLogger(log), webview.WithMetrics(m))
	defer h.Close()

	init := protocol.Init{
		WindowHandle: f.window,
		Width:        f.width,
		Height:       f.height,
		ScaleFactor:  f.scale,
		URL:          f.url,
	}
	if err := h.Start(ctx, init); err != nil {
		return err
	}
	for _, code := range f.eval {
		if err := h.Evaluate(code); err != nil {
			log.Warn("evaluate dropped", zap.String("code", code), zap.Error(err))
		}
	}

	var deadline <-chan time.Time
	if f.duration > 0 {
		timer := time.NewTimer(f.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	onMessage := func(_ context.Context, msg protocol.Message) {
		if cb, ok := msg.(protocol.Callback); ok {
			log.Info("callback", zap.String("payload", cb.Payload))
		}
	}
	for {
		select {
		case <-ctx.Done():
			log.Info("interrupted, closing view")
			return nil
		case <-deadline:
			log.Info("duration elapsed, closing view")
			return nil
		case <-ticker.C:
			if _, err := h.Poll(ctx, onMessage); err != nil {
				return err
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
