// Command busdemo runs a message bus with two collaborators, a window event
// router and an animation scheduler, exposing Prometheus metrics and traces.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/valyala/fasthttp"

	"github.com/fluxorio/msgbus/pkg/bus"
	"github.com/fluxorio/msgbus/pkg/config"
	"github.com/fluxorio/msgbus/pkg/core"
	"github.com/fluxorio/msgbus/pkg/observability/otel"
	"github.com/fluxorio/msgbus/pkg/observability/prometheus"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	frames := flag.Int("frames", 120, "frames per animation")
	flag.Parse()

	if err := run(*configPath, *frames); err != nil {
		fmt.Fprintln(os.Stderr, "busdemo:", err)
		os.Exit(1)
	}
}

func run(configPath string, frames int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := core.NewLogger(cfg.Logging.LoggerConfig())
	core.SetDefaultLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := otel.Initialize(ctx, cfg.Tracing.OTel()); err != nil {
		return err
	}

	opts := []bus.Option{
		bus.WithLogger(logger),
		bus.WithAsyncLimit(cfg.Bus.AsyncLimit),
		bus.WithRecentFailures(cfg.Bus.RecentFailures),
		bus.WithErrorHandler(otel.ErrorHandler(func(err *bus.SubscriberError) {
			logger.WithFields(map[string]interface{}{
				"failure_id":   err.ID,
				"message_type": err.Key.String(),
				"request_id":   err.RequestID,
			}).Warn("subscriber failed: ", err.Err)
		})),
	}

	var server *fasthttp.Server
	if cfg.Metrics.Enabled {
		reg := promclient.NewRegistry()
		collector := prometheus.NewCollector(cfg.Metrics.Namespace)
		if err := collector.Register(reg); err != nil {
			return err
		}
		reg.MustRegister(collectors.NewGoCollector())
		opts = append(opts, bus.WithMetrics(collector))
		server = newMetricsServer(cfg.Metrics.Path, reg)

		go func() {
			logger.Info("serving metrics on ", cfg.Metrics.ListenAddr)
			if err := server.ListenAndServe(cfg.Metrics.ListenAddr); err != nil {
				logger.Error("metrics server: ", err)
			}
		}()
	}

	b := bus.New(opts...)

	// Frame ticks go through the queue so the scheduler never runs subscriber
	// code on its ticker goroutine.
	var frameBus bus.Broker = b
	var queued *bus.QueuedBus
	if cfg.Queue.Enabled {
		policy, err := config.ParseOverflow(cfg.Queue.Overflow)
		if err != nil {
			return err
		}
		queued, err = bus.NewQueued(b, bus.WithQueueCapacity(cfg.Queue.Capacity, policy))
		if err != nil {
			return err
		}
		frameBus = queued
	}

	router := newWindowRouter(b, logger)
	if err := router.Start(); err != nil {
		return err
	}
	scheduler := newAnimationScheduler(frameBus, b, logger, frames)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	// Simulate the platform window reporting its initial geometry.
	if err := otel.PublishWithSpan(ctx, b, WindowResized{Width: 1280, Height: 720}); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	scheduler.Stop()
	router.Stop()
	if queued != nil {
		if err := queued.Shutdown(shutdownCtx); err != nil {
			logger.Error("queued bus shutdown: ", err)
		}
	}
	if server != nil {
		if err := server.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown: ", err)
		}
	}
	if n := len(b.RecentFailures()); n > 0 {
		logger.Warn(fmt.Sprintf("%d subscriber failures recorded", n))
	}
	return otel.Shutdown(shutdownCtx)
}

func newMetricsServer(path string, reg *promclient.Registry) *fasthttp.Server {
	metrics := otel.HTTPMiddleware(prometheus.FastHTTPHandlerFor(reg))
	return &fasthttp.Server{
		Name:         "busdemo",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Handler: func(ctx *fasthttp.RequestCtx) {
			if string(ctx.Path()) != path {
				ctx.NotFound()
				return
			}
			metrics(ctx)
		},
	}
}
