// Command proxy starts the forward proxy: "proxy <port>". Exits with
// status 1 on a bad argument or a listen failure, matching the reference
// proxy's CLI contract. An optional -config flag layers a YAML file over
// the documented defaults for cache sizing, connection limits, rate
// limiting, and tracing.
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
	"strconv"
	"syscall"
	"time"

	"github.com/dkruger/cacheproxy/internal/acceptor"
	"github.com/dkruger/cacheproxy/internal/cache"
	"github.com/dkruger/cacheproxy/internal/config"
	"github.com/dkruger/cacheproxy/internal/logging"
	"github.com/dkruger/cacheproxy/internal/metrics"
	"github.com/dkruger/cacheproxy/internal/ratelimit"
	"github.com/dkruger/cacheproxy/internal/tracing"
	"github.com/dkruger/cacheproxy/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "Path to an optional YAML configuration file")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: proxy <port>")
		os.Exit(1)
	}
	port, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid port %q: %v\n", args[0], err)
		os.Exit(1)
	}

	if *configPath != "" {
		if err := config.LoadConfig(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
	}
	cfg := config.GetInstance()
	cfg.Server.Port = port

	logger := logging.New(cfg.Tracing.ServiceName)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SamplingRatio:  cfg.Tracing.SamplingRatio,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise tracing: %v\n", err)
		os.Exit(1)
	}
	defer shutdownTracing()

	m := metrics.New(nil)
	c := cache.New(cfg.Cache.MaxObjectSize, cfg.Cache.MaxCacheSize)
	c.OnEvict(func(uri string, size int64) { m.RecordEviction() })

	limiter := ratelimit.New(cfg.Limits.RateLimit.Capacity, cfg.Limits.RateLimit.RefillRate, cfg.Limits.RateLimit.Enabled)
	w := worker.New(c, m, logger, cfg.Limits.DialTimeout)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to listen on port %d: %v\n", cfg.Server.Port, err)
		os.Exit(1)
	}

	a := acceptor.New(ln, w, limiter, int64(cfg.Limits.MaxConnections), m, logger, c)

	go sampleCacheOccupancy(ctx, c, m)

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: m.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "metrics server stopped unexpectedly", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "starting proxy", slog.Int("port", cfg.Server.Port))
		serveErr <- a.Run(ctx)
	}()

	select {
	case <-sigChan:
		logger.Info(ctx, "received termination signal, shutting down gracefully")
	case err := <-serveErr:
		if err != nil {
			logger.Error(ctx, "acceptor stopped unexpectedly", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	logger.Info(ctx, "proxy stopped")
}

// sampleCacheOccupancy periodically reports cache size and entry count to
// metrics until ctx is cancelled, since the cache has no push notification
// for aggregate occupancy changes.
func sampleCacheOccupancy(ctx context.Context, c *cache.Cache, m *metrics.Metrics) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetCacheOccupancy(c.TotalSize(), c.Len())
		}
	}
}
