// ladderd runs the matching engine with its WebSocket market-data server,
// Prometheus endpoint and optional NATS publisher.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roshanshah11/vertexladder/pkg/book"
	"github.com/roshanshah11/vertexladder/pkg/config"
	"github.com/roshanshah11/vertexladder/pkg/log"
	"github.com/roshanshah11/vertexladder/pkg/metrics"
	"github.com/roshanshah11/vertexladder/pkg/publisher"
	"github.com/roshanshah11/vertexladder/pkg/risk"
	"github.com/roshanshah11/vertexladder/pkg/websocket"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults used when empty)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	logger, err := log.New(log.Config{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		MaxSize: cfg.Log.MaxSize,
		Console: cfg.Log.Console,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	limits, err := cfg.RiskLimits()
	if err != nil {
		logger.Error("invalid risk limits", "err", err.Error())
		os.Exit(1)
	}
	riskMgr := risk.NewManager(limits, logger)
	riskMgr.SetBypass(cfg.Risk.Bypass)

	inst := metrics.New(cfg.Metrics.Namespace, cfg.Symbol)
	hub := publisher.NewHub(logger)

	if cfg.NATS.URL != "" {
		sink, err := publisher.NewNATSSink(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			logger.Error("nats connect failed", "url", cfg.NATS.URL, "err", err.Error())
			os.Exit(1)
		}
		defer sink.Close()
		hub.Attach(sink)
	}

	eng := book.NewEngine(book.Options{
		Symbol:        cfg.Symbol,
		Shards:        cfg.Queue.Shards,
		QueueCapacity: cfg.Queue.Capacity,
		PoolSize:      cfg.Pool.OrderCapacity,
		DepthLevels:   cfg.Depth.PublishLevels,
		Risk:          riskMgr,
		Publisher:     hub,
		Logger:        logger,
		Instruments:   inst,
	})
	eng.Start()

	ws := websocket.NewServer(websocket.DefaultConfig(), hub, eng, logger)
	ws.Start()

	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", ws)
	wsSrv := &http.Server{Addr: cfg.WebSocket.Listen, Handler: wsMux}
	go func() {
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("websocket server failed", "err", err.Error())
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", inst.Handler())
	metricsSrv := &http.Server{Addr: cfg.Metrics.Listen, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "err", err.Error())
		}
	}()

	logger.Info("ladderd started",
		"symbol", cfg.Symbol,
		"ws", cfg.WebSocket.Listen,
		"metrics", cfg.Metrics.Listen,
		"risk_bypass", cfg.Risk.Bypass)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	wsSrv.Close()
	metricsSrv.Close()
	ws.Stop()
	eng.WaitForCompletion()
	eng.Stop()
	time.Sleep(100 * time.Millisecond) // let in-flight publishes drain
}
