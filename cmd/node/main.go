package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"prosumer-p2p/internal/config"
	"prosumer-p2p/internal/driver"
	"prosumer-p2p/internal/logging"
	"prosumer-p2p/internal/node"
	"prosumer-p2p/internal/peer"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfgPath := flag.String("config", "", "Path to node YAML config")
	listen := flag.String("listen", "", "Override node.listen (e.g. :8081)")
	flag.Parse()

	if *cfgPath == "" {
		fmt.Fprintln(os.Stderr, "--config is required")
		os.Exit(2)
	}
	os.Exit(run(*cfgPath, *listen))
}

func run(cfgPath, listen string) int {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 2
	}
	if listen != "" {
		cfg.Node.Listen = listen
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 2
	}
	slog.SetDefault(logger)

	if os.Getenv("API_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	n, err := node.New(cfg, node.Options{LCDOut: os.Stdout, Logger: logger})
	if err != nil {
		logger.Error("failed to build node", "error", err)
		return 1
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.Error("failed to close node", "error", err)
		}
	}()

	if err := n.Connect(peer.NewHTTPClient(cfg.Peer.URL, logger)); err != nil {
		logger.Error("failed to connect node", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Node.Listen,
		Handler:           n.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Node.Listen, "peer", cfg.Peer.ID, "peer_url", cfg.Peer.URL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- n.Run(ctx) }()

	code := 0
	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", "error", err)
			code = 1
		}
		stop()
		<-runErr
	case err := <-runErr:
		if err != nil {
			logger.Error("simulation failed", "error", err, "fatal", driver.IsFatal(err))
			code = 1
		} else {
			logger.Info("simulation done", "stats", n.Driver.Stats())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	return code
}
