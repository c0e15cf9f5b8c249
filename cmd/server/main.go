package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/clusterapi/internal/cluster"
	"github.com/dmitrijs2005/clusterapi/internal/logging"
	"github.com/dmitrijs2005/clusterapi/internal/server"
	"github.com/dmitrijs2005/clusterapi/internal/server/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	if id, ok := cluster.WorkerID(); ok {
		return runWorker(cfg, id)
	}
	if cfg.Standalone {
		return runStandalone(cfg)
	}
	return runSupervisor(cfg, args)
}

func runWorker(cfg *config.Config, id int) error {
	link, err := cluster.AttachWorker(id)
	if err != nil {
		return err
	}
	defer link.Close()

	app, err := server.NewApp(cfg, id, os.Stdout)
	if err != nil {
		return err
	}

	// Ctrl-C reaches the whole process group; the supervisor coordinates it.
	signal.Ignore(syscall.SIGINT)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, link.Listener, link)
}

func runStandalone(cfg *config.Config) error {
	if _, err := cfg.EnsureSecrets(); err != nil {
		return err
	}

	app, err := server.NewApp(cfg, 0, os.Stdout)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, ln, nil)
}

func runSupervisor(cfg *config.Config, args []string) error {
	ctx := context.Background()

	logger, err := logging.New(cfg.LogBackend, cfg.LogLevel, os.Stdout)
	if err != nil {
		return err
	}

	generated, err := cfg.EnsureSecrets()
	if err != nil {
		return fmt.Errorf("generate secrets: %w", err)
	}
	if generated {
		logger.Warn(ctx, "no JWT secret or id key configured, using random keys for this run")
	}

	listener, err := sharedListener(cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer listener.Close()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	reg := prometheus.NewRegistry()
	if cfg.SupervisorMetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.SupervisorMetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "supervisor metrics server", "error", err.Error())
			}
		}()
		defer srv.Close()
	}

	sup := cluster.NewSupervisor(cluster.Options{
		Workers:         cfg.Workers,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
		Registerer:      reg,
		Spawner: &cluster.ExecSpawner{
			Path: exe,
			Args: args,
			Env: []string{
				config.EnvSecretKey + "=" + cfg.SecretKey,
				config.EnvIDEncryptionKey + "=" + cfg.IDEncryptionKey,
			},
			Listener: listener,
			Stdout:   os.Stdout,
			Stderr:   os.Stderr,
			OnMalformed: func(workerID int, err error) {
				logger.Warn(ctx, "malformed report", "worker_id", workerID, "error", err.Error())
			},
		},
	})

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	logger.Info(ctx, "supervisor listening", "address", cfg.ListenAddr, "pid", os.Getpid())
	return sup.Run(ctx, signals)
}

// sharedListener binds addr and returns the socket as a file workers can
// inherit. The supervisor itself never accepts on it.
func sharedListener(addr string) (*os.File, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		return nil, fmt.Errorf("listener on %s is not TCP", addr)
	}
	f, err := tcp.File()
	if err != nil {
		return nil, fmt.Errorf("listener file: %w", err)
	}
	return f, nil
}
