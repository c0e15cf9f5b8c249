// Package server runs one worker: the HTTP API on the shared listener plus
// the loops that report metrics and health to the supervisor.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/clusterapi/internal/cluster"
	"github.com/dmitrijs2005/clusterapi/internal/cryptox"
	"github.com/dmitrijs2005/clusterapi/internal/logging"
	"github.com/dmitrijs2005/clusterapi/internal/server/auth"
	"github.com/dmitrijs2005/clusterapi/internal/server/config"
	"github.com/dmitrijs2005/clusterapi/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/clusterapi/internal/server/repositories/users"
	"github.com/dmitrijs2005/clusterapi/internal/server/rest"
	"github.com/dmitrijs2005/clusterapi/internal/server/services"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"gopkg.in/tomb.v2"
)

const (
	storePingTimeout   = time.Second
	goroutineThreshold = 10000
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	store    *users.Lazy
	users    *services.UserService
	counters *rest.Counters
	health   healthcheck.Handler
	handler  http.Handler

	workerID int
	pid      int
	proc     *process.Process
	draining atomic.Bool
	now      func() time.Time
}

// NewApp wires a worker. workerID is 0 for a standalone process. Logs go to
// out.
func NewApp(cfg *config.Config, workerID int, out io.Writer) (*App, error) {
	logger, err := logging.New(cfg.LogBackend, cfg.LogLevel, out)
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}
	accessLog, err := accessLogger(logger, cfg.LogLevel, out)
	if err != nil {
		return nil, fmt.Errorf("access logger init error: %w", err)
	}

	pid := os.Getpid()
	logger = logger.With("worker_id", workerID, "pid", pid)

	store, err := repomanager.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("store init error: %w", err)
	}
	codec, err := cryptox.NewIDCodec(cfg.IDEncryptionKey)
	if err != nil {
		return nil, err
	}
	tokens := auth.NewTokenService(cfg.SecretKey, cfg.TokenValidityDuration)

	app := &App{
		config:   cfg,
		logger:   logger,
		store:    store,
		users:    services.NewUserService(store, tokens, cfg.BcryptCost, logger),
		counters: &rest.Counters{},
		workerID: workerID,
		pid:      pid,
		now:      time.Now,
	}
	if p, err := process.NewProcess(int32(pid)); err == nil {
		app.proc = p
	} else {
		logger.Warn(context.Background(), "process stats unavailable", "error", err.Error())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app.health = healthcheck.NewMetricsHandler(reg, "clusterapi")
	app.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(goroutineThreshold))
	app.health.AddReadinessCheck("draining", app.checkNotDraining)
	app.health.AddReadinessCheck("store", healthcheck.Timeout(app.pingStore, storePingTimeout))

	app.handler = rest.NewServer(rest.Options{
		Config:   cfg,
		Users:    app.users,
		Tokens:   tokens,
		Codec:    codec,
		Logger:   logger,
		Zap:      accessLog,
		Counters: app.counters,
		Registry: reg,
		Health:   app.health,
		WorkerID: workerID,
		PID:      pid,
	}).Handler()

	return app, nil
}

// accessLogger reuses the zap core when zap is the log backend.
func accessLogger(l logging.Logger, level string, out io.Writer) (*zap.Logger, error) {
	if zl, ok := l.(*logging.ZapLogger); ok {
		return zl.Zap(), nil
	}
	return logging.NewZap(out, level)
}

func (a *App) checkNotDraining() error {
	if a.draining.Load() {
		return errors.New("worker is draining")
	}
	return nil
}

func (a *App) pingStore() error {
	ctx, cancel := context.WithTimeout(context.Background(), storePingTimeout)
	defer cancel()
	return a.store.Ping(ctx)
}

// Run serves ln until ctx is cancelled, the server fails or, when link is
// set, the supervisor asks for shutdown or goes away. In-flight requests get
// WorkerGracePeriod to finish.
func (a *App) Run(ctx context.Context, ln net.Listener, link *cluster.WorkerLink) error {
	a.logger.Info(ctx, "Starting worker...", "address", ln.Addr().String())
	a.bootstrap(ctx)

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var t tomb.Tomb
	if link != nil {
		t.Go(func() error { return a.reportLoop(ctx, &t, link) })
	}
	t.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if link != nil {
		// not tracked by the tomb: Receive cannot be interrupted
		go a.readCommands(ctx, &t, link.Commands)
		a.sendHealth(ctx, link, cluster.StatusHealthy)
	}

	select {
	case <-ctx.Done():
		a.logger.Info(ctx, "context cancelled")
		t.Kill(nil)
	case <-t.Dying():
	}

	a.draining.Store(true)
	if link != nil {
		a.sendHealth(ctx, link, cluster.StatusStopping)
	}
	shutdownErr := a.drain(srv)
	runErr := t.Wait()

	if link != nil {
		a.sendMetrics(ctx, link)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn(ctx, "store close", "error", err.Error())
	}

	a.logger.Info(ctx, "worker stopped")
	return errors.Join(runErr, shutdownErr)
}

// bootstrap seeds the configured admin account. A store that is not
// reachable yet is logged; readiness reports it until it is.
func (a *App) bootstrap(ctx context.Context) {
	if a.config.AdminEmail == "" || a.config.AdminPassword == "" {
		return
	}
	if err := a.users.EnsureAdmin(ctx, a.config.AdminEmail, a.config.AdminPassword); err != nil {
		a.logger.Error(ctx, "admin bootstrap failed", "error", err.Error())
	}
}

func (a *App) drain(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.WorkerGracePeriod)
	defer cancel()

	a.logger.Info(ctx, "Stopping HTTP server...", "grace_period", a.config.WorkerGracePeriod.String())
	if err := srv.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "grace period elapsed, closing remaining connections")
		_ = srv.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
	return nil
}

func (a *App) reportLoop(ctx context.Context, t *tomb.Tomb, link *cluster.WorkerLink) error {
	metrics := time.NewTicker(a.config.MetricsInterval)
	defer metrics.Stop()
	health := time.NewTicker(a.config.HealthInterval)
	defer health.Stop()

	for {
		select {
		case <-t.Dying():
			return nil
		case <-metrics.C:
			a.sendMetrics(ctx, link)
		case <-health.C:
			a.sendHealth(ctx, link, cluster.StatusHealthy)
		}
	}
}

func (a *App) readCommands(ctx context.Context, t *tomb.Tomb, rcv *cluster.Receiver) {
	for {
		m, err := rcv.Receive()
		if err != nil {
			var bad *cluster.MalformedError
			if errors.As(err, &bad) {
				a.logger.Warn(ctx, "malformed command", "error", err.Error())
				continue
			}
			if !errors.Is(err, io.EOF) {
				a.logger.Warn(ctx, "command channel read failed", "error", err.Error())
			}
			a.logger.Info(ctx, "command channel closed, shutting down")
			t.Kill(nil)
			return
		}

		switch m.Type {
		case cluster.MessageShutdown:
			a.logger.Info(ctx, "shutdown requested by supervisor")
			t.Kill(nil)
			return
		default:
			a.logger.Warn(ctx, "unexpected command", "type", string(m.Type))
		}
	}
}

func (a *App) sendMetrics(ctx context.Context, link *cluster.WorkerLink) {
	req, errs := a.counters.Swap()
	a.send(ctx, link, cluster.MessageMetrics, cluster.MetricsReport{
		WorkerID:     a.workerID,
		PID:          a.pid,
		RequestCount: req,
		ErrorCount:   errs,
		Timestamp:    a.now().UTC(),
	})
}

func (a *App) sendHealth(ctx context.Context, link *cluster.WorkerLink, status string) {
	a.send(ctx, link, cluster.MessageHealth, a.healthReport(status))
}

func (a *App) healthReport(status string) cluster.HealthReport {
	req, errs := a.counters.Peek()
	r := cluster.HealthReport{
		WorkerID:     a.workerID,
		PID:          a.pid,
		RequestCount: req,
		ErrorCount:   errs,
		Status:       status,
		Timestamp:    a.now().UTC(),
	}
	if a.proc != nil {
		if mi, err := a.proc.MemoryInfo(); err == nil {
			r.MemoryUsage = mi.RSS
		}
		if cpu, err := a.proc.CPUPercent(); err == nil {
			r.CPUUsage = cpu
		}
	}
	return r
}

func (a *App) send(ctx context.Context, link *cluster.WorkerLink, t cluster.MessageType, data any) {
	m, err := cluster.NewMessage(t, a.workerID, data)
	if err == nil {
		err = link.Reports.Send(m)
	}
	if err != nil {
		a.logger.Warn(ctx, "report not delivered", "type", string(t), "error", err.Error())
	}
}
