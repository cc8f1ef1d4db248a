// Package daemon assembles the long-running process: it enforces
// single-instance execution with a file lock, runs the HTTP API server,
// and owns startup and shutdown ordering for the scheduler and the
// directory watchers.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"subtrans/internal/api"
	"subtrans/internal/config"
	"subtrans/internal/logging"
	"subtrans/internal/scheduler"
	"subtrans/internal/watcher"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Options carries the daemon's collaborators. All fields are required.
type Options struct {
	Config    *config.Config
	Logger    *slog.Logger
	Scheduler *scheduler.Scheduler
	Watchers  *watcher.Supervisor
	API       *api.Server
}

// Daemon owns the process lifecycle: lock, background services, HTTP server.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	scheduler *scheduler.Scheduler
	watchers  *watcher.Supervisor
	apiServer *api.Server

	lock       *flock.Flock
	httpServer *http.Server
	listener   net.Listener
	serveErr   chan error

	running atomic.Bool
}

func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Logger == nil || opts.Scheduler == nil || opts.Watchers == nil || opts.API == nil {
		return nil, errors.New("daemon requires config, logger, scheduler, watchers, and api server")
	}
	return &Daemon{
		cfg:       opts.Config,
		logger:    opts.Logger,
		scheduler: opts.Scheduler,
		watchers:  opts.Watchers,
		apiServer: opts.API,
		lock:      flock.New(opts.Config.LockPath()),
	}, nil
}

// Start acquires the instance lock, starts the scheduler and watchers, and
// begins serving the HTTP API. It returns once the listener is bound;
// serve errors after that surface through Wait.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another instance holds %s", d.cfg.LockPath())
	}

	if err := d.scheduler.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := d.watchers.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = d.scheduler.Stop(stopCtx)
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start watchers: %w", err)
	}

	listener, err := net.Listen("tcp", d.cfg.Paths.APIBind)
	if err != nil {
		d.stopBackground()
		_ = d.lock.Unlock()
		return fmt.Errorf("bind %s: %w", d.cfg.Paths.APIBind, err)
	}
	d.listener = listener
	d.httpServer = &http.Server{
		Handler:           d.apiServer.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
	}
	d.serveErr = make(chan error, 1)
	go func() {
		err := d.httpServer.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		d.serveErr <- err
	}()

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("addr", listener.Addr().String()),
		logging.String("lock", d.cfg.LockPath()),
		logging.String("database", d.cfg.DatabasePath()))
	return nil
}

// Addr returns the bound API address. Valid only while running.
func (d *Daemon) Addr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Wait blocks until the HTTP server exits or the context is cancelled.
func (d *Daemon) Wait(ctx context.Context) error {
	if d.serveErr == nil {
		return errors.New("daemon not started")
	}
	select {
	case err := <-d.serveErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains the HTTP server, pauses running tasks, and releases the lock.
func (d *Daemon) Stop(ctx context.Context) error {
	if !d.running.Load() {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("http shutdown", logging.Error(err))
	}
	d.apiServer.Close()
	d.stopBackground()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release instance lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
	return nil
}

func (d *Daemon) stopBackground() {
	d.watchers.Stop()
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.scheduler.Stop(stopCtx); err != nil {
		d.logger.Warn("scheduler stop", logging.Error(err))
	}
}
