package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/lburgey/ncdc-core/internal/config"
	"github.com/lburgey/ncdc-core/internal/ctlserver"
	"github.com/lburgey/ncdc-core/internal/logger"
	"github.com/lburgey/ncdc-core/internal/peerserve"
	"github.com/lburgey/ncdc-core/internal/runtime"
)

// sweepInterval is how often Daemon drives runtime.Runtime.Sweep: the
// expect table's invitation timeout and the CC registry's Disconn linger
// both key off wall-clock seconds (spec.md §4.F/§4.G), so a 1Hz tick
// matches the rate calculator's own tick cadence (component E).
const sweepInterval = time.Second

// Daemon owns ncdcd's component lifecycle: the process-wide runtime, the
// control-socket listener, and the periodic sweep loop.
type Daemon struct {
	cfg *config.DaemonConfig
	log *logger.Logger

	rt    *runtime.Runtime
	ctl   *ctlserver.Server
	peer  *peerserve.Listener
	audit *logger.AuditLogger

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewDaemon builds the runtime and control-socket server, but does not
// start them yet.
func NewDaemon(cfg *config.DaemonConfig, log *logger.Logger) (*Daemon, error) {
	rt, err := runtime.New(context.Background(), cfg, log)
	if err != nil {
		return nil, fmt.Errorf("daemon: build runtime: %w", err)
	}

	var audit *logger.AuditLogger
	if cfg.Log.AuditPath != "" {
		audit, err = logger.NewAuditLogger(cfg.Log.AuditPath, cfg.Log.AuditMaxAgeDays)
		if err != nil {
			return nil, fmt.Errorf("daemon: build audit logger: %w", err)
		}
	}

	peer, err := peerserve.New(rt, log, audit)
	if err != nil {
		return nil, fmt.Errorf("daemon: build peer listener: %w", err)
	}
	return &Daemon{
		cfg:   cfg,
		log:   log,
		rt:    rt,
		ctl:   ctlserver.New(rt, log, audit),
		peer:  peer,
		audit: audit,
	}, nil
}

// Start writes the PID file, starts the control-socket listener, and
// begins the 1Hz sweep loop.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon already running")
	}

	if err := d.writePIDFile(); err != nil {
		d.log.Warn("failed to write PID file", "error", err, "path", d.cfg.PIDFile)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.ctl.Serve(serveCtx, d.cfg.ControlSocket); err != nil {
			d.log.Error("control socket server stopped", logger.ErrorGroup(err, true))
		}
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.peer.Serve(serveCtx, d.cfg.Peer.ListenAddr); err != nil {
			d.log.Error("peer socket listener stopped", logger.ErrorGroup(err, true))
		}
	}()

	d.wg.Add(1)
	go d.sweepLoop(serveCtx)

	d.startedAt = time.Now()
	d.running = true
	d.log.Info("daemon started", "control_socket", d.cfg.ControlSocket, "peer_listen", d.cfg.Peer.ListenAddr)
	return nil
}

func (d *Daemon) sweepLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.rt.Sweep(now)
		}
	}
}

// Stop signals the sweep loop and control-socket server to exit, waits for
// them, and releases the runtime's resources.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	if d.cancel != nil {
		d.cancel()
	}
	_ = d.ctl.Close()
	_ = d.peer.Close()
	_ = d.audit.Close()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("daemon: shutdown timed out waiting for goroutines")
	}

	d.running = false
	if err := d.rt.Close(); err != nil {
		return fmt.Errorf("daemon: close runtime: %w", err)
	}
	_ = os.Remove(d.cfg.PIDFile)
	return nil
}

func (d *Daemon) writePIDFile() error {
	if d.cfg.PIDFile == "" {
		return nil
	}
	return os.WriteFile(d.cfg.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0o644)
}
