// Command ncdcd is the long-running transfer daemon: it loads the
// configured share roots and hash-tree database, listens on the control
// socket for ncdcctl, and accepts client-client connections on the peer
// listener, running each through the CC connection state machine.
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lburgey/ncdc-core/internal/config"
	"github.com/lburgey/ncdc-core/internal/logger"
	"github.com/lburgey/ncdc-core/internal/version"
)

var (
	cfgFile     string
	showVersion bool
)

func init() {
	flag.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/ncdcd/config.yaml)")
	flag.BoolVar(&showVersion, "version", false, "show version")
}

func main() {
	flag.Parse()

	if showVersion {
		info := version.Get()
		fmt.Printf("ncdcd %s\n", info.String())
		fmt.Println(info.Full())
		os.Exit(0)
	}

	if cfgFile == "" {
		path, created, err := config.GenerateConfigIfNotExists(config.AppDaemon, "yaml")
		if err == nil && created {
			stdlog.Printf("created default config at: %s", path)
		}
	}

	cfg, err := config.LoadDaemon(cfgFile)
	if err != nil {
		stdlog.Fatalf("failed to load config: %v", err)
	}

	cfg.DataDir = expandPath(cfg.DataDir)
	cfg.IncomingDir = expandPath(cfg.IncomingDir)
	cfg.ControlSocket = expandPath(cfg.ControlSocket)
	cfg.HashTreeDBPath = expandPath(cfg.HashTreeDBPath)
	cfg.TransferLogDir = expandPath(cfg.TransferLogDir)
	for i, root := range cfg.ShareRoots {
		cfg.ShareRoots[i] = expandPath(root)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		stdlog.Fatalf("failed to create data directory %q: %v", cfg.DataDir, err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		stdlog.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = log.Close() }()

	log.Info("starting ncdcd",
		"data_dir", cfg.DataDir,
		"incoming_dir", cfg.IncomingDir,
		"control_socket", cfg.ControlSocket,
		"share_roots", cfg.ShareRoots,
		"slots", cfg.Slots.Slots,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	daemon, err := NewDaemon(cfg, log)
	if err != nil {
		log.Error("failed to build daemon", "error", err)
		os.Exit(1)
	}

	if err := daemon.Start(ctx); err != nil {
		log.Error("failed to start daemon", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("received shutdown signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := daemon.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", "error", err)
	}
	log.Info("ncdcd stopped")
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}
